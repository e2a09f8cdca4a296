package segmentation

import (
	"github.com/adverant/nexus/segmentation-worker/internal/logging"
)

// Segmenter runs the recursive gap split with a fixed, validated parameter set.
// It holds no per-page state and is safe for concurrent use.
type Segmenter struct {
	params Params
	logger *logging.Logger
}

// New validates params and returns a Segmenter. Invalid thresholds yield a
// CONFIGURATION_ERROR.
func New(params Params) (*Segmenter, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &Segmenter{
		params: params,
		logger: logging.NewLogger("Segmenter"),
	}, nil
}

// Params returns the thresholds this Segmenter was built with.
func (s *Segmenter) Params() Params {
	return s.params
}

// Segmentize partitions rect into leaf rectangles. The rectangle is clipped to
// the map first. Leaves come out in depth-first order, top/left part first.
// Leaves never overlap; blank margins trimmed at each level belong to no leaf.
func (s *Segmenter) Segmentize(dm *DensityMap, rect BoundingRectangle) []BoundingRectangle {
	var leaves []BoundingRectangle
	s.segmentize(dm, rect.Intersect(dm.Bounds()), 0, &leaves)
	return leaves
}

func (s *Segmenter) segmentize(dm *DensityMap, rect BoundingRectangle, depth int, leaves *[]BoundingRectangle) {
	if rect.Empty() {
		s.logger.Trace("degenerate rectangle", "rect", rect.String(), "depth", depth)
		*leaves = append(*leaves, rect)
		return
	}

	xHist, yHist := dm.Histograms(rect)
	p := s.params
	yGap := FindGap(yHist, rect.Y, p.WhiteSpaceMaxRatio, p.MinWhiteSpaceRun, p.MinSize)
	xGap := FindGap(xHist, rect.X, p.WhiteSpaceMaxRatio, p.MinWhiteSpaceRun, p.MinSize)

	switch {
	case yGap.Found:
		top, bottom := yGap.Trimmed.Split(yGap.Split)
		s.logger.Trace("split rows", "rect", rect.String(), "at", yGap.Split, "depth", depth)
		s.segmentize(dm, BoundingRectangle{X: xGap.Trimmed, Y: top}, depth+1, leaves)
		s.segmentize(dm, BoundingRectangle{X: xGap.Trimmed, Y: bottom}, depth+1, leaves)
	case xGap.Found:
		left, right := xGap.Trimmed.Split(xGap.Split)
		s.logger.Trace("split columns", "rect", rect.String(), "at", xGap.Split, "depth", depth)
		s.segmentize(dm, BoundingRectangle{X: left, Y: yGap.Trimmed}, depth+1, leaves)
		s.segmentize(dm, BoundingRectangle{X: right, Y: yGap.Trimmed}, depth+1, leaves)
	default:
		leaf := BoundingRectangle{X: xGap.Trimmed, Y: yGap.Trimmed}
		s.logger.Trace("leaf", "rect", leaf.String(), "depth", depth)
		*leaves = append(*leaves, leaf)
	}
}
