// Package segmentation partitions a rasterized page into rectangular blocks
// separated by wide blank gaps and attaches the page's text to each block.
//
// The pipeline for one page is:
//
//	raster -> DensityMap -> Segmentize (recursive histogram gap split) -> AssignText
//
// Everything here is page-scoped and free of shared mutable state, so pages
// can be processed concurrently by the caller.
package segmentation

import "fmt"

// Interval is a half-open pixel interval [Start, End).
type Interval struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Len returns the number of pixels in the interval, 0 when empty.
func (i Interval) Len() int {
	if i.End <= i.Start {
		return 0
	}
	return i.End - i.Start
}

// Empty reports whether the interval holds no pixel.
func (i Interval) Empty() bool {
	return i.End <= i.Start
}

// Contains reports whether v lies in [Start, End).
func (i Interval) Contains(v int) bool {
	return v >= i.Start && v < i.End
}

// Intersect returns the overlap of two intervals. Disjoint intervals yield an
// empty interval anchored at the larger start.
func (i Interval) Intersect(o Interval) Interval {
	r := Interval{Start: maxInt(i.Start, o.Start), End: minInt(i.End, o.End)}
	if r.End < r.Start {
		r.End = r.Start
	}
	return r
}

// Split cuts the interval at p into [Start, p) and [p, End).
func (i Interval) Split(p int) (Interval, Interval) {
	return Interval{Start: i.Start, End: p}, Interval{Start: p, End: i.End}
}

func (i Interval) String() string {
	return fmt.Sprintf("[%d,%d)", i.Start, i.End)
}

// BoundingRectangle is an axis-aligned region of a DensityMap.
type BoundingRectangle struct {
	X Interval `json:"xRange"`
	Y Interval `json:"yRange"`
}

// NewBoundingRectangle builds a rectangle from half-open pixel ranges. Both
// ranges must be non-empty.
func NewBoundingRectangle(x0, x1, y0, y1 int) (BoundingRectangle, error) {
	r := BoundingRectangle{X: Interval{x0, x1}, Y: Interval{y0, y1}}
	if r.Empty() {
		return BoundingRectangle{}, fmt.Errorf("empty rectangle x=%v y=%v", r.X, r.Y)
	}
	return r, nil
}

// Empty reports whether the rectangle has zero width or height.
func (r BoundingRectangle) Empty() bool {
	return r.X.Empty() || r.Y.Empty()
}

// Width returns the horizontal extent in pixels.
func (r BoundingRectangle) Width() int { return r.X.Len() }

// Height returns the vertical extent in pixels.
func (r BoundingRectangle) Height() int { return r.Y.Len() }

// Area returns Width*Height.
func (r BoundingRectangle) Area() int { return r.Width() * r.Height() }

// Contains reports whether pixel (x, y) lies inside the rectangle.
func (r BoundingRectangle) Contains(x, y int) bool {
	return r.X.Contains(x) && r.Y.Contains(y)
}

// Intersect clips r to o.
func (r BoundingRectangle) Intersect(o BoundingRectangle) BoundingRectangle {
	return BoundingRectangle{X: r.X.Intersect(o.X), Y: r.Y.Intersect(o.Y)}
}

// Overlaps reports whether the two rectangles share at least one pixel.
func (r BoundingRectangle) Overlaps(o BoundingRectangle) bool {
	return !r.Intersect(o).Empty()
}

func (r BoundingRectangle) String() string {
	return fmt.Sprintf("x=%v y=%v", r.X, r.Y)
}

// Glyph is one drawn character as delivered by a GlyphExtractor. X and Y are
// in the renderer's native pixel space (before the ScaleDown reduction).
// RunBreak marks the last glyph of a text run (word or line) reported by the
// extractor.
type Glyph struct {
	X        float64
	Y        float64
	Text     string
	RunBreak bool
}

// TextSegment is a leaf rectangle together with the text that falls into it.
type TextSegment struct {
	BoundingRectangle
	Text string `json:"text"`
}

// PageResult maps a page index to its text segments in discovery order.
type PageResult map[int][]TextSegment

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
