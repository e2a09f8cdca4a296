package segmentation

import (
	"context"
	"image"

	apperrors "github.com/adverant/nexus/segmentation-worker/internal/errors"
)

// PageRenderer rasterizes one page of a document to 8-bit grayscale at dpi.
type PageRenderer interface {
	RenderPage(ctx context.Context, page int, dpi float64) (*image.Gray, error)
}

// GlyphExtractor yields the drawn characters of one page in drawing order,
// positioned in the pixel space of a raster rendered at dpi.
type GlyphExtractor interface {
	ExtractGlyphs(ctx context.Context, page int, dpi float64) ([]Glyph, error)
}

// PageLayout is the full outcome of segmenting one page.
type PageLayout struct {
	Page       int                 `json:"page"`
	Width      int                 `json:"width"`
	Height     int                 `json:"height"`
	Intensity  IntensityRange      `json:"intensity"`
	Leaves     []BoundingRectangle `json:"leaves"`
	Segments   []TextSegment       `json:"segments"`
	GlyphCount int                 `json:"glyphCount"`
	Degenerate int                 `json:"degenerateLeaves"`

	Density *DensityMap `json:"-"`
}

// SegmentPage renders page, splits it into blocks and attaches the page text.
// Cancellation is checked once before any work starts; a page that has begun
// runs to completion.
func (s *Segmenter) SegmentPage(ctx context.Context, renderer PageRenderer, extractor GlyphExtractor, page int) (*PageLayout, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dpi := s.params.RenderDPI()
	raster, err := renderer.RenderPage(ctx, page, dpi)
	if err != nil {
		return nil, apperrors.NewInputError(page, "render", err)
	}

	dm, err := NewDensityMap(raster, s.params.ScaleDown)
	if err != nil {
		return nil, apperrors.NewInputError(page, "render", err)
	}

	root, err := NewBoundingRectangle(0, dm.Width, 0, dm.Height)
	if err != nil {
		return nil, apperrors.NewInputError(page, "render", err)
	}
	leaves := s.Segmentize(dm, root)

	glyphs, err := extractor.ExtractGlyphs(ctx, page, dpi)
	if err != nil {
		return nil, apperrors.NewInputError(page, "extract", err)
	}

	degenerate := 0
	for _, l := range leaves {
		if l.Empty() {
			degenerate++
		}
	}

	layout := &PageLayout{
		Page:       page,
		Width:      dm.Width,
		Height:     dm.Height,
		Intensity:  dm.Intensity,
		Leaves:     leaves,
		Segments:   AssignText(leaves, glyphs, s.params.ScaleDown),
		GlyphCount: len(glyphs),
		Degenerate: degenerate,
		Density:    dm,
	}

	s.logger.Debug("Page segmented",
		"page", page,
		"width", dm.Width,
		"height", dm.Height,
		"leaves", len(leaves),
		"segments", len(layout.Segments),
		"glyphs", len(glyphs))

	return layout, nil
}
