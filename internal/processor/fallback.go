package processor

import (
	"context"

	"github.com/adverant/nexus/segmentation-worker/internal/logging"
	"github.com/adverant/nexus/segmentation-worker/internal/segmentation"
)

var fallbackLogger = logging.NewLogger("FallbackExtractor")

// FallbackExtractor asks Secondary for glyphs when Primary finds none, e.g.
// a scanned PDF whose text layer is empty.
type FallbackExtractor struct {
	Primary   segmentation.GlyphExtractor
	Secondary segmentation.GlyphExtractor
}

func (f *FallbackExtractor) ExtractGlyphs(ctx context.Context, page int, dpi float64) ([]segmentation.Glyph, error) {
	glyphs, err := f.Primary.ExtractGlyphs(ctx, page, dpi)
	if err == nil && len(glyphs) > 0 {
		return glyphs, nil
	}
	if f.Secondary == nil {
		return glyphs, err
	}

	if err != nil {
		fallbackLogger.Warn("Primary extractor failed, using fallback", "page", page, "error", err)
	} else {
		fallbackLogger.Debug("No text layer, using fallback", "page", page)
	}
	return f.Secondary.ExtractGlyphs(ctx, page, dpi)
}
