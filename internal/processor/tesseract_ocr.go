/**
 * Tesseract glyph extractor
 *
 * Recovers a glyph stream for pages without a text layer (scans, photos).
 * The page is rendered at OCR resolution, recognized at symbol level, and the
 * symbol centers are mapped back to the requested raster resolution.
 */

package processor

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"

	"github.com/otiai10/gosseract/v2"

	apperrors "github.com/adverant/nexus/segmentation-worker/internal/errors"
	"github.com/adverant/nexus/segmentation-worker/internal/logging"
	"github.com/adverant/nexus/segmentation-worker/internal/segmentation"
)

// DefaultOCRDPI is the render resolution handed to Tesseract.
const DefaultOCRDPI = 300

// TesseractGlyphExtractor runs Tesseract over rendered pages
type TesseractGlyphExtractor struct {
	renderer      segmentation.PageRenderer
	languages     []string
	ocrDPI        float64
	minConfidence float64
	logger        *logging.Logger
}

// TesseractConfig holds Tesseract configuration
type TesseractConfig struct {
	Languages     []string
	OCRDPI        float64
	MinConfidence float64 // symbols below this confidence (0-100) are dropped
}

// NewTesseractGlyphExtractor creates an extractor that renders pages through renderer
func NewTesseractGlyphExtractor(renderer segmentation.PageRenderer, cfg TesseractConfig) *TesseractGlyphExtractor {
	if cfg.OCRDPI <= 0 {
		cfg.OCRDPI = DefaultOCRDPI
	}
	return &TesseractGlyphExtractor{
		renderer:      renderer,
		languages:     cfg.Languages,
		ocrDPI:        cfg.OCRDPI,
		minConfidence: cfg.MinConfidence,
		logger:        logging.NewLogger("TesseractGlyphExtractor"),
	}
}

// ExtractGlyphs recognizes the page and returns one glyph per symbol.
func (t *TesseractGlyphExtractor) ExtractGlyphs(ctx context.Context, page int, dpi float64) ([]segmentation.Glyph, error) {
	img, err := t.renderer.RenderPage(ctx, page, t.ocrDPI)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode page for OCR: %w", err)
	}

	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetImageFromBytes(buf.Bytes()); err != nil {
		return nil, apperrors.NewOCRFailedError(page, fmt.Errorf("set image: %w", err))
	}
	if len(t.languages) > 0 {
		if err := client.SetLanguage(t.languages...); err != nil {
			return nil, apperrors.NewOCRFailedError(page, fmt.Errorf("set languages: %w", err))
		}
	}
	if err := client.SetVariable(gosseract.SettableVariable("user_defined_dpi"), fmt.Sprint(int(t.ocrDPI))); err != nil {
		return nil, apperrors.NewOCRFailedError(page, fmt.Errorf("set dpi: %w", err))
	}

	symbols, err := client.GetBoundingBoxes(gosseract.RIL_SYMBOL)
	if err != nil {
		return nil, apperrors.NewOCRFailedError(page, fmt.Errorf("symbol boxes: %w", err))
	}
	words, err := client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return nil, apperrors.NewOCRFailedError(page, fmt.Errorf("word boxes: %w", err))
	}

	glyphs := symbolsToGlyphs(symbols, words, dpi/t.ocrDPI, t.minConfidence)
	t.logger.Debug("OCR complete", "page", page, "symbols", len(symbols), "words", len(words), "glyphs", len(glyphs))
	return glyphs, nil
}

// symbolsToGlyphs places each symbol at its box center scaled to the target
// raster. A run ends at the last symbol inside a word box. Both box lists come
// in Tesseract's reading order.
func symbolsToGlyphs(symbols, words []gosseract.BoundingBox, scale, minConfidence float64) []segmentation.Glyph {
	glyphs := make([]segmentation.Glyph, 0, len(symbols))
	word := -1

	for _, s := range symbols {
		if s.Word == "" || s.Confidence < minConfidence {
			continue
		}
		center := image.Pt((s.Box.Min.X+s.Box.Max.X)/2, (s.Box.Min.Y+s.Box.Max.Y)/2)

		w := findWord(words, word, center)
		if len(glyphs) > 0 && (w < 0 || w != word) {
			glyphs[len(glyphs)-1].RunBreak = true
		}
		word = w

		glyphs = append(glyphs, segmentation.Glyph{
			X:    float64(center.X) * scale,
			Y:    float64(center.Y) * scale,
			Text: s.Word,
		})
	}
	if len(glyphs) > 0 {
		glyphs[len(glyphs)-1].RunBreak = true
	}
	return glyphs
}

// findWord returns the index of the first word at or after from that contains
// p, or -1.
func findWord(words []gosseract.BoundingBox, from int, p image.Point) int {
	if from < 0 {
		from = 0
	}
	for i := from; i < len(words); i++ {
		if p.In(words[i].Box) {
			return i
		}
	}
	return -1
}
