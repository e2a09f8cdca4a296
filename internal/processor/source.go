/**
 * Document sources
 *
 * A DocumentSource pairs the page renderer and the glyph extractor for one
 * input file, chosen by MIME type:
 * - application/pdf: poppler raster + PDF text layer (optionally Tesseract when the layer is empty)
 * - image/*: decoded raster + Tesseract
 */

package processor

import (
	"context"
	"fmt"
	"os"
	"strings"

	apperrors "github.com/adverant/nexus/segmentation-worker/internal/errors"
	"github.com/adverant/nexus/segmentation-worker/internal/segmentation"
)

// Source kinds
const (
	SourcePDF   = "pdf"
	SourceImage = "image"
)

// DocumentSource is the per-document pair of collaborators the segmenter reads from
type DocumentSource struct {
	Kind      string
	Pages     int
	Renderer  segmentation.PageRenderer
	Extractor segmentation.GlyphExtractor

	cleanup func()
}

// Close releases temporary files held by the source.
func (s *DocumentSource) Close() {
	if s.cleanup != nil {
		s.cleanup()
		s.cleanup = nil
	}
}

// SourceConfig holds collaborator settings
type SourceConfig struct {
	TempDir        string
	Poppler        PopplerConfig
	Tesseract      TesseractConfig
	OCRFallback    bool
	ImageSourceDPI float64
}

// IsSupportedMimeType reports whether OpenSource can handle mimeType.
func IsSupportedMimeType(mimeType string) bool {
	return mimeType == "application/pdf" || strings.HasPrefix(mimeType, "image/")
}

// OpenSource builds the collaborators for data of the given MIME type.
func OpenSource(ctx context.Context, jobID string, data []byte, mimeType string, cfg SourceConfig) (*DocumentSource, error) {
	switch {
	case mimeType == "application/pdf":
		return openPDFSource(ctx, data, cfg)
	case strings.HasPrefix(mimeType, "image/"):
		return openImageSource(data, cfg)
	default:
		return nil, apperrors.NewUnsupportedFormatError(jobID, mimeType)
	}
}

func openPDFSource(ctx context.Context, data []byte, cfg SourceConfig) (*DocumentSource, error) {
	f, err := os.CreateTemp(cfg.TempDir, "segment-*.pdf")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	path := f.Name()
	cleanup := func() { os.Remove(path) }

	if _, err := f.Write(data); err != nil {
		f.Close()
		cleanup()
		return nil, fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to close temp file: %w", err)
	}

	renderer, err := NewPopplerRenderer(ctx, path, cfg.Poppler)
	if err != nil {
		cleanup()
		return nil, err
	}

	text, err := NewPDFGlyphExtractor(data)
	if err != nil {
		cleanup()
		return nil, err
	}

	var extractor segmentation.GlyphExtractor = text
	if cfg.OCRFallback {
		extractor = &FallbackExtractor{
			Primary:   text,
			Secondary: NewTesseractGlyphExtractor(renderer, cfg.Tesseract),
		}
	}

	return &DocumentSource{
		Kind:      SourcePDF,
		Pages:     renderer.Pages(),
		Renderer:  renderer,
		Extractor: extractor,
		cleanup:   cleanup,
	}, nil
}

func openImageSource(data []byte, cfg SourceConfig) (*DocumentSource, error) {
	renderer, err := NewImageRenderer(data, cfg.ImageSourceDPI)
	if err != nil {
		return nil, err
	}
	return &DocumentSource{
		Kind:      SourceImage,
		Pages:     1,
		Renderer:  renderer,
		Extractor: NewTesseractGlyphExtractor(renderer, cfg.Tesseract),
	}, nil
}
