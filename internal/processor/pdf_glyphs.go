package processor

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/ledongthuc/pdf"
	"golang.org/x/text/unicode/norm"

	"github.com/adverant/nexus/segmentation-worker/internal/segmentation"
)

const (
	pointsPerInch = 72.0

	// Letter size in points, used when a page carries no MediaBox.
	defaultMediaTop = 792.0

	lineBreakFactor = 0.5
	wordGapFactor   = 0.3
)

// PDFGlyphExtractor reads the character stream of a PDF's text layer.
type PDFGlyphExtractor struct {
	mu     sync.Mutex
	reader *pdf.Reader
}

// NewPDFGlyphExtractor parses the PDF cross-reference table of data.
func NewPDFGlyphExtractor(data []byte) (ex *PDFGlyphExtractor, err error) {
	defer func() {
		if r := recover(); r != nil {
			ex, err = nil, fmt.Errorf("pdf parser panic: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open pdf: %w", err)
	}
	return &PDFGlyphExtractor{reader: reader}, nil
}

// ExtractGlyphs returns the characters of the zero-based page in content
// stream order, positioned in the pixel space of a raster rendered at dpi.
func (e *PDFGlyphExtractor) ExtractGlyphs(ctx context.Context, page int, dpi float64) (glyphs []segmentation.Glyph, err error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			glyphs, err = nil, fmt.Errorf("pdf parser panic on page %d: %v", page, r)
		}
	}()

	if page < 0 || page >= e.reader.NumPage() {
		return nil, fmt.Errorf("page %d out of range (document has %d)", page, e.reader.NumPage())
	}
	p := e.reader.Page(page + 1)
	if p.V.IsNull() {
		return nil, fmt.Errorf("page %d has no page object", page)
	}

	left, top := mediaOrigin(p.V)
	return textToGlyphs(p.Content().Text, left, top, dpi/pointsPerInch), nil
}

// textToGlyphs maps PDF text space (points, y up) to raster pixels (y down).
// A glyph is anchored at its horizontal center and a third of the font size
// above the baseline, which keeps it inside the ink of its line.
func textToGlyphs(texts []pdf.Text, left, top, scale float64) []segmentation.Glyph {
	glyphs := make([]segmentation.Glyph, 0, len(texts))
	var prev *pdf.Text

	for i := range texts {
		t := &texts[i]
		if strings.TrimSpace(t.S) == "" {
			markRunBreak(glyphs)
			prev = nil
			continue
		}
		if prev != nil && breaksRun(prev, t) {
			markRunBreak(glyphs)
		}

		fs := math.Max(t.FontSize, 1)
		glyphs = append(glyphs, segmentation.Glyph{
			X:    (t.X - left + t.W/2) * scale,
			Y:    (top - t.Y - fs/3) * scale,
			Text: norm.NFKC.String(t.S), // expands ligatures such as "ﬁ"
		})
		prev = t
	}
	markRunBreak(glyphs)
	return glyphs
}

func markRunBreak(glyphs []segmentation.Glyph) {
	if len(glyphs) > 0 {
		glyphs[len(glyphs)-1].RunBreak = true
	}
}

func breaksRun(prev, cur *pdf.Text) bool {
	fs := math.Max(math.Max(prev.FontSize, cur.FontSize), 1)
	if math.Abs(cur.Y-prev.Y) > lineBreakFactor*fs {
		return true
	}
	gap := cur.X - (prev.X + prev.W)
	return gap > wordGapFactor*fs || gap < -lineBreakFactor*fs
}

// mediaOrigin returns the left and top edges of the page's MediaBox, which
// may be inherited from an ancestor in the page tree.
func mediaOrigin(v pdf.Value) (left, top float64) {
	for depth := 0; depth < 32 && !v.IsNull(); depth++ {
		box := v.Key("MediaBox")
		if box.Kind() == pdf.Array && box.Len() == 4 {
			x0, y0 := box.Index(0).Float64(), box.Index(1).Float64()
			x1, y1 := box.Index(2).Float64(), box.Index(3).Float64()
			return math.Min(x0, x1), math.Max(y0, y1)
		}
		v = v.Key("Parent")
	}
	return 0, defaultMediaTop
}
