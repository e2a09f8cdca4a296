package processor

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/adverant/nexus/segmentation-worker/internal/errors"
	"github.com/adverant/nexus/segmentation-worker/internal/segmentation"
)

type stubRenderer struct {
	mu        sync.Mutex
	img       *image.Gray
	failPages map[int]bool
	rendered  []int
}

func (s *stubRenderer) RenderPage(_ context.Context, page int, _ float64) (*image.Gray, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rendered = append(s.rendered, page)
	if s.failPages[page] {
		return nil, fmt.Errorf("corrupt page %d", page)
	}
	return s.img, nil
}

type stubExtractor struct {
	glyphs []segmentation.Glyph
	err    error
}

func (s *stubExtractor) ExtractGlyphs(context.Context, int, float64) ([]segmentation.Glyph, error) {
	return s.glyphs, s.err
}

func testParams() segmentation.Params {
	return segmentation.Params{
		WhiteSpaceMaxRatio: 0.04,
		MinWhiteSpaceRun:   5,
		MinSize:            10,
		DPI:                36,
		ScaleDown:          2,
	}
}

// twoBlockPage is a 400x400 render with ink rows [40,120) and [240,360).
func twoBlockPage() *image.Gray {
	img := image.NewGray(image.Rect(0, 0, 400, 400))
	for y := 0; y < 400; y++ {
		for x := 0; x < 400; x++ {
			v := uint8(255)
			if x >= 40 && x < 360 && ((y >= 40 && y < 120) || (y >= 240 && y < 360)) {
				v = 0
			}
			img.SetGray(x, y, color.Gray{Y: v})
		}
	}
	return img
}

func twoBlockGlyphs() []segmentation.Glyph {
	return []segmentation.Glyph{
		{X: 100, Y: 80, Text: "A", RunBreak: true},
		{X: 100, Y: 300, Text: "B", RunBreak: true},
	}
}

func newTestAnalyzer(t *testing.T, concurrency int, debugDir string) *LayoutAnalyzer {
	t.Helper()
	seg, err := segmentation.New(testParams())
	require.NoError(t, err)
	return NewLayoutAnalyzer(seg, concurrency, debugDir)
}

func TestAnalyzeDocument(t *testing.T) {
	src := &DocumentSource{
		Pages:     3,
		Renderer:  &stubRenderer{img: twoBlockPage()},
		Extractor: &stubExtractor{glyphs: twoBlockGlyphs()},
	}

	doc, err := newTestAnalyzer(t, 2, "").AnalyzeDocument(context.Background(), src, nil)
	require.NoError(t, err)

	assert.Equal(t, []int{0, 1, 2}, doc.SortedPages())
	assert.Empty(t, doc.Errors)
	for page := 0; page < 3; page++ {
		segs := doc.Pages[page]
		require.Len(t, segs, 2, "page %d", page)
		assert.Equal(t, "A", segs[0].Text)
		assert.Equal(t, "B", segs[1].Text)
	}

	assert.Equal(t, AnalysisStats{
		PagesTotal:     3,
		PagesSucceeded: 3,
		Segments:       6,
		Leaves:         6,
		Duration:       doc.Stats.Duration,
	}, doc.Stats)
}

func TestAnalyzeDocument_PageFailureIsIsolated(t *testing.T) {
	renderer := &stubRenderer{img: twoBlockPage(), failPages: map[int]bool{1: true}}
	src := &DocumentSource{
		Pages:     3,
		Renderer:  renderer,
		Extractor: &stubExtractor{glyphs: twoBlockGlyphs()},
	}

	doc, err := newTestAnalyzer(t, 3, "").AnalyzeDocument(context.Background(), src, nil)
	require.NoError(t, err)

	assert.Equal(t, []int{0, 2}, doc.SortedPages())
	require.Contains(t, doc.Errors, 1)
	assert.True(t, apperrors.IsCode(doc.Errors[1], apperrors.ErrorInput))
	assert.Equal(t, 2, doc.Stats.PagesSucceeded)
	assert.Equal(t, 1, doc.Stats.PagesFailed)
	assert.ElementsMatch(t, []int{0, 1, 2}, renderer.rendered)
}

func TestAnalyzeDocument_SelectedPages(t *testing.T) {
	renderer := &stubRenderer{img: twoBlockPage()}
	src := &DocumentSource{Pages: 10, Renderer: renderer, Extractor: &stubExtractor{}}

	doc, err := newTestAnalyzer(t, 1, "").AnalyzeDocument(context.Background(), src, []int{7, 2})
	require.NoError(t, err)

	assert.Equal(t, []int{7, 2}, renderer.rendered)
	assert.Equal(t, []int{2, 7}, doc.SortedPages())
	assert.Empty(t, doc.Pages[2], "no glyphs, no segments")
	assert.Equal(t, 4, doc.Stats.Leaves)
}

func TestAnalyzeDocument_Cancelled(t *testing.T) {
	renderer := &stubRenderer{img: twoBlockPage()}
	src := &DocumentSource{Pages: 4, Renderer: renderer, Extractor: &stubExtractor{}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	doc, err := newTestAnalyzer(t, 2, "").AnalyzeDocument(ctx, src, nil)
	assert.True(t, errors.Is(err, context.Canceled))
	require.NotNil(t, doc)
	assert.Empty(t, renderer.rendered)
	assert.Len(t, doc.Errors, 4)
	assert.Zero(t, doc.Stats.PagesSucceeded)
}

func TestAnalyzeDocument_WritesDebugImages(t *testing.T) {
	dir := t.TempDir()
	src := &DocumentSource{
		Pages:     1,
		Renderer:  &stubRenderer{img: twoBlockPage()},
		Extractor: &stubExtractor{glyphs: twoBlockGlyphs()},
	}

	_, err := newTestAnalyzer(t, 1, dir).AnalyzeDocument(context.Background(), src, nil)
	require.NoError(t, err)

	for _, name := range []string{"gray-0.png", "normalize-0.png", "segments-0.png"} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err, name)
	}
}
