package segmentation

import (
	"context"
	"errors"
	"image"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/adverant/nexus/segmentation-worker/internal/errors"
)

type fakeRenderer struct {
	img   *image.Gray
	err   error
	calls int
	dpi   float64
}

func (f *fakeRenderer) RenderPage(_ context.Context, _ int, dpi float64) (*image.Gray, error) {
	f.calls++
	f.dpi = dpi
	return f.img, f.err
}

type fakeExtractor struct {
	glyphs []Glyph
	err    error
}

func (f *fakeExtractor) ExtractGlyphs(context.Context, int, float64) ([]Glyph, error) {
	return f.glyphs, f.err
}

// twoBlockRaster renders at native resolution: ink rows [0,200) and [300,600)
// of an 800x600 page, i.e. [0,100) and [150,300) after halving.
func twoBlockRaster() *image.Gray {
	img := grayPage(800, 600, 255)
	fillGray(img, image.Rect(0, 0, 800, 200), 0)
	fillGray(img, image.Rect(0, 300, 800, 600), 0)
	return img
}

func TestSegmentPage(t *testing.T) {
	s := newTestSegmenter(t)
	renderer := &fakeRenderer{img: twoBlockRaster()}
	extractor := &fakeExtractor{glyphs: concat(
		word(100, 100, "Dear"),
		word(140, 100, "customer"),
		word(100, 500, "Regards"),
		word(100, 520, "x"),
	)}

	layout, err := s.SegmentPage(context.Background(), renderer, extractor, 3)
	require.NoError(t, err)

	assert.Equal(t, 72.0, renderer.dpi)
	assert.Equal(t, 3, layout.Page)
	assert.Equal(t, 400, layout.Width)
	assert.Equal(t, 300, layout.Height)
	assert.Len(t, layout.Leaves, 2)
	assert.Zero(t, layout.Degenerate)
	assert.Equal(t, len(extractor.glyphs), layout.GlyphCount)

	require.Len(t, layout.Segments, 2)
	assert.Equal(t, "Dear customer", layout.Segments[0].Text)
	assert.Equal(t, "Regards x", layout.Segments[1].Text)
	assert.InDelta(t, 100, layout.Segments[0].Y.End, 2)
	assert.InDelta(t, 150, layout.Segments[1].Y.Start, 2)
}

func TestSegmentPage_BlankPage(t *testing.T) {
	s := newTestSegmenter(t)
	renderer := &fakeRenderer{img: grayPage(200, 100, 255)}
	extractor := &fakeExtractor{}

	layout, err := s.SegmentPage(context.Background(), renderer, extractor, 0)
	require.NoError(t, err)
	require.Len(t, layout.Leaves, 1)
	assert.Equal(t, rect(0, 100, 0, 50), layout.Leaves[0])
	assert.Empty(t, layout.Segments)
}

func TestSegmentPage_InputErrors(t *testing.T) {
	s := newTestSegmenter(t)
	boom := errors.New("boom")

	tests := []struct {
		name      string
		renderer  *fakeRenderer
		extractor *fakeExtractor
	}{
		{"render fails", &fakeRenderer{err: boom}, &fakeExtractor{}},
		{"empty raster", &fakeRenderer{img: image.NewGray(image.Rect(0, 0, 0, 0))}, &fakeExtractor{}},
		{"extract fails", &fakeRenderer{img: grayPage(20, 20, 255)}, &fakeExtractor{err: boom}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			layout, err := s.SegmentPage(context.Background(), tt.renderer, tt.extractor, 5)
			assert.Nil(t, layout)
			assert.True(t, apperrors.IsCode(err, apperrors.ErrorInput), "got %v", err)
		})
	}
}

func TestSegmentPage_Cancelled(t *testing.T) {
	s := newTestSegmenter(t)
	renderer := &fakeRenderer{img: twoBlockRaster()}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.SegmentPage(ctx, renderer, &fakeExtractor{}, 0)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, renderer.calls)
}

func TestWriteDebugImages(t *testing.T) {
	s := newTestSegmenter(t)
	layout, err := s.SegmentPage(context.Background(),
		&fakeRenderer{img: twoBlockRaster()},
		&fakeExtractor{glyphs: word(100, 100, "hi")}, 1)
	require.NoError(t, err)

	dir := filepath.Join(t.TempDir(), "debug")
	require.NoError(t, WriteDebugImages(dir, layout))

	for _, name := range []string{"gray-1.png", "normalize-1.png", "segments-1.png"} {
		info, err := os.Stat(filepath.Join(dir, name))
		require.NoError(t, err, name)
		assert.Greater(t, info.Size(), int64(0))
	}

	assert.Error(t, WriteDebugImages(dir, &PageLayout{}))
}
