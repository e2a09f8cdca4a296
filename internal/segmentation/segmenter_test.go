package segmentation

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/adverant/nexus/segmentation-worker/internal/errors"
)

func testParams() Params {
	return Params{
		WhiteSpaceMaxRatio: 0.04,
		MinWhiteSpaceRun:   5,
		MinSize:            10,
		DPI:                36,
		ScaleDown:          2,
	}
}

func mapWithBlocks(t *testing.T, w, h int, blocks ...BoundingRectangle) *DensityMap {
	t.Helper()
	pix := make([]uint8, w*h)
	for _, b := range blocks {
		for y := b.Y.Start; y < b.Y.End; y++ {
			for x := b.X.Start; x < b.X.End; x++ {
				pix[y*w+x] = 200
			}
		}
	}
	dm, err := NewDensityMapFromPix(w, h, pix)
	require.NoError(t, err)
	return dm
}

func rect(x0, x1, y0, y1 int) BoundingRectangle {
	return BoundingRectangle{X: Interval{x0, x1}, Y: Interval{y0, y1}}
}

func newTestSegmenter(t *testing.T) *Segmenter {
	t.Helper()
	s, err := New(testParams())
	require.NoError(t, err)
	return s
}

func TestSegmentize_TwoRowBlocks(t *testing.T) {
	dm := mapWithBlocks(t, 400, 300, rect(0, 400, 0, 100), rect(0, 400, 150, 300))
	leaves := newTestSegmenter(t).Segmentize(dm, dm.Bounds())

	require.Len(t, leaves, 2)
	assert.Equal(t, rect(0, 400, 0, 100), leaves[0])
	assert.Equal(t, rect(0, 400, 150, 300), leaves[1])
}

func TestSegmentize_ColumnSplit(t *testing.T) {
	dm := mapWithBlocks(t, 300, 200, rect(20, 120, 30, 170), rect(180, 280, 30, 170))
	leaves := newTestSegmenter(t).Segmentize(dm, dm.Bounds())

	require.Len(t, leaves, 2)
	assert.Equal(t, rect(20, 120, 30, 170), leaves[0])
	assert.Equal(t, rect(180, 280, 30, 170), leaves[1])
}

func TestSegmentize_RowsBeforeColumns(t *testing.T) {
	dm := mapWithBlocks(t, 300, 300,
		rect(10, 100, 10, 100), rect(200, 290, 10, 100),
		rect(10, 100, 200, 290), rect(200, 290, 200, 290))
	leaves := newTestSegmenter(t).Segmentize(dm, dm.Bounds())

	assert.Equal(t, []BoundingRectangle{
		rect(10, 100, 10, 100),
		rect(200, 290, 10, 100),
		rect(10, 100, 200, 290),
		rect(200, 290, 200, 290),
	}, leaves)
}

func TestSegmentize_BlankPage(t *testing.T) {
	dm := mapWithBlocks(t, 120, 80)
	leaves := newTestSegmenter(t).Segmentize(dm, dm.Bounds())

	require.Len(t, leaves, 1)
	assert.Equal(t, dm.Bounds(), leaves[0])
}

func TestSegmentize_DegenerateRect(t *testing.T) {
	dm := mapWithBlocks(t, 50, 50, rect(0, 50, 0, 50))
	s := newTestSegmenter(t)

	leaves := s.Segmentize(dm, rect(10, 10, 0, 50))
	require.Len(t, leaves, 1)
	assert.True(t, leaves[0].Empty())

	leaves = s.Segmentize(dm, rect(60, 90, 0, 50))
	require.Len(t, leaves, 1)
	assert.True(t, leaves[0].Empty())
}

func TestSegmentize_ClipsToMap(t *testing.T) {
	dm := mapWithBlocks(t, 100, 100, rect(0, 100, 0, 100))
	leaves := newTestSegmenter(t).Segmentize(dm, rect(-20, 150, 50, 400))

	require.Len(t, leaves, 1)
	assert.Equal(t, rect(0, 100, 50, 100), leaves[0])
}

func TestSegmentize_RandomMapsPartition(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	params := testParams()
	params.MinSize = 3
	params.MinWhiteSpaceRun = 2
	s, err := New(params)
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		w, h := 20+rng.Intn(180), 20+rng.Intn(180)
		pix := make([]uint8, w*h)
		for b := rng.Intn(12); b >= 0; b-- {
			x0, y0 := rng.Intn(w), rng.Intn(h)
			x1, y1 := x0+1+rng.Intn(w-x0), y0+1+rng.Intn(h-y0)
			v := uint8(1 + rng.Intn(255))
			for y := y0; y < y1; y++ {
				for x := x0; x < x1; x++ {
					pix[y*w+x] = v
				}
			}
		}
		for n := rng.Intn(w * h / 10); n > 0; n-- {
			pix[rng.Intn(w*h)] = uint8(rng.Intn(256))
		}

		dm, err := NewDensityMapFromPix(w, h, pix)
		require.NoError(t, err)
		root := dm.Bounds()
		leaves := s.Segmentize(dm, root)
		require.NotEmpty(t, leaves)

		area := 0
		for a, la := range leaves {
			assert.Equal(t, la, la.Intersect(root), "leaf %v outside %v", la, root)
			area += la.Area()
			for _, lb := range leaves[a+1:] {
				assert.False(t, la.Overlaps(lb), "leaves %v and %v overlap", la, lb)
			}
		}
		assert.LessOrEqual(t, area, root.Area())
	}
}

func TestNew_RejectsInvalidParams(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Params)
	}{
		{"ratio zero", func(p *Params) { p.WhiteSpaceMaxRatio = 0 }},
		{"ratio above one", func(p *Params) { p.WhiteSpaceMaxRatio = 1.5 }},
		{"negative ratio", func(p *Params) { p.WhiteSpaceMaxRatio = -0.1 }},
		{"zero run", func(p *Params) { p.MinWhiteSpaceRun = 0 }},
		{"negative min size", func(p *Params) { p.MinSize = -1 }},
		{"zero dpi", func(p *Params) { p.DPI = 0 }},
		{"zero scale down", func(p *Params) { p.ScaleDown = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultParams()
			tt.mutate(&p)
			s, err := New(p)
			assert.Nil(t, s)
			assert.True(t, apperrors.IsCode(err, apperrors.ErrorConfiguration), "got %v", err)
		})
	}
}

func TestDefaultParams(t *testing.T) {
	p := DefaultParams()
	require.NoError(t, p.Validate())
	assert.InDelta(t, 11.338, p.MinSize, 0.001)
	assert.Equal(t, 72.0, p.RenderDPI())
}

func TestNewBoundingRectangle(t *testing.T) {
	r, err := NewBoundingRectangle(2, 10, 0, 4)
	require.NoError(t, err)
	assert.Equal(t, 8, r.Width())
	assert.Equal(t, rect(2, 10, 0, 4), r)

	_, err = NewBoundingRectangle(5, 5, 0, 4)
	assert.Error(t, err)
	_, err = NewBoundingRectangle(0, 4, 9, 3)
	assert.Error(t, err)
}
