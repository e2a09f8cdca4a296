package segmentation

import (
	"errors"
	"fmt"
	"image"

	"golang.org/x/image/draw"
)

// ErrEmptyRaster is returned when a renderer hands back a raster without pixels.
var ErrEmptyRaster = errors.New("segmentation: empty raster")

// IntensityRange is the darkest and brightest gray value of a downsampled page.
type IntensityRange struct {
	Min uint8 `json:"min"`
	Max uint8 `json:"max"`
}

// Flat reports whether the page has a single gray value (blank page).
func (r IntensityRange) Flat() bool {
	return r.Max <= r.Min
}

// Density maps a raw gray value to ink density: dark becomes high and the
// page's own contrast range is stretched to the full scale.
func (r IntensityRange) Density(v uint8) uint8 {
	if r.Flat() {
		return 0
	}
	d := 256.0 - 256.0*float64(int(v)-int(r.Min))/float64(int(r.Max)-int(r.Min))
	if d < 0 {
		return 0
	}
	if d > 255 {
		return 255
	}
	return uint8(d)
}

func (r IntensityRange) lookupTable() [256]uint8 {
	var lut [256]uint8
	for v := 0; v < 256; v++ {
		lut[v] = r.Density(uint8(v))
	}
	return lut
}

// DensityMap is an immutable grid of ink densities, indexed [y][x] row-major.
type DensityMap struct {
	Width     int
	Height    int
	Intensity IntensityRange

	pix    []uint8
	source *image.Gray
}

// NewDensityMap reduces a raster rendered at ScaleDown*DPI to DPI with
// antialiased resampling and converts it to ink densities.
func NewDensityMap(raster *image.Gray, scaleDown int) (*DensityMap, error) {
	if raster == nil || raster.Bounds().Empty() {
		return nil, ErrEmptyRaster
	}
	if scaleDown < 1 {
		return nil, fmt.Errorf("segmentation: invalid scale-down factor %d", scaleDown)
	}

	gray := downsample(raster, scaleDown)
	r := intensityRange(gray)
	lut := r.lookupTable()

	w, h := gray.Bounds().Dx(), gray.Bounds().Dy()
	pix := make([]uint8, w*h)
	for y := 0; y < h; y++ {
		row := gray.Pix[y*gray.Stride : y*gray.Stride+w]
		for x, v := range row {
			pix[y*w+x] = lut[v]
		}
	}

	return &DensityMap{
		Width:     w,
		Height:    h,
		Intensity: r,
		pix:       pix,
		source:    gray,
	}, nil
}

// NewDensityMapFromPix wraps precomputed densities (row-major, len w*h).
func NewDensityMapFromPix(w, h int, pix []uint8) (*DensityMap, error) {
	if w <= 0 || h <= 0 {
		return nil, ErrEmptyRaster
	}
	if len(pix) != w*h {
		return nil, fmt.Errorf("segmentation: got %d densities for %dx%d map", len(pix), w, h)
	}
	cp := make([]uint8, len(pix))
	copy(cp, pix)
	return &DensityMap{Width: w, Height: h, pix: cp, Intensity: IntensityRange{Min: 0, Max: 255}}, nil
}

func downsample(src *image.Gray, scaleDown int) *image.Gray {
	b := src.Bounds()
	w, h := b.Dx()/scaleDown, b.Dy()/scaleDown
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}

	dst := image.NewGray(image.Rect(0, 0, w, h))
	if scaleDown == 1 {
		draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
		return dst
	}
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
	return dst
}

func intensityRange(img *image.Gray) IntensityRange {
	r := IntensityRange{Min: 255, Max: 0}
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	for y := 0; y < h; y++ {
		for _, v := range img.Pix[y*img.Stride : y*img.Stride+w] {
			if v < r.Min {
				r.Min = v
			}
			if v > r.Max {
				r.Max = v
			}
		}
	}
	return r
}

// At returns the density at (x, y).
func (m *DensityMap) At(x, y int) uint8 {
	return m.pix[y*m.Width+x]
}

// Bounds is the full-page rectangle.
func (m *DensityMap) Bounds() BoundingRectangle {
	return BoundingRectangle{X: Interval{0, m.Width}, Y: Interval{0, m.Height}}
}

// Histograms returns the column sums (indexed by x) and row sums (indexed by
// y) of the densities inside rect. Both slices span the whole map so they can
// be indexed with absolute coordinates.
func (m *DensityMap) Histograms(rect BoundingRectangle) (xHist, yHist []int) {
	xHist = make([]int, m.Width)
	yHist = make([]int, m.Height)
	for y := rect.Y.Start; y < rect.Y.End; y++ {
		row := m.pix[y*m.Width : (y+1)*m.Width]
		sum := 0
		for x := rect.X.Start; x < rect.X.End; x++ {
			v := int(row[x])
			xHist[x] += v
			sum += v
		}
		yHist[y] = sum
	}
	return xHist, yHist
}

// Image returns the densities as a grayscale image (ink is bright).
func (m *DensityMap) Image() *image.Gray {
	img := image.NewGray(image.Rect(0, 0, m.Width, m.Height))
	copy(img.Pix, m.pix)
	return img
}

// Source returns the downsampled raster the map was built from, or nil for
// maps created from precomputed densities.
func (m *DensityMap) Source() *image.Gray {
	return m.source
}
