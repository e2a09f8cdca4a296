package processor

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	apperrors "github.com/adverant/nexus/segmentation-worker/internal/errors"
)

// DefaultImageSourceDPI is assumed for scans that carry no usable resolution.
const DefaultImageSourceDPI = 300

// ImageRenderer serves a single raster image (a scan or photo) as page 0.
type ImageRenderer struct {
	img       image.Image
	format    string
	sourceDPI float64
}

// NewImageRenderer decodes PNG, JPEG, GIF, TIFF, BMP or WebP data. The image
// is taken to be scanned at sourceDPI.
func NewImageRenderer(data []byte, sourceDPI float64) (*ImageRenderer, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	if sourceDPI <= 0 {
		sourceDPI = DefaultImageSourceDPI
	}
	return &ImageRenderer{img: img, format: format, sourceDPI: sourceDPI}, nil
}

// Format is the decoder name reported by image.Decode.
func (r *ImageRenderer) Format() string {
	return r.format
}

// RenderPage rescales the image from its source resolution to dpi.
func (r *ImageRenderer) RenderPage(_ context.Context, page int, dpi float64) (*image.Gray, error) {
	if page != 0 {
		return nil, apperrors.NewRenderError(page, "image sources have a single page", nil)
	}
	if dpi <= 0 {
		return nil, apperrors.NewRenderError(page, fmt.Sprintf("invalid dpi %v", dpi), nil)
	}

	b := r.img.Bounds()
	scale := dpi / r.sourceDPI
	w := int(float64(b.Dx())*scale + 0.5)
	h := int(float64(b.Dy())*scale + 0.5)
	if w < 1 || h < 1 {
		return nil, apperrors.NewRenderError(page, fmt.Sprintf("image too small for %v dpi", dpi), nil)
	}

	if w == b.Dx() && h == b.Dy() {
		return toGray(r.img), nil
	}
	dst := image.NewGray(image.Rect(0, 0, w, h))
	draw.BiLinear.Scale(dst, dst.Bounds(), r.img, b, draw.Src, nil)
	return dst, nil
}

// toGray returns img as an *image.Gray anchored at the origin.
func toGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok && g.Bounds().Min == (image.Point{}) {
		return g
	}
	b := img.Bounds()
	dst := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}
