package segmentation

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"

	"golang.org/x/image/draw"
)

const (
	overlayAlpha = 50
	hueStep      = 0.61803398875
)

// WriteDebugImages dumps the intermediate rasters of a page into dir:
// gray-<page>.png (downsampled input), normalize-<page>.png (densities) and
// segments-<page>.png (input with a translucent fill per text segment).
func WriteDebugImages(dir string, layout *PageLayout) error {
	if layout == nil || layout.Density == nil {
		return fmt.Errorf("no density map for debug output")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create debug dir: %w", err)
	}

	base := layout.Density.Source()
	if base == nil {
		base = layout.Density.Image()
	}

	if err := writePNG(filepath.Join(dir, fmt.Sprintf("gray-%d.png", layout.Page)), base); err != nil {
		return err
	}
	if err := writePNG(filepath.Join(dir, fmt.Sprintf("normalize-%d.png", layout.Page)), layout.Density.Image()); err != nil {
		return err
	}
	return writePNG(filepath.Join(dir, fmt.Sprintf("segments-%d.png", layout.Page)), segmentOverlay(base, layout.Segments))
}

func segmentOverlay(base *image.Gray, segments []TextSegment) *image.RGBA {
	out := image.NewRGBA(base.Bounds())
	draw.Draw(out, out.Bounds(), base, base.Bounds().Min, draw.Src)

	hue := 0.0
	for _, seg := range segments {
		r := image.Rect(seg.X.Start, seg.Y.Start, seg.X.End, seg.Y.End)
		fill := hsvColor(hue, 0.6, 0.5, overlayAlpha)
		draw.Draw(out, r, image.NewUniform(fill), image.Point{}, draw.Over)
		hue = math.Mod(hue+hueStep, 1)
	}
	return out
}

// hsvColor converts h, s, v in [0, 1] to a non-premultiplied color.
func hsvColor(h, s, v float64, alpha uint8) color.NRGBA {
	i := math.Floor(h * 6)
	f := h*6 - i
	p := v * (1 - s)
	q := v * (1 - f*s)
	t := v * (1 - (1-f)*s)

	var r, g, b float64
	switch int(i) % 6 {
	case 0:
		r, g, b = v, t, p
	case 1:
		r, g, b = q, v, p
	case 2:
		r, g, b = p, v, t
	case 3:
		r, g, b = p, q, v
	case 4:
		r, g, b = t, p, v
	default:
		r, g, b = v, p, q
	}
	return color.NRGBA{R: uint8(r * 255), G: uint8(g * 255), B: uint8(b * 255), A: alpha}
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	return f.Close()
}
