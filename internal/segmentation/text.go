package segmentation

import (
	"math"
	"strings"
)

// AssignText distributes glyphs over the leaf rectangles and returns one
// TextSegment per leaf that ends up with non-blank text, in leaf order.
//
// Each glyph lands at (floor(X/scaleDown), floor(Y/scaleDown)) and is appended
// to every leaf containing that pixel. At a run break a single space is
// appended to each leaf that received a glyph since the previous break.
// Glyphs outside all leaves are dropped.
func AssignText(leaves []BoundingRectangle, glyphs []Glyph, scaleDown int) []TextSegment {
	if scaleDown < 1 {
		scaleDown = 1
	}

	buffers := make([]strings.Builder, len(leaves))
	pending := make([]bool, len(leaves))

	for _, g := range glyphs {
		if g.Text != "" {
			if x, y, ok := toMapPixel(g, scaleDown); ok {
				for i, leaf := range leaves {
					if leaf.Contains(x, y) {
						buffers[i].WriteString(g.Text)
						pending[i] = true
					}
				}
			}
		}
		if g.RunBreak {
			for i := range pending {
				if pending[i] {
					buffers[i].WriteByte(' ')
					pending[i] = false
				}
			}
		}
	}

	segments := make([]TextSegment, 0, len(leaves))
	for i, leaf := range leaves {
		text := strings.TrimSpace(buffers[i].String())
		if text == "" {
			continue
		}
		segments = append(segments, TextSegment{BoundingRectangle: leaf, Text: text})
	}
	return segments
}

func toMapPixel(g Glyph, scaleDown int) (int, int, bool) {
	if math.IsNaN(g.X) || math.IsNaN(g.Y) || math.IsInf(g.X, 0) || math.IsInf(g.Y, 0) {
		return 0, 0, false
	}
	s := float64(scaleDown)
	return int(math.Floor(g.X / s)), int(math.Floor(g.Y / s)), true
}
