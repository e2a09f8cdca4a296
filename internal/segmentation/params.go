package segmentation

import (
	"math"

	apperrors "github.com/adverant/nexus/segmentation-worker/internal/errors"
)

const mmPerInch = 25.4

// Params holds the tunable thresholds of one segmentation run.
type Params struct {
	// WhiteSpaceMaxRatio is the fraction of the densest row/column below which
	// a histogram position counts as blank (default: 0.04)
	WhiteSpaceMaxRatio float64

	// MinWhiteSpaceRun is the shortest blank run, in density-map pixels, that
	// may separate two blocks (default: 5)
	MinWhiteSpaceRun int

	// MinSize is the smallest extent, in density-map pixels, a region must keep
	// on either side of a split (default: 8mm at 36 DPI)
	MinSize float64

	// DPI is the resolution of the density map. Pages are rendered at
	// ScaleDown*DPI and reduced by ScaleDown (default: 36)
	DPI float64

	// ScaleDown is the downsampling factor from render to density map (default: 2)
	ScaleDown int
}

// DefaultParams returns the thresholds the classifier was tuned with.
func DefaultParams() Params {
	return Params{
		WhiteSpaceMaxRatio: 0.04,
		MinWhiteSpaceRun:   5,
		MinSize:            MinSizeFromMM(8, 36),
		DPI:                36,
		ScaleDown:          2,
	}
}

// MinSizeFromMM converts a physical length to density-map pixels at dpi.
func MinSizeFromMM(mm, dpi float64) float64 {
	return mm / mmPerInch * dpi
}

// RenderDPI is the resolution pages are requested from the renderer at.
func (p Params) RenderDPI() float64 {
	return float64(p.ScaleDown) * p.DPI
}

// Validate rejects thresholds outside their valid ranges.
func (p Params) Validate() error {
	if math.IsNaN(p.WhiteSpaceMaxRatio) || p.WhiteSpaceMaxRatio <= 0 || p.WhiteSpaceMaxRatio > 1 {
		return apperrors.NewConfigurationError("whiteSpaceMaxRatio", p.WhiteSpaceMaxRatio, "must be in (0, 1]")
	}
	if p.MinWhiteSpaceRun < 1 {
		return apperrors.NewConfigurationError("minWhiteSpaceRun", p.MinWhiteSpaceRun, "must be at least 1")
	}
	if math.IsNaN(p.MinSize) || math.IsInf(p.MinSize, 0) || p.MinSize < 0 {
		return apperrors.NewConfigurationError("minSize", p.MinSize, "must be a finite non-negative number")
	}
	if math.IsNaN(p.DPI) || math.IsInf(p.DPI, 0) || p.DPI <= 0 {
		return apperrors.NewConfigurationError("dpi", p.DPI, "must be positive")
	}
	if p.ScaleDown < 1 {
		return apperrors.NewConfigurationError("scaleDown", p.ScaleDown, "must be at least 1")
	}
	return nil
}
