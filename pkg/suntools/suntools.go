// Package suntools holds the numeric routines that calibrate RSM
// spectral frames: dark subtraction, wavelength shifts, curvature
// correction, flat fields, red/blue absorption correction and
// denoising. Every function returns a new grid and leaves its inputs
// untouched, so calibration data can be shared between goroutines.
package suntools

import (
	"errors"
	"fmt"
	"math"

	"github.com/abworrall/rsm-calibrate/pkg/emath"
)

var (
	ErrShape = errors.New("grid shapes differ")
	ErrCurve = errors.New("curvature correction leaves no valid rows")
	ErrFit   = errors.New("absorption fit failed")
)

// Subtract returns g - dark.
func Subtract(g, dark emath.FloatGrid) (emath.FloatGrid, error) {
	if !g.SameSize(dark) {
		return emath.FloatGrid{}, fmt.Errorf("subtract %dx%d - %dx%d: %w", g.Dx(), g.Dy(), dark.Dx(), dark.Dy(), ErrShape)
	}
	out := g.NewFromThis()
	a, b, o := g.Values(), dark.Values(), out.Values()
	for i := range o {
		o[i] = a[i] - b[i]
	}
	return out, nil
}

// DivFlat returns g / flat. Pixels where the flat is zero or not finite
// are passed through unchanged.
func DivFlat(g, flat emath.FloatGrid) (emath.FloatGrid, error) {
	if !g.SameSize(flat) {
		return emath.FloatGrid{}, fmt.Errorf("divflat %dx%d / %dx%d: %w", g.Dx(), g.Dy(), flat.Dx(), flat.Dy(), ErrShape)
	}
	out := g.NewFromThis()
	a, f, o := g.Values(), flat.Values(), out.Values()
	for i := range o {
		if f[i] == 0 || math.IsNaN(f[i]) || math.IsInf(f[i], 0) {
			o[i] = a[i]
		} else {
			o[i] = a[i] / f[i]
		}
	}
	return out, nil
}

// ShiftWindow moves the rows [from, to) along the spectral axis by
// `offset` rows (positive is downwards, towards larger y). Rows that
// would be sourced from outside the window repeat the window's edge row.
// Rows outside the window are copied as-is.
func ShiftWindow(g emath.FloatGrid, from, to, offset int) emath.FloatGrid {
	out := *g.Copy()
	if offset == 0 || from >= to {
		return out
	}
	for y := from; y < to; y++ {
		src := y - offset
		if src < from {
			src = from
		} else if src >= to {
			src = to - 1
		}
		copy(out.Row(y), g.Row(src))
	}
	return out
}
