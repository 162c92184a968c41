package suntools

import (
	"fmt"
	"math"

	"github.com/abworrall/rsm-calibrate/pkg/emath"
)

// A Boundary says where the two spectral windows sit in a
// curvature-corrected frame: Hα is rows [0,HaEnd), Fe is rows
// [HaEnd, HaEnd+FeEnd).
type Boundary struct {
	HaEnd int
	FeEnd int
}

func (b Boundary) String() string { return fmt.Sprintf("Ha[0,%d) Fe[%d,%d)", b.HaEnd, b.HaEnd, b.HaEnd+b.FeEnd) }

// Rows is the number of valid rows in a corrected frame.
func (b Boundary) Rows() int { return b.HaEnd + b.FeEnd }

// CurveCorrect straightens the spectral lines, which the optics bow
// into a parabola across the slit: in column x a line sits C·(x-x0)²
// rows lower than it does at x0. Each window (Hα is raw rows
// [0,haRows), Fe is the rest) is resampled separately, with linear
// interpolation, so that the lines become horizontal.
//
// Rows near the bottom of each window have no source data after the
// shift, and are dropped; the surviving rows of both windows are packed
// to the top of the returned grid (which keeps the input's shape, with
// zero rows at the end). The returned Boundary describes the packing,
// and only depends on the grid's shape and (x0, C, haRows).
func CurveCorrect(g emath.FloatGrid, x0, c float64, haRows int) (emath.FloatGrid, Boundary, error) {
	w, h := g.Dx(), g.Dy()
	if haRows <= 0 || haRows >= h {
		return emath.FloatGrid{}, Boundary{}, fmt.Errorf("ha_rows %d outside frame height %d: %w", haRows, h, ErrCurve)
	}

	shifts := make([]float64, w)
	minDy, maxDy := math.MaxFloat64, -math.MaxFloat64
	for x := 0; x < w; x++ {
		dx := float64(x) - x0
		shifts[x] = c * dx * dx
		minDy = math.Min(minDy, shifts[x])
		maxDy = math.Max(maxDy, shifts[x])
	}
	for x := range shifts {
		shifts[x] -= minDy // all shifts now >= 0
	}

	cut := int(math.Ceil(maxDy - minDy - 1e-9))
	b := Boundary{HaEnd: haRows - cut, FeEnd: (h - haRows) - cut}
	if b.HaEnd <= 0 || b.FeEnd <= 0 {
		return emath.FloatGrid{}, Boundary{}, fmt.Errorf("curve shift of %d rows, windows %d/%d: %w", cut, haRows, h-haRows, ErrCurve)
	}

	out := g.NewFromThis()
	resampleWindow(g, &out, shifts, 0, haRows, 0, b.HaEnd)
	resampleWindow(g, &out, shifts, haRows, h, b.HaEnd, b.FeEnd)

	return out, b, nil
}

// resampleWindow fills out rows [dst, dst+n) from the window rows [from, to) of g.
func resampleWindow(g emath.FloatGrid, out *emath.FloatGrid, shifts []float64, from, to, dst, n int) {
	col := make([]float64, to-from)
	for x := 0; x < g.Dx(); x++ {
		for y := from; y < to; y++ {
			col[y-from] = g.Get(x, y)
		}
		for j := 0; j < n; j++ {
			out.Set(x, dst+j, emath.Lerp(col, float64(j)+shifts[x]))
		}
	}
}
