package suntools

import (
	"fmt"
	"math"
	"sort"

	"github.com/abworrall/rsm-calibrate/pkg/emath"
)

// MedianFilter applies a k×k median filter, padding the edges with
// zeros (the same as scipy.signal.medfilt). k must be odd.
func MedianFilter(g emath.FloatGrid, k int) (emath.FloatGrid, error) {
	if k < 1 || k%2 == 0 {
		return emath.FloatGrid{}, fmt.Errorf("median kernel size %d must be odd and positive", k)
	}
	if k == 1 {
		return *g.Copy(), nil
	}

	w, h, r := g.Dx(), g.Dy(), k/2
	out := g.NewFromThis()
	win := make([]float64, k*k)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			n := 0
			for yy := y - r; yy <= y+r; yy++ {
				for xx := x - r; xx <= x+r; xx++ {
					if yy < 0 || yy >= h || xx < 0 || xx >= w {
						win[n] = 0
					} else {
						win[n] = g.Get(xx, yy)
					}
					n++
				}
			}
			sort.Float64s(win)
			out.Set(x, y, win[len(win)/2])
		}
	}

	return out, nil
}

// QuantizeInt16 converts to int16, truncating towards zero and
// saturating at the int16 limits. NaNs become zero.
func QuantizeInt16(g emath.FloatGrid) []int16 {
	vals := g.Values()
	out := make([]int16, len(vals))
	for i, v := range vals {
		switch {
		case math.IsNaN(v):
			out[i] = 0
		case v >= math.MaxInt16:
			out[i] = math.MaxInt16
		case v <= math.MinInt16:
			out[i] = math.MinInt16
		default:
			out[i] = int16(math.Trunc(v))
		}
	}
	return out
}
