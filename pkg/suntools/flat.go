package suntools

import (
	"fmt"
	"math"
	"math/cmplx"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/floats"

	"github.com/abworrall/rsm-calibrate/pkg/emath"
)

// SpectralProfile returns the mean of each row.
func SpectralProfile(g emath.FloatGrid) []float64 {
	prof := make([]float64, g.Dy())
	for y := range prof {
		prof[y] = floats.Sum(g.Row(y)) / float64(g.Dx())
	}
	return prof
}

// FindOffset returns the spectral shift (in whole rows, within
// ±maxOffset) that best lines up `ref` with `target`, found by
// cross-correlating their mean spectral profiles. A positive offset
// means features in target sit lower (larger y) than in ref.
func FindOffset(ref, target emath.FloatGrid, maxOffset int) (int, error) {
	if !ref.SameSize(target) {
		return 0, fmt.Errorf("offset %dx%d vs %dx%d: %w", ref.Dx(), ref.Dy(), target.Dx(), target.Dy(), ErrShape)
	}

	a, b := SpectralProfile(ref), SpectralProfile(target)
	h := len(a)
	if maxOffset >= h {
		maxOffset = h - 1
	}

	// Zero-pad to avoid circular wraparound
	n := 2 * h
	pa, pb := make([]float64, n), make([]float64, n)
	ma, mb := floats.Sum(a)/float64(h), floats.Sum(b)/float64(h)
	for i := 0; i < h; i++ {
		pa[i] = a[i] - ma
		pb[i] = b[i] - mb
	}

	fft := fourier.NewFFT(n)
	ca := fft.Coefficients(nil, pa)
	cb := fft.Coefficients(nil, pb)
	for i := range cb {
		cb[i] *= cmplx.Conj(ca[i])
	}
	corr := fft.Sequence(nil, cb) // corr[k] = Σ a[j]·b[j+k]

	best, bestVal := 0, corr[0]
	for k := 1; k <= maxOffset; k++ {
		if v := corr[k]; v > bestVal+1e-9*math.Abs(bestVal) {
			best, bestVal = k, v
		}
		if v := corr[n-k]; v > bestVal+1e-9*math.Abs(bestVal) {
			best, bestVal = -k, v
		}
	}

	return best, nil
}

// AlignOffset shifts `ref` (usually a raw flat) so that its spectral
// features line up with those in `target`.
func AlignOffset(ref, target emath.FloatGrid, maxOffset int) (emath.FloatGrid, int, error) {
	off, err := FindOffset(ref, target, maxOffset)
	if err != nil {
		return emath.FloatGrid{}, 0, err
	}
	return ShiftWindow(ref, 0, ref.Dy(), off), off, nil
}

// NormalizeFlat turns a dark-subtracted, curvature-corrected flat
// exposure into a flat field, by dividing each row by its mean. What
// remains is the pixel response along the slit. Rows with no signal
// (and any non-finite values) become 1.0, so dividing by them is a no-op.
func NormalizeFlat(g emath.FloatGrid) emath.FloatGrid {
	out := g.NewFromThis()
	for y := 0; y < g.Dy(); y++ {
		row, dst := g.Row(y), out.Row(y)
		mean, err := stats.Mean(stats.Float64Data(row))
		if err != nil || mean == 0 || math.IsNaN(mean) || math.IsInf(mean, 0) {
			for x := range dst {
				dst[x] = 1
			}
			continue
		}
		for x, v := range row {
			f := v / mean
			if f == 0 || math.IsNaN(f) || math.IsInf(f, 0) {
				f = 1
			}
			dst[x] = f
		}
	}
	return out
}
