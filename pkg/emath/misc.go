package emath

import "math"

// Some functions that only operate on basic types, that are useful

// https://www.sjbrown.co.uk/posts/gamma-correct-rendering/ - "linear RGB to sRGB"
// `f` is assumed to be in the range [0,1]
func GammaExpand_F64(f float64) float64 {
	if f <= 0.0031308 {
		return 12.92 * f
	}
	return 1.055*math.Pow(f, 1.0/2.4) - 0.055
}

// Lerp samples `vals` at fractional index `pos`, clamping at both ends.
func Lerp(vals []float64, pos float64) float64 {
	n := len(vals)
	if n == 0 {
		return 0
	}
	if pos <= 0 {
		return vals[0]
	}
	if pos >= float64(n-1) {
		return vals[n-1]
	}
	i := int(pos)
	frac := pos - float64(i)
	return vals[i]*(1-frac) + vals[i+1]*frac
}

// Resample linearly interpolates `vals` onto `n` evenly spaced points
// spanning the same range.
func Resample(vals []float64, n int) []float64 {
	out := make([]float64, n)
	if n == 1 {
		out[0] = Lerp(vals, 0)
		return out
	}
	scale := float64(len(vals)-1) / float64(n-1)
	for i := range out {
		out[i] = Lerp(vals, float64(i)*scale)
	}
	return out
}
