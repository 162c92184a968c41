package suntools

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/abworrall/rsm-calibrate/pkg/emath"
)

// An AbsorptionTable holds the red/blue absorption correction for the
// two windows: polynomial coefficients (lowest order first) of a
// per-row multiplier, in terms of t = row/(rows-1) within the window.
type AbsorptionTable struct {
	Ha     []float64
	Fe     []float64
	HaRows int
	FeRows int
}

// LoadStandardSpectrum reads a standard solar spectrum: one sample per
// line, the intensity being the last field on the line. Blank lines and
// lines starting with '#' are skipped.
func LoadStandardSpectrum(filename string) ([]float64, error) {
	r, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("open+r '%s': %w", filename, err)
	}
	defer r.Close()

	spec := []float64{}
	scanner := bufio.NewScanner(r)
	for lineNo := 1; scanner.Scan(); lineNo++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		v, err := strconv.ParseFloat(fields[len(fields)-1], 64)
		if err != nil {
			return nil, fmt.Errorf("'%s' line %d: %w", filename, lineNo, err)
		}
		spec = append(spec, v)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read '%s': %w", filename, err)
	}
	if len(spec) < 2 {
		return nil, fmt.Errorf("'%s' has %d samples, need at least 2", filename, len(spec))
	}

	return spec, nil
}

// FitAbsorption compares the mean spectral profile of a corrected
// reference frame with the standard spectrum (resampled onto the frame's
// valid rows), and fits a polynomial of the given degree to their ratio,
// separately for each window.
func FitAbsorption(g emath.FloatGrid, standard []float64, b Boundary, degree int) (AbsorptionTable, error) {
	if b.Rows() > g.Dy() || b.HaEnd <= 0 || b.FeEnd <= 0 {
		return AbsorptionTable{}, fmt.Errorf("boundary %s in %d rows: %w", b, g.Dy(), ErrFit)
	}
	if len(standard) < 2 {
		return AbsorptionTable{}, fmt.Errorf("standard spectrum has %d samples: %w", len(standard), ErrFit)
	}

	prof := SpectralProfile(g)
	std := emath.Resample(standard, b.Rows())

	ha, err := fitRatio(prof[:b.HaEnd], std[:b.HaEnd], degree)
	if err != nil {
		return AbsorptionTable{}, fmt.Errorf("Ha window: %w", err)
	}
	fe, err := fitRatio(prof[b.HaEnd:b.Rows()], std[b.HaEnd:], degree)
	if err != nil {
		return AbsorptionTable{}, fmt.Errorf("Fe window: %w", err)
	}

	return AbsorptionTable{Ha: ha, Fe: fe, HaRows: b.HaEnd, FeRows: b.FeEnd}, nil
}

// fitRatio does a least squares fit of std/prof (both normalized to
// unit mean) against t.
func fitRatio(prof, std []float64, degree int) ([]float64, error) {
	mp, err := stats.Mean(stats.Float64Data(prof))
	if err != nil || mp == 0 {
		return nil, fmt.Errorf("empty profile: %w", ErrFit)
	}
	ms, err := stats.Mean(stats.Float64Data(std))
	if err != nil || ms == 0 {
		return nil, fmt.Errorf("empty standard: %w", ErrFit)
	}

	ts, ratios := []float64{}, []float64{}
	for i := range prof {
		p := prof[i] / mp
		if p == 0 || math.IsNaN(p) || math.IsInf(p, 0) {
			continue
		}
		ts = append(ts, rowT(i, len(prof)))
		ratios = append(ratios, (std[i]/ms)/p)
	}
	if len(ratios) == 0 {
		return nil, fmt.Errorf("no usable rows: %w", ErrFit)
	}
	if degree >= len(ratios) {
		degree = len(ratios) - 1
	}

	vander := mat.NewDense(len(ts), degree+1, nil)
	for i, t := range ts {
		pow := 1.0
		for j := 0; j <= degree; j++ {
			vander.Set(i, j, pow)
			pow *= t
		}
	}

	var coef mat.VecDense
	if err := coef.SolveVec(vander, mat.NewVecDense(len(ratios), ratios)); err != nil {
		return nil, fmt.Errorf("least squares: %v: %w", err, ErrFit)
	}

	return mat.Col(nil, 0, &coef), nil
}

// RepairAbsorption multiplies each row of the two windows by the
// polynomial from the table.
func RepairAbsorption(g emath.FloatGrid, tbl AbsorptionTable, b Boundary) (emath.FloatGrid, error) {
	if b.Rows() > g.Dy() {
		return emath.FloatGrid{}, fmt.Errorf("boundary %s in %d rows: %w", b, g.Dy(), ErrShape)
	}

	out := *g.Copy()
	for i := 0; i < b.HaEnd; i++ {
		floats.Scale(poly(tbl.Ha, rowT(i, tbl.HaRows)), out.Row(i))
	}
	for i := 0; i < b.FeEnd; i++ {
		floats.Scale(poly(tbl.Fe, rowT(i, tbl.FeRows)), out.Row(b.HaEnd+i))
	}
	return out, nil
}

func rowT(i, n int) float64 {
	if n <= 1 {
		return 0
	}
	return float64(i) / float64(n-1)
}

func poly(coef []float64, t float64) float64 {
	if len(coef) == 0 {
		return 1
	}
	v := 0.0
	for j := len(coef) - 1; j >= 0; j-- {
		v = v*t + coef[j]
	}
	return v
}
