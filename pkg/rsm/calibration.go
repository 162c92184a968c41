package rsm

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/abworrall/rsm-calibrate/pkg/emath"
	"github.com/abworrall/rsm-calibrate/pkg/fitsx"
	"github.com/abworrall/rsm-calibrate/pkg/framekey"
	"github.com/abworrall/rsm-calibrate/pkg/suntools"
)

// A Record is the calibration data for one scan index, derived from that
// index's reference frame.
type Record struct {
	ScanIndex  int
	Reference  string // filename of the reference frame
	FlatOffset int    // rows the raw flat was shifted to line up with the reference
	Flat       emath.FloatGrid
	Absorption suntools.AbsorptionTable
	Boundary   suntools.Boundary
}

func (r *Record) copy() Record {
	c := *r
	c.Flat = *r.Flat.Copy()
	c.Absorption.Ha = append([]float64(nil), r.Absorption.Ha...)
	c.Absorption.Fe = append([]float64(nil), r.Absorption.Fe...)
	return c
}

// Calibration is the state every worker needs: the dark frame, and one
// Record per scan index. It is never modified after BuildCalibration
// returns, so it can be shared by any number of goroutines.
type Calibration struct {
	dark    emath.FloatGrid
	records map[int]*Record
}

// CalibrationInputs are the files loaded before the reference frames.
type CalibrationInputs struct {
	Dark     emath.FloatGrid
	Flat     emath.FloatGrid // raw flat exposure
	Standard []float64       // standard solar spectrum
}

func (c *Calibration) Len() int { return len(c.records) }

// Indexes returns the calibrated scan indexes, in order.
func (c *Calibration) Indexes() []int {
	idx := make([]int, 0, len(c.records))
	for i := range c.records {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	return idx
}

// Lookup returns a copy of the record for a scan index.
func (c *Calibration) Lookup(scanIndex int) (Record, bool) {
	r, ok := c.records[scanIndex]
	if !ok {
		return Record{}, false
	}
	return r.copy(), true
}

// record is the shared, read-only version of Lookup, for the corrector.
func (c *Calibration) record(scanIndex int) (*Record, bool) {
	r, ok := c.records[scanIndex]
	return r, ok
}

// SelectReferences picks the reference frame for each scan index out of a
// directory listing: frames at the standard position. Names are taken in
// sorted order and the first one seen for an index wins.
func SelectReferences(names []string, standardPosition int, log *slog.Logger) []string {
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)

	refs := []string{}
	seen := map[int]string{}
	for _, name := range sorted {
		k, err := framekey.ParseRaw(name)
		if err != nil || k.ScanPosition != standardPosition {
			continue
		}
		if first, exists := seen[k.ScanIndex]; exists {
			log.Warn("duplicate reference frame ignored", "file", name, "index", k.ScanIndex, "using", first)
			continue
		}
		seen[k.ScanIndex] = name
		refs = append(refs, name)
	}
	return refs
}

// BuildCalibration derives a Record from each reference frame (names
// relative to cfg.InputDir), using a pool of cfg.EffectiveWorkers()
// goroutines. Any failure is fatal, and wraps ErrSetup.
func BuildCalibration(ctx context.Context, cfg Config, in CalibrationInputs, refs []string, log *slog.Logger) (*Calibration, error) {
	if !in.Dark.SameSize(in.Flat) {
		return nil, fmt.Errorf("%w: dark %dx%d vs flat %dx%d: %w", ErrSetup, in.Dark.Dx(), in.Dark.Dy(), in.Flat.Dx(), in.Flat.Dy(), ErrShape)
	}

	built := make([]*Record, len(refs))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.EffectiveWorkers())

	for i, name := range refs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			rec, err := buildRecord(cfg, in, name)
			if err != nil {
				return fmt.Errorf("%w: reference '%s': %w", ErrSetup, name, err)
			}
			log.Info("calibrated", "index", rec.ScanIndex, "reference", name, "flat_offset", rec.FlatOffset, "boundary", rec.Boundary.String())

			if cfg.DumpGrids {
				fn := filepath.Join(cfg.SummaryDir, fmt.Sprintf("flat%04d.png", rec.ScanIndex))
				if err := rec.Flat.ToImg(fmt.Sprintf("flat %d %s", rec.ScanIndex, rec.Boundary), fn); err != nil {
					log.Warn("dump flat", "err", err)
				}
			}

			built[i] = rec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	cal := &Calibration{dark: in.Dark, records: map[int]*Record{}}
	for _, rec := range built {
		cal.records[rec.ScanIndex] = rec
	}
	return cal, nil
}

func buildRecord(cfg Config, in CalibrationInputs, name string) (*Record, error) {
	k, err := framekey.ParseRaw(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}

	ref, err := fitsx.Read(filepath.Join(cfg.InputDir, name))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	if !ref.SameSize(in.Dark) {
		return nil, fmt.Errorf("%dx%d vs dark %dx%d: %w", ref.Dx(), ref.Dy(), in.Dark.Dx(), in.Dark.Dy(), ErrShape)
	}

	// 1. Line the flat up with the reference, and take out the dark
	aligned, off, err := suntools.AlignOffset(in.Flat, ref, cfg.MaxFlatOffset)
	if err != nil {
		return nil, err
	}
	flat, err := suntools.Subtract(aligned, in.Dark)
	if err != nil {
		return nil, err
	}

	// 2. Straighten it; this fixes the boundary for the whole scan index
	flat, b, err := suntools.CurveCorrect(flat, cfg.Curve.X0, cfg.Curve.C, cfg.Curve.HaRows)
	if err != nil {
		return nil, err
	}

	// 3.
	flat = suntools.NormalizeFlat(flat)

	// 4. Correct the reference itself, and fit its absorption against the standard spectrum
	corr := shiftFe(cfg, ref)
	if corr, err = suntools.Subtract(corr, in.Dark); err != nil {
		return nil, err
	}
	if corr, _, err = suntools.CurveCorrect(corr, cfg.Curve.X0, cfg.Curve.C, cfg.Curve.HaRows); err != nil {
		return nil, err
	}
	if corr, err = suntools.DivFlat(corr, in.Flat); err != nil {
		return nil, err
	}
	tbl, err := suntools.FitAbsorption(corr, in.Standard, b, cfg.AbsorptionDegree)
	if err != nil {
		return nil, err
	}

	return &Record{
		ScanIndex:  k.ScanIndex,
		Reference:  name,
		FlatOffset: off,
		Flat:       flat,
		Absorption: tbl,
		Boundary:   b,
	}, nil
}

// shiftFe moves the Fe window by the configured wavelength shift.
func shiftFe(cfg Config, g emath.FloatGrid) emath.FloatGrid {
	return suntools.ShiftWindow(g, cfg.Curve.HaRows, g.Dy(), cfg.WavelengthShift)
}
