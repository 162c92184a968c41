package rsm

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/abworrall/rsm-calibrate/pkg/emath"
	"github.com/abworrall/rsm-calibrate/pkg/fitsx"
	"github.com/abworrall/rsm-calibrate/pkg/framekey"
	"github.com/abworrall/rsm-calibrate/pkg/suntools"
)

// A CorrectedFrame is the quantized output of the corrector. Only rows
// [0, Boundary.Rows()) are meaningful.
type CorrectedFrame struct {
	Data     []int16
	Width    int
	Boundary suntools.Boundary
}

// Window returns the rows of one spectral window. It aliases Data.
func (cf CorrectedFrame) Window(w framekey.Window) []int16 {
	b := cf.Boundary
	if w == framekey.WindowHa {
		return cf.Data[0 : b.HaEnd*cf.Width]
	}
	return cf.Data[b.HaEnd*cf.Width : b.Rows()*cf.Width]
}

// CorrectGrid runs every correction on one raw frame, given the record for
// its scan index. It has no side effects; the same inputs always produce
// the same output.
func CorrectGrid(cfg Config, raw, dark emath.FloatGrid, rec *Record) (CorrectedFrame, error) {
	g, b, err := straighten(cfg, raw, dark)
	if err != nil {
		return CorrectedFrame{}, err
	}
	return finish(cfg, g, b, rec)
}

// straighten does the corrections that don't need a calibration record:
// Fe shift, dark, curvature.
func straighten(cfg Config, raw, dark emath.FloatGrid) (emath.FloatGrid, suntools.Boundary, error) {
	if !raw.SameSize(dark) {
		return emath.FloatGrid{}, suntools.Boundary{}, fmt.Errorf("%dx%d vs dark %dx%d: %w", raw.Dx(), raw.Dy(), dark.Dx(), dark.Dy(), ErrShape)
	}
	g, err := suntools.Subtract(shiftFe(cfg, raw), dark)
	if err != nil {
		return emath.FloatGrid{}, suntools.Boundary{}, err
	}
	return suntools.CurveCorrect(g, cfg.Curve.X0, cfg.Curve.C, cfg.Curve.HaRows)
}

// finish applies the record's flat and absorption correction, then
// denoises and quantizes.
func finish(cfg Config, g emath.FloatGrid, b suntools.Boundary, rec *Record) (CorrectedFrame, error) {
	if !g.SameSize(rec.Flat) {
		return CorrectedFrame{}, fmt.Errorf("%dx%d vs flat %dx%d: %w", g.Dx(), g.Dy(), rec.Flat.Dx(), rec.Flat.Dy(), ErrShape)
	}
	g, err := suntools.DivFlat(g, rec.Flat)
	if err != nil {
		return CorrectedFrame{}, err
	}
	if g, err = suntools.RepairAbsorption(g, rec.Absorption, b); err != nil {
		return CorrectedFrame{}, err
	}
	if g, err = suntools.MedianFilter(g, cfg.FilterKernelSize); err != nil {
		return CorrectedFrame{}, err
	}
	return CorrectedFrame{Data: suntools.QuantizeInt16(g), Width: g.Dx(), Boundary: b}, nil
}

// A Corrector turns raw frame files into pairs of window files.
type Corrector struct {
	cfg Config
	cal *Calibration
	log *slog.Logger
}

func NewCorrector(cfg Config, cal *Calibration, log *slog.Logger) *Corrector {
	if log == nil {
		log = discardLogger()
	}
	return &Corrector{cfg: cfg, cal: cal, log: log}
}

// CorrectFrame corrects the raw frame `name` (relative to the input dir)
// and writes its FE and HA windows into the output dir. Frames with no
// calibration for their scan index return ErrNoCalibration, and write
// nothing.
func (c *Corrector) CorrectFrame(ctx context.Context, name string) error {
	k, err := framekey.ParseRaw(name)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDecode, err)
	}

	raw, err := fitsx.Read(filepath.Join(c.cfg.InputDir, name))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDecode, err)
	}

	g, b, err := straighten(c.cfg, raw, c.cal.dark)
	if err != nil {
		return err
	}

	rec, ok := c.cal.record(k.ScanIndex)
	if !ok {
		return fmt.Errorf("%w %d", ErrNoCalibration, k.ScanIndex)
	}
	if b != rec.Boundary {
		c.log.Warn("frame boundary differs from its calibration", "file", name, "frame", b.String(), "calibration", rec.Boundary.String())
	}

	cf, err := finish(c.cfg, g, b, rec)
	if err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	for _, w := range []framekey.Window{framekey.WindowFe, framekey.WindowHa} {
		fn := filepath.Join(c.cfg.OutputDir, framekey.CorrectedName(k, w))
		if err := fitsx.WriteInt16(fn, cf.Window(w), cf.Width); err != nil {
			return err
		}
	}

	c.log.Debug("corrected", "file", name, "key", k.String(), "boundary", b.String())
	return nil
}
