package rsm

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/abworrall/rsm-calibrate/pkg/emath"
	"github.com/abworrall/rsm-calibrate/pkg/fitsx"
	"github.com/abworrall/rsm-calibrate/pkg/suntools"
)

// A Pipeline is one full calibration run: build the calibration from the
// reference frames, correct every raw frame, then aggregate and write the
// summary images.
type Pipeline struct {
	Config   Config
	Log      *slog.Logger
	Observer Observer // defaults to a LogObserver
	Metrics  *Metrics
}

// Result is everything a run produced, apart from the files.
type Result struct {
	Report       RunReport
	Calibration  *Calibration
	Accumulators []*Accumulator
}

// Run returns an error wrapping ErrSetup if anything stops it before the
// frames are dispatched. Per-frame failures only show up in the report.
func (p *Pipeline) Run(ctx context.Context) (Result, error) {
	cfg := p.Config
	log := p.Log
	if log == nil {
		log = discardLogger()
	}
	obs := p.Observer
	if obs == nil {
		obs = LogObserver{Log: log}
	}

	if err := cfg.Validate(); err != nil {
		return Result{}, err
	}
	names, err := ListFrames(cfg.InputDir)
	if err != nil {
		return Result{}, err
	}
	log.Info("input listed", "dir", cfg.InputDir, "files", len(names))

	for _, dir := range []string{cfg.OutputDir, cfg.SummaryDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return Result{}, fmt.Errorf("%w: %w", ErrSetup, err)
		}
	}

	in, err := loadInputs(cfg, log)
	if err != nil {
		return Result{}, err
	}

	cmap, err := LoadColormap(cfg)
	if err != nil {
		return Result{}, err
	}

	t := time.Now()
	refs := SelectReferences(names, cfg.StandardPosition, log)
	cal, err := BuildCalibration(ctx, cfg, in, refs, log)
	if err != nil {
		return Result{}, err
	}
	p.Metrics.setCalibrations(cal.Len())
	log.Info("calibration built", "indexes", cal.Indexes(), "elapsed", time.Since(t).Round(time.Millisecond))

	corrector := NewCorrector(cfg, cal, log)
	d := Dispatcher{
		Workers:  cfg.EffectiveWorkers(),
		Observer: obs,
		Metrics:  p.Metrics,
		Log:      log,
	}
	log.Info("correcting frames", "workers", d.Workers)
	rep, err := d.Run(ctx, names, corrector.CorrectFrame)
	res := Result{Report: rep, Calibration: cal}
	if err != nil {
		return res, err
	}

	ag := Aggregator{Dir: cfg.OutputDir, RowIndex: cfg.SummaryRowIndex, RowCount: cfg.SummaryRowCount, Log: log}
	if res.Accumulators, err = ag.Run(); err != nil {
		return res, err
	}
	if err := WriteSummaries(cfg.SummaryDir, cfg.OutputMode, res.Accumulators, cmap, p.Metrics); err != nil {
		return res, err
	}
	log.Info("summaries written", "dir", cfg.SummaryDir, "count", len(res.Accumulators), "mode", cfg.OutputMode)

	if cfg.MetricsFile != "" {
		if err := p.Metrics.WriteTextfile(cfg.MetricsFile); err != nil {
			log.Warn("metrics textfile", "file", cfg.MetricsFile, "err", err)
		}
	}

	return res, nil
}

// ListFrames returns the names of the regular files in dir, sorted. An
// unreadable or empty dir is a setup error.
func ListFrames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: input dir: %w", ErrSetup, err)
	}
	names := []string{}
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: input dir '%s' has no files", ErrSetup, dir)
	}
	sort.Strings(names)
	return names, nil
}

func loadInputs(cfg Config, log *slog.Logger) (CalibrationInputs, error) {
	var in CalibrationInputs
	var err error

	if in.Dark, err = loadGrid("dark", cfg.DarkFile, log); err != nil {
		return in, err
	}
	if in.Flat, err = loadGrid("flat", cfg.FlatFile, log); err != nil {
		return in, err
	}
	if in.Standard, err = suntools.LoadStandardSpectrum(cfg.StandardSpectrumFile); err != nil {
		return in, fmt.Errorf("%w: standard spectrum: %w", ErrSetup, err)
	}
	log.Info("loaded standard spectrum", "file", cfg.StandardSpectrumFile, "samples", len(in.Standard))

	return in, nil
}

func loadGrid(what, filename string, log *slog.Logger) (emath.FloatGrid, error) {
	g, err := fitsx.Read(filename)
	if err != nil {
		return g, fmt.Errorf("%w: %s: %w", ErrSetup, what, err)
	}
	log.Info("loaded "+what, "file", filename, "stats", g.Stats())
	return g, nil
}
