package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"

	"github.com/abworrall/rsm-calibrate/pkg/rsm"
)

var (
	fConfigFile string
	fVerbosity  int
	fWorkers    int
	fInputDir   string
	fOutputDir  string
	fSummaryDir string
	fOutputMode string
	fLogLevel   string
	fMetrics    string
	fDumpGrids  bool
)

func init() {
	flag.StringVar(&fConfigFile, "config", "", "yaml config file (RSM_* env vars override it)")
	flag.IntVar(&fVerbosity, "v", 0, "how verbose to get")
	flag.IntVar(&fWorkers, "workers", 0, "size of worker pool (0: use config, or all CPUs but reserve_cores)")
	flag.StringVar(&fInputDir, "in", "", "dir of raw frames")
	flag.StringVar(&fOutputDir, "out", "", "dir for corrected HA/FE windows")
	flag.StringVar(&fSummaryDir, "sum", "", "dir for summary images")
	flag.StringVar(&fOutputMode, "mode", "", "summary output: png or fts")
	flag.StringVar(&fLogLevel, "loglevel", "", "debug, info, warn or error")
	flag.StringVar(&fMetrics, "metrics", "", "write prometheus metrics to this textfile")
	flag.BoolVar(&fDumpGrids, "dumpgrids", false, "write PNGs of the flat fields into the summary dir")
	flag.Parse()
}

func main() {
	cfg, err := rsm.LoadConfig(fConfigFile)
	if err != nil {
		log.Fatalf("config: %v\n", err)
	}

	// Override the config file with command line args, if relevant
	if fVerbosity > 0 { cfg.Verbosity = fVerbosity }
	if fWorkers > 0 { cfg.Workers = fWorkers }
	if fInputDir != "" { cfg.InputDir = fInputDir }
	if fOutputDir != "" { cfg.OutputDir = fOutputDir }
	if fSummaryDir != "" { cfg.SummaryDir = fSummaryDir }
	if fOutputMode != "" { cfg.OutputMode = fOutputMode }
	if fLogLevel != "" { cfg.LogLevel = fLogLevel }
	if fMetrics != "" { cfg.MetricsFile = fMetrics }
	if fDumpGrids { cfg.DumpGrids = true }

	if err := cfg.Validate(); err != nil {
		log.Fatalf("%v\n", err)
	}

	runID := rsm.NewRunID()
	logger := rsm.NewLogger(os.Stdout, cfg.LogLevel, runID)
	logger.Info("rsmcal starting", "workers", cfg.EffectiveWorkers())
	if cfg.Verbosity > 0 {
		log.Printf("Final configuration:-\n\n%s\n", cfg.AsYaml())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	p := rsm.Pipeline{
		Config:  cfg,
		Log:     logger,
		Metrics: rsm.NewMetrics(),
	}
	res, err := p.Run(ctx)
	if err != nil {
		logger.Error("run failed", "err", err, "report", res.Report.String())
		stop()
		os.Exit(1)
	}

	logger.Info("all done", "report", res.Report.String(), "summaries", len(res.Accumulators))
}
