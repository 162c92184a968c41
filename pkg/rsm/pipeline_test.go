package rsm

import (
	"context"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abworrall/rsm-calibrate/pkg/fitsx"
	"github.com/abworrall/rsm-calibrate/pkg/framekey"
)

func rowSum(row []int16) int {
	s := 0
	for _, v := range row {
		s += int(v)
	}
	return s
}

func TestPipelineEndToEnd(t *testing.T) {
	fx := newFixture(t, []int{1, 2, 3}, []int{1, 2, 3, 4})

	m := NewMetrics()
	cfg := fx.withDirs("-e2e")
	cfg.MetricsFile = filepath.Join(fx.root, "rsm.prom")
	p := Pipeline{Config: cfg, Log: discardLogger(), Metrics: m}

	res, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 12, res.Report.Total)
	assert.Equal(t, 12, res.Report.Done)
	assert.Zero(t, res.Report.Skipped+res.Report.Failed)
	assert.Equal(t, []int{1, 2, 3}, res.Calibration.Indexes())

	// Two window files per frame, and HA+FE heights add up to the boundary
	for idx := 1; idx <= 3; idx++ {
		rec, ok := res.Calibration.Lookup(idx)
		require.True(t, ok)
		assert.Equal(t, fxName(idx, 2), rec.Reference)

		for pos := 1; pos <= 4; pos++ {
			k := framekey.FrameKey{Year: "2023", Month: "07", DaySeq: "14T083000", ScanIndex: idx, ScanPosition: pos}
			_, w, hHa, err := fitsx.ReadInt16(filepath.Join(cfg.OutputDir, framekey.CorrectedName(k, framekey.WindowHa)))
			require.NoError(t, err)
			_, _, hFe, err := fitsx.ReadInt16(filepath.Join(cfg.OutputDir, framekey.CorrectedName(k, framekey.WindowFe)))
			require.NoError(t, err)
			assert.Equal(t, fxW, w)
			assert.Equal(t, rec.Boundary.HaEnd, hHa)
			assert.Equal(t, rec.Boundary.FeEnd, hFe)
		}
	}

	// Rows are placed by scan position; the synthetic gain rises with position
	require.Len(t, res.Accumulators, 3)
	for i, acc := range res.Accumulators {
		assert.Equal(t, i+1, acc.ScanIndex)
		assert.Equal(t, 4, acc.Rows)
		assert.Equal(t, fxW, acc.Width)
		for y := 1; y < acc.Rows; y++ {
			assert.Greater(t, rowSum(acc.Row(y)), rowSum(acc.Row(y-1)), "index %d row %d", acc.ScanIndex, y)
		}
		for _, v := range acc.Data {
			assert.GreaterOrEqual(t, v, int16(0))
		}

		data, w, h, err := fitsx.ReadInt16(filepath.Join(cfg.SummaryDir, framekey.SummaryName(acc.ScanIndex, "fts")))
		require.NoError(t, err)
		assert.Equal(t, fxW, w)
		assert.Equal(t, 4, h)
		assert.Equal(t, acc.Data, data)
	}

	prom, err := os.ReadFile(cfg.MetricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(prom), `rsm_frames_total{result="done"} 12`)
	assert.Contains(t, string(prom), "rsm_summaries_written_total 3")
}

func TestPipelinePoolSizeDoesNotChangeOutput(t *testing.T) {
	fx := newFixture(t, []int{1, 2, 3}, []int{1, 2, 3, 4})

	run := func(workers int, suffix string) []*Accumulator {
		cfg := fx.withDirs(suffix)
		cfg.Workers = workers
		p := Pipeline{Config: cfg, Log: discardLogger()}
		res, err := p.Run(context.Background())
		require.NoError(t, err)
		return res.Accumulators
	}

	one := run(1, "-1")
	four := run(4, "-4")

	require.Len(t, one, 3)
	require.Equal(t, len(one), len(four))
	for i := range one {
		assert.Equal(t, *one[i], *four[i])
	}
}

func TestPipelineMissingCalibration(t *testing.T) {
	fx := newFixture(t, []int{1, 2, 3}, []int{1, 2, 3, 4})
	// index 9 has no frame at the standard position
	fx.addRaw(t, 9, 1)
	fx.addRaw(t, 9, 3)

	p := Pipeline{Config: fx.cfg, Log: discardLogger()}
	res, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 14, res.Report.Total)
	assert.Equal(t, 12, res.Report.Done)
	assert.Equal(t, 2, res.Report.Skipped)
	assert.Equal(t, 0, res.Report.Failed)

	entries, err := os.ReadDir(fx.cfg.OutputDir)
	require.NoError(t, err)
	assert.Len(t, entries, 24)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), "_0009_")
	}

	idx := []int{}
	for _, acc := range res.Accumulators {
		idx = append(idx, acc.ScanIndex)
	}
	assert.Equal(t, []int{1, 2, 3}, idx)
}

func TestPipelineBadFramesDoNotStopTheRun(t *testing.T) {
	fx := newFixture(t, []int{1}, []int{1, 2})
	require.NoError(t, os.WriteFile(filepath.Join(fx.cfg.InputDir, "README.txt"), []byte("hello"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(fx.cfg.InputDir, fxName(1, 3)), []byte("not fits"), 0o644))

	p := Pipeline{Config: fx.cfg, Log: discardLogger()}
	res, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 4, res.Report.Total)
	assert.Equal(t, 2, res.Report.Done)
	assert.Equal(t, 2, res.Report.Failed)
	require.Len(t, res.Accumulators, 1)
}

func TestPipelinePNG(t *testing.T) {
	fx := newFixture(t, []int{1}, []int{1, 2, 3, 4})
	cfg := fx.cfg
	cfg.OutputMode = OutputPNG

	p := Pipeline{Config: cfg, Log: discardLogger()}
	_, err := p.Run(context.Background())
	require.NoError(t, err)

	f, err := os.Open(filepath.Join(cfg.SummaryDir, "sum1.png"))
	require.NoError(t, err)
	defer f.Close()
	img, err := png.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, fxW, img.Bounds().Dx())
	assert.Equal(t, 4, img.Bounds().Dy())
}

func TestPipelineSetupErrors(t *testing.T) {
	fx := newFixture(t, []int{1}, []int{1, 2})

	tests := []struct {
		name   string
		modify func(c *Config)
		want   string
	}{
		{"missing dark", func(c *Config) { c.DarkFile = filepath.Join(fx.root, "nope.fits") }, "dark"},
		{"missing flat", func(c *Config) { c.FlatFile = filepath.Join(fx.root, "nope.fits") }, "flat"},
		{"missing standard", func(c *Config) { c.StandardSpectrumFile = filepath.Join(fx.root, "nope.txt") }, "standard spectrum"},
		{"missing input", func(c *Config) { c.InputDir = filepath.Join(fx.root, "nope") }, "input dir"},
		{"empty input", func(c *Config) {
			c.InputDir = filepath.Join(fx.root, "empty")
			require.NoError(t, os.MkdirAll(c.InputDir, 0o755))
		}, "no files"},
		{"bad config", func(c *Config) { c.FilterKernelSize = 4 }, "FilterKernelSize"},
		{"curve too strong", func(c *Config) { c.Curve.C = 5 }, "reference"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := fx.withDirs("-" + strings.ReplaceAll(tt.name, " ", "-"))
			tt.modify(&cfg)
			p := Pipeline{Config: cfg, Log: discardLogger()}
			_, err := p.Run(context.Background())
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrSetup)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
