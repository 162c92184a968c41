package rsm

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/abworrall/rsm-calibrate/pkg/emath"
	"github.com/abworrall/rsm-calibrate/pkg/fitsx"
	"github.com/abworrall/rsm-calibrate/pkg/framekey"
)

// Synthetic instrument: fxW columns along the slit, fxH rows of spectrum,
// with an Hα line in the top window and an Fe line in the bottom one.
const (
	fxW      = 8
	fxH      = 24
	fxHaRows = 14
)

func fxProfile(y int) float64 {
	ha := float64(y) - 5
	fe := float64(y) - 18
	return 2000 - 800*math.Exp(-ha*ha/2) - 600*math.Exp(-fe*fe/2)
}

func fxGrid(f func(x, y int) float64) emath.FloatGrid {
	g := emath.NewFloatGrid(fxW, fxH)
	for y := 0; y < fxH; y++ {
		for x := 0; x < fxW; x++ {
			g.Set(x, y, f(x, y))
		}
	}
	return g
}

func fxDark() emath.FloatGrid {
	return fxGrid(func(x, y int) float64 { return 100 + float64(x) })
}

func fxFlat() emath.FloatGrid {
	return fxGrid(func(x, y int) float64 { return fxProfile(y) * (1 + 0.02*float64(x)) })
}

func fxRaw(idx, pos int) emath.FloatGrid {
	gain := 1 + 0.1*float64(pos) + 0.01*float64(idx)
	return fxGrid(func(x, y int) float64 {
		return 100 + float64(x) + fxProfile(y)*(1+0.02*float64(x))*gain
	})
}

func fxName(idx, pos int) string {
	return framekey.RawName(framekey.FrameKey{Year: "2023", Month: "07", DaySeq: "14T083000", ScanIndex: idx, ScanPosition: pos})
}

type fixture struct {
	root string
	cfg  Config
}

// newFixture writes dark, flat, standard spectrum and raw frames for
// every index×position into a temp dir, and returns a config for them.
// Position 2 is the standard (reference) position.
func newFixture(t *testing.T, indexes, positions []int) *fixture {
	t.Helper()
	root := t.TempDir()
	in := filepath.Join(root, "in")
	require.NoError(t, os.MkdirAll(in, 0o755))

	cfg := NewConfig()
	cfg.InputDir = in
	cfg.OutputDir = filepath.Join(root, "out")
	cfg.SummaryDir = filepath.Join(root, "sum")
	cfg.DarkFile = filepath.Join(root, "dark.fits")
	cfg.FlatFile = filepath.Join(root, "flat.fits")
	cfg.StandardSpectrumFile = filepath.Join(root, "sunstd.txt")
	cfg.StandardPosition = 2
	cfg.Curve = CurveConfig{X0: 3.5, C: 0.05, HaRows: fxHaRows}
	cfg.MaxFlatOffset = 5
	cfg.SummaryRowIndex = 3
	cfg.SummaryRowCount = 4
	cfg.OutputMode = OutputFITS
	cfg.Workers = 2

	require.NoError(t, writeInt16Frame(cfg.DarkFile, fxDark()))
	require.NoError(t, fitsx.WriteGrid(cfg.FlatFile, fxFlat()))

	var sb strings.Builder
	sb.WriteString("# wavelength intensity\n")
	for i := 0; i < 30; i++ {
		fmt.Fprintf(&sb, "%d %.3f\n", 6550+i, 1+0.01*float64(i))
	}
	require.NoError(t, os.WriteFile(cfg.StandardSpectrumFile, []byte(sb.String()), 0o644))

	fx := &fixture{root: root, cfg: cfg}
	for _, idx := range indexes {
		for _, pos := range positions {
			fx.addRaw(t, idx, pos)
		}
	}
	return fx
}

func (fx *fixture) addRaw(t *testing.T, idx, pos int) {
	t.Helper()
	require.NoError(t, writeInt16Frame(filepath.Join(fx.cfg.InputDir, fxName(idx, pos)), fxRaw(idx, pos)))
}

// writeInt16Frame stores a grid the way the camera does, as BITPIX=16.
func writeInt16Frame(filename string, g emath.FloatGrid) error {
	data := make([]int16, len(g.Values()))
	for i, v := range g.Values() {
		data[i] = int16(math.Round(v))
	}
	return fitsx.WriteInt16(filename, data, g.Dx())
}

// withDirs returns a copy of the config writing into fresh output dirs.
func (fx *fixture) withDirs(suffix string) Config {
	cfg := fx.cfg
	cfg.OutputDir = filepath.Join(fx.root, "out"+suffix)
	cfg.SummaryDir = filepath.Join(fx.root, "sum"+suffix)
	return cfg
}

func (fx *fixture) inputs(t *testing.T) CalibrationInputs {
	t.Helper()
	in, err := loadInputs(fx.cfg, discardLogger())
	require.NoError(t, err)
	return in
}
