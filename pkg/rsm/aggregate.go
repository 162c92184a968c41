package rsm

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/montanaflynn/stats"

	"github.com/abworrall/rsm-calibrate/pkg/fitsx"
	"github.com/abworrall/rsm-calibrate/pkg/framekey"
)

// An Accumulator is the summary image for one scan index: row pos-1 is the
// summary row from the HA window of the frame at scan position pos.
type Accumulator struct {
	ScanIndex int
	Rows      int
	Width     int
	Data      []int16
}

func newAccumulator(scanIndex, rows, width int) *Accumulator {
	return &Accumulator{ScanIndex: scanIndex, Rows: rows, Width: width, Data: make([]int16, rows*width)}
}

func (a *Accumulator) Row(y int) []int16 { return a.Data[y*a.Width : (y+1)*a.Width] }

// ClipNegative sets every negative value to zero.
func (a *Accumulator) ClipNegative() {
	for i, v := range a.Data {
		if v < 0 {
			a.Data[i] = 0
		}
	}
}

func (a *Accumulator) String() string {
	vals := make(stats.Float64Data, len(a.Data))
	for i, v := range a.Data {
		vals[i] = float64(v)
	}
	mean, _ := stats.Mean(vals)
	peak, _ := stats.Max(vals)
	return fmt.Sprintf("sum[%d: %dx%d, mean=%.1f max=%.0f]", a.ScanIndex, a.Width, a.Rows, mean, peak)
}

// An Aggregator rebuilds the per-index summary images from the HA window
// files in Dir.
type Aggregator struct {
	Dir      string
	RowIndex int // row of each HA window to take
	RowCount int // rows in each accumulator, i.e. the highest scan position
	Log      *slog.Logger
}

// Run reads Dir in filename order, so when two files share a scan index
// and position the later name wins. Files that don't fit (wrong width,
// position out of range, too few rows, unreadable) are logged and skipped.
// The accumulators are returned in scan index order, with negative values
// clipped.
func (ag Aggregator) Run() ([]*Accumulator, error) {
	log := ag.Log
	if log == nil {
		log = discardLogger()
	}

	entries, err := os.ReadDir(ag.Dir)
	if err != nil {
		return nil, fmt.Errorf("aggregate: %w", err)
	}

	accs := map[int]*Accumulator{}
	width := 0
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		k, w, err := framekey.ParseCorrected(e.Name())
		if err != nil || w != framekey.WindowHa {
			continue
		}

		data, dx, dy, err := fitsx.ReadInt16(filepath.Join(ag.Dir, e.Name()))
		if err != nil {
			log.Warn("aggregate: unreadable HA file", "file", e.Name(), "err", err)
			continue
		}
		if width == 0 {
			width = dx
		}

		switch {
		case dx != width:
			log.Warn("aggregate: width mismatch", "file", e.Name(), "width", dx, "want", width)
			continue
		case k.ScanPosition < 1 || k.ScanPosition > ag.RowCount:
			log.Warn("aggregate: scan position out of range", "file", e.Name(), "position", k.ScanPosition, "rows", ag.RowCount)
			continue
		case ag.RowIndex >= dy:
			log.Warn("aggregate: HA window too short", "file", e.Name(), "rows", dy, "row_index", ag.RowIndex)
			continue
		}

		acc, exists := accs[k.ScanIndex]
		if !exists {
			acc = newAccumulator(k.ScanIndex, ag.RowCount, width)
			accs[k.ScanIndex] = acc
		}
		copy(acc.Row(k.ScanPosition-1), data[ag.RowIndex*dx:(ag.RowIndex+1)*dx])
	}

	out := make([]*Accumulator, 0, len(accs))
	for _, acc := range accs {
		acc.ClipNegative()
		out = append(out, acc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScanIndex < out[j].ScanIndex })

	for _, acc := range out {
		log.Info("aggregated", "summary", acc.String())
	}
	return out, nil
}
