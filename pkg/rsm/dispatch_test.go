package rsm

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder is an Observer that keeps everything it's told. The dispatcher
// calls it from one goroutine, so no locking.
type recorder struct {
	started   int
	completed []int
	names     map[string]bool
	final     RunReport
}

func (r *recorder) Start(total int) { r.started = total; r.names = map[string]bool{} }
func (r *recorder) FrameDone(name string, completed, total int, err error) {
	r.completed = append(r.completed, completed)
	r.names[name] = true
}
func (r *recorder) Finish(rep RunReport) { r.final = rep }

func frameNames(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("frame-%03d", i)
	}
	return out
}

func TestDispatcherProgress(t *testing.T) {
	const n = 60
	var inflight, maxInflight int32

	fn := func(ctx context.Context, name string) error {
		cur := atomic.AddInt32(&inflight, 1)
		for {
			old := atomic.LoadInt32(&maxInflight)
			if cur <= old || atomic.CompareAndSwapInt32(&maxInflight, old, cur) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		atomic.AddInt32(&inflight, -1)

		var i int
		fmt.Sscanf(name, "frame-%d", &i)
		switch {
		case i%10 == 3:
			return fmt.Errorf("%w 3", ErrNoCalibration)
		case i%10 == 7:
			return fmt.Errorf("%w: boom", ErrDecode)
		}
		return nil
	}

	rec := &recorder{}
	m := NewMetrics()
	d := Dispatcher{Workers: 4, Observer: rec, Metrics: m}
	rep, err := d.Run(context.Background(), frameNames(n), fn)
	require.NoError(t, err)

	assert.Equal(t, n, rec.started)
	assert.Len(t, rec.names, n)
	sorted := append([]int(nil), rec.completed...)
	sort.Ints(sorted)
	for i, c := range sorted {
		assert.Equal(t, i+1, c)
	}
	// tallied by one goroutine, so it already arrives in order
	assert.Equal(t, sorted, rec.completed)

	assert.Equal(t, n, rep.Total)
	assert.Equal(t, 48, rep.Done)
	assert.Equal(t, 6, rep.Skipped)
	assert.Equal(t, 6, rep.Failed)
	assert.Equal(t, rep, rec.final)
	assert.Positive(t, rep.P50)
	assert.GreaterOrEqual(t, rep.P99, rep.P50)
	assert.LessOrEqual(t, atomic.LoadInt32(&maxInflight), int32(4))

	mfs, err := m.Registry().Gather()
	require.NoError(t, err)
	got := map[string]float64{}
	for _, mf := range mfs {
		if mf.GetName() != "rsm_frames_total" {
			continue
		}
		for _, metric := range mf.GetMetric() {
			got[metric.GetLabel()[0].GetValue()] = metric.GetCounter().GetValue()
		}
	}
	assert.Equal(t, map[string]float64{"done": 48, "skipped": 6, "failed": 6}, got)
}

func TestDispatcherCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls int32
	fn := func(ctx context.Context, name string) error {
		if atomic.AddInt32(&calls, 1) == 2 {
			cancel()
		}
		return nil
	}

	d := Dispatcher{Workers: 1}
	rep, err := d.Run(ctx, frameNames(100), fn)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, rep.Completed(), rep.Total)
	assert.Equal(t, int(atomic.LoadInt32(&calls)), rep.Completed())
}

func TestDispatcherEmpty(t *testing.T) {
	d := Dispatcher{Workers: 3}
	rep, err := d.Run(context.Background(), nil, func(context.Context, string) error {
		return errors.New("never called")
	})
	require.NoError(t, err)
	assert.Zero(t, rep.Total)
	assert.Zero(t, rep.Completed())
}
