package rsm

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/codahale/hdrhistogram"
)

// A FrameFunc processes one frame; Corrector.CorrectFrame is the real one.
type FrameFunc func(ctx context.Context, name string) error

// A Dispatcher runs a FrameFunc over a list of frames with a fixed pool of
// goroutines. Results are tallied by the one goroutine that called Run.
type Dispatcher struct {
	Workers  int
	Observer Observer
	Metrics  *Metrics
	Log      *slog.Logger
}

type frameResult struct {
	name    string
	err     error
	elapsed time.Duration
}

// Run blocks until every frame has been processed, or ctx is cancelled;
// on cancellation frames that are already running finish, no new ones are
// started, and ctx's error is returned along with the partial report.
func (d *Dispatcher) Run(ctx context.Context, names []string, fn FrameFunc) (RunReport, error) {
	obs := d.Observer
	if obs == nil {
		obs = nopObserver{}
	}
	log := d.Log
	if log == nil {
		log = discardLogger()
	}
	nWorkers := d.Workers
	if nWorkers < 1 {
		nWorkers = 1
	}

	start := time.Now()
	var wg sync.WaitGroup
	jobsChan := make(chan string)
	resultsChan := make(chan frameResult, nWorkers)

	// Kick off worker pool
	for i := 0; i < nWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for name := range jobsChan {
				t := time.Now()
				err := fn(ctx, name)
				resultsChan <- frameResult{name: name, err: err, elapsed: time.Since(t)}
			}
		}()
	}

	// Feed in jobs
	go func() {
		defer close(jobsChan)
		for _, name := range names {
			select {
			case <-ctx.Done():
				return
			case jobsChan <- name:
			}
		}
	}()

	go func() {
		wg.Wait()
		close(resultsChan)
	}()

	// Results processor
	rep := RunReport{Total: len(names)}
	hist := hdrhistogram.New(1, int64(time.Hour/time.Microsecond), 3)
	obs.Start(rep.Total)

	for res := range resultsChan {
		result := resultDone
		switch {
		case res.err == nil:
			rep.Done++
		case errors.Is(res.err, ErrNoCalibration):
			rep.Skipped++
			result = resultSkipped
		default:
			rep.Failed++
			result = resultFailed
		}

		if us := res.elapsed.Microseconds(); us > 0 {
			hist.RecordValue(us)
		} else {
			hist.RecordValue(1)
		}
		d.Metrics.observeFrame(result, res.elapsed)
		obs.FrameDone(res.name, rep.Completed(), rep.Total, res.err)
	}

	rep.Elapsed = time.Since(start)
	rep.P50 = time.Duration(hist.ValueAtQuantile(50)) * time.Microsecond
	rep.P99 = time.Duration(hist.ValueAtQuantile(99)) * time.Microsecond
	d.Metrics.setRun(rep.Elapsed)
	obs.Finish(rep)

	if err := ctx.Err(); err != nil {
		log.Warn("dispatch cancelled", "completed", rep.Completed(), "total", rep.Total)
		return rep, err
	}
	return rep, nil
}
