package rsm

import (
	"fmt"
	"log/slog"
	"time"
)

// RunReport summarizes a dispatch. Done counts frames that were written;
// every listed frame ends up in exactly one of Done, Skipped or Failed.
type RunReport struct {
	Total   int
	Done    int
	Skipped int
	Failed  int
	Elapsed time.Duration
	P50     time.Duration // per-frame latency
	P99     time.Duration
}

func (r RunReport) Completed() int { return r.Done + r.Skipped + r.Failed }

func (r RunReport) String() string {
	return fmt.Sprintf("%d/%d frames (%d done, %d skipped, %d failed) in %s, p50=%s p99=%s",
		r.Completed(), r.Total, r.Done, r.Skipped, r.Failed, r.Elapsed.Round(time.Millisecond), r.P50, r.P99)
}

// An Observer is told about progress by the dispatcher. All calls come
// from the single goroutine that tallies results, so implementations need
// no locking.
type Observer interface {
	Start(total int)
	FrameDone(name string, completed, total int, err error)
	Finish(rep RunReport)
}

// LogObserver logs "<completed>/<total>" as each frame finishes.
type LogObserver struct {
	Log *slog.Logger
}

func (o LogObserver) Start(total int) {
	o.Log.Info("dispatching frames", "total", total)
}

func (o LogObserver) FrameDone(name string, completed, total int, err error) {
	progress := fmt.Sprintf("%d/%d", completed, total)
	if err != nil {
		o.Log.Warn("frame not corrected", "file", name, "progress", progress, "err", err)
		return
	}
	o.Log.Info("frame corrected", "file", name, "progress", progress)
}

func (o LogObserver) Finish(rep RunReport) {
	o.Log.Info("dispatch finished", "report", rep.String())
}

type nopObserver struct{}

func (nopObserver) Start(int)                         {}
func (nopObserver) FrameDone(string, int, int, error) {}
func (nopObserver) Finish(RunReport)                  {}
