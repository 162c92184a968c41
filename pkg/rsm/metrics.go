package rsm

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the counters for one run, on a private registry so they can
// be dumped to a node-exporter textfile at the end. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	reg          *prometheus.Registry
	frames       *prometheus.CounterVec
	frameSeconds prometheus.Histogram
	calibrations prometheus.Gauge
	summaries    prometheus.Counter
	runSeconds   prometheus.Gauge
}

func NewMetrics() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rsm",
			Name:      "frames_total",
			Help:      "Raw frames processed, by result.",
		}, []string{"result"}),
		frameSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "rsm",
			Name:      "frame_seconds",
			Help:      "Time to correct one frame.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		calibrations: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rsm",
			Name:      "calibrated_indexes",
			Help:      "Scan indexes with a calibration record.",
		}),
		summaries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rsm",
			Name:      "summaries_written_total",
			Help:      "Summary images written.",
		}),
		runSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rsm",
			Name:      "dispatch_seconds",
			Help:      "Wall time of the parallel dispatch.",
		}),
	}
	m.reg.MustRegister(m.frames, m.frameSeconds, m.calibrations, m.summaries, m.runSeconds)
	return m
}

const (
	resultDone    = "done"
	resultSkipped = "skipped"
	resultFailed  = "failed"
)

func (m *Metrics) observeFrame(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.frames.WithLabelValues(result).Inc()
	m.frameSeconds.Observe(d.Seconds())
}

func (m *Metrics) setCalibrations(n int) {
	if m == nil {
		return
	}
	m.calibrations.Set(float64(n))
}

func (m *Metrics) summaryWritten() {
	if m == nil {
		return
	}
	m.summaries.Inc()
}

func (m *Metrics) setRun(d time.Duration) {
	if m == nil {
		return
	}
	m.runSeconds.Set(d.Seconds())
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// WriteTextfile writes the metrics in the text exposition format.
func (m *Metrics) WriteTextfile(filename string) error {
	if m == nil {
		return nil
	}
	return prometheus.WriteToTextfile(filename, m.reg)
}
