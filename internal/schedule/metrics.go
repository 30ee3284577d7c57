package schedule

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes run counters and duration histograms for every
// registered event.
type Metrics struct {
	runs     *prometheus.CounterVec
	skips    *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics builds the engine's Prometheus collectors and registers
// them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cronloop",
			Name:      "runs_total",
			Help:      "Completed event runs by outcome.",
		}, []string{"event", "outcome"}),
		skips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cronloop",
			Name:      "skips_total",
			Help:      "Event runs skipped because the previous run still held its lock.",
		}, []string{"event"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "cronloop",
			Name:      "run_duration_seconds",
			Help:      "Event run duration.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}, []string{"event"}),
	}
	reg.MustRegister(m.runs, m.skips, m.duration)
	return m
}

func (m *Metrics) recordRun(event string, success bool, d time.Duration) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.runs.WithLabelValues(event, outcome).Inc()
	m.duration.WithLabelValues(event).Observe(d.Seconds())
}

func (m *Metrics) recordSkip(event string) {
	m.skips.WithLabelValues(event).Inc()
}
