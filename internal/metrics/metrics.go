package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "mealclarify"

// Path labels distinguish fresh analyses from clarification merges.
const (
	PathFresh         = "fresh"
	PathClarification = "clarification"
)

// Outcome labels for submissions.
const (
	OutcomeResolved           = "resolved"
	OutcomeNeedsClarification = "needs_clarification"
	OutcomeFailed             = "failed"
)

// Metrics exposes Prometheus collectors for clarification activity. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	submissions      *prometheus.CounterVec
	analysisDuration *prometheus.HistogramVec
	cancellations    prometheus.Counter
	reaped           prometheus.Counter
	sweepFailures    prometheus.Counter
}

// MustNewMetrics constructs a Metrics instance using the provided registerer.
// Registration errors panic, surfacing configuration bugs at startup. Tests
// should pass a fresh prometheus.NewRegistry().
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		submissions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "clarify",
				Name:      "submissions_total",
				Help:      "Submissions handled, by path and outcome.",
			},
			[]string{"path", "outcome"},
		),
		analysisDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "clarify",
				Name:      "analysis_duration_seconds",
				Help:      "Time spent waiting on the analysis provider.",
				Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
			},
			[]string{"path"},
		),
		cancellations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "clarify",
			Name:      "cancellations_total",
			Help:      "Pending clarifications removed by an explicit cancel.",
		}),
		reaped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reaper",
			Name:      "expired_total",
			Help:      "Pending clarifications removed by the expiry reaper.",
		}),
		sweepFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reaper",
			Name:      "sweep_failures_total",
			Help:      "Expiry sweeps that returned an error.",
		}),
	}
	reg.MustRegister(m.submissions, m.analysisDuration, m.cancellations, m.reaped, m.sweepFailures)
	return m
}

// MustRegisterPendingGauge registers a gauge that reports the current number
// of pending clarifications by calling count at scrape time.
func MustRegisterPendingGauge(reg prometheus.Registerer, count func() float64) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "clarify",
		Name:      "pending",
		Help:      "Users currently awaiting a clarification.",
	}, count))
}

// ObserveSubmission counts one handled submission.
func (m *Metrics) ObserveSubmission(path, outcome string) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(path, outcome).Inc()
}

// ObserveAnalysis records a provider call duration.
func (m *Metrics) ObserveAnalysis(path string, d time.Duration) {
	if m == nil {
		return
	}
	m.analysisDuration.WithLabelValues(path).Observe(d.Seconds())
}

// IncCancellation counts a cancel that removed a record.
func (m *Metrics) IncCancellation() {
	if m == nil {
		return
	}
	m.cancellations.Inc()
}

// AddReaped counts records removed by a sweep.
func (m *Metrics) AddReaped(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.reaped.Add(float64(n))
}

// IncSweepFailure counts a failed sweep.
func (m *Metrics) IncSweepFailure() {
	if m == nil {
		return
	}
	m.sweepFailures.Inc()
}
