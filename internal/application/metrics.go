package application

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stoik/email-triage/internal/domain"
)

// Hooks receive triage lifecycle events. Nil fields are skipped.
type Hooks struct {
	OnAnalyzer     func(tool domain.ToolName, status domain.AnalyzerStatus, elapsed time.Duration)
	OnVerdict      func(class domain.Classification, degraded bool, elapsed time.Duration)
	OnPersistError func()
}

func (h Hooks) analyzer(tool domain.ToolName, status domain.AnalyzerStatus, elapsed time.Duration) {
	if h.OnAnalyzer != nil {
		h.OnAnalyzer(tool, status, elapsed)
	}
}

func (h Hooks) verdict(class domain.Classification, degraded bool, elapsed time.Duration) {
	if h.OnVerdict != nil {
		h.OnVerdict(class, degraded, elapsed)
	}
}

func (h Hooks) persistError() {
	if h.OnPersistError != nil {
		h.OnPersistError()
	}
}

// Metrics holds Prometheus metrics for the triage engine.
type Metrics struct {
	TriagesTotal     *prometheus.CounterVec
	TriageDuration   prometheus.Histogram
	AnalyzerRuns     *prometheus.CounterVec
	AnalyzerDuration *prometheus.HistogramVec
	PersistFailures  prometheus.Counter
}

// NewMetrics registers and returns triage metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TriagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "email_triage_verdicts_total",
			Help: "Total verdicts by classification and whether any analyzer degraded.",
		}, []string{"classification", "degraded"}),
		TriageDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "email_triage_duration_seconds",
			Help:    "End-to-end duration of triage runs in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms .. ~8s
		}),
		AnalyzerRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "email_triage_analyzer_runs_total",
			Help: "Analyzer invocations by tool and status.",
		}, []string{"tool", "status"}),
		AnalyzerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "email_triage_analyzer_duration_seconds",
			Help:    "Duration of analyzer invocations in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms .. ~4s
		}, []string{"tool"}),
		PersistFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "email_triage_persist_failures_total",
			Help: "Verdicts that could not be written to the store.",
		}),
	}

	reg.MustRegister(
		m.TriagesTotal,
		m.TriageDuration,
		m.AnalyzerRuns,
		m.AnalyzerDuration,
		m.PersistFailures,
	)

	return m
}

// Hooks returns Hooks that update the corresponding metrics.
func (m *Metrics) Hooks() Hooks {
	return Hooks{
		OnAnalyzer: func(tool domain.ToolName, status domain.AnalyzerStatus, elapsed time.Duration) {
			m.AnalyzerRuns.WithLabelValues(string(tool), string(status)).Inc()
			m.AnalyzerDuration.WithLabelValues(string(tool)).Observe(elapsed.Seconds())
		},
		OnVerdict: func(class domain.Classification, degraded bool, elapsed time.Duration) {
			label := "false"
			if degraded {
				label = "true"
			}
			m.TriagesTotal.WithLabelValues(string(class), label).Inc()
			m.TriageDuration.Observe(elapsed.Seconds())
		},
		OnPersistError: func() {
			m.PersistFailures.Inc()
		},
	}
}
