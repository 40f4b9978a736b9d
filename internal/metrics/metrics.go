package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Packshot pipeline metrics
var (
	// Provider attempts, one per chain step
	ProviderAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "packshot",
			Subsystem: "generator",
			Name:      "provider_attempts_total",
			Help:      "Background generation attempts per provider",
		},
		[]string{"provider", "model", "outcome"},
	)

	ProviderDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "packshot",
			Subsystem: "generator",
			Name:      "provider_duration_seconds",
			Help:      "Provider call duration in seconds",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"provider", "model"},
	)

	// Analysis outcomes
	AnalysesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "packshot",
			Subsystem: "analyzer",
			Name:      "analyses_total",
			Help:      "Vision analyses by outcome",
		},
		[]string{"outcome"},
	)

	CompositesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "packshot",
			Subsystem: "compositor",
			Name:      "composites_total",
			Help:      "Composite renders by outcome",
		},
		[]string{"format", "outcome"},
	)

	CompositeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "packshot",
			Subsystem: "compositor",
			Name:      "composite_duration_seconds",
			Help:      "Composite render duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
	)

	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "packshot",
			Subsystem: "bot",
			Name:      "active_sessions",
			Help:      "Sessions currently held in memory",
		},
	)
)

// RecordProviderAttempt records one chain step
func RecordProviderAttempt(provider, model, outcome string, durationSec float64) {
	ProviderAttemptsTotal.WithLabelValues(provider, model, outcome).Inc()
	if outcome != "skipped" {
		ProviderDuration.WithLabelValues(provider, model).Observe(durationSec)
	}
}

// RecordAnalysis records an analysis outcome
func RecordAnalysis(outcome string) {
	AnalysesTotal.WithLabelValues(outcome).Inc()
}

// RecordComposite records a composite render
func RecordComposite(format, outcome string, durationSec float64) {
	CompositesTotal.WithLabelValues(format, outcome).Inc()
	if outcome == "success" {
		CompositeDuration.Observe(durationSec)
	}
}

func SetActiveSessions(n int) {
	ActiveSessions.Set(float64(n))
}
