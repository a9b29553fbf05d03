// Package metrics exposes prometheus collectors for
// training runs.
//
// Every method is safe to call on a nil *Metrics, so
// components can be used without a registry.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "irtrain"

// Metrics holds the collectors for one registry.
type Metrics struct {
	rounds         prometheus.Counter
	roundFailures  *prometheus.CounterVec
	roundDuration  prometheus.Histogram
	currentRound   prometheus.Gauge
	words          prometheus.Counter
	recordsFitted  prometheus.Counter
	recordsSkipped prometheus.Counter
}

// New creates the collectors and registers them with reg.
//
// If reg is nil, the collectors are created but never
// registered.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		rounds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rounds_total",
			Help:      "Completed reduce rounds.",
		}),
		roundFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "round_failures_total",
			Help:      "Aborted reduce rounds by reason.",
		}, []string{"reason"}),
		roundDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "round_duration_seconds",
			Help:      "Wall time of completed reduce rounds.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
		currentRound: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "current_round",
			Help:      "Number of rounds completed in the current run.",
		}),
		words: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "words_trained_total",
			Help:      "Words fed through the skip-gram kernel.",
		}),
		recordsFitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_fitted_total",
			Help:      "Records used for a training step.",
		}),
		recordsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_skipped_total",
			Help:      "Records dropped because they could not be read or fit.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.rounds, m.roundFailures, m.roundDuration, m.currentRound,
			m.words, m.recordsFitted, m.recordsSkipped)
	}
	return m
}

// RoundCompleted records a finished round.
// The round argument is the new completed-round count.
func (m *Metrics) RoundCompleted(round int, d time.Duration) {
	if m == nil {
		return
	}
	m.rounds.Inc()
	m.roundDuration.Observe(d.Seconds())
	m.currentRound.Set(float64(round))
}

// RoundFailed records an aborted round.
func (m *Metrics) RoundFailed(reason string) {
	if m == nil {
		return
	}
	m.roundFailures.WithLabelValues(reason).Inc()
}

// AddWords counts trained words.
func (m *Metrics) AddWords(n int) {
	if m == nil {
		return
	}
	m.words.Add(float64(n))
}

// RecordFitted counts one fitted record.
func (m *Metrics) RecordFitted() {
	if m == nil {
		return
	}
	m.recordsFitted.Inc()
}

// RecordSkipped counts one skipped record.
func (m *Metrics) RecordSkipped() {
	if m == nil {
		return
	}
	m.recordsSkipped.Inc()
}
