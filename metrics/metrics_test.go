package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RoundCompleted(1, time.Millisecond)
	m.RoundCompleted(2, time.Millisecond)
	m.RoundFailed("timeout")
	m.AddWords(12)
	m.RecordFitted()
	m.RecordSkipped()
	m.RecordSkipped()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.rounds))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.currentRound))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.roundFailures.WithLabelValues("timeout")))
	assert.Equal(t, 12.0, testutil.ToFloat64(m.words))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.recordsFitted))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.recordsSkipped))

	count, err := testutil.GatherAndCount(reg, "irtrain_rounds_total", "irtrain_round_duration_seconds")
	assert.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RoundCompleted(1, time.Second)
		m.RoundFailed("error")
		m.AddWords(1)
		m.RecordFitted()
		m.RecordSkipped()
	})
}

func TestUnregistered(t *testing.T) {
	m := New(nil)
	m.AddWords(3)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.words))
}
