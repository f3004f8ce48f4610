package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clinical-occurrences/internal/domain/occurrence"
)

func TestMetrics_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.TransitionApplied(occurrence.StatusUnderReview, occurrence.StatusCompleted)
	m.TransitionApplied(occurrence.StatusUnderReview, occurrence.StatusCompleted)
	m.StaleConflict("transition")
	m.TriageRecorded(occurrence.TriageNearMiss)
	m.ProtocolFallback("t1")
	m.ReportGenerated()
	m.NotificationFailed()
	m.ObserveSourceLatency(occurrence.KindReview, 20*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Transitions.WithLabelValues("under_review", "completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StaleConflicts.WithLabelValues("transition")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ProtocolFallbacks.WithLabelValues("t1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ReportsGenerated))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NotificationErrors))

	n, err := testutil.GatherAndCount(reg, "occurrences_source_list_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.TransitionApplied(occurrence.StatusRegistered, occurrence.StatusTriaging)
		m.StaleConflict("x")
		m.TriageRecorded(occurrence.TriageNearMiss)
		m.ProtocolFallback("t")
		m.ReportGenerated()
		m.NotificationFailed()
		m.ObserveSourceLatency(occurrence.KindGeneric, time.Second)
	})
}
