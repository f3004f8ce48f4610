package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"clinical-occurrences/internal/domain/occurrence"
)

// Metrics agrupa los collectors del núcleo. Un *Metrics nil no mide nada.
type Metrics struct {
	Transitions        *prometheus.CounterVec
	StaleConflicts     *prometheus.CounterVec
	Triage             *prometheus.CounterVec
	ProtocolFallbacks  *prometheus.CounterVec
	ReportsGenerated   prometheus.Counter
	NotificationErrors prometheus.Counter
	SourceLatency      *prometheus.HistogramVec
}

// New registra los collectors en reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "occurrences_transitions_total",
			Help: "Status transitions applied, by origin and destination status",
		}, []string{"from", "to"}),
		StaleConflicts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "occurrences_stale_conflicts_total",
			Help: "Writes rejected by the optimistic concurrency guard",
		}, []string{"op"}),
		Triage: f.NewCounterVec(prometheus.CounterOpts{
			Name: "occurrences_triage_total",
			Help: "Triage classifications recorded, by level",
		}, []string{"level"}),
		ProtocolFallbacks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "occurrences_protocol_fallback_total",
			Help: "Protocols issued through the count-based fallback path",
		}, []string{"tenant"}),
		ReportsGenerated: f.NewCounter(prometheus.CounterOpts{
			Name: "occurrences_reports_generated_total",
			Help: "Report artifacts rendered and stored",
		}),
		NotificationErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "occurrences_notification_failures_total",
			Help: "Completion notifications that could not be delivered",
		}),
		SourceLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "occurrences_source_list_seconds",
			Help:    "Latency of listing one source during aggregation",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),
	}
}

func (m *Metrics) TransitionApplied(from, to occurrence.Status) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(string(from), string(to)).Inc()
}

func (m *Metrics) StaleConflict(op string) {
	if m == nil {
		return
	}
	m.StaleConflicts.WithLabelValues(op).Inc()
}

func (m *Metrics) TriageRecorded(level occurrence.TriageLevel) {
	if m == nil {
		return
	}
	m.Triage.WithLabelValues(string(level)).Inc()
}

func (m *Metrics) ProtocolFallback(tenantID string) {
	if m == nil {
		return
	}
	m.ProtocolFallbacks.WithLabelValues(tenantID).Inc()
}

func (m *Metrics) ReportGenerated() {
	if m == nil {
		return
	}
	m.ReportsGenerated.Inc()
}

func (m *Metrics) NotificationFailed() {
	if m == nil {
		return
	}
	m.NotificationErrors.Inc()
}

func (m *Metrics) ObserveSourceLatency(kind occurrence.SourceKind, d time.Duration) {
	if m == nil {
		return
	}
	m.SourceLatency.WithLabelValues(string(kind)).Observe(d.Seconds())
}
