// Package metrics exposes Prometheus instruments for registration outcomes,
// notification delivery and roster reconciliation.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var latencyBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1}

// Metrics groups every instrument the service records. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	Registrations       *prometheus.CounterVec
	Cancellations       *prometheus.CounterVec
	GuardedDuration     *prometheus.HistogramVec
	NotificationsSent   *prometheus.CounterVec
	NotificationsFailed *prometheus.CounterVec
	NotificationsDrop   prometheus.Counter
	RosterDrift         prometheus.Gauge
}

// New registers all instruments with reg. Pass prometheus.NewRegistry() in
// tests to avoid duplicate registration against the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Registrations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "clubreg_registrations_total",
			Help: "Registration attempts by outcome (ok or error kind)",
		}, []string{"kind", "outcome"}),
		Cancellations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "clubreg_cancellations_total",
			Help: "Cancellation attempts by outcome (ok or error kind)",
		}, []string{"outcome"}),
		GuardedDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "clubreg_guarded_section_duration_seconds",
			Help:    "Time spent inside the store's per-entity critical section",
			Buckets: latencyBuckets,
		}, []string{"operation"}),
		NotificationsSent: f.NewCounterVec(prometheus.CounterOpts{
			Name: "clubreg_notifications_sent_total",
			Help: "Notifications delivered by sink",
		}, []string{"sink"}),
		NotificationsFailed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "clubreg_notifications_failed_total",
			Help: "Notifications abandoned after exhausting retries, by sink",
		}, []string{"sink"}),
		NotificationsDrop: f.NewCounter(prometheus.CounterOpts{
			Name: "clubreg_notifications_dropped_total",
			Help: "Notifications dropped because the queue was full or closed",
		}),
		RosterDrift: f.NewGauge(prometheus.GaugeOpts{
			Name: "clubreg_roster_drift_entities",
			Help: "Entities whose roster disagreed with the ledger at the last reconciliation",
		}),
	}
}

// ObserveRegistration records one registration attempt. outcome is "ok" or
// an error kind.
func (m *Metrics) ObserveRegistration(kind, outcome string) {
	if m == nil {
		return
	}
	m.Registrations.WithLabelValues(kind, outcome).Inc()
}

// ObserveCancellation records one cancellation attempt.
func (m *Metrics) ObserveCancellation(outcome string) {
	if m == nil {
		return
	}
	m.Cancellations.WithLabelValues(outcome).Inc()
}

// ObserveGuarded records the duration of a guarded store operation.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveGuarded(operation string, start time.Time) {
	if m == nil {
		return
	}
	m.GuardedDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

func (m *Metrics) NotificationSent(sink string) {
	if m == nil {
		return
	}
	m.NotificationsSent.WithLabelValues(sink).Inc()
}

func (m *Metrics) NotificationFailed(sink string) {
	if m == nil {
		return
	}
	m.NotificationsFailed.WithLabelValues(sink).Inc()
}

func (m *Metrics) NotificationDropped() {
	if m == nil {
		return
	}
	m.NotificationsDrop.Inc()
}

// SetRosterDrift records how many entities drifted in the last run.
func (m *Metrics) SetRosterDrift(n int) {
	if m == nil {
		return
	}
	m.RosterDrift.Set(float64(n))
}
