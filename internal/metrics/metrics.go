// Package metrics exposes the service's prometheus collectors. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	SweepsTotal        *prometheus.CounterVec
	SweepDuration      prometheus.Histogram
	TicketsScanned     prometheus.Counter
	OverdueTickets     prometheus.Gauge
	WarningsSent       *prometheus.CounterVec
	WarningsSuppressed prometheus.Counter
	Notifications      *prometheus.CounterVec
	Transitions        *prometheus.CounterVec
	RosterChanges      *prometheus.CounterVec
}

// New creates the collectors and registers them with reg, which may be nil.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SweepsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fieldops_sla_sweeps_total",
			Help: "SLA sweeps by outcome.",
		}, []string{"result"}),
		SweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fieldops_sla_sweep_duration_seconds",
			Help:    "Wall time of completed SLA sweeps.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		TicketsScanned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fieldops_sla_tickets_scanned_total",
			Help: "Tickets evaluated by SLA sweeps.",
		}),
		OverdueTickets: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fieldops_sla_overdue_tickets",
			Help: "Overdue tickets seen by the last completed sweep.",
		}),
		WarningsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fieldops_sla_warnings_sent_total",
			Help: "SLA warnings dispatched and recorded, by priority.",
		}, []string{"priority"}),
		WarningsSuppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fieldops_sla_warnings_suppressed_total",
			Help: "SLA warnings skipped because one was sent inside the cool-down.",
		}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fieldops_notifications_total",
			Help: "Notification hand-offs by event kind and outcome.",
		}, []string{"event_kind", "status"}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fieldops_ticket_transitions_total",
			Help: "Applied ticket status transitions.",
		}, []string{"from", "to"}),
		RosterChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fieldops_roster_changes_total",
			Help: "Committed roster mutations by operation.",
		}, []string{"operation"}),
	}

	if reg == nil {
		return m
	}

	for _, c := range []prometheus.Collector{
		m.SweepsTotal, m.SweepDuration, m.TicketsScanned, m.OverdueTickets,
		m.WarningsSent, m.WarningsSuppressed, m.Notifications, m.Transitions, m.RosterChanges,
	} {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				panic(err)
			}
		}
	}
	return m
}

func (m *Metrics) SweepCompleted(d time.Duration, scanned, overdue int) {
	if m == nil {
		return
	}
	m.SweepsTotal.WithLabelValues("completed").Inc()
	m.SweepDuration.Observe(d.Seconds())
	m.TicketsScanned.Add(float64(scanned))
	m.OverdueTickets.Set(float64(overdue))
}

func (m *Metrics) SweepSkipped() {
	if m == nil {
		return
	}
	m.SweepsTotal.WithLabelValues("skipped").Inc()
}

func (m *Metrics) SweepFailed() {
	if m == nil {
		return
	}
	m.SweepsTotal.WithLabelValues("failed").Inc()
}

func (m *Metrics) WarningSent(priority string) {
	if m == nil {
		return
	}
	m.WarningsSent.WithLabelValues(priority).Inc()
}

func (m *Metrics) WarningSuppressed() {
	if m == nil {
		return
	}
	m.WarningsSuppressed.Inc()
}

func (m *Metrics) Notification(eventKind, status string) {
	if m == nil {
		return
	}
	m.Notifications.WithLabelValues(eventKind, status).Inc()
}

func (m *Metrics) Transition(from, to string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) RosterChanged(operation string) {
	if m == nil {
		return
	}
	m.RosterChanges.WithLabelValues(operation).Inc()
}
