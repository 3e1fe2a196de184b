package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the session lifecycle counters. A nil *Metrics is valid and records nothing.
type Metrics struct {
	restores        *prometheus.CounterVec
	renewals        *prometheus.CounterVec
	logins          *prometheus.CounterVec
	schedulerArmed  prometheus.Gauge
	persistFailures prometheus.Counter
}

// NewMetrics registers the session metrics on reg. A nil reg creates unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		restores: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ticketline",
			Subsystem: "session",
			Name:      "restores_total",
			Help:      "Startup restoration attempts by result.",
		}, []string{"result"}),
		renewals: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ticketline",
			Subsystem: "session",
			Name:      "renewals_total",
			Help:      "Access-token renewals by trigger and result.",
		}, []string{"trigger", "result"}),
		logins: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ticketline",
			Subsystem: "session",
			Name:      "logins_total",
			Help:      "Interactive logins by result.",
		}, []string{"result"}),
		schedulerArmed: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "ticketline",
			Subsystem: "session",
			Name:      "refresh_timer_armed",
			Help:      "1 while a renewal timer is pending.",
		}),
		persistFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: "ticketline",
			Subsystem: "store",
			Name:      "persist_failures_total",
			Help:      "Failed writes of the persisted auth snapshot.",
		}),
	}
}

func (m *Metrics) restore(result string) {
	if m == nil {
		return
	}
	m.restores.WithLabelValues(result).Inc()
}

func (m *Metrics) renewal(trigger, result string) {
	if m == nil {
		return
	}
	m.renewals.WithLabelValues(trigger, result).Inc()
}

func (m *Metrics) login(result string) {
	if m == nil {
		return
	}
	m.logins.WithLabelValues(result).Inc()
}

func (m *Metrics) armed(on bool) {
	if m == nil {
		return
	}
	if on {
		m.schedulerArmed.Set(1)
		return
	}
	m.schedulerArmed.Set(0)
}

// PersistFailed counts a failed snapshot write; wire it to state.WithPersistErrorHook.
func (m *Metrics) PersistFailed(error) {
	if m == nil {
		return
	}
	m.persistFailures.Inc()
}
