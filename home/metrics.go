package home

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	callAnswered = "answered"
	callMissed   = "missed"
	callRejected = "rejected"
)

type metrics struct {
	registrations   prometheus.Counter
	logins          prometheus.Counter
	activeSessions  prometheus.Gauge
	eventsDelivered prometheus.Counter
	eventsQueued    prometheus.Counter
	calls           *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		registrations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mercury",
			Subsystem: "home",
			Name:      "registrations_total",
			Help:      "Profiles registered on this home.",
		}),
		logins: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mercury",
			Subsystem: "home",
			Name:      "logins_total",
			Help:      "Successful logins.",
		}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mercury",
			Subsystem: "home",
			Name:      "active_sessions",
			Help:      "Sessions currently active.",
		}),
		eventsDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mercury",
			Subsystem: "home",
			Name:      "events_delivered_total",
			Help:      "Profile events handed to a session event stream.",
		}),
		eventsQueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mercury",
			Subsystem: "home",
			Name:      "events_queued_total",
			Help:      "Profile events queued for a profile without a session.",
		}),
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mercury",
			Subsystem: "home",
			Name:      "calls_total",
			Help:      "Routed calls by outcome.",
		}, []string{"outcome"}),
	}
	if reg != nil {
		reg.MustRegister(m.registrations, m.logins, m.activeSessions, m.eventsDelivered, m.eventsQueued, m.calls)
	}
	return m
}
