// Package metrics exposes Prometheus collectors for the realtime core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics methods are safe on a nil receiver so components can run without them.
type Metrics struct {
	OnlineSessions      prometheus.Gauge
	MessagesPersisted   prometheus.Counter
	SendsRejected       *prometheus.CounterVec
	SendsFailed         prometheus.Counter
	DeliveryFailures    prometheus.Counter
	PresenceTransitions *prometheus.CounterVec
	SessionsReplaced    prometheus.Counter
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		OnlineSessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "groupchat_online_sessions",
			Help: "Current number of registered websocket sessions",
		}),
		MessagesPersisted: f.NewCounter(prometheus.CounterOpts{
			Name: "groupchat_messages_persisted_total",
			Help: "Messages assigned a sequence id and committed",
		}),
		SendsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "groupchat_sends_rejected_total",
			Help: "Inbound sends dropped during validation",
		}, []string{"reason"}),
		SendsFailed: f.NewCounter(prometheus.CounterOpts{
			Name: "groupchat_sends_failed_total",
			Help: "Sends that failed during allocation or persistence",
		}),
		DeliveryFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "groupchat_delivery_failures_total",
			Help: "Per-recipient live delivery failures during fan-out",
		}),
		PresenceTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "groupchat_presence_transitions_total",
			Help: "Settled presence transitions",
		}, []string{"state"}),
		SessionsReplaced: f.NewCounter(prometheus.CounterOpts{
			Name: "groupchat_sessions_replaced_total",
			Help: "Sessions evicted by a newer connection of the same user",
		}),
	}
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.OnlineSessions.Inc()
}

func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.OnlineSessions.Dec()
}

func (m *Metrics) SessionReplaced() {
	if m == nil {
		return
	}
	m.SessionsReplaced.Inc()
}

func (m *Metrics) MessagePersisted() {
	if m == nil {
		return
	}
	m.MessagesPersisted.Inc()
}

func (m *Metrics) SendRejected(reason string) {
	if m == nil {
		return
	}
	m.SendsRejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) SendFailed() {
	if m == nil {
		return
	}
	m.SendsFailed.Inc()
}

func (m *Metrics) DeliveryFailed() {
	if m == nil {
		return
	}
	m.DeliveryFailures.Inc()
}

func (m *Metrics) PresenceChanged(online bool) {
	if m == nil {
		return
	}
	state := "offline"
	if online {
		state = "online"
	}
	m.PresenceTransitions.WithLabelValues(state).Inc()
}
