// Package metrics exposes prometheus collectors for the session, the
// transport client and the broker.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "notify_realtime"

// Collector groups every counter the module records. A nil *Collector is
// valid and records nothing, so components can take one optionally.
type Collector struct {
	connectionBuilds prometheus.Counter
	connectionReuses prometheus.Counter
	subscriptions    *prometheus.CounterVec
	stateTransitions *prometheus.CounterVec
	brokerSockets    prometheus.Gauge
	brokerPublished  *prometheus.CounterVec
	authRequests     *prometheus.CounterVec
	ingestedMessages *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Collector {
	c := &Collector{
		connectionBuilds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "connection_builds_total",
			Help:      "Transport connections built by the session manager.",
		}),
		connectionReuses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "connection_reuses_total",
			Help:      "Calls that reused the live connection for an unchanged auth context.",
		}),
		subscriptions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "subscriptions_total",
			Help:      "Private channel subscription outcomes.",
		}, []string{"result"}),
		stateTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "state_transitions_total",
			Help:      "Transport connection state transitions by target state.",
		}, []string{"state"}),
		brokerSockets: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      "sockets",
			Help:      "Currently connected broker sockets.",
		}),
		brokerPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      "published_events_total",
			Help:      "Events delivered to local sockets.",
		}, []string{"event"}),
		authRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "requests_total",
			Help:      "Channel authorization requests by HTTP status.",
		}, []string{"status"}),
		ingestedMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "messages_total",
			Help:      "Kafka notification messages by outcome.",
		}, []string{"result"}),
	}

	if reg != nil {
		reg.MustRegister(
			c.connectionBuilds,
			c.connectionReuses,
			c.subscriptions,
			c.stateTransitions,
			c.brokerSockets,
			c.brokerPublished,
			c.authRequests,
			c.ingestedMessages,
		)
	}
	return c
}

func (c *Collector) ConnectionBuilt() {
	if c == nil {
		return
	}
	c.connectionBuilds.Inc()
}

func (c *Collector) ConnectionReused() {
	if c == nil {
		return
	}
	c.connectionReuses.Inc()
}

// Subscription records a subscription outcome: "succeeded" and "error" on
// the client side, "rejected" when the broker refuses a signature.
func (c *Collector) Subscription(result string) {
	if c == nil {
		return
	}
	c.subscriptions.WithLabelValues(result).Inc()
}

func (c *Collector) StateTransition(state string) {
	if c == nil {
		return
	}
	c.stateTransitions.WithLabelValues(state).Inc()
}

func (c *Collector) SocketOpened() {
	if c == nil {
		return
	}
	c.brokerSockets.Inc()
}

func (c *Collector) SocketClosed() {
	if c == nil {
		return
	}
	c.brokerSockets.Dec()
}

func (c *Collector) Published(event string, deliveries int) {
	if c == nil {
		return
	}
	c.brokerPublished.WithLabelValues(event).Add(float64(deliveries))
}

func (c *Collector) AuthRequest(status string) {
	if c == nil {
		return
	}
	c.authRequests.WithLabelValues(status).Inc()
}

func (c *Collector) Ingested(result string) {
	if c == nil {
		return
	}
	c.ingestedMessages.WithLabelValues(result).Inc()
}
