package chat

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "relaychat"

// Metrics holds the chat core's Prometheus collectors. A nil *Metrics records nothing.
type Metrics struct {
	connectionsActive prometheus.Gauge
	sessionsTotal     *prometheus.CounterVec
	messagesReceived  *prometheus.CounterVec
	messagesSent      *prometheus.CounterVec
	deliveryFailures  prometheus.Counter
	decodeErrors      *prometheus.CounterVec
	handlerErrors     *prometheus.CounterVec
	evictions         prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		connectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "connections_active",
			Help:      "Registered chat connections.",
		}),
		sessionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "sessions_total",
			Help:      "Handshakes by outcome.",
		}, []string{"outcome"}),
		messagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "messages_received_total",
			Help:      "Decoded inbound messages by type.",
		}, []string{"type"}),
		messagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "messages_sent_total",
			Help:      "Outbound messages queued by type.",
		}, []string{"type"}),
		deliveryFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "delivery_failures_total",
			Help:      "Outbound messages that could not be queued.",
		}),
		decodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "decode_errors_total",
			Help:      "Inbound frames rejected by the schema registry.",
		}, []string{"kind"}),
		handlerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "handler_errors_total",
			Help:      "Handler failures and recovered panics by type.",
		}, []string{"type"}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "session_evictions_total",
			Help:      "Sessions closed because the same user connected again.",
		}),
	}

	reg.MustRegister(
		m.connectionsActive,
		m.sessionsTotal,
		m.messagesReceived,
		m.messagesSent,
		m.deliveryFailures,
		m.decodeErrors,
		m.handlerErrors,
		m.evictions,
	)

	return m
}

func (m *Metrics) SetConnections(n int) {
	if m != nil {
		m.connectionsActive.Set(float64(n))
	}
}

func (m *Metrics) RecordSession(outcome string) {
	if m != nil {
		m.sessionsTotal.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) RecordMessageReceived(msgType string) {
	if m != nil {
		m.messagesReceived.WithLabelValues(msgType).Inc()
	}
}

func (m *Metrics) RecordMessageSent(msgType string) {
	if m != nil {
		m.messagesSent.WithLabelValues(msgType).Inc()
	}
}

func (m *Metrics) RecordDeliveryFailure() {
	if m != nil {
		m.deliveryFailures.Inc()
	}
}

func (m *Metrics) RecordDecodeError(kind string) {
	if m != nil {
		m.decodeErrors.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) RecordHandlerError(msgType string) {
	if m != nil {
		m.handlerErrors.WithLabelValues(msgType).Inc()
	}
}

func (m *Metrics) RecordEviction() {
	if m != nil {
		m.evictions.Inc()
	}
}
