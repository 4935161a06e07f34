// Package metrics exposes the broker's Prometheus counters and gauges. The
// event loop and delivery engine update these at the same points the
// teacher's server code marked with a stubbed "metrics will be updated
// through imported package" comment, now wired for real.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/codepr/tera-go/internal/mqtt"
)

var (
	// ClientsConnected tracks the number of currently connected clients.
	ClientsConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tera_clients_connected",
		Help: "Number of currently connected clients",
	})

	// PacketsReceived counts inbound control packets by type.
	PacketsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tera_packets_received_total",
			Help: "Total number of control packets received by type",
		},
		[]string{"type"},
	)

	// PacketsSent counts outbound control packets by type.
	PacketsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tera_packets_sent_total",
			Help: "Total number of control packets sent by type",
		},
		[]string{"type"},
	)

	// BytesReceived tracks bytes read from client sockets.
	BytesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tera_bytes_received_total",
		Help: "Total bytes received from clients",
	})

	// BytesSent tracks bytes written to client sockets.
	BytesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tera_bytes_sent_total",
		Help: "Total bytes sent to clients",
	})

	// ConnectionsTotal tracks total accepted connections.
	ConnectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tera_connections_total",
		Help: "Total number of accepted connections",
	})

	// SubscriptionsActive tracks live subscription slots.
	SubscriptionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tera_subscriptions_active",
		Help: "Number of active subscription slots",
	})

	// DeliveriesInflight tracks non-terminal deliveries by negotiated QoS.
	DeliveriesInflight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tera_deliveries_inflight",
			Help: "Number of non-terminal deliveries by QoS",
		},
		[]string{"qos"},
	)

	// DeliveriesExpired counts deliveries that hit the retry ceiling.
	DeliveriesExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tera_deliveries_expired_total",
		Help: "Total deliveries that exhausted their retry attempts",
	})

	// MessageSlotsInUse tracks published-message slot utilization.
	MessageSlotsInUse = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tera_message_slots_in_use",
		Help: "Number of published-message slots currently allocated",
	})
)

// Sink adapts the package-level Prometheus collectors to the narrow
// interface the broker core depends on, so the core never imports
// Prometheus types directly.
type Sink struct{}

func (Sink) ClientConnected() {
	ClientsConnected.Inc()
	ConnectionsTotal.Inc()
}

func (Sink) ClientDisconnected() {
	ClientsConnected.Dec()
}

func (Sink) PacketReceived(t mqtt.PacketType) {
	PacketsReceived.WithLabelValues(t.String()).Inc()
}

func (Sink) PacketSent(t mqtt.PacketType) {
	PacketsSent.WithLabelValues(t.String()).Inc()
}

func (Sink) BytesReceived(n int) {
	BytesReceived.Add(float64(n))
}

func (Sink) BytesSent(n int) {
	BytesSent.Add(float64(n))
}

func (Sink) SubscriptionsActive(n int) {
	SubscriptionsActive.Set(float64(n))
}

func (Sink) DeliveriesInflight(qos mqtt.QoS, n int) {
	DeliveriesInflight.WithLabelValues(strconv.Itoa(int(qos))).Add(float64(n))
}

func (Sink) DeliveryExpired() {
	DeliveriesExpired.Inc()
}

func (Sink) MessageSlotsInUse(n int) {
	MessageSlotsInUse.Set(float64(n))
}
