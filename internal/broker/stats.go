package broker

import (
	"time"

	"github.com/codepr/tera-go/internal/snapshot"
)

// Snapshot samples the broker's current slot-table occupancy for the
// diagnostics writer. It walks the slot tables directly rather than
// through the metricsSink interface, since a snapshot is wanted even when
// Prometheus metrics are disabled.
func (c *Context) Snapshot() snapshot.Stats {
	clientsConnected := 0
	for i := range c.clients {
		if c.clients[i].active {
			clientsConnected++
		}
	}

	deliveriesInflight := 0
	for i := range c.deliveries {
		if c.deliveries[i].active {
			deliveriesInflight++
		}
	}

	return snapshot.Stats{
		TimestampMs:         time.Now().UnixMilli(),
		ClientsConnected:    clientsConnected,
		SubscriptionsActive: c.activeSubscriptionCount(),
		MessageSlotsInUse:   c.activeMessageCount(),
		DeliveriesInflight:  deliveriesInflight,
		DeliveriesExpired:   c.expiredTotal,
	}
}
