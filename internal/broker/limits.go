// Package broker implements the single-threaded MQTT broker engine: the
// slot-table memory model, the publish/subscribe fan-out path, the QoS 1/2
// delivery state machine, and the event loop that drives all of it.
package broker

import "time"

// Capacity constants for the fixed-size slot tables, mirroring
// original_source/tera_internal.h.
const (
	MaxConnections        = 1024
	MaxSubscriptions      = 8192
	MaxPublishedMessages  = 1024
	MaxDeliveries         = 8 * MaxPublishedMessages
	MaxSubscriptionIDsCap = 8
)

// Retransmission timing, mirroring original_source/tera_internal.h.
const (
	RetransmissionCheckInterval = 5000 * time.Millisecond
	MaxRetryAttempts            = 5
	RetryTimeout                = 20000 * time.Millisecond
)

// sentinel marks an absent integer index; fields that reference slot
// tables use it in place of a pointer.
const sentinel = -1
