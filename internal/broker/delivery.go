package broker

import (
	"time"

	"github.com/codepr/tera-go/internal/mqtt"
)

// DeliveryState is a MessageDelivery's position in the QoS state machine
// described in spec.md §4.7.
type DeliveryState uint8

const (
	PendingSend DeliveryState = iota
	AwaitingPuback
	AwaitingPubrec
	AwaitingPubrel
	AwaitingPubcomp
	Acknowledged
	Expired
)

// MessageDelivery is one outbound (or, for inbound qos=2, one pending-ack)
// obligation sourced from a PublishedMessage.
type MessageDelivery struct {
	active bool

	messageIdx int
	clientIdx  int
	mid        uint16
	qos        mqtt.QoS
	state      DeliveryState

	lastSentAt  time.Time
	nextRetryAt time.Time
	retryCount  int

	nextFree int
}

const (
	deliveryTableSize = 16384
	deliveryBucketCap = 4
	knuthMultiplier   = 2654435761
)

// deliveryIndex is the secondary (client_id, mid) → delivery-slot lookup
// table: a fixed-size bucketed hash keyed by a Knuth-multiplier mix of
// (client_id << 16 | mid), per spec.md §4.6.
type deliveryIndex struct {
	buckets [deliveryTableSize][deliveryBucketCap]int
	counts  [deliveryTableSize]int
}

func newDeliveryIndex() *deliveryIndex {
	idx := &deliveryIndex{}
	for b := 0; b < deliveryTableSize; b++ {
		for s := 0; s < deliveryBucketCap; s++ {
			idx.buckets[b][s] = sentinel
		}
	}
	return idx
}

func deliveryHash(clientIdx int, mid uint16) uint32 {
	key := (uint32(clientIdx) << 16) | uint32(mid)
	return (key * knuthMultiplier) >> (32 - 14) // 14 = log2(deliveryTableSize)
}

// allocDelivery pops a MessageDelivery slot, or returns sentinel if the
// table is exhausted (a non-fatal, best-effort condition per spec.md §4.7:
// the caller drops this subscriber's copy and continues).
func (c *Context) allocDelivery() int {
	if c.deliveryFreeHead == sentinel {
		return sentinel
	}
	idx := c.deliveryFreeHead
	c.deliveryFreeHead = c.deliveries[idx].nextFree
	c.deliveries[idx] = MessageDelivery{active: true}
	return idx
}

func (c *Context) freeDelivery(idx int) {
	c.deliveries[idx] = MessageDelivery{nextFree: c.deliveryFreeHead}
	c.deliveryFreeHead = idx
}

// indexInsert adds idx to the bucket for (clientIdx, mid). Bucket overflow
// is fatal per spec.md §4.6: capacity is provisioned well above the
// steady-state in-flight window, so reaching it signals a sizing bug.
func (c *Context) indexInsert(clientIdx int, mid uint16, idx int) {
	b := deliveryHash(clientIdx, mid)
	n := c.deliveryIdx.counts[b]
	if n >= deliveryBucketCap {
		panic("broker: delivery lookup bucket overflow")
	}
	c.deliveryIdx.buckets[b][n] = idx
	c.deliveryIdx.counts[b] = n + 1
}

func (c *Context) indexRemove(clientIdx int, mid uint16, idx int) {
	b := deliveryHash(clientIdx, mid)
	n := c.deliveryIdx.counts[b]
	bucket := &c.deliveryIdx.buckets[b]
	for i := 0; i < n; i++ {
		if bucket[i] == idx {
			for j := i; j < n-1; j++ {
				bucket[j] = bucket[j+1]
			}
			bucket[n-1] = sentinel
			c.deliveryIdx.counts[b] = n - 1
			return
		}
	}
}

// indexLookup finds the delivery slot matching (clientIdx, mid), verifying
// both fields against the candidate's own record (bucket membership alone
// only narrows the search; a hash collision could place an unrelated
// delivery in the same bucket).
func (c *Context) indexLookup(clientIdx int, mid uint16) (int, bool) {
	b := deliveryHash(clientIdx, mid)
	n := c.deliveryIdx.counts[b]
	bucket := &c.deliveryIdx.buckets[b]
	for i := 0; i < n; i++ {
		idx := bucket[i]
		d := &c.deliveries[idx]
		if d.active && d.clientIdx == clientIdx && d.mid == mid {
			return idx, true
		}
	}
	return 0, false
}

// releaseDeliveryRef decrements the refcount of the PublishedMessage
// sourcing delivery idx, removes the delivery from the lookup index, and
// frees both the delivery slot and, if the refcount hits zero, the message
// (and its coupled properties) slot. Callers set the terminal state first.
func (c *Context) releaseDeliveryRef(idx int) {
	d := &c.deliveries[idx]
	c.indexRemove(d.clientIdx, d.mid, idx)
	msgIdx := d.messageIdx
	qos := d.qos
	c.freeDelivery(idx)
	c.releaseMessageRef(msgIdx)
	c.observe(func(m metricsSink) { m.DeliveriesInflight(qos, -1) })
}

// retrySweep runs the time-driven half of the QoS state machine: any
// active, non-terminal delivery whose next_retry_at has elapsed is either
// re-emitted (bumping retry_count) or expired once MaxRetryAttempts is
// reached.
func (c *Context) retrySweep(now time.Time) {
	if now.Sub(c.lastSweep) < RetransmissionCheckInterval {
		return
	}
	c.lastSweep = now

	for i := range c.deliveries {
		d := &c.deliveries[i]
		if !d.active || d.state == Acknowledged || d.state == Expired {
			continue
		}
		if now.Before(d.nextRetryAt) {
			continue
		}

		if d.retryCount >= MaxRetryAttempts {
			d.state = Expired
			d.active = false
			c.expiredTotal++
			c.observe(func(m metricsSink) { m.DeliveryExpired() })
			c.releaseDeliveryRef(i)
			continue
		}

		c.retransmit(i)
		d.retryCount++
		d.nextRetryAt = now.Add(RetryTimeout)
	}
}

// retransmit re-emits the control packet appropriate to a delivery's
// current state into its target client's send buffer.
func (c *Context) retransmit(idx int) {
	d := &c.deliveries[idx]
	client := &c.clients[d.clientIdx]
	if !client.active {
		return
	}

	switch d.state {
	case AwaitingPuback, AwaitingPubrec:
		msg := &c.messages[d.messageIdx]
		props := &c.properties[msg.propsIdx].props
		mqtt.WritePublish(client.send, true, d.qos, msg.retain, d.mid, msg.topic, props, msg.payload)
		c.observe(func(m metricsSink) { m.PacketSent(mqtt.PUBLISH) })
	case AwaitingPubrel:
		mqtt.WriteAck(client.send, mqtt.PUBREC, d.mid, mqtt.AckSuccess)
		c.observe(func(m metricsSink) { m.PacketSent(mqtt.PUBREC) })
	case AwaitingPubcomp:
		mqtt.WriteAck(client.send, mqtt.PUBREL, d.mid, mqtt.AckSuccess)
		c.observe(func(m metricsSink) { m.PacketSent(mqtt.PUBREL) })
	}
	d.lastSentAt = time.Now()
}

// handlePuback advances an outbound qos=1 delivery to Acknowledged.
func (c *Context) handlePuback(clientIdx int, mid uint16) {
	idx, ok := c.indexLookup(clientIdx, mid)
	if !ok {
		return // unexpected ack for an unknown delivery: logged and ignored
	}
	d := &c.deliveries[idx]
	if d.state != AwaitingPuback {
		return
	}
	d.state = Acknowledged
	d.active = false
	c.releaseDeliveryRef(idx)
}

// handlePubrec advances an outbound qos=2 delivery to AwaitingPubcomp and
// emits the paired PUBREL.
func (c *Context) handlePubrec(clientIdx int, mid uint16) {
	idx, ok := c.indexLookup(clientIdx, mid)
	if !ok {
		return
	}
	d := &c.deliveries[idx]
	if d.state != AwaitingPubrec {
		return
	}
	d.state = AwaitingPubcomp
	d.nextRetryAt = time.Now().Add(RetryTimeout)
	d.retryCount = 0

	client := &c.clients[clientIdx]
	mqtt.WriteAck(client.send, mqtt.PUBREL, mid, mqtt.AckSuccess)
	c.observe(func(m metricsSink) { m.PacketSent(mqtt.PUBREL) })
}

// handlePubrel completes an inbound qos=2 publisher-side delivery
// (AwaitingPubrel → Acknowledged) and emits the paired PUBCOMP. It frees
// the delivery slot itself but deliberately does not release the
// message's refcount: the caller still owes the staged message one fan-out
// pass, and must release that ref only once fan-out is done (see
// publish.go's HandlePubrel) so the message slot isn't torn down out from
// under it.
func (c *Context) handlePubrel(clientIdx int, mid uint16) (messageIdx int, ok bool) {
	idx, found := c.indexLookup(clientIdx, mid)
	if !found {
		client := &c.clients[clientIdx]
		mqtt.WriteAck(client.send, mqtt.PUBCOMP, mid, mqtt.AckPacketIDNotFound)
		c.observe(func(m metricsSink) { m.PacketSent(mqtt.PUBCOMP) })
		return 0, false
	}
	d := &c.deliveries[idx]
	if d.state != AwaitingPubrel {
		return 0, false
	}
	messageIdx = d.messageIdx
	d.state = Acknowledged
	d.active = false

	client := &c.clients[clientIdx]
	mqtt.WriteAck(client.send, mqtt.PUBCOMP, mid, mqtt.AckSuccess)
	c.observe(func(m metricsSink) { m.PacketSent(mqtt.PUBCOMP) })

	c.indexRemove(clientIdx, mid, idx)
	c.freeDelivery(idx)
	c.observe(func(m metricsSink) { m.DeliveriesInflight(mqtt.ExactlyOnce, -1) })
	return messageIdx, true
}

// handlePubcomp completes an outbound qos=2 delivery.
func (c *Context) handlePubcomp(clientIdx int, mid uint16) {
	idx, ok := c.indexLookup(clientIdx, mid)
	if !ok {
		return
	}
	d := &c.deliveries[idx]
	if d.state != AwaitingPubcomp {
		return
	}
	d.state = Acknowledged
	d.active = false
	c.releaseDeliveryRef(idx)
}
