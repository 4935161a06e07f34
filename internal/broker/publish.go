package broker

import (
	"time"

	"github.com/codepr/tera-go/internal/mqtt"
	"github.com/codepr/tera-go/internal/topic"
)

// Publish handles one inbound PUBLISH from clientIdx: it stores the
// message once, fans it out to every matching subscription at
// min(origin_qos, granted_qos), and replies with the ack the publisher
// itself is owed (qos=0 needs none, qos=1 a PUBACK; qos=2 instead stages
// the message and only fans out once the matching PUBREL arrives, via
// HandlePubrel).
func (c *Context) Publish(clientIdx int, p mqtt.Publish) {
	if p.QoS == mqtt.ExactlyOnce {
		// qos=2 publishes are staged: stored on the initial PUBLISH but
		// fanned out only once PUBREL confirms receipt, so a retransmitted
		// PUBLISH does not cause a duplicate fan-out.
		c.stagePublish(clientIdx, p)
		return
	}

	msgIdx := c.storeMessage(p.Topic, p.Payload, p.Properties, p.Retain, p.QoS, p.Dup)
	if msgIdx == sentinel {
		client := &c.clients[clientIdx]
		if p.QoS == mqtt.AtLeastOnce {
			mqtt.WriteAck(client.send, mqtt.PUBACK, p.PacketID, mqtt.AckUnspecifiedError)
			c.observe(func(m metricsSink) { m.PacketSent(mqtt.PUBACK) })
		}
		return
	}

	c.fanOut(msgIdx)

	client := &c.clients[clientIdx]
	if p.QoS == mqtt.AtLeastOnce {
		mqtt.WriteAck(client.send, mqtt.PUBACK, p.PacketID, mqtt.AckSuccess)
		c.observe(func(m metricsSink) { m.PacketSent(mqtt.PUBACK) })
	}
}

// stagePublish registers the qos=2 publish as AwaitingPubrel on a
// synthetic self-targeted delivery slot, so the existing (client_id, mid)
// index and retry sweep cover the publisher-side PUBREC as well. A
// retransmitted PUBLISH (DUP=1, same mid) is a normal occurrence while the
// publisher is still waiting on its own PUBREC: it must not stage a second
// copy of the message, so any already-staged delivery for this (client,
// mid) short-circuits straight to re-emitting PUBREC.
func (c *Context) stagePublish(clientIdx int, p mqtt.Publish) {
	if _, staged := c.indexLookup(clientIdx, p.PacketID); staged {
		client := &c.clients[clientIdx]
		mqtt.WriteAck(client.send, mqtt.PUBREC, p.PacketID, mqtt.AckSuccess)
		c.observe(func(m metricsSink) { m.PacketSent(mqtt.PUBREC) })
		return
	}

	msgIdx := c.storeMessage(p.Topic, p.Payload, p.Properties, p.Retain, p.QoS, p.Dup)
	if msgIdx == sentinel {
		client := &c.clients[clientIdx]
		mqtt.WriteAck(client.send, mqtt.PUBREC, p.PacketID, mqtt.AckUnspecifiedError)
		c.observe(func(m metricsSink) { m.PacketSent(mqtt.PUBREC) })
		return
	}
	c.messages[msgIdx].deliveries++ // held by the pending self-delivery below

	deliveryIdx := c.allocDelivery()
	if deliveryIdx == sentinel {
		c.releaseMessageRef(msgIdx)
		client := &c.clients[clientIdx]
		mqtt.WriteAck(client.send, mqtt.PUBREC, p.PacketID, mqtt.AckUnspecifiedError)
		c.observe(func(m metricsSink) { m.PacketSent(mqtt.PUBREC) })
		return
	}

	now := time.Now()
	c.deliveries[deliveryIdx] = MessageDelivery{
		active:      true,
		messageIdx:  msgIdx,
		clientIdx:   clientIdx,
		mid:         p.PacketID,
		qos:         mqtt.ExactlyOnce,
		state:       AwaitingPubrel,
		lastSentAt:  now,
		nextRetryAt: now.Add(RetryTimeout),
	}
	c.indexInsert(clientIdx, p.PacketID, deliveryIdx)

	client := &c.clients[clientIdx]
	mqtt.WriteAck(client.send, mqtt.PUBREC, p.PacketID, mqtt.AckSuccess)
	c.observe(func(m metricsSink) { m.PacketSent(mqtt.PUBREC) })
	c.observe(func(m metricsSink) { m.DeliveriesInflight(mqtt.ExactlyOnce, 1) })
}

// HandlePubrel processes a PUBREL from a publisher awaiting completion of
// a staged qos=2 publish: once acknowledged, the staged message is fanned
// out to subscribers exactly once, and only then does the self-delivery's
// hold on the message get released.
func (c *Context) HandlePubrel(clientIdx int, mid uint16) {
	msgIdx, ok := c.handlePubrel(clientIdx, mid)
	if !ok {
		return
	}
	c.fanOut(msgIdx)
	c.releaseMessageRef(msgIdx)
}

// fanOut delivers the message at msgIdx to every subscription whose
// filter matches its topic, at min(origin_qos, granted_qos). Delivery
// slot exhaustion for a given subscriber is non-fatal: that subscriber's
// copy is dropped and fan-out continues for the rest (spec.md §4.7).
func (c *Context) fanOut(msgIdx int) {
	msg := &c.messages[msgIdx]

	// Hold a ref for the duration of fan-out itself: a message with zero
	// matching subscribers, or whose only subscribers are qos=0 (no
	// MessageDelivery slot to hold a ref), would otherwise never be freed.
	msg.deliveries++

	for i := range c.subscriptions {
		s := &c.subscriptions[i]
		if !s.active {
			continue
		}
		if !topic.Match(s.filter, msg.topic) {
			continue
		}
		c.deliverTo(msgIdx, i)
	}

	c.releaseMessageRef(msgIdx)
}

func minQoS(a, b mqtt.QoS) mqtt.QoS {
	if a < b {
		return a
	}
	return b
}

// deliverTo emits msg to the client behind subscription subIdx, allocating
// a MessageDelivery to track acknowledgement when the effective QoS is
// above 0.
func (c *Context) deliverTo(msgIdx, subIdx int) {
	s := &c.subscriptions[subIdx]
	msg := &c.messages[msgIdx]
	client := &c.clients[s.clientIdx]
	if !client.active {
		return
	}

	qos := minQoS(msg.qos, s.qos)

	// Per-subscriber copy: subscription identifiers are specific to this
	// recipient and must not leak into another subscriber's properties
	// when the same message fans out to several of them.
	props := c.properties[msg.propsIdx].props
	if s.hasSubscriptionID {
		props.AddSubscriptionID(s.subscriptionID)
	}

	mid := uint16(0)
	if qos > mqtt.AtMostOnce {
		s.nextMid++
		if s.nextMid == 0 {
			s.nextMid = 1
		}
		mid = uint16(s.nextMid)

		deliveryIdx := c.allocDelivery()
		if deliveryIdx == sentinel {
			// Best-effort: drop this subscriber's copy rather than blocking
			// fan-out to everyone else.
			return
		}
		msg.deliveries++

		now := time.Now()
		state := AwaitingPuback
		if qos == mqtt.ExactlyOnce {
			state = AwaitingPubrec
		}
		c.deliveries[deliveryIdx] = MessageDelivery{
			active:      true,
			messageIdx:  msgIdx,
			clientIdx:   s.clientIdx,
			mid:         mid,
			qos:         qos,
			state:       state,
			lastSentAt:  now,
			nextRetryAt: now.Add(RetryTimeout),
		}
		c.indexInsert(s.clientIdx, mid, deliveryIdx)
		c.observe(func(m metricsSink) { m.DeliveriesInflight(qos, 1) })
	}

	mqtt.WritePublish(client.send, msg.dup, qos, msg.retain, mid, msg.topic, &props, msg.payload)
	c.observe(func(m metricsSink) { m.PacketSent(mqtt.PUBLISH) })
}
