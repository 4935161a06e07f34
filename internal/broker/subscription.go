package broker

import (
	"github.com/codepr/tera-go/internal/mqtt"
	"github.com/codepr/tera-go/internal/topic"
)

// Subscription is one (client, topic-filter) binding: the filter string
// lives in the topic arena and is never mutated after insertion.
type Subscription struct {
	active bool

	clientIdx int
	filter    []byte
	kind      topic.Kind
	qos       mqtt.QoS

	hasSubscriptionID bool
	subscriptionID    int

	nextMid int

	nextFree int
}

func (c *Context) allocSubscription() int {
	if c.subFreeHead == sentinel {
		return sentinel
	}
	idx := c.subFreeHead
	c.subFreeHead = c.subscriptions[idx].nextFree
	return idx
}

func (c *Context) freeSubscription(idx int) {
	c.subscriptions[idx] = Subscription{nextFree: c.subFreeHead}
	c.subFreeHead = idx
}

// activeSubscriptionCount reports the number of live subscriptions, for
// the metrics gauge.
func (c *Context) activeSubscriptionCount() int {
	n := 0
	for i := range c.subscriptions {
		if c.subscriptions[i].active {
			n++
		}
	}
	return n
}

// Subscribe processes one SUBSCRIBE packet for clientIdx: each filter is
// classified and validated; invalid filters produce SubackUnspecifiedError
// without allocating a slot, while valid ones get a Subscription slot
// whose granted QoS mirrors the requested ceiling (no QoS downgrade at
// subscribe time is specified beyond the request itself).
func (c *Context) Subscribe(clientIdx int, sub mqtt.Subscribe) []mqtt.SubackReason {
	reasons := make([]mqtt.SubackReason, len(sub.Filters))

	for i, f := range sub.Filters {
		kind, err := topic.Classify(f.Filter)
		if err != nil {
			reasons[i] = mqtt.SubackUnspecifiedError
			continue
		}

		subIdx := c.allocSubscription()
		if subIdx == sentinel {
			reasons[i] = mqtt.SubackUnspecifiedError
			continue
		}

		filterCopy, err := c.copyIntoTopicArena(f.Filter)
		if err != nil {
			c.freeSubscription(subIdx)
			reasons[i] = mqtt.SubackUnspecifiedError
			continue
		}

		c.subscriptions[subIdx] = Subscription{
			active:            true,
			clientIdx:         clientIdx,
			filter:            filterCopy,
			kind:              kind,
			qos:               f.QoS,
			hasSubscriptionID: sub.HasSubscription,
			subscriptionID:    sub.SubscriptionID,
		}
		c.clients[clientIdx].subs = append(c.clients[clientIdx].subs, subIdx)

		reasons[i] = subackReasonFor(f.QoS)
	}

	c.observe(func(m metricsSink) { m.SubscriptionsActive(c.activeSubscriptionCount()) })
	return reasons
}

func subackReasonFor(qos mqtt.QoS) mqtt.SubackReason {
	switch qos {
	case mqtt.AtLeastOnce:
		return mqtt.SubackGrantedQoS1
	case mqtt.ExactlyOnce:
		return mqtt.SubackGrantedQoS2
	default:
		return mqtt.SubackGrantedQoS0
	}
}

func (c *Context) copyIntoTopicArena(src []byte) ([]byte, error) {
	off, err := c.topicArena.Alloc(len(src))
	if err != nil {
		return nil, err
	}
	dst := c.topicArena.At(off, len(src))
	copy(dst, src)
	return dst, nil
}

// Unsubscribe clears every subscription of clientIdx whose filter matches
// (byte-for-byte) one named in the UNSUBSCRIBE payload.
func (c *Context) Unsubscribe(clientIdx int, u mqtt.Unsubscribe) []mqtt.UnsubackReason {
	reasons := make([]mqtt.UnsubackReason, len(u.Filters))
	subs := c.clients[clientIdx].subs

	for i, filter := range u.Filters {
		found := false
		for j, subIdx := range subs {
			s := &c.subscriptions[subIdx]
			if s.active && bytesEqual(s.filter, filter) {
				c.freeSubscription(subIdx)
				subs = append(subs[:j], subs[j+1:]...)
				found = true
				break
			}
		}
		if found {
			reasons[i] = mqtt.UnsubackSuccess
		} else {
			reasons[i] = mqtt.UnsubackNoSubscriptionFound
		}
	}

	c.clients[clientIdx].subs = subs
	c.observe(func(m metricsSink) { m.SubscriptionsActive(c.activeSubscriptionCount()) })
	return reasons
}

// clearSubscriptionsOf frees every subscription slot owned by clientIdx,
// called when its Connection ends.
func (c *Context) clearSubscriptionsOf(clientIdx int) {
	for _, subIdx := range c.clients[clientIdx].subs {
		if c.subscriptions[subIdx].active {
			c.freeSubscription(subIdx)
		}
	}
	c.clients[clientIdx].subs = nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
