package broker

import "github.com/codepr/tera-go/internal/mqtt"

// PublishedMessage is the origin record of an inbound PUBLISH: the topic
// and payload bytes (copied into the message arena) plus the publish
// option bits and a refcount of outstanding deliveries sourced from it.
type PublishedMessage struct {
	active bool

	propsIdx int
	topic    []byte
	payload  []byte

	retain bool
	qos    mqtt.QoS
	dup    bool

	deliveries int // refcount, decremented on each delivery completion

	nextFree int
}

func (c *Context) allocMessage() int {
	if c.msgFreeHead == sentinel {
		return sentinel
	}
	idx := c.msgFreeHead
	c.msgFreeHead = c.messages[idx].nextFree
	return idx
}

func (c *Context) freeMessage(idx int) {
	c.messages[idx] = PublishedMessage{nextFree: c.msgFreeHead}
	c.msgFreeHead = idx
}

func (c *Context) allocProperties() int {
	if c.propsFreeHead == sentinel {
		return sentinel
	}
	idx := c.propsFreeHead
	c.propsFreeHead = c.properties[idx].next
	return idx
}

func (c *Context) freeProperties(idx int) {
	c.properties[idx] = propertySlot{next: c.propsFreeHead}
	c.propsFreeHead = idx
}

// storeMessage copies topic and payload into the message arena and
// allocates a coupled PublishedMessage/PublishProperties pair. Returns
// sentinel if either table or the message arena itself is exhausted; the
// caller (Publish/stagePublish) degrades gracefully on a sentinel return,
// replying an unspecified-error ack rather than closing the connection.
func (c *Context) storeMessage(topic, payload []byte, props mqtt.PublishProperties, retain bool, qos mqtt.QoS, dup bool) int {
	msgIdx := c.allocMessage()
	if msgIdx == sentinel {
		return sentinel
	}
	propsIdx := c.allocProperties()
	if propsIdx == sentinel {
		c.freeMessage(msgIdx)
		return sentinel
	}

	topicCopy, err := c.copyIntoMessageArena(topic)
	if err != nil {
		c.freeMessage(msgIdx)
		c.freeProperties(propsIdx)
		return sentinel
	}
	payloadCopy, err := c.copyIntoMessageArena(payload)
	if err != nil {
		c.freeMessage(msgIdx)
		c.freeProperties(propsIdx)
		return sentinel
	}

	c.messages[msgIdx] = PublishedMessage{
		active:   true,
		propsIdx: propsIdx,
		topic:    topicCopy,
		payload:  payloadCopy,
		retain:   retain,
		qos:      qos,
		dup:      dup,
	}
	c.properties[propsIdx] = propertySlot{active: true, props: props}

	c.observe(func(m metricsSink) { m.MessageSlotsInUse(c.activeMessageCount()) })
	return msgIdx
}

func (c *Context) activeMessageCount() int {
	n := 0
	for i := range c.messages {
		if c.messages[i].active {
			n++
		}
	}
	return n
}

func (c *Context) copyIntoMessageArena(src []byte) ([]byte, error) {
	off, err := c.messageArena.Alloc(len(src))
	if err != nil {
		return nil, err
	}
	dst := c.messageArena.At(off, len(src))
	copy(dst, src)
	return dst, nil
}

// releaseMessageRef decrements a PublishedMessage's refcount and frees the
// message and properties slots once it reaches zero.
func (c *Context) releaseMessageRef(idx int) {
	msg := &c.messages[idx]
	if !msg.active {
		return
	}
	msg.deliveries--
	if msg.deliveries > 0 {
		return
	}
	propsIdx := msg.propsIdx
	c.freeMessage(idx)
	c.freeProperties(propsIdx)
	c.observe(func(m metricsSink) { m.MessageSlotsInUse(c.activeMessageCount()) })
}
