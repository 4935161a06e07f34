package broker

import (
	"github.com/codepr/tera-go/internal/mqtt"
)

// dispatchResult tells the event loop what to do with the connection after
// handling one decoded packet.
type dispatchResult uint8

const (
	dispatchContinue dispatchResult = iota
	dispatchClose
)

// Dispatch routes one decoded packet to its handler and reports whether the
// connection must be closed afterward (a protocol violation or a
// client-initiated DISCONNECT). A CONNECT with an unsupported protocol
// version never reaches Dispatch: Decode rejects it and handleReadable
// replies and closes.
func (c *Context) Dispatch(clientIdx int, pkt mqtt.Packet) dispatchResult {
	c.observe(func(m metricsSink) { m.PacketReceived(pkt.Header.Type) })

	client := &c.clients[clientIdx]

	switch pkt.Header.Type {
	case mqtt.CONNECT:
		if !client.connected {
			if !c.HandleConnect(clientIdx, pkt.Connect) {
				return dispatchClose
			}
			return dispatchContinue
		}
		// A second CONNECT on an already-connected client is a protocol
		// violation; close without replying.
		return dispatchClose

	case mqtt.PUBLISH:
		if !client.connected {
			return dispatchClose
		}
		c.Publish(clientIdx, pkt.Publish)
		return dispatchContinue

	case mqtt.PUBACK:
		if !client.connected {
			return dispatchClose
		}
		c.handlePuback(clientIdx, pkt.Ack.PacketID)
		return dispatchContinue

	case mqtt.PUBREC:
		if !client.connected {
			return dispatchClose
		}
		c.handlePubrec(clientIdx, pkt.Ack.PacketID)
		return dispatchContinue

	case mqtt.PUBREL:
		if !client.connected {
			return dispatchClose
		}
		c.HandlePubrel(clientIdx, pkt.Ack.PacketID)
		return dispatchContinue

	case mqtt.PUBCOMP:
		if !client.connected {
			return dispatchClose
		}
		c.handlePubcomp(clientIdx, pkt.Ack.PacketID)
		return dispatchContinue

	case mqtt.SUBSCRIBE:
		if !client.connected {
			return dispatchClose
		}
		reasons := c.Subscribe(clientIdx, pkt.Sub)
		mqtt.WriteSuback(client.send, pkt.Sub.PacketID, reasons)
		c.observe(func(m metricsSink) { m.PacketSent(mqtt.SUBACK) })
		return dispatchContinue

	case mqtt.UNSUBSCRIBE:
		if !client.connected {
			return dispatchClose
		}
		reasons := c.Unsubscribe(clientIdx, pkt.Unsub)
		mqtt.WriteUnsuback(client.send, pkt.Unsub.PacketID, reasons)
		c.observe(func(m metricsSink) { m.PacketSent(mqtt.UNSUBACK) })
		return dispatchContinue

	case mqtt.PINGREQ:
		if !client.connected {
			return dispatchClose
		}
		mqtt.WritePingresp(client.send)
		c.observe(func(m metricsSink) { m.PacketSent(mqtt.PINGRESP) })
		return dispatchContinue

	case mqtt.DISCONNECT:
		// Will delivery on abrupt disconnect is out of scope, so a
		// client-initiated DISCONNECT needs no special handling beyond
		// closing the connection; closeClient never dispatches the will
		// either way.
		return dispatchClose

	default:
		// Decode already skipped the unknown packet's body; nothing to do.
		return dispatchContinue
	}
}
