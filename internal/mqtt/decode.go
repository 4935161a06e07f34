package mqtt

import "github.com/codepr/tera-go/internal/buffer"

// Packet is a decoded control packet tagged with its fixed header and the
// type-specific payload, so a single decode call can drive a type switch at
// the dispatch site.
type Packet struct {
	Header  FixedHeader
	Connect Connect
	Publish Publish
	Ack     Ack
	Sub     Subscribe
	Unsub   Unsubscribe
	Disc    Disconnect
}

// Decode reads one complete control packet from buf starting at its current
// read position. It returns ErrIncomplete (cursor restored) if buf does not
// yet hold a full packet. PINGREQ packets carry no payload; CONNACK, SUBACK,
// UNSUBACK and PINGRESP are outbound-only and never decoded here.
func Decode(buf *buffer.Buffer) (Packet, error) {
	var pkt Packet

	h, err := ReadFixedHeader(buf)
	if err != nil {
		return pkt, err
	}
	pkt.Header = h

	switch h.Type {
	case CONNECT:
		c, err := ReadConnect(buf, h.RemainingLength)
		pkt.Connect = c
		return pkt, err
	case PUBLISH:
		p, err := ReadPublish(buf, h)
		pkt.Publish = p
		return pkt, err
	case PUBACK, PUBREC, PUBREL, PUBCOMP:
		a, err := ReadAck(buf, h)
		pkt.Ack = a
		return pkt, err
	case SUBSCRIBE:
		s, err := ReadSubscribe(buf, h)
		pkt.Sub = s
		return pkt, err
	case UNSUBSCRIBE:
		u, err := ReadUnsubscribe(buf, h)
		pkt.Unsub = u
		return pkt, err
	case PINGREQ:
		if h.RemainingLength != 0 {
			return pkt, ErrMalformed
		}
		return pkt, nil
	case DISCONNECT:
		d, err := ReadDisconnect(buf, h)
		pkt.Disc = d
		return pkt, err
	default:
		// Unknown packet type: the fixed header has already validated that
		// the full remaining length is present; skip it and let the caller
		// move on to whatever follows.
		if err := buf.Skip(h.RemainingLength); err != nil {
			return pkt, ErrMalformed
		}
		return pkt, ErrInvalid
	}
}
