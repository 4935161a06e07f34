package mqtt

import "github.com/codepr/tera-go/internal/buffer"

// Publish is a decoded PUBLISH variable header, properties and payload.
type Publish struct {
	Dup    bool
	QoS    QoS
	Retain bool

	Topic      []byte
	PacketID   uint16 // valid only when QoS > 0
	Properties PublishProperties
	Payload    []byte
}

// ReadPublish decodes a PUBLISH packet whose fixed header (h) has already
// been consumed. The payload is whatever remains of h.RemainingLength after
// the variable header and properties.
func ReadPublish(buf *buffer.Buffer, h FixedHeader) (Publish, error) {
	var p Publish
	p.Dup = h.Dup
	p.QoS = h.QoS
	p.Retain = h.Retain

	if h.QoS > ExactlyOnce {
		return p, ErrMalformed
	}

	start := buf.ReadPos()

	topic, err := buf.ReadString()
	if err != nil {
		return p, ErrMalformed
	}
	p.Topic = topic

	if h.QoS > AtMostOnce {
		mid, err := buf.ReadUint16()
		if err != nil {
			return p, ErrMalformed
		}
		p.PacketID = mid
	}

	propsLen, _, err := ReadVariableLength(buf)
	if err != nil {
		return p, ErrMalformed
	}
	props, err := readPublishProperties(buf, propsLen)
	if err != nil {
		return p, err
	}
	p.Properties = props

	consumed := buf.ReadPos() - start
	payloadLen := h.RemainingLength - consumed
	if payloadLen < 0 {
		return p, ErrMalformed
	}
	payload, err := buf.ReadBinary(payloadLen)
	if err != nil {
		return p, ErrMalformed
	}
	p.Payload = payload

	return p, nil
}

// WritePublish encodes a PUBLISH with the given fixed-header flags, packet
// id (ignored when qos is AtMostOnce), topic, properties and payload.
func WritePublish(buf *buffer.Buffer, dup bool, qos QoS, retain bool, mid uint16, topic []byte, props *PublishProperties, payload []byte) error {
	propsLen := propertiesLength(props)
	propsLenBytes := EncodedLength(propsLen)

	remaining := 2 + len(topic) + propsLenBytes + propsLen + len(payload)
	if qos > AtMostOnce {
		remaining += 2
	}

	h := FixedHeader{Type: PUBLISH, Dup: dup, QoS: qos, Retain: retain, RemainingLength: remaining}
	if _, err := WriteFixedHeader(buf, h); err != nil {
		return err
	}
	if err := buf.WriteString(topic); err != nil {
		return err
	}
	if qos > AtMostOnce {
		if err := buf.WriteUint16(mid); err != nil {
			return err
		}
	}
	if _, err := WriteVariableLength(buf, propsLen); err != nil {
		return err
	}
	if err := writePublishProperties(buf, props); err != nil {
		return err
	}
	return buf.Append(payload)
}
