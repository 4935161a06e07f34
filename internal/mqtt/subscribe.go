package mqtt

import "github.com/codepr/tera-go/internal/buffer"

// SubscribeFilter is one (topic-filter, requested-QoS) pair from a
// SUBSCRIBE payload.
type SubscribeFilter struct {
	Filter []byte
	QoS    QoS
}

// Subscribe is a decoded SUBSCRIBE packet.
type Subscribe struct {
	PacketID        uint16
	SubscriptionID  int
	HasSubscription bool
	Filters         []SubscribeFilter
}

// ReadSubscribe decodes a SUBSCRIBE packet whose fixed header h has already
// been consumed. The only property this broker understands on SUBSCRIBE is
// the subscription identifier; any other is rejected fail-closed.
func ReadSubscribe(buf *buffer.Buffer, h FixedHeader) (Subscribe, error) {
	var s Subscribe

	start := buf.ReadPos()

	mid, err := buf.ReadUint16()
	if err != nil {
		return s, ErrMalformed
	}
	s.PacketID = mid

	propsLen, _, err := ReadVariableLength(buf)
	if err != nil {
		return s, ErrMalformed
	}
	propsStart := buf.ReadPos()
	for buf.ReadPos()-propsStart < propsLen {
		id, err := buf.ReadUint8()
		if err != nil {
			return s, ErrMalformed
		}
		if id != PropSubscriptionIdentifier {
			return s, ErrMalformed
		}
		subID, _, err := ReadVariableLength(buf)
		if err != nil {
			return s, ErrMalformed
		}
		s.HasSubscription = true
		s.SubscriptionID = subID
	}

	consumed := buf.ReadPos() - start
	remainingPayload := h.RemainingLength - consumed
	if remainingPayload < 0 {
		return s, ErrMalformed
	}
	payloadEnd := buf.ReadPos() + remainingPayload

	for buf.ReadPos() < payloadEnd {
		filter, err := buf.ReadString()
		if err != nil {
			return s, ErrMalformed
		}
		// An empty or otherwise invalid filter is not a framing error: it
		// is left to Subscribe's topic.Classify call, which rejects it into
		// a per-entry SubackUnspecifiedError without closing the connection.
		options, err := buf.ReadUint8()
		if err != nil {
			return s, ErrMalformed
		}
		s.Filters = append(s.Filters, SubscribeFilter{Filter: filter, QoS: QoS(options & 0x03)})
	}

	if len(s.Filters) == 0 {
		return s, ErrMalformed
	}

	return s, nil
}

// WriteSubscribe encodes a SUBSCRIBE packet: packet id, an optional
// subscription identifier property, and one (filter, requested QoS) pair per
// entry. The fixed-header flags are fixed at 0b0010 per the MQTT 5.0 spec.
func WriteSubscribe(buf *buffer.Buffer, s Subscribe) error {
	propsLen := 0
	if s.HasSubscription {
		propsLen = 1 + EncodedLength(s.SubscriptionID)
	}

	remaining := 2 + EncodedLength(propsLen) + propsLen
	for _, f := range s.Filters {
		remaining += 2 + len(f.Filter) + 1
	}

	h := FixedHeader{Type: SUBSCRIBE, QoS: AtLeastOnce, RemainingLength: remaining}
	if _, err := WriteFixedHeader(buf, h); err != nil {
		return err
	}
	if err := buf.WriteUint16(s.PacketID); err != nil {
		return err
	}
	if _, err := WriteVariableLength(buf, propsLen); err != nil {
		return err
	}
	if s.HasSubscription {
		if err := buf.WriteUint8(PropSubscriptionIdentifier); err != nil {
			return err
		}
		if _, err := WriteVariableLength(buf, s.SubscriptionID); err != nil {
			return err
		}
	}
	for _, f := range s.Filters {
		if err := buf.WriteString(f.Filter); err != nil {
			return err
		}
		if err := buf.WriteUint8(byte(f.QoS)); err != nil {
			return err
		}
	}
	return nil
}

// Suback is a decoded SUBACK, for a client driving this codec directly.
type Suback struct {
	PacketID uint16
	Reasons  []SubackReason
}

// ReadSuback decodes a SUBACK whose fixed header h has already been
// consumed.
func ReadSuback(buf *buffer.Buffer, h FixedHeader) (Suback, error) {
	var s Suback

	start := buf.ReadPos()

	mid, err := buf.ReadUint16()
	if err != nil {
		return s, ErrMalformed
	}
	s.PacketID = mid

	propsLen, _, err := ReadVariableLength(buf)
	if err != nil {
		return s, ErrMalformed
	}
	if err := buf.Skip(propsLen); err != nil {
		return s, ErrMalformed
	}

	consumed := buf.ReadPos() - start
	remaining := h.RemainingLength - consumed
	if remaining < 0 {
		return s, ErrMalformed
	}
	for i := 0; i < remaining; i++ {
		r, err := buf.ReadUint8()
		if err != nil {
			return s, ErrMalformed
		}
		s.Reasons = append(s.Reasons, SubackReason(r))
	}

	return s, nil
}

// WriteSuback encodes a SUBACK: packet id, empty properties, and one reason
// code per requested filter, in request order.
func WriteSuback(buf *buffer.Buffer, mid uint16, reasons []SubackReason) error {
	remaining := 2 + 1 + len(reasons)
	h := FixedHeader{Type: SUBACK, RemainingLength: remaining}
	if _, err := WriteFixedHeader(buf, h); err != nil {
		return err
	}
	if err := buf.WriteUint16(mid); err != nil {
		return err
	}
	if err := buf.WriteUint8(0); err != nil {
		return err
	}
	for _, r := range reasons {
		if err := buf.WriteUint8(byte(r)); err != nil {
			return err
		}
	}
	return nil
}
