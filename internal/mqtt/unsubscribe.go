package mqtt

import "github.com/codepr/tera-go/internal/buffer"

// UnsubackReason is a per-filter reason code in an UNSUBACK.
type UnsubackReason uint8

const (
	UnsubackSuccess             UnsubackReason = 0x00
	UnsubackNoSubscriptionFound UnsubackReason = 0x11
)

// Unsubscribe is a decoded UNSUBSCRIBE packet: a packet id and the list of
// topic filters to remove.
type Unsubscribe struct {
	PacketID uint16
	Filters  [][]byte
}

// ReadUnsubscribe decodes an UNSUBSCRIBE packet whose fixed header h has
// already been consumed. This broker defines no UNSUBSCRIBE properties; a
// non-zero properties length is rejected fail-closed.
func ReadUnsubscribe(buf *buffer.Buffer, h FixedHeader) (Unsubscribe, error) {
	var u Unsubscribe

	start := buf.ReadPos()

	mid, err := buf.ReadUint16()
	if err != nil {
		return u, ErrMalformed
	}
	u.PacketID = mid

	propsLen, _, err := ReadVariableLength(buf)
	if err != nil {
		return u, ErrMalformed
	}
	if propsLen != 0 {
		return u, ErrMalformed
	}

	consumed := buf.ReadPos() - start
	remainingPayload := h.RemainingLength - consumed
	if remainingPayload < 0 {
		return u, ErrMalformed
	}
	payloadEnd := buf.ReadPos() + remainingPayload

	for buf.ReadPos() < payloadEnd {
		filter, err := buf.ReadString()
		if err != nil {
			return u, ErrMalformed
		}
		if len(filter) == 0 {
			return u, ErrMalformed
		}
		u.Filters = append(u.Filters, filter)
	}

	if len(u.Filters) == 0 {
		return u, ErrMalformed
	}

	return u, nil
}

// WriteUnsubscribe encodes an UNSUBSCRIBE packet: packet id, empty
// properties, and the filter list. The fixed-header flags are fixed at
// 0b0010 per the MQTT 5.0 spec.
func WriteUnsubscribe(buf *buffer.Buffer, u Unsubscribe) error {
	remaining := 2 + 1
	for _, f := range u.Filters {
		remaining += 2 + len(f)
	}

	h := FixedHeader{Type: UNSUBSCRIBE, QoS: AtLeastOnce, RemainingLength: remaining}
	if _, err := WriteFixedHeader(buf, h); err != nil {
		return err
	}
	if err := buf.WriteUint16(u.PacketID); err != nil {
		return err
	}
	if err := buf.WriteUint8(0); err != nil {
		return err
	}
	for _, f := range u.Filters {
		if err := buf.WriteString(f); err != nil {
			return err
		}
	}
	return nil
}

// Unsuback is a decoded UNSUBACK, for a client driving this codec directly.
type Unsuback struct {
	PacketID uint16
	Reasons  []UnsubackReason
}

// ReadUnsuback decodes an UNSUBACK whose fixed header h has already been
// consumed.
func ReadUnsuback(buf *buffer.Buffer, h FixedHeader) (Unsuback, error) {
	var u Unsuback

	start := buf.ReadPos()

	mid, err := buf.ReadUint16()
	if err != nil {
		return u, ErrMalformed
	}
	u.PacketID = mid

	propsLen, _, err := ReadVariableLength(buf)
	if err != nil {
		return u, ErrMalformed
	}
	if err := buf.Skip(propsLen); err != nil {
		return u, ErrMalformed
	}

	consumed := buf.ReadPos() - start
	remaining := h.RemainingLength - consumed
	if remaining < 0 {
		return u, ErrMalformed
	}
	for i := 0; i < remaining; i++ {
		r, err := buf.ReadUint8()
		if err != nil {
			return u, ErrMalformed
		}
		u.Reasons = append(u.Reasons, UnsubackReason(r))
	}

	return u, nil
}

// WriteUnsuback encodes an UNSUBACK: packet id, empty properties, and one
// reason code per requested filter, in request order.
func WriteUnsuback(buf *buffer.Buffer, mid uint16, reasons []UnsubackReason) error {
	remaining := 2 + 1 + len(reasons)
	h := FixedHeader{Type: UNSUBACK, RemainingLength: remaining}
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
