package mqtt

import "github.com/codepr/tera-go/internal/buffer"

// DisconnectReason is the reason code carried by a DISCONNECT packet.
type DisconnectReason uint8

const (
	DisconnectNormal           DisconnectReason = 0x00
	DisconnectProtocolError    DisconnectReason = 0x82
	DisconnectUnspecifiedError DisconnectReason = 0x80
)

// Disconnect is a decoded DISCONNECT packet. A zero-length remaining
// section (the common case) implies DisconnectNormal.
type Disconnect struct {
	Reason DisconnectReason
}

// ReadDisconnect decodes a DISCONNECT packet whose fixed header h has
// already been consumed. The properties section, if present, is skipped
// uninterpreted per spec.md §4.4.
func ReadDisconnect(buf *buffer.Buffer, h FixedHeader) (Disconnect, error) {
	var d Disconnect
	if h.RemainingLength == 0 {
		d.Reason = DisconnectNormal
		return d, nil
	}

	start := buf.ReadPos()
	reason, err := buf.ReadUint8()
	if err != nil {
		return d, ErrMalformed
	}
	d.Reason = DisconnectReason(reason)

	consumed := buf.ReadPos() - start
	remaining := h.RemainingLength - consumed
	if remaining < 0 {
		return d, ErrMalformed
	}
	if remaining > 0 {
		propsLen, _, err := ReadVariableLength(buf)
		if err != nil {
			return d, ErrMalformed
		}
		if err := buf.Skip(propsLen); err != nil {
			return d, ErrMalformed
		}
	}

	return d, nil
}

// WriteDisconnect encodes a DISCONNECT. DisconnectNormal is written as the
// bare zero-length form; any other reason carries the one-byte reason code
// with no properties, for a client driving this codec directly.
func WriteDisconnect(buf *buffer.Buffer, reason DisconnectReason) error {
	if reason == DisconnectNormal {
		_, err := WriteFixedHeader(buf, FixedHeader{Type: DISCONNECT, RemainingLength: 0})
		return err
	}
	if _, err := WriteFixedHeader(buf, FixedHeader{Type: DISCONNECT, RemainingLength: 1}); err != nil {
		return err
	}
	return buf.WriteUint8(byte(reason))
}
