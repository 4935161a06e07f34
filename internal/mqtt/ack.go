package mqtt

import "github.com/codepr/tera-go/internal/buffer"

// AckReason is a reason code shared by PUBACK, PUBREC, PUBREL and PUBCOMP.
type AckReason uint8

const (
	AckSuccess             AckReason = 0x00
	AckNoMatchingSubscribe AckReason = 0x10
	AckUnspecifiedError    AckReason = 0x80
	AckPacketIDNotFound    AckReason = 0x92
)

// Ack is the generic shape decoded from PUBACK, PUBREC, PUBREL and PUBCOMP:
// a packet id and a reason code. A short form (remaining length 2) implies
// AckSuccess with no properties. Any properties section present is skipped
// uninterpreted, as this broker produces none of its own.
type Ack struct {
	PacketID uint16
	Reason   AckReason
}

// ReadAck decodes one of PUBACK/PUBREC/PUBREL/PUBCOMP given its already
// consumed fixed header h.
func ReadAck(buf *buffer.Buffer, h FixedHeader) (Ack, error) {
	var a Ack

	mid, err := buf.ReadUint16()
	if err != nil {
		return a, ErrMalformed
	}
	a.PacketID = mid

	if h.RemainingLength == 2 {
		a.Reason = AckSuccess
		return a, nil
	}

	reason, err := buf.ReadUint8()
	if err != nil {
		return a, ErrMalformed
	}
	a.Reason = AckReason(reason)

	if h.RemainingLength > 3 {
		propsLen, _, err := ReadVariableLength(buf)
		if err != nil {
			return a, ErrMalformed
		}
		if err := buf.Skip(propsLen); err != nil {
			return a, ErrMalformed
		}
	}

	return a, nil
}

// ackFlagsFor builds the fixed header for one of the four ack types;
// PUBREL is the only one of the four with a mandatory low-nibble flag
// pattern (0010) per the MQTT 5.0 spec.
func ackFlagsFor(t PacketType) FixedHeader {
	h := FixedHeader{Type: t}
	if t == PUBREL {
		h.QoS = AtLeastOnce
	}
	return h
}

// WriteAck encodes a PUBACK/PUBREC/PUBREL/PUBCOMP with packet id and reason.
// When reason is AckSuccess the short two-byte form is used.
func WriteAck(buf *buffer.Buffer, t PacketType, mid uint16, reason AckReason) error {
	h := ackFlagsFor(t)
	if reason == AckSuccess {
		h.RemainingLength = 2
		if _, err := WriteFixedHeader(buf, h); err != nil {
			return err
		}
		return buf.WriteUint16(mid)
	}

	h.RemainingLength = 3
	if _, err := WriteFixedHeader(buf, h); err != nil {
		return err
	}
	if err := buf.WriteUint16(mid); err != nil {
		return err
	}
	return buf.WriteUint8(byte(reason))
}
