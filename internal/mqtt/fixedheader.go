package mqtt

import "github.com/codepr/tera-go/internal/buffer"

// FixedHeader is the first 1-5 bytes of every MQTT control packet: the
// opcode/flags byte followed by the variable-byte-integer remaining length.
type FixedHeader struct {
	Type            PacketType
	Dup             bool
	QoS             QoS
	Retain          bool
	RemainingLength int
	// HeaderLen is the total byte count the fixed header itself occupied
	// (1 + however many bytes the remaining-length varint used).
	HeaderLen int
}

// ReadFixedHeader decodes the fixed header at the buffer's current read
// position. On ErrIncomplete the read cursor is restored to its value at
// entry so the caller can re-enter once more bytes arrive.
func ReadFixedHeader(buf *buffer.Buffer) (FixedHeader, error) {
	start := buf.ReadPos()

	b, err := buf.ReadUint8()
	if err != nil {
		buf.SetReadPos(start)
		return FixedHeader{}, ErrIncomplete
	}

	remaining, lenBytes, err := ReadVariableLength(buf)
	if err != nil {
		buf.SetReadPos(start)
		if err == ErrIncomplete {
			return FixedHeader{}, ErrIncomplete
		}
		return FixedHeader{}, ErrMalformed
	}

	if remaining > MaxPacketSize {
		return FixedHeader{}, ErrOutOfBounds
	}

	if buf.Available() < remaining {
		buf.SetReadPos(start)
		return FixedHeader{}, ErrIncomplete
	}

	return FixedHeader{
		Type:            PacketType(b >> 4),
		Dup:             b&0x08 != 0,
		QoS:             QoS((b >> 1) & 0x03),
		Retain:          b&0x01 != 0,
		RemainingLength: remaining,
		HeaderLen:       1 + lenBytes,
	}, nil
}

// WriteFixedHeader encodes a fixed header byte (type<<4 | dup | qos | retain)
// followed by the minimally-encoded remaining length.
func WriteFixedHeader(buf *buffer.Buffer, h FixedHeader) (int, error) {
	b := byte(h.Type) << 4
	if h.Dup {
		b |= 0x08
	}
	b |= byte(h.QoS) << 1
	if h.Retain {
		b |= 0x01
	}
	if err := buf.WriteUint8(b); err != nil {
		return 0, err
	}
	n, err := WriteVariableLength(buf, h.RemainingLength)
	return 1 + n, err
}
