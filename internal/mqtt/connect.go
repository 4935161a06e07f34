package mqtt

import "github.com/codepr/tera-go/internal/buffer"

var protocolName = [4]byte{'M', 'Q', 'T', 'T'}

const protocolVersion5 = 5

// Connect is a decoded CONNECT variable header and payload.
type Connect struct {
	CleanStart bool
	KeepAlive  uint16

	ClientID []byte

	WillFlag    bool
	WillQoS     QoS
	WillRetain  bool
	WillTopic   []byte
	WillMessage []byte

	HasUsername bool
	Username    []byte
	HasPassword bool
	Password    []byte
}

// ReadConnect decodes a CONNECT packet's variable header and payload, which
// together occupy remaining bytes of buf starting at the current read
// position. The fixed header must already have been consumed by the caller.
//
// A CONNECT naming any protocol version other than 5 yields
// ErrUnsupportedProtocolVersion so the caller can reply CONNACK with
// ConnackUnsupportedProtocolVersion before closing the connection. No
// CONNECT properties are understood by this broker; a non-zero properties
// length is rejected fail-closed.
func ReadConnect(buf *buffer.Buffer, remaining int) (Connect, error) {
	var c Connect

	name, err := buf.ReadString()
	if err != nil {
		return c, ErrMalformed
	}
	if len(name) != len(protocolName) || name[0] != protocolName[0] ||
		name[1] != protocolName[1] || name[2] != protocolName[2] || name[3] != protocolName[3] {
		return c, ErrMalformed
	}

	version, err := buf.ReadUint8()
	if err != nil {
		return c, ErrMalformed
	}
	if version != protocolVersion5 {
		return c, ErrUnsupportedProtocolVersion
	}

	flags, err := buf.ReadUint8()
	if err != nil {
		return c, ErrMalformed
	}

	keepAlive, err := buf.ReadUint16()
	if err != nil {
		return c, ErrMalformed
	}

	propsLen, _, err := ReadVariableLength(buf)
	if err != nil {
		return c, ErrMalformed
	}
	if propsLen != 0 {
		// No CONNECT property is understood by this broker.
		return c, ErrMalformed
	}

	clientID, err := buf.ReadString()
	if err != nil {
		return c, ErrMalformed
	}

	c.CleanStart = flags&connectFlagCleanStart != 0
	c.KeepAlive = keepAlive
	c.ClientID = clientID

	if flags&connectFlagWill != 0 {
		c.WillFlag = true
		c.WillQoS = QoS((flags & connectFlagWillQoS) >> 3)
		c.WillRetain = flags&connectFlagWillRetain != 0

		willPropsLen, _, err := ReadVariableLength(buf)
		if err != nil {
			return c, ErrMalformed
		}
		if err := buf.Skip(willPropsLen); err != nil {
			return c, ErrMalformed
		}

		topic, err := buf.ReadString()
		if err != nil {
			return c, ErrMalformed
		}
		message, err := buf.ReadString()
		if err != nil {
			return c, ErrMalformed
		}
		c.WillTopic = topic
		c.WillMessage = message
	}

	if flags&connectFlagUsername != 0 {
		username, err := buf.ReadString()
		if err != nil {
			return c, ErrMalformed
		}
		c.HasUsername = true
		c.Username = username
	}

	if flags&connectFlagPassword != 0 {
		password, err := buf.ReadString()
		if err != nil {
			return c, ErrMalformed
		}
		c.HasPassword = true
		c.Password = password
	}

	return c, nil
}

// WriteConnect encodes a CONNECT packet: protocol name/version, the flags
// byte derived from c's fields, keepalive, an empty properties section (this
// broker defines none and a client built on this codec needs none either),
// and the payload (client id, optional will, optional username/password).
func WriteConnect(buf *buffer.Buffer, c Connect) error {
	flags := byte(0)
	if c.CleanStart {
		flags |= connectFlagCleanStart
	}
	if c.WillFlag {
		flags |= connectFlagWill
		flags |= byte(c.WillQoS) << 3
		if c.WillRetain {
			flags |= connectFlagWillRetain
		}
	}
	if c.HasUsername {
		flags |= connectFlagUsername
	}
	if c.HasPassword {
		flags |= connectFlagPassword
	}

	payloadLen := 2 + len(c.ClientID)
	if c.WillFlag {
		payloadLen += 1 + 2 + len(c.WillTopic) + 2 + len(c.WillMessage)
	}
	if c.HasUsername {
		payloadLen += 2 + len(c.Username)
	}
	if c.HasPassword {
		payloadLen += 2 + len(c.Password)
	}

	remaining := 2 + len(protocolName) + 1 + 1 + 2 + 1 + payloadLen

	if _, err := WriteFixedHeader(buf, FixedHeader{Type: CONNECT, RemainingLength: remaining}); err != nil {
		return err
	}
	if err := buf.WriteString(protocolName[:]); err != nil {
		return err
	}
	if err := buf.WriteUint8(protocolVersion5); err != nil {
		return err
	}
	if err := buf.WriteUint8(flags); err != nil {
		return err
	}
	if err := buf.WriteUint16(c.KeepAlive); err != nil {
		return err
	}
	if _, err := WriteVariableLength(buf, 0); err != nil {
		return err
	}
	if err := buf.WriteString(c.ClientID); err != nil {
		return err
	}
	if c.WillFlag {
		if _, err := WriteVariableLength(buf, 0); err != nil {
			return err
		}
		if err := buf.WriteString(c.WillTopic); err != nil {
			return err
		}
		if err := buf.WriteString(c.WillMessage); err != nil {
			return err
		}
	}
	if c.HasUsername {
		if err := buf.WriteString(c.Username); err != nil {
			return err
		}
	}
	if c.HasPassword {
		if err := buf.WriteString(c.Password); err != nil {
			return err
		}
	}
	return nil
}

// Connack is a decoded CONNACK, for a client driving this codec directly.
type Connack struct {
	SessionPresent bool
	Reason         ConnackReason
}

// ReadConnack decodes a CONNACK whose fixed header h has already been
// consumed. Any properties section present is skipped uninterpreted, since
// this broker's WriteConnack never emits one.
func ReadConnack(buf *buffer.Buffer, h FixedHeader) (Connack, error) {
	var c Connack

	flags, err := buf.ReadUint8()
	if err != nil {
		return c, ErrMalformed
	}
	c.SessionPresent = flags&0x01 != 0

	reason, err := buf.ReadUint8()
	if err != nil {
		return c, ErrMalformed
	}
	c.Reason = ConnackReason(reason)

	if h.RemainingLength > 2 {
		propsLen, _, err := ReadVariableLength(buf)
		if err != nil {
			return c, ErrMalformed
		}
		if err := buf.Skip(propsLen); err != nil {
			return c, ErrMalformed
		}
	}

	return c, nil
}

// WriteConnack encodes a CONNACK: ack flags (session-present bit only),
// reason code, and an empty MQTT 5.0 properties section.
func WriteConnack(buf *buffer.Buffer, sessionPresent bool, reason ConnackReason) error {
	remaining := 1 + 1 + 1 // ack flags, reason, properties length (0)
	if _, err := WriteFixedHeader(buf, FixedHeader{Type: CONNACK, RemainingLength: remaining}); err != nil {
		return err
	}
	ackFlags := byte(0)
	if sessionPresent {
		ackFlags |= 0x01
	}
	if err := buf.WriteUint8(ackFlags); err != nil {
		return err
	}
	if err := buf.WriteUint8(byte(reason)); err != nil {
		return err
	}
	return buf.WriteUint8(0)
}
