package mqtt

import "github.com/codepr/tera-go/internal/buffer"

// WritePingresp encodes a zero-length PINGRESP.
func WritePingresp(buf *buffer.Buffer) error {
	_, err := WriteFixedHeader(buf, FixedHeader{Type: PINGRESP})
	return err
}

// WritePingreq encodes a zero-length PINGREQ, for a client driving this
// codec directly.
func WritePingreq(buf *buffer.Buffer) error {
	_, err := WriteFixedHeader(buf, FixedHeader{Type: PINGREQ})
	return err
}

// ReadPingresp decodes a PINGRESP whose fixed header h has already been
// consumed; it carries no payload.
func ReadPingresp(h FixedHeader) error {
	if h.RemainingLength != 0 {
		return ErrMalformed
	}
	return nil
}
