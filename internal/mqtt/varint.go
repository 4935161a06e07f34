package mqtt

import "github.com/codepr/tera-go/internal/buffer"

// ReadVariableLength decodes an MQTT variable-byte integer: 7 data bits plus
// one continuation bit per byte, minimum encoding required, up to 4 bytes,
// maximum value 268,435,455. Returns the decoded value and the number of
// bytes consumed. On any violation it returns ErrMalformed and the buffer's
// read cursor is left wherever the offending byte was (callers needing the
// at-entry position back must snapshot it themselves, as the fixed-header
// reader does).
func ReadVariableLength(buf *buffer.Buffer) (int, int, error) {
	var result uint32
	var multiplier uint32 = 1
	bytesRead := 0

	for {
		if bytesRead >= 4 {
			return 0, 0, ErrMalformed
		}
		b, err := buf.ReadUint8()
		if err != nil {
			return 0, 0, ErrIncomplete
		}
		bytesRead++

		result += uint32(b&0x7F) * multiplier

		if (b & 0x80) == 0 {
			// Minimum-encoding check: the value must not fit in fewer bytes.
			if bytesRead > 1 {
				minForBytes := uint32(1)
				for i := 1; i < bytesRead; i++ {
					minForBytes *= 128
				}
				if result < minForBytes {
					return 0, 0, ErrMalformed
				}
			}
			return int(result), bytesRead, nil
		}

		if multiplier > (1<<32-1)/128 {
			return 0, 0, ErrMalformed
		}
		multiplier *= 128
	}
}

// EncodedLength returns how many bytes WriteVariableLength would use to
// encode v, without writing anything.
func EncodedLength(v int) int {
	n := 1
	for v >= 128 {
		v /= 128
		n++
	}
	return n
}

// WriteVariableLength encodes v using the minimum number of bytes, per the
// MQTT variable-byte-integer rules, and returns the byte count written.
func WriteVariableLength(buf *buffer.Buffer, v int) (int, error) {
	written := 0
	for {
		digit := byte(v % 128)
		v /= 128
		if v > 0 {
			digit |= 0x80
		}
		if err := buf.WriteUint8(digit); err != nil {
			return written, err
		}
		written++
		if v == 0 {
			return written, nil
		}
	}
}
