// Package buffer implements the fixed-capacity read/write byte buffer that
// backs every connection's receive and send state, plus the big-endian
// structured primitives the packet codec builds on.
package buffer

import (
	"encoding/binary"
	"errors"
	"math"
)

// ErrBounds is returned whenever a read, write, peek, or skip would cross
// the buffer's capacity or its current write position.
var ErrBounds = errors.New("buffer: out of bounds")

// Buffer is a fixed backing region with independent read and write cursors
// that advance as bytes are written and consumed; only Reset, Compact and
// SetReadPos move them back. Capacity is fixed at construction; Reset
// rewinds both cursors without touching the backing bytes.
type Buffer struct {
	data     []byte
	readPos  int
	writePos int
}

// New allocates a Buffer with the given fixed capacity.
func New(size int) *Buffer {
	return &Buffer{data: make([]byte, size)}
}

// Wrap builds a Buffer whose backing region is data, rather than a freshly
// allocated slice. Used to back per-connection buffers with a slice carved
// out of a shared arena instead of an independent allocation.
func Wrap(data []byte) *Buffer {
	return &Buffer{data: data}
}

// Reset rewinds both cursors to the start of the backing region.
func (b *Buffer) Reset() {
	b.readPos = 0
	b.writePos = 0
}

// Len returns the fixed backing capacity.
func (b *Buffer) Len() int { return len(b.data) }

// Available returns the number of unread bytes.
func (b *Buffer) Available() int { return b.writePos - b.readPos }

// IsEmpty reports whether every written byte has been consumed.
func (b *Buffer) IsEmpty() bool { return b.readPos >= b.writePos }

// ReadPos returns the current read cursor, for decoders that need to
// restore position on an incomplete-packet result.
func (b *Buffer) ReadPos() int { return b.readPos }

// SetReadPos rewinds the read cursor, used by decoders to undo a partial
// read when a packet turns out to be incomplete.
func (b *Buffer) SetReadPos(pos int) { b.readPos = pos }

// WritePos returns the current write cursor.
func (b *Buffer) WritePos() int { return b.writePos }

// Append writes raw bytes at the write cursor, advancing it.
func (b *Buffer) Append(p []byte) error {
	if b.writePos+len(p) > len(b.data) {
		return ErrBounds
	}
	copy(b.data[b.writePos:], p)
	b.writePos += len(p)
	return nil
}

// Read copies length bytes starting at the read cursor into out and
// advances the cursor.
func (b *Buffer) Read(out []byte) error {
	if b.readPos+len(out) > b.writePos {
		return ErrBounds
	}
	copy(out, b.data[b.readPos:])
	b.readPos += len(out)
	return nil
}

// Peek copies length bytes starting at the read cursor into out without
// advancing it.
func (b *Buffer) Peek(out []byte) error {
	if b.readPos+len(out) > b.writePos {
		return ErrBounds
	}
	copy(out, b.data[b.readPos:])
	return nil
}

// Skip advances the read cursor by length bytes without copying.
func (b *Buffer) Skip(length int) error {
	if b.readPos+length > b.writePos {
		return ErrBounds
	}
	b.readPos += length
	return nil
}

// Bytes returns the unread slice of the buffer, valid until the next Reset.
func (b *Buffer) Bytes() []byte {
	return b.data[b.readPos:b.writePos]
}

// WriteTail returns the writable tail of the backing region, for callers
// that append via a raw read(2)/recv(2) call (see transport.Recv).
func (b *Buffer) WriteTail() []byte {
	return b.data[b.writePos:]
}

// Advance moves the write cursor forward by n bytes after an out-of-band
// append into WriteTail().
func (b *Buffer) Advance(n int) error {
	if b.writePos+n > len(b.data) {
		return ErrBounds
	}
	b.writePos += n
	return nil
}

// ReadTail returns the written but not yet consumed bytes, from the read
// cursor to the write cursor, for a raw send(2) call, mirroring the C
// buffer_net_send contract.
func (b *Buffer) ReadTail() []byte {
	return b.data[b.readPos:b.writePos]
}

// Compact shifts any unread bytes down to the start of the backing region
// and rebases both cursors accordingly, reclaiming the space consumed by
// already-decoded packets. Used on a receive buffer between read(2) calls
// once a decode pass leaves an incomplete trailing packet in place.
func (b *Buffer) Compact() {
	if b.readPos == 0 {
		return
	}
	n := b.writePos - b.readPos
	copy(b.data[:n], b.data[b.readPos:b.writePos])
	b.readPos = 0
	b.writePos = n
}

// --- structured big-endian primitives ---

// WriteUint8 appends a single byte.
func (b *Buffer) WriteUint8(v uint8) error { return b.Append([]byte{v}) }

// ReadUint8 reads a single byte.
func (b *Buffer) ReadUint8() (uint8, error) {
	var tmp [1]byte
	if err := b.Read(tmp[:]); err != nil {
		return 0, err
	}
	return tmp[0], nil
}

// WriteUint16 appends a big-endian uint16.
func (b *Buffer) WriteUint16(v uint16) error {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	return b.Append(tmp[:])
}

// ReadUint16 reads a big-endian uint16.
func (b *Buffer) ReadUint16() (uint16, error) {
	var tmp [2]byte
	if err := b.Read(tmp[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(tmp[:]), nil
}

// WriteInt16 appends a big-endian signed 16-bit integer.
func (b *Buffer) WriteInt16(v int16) error { return b.WriteUint16(uint16(v)) }

// ReadInt16 reads a big-endian signed 16-bit integer.
func (b *Buffer) ReadInt16() (int16, error) {
	v, err := b.ReadUint16()
	return int16(v), err
}

// WriteUint32 appends a big-endian uint32.
func (b *Buffer) WriteUint32(v uint32) error {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return b.Append(tmp[:])
}

// ReadUint32 reads a big-endian uint32.
func (b *Buffer) ReadUint32() (uint32, error) {
	var tmp [4]byte
	if err := b.Read(tmp[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(tmp[:]), nil
}

// WriteUint64 appends a big-endian uint64.
func (b *Buffer) WriteUint64(v uint64) error {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	return b.Append(tmp[:])
}

// ReadUint64 reads a big-endian uint64.
func (b *Buffer) ReadUint64() (uint64, error) {
	var tmp [8]byte
	if err := b.Read(tmp[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(tmp[:]), nil
}

// WriteFloat64 appends an IEEE-754 double in big-endian byte order.
func (b *Buffer) WriteFloat64(v float64) error {
	return b.WriteUint64(math.Float64bits(v))
}

// ReadFloat64 reads an IEEE-754 double in big-endian byte order.
func (b *Buffer) ReadFloat64() (float64, error) {
	bits, err := b.ReadUint64()
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(bits), nil
}

// WriteString writes a uint16 length prefix followed by the raw bytes.
func (b *Buffer) WriteString(s []byte) error {
	if err := b.WriteUint16(uint16(len(s))); err != nil {
		return err
	}
	return b.Append(s)
}

// ReadString reads a uint16 length prefix followed by that many raw bytes.
func (b *Buffer) ReadString() ([]byte, error) {
	n, err := b.ReadUint16()
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	if err := b.Read(out); err != nil {
		return nil, err
	}
	return out, nil
}

// ReadBinary reads length raw bytes without any length prefix.
func (b *Buffer) ReadBinary(length int) ([]byte, error) {
	out := make([]byte, length)
	if err := b.Read(out); err != nil {
		return nil, err
	}
	return out, nil
}
