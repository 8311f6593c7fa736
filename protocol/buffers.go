package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/rs/zerolog/log"
)

// Numeric is the set of fixed-width values carried on the wire
type Numeric interface {
	uint8 | uint16 | uint32 | uint64 | int8 | int16 | int32 | int64 | float32 | float64
}

// PacketWriter accumulates an outbound packet
type PacketWriter struct {
	buf []byte
}

// NewPacketWriter creates a writer with room for capacity bytes
func NewPacketWriter(capacity int) *PacketWriter {
	return &PacketWriter{buf: make([]byte, 0, capacity)}
}

// WriteByte appends a single byte
func (w *PacketWriter) WriteByte(b byte) error {
	w.buf = append(w.buf, b)
	return nil
}

// WriteType appends a field type tag
func (w *PacketWriter) WriteType(t Type) {
	w.buf = append(w.buf, byte(t))
}

// WriteString appends s followed by a null terminator
func (w *PacketWriter) WriteString(s string) {
	w.buf = append(w.buf, s...)
	w.buf = append(w.buf, 0)
}

// WriteNumber appends the fixed-width little-endian encoding of v
func WriteNumber[T Numeric](w *PacketWriter, v T) {
	w.buf, _ = binary.Append(w.buf, binary.LittleEndian, v)
}

// Len returns the number of bytes written so far
func (w *PacketWriter) Len() int {
	return len(w.buf)
}

// Bytes returns the accumulated packet
func (w *PacketWriter) Bytes() []byte {
	return w.buf
}

// Seal appends the CRC32 trailer and returns the finished packet
func (w *PacketWriter) Seal() []byte {
	w.buf = appendChecksum(w.buf)
	return w.buf
}

// Reset clears the writer for reuse
func (w *PacketWriter) Reset() {
	w.buf = w.buf[:0]
}

// PacketReader walks an inbound packet with bounds-checked reads.
// A read past the end logs, yields the zero value and latches Err.
type PacketReader struct {
	data []byte
	pos  int
	err  error
}

// NewPacketReader reads from data starting at offset
func NewPacketReader(data []byte, offset int) *PacketReader {
	return &PacketReader{data: data, pos: offset}
}

func (r *PacketReader) fail(want int) {
	if r.err == nil {
		r.err = fmt.Errorf("%w: read of %d bytes at offset %d exceeds %d", ErrMalformed, want, r.pos, len(r.data))
		log.Warn().Str("component", "codec").Int("offset", r.pos).Int("want", want).
			Int("size", len(r.data)).Msg("read past end of packet")
	}
}

// GetByte returns the next byte
func (r *PacketReader) GetByte() byte {
	if r.pos >= len(r.data) {
		r.fail(1)
		return 0
	}
	b := r.data[r.pos]
	r.pos++
	return b
}

// GetType returns the next byte as a type tag
func (r *PacketReader) GetType() Type {
	return Type(r.GetByte())
}

// GetString reads up to and including the next null terminator
func (r *PacketReader) GetString() string {
	for i := r.pos; i < len(r.data); i++ {
		if r.data[i] == 0 {
			s := string(r.data[r.pos:i])
			r.pos = i + 1
			return s
		}
	}
	r.fail(len(r.data) - r.pos + 1)
	r.pos = len(r.data)
	return ""
}

// GetNumber reads a fixed-width little-endian value
func GetNumber[T Numeric](r *PacketReader) T {
	var v T
	size := binary.Size(v)
	if r.pos+size > len(r.data) {
		r.fail(size)
		return v
	}
	_, _ = binary.Decode(r.data[r.pos:r.pos+size], binary.LittleEndian, &v)
	r.pos += size
	return v
}

// Pos returns the read offset
func (r *PacketReader) Pos() int {
	return r.pos
}

// Remaining returns the number of unread bytes
func (r *PacketReader) Remaining() int {
	return len(r.data) - r.pos
}

// Err returns the first out-of-bounds error, if any
func (r *PacketReader) Err() error {
	return r.err
}

// FifoBuffer is a circular byte buffer for serial I/O. It is not safe for
// concurrent use; owners guard it with their own mutex.
type FifoBuffer struct {
	buf   []byte
	read  int
	write int
	size  int
}

// NewFifoBuffer creates a FifoBuffer holding up to capacity bytes
func NewFifoBuffer(capacity int) *FifoBuffer {
	return &FifoBuffer{
		buf:  make([]byte, capacity+1),
		size: capacity + 1,
	}
}

// Write appends as much of data as fits and returns the count written
func (f *FifoBuffer) Write(data []byte) int {
	written := 0
	for _, b := range data {
		nextWrite := (f.write + 1) % f.size
		if nextWrite == f.read {
			break
		}
		f.buf[f.write] = b
		f.write = nextWrite
		written++
	}
	return written
}

// PopByte removes one byte; ok is false when the buffer is empty
func (f *FifoBuffer) PopByte() (b byte, ok bool) {
	if f.read == f.write {
		return 0, false
	}
	b = f.buf[f.read]
	f.read = (f.read + 1) % f.size
	return b, true
}

// Available returns the number of bytes available for reading
func (f *FifoBuffer) Available() int {
	if f.write >= f.read {
		return f.write - f.read
	}
	return f.size - f.read + f.write
}

// Free returns the number of bytes available for writing
func (f *FifoBuffer) Free() int {
	return f.size - f.Available() - 1
}

// Reset discards everything buffered
func (f *FifoBuffer) Reset() {
	f.read = 0
	f.write = 0
}
