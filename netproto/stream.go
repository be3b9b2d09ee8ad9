package netproto

import (
	"fmt"

	"github.com/anon55555/reliudp/bitstream"
)

// Mode selects whether a Stream is packing values into a buffer or
// unpacking them back out of one.
type Mode int

const (
	// ModeWrite packs values into the Stream's buffer.
	ModeWrite Mode = iota
	// ModeRead unpacks values from the Stream's buffer.
	ModeRead
)

// Stream is the uniform read/write dispatch used by every Serialize
// method in this module: the same call serializes a value on the way
// out and decodes it on the way back in, driven by Mode, so a type's
// Serialize method is written once and works for both directions.
type Stream struct {
	mode Mode
	w    *bitstream.Writer
	r    *bitstream.Reader
}

// NewWriteStream returns a Stream that packs into buf.
func NewWriteStream(buf []byte) *Stream {
	return &Stream{mode: ModeWrite, w: bitstream.NewWriter(buf)}
}

// NewReadStream returns a Stream that unpacks numBits bits from buf.
func NewReadStream(buf []byte, numBits int) *Stream {
	return &Stream{mode: ModeRead, r: bitstream.NewReader(buf, numBits)}
}

// IsWriting reports whether the Stream is in ModeWrite.
func (s *Stream) IsWriting() bool { return s.mode == ModeWrite }

// IsReading reports whether the Stream is in ModeRead.
func (s *Stream) IsReading() bool { return s.mode == ModeRead }

// SerializeBits packs or unpacks the low n bits of *v.
func (s *Stream) SerializeBits(v *uint32, n int) error {
	if s.IsWriting() {
		return s.w.WriteBits(*v, n)
	}
	x, err := s.r.ReadBits(n)
	if err != nil {
		return err
	}
	*v = x
	return nil
}

// SerializeUint16 packs or unpacks a fixed 16-bit field.
func (s *Stream) SerializeUint16(v *uint16) error {
	var x uint32
	if s.IsWriting() {
		x = uint32(*v)
	}
	if err := s.SerializeBits(&x, 16); err != nil {
		return err
	}
	if s.IsReading() {
		*v = uint16(x)
	}
	return nil
}

// SerializeUint32 packs or unpacks a fixed 32-bit field.
func (s *Stream) SerializeUint32(v *uint32) error {
	return s.SerializeBits(v, 32)
}

// SerializeBool packs or unpacks a single bit.
func (s *Stream) SerializeBool(v *bool) error {
	var x uint32
	if s.IsWriting() && *v {
		x = 1
	}
	if err := s.SerializeBits(&x, 1); err != nil {
		return err
	}
	if s.IsReading() {
		*v = x != 0
	}
	return nil
}

// SerializeInteger packs or unpacks *v as an offset from min, in
// bitstream.BitsRequired(min, max) bits.
func (s *Stream) SerializeInteger(v *int32, min, max int32) error {
	if s.IsWriting() {
		return s.w.SerializeInteger(*v, min, max)
	}
	x, err := s.r.SerializeInteger(min, max)
	if err != nil {
		return err
	}
	*v = x
	return nil
}

// SerializeBlock packs or unpacks a variable-length byte block no
// longer than maxBytes, as a length prefix followed by the bytes.
func (s *Stream) SerializeBlock(v *[]byte, maxBytes int) error {
	if s.IsWriting() {
		return s.w.SerializeBlock(*v, maxBytes)
	}
	b, err := s.r.SerializeBlock(maxBytes)
	if err != nil {
		return err
	}
	*v = b
	return nil
}

// SerializeBytes packs or unpacks exactly n raw bytes, with no length
// prefix: used where the length is already known from other fields,
// unlike SerializeBlock which encodes its own length.
func (s *Stream) SerializeBytes(v *[]byte, n int) error {
	if s.IsWriting() {
		if len(*v) != n {
			return fmt.Errorf("netproto: SerializeBytes: have %d bytes, want %d", len(*v), n)
		}
		return s.w.WriteBytes(*v)
	}
	b := make([]byte, n)
	if err := s.r.ReadBytes(b); err != nil {
		return err
	}
	*v = b
	return nil
}

// Flush byte-aligns a write Stream's tail and returns the number of
// bytes written. It is a no-op returning 0 on a read Stream.
func (s *Stream) Flush() (int, error) {
	if s.IsWriting() {
		return s.w.Flush()
	}
	return 0, nil
}

// BitsRead returns the number of bits consumed so far by a read Stream.
func (s *Stream) BitsRead() int {
	if s.IsReading() {
		return s.r.BitsRead()
	}
	return 0
}

// Mark snapshots a write Stream's position so a speculative write that
// turns out not to fit can be rolled back with Reset, instead of
// double-serializing candidates to measure them first. Calling Mark on
// a read Stream returns the zero Checkpoint and is never meaningful.
func (s *Stream) Mark() bitstream.Checkpoint {
	if s.IsWriting() {
		return s.w.Mark()
	}
	return bitstream.Checkpoint{}
}

// Reset restores a write Stream to a Checkpoint returned by Mark.
func (s *Stream) Reset(cp bitstream.Checkpoint) {
	if s.IsWriting() {
		s.w.Reset(cp)
	}
}

// Serializable is implemented by anything that can serialize itself
// symmetrically through a Stream: the same method writes the type's
// fields in ModeWrite and reads them back in ModeRead.
type Serializable interface {
	Serialize(s *Stream) error
}
