package bitstream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTripIntegersAndBits(t *testing.T) {
	buf := make([]byte, 64)
	w := NewWriter(buf)

	require.NoError(t, w.SerializeInteger(-5, -10, 10))
	require.NoError(t, w.WriteBits(0xDEADBEEF, 32))
	require.NoError(t, w.SerializeInteger(0, 0, 255))

	n, err := w.Flush()
	require.NoError(t, err)
	require.Greater(t, n, 0)

	r := NewReader(buf, n*8)

	v, err := r.SerializeInteger(-10, 10)
	require.NoError(t, err)
	assert.EqualValues(t, -5, v)

	bits, err := r.ReadBits(32)
	require.NoError(t, err)
	assert.EqualValues(t, 0xDEADBEEF, bits)

	v2, err := r.SerializeInteger(0, 255)
	require.NoError(t, err)
	assert.EqualValues(t, 0, v2)
}

func TestRoundTripManyWidths(t *testing.T) {
	type write struct {
		value uint32
		bits  int
	}
	writes := []write{
		{1, 1}, {0, 1}, {7, 3}, {0xffff, 16}, {12345, 14},
		{0xffffffff, 32}, {0, 32}, {3, 2}, {1000000, 20},
	}

	buf := make([]byte, 64)
	w := NewWriter(buf)
	for _, wr := range writes {
		require.NoError(t, w.WriteBits(wr.value, wr.bits))
	}
	n, err := w.Flush()
	require.NoError(t, err)

	r := NewReader(buf, n*8)
	for _, wr := range writes {
		got, err := r.ReadBits(wr.bits)
		require.NoError(t, err)
		assert.EqualValues(t, wr.value, got)
	}
}

func TestWriteBitsRejectsOutOfRangeValue(t *testing.T) {
	w := NewWriter(make([]byte, 8))
	err := w.WriteBits(8, 3) // 8 doesn't fit in 3 bits
	assert.ErrorIs(t, err, ErrOverflow)
}

func TestSerializeIntegerRejectsOutOfRangeValue(t *testing.T) {
	w := NewWriter(make([]byte, 8))
	err := w.SerializeInteger(100, 0, 10)
	assert.ErrorIs(t, err, ErrOverflow)
}

func TestWriteOverflowsSmallBuffer(t *testing.T) {
	w := NewWriter(make([]byte, 1))
	err := w.WriteBits(0xffffffff, 32)
	assert.ErrorIs(t, err, ErrOverflow)

	// once overflowed, every further write keeps failing.
	err = w.WriteBits(1, 1)
	assert.ErrorIs(t, err, ErrOverflow)
}

func TestReadPastEndFails(t *testing.T) {
	buf := make([]byte, 4)
	w := NewWriter(buf)
	require.NoError(t, w.WriteBits(1, 8))
	n, err := w.Flush()
	require.NoError(t, err)

	r := NewReader(buf, n*8)
	_, err = r.ReadBits(8)
	require.NoError(t, err)

	_, err = r.ReadBits(8)
	assert.ErrorIs(t, err, ErrUnderflow)
}

func TestSerializeBlockRoundTrip(t *testing.T) {
	for _, size := range []int{1, 2, 63, 64, 255} {
		data := make([]byte, size)
		for i := range data {
			data[i] = byte(i*7 + size)
		}

		buf := make([]byte, 512)
		w := NewWriter(buf)
		require.NoError(t, w.SerializeBlock(data, 256))
		n, err := w.Flush()
		require.NoError(t, err)

		r := NewReader(buf, n*8)
		got, err := r.SerializeBlock(256)
		require.NoError(t, err)
		assert.Equal(t, data, got)
	}
}

func TestCheckpointRollsBackFailedWrite(t *testing.T) {
	w := NewWriter(make([]byte, 4))
	require.NoError(t, w.WriteBits(0xabcd, 16))

	cp := w.Mark()
	require.NoError(t, w.WriteBits(0x1234, 16))

	err := w.WriteBits(0xffffffff, 32) // overflows the 4-byte buffer
	require.ErrorIs(t, err, ErrOverflow)

	w.Reset(cp)
	require.NoError(t, w.WriteBits(0x5678, 16))

	n, err := w.Flush()
	require.NoError(t, err)

	r := NewReader(w.buf, n*8)
	v1, err := r.ReadBits(16)
	require.NoError(t, err)
	assert.EqualValues(t, 0xabcd, v1)
	v2, err := r.ReadBits(16)
	require.NoError(t, err)
	assert.EqualValues(t, 0x5678, v2)
}

func TestBitsRequired(t *testing.T) {
	assert.Equal(t, 0, BitsRequired(5, 5))
	assert.Equal(t, 1, BitsRequired(0, 1))
	assert.Equal(t, 8, BitsRequired(0, 255))
	assert.Equal(t, 9, BitsRequired(0, 256))
	assert.Equal(t, 5, BitsRequired(-10, 10))
}
