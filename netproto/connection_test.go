package netproto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingChannel is a minimal Channel that writes nothing and just
// records the acks and losses it's told about, keyed by an id it
// assigns itself on OnPacketSerialized.
type recordingChannel struct {
	nextID    uint16
	acked     []uint16
	lost      []uint16
	writeErr  error
	readErr   error
	readsSeen int
}

func (c *recordingChannel) WriteData(s *Stream) error { return c.writeErr }
func (c *recordingChannel) ReadData(s *Stream) error {
	c.readsSeen++
	return c.readErr
}
func (c *recordingChannel) OnPacketSerialized(seq Sequence, now float64) []uint16 {
	id := c.nextID
	c.nextID++
	return []uint16{id}
}
func (c *recordingChannel) OnPacketAcked(seq Sequence, ids []uint16) {
	c.acked = append(c.acked, ids...)
}
func (c *recordingChannel) OnPacketLost(seq Sequence, ids []uint16) {
	c.lost = append(c.lost, ids...)
}
func (c *recordingChannel) Update(t TimeBase) {}

func TestWritePacketThenReadPacketInfersAck(t *testing.T) {
	sendCh := &recordingChannel{}
	sender := NewConnection(Config{}, []Channel{sendCh})

	recvCh := &recordingChannel{}
	receiver := NewConnection(Config{}, []Channel{recvCh})

	buf := make([]byte, 512)
	n, err := sender.WritePacket(buf)
	require.NoError(t, err)

	require.NoError(t, receiver.ReadPacket(buf, n))
	assert.EqualValues(t, 1, receiver.GetCounter(PacketsRead))
	assert.Equal(t, 1, recvCh.readsSeen)

	// Receiver's next outbound packet carries an ack for what it just
	// received; once the sender reads that back, its channel should
	// see the first packet's id acked.
	buf2 := make([]byte, 512)
	n2, err := receiver.WritePacket(buf2)
	require.NoError(t, err)
	require.NoError(t, sender.ReadPacket(buf2, n2))

	assert.Equal(t, []uint16{0}, sendCh.acked)
	assert.EqualValues(t, 1, sender.GetCounter(PacketsAcked))
}

func TestReadPacketDiscardsStalePacket(t *testing.T) {
	ch := &recordingChannel{}
	conn := NewConnection(Config{ReceivedPacketsCapacity: 256}, []Channel{ch})

	buf := make([]byte, 64)
	s := NewWriteStream(buf)
	typ := int32(0)
	require.NoError(t, s.SerializeInteger(&typ, 0, 0))
	seq := uint16(0)
	require.NoError(t, s.SerializeUint16(&seq))
	ack := uint16(0)
	require.NoError(t, s.SerializeUint16(&ack))
	ackBits := uint32(0)
	require.NoError(t, s.SerializeUint32(&ackBits))
	n, err := s.Flush()
	require.NoError(t, err)

	require.NoError(t, conn.ReadPacket(buf[:n], n))
	assert.EqualValues(t, 0, conn.GetCounter(PacketsDiscarded))

	// Push highestReceived far enough ahead that sequence 0 now falls
	// outside the receive window and must be discarded.
	for i := 1; i <= 300; i++ {
		s2 := NewWriteStream(buf)
		require.NoError(t, s2.SerializeInteger(&typ, 0, 0))
		seqi := uint16(i)
		require.NoError(t, s2.SerializeUint16(&seqi))
		require.NoError(t, s2.SerializeUint16(&ack))
		require.NoError(t, s2.SerializeUint32(&ackBits))
		n2, err := s2.Flush()
		require.NoError(t, err)
		require.NoError(t, conn.ReadPacket(buf[:n2], n2))
	}

	s3 := NewWriteStream(buf)
	require.NoError(t, s3.SerializeInteger(&typ, 0, 0))
	staleSeq := uint16(0)
	require.NoError(t, s3.SerializeUint16(&staleSeq))
	require.NoError(t, s3.SerializeUint16(&ack))
	require.NoError(t, s3.SerializeUint32(&ackBits))
	n3, err := s3.Flush()
	require.NoError(t, err)

	require.NoError(t, conn.ReadPacket(buf[:n3], n3))
	assert.EqualValues(t, 1, conn.GetCounter(PacketsDiscarded))
}

func TestPacketDeclaredLostAfterAckWindow(t *testing.T) {
	sendCh := &recordingChannel{}
	sender := NewConnection(Config{AckWindowSize: 32}, []Channel{sendCh})

	buf := make([]byte, 64)
	_, err := sender.WritePacket(buf) // seq 0, never acked
	require.NoError(t, err)

	// Feed acks for seq 1..40 (none of which include seq 0) by
	// reading packets that claim those sequences, each nudging
	// highestReceived forward so processLosses walks past seq 0's
	// ack-window deadline.
	for i := 1; i <= 40; i++ {
		s := NewWriteStream(buf)
		typ := int32(0)
		require.NoError(t, s.SerializeInteger(&typ, 0, 0))
		seq := uint16(i)
		require.NoError(t, s.SerializeUint16(&seq))
		ack := uint16(i)
		require.NoError(t, s.SerializeUint16(&ack))
		ackBits := uint32(0)
		require.NoError(t, s.SerializeUint32(&ackBits))
		n, err := s.Flush()
		require.NoError(t, err)
		require.NoError(t, sender.ReadPacket(buf[:n], n))
	}

	assert.Equal(t, []uint16{0}, sendCh.lost)
}

func TestGreaterThanWraparound(t *testing.T) {
	assert.True(t, GreaterThan(1, 0))
	assert.False(t, GreaterThan(0, 1))
	assert.True(t, GreaterThan(0, 65535))
	assert.False(t, GreaterThan(65535, 0))
	assert.False(t, GreaterThan(5, 5))
}
