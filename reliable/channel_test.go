package reliable

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anon55555/reliudp/netproto"
)

const chatMessageType = 1

type chatMessage struct {
	id  uint16
	Seq int32
}

func (m *chatMessage) Type() uint16    { return chatMessageType }
func (m *chatMessage) ID() uint16      { return m.id }
func (m *chatMessage) SetID(id uint16) { m.id = id }
func (m *chatMessage) Serialize(s *netproto.Stream) error {
	return s.SerializeInteger(&m.Seq, 0, 1<<20)
}

func newTestFactory(maxSmallBlockSize int) *MessageFactory {
	f := NewMessageFactory(maxSmallBlockSize)
	f.Register(chatMessageType, func() Message { return &chatMessage{} })
	f.Lock()
	return f
}

// linkedChannels returns two Channels, each driving its own single-
// channel Connection, so tests can exercise SendMessage/SendBlock on
// one side and ReceiveMessage on the other by pumping exchange.
func linkedChannels(cfg Config) (send *Channel, sendConn *netproto.Connection, recv *Channel, recvConn *netproto.Connection) {
	sendCfg, recvCfg := cfg, cfg
	send = NewChannel(sendCfg)
	recv = NewChannel(recvCfg)
	sendConn = netproto.NewConnection(netproto.Config{}, []netproto.Channel{send})
	recvConn = netproto.NewConnection(netproto.Config{}, []netproto.Channel{recv})
	return
}

// exchange runs one simulated tick: each connection writes a packet
// and the other reads it, unless drop says to lose it.
func exchange(t *testing.T, a, b *netproto.Connection, drop func(aToB bool) bool) {
	t.Helper()

	buf := make([]byte, 1500)
	n, err := a.WritePacket(buf)
	require.NoError(t, err)
	if n > 0 && (drop == nil || !drop(true)) {
		require.NoError(t, b.ReadPacket(buf[:n], n))
	}

	buf2 := make([]byte, 1500)
	n2, err := b.WritePacket(buf2)
	require.NoError(t, err)
	if n2 > 0 && (drop == nil || !drop(false)) {
		require.NoError(t, a.ReadPacket(buf2[:n2], n2))
	}
}

func runTicks(a, b *netproto.Connection, n int, deltaTime float64, drop func(aToB bool) bool, t *testing.T) {
	now := 0.0
	for i := 0; i < n; i++ {
		now += deltaTime
		a.Update(netproto.TimeBase{Time: now, DeltaTime: deltaTime})
		b.Update(netproto.TimeBase{Time: now, DeltaTime: deltaTime})
		exchange(t, a, b, drop)
	}
}

func drainMessages(ch *Channel) []*chatMessage {
	var got []*chatMessage
	for {
		m, ok := ch.ReceiveMessage()
		if !ok {
			return got
		}
		got = append(got, m.(*chatMessage))
	}
}

func TestMessagesDeliveredInOrder(t *testing.T) {
	cfg := Config{Factory: newTestFactory(256)}
	send, sendConn, recv, recvConn := linkedChannels(cfg)

	for i := 0; i < 32; i++ {
		require.NoError(t, send.SendMessage(&chatMessage{Seq: int32(i)}))
	}

	runTicks(sendConn, recvConn, 20, 0.01, nil, t)

	got := drainMessages(recv)
	require.Len(t, got, 32)
	for i, m := range got {
		assert.EqualValues(t, i, m.Seq)
	}
	assert.EqualValues(t, 0, recv.GetCounter(MessagesEarly))
}

func TestSmallBlockDeliveredInline(t *testing.T) {
	cfg := Config{Factory: newTestFactory(256)}
	send, sendConn, recv, recvConn := linkedChannels(cfg)

	data := make([]byte, 40)
	for i := range data {
		data[i] = byte(i)
	}
	require.NoError(t, send.SendBlock(data))

	runTicks(sendConn, recvConn, 10, 0.01, nil, t)

	m, ok := recv.ReceiveMessage()
	require.True(t, ok)
	bm, ok := m.(*BlockMessage)
	require.True(t, ok)
	assert.Equal(t, data, bm.Block)
}

func TestLargeBlockFragmentedAndReassembled(t *testing.T) {
	cfg := Config{Factory: newTestFactory(256), FragmentSize: 64, MaxSmallBlockSize: 256}
	send, sendConn, recv, recvConn := linkedChannels(cfg)

	data := make([]byte, 300) // 5 fragments at 64 bytes
	for i := range data {
		data[i] = byte((i * 7) % 251)
	}
	require.NoError(t, send.SendBlock(data))

	runTicks(sendConn, recvConn, 60, 0.01, nil, t)

	m, ok := recv.ReceiveMessage()
	require.True(t, ok)
	bm, ok := m.(*BlockMessage)
	require.True(t, ok)
	assert.Equal(t, data, bm.Block)
}

func TestMixedMessagesAndBlockStayInOrder(t *testing.T) {
	cfg := Config{Factory: newTestFactory(64), FragmentSize: 32, MaxSmallBlockSize: 64}
	send, sendConn, recv, recvConn := linkedChannels(cfg)

	const n = 64
	blocks := make(map[int][]byte)
	for i := 0; i < n; i++ {
		if i%10 == 9 {
			size := (i+1)*8 + i
			data := make([]byte, size)
			for j := range data {
				data[j] = byte((i + j) % 256)
			}
			blocks[i] = data
			require.NoError(t, send.SendBlock(data))
		} else {
			require.NoError(t, send.SendMessage(&chatMessage{Seq: int32(i)}))
		}
	}

	runTicks(sendConn, recvConn, 200, 0.01, nil, t)

	for i := 0; i < n; i++ {
		m, ok := recv.ReceiveMessage()
		require.True(t, ok, "expected message %d", i)
		if data, isBlock := blocks[i]; isBlock {
			bm, ok := m.(*BlockMessage)
			require.True(t, ok, "expected message %d to be a block", i)
			assert.Equal(t, data, bm.Block)
		} else {
			cm, ok := m.(*chatMessage)
			require.True(t, ok, "expected message %d to be a chatMessage", i)
			assert.EqualValues(t, i, cm.Seq)
		}
	}
}

func TestMessageSurvivesDroppedPackets(t *testing.T) {
	cfg := Config{Factory: newTestFactory(256), ResendRate: 0.05}
	send, sendConn, recv, recvConn := linkedChannels(cfg)

	require.NoError(t, send.SendMessage(&chatMessage{Seq: 42}))

	dropped := 0
	drop := func(aToB bool) bool {
		if aToB && dropped < 3 {
			dropped++
			return true
		}
		return false
	}
	runTicks(sendConn, recvConn, 60, 0.02, drop, t)

	got := drainMessages(recv)
	require.Len(t, got, 1)
	assert.EqualValues(t, 42, got[0].Seq)
}

func TestSendQueueFullRejectsMessage(t *testing.T) {
	cfg := Config{Factory: newTestFactory(256), SendQueueSize: 4}
	ch := NewChannel(cfg)

	for i := 0; i < 4; i++ {
		require.NoError(t, ch.SendMessage(&chatMessage{Seq: int32(i)}))
	}
	err := ch.SendMessage(&chatMessage{Seq: 4})
	assert.ErrorIs(t, err, ErrSendQueueFull)
}

func TestSendBlockTooLargeRejected(t *testing.T) {
	cfg := Config{Factory: newTestFactory(256), FragmentSize: 16, MaxBlockSize: 64}
	ch := NewChannel(cfg)

	err := ch.SendBlock(make([]byte, 1000))
	assert.ErrorIs(t, err, ErrBlockTooLarge)
}
