package reliable

import (
	"errors"
	"fmt"

	"github.com/anon55555/reliudp/bitstream"
	"github.com/anon55555/reliudp/netproto"
)

// Counter identifies one of a Channel's diagnostic counters.
type Counter int

const (
	// MessagesSent counts SendMessage and SendBlock calls.
	MessagesSent Counter = iota
	// MessagesReceived counts messages (including reassembled blocks)
	// newly stored in the receive queue.
	MessagesReceived
	// MessagesEarly counts inbound messages dropped because they fell
	// outside the receive window — too far ahead of next_expected_id
	// for the configured ReceiveQueueSize.
	MessagesEarly

	numCounters
)

// ErrBlockTooLarge is returned by SendBlock when data would need more
// fragments than Config.MaxBlockSize/FragmentSize allows.
var ErrBlockTooLarge = errors.New("reliable: block exceeds configured maximum size")

// pendingSend is the bridge between a Channel's WriteData call and its
// own OnPacketSerialized call that immediately follows it (after every
// other channel's WriteData has also run): WriteData records exactly
// what it committed to the stream here, and OnPacketSerialized reads
// it back to stamp send timers and build the id list the Connection
// will replay on ack or loss.
type pendingSend struct {
	messageIDs  []netproto.Sequence
	hasFragment bool
	blockID     netproto.Sequence
	fragIndex   int
}

// Channel implements netproto.Channel: per-message reliable delivery
// with retransmission, plus block fragmentation/reassembly, layered
// on top of a Connection's packet-level sequencing and acks.
type Channel struct {
	cfg          Config
	maxFragments int

	send *sendQueue
	recv *recvQueue

	recvBlock   *blockReceiveState
	recvBlockID netproto.Sequence

	pending pendingSend
	now     float64

	counters [numCounters]uint64
}

// NewChannel returns a Channel configured per cfg. cfg.Factory must be
// set (NewMessageFactory builds one with BlockMessageType registered).
func NewChannel(cfg Config) *Channel {
	cfg.setDefaults()
	if cfg.Factory == nil {
		panic("reliable: Config.Factory must be set")
	}
	return &Channel{
		cfg:          cfg,
		maxFragments: (cfg.MaxBlockSize + cfg.FragmentSize - 1) / cfg.FragmentSize,
		send:         newSendQueue(cfg.SendQueueSize),
		recv:         newRecvQueue(cfg.ReceiveQueueSize),
	}
}

// GetCounter returns the current value of one of the Channel's
// diagnostic counters.
func (c *Channel) GetCounter(k Counter) uint64 { return c.counters[k] }

// SendMessage assigns the next id to m and enqueues it for delivery.
func (c *Channel) SendMessage(m Message) error {
	if c.send.full() {
		return ErrSendQueueFull
	}
	c.send.pushMessage(m)
	c.counters[MessagesSent]++
	return nil
}

// SendBlock enqueues data for reliable delivery, inline as a single
// message if it fits in Config.MaxSmallBlockSize, or fragmented
// across many packets otherwise. Either way it consumes one message
// id and is delivered to the consumer through ReceiveMessage in its
// turn, like any other message.
func (c *Channel) SendBlock(data []byte) error {
	if c.send.full() {
		return ErrSendQueueFull
	}
	if len(data) <= c.cfg.MaxSmallBlockSize {
		return c.SendMessage(&BlockMessage{maxSize: c.cfg.MaxSmallBlockSize, Block: data})
	}

	b := newBlockSendState(data, c.cfg.FragmentSize)
	if b.totalFragments > c.maxFragments {
		return fmt.Errorf("reliable: SendBlock: %d bytes needs %d fragments, more than the configured maximum %d: %w",
			len(data), b.totalFragments, c.maxFragments, ErrBlockTooLarge)
	}
	c.send.pushBlock(b)
	c.counters[MessagesSent]++
	return nil
}

// ReceiveMessage returns the next in-order message, if one is ready.
func (c *Channel) ReceiveMessage() (Message, bool) {
	return c.recv.take()
}

// Update records the current time for WriteData's resend-eligibility
// checks. Everything else this channel does is computed live rather
// than through independent timers, so there is nothing further to do
// per tick.
func (c *Channel) Update(t netproto.TimeBase) {
	c.now = t.Time
}

// WriteData packs this channel's share of an outbound packet: an
// optional run of small messages, then an optional single block
// fragment. Both sections probe the remaining packet budget with
// Stream.Mark/Reset, growing the candidate batch one message at a
// time and keeping the largest one that still fits, rather than
// risking a partially-written, uncommittable batch.
func (c *Channel) WriteData(s *netproto.Stream) error {
	c.pending = pendingSend{}

	if err := c.writeMessages(s); err != nil {
		return fmt.Errorf("reliable: WriteData: messages: %w", err)
	}
	if err := c.writeFragment(s); err != nil {
		return fmt.Errorf("reliable: WriteData: fragment: %w", err)
	}
	return nil
}

func (c *Channel) writeMessages(s *netproto.Stream) error {
	candidates := c.send.messageRun(c.cfg.MaxMessagesPerPacket, c.now, c.cfg.ResendRate)
	cp := s.Mark()

	maxCount := c.cfg.MaxMessagesPerPacket
	committed := 0
	for n := 1; n <= len(candidates); n++ {
		s.Reset(cp)
		if err := writeMessageBatch(s, c.send, candidates[:n], maxCount); err != nil {
			if errors.Is(err, bitstream.ErrOverflow) {
				break
			}
			return err
		}
		committed = n
	}

	s.Reset(cp)
	if committed == 0 {
		has := false
		return s.SerializeBool(&has)
	}
	if err := writeMessageBatch(s, c.send, candidates[:committed], maxCount); err != nil {
		return err
	}
	c.pending.messageIDs = candidates[:committed]
	return nil
}

func writeMessageBatch(s *netproto.Stream, q *sendQueue, ids []netproto.Sequence, maxCount int) error {
	has := true
	if err := s.SerializeBool(&has); err != nil {
		return err
	}
	count := int32(len(ids) - 1)
	if err := s.SerializeInteger(&count, 0, int32(maxCount-1)); err != nil {
		return err
	}
	firstID := uint16(ids[0])
	if err := s.SerializeUint16(&firstID); err != nil {
		return err
	}
	for _, id := range ids {
		m := q.slot(id).msg
		tag := m.Type()
		if err := s.SerializeUint16(&tag); err != nil {
			return err
		}
		if err := m.Serialize(s); err != nil {
			return err
		}
	}
	return nil
}

func (c *Channel) writeFragment(s *netproto.Stream) error {
	cp := s.Mark()

	block := c.send.headBlock()
	if block != nil && !block.done() {
		idx := block.nextEligible(c.now, c.cfg.ResendRate)
		if idx >= 0 {
			if err := writeFragment(s, c.maxFragments, c.cfg.FragmentSize, c.send.head, block, idx); err == nil {
				c.pending.hasFragment = true
				c.pending.blockID = c.send.head
				c.pending.fragIndex = idx
				return nil
			} else if !errors.Is(err, bitstream.ErrOverflow) {
				return err
			}
			s.Reset(cp)
		}
	}

	has := false
	return s.SerializeBool(&has)
}

func writeFragment(s *netproto.Stream, maxFragments, fragmentSize int, blockID netproto.Sequence, b *blockSendState, idx int) error {
	has := true
	if err := s.SerializeBool(&has); err != nil {
		return err
	}
	id := uint16(blockID)
	if err := s.SerializeUint16(&id); err != nil {
		return err
	}
	totalMinusOne := int32(b.totalFragments - 1)
	if err := s.SerializeInteger(&totalMinusOne, 0, int32(maxFragments-1)); err != nil {
		return err
	}
	index := int32(idx)
	if err := s.SerializeInteger(&index, 0, totalMinusOne); err != nil {
		return err
	}
	lastSizeMinusOne := int32(b.lastFragmentSize() - 1)
	if err := s.SerializeInteger(&lastSizeMinusOne, 0, int32(fragmentSize-1)); err != nil {
		return err
	}
	data := b.fragment(idx)
	return s.SerializeBytes(&data, len(data))
}

// OnPacketSerialized stamps the send timers for whatever WriteData
// just committed to the packet and encodes it into the id list the
// Connection will hand back on ack or loss.
func (c *Channel) OnPacketSerialized(seq netproto.Sequence, now float64) []uint16 {
	for _, id := range c.pending.messageIDs {
		c.send.markSent(id, now)
	}
	if c.pending.hasFragment {
		if b := c.send.slot(c.pending.blockID).block; b != nil {
			b.markSent(c.pending.fragIndex, now)
		}
	}

	ids := encodeIDs(c.pending.messageIDs, c.pending.hasFragment, c.pending.blockID, c.pending.fragIndex)
	c.pending = pendingSend{}
	return ids
}

// OnPacketAcked marks every message carried by the packet acked, and,
// if it carried a fragment, marks that fragment acked — acking the
// block's own message id once every fragment has been acked.
func (c *Channel) OnPacketAcked(seq netproto.Sequence, ids []uint16) {
	msgIDs, hasFragment, blockID, fragIndex := decodeIDs(ids)
	for _, id := range msgIDs {
		c.send.ack(id)
	}
	if !hasFragment {
		return
	}
	e := c.send.slot(blockID)
	if !e.present || e.acked || e.kind != sendKindBlock || e.block == nil {
		return
	}
	if e.block.markAcked(fragIndex) && e.block.done() {
		c.send.ack(blockID)
	}
}

// OnPacketLost clears the send timers of every message and fragment
// the lost packet carried, making them immediately eligible again.
func (c *Channel) OnPacketLost(seq netproto.Sequence, ids []uint16) {
	msgIDs, hasFragment, blockID, fragIndex := decodeIDs(ids)
	for _, id := range msgIDs {
		c.send.clearSent(id)
	}
	if !hasFragment {
		return
	}
	e := c.send.slot(blockID)
	if e.present && !e.acked && e.kind == sendKindBlock && e.block != nil {
		e.block.markLost(fragIndex)
	}
}

// ErrMalformedChannelData is returned (wrapped) by ReadData when
// inbound channel data fails to decode.
var ErrMalformedChannelData = errors.New("reliable: malformed channel data")

// ReadData decodes this channel's share of an inbound packet: an
// optional message run, dispatched through the configured factory and
// fed into the receive queue, then an optional block fragment, fed
// into the in-progress reassembly (if any).
func (c *Channel) ReadData(s *netproto.Stream) error {
	var hasMessages bool
	if err := s.SerializeBool(&hasMessages); err != nil {
		return fmt.Errorf("reliable: ReadData: %w: %w", err, ErrMalformedChannelData)
	}
	if hasMessages {
		if err := c.readMessages(s); err != nil {
			return err
		}
	}

	var hasFragment bool
	if err := s.SerializeBool(&hasFragment); err != nil {
		return fmt.Errorf("reliable: ReadData: %w: %w", err, ErrMalformedChannelData)
	}
	if hasFragment {
		if err := c.readFragment(s); err != nil {
			return err
		}
	}
	return nil
}

func (c *Channel) readMessages(s *netproto.Stream) error {
	var countMinusOne int32
	if err := s.SerializeInteger(&countMinusOne, 0, int32(c.cfg.MaxMessagesPerPacket-1)); err != nil {
		return fmt.Errorf("reliable: ReadData: message count: %w: %w", err, ErrMalformedChannelData)
	}
	var firstID uint16
	if err := s.SerializeUint16(&firstID); err != nil {
		return fmt.Errorf("reliable: ReadData: first id: %w: %w", err, ErrMalformedChannelData)
	}

	id := netproto.Sequence(firstID)
	for i := int32(0); i <= countMinusOne; i++ {
		var tag uint16
		if err := s.SerializeUint16(&tag); err != nil {
			return fmt.Errorf("reliable: ReadData: type tag: %w: %w", err, ErrMalformedChannelData)
		}
		m, err := c.cfg.Factory.Create(tag)
		if err != nil {
			return fmt.Errorf("reliable: ReadData: %w: %w", err, ErrMalformedChannelData)
		}
		if err := m.Serialize(s); err != nil {
			return fmt.Errorf("reliable: ReadData: payload: %w: %w", err, ErrMalformedChannelData)
		}
		m.SetID(uint16(id))
		c.deliver(id, m)
		id++
	}
	return nil
}

func (c *Channel) readFragment(s *netproto.Stream) error {
	var rawID uint16
	if err := s.SerializeUint16(&rawID); err != nil {
		return fmt.Errorf("reliable: ReadData: block id: %w: %w", err, ErrMalformedChannelData)
	}
	blockID := netproto.Sequence(rawID)

	var totalMinusOne int32
	if err := s.SerializeInteger(&totalMinusOne, 0, int32(c.maxFragments-1)); err != nil {
		return fmt.Errorf("reliable: ReadData: total fragments: %w: %w", err, ErrMalformedChannelData)
	}
	total := int(totalMinusOne) + 1

	var index int32
	if err := s.SerializeInteger(&index, 0, totalMinusOne); err != nil {
		return fmt.Errorf("reliable: ReadData: fragment index: %w: %w", err, ErrMalformedChannelData)
	}

	var lastSizeMinusOne int32
	if err := s.SerializeInteger(&lastSizeMinusOne, 0, int32(c.cfg.FragmentSize-1)); err != nil {
		return fmt.Errorf("reliable: ReadData: last fragment size: %w: %w", err, ErrMalformedChannelData)
	}
	lastSize := int(lastSizeMinusOne) + 1

	size := c.cfg.FragmentSize
	if int(index) == total-1 {
		size = lastSize
	}
	var data []byte
	if err := s.SerializeBytes(&data, size); err != nil {
		return fmt.Errorf("reliable: ReadData: fragment bytes: %w: %w", err, ErrMalformedChannelData)
	}

	if c.recvBlock != nil && blockID != c.recvBlockID {
		// Stale duplicate of a block already finished or abandoned;
		// only one block is ever reassembling at a time.
		return nil
	}
	if c.recvBlock == nil {
		if netproto.GreaterThan(c.recv.next, blockID) || c.recv.present[int(blockID)%c.recv.capacity()] {
			// Resent fragment of a block already reassembled, whether
			// delivered or still buffered awaiting delivery.
			return nil
		}
		c.recvBlock = newBlockReceiveState(c.cfg.FragmentSize, total, lastSize)
		c.recvBlockID = blockID
	}

	c.recvBlock.put(int(index), data)
	if c.recvBlock.complete() {
		msg := &BlockMessage{maxSize: c.cfg.MaxSmallBlockSize, Block: c.recvBlock.buffer}
		msg.SetID(uint16(blockID))
		c.deliver(blockID, msg)
		c.recvBlock = nil
	}
	return nil
}

func (c *Channel) deliver(id netproto.Sequence, m Message) {
	switch c.recv.put(id, m) {
	case putStored:
		c.counters[MessagesReceived]++
	case putEarly:
		c.counters[MessagesEarly]++
	}
}

// encodeIDs packs a WriteData batch into the private []uint16 form
// this Channel round-trips through Connection's ack/loss plumbing:
// a count, that many message ids, then — only if a fragment was also
// written — the block id and fragment index.
func encodeIDs(messageIDs []netproto.Sequence, hasFragment bool, blockID netproto.Sequence, fragIndex int) []uint16 {
	if len(messageIDs) == 0 && !hasFragment {
		return nil
	}
	ids := make([]uint16, 0, len(messageIDs)+3)
	ids = append(ids, uint16(len(messageIDs)))
	for _, id := range messageIDs {
		ids = append(ids, uint16(id))
	}
	if hasFragment {
		ids = append(ids, uint16(blockID), uint16(fragIndex))
	}
	return ids
}

func decodeIDs(ids []uint16) (messageIDs []netproto.Sequence, hasFragment bool, blockID netproto.Sequence, fragIndex int) {
	if len(ids) == 0 {
		return nil, false, 0, 0
	}
	n := int(ids[0])
	for i := 0; i < n; i++ {
		messageIDs = append(messageIDs, netproto.Sequence(ids[1+i]))
	}
	if len(ids) == n+3 {
		hasFragment = true
		blockID = netproto.Sequence(ids[n+1])
		fragIndex = int(ids[n+2])
	}
	return
}
