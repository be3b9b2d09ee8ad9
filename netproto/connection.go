// Package netproto implements the bit-packed packet format and the
// sliding-window sequence/ack reliability core that every connection
// in this module is built on: the serialization stream, the object
// factory and packet framing (components 2, 3 and 4 of the design), the
// sent/received packet rings
// (component 5), and WritePacket/ReadPacket/Update themselves
// (component 6). The message-level reliability built on top of this
// lives in package reliable.
package netproto

import (
	"errors"
	"fmt"
)

// Counter identifies one of the Connection's monotonically increasing
// diagnostic counters.
type Counter int

const (
	// PacketsWritten counts WritePacket calls.
	PacketsWritten Counter = iota
	// PacketsRead counts ReadPacket calls, successful or not.
	PacketsRead
	// PacketsAcked counts distinct sent packets newly marked acked.
	PacketsAcked
	// PacketsDiscarded counts inbound packets dropped as stale
	// (older than the tracked receive window).
	PacketsDiscarded
	// ReadPacketFailures counts inbound packets dropped because they
	// failed to decode (malformed header or channel data).
	ReadPacketFailures

	numCounters
)

// ackBits is the width, in bits, of the ack bitfield carried in every
// packet header: bit k says whether sequence (ack-1-k) was received.
const ackBits = 32

// Config configures the parts of Connection that aren't fixed by the
// wire format itself.
type Config struct {
	// NumPacketTypes bounds the packet-type-tag field written at the
	// front of every packet. A Connection only ever writes PacketType,
	// but the tag is sized to distinguish up to NumPacketTypes kinds
	// so the wire format can host more than one Connection-like packet
	// in the same stream. Defaults to 1.
	NumPacketTypes int
	// PacketType is the tag this Connection stamps on every packet it
	// writes, and the only tag its ReadPacket accepts.
	PacketType uint16

	// AckWindowSize is how many recently sent packets are tracked for
	// ack inference before being declared lost. Must be 32 or 64.
	// Defaults to 32.
	AckWindowSize int

	// SentPacketsCapacity and ReceivedPacketsCapacity size the rings
	// used to remember sent and received packet sequence numbers.
	// Both must be >= 256 and default to 256.
	SentPacketsCapacity     int
	ReceivedPacketsCapacity int
}

func (c *Config) setDefaults() {
	if c.NumPacketTypes == 0 {
		c.NumPacketTypes = 1
	}
	if c.AckWindowSize == 0 {
		c.AckWindowSize = 32
	}
	if c.SentPacketsCapacity == 0 {
		c.SentPacketsCapacity = 256
	}
	if c.ReceivedPacketsCapacity == 0 {
		c.ReceivedPacketsCapacity = 256
	}
}

type sentSlot struct {
	seq        Sequence
	written    bool
	acked      bool
	lost       bool
	timeSent   float64
	channelIDs [][]uint16 // indexed by channel
}

type recvSlot struct {
	seq          Sequence
	present      bool
	timeReceived float64
}

// Connection is bidirectional reliability state between a local
// endpoint and one remote peer, carried over a fixed, ordered set of
// Channels. It has no handshake: a freshly constructed Connection is
// immediately usable, and until it has received a packet it writes
// ack=0xffff, ack_bits=0, which acknowledges none of the peer's packets.
type Connection struct {
	cfg      Config
	channels []Channel

	nextSendSeq Sequence
	lossCursor  Sequence

	hasReceived     bool
	highestReceived Sequence

	sent []sentSlot
	recv []recvSlot

	now float64

	counters [numCounters]uint64
}

// NewConnection returns a Connection driving channels in the given
// fixed order. The order is part of the wire format: both peers must
// agree on it.
func NewConnection(cfg Config, channels []Channel) *Connection {
	cfg.setDefaults()
	if cfg.AckWindowSize != 32 && cfg.AckWindowSize != 64 {
		panic("netproto: Config.AckWindowSize must be 32 or 64")
	}

	return &Connection{
		cfg:      cfg,
		channels: channels,
		sent:     make([]sentSlot, cfg.SentPacketsCapacity),
		recv:     make([]recvSlot, cfg.ReceivedPacketsCapacity),
	}
}

// GetChannel returns the i'th channel in the connection's fixed
// structure.
func (c *Connection) GetChannel(i int) Channel {
	return c.channels[i]
}

// GetCounter returns the current value of one of the Connection's
// diagnostic counters.
func (c *Connection) GetCounter(k Counter) uint64 {
	return c.counters[k]
}

// Update advances the connection's notion of the current time and
// drives per-channel housekeeping (retransmission timers and the
// like). It must be called once per tick even if no packets were
// written or read that tick.
func (c *Connection) Update(t TimeBase) {
	c.now = t.Time
	for _, ch := range c.channels {
		ch.Update(t)
	}
}

// buildAck returns the current ack sequence and ack bitfield: ack is
// the highest sequence number received so far, and bit k of the
// bitfield is set iff sequence (ack-1-k) has been received. Before
// anything has been received it returns ack=0xffff, ack_bits=0 rather
// than ack=0, which the peer would read as an ack of its packet 0.
func (c *Connection) buildAck() (Sequence, uint32) {
	if !c.hasReceived {
		return 0xffff, 0
	}

	ack := c.highestReceived
	var bits uint32
	for k := 0; k < ackBits; k++ {
		seq := ack - 1 - Sequence(k)
		if c.recvContains(seq) {
			bits |= 1 << uint(k)
		}
	}
	return ack, bits
}

func (c *Connection) recvContains(seq Sequence) bool {
	slot := &c.recv[int(seq)%len(c.recv)]
	return slot.present && slot.seq == seq
}

// WritePacket assembles the next outbound packet — header plus every
// channel's data, in the connection's fixed channel order — into buf
// and returns the number of bytes written. It returns an error only if
// the header or a channel's data doesn't fit in buf, or a channel's
// WriteData fails; a channel with nothing to send contributes only the
// bits its own format uses to say so.
func (c *Connection) WritePacket(buf []byte) (int, error) {
	seq := c.nextSendSeq
	c.nextSendSeq++

	ack, ackBitsVal := c.buildAck()

	s := NewWriteStream(buf)

	typ := int32(c.cfg.PacketType)
	if err := s.SerializeInteger(&typ, 0, int32(c.cfg.NumPacketTypes-1)); err != nil {
		return 0, fmt.Errorf("netproto: WritePacket: type tag: %w", err)
	}

	seqVal := uint16(seq)
	ackVal := uint16(ack)
	if err := s.SerializeUint16(&seqVal); err != nil {
		return 0, fmt.Errorf("netproto: WritePacket: sequence: %w", err)
	}
	if err := s.SerializeUint16(&ackVal); err != nil {
		return 0, fmt.Errorf("netproto: WritePacket: ack: %w", err)
	}
	if err := s.SerializeUint32(&ackBitsVal); err != nil {
		return 0, fmt.Errorf("netproto: WritePacket: ack bits: %w", err)
	}

	for _, ch := range c.channels {
		if err := ch.WriteData(s); err != nil {
			return 0, fmt.Errorf("netproto: WritePacket: channel data: %w", err)
		}
	}

	n, err := s.Flush()
	if err != nil {
		return 0, fmt.Errorf("netproto: WritePacket: flush: %w", err)
	}

	slot := &c.sent[int(seq)%len(c.sent)]
	*slot = sentSlot{
		seq:        seq,
		written:    true,
		timeSent:   c.now,
		channelIDs: make([][]uint16, len(c.channels)),
	}
	for i, ch := range c.channels {
		slot.channelIDs[i] = ch.OnPacketSerialized(seq, c.now)
	}

	c.counters[PacketsWritten]++

	return n, nil
}

// ErrMalformedPacket is returned (wrapped) when ReadPacket fails to
// decode the header or a channel's payload. Callers don't need to
// inspect it: ReadPacket already recorded the failure in counters and
// the packet is discarded either way.
var ErrMalformedPacket = errors.New("netproto: malformed packet")

// ReadPacket decodes an inbound packet from buf[:n] and feeds it into
// the reliability core: it updates the received-sequence window,
// infers newly acked outbound packets from the header's ack/ack_bits,
// notifies channels of losses, and dispatches each channel's payload
// to ReadData. A stale packet is dropped with a PacketsDiscarded
// increment and a nil error; a malformed one is dropped with a
// ReadPacketFailures increment and an error wrapping ErrMalformedPacket.
func (c *Connection) ReadPacket(buf []byte, n int) error {
	c.counters[PacketsRead]++

	s := NewReadStream(buf, n*8)

	var typ int32
	if err := s.SerializeInteger(&typ, 0, int32(c.cfg.NumPacketTypes-1)); err != nil {
		c.counters[ReadPacketFailures]++
		return fmt.Errorf("netproto: ReadPacket: type tag: %w: %w", err, ErrMalformedPacket)
	}
	if uint16(typ) != c.cfg.PacketType {
		c.counters[ReadPacketFailures]++
		return fmt.Errorf("netproto: ReadPacket: unexpected packet type %d: %w", typ, ErrMalformedPacket)
	}

	var seqVal, ackVal uint16
	var ackBitsVal uint32
	if err := s.SerializeUint16(&seqVal); err != nil {
		c.counters[ReadPacketFailures]++
		return fmt.Errorf("netproto: ReadPacket: sequence: %w: %w", err, ErrMalformedPacket)
	}
	if err := s.SerializeUint16(&ackVal); err != nil {
		c.counters[ReadPacketFailures]++
		return fmt.Errorf("netproto: ReadPacket: ack: %w: %w", err, ErrMalformedPacket)
	}
	if err := s.SerializeUint32(&ackBitsVal); err != nil {
		c.counters[ReadPacketFailures]++
		return fmt.Errorf("netproto: ReadPacket: ack bits: %w: %w", err, ErrMalformedPacket)
	}
	seq, ack := Sequence(seqVal), Sequence(ackVal)

	if c.isStale(seq) {
		c.counters[PacketsDiscarded]++
		return nil
	}

	for _, ch := range c.channels {
		if err := ch.ReadData(s); err != nil {
			c.counters[ReadPacketFailures]++
			return fmt.Errorf("netproto: ReadPacket: channel data: %w: %w", err, ErrMalformedPacket)
		}
	}

	c.recv[int(seq)%len(c.recv)] = recvSlot{seq: seq, present: true, timeReceived: c.now}
	if !c.hasReceived || GreaterThan(seq, c.highestReceived) {
		c.hasReceived = true
		c.highestReceived = seq
	}

	c.processAcks(ack, ackBitsVal)
	c.processLosses(seq)

	return nil
}

// isStale reports whether seq falls outside the tracked receive
// window: older than the oldest sequence number the receive ring can
// still distinguish from a future wraparound.
func (c *Connection) isStale(seq Sequence) bool {
	if !c.hasReceived {
		return false
	}
	oldest := c.highestReceived - Sequence(len(c.recv)-1)
	return GreaterThan(oldest, seq)
}

func (c *Connection) processAcks(ack Sequence, bits uint32) {
	c.tryAck(ack)
	for k := 0; k < ackBits; k++ {
		if bits&(1<<uint(k)) == 0 {
			continue
		}
		c.tryAck(ack - 1 - Sequence(k))
	}
}

func (c *Connection) tryAck(seq Sequence) {
	slot := &c.sent[int(seq)%len(c.sent)]
	if !slot.written || slot.seq != seq || slot.acked {
		return
	}
	slot.acked = true
	c.counters[PacketsAcked]++

	for i, ch := range c.channels {
		ids := slot.channelIDs[i]
		if len(ids) == 0 {
			continue
		}
		ch.OnPacketAcked(seq, ids)
	}
}

// processLosses walks sent packets old enough (relative to seq, the
// sequence number just received) to fall out of the ack window and
// declares the still-unacked ones lost exactly once.
func (c *Connection) processLosses(seq Sequence) {
	threshold := seq - Sequence(c.cfg.AckWindowSize)

	for c.lossCursor != c.nextSendSeq && GreaterThan(threshold, c.lossCursor) {
		slot := &c.sent[int(c.lossCursor)%len(c.sent)]
		if slot.written && slot.seq == c.lossCursor && !slot.acked && !slot.lost {
			slot.lost = true
			for i, ch := range c.channels {
				ids := slot.channelIDs[i]
				if len(ids) == 0 {
					continue
				}
				ch.OnPacketLost(c.lossCursor, ids)
			}
		}
		c.lossCursor++
	}
}
