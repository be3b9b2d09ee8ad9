// Package reliable builds per-message reliable delivery and large-block
// fragmentation on top of a netproto.Connection's packet-level ack
// machinery (components 7/8 of the design): each Channel here owns a
// send queue and receive queue keyed by message id, plus at most one
// in-flight block per direction, and implements netproto.Channel so a
// Connection can drive it without knowing any of that.
package reliable

import "github.com/anon55555/reliudp/netproto"

// Message is a single reliably-delivered unit on a Channel: a typed,
// self-serializing payload carrying its own id. Ids are assigned by
// the channel in send order and are independent of packet sequence
// numbers.
type Message interface {
	netproto.Serializable
	// Type returns the wire tag dispatched through the channel's
	// MessageFactory. Type 0 is reserved for BlockMessage.
	Type() uint16
	ID() uint16
	SetID(id uint16)
}

// BlockMessageType is the reserved message type tag for blocks sent
// inline (no larger than a channel's maxSmallBlockSize) and for blocks
// reassembled from fragments and handed back into the message stream.
const BlockMessageType = 0

// BlockMessage carries an owned byte block as a message payload. It is
// produced two ways: directly, via SendBlock, when the block is small
// enough to fit in one message; or synthesized by the receiver once a
// fragmented block finishes reassembly. Either way it is delivered
// through the same in-order ReceiveMessage path as any other message.
type BlockMessage struct {
	id      uint16
	maxSize int
	Block   []byte
}

func (m *BlockMessage) Type() uint16    { return BlockMessageType }
func (m *BlockMessage) ID() uint16      { return m.id }
func (m *BlockMessage) SetID(id uint16) { m.id = id }

// Serialize packs or unpacks Block as a length-prefixed byte block
// bounded by the maxSmallBlockSize the owning channel was configured
// with. maxSize is 0 on a BlockMessage decoded by a bare factory
// constructor; NewMessageFactory's closure fills it in before Serialize
// is ever called on the read path.
func (m *BlockMessage) Serialize(s *netproto.Stream) error {
	return s.SerializeBlock(&m.Block, m.maxSize)
}

// MessageFactory maps a message type tag to a constructor producing a
// fresh, empty instance of that type, ready for Serialize to decode
// into. It is the reliable package's instantiation of
// netproto.Factory[Message] (component 3 of the design).
type MessageFactory = netproto.Factory[Message]

// NewMessageFactory returns a MessageFactory with BlockMessageType
// pre-registered against maxSmallBlockSize, the largest inline block a
// channel using this factory will accept. Callers register their own
// application message types on the returned factory and then call
// Lock before handing it to NewChannel.
func NewMessageFactory(maxSmallBlockSize int) *MessageFactory {
	f := netproto.NewFactory[Message]()
	f.Register(BlockMessageType, func() Message {
		return &BlockMessage{maxSize: maxSmallBlockSize}
	})
	return f
}
