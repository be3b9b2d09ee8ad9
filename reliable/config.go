package reliable

// Config configures one Channel's message and block reliability
// behavior. Both peers must agree on FragmentSize and
// MaxSmallBlockSize: they are baked into the wire format's bit widths
// and aren't negotiated.
type Config struct {
	// Factory dispatches decoded message type tags to constructors.
	// Must have BlockMessageType registered; NewMessageFactory does
	// this for you.
	Factory *MessageFactory

	// MaxSmallBlockSize is the largest block SendBlock will send
	// inline as a single message rather than fragmenting. Defaults to
	// 256.
	MaxSmallBlockSize int

	// FragmentSize is the payload size of every fragment but the
	// last, which may be shorter. Defaults to 64.
	FragmentSize int

	// SendQueueSize and ReceiveQueueSize bound the number of
	// in-flight un-acked (send) or undelivered (receive) messages.
	// Both default to 1024.
	SendQueueSize    int
	ReceiveQueueSize int

	// ResendRate is the minimum interval, in the same units as
	// netproto.TimeBase.Time, between retransmissions of an un-acked
	// message or fragment. Defaults to 0.1 (100ms, assuming seconds).
	ResendRate float64

	// MaxMessagesPerPacket caps how many small messages
	// WriteData will pack into a single outbound packet,
	// independent of remaining byte budget. Defaults to 64.
	MaxMessagesPerPacket int

	// MaxBlockSize bounds the size of a block passed to SendBlock and,
	// via FragmentSize, fixes the bit width reserved for a block's
	// fragment count on the wire. Both peers must agree on it.
	// Defaults to 1MiB.
	MaxBlockSize int
}

func (c *Config) setDefaults() {
	if c.MaxSmallBlockSize == 0 {
		c.MaxSmallBlockSize = 256
	}
	if c.FragmentSize == 0 {
		c.FragmentSize = 64
	}
	if c.SendQueueSize == 0 {
		c.SendQueueSize = 1024
	}
	if c.ReceiveQueueSize == 0 {
		c.ReceiveQueueSize = 1024
	}
	if c.ResendRate == 0 {
		c.ResendRate = 0.1
	}
	if c.MaxMessagesPerPacket == 0 {
		c.MaxMessagesPerPacket = 64
	}
	if c.MaxBlockSize == 0 {
		c.MaxBlockSize = 1 << 20
	}
}
