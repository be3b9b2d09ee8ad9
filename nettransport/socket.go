// Package nettransport is the non-blocking UDP transport the design
// calls for in §4.8: a background goroutine performs the only
// blocking socket calls this module makes, funneling datagrams onto a
// buffered channel that the cooperative tick loop drains with a
// non-blocking Recv, exactly as the teacher's rudp.udpConn /
// readNetPkts pair does it. An outer 4-byte protocol-id envelope
// (grounded on rudp's MtHdrSize framing) rejects stray UDP traffic on
// the same port before it ever reaches the bit-stream decoder.
package nettransport

import (
	"encoding/binary"
	"errors"
	"net"
)

// ProtoID is the fixed 4-byte prefix stamped on every datagram this
// transport sends, and required of every datagram it accepts.
const ProtoID uint32 = 0x524c4455 // "RLDU"

const protoIDSize = 4

// MaxDatagramSize bounds a single read from the underlying
// net.PacketConn, matching UDP's practical path-MTU ceiling.
const MaxDatagramSize = 1472

type inPacket struct {
	Addr net.Addr
	Data []byte
}

// Socket wraps a net.PacketConn with a background reader goroutine, so
// the rest of this module never makes a blocking socket call. Sends
// are non-blocking already (UDP writes don't block on the peer), so
// Send talks to the net.PacketConn directly.
type Socket struct {
	conn net.PacketConn
	in   chan inPacket
	errs chan error
}

// NewSocket starts reading from conn in the background and returns
// immediately. Call Recv once per tick to drain what's arrived.
func NewSocket(conn net.PacketConn) *Socket {
	s := &Socket{
		conn: conn,
		in:   make(chan inPacket, 256),
		errs: make(chan error, 16),
	}
	go s.readLoop()
	return s
}

func (s *Socket) readLoop() {
	defer close(s.in)

	for {
		buf := make([]byte, MaxDatagramSize)
		n, addr, err := s.conn.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			select {
			case s.errs <- err:
			default:
			}
			continue
		}
		if n < protoIDSize || binary.BigEndian.Uint32(buf[:protoIDSize]) != ProtoID {
			continue
		}
		s.in <- inPacket{Addr: addr, Data: buf[protoIDSize:n]}
	}
}

// Send stamps data with the protocol-id envelope and writes it to
// addr. It does not block on the peer; UDP writes return as soon as
// the local stack accepts the datagram.
func (s *Socket) Send(addr net.Addr, data []byte) error {
	out := make([]byte, protoIDSize+len(data))
	binary.BigEndian.PutUint32(out[:protoIDSize], ProtoID)
	copy(out[protoIDSize:], data)
	_, err := s.conn.WriteTo(out, addr)
	return err
}

// Recv returns one pending inbound datagram without blocking, or
// ok=false if none is currently available. Safe to call every tick
// from the cooperative Update loop.
func (s *Socket) Recv() (addr net.Addr, data []byte, ok bool) {
	select {
	case p, open := <-s.in:
		if !open {
			return nil, nil, false
		}
		return p.Addr, p.Data, true
	default:
		return nil, nil, false
	}
}

// Errs returns the channel background read errors (other than
// closure) are reported on. Reading it is optional; it's buffered and
// drops errors once full rather than blocking the reader goroutine.
func (s *Socket) Errs() <-chan error { return s.errs }

// Close closes the underlying connection, which causes the background
// reader goroutine to exit and close the Recv channel.
func (s *Socket) Close() error { return s.conn.Close() }
