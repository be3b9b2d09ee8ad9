package nettransport

import (
	"net"
	"sync"
)

// PeerConn is a single peer's datagram endpoint as demultiplexed by a
// Listener: one per distinct source address, with its own inbound
// queue, handed to the connection logic as this module's external
// datagram collaborator (§6: send(addr, bytes) / recv() -> (addr,
// bytes)?).
type PeerConn struct {
	Addr net.Addr

	sock *Socket
	recv chan []byte
}

// Send writes data to this peer.
func (p *PeerConn) Send(data []byte) error {
	return p.sock.Send(p.Addr, data)
}

// Recv returns one pending datagram from this peer without blocking.
func (p *PeerConn) Recv() ([]byte, bool) {
	select {
	case d := <-p.recv:
		return d, true
	default:
		return nil, false
	}
}

// Listener demultiplexes inbound datagrams on one Socket by source
// address into one PeerConn per peer, modeled on rudp.Listener. This
// core's connections have no handshake, so a peer is accepted the
// first time a datagram arrives from its address (rudp/listen.go's
// accept-on-first-packet pattern), not after any negotiation.
type Listener struct {
	sock *Socket

	mu       sync.Mutex
	peers    map[string]*PeerConn
	newPeers chan *PeerConn
}

// Listen returns a Listener draining sock. Call Pump once per tick to
// dispatch arrived datagrams to their peer, and Accept to discover
// peers seen for the first time.
func Listen(sock *Socket) *Listener {
	return &Listener{
		sock:     sock,
		peers:    make(map[string]*PeerConn),
		newPeers: make(chan *PeerConn, 64),
	}
}

// Pump drains every datagram currently buffered on the socket and
// routes each to its peer's queue, creating a new PeerConn the first
// time an address is seen. It never blocks.
func (l *Listener) Pump() {
	for {
		addr, data, ok := l.sock.Recv()
		if !ok {
			return
		}

		l.mu.Lock()
		peer, known := l.peers[addr.String()]
		if !known {
			peer = &PeerConn{Addr: addr, sock: l.sock, recv: make(chan []byte, 256)}
			l.peers[addr.String()] = peer
		}
		l.mu.Unlock()

		select {
		case peer.recv <- data:
		default:
			// Peer's queue is backlogged; drop rather than block Pump.
		}

		if !known {
			select {
			case l.newPeers <- peer:
			default:
			}
		}
	}
}

// Accept returns a peer seen for the first time since the last Accept
// call, or ok=false if none is waiting. Non-blocking, safe to call
// every tick.
func (l *Listener) Accept() (*PeerConn, bool) {
	select {
	case p := <-l.newPeers:
		return p, true
	default:
		return nil, false
	}
}
