// Package netsim is the test fixture for component 9 of the design: a
// network simulator that sits between two netproto.Connections (or
// raw datagram endpoints) and injects latency, jitter, loss, and
// duplication, so reliability properties can be exercised under
// adverse but controlled network conditions instead of a real socket.
package netsim

import "math/rand"

// Config describes the impairments a Link applies to every datagram
// passed through it.
type Config struct {
	// Latency is the base one-way delay, in the same time units as
	// the driving TimeBase.
	Latency float64
	// Jitter adds a uniform random delay in [0, Jitter] on top of
	// Latency.
	Jitter float64
	// Loss is the probability, in [0, 1], that a datagram is dropped
	// instead of delivered.
	Loss float64
	// Duplication is the probability, in [0, 1], that a delivered
	// datagram is additionally delivered a second time.
	Duplication float64
}

// packet is one datagram in flight through the Link, scheduled for
// delivery once the simulated clock reaches deliverAt.
type packet struct {
	data      []byte
	deliverAt float64
}

// Link is a one-directional simulated path for datagrams: Send
// schedules a datagram's eventual delivery (or drop) according to
// Config, and Advance, driven by the same clock as the rest of the
// module, returns the datagrams that have become due.
//
// A Link is not safe for concurrent use; it is meant to be driven from
// the same single-threaded tick loop as the Connections on either end
// of it, matching the module's cooperative scheduling model.
type Link struct {
	cfg     Config
	rng     *rand.Rand
	now     float64
	pending []packet
}

// NewLink returns a Link applying cfg, seeded from seed so a test can
// reproduce a specific run.
func NewLink(cfg Config, seed int64) *Link {
	return &Link{cfg: cfg, rng: rand.New(rand.NewSource(seed))}
}

// Send offers data to the link. It is copied, so the caller's buffer
// can be reused immediately. Depending on Config, the datagram may be
// dropped, delayed, or scheduled for delivery more than once.
func (l *Link) Send(data []byte) {
	if l.cfg.Loss > 0 && l.rng.Float64() < l.cfg.Loss {
		return
	}

	cp := make([]byte, len(data))
	copy(cp, data)
	l.schedule(cp)

	if l.cfg.Duplication > 0 && l.rng.Float64() < l.cfg.Duplication {
		dup := make([]byte, len(data))
		copy(dup, data)
		l.schedule(dup)
	}
}

func (l *Link) schedule(data []byte) {
	delay := l.cfg.Latency
	if l.cfg.Jitter > 0 {
		delay += l.rng.Float64() * l.cfg.Jitter
	}
	l.pending = append(l.pending, packet{data: data, deliverAt: l.now + delay})
}

// Advance moves the link's clock to now and returns every datagram
// that has become due for delivery, in the order they were sent.
// Still-pending datagrams are kept for a later Advance call.
func (l *Link) Advance(now float64) [][]byte {
	l.now = now

	var due [][]byte
	rest := l.pending[:0]
	for _, p := range l.pending {
		if now >= p.deliverAt {
			due = append(due, p.data)
		} else {
			rest = append(rest, p)
		}
	}
	l.pending = rest
	return due
}

// Pending reports how many datagrams are currently in flight.
func (l *Link) Pending() int { return len(l.pending) }
