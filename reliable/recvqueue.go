package reliable

import "github.com/anon55555/reliudp/netproto"

// recvQueue holds decoded messages (including synthesized block
// messages) awaiting in-order delivery to the consumer, keyed by
// message id mod capacity, plus the id the consumer expects next.
type recvQueue struct {
	entries []Message
	present []bool
	next    netproto.Sequence
}

func newRecvQueue(capacity int) *recvQueue {
	return &recvQueue{
		entries: make([]Message, capacity),
		present: make([]bool, capacity),
	}
}

func (q *recvQueue) capacity() int { return len(q.entries) }

// putResult reports what became of a put call.
type putResult int

const (
	// putDropped means id was already delivered or is a duplicate of
	// a message already buffered; no counter changes.
	putDropped putResult = iota
	// putStored means m was newly buffered, awaiting its turn.
	putStored
	// putEarly means id fell outside the receive window — too far
	// ahead of next for the configured capacity — and was dropped;
	// the sender will retransmit once earlier ids are delivered.
	putEarly
)

// put stores m at its id, unless that id was already delivered
// (before next), falls outside the receive window, or duplicates an
// id already buffered.
func (q *recvQueue) put(id netproto.Sequence, m Message) putResult {
	if netproto.GreaterThan(q.next, id) {
		return putDropped
	}

	offset := int(id - q.next)
	if offset >= len(q.entries) {
		return putEarly
	}

	idx := int(id) % len(q.entries)
	if q.present[idx] {
		return putDropped
	}
	q.entries[idx] = m
	q.present[idx] = true
	return putStored
}

// take returns the message at next, if present, and advances next.
func (q *recvQueue) take() (Message, bool) {
	idx := int(q.next) % len(q.entries)
	if !q.present[idx] {
		return nil, false
	}
	m := q.entries[idx]
	q.entries[idx] = nil
	q.present[idx] = false
	q.next++
	return m, true
}
