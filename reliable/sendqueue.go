package reliable

import "github.com/anon55555/reliudp/netproto"

var (
	// ErrSendQueueFull is returned by SendMessage and SendBlock when
	// the send queue ring has no free slot for a new id: the oldest
	// un-acked message hasn't been acknowledged yet and the queue has
	// reached its configured capacity.
	ErrSendQueueFull = errFull("reliable: send queue full")
)

type errFull string

func (e errFull) Error() string { return string(e) }

type sendKind int

const (
	sendKindMessage sendKind = iota
	sendKindBlock
)

// sendEntry is one occupied id in the send queue ring: either an
// ordinary message (small messages and inline small blocks alike) or a
// large block undergoing fragmentation.
type sendEntry struct {
	present      bool
	kind         sendKind
	msg          Message
	block        *blockSendState
	acked        bool
	timeLastSent float64 // -1 means never sent
}

func (e *sendEntry) eligible(now, resendRate float64) bool {
	return e.timeLastSent < 0 || now-e.timeLastSent >= resendRate
}

// sendQueue is the ring of outstanding message ids a Channel has sent
// or is about to send, keyed by id mod capacity. head is the oldest
// id not yet acknowledged; next is the id the next SendMessage/
// SendBlock call will assign.
type sendQueue struct {
	entries []sendEntry
	head    netproto.Sequence
	next    netproto.Sequence
}

func newSendQueue(capacity int) *sendQueue {
	return &sendQueue{entries: make([]sendEntry, capacity)}
}

func (q *sendQueue) capacity() int { return len(q.entries) }

func (q *sendQueue) slot(id netproto.Sequence) *sendEntry {
	return &q.entries[int(id)%len(q.entries)]
}

// full reports whether the queue has no room for one more id.
func (q *sendQueue) full() bool {
	return int(q.next-q.head) >= len(q.entries)
}

// pushMessage assigns the next id to m and inserts it, returning the
// assigned id. Caller must check full() first.
func (q *sendQueue) pushMessage(m Message) netproto.Sequence {
	id := q.next
	q.next++
	m.SetID(uint16(id))
	*q.slot(id) = sendEntry{present: true, kind: sendKindMessage, msg: m, timeLastSent: -1}
	return id
}

// pushBlock reserves the next id for a large block and inserts its
// fragmentation state, returning the assigned id.
func (q *sendQueue) pushBlock(b *blockSendState) netproto.Sequence {
	id := q.next
	q.next++
	*q.slot(id) = sendEntry{present: true, kind: sendKindBlock, block: b, timeLastSent: -1}
	return id
}

// advanceHead moves head past every already-acked, contiguous entry
// starting at the current head, freeing their slots.
func (q *sendQueue) advanceHead() {
	for q.head != q.next {
		e := q.slot(q.head)
		if !e.acked {
			break
		}
		*e = sendEntry{}
		q.head++
	}
}

// ack marks id acked, if it is present and not already acked, and
// reports whether this call newly acked it.
func (q *sendQueue) ack(id netproto.Sequence) bool {
	if netproto.GreaterThan(q.head, id) || !netproto.GreaterThan(q.next, id) {
		return false
	}
	e := q.slot(id)
	if !e.present || e.acked {
		return false
	}
	e.acked = true
	q.advanceHead()
	return true
}

// messageRun returns up to maxCount ids forming a contiguous run of
// present, un-acked, message-kind, resend-eligible entries, starting
// from the oldest eligible un-acked message id in the queue (which may
// be later than head, if head itself is a block awaiting
// fragmentation). The run stops at the first acked, ineligible, or
// block entry, or an unassigned id: only one contiguous run is carried
// per packet, matching the wire format's single (count, first_id,
// messages) section per channel.
func (q *sendQueue) messageRun(maxCount int, now, resendRate float64) []netproto.Sequence {
	start := q.head
	for start != q.next {
		e := q.slot(start)
		if e.present && !e.acked && e.kind == sendKindMessage && e.eligible(now, resendRate) {
			break
		}
		start++
	}
	if start == q.next {
		return nil
	}

	var ids []netproto.Sequence
	for id := start; id != q.next && len(ids) < maxCount; id++ {
		e := q.slot(id)
		if !e.present || e.acked || e.kind != sendKindMessage || !e.eligible(now, resendRate) {
			break
		}
		ids = append(ids, id)
	}
	return ids
}

// markSent stamps id's entry with the current time, if present.
func (q *sendQueue) markSent(id netproto.Sequence, now float64) {
	e := q.slot(id)
	if e.present {
		e.timeLastSent = now
	}
}

// clearSent resets id's send timer so it becomes immediately eligible
// for resend, used when the packet carrying it is declared lost.
func (q *sendQueue) clearSent(id netproto.Sequence) {
	e := q.slot(id)
	if e.present {
		e.timeLastSent = -1
	}
}

// headBlock returns the blockSendState occupying the head of the
// queue, or nil if the head is a message, empty, or already acked.
// Per the one-block-in-flight invariant, only the entry at head is
// ever an active block: later block sends wait behind it in the ring.
func (q *sendQueue) headBlock() *blockSendState {
	if q.head == q.next {
		return nil
	}
	e := q.slot(q.head)
	if !e.present || e.acked || e.kind != sendKindBlock {
		return nil
	}
	return e.block
}
