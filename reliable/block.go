package reliable

// blockSendState is the sender side of the one-block-in-flight state
// machine (component 8): fragment-level ack/resend bookkeeping for a
// large block occupying one send-queue id.
type blockSendState struct {
	data           []byte
	fragmentSize   int
	totalFragments int
	acked          []bool
	ackedCount     int
	lastSent       []float64 // -1 means never sent
}

func newBlockSendState(data []byte, fragmentSize int) *blockSendState {
	total := (len(data) + fragmentSize - 1) / fragmentSize
	if total == 0 {
		total = 1
	}
	lastSent := make([]float64, total)
	for i := range lastSent {
		lastSent[i] = -1
	}
	return &blockSendState{
		data:           data,
		fragmentSize:   fragmentSize,
		totalFragments: total,
		acked:          make([]bool, total),
		lastSent:       lastSent,
	}
}

func (b *blockSendState) fragment(index int) []byte {
	start := index * b.fragmentSize
	end := start + b.fragmentSize
	if end > len(b.data) {
		end = len(b.data)
	}
	return b.data[start:end]
}

func (b *blockSendState) lastFragmentSize() int {
	return len(b.fragment(b.totalFragments - 1))
}

func (b *blockSendState) done() bool {
	return b.ackedCount == b.totalFragments
}

// nextEligible returns the lowest-index un-acked fragment whose last
// send is older than resendRate (or that has never been sent), or -1
// if none is currently eligible.
func (b *blockSendState) nextEligible(now, resendRate float64) int {
	for i := 0; i < b.totalFragments; i++ {
		if b.acked[i] {
			continue
		}
		if b.lastSent[i] < 0 || now-b.lastSent[i] >= resendRate {
			return i
		}
	}
	return -1
}

func (b *blockSendState) markSent(index int, now float64) {
	b.lastSent[index] = now
}

// markAcked marks fragment index acked and reports whether this call
// is what newly acked it.
func (b *blockSendState) markAcked(index int) bool {
	if index < 0 || index >= b.totalFragments || b.acked[index] {
		return false
	}
	b.acked[index] = true
	b.ackedCount++
	return true
}

// markLost clears the fragment's send timer, making it immediately
// eligible again.
func (b *blockSendState) markLost(index int) {
	if index >= 0 && index < b.totalFragments {
		b.lastSent[index] = -1
	}
}

// blockReceiveState is the receiver side: a reassembly buffer plus the
// set of fragment indices written into it so far.
type blockReceiveState struct {
	fragmentSize     int
	totalFragments   int
	lastFragmentSize int
	buffer           []byte
	received         []bool
	receivedCount    int
}

func newBlockReceiveState(fragmentSize, totalFragments, lastFragmentSize int) *blockReceiveState {
	size := (totalFragments-1)*fragmentSize + lastFragmentSize
	return &blockReceiveState{
		fragmentSize:     fragmentSize,
		totalFragments:   totalFragments,
		lastFragmentSize: lastFragmentSize,
		buffer:           make([]byte, size),
		received:         make([]bool, totalFragments),
	}
}

// put writes a fragment into the reassembly buffer. Writes to an
// already-received index are idempotent.
func (b *blockReceiveState) put(index int, data []byte) {
	if index < 0 || index >= b.totalFragments || b.received[index] {
		return
	}
	copy(b.buffer[index*b.fragmentSize:], data)
	b.received[index] = true
	b.receivedCount++
}

func (b *blockReceiveState) complete() bool {
	return b.receivedCount == b.totalFragments
}
