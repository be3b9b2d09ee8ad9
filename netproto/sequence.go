package netproto

// Sequence is a 16-bit monotonic counter identifying a packet (or,
// reused by the reliable package, a message) within a connection. It
// wraps around at 65536 and must never be compared as a plain integer.
type Sequence uint16

// GreaterThan reports whether a is more recent than b under wraparound,
// using the standard half-window rule: a is newer than b if the forward
// distance from b to a is less than half the sequence space, or exactly
// half with a numerically greater than b.
func GreaterThan(a, b Sequence) bool {
	return a != b && ((a > b && a-b <= 32768) || (a < b && b-a > 32768))
}
