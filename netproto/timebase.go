package netproto

// TimeBase is the external time source fed into Connection.Update and
// Channel.Update every tick. Time is monotonic seconds since some
// unspecified epoch; DeltaTime is the fixed (or measured) interval
// since the previous tick.
type TimeBase struct {
	Time      float64
	DeltaTime float64
}
