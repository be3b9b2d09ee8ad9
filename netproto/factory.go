package netproto

import "fmt"

// ErrUnknownType is wrapped into the error returned by Factory.Create
// when no constructor is registered for the requested type tag. The
// caller discards the packet being decoded.
var ErrUnknownType = fmt.Errorf("netproto: unknown type tag")

// Factory maps a numeric type tag to a constructor producing a fresh
// instance of T. It is used symmetrically by the write and read paths:
// the sender doesn't need it to emit a known type, but the receiver
// uses the same tag to materialize the right concrete type off the
// wire, so a factory that's missing a registration on one side can't
// silently decode garbage on the other.
type Factory[T any] struct {
	ctors  map[uint16]func() T
	locked bool
}

// NewFactory returns an empty, unlocked Factory.
func NewFactory[T any]() *Factory[T] {
	return &Factory[T]{ctors: make(map[uint16]func() T)}
}

// Register adds a constructor for tag. It panics if called after Lock
// or if tag is already registered — both are programmer errors, not
// conditions a peer can trigger over the wire.
func (f *Factory[T]) Register(tag uint16, ctor func() T) {
	if f.locked {
		panic("netproto: Factory.Register called after Lock")
	}
	if _, ok := f.ctors[tag]; ok {
		panic(fmt.Sprintf("netproto: Factory: tag %d registered twice", tag))
	}
	f.ctors[tag] = ctor
}

// Lock seals the factory. No further Register calls are allowed.
func (f *Factory[T]) Lock() {
	f.locked = true
}

// Create returns a fresh T for tag, or ErrUnknownType if nothing is
// registered for it.
func (f *Factory[T]) Create(tag uint16) (T, error) {
	ctor, ok := f.ctors[tag]
	if !ok {
		var zero T
		return zero, fmt.Errorf("netproto: tag %d: %w", tag, ErrUnknownType)
	}
	return ctor(), nil
}
