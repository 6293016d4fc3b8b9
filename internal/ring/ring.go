// Package ring implements the fixed-capacity single-producer/single-consumer
// ring used for both submission and completion queues.
//
// One goroutine may Push and one goroutine may Pop at the same time without
// any locking. Two concurrent producers (or two concurrent consumers) are a
// contract violation; rings built with NewChecked detect that and panic.
package ring

import (
	"errors"
	"math/bits"
	"sync/atomic"
)

// MaxCapacity is the largest supported ring size.
const MaxCapacity = 1 << 31

var (
	// ErrConcurrentProducer is the panic value of a checked ring when two
	// Push calls overlap.
	ErrConcurrentProducer = errors.New("ring: concurrent producers")
	// ErrConcurrentConsumer is the panic value of a checked ring when two
	// Pop or Peek calls overlap.
	ErrConcurrentConsumer = errors.New("ring: concurrent consumers")
)

// Ring is a bounded FIFO of T.
type Ring[T any] struct {
	entries []T
	mask    uint32

	// head is owned by the consumer, tail by the producer. Both grow
	// monotonically and wrap at 2^32; the slot index is value & mask.
	head atomic.Uint32
	_    [60]byte // keep head and tail on separate cache lines
	tail atomic.Uint32

	checked   bool
	producing atomic.Bool
	consuming atomic.Bool
}

// New creates a ring holding at least capacity entries. The capacity is
// rounded up to a power of two; zero is treated as one. Every slot starts
// as fill.
func New[T any](capacity uint32, fill T) *Ring[T] {
	c := roundCapacity(capacity)
	entries := make([]T, c)
	for i := range entries {
		entries[i] = fill
	}
	return &Ring[T]{entries: entries, mask: c - 1}
}

// NewChecked is New with ownership checking on Push and Pop.
func NewChecked[T any](capacity uint32, fill T) *Ring[T] {
	r := New(capacity, fill)
	r.checked = true
	return r
}

func roundCapacity(capacity uint32) uint32 {
	switch {
	case capacity <= 1:
		return 1
	case capacity >= MaxCapacity:
		return MaxCapacity
	}
	return 1 << (32 - bits.LeadingZeros32(capacity-1))
}

// Push appends v. It returns false, leaving the ring untouched, when full.
// Producer side only.
func (r *Ring[T]) Push(v T) bool {
	if r.checked {
		if !r.producing.CompareAndSwap(false, true) {
			panic(ErrConcurrentProducer)
		}
		defer r.producing.Store(false)
	}

	tail := r.tail.Load()
	if tail-r.head.Load() > r.mask {
		return false
	}
	r.entries[tail&r.mask] = v
	// Publishing tail makes the slot write visible to the consumer.
	r.tail.Store(tail + 1)
	return true
}

// Pop removes and returns the oldest entry. Consumer side only.
func (r *Ring[T]) Pop() (T, bool) {
	if r.checked {
		if !r.consuming.CompareAndSwap(false, true) {
			panic(ErrConcurrentConsumer)
		}
		defer r.consuming.Store(false)
	}

	head := r.head.Load()
	if head == r.tail.Load() {
		var zero T
		return zero, false
	}
	v := r.entries[head&r.mask]
	r.head.Store(head + 1)
	return v, true
}

// Peek returns the oldest entry without removing it. Consumer side only.
func (r *Ring[T]) Peek() (T, bool) {
	if r.checked {
		if !r.consuming.CompareAndSwap(false, true) {
			panic(ErrConcurrentConsumer)
		}
		defer r.consuming.Store(false)
	}

	head := r.head.Load()
	if head == r.tail.Load() {
		var zero T
		return zero, false
	}
	return r.entries[head&r.mask], true
}

// Len returns the number of queued entries. The value is a snapshot and may
// be stale by the time the caller looks at it.
func (r *Ring[T]) Len() int {
	head := r.head.Load()
	n := r.tail.Load() - head
	if n > r.mask+1 {
		n = r.mask + 1
	}
	return int(n)
}

// Cap returns the ring capacity.
func (r *Ring[T]) Cap() int {
	return len(r.entries)
}

// IsEmpty reports whether the ring held no entries at the time of the call.
func (r *Ring[T]) IsEmpty() bool {
	return r.head.Load() == r.tail.Load()
}

// IsFull reports whether the ring was full at the time of the call.
func (r *Ring[T]) IsFull() bool {
	head := r.head.Load()
	return r.tail.Load()-head > r.mask
}
