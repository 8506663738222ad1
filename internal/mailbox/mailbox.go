package mailbox

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Read once the mailbox is closed and drained
var ErrClosed = errors.New("mailbox closed")

// Policy decides what happens when a value is put into an occupied slot
type Policy uint8

const (
	// ReplaceOnFull overwrites the pending value (drop-oldest)
	ReplaceOnFull Policy = iota

	// DropOnFull keeps the pending value and discards the new one
	DropOnFull
)

func (p Policy) String() string {
	switch p {
	case ReplaceOnFull:
		return "replace-on-full"
	case DropOnFull:
		return "drop-on-full"
	default:
		return "unknown"
	}
}

// Stats holds mailbox counters
type Stats struct {
	Puts  uint64 // values accepted into the slot
	Drops uint64 // values lost, either overwritten or refused
	Reads uint64 // values consumed
}

// Mailbox is a single-slot buffer shared between one producer and one consumer.
// It never blocks the producer; only Read blocks the consumer.
type Mailbox[T any] struct {
	policy Policy

	mu     sync.Mutex
	value  T
	full   bool
	closed bool
	stats  Stats

	// notify holds at most one wake-up token for a blocked Read
	notify chan struct{}
}

// New creates an empty mailbox with the given policy
func New[T any](policy Policy) *Mailbox[T] {
	return &Mailbox[T]{
		policy: policy,
		notify: make(chan struct{}, 1),
	}
}

// Put stores v and reports whether it was accepted. Puts on a closed
// mailbox are ignored.
func (m *Mailbox[T]) Put(v T) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false
	}

	if m.full {
		m.stats.Drops++

		if m.policy == DropOnFull {
			return false
		}
	}

	m.value = v
	m.full = true
	m.stats.Puts++
	m.signal()

	return true
}

// Force stores v regardless of the policy, overwriting any pending value
func (m *Mailbox[T]) Force(v T) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false
	}

	if m.full {
		m.stats.Drops++
	}

	m.value = v
	m.full = true
	m.stats.Puts++
	m.signal()

	return true
}

// TryRead takes the pending value, if any. It never blocks.
func (m *Mailbox[T]) TryRead() (v T, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.take()
}

// Read blocks until a value is available, the mailbox is closed or ctx is done.
func (m *Mailbox[T]) Read(ctx context.Context) (T, error) {
	for {
		m.mu.Lock()
		if v, ok := m.take(); ok {
			m.mu.Unlock()
			return v, nil
		}
		closed := m.closed
		m.mu.Unlock()

		if closed {
			var zero T
			return zero, ErrClosed
		}

		select {
		case <-m.notify:
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
}

// Close wakes any blocked reader. A value still pending can be read after Close.
func (m *Mailbox[T]) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}

	m.closed = true
	m.signal()
}

// Stats returns a snapshot of the counters
func (m *Mailbox[T]) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.stats
}

// Policy returns the full-slot policy of the mailbox
func (m *Mailbox[T]) Policy() Policy {
	return m.policy
}

// take must be called with mu held
func (m *Mailbox[T]) take() (v T, ok bool) {
	if !m.full {
		return v, false
	}

	v = m.value

	var zero T
	m.value = zero
	m.full = false
	m.stats.Reads++

	return v, true
}

// signal must be called with mu held
func (m *Mailbox[T]) signal() {
	select {
	case m.notify <- struct{}{}:
	default:
	}
}
