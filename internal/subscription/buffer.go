package subscription

import (
	"sync"

	"eventhub/internal/model"
)

// Buffer is a per-subscription FIFO of events awaiting a cron or scheduled
// flush. Cron buffers are bounded (drop-oldest on overflow); scheduled
// buffers are unbounded until their single flush. Content is guarded by the
// buffer's own lock, independent of the subscription manager's table lock,
// so Publish never needs the manager lock while appending (spec.md §5).
type Buffer struct {
	mu      sync.Mutex
	events  []model.Event
	maxSize int // 0 means unbounded
}

// NewBuffer creates a buffer; maxSize <= 0 means unbounded (scheduled class).
func NewBuffer(maxSize int) *Buffer {
	return &Buffer{maxSize: maxSize}
}

// Append adds an event, dropping the oldest if the buffer is bounded and
// full.
func (b *Buffer) Append(e model.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, e)
	if b.maxSize > 0 && len(b.events) > b.maxSize {
		overflow := len(b.events) - b.maxSize
		b.events = b.events[overflow:]
	}
}

// SnapshotAndClear atomically returns the buffered events and empties the
// buffer, for use by a flush.
func (b *Buffer) SnapshotAndClear() []model.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.events) == 0 {
		return nil
	}
	out := b.events
	b.events = nil
	return out
}

// Len returns the current buffered length.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}
