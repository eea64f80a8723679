// Package eventbus implements the bounded ring buffer the orchestrator uses
// to surface state changes, metrics, and warnings to a polling client.
package eventbus

import (
	"sync"

	"broadcaster/pkg/models"
)

const defaultCapacity = 256

// Bus is a fixed-capacity ring buffer. When full, Push evicts the oldest
// droppable event to make room for the new one, whatever its kind; queued
// StateChanged and Error events are never evicted. If every queued event is
// a StateChanged or Error, the pushed event itself is discarded.
type Bus struct {
	mu       sync.Mutex
	items    []models.Event
	cap      int
	dropped  uint64
}

// New builds an event bus with the capacity the metrics/event surface specifies.
func New() *Bus {
	return &Bus{
		items: make([]models.Event, 0, defaultCapacity),
		cap:   defaultCapacity,
	}
}

// Push appends an event, applying drop-oldest-droppable pressure if full.
func (b *Bus) Push(e models.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.items) < b.cap {
		b.items = append(b.items, e)
		return
	}

	if idx := b.firstDroppableIndex(); idx != -1 {
		b.items = append(b.items[:idx], b.items[idx+1:]...)
		b.items = append(b.items, e)
		b.dropped++
		return
	}

	// Every queued event is non-droppable (StateChanged/Error back to back);
	// the event itself is dropped rather than evicting a critical entry.
	b.dropped++
}

func (b *Bus) firstDroppableIndex() int {
	for i, e := range b.items {
		if models.Droppable(e) {
			return i
		}
	}
	return -1
}

// Drain removes and returns every currently queued event.
func (b *Bus) Drain() []models.Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := b.items
	b.items = make([]models.Event, 0, b.cap)
	return out
}

// Dropped reports the cumulative number of events discarded for lack of room.
func (b *Bus) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}
