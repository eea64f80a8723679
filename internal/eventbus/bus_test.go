package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"broadcaster/pkg/models"
)

func TestDrainReturnsAllPushedEvents(t *testing.T) {
	b := New()
	b.Push(models.MetricsEvent{})
	b.Push(models.ReadyEvent{})

	events := b.Drain()
	assert.Len(t, events, 2)
	assert.Empty(t, b.Drain())
}

func TestFullBufferDropsOldestDroppable(t *testing.T) {
	b := New()
	for i := 0; i < defaultCapacity; i++ {
		b.Push(models.MetricsEvent{})
	}
	b.Push(models.ReadyEvent{})

	events := b.Drain()
	assert.Len(t, events, defaultCapacity)
	assert.Greater(t, b.Dropped(), uint64(0))
}

func TestStateChangedNeverDropped(t *testing.T) {
	b := New()
	for i := 0; i < defaultCapacity; i++ {
		b.Push(models.StateChangedEvent{})
	}
	// buffer now entirely non-droppable; one more push cannot evict anything
	b.Push(models.StateChangedEvent{})

	events := b.Drain()
	for _, e := range events {
		_, ok := e.(models.StateChangedEvent)
		assert.True(t, ok)
	}
	assert.Len(t, events, defaultCapacity)
}
