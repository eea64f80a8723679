package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDropNewestNeverExceedsCapacity(t *testing.T) {
	q := New[int](3, DropNewest, 0, nil)
	for i := 0; i < 10; i++ {
		q.Push(i)
		require.LessOrEqual(t, q.Len(), q.Cap())
	}
	assert.Equal(t, 3, q.Len())
	assert.Greater(t, q.Dropped(), uint64(0))
}

func TestDropNewestKeepsOldestContents(t *testing.T) {
	q := New[int](2, DropNewest, 0, nil)
	q.Push(1)
	q.Push(2)
	ok := q.Push(3)
	assert.False(t, ok)

	v, _ := q.TryPop()
	assert.Equal(t, 1, v)
	v, _ = q.TryPop()
	assert.Equal(t, 2, v)
}

func TestBlockThenDropFallsBackAfterGrace(t *testing.T) {
	q := New[int](1, BlockThenDrop, 5*time.Millisecond, nil)
	q.Push(1)

	start := time.Now()
	ok := q.Push(2)
	elapsed := time.Since(start)

	assert.True(t, ok)
	assert.GreaterOrEqual(t, elapsed, 5*time.Millisecond)
	assert.LessOrEqual(t, q.Len(), q.Cap())

	v, _ := q.TryPop()
	assert.Equal(t, 2, v)
}

func TestBlockThenDropSucceedsWhenRoomFreesUp(t *testing.T) {
	q := New[int](1, BlockThenDrop, 50*time.Millisecond, nil)
	q.Push(1)

	go func() {
		time.Sleep(5 * time.Millisecond)
		q.TryPop()
	}()

	ok := q.Push(2)
	assert.True(t, ok)
	assert.Equal(t, 1, q.Len())
}

func TestDropByPriorityEvictsLowestPriority(t *testing.T) {
	less := func(a, b int) bool { return a < b }
	q := New[int](2, DropByPriority, 0, less)
	q.Push(5) // keyframe-ish, high priority
	q.Push(1) // low priority, evictable

	ok := q.Push(3) // higher priority than the lowest queued (1), evicts it
	assert.True(t, ok)
	assert.Equal(t, 2, q.Len())

	v1, _ := q.TryPop()
	v2, _ := q.TryPop()
	assert.ElementsMatch(t, []int{5, 3}, []int{v1, v2})
}

func TestDropByPriorityRejectsWhenNewIsLowest(t *testing.T) {
	less := func(a, b int) bool { return a < b }
	q := New[int](2, DropByPriority, 0, less)
	q.Push(5)
	q.Push(4)

	ok := q.Push(1)
	assert.False(t, ok)
	assert.Equal(t, 2, q.Len())
}

func TestCloseDrainsThenStopsConsumer(t *testing.T) {
	q := New[int](2, DropNewest, 0, nil)
	q.Push(1)
	q.Push(2)
	q.Close()

	v, ok := q.Pop()
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	v, ok = q.Pop()
	assert.True(t, ok)
	assert.Equal(t, 2, v)

	_, ok = q.Pop()
	assert.False(t, ok)
}

func TestCloseUnblocksWaitingConsumer(t *testing.T) {
	q := New[int](2, DropNewest, 0, nil)
	done := make(chan bool, 1)
	go func() {
		_, ok := q.Pop()
		done <- ok
	}()

	time.Sleep(5 * time.Millisecond)
	q.Close()

	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Pop did not unblock after Close")
	}
}

func TestPushAfterCloseIsNoOp(t *testing.T) {
	q := New[int](2, DropNewest, 0, nil)
	q.Close()
	ok := q.Push(1)
	assert.False(t, ok)
	assert.Equal(t, 0, q.Len())
}

func TestDropHookInvokedOnDiscard(t *testing.T) {
	q := New[int](1, DropNewest, 0, nil)
	var hookGot int
	q.SetDropHook(func(item int) { hookGot = item })

	q.Push(1)
	q.Push(2)
	assert.Equal(t, 2, hookGot)
}
