package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueuePopsInArrivalOrder(t *testing.T) {
	q := NewQueue(3)

	for _, id := range []string{"f1", "f2", "f3"} {
		_, dropped := q.Push(id)
		assert.False(t, dropped)
	}
	assert.Equal(t, 3, q.Len())

	ctx := context.Background()
	for _, want := range []string{"f1", "f2", "f3"} {
		got, err := q.Pop(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	assert.Equal(t, 0, q.Len())
}

func TestQueueDropsOldestOnOverflow(t *testing.T) {
	q := NewQueue(2)

	q.Push("f1")
	q.Push("f2")

	droppedID, dropped := q.Push("f3")
	require.True(t, dropped)
	assert.Equal(t, "f1", droppedID)

	droppedID, dropped = q.Push("f4")
	require.True(t, dropped)
	assert.Equal(t, "f2", droppedID)

	assert.Equal(t, int64(2), q.Dropped())
	assert.Equal(t, 2, q.Len())

	ctx := context.Background()
	got, err := q.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, "f3", got)
}

func TestQueuePopBlocksUntilPushOrCancel(t *testing.T) {
	q := NewQueue(2)

	done := make(chan string, 1)
	go func() {
		id, err := q.Pop(context.Background())
		if err == nil {
			done <- id
		}
	}()

	select {
	case id := <-done:
		t.Fatalf("pop returned %q before any push", id)
	case <-time.After(20 * time.Millisecond):
	}

	q.Push("f1")
	select {
	case id := <-done:
		assert.Equal(t, "f1", id)
	case <-time.After(time.Second):
		t.Fatal("pop never woke up after push")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := q.Pop(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
