package queue

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryQueue_FIFO(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, q.Push(ctx, id))
	}

	got, err := q.PopN(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, got)

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err = q.PopN(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, got)

	got, err = q.PopN(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMemoryQueue_PopZero(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()
	require.NoError(t, q.Push(ctx, "a"))

	got, err := q.PopN(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, got)

	n, _ := q.Len(ctx)
	assert.Equal(t, 1, n)
}

func TestMemoryQueue_Remove(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()

	for _, id := range []string{"a", "b", "a", "c"} {
		require.NoError(t, q.Push(ctx, id))
	}

	require.NoError(t, q.Remove(ctx, "a"))
	require.NoError(t, q.Remove(ctx, "missing"))

	got, err := q.PopN(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, got)
}

func TestMemoryQueue_Concurrent(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()

	var wg sync.WaitGroup

	for i := range 50 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_ = q.Push(ctx, fmt.Sprintf("exec-%d", i))
		}()
	}

	wg.Wait()

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 50, n)
}
