package pg

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTransactor struct {
	calls int
}

func (f *fakeTransactor) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	f.calls++
	return fn(ctx)
}

func TestChunk(t *testing.T) {
	items := make([]int, 1201)
	chunks := Chunk(items, 0)
	require.Len(t, chunks, 3)
	assert.Len(t, chunks[0], MaxBatchWrites)
	assert.Len(t, chunks[1], MaxBatchWrites)
	assert.Len(t, chunks[2], 201)

	assert.Len(t, Chunk(items, 1000), 3, "sizes above the write bound are clamped")
	assert.Len(t, Chunk(items, 100), 13)
	assert.Empty(t, Chunk([]int{}, 10))
}

func TestInBatches(t *testing.T) {
	items := make([]int, 25)
	for i := range items {
		items[i] = i
	}
	boom := errors.New("boom")
	tx := &fakeTransactor{}

	var seen []int
	failures := InBatches(context.Background(), tx, items, 10, func(_ context.Context, chunk []int) error {
		if chunk[0] == 10 {
			return boom
		}
		seen = append(seen, chunk...)
		return nil
	})

	assert.Equal(t, 3, tx.calls)
	assert.Len(t, seen, 15)
	require.Len(t, failures, 1)
	assert.Equal(t, 10, failures[0].Offset)
	assert.Equal(t, 10, failures[0].Size)
	assert.ErrorIs(t, failures[0].Err, boom)
}

func TestInBatches_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	tx := &fakeTransactor{}

	failures := InBatches(ctx, tx, make([]int, 7), 5, func(context.Context, []int) error { return nil })
	assert.Zero(t, tx.calls)
	require.Len(t, failures, 1)
	assert.Equal(t, 7, failures[0].Size)
	assert.ErrorIs(t, failures[0].Err, context.Canceled)
}

func TestRetryOnConflict(t *testing.T) {
	ctx := context.Background()

	t.Run("succeeds after conflicts", func(t *testing.T) {
		calls := 0
		err := RetryOnConflict(ctx, func() error {
			calls++
			if calls < 3 {
				return ErrConcurrentUpdate
			}
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("gives up", func(t *testing.T) {
		calls := 0
		err := RetryOnConflict(ctx, func() error {
			calls++
			return ErrConcurrentUpdate
		})
		assert.ErrorIs(t, err, ErrMaxRetriesExceeded)
		assert.Equal(t, maxRetries+1, calls)
	})

	t.Run("permanent errors are not retried", func(t *testing.T) {
		calls := 0
		boom := errors.New("boom")
		err := RetryOnConflict(ctx, func() error {
			calls++
			return boom
		})
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, 1, calls)
	})
}
