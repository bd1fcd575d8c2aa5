package fanout

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/storetest"
)

func TestRetryWorkerRedeliversQueuedRecipient(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.feed.FailKey(storetest.FeedKey("D3"), 2)

	_, err := f.engine.Publish(ctx, post("c1"))
	require.NoError(t, err)
	require.Len(t, f.queue.Entries(), 1)

	w := NewRetryWorker(f.engine, f.queue, time.Hour, noopLogger())
	n, err := w.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Equal(t, 1, f.feed.Copies("D3", "c1"))
	assert.Empty(t, f.queue.Entries())
}

func TestRetryWorkerRequeuesThenDrops(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.feed.FailKey(storetest.FeedKey("D3"), -1)

	_, err := f.engine.Publish(ctx, post("c1"))
	require.NoError(t, err)

	w := NewRetryWorker(f.engine, f.queue, time.Hour, noopLogger())

	_, err = w.RunOnce(ctx)
	require.NoError(t, err)
	entries := f.queue.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, 1, entries[0].Attempts)

	_, err = w.RunOnce(ctx)
	require.NoError(t, err)
	entries = f.queue.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, 2, entries[0].Attempts)

	// the third redelivery reaches the limit and the entry is dropped
	_, err = w.RunOnce(ctx)
	require.NoError(t, err)
	assert.Empty(t, f.queue.Entries())
	assert.Zero(t, f.feed.Copies("D3", "c1"))
}

func TestRetryWorkerFansOutPendingContent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.graph.SetUnavailable(true)

	_, err := f.engine.Publish(ctx, post("c1"))
	require.NoError(t, err)
	assert.Zero(t, f.feed.Copies("D2", "c1"))

	w := NewRetryWorker(f.engine, f.queue, time.Hour, noopLogger())

	t.Run("still unresolvable", func(t *testing.T) {
		_, err := w.RunOnce(ctx)
		require.NoError(t, err)
		entries := f.queue.Entries()
		require.Len(t, entries, 1)
		assert.True(t, entries[0].IsResolvePending())
		assert.Equal(t, 1, entries[0].Attempts)
	})

	t.Run("graph is back", func(t *testing.T) {
		f.graph.SetUnavailable(false)
		_, err := w.RunOnce(ctx)
		require.NoError(t, err)

		assert.Empty(t, f.queue.Entries())
		assert.Equal(t, 1, f.feed.Copies("D2", "c1"))
		assert.Equal(t, 1, f.feed.Copies("D3", "c1"))
	})
}

func TestRetryWorkerReturnsQueueFailure(t *testing.T) {
	f := newFixture(t)
	f.queue.SetUnavailable(true)

	w := NewRetryWorker(f.engine, f.queue, time.Hour, noopLogger())
	_, err := w.RunOnce(context.Background())
	assert.Error(t, err)
}

func TestRetryWorkerStartStop(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.feed.FailKey(storetest.FeedKey("D2"), 2)

	_, err := f.engine.Publish(ctx, post("c1"))
	require.NoError(t, err)

	w := NewRetryWorker(f.engine, f.queue, 5*time.Millisecond, noopLogger())
	require.NoError(t, w.Start(ctx))
	assert.Eventually(t, func() bool {
		return f.feed.Copies("D2", "c1") == 1
	}, time.Second, 5*time.Millisecond)
	require.NoError(t, w.Stop())
}
