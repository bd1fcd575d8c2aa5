package fanout

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fernredis "github.com/Ramsey-B/fern/pkg/redis"
	"github.com/Ramsey-B/fern/pkg/resolver"
	"github.com/Ramsey-B/fern/pkg/storetest"
)

func newRedisQueue(t *testing.T) *fernredis.DeliveryQueue {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	q := fernredis.NewDeliveryQueue(fernredis.NewFromRedis(rdb, noopLogger()), "", "", "worker-1", noopLogger())
	require.NoError(t, q.EnsureGroup(context.Background()))
	return q
}

func stopWithin(t *testing.T, w *RetryWorker, limit time.Duration) {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- w.Stop() }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(limit):
		t.Fatalf("retry worker did not stop within %s", limit)
	}
}

func TestRetryWorkerStopsOnIdleStream(t *testing.T) {
	f := newFixture(t)
	q := newRedisQueue(t)

	w := NewRetryWorker(f.engine, q, 5*time.Millisecond, noopLogger())
	require.NoError(t, w.Start(context.Background()))

	// let several passes read the empty stream
	time.Sleep(50 * time.Millisecond)
	stopWithin(t, w, 2*time.Second)
}

func TestRetryWorkerRedeliversFromStream(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	q := newRedisQueue(t)
	r := resolver.New(resolver.ModeGraph, f.graph, f.canonical, noopLogger())
	cfg := Config{Concurrency: 4, WriteTimeout: time.Second, WriteAttempts: 2, MaxRedeliveries: 3, InitialBackoff: time.Millisecond}
	engine := NewEngine(f.feed, r, q, f.canonical, nil, cfg, noopLogger())

	f.feed.FailKey(storetest.FeedKey("D3"), 2)
	summary, err := engine.Publish(ctx, post("c1"))
	require.NoError(t, err)
	require.Equal(t, 1, summary.Queued)

	n, err := q.Len(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	w := NewRetryWorker(engine, q, 5*time.Millisecond, noopLogger())
	require.NoError(t, w.Start(ctx))

	assert.Eventually(t, func() bool {
		n, err := q.Len(ctx)
		return err == nil && n == 0 && f.feed.Copies("D3", "c1") == 1
	}, 2*time.Second, 10*time.Millisecond)

	stopWithin(t, w, 2*time.Second)
}
