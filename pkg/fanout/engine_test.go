package fanout

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/resolver"
	"github.com/Ramsey-B/fern/pkg/storetest"
)

func noopLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func docRef(id string) models.Ref {
	return models.Ref{Type: models.EntityTypeDoctor, ID: id}
}

type recordingEmitter struct {
	summaries []models.FanOutSummary
}

func (r *recordingEmitter) ContentPublished(_ context.Context, summary models.FanOutSummary) {
	r.summaries = append(r.summaries, summary)
}

type fixture struct {
	engine    *Engine
	feed      *storetest.Feed
	graph     *storetest.Graph
	canonical *storetest.Canonical
	queue     *storetest.Queue
	emitter   *recordingEmitter
}

// newFixture builds D1 connected to D2 and D3, with D4 unrelated.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	f := &fixture{
		feed:      storetest.NewFeed(),
		graph:     storetest.NewGraph(),
		canonical: storetest.NewCanonical(),
		queue:     storetest.NewQueue(),
		emitter:   &recordingEmitter{},
	}
	for _, id := range []string{"D1", "D2", "D3", "D4"} {
		doc := models.Entity{ID: id, Type: models.EntityTypeDoctor, Name: "Dr. " + id, Attributes: map[string]any{"profilePicUrl": "https://cdn/" + id}}
		f.canonical.Put(doc)
		_, err := f.graph.MergeNode(ctx, doc)
		require.NoError(t, err)
	}
	for _, peer := range []string{"D2", "D3"} {
		_, err := f.graph.MergeEdge(ctx, models.RelationshipFact{Type: models.EdgeConnectedTo, From: docRef("D1"), To: docRef(peer)})
		require.NoError(t, err)
	}

	r := resolver.New(resolver.ModeGraph, f.graph, f.canonical, noopLogger())
	cfg := Config{Concurrency: 4, WriteTimeout: time.Second, WriteAttempts: 2, MaxRedeliveries: 3, InitialBackoff: time.Millisecond}
	f.engine = NewEngine(f.feed, r, f.queue, f.canonical, f.emitter, cfg, noopLogger())
	return f
}

func post(id string) models.ContentItem {
	return models.ContentItem{ID: id, AuthorID: "D1", Kind: models.ContentKindPost, Body: "Cardiologia"}
}

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func TestPublishDeliversToConnectedDoctors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	at := time.UnixMilli(100).UTC()
	f.engine.WithClock(fixedClock(at))

	summary, err := f.engine.Publish(ctx, post("c1"))
	require.NoError(t, err)

	assert.Equal(t, "c1", summary.ContentID)
	assert.Equal(t, 2, summary.Recipients)
	assert.Equal(t, 2, summary.Succeeded)
	assert.Zero(t, summary.Failed)
	assert.Zero(t, summary.Queued)

	authorCopy, ok := f.feed.AuthorCopy("D1", "c1")
	require.True(t, ok)
	assert.Equal(t, at, authorCopy.CreatedAt)
	assert.Equal(t, "Dr. D1", authorCopy.AuthorName)
	assert.Equal(t, "https://cdn/D1", authorCopy.AuthorPicURL)

	assert.Equal(t, 1, f.feed.Copies("D1", "c1"), "the author sees its own post")
	assert.Equal(t, 1, f.feed.Copies("D2", "c1"))
	assert.Equal(t, 1, f.feed.Copies("D3", "c1"))
	assert.Zero(t, f.feed.Copies("D4", "c1"))

	require.Len(t, f.emitter.summaries, 1)
	assert.Equal(t, summary, f.emitter.summaries[0])
}

func TestPublishOrdersFeedNewestFirst(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	t1 := time.UnixMilli(100).UTC()
	t2 := time.UnixMilli(200).UTC()

	f.engine.WithClock(fixedClock(t1))
	_, err := f.engine.Publish(ctx, post("c1"))
	require.NoError(t, err)
	f.engine.WithClock(fixedClock(t2))
	_, err = f.engine.Publish(ctx, post("c2"))
	require.NoError(t, err)

	items, err := f.feed.ReadFeed(ctx, "D2", models.Cursor{}, 10)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "c2", items[0].ID)
	assert.Equal(t, "c1", items[1].ID)
}

func TestPublishContainsRecipientFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.feed.FailKey(storetest.FeedKey("D3"), -1)

	summary, err := f.engine.Publish(ctx, post("c1"))
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Recipients)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, summary.Queued)
	assert.Equal(t, []string{"D3"}, summary.FailedIDs)
	assert.Equal(t, 1, f.feed.Copies("D2", "c1"))

	entries := f.queue.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "D3", entries[0].RecipientID)
	assert.Equal(t, "c1", entries[0].Content.ID)
	assert.NotEmpty(t, entries[0].LastError)
}

func TestPublishRetriesTransientWrite(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.feed.FailKey(storetest.FeedKey("D2"), 1)

	summary, err := f.engine.Publish(ctx, post("c1"))
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Succeeded)
	assert.Empty(t, f.queue.Entries())
}

func TestRepublishConverges(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	first := time.UnixMilli(100).UTC()

	f.engine.WithClock(fixedClock(first))
	_, err := f.engine.Publish(ctx, post("c1"))
	require.NoError(t, err)

	f.engine.WithClock(fixedClock(time.UnixMilli(500)))
	summary, err := f.engine.Publish(ctx, post("c1"))
	require.NoError(t, err)
	assert.True(t, summary.Duplicate)
	assert.Equal(t, first, summary.CreatedAt, "the stored creation time wins")

	assert.Equal(t, 1, f.feed.Copies("D2", "c1"))
	items, err := f.feed.ReadFeed(ctx, "D2", models.Cursor{}, 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, first, items[0].CreatedAt)
}

func TestPublishQueuesUnresolvedFanOut(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.graph.SetUnavailable(true)

	summary, err := f.engine.Publish(ctx, post("c1"))
	require.NoError(t, err)
	assert.NotEmpty(t, summary.ResolveError)
	assert.Equal(t, 1, summary.Queued)

	_, ok := f.feed.AuthorCopy("D1", "c1")
	assert.True(t, ok, "the author copy is durable even when resolving fails")

	entries := f.queue.Entries()
	require.Len(t, entries, 1)
	assert.True(t, entries[0].IsResolvePending())
}

func TestPublishFailsWhenContentIsNotDurable(t *testing.T) {
	f := newFixture(t)
	f.feed.FailKey("content", -1)

	_, err := f.engine.Publish(context.Background(), post("c1"))
	assert.True(t, models.IsTransient(err))
	assert.Zero(t, f.feed.Copies("D2", "c1"))
	assert.Empty(t, f.emitter.summaries)
}

func TestPublishValidation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		item models.ContentItem
	}{
		{name: "missing author", item: models.ContentItem{Body: "hello"}},
		{name: "empty body", item: models.ContentItem{AuthorID: "D1", Body: "   "}},
		{name: "unknown kind", item: models.ContentItem{AuthorID: "D1", Body: "hello", Kind: "PODCAST"}},
		{name: "bad media url", item: models.ContentItem{AuthorID: "D1", Body: "hello", MediaURLs: []string{"not a url"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.Publish(context.Background(), tt.item)
			assert.ErrorIs(t, err, models.ErrInvalidInput)
		})
	}
}

func TestPublishAssignsIDAndTimestamp(t *testing.T) {
	f := newFixture(t)
	now := time.Date(2025, 3, 1, 12, 0, 0, 123456789, time.UTC)
	f.engine.WithClock(fixedClock(now))

	summary, err := f.engine.Publish(context.Background(), models.ContentItem{AuthorID: "D1", Body: "Plantão"})
	require.NoError(t, err)

	assert.NotEmpty(t, summary.ContentID)
	assert.Equal(t, now.Truncate(time.Millisecond), summary.CreatedAt)
	stored, ok := f.feed.AuthorCopy("D1", summary.ContentID)
	require.True(t, ok)
	assert.Equal(t, models.ContentKindPost, stored.Kind)
}

func TestPublishUnknownAuthor(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.Publish(context.Background(), models.ContentItem{AuthorID: "D9", Body: "hello"})
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestPublishAllMembers(t *testing.T) {
	f := newFixture(t)
	r := resolver.New(resolver.ModeAllMembers, f.graph, f.canonical, noopLogger())

	summary, err := f.engine.WithResolver(r).Publish(context.Background(), post("c1"))
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Recipients)
	assert.Equal(t, 1, f.feed.Copies("D4", "c1"))
}

func TestPublishStampsClockOverCallerTime(t *testing.T) {
	f := newFixture(t)
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	f.engine.WithClock(fixedClock(now))

	item := post("c1")
	item.CreatedAt = time.Date(2099, 1, 1, 0, 0, 0, 0, time.UTC)
	summary, err := f.engine.Publish(context.Background(), item)
	require.NoError(t, err)
	assert.Equal(t, now, summary.CreatedAt)

	items, err := f.feed.ReadFeed(context.Background(), "D2", models.Cursor{}, 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, now, items[0].CreatedAt, "a future timestamp cannot pin the post to the top")
}

func TestPublishAtKeepsRecordedTime(t *testing.T) {
	f := newFixture(t)
	f.engine.WithClock(fixedClock(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)))
	recorded := time.Date(2025, 2, 20, 8, 30, 0, 0, time.UTC)

	summary, err := f.engine.PublishAt(context.Background(), post("c1"), recorded)
	require.NoError(t, err)
	assert.Equal(t, recorded, summary.CreatedAt)
}

func TestPublishOverridesAuthorDisplayFields(t *testing.T) {
	f := newFixture(t)

	item := post("c1")
	item.AuthorName = "Dr. Impostor"
	item.AuthorPicURL = "https://evil/pic.png"
	_, err := f.engine.Publish(context.Background(), item)
	require.NoError(t, err)

	for _, owner := range []string{"D1", "D2"} {
		items, err := f.feed.ReadFeed(context.Background(), owner, models.Cursor{}, 10)
		require.NoError(t, err)
		require.Len(t, items, 1)
		assert.Equal(t, "Dr. D1", items[0].AuthorName)
		assert.Equal(t, "https://cdn/D1", items[0].AuthorPicURL)
	}

	spoofed := models.ContentItem{ID: "c2", AuthorID: "D9", AuthorName: "Dr. D1", Body: "hello"}
	_, err = f.engine.Publish(context.Background(), spoofed)
	assert.ErrorIs(t, err, models.ErrNotFound, "a supplied name does not skip the author lookup")
}

// slowQueue records how many Enqueue calls overlap.
type slowQueue struct {
	delay    time.Duration
	mu       sync.Mutex
	inFlight int
	peak     int
	entries  []models.FailedDelivery
}

func (q *slowQueue) Enqueue(_ context.Context, d models.FailedDelivery) error {
	q.mu.Lock()
	q.inFlight++
	q.peak = max(q.peak, q.inFlight)
	q.mu.Unlock()

	time.Sleep(q.delay)

	q.mu.Lock()
	defer q.mu.Unlock()
	q.inFlight--
	q.entries = append(q.entries, d)
	return nil
}

func TestFanOutQueuesFailuresConcurrently(t *testing.T) {
	f := newFixture(t)
	for _, id := range []string{"D2", "D3", "D4"} {
		f.feed.FailKey(storetest.FeedKey(id), -1)
	}
	q := &slowQueue{delay: 50 * time.Millisecond}
	cfg := Config{Concurrency: 4, WriteTimeout: time.Second, WriteAttempts: 1, MaxRedeliveries: 3, InitialBackoff: time.Millisecond}
	r := resolver.New(resolver.ModeAllMembers, f.graph, f.canonical, noopLogger())
	engine := NewEngine(f.feed, r, q, f.canonical, nil, cfg, noopLogger())

	summary, err := engine.Publish(context.Background(), post("c1"))
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Failed)
	assert.Equal(t, 3, summary.Queued)
	assert.Equal(t, []string{"D2", "D3", "D4"}, summary.FailedIDs)
	assert.Len(t, q.entries, 3)
	assert.Greater(t, q.peak, 1, "queue writes for different recipients overlap")
}
