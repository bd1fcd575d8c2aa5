package timeline

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/storetest"
)

func noopLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

// publish writes item the way the fan-out engine does, delivering to recipients.
func publish(t *testing.T, feed *storetest.Feed, item models.ContentItem, recipients ...string) {
	t.Helper()
	ctx := context.Background()
	_, _, err := feed.InsertContent(ctx, item)
	require.NoError(t, err)
	require.NoError(t, feed.WriteAuthorCopy(ctx, item))
	for _, r := range recipients {
		require.NoError(t, feed.WriteFeedRecord(ctx, r, item))
	}
}

func item(id string, millis int64) models.ContentItem {
	return models.ContentItem{
		ID:        id,
		AuthorID:  "d1",
		Kind:      models.ContentKindPost,
		Body:      "Novo protocolo de " + id,
		CreatedAt: time.UnixMilli(millis).UTC(),
	}
}

func newService(t *testing.T) (*Service, *storetest.Feed) {
	t.Helper()
	feed := storetest.NewFeed()
	svc := NewService(feed, noopLogger()).WithClock(func() time.Time {
		return time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
	})
	return svc, feed
}

func TestTimelinePaginates(t *testing.T) {
	ctx := context.Background()
	svc, feed := newService(t)
	for i := 1; i <= 5; i++ {
		publish(t, feed, item(fmt.Sprintf("p%d", i), int64(i*100)), "d2")
	}

	first, err := svc.Timeline(ctx, "d2", Page{Limit: 2})
	require.NoError(t, err)
	require.Len(t, first.Items, 2)
	assert.Equal(t, "p5", first.Items[0].ID)
	assert.Equal(t, "p4", first.Items[1].ID)
	require.NotEmpty(t, first.NextCursor)

	second, err := svc.Timeline(ctx, "d2", Page{Limit: 2, Before: first.NextCursor})
	require.NoError(t, err)
	require.Len(t, second.Items, 2)
	assert.Equal(t, "p3", second.Items[0].ID)
	assert.Equal(t, "p2", second.Items[1].ID)

	last, err := svc.Timeline(ctx, "d2", Page{Limit: 2, Before: second.NextCursor})
	require.NoError(t, err)
	require.Len(t, last.Items, 1)
	assert.Equal(t, "p1", last.Items[0].ID)
	assert.Empty(t, last.NextCursor)
}

func TestTimelineTiesOrderByContentID(t *testing.T) {
	ctx := context.Background()
	svc, feed := newService(t)
	publish(t, feed, item("b", 100), "d2")
	publish(t, feed, item("a", 100), "d2")

	result, err := svc.Timeline(ctx, "d2", Page{})
	require.NoError(t, err)
	require.Len(t, result.Items, 2)
	assert.Equal(t, "a", result.Items[0].ID)
	assert.Equal(t, "b", result.Items[1].ID)
}

func TestTimelineRejectsMalformedCursor(t *testing.T) {
	svc, _ := newService(t)
	_, err := svc.Timeline(context.Background(), "d2", Page{Before: "yesterday"})
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

func TestTimelineReadsCurrentCounters(t *testing.T) {
	ctx := context.Background()
	svc, feed := newService(t)
	publish(t, feed, item("p1", 100), "d2", "d3")

	_, err := svc.Like(ctx, "p1", "d2")
	require.NoError(t, err)
	_, err = svc.Comment(ctx, "p1", models.Comment{AuthorID: "d3", Body: "Excelente caso"})
	require.NoError(t, err)

	result, err := svc.Timeline(ctx, "d3", Page{})
	require.NoError(t, err)
	require.Len(t, result.Items, 1)
	assert.Equal(t, 1, result.Items[0].LikesCount)
	assert.Equal(t, 1, result.Items[0].CommentsCount)

	posts, err := svc.AuthorPosts(ctx, "d1", Page{})
	require.NoError(t, err)
	require.Len(t, posts.Items, 1)
	assert.Equal(t, 1, posts.Items[0].LikesCount)
}

func TestLikeIsIdempotent(t *testing.T) {
	ctx := context.Background()
	svc, feed := newService(t)
	publish(t, feed, item("p1", 100))

	for range 3 {
		counters, err := svc.Like(ctx, "p1", "d2")
		require.NoError(t, err)
		assert.Equal(t, 1, counters.Likes)
	}

	counters, err := svc.Like(ctx, "p1", "d3")
	require.NoError(t, err)
	assert.Equal(t, 2, counters.Likes)

	counters, err = svc.Unlike(ctx, "p1", "d2")
	require.NoError(t, err)
	assert.Equal(t, 1, counters.Likes)

	stored, err := feed.GetContent(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 1, stored.LikesCount)
}

func TestLikeUnknownPost(t *testing.T) {
	svc, _ := newService(t)
	_, err := svc.Like(context.Background(), "nope", "d2")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestComment(t *testing.T) {
	ctx := context.Background()
	svc, feed := newService(t)
	publish(t, feed, item("p1", 100))

	comment, err := svc.Comment(ctx, "p1", models.Comment{AuthorID: "d2", Body: "  Ótimo artigo  "})
	require.NoError(t, err)
	assert.NotEmpty(t, comment.ID)
	assert.Equal(t, "p1", comment.ContentID)
	assert.Equal(t, "Ótimo artigo", comment.Body)

	_, err = svc.Comment(ctx, "p1", models.Comment{AuthorID: "d2", Body: " "})
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	comments, err := svc.Comments(ctx, "p1", 0)
	require.NoError(t, err)
	require.Len(t, comments, 1)
	assert.Equal(t, comment.ID, comments[0].ID)
}

func TestRefreshAuthorCountersRepairsStaleCounts(t *testing.T) {
	ctx := context.Background()
	svc, feed := newService(t)
	publish(t, feed, item("p1", 100))
	publish(t, feed, item("p2", 200))

	// likes written without a recount leave the stored counters stale
	require.NoError(t, feed.AddLike(ctx, "p1", "d2", time.Now()))
	require.NoError(t, feed.AddLike(ctx, "p2", "d2", time.Now()))
	require.NoError(t, feed.AddLike(ctx, "p2", "d3", time.Now()))

	n, err := svc.RefreshAuthorCounters(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	p2, _ := feed.AuthorCopy("d1", "p2")
	assert.Equal(t, 2, p2.LikesCount)
}

func TestDeletePost(t *testing.T) {
	ctx := context.Background()
	svc, feed := newService(t)
	publish(t, feed, item("p1", 100), "d2")
	publish(t, feed, item("p2", 200), "d2")

	t.Run("only the author may delete", func(t *testing.T) {
		err := svc.DeletePost(ctx, "p1", "d2")
		require.Error(t, err)
		assert.Equal(t, http.StatusForbidden, httperror.GetStatusCode(err))
	})

	t.Run("deleted posts drop out of timelines", func(t *testing.T) {
		require.NoError(t, svc.DeletePost(ctx, "p1", "d1"))

		result, err := svc.Timeline(ctx, "d2", Page{})
		require.NoError(t, err)
		require.Len(t, result.Items, 1)
		assert.Equal(t, "p2", result.Items[0].ID)

		_, ok := feed.AuthorCopy("d1", "p1")
		assert.False(t, ok)
	})
}

func TestTimelineSurfacesStoreOutage(t *testing.T) {
	svc, feed := newService(t)
	publish(t, feed, item("p1", 100), "d2")
	feed.FailKey("content", 1)

	_, err := svc.Timeline(context.Background(), "d2", Page{})
	assert.True(t, models.IsTransient(err))
}
