package feedstore

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/gocql/gocql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/models"
)

func TestClassify(t *testing.T) {
	assert.NoError(t, classify(nil))
	assert.ErrorIs(t, classify(gocql.ErrNotFound), models.ErrNotFound)
	assert.ErrorIs(t, classify(gocql.ErrNoConnections), models.ErrStoreUnavailable)
	assert.ErrorIs(t, classify(fmt.Errorf("write: %w", context.DeadlineExceeded)), models.ErrStoreUnavailable)
	assert.ErrorIs(t, classify(&gocql.RequestErrWriteTimeout{}), models.ErrStoreUnavailable)

	other := errors.New("syntax error")
	assert.Same(t, other, classify(other))
}

func TestSchemaOrdersFeedNewestFirst(t *testing.T) {
	require.Len(t, tableCQL, 5)
	assert.Contains(t, tableCQL[2], "feed_by_user")
	assert.Contains(t, tableCQL[2], "PRIMARY KEY (user_id, created_at, content_id)")
	assert.Contains(t, tableCQL[2], "CLUSTERING ORDER BY (created_at DESC, content_id ASC)")
	assert.Contains(t, keyspaceCQL("feed", 0), "'replication_factor': 1")
	assert.Contains(t, keyspaceCQL("feed", 3), "'replication_factor': 3")
}

func TestContentFromMap(t *testing.T) {
	created := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	item := contentFromMap(map[string]any{
		"content_id":     "c1",
		"author_id":      "d1",
		"author_name":    "Dra. Ana",
		"kind":           "ARTICLE",
		"body":           "hello",
		"tags":           []string{"cardio"},
		"likes_count":    3,
		"comments_count": 1,
		"created_at":     created,
	})

	assert.Equal(t, "c1", item.ID)
	assert.Equal(t, "d1", item.AuthorID)
	assert.Equal(t, models.ContentKindArticle, item.Kind)
	assert.Equal(t, []string{"cardio"}, item.Tags)
	assert.Equal(t, 3, item.LikesCount)
	assert.Equal(t, created, item.CreatedAt)
}

type fakeRow struct {
	values []any
	used   bool
}

func (r *fakeRow) Scan(dest ...any) bool {
	if r.used {
		return false
	}
	r.used = true
	for i, d := range dest {
		switch p := d.(type) {
		case *string:
			*p, _ = r.values[i].(string)
		case *[]string:
			*p, _ = r.values[i].([]string)
		case *int:
			*p, _ = r.values[i].(int)
		case *time.Time:
			*p, _ = r.values[i].(time.Time)
		}
	}
	return true
}

func TestScanContent(t *testing.T) {
	created := time.Date(2024, 5, 1, 10, 0, 0, 0, time.FixedZone("BRT", -3*3600))
	row := &fakeRow{values: contentArgs(models.ContentItem{
		ID: "c1", AuthorID: "d1", Kind: models.ContentKindPost, Body: "b", CreatedAt: created, LikesCount: 2,
	})}

	var item models.ContentItem
	require.True(t, scanContent(row, &item))
	assert.Equal(t, models.ContentKindPost, item.Kind)
	assert.Equal(t, 2, item.LikesCount)
	assert.Equal(t, time.UTC, item.CreatedAt.Location())
	assert.True(t, created.Equal(item.CreatedAt))

	assert.False(t, scanContent(row, &models.ContentItem{}))
}
