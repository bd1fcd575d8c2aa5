package feedstore

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const contentSelect = `content_id, author_id, author_name, author_pic_url, kind, body,
	media_urls, tags, likes_count, comments_count, created_at`

func contentArgs(item models.ContentItem) []any {
	return []any{
		item.ID, item.AuthorID, item.AuthorName, item.AuthorPicURL, string(item.Kind), item.Body,
		item.MediaURLs, item.Tags, item.LikesCount, item.CommentsCount, item.CreatedAt,
	}
}

type rowScanner interface {
	Scan(dest ...any) bool
}

func scanContent(scanner rowScanner, item *models.ContentItem) bool {
	var kind string
	ok := scanner.Scan(
		&item.ID, &item.AuthorID, &item.AuthorName, &item.AuthorPicURL, &kind, &item.Body,
		&item.MediaURLs, &item.Tags, &item.LikesCount, &item.CommentsCount, &item.CreatedAt,
	)
	item.Kind = models.ContentKind(kind)
	item.CreatedAt = item.CreatedAt.UTC()
	return ok
}

// InsertContent writes the canonical content record with IF NOT EXISTS. When the id
// already exists the stored record is returned with applied=false.
func (s *Store) InsertContent(ctx context.Context, item models.ContentItem) (models.ContentItem, bool, error) {
	ctx, span := tracing.StartSpan(ctx, "feedstore.Store.InsertContent")
	defer span.End()

	existing := map[string]any{}
	applied, err := s.session.Query(
		`INSERT INTO content_by_id (`+contentSelect+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) IF NOT EXISTS`,
		contentArgs(item)...,
	).WithContext(ctx).SerialConsistency(gocql.LocalSerial).MapScanCAS(existing)
	if err != nil {
		tracing.RecordError(span, err)
		return models.ContentItem{}, false, fmt.Errorf("failed to insert content %s: %w", item.ID, classify(err))
	}
	if applied {
		return item, true, nil
	}
	return contentFromMap(existing), false, nil
}

func contentFromMap(m map[string]any) models.ContentItem {
	item := models.ContentItem{}
	item.ID, _ = m["content_id"].(string)
	item.AuthorID, _ = m["author_id"].(string)
	item.AuthorName, _ = m["author_name"].(string)
	item.AuthorPicURL, _ = m["author_pic_url"].(string)
	kind, _ := m["kind"].(string)
	item.Kind = models.ContentKind(kind)
	item.Body, _ = m["body"].(string)
	item.MediaURLs, _ = m["media_urls"].([]string)
	item.Tags, _ = m["tags"].([]string)
	item.LikesCount, _ = m["likes_count"].(int)
	item.CommentsCount, _ = m["comments_count"].(int)
	if created, ok := m["created_at"].(time.Time); ok {
		item.CreatedAt = created.UTC()
	}
	return item
}

// WriteAuthorCopy indexes the item in its author's profile partition.
func (s *Store) WriteAuthorCopy(ctx context.Context, item models.ContentItem) error {
	ctx, span := tracing.StartSpan(ctx, "feedstore.Store.WriteAuthorCopy")
	defer span.End()

	err := s.session.Query(
		`INSERT INTO content_by_author (`+contentSelect+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		contentArgs(item)...,
	).WithContext(ctx).Exec()
	if err != nil {
		return fmt.Errorf("failed to write author copy of %s: %w", item.ID, classify(err))
	}
	return nil
}

// GetContent reads the canonical record, or ErrNotFound.
func (s *Store) GetContent(ctx context.Context, contentID string) (models.ContentItem, error) {
	ctx, span := tracing.StartSpan(ctx, "feedstore.Store.GetContent")
	defer span.End()

	var item models.ContentItem
	iter := s.session.Query(
		`SELECT `+contentSelect+` FROM content_by_id WHERE content_id = ?`, contentID,
	).WithContext(ctx).Iter()
	found := scanContent(iter, &item)
	if err := iter.Close(); err != nil {
		return models.ContentItem{}, fmt.Errorf("failed to read content %s: %w", contentID, classify(err))
	}
	if !found {
		return models.ContentItem{}, fmt.Errorf("content %s: %w", contentID, models.ErrNotFound)
	}
	return item, nil
}

// AuthorPosts pages through an author's own items, newest first.
func (s *Store) AuthorPosts(ctx context.Context, authorID string, cursor models.Cursor, limit int) ([]models.ContentItem, error) {
	ctx, span := tracing.StartSpan(ctx, "feedstore.Store.AuthorPosts")
	defer span.End()

	items, err := s.page(ctx, `SELECT `+contentSelect+` FROM content_by_author WHERE author_id = ?`, authorID, cursor, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read posts of %s: %w", authorID, err)
	}
	return items, nil
}

// UpdateCounters stores fresh engagement counts on the canonical and author records.
func (s *Store) UpdateCounters(ctx context.Context, item models.ContentItem, counters models.Counters) error {
	ctx, span := tracing.StartSpan(ctx, "feedstore.Store.UpdateCounters")
	defer span.End()

	batch := s.session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	batch.Query(`UPDATE content_by_id SET likes_count = ?, comments_count = ? WHERE content_id = ?`,
		counters.Likes, counters.Comments, item.ID)
	batch.Query(`UPDATE content_by_author SET likes_count = ?, comments_count = ?
		WHERE author_id = ? AND created_at = ? AND content_id = ?`,
		counters.Likes, counters.Comments, item.AuthorID, item.CreatedAt, item.ID)
	if err := s.session.ExecuteBatch(batch); err != nil {
		return fmt.Errorf("failed to update counters of %s: %w", item.ID, classify(err))
	}
	return nil
}

// page scans a content-shaped partition from the cursor, stopping once limit
// items strictly older than the cursor are collected.
func (s *Store) page(ctx context.Context, stmt string, partition string, cursor models.Cursor, limit int) ([]models.ContentItem, error) {
	args := []any{partition}
	if !cursor.IsZero() {
		stmt += ` AND created_at <= ?`
		args = append(args, cursor.CreatedAt)
	}

	iter := s.session.Query(stmt, args...).WithContext(ctx).PageSize(limit + 1).Iter()
	items := make([]models.ContentItem, 0, limit)
	for len(items) < limit {
		var item models.ContentItem
		if !scanContent(iter, &item) {
			break
		}
		if !cursor.IsZero() && !cursor.Before(item.CreatedAt, item.ID) {
			continue
		}
		items = append(items, item)
	}
	if err := iter.Close(); err != nil {
		return nil, classify(err)
	}
	return items, nil
}

// DeleteContent removes the canonical record and the author copy. Feed copies
// already fanned out stay as snapshots.
func (s *Store) DeleteContent(ctx context.Context, item models.ContentItem) error {
	ctx, span := tracing.StartSpan(ctx, "feedstore.Store.DeleteContent")
	defer span.End()

	batch := s.session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	batch.Query(`DELETE FROM content_by_id WHERE content_id = ?`, item.ID)
	batch.Query(`DELETE FROM content_by_author WHERE author_id = ? AND created_at = ? AND content_id = ?`,
		item.AuthorID, item.CreatedAt, item.ID)
	if err := s.session.ExecuteBatch(batch); err != nil {
		return fmt.Errorf("failed to delete content %s: %w", item.ID, classify(err))
	}
	return nil
}
