package feedstore

import (
	"context"
	"fmt"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// WriteFeedRecord places a snapshot of item in the recipient's partition.
// Rewriting the same (recipient, created_at, content_id) key is an overwrite.
func (s *Store) WriteFeedRecord(ctx context.Context, recipientID string, item models.ContentItem) error {
	ctx, span := tracing.StartSpan(ctx, "feedstore.Store.WriteFeedRecord")
	defer span.End()

	args := append([]any{recipientID}, contentArgs(item)...)
	err := s.session.Query(
		`INSERT INTO feed_by_user (user_id, `+contentSelect+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		args...,
	).WithContext(ctx).Exec()
	if err != nil {
		tracing.RecordError(span, err)
		return fmt.Errorf("failed to write feed record %s for %s: %w", item.ID, recipientID, classify(err))
	}
	return nil
}

// ReadFeed returns up to limit records of the recipient's feed strictly after cursor.
func (s *Store) ReadFeed(ctx context.Context, recipientID string, cursor models.Cursor, limit int) ([]models.ContentItem, error) {
	ctx, span := tracing.StartSpan(ctx, "feedstore.Store.ReadFeed")
	defer span.End()

	items, err := s.page(ctx, `SELECT `+contentSelect+` FROM feed_by_user WHERE user_id = ?`, recipientID, cursor, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read feed of %s: %w", recipientID, err)
	}
	return items, nil
}
