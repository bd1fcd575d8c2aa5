package feedstore

import (
	"context"
	"fmt"
	"time"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// AddLike records userID's like. Liking twice keeps one row.
func (s *Store) AddLike(ctx context.Context, contentID, userID string, at time.Time) error {
	ctx, span := tracing.StartSpan(ctx, "feedstore.Store.AddLike")
	defer span.End()

	err := s.session.Query(`INSERT INTO likes_by_content (content_id, user_id, created_at) VALUES (?, ?, ?)`,
		contentID, userID, at).WithContext(ctx).Exec()
	if err != nil {
		return fmt.Errorf("failed to like %s: %w", contentID, classify(err))
	}
	return nil
}

func (s *Store) RemoveLike(ctx context.Context, contentID, userID string) error {
	ctx, span := tracing.StartSpan(ctx, "feedstore.Store.RemoveLike")
	defer span.End()

	err := s.session.Query(`DELETE FROM likes_by_content WHERE content_id = ? AND user_id = ?`,
		contentID, userID).WithContext(ctx).Exec()
	if err != nil {
		return fmt.Errorf("failed to unlike %s: %w", contentID, classify(err))
	}
	return nil
}

func (s *Store) CountLikes(ctx context.Context, contentID string) (int, error) {
	return s.countRows(ctx, `SELECT COUNT(*) FROM likes_by_content WHERE content_id = ?`, contentID)
}

func (s *Store) AddComment(ctx context.Context, comment models.Comment) error {
	ctx, span := tracing.StartSpan(ctx, "feedstore.Store.AddComment")
	defer span.End()

	err := s.session.Query(`INSERT INTO comments_by_content (content_id, created_at, comment_id, author_id, body)
		VALUES (?, ?, ?, ?, ?)`,
		comment.ContentID, comment.CreatedAt, comment.ID, comment.AuthorID, comment.Body).WithContext(ctx).Exec()
	if err != nil {
		return fmt.Errorf("failed to comment on %s: %w", comment.ContentID, classify(err))
	}
	return nil
}

// ListComments returns up to limit comments, oldest first.
func (s *Store) ListComments(ctx context.Context, contentID string, limit int) ([]models.Comment, error) {
	ctx, span := tracing.StartSpan(ctx, "feedstore.Store.ListComments")
	defer span.End()

	iter := s.session.Query(`SELECT content_id, created_at, comment_id, author_id, body
		FROM comments_by_content WHERE content_id = ? LIMIT ?`, contentID, limit).WithContext(ctx).Iter()

	comments := make([]models.Comment, 0, limit)
	var c models.Comment
	for iter.Scan(&c.ContentID, &c.CreatedAt, &c.ID, &c.AuthorID, &c.Body) {
		c.CreatedAt = c.CreatedAt.UTC()
		comments = append(comments, c)
		c = models.Comment{}
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to list comments of %s: %w", contentID, classify(err))
	}
	return comments, nil
}

func (s *Store) CountComments(ctx context.Context, contentID string) (int, error) {
	return s.countRows(ctx, `SELECT COUNT(*) FROM comments_by_content WHERE content_id = ?`, contentID)
}

func (s *Store) countRows(ctx context.Context, stmt, contentID string) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "feedstore.Store.countRows")
	defer span.End()

	var n int64
	if err := s.session.Query(stmt, contentID).WithContext(ctx).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count rows of %s: %w", contentID, classify(err))
	}
	return int(n), nil
}
