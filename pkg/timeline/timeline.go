// Package timeline serves feed reads and post engagement on top of the feed store.
package timeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100

	// enrichConcurrency bounds the canonical lookups of one page.
	enrichConcurrency = 16
)

// Store is the read and engagement side of the feed store. *feedstore.Store implements it.
type Store interface {
	GetContent(ctx context.Context, contentID string) (models.ContentItem, error)
	ReadFeed(ctx context.Context, recipientID string, cursor models.Cursor, limit int) ([]models.ContentItem, error)
	AuthorPosts(ctx context.Context, authorID string, cursor models.Cursor, limit int) ([]models.ContentItem, error)
	UpdateCounters(ctx context.Context, item models.ContentItem, counters models.Counters) error
	DeleteContent(ctx context.Context, item models.ContentItem) error
	AddLike(ctx context.Context, contentID, userID string, at time.Time) error
	RemoveLike(ctx context.Context, contentID, userID string) error
	CountLikes(ctx context.Context, contentID string) (int, error)
	AddComment(ctx context.Context, comment models.Comment) error
	ListComments(ctx context.Context, contentID string, limit int) ([]models.Comment, error)
	CountComments(ctx context.Context, contentID string) (int, error)
}

// Page selects a window of a partition. Before is the cursor returned by the
// previous page; empty starts from the newest item.
type Page struct {
	Limit  int
	Before string
}

func (p Page) limit() int {
	switch {
	case p.Limit <= 0:
		return DefaultLimit
	case p.Limit > MaxLimit:
		return MaxLimit
	}
	return p.Limit
}

// Result is one page of items, newest first. NextCursor is empty on the last page.
type Result struct {
	Items      []models.ContentItem `json:"items"`
	NextCursor string               `json:"next_cursor,omitempty"`
}

type Service struct {
	store    Store
	validate *validator.Validate
	now      func() time.Time
	logger   ectologger.Logger
}

func NewService(store Store, logger ectologger.Logger) *Service {
	return &Service{
		store:    store,
		validate: validator.New(),
		now:      time.Now,
		logger:   logger,
	}
}

// WithClock replaces the clock that stamps likes and comments.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Timeline reads a recipient's feed. Counters come from the canonical record at
// read time; items whose canonical record was deleted are left out.
func (s *Service) Timeline(ctx context.Context, userID string, page Page) (Result, error) {
	ctx, span := tracing.StartSpan(ctx, "TimelineService.Timeline")
	defer span.End()

	return s.read(ctx, page, func(cursor models.Cursor, limit int) ([]models.ContentItem, error) {
		return s.store.ReadFeed(ctx, userID, cursor, limit)
	})
}

// AuthorPosts reads the author-indexed partition.
func (s *Service) AuthorPosts(ctx context.Context, authorID string, page Page) (Result, error) {
	ctx, span := tracing.StartSpan(ctx, "TimelineService.AuthorPosts")
	defer span.End()

	return s.read(ctx, page, func(cursor models.Cursor, limit int) ([]models.ContentItem, error) {
		return s.store.AuthorPosts(ctx, authorID, cursor, limit)
	})
}

func (s *Service) read(ctx context.Context, page Page, fetch func(models.Cursor, int) ([]models.ContentItem, error)) (Result, error) {
	cursor, err := models.ParseCursor(page.Before)
	if err != nil {
		return Result{}, err
	}
	limit := page.limit()

	items, err := fetch(cursor, limit)
	if err != nil {
		return Result{}, err
	}

	result := Result{Items: make([]models.ContentItem, 0, len(items))}
	if len(items) == limit {
		// the cursor follows the partition even if the last item gets dropped below
		result.NextCursor = models.CursorOf(items[len(items)-1]).String()
	}

	enriched, err := s.enrich(ctx, items)
	if err != nil {
		return Result{}, err
	}
	for _, item := range enriched {
		if item != nil {
			result.Items = append(result.Items, *item)
		}
	}
	return result, nil
}

// enrich overlays current counters from the canonical record on each snapshot.
// A nil entry marks an item whose canonical record no longer exists.
func (s *Service) enrich(ctx context.Context, items []models.ContentItem) ([]*models.ContentItem, error) {
	out := make([]*models.ContentItem, len(items))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(enrichConcurrency)
	for i, item := range items {
		g.Go(func() error {
			current, err := s.store.GetContent(gctx, item.ID)
			if errors.Is(err, models.ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			item.LikesCount = current.LikesCount
			item.CommentsCount = current.CommentsCount
			out[i] = &item
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to read counters: %w", err)
	}
	return out, nil
}

// Like records userID's like of contentID. Liking twice counts once.
func (s *Service) Like(ctx context.Context, contentID, userID string) (models.Counters, error) {
	ctx, span := tracing.StartSpan(ctx, "TimelineService.Like")
	defer span.End()

	item, err := s.store.GetContent(ctx, contentID)
	if err != nil {
		return models.Counters{}, err
	}
	if err := s.store.AddLike(ctx, contentID, userID, s.now().UTC()); err != nil {
		tracing.RecordError(span, err)
		return models.Counters{}, fmt.Errorf("failed to like %s: %w", contentID, err)
	}
	return s.recount(ctx, item)
}

func (s *Service) Unlike(ctx context.Context, contentID, userID string) (models.Counters, error) {
	ctx, span := tracing.StartSpan(ctx, "TimelineService.Unlike")
	defer span.End()

	item, err := s.store.GetContent(ctx, contentID)
	if err != nil {
		return models.Counters{}, err
	}
	if err := s.store.RemoveLike(ctx, contentID, userID); err != nil {
		tracing.RecordError(span, err)
		return models.Counters{}, fmt.Errorf("failed to unlike %s: %w", contentID, err)
	}
	return s.recount(ctx, item)
}

// Comment adds a comment to contentID and returns it with its assigned id.
func (s *Service) Comment(ctx context.Context, contentID string, comment models.Comment) (models.Comment, error) {
	ctx, span := tracing.StartSpan(ctx, "TimelineService.Comment")
	defer span.End()

	comment.ContentID = contentID
	comment.Body = strings.TrimSpace(comment.Body)
	if comment.ID == "" {
		comment.ID = uuid.NewString()
	}
	if err := s.validate.StructCtx(ctx, comment); err != nil {
		return models.Comment{}, fmt.Errorf("comment: %v: %w", err, models.ErrInvalidInput)
	}
	if comment.CreatedAt.IsZero() {
		comment.CreatedAt = s.now()
	}
	comment.CreatedAt = comment.CreatedAt.UTC().Truncate(time.Millisecond)

	item, err := s.store.GetContent(ctx, contentID)
	if err != nil {
		return models.Comment{}, err
	}
	if err := s.store.AddComment(ctx, comment); err != nil {
		tracing.RecordError(span, err)
		return models.Comment{}, fmt.Errorf("failed to comment on %s: %w", contentID, err)
	}
	if _, err := s.recount(ctx, item); err != nil {
		return models.Comment{}, err
	}
	return comment, nil
}

// Comments lists a post's comments, oldest first.
func (s *Service) Comments(ctx context.Context, contentID string, limit int) ([]models.Comment, error) {
	ctx, span := tracing.StartSpan(ctx, "TimelineService.Comments")
	defer span.End()

	if limit <= 0 || limit > MaxLimit {
		limit = MaxLimit
	}
	return s.store.ListComments(ctx, contentID, limit)
}

// recount derives counters from the engagement partitions and stores them on
// the canonical and author records. Running it twice yields the same numbers.
func (s *Service) recount(ctx context.Context, item models.ContentItem) (models.Counters, error) {
	likes, err := s.store.CountLikes(ctx, item.ID)
	if err != nil {
		return models.Counters{}, fmt.Errorf("failed to count likes of %s: %w", item.ID, err)
	}
	comments, err := s.store.CountComments(ctx, item.ID)
	if err != nil {
		return models.Counters{}, fmt.Errorf("failed to count comments of %s: %w", item.ID, err)
	}

	counters := models.Counters{Likes: likes, Comments: comments}
	if err := s.store.UpdateCounters(ctx, item, counters); err != nil {
		return models.Counters{}, err
	}
	return counters, nil
}

// RefreshAuthorCounters recounts every post of an author. It repairs counters
// left stale by a failed recount.
func (s *Service) RefreshAuthorCounters(ctx context.Context, authorID string) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "TimelineService.RefreshAuthorCounters")
	defer span.End()

	refreshed := 0
	cursor := models.Cursor{}
	for {
		items, err := s.store.AuthorPosts(ctx, authorID, cursor, MaxLimit)
		if err != nil {
			return refreshed, err
		}
		for _, item := range items {
			if _, err := s.recount(ctx, item); err != nil {
				return refreshed, err
			}
			refreshed++
		}
		if len(items) < MaxLimit {
			break
		}
		cursor = models.CursorOf(items[len(items)-1])
	}

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"author_id": authorID,
		"posts":     refreshed,
	}).Info("Refreshed author counters")
	return refreshed, nil
}

// DeletePost removes a post's canonical record and author copy. Only the author
// may delete; feed copies drop out of timelines on the next read.
func (s *Service) DeletePost(ctx context.Context, contentID, requesterID string) error {
	ctx, span := tracing.StartSpan(ctx, "TimelineService.DeletePost")
	defer span.End()

	item, err := s.store.GetContent(ctx, contentID)
	if err != nil {
		return err
	}
	if item.AuthorID != requesterID {
		return httperror.NewHTTPError(http.StatusForbidden, "only the author can delete a post")
	}
	if err := s.store.DeleteContent(ctx, item); err != nil {
		tracing.RecordError(span, err)
		return err
	}

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"content_id": contentID,
		"author_id":  item.AuthorID,
	}).Info("Deleted post")
	return nil
}
