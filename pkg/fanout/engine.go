// Package fanout distributes new content into per-recipient feed partitions at write time.
package fanout

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/cenkalti/backoff/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/resolver"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// ContentStore is the write side of the feed store. *feedstore.Store implements it.
type ContentStore interface {
	InsertContent(ctx context.Context, item models.ContentItem) (models.ContentItem, bool, error)
	WriteAuthorCopy(ctx context.Context, item models.ContentItem) error
	WriteFeedRecord(ctx context.Context, recipientID string, item models.ContentItem) error
}

type Resolver interface {
	Resolve(ctx context.Context, authorID string) (resolver.DeliverySet, error)
}

// Queue receives deliveries whose retries were exhausted.
type Queue interface {
	Enqueue(ctx context.Context, d models.FailedDelivery) error
}

// AuthorSource looks up the author's display fields.
type AuthorSource interface {
	GetEntity(ctx context.Context, t models.EntityType, id string) (models.Entity, error)
}

type Emitter interface {
	ContentPublished(ctx context.Context, summary models.FanOutSummary)
}

type Config struct {
	Concurrency     int
	WriteTimeout    time.Duration
	WriteAttempts   int
	MaxRedeliveries int
	InitialBackoff  time.Duration
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = 32
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 2 * time.Second
	}
	if c.WriteAttempts <= 0 {
		c.WriteAttempts = 3
	}
	if c.MaxRedeliveries <= 0 {
		c.MaxRedeliveries = 5
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 100 * time.Millisecond
	}
	return c
}

type Engine struct {
	store    ContentStore
	resolver Resolver
	queue    Queue
	authors  AuthorSource
	emitter  Emitter
	validate *validator.Validate
	now      func() time.Time
	cfg      Config
	logger   ectologger.Logger
}

func NewEngine(store ContentStore, resolver Resolver, queue Queue, authors AuthorSource, emitter Emitter, cfg Config, logger ectologger.Logger) *Engine {
	return &Engine{
		store:    store,
		resolver: resolver,
		queue:    queue,
		authors:  authors,
		emitter:  emitter,
		validate: validator.New(),
		now:      time.Now,
		cfg:      cfg.withDefaults(),
		logger:   logger,
	}
}

// WithClock replaces the clock that stamps new content.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// WithResolver returns a copy of the engine delivering through another resolver.
func (e *Engine) WithResolver(r Resolver) *Engine {
	clone := *e
	clone.resolver = r
	return &clone
}

// Publish records the content and the author copy, then fans it out. Once both
// are durable the publish succeeds: delivery failures are queued and reported in
// the summary, never returned. The creation time is always the engine clock.
func (e *Engine) Publish(ctx context.Context, item models.ContentItem) (models.FanOutSummary, error) {
	return e.publish(ctx, item, e.now())
}

// PublishAt publishes content that already carries a trusted creation time,
// such as generated seed posts. A zero createdAt falls back to the clock.
func (e *Engine) PublishAt(ctx context.Context, item models.ContentItem, createdAt time.Time) (models.FanOutSummary, error) {
	if createdAt.IsZero() {
		createdAt = e.now()
	}
	return e.publish(ctx, item, createdAt)
}

func (e *Engine) publish(ctx context.Context, item models.ContentItem, createdAt time.Time) (models.FanOutSummary, error) {
	ctx, span := tracing.StartSpan(ctx, "FanOutEngine.Publish")
	defer span.End()
	started := time.Now()

	item.Normalize()
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if err := e.validate.StructCtx(ctx, item); err != nil {
		return models.FanOutSummary{}, fmt.Errorf("content %s: %v: %w", item.ID, err, models.ErrInvalidInput)
	}
	item.CreatedAt = createdAt.UTC().Truncate(time.Millisecond)

	if err := e.fillAuthor(ctx, &item); err != nil {
		return models.FanOutSummary{}, err
	}

	stored, err := withRetry(ctx, e.cfg, func(ctx context.Context) (models.ContentItem, error) {
		stored, applied, err := e.store.InsertContent(ctx, item)
		if err == nil && !applied {
			return stored, backoff.Permanent(errDuplicate)
		}
		return stored, err
	})
	duplicate := errors.Is(err, errDuplicate)
	if err != nil && !duplicate {
		tracing.RecordError(span, err)
		return models.FanOutSummary{}, fmt.Errorf("failed to record content %s: %w", item.ID, err)
	}
	if duplicate {
		// re-publishing converges on the first recorded position
		item = stored
	}

	if _, err := withRetry(ctx, e.cfg, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, e.store.WriteAuthorCopy(ctx, item)
	}); err != nil {
		tracing.RecordError(span, err)
		return models.FanOutSummary{}, fmt.Errorf("failed to record author copy of %s: %w", item.ID, err)
	}

	summary := models.FanOutSummary{
		ContentID: item.ID,
		AuthorID:  item.AuthorID,
		CreatedAt: item.CreatedAt,
		Duplicate: duplicate,
	}

	if err := e.Deliver(ctx, item.AuthorID, item); err != nil {
		recordFailure(&summary, item.AuthorID, e.queueFailure(ctx, item, item.AuthorID, err))
	}

	set, err := e.resolver.Resolve(ctx, item.AuthorID)
	if err != nil {
		e.logger.WithContext(ctx).WithError(err).WithField("content_id", item.ID).
			Warn("Failed to resolve delivery set, queueing fan-out")
		summary.ResolveError = err.Error()
		if e.queueFailure(ctx, item, "", err) {
			summary.Queued++
		}
	} else {
		e.fanOut(ctx, &summary, item, set)
	}

	metrics.RecordPublish(time.Since(started).Seconds())
	e.logger.WithContext(ctx).WithFields(map[string]any{
		"content_id": summary.ContentID,
		"author_id":  summary.AuthorID,
		"recipients": summary.Recipients,
		"succeeded":  summary.Succeeded,
		"failed":     summary.Failed,
		"queued":     summary.Queued,
		"duplicate":  summary.Duplicate,
	}).Info("Published content")

	if e.emitter != nil {
		e.emitter.ContentPublished(ctx, summary)
	}
	return summary, nil
}

var errDuplicate = errors.New("content already recorded")

// fillAuthor replaces the author's display fields with the canonical ones.
func (e *Engine) fillAuthor(ctx context.Context, item *models.ContentItem) error {
	if e.authors == nil {
		return nil
	}
	author, err := e.authors.GetEntity(ctx, models.EntityTypeDoctor, item.AuthorID)
	if err != nil {
		return fmt.Errorf("failed to load author %s: %w", item.AuthorID, err)
	}
	item.AuthorName = author.Name
	item.AuthorPicURL, _ = author.Attributes["profilePicUrl"].(string)
	return nil
}

// fanOut writes one feed record per recipient on a bounded pool. A failing
// recipient never stops the others.
func (e *Engine) fanOut(ctx context.Context, summary *models.FanOutSummary, item models.ContentItem, set resolver.DeliverySet) {
	summary.Recipients += len(set)

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(e.cfg.Concurrency)
	for _, recipient := range set {
		g.Go(func() error {
			err := e.Deliver(ctx, recipient, item)
			var queued bool
			if err != nil {
				queued = e.queueFailure(ctx, item, recipient, err)
			}

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				recordFailure(summary, recipient, queued)
				return nil
			}
			summary.Succeeded++
			metrics.RecordDelivery("succeeded")
			return nil
		})
	}
	_ = g.Wait()
	sort.Strings(summary.FailedIDs)
}

// Deliver writes one recipient's feed record. Each attempt has its own timeout;
// transient failures are retried with backoff.
func (e *Engine) Deliver(ctx context.Context, recipientID string, item models.ContentItem) error {
	_, err := withRetry(ctx, e.cfg, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, e.store.WriteFeedRecord(ctx, recipientID, item)
	})
	return err
}

// withRetry runs op under a per-attempt timeout, retrying transient failures.
func withRetry[T any](ctx context.Context, cfg Config, op func(context.Context) (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.InitialBackoff
	return backoff.Retry(ctx, func() (T, error) {
		attemptCtx, cancel := context.WithTimeout(ctx, cfg.WriteTimeout)
		defer cancel()
		v, err := op(attemptCtx)
		if err != nil && !models.IsTransient(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(uint(cfg.WriteAttempts)))
}

// queueFailure hands a failed delivery to the retry queue and reports whether it
// was accepted. An empty recipient stands for the whole unresolved fan-out.
func (e *Engine) queueFailure(ctx context.Context, item models.ContentItem, recipientID string, cause error) bool {
	entry := models.FailedDelivery{
		Content:     item,
		RecipientID: recipientID,
		LastError:   cause.Error(),
		EnqueuedAt:  e.now().UTC(),
	}
	if err := e.queue.Enqueue(ctx, entry); err != nil {
		e.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"content_id":   item.ID,
			"recipient_id": recipientID,
			"alert":        true,
		}).Error("Failed to queue delivery, dropping it")
		metrics.RecordDelivery("dropped")
		return false
	}
	return true
}

// recordFailure counts a failed recipient. Callers sharing the summary across
// goroutines hold its lock.
func recordFailure(s *models.FanOutSummary, recipientID string, queued bool) {
	s.Failed++
	s.FailedIDs = append(s.FailedIDs, recipientID)
	metrics.RecordDelivery("failed")
	if queued {
		s.Queued++
	}
}
