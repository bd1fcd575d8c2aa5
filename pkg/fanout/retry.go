package fanout

import (
	"context"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// RetryQueue is the durable queue of failed deliveries. *redis.DeliveryQueue implements it.
type RetryQueue interface {
	Queue
	Receive(ctx context.Context, count int64, block time.Duration) ([]models.FailedDelivery, error)
	Ack(ctx context.Context, id string) error
}

const (
	DefaultRetryInterval = 5 * time.Second
	retryBatchSize       = 50
)

// RetryWorker redelivers queued feed records until they land or run out of attempts.
type RetryWorker struct {
	engine   *Engine
	queue    RetryQueue
	interval time.Duration
	logger   ectologger.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewRetryWorker(engine *Engine, queue RetryQueue, interval time.Duration, logger ectologger.Logger) *RetryWorker {
	if interval <= 0 {
		interval = DefaultRetryInterval
	}
	return &RetryWorker{
		engine:   engine,
		queue:    queue,
		interval: interval,
		logger:   logger,
	}
}

// Start runs the redelivery loop until Stop is called or ctx ends.
func (w *RetryWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	w.wg.Add(1)
	go w.loop(ctx)

	w.logger.WithContext(ctx).Infof("Retry worker started: interval=%s", w.interval)
	return nil
}

func (w *RetryWorker) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cancel != nil {
		w.cancel()
		w.cancel = nil
	}
	w.wg.Wait()

	w.logger.Info("Retry worker stopped")
	return nil
}

func (w *RetryWorker) loop(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// drain whatever is due before waiting for the next tick
			for {
				n, err := w.RunOnce(ctx)
				if err != nil {
					w.logger.WithContext(ctx).WithError(err).Warn("Retry worker pass failed")
					break
				}
				if n < retryBatchSize || ctx.Err() != nil {
					break
				}
			}
		}
	}
}

// RunOnce processes one batch of queued deliveries and returns how many it handled.
func (w *RetryWorker) RunOnce(ctx context.Context) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "RetryWorker.RunOnce")
	defer span.End()

	// the ticker paces the loop, so the read never blocks
	entries, err := w.queue.Receive(ctx, retryBatchSize, 0)
	if err != nil {
		tracing.RecordError(span, err)
		return 0, err
	}
	for _, entry := range entries {
		w.handle(ctx, entry)
	}
	return len(entries), nil
}

func (w *RetryWorker) handle(ctx context.Context, entry models.FailedDelivery) {
	log := w.logger.WithContext(ctx).WithFields(map[string]any{
		"content_id":   entry.Content.ID,
		"recipient_id": entry.RecipientID,
		"attempts":     entry.Attempts,
	})

	var err error
	if entry.IsResolvePending() {
		err = w.redeliverAll(ctx, entry)
	} else {
		err = w.engine.Deliver(ctx, entry.RecipientID, entry.Content)
	}

	if err == nil {
		metrics.RecordRedelivery("delivered")
		log.Debug("Redelivered feed record")
		w.ack(ctx, entry)
		return
	}

	entry.Attempts++
	entry.LastError = err.Error()
	if entry.Attempts >= w.engine.cfg.MaxRedeliveries {
		log.WithError(err).WithField("alert", true).Error("Dropping delivery after exhausting redeliveries")
		metrics.RecordRedelivery("dropped")
		w.ack(ctx, entry)
		return
	}

	next := entry
	next.ID = ""
	if qerr := w.queue.Enqueue(ctx, next); qerr != nil {
		// leave the entry pending so it is claimed again
		log.WithError(qerr).Warn("Failed to requeue delivery")
		return
	}
	metrics.RecordRedelivery("requeued")
	w.ack(ctx, entry)
}

// redeliverAll resolves the delivery set that failed at publish time and fans
// out to it. Recipients that fail again are queued individually.
func (w *RetryWorker) redeliverAll(ctx context.Context, entry models.FailedDelivery) error {
	set, err := w.engine.resolver.Resolve(ctx, entry.Content.AuthorID)
	if err != nil {
		return err
	}

	summary := models.FanOutSummary{ContentID: entry.Content.ID, AuthorID: entry.Content.AuthorID}
	w.engine.fanOut(ctx, &summary, entry.Content, set)
	w.logger.WithContext(ctx).WithFields(map[string]any{
		"content_id": summary.ContentID,
		"recipients": summary.Recipients,
		"succeeded":  summary.Succeeded,
		"queued":     summary.Queued,
	}).Info("Fanned out pending content")
	return nil
}

func (w *RetryWorker) ack(ctx context.Context, entry models.FailedDelivery) {
	if err := w.queue.Ack(ctx, entry.ID); err != nil {
		w.logger.WithContext(ctx).WithError(err).Warnf("Failed to ack delivery %s", entry.ID)
	}
}
