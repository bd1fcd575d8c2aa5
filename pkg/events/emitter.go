// Package events publishes fern's outbound domain events.
package events

import (
	"context"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/kafka"
	"github.com/Ramsey-B/fern/pkg/models"
)

// Publisher is satisfied by *kafka.Producer.
type Publisher interface {
	Publish(ctx context.Context, key, eventType, eventID string, data any) error
}

// Emitter is best-effort: a failed publish is logged, never returned.
type Emitter struct {
	publisher Publisher
	logger    ectologger.Logger
}

// NewEmitter returns an Emitter. A nil publisher makes every emit a no-op.
func NewEmitter(publisher Publisher, logger ectologger.Logger) *Emitter {
	return &Emitter{publisher: publisher, logger: logger}
}

// ContentPublished announces a finished fan-out.
func (e *Emitter) ContentPublished(ctx context.Context, summary models.FanOutSummary) {
	e.emit(ctx, summary.AuthorID, kafka.EventContentPublished, summary.ContentID, summary)
}

// SyncRunCompleted announces a finished reconciliation.
func (e *Emitter) SyncRunCompleted(ctx context.Context, report *models.ReconciliationReport) {
	e.emit(ctx, report.ID, kafka.EventSyncRunCompleted, report.ID, report)
}

func (e *Emitter) emit(ctx context.Context, key, eventType, eventID string, data any) {
	if e == nil || e.publisher == nil {
		return
	}
	if err := e.publisher.Publish(ctx, key, eventType, eventID, data); err != nil {
		e.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"event_type": eventType,
			"event_id":   eventID,
		}).Warn("Failed to emit event")
	}
}
