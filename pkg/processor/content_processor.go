package processor

import (
	"context"
	"fmt"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/pkg/kafka"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Publisher fans content out. *fanout.Engine implements it.
type Publisher interface {
	Publish(ctx context.Context, item models.ContentItem) (models.FanOutSummary, error)
}

// ContentProcessor publishes content.created events through the fan-out engine.
type ContentProcessor struct {
	publisher Publisher
	logger    ectologger.Logger
}

func NewContentProcessor(publisher Publisher, logger ectologger.Logger) *ContentProcessor {
	return &ContentProcessor{publisher: publisher, logger: logger}
}

func (p *ContentProcessor) ProcessMessage(ctx context.Context, msg *kafka.IncomingMessage) error {
	ctx, span := tracing.StartSpan(ctx, "ContentProcessor.ProcessMessage")
	defer span.End()

	fields := map[string]any{"topic": msg.Topic, "partition": msg.Partition, "offset": msg.Offset}
	event, err := msg.ParseContentCreated()
	if err != nil {
		return settle(ctx, p.logger, fields, err)
	}
	if event == nil {
		// other event types share the topic
		return nil
	}

	item := event.Content
	if item.ID == "" {
		// a redelivered message must land on the same content id
		item.ID = messageContentID(msg)
	}
	fields["content_id"] = item.ID

	summary, err := p.publisher.Publish(ctx, item)
	if err != nil {
		tracing.RecordError(span, err)
		return settle(ctx, p.logger, fields, err)
	}
	p.logger.WithContext(ctx).WithFields(fields).WithField("recipients", summary.Recipients).Debug("Processed content event")
	return nil
}

func messageContentID(msg *kafka.IncomingMessage) string {
	name := fmt.Sprintf("%s/%d/%d", msg.Topic, msg.Partition, msg.Offset)
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)).String()
}
