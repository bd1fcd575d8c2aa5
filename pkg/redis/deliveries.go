package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const (
	DefaultDeliveryStream = "fern:fanout:retry"
	DefaultDeliveryGroup  = "fern-retry-workers"

	// DeliveryMaxLen caps the stream; oldest entries are trimmed.
	DeliveryMaxLen = 100000

	// claimIdle is how long a delivery may sit unacked before another worker takes it.
	claimIdle = time.Minute
)

// DeliveryQueue is the durable queue of failed feed deliveries, kept on a Redis
// stream read through a consumer group.
type DeliveryQueue struct {
	client   *Client
	stream   string
	group    string
	consumer string
	logger   ectologger.Logger
}

func NewDeliveryQueue(client *Client, stream, group, consumer string, logger ectologger.Logger) *DeliveryQueue {
	if stream == "" {
		stream = DefaultDeliveryStream
	}
	if group == "" {
		group = DefaultDeliveryGroup
	}
	if consumer == "" {
		host, _ := os.Hostname()
		consumer = fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
	}
	return &DeliveryQueue{
		client:   client,
		stream:   stream,
		group:    group,
		consumer: consumer,
		logger:   logger,
	}
}

// EnsureGroup creates the stream and consumer group if missing.
func (q *DeliveryQueue) EnsureGroup(ctx context.Context) error {
	err := q.client.rdb.XGroupCreateMkStream(ctx, q.stream, q.group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group %s: %w", q.group, unavailable(err))
	}
	return nil
}

// Enqueue appends a failed delivery.
func (q *DeliveryQueue) Enqueue(ctx context.Context, d models.FailedDelivery) error {
	ctx, span := tracing.StartSpan(ctx, "redis.DeliveryQueue.Enqueue")
	defer span.End()

	d.ID = ""
	if d.EnqueuedAt.IsZero() {
		d.EnqueuedAt = time.Now().UTC()
	}
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to marshal delivery: %w", err)
	}

	_, err = q.client.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		MaxLen: DeliveryMaxLen,
		Approx: true,
		Values: map[string]any{
			"data":         string(data),
			"content_id":   d.Content.ID,
			"recipient_id": d.RecipientID,
		},
	}).Result()
	if err != nil {
		q.logger.WithContext(ctx).WithError(err).Errorf("Failed to enqueue delivery of %s", d.Content.ID)
		return fmt.Errorf("failed to enqueue delivery: %w", unavailable(err))
	}
	return nil
}

// Receive returns up to count deliveries for this consumer. Entries left
// unacknowledged by a dead worker are claimed first. The returned ID is the
// stream message id to pass to Ack. A non-positive block returns immediately
// when nothing is waiting.
func (q *DeliveryQueue) Receive(ctx context.Context, count int64, block time.Duration) ([]models.FailedDelivery, error) {
	ctx, span := tracing.StartSpan(ctx, "redis.DeliveryQueue.Receive")
	defer span.End()

	claimed, err := q.claimStale(ctx, count)
	if err != nil {
		return nil, err
	}
	if len(claimed) > 0 {
		return claimed, nil
	}

	if block <= 0 {
		// go-redis reads Block 0 as BLOCK 0, which waits forever
		block = -1
	}
	results, err := q.client.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: q.consumer,
		Streams:  []string{q.stream, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read deliveries: %w", unavailable(err))
	}

	var out []models.FailedDelivery
	for _, result := range results {
		out = append(out, q.decode(ctx, result.Messages)...)
	}
	return out, nil
}

func (q *DeliveryQueue) claimStale(ctx context.Context, count int64) ([]models.FailedDelivery, error) {
	pending, err := q.client.rdb.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: q.stream,
		Group:  q.group,
		Idle:   claimIdle,
		Start:  "-",
		End:    "+",
		Count:  count,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read pending deliveries: %w", unavailable(err))
	}
	if len(pending) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(pending))
	for _, p := range pending {
		ids = append(ids, p.ID)
	}
	messages, err := q.client.rdb.XClaim(ctx, &redis.XClaimArgs{
		Stream:   q.stream,
		Group:    q.group,
		Consumer: q.consumer,
		MinIdle:  claimIdle,
		Messages: ids,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to claim deliveries: %w", unavailable(err))
	}
	return q.decode(ctx, messages), nil
}

func (q *DeliveryQueue) decode(ctx context.Context, messages []redis.XMessage) []models.FailedDelivery {
	out := make([]models.FailedDelivery, 0, len(messages))
	for _, msg := range messages {
		data, ok := msg.Values["data"].(string)
		if !ok {
			continue
		}
		var d models.FailedDelivery
		if err := json.Unmarshal([]byte(data), &d); err != nil {
			q.logger.WithContext(ctx).WithError(err).Warnf("Failed to unmarshal delivery %s", msg.ID)
			continue
		}
		d.ID = msg.ID
		out = append(out, d)
	}
	return out
}

// Ack removes a processed delivery from the pending list and the stream.
func (q *DeliveryQueue) Ack(ctx context.Context, id string) error {
	pipe := q.client.rdb.TxPipeline()
	pipe.XAck(ctx, q.stream, q.group, id)
	pipe.XDel(ctx, q.stream, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to ack delivery %s: %w", id, unavailable(err))
	}
	return nil
}

// Len returns the number of queued deliveries.
func (q *DeliveryQueue) Len(ctx context.Context) (int64, error) {
	n, err := q.client.rdb.XLen(ctx, q.stream).Result()
	if err != nil {
		return 0, unavailable(err)
	}
	return n, nil
}

// List returns the newest count deliveries without consuming them.
func (q *DeliveryQueue) List(ctx context.Context, count int64) ([]models.FailedDelivery, error) {
	if count <= 0 {
		count = 100
	}
	messages, err := q.client.rdb.XRevRangeN(ctx, q.stream, "+", "-", count).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list deliveries: %w", unavailable(err))
	}
	return q.decode(ctx, messages), nil
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
}
