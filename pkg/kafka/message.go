package kafka

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Ramsey-B/fern/pkg/models"
)

// Event types carried on the content and output topics.
const (
	EventContentCreated   = "content.created"
	EventContentPublished = "content.published"
	EventSyncRunCompleted = "sync.run.completed"

	HeaderEventType = "event_type"
)

// IncomingMessage is a fetched Kafka message with decoded headers.
type IncomingMessage struct {
	Key       string
	Value     []byte
	Headers   map[string]string
	Topic     string
	Partition int
	Offset    int64
	Timestamp time.Time
}

func newIncomingMessage(msg kafka.Message) *IncomingMessage {
	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	return &IncomingMessage{
		Key:       string(msg.Key),
		Value:     msg.Value,
		Headers:   headers,
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Timestamp: msg.Time,
	}
}

// Table returns the table name of a Debezium topic ("<prefix>.<schema>.<table>").
func (m *IncomingMessage) Table() string {
	if i := strings.LastIndex(m.Topic, "."); i >= 0 {
		return m.Topic[i+1:]
	}
	return m.Topic
}

// IsTombstone reports whether the message is a compaction tombstone.
func (m *IncomingMessage) IsTombstone() bool {
	return len(m.Value) == 0
}

// Envelope wraps every event fern publishes or consumes on non-CDC topics.
type Envelope struct {
	EventType string          `json:"event_type"`
	EventID   string          `json:"event_id,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// ContentCreated is the payload of a content.created event.
type ContentCreated struct {
	Content models.ContentItem `json:"content"`
}

// ParseContentCreated decodes a content.created event. The event type may come
// from the envelope or the event_type header.
func (m *IncomingMessage) ParseContentCreated() (*ContentCreated, error) {
	var env Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		return nil, fmt.Errorf("malformed content event: %w", models.ErrInvalidInput)
	}
	eventType := env.EventType
	if eventType == "" {
		eventType = m.Headers[HeaderEventType]
	}
	if eventType != EventContentCreated {
		return nil, nil
	}

	var event ContentCreated
	if err := json.Unmarshal(env.Data, &event); err != nil {
		return nil, fmt.Errorf("malformed content.created payload: %w", models.ErrInvalidInput)
	}
	return &event, nil
}
