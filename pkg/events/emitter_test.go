package events

import (
	"context"
	"errors"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/kafka"
	"github.com/Ramsey-B/fern/pkg/models"
)

type published struct {
	key, eventType, eventID string
	data                    any
}

type recordingPublisher struct {
	events []published
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, key, eventType, eventID string, data any) error {
	p.events = append(p.events, published{key, eventType, eventID, data})
	return p.err
}

func noopLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func TestContentPublished(t *testing.T) {
	pub := &recordingPublisher{}
	emitter := NewEmitter(pub, noopLogger())

	emitter.ContentPublished(context.Background(), models.FanOutSummary{ContentID: "c1", AuthorID: "d1", Succeeded: 2})

	require.Len(t, pub.events, 1)
	assert.Equal(t, "d1", pub.events[0].key)
	assert.Equal(t, kafka.EventContentPublished, pub.events[0].eventType)
	assert.Equal(t, "c1", pub.events[0].eventID)
}

func TestEmitSwallowsErrors(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("broker down")}
	emitter := NewEmitter(pub, noopLogger())

	assert.NotPanics(t, func() {
		emitter.SyncRunCompleted(context.Background(), &models.ReconciliationReport{ID: "r1"})
	})
	assert.Len(t, pub.events, 1)
}

func TestNilPublisherIsNoop(t *testing.T) {
	emitter := NewEmitter(nil, noopLogger())
	assert.NotPanics(t, func() {
		emitter.ContentPublished(context.Background(), models.FanOutSummary{})
	})

	var unset *Emitter
	assert.NotPanics(t, func() {
		unset.ContentPublished(context.Background(), models.FanOutSummary{})
	})
}
