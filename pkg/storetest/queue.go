package storetest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Ramsey-B/fern/pkg/models"
)

// Queue is an in-memory delivery retry queue. Received entries stay pending
// until acknowledged.
type Queue struct {
	Faults

	mu       sync.Mutex
	seq      int
	entries  []models.FailedDelivery
	inFlight map[string]bool
}

func NewQueue() *Queue {
	return &Queue{inFlight: map[string]bool{}}
}

func (q *Queue) Enqueue(_ context.Context, d models.FailedDelivery) error {
	if err := q.write("queue"); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	q.seq++
	d.ID = fmt.Sprintf("%d-0", q.seq)
	if d.EnqueuedAt.IsZero() {
		d.EnqueuedAt = time.Now().UTC()
	}
	q.entries = append(q.entries, d)
	return nil
}

func (q *Queue) Receive(_ context.Context, count int64, _ time.Duration) ([]models.FailedDelivery, error) {
	if err := q.read("queue"); err != nil {
		return nil, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []models.FailedDelivery
	for _, d := range q.entries {
		if int64(len(out)) >= count {
			break
		}
		if q.inFlight[d.ID] {
			continue
		}
		q.inFlight[d.ID] = true
		out = append(out, d)
	}
	return out, nil
}

func (q *Queue) Ack(_ context.Context, id string) error {
	if err := q.write("queue"); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.inFlight, id)
	for i, d := range q.entries {
		if d.ID == id {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			break
		}
	}
	return nil
}

func (q *Queue) Len(context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.entries)), nil
}

// Entries returns a snapshot of every queued entry, oldest first.
func (q *Queue) Entries() []models.FailedDelivery {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]models.FailedDelivery(nil), q.entries...)
}
