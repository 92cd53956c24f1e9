// Package host provides a minimal in-memory stand-in for the pipeline that
// feeds the render step. It queues records and remembers where each one was
// routed; it does not schedule anything.
package host

import (
	"context"
	"fmt"
	"sync"

	"github.com/goliatone/go-filetemplate/pkg/record"
	"github.com/goliatone/go-filetemplate/pkg/step"
)

// Queue is a FIFO step.Session.
type Queue struct {
	mu      sync.Mutex
	pending []record.Record
	routed  map[step.Relationship][]record.Record
}

var _ step.Session = (*Queue)(nil)

// NewQueue returns a queue holding recs in order.
func NewQueue(recs ...record.Record) *Queue {
	q := &Queue{routed: make(map[step.Relationship][]record.Record)}
	q.Enqueue(recs...)
	return q
}

// Enqueue appends records to the queue.
func (q *Queue) Enqueue(recs ...record.Record) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, rec := range recs {
		if rec != nil {
			q.pending = append(q.pending, rec)
		}
	}
}

// Get implements step.Session.
func (q *Queue) Get(ctx context.Context) (record.Record, bool) {
	if ctx.Err() != nil {
		return nil, false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil, false
	}
	rec := q.pending[0]
	q.pending[0] = nil
	q.pending = q.pending[1:]
	return rec, true
}

// Transfer implements step.Session.
func (q *Queue) Transfer(rec record.Record, rel step.Relationship) error {
	if rec == nil {
		return fmt.Errorf("host: nil record routed to %s", rel)
	}
	switch rel {
	case step.RelSuccess, step.RelFailure, step.RelJSONFailure:
	default:
		return fmt.Errorf("host: unknown relationship %q", rel)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.routed[rel] = append(q.routed[rel], rec)
	return nil
}

// Pending reports how many records are waiting.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Routed returns the records transferred to rel, in transfer order.
func (q *Queue) Routed(rel step.Relationship) []record.Record {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]record.Record(nil), q.routed[rel]...)
}

// Total reports how many records have been transferred across all
// relationships.
func (q *Queue) Total() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, recs := range q.routed {
		n += len(recs)
	}
	return n
}
