package stream

import (
	"context"
	"errors"
	"sync"

	"github.com/danmuck/satlink/internal/protocol/wire"
)

var ErrQueueClosed = errors.New("stream: queue closed after session done")

// Outbound is one queued item: a stream request, or the SessionDone sentinel
// when Done is set. Attempt records which connection attempt produced it.
type Outbound struct {
	Request wire.Request
	Done    bool
	Attempt int
}

// SessionDone is the terminal sentinel. Once it is queued the queue rejects
// further items with ErrQueueClosed.
var SessionDone = Outbound{Done: true}

// Queue is an unbounded FIFO with many producers and one consumer. Enqueue
// never blocks and never drops.
type Queue struct {
	mu     sync.Mutex
	items  []Outbound
	closed bool
	ready  chan struct{}
}

func NewQueue() *Queue {
	return &Queue{ready: make(chan struct{}, 1)}
}

func (q *Queue) Enqueue(msg Outbound) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	q.items = append(q.items, msg)
	if msg.Done {
		q.closed = true
	}
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return nil
}

// Requeue puts an item that was taken but never written back at the head of
// the queue. It is accepted even after SessionDone.
func (q *Queue) Requeue(msg Outbound) {
	q.mu.Lock()
	q.items = append([]Outbound{msg}, q.items...)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// Next pops the oldest item, waiting while the queue is empty.
func (q *Queue) Next(ctx context.Context) (Outbound, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			msg := q.items[0]
			q.items[0] = Outbound{}
			q.items = q.items[1:]
			q.mu.Unlock()
			return msg, nil
		}
		q.mu.Unlock()

		select {
		case <-q.ready:
		case <-ctx.Done():
			return Outbound{}, ctx.Err()
		}
	}
}

// Discard drops everything pending and returns how many items were dropped.
// A closed queue stays closed.
func (q *Queue) Discard() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items)
	q.items = nil
	return n
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
