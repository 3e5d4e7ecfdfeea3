package stream

import (
	"context"
	"io"

	"github.com/danmuck/satlink/internal/protocol/wire"
)

// Multiplexer is the outbound sequence for one connection attempt: the setup
// request first, then the queue in order until SessionDone. Build a new one
// for every attempt.
type Multiplexer struct {
	setup     wire.Setup
	queue     *Queue
	attempt   int
	sentSetup bool
	finished  bool
	skipped   int
	// inflight is the queued item most recently returned by Next.
	inflight *Outbound
}

func NewMultiplexer(setup wire.Setup, queue *Queue, attempt int) *Multiplexer {
	return &Multiplexer{setup: setup, queue: queue, attempt: attempt}
}

// Next returns the next request to write, or io.EOF once SessionDone has
// been drained. Acks queued by an earlier attempt are dropped; the setup
// request's resume token already covers them.
func (m *Multiplexer) Next(ctx context.Context) (wire.Request, error) {
	m.inflight = nil
	if !m.sentSetup {
		m.sentSetup = true
		return m.setup, nil
	}
	for {
		if m.finished {
			return nil, io.EOF
		}
		msg, err := m.queue.Next(ctx)
		if err != nil {
			return nil, err
		}
		if msg.Done {
			m.finished = true
			continue
		}
		if _, ok := msg.Request.(wire.TelemetryAck); ok && msg.Attempt < m.attempt {
			m.skipped++
			continue
		}
		m.inflight = &msg
		return msg.Request, nil
	}
}

// Unsent returns the request last handed out by Next to the head of the
// queue after its write failed, so the next attempt sends it right after its
// setup. Acks are not returned: the next setup's resume token covers them.
func (m *Multiplexer) Unsent() bool {
	msg := m.inflight
	m.inflight = nil
	if msg == nil {
		return false
	}
	if _, ok := msg.Request.(wire.TelemetryAck); ok {
		return false
	}
	m.queue.Requeue(*msg)
	return true
}

// Skipped reports how many stale acks this attempt dropped.
func (m *Multiplexer) Skipped() int {
	return m.skipped
}
