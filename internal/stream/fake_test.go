package stream

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danmuck/satlink/internal/protocol/wire"
)

type recvItem struct {
	resp wire.Response
	err  error
}

// fakeStream is an in-memory Stream driven by the test.
type fakeStream struct {
	sent       chan wire.Request
	inbound    chan recvItem
	closed     chan struct{}
	closeOnce  sync.Once
	halfClosed atomic.Bool
	// sendErr, if set, can fail individual writes.
	sendErr func(wire.Request) error
}

func newFakeStream() *fakeStream {
	return &fakeStream{
		sent:    make(chan wire.Request, 256),
		inbound: make(chan recvItem, 256),
		closed:  make(chan struct{}),
	}
}

func (f *fakeStream) Send(req wire.Request) error {
	select {
	case <-f.closed:
		return fmt.Errorf("%w: send on closed stream", ErrTransport)
	default:
	}
	if f.sendErr != nil {
		if err := f.sendErr(req); err != nil {
			return err
		}
	}
	f.sent <- req
	return nil
}

func (f *fakeStream) Recv() (wire.Response, error) {
	select {
	case it := <-f.inbound:
		return it.resp, it.err
	case <-f.closed:
		return nil, fmt.Errorf("%w: stream closed", ErrTransport)
	}
}

func (f *fakeStream) CloseSend() error {
	f.halfClosed.Store(true)
	return nil
}

func (f *fakeStream) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeStream) push(resp wire.Response) {
	f.inbound <- recvItem{resp: resp}
}

func (f *fakeStream) fail(err error) {
	f.inbound <- recvItem{err: err}
}

// expectSent waits for the next outbound request.
func (f *fakeStream) expectSent(t *testing.T) wire.Request {
	t.Helper()
	select {
	case req := <-f.sent:
		return req
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for outbound request")
		return nil
	}
}

// fakeTransport hands out scripted streams in order. When the script runs
// out, Open fails with a transport error.
type fakeTransport struct {
	mu      sync.Mutex
	streams []*fakeStream
	opens   atomic.Int32
	openErr error
}

func (f *fakeTransport) Open(ctx context.Context) (Stream, error) {
	f.opens.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.streams) == 0 {
		if f.openErr != nil {
			return nil, f.openErr
		}
		return nil, fmt.Errorf("%w: connection refused", ErrTransport)
	}
	st := f.streams[0]
	f.streams = f.streams[1:]
	return st, nil
}

func batch(stream string, ackID uint64, items ...wire.TelemetryItem) wire.TelemetryBatch {
	return wire.TelemetryBatch{EntityID: "sat-5", StreamID: stream, PlanID: "3", AckID: ackID, Items: items}
}

func item(data string, first time.Time) wire.TelemetryItem {
	return wire.TelemetryItem{Data: []byte(data), FirstByteTime: first}
}

func endMarker(stream string, ackID uint64) wire.TelemetryBatch {
	return batch(stream, ackID, wire.TelemetryItem{})
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.EntityID = "sat-5"
	cfg.ChannelSetID = "cs-1"
	cfg.MaxAttempts = 3
	cfg.Backoff = BackoffConfig{InitialDelay: time.Millisecond, Multiplier: 1}
	cfg.JoinTimeout = time.Second
	return cfg
}
