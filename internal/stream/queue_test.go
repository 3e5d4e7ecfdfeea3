package stream

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danmuck/satlink/internal/protocol/wire"
	"github.com/danmuck/satlink/internal/testutil/testlog"
)

func ackOut(id uint64, attempt int) Outbound {
	return Outbound{Request: wire.TelemetryAck{EntityID: "sat-5", AckID: id}, Attempt: attempt}
}

func TestQueuePreservesEnqueueOrderAcrossProducers(t *testing.T) {
	testlog.Start(t)
	q := NewQueue()

	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				assert.NoError(t, q.Enqueue(ackOut(uint64(p*1000+i), 1)))
			}
		}(p)
	}
	wg.Wait()
	require.Equal(t, 200, q.Len())

	last := map[int]int{}
	for i := 0; i < 200; i++ {
		msg, err := q.Next(context.Background())
		require.NoError(t, err)
		id := int(msg.Request.(wire.TelemetryAck).AckID)
		p, seq := id/1000, id%1000
		if prev, ok := last[p]; ok {
			require.Greater(t, seq, prev, "producer %d reordered", p)
		}
		last[p] = seq
	}
}

func TestQueueNextBlocksUntilEnqueue(t *testing.T) {
	testlog.Start(t)
	q := NewQueue()
	got := make(chan Outbound, 1)
	go func() {
		msg, err := q.Next(context.Background())
		if err == nil {
			got <- msg
		}
	}()

	select {
	case <-got:
		t.Fatalf("Next returned on empty queue")
	case <-time.After(20 * time.Millisecond):
	}
	require.NoError(t, q.Enqueue(ackOut(1, 1)))
	select {
	case msg := <-got:
		assert.Equal(t, uint64(1), msg.Request.(wire.TelemetryAck).AckID)
	case <-time.After(time.Second):
		t.Fatalf("Next did not wake")
	}
}

func TestQueueRejectsAfterSessionDone(t *testing.T) {
	testlog.Start(t)
	q := NewQueue()
	require.NoError(t, q.Enqueue(ackOut(1, 1)))
	require.NoError(t, q.Enqueue(SessionDone))
	assert.True(t, q.Closed())
	assert.ErrorIs(t, q.Enqueue(ackOut(2, 1)), ErrQueueClosed)
	assert.ErrorIs(t, q.Enqueue(SessionDone), ErrQueueClosed)
}

func TestQueueNextHonorsContext(t *testing.T) {
	testlog.Start(t)
	q := NewQueue()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := q.Next(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestMultiplexerSetupFirstThenQueueUntilDone(t *testing.T) {
	testlog.Start(t)
	q := NewQueue()
	require.NoError(t, q.Enqueue(ackOut(3, 1)))
	require.NoError(t, q.Enqueue(Outbound{Request: wire.Command{EntityID: "sat-5"}, Attempt: 1}))
	require.NoError(t, q.Enqueue(ackOut(4, 2)))
	require.NoError(t, q.Enqueue(SessionDone))

	ack := uint64(3)
	mux := NewMultiplexer(wire.Setup{EntityID: "sat-5", StreamID: "s-1", ResumeAckID: &ack}, q, 2)
	ctx := context.Background()

	first, err := mux.Next(ctx)
	require.NoError(t, err)
	setup, ok := first.(wire.Setup)
	require.True(t, ok, "first message must be setup, got %T", first)
	assert.Equal(t, "s-1", setup.StreamID)

	second, err := mux.Next(ctx)
	require.NoError(t, err)
	assert.IsType(t, wire.Command{}, second, "stale ack from attempt 1 must be skipped")

	third, err := mux.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), third.(wire.TelemetryAck).AckID)

	_, err = mux.Next(ctx)
	assert.ErrorIs(t, err, io.EOF)
	_, err = mux.Next(ctx)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, 1, mux.Skipped())
}

func TestMultiplexerReturnsUnsentCommandToQueueHead(t *testing.T) {
	testlog.Start(t)
	q := NewQueue()
	cmd := wire.Command{EntityID: "sat-5", ChannelID: "ch-1", Payloads: [][]byte{[]byte("ping")}}
	require.NoError(t, q.Enqueue(ackOut(4, 1)))
	require.NoError(t, q.Enqueue(Outbound{Request: cmd, Attempt: 1}))
	require.NoError(t, q.Enqueue(SessionDone))

	m := NewMultiplexer(wire.Setup{EntityID: "sat-5"}, q, 1)
	_, err := m.Next(context.Background())
	require.NoError(t, err)
	assert.False(t, m.Unsent(), "setup is rebuilt per attempt")

	req, err := m.Next(context.Background())
	require.NoError(t, err)
	require.IsType(t, wire.TelemetryAck{}, req)
	assert.False(t, m.Unsent(), "acks are covered by the resume token")

	req, err = m.Next(context.Background())
	require.NoError(t, err)
	require.Equal(t, cmd, req)
	assert.True(t, m.Unsent())
	assert.False(t, m.Unsent(), "only returned once")

	next := NewMultiplexer(wire.Setup{EntityID: "sat-5"}, q, 2)
	_, err = next.Next(context.Background())
	require.NoError(t, err)
	req, err = next.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, cmd, req)
	_, err = next.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF)
}
