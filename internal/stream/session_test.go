package stream

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/danmuck/satlink/internal/protocol/wire"
	"github.com/danmuck/satlink/internal/testutil/testlog"
)

func startSession(t *testing.T, ctx context.Context, tr *fakeTransport, sink io.Writer) (*Session, <-chan Result) {
	t.Helper()
	s, err := New(testConfig(), tr, sink)
	require.NoError(t, err)
	done := make(chan Result, 1)
	go func() { done <- s.Run(ctx) }()
	return s, done
}

func waitResult(t *testing.T, done <-chan Result) Result {
	t.Helper()
	select {
	case res := <-done:
		return res
	case <-time.After(5 * time.Second):
		t.Fatalf("session did not terminate")
		return Result{}
	}
}

func TestSessionEndOfTelemetry(t *testing.T) {
	defer goleak.VerifyNone(t)
	testlog.Start(t)

	st := newFakeStream()
	tr := &fakeTransport{streams: []*fakeStream{st}}
	var sink bytes.Buffer
	st.push(batch("s-1", 1, item("hello ", time.Time{})))
	st.push(batch("s-1", 2, item("world", time.Time{})))
	st.push(endMarker("s-1", 3))

	s, done := startSession(t, context.Background(), tr, &sink)

	setup, ok := st.expectSent(t).(wire.Setup)
	require.True(t, ok, "first message must be setup")
	assert.Equal(t, "sat-5", setup.EntityID)
	assert.Equal(t, "cs-1", setup.ChannelSetID)
	assert.Nil(t, setup.ResumeAckID)

	res := waitResult(t, done)
	assert.Equal(t, ReasonEndOfTelemetry, res.Reason)
	assert.False(t, res.Failed())
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, "hello world", sink.String())
	assert.True(t, st.halfClosed.Load())
	assert.Equal(t, StateTerminated, s.State())
	assert.Equal(t, uint64(3), s.AckState().LastAckID)
}

func TestSessionResumesAfterTransientFailure(t *testing.T) {
	defer goleak.VerifyNone(t)
	testlog.Start(t)

	st1, st2 := newFakeStream(), newFakeStream()
	tr := &fakeTransport{streams: []*fakeStream{st1, st2}}
	st1.push(batch("s-1", 5, item("a", time.Time{})))
	st1.fail(fmt.Errorf("%w: connection reset", ErrTransport))

	s, done := startSession(t, context.Background(), tr, io.Discard)

	first, ok := st1.expectSent(t).(wire.Setup)
	require.True(t, ok)
	assert.Nil(t, first.ResumeAckID)

	setup, ok := st2.expectSent(t).(wire.Setup)
	require.True(t, ok, "reconnect must start with setup")
	assert.Equal(t, "s-1", setup.StreamID)
	require.NotNil(t, setup.ResumeAckID)
	assert.Equal(t, uint64(5), *setup.ResumeAckID)

	st2.push(endMarker("s-1", 6))
	res := waitResult(t, done)
	assert.Equal(t, ReasonEndOfTelemetry, res.Reason)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, int32(2), tr.opens.Load())
	assert.Equal(t, uint64(1), s.Stats().Reconnects)
}

func TestSessionRetriesExhausted(t *testing.T) {
	defer goleak.VerifyNone(t)
	testlog.Start(t)

	tr := &fakeTransport{}
	s, done := startSession(t, context.Background(), tr, io.Discard)

	res := waitResult(t, done)
	assert.Equal(t, ReasonRetriesExhausted, res.Reason)
	assert.ErrorIs(t, res.Err, ErrTransport)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, int32(3), tr.opens.Load())
	assert.Equal(t, uint64(2), s.Stats().Reconnects)
	assert.True(t, s.Budget().Exhausted())
}

func TestSessionUserCancel(t *testing.T) {
	defer goleak.VerifyNone(t)
	testlog.Start(t)

	st := newFakeStream()
	tr := &fakeTransport{streams: []*fakeStream{st}}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, done := startSession(t, ctx, tr, io.Discard)
	_, ok := st.expectSent(t).(wire.Setup)
	require.True(t, ok)

	cancel()
	require.Eventually(t, st.halfClosed.Load, 2*time.Second, 5*time.Millisecond)
	st.fail(io.EOF)

	res := waitResult(t, done)
	assert.Equal(t, ReasonUserCancelled, res.Reason)
	assert.Equal(t, 1, res.Attempts)
	assert.ErrorIs(t, s.Send("ch-1", []byte("late")), ErrSessionTerminated)
}

func TestSessionUnrecoverableStatus(t *testing.T) {
	defer goleak.VerifyNone(t)
	testlog.Start(t)

	st := newFakeStream()
	tr := &fakeTransport{streams: []*fakeStream{st, newFakeStream()}}
	st.fail(wire.Errorf(wire.InvalidArgument, "missing entity_id"))

	_, done := startSession(t, context.Background(), tr, io.Discard)
	res := waitResult(t, done)
	assert.Equal(t, ReasonUnrecoverable, res.Reason)
	assert.Equal(t, wire.InvalidArgument, wire.StatusCode(res.Err))
	assert.Equal(t, int32(1), tr.opens.Load())
}

func TestSessionPlanFailed(t *testing.T) {
	defer goleak.VerifyNone(t)
	testlog.Start(t)

	st := newFakeStream()
	tr := &fakeTransport{streams: []*fakeStream{st}}
	failed := wire.PlanFailed
	st.push(wire.LifecycleEvent{EntityID: "sat-5", StreamID: "s-1", PlanID: "3", Status: &failed})

	s, done := startSession(t, context.Background(), tr, io.Discard)
	res := waitResult(t, done)
	assert.Equal(t, ReasonPlanFailed, res.Reason)
	assert.True(t, res.Failed())
	status, known := s.PlanStatus()
	assert.True(t, known)
	assert.Equal(t, wire.PlanFailed, status)
}

func TestSessionIgnoresStatuslessLifecycleEvent(t *testing.T) {
	defer goleak.VerifyNone(t)
	testlog.Start(t)

	st := newFakeStream()
	tr := &fakeTransport{streams: []*fakeStream{st}}
	executing := wire.PlanExecuting
	unknown := wire.PlanStatus(42)
	var sink bytes.Buffer
	st.push(wire.LifecycleEvent{EntityID: "sat-5", StreamID: "s-1", PlanID: "3", Status: &executing})
	st.push(wire.LifecycleEvent{EntityID: "sat-5", StreamID: "s-1", PlanID: "3"})
	st.push(wire.LifecycleEvent{EntityID: "sat-5", StreamID: "s-1", PlanID: "3", Status: &unknown})
	st.push(batch("s-1", 1, item("tm", time.Time{})))
	st.push(endMarker("s-1", 2))

	s, done := startSession(t, context.Background(), tr, &sink)
	res := waitResult(t, done)
	assert.Equal(t, ReasonEndOfTelemetry, res.Reason)
	assert.Equal(t, "tm", sink.String())
	status, known := s.PlanStatus()
	assert.True(t, known)
	assert.Equal(t, wire.PlanExecuting, status)
}

func TestSessionForwardsCommandsAfterSetup(t *testing.T) {
	defer goleak.VerifyNone(t)
	testlog.Start(t)

	st := newFakeStream()
	tr := &fakeTransport{streams: []*fakeStream{st}}
	s, err := New(testConfig(), tr, io.Discard)
	require.NoError(t, err)
	require.NoError(t, s.Send("ch-1", []byte("ping")))

	done := make(chan Result, 1)
	go func() { done <- s.Run(context.Background()) }()

	_, ok := st.expectSent(t).(wire.Setup)
	require.True(t, ok)
	cmd, ok := st.expectSent(t).(wire.Command)
	require.True(t, ok)
	assert.Equal(t, "ch-1", cmd.ChannelID)
	assert.Equal(t, [][]byte{[]byte("ping")}, cmd.Payloads)

	st.push(endMarker("s-1", 1))
	res := waitResult(t, done)
	assert.Equal(t, ReasonEndOfTelemetry, res.Reason)
	assert.ErrorIs(t, s.Send("ch-1", []byte("late")), ErrSessionTerminated)
}

func TestSessionResendsCommandAfterFailedWrite(t *testing.T) {
	defer goleak.VerifyNone(t)
	testlog.Start(t)

	st1, st2 := newFakeStream(), newFakeStream()
	st1.sendErr = func(req wire.Request) error {
		if _, ok := req.(wire.Command); ok {
			return fmt.Errorf("%w: broken pipe", ErrTransport)
		}
		return nil
	}
	tr := &fakeTransport{streams: []*fakeStream{st1, st2}}
	s, err := New(testConfig(), tr, io.Discard)
	require.NoError(t, err)
	require.NoError(t, s.Send("ch-1", []byte("ping")))
	require.NoError(t, s.Send("ch-1", []byte("pong")))

	done := make(chan Result, 1)
	go func() { done <- s.Run(context.Background()) }()

	_, ok := st1.expectSent(t).(wire.Setup)
	require.True(t, ok)

	_, ok = st2.expectSent(t).(wire.Setup)
	require.True(t, ok, "reconnect must start with setup")
	first, ok := st2.expectSent(t).(wire.Command)
	require.True(t, ok, "failed command must be resent first")
	assert.Equal(t, [][]byte{[]byte("ping")}, first.Payloads)
	second, ok := st2.expectSent(t).(wire.Command)
	require.True(t, ok)
	assert.Equal(t, [][]byte{[]byte("pong")}, second.Payloads)

	st2.push(endMarker("s-1", 1))
	res := waitResult(t, done)
	assert.Equal(t, ReasonEndOfTelemetry, res.Reason)
	assert.Equal(t, 2, res.Attempts)
}

func TestSessionRunOnlyOnce(t *testing.T) {
	defer goleak.VerifyNone(t)
	testlog.Start(t)

	st := newFakeStream()
	st.push(endMarker("s-1", 1))
	s, err := New(testConfig(), &fakeTransport{streams: []*fakeStream{st}}, io.Discard)
	require.NoError(t, err)
	require.Equal(t, ReasonEndOfTelemetry, s.Run(context.Background()).Reason)

	res := s.Run(context.Background())
	assert.ErrorIs(t, res.Err, ErrSessionStarted)
	<-s.Done()
}

func TestConfigValidate(t *testing.T) {
	testlog.Start(t)
	cfg := testConfig()
	cfg.EntityID = " "
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
	cfg = testConfig()
	cfg.MaxAttempts = 0
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
	_, err := New(testConfig(), nil, io.Discard)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
