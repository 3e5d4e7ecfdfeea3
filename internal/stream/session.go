// Package stream implements the resumable duplex telemetry/command session.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/danmuck/satlink/internal/logging"
	"github.com/danmuck/satlink/internal/observability"
	"github.com/danmuck/satlink/internal/protocol/schema"
	"github.com/danmuck/satlink/internal/protocol/wire"
)

type State int32

const (
	StateInit State = iota
	StateConnecting
	StateStreaming
	StateRecovering
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateConnecting:
		return "CONNECTING"
	case StateStreaming:
		return "STREAMING"
	case StateRecovering:
		return "RECOVERING"
	case StateTerminated:
		return "TERMINATED"
	default:
		return fmt.Sprintf("STATE(%d)", int32(s))
	}
}

// Stream is one attached connection attempt. Send is called only from the
// producer goroutine and Recv only from the consumer goroutine. Close must be
// safe to call more than once and from any goroutine.
type Stream interface {
	Send(req wire.Request) error
	Recv() (wire.Response, error)
	CloseSend() error
	Close() error
}

// Transport opens a fresh Stream for every connection attempt.
type Transport interface {
	Open(ctx context.Context) (Stream, error)
}

// Config is fixed for the life of a session.
type Config struct {
	Endpoint          string
	EntityID          string
	ChannelSetID      string
	EnableEvents      bool
	EnableFlowControl bool
	AcceptedFraming   []string
	MaxAttempts       int
	Backoff           BackoffConfig
	JoinTimeout       time.Duration
	// OnProgress, if set, is called from the consumer goroutine after every
	// inbound message.
	OnProgress func(Snapshot)
}

func DefaultConfig() Config {
	return Config{
		EnableEvents: true,
		MaxAttempts:  5,
		Backoff:      DefaultBackoff(),
		JoinTimeout:  5 * time.Second,
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.EntityID) == "" {
		return fmt.Errorf("%w: missing entity_id", ErrInvalidConfig)
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("%w: max_attempts must be >= 1, got %d", ErrInvalidConfig, c.MaxAttempts)
	}
	if c.JoinTimeout <= 0 {
		return fmt.Errorf("%w: join_timeout must be > 0", ErrInvalidConfig)
	}
	return nil
}

// RetryBudget counts connection attempts. AttemptsMade never exceeds
// MaxAttempts.
type RetryBudget struct {
	AttemptsMade int
	MaxAttempts  int
}

func (b RetryBudget) Exhausted() bool {
	return b.AttemptsMade >= b.MaxAttempts
}

// Result is the outcome of Run.
type Result struct {
	Reason   TerminationReason
	Err      error
	Attempts int
}

// Failed reports whether the session ended for any reason other than a
// normal end of telemetry.
func (r Result) Failed() bool {
	return r.Reason != ReasonEndOfTelemetry
}

type Session struct {
	cfg       Config
	transport Transport
	log       zerolog.Logger
	rng       *rand.Rand

	queue      *Queue
	tracker    *Tracker
	observer   *LifecycleObserver
	classifier *Classifier
	stats      *Stats

	state   atomic.Int32
	started atomic.Bool

	budgetMu sync.RWMutex
	budget   RetryBudget

	termOnce   sync.Once
	terminated chan struct{}
	resultMu   sync.Mutex
	result     Result
	finished   chan struct{}
}

// New builds a session that writes telemetry payloads to sink.
func New(cfg Config, transport Transport, sink io.Writer) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if transport == nil {
		return nil, fmt.Errorf("%w: nil transport", ErrInvalidConfig)
	}
	cfg.AcceptedFraming = append([]string(nil), cfg.AcceptedFraming...)

	log := logging.WithComponent("stream").With().Str("entity_id", cfg.EntityID).Logger()
	s := &Session{
		cfg:        cfg,
		transport:  transport,
		log:        log,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		queue:      NewQueue(),
		tracker:    NewTracker(log),
		observer:   NewLifecycleObserver(log),
		stats:      &Stats{},
		budget:     RetryBudget{MaxAttempts: cfg.MaxAttempts},
		terminated: make(chan struct{}),
		finished:   make(chan struct{}),
	}
	s.classifier = NewClassifier(cfg.EntityID, s.queue, s.tracker, s.observer, sink, s.stats, log)
	return s, nil
}

// Run drives the session until it terminates and returns the outcome.
// Cancelling ctx ends the session with ReasonUserCancelled.
func (s *Session) Run(ctx context.Context) Result {
	if !s.started.CompareAndSwap(false, true) {
		return Result{Reason: ReasonUnrecoverable, Err: ErrSessionStarted}
	}
	defer close(s.finished)

	stop := context.AfterFunc(ctx, func() {
		s.log.Info().Str("reason", ReasonUserCancelled.String()).Msg("stream.session cancelled")
		s.terminate(ReasonUserCancelled, context.Cause(ctx))
	})
	defer stop()

	s.log.Info().
		Str("endpoint", s.cfg.Endpoint).
		Int("max_attempts", s.cfg.MaxAttempts).
		Msg("stream.session start")
	s.setState(StateConnecting)

	for !s.isTerminated() {
		attempt := s.beginAttempt()
		err := s.runAttempt(ctx, attempt)
		if s.isTerminated() {
			break
		}
		if ctx.Err() != nil {
			s.terminate(ReasonUserCancelled, context.Cause(ctx))
			break
		}
		if err == nil {
			err = io.EOF
		}
		if !isTransient(err) {
			s.log.Error().
				Err(err).
				Str("reason", ReasonUnrecoverable.String()).
				Int("attempt", attempt).
				Msg("stream.session unrecoverable error")
			s.terminate(ReasonUnrecoverable, err)
			break
		}

		s.setState(StateRecovering)
		s.log.Warn().Err(err).Int("attempt", attempt).Msg("stream.session transient failure")
		if s.Budget().Exhausted() {
			s.log.Error().
				Err(err).
				Str("reason", ReasonRetriesExhausted.String()).
				Int("attempts", attempt).
				Msg("stream.session retries exhausted")
			s.terminate(ReasonRetriesExhausted, err)
			break
		}
		if !s.waitBackoff(attempt) {
			break
		}
		s.stats.reconnects.Add(1)
		s.setState(StateConnecting)
	}

	s.setState(StateTerminated)
	res := s.Result()
	observability.RecordTermination(s.cfg.EntityID, res.Reason.String())
	event := s.log.Info()
	if res.Failed() {
		event = s.log.Warn()
	}
	event.
		Str("reason", res.Reason.String()).
		AnErr("cause", res.Err).
		Int("attempts", res.Attempts).
		Str("progress", s.stats.Snapshot().String()).
		Msg("stream.session terminated")
	return res
}

// runAttempt opens one stream and runs the producer and consumer until the
// attempt fails or the session terminates.
func (s *Session) runAttempt(ctx context.Context, attempt int) error {
	st, err := s.transport.Open(ctx)
	if err != nil {
		observability.RecordConnectAttempt(s.cfg.EntityID, false)
		return err
	}
	observability.RecordConnectAttempt(s.cfg.EntityID, true)
	s.setState(StateStreaming)

	setup := s.buildSetup()
	s.log.Info().
		Int("attempt", attempt).
		Str("stream_id", setup.StreamID).
		Bool("resume", setup.ResumeAckID != nil).
		Msg("stream.session attached")

	mux := NewMultiplexer(setup, s.queue, attempt)
	s.classifier.SetAttempt(attempt)

	g, gctx := errgroup.WithContext(context.Background())
	stopClose := context.AfterFunc(gctx, func() { _ = st.Close() })
	defer stopClose()
	g.Go(func() error { return s.produce(gctx, mux, st) })
	g.Go(func() error { return s.consume(st) })

	waitErr := make(chan error, 1)
	go func() { waitErr <- g.Wait() }()

	select {
	case err = <-waitErr:
	case <-s.terminated:
		timer := time.NewTimer(s.cfg.JoinTimeout)
		select {
		case err = <-waitErr:
		case <-timer.C:
			s.log.Warn().Dur("join_timeout", s.cfg.JoinTimeout).Msg("stream.session join timed out; closing stream")
			_ = st.Close()
			err = <-waitErr
		}
		timer.Stop()
	}
	_ = st.Close()
	if n := mux.Skipped(); n > 0 {
		s.log.Debug().Int("stale_acks", n).Msg("stream.session dropped acks from previous attempt")
	}
	return err
}

func (s *Session) produce(ctx context.Context, mux *Multiplexer, st Stream) error {
	for {
		req, err := mux.Next(ctx)
		if errors.Is(err, io.EOF) {
			if err := st.CloseSend(); err != nil {
				s.log.Debug().Err(err).Msg("stream.session half-close failed")
			}
			return nil
		}
		if err != nil {
			return err
		}
		if err := st.Send(req); err != nil {
			if mux.Unsent() {
				s.log.Debug().Str("type", schema.Name(req.MessageType())).Msg("stream.session request requeued after failed send")
			}
			return err
		}
		s.stats.messagesSent.Add(1)
		if _, ok := req.(wire.TelemetryAck); ok {
			s.stats.acksSent.Add(1)
		}
		observability.RecordStreamMessage(s.cfg.EntityID, "sent", schema.Name(req.MessageType()))
	}
}

func (s *Session) consume(st Stream) error {
	for {
		resp, err := st.Recv()
		if s.isTerminated() {
			return nil
		}
		if err != nil {
			return err
		}
		reason, err := s.classifier.Handle(resp)
		if err != nil {
			if s.isTerminated() {
				return nil
			}
			return err
		}
		if s.cfg.OnProgress != nil {
			s.cfg.OnProgress(s.stats.Snapshot())
		}
		if reason != ReasonNone {
			s.terminate(reason, nil)
			return nil
		}
	}
}

// buildSetup renders the setup request from the current resume token.
func (s *Session) buildSetup() wire.Setup {
	ack := s.tracker.Current()
	return wire.Setup{
		EntityID:          s.cfg.EntityID,
		ChannelSetID:      s.cfg.ChannelSetID,
		EnableEvents:      s.cfg.EnableEvents,
		EnableFlowControl: s.cfg.EnableFlowControl,
		AcceptedFraming:   s.cfg.AcceptedFraming,
		StreamID:          ack.SessionID,
		ResumeAckID:       ack.ResumeAckID(),
	}
}

func (s *Session) beginAttempt() int {
	s.budgetMu.Lock()
	defer s.budgetMu.Unlock()
	s.budget.AttemptsMade++
	return s.budget.AttemptsMade
}

func (s *Session) waitBackoff(attempt int) bool {
	delay := NextBackoffDelay(s.cfg.Backoff, attempt, s.rng)
	s.log.Debug().Dur("delay", delay).Int("attempt", attempt).Msg("stream.session backoff")
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-s.terminated:
		return false
	}
}

// terminate records the first terminal reason and releases the producer with
// SessionDone. Later calls are no-ops.
func (s *Session) terminate(reason TerminationReason, err error) {
	s.termOnce.Do(func() {
		s.resultMu.Lock()
		s.result = Result{Reason: reason, Err: err}
		s.resultMu.Unlock()

		if reason == ReasonUserCancelled {
			if n := s.queue.Discard(); n > 0 {
				s.log.Debug().Int("discarded", n).Msg("stream.session pending messages discarded")
			}
		}
		_ = s.queue.Enqueue(SessionDone)
		close(s.terminated)
	})
}

func (s *Session) isTerminated() bool {
	select {
	case <-s.terminated:
		return true
	default:
		return false
	}
}

func (s *Session) setState(to State) {
	from := State(s.state.Swap(int32(to)))
	if from == to {
		return
	}
	observability.SetStreamState(s.cfg.EntityID, int(to))
	s.log.Debug().Stringer("from", from).Stringer("to", to).Msg("stream.session state")
}

// Send queues one command request. It fails once the session has terminated.
func (s *Session) Send(channelID string, payloads ...[]byte) error {
	if s.isTerminated() {
		return ErrSessionTerminated
	}
	cmd := wire.Command{EntityID: s.cfg.EntityID, ChannelID: channelID}
	for _, p := range payloads {
		cmd.Payloads = append(cmd.Payloads, append([]byte(nil), p...))
	}
	err := s.queue.Enqueue(Outbound{Request: cmd, Attempt: s.Budget().AttemptsMade})
	if errors.Is(err, ErrQueueClosed) {
		return ErrSessionTerminated
	}
	return err
}

func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) Budget() RetryBudget {
	s.budgetMu.RLock()
	defer s.budgetMu.RUnlock()
	return s.budget
}

func (s *Session) AckState() AckState {
	return s.tracker.Current()
}

func (s *Session) Stats() Snapshot {
	return s.stats.Snapshot()
}

// PlanStatus returns the last known-good plan status.
func (s *Session) PlanStatus() (wire.PlanStatus, bool) {
	return s.observer.Status()
}

// Done is closed when Run returns.
func (s *Session) Done() <-chan struct{} {
	return s.finished
}

// Result returns the recorded outcome. Reason is ReasonNone while the session
// is still running.
func (s *Session) Result() Result {
	s.resultMu.Lock()
	res := s.result
	s.resultMu.Unlock()
	res.Attempts = s.Budget().AttemptsMade
	return res
}
