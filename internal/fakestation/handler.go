package fakestation

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/danmuck/satlink/internal/observability"
	"github.com/danmuck/satlink/internal/protocol/schema"
	"github.com/danmuck/satlink/internal/protocol/wire"
	"github.com/danmuck/satlink/internal/transport"
)

var errPeerClosed = errors.New("fakestation: peer closed its send side")

// handleConn dispatches on the first message: plan calls get one reply, a
// setup opens a telemetry stream.
func (s *Server) handleConn(ctx context.Context, conn transport.Conn) {
	defer conn.Close()
	codec := wire.NewCodec(conn)
	log := s.log.With().Str("remote", conn.RemoteAddr()).Logger()

	msg, err := codec.Read()
	if err != nil {
		if errors.Is(err, io.EOF) || wire.StatusCode(err) == wire.Internal {
			log.Debug().Err(err).Msg("fakestation.conn closed before first message")
			return
		}
		s.reject(codec, log, err)
		return
	}

	switch m := msg.(type) {
	case wire.ListPlans:
		plans, err := s.plans.List(m)
		s.reply(codec, log, wire.ListPlansResult{Plans: plans}, err)
	case wire.ReservePlan:
		plan, err := s.plans.Reserve(m)
		s.reply(codec, log, wire.ReservePlanResult{Plan: plan}, err)
	case wire.CancelPlan:
		err := s.plans.Cancel(m.PlanID)
		s.reply(codec, log, wire.CancelPlanResult{PlanID: m.PlanID}, err)
	case wire.Request:
		setup, err := s.admit(m)
		if err != nil {
			s.reject(codec, log, err)
			return
		}
		s.serveStream(ctx, conn, codec, setup, log)
	default:
		s.reject(codec, log, wire.Errorf(wire.FailedPrecondition, "unexpected %s as first message", schema.Name(msg.MessageType())))
	}
}

// admit checks the opening request of a stream.
func (s *Server) admit(req wire.Request) (wire.Setup, error) {
	if strings.TrimSpace(req.Entity()) == "" {
		return wire.Setup{}, wire.Errorf(wire.InvalidArgument, "entity_id not set")
	}
	setup, ok := req.(wire.Setup)
	if !ok {
		return wire.Setup{}, wire.Errorf(wire.FailedPrecondition, "first message must be setup, got %s", schema.Name(req.MessageType()))
	}
	if !s.cfg.knows(setup.EntityID) {
		return wire.Setup{}, wire.Errorf(wire.NotFound, "entity %q not found", setup.EntityID)
	}
	return setup, nil
}

func (s *Server) serveStream(ctx context.Context, conn transport.Conn, codec *wire.Codec, setup wire.Setup, log zerolog.Logger) {
	attachCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	rec, gen, resumed, err := s.registry.attach(setup, cancel)
	if err != nil {
		s.reject(codec, log, err)
		return
	}
	log = log.With().Str("entity_id", rec.entityID).Str("stream_id", rec.id).Uint64("gen", gen).Logger()
	log.Info().Bool("resumed", resumed).Msg("fakestation.stream attached")
	observability.StationStreamAttached(1)
	defer observability.StationStreamAttached(-1)

	g, gctx := errgroup.WithContext(attachCtx)
	stopClose := context.AfterFunc(gctx, func() { _ = conn.Close() })
	defer stopClose()

	g.Go(func() error { return s.produce(gctx, codec, rec, gen, setup.EnableEvents) })
	g.Go(func() error { return s.consume(gctx, codec, rec, gen, log) })
	if s.cfg.SessionTimeout > 0 {
		g.Go(func() error {
			timer := time.NewTimer(s.cfg.SessionTimeout)
			defer timer.Stop()
			select {
			case <-gctx.Done():
				return nil
			case <-timer.C:
				err := wire.Errorf(wire.Unavailable, "session timeout after %s", s.cfg.SessionTimeout)
				s.reject(codec, log, err)
				return err
			}
		})
	}

	err = g.Wait()
	status := "detached"
	if s.registry.release(rec, gen) {
		status = "completed"
	}
	observability.RecordStationStream(status)
	event := log.Info()
	if err != nil && !errors.Is(err, errPeerClosed) {
		event = log.Warn().Err(err)
	}
	event.Str("status", status).Msg("fakestation.stream detached")
}

// produce writes the scripted pass. Every batch goes out through flush, which
// sends pending batches in ack order, so a resumed attachment first replays
// whatever the client has not acknowledged and echoes never overtake
// telemetry.
func (s *Server) produce(ctx context.Context, codec *wire.Codec, rec *streamRecord, gen uint64, events bool) error {
	var sent uint64
	flush := func() error {
		batches, ok := rec.after(gen, sent)
		if !ok {
			return nil
		}
		for _, b := range batches {
			if err := s.send(codec, rec.entityID, b); err != nil {
				return err
			}
			sent = b.AckID
		}
		return nil
	}

	for {
		if err := flush(); err != nil {
			return err
		}
		msg, ok := s.nextStep(rec, gen, events)
		if !ok {
			return flush()
		}
		if ev, isEvent := msg.(wire.LifecycleEvent); isEvent {
			if err := s.send(codec, rec.entityID, ev); err != nil {
				return err
			}
		} else if err := flush(); err != nil {
			return err
		}
		if s.cfg.Cadence <= 0 {
			continue
		}
		timer := time.NewTimer(s.cfg.Cadence)
	wait:
		for {
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil
			case <-rec.wake:
				if err := flush(); err != nil {
					timer.Stop()
					return err
				}
			case <-timer.C:
				break wait
			}
		}
	}
}

func (s *Server) consume(ctx context.Context, codec *wire.Codec, rec *streamRecord, gen uint64, log zerolog.Logger) error {
	for {
		req, err := codec.ReadRequest()
		if errors.Is(err, io.EOF) {
			return errPeerClosed
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if wire.StatusCode(err) != wire.Internal {
				s.reject(codec, log, err)
			}
			return err
		}
		observability.RecordStreamMessage(rec.entityID, "received", schema.Name(req.MessageType()))
		if req.Entity() != rec.entityID {
			err := wire.Errorf(wire.FailedPrecondition, "entity %q on stream for %q", req.Entity(), rec.entityID)
			s.reject(codec, log, err)
			return err
		}

		switch m := req.(type) {
		case wire.TelemetryAck:
			rec.ack(m.AckID)
		case wire.Command:
			log.Debug().Str("channel_id", m.ChannelID).Int("payloads", len(m.Payloads)).Msg("fakestation.stream command")
			if b, ok := s.echo(rec, gen, m); ok {
				log.Debug().Uint64("ack_id", b.AckID).Msg("fakestation.stream echo queued")
			}
		case wire.Setup:
			err := wire.Errorf(wire.FailedPrecondition, "setup already received")
			s.reject(codec, log, err)
			return err
		}
	}
}

func (s *Server) send(codec *wire.Codec, entityID string, msg wire.Message) error {
	if err := codec.Write(msg); err != nil {
		return err
	}
	observability.RecordStreamMessage(entityID, "sent", schema.Name(msg.MessageType()))
	return nil
}

// reply answers a unary call with either its result or err.
func (s *Server) reply(codec *wire.Codec, log zerolog.Logger, res wire.Message, err error) {
	if err != nil {
		s.reject(codec, log, err)
		return
	}
	if err := codec.Write(res); err != nil {
		log.Warn().Err(err).Str("type", schema.Name(res.MessageType())).Msg("fakestation.conn reply failed")
		return
	}
	log.Debug().Str("type", schema.Name(res.MessageType())).Msg("fakestation.conn reply")
}

func (s *Server) reject(codec *wire.Codec, log zerolog.Logger, err error) {
	se := wire.AsStatus(err)
	log.Warn().Stringer("code", se.Code).Str("message", se.Message).Msg("fakestation.stream rejected")
	if werr := codec.WriteError(se); werr != nil {
		log.Debug().Err(werr).Msg("fakestation.stream error frame not delivered")
	}
}
