package stream

import (
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/danmuck/satlink/internal/observability"
	"github.com/danmuck/satlink/internal/protocol/schema"
	"github.com/danmuck/satlink/internal/protocol/wire"
)

// Classifier routes each inbound message to telemetry or lifecycle handling.
// It runs on the consumer goroutine only.
type Classifier struct {
	entityID string
	queue    *Queue
	tracker  *Tracker
	observer *LifecycleObserver
	sink     io.Writer
	stats    *Stats
	log      zerolog.Logger

	attempt       int
	lastFirstByte time.Time
	finished      bool
}

func NewClassifier(
	entityID string,
	queue *Queue,
	tracker *Tracker,
	observer *LifecycleObserver,
	sink io.Writer,
	stats *Stats,
	log zerolog.Logger,
) *Classifier {
	if sink == nil {
		sink = io.Discard
	}
	if stats == nil {
		stats = &Stats{}
	}
	return &Classifier{
		entityID: entityID,
		queue:    queue,
		tracker:  tracker,
		observer: observer,
		sink:     sink,
		stats:    stats,
		log:      log,
	}
}

// SetAttempt stamps acks enqueued from now on. Call it before the consumer
// for that attempt starts.
func (c *Classifier) SetAttempt(attempt int) {
	c.attempt = attempt
}

// Handle processes one inbound message and returns a terminal reason, or
// ReasonNone to keep streaming. Once a terminal reason has been returned,
// later messages are dropped unprocessed.
func (c *Classifier) Handle(resp wire.Response) (TerminationReason, error) {
	if c.finished {
		c.log.Debug().Str("type", schema.Name(resp.MessageType())).Msg("stream.classifier dropped after termination")
		return ReasonNone, nil
	}
	c.stats.messagesReceived.Add(1)
	observability.RecordStreamMessage(c.entityID, "received", schema.Name(resp.MessageType()))

	var (
		reason TerminationReason
		err    error
	)
	switch m := resp.(type) {
	case wire.TelemetryBatch:
		reason, err = c.handleBatch(m)
	case wire.LifecycleEvent:
		reason, err = c.handleLifecycle(m)
	default:
		err = wire.Errorf(wire.FailedPrecondition, "unexpected response %T", resp)
	}
	if err != nil || reason != ReasonNone {
		c.finished = true
	}
	return reason, err
}

func (c *Classifier) handleBatch(b wire.TelemetryBatch) (TerminationReason, error) {
	if err := c.checkEntity(b.EntityID); err != nil {
		return ReasonNone, err
	}
	if c.tracker.ObserveSession(b.StreamID) {
		c.log.Info().Str("stream_id", b.StreamID).Msg("stream.classifier session assigned")
	}
	ack := wire.TelemetryAck{EntityID: c.entityID, AckID: b.AckID}
	if err := c.queue.Enqueue(Outbound{Request: ack, Attempt: c.attempt}); err != nil {
		return ReasonNone, err
	}
	prev := c.tracker.Current()
	if !c.tracker.RecordAck(b.StreamID, b.AckID) && prev.HasAck {
		// Redelivered after a resume; the sink already has it.
		c.stats.duplicateBatches.Add(1)
		c.log.Debug().
			Uint64("ack_id", b.AckID).
			Uint64("last_ack_id", prev.LastAckID).
			Msg("stream.classifier duplicate batch not written")
		if b.IsEndMarker() {
			return ReasonEndOfTelemetry, nil
		}
		return ReasonNone, nil
	}

	for _, item := range b.Items {
		if len(item.Data) > 0 {
			if _, err := c.sink.Write(item.Data); err != nil {
				return ReasonNone, fmt.Errorf("stream: telemetry sink: %w", err)
			}
		}
		c.stats.telemetryItems.Add(1)
		c.stats.bytesReceived.Add(uint64(len(item.Data)))
		observability.RecordTelemetryBytes(c.entityID, len(item.Data))
		c.checkOrder(item)
	}

	if b.IsEndMarker() {
		c.log.Info().Uint64("ack_id", b.AckID).Msg("stream.classifier end of telemetry")
		return ReasonEndOfTelemetry, nil
	}
	return ReasonNone, nil
}

// checkOrder counts items whose first byte arrived before the previous
// item's. Items without a timestamp are not compared.
func (c *Classifier) checkOrder(item wire.TelemetryItem) {
	if item.FirstByteTime.IsZero() {
		return
	}
	if !c.lastFirstByte.IsZero() && item.FirstByteTime.Before(c.lastFirstByte) {
		n := c.stats.outOfOrderItems.Add(1)
		c.log.Debug().
			Time("first_byte", item.FirstByteTime).
			Time("previous_first_byte", c.lastFirstByte).
			Uint64("out_of_order", n).
			Msg("stream.classifier out-of-order telemetry")
	}
	c.lastFirstByte = item.FirstByteTime
}

func (c *Classifier) handleLifecycle(ev wire.LifecycleEvent) (TerminationReason, error) {
	if err := c.checkEntity(ev.EntityID); err != nil {
		return ReasonNone, err
	}
	status, failed := c.observer.Observe(ev)
	if _, known := c.observer.Status(); known {
		c.stats.setPlanStatus(status)
	}
	if failed {
		c.log.Warn().
			Str("reason", ReasonPlanFailed.String()).
			Stringer("status", status).
			Str("plan_id", ev.PlanID).
			Msg("stream.classifier plan failed")
		return ReasonPlanFailed, nil
	}
	return ReasonNone, nil
}

func (c *Classifier) checkEntity(entityID string) error {
	if entityID != "" && entityID != c.entityID {
		return wire.Errorf(wire.FailedPrecondition, "response for entity %q on stream for %q", entityID, c.entityID)
	}
	return nil
}
