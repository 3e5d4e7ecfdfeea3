package fakestation

import (
	"fmt"
	"time"

	"github.com/danmuck/satlink/internal/protocol/wire"
)

// nextStep advances the scripted pass for rec: an EXECUTING event, the
// telemetry batches, a COMPLETED event with monitoring, and finally the end
// marker. Batches join rec.pending and are written by the producer's flush;
// lifecycle events are returned for sending directly. It returns false when
// the script is exhausted or gen no longer owns the stream.
func (s *Server) nextStep(rec *streamRecord, gen uint64, events bool) (wire.Response, bool) {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.gen != gen {
		return nil, false
	}
	switch {
	case events && !rec.announced:
		rec.announced = true
		return s.lifecycle(rec, wire.PlanExecuting), true
	case rec.produced < s.cfg.BatchCount:
		rec.produced++
		b := wire.TelemetryBatch{
			EntityID: rec.entityID,
			StreamID: rec.id,
			PlanID:   s.cfg.PlanID,
			AckID:    s.registry.allocAck(),
			Items:    s.items(rec.produced),
		}
		rec.pending = append(rec.pending, b)
		return b, true
	case events && !rec.completedSent:
		rec.completedSent = true
		return s.lifecycle(rec, wire.PlanCompleted), true
	case !rec.endSent:
		rec.endSent = true
		b := wire.TelemetryBatch{
			EntityID: rec.entityID,
			StreamID: rec.id,
			PlanID:   s.cfg.PlanID,
			AckID:    s.registry.allocAck(),
			Items:    []wire.TelemetryItem{{Framing: s.cfg.Framing}},
		}
		rec.pending = append(rec.pending, b)
		return b, true
	default:
		return nil, false
	}
}

// echo turns an uplink command into an ack-bearing batch on the same stream
// and queues it for the producer. Empty payloads are dropped so an echo can
// never look like the end marker.
func (s *Server) echo(rec *streamRecord, gen uint64, cmd wire.Command) (wire.TelemetryBatch, bool) {
	now := time.Now().UTC()
	var items []wire.TelemetryItem
	for _, p := range cmd.Payloads {
		if len(p) == 0 {
			continue
		}
		items = append(items, wire.TelemetryItem{
			Data:          append([]byte(nil), p...),
			FirstByteTime: now,
			LastByteTime:  now,
			Framing:       s.cfg.Framing,
		})
	}
	if len(items) == 0 {
		return wire.TelemetryBatch{}, false
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.gen != gen || rec.endSent {
		return wire.TelemetryBatch{}, false
	}
	b := wire.TelemetryBatch{
		EntityID: rec.entityID,
		StreamID: rec.id,
		PlanID:   s.cfg.PlanID,
		AckID:    s.registry.allocAck(),
		Items:    items,
	}
	rec.pending = append(rec.pending, b)
	rec.notify()
	return b, true
}

func (s *Server) items(seq int) []wire.TelemetryItem {
	now := time.Now().UTC()
	out := make([]wire.TelemetryItem, 0, s.cfg.ItemsPerBatch)
	for i := 0; i < s.cfg.ItemsPerBatch; i++ {
		first := now.Add(time.Duration(i) * time.Millisecond)
		out = append(out, wire.TelemetryItem{
			Data:          payload(seq, i, s.cfg.PayloadSize),
			FirstByteTime: first,
			LastByteTime:  first.Add(time.Millisecond),
			Framing:       s.cfg.Framing,
		})
	}
	return out
}

func (s *Server) lifecycle(rec *streamRecord, status wire.PlanStatus) wire.LifecycleEvent {
	ev := wire.LifecycleEvent{
		EntityID: rec.entityID,
		StreamID: rec.id,
		PlanID:   s.cfg.PlanID,
		Status:   &status,
	}
	mon, err := wire.EncodeMonitoring(wire.Monitoring{
		GroundStationID: s.cfg.GroundStationID,
		AzimuthDeg:      182.5,
		ElevationDeg:    41.0,
		SignalDBm:       -97.5,
		Locked:          status == wire.PlanExecuting || status == wire.PlanCompleted,
		Detail:          map[string]string{"plan_id": s.cfg.PlanID},
	})
	if err != nil {
		s.log.Warn().Err(err).Msg("fakestation.stream monitoring encode failed")
		return ev
	}
	ev.Monitoring = mon
	return ev
}

// payload fills size bytes with a repeating tag so every item is distinct and
// recognizable in the client's telemetry file.
func payload(seq, item, size int) []byte {
	tag := fmt.Sprintf("tm-%06d-%02d|", seq, item)
	out := make([]byte, size)
	for i := range out {
		out[i] = tag[i%len(tag)]
	}
	return out
}
