package fakestation

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/danmuck/satlink/internal/protocol/wire"
)

// StreamInfo is the admin view of one stream.
type StreamInfo struct {
	StreamID  string    `json:"stream_id"`
	EntityID  string    `json:"entity_id"`
	Attached  bool      `json:"attached"`
	Attaches  int       `json:"attaches"`
	Produced  int       `json:"produced"`
	Pending   int       `json:"pending"`
	LastAckID uint64    `json:"last_ack_id"`
	Completed bool      `json:"completed"`
	CreatedAt time.Time `json:"created_at"`
}

// streamRecord outlives individual connections so a client can resume it.
type streamRecord struct {
	id       string
	entityID string
	created  time.Time

	mu            sync.Mutex
	pending       []wire.TelemetryBatch
	produced      int
	announced     bool
	completedSent bool
	endSent       bool
	lastAck       uint64
	gen           uint64
	attached      bool
	attaches      int
	detach        context.CancelFunc
	// wake tells the producer that an echo joined pending.
	wake chan struct{}
}

// Registry holds every stream that has not yet been fully acknowledged. Ack
// ids come from one counter so they increase across all streams.
type Registry struct {
	mu      sync.RWMutex
	streams map[string]*streamRecord
	nextAck atomic.Uint64
}

func NewRegistry() *Registry {
	return &Registry{streams: make(map[string]*streamRecord)}
}

// attach binds a connection to the stream named by setup, creating it when
// the id is empty or unknown. A previous attachment of the same stream is
// cancelled and superseded.
func (r *Registry) attach(setup wire.Setup, cancel context.CancelFunc) (*streamRecord, uint64, bool, error) {
	id := strings.TrimSpace(setup.StreamID)
	r.mu.Lock()
	rec, found := r.streams[id]
	if found && rec.entityID != setup.EntityID {
		r.mu.Unlock()
		return nil, 0, false, wire.Errorf(wire.FailedPrecondition, "stream %q belongs to another entity", id)
	}
	if !found {
		if id == "" {
			id = uuid.NewString()
		}
		rec = &streamRecord{id: id, entityID: setup.EntityID, created: time.Now(), wake: make(chan struct{}, 1)}
		r.streams[id] = rec
	}
	r.mu.Unlock()

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.attached && rec.detach != nil {
		rec.detach()
	}
	rec.gen++
	rec.attached = true
	rec.attaches++
	rec.detach = cancel
	if setup.ResumeAckID != nil {
		rec.ackLocked(*setup.ResumeAckID)
	}
	return rec, rec.gen, found, nil
}

// release detaches gen from rec and drops the stream once everything it sent
// has been acknowledged. It reports whether the stream finished.
func (r *Registry) release(rec *streamRecord, gen uint64) bool {
	rec.mu.Lock()
	if rec.gen == gen {
		rec.attached = false
		rec.detach = nil
	}
	done := rec.endSent && len(rec.pending) == 0
	rec.mu.Unlock()
	if done {
		r.mu.Lock()
		if r.streams[rec.id] == rec {
			delete(r.streams, rec.id)
		}
		r.mu.Unlock()
	}
	return done
}

func (r *Registry) Snapshot() []StreamInfo {
	r.mu.RLock()
	recs := make([]*streamRecord, 0, len(r.streams))
	for _, rec := range r.streams {
		recs = append(recs, rec)
	}
	r.mu.RUnlock()

	out := make([]StreamInfo, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (r *Registry) Lookup(streamID string) (StreamInfo, bool) {
	r.mu.RLock()
	rec, ok := r.streams[streamID]
	r.mu.RUnlock()
	if !ok {
		return StreamInfo{}, false
	}
	return rec.info(), true
}

func (r *Registry) allocAck() uint64 {
	return r.nextAck.Add(1)
}

func (rec *streamRecord) info() StreamInfo {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return StreamInfo{
		StreamID:  rec.id,
		EntityID:  rec.entityID,
		Attached:  rec.attached,
		Attaches:  rec.attaches,
		Produced:  rec.produced,
		Pending:   len(rec.pending),
		LastAckID: rec.lastAck,
		Completed: rec.endSent,
		CreatedAt: rec.created,
	}
}

// ack drops every pending batch up to and including ackID.
func (rec *streamRecord) ack(ackID uint64) {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.ackLocked(ackID)
}

func (rec *streamRecord) ackLocked(ackID uint64) {
	if ackID > rec.lastAck {
		rec.lastAck = ackID
	}
	n := 0
	for n < len(rec.pending) && rec.pending[n].AckID <= ackID {
		n++
	}
	rec.pending = rec.pending[n:]
}

// after returns the unacknowledged batches with an ack id above sent, in ack
// order. ok is false once gen no longer owns the stream.
func (rec *streamRecord) after(gen, sent uint64) ([]wire.TelemetryBatch, bool) {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.gen != gen {
		return nil, false
	}
	i := 0
	for i < len(rec.pending) && rec.pending[i].AckID <= sent {
		i++
	}
	return append([]wire.TelemetryBatch(nil), rec.pending[i:]...), true
}

func (rec *streamRecord) notify() {
	select {
	case rec.wake <- struct{}{}:
	default:
	}
}
