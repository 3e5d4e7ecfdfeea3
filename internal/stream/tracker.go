package stream

import (
	"sync"

	"github.com/rs/zerolog"
)

// AckState is the resume token. SessionID is empty until the server assigns
// one; LastAckID is meaningful only when HasAck is set.
type AckState struct {
	SessionID string
	LastAckID uint64
	HasAck    bool
}

// ResumeAckID returns the last ack id as an optional value for the setup
// request.
func (s AckState) ResumeAckID() *uint64 {
	if !s.HasAck {
		return nil
	}
	id := s.LastAckID
	return &id
}

// Tracker owns AckState. The classifier is the only writer; any goroutine may
// read.
type Tracker struct {
	mu    sync.RWMutex
	state AckState
	log   zerolog.Logger
}

func NewTracker(log zerolog.Logger) *Tracker {
	return &Tracker{log: log}
}

func (t *Tracker) Current() AckState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// ObserveSession stores sessionID if none is stored yet. It reports whether
// the id was adopted.
func (t *Tracker) ObserveSession(sessionID string) bool {
	if sessionID == "" {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.observeSessionLocked(sessionID)
}

func (t *Tracker) observeSessionLocked(sessionID string) bool {
	if t.state.SessionID == "" {
		t.state.SessionID = sessionID
		return true
	}
	if t.state.SessionID != sessionID {
		t.log.Warn().
			Str("stored", t.state.SessionID).
			Str("received", sessionID).
			Msg("stream.tracker session id changed; keeping first")
	}
	return false
}

// RecordAck advances LastAckID. An older ack id is logged and ignored so a
// late callback can never move the resume point backward. It reports whether
// the state advanced.
func (t *Tracker) RecordAck(sessionID string, ackID uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if sessionID != "" {
		t.observeSessionLocked(sessionID)
	}
	if t.state.HasAck {
		if ackID < t.state.LastAckID {
			t.log.Warn().
				Uint64("last_ack_id", t.state.LastAckID).
				Uint64("ack_id", ackID).
				Msg("stream.tracker out-of-order ack ignored")
			return false
		}
		if ackID == t.state.LastAckID {
			return false
		}
	}
	t.state.LastAckID = ackID
	t.state.HasAck = true
	return true
}
