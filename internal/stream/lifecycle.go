package stream

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/danmuck/satlink/internal/protocol/wire"
)

// LifecycleObserver tracks the last known-good plan status.
type LifecycleObserver struct {
	mu     sync.RWMutex
	status wire.PlanStatus
	known  bool
	log    zerolog.Logger
}

func NewLifecycleObserver(log zerolog.Logger) *LifecycleObserver {
	return &LifecycleObserver{log: log}
}

// Observe applies one lifecycle event and reports whether the plan failed.
// Events without a status, with UNKNOWN, or with an unrecognized value leave
// the stored status untouched.
func (o *LifecycleObserver) Observe(ev wire.LifecycleEvent) (wire.PlanStatus, bool) {
	o.logMonitoring(ev)

	if ev.Status == nil {
		st, _ := o.Status()
		return st, false
	}
	status := *ev.Status
	switch status {
	case wire.PlanPreparing, wire.PlanExecuting, wire.PlanCompleted, wire.PlanFailed, wire.PlanCanceled:
	default:
		o.log.Debug().Stringer("status", status).Str("plan_id", ev.PlanID).Msg("stream.lifecycle status ignored")
		st, _ := o.Status()
		return st, false
	}

	o.mu.Lock()
	o.status = status
	o.known = true
	o.mu.Unlock()

	o.log.Info().Stringer("status", status).Str("plan_id", ev.PlanID).Msg("stream.lifecycle plan status")
	return status, status == wire.PlanFailed || status == wire.PlanCanceled
}

// Status returns the last known-good status. The second result is false until
// a valid status has been seen.
func (o *LifecycleObserver) Status() (wire.PlanStatus, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.status, o.known
}

func (o *LifecycleObserver) logMonitoring(ev wire.LifecycleEvent) {
	if len(ev.Monitoring) == 0 {
		return
	}
	m, err := wire.DecodeMonitoring(ev.Monitoring)
	if err != nil {
		o.log.Debug().Err(err).Msg("stream.lifecycle monitoring undecodable")
		return
	}
	o.log.Debug().
		Str("ground_station_id", m.GroundStationID).
		Float64("azimuth_deg", m.AzimuthDeg).
		Float64("elevation_deg", m.ElevationDeg).
		Float64("signal_dbm", m.SignalDBm).
		Bool("locked", m.Locked).
		Msg("stream.lifecycle monitoring")
}
