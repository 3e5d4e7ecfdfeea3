package stream

import (
	"fmt"
	"sync/atomic"

	"github.com/danmuck/satlink/internal/protocol/wire"
)

// Stats are the progress counters for one session.
type Stats struct {
	messagesSent     atomic.Uint64
	messagesReceived atomic.Uint64
	acksSent         atomic.Uint64
	telemetryItems   atomic.Uint64
	bytesReceived    atomic.Uint64
	outOfOrderItems  atomic.Uint64
	reconnects       atomic.Uint64
	duplicateBatches atomic.Uint64
	planStatus       atomic.Uint32
	planKnown        atomic.Bool
}

type Snapshot struct {
	MessagesSent     uint64
	MessagesReceived uint64
	AcksSent         uint64
	TelemetryItems   uint64
	BytesReceived    uint64
	OutOfOrderItems  uint64
	Reconnects       uint64
	DuplicateBatches uint64
	PlanStatus       wire.PlanStatus
	PlanKnown        bool
}

func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		MessagesSent:     s.messagesSent.Load(),
		MessagesReceived: s.messagesReceived.Load(),
		AcksSent:         s.acksSent.Load(),
		TelemetryItems:   s.telemetryItems.Load(),
		BytesReceived:    s.bytesReceived.Load(),
		OutOfOrderItems:  s.outOfOrderItems.Load(),
		Reconnects:       s.reconnects.Load(),
		DuplicateBatches: s.duplicateBatches.Load(),
		PlanStatus:       wire.PlanStatus(s.planStatus.Load()),
		PlanKnown:        s.planKnown.Load(),
	}
}

func (s *Stats) setPlanStatus(status wire.PlanStatus) {
	s.planStatus.Store(uint32(status))
	s.planKnown.Store(true)
}

// String renders the one-line progress report.
func (s Snapshot) String() string {
	plan := "-"
	if s.PlanKnown {
		plan = s.PlanStatus.String()
	}
	return fmt.Sprintf(
		"sent=%d received=%d acks=%d items=%d bytes=%d out_of_order=%d reconnects=%d plan=%s",
		s.MessagesSent,
		s.MessagesReceived,
		s.AcksSent,
		s.TelemetryItems,
		s.BytesReceived,
		s.OutOfOrderItems,
		s.Reconnects,
		plan,
	)
}
