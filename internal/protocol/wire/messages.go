package wire

import (
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/satlink/internal/protocol/schema"
)

// Message is any value that can travel in one frame.
type Message interface {
	MessageType() uint32
}

// Request is the client-to-server half of the duplex stream.
type Request interface {
	Message
	Entity() string
	request()
}

// Response is the server-to-client half of the duplex stream.
type Response interface {
	Message
	response()
}

// PlanStatus is the lifecycle state of a scheduled plan.
type PlanStatus uint32

const (
	PlanUnknown   PlanStatus = 0
	PlanPreparing PlanStatus = 1
	PlanExecuting PlanStatus = 2
	PlanCompleted PlanStatus = 3
	PlanFailed    PlanStatus = 4
	PlanCanceled  PlanStatus = 5
)

func (s PlanStatus) String() string {
	switch s {
	case PlanUnknown:
		return "UNKNOWN"
	case PlanPreparing:
		return "PREPARING"
	case PlanExecuting:
		return "EXECUTING"
	case PlanCompleted:
		return "COMPLETED"
	case PlanFailed:
		return "FAILED"
	case PlanCanceled:
		return "CANCELED"
	default:
		return fmt.Sprintf("STATUS(%d)", uint32(s))
	}
}

// Setup opens or resumes a stream. StreamID and ResumeAckID form the resume
// token and are empty on a first connect.
type Setup struct {
	EntityID          string
	ChannelSetID      string
	EnableEvents      bool
	EnableFlowControl bool
	AcceptedFraming   []string
	StreamID          string
	ResumeAckID       *uint64
}

// TelemetryAck confirms receipt of the batch carrying AckID.
type TelemetryAck struct {
	EntityID string
	AckID    uint64
}

// Command carries opaque uplink payloads for one channel.
type Command struct {
	EntityID  string
	ChannelID string
	Payloads  [][]byte
}

// TelemetryItem is one received downlink frame with its receive timestamps.
type TelemetryItem struct {
	Data          []byte
	FirstByteTime time.Time
	LastByteTime  time.Time
	Framing       string
}

// TelemetryBatch is an ordered group of items sharing one ack id.
type TelemetryBatch struct {
	EntityID string
	StreamID string
	PlanID   string
	AckID    uint64
	Items    []TelemetryItem
}

// IsEndMarker reports whether the batch is the end-of-stream sentinel: exactly
// one item whose payload is empty.
func (b TelemetryBatch) IsEndMarker() bool {
	return len(b.Items) == 1 && len(b.Items[0].Data) == 0
}

// LifecycleEvent reports plan progress. Status is nil when the event did not
// carry a status or the status could not be decoded.
type LifecycleEvent struct {
	EntityID   string
	StreamID   string
	PlanID     string
	Status     *PlanStatus
	Monitoring []byte
}

// Plan is one scheduled contact between an entity and a ground station.
type Plan struct {
	ID              string
	EntityID        string
	GroundStationID string
	AOS             time.Time
	LOS             time.Time
	Status          string
}

// MaxListWindow is the widest AOS window a plan listing may ask for.
const MaxListWindow = 31 * 24 * time.Hour

type ListPlans struct {
	EntityID  string
	AOSAfter  time.Time
	AOSBefore time.Time
}

// Validate checks the request the way a station would, so clients can fail
// without a round trip. Errors carry InvalidArgument.
func (r ListPlans) Validate() error {
	switch {
	case strings.TrimSpace(r.EntityID) == "":
		return Errorf(InvalidArgument, "entity_id not set")
	case r.AOSAfter.IsZero():
		return Errorf(InvalidArgument, "aos_after not set")
	case r.AOSBefore.IsZero():
		return Errorf(InvalidArgument, "aos_before not set")
	case r.AOSBefore.Before(r.AOSAfter):
		return Errorf(InvalidArgument, "aos_before precedes aos_after")
	case r.AOSBefore.Sub(r.AOSAfter) > MaxListWindow:
		return Errorf(InvalidArgument, "duration between aos_after and aos_before > 31 days")
	}
	return nil
}

type ListPlansResult struct {
	Plans []Plan
}

type ReservePlan struct {
	EntityID        string
	GroundStationID string
	AOS             time.Time
	LOS             time.Time
}

type ReservePlanResult struct {
	Plan Plan
}

type CancelPlan struct {
	PlanID string
}

type CancelPlanResult struct {
	PlanID string
}

func (Setup) MessageType() uint32             { return schema.MsgSetup }
func (TelemetryAck) MessageType() uint32      { return schema.MsgTelemetryAck }
func (Command) MessageType() uint32           { return schema.MsgCommand }
func (TelemetryBatch) MessageType() uint32    { return schema.MsgTelemetryBatch }
func (LifecycleEvent) MessageType() uint32    { return schema.MsgLifecycleEvent }
func (ListPlans) MessageType() uint32         { return schema.MsgListPlans }
func (ListPlansResult) MessageType() uint32   { return schema.MsgListPlansResult }
func (ReservePlan) MessageType() uint32       { return schema.MsgReservePlan }
func (ReservePlanResult) MessageType() uint32 { return schema.MsgReservePlanResult }
func (CancelPlan) MessageType() uint32        { return schema.MsgCancelPlan }
func (CancelPlanResult) MessageType() uint32  { return schema.MsgCancelPlanResult }

func (m Setup) Entity() string        { return m.EntityID }
func (m TelemetryAck) Entity() string { return m.EntityID }
func (m Command) Entity() string      { return m.EntityID }

func (Setup) request()        {}
func (TelemetryAck) request() {}
func (Command) request()      {}

func (TelemetryBatch) response() {}
func (LifecycleEvent) response() {}
