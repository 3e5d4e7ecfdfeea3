package schema

import (
	"fmt"

	"github.com/danmuck/satlink/internal/logging"
	"github.com/danmuck/satlink/internal/protocol/tlv"
)

// Message type IDs carried in the frame header.
const (
	MsgSetup          uint32 = 1
	MsgTelemetryAck   uint32 = 2
	MsgCommand        uint32 = 3
	MsgTelemetryBatch uint32 = 4
	MsgLifecycleEvent uint32 = 5
	MsgError          uint32 = 6

	MsgListPlans         uint32 = 10
	MsgListPlansResult   uint32 = 11
	MsgReservePlan       uint32 = 12
	MsgReservePlanResult uint32 = 13
	MsgCancelPlan        uint32 = 14
	MsgCancelPlanResult  uint32 = 15
)

// Envelope fields shared by stream messages.
const (
	FieldEntityID uint16 = 1
	FieldStreamID uint16 = 2
	FieldAckID    uint16 = 3
	FieldPlanID   uint16 = 4
)

// Setup fields.
const (
	FieldChannelSetID      uint16 = 100
	FieldEnableEvents      uint16 = 101
	FieldEnableFlowControl uint16 = 102
	FieldResumeAckID       uint16 = 103
	FieldAcceptedFraming   uint16 = 104 // repeated
)

// Command fields.
const (
	FieldCommandPayload uint16 = 200 // repeated
	FieldChannelID      uint16 = 201
)

// Telemetry fields. FieldTelemetryItem values are nested TLV field lists
// using the Item* ids below.
const (
	FieldTelemetryItem uint16 = 300 // repeated

	ItemData          uint16 = 1
	ItemFirstByteTime uint16 = 2
	ItemLastByteTime  uint16 = 3
	ItemFraming       uint16 = 4
)

// Lifecycle event fields.
const (
	FieldPlanStatus uint16 = 400
	FieldMonitoring uint16 = 401
)

// Error fields.
const (
	FieldStatusCode    uint16 = 500
	FieldStatusMessage uint16 = 501
)

// Plan fields. FieldPlan values are nested TLV field lists using the Plan*
// ids below.
const (
	FieldAOSAfter        uint16 = 600
	FieldAOSBefore       uint16 = 601
	FieldPlan            uint16 = 602 // repeated
	FieldGroundStationID uint16 = 603
	FieldAOS             uint16 = 604
	FieldLOS             uint16 = 605

	PlanID              uint16 = 1
	PlanEntityID        uint16 = 2
	PlanGroundStationID uint16 = 3
	PlanAOS             uint16 = 4
	PlanLOS             uint16 = 5
	PlanStatus          uint16 = 6
)

type Requirement struct {
	ID   uint16
	Type uint8
}

type ValidationError struct {
	MessageType uint32
	FieldID     uint16
	Reason      string
}

func (e ValidationError) Error() string {
	if e.FieldID == 0 {
		return fmt.Sprintf("schema: message_type=%d: %s", e.MessageType, e.Reason)
	}
	return fmt.Sprintf("schema: message_type=%d field=%d: %s", e.MessageType, e.FieldID, e.Reason)
}

var requirements = map[uint32][]Requirement{
	MsgSetup: {
		{FieldEntityID, tlv.TypeString},
		{FieldChannelSetID, tlv.TypeString},
	},
	MsgTelemetryAck: {
		{FieldEntityID, tlv.TypeString},
		{FieldAckID, tlv.TypeU64},
	},
	MsgCommand: {
		{FieldEntityID, tlv.TypeString},
	},
	MsgTelemetryBatch: {
		{FieldEntityID, tlv.TypeString},
		{FieldStreamID, tlv.TypeString},
		{FieldAckID, tlv.TypeU64},
	},
	MsgLifecycleEvent: {
		{FieldEntityID, tlv.TypeString},
		{FieldStreamID, tlv.TypeString},
	},
	MsgError: {
		{FieldStatusCode, tlv.TypeU32},
		{FieldStatusMessage, tlv.TypeString},
	},
	MsgListPlans: {
		{FieldEntityID, tlv.TypeString},
		{FieldAOSAfter, tlv.TypeTime},
		{FieldAOSBefore, tlv.TypeTime},
	},
	MsgListPlansResult: {},
	MsgReservePlan: {
		{FieldEntityID, tlv.TypeString},
		{FieldGroundStationID, tlv.TypeString},
		{FieldAOS, tlv.TypeTime},
		{FieldLOS, tlv.TypeTime},
	},
	MsgReservePlanResult: {
		{FieldPlan, tlv.TypeBytes},
	},
	MsgCancelPlan: {
		{FieldPlanID, tlv.TypeString},
	},
	MsgCancelPlanResult: {
		{FieldPlanID, tlv.TypeString},
	},
}

// Validate enforces required fields and required field types for a message type.
// Unknown fields are ignored.
func Validate(messageType uint32, fields []tlv.Field) error {
	reqs, ok := requirements[messageType]
	if !ok {
		log := logging.WithComponent("schema")
		log.Debug().Uint32("message_type", messageType).Msg("schema.Validate unknown message_type")
		return ValidationError{MessageType: messageType, Reason: "unknown message_type"}
	}
	for _, req := range reqs {
		f, found := tlv.GetField(fields, req.ID)
		if !found {
			log := logging.WithComponent("schema")
			log.Debug().
				Uint32("message_type", messageType).
				Uint16("field_id", req.ID).
				Msg("schema.Validate missing field")
			return ValidationError{MessageType: messageType, FieldID: req.ID, Reason: "missing required field"}
		}
		if f.Type != req.Type {
			log := logging.WithComponent("schema")
			log.Debug().
				Uint32("message_type", messageType).
				Uint16("field_id", req.ID).
				Uint8("got", f.Type).
				Uint8("want", req.Type).
				Msg("schema.Validate type mismatch")
			return ValidationError{MessageType: messageType, FieldID: req.ID, Reason: "type mismatch"}
		}
	}
	return nil
}

// Name returns a stable, human-readable message type name for logs.
func Name(messageType uint32) string {
	switch messageType {
	case MsgSetup:
		return "setup"
	case MsgTelemetryAck:
		return "telemetry.ack"
	case MsgCommand:
		return "command"
	case MsgTelemetryBatch:
		return "telemetry.batch"
	case MsgLifecycleEvent:
		return "lifecycle.event"
	case MsgError:
		return "error"
	case MsgListPlans:
		return "plans.list"
	case MsgListPlansResult:
		return "plans.list.result"
	case MsgReservePlan:
		return "plans.reserve"
	case MsgReservePlanResult:
		return "plans.reserve.result"
	case MsgCancelPlan:
		return "plans.cancel"
	case MsgCancelPlanResult:
		return "plans.cancel.result"
	default:
		return fmt.Sprintf("unknown(%d)", messageType)
	}
}
