package wire

import (
	"fmt"

	"github.com/danmuck/satlink/internal/protocol/schema"
	"github.com/danmuck/satlink/internal/protocol/tlv"
)

// EncodeFields lowers a message to its TLV fields and validates them against
// the schema before they are framed.
func EncodeFields(m Message) ([]tlv.Field, error) {
	var fields []tlv.Field
	switch v := m.(type) {
	case Setup:
		fields = encodeSetup(v)
	case TelemetryAck:
		fields = []tlv.Field{
			tlv.String(schema.FieldEntityID, v.EntityID),
			tlv.U64(schema.FieldAckID, v.AckID),
		}
	case Command:
		fields = encodeCommand(v)
	case TelemetryBatch:
		fields = encodeBatch(v)
	case LifecycleEvent:
		fields = encodeLifecycle(v)
	case ListPlans:
		fields = []tlv.Field{
			tlv.String(schema.FieldEntityID, v.EntityID),
		}
		if !v.AOSAfter.IsZero() {
			fields = append(fields, tlv.Time(schema.FieldAOSAfter, v.AOSAfter))
		}
		if !v.AOSBefore.IsZero() {
			fields = append(fields, tlv.Time(schema.FieldAOSBefore, v.AOSBefore))
		}
	case ListPlansResult:
		for _, p := range v.Plans {
			fields = append(fields, tlv.Bytes(schema.FieldPlan, encodePlan(p)))
		}
	case ReservePlan:
		fields = []tlv.Field{
			tlv.String(schema.FieldEntityID, v.EntityID),
			tlv.String(schema.FieldGroundStationID, v.GroundStationID),
			tlv.Time(schema.FieldAOS, v.AOS),
			tlv.Time(schema.FieldLOS, v.LOS),
		}
	case ReservePlanResult:
		fields = []tlv.Field{tlv.Bytes(schema.FieldPlan, encodePlan(v.Plan))}
	case CancelPlan:
		fields = []tlv.Field{tlv.String(schema.FieldPlanID, v.PlanID)}
	case CancelPlanResult:
		fields = []tlv.Field{tlv.String(schema.FieldPlanID, v.PlanID)}
	default:
		return nil, fmt.Errorf("wire: cannot encode %T", m)
	}
	if err := schema.Validate(m.MessageType(), fields); err != nil {
		return nil, err
	}
	return fields, nil
}

func encodeSetup(v Setup) []tlv.Field {
	fields := []tlv.Field{
		tlv.String(schema.FieldEntityID, v.EntityID),
		tlv.String(schema.FieldChannelSetID, v.ChannelSetID),
		tlv.Bool(schema.FieldEnableEvents, v.EnableEvents),
		tlv.Bool(schema.FieldEnableFlowControl, v.EnableFlowControl),
	}
	for _, framing := range v.AcceptedFraming {
		fields = append(fields, tlv.String(schema.FieldAcceptedFraming, framing))
	}
	if v.StreamID != "" {
		fields = append(fields, tlv.String(schema.FieldStreamID, v.StreamID))
	}
	if v.ResumeAckID != nil {
		fields = append(fields, tlv.U64(schema.FieldResumeAckID, *v.ResumeAckID))
	}
	return fields
}

func encodeCommand(v Command) []tlv.Field {
	fields := []tlv.Field{tlv.String(schema.FieldEntityID, v.EntityID)}
	if v.ChannelID != "" {
		fields = append(fields, tlv.String(schema.FieldChannelID, v.ChannelID))
	}
	for _, p := range v.Payloads {
		fields = append(fields, tlv.Bytes(schema.FieldCommandPayload, p))
	}
	return fields
}

func encodeBatch(v TelemetryBatch) []tlv.Field {
	fields := []tlv.Field{
		tlv.String(schema.FieldEntityID, v.EntityID),
		tlv.String(schema.FieldStreamID, v.StreamID),
		tlv.U64(schema.FieldAckID, v.AckID),
	}
	if v.PlanID != "" {
		fields = append(fields, tlv.String(schema.FieldPlanID, v.PlanID))
	}
	for _, item := range v.Items {
		fields = append(fields, tlv.Bytes(schema.FieldTelemetryItem, encodeItem(item)))
	}
	return fields
}

func encodeItem(item TelemetryItem) []byte {
	nested := []tlv.Field{tlv.Bytes(schema.ItemData, item.Data)}
	if !item.FirstByteTime.IsZero() {
		nested = append(nested, tlv.Time(schema.ItemFirstByteTime, item.FirstByteTime))
	}
	if !item.LastByteTime.IsZero() {
		nested = append(nested, tlv.Time(schema.ItemLastByteTime, item.LastByteTime))
	}
	if item.Framing != "" {
		nested = append(nested, tlv.String(schema.ItemFraming, item.Framing))
	}
	return tlv.EncodeFields(nested)
}

func encodeLifecycle(v LifecycleEvent) []tlv.Field {
	fields := []tlv.Field{
		tlv.String(schema.FieldEntityID, v.EntityID),
		tlv.String(schema.FieldStreamID, v.StreamID),
	}
	if v.PlanID != "" {
		fields = append(fields, tlv.String(schema.FieldPlanID, v.PlanID))
	}
	if v.Status != nil {
		fields = append(fields, tlv.U32(schema.FieldPlanStatus, uint32(*v.Status)))
	}
	if len(v.Monitoring) > 0 {
		fields = append(fields, tlv.Bytes(schema.FieldMonitoring, v.Monitoring))
	}
	return fields
}

func encodePlan(p Plan) []byte {
	nested := []tlv.Field{
		tlv.String(schema.PlanID, p.ID),
		tlv.String(schema.PlanEntityID, p.EntityID),
		tlv.String(schema.PlanGroundStationID, p.GroundStationID),
		tlv.Time(schema.PlanAOS, p.AOS),
		tlv.Time(schema.PlanLOS, p.LOS),
	}
	if p.Status != "" {
		nested = append(nested, tlv.String(schema.PlanStatus, p.Status))
	}
	return tlv.EncodeFields(nested)
}

func encodeError(se *StatusError) []tlv.Field {
	return []tlv.Field{
		tlv.U32(schema.FieldStatusCode, uint32(se.Code)),
		tlv.String(schema.FieldStatusMessage, se.Message),
	}
}
