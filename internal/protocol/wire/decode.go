package wire

import (
	"errors"
	"fmt"
	"time"

	"github.com/danmuck/satlink/internal/protocol/schema"
	"github.com/danmuck/satlink/internal/protocol/tlv"
)

// ErrMalformed wraps every decode failure so receivers can tell a bad peer
// from a broken connection.
var ErrMalformed = errors.New("wire: malformed message")

func malformed(err error) error {
	return fmt.Errorf("%w: %w", ErrMalformed, err)
}

// DecodeMessage decodes a validated payload of the given message type.
func DecodeMessage(messageType uint32, payload []byte) (Message, error) {
	fields, err := tlv.DecodeFields(payload)
	if err != nil {
		return nil, malformed(err)
	}
	if err := schema.Validate(messageType, fields); err != nil {
		return nil, malformed(err)
	}
	m, err := decodeFields(messageType, fields)
	if err != nil {
		return nil, malformed(err)
	}
	return m, nil
}

func decodeFields(messageType uint32, fields []tlv.Field) (Message, error) {
	switch messageType {
	case schema.MsgSetup:
		return decodeSetup(fields)
	case schema.MsgTelemetryAck:
		ackID, err := requiredU64(fields, schema.FieldAckID)
		if err != nil {
			return nil, err
		}
		return TelemetryAck{EntityID: optionalString(fields, schema.FieldEntityID), AckID: ackID}, nil
	case schema.MsgCommand:
		cmd := Command{
			EntityID:  optionalString(fields, schema.FieldEntityID),
			ChannelID: optionalString(fields, schema.FieldChannelID),
		}
		for _, f := range tlv.GetFields(fields, schema.FieldCommandPayload) {
			cmd.Payloads = append(cmd.Payloads, f.Value)
		}
		return cmd, nil
	case schema.MsgTelemetryBatch:
		return decodeBatch(fields)
	case schema.MsgLifecycleEvent:
		return decodeLifecycle(fields), nil
	case schema.MsgListPlans:
		after, err := optionalTime(fields, schema.FieldAOSAfter)
		if err != nil {
			return nil, err
		}
		before, err := optionalTime(fields, schema.FieldAOSBefore)
		if err != nil {
			return nil, err
		}
		return ListPlans{
			EntityID:  optionalString(fields, schema.FieldEntityID),
			AOSAfter:  after,
			AOSBefore: before,
		}, nil
	case schema.MsgListPlansResult:
		var res ListPlansResult
		for _, f := range tlv.GetFields(fields, schema.FieldPlan) {
			p, err := decodePlan(f)
			if err != nil {
				return nil, err
			}
			res.Plans = append(res.Plans, p)
		}
		return res, nil
	case schema.MsgReservePlan:
		aos, err := optionalTime(fields, schema.FieldAOS)
		if err != nil {
			return nil, err
		}
		los, err := optionalTime(fields, schema.FieldLOS)
		if err != nil {
			return nil, err
		}
		return ReservePlan{
			EntityID:        optionalString(fields, schema.FieldEntityID),
			GroundStationID: optionalString(fields, schema.FieldGroundStationID),
			AOS:             aos,
			LOS:             los,
		}, nil
	case schema.MsgReservePlanResult:
		f, _ := tlv.GetField(fields, schema.FieldPlan)
		p, err := decodePlan(f)
		if err != nil {
			return nil, err
		}
		return ReservePlanResult{Plan: p}, nil
	case schema.MsgCancelPlan:
		return CancelPlan{PlanID: optionalString(fields, schema.FieldPlanID)}, nil
	case schema.MsgCancelPlanResult:
		return CancelPlanResult{PlanID: optionalString(fields, schema.FieldPlanID)}, nil
	default:
		return nil, fmt.Errorf("no decoder for message_type=%d", messageType)
	}
}

func decodeSetup(fields []tlv.Field) (Setup, error) {
	s := Setup{
		EntityID:     optionalString(fields, schema.FieldEntityID),
		ChannelSetID: optionalString(fields, schema.FieldChannelSetID),
		StreamID:     optionalString(fields, schema.FieldStreamID),
	}
	var err error
	if s.EnableEvents, err = optionalBool(fields, schema.FieldEnableEvents); err != nil {
		return Setup{}, err
	}
	if s.EnableFlowControl, err = optionalBool(fields, schema.FieldEnableFlowControl); err != nil {
		return Setup{}, err
	}
	for _, f := range tlv.GetFields(fields, schema.FieldAcceptedFraming) {
		s.AcceptedFraming = append(s.AcceptedFraming, string(f.Value))
	}
	if f, ok := tlv.GetField(fields, schema.FieldResumeAckID); ok {
		v, err := tlv.U64FromBytes(f.Value)
		if err != nil {
			return Setup{}, err
		}
		s.ResumeAckID = &v
	}
	return s, nil
}

func decodeBatch(fields []tlv.Field) (TelemetryBatch, error) {
	ackID, err := requiredU64(fields, schema.FieldAckID)
	if err != nil {
		return TelemetryBatch{}, err
	}
	b := TelemetryBatch{
		EntityID: optionalString(fields, schema.FieldEntityID),
		StreamID: optionalString(fields, schema.FieldStreamID),
		PlanID:   optionalString(fields, schema.FieldPlanID),
		AckID:    ackID,
	}
	for _, f := range tlv.GetFields(fields, schema.FieldTelemetryItem) {
		item, err := decodeItem(f)
		if err != nil {
			return TelemetryBatch{}, err
		}
		b.Items = append(b.Items, item)
	}
	return b, nil
}

func decodeItem(f tlv.Field) (TelemetryItem, error) {
	if err := tlv.MustType(f, tlv.TypeBytes); err != nil {
		return TelemetryItem{}, err
	}
	nested, err := tlv.DecodeFields(f.Value)
	if err != nil {
		return TelemetryItem{}, err
	}
	data, ok := tlv.GetField(nested, schema.ItemData)
	if !ok {
		return TelemetryItem{}, fmt.Errorf("telemetry item missing data")
	}
	item := TelemetryItem{
		Data:    data.Value,
		Framing: optionalString(nested, schema.ItemFraming),
	}
	if item.FirstByteTime, err = optionalTime(nested, schema.ItemFirstByteTime); err != nil {
		return TelemetryItem{}, err
	}
	if item.LastByteTime, err = optionalTime(nested, schema.ItemLastByteTime); err != nil {
		return TelemetryItem{}, err
	}
	return item, nil
}

// decodeLifecycle never fails on the status field: a malformed status leaves
// Status nil so the observer keeps its last known-good value.
func decodeLifecycle(fields []tlv.Field) LifecycleEvent {
	ev := LifecycleEvent{
		EntityID: optionalString(fields, schema.FieldEntityID),
		StreamID: optionalString(fields, schema.FieldStreamID),
		PlanID:   optionalString(fields, schema.FieldPlanID),
	}
	if f, ok := tlv.GetField(fields, schema.FieldPlanStatus); ok && f.Type == tlv.TypeU32 {
		if raw, err := tlv.U32FromBytes(f.Value); err == nil {
			status := PlanStatus(raw)
			ev.Status = &status
		}
	}
	if f, ok := tlv.GetField(fields, schema.FieldMonitoring); ok {
		ev.Monitoring = f.Value
	}
	return ev
}

func decodePlan(f tlv.Field) (Plan, error) {
	if err := tlv.MustType(f, tlv.TypeBytes); err != nil {
		return Plan{}, err
	}
	nested, err := tlv.DecodeFields(f.Value)
	if err != nil {
		return Plan{}, err
	}
	p := Plan{
		ID:              optionalString(nested, schema.PlanID),
		EntityID:        optionalString(nested, schema.PlanEntityID),
		GroundStationID: optionalString(nested, schema.PlanGroundStationID),
		Status:          optionalString(nested, schema.PlanStatus),
	}
	if p.AOS, err = optionalTime(nested, schema.PlanAOS); err != nil {
		return Plan{}, err
	}
	if p.LOS, err = optionalTime(nested, schema.PlanLOS); err != nil {
		return Plan{}, err
	}
	return p, nil
}

func decodeError(payload []byte) (*StatusError, error) {
	fields, err := tlv.DecodeFields(payload)
	if err != nil {
		return nil, malformed(err)
	}
	if err := schema.Validate(schema.MsgError, fields); err != nil {
		return nil, malformed(err)
	}
	code, err := requiredU32(fields, schema.FieldStatusCode)
	if err != nil {
		return nil, malformed(err)
	}
	return &StatusError{Code: Code(code), Message: optionalString(fields, schema.FieldStatusMessage)}, nil
}

func optionalString(fields []tlv.Field, id uint16) string {
	f, ok := tlv.GetField(fields, id)
	if !ok {
		return ""
	}
	return string(f.Value)
}

func optionalBool(fields []tlv.Field, id uint16) (bool, error) {
	f, ok := tlv.GetField(fields, id)
	if !ok {
		return false, nil
	}
	return tlv.BoolFromBytes(f.Value)
}

func optionalTime(fields []tlv.Field, id uint16) (time.Time, error) {
	f, ok := tlv.GetField(fields, id)
	if !ok {
		return time.Time{}, nil
	}
	return tlv.TimeFromBytes(f.Value)
}

func requiredU64(fields []tlv.Field, id uint16) (uint64, error) {
	f, _ := tlv.GetField(fields, id)
	return tlv.U64FromBytes(f.Value)
}

func requiredU32(fields []tlv.Field, id uint16) (uint32, error) {
	f, _ := tlv.GetField(fields, id)
	return tlv.U32FromBytes(f.Value)
}
