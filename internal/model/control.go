package model

import "fmt"

// ActionType enumerates the control actions an xApp may request.
type ActionType uint8

const (
	ActionSetPower ActionType = iota
	ActionTriggerHandover
	ActionCompensateDoppler
	ActionSwitchBeam

	actionTypeCount
)

var actionTypeNames = [...]string{
	"SET_POWER",
	"TRIGGER_HANDOVER",
	"COMPENSATE_DOPPLER",
	"SWITCH_BEAM",
}

// ActionTypeCount is the number of root ENUMERATED values.
const ActionTypeCount = int(actionTypeCount)

func (actionType ActionType) String() string {
	if actionType < actionTypeCount {
		return actionTypeNames[actionType]
	}
	return fmt.Sprintf("ActionType(%d)", uint8(actionType))
}

// Valid reports whether the action type is one of the root values.
func (actionType ActionType) Valid() bool {
	return actionType < actionTypeCount
}

// MarshalText implements encoding.TextMarshaler.
func (actionType ActionType) MarshalText() ([]byte, error) {
	if !actionType.Valid() {
		return nil, fmt.Errorf("invalid action type %d", uint8(actionType))
	}
	return []byte(actionTypeNames[actionType]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (actionType *ActionType) UnmarshalText(text []byte) error {
	parsed, err := ParseActionType(string(text))
	if err != nil {
		return err
	}
	*actionType = parsed
	return nil
}

// ParseActionType parses the wire name of an action type.
func ParseActionType(value string) (ActionType, error) {
	for index, name := range actionTypeNames {
		if name == value {
			return ActionType(index), nil
		}
	}
	return 0, fmt.Errorf("unknown action type %q", value)
}

// ControlParameters is the action-specific payload of a control record.
// Every implementation reports the action type it belongs to, so a record
// whose ActionType and Parameters disagree can be rejected.
type ControlParameters interface {
	ActionType() ActionType
}

// SetPowerParams requests a new UE transmit power.
type SetPowerParams struct {
	TxPowerDbm     float64 `json:"txPowerDbm"`
	RampDurationMs *uint32 `json:"rampDurationMs,omitempty"`
}

// ActionType implements ControlParameters.
func (SetPowerParams) ActionType() ActionType { return ActionSetPower }

// TriggerHandoverParams requests a handover to another satellite/beam.
type TriggerHandoverParams struct {
	TargetSatelliteID string  `json:"targetSatelliteId"`
	TargetBeamID      int     `json:"targetBeamId"`
	ExecutionDelayMs  *uint32 `json:"executionDelayMs,omitempty"`
}

// ActionType implements ControlParameters.
func (TriggerHandoverParams) ActionType() ActionType { return ActionTriggerHandover }

// CompensateDopplerParams requests Doppler pre-compensation at the UE.
type CompensateDopplerParams struct {
	FrequencyOffsetHz float64  `json:"frequencyOffsetHz"`
	DopplerRateHzS    *float64 `json:"dopplerRateHzS,omitempty"`
}

// ActionType implements ControlParameters.
func (CompensateDopplerParams) ActionType() ActionType { return ActionCompensateDoppler }

// SwitchBeamParams requests an intra-satellite beam switch.
type SwitchBeamParams struct {
	TargetBeamID int `json:"targetBeamId"`
}

// ActionType implements ControlParameters.
func (SwitchBeamParams) ActionType() ActionType { return ActionSwitchBeam }

// NTNControlRecord is a control request issued by an xApp. Parameters holds
// one of SetPowerParams, TriggerHandoverParams, CompensateDopplerParams or
// SwitchBeamParams (by value).
type NTNControlRecord struct {
	ActionType  ActionType
	UEID        string
	Parameters  ControlParameters
	Priority    int
	TimestampNs int64
}

// MessageKind implements Message.
func (*NTNControlRecord) MessageKind() MessageKind { return MessageControl }
