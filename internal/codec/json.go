package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/free5gc/e2sm-ntn/internal/model"
)

// jsonMessage is the top-level JSON object. Exactly one member is set.
type jsonMessage struct {
	Indication *model.NTNIndicationRecord `json:"indication,omitempty"`
	Control    *jsonControl               `json:"control,omitempty"`
}

type jsonControl struct {
	ActionType  model.ActionType `json:"actionType"`
	UEID        string           `json:"ueId"`
	Parameters  json.RawMessage  `json:"parameters"`
	Priority    int              `json:"priority"`
	TimestampNs int64            `json:"timestampNs"`
}

// jsonCodec is the debug/interop codec. It enforces the same value
// constraints as the PER codec.
type jsonCodec struct {
	metrics CodecMetrics
}

// NewJSONCodec returns the JSON codec.
func NewJSONCodec() Codec {
	return &jsonCodec{}
}

func (codecInstance *jsonCodec) Format() Format { return FormatJSON }

func (codecInstance *jsonCodec) Stats() Stats { return codecInstance.metrics.Snapshot() }

func (codecInstance *jsonCodec) ResetStats() { codecInstance.metrics.Reset() }

func (codecInstance *jsonCodec) Encode(message model.Message) ([]byte, error) {
	start := time.Now()
	data, err := encodeJSON(message)
	codecInstance.metrics.observeEncode(time.Since(start), len(data), err)
	return data, err
}

func (codecInstance *jsonCodec) Decode(data []byte) (model.Message, error) {
	start := time.Now()
	message, err := decodeJSON(data)
	codecInstance.metrics.observeDecode(time.Since(start), len(data), err)
	return message, err
}

func encodeJSON(message model.Message) ([]byte, error) {
	var wire jsonMessage
	switch record := message.(type) {
	case *model.NTNIndicationRecord:
		if record == nil {
			return nil, &model.EncodingError{Field: "indication", Reason: "nil record"}
		}
		if err := walkIndication(checkVisitor{}, record.Clone()); err != nil {
			return nil, encodingError(err)
		}
		wire.Indication = record
	case *model.NTNControlRecord:
		if record == nil {
			return nil, &model.EncodingError{Field: "control", Reason: "nil record"}
		}
		copyRecord := *record
		if err := walkControl(checkVisitor{}, &copyRecord); err != nil {
			return nil, encodingError(err)
		}
		if record.Parameters == nil {
			return nil, &model.EncodingError{Field: "control.parameters", Reason: "missing"}
		}
		parameters, err := json.Marshal(record.Parameters)
		if err != nil {
			return nil, &model.EncodingError{Field: "control.parameters", Reason: err.Error()}
		}
		wire.Control = &jsonControl{
			ActionType:  record.ActionType,
			UEID:        record.UEID,
			Parameters:  parameters,
			Priority:    record.Priority,
			TimestampNs: record.TimestampNs,
		}
	default:
		return nil, &model.EncodingError{Field: "message", Reason: fmt.Sprintf("unsupported message %T", message)}
	}

	data, err := json.Marshal(&wire)
	if err != nil {
		return nil, &model.EncodingError{Field: "message", Reason: err.Error()}
	}
	return data, nil
}

func strictUnmarshal(data []byte, target interface{}) error {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		return err
	}
	if decoder.More() {
		return fmt.Errorf("trailing data after JSON value")
	}
	return nil
}

func decodeJSON(data []byte) (model.Message, error) {
	var wire jsonMessage
	if err := strictUnmarshal(data, &wire); err != nil {
		return nil, &model.DecodingError{Field: "message", Reason: "invalid JSON", Cause: err}
	}

	switch {
	case wire.Indication != nil && wire.Control == nil:
		if err := walkIndication(checkVisitor{}, wire.Indication); err != nil {
			return nil, decodingError(err)
		}
		return wire.Indication, nil
	case wire.Control != nil && wire.Indication == nil:
		return decodeJSONControl(wire.Control)
	default:
		return nil, &model.DecodingError{Field: "message", Reason: "exactly one of indication or control required"}
	}
}

func decodeJSONControl(wire *jsonControl) (model.Message, error) {
	record := &model.NTNControlRecord{
		ActionType:  wire.ActionType,
		UEID:        wire.UEID,
		Priority:    wire.Priority,
		TimestampNs: wire.TimestampNs,
	}
	if len(wire.Parameters) == 0 || bytes.Equal(wire.Parameters, []byte("null")) {
		return nil, &model.DecodingError{Field: "control.parameters", Reason: "missing"}
	}

	var err error
	switch wire.ActionType {
	case model.ActionSetPower:
		var parameters model.SetPowerParams
		err = strictUnmarshal(wire.Parameters, &parameters)
		record.Parameters = parameters
	case model.ActionTriggerHandover:
		var parameters model.TriggerHandoverParams
		err = strictUnmarshal(wire.Parameters, &parameters)
		record.Parameters = parameters
	case model.ActionCompensateDoppler:
		var parameters model.CompensateDopplerParams
		err = strictUnmarshal(wire.Parameters, &parameters)
		record.Parameters = parameters
	case model.ActionSwitchBeam:
		var parameters model.SwitchBeamParams
		err = strictUnmarshal(wire.Parameters, &parameters)
		record.Parameters = parameters
	default:
		return nil, &model.DecodingError{Field: "control.actionType", Reason: "unsupported action " + wire.ActionType.String()}
	}
	if err != nil {
		return nil, &model.DecodingError{Field: "control.parameters", Reason: "invalid parameters", Cause: err}
	}

	if err := walkControl(checkVisitor{}, record); err != nil {
		return nil, decodingError(err)
	}
	return record, nil
}
