package codec

import (
	"fmt"

	"github.com/free5gc/e2sm-ntn/internal/model"
)

// fieldError is the direction-neutral failure produced while walking the
// schema. Encoders turn it into model.EncodingError and decoders into
// model.DecodingError.
type fieldError struct {
	path   string
	reason string
	cause  error
}

func (walkError *fieldError) Error() string {
	return fmt.Sprintf("%s: %s", walkError.path, walkError.reason)
}

func newFieldError(path, reason string, cause error) *fieldError {
	return &fieldError{path: path, reason: reason, cause: cause}
}

// fieldVisitor is driven by the schema walkers below. On encode it reads
// the values behind the pointers, on decode it overwrites them. Presence
// bitmaps are passed as slices so that decoders can fill them in place.
type fieldVisitor interface {
	Presence(path string, present []bool) error
	Enumerated(path string, count uint8, value *uint8) error
	Integer(path string, constraint model.IntConstraint, value *int64) error
	Real(path string, constraint model.FieldConstraint, value *float64) error
	Text(path string, constraint model.StringConstraint, value *string) error
}

func visitInt(visitor fieldVisitor, path string, constraint model.IntConstraint, value *int) error {
	wide := int64(*value)
	if err := visitor.Integer(path, constraint, &wide); err != nil {
		return err
	}
	*value = int(wide)
	return nil
}

func visitUint32(visitor fieldVisitor, path string, constraint model.IntConstraint, value *uint32) error {
	wide := int64(*value)
	if err := visitor.Integer(path, constraint, &wide); err != nil {
		return err
	}
	*value = uint32(wide)
	return nil
}

type realField struct {
	constraint model.FieldConstraint
	value      *float64
}

func visitReals(visitor fieldVisitor, prefix string, fields ...realField) error {
	for _, field := range fields {
		if err := visitor.Real(prefix+"."+field.constraint.Name, field.constraint, field.value); err != nil {
			return err
		}
	}
	return nil
}

// walkIndication visits an indication record in wire order:
//
//	sections bitmap, timestampNs, satelliteId, orbitType, beamId, ueId,
//	geometry?, channelQuality?, impairments?, linkBudget?, handover?,
//	performance?, powerControl?
func walkIndication(visitor fieldVisitor, record *model.NTNIndicationRecord) error {
	present := []bool{
		record.Geometry != nil,
		record.ChannelQuality != nil,
		record.Impairments != nil,
		record.LinkBudget != nil,
		record.Handover != nil,
		record.Performance != nil,
		record.PowerControl != nil,
	}
	if err := visitor.Presence("indication.sections", present); err != nil {
		return err
	}

	if err := visitor.Integer("indication.timestampNs", model.TimestampField, &record.TimestampNs); err != nil {
		return err
	}
	if err := visitor.Text("indication.satelliteId", model.IdentifierField, &record.SatelliteID); err != nil {
		return err
	}
	orbitType := uint8(record.OrbitType)
	if err := visitor.Enumerated("indication.orbitType", 3, &orbitType); err != nil {
		return err
	}
	record.OrbitType = model.OrbitType(orbitType)
	if err := visitInt(visitor, "indication.beamId", model.BeamIDField, &record.BeamID); err != nil {
		return err
	}
	if err := visitor.Text("indication.ueId", model.IdentifierField, &record.UEID); err != nil {
		return err
	}

	if present[0] {
		if record.Geometry == nil {
			record.Geometry = &model.SatelliteGeometry{}
		}
		section := record.Geometry
		if err := visitReals(visitor, "indication.geometry",
			realField{model.ElevationField, &section.ElevationDeg},
			realField{model.AzimuthField, &section.AzimuthDeg},
			realField{model.SlantRangeField, &section.SlantRangeKm},
			realField{model.GroundVelocityField, &section.GroundVelocityKmS},
			realField{model.AngularVelocityField, &section.AngularVelocityDegS},
		); err != nil {
			return err
		}
	}

	if present[1] {
		if record.ChannelQuality == nil {
			record.ChannelQuality = &model.ChannelQuality{}
		}
		section := record.ChannelQuality
		if err := visitReals(visitor, "indication.channelQuality",
			realField{model.RSRPField, &section.RSRPDbm},
			realField{model.RSRQField, &section.RSRQDb},
			realField{model.SINRField, &section.SINRDb},
			realField{model.BLERField, &section.BLER},
		); err != nil {
			return err
		}
		if err := visitInt(visitor, "indication.channelQuality.cqi", model.CQIField, &section.CQI); err != nil {
			return err
		}
	}

	if present[2] {
		if record.Impairments == nil {
			record.Impairments = &model.NTNImpairments{}
		}
		section := record.Impairments
		if err := visitReals(visitor, "indication.impairments",
			realField{model.DopplerShiftField, &section.DopplerShiftHz},
			realField{model.DopplerRateField, &section.DopplerRateHzS},
			realField{model.PropagationDelayField, &section.PropagationDelayMs},
			realField{model.PathLossField, &section.PathLossDb},
			realField{model.RainAttenuationField, &section.RainAttenuationDb},
			realField{model.AtmosphericLossField, &section.AtmosphericLossDb},
		); err != nil {
			return err
		}
	}

	if present[3] {
		if record.LinkBudget == nil {
			record.LinkBudget = &model.LinkBudget{}
		}
		section := record.LinkBudget
		if err := visitReals(visitor, "indication.linkBudget",
			realField{model.TxPowerField, &section.TxPowerDbm},
			realField{model.RxPowerField, &section.RxPowerDbm},
			realField{model.LinkMarginField, &section.LinkMarginDb},
			realField{model.SNRField, &section.SNRDb},
			realField{model.RequiredSNRField, &section.RequiredSNRDb},
		); err != nil {
			return err
		}
	}

	if present[4] {
		if record.Handover == nil {
			record.Handover = &model.HandoverPrediction{}
		}
		if err := walkHandover(visitor, record.Handover); err != nil {
			return err
		}
	}

	if present[5] {
		if record.Performance == nil {
			record.Performance = &model.PerformanceMetrics{}
		}
		section := record.Performance
		if err := visitor.Real("indication.performance.dlThroughputMbps", model.ThroughputField, &section.DLThroughputMbps); err != nil {
			return err
		}
		if err := visitor.Real("indication.performance.ulThroughputMbps", model.ThroughputField, &section.ULThroughputMbps); err != nil {
			return err
		}
		if err := visitReals(visitor, "indication.performance",
			realField{model.LatencyField, &section.LatencyMs},
			realField{model.PacketLossField, &section.PacketLossRate},
		); err != nil {
			return err
		}
	}

	if present[6] {
		if record.PowerControl == nil {
			record.PowerControl = &model.PowerControlRecommendation{}
		}
		section := record.PowerControl
		action := uint8(section.Action)
		if err := visitor.Enumerated("indication.powerControl.action", 3, &action); err != nil {
			return err
		}
		section.Action = model.PowerAction(action)
		if err := visitor.Real("indication.powerControl.deltaDb", model.PowerDeltaField, &section.DeltaDb); err != nil {
			return err
		}
		if err := visitor.Real("indication.powerControl.targetTxPowerDbm", model.TxPowerField, &section.TargetTxPowerDbm); err != nil {
			return err
		}
	}

	return nil
}

func walkHandover(visitor fieldVisitor, section *model.HandoverPrediction) error {
	present := []bool{
		section.TimeToHandoverSec != nil,
		section.NextSatelliteID != nil,
		section.NextSatelliteElevationDeg != nil,
	}
	if err := visitor.Presence("indication.handover.optionals", present); err != nil {
		return err
	}

	if present[0] {
		if section.TimeToHandoverSec == nil {
			section.TimeToHandoverSec = new(float64)
		}
		if err := visitor.Real("indication.handover.timeToHandoverSec", model.TimeToHandoverField, section.TimeToHandoverSec); err != nil {
			return err
		}
	}
	if err := visitor.Real("indication.handover.triggerThresholdDeg", model.TriggerThresholdField, &section.TriggerThresholdDeg); err != nil {
		return err
	}
	if present[1] {
		if section.NextSatelliteID == nil {
			section.NextSatelliteID = new(string)
		}
		if err := visitor.Text("indication.handover.nextSatelliteId", model.IdentifierField, section.NextSatelliteID); err != nil {
			return err
		}
	}
	if present[2] {
		if section.NextSatelliteElevationDeg == nil {
			section.NextSatelliteElevationDeg = new(float64)
		}
		if err := visitor.Real("indication.handover.nextSatelliteElevationDeg", model.NextElevationField, section.NextSatelliteElevationDeg); err != nil {
			return err
		}
	}
	return visitor.Real("indication.handover.handoverProbability", model.ProbabilityField, &section.HandoverProbability)
}

// walkControl visits a control record in wire order:
//
//	actionType, ueId, parameters, priority, timestampNs
//
// The parameters alternative is selected by actionType. A record whose
// parameters belong to a different action is rejected.
func walkControl(visitor fieldVisitor, record *model.NTNControlRecord) error {
	actionType := uint8(record.ActionType)
	if err := visitor.Enumerated("control.actionType", uint8(model.ActionTypeCount), &actionType); err != nil {
		return err
	}
	record.ActionType = model.ActionType(actionType)

	if err := visitor.Text("control.ueId", model.IdentifierField, &record.UEID); err != nil {
		return err
	}

	if record.Parameters != nil && record.Parameters.ActionType() != record.ActionType {
		return newFieldError("control.parameters", fmt.Sprintf(
			"%s parameters do not match action %s", record.Parameters.ActionType(), record.ActionType), nil)
	}

	var parameters model.ControlParameters
	var err error
	switch record.ActionType {
	case model.ActionSetPower:
		parameters, err = walkSetPower(visitor, record.Parameters)
	case model.ActionTriggerHandover:
		parameters, err = walkTriggerHandover(visitor, record.Parameters)
	case model.ActionCompensateDoppler:
		parameters, err = walkCompensateDoppler(visitor, record.Parameters)
	case model.ActionSwitchBeam:
		parameters, err = walkSwitchBeam(visitor, record.Parameters)
	default:
		return newFieldError("control.actionType", fmt.Sprintf("unsupported action %d", record.ActionType), nil)
	}
	if err != nil {
		return err
	}
	record.Parameters = parameters

	if err := visitInt(visitor, "control.priority", model.PriorityField, &record.Priority); err != nil {
		return err
	}
	return visitor.Integer("control.timestampNs", model.TimestampField, &record.TimestampNs)
}

func walkSetPower(visitor fieldVisitor, current model.ControlParameters) (model.ControlParameters, error) {
	parameters, ok := current.(model.SetPowerParams)
	if current != nil && !ok {
		return nil, parametersTypeError(current)
	}
	present := []bool{parameters.RampDurationMs != nil}
	if err := visitor.Presence("control.parameters.optionals", present); err != nil {
		return nil, err
	}
	if err := visitor.Real("control.parameters.txPowerDbm", model.TxPowerField, &parameters.TxPowerDbm); err != nil {
		return nil, err
	}
	if present[0] {
		ramp := uint32(0)
		if parameters.RampDurationMs != nil {
			ramp = *parameters.RampDurationMs
		}
		if err := visitUint32(visitor, "control.parameters.rampDurationMs", model.RampField, &ramp); err != nil {
			return nil, err
		}
		parameters.RampDurationMs = &ramp
	}
	return parameters, nil
}

func walkTriggerHandover(visitor fieldVisitor, current model.ControlParameters) (model.ControlParameters, error) {
	parameters, ok := current.(model.TriggerHandoverParams)
	if current != nil && !ok {
		return nil, parametersTypeError(current)
	}
	present := []bool{parameters.ExecutionDelayMs != nil}
	if err := visitor.Presence("control.parameters.optionals", present); err != nil {
		return nil, err
	}
	if err := visitor.Text("control.parameters.targetSatelliteId", model.IdentifierField, &parameters.TargetSatelliteID); err != nil {
		return nil, err
	}
	if err := visitInt(visitor, "control.parameters.targetBeamId", model.BeamIDField, &parameters.TargetBeamID); err != nil {
		return nil, err
	}
	if present[0] {
		delay := uint32(0)
		if parameters.ExecutionDelayMs != nil {
			delay = *parameters.ExecutionDelayMs
		}
		if err := visitUint32(visitor, "control.parameters.executionDelayMs", model.DelayField, &delay); err != nil {
			return nil, err
		}
		parameters.ExecutionDelayMs = &delay
	}
	return parameters, nil
}

func walkCompensateDoppler(visitor fieldVisitor, current model.ControlParameters) (model.ControlParameters, error) {
	parameters, ok := current.(model.CompensateDopplerParams)
	if current != nil && !ok {
		return nil, parametersTypeError(current)
	}
	present := []bool{parameters.DopplerRateHzS != nil}
	if err := visitor.Presence("control.parameters.optionals", present); err != nil {
		return nil, err
	}
	if err := visitor.Real("control.parameters.frequencyOffsetHz", model.DopplerShiftField, &parameters.FrequencyOffsetHz); err != nil {
		return nil, err
	}
	if present[0] {
		rate := 0.0
		if parameters.DopplerRateHzS != nil {
			rate = *parameters.DopplerRateHzS
		}
		if err := visitor.Real("control.parameters.dopplerRateHzS", model.DopplerRateField, &rate); err != nil {
			return nil, err
		}
		parameters.DopplerRateHzS = &rate
	}
	return parameters, nil
}

func walkSwitchBeam(visitor fieldVisitor, current model.ControlParameters) (model.ControlParameters, error) {
	parameters, ok := current.(model.SwitchBeamParams)
	if current != nil && !ok {
		return nil, parametersTypeError(current)
	}
	if err := visitInt(visitor, "control.parameters.targetBeamId", model.BeamIDField, &parameters.TargetBeamID); err != nil {
		return nil, err
	}
	return parameters, nil
}

func parametersTypeError(parameters model.ControlParameters) error {
	return newFieldError("control.parameters", fmt.Sprintf("unsupported parameters type %T", parameters), nil)
}

// checkVisitor validates values without producing output. It backs the
// JSON codec, which has no bit layout of its own but must honour the same
// constraints.
type checkVisitor struct{}

func (checkVisitor) Presence(string, []bool) error { return nil }

func (checkVisitor) Enumerated(path string, count uint8, value *uint8) error {
	if *value >= count {
		return newFieldError(path, fmt.Sprintf("enumerated value %d outside root of %d", *value, count), nil)
	}
	return nil
}

func (checkVisitor) Integer(path string, constraint model.IntConstraint, value *int64) error {
	if err := constraint.Check(*value); err != nil {
		return newFieldError(path, err.Error(), nil)
	}
	return nil
}

func (checkVisitor) Real(path string, constraint model.FieldConstraint, value *float64) error {
	if err := constraint.Check(*value); err != nil {
		return newFieldError(path, err.Error(), nil)
	}
	return nil
}

func (checkVisitor) Text(path string, constraint model.StringConstraint, value *string) error {
	if err := constraint.Check(*value); err != nil {
		return newFieldError(path, err.Error(), nil)
	}
	return nil
}
