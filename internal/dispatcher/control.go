package dispatcher

import (
	stdctx "context"
	"fmt"

	"github.com/asaskevich/govalidator"
	"github.com/davecgh/go-spew/spew"
	"github.com/sirupsen/logrus"

	"github.com/free5gc/e2sm-ntn/internal/codec"
	"github.com/free5gc/e2sm-ntn/internal/logger"
	"github.com/free5gc/e2sm-ntn/internal/metrics"
	"github.com/free5gc/e2sm-ntn/internal/model"
)

// ActionBounds are the operator limits applied to control parameters on top
// of the wire-format constraints.
type ActionBounds struct {
	MinTxPowerDbm        float64
	MaxTxPowerDbm        float64
	MaxRampDurationMs    uint32
	MaxExecutionDelayMs  uint32
	MaxFrequencyOffsetHz float64
	MaxDopplerRateHzS    float64
	MaxBeamID            int
	MaxPriority          int
}

// DefaultActionBounds returns limits equal to the wire-format ranges.
func DefaultActionBounds() ActionBounds {
	return ActionBounds{
		MinTxPowerDbm:        model.TxPowerField.Min,
		MaxTxPowerDbm:        model.TxPowerField.Max,
		MaxRampDurationMs:    uint32(model.RampField.Max),
		MaxExecutionDelayMs:  uint32(model.DelayField.Max),
		MaxFrequencyOffsetHz: model.DopplerShiftField.Max,
		MaxDopplerRateHzS:    model.DopplerRateField.Max,
		MaxBeamID:            int(model.BeamIDField.Max),
		MaxPriority:          int(model.PriorityField.Max),
	}
}

// OnControlMessage implements Dispatcher.OnControlMessage.
func (dispatcherInstance *dispatcherImpl) OnControlMessage(
	ctx stdctx.Context,
	data []byte,
) (*model.NTNControlRecord, error) {
	format, ranFunctionID, payload, err := codec.Unwrap(data)
	if err != nil {
		return nil, dispatcherInstance.rejectControl(err, "", len(data), metrics.OutcomeDecodeError)
	}
	if ranFunctionID != dispatcherInstance.config.RANFunctionID {
		err = &model.DecodingError{
			Field:  "envelope.ranFunctionId",
			Reason: fmt.Sprintf("unexpected RAN function %d", ranFunctionID),
		}
		return nil, dispatcherInstance.rejectControl(err, "", len(data), metrics.OutcomeDecodeError)
	}

	codecInstance, ok := dispatcherInstance.codecs[format]
	if !ok {
		err = &model.DecodingError{Field: "envelope.format", Reason: fmt.Sprintf("unsupported format %s", format)}
		return nil, dispatcherInstance.rejectControl(err, "", len(data), metrics.OutcomeDecodeError)
	}
	message, err := codecInstance.Decode(payload)
	if err != nil {
		return nil, dispatcherInstance.rejectControl(err, "", len(data), metrics.OutcomeDecodeError)
	}
	record, ok := message.(*model.NTNControlRecord)
	if !ok {
		err = &model.DecodingError{Field: "message", Reason: "expected a control message, got " + message.MessageKind().String()}
		return nil, dispatcherInstance.rejectControl(err, "", len(data), metrics.OutcomeDecodeError)
	}

	if err := dispatcherInstance.validateControl(record); err != nil {
		return nil, dispatcherInstance.rejectControl(err, record.UEID, len(data), metrics.OutcomeValidationError)
	}

	logger.DispatcherLog.Infof("control accepted ueId=%s action=%s priority=%d",
		record.UEID, record.ActionType, record.Priority)
	if logger.DispatcherLog.Logger.IsLevelEnabled(logrus.DebugLevel) {
		logger.DispatcherLog.Debugf("control record:\n%s", spew.Sdump(record))
	}
	dispatcherInstance.metrics.ObserveControl(metrics.OutcomeAccepted)
	return record, nil
}

func (dispatcherInstance *dispatcherImpl) rejectControl(err error, ueID string, size int, outcome string) error {
	field := "message"
	if decodingError, ok := model.AsDecodingError(err); ok {
		field = decodingError.Field
	} else if validationError, ok := model.AsValidationError(err); ok {
		field = validationError.Field
	}

	logger.DispatcherLog.WithFields(logrus.Fields{
		"ueId":  ueID,
		"bytes": size,
		"field": field,
	}).Warnf("control message rejected: %v", err)
	dispatcherInstance.metrics.ObserveControl(outcome)
	return err
}

// validateControl checks the action against the allow-list and the
// parameters against their shape and the configured bounds.
func (dispatcherInstance *dispatcherImpl) validateControl(record *model.NTNControlRecord) error {
	if !govalidator.IsIn(record.ActionType.String(), dispatcherInstance.allowedActionNames...) {
		return &model.ValidationError{Field: "control.actionType", Reason: record.ActionType.String() + " is not allowed"}
	}
	if !govalidator.IsPrintableASCII(record.UEID) {
		return &model.ValidationError{Field: "control.ueId", Reason: "must be printable ASCII"}
	}
	bounds := dispatcherInstance.config.Bounds
	if !govalidator.InRangeInt(record.Priority, 0, bounds.MaxPriority) {
		return outOfBounds("control.priority", float64(record.Priority), 0, float64(bounds.MaxPriority))
	}
	if record.Parameters == nil {
		return &model.ValidationError{Field: "control.parameters", Reason: "missing"}
	}
	if record.Parameters.ActionType() != record.ActionType {
		return &model.ValidationError{
			Field: "control.parameters",
			Reason: fmt.Sprintf("%s parameters for action %s",
				record.Parameters.ActionType(), record.ActionType),
		}
	}

	switch parameters := record.Parameters.(type) {
	case model.SetPowerParams:
		if !govalidator.InRangeFloat64(parameters.TxPowerDbm, bounds.MinTxPowerDbm, bounds.MaxTxPowerDbm) {
			return outOfBounds("control.parameters.txPowerDbm", parameters.TxPowerDbm,
				bounds.MinTxPowerDbm, bounds.MaxTxPowerDbm)
		}
		if parameters.RampDurationMs != nil && *parameters.RampDurationMs > bounds.MaxRampDurationMs {
			return outOfBounds("control.parameters.rampDurationMs", float64(*parameters.RampDurationMs),
				0, float64(bounds.MaxRampDurationMs))
		}
	case model.TriggerHandoverParams:
		if parameters.TargetSatelliteID == "" || !govalidator.IsPrintableASCII(parameters.TargetSatelliteID) {
			return &model.ValidationError{Field: "control.parameters.targetSatelliteId", Reason: "must be non-empty printable ASCII"}
		}
		if !govalidator.InRangeInt(parameters.TargetBeamID, 0, bounds.MaxBeamID) {
			return outOfBounds("control.parameters.targetBeamId", float64(parameters.TargetBeamID),
				0, float64(bounds.MaxBeamID))
		}
		if parameters.ExecutionDelayMs != nil && *parameters.ExecutionDelayMs > bounds.MaxExecutionDelayMs {
			return outOfBounds("control.parameters.executionDelayMs", float64(*parameters.ExecutionDelayMs),
				0, float64(bounds.MaxExecutionDelayMs))
		}
	case model.CompensateDopplerParams:
		if !govalidator.InRangeFloat64(parameters.FrequencyOffsetHz,
			-bounds.MaxFrequencyOffsetHz, bounds.MaxFrequencyOffsetHz) {
			return outOfBounds("control.parameters.frequencyOffsetHz", parameters.FrequencyOffsetHz,
				-bounds.MaxFrequencyOffsetHz, bounds.MaxFrequencyOffsetHz)
		}
		if parameters.DopplerRateHzS != nil && !govalidator.InRangeFloat64(*parameters.DopplerRateHzS,
			-bounds.MaxDopplerRateHzS, bounds.MaxDopplerRateHzS) {
			return outOfBounds("control.parameters.dopplerRateHzS", *parameters.DopplerRateHzS,
				-bounds.MaxDopplerRateHzS, bounds.MaxDopplerRateHzS)
		}
	case model.SwitchBeamParams:
		if !govalidator.InRangeInt(parameters.TargetBeamID, 0, bounds.MaxBeamID) {
			return outOfBounds("control.parameters.targetBeamId", float64(parameters.TargetBeamID),
				0, float64(bounds.MaxBeamID))
		}
	default:
		return &model.ValidationError{
			Field:  "control.parameters",
			Reason: fmt.Sprintf("unsupported parameters type %T", record.Parameters),
		}
	}
	return nil
}

func outOfBounds(field string, value, lower, upper float64) error {
	return &model.ValidationError{
		Field:  field,
		Reason: fmt.Sprintf("%g outside [%g, %g]", value, lower, upper),
	}
}
