package dispatcher

import (
	stdctx "context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/free5gc/e2sm-ntn/internal/codec"
	"github.com/free5gc/e2sm-ntn/internal/metrics"
	"github.com/free5gc/e2sm-ntn/internal/model"
)

func encodeControl(t *testing.T, format codec.Format, ranFunctionID uint16, message model.Message) []byte {
	t.Helper()

	codecInstance, err := codec.New(format)
	if err != nil {
		t.Fatalf("codec.New: %v", err)
	}
	payload, err := codecInstance.Encode(message)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	return codec.Wrap(format, ranFunctionID, payload)
}

func restrictedConfig(config *Config) {
	config.AllowedActions = []model.ActionType{model.ActionSetPower, model.ActionSwitchBeam, model.ActionCompensateDoppler}
	config.Bounds = DefaultActionBounds()
	config.Bounds.MaxTxPowerDbm = 40
	config.Bounds.MaxBeamID = 63
	config.Bounds.MaxFrequencyOffsetHz = 50000
}

func TestOnControlMessageAccepts(t *testing.T) {
	harness := newHarness(t, restrictedConfig)

	records := []*model.NTNControlRecord{
		{
			ActionType:  model.ActionSetPower,
			UEID:        "ue-001",
			Parameters:  model.SetPowerParams{TxPowerDbm: 26.5, RampDurationMs: model.Uint32(200)},
			Priority:    3,
			TimestampNs: baseTime.UnixNano(),
		},
		{
			ActionType:  model.ActionSwitchBeam,
			UEID:        "ue-002",
			Parameters:  model.SwitchBeamParams{TargetBeamID: 12},
			TimestampNs: baseTime.UnixNano(),
		},
		{
			ActionType:  model.ActionCompensateDoppler,
			UEID:        "ue-003",
			Parameters:  model.CompensateDopplerParams{FrequencyOffsetHz: -41000},
			TimestampNs: baseTime.UnixNano(),
		},
	}

	for _, format := range []codec.Format{codec.FormatPER, codec.FormatJSON} {
		for _, record := range records {
			data := encodeControl(t, format, codec.DefaultRANFunctionID, record)
			decoded, err := harness.dispatcher.OnControlMessage(stdctx.Background(), data)
			if err != nil {
				t.Fatalf("%s %s: %v", format, record.ActionType, err)
			}
			if decoded.UEID != record.UEID || decoded.ActionType != record.ActionType {
				t.Errorf("%s: decoded %+v, want %+v", format, decoded, record)
			}
		}
	}

	accepted := testutil.ToFloat64(harness.collector.ControlMessages.WithLabelValues(metrics.OutcomeAccepted))
	if accepted != 6 {
		t.Errorf("accepted=%v, want 6", accepted)
	}
}

func TestOnControlMessageRejects(t *testing.T) {
	harness := newHarness(t, restrictedConfig)

	valid := &model.NTNControlRecord{
		ActionType: model.ActionSetPower,
		UEID:       "ue-001",
		Parameters: model.SetPowerParams{TxPowerDbm: 20},
	}
	validPER := encodeControl(t, codec.FormatPER, codec.DefaultRANFunctionID, valid)

	indication := &model.NTNIndicationRecord{SatelliteID: "LEO-1", UEID: "ue-001"}

	testCases := []struct {
		name       string
		data       []byte
		field      string
		validation bool
	}{
		{
			name:  "short envelope",
			data:  []byte{0x01, 0x00},
			field: "envelope",
		},
		{
			name:  "wrong RAN function",
			data:  encodeControl(t, codec.FormatPER, 11, valid),
			field: "envelope.ranFunctionId",
		},
		{
			name:  "truncated payload",
			data:  validPER[:codec.EnvelopeHeaderSize+1],
			field: "control.ueId",
		},
		{
			name:  "indication instead of control",
			data:  encodeControl(t, codec.FormatJSON, codec.DefaultRANFunctionID, indication),
			field: "message",
		},
		{
			name: "action not allowed",
			data: encodeControl(t, codec.FormatPER, codec.DefaultRANFunctionID, &model.NTNControlRecord{
				ActionType: model.ActionTriggerHandover,
				UEID:       "ue-001",
				Parameters: model.TriggerHandoverParams{TargetSatelliteID: "LEO-2", TargetBeamID: 1},
			}),
			field:      "control.actionType",
			validation: true,
		},
		{
			name: "tx power above operator bound",
			data: encodeControl(t, codec.FormatPER, codec.DefaultRANFunctionID, &model.NTNControlRecord{
				ActionType: model.ActionSetPower,
				UEID:       "ue-001",
				Parameters: model.SetPowerParams{TxPowerDbm: 45},
			}),
			field:      "control.parameters.txPowerDbm",
			validation: true,
		},
		{
			name: "beam above operator bound",
			data: encodeControl(t, codec.FormatJSON, codec.DefaultRANFunctionID, &model.NTNControlRecord{
				ActionType: model.ActionSwitchBeam,
				UEID:       "ue-001",
				Parameters: model.SwitchBeamParams{TargetBeamID: 64},
			}),
			field:      "control.parameters.targetBeamId",
			validation: true,
		},
		{
			name: "frequency offset above operator bound",
			data: encodeControl(t, codec.FormatPER, codec.DefaultRANFunctionID, &model.NTNControlRecord{
				ActionType: model.ActionCompensateDoppler,
				UEID:       "ue-001",
				Parameters: model.CompensateDopplerParams{FrequencyOffsetHz: 60000},
			}),
			field:      "control.parameters.frequencyOffsetHz",
			validation: true,
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			record, err := harness.dispatcher.OnControlMessage(stdctx.Background(), testCase.data)
			if record != nil {
				t.Fatalf("record=%+v, want nil", record)
			}
			var field string
			if testCase.validation {
				validationError, ok := model.AsValidationError(err)
				if !ok {
					t.Fatalf("err=%v, want ValidationError", err)
				}
				field = validationError.Field
			} else {
				decodingError, ok := model.AsDecodingError(err)
				if !ok {
					t.Fatalf("err=%v, want DecodingError", err)
				}
				field = decodingError.Field
			}
			if field != testCase.field {
				t.Errorf("field=%s, want %s", field, testCase.field)
			}
		})
	}

	decodeErrors := testutil.ToFloat64(harness.collector.ControlMessages.WithLabelValues(metrics.OutcomeDecodeError))
	validationErrors := testutil.ToFloat64(harness.collector.ControlMessages.WithLabelValues(metrics.OutcomeValidationError))
	if decodeErrors != 4 || validationErrors != 4 {
		t.Errorf("decode errors=%v validation errors=%v, want 4 and 4", decodeErrors, validationErrors)
	}

	// The dispatcher keeps serving after rejections.
	if _, err := harness.dispatcher.OnControlMessage(stdctx.Background(), validPER); err != nil {
		t.Errorf("valid message after rejections: %v", err)
	}
}

func TestValidateControlShape(t *testing.T) {
	harness := newHarness(t, nil)
	dispatcherInstance := harness.dispatcher.(*dispatcherImpl)

	testCases := []struct {
		name   string
		record *model.NTNControlRecord
		field  string
	}{
		{
			name:   "missing parameters",
			record: &model.NTNControlRecord{ActionType: model.ActionSwitchBeam, UEID: "ue-1"},
			field:  "control.parameters",
		},
		{
			name: "mismatched parameters",
			record: &model.NTNControlRecord{
				ActionType: model.ActionSwitchBeam,
				UEID:       "ue-1",
				Parameters: model.SetPowerParams{TxPowerDbm: 10},
			},
			field: "control.parameters",
		},
		{
			name: "pointer parameters",
			record: &model.NTNControlRecord{
				ActionType: model.ActionSwitchBeam,
				UEID:       "ue-1",
				Parameters: &model.SwitchBeamParams{TargetBeamID: 1},
			},
			field: "control.parameters",
		},
		{
			name: "empty target satellite",
			record: &model.NTNControlRecord{
				ActionType: model.ActionTriggerHandover,
				UEID:       "ue-1",
				Parameters: model.TriggerHandoverParams{TargetBeamID: 1},
			},
			field: "control.parameters.targetSatelliteId",
		},
		{
			name: "priority above bound",
			record: &model.NTNControlRecord{
				ActionType: model.ActionSwitchBeam,
				UEID:       "ue-1",
				Parameters: model.SwitchBeamParams{TargetBeamID: 1},
				Priority:   300,
			},
			field: "control.priority",
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			validationError, ok := model.AsValidationError(dispatcherInstance.validateControl(testCase.record))
			if !ok {
				t.Fatalf("want ValidationError for %+v", testCase.record)
			}
			if validationError.Field != testCase.field {
				t.Errorf("field=%s, want %s", validationError.Field, testCase.field)
			}
		})
	}
}
