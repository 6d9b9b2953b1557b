package southbound

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/free5gc/e2sm-ntn/internal/dispatcher"
	"github.com/free5gc/e2sm-ntn/internal/metrics"
	"github.com/free5gc/e2sm-ntn/internal/model"
)

type stubDispatcher struct {
	dispatcher.Dispatcher

	indications    []dispatcher.EncodedIndication
	measurementErr error
	controlRecord  *model.NTNControlRecord
	controlErr     error

	lastMeasurement model.Measurement
	lastControl     []byte
}

func (stub *stubDispatcher) OnMeasurement(
	ctx context.Context,
	measurement model.Measurement,
) ([]dispatcher.EncodedIndication, error) {
	stub.lastMeasurement = measurement
	return stub.indications, stub.measurementErr
}

func (stub *stubDispatcher) OnControlMessage(ctx context.Context, data []byte) (*model.NTNControlRecord, error) {
	stub.lastControl = data
	return stub.controlRecord, stub.controlErr
}

type capturingPublisher struct {
	mutex     sync.Mutex
	published []dispatcher.EncodedIndication
}

func (publisher *capturingPublisher) Publish(ctx context.Context, indications []dispatcher.EncodedIndication) {
	publisher.mutex.Lock()
	defer publisher.mutex.Unlock()
	publisher.published = append(publisher.published, indications...)
}

func (publisher *capturingPublisher) Start(ctx context.Context) error { return nil }

func (publisher *capturingPublisher) Stop(ctx context.Context) error { return nil }

type stubExecutor struct {
	err      error
	executed []*model.NTNControlRecord
}

func (executor *stubExecutor) Execute(ctx context.Context, record *model.NTNControlRecord) error {
	executor.executed = append(executor.executed, record)
	return executor.err
}

func newTestReceiver(t *testing.T, stub *stubDispatcher, executor *stubExecutor) (
	*Receiver, *capturingPublisher, *metrics.Collector,
) {
	t.Helper()
	collector, err := metrics.NewCollector(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}
	publisher := &capturingPublisher{}
	return NewReceiver(stub, publisher, executor, collector, 4096), publisher, collector
}

const measurementBody = `{
	"ueId": "ue-1",
	"timestamp": "2024-01-01T00:00:00Z",
	"uePosition": {"latitudeDeg": 0, "longitudeDeg": 0, "altitudeKm": 0},
	"serving": {"satelliteId": "LEO-1", "orbitType": "LEO", "beamId": 3},
	"channelQuality": {"rsrpDbm": -95, "rsrqDb": -10, "sinrDb": 8},
	"txPowerDbm": 20,
	"requiredSnrDb": 5
}`

func TestHandleMeasurementPublishes(t *testing.T) {
	stub := &stubDispatcher{
		indications: []dispatcher.EncodedIndication{
			{SubscriptionID: "sub-a", UEID: "ue-1"},
			{SubscriptionID: "sub-b", UEID: "ue-1"},
		},
	}
	receiver, publisher, _ := newTestReceiver(t, stub, &stubExecutor{})

	request := httptest.NewRequest(http.MethodPost, "/e2sm-ntn/v1/measurements", strings.NewReader(measurementBody))
	recorder := httptest.NewRecorder()
	receiver.HandleMeasurement(recorder, request)

	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, body %q", recorder.Code, recorder.Body.String())
	}
	var response MeasurementResponse
	if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if response.UEID != "ue-1" || response.Indications != 2 {
		t.Fatalf("response = %+v", response)
	}
	if stub.lastMeasurement.Serving.SatelliteID != "LEO-1" || stub.lastMeasurement.Serving.BeamID != 3 {
		t.Fatalf("dispatcher saw %+v", stub.lastMeasurement.Serving)
	}
	if len(publisher.published) != 2 {
		t.Fatalf("published %d indications, want 2", len(publisher.published))
	}
}

func TestHandleMeasurementErrors(t *testing.T) {
	testCases := []struct {
		name       string
		method     string
		body       string
		err        error
		wantStatus int
	}{
		{name: "wrong method", method: http.MethodGet, body: "", wantStatus: http.StatusMethodNotAllowed},
		{name: "malformed json", method: http.MethodPost, body: "{", wantStatus: http.StatusBadRequest},
		{name: "unknown field", method: http.MethodPost, body: `{"ueId":"ue-1","bogus":1}`, wantStatus: http.StatusBadRequest},
		{name: "oversized body", method: http.MethodPost, body: `{"ueId":"` + strings.Repeat("x", 5000) + `"}`,
			wantStatus: http.StatusBadRequest},
		{
			name: "validation", method: http.MethodPost, body: measurementBody,
			err:        &model.ValidationError{Field: "ueId", Reason: "empty"},
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "geometry", method: http.MethodPost, body: measurementBody,
			err:        &model.GeometryError{Reason: "satellite at UE location"},
			wantStatus: http.StatusUnprocessableEntity,
		},
		{
			name: "session", method: http.MethodPost, body: measurementBody,
			err:        &model.SessionError{UEID: "ue-1", Reason: "unknown"},
			wantStatus: http.StatusConflict,
		},
		{
			name: "internal", method: http.MethodPost, body: measurementBody,
			err:        errors.New("boom"),
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			stub := &stubDispatcher{measurementErr: testCase.err}
			receiver, _, _ := newTestReceiver(t, stub, &stubExecutor{})

			request := httptest.NewRequest(testCase.method, "/e2sm-ntn/v1/measurements",
				strings.NewReader(testCase.body))
			recorder := httptest.NewRecorder()
			receiver.HandleMeasurement(recorder, request)

			if recorder.Code != testCase.wantStatus {
				t.Fatalf("status = %d, want %d (body %q)", recorder.Code, testCase.wantStatus, recorder.Body.String())
			}
		})
	}
}

func TestHandleControlExecutes(t *testing.T) {
	record := &model.NTNControlRecord{
		UEID:       "ue-1",
		ActionType: model.ActionSetPower,
		Parameters: model.SetPowerParams{TxPowerDbm: 18},
	}
	stub := &stubDispatcher{controlRecord: record}
	executor := &stubExecutor{}
	receiver, _, collector := newTestReceiver(t, stub, executor)

	payload := []byte{0x01, 0x00, 0x0a, 0xde, 0xad}
	request := httptest.NewRequest(http.MethodPost, "/e2sm-ntn/v1/control", bytes.NewReader(payload))
	recorder := httptest.NewRecorder()
	receiver.HandleControl(recorder, request)

	if recorder.Code != http.StatusNoContent {
		t.Fatalf("status = %d, body %q", recorder.Code, recorder.Body.String())
	}
	if !bytes.Equal(stub.lastControl, payload) {
		t.Fatalf("dispatcher saw %x, want %x", stub.lastControl, payload)
	}
	if len(executor.executed) != 1 || executor.executed[0] != record {
		t.Fatalf("executed = %v", executor.executed)
	}
	if got := testutil.ToFloat64(collector.ControlMessages.WithLabelValues(metrics.OutcomeExecuted)); got != 1 {
		t.Fatalf("executed counter = %v, want 1", got)
	}
}

func TestHandleControlErrors(t *testing.T) {
	record := &model.NTNControlRecord{UEID: "ue-1", ActionType: model.ActionSwitchBeam,
		Parameters: model.SwitchBeamParams{TargetBeamID: 4}}

	testCases := []struct {
		name        string
		controlErr  error
		executeErr  error
		wantStatus  int
		wantOutcome string
	}{
		{
			name:       "decode error",
			controlErr: &model.DecodingError{Field: "envelope.format", Reason: "unknown format"},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "validation error",
			controlErr: &model.ValidationError{Field: "control.priority", Reason: "out of range"},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:        "executor failure",
			executeErr:  errors.New("radio unavailable"),
			wantStatus:  http.StatusBadGateway,
			wantOutcome: metrics.OutcomeExecutionError,
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			stub := &stubDispatcher{controlErr: testCase.controlErr}
			if testCase.controlErr == nil {
				stub.controlRecord = record
			}
			executor := &stubExecutor{err: testCase.executeErr}
			receiver, _, collector := newTestReceiver(t, stub, executor)

			request := httptest.NewRequest(http.MethodPost, "/e2sm-ntn/v1/control", bytes.NewReader([]byte{0x01}))
			recorder := httptest.NewRecorder()
			receiver.HandleControl(recorder, request)

			if recorder.Code != testCase.wantStatus {
				t.Fatalf("status = %d, want %d", recorder.Code, testCase.wantStatus)
			}
			if testCase.controlErr != nil && len(executor.executed) != 0 {
				t.Fatalf("executor ran for a rejected message")
			}
			if testCase.wantOutcome != "" {
				got := testutil.ToFloat64(collector.ControlMessages.WithLabelValues(testCase.wantOutcome))
				if got != 1 {
					t.Fatalf("%s counter = %v, want 1", testCase.wantOutcome, got)
				}
			}
		})
	}
}

func TestRoutesRegistersEndpoints(t *testing.T) {
	receiver, _, _ := newTestReceiver(t, &stubDispatcher{}, &stubExecutor{})
	mux := http.NewServeMux()
	receiver.Routes(mux)

	for _, path := range []string{"/e2sm-ntn/v1/measurements", "/e2sm-ntn/v1/control"} {
		recorder := httptest.NewRecorder()
		mux.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, path, nil))
		if recorder.Code != http.StatusMethodNotAllowed {
			t.Fatalf("GET %s = %d, want 405", path, recorder.Code)
		}
	}
}
