// Package southbound exposes the HTTP endpoints where the E2SM-NTN function
// receives measurement events from the channel/measurement source and
// enveloped control messages relayed from xApps.
//
//	POST /e2sm-ntn/v1/measurements   - JSON model.Measurement
//	POST /e2sm-ntn/v1/control        - enveloped PER/JSON control message
//
// Malformed input is answered with 4xx; the dispatcher keeps serving other
// UEs and subscriptions.
package southbound

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/free5gc/e2sm-ntn/internal/dispatcher"
	"github.com/free5gc/e2sm-ntn/internal/logger"
	"github.com/free5gc/e2sm-ntn/internal/metrics"
	"github.com/free5gc/e2sm-ntn/internal/model"
	"github.com/free5gc/e2sm-ntn/internal/northbound"
)

// MeasurementResponse is returned for an accepted measurement.
type MeasurementResponse struct {
	UEID        string `json:"ueId"`
	Indications int    `json:"indications"`
}

// Receiver handles measurement and control ingress.
type Receiver struct {
	dispatcher      dispatcher.Dispatcher
	publisher       northbound.Publisher
	executor        northbound.ControlExecutor
	metrics         *metrics.Collector
	maxRequestBytes int64
}

// NewReceiver creates a receiver that feeds the dispatcher, publishes the
// resulting indications and executes accepted control actions.
func NewReceiver(
	dispatcherInstance dispatcher.Dispatcher,
	publisher northbound.Publisher,
	executor northbound.ControlExecutor,
	collector *metrics.Collector,
	maxRequestBytes int64,
) *Receiver {
	if maxRequestBytes <= 0 {
		maxRequestBytes = 1 << 20 // 1 MiB
	}
	return &Receiver{
		dispatcher:      dispatcherInstance,
		publisher:       publisher,
		executor:        executor,
		metrics:         collector,
		maxRequestBytes: maxRequestBytes,
	}
}

// Routes registers the southbound handlers on the given mux.
func (receiver *Receiver) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/e2sm-ntn/v1/measurements", receiver.HandleMeasurement)
	mux.HandleFunc("/e2sm-ntn/v1/control", receiver.HandleControl)
}

// Serve starts a standalone HTTP server for the southbound endpoints.
func (receiver *Receiver) Serve(listenAddr string) error {
	return receiver.NewServer(listenAddr).ListenAndServe()
}

// NewServer builds the southbound HTTP server without starting it.
func (receiver *Receiver) NewServer(listenAddr string) *http.Server {
	mux := http.NewServeMux()
	receiver.Routes(mux)

	logger.SouthboundLog.Infof("Southbound receiver listening on %s", listenAddr)
	return &http.Server{
		Addr:         listenAddr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
}

// HandleMeasurement processes one measurement event. It returns 200 with a
// MeasurementResponse, 400 for invalid measurements, 422 for degenerate
// geometry and 500 otherwise.
func (receiver *Receiver) HandleMeasurement(responseWriter http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodPost {
		http.Error(responseWriter, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limitedReader := http.MaxBytesReader(responseWriter, request.Body, receiver.maxRequestBytes)

	defer func() {
		if closeErr := limitedReader.Close(); closeErr != nil {
			logger.SouthboundLog.Debugf("failed to close request body reader: %v", closeErr)
		}
	}()

	var measurement model.Measurement
	jsonDecoder := json.NewDecoder(limitedReader)
	jsonDecoder.DisallowUnknownFields()
	if decodeError := jsonDecoder.Decode(&measurement); decodeError != nil {
		logger.SouthboundLog.Warnf("failed to decode measurement: %v", decodeError)
		http.Error(responseWriter, "invalid JSON body", http.StatusBadRequest)
		return
	}

	indications, measurementError := receiver.dispatcher.OnMeasurement(request.Context(), measurement)
	// Indications encoded before an error are still delivered.
	receiver.publisher.Publish(request.Context(), indications)
	if measurementError != nil {
		status := statusForError(measurementError)
		if status >= http.StatusInternalServerError {
			logger.SouthboundLog.Errorf("measurement ueId=%s failed: %v", measurement.UEID, measurementError)
		} else {
			logger.SouthboundLog.Warnf("measurement ueId=%s rejected: %v", measurement.UEID, measurementError)
		}
		http.Error(responseWriter, measurementError.Error(), status)
		return
	}

	writeJSON(responseWriter, http.StatusOK, MeasurementResponse{
		UEID:        measurement.UEID,
		Indications: len(indications),
	})
}

// HandleControl processes one enveloped control message. It returns 204
// once the action has been executed, 400 for messages the dispatcher
// rejects and 502 when the executor fails.
func (receiver *Receiver) HandleControl(responseWriter http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodPost {
		http.Error(responseWriter, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limitedReader := http.MaxBytesReader(responseWriter, request.Body, receiver.maxRequestBytes)

	defer func() {
		if closeErr := limitedReader.Close(); closeErr != nil {
			logger.SouthboundLog.Debugf("failed to close request body reader: %v", closeErr)
		}
	}()

	data, readError := io.ReadAll(limitedReader)
	if readError != nil {
		logger.SouthboundLog.Warnf("failed to read control message: %v", readError)
		http.Error(responseWriter, "unreadable body", http.StatusBadRequest)
		return
	}

	record, controlError := receiver.dispatcher.OnControlMessage(request.Context(), data)
	if controlError != nil {
		http.Error(responseWriter, controlError.Error(), statusForError(controlError))
		return
	}

	if executeError := receiver.executor.Execute(request.Context(), record); executeError != nil {
		receiver.metrics.ObserveControl(metrics.OutcomeExecutionError)
		logger.SouthboundLog.Errorf("control execution failed ueId=%s action=%s: %v",
			record.UEID, record.ActionType, executeError)
		http.Error(responseWriter, "control execution failed", http.StatusBadGateway)
		return
	}
	receiver.metrics.ObserveControl(metrics.OutcomeExecuted)

	responseWriter.WriteHeader(http.StatusNoContent)
}

func statusForError(err error) int {
	if _, ok := model.AsDecodingError(err); ok {
		return http.StatusBadRequest
	}
	if _, ok := model.AsValidationError(err); ok {
		return http.StatusBadRequest
	}
	if _, ok := model.AsGeometryError(err); ok {
		return http.StatusUnprocessableEntity
	}
	if _, ok := model.AsSessionError(err); ok {
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func writeJSON(responseWriter http.ResponseWriter, status int, payload interface{}) {
	responseWriter.Header().Set("Content-Type", "application/json")
	responseWriter.WriteHeader(status)
	if encodeError := json.NewEncoder(responseWriter).Encode(payload); encodeError != nil {
		logger.SouthboundLog.Warnf("failed to encode response: %v", encodeError)
	}
}
