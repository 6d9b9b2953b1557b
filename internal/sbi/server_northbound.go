// Package sbi provides the xApp-facing HTTP API of the E2SM-NTN function:
// RAN function discovery, subscription management and one-shot fetch of
// archived indications.
//
//	GET    /e2sm-ntn/v1/ran-function          - RAN function description
//	POST   /e2sm-ntn/v1/subscriptions         - create a subscription
//	GET    /e2sm-ntn/v1/subscriptions         - list subscriptions
//	GET    /e2sm-ntn/v1/subscriptions/{id}    - read one subscription
//	DELETE /e2sm-ntn/v1/subscriptions/{id}    - unsubscribe
//	POST   /e2sm-ntn/v1/fetch                 - query the indication archive
package sbi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/free5gc/e2sm-ntn/internal/codec"
	"github.com/free5gc/e2sm-ntn/internal/dispatcher"
	"github.com/free5gc/e2sm-ntn/internal/logger"
	"github.com/free5gc/e2sm-ntn/internal/model"
	"github.com/free5gc/e2sm-ntn/internal/storage"
)

const (
	subscriptionsPath = "/e2sm-ntn/v1/subscriptions"
	defaultFetchLimit = 1000
)

// FetchRequest selects archived indications. Empty fields do not filter.
type FetchRequest struct {
	UEID           string     `json:"ueId,omitempty"`
	SubscriptionID string     `json:"subscriptionId,omitempty"`
	Since          *time.Time `json:"since,omitempty"`
	Until          *time.Time `json:"until,omitempty"`
	Limit          int        `json:"limit,omitempty"`
	// Decode adds the decoded indication record next to each payload.
	Decode bool `json:"decode,omitempty"`
}

// FetchItem is one archived indication in a fetch response.
type FetchItem struct {
	storage.Entry
	Record *model.NTNIndicationRecord `json:"record,omitempty"`
}

// FetchResponse is the body returned by POST /e2sm-ntn/v1/fetch.
type FetchResponse struct {
	Timestamp time.Time   `json:"timestamp"`
	Items     []FetchItem `json:"items"`
}

// NorthboundServer serves the xApp-facing HTTP API.
type NorthboundServer struct {
	dispatcher        dispatcher.Dispatcher
	store             storage.Store
	maxRequestBodyLen int64
}

// NewNorthboundServer creates a new northbound server backed by the given
// dispatcher and indication archive.
func NewNorthboundServer(
	dispatcherInstance dispatcher.Dispatcher,
	store storage.Store,
	maxRequestBodyLen int64,
) *NorthboundServer {
	if maxRequestBodyLen <= 0 {
		maxRequestBodyLen = 1 << 20 // 1 MiB
	}

	return &NorthboundServer{
		dispatcher:        dispatcherInstance,
		store:             store,
		maxRequestBodyLen: maxRequestBodyLen,
	}
}

// Routes registers the northbound handlers on the given mux.
func (server *NorthboundServer) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/e2sm-ntn/v1/ran-function", server.handleRANFunction)
	mux.HandleFunc(subscriptionsPath, server.handleSubscriptionsRoot)
	mux.HandleFunc(subscriptionsPath+"/", server.handleSubscriptionsWithID)
	mux.HandleFunc("/e2sm-ntn/v1/fetch", server.handleFetch)
}

// Serve starts a standalone HTTP server for the northbound endpoints.
func (server *NorthboundServer) Serve(listenAddr string) error {
	return server.NewServer(listenAddr).ListenAndServe()
}

// NewServer builds the northbound HTTP server without starting it.
func (server *NorthboundServer) NewServer(listenAddr string) *http.Server {
	mux := http.NewServeMux()
	server.Routes(mux)

	logger.NorthboundLog.Infof("Starting northbound E2SM-NTN server on %s", listenAddr)
	return &http.Server{
		Addr:         listenAddr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// handleRANFunction handles GET /e2sm-ntn/v1/ran-function.
func (server *NorthboundServer) handleRANFunction(
	responseWriter http.ResponseWriter,
	request *http.Request,
) {
	if request.Method != http.MethodGet {
		http.Error(responseWriter, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(responseWriter, http.StatusOK, server.dispatcher.Catalog())
}

// handleSubscriptionsRoot handles POST and GET /e2sm-ntn/v1/subscriptions.
func (server *NorthboundServer) handleSubscriptionsRoot(
	responseWriter http.ResponseWriter,
	request *http.Request,
) {
	switch request.Method {
	case http.MethodPost:
		server.handleCreateSubscription(responseWriter, request)
	case http.MethodGet:
		writeJSON(responseWriter, http.StatusOK, server.dispatcher.Subscriptions())
	default:
		http.Error(responseWriter, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleSubscriptionsWithID handles GET and DELETE
// /e2sm-ntn/v1/subscriptions/{id}.
func (server *NorthboundServer) handleSubscriptionsWithID(
	responseWriter http.ResponseWriter,
	request *http.Request,
) {
	if request.Method != http.MethodGet && request.Method != http.MethodDelete {
		http.Error(responseWriter, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	subscriptionID, parseError := parseSubscriptionIDFromPath(request.URL.Path)
	if parseError != nil {
		logger.NorthboundLog.Warnf("failed to parse subscriptionId from path %q: %v", request.URL.Path, parseError)
		http.Error(responseWriter, "bad request", http.StatusBadRequest)
		return
	}

	if request.Method == http.MethodGet {
		server.handleGetSubscription(responseWriter, subscriptionID)
		return
	}
	server.handleDeleteSubscription(responseWriter, request, subscriptionID)
}

// handleCreateSubscription processes a POST /e2sm-ntn/v1/subscriptions request.
func (server *NorthboundServer) handleCreateSubscription(
	responseWriter http.ResponseWriter,
	request *http.Request,
) {
	limitedReader := http.MaxBytesReader(responseWriter, request.Body, server.maxRequestBodyLen)

	defer func() {
		if closeErr := limitedReader.Close(); closeErr != nil {
			logger.NorthboundLog.Debugf("failed to close request body reader: %v", closeErr)
		}
	}()

	var subscriptionRequest dispatcher.SubscriptionRequest
	jsonDecoder := json.NewDecoder(limitedReader)
	jsonDecoder.DisallowUnknownFields()
	if decodeError := jsonDecoder.Decode(&subscriptionRequest); decodeError != nil {
		logger.NorthboundLog.Warnf("failed to decode SubscriptionRequest: %v", decodeError)
		http.Error(responseWriter, "invalid JSON body", http.StatusBadRequest)
		return
	}

	info, subscribeError := server.dispatcher.Subscribe(request.Context(), subscriptionRequest)
	if subscribeError != nil {
		if _, ok := model.AsValidationError(subscribeError); ok {
			logger.NorthboundLog.Warnf("invalid subscription request: %v", subscribeError)
			http.Error(responseWriter, subscribeError.Error(), http.StatusBadRequest)
			return
		}
		logger.NorthboundLog.Errorf("failed to create subscription: %v", subscribeError)
		http.Error(responseWriter, "internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(responseWriter, http.StatusCreated, info)
}

func (server *NorthboundServer) handleGetSubscription(
	responseWriter http.ResponseWriter,
	subscriptionID string,
) {
	for _, info := range server.dispatcher.Subscriptions() {
		if info.ID == subscriptionID {
			writeJSON(responseWriter, http.StatusOK, info)
			return
		}
	}
	http.Error(responseWriter, "subscription not found", http.StatusNotFound)
}

// handleDeleteSubscription stops the subscription and drops its archived
// indications.
func (server *NorthboundServer) handleDeleteSubscription(
	responseWriter http.ResponseWriter,
	request *http.Request,
	subscriptionID string,
) {
	if !server.dispatcher.Unsubscribe(request.Context(), subscriptionID) {
		http.Error(responseWriter, "subscription not found", http.StatusNotFound)
		return
	}

	if deleteError := server.store.DeleteBySubscription(request.Context(), subscriptionID); deleteError != nil {
		logger.NorthboundLog.Errorf(
			"failed to delete archived indications for subscriptionId=%s: %v",
			subscriptionID, deleteError,
		)
		http.Error(responseWriter, "internal server error", http.StatusInternalServerError)
		return
	}

	responseWriter.WriteHeader(http.StatusNoContent)
}

// handleFetch processes a POST /e2sm-ntn/v1/fetch request.
func (server *NorthboundServer) handleFetch(
	responseWriter http.ResponseWriter,
	request *http.Request,
) {
	if request.Method != http.MethodPost {
		http.Error(responseWriter, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limitedReader := http.MaxBytesReader(responseWriter, request.Body, server.maxRequestBodyLen)

	defer func() {
		if closeErr := limitedReader.Close(); closeErr != nil {
			logger.NorthboundLog.Debugf("failed to close request body reader: %v", closeErr)
		}
	}()

	var fetchRequest FetchRequest
	jsonDecoder := json.NewDecoder(limitedReader)
	jsonDecoder.DisallowUnknownFields()
	if decodeError := jsonDecoder.Decode(&fetchRequest); decodeError != nil {
		logger.NorthboundLog.Warnf("failed to decode FetchRequest: %v", decodeError)
		http.Error(responseWriter, "invalid JSON body", http.StatusBadRequest)
		return
	}

	if validationError := validateFetchRequest(fetchRequest); validationError != nil {
		logger.NorthboundLog.Warnf("invalid fetch request: %v", validationError)
		http.Error(responseWriter, validationError.Error(), http.StatusBadRequest)
		return
	}

	limit := fetchRequest.Limit
	if limit <= 0 {
		limit = defaultFetchLimit
	}

	entries, queryError := server.store.Query(request.Context(), storage.Query{
		UEID:           fetchRequest.UEID,
		SubscriptionID: fetchRequest.SubscriptionID,
		Since:          fetchRequest.Since,
		Until:          fetchRequest.Until,
		Limit:          limit,
	})
	if queryError != nil {
		logger.NorthboundLog.Errorf(
			"failed to query archive (ueId=%s since=%s until=%s limit=%d): %v",
			fetchRequest.UEID, formatTimeForLog(fetchRequest.Since), formatTimeForLog(fetchRequest.Until),
			limit, queryError,
		)
		http.Error(responseWriter, "internal server error", http.StatusInternalServerError)
		return
	}

	items := make([]FetchItem, 0, len(entries))
	for _, entry := range entries {
		item := FetchItem{Entry: entry}
		if fetchRequest.Decode {
			record, decodeError := decodeIndication(entry.Payload)
			if decodeError != nil {
				logger.NorthboundLog.Warnf("archived indication for ueId=%s does not decode: %v",
					entry.UEID, decodeError)
			} else {
				item.Record = record
			}
		}
		items = append(items, item)
	}

	writeJSON(responseWriter, http.StatusOK, FetchResponse{
		Timestamp: time.Now().UTC(),
		Items:     items,
	})
}

// validateFetchRequest performs basic semantic checks on a fetch request.
func validateFetchRequest(request FetchRequest) error {
	if request.UEID != "" {
		if err := model.IdentifierField.Check(request.UEID); err != nil {
			return fmt.Errorf("ueId: %w", err)
		}
	}

	if request.Since != nil && request.Until != nil && request.Since.After(*request.Until) {
		return fmt.Errorf("since must not be after until")
	}

	if request.Limit < 0 {
		return fmt.Errorf("limit must be >= 0")
	}

	return nil
}

func decodeIndication(payload []byte) (*model.NTNIndicationRecord, error) {
	format, _, body, err := codec.Unwrap(payload)
	if err != nil {
		return nil, err
	}
	wireCodec, err := codec.New(format)
	if err != nil {
		return nil, err
	}
	message, err := wireCodec.Decode(body)
	if err != nil {
		return nil, err
	}
	record, ok := message.(*model.NTNIndicationRecord)
	if !ok {
		return nil, fmt.Errorf("archived payload is a %s message", message.MessageKind())
	}
	return record, nil
}

// parseSubscriptionIDFromPath extracts the subscription ID from a path of the form
// /e2sm-ntn/v1/subscriptions/{id} or /e2sm-ntn/v1/subscriptions/{id}/.
func parseSubscriptionIDFromPath(path string) (string, error) {
	const prefix = subscriptionsPath + "/"

	if !strings.HasPrefix(path, prefix) {
		return "", fmt.Errorf("path %q does not start with %q", path, prefix)
	}

	trimmed := strings.TrimPrefix(path, prefix)
	trimmed = strings.Trim(trimmed, "/")

	if trimmed == "" {
		return "", fmt.Errorf("missing subscriptionId in path %q", path)
	}
	if strings.Contains(trimmed, "/") {
		return "", fmt.Errorf("unexpected path segments after subscriptionId in %q", path)
	}

	return trimmed, nil
}

func formatTimeForLog(value *time.Time) string {
	if value == nil || value.IsZero() {
		return "-"
	}
	return value.Format(time.RFC3339Nano)
}

func writeJSON(responseWriter http.ResponseWriter, status int, payload interface{}) {
	responseWriter.Header().Set("Content-Type", "application/json")
	responseWriter.WriteHeader(status)

	if encodeError := json.NewEncoder(responseWriter).Encode(payload); encodeError != nil {
		logger.NorthboundLog.Warnf("failed to encode response: %v", encodeError)
	}
}
