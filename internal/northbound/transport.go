// Package northbound delivers encoded E2SM-NTN indications towards the RIC
// and hands validated control records to the executing collaborator.
//
// The E2AP transport itself is external. This package provides:
//   - a Transport abstraction with an HTTP octet-stream implementation
//   - an asynchronous Publisher that archives and queues indications
//   - a ControlExecutor abstraction with a logging implementation.
package northbound

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/free5gc/e2sm-ntn/internal/dispatcher"
	"github.com/free5gc/e2sm-ntn/internal/logger"
)

// Header names attached to every delivered indication.
const (
	HeaderFormat         = "X-E2SM-Format"
	HeaderRANFunctionID  = "X-E2-Ran-Function-Id"
	HeaderSubscriptionID = "X-E2SM-Subscription-Id"
	HeaderUEID           = "X-E2SM-Ue-Id"
	HeaderTrigger        = "X-E2SM-Trigger"
)

// Transport hides how encoded indications reach the RIC.
type Transport interface {
	// Send delivers one enveloped indication.
	Send(ctx context.Context, indication dispatcher.EncodedIndication) error
}

// httpTransport posts the enveloped bytes to a fixed endpoint.
type httpTransport struct {
	endpoint           string
	httpClient         *http.Client
	maxResponseBodyLen int64
}

// NewHTTPTransport creates a Transport that delivers indications via HTTP
// POST with an application/octet-stream body.
func NewHTTPTransport(endpoint string, timeout time.Duration) Transport {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   3 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          64,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   3 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &httpTransport{
		endpoint: endpoint,
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
		maxResponseBodyLen: 4 << 10, // 4 KiB for logging snippets
	}
}

// Send implements the Transport interface.
func (transport *httpTransport) Send(ctx context.Context, indication dispatcher.EncodedIndication) error {
	if transport.endpoint == "" {
		return fmt.Errorf("indication endpoint must not be empty")
	}

	httpRequest, requestError := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		transport.endpoint,
		bytes.NewReader(indication.Payload),
	)
	if requestError != nil {
		return fmt.Errorf("failed to create HTTP request to %s: %w", transport.endpoint, requestError)
	}

	httpRequest.Header.Set("Content-Type", "application/octet-stream")
	httpRequest.Header.Set("User-Agent", "e2sm-ntn-transport/1.0")
	httpRequest.Header.Set(HeaderFormat, indication.Format.String())
	httpRequest.Header.Set(HeaderRANFunctionID, strconv.Itoa(int(indication.RANFunctionID)))
	httpRequest.Header.Set(HeaderSubscriptionID, indication.SubscriptionID)
	httpRequest.Header.Set(HeaderUEID, indication.UEID)
	httpRequest.Header.Set(HeaderTrigger, indication.Trigger)

	httpResponse, doError := transport.httpClient.Do(httpRequest)
	if doError != nil {
		return fmt.Errorf("indication delivery failed: %w", doError)
	}

	defer func() {
		if closeErr := httpResponse.Body.Close(); closeErr != nil {
			logger.NorthboundLog.Debugf("failed to close response body: %v", closeErr)
		}
	}()

	if httpResponse.StatusCode/100 != 2 {
		bodySnippet := transport.readBodySnippet(httpResponse.Body)
		logger.NorthboundLog.Warnf(
			"indication delivery non-2xx status=%s endpoint=%s bodySnippet=%q",
			httpResponse.Status, transport.endpoint, bodySnippet,
		)
		return fmt.Errorf("indication delivery non-2xx status: %s", httpResponse.Status)
	}

	logger.NorthboundLog.Debugf(
		"indication delivered subscriptionId=%s ueId=%s bytes=%d",
		indication.SubscriptionID, indication.UEID, len(indication.Payload),
	)
	return nil
}

// readBodySnippet reads at most maxResponseBodyLen bytes from the response
// body for logging purposes. It never returns an error and is best-effort only.
func (transport *httpTransport) readBodySnippet(body io.Reader) string {
	limitedReader := io.LimitedReader{
		R: body,
		N: transport.maxResponseBodyLen,
	}
	rawBytes, readError := io.ReadAll(&limitedReader)
	if readError != nil {
		return ""
	}
	return string(rawBytes)
}

// logTransport is used when no endpoint is configured. Indications stay in
// the archive and are only logged.
type logTransport struct{}

// NewLogTransport creates a Transport that only logs deliveries.
func NewLogTransport() Transport {
	return logTransport{}
}

// Send implements the Transport interface.
func (logTransport) Send(ctx context.Context, indication dispatcher.EncodedIndication) error {
	logger.NorthboundLog.Debugf(
		"indication subscriptionId=%s ueId=%s style=%s trigger=%s format=%s bytes=%d",
		indication.SubscriptionID, indication.UEID, indication.Style,
		indication.Trigger, indication.Format, len(indication.Payload),
	)
	return nil
}
