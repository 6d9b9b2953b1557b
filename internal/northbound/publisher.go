package northbound

import (
	"context"
	"sync"
	"time"

	"github.com/free5gc/e2sm-ntn/internal/dispatcher"
	"github.com/free5gc/e2sm-ntn/internal/logger"
	"github.com/free5gc/e2sm-ntn/internal/metrics"
	"github.com/free5gc/e2sm-ntn/internal/storage"
)

// Publisher archives indications and delivers them asynchronously so that
// callers never block on network I/O.
type Publisher interface {
	// Publish archives the indications and queues them for delivery. When
	// the queue is full the indication is dropped and counted as a
	// transport failure.
	Publish(ctx context.Context, indications []dispatcher.EncodedIndication)

	Start(ctx context.Context) error
	// Stop delivers the indications still queued and waits for the loop to
	// exit. When ctx ends first the remainder is abandoned and ctx.Err()
	// is returned.
	Stop(ctx context.Context) error
}

type publisherImpl struct {
	transport   Transport
	store       storage.Store
	metrics     *metrics.Collector
	sendTimeout time.Duration

	queue chan dispatcher.EncodedIndication

	startStopMutex sync.Mutex
	started        bool
	stopChannel    chan struct{}
	abandonChannel chan struct{}
	stoppedChannel chan struct{}
}

// NewPublisher creates a Publisher. store and collector may be nil.
func NewPublisher(
	transport Transport,
	store storage.Store,
	collector *metrics.Collector,
	queueSize int,
	sendTimeout time.Duration,
) Publisher {
	if queueSize <= 0 {
		queueSize = 1024
	}
	if sendTimeout <= 0 {
		sendTimeout = 5 * time.Second
	}
	return &publisherImpl{
		transport:      transport,
		store:          store,
		metrics:        collector,
		sendTimeout:    sendTimeout,
		queue:          make(chan dispatcher.EncodedIndication, queueSize),
		stopChannel:    make(chan struct{}),
		abandonChannel: make(chan struct{}),
		stoppedChannel: make(chan struct{}),
	}
}

// Publish implements Publisher.Publish.
func (publisherInstance *publisherImpl) Publish(ctx context.Context, indications []dispatcher.EncodedIndication) {
	if len(indications) == 0 {
		return
	}

	if publisherInstance.store != nil {
		entries := make([]storage.Entry, 0, len(indications))
		for _, indication := range indications {
			entries = append(entries, storage.Entry{
				SubscriptionID: indication.SubscriptionID,
				UEID:           indication.UEID,
				Style:          indication.Style.String(),
				Trigger:        indication.Trigger,
				Format:         indication.Format.String(),
				Timestamp:      time.Unix(0, indication.TimestampNs).UTC(),
				Payload:        indication.Payload,
			})
		}
		if saveError := publisherInstance.store.Save(ctx, entries); saveError != nil {
			logger.NorthboundLog.Warnf("failed to archive %d indication(s): %v", len(entries), saveError)
		}
	}

	for _, indication := range indications {
		select {
		case publisherInstance.queue <- indication:
		default:
			publisherInstance.metrics.ObserveTransportFailure()
			logger.NorthboundLog.Warnf("transport queue full, dropping indication subscriptionId=%s ueId=%s",
				indication.SubscriptionID, indication.UEID)
		}
	}
}

// Start implements Publisher.Start.
func (publisherInstance *publisherImpl) Start(ctx context.Context) error {
	publisherInstance.startStopMutex.Lock()
	defer publisherInstance.startStopMutex.Unlock()

	if publisherInstance.started {
		logger.NorthboundLog.Warn("Publisher.Start called more than once; ignoring subsequent call")
		return nil
	}
	publisherInstance.started = true

	go publisherInstance.runLoop()

	logger.NorthboundLog.Info("Publisher started")
	return nil
}

// Stop implements Publisher.Stop.
func (publisherInstance *publisherImpl) Stop(ctx context.Context) error {
	publisherInstance.startStopMutex.Lock()
	defer publisherInstance.startStopMutex.Unlock()

	if !publisherInstance.started {
		return nil
	}

	select {
	case <-publisherInstance.stopChannel:
	default:
		close(publisherInstance.stopChannel)
	}

	select {
	case <-publisherInstance.stoppedChannel:
	case <-ctx.Done():
		select {
		case <-publisherInstance.abandonChannel:
		default:
			close(publisherInstance.abandonChannel)
		}
		return ctx.Err()
	}

	logger.NorthboundLog.Info("Publisher stopped")
	return nil
}

func (publisherInstance *publisherImpl) runLoop() {
	defer close(publisherInstance.stoppedChannel)

	for {
		select {
		case <-publisherInstance.stopChannel:
			publisherInstance.drain()
			return
		case indication := <-publisherInstance.queue:
			publisherInstance.deliver(indication)
		}
	}
}

// drain delivers what is left in the queue until it is empty or Stop gives
// up waiting.
func (publisherInstance *publisherImpl) drain() {
	delivered := 0
	for {
		select {
		case <-publisherInstance.abandonChannel:
			logger.NorthboundLog.Warnf("stop deadline reached, %d queued indication(s) not delivered",
				len(publisherInstance.queue))
			return
		default:
		}

		select {
		case indication := <-publisherInstance.queue:
			publisherInstance.deliver(indication)
			delivered++
		default:
			if delivered > 0 {
				logger.NorthboundLog.Infof("delivered %d queued indication(s) before stopping", delivered)
			}
			return
		}
	}
}

func (publisherInstance *publisherImpl) deliver(indication dispatcher.EncodedIndication) {
	ctx, cancel := context.WithTimeout(context.Background(), publisherInstance.sendTimeout)
	defer cancel()

	if sendError := publisherInstance.transport.Send(ctx, indication); sendError != nil {
		publisherInstance.metrics.ObserveTransportFailure()
		logger.NorthboundLog.Errorf("indication delivery failed subscriptionId=%s ueId=%s: %v",
			indication.SubscriptionID, indication.UEID, sendError)
	}
}
