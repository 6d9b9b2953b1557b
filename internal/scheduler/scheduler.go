// Package scheduler implements the periodic tasks of the E2SM-NTN function.
//
// On every tick the scheduler:
//   - evicts UE sessions that have not been measured within the idle timeout
//     and ends the subscriptions bound to them
//   - collects the periodic indications that are due and hands them to the
//     publisher
//   - vacuums the indication archive
//   - refreshes the session and subscription gauges.
package scheduler

import (
	"context"
	"sync"
	"time"

	ntnctx "github.com/free5gc/e2sm-ntn/internal/context"
	"github.com/free5gc/e2sm-ntn/internal/dispatcher"
	"github.com/free5gc/e2sm-ntn/internal/logger"
	"github.com/free5gc/e2sm-ntn/internal/metrics"
	"github.com/free5gc/e2sm-ntn/internal/northbound"
	"github.com/free5gc/e2sm-ntn/internal/storage"
)

// Scheduler drives the periodic reporting path and idle-UE eviction.
type Scheduler interface {
	// Start launches the scheduler loop in a background goroutine. It returns
	// immediately after successful start. The provided context is used only
	// for initialisation; cancellation should be signalled via Stop().
	Start(ctx context.Context) error

	// Stop requests the scheduler to stop and waits for the background loop
	// to exit. It is safe to call Stop() multiple times.
	Stop(ctx context.Context) error
}

// schedulerImpl is the concrete implementation of Scheduler.
type schedulerImpl struct {
	dispatcherInstance dispatcher.Dispatcher
	bridge             ntnctx.SessionBridge
	publisher          northbound.Publisher
	store              storage.Store
	metrics            *metrics.Collector

	// tickInterval controls how often due reports and idle UEs are checked.
	tickInterval time.Duration
	clock        func() time.Time

	startStopMutex sync.Mutex
	started        bool
	stopChannel    chan struct{}
	stoppedChannel chan struct{}
}

// NewScheduler creates a new Scheduler instance. store and collector may
// be nil.
func NewScheduler(
	dispatcherInstance dispatcher.Dispatcher,
	bridge ntnctx.SessionBridge,
	publisher northbound.Publisher,
	store storage.Store,
	collector *metrics.Collector,
	tickInterval time.Duration,
) Scheduler {
	if tickInterval <= 0 {
		tickInterval = 100 * time.Millisecond
	}

	return &schedulerImpl{
		dispatcherInstance: dispatcherInstance,
		bridge:             bridge,
		publisher:          publisher,
		store:              store,
		metrics:            collector,
		tickInterval:       tickInterval,
		clock:              time.Now,
		stopChannel:        make(chan struct{}),
		stoppedChannel:     make(chan struct{}),
	}
}

// Start implements Scheduler.Start.
func (schedulerInstance *schedulerImpl) Start(ctx context.Context) error {
	schedulerInstance.startStopMutex.Lock()
	defer schedulerInstance.startStopMutex.Unlock()

	if schedulerInstance.started {
		logger.SchedulerLog.Warn("Scheduler.Start called more than once; ignoring subsequent call")
		return nil
	}

	schedulerInstance.started = true

	go schedulerInstance.runLoop()

	logger.SchedulerLog.Infof("Scheduler started tick=%s", schedulerInstance.tickInterval)
	return nil
}

// Stop implements Scheduler.Stop.
func (schedulerInstance *schedulerImpl) Stop(ctx context.Context) error {
	schedulerInstance.startStopMutex.Lock()
	defer schedulerInstance.startStopMutex.Unlock()

	if !schedulerInstance.started {
		return nil
	}

	select {
	case <-schedulerInstance.stopChannel:
		// Already closing or closed.
	default:
		close(schedulerInstance.stopChannel)
	}

	// Wait for the loop to exit or for the context to expire.
	select {
	case <-schedulerInstance.stoppedChannel:
	case <-ctx.Done():
		return ctx.Err()
	}

	logger.SchedulerLog.Info("Scheduler stopped")
	return nil
}

// runLoop executes the periodic logic until stopChannel is closed.
func (schedulerInstance *schedulerImpl) runLoop() {
	defer close(schedulerInstance.stoppedChannel)

	ticker := time.NewTicker(schedulerInstance.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-schedulerInstance.stopChannel:
			return
		case <-ticker.C:
			schedulerInstance.processTick(schedulerInstance.clock())
		}
	}
}

// processTick runs one scheduling round at the given reference time.
func (schedulerInstance *schedulerImpl) processTick(now time.Time) {
	ctx := context.Background()

	evicted := schedulerInstance.bridge.EvictIdle(ctx, now)
	for _, ueID := range evicted {
		schedulerInstance.dispatcherInstance.OnUEEvicted(ueID)
	}
	schedulerInstance.metrics.ObserveEvicted(len(evicted))

	due := schedulerInstance.dispatcherInstance.CollectDue(ctx, now)
	if len(due) > 0 {
		schedulerInstance.publisher.Publish(ctx, due)
		logger.SchedulerLog.Debugf("published %d periodic indication(s)", len(due))
	}

	if schedulerInstance.store != nil {
		if vacuumError := schedulerInstance.store.Vacuum(ctx); vacuumError != nil {
			logger.SchedulerLog.Warnf("archive vacuum failed: %v", vacuumError)
		}
	}

	schedulerInstance.metrics.SetActiveCounts(
		schedulerInstance.bridge.Count(),
		schedulerInstance.dispatcherInstance.ActiveSubscriptions(),
	)
}
