// Package app wires together all major E2SM-NTN components:
//   - configuration and logging
//   - geometry engine, aggregator and UE session bridge
//   - ephemeris catalog for position-less measurements
//   - dispatcher (subscriptions, indications, control validation)
//   - indication archive and northbound publisher
//   - scheduler for periodic reports and idle eviction
//   - southbound receiver, xApp-facing API and metrics endpoint.
//
// cmd/main.go creates an App from the loaded Config and calls Start/Stop
// without knowing internal details.
package app

import (
	stdctx "context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/free5gc/e2sm-ntn/internal/aggregator"
	"github.com/free5gc/e2sm-ntn/internal/codec"
	ntnctx "github.com/free5gc/e2sm-ntn/internal/context"
	"github.com/free5gc/e2sm-ntn/internal/dispatcher"
	"github.com/free5gc/e2sm-ntn/internal/ephemeris"
	"github.com/free5gc/e2sm-ntn/internal/geometry"
	"github.com/free5gc/e2sm-ntn/internal/logger"
	"github.com/free5gc/e2sm-ntn/internal/metrics"
	"github.com/free5gc/e2sm-ntn/internal/model"
	"github.com/free5gc/e2sm-ntn/internal/northbound"
	"github.com/free5gc/e2sm-ntn/internal/sbi"
	"github.com/free5gc/e2sm-ntn/internal/scheduler"
	"github.com/free5gc/e2sm-ntn/internal/southbound"
	"github.com/free5gc/e2sm-ntn/internal/storage"
	"github.com/free5gc/e2sm-ntn/pkg/factory"
)

// App is the high-level interface implemented by the E2SM-NTN function.
type App interface {
	// Start brings the instance online: HTTP listeners, the publisher
	// worker and the scheduler.
	Start(ctx stdctx.Context) error

	// Stop shuts the listeners down, stops the scheduler, ends the active
	// subscriptions and delivers the queued indications. It fails when ctx
	// ends before the queue is empty.
	Stop(ctx stdctx.Context) error
}

// appImpl is the concrete implementation of App.
type appImpl struct {
	config *factory.Config

	bridge     ntnctx.SessionBridge
	dispatcher dispatcher.Dispatcher
	store      storage.Store
	publisher  northbound.Publisher
	scheduler  scheduler.Scheduler

	servers []*http.Server

	startStopMutex sync.Mutex
	started        bool
}

// NewApp constructs a new App from a validated configuration. It creates
// the internal components but does not start any network listeners yet;
// that is handled by Start().
func NewApp(config *factory.Config) (App, error) {
	if config == nil {
		return nil, fmt.Errorf("config must not be nil")
	}

	// InitLog only updates the level and reportCaller flag, so calling it
	// after main's bootstrap call is safe.
	if initError := logger.InitLog(config.Logging.Level, config.Logging.ReportCaller); initError != nil {
		logger.MainLog.Warnf("InitLog failed with level=%s, using fallback: %v",
			config.Logging.Level, initError)
	}

	logger.MainLog.Infof(
		"Starting E2SM-NTN version=%s description=%q",
		config.Info.Version, config.Info.Description,
	)

	collector, metricsError := metrics.NewCollector(prometheus.NewRegistry())
	if metricsError != nil {
		return nil, errors.Wrap(metricsError, "failed to register metrics")
	}

	storageStore, storageError := storage.NewStoreFromConfig(config.Storage)
	if storageError != nil {
		return nil, fmt.Errorf("failed to create storage backend: %w", storageError)
	}

	catalog, catalogError := ephemeris.NewCatalog(config.Satellites)
	if catalogError != nil {
		return nil, errors.Wrap(catalogError, "failed to load satellite ephemeris")
	}

	engine := geometry.NewEngine(geometryConfigFrom(config))
	aggregatorInstance := aggregator.NewAggregator(engine, aggregatorConfigFrom(config))
	bridge := ntnctx.NewSessionBridge(
		config.Reporting.HistorySize,
		time.Duration(config.Reporting.IdleTimeoutSec)*time.Second,
	)

	dispatcherConfig, configError := dispatcherConfigFrom(config)
	if configError != nil {
		return nil, configError
	}
	options := []dispatcher.Option{dispatcher.WithMetrics(collector)}
	if catalog.Len() > 0 {
		options = append(options, dispatcher.WithPositionResolver(catalog))
	}
	dispatcherInstance, dispatcherError := dispatcher.NewDispatcher(
		dispatcherConfig, aggregatorInstance, bridge, options...)
	if dispatcherError != nil {
		return nil, errors.Wrap(dispatcherError, "failed to create dispatcher")
	}

	requestTimeout := time.Duration(config.E2.RequestTimeoutMs) * time.Millisecond
	var transport northbound.Transport
	if config.E2.IndicationURL != "" {
		transport = northbound.NewHTTPTransport(config.E2.IndicationURL, requestTimeout)
	} else {
		logger.MainLog.Infof("e2.indicationUrl not set; indications are archived and logged only")
		transport = northbound.NewLogTransport()
	}
	publisher := northbound.NewPublisher(transport, storageStore, collector, config.E2.QueueSize, requestTimeout)

	schedulerInstance := scheduler.NewScheduler(
		dispatcherInstance,
		bridge,
		publisher,
		storageStore,
		collector,
		time.Duration(config.Reporting.TickIntervalMs)*time.Millisecond,
	)

	southboundReceiver := southbound.NewReceiver(
		dispatcherInstance,
		publisher,
		northbound.NewLoggingExecutor(),
		collector,
		config.Southbound.MaxBodyBytes,
	)
	northboundServer := sbi.NewNorthboundServer(dispatcherInstance, storageStore, config.Southbound.MaxBodyBytes)

	servers := []*http.Server{
		southboundReceiver.NewServer(config.Southbound.ListenAddr),
		northboundServer.NewServer(config.Northbound.ListenAddr),
	}
	if config.Metrics.Enable {
		metricsMux := http.NewServeMux()
		metricsMux.Handle(config.Metrics.Path, collector.Handler())
		servers = append(servers, &http.Server{
			Addr:              config.Metrics.ListenAddr,
			Handler:           metricsMux,
			ReadHeaderTimeout: 5 * time.Second,
		})
		logger.MetricsLog.Infof("Metrics exposed on %s%s", config.Metrics.ListenAddr, config.Metrics.Path)
	}

	return &appImpl{
		config:     config,
		bridge:     bridge,
		dispatcher: dispatcherInstance,
		store:      storageStore,
		publisher:  publisher,
		scheduler:  schedulerInstance,
		servers:    servers,
	}, nil
}

// Start implements App.Start.
func (app *appImpl) Start(ctx stdctx.Context) error {
	app.startStopMutex.Lock()
	defer app.startStopMutex.Unlock()

	if app.started {
		logger.MainLog.Warn("App.Start called more than once; ignoring subsequent call")
		return nil
	}

	if publisherError := app.publisher.Start(ctx); publisherError != nil {
		return fmt.Errorf("failed to start publisher: %w", publisherError)
	}

	for _, server := range app.servers {
		go func(server *http.Server) {
			if serveError := server.ListenAndServe(); serveError != nil && serveError != http.ErrServerClosed {
				logger.MainLog.Errorf("HTTP server on %s stopped with error: %v", server.Addr, serveError)
			}
		}(server)
	}

	if schedulerError := app.scheduler.Start(ctx); schedulerError != nil {
		return fmt.Errorf("failed to start scheduler: %w", schedulerError)
	}

	app.started = true
	logger.MainLog.Infof("E2SM-NTN successfully started (ranFunctionId=%d format=%s)",
		app.config.E2.RANFunctionID, app.config.E2.Format)
	return nil
}

// Stop implements App.Stop.
func (app *appImpl) Stop(ctx stdctx.Context) error {
	app.startStopMutex.Lock()
	defer app.startStopMutex.Unlock()

	if !app.started {
		return nil
	}

	logger.MainLog.Infof("E2SM-NTN shutdown requested")

	// Stop ingress first so nothing new reaches the publisher.
	for _, server := range app.servers {
		if shutdownError := server.Shutdown(ctx); shutdownError != nil {
			logger.MainLog.Warnf("HTTP server on %s shutdown returned error: %v", server.Addr, shutdownError)
		}
	}

	if schedulerError := app.scheduler.Stop(ctx); schedulerError != nil {
		logger.MainLog.Warnf("scheduler stop returned error: %v", schedulerError)
	}

	for _, subscription := range app.dispatcher.Subscriptions() {
		if subscription.State.Active() {
			app.dispatcher.Unsubscribe(ctx, subscription.ID)
		}
	}

	publisherError := app.publisher.Stop(ctx)

	app.started = false
	if publisherError != nil {
		return fmt.Errorf("publisher did not drain: %w", publisherError)
	}
	logger.MainLog.Infof("E2SM-NTN shutdown completed (%d UE session(s), %d archived indication(s))",
		app.bridge.Count(), app.store.Len())
	return nil
}

func geometryConfigFrom(config *factory.Config) geometry.Config {
	return geometry.Config{
		MinElevationDeg:         config.Geometry.MinElevationDeg,
		CarrierFrequencyHz:      config.Geometry.CarrierFrequencyHz,
		BandwidthHz:             config.Geometry.BandwidthHz,
		TxAntennaGainDbi:        config.Geometry.TxAntennaGainDbi,
		RxAntennaGainDbi:        config.Geometry.RxAntennaGainDbi,
		NoiseFigureDb:           config.Geometry.NoiseFigureDb,
		ZenithAtmosphericLossDb: config.Geometry.ZenithAtmosphericLossDb,
	}
}

func aggregatorConfigFrom(config *factory.Config) aggregator.Config {
	return aggregator.Config{
		MinElevationDeg:         config.Geometry.MinElevationDeg,
		LowMarginDb:             config.PowerControl.LowMarginDb,
		HighMarginDb:            config.PowerControl.HighMarginDb,
		MaxPowerStepDb:          config.PowerControl.MaxStepDb,
		PowerCeilingDbm:         config.PowerControl.CeilingDbm,
		PowerFloorDbm:           config.PowerControl.FloorDbm,
		ProbabilityMidpointSec:  config.Handover.ProbabilityMidpointSec,
		ProbabilitySteepnessSec: config.Handover.ProbabilitySteepnessSec,
		ProcessingDelayMs:       config.Performance.ProcessingDelayMs,
		UplinkThroughputRatio:   config.Performance.UplinkThroughputRatio,
	}
}

func dispatcherConfigFrom(config *factory.Config) (dispatcher.Config, error) {
	format, formatError := codec.ParseFormat(config.E2.Format)
	if formatError != nil {
		return dispatcher.Config{}, errors.Wrap(formatError, "e2.format")
	}

	allowedActions := make([]model.ActionType, 0, len(config.Control.AllowedActions))
	for _, name := range config.Control.AllowedActions {
		action, parseError := model.ParseActionType(name)
		if parseError != nil {
			return dispatcher.Config{}, errors.Wrap(parseError, "control.allowedActions")
		}
		allowedActions = append(allowedActions, action)
	}

	return dispatcher.Config{
		RANFunctionID: config.E2.RANFunctionID,
		Format:        format,
		DefaultPeriod: time.Duration(config.Reporting.PeriodMs) * time.Millisecond,
		Thresholds: dispatcher.Thresholds{
			HandoverElevationDeg: config.Reporting.HandoverElevationDeg,
			ImminentHandoverSec:  config.Reporting.ImminentHandoverSec,
			LowMarginDb:          config.Reporting.LowMarginEventDb,
		},
		AllowedActions: allowedActions,
		EndedRetention: time.Duration(config.Reporting.EndedRetentionSec) * time.Second,
		Bounds: dispatcher.ActionBounds{
			MinTxPowerDbm:        config.Control.MinTxPowerDbm,
			MaxTxPowerDbm:        config.Control.MaxTxPowerDbm,
			MaxRampDurationMs:    config.Control.MaxRampDurationMs,
			MaxExecutionDelayMs:  config.Control.MaxExecutionDelayMs,
			MaxFrequencyOffsetHz: config.Control.MaxFrequencyOffsetHz,
			MaxDopplerRateHzS:    config.Control.MaxDopplerRateHzS,
			MaxBeamID:            config.Control.MaxBeamID,
			MaxPriority:          config.Control.MaxPriority,
		},
	}, nil
}
