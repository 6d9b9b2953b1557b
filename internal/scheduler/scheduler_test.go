package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/free5gc/e2sm-ntn/internal/aggregator"
	ntnctx "github.com/free5gc/e2sm-ntn/internal/context"
	"github.com/free5gc/e2sm-ntn/internal/dispatcher"
	"github.com/free5gc/e2sm-ntn/internal/geometry"
	"github.com/free5gc/e2sm-ntn/internal/metrics"
	"github.com/free5gc/e2sm-ntn/internal/model"
	"github.com/free5gc/e2sm-ntn/internal/storage"
	"github.com/free5gc/e2sm-ntn/pkg/factory"
)

var tickBase = time.Unix(1700000000, 0)

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

func (publisher *capturingPublisher) count() int {
	publisher.mutex.Lock()
	defer publisher.mutex.Unlock()
	return len(publisher.published)
}

type fixture struct {
	scheduler  *schedulerImpl
	dispatcher dispatcher.Dispatcher
	bridge     ntnctx.SessionBridge
	publisher  *capturingPublisher
	collector  *metrics.Collector
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	engine := geometry.NewEngine(geometry.Config{
		MinElevationDeg:    10,
		CarrierFrequencyHz: 2e9,
		BandwidthHz:        20e6,
		TxAntennaGainDbi:   30,
		NoiseFigureDb:      7,
	})
	aggregatorInstance := aggregator.NewAggregator(engine, aggregator.Config{
		MinElevationDeg: 10,
		LowMarginDb:     3,
		HighMarginDb:    10,
		MaxPowerStepDb:  3,
		PowerCeilingDbm: 23,
		PowerFloorDbm:   -10,
	})
	bridge := ntnctx.NewSessionBridge(10, 5*time.Second, ntnctx.WithClock(func() time.Time { return tickBase }))

	collector, err := metrics.NewCollector(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}
	dispatcherInstance, err := dispatcher.NewDispatcher(dispatcher.Config{DefaultPeriod: time.Second},
		aggregatorInstance, bridge,
		dispatcher.WithMetrics(collector),
		dispatcher.WithClock(func() time.Time { return tickBase }))
	if err != nil {
		t.Fatalf("NewDispatcher: %v", err)
	}
	store, err := storage.NewStoreFromConfig(factory.StorageSection{Driver: "memory", TTLSec: 60})
	if err != nil {
		t.Fatalf("NewStoreFromConfig: %v", err)
	}

	publisher := &capturingPublisher{}
	schedulerInstance := NewScheduler(dispatcherInstance, bridge, publisher, store, collector, 10*time.Millisecond)
	return &fixture{
		scheduler:  schedulerInstance.(*schedulerImpl),
		dispatcher: dispatcherInstance,
		bridge:     bridge,
		publisher:  publisher,
		collector:  collector,
	}
}

func measure(t *testing.T, dispatcherInstance dispatcher.Dispatcher, ueID string) {
	t.Helper()
	indications, err := dispatcherInstance.OnMeasurement(context.Background(), model.Measurement{
		UEID:      ueID,
		Timestamp: tickBase,
		Serving: model.SatelliteObservation{
			SatelliteID: "LEO-1",
			Position:    &model.GeoPosition{LatitudeDeg: 5, AltitudeKm: 600},
			Velocity:    &model.GroundVelocity{SpeedKmS: 7.5},
		},
		ChannelQuality: model.ChannelQuality{RSRPDbm: -100, RSRQDb: -10, SINRDb: 5, BLER: 0.01, CQI: 8},
		TxPowerDbm:     20,
		RequiredSNRDb:  -5,
	})
	if err != nil {
		t.Fatalf("OnMeasurement: %v", err)
	}
	if len(indications) != 1 {
		t.Fatalf("initial indications=%d, want 1", len(indications))
	}
}

func TestProcessTickPublishesDueReports(t *testing.T) {
	fixture := newFixture(t)
	info, err := fixture.dispatcher.Subscribe(context.Background(), dispatcher.SubscriptionRequest{
		EventTriggerStyle: dispatcher.TriggerPeriodic,
		ReportStyle:       dispatcher.ReportFull,
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	measure(t, fixture.dispatcher, "ue-001")
	measure(t, fixture.dispatcher, "ue-002")

	fixture.scheduler.processTick(tickBase.Add(500 * time.Millisecond))
	if fixture.publisher.count() != 0 {
		t.Errorf("published before the period: %d", fixture.publisher.count())
	}

	fixture.scheduler.processTick(tickBase.Add(time.Second))
	if fixture.publisher.count() != 2 {
		t.Fatalf("published=%d, want 2", fixture.publisher.count())
	}
	for _, indication := range fixture.publisher.published {
		if indication.SubscriptionID != info.ID || indication.Trigger != dispatcher.TriggerNamePeriodic {
			t.Errorf("indication=%+v", indication)
		}
	}
	if got := testutil.ToFloat64(fixture.collector.ActiveSessions); got != 2 {
		t.Errorf("active sessions=%v, want 2", got)
	}
	if got := testutil.ToFloat64(fixture.collector.ActiveSubscriptions); got != 1 {
		t.Errorf("active subscriptions=%v, want 1", got)
	}
}

func TestProcessTickEvictsIdleSessions(t *testing.T) {
	fixture := newFixture(t)
	targeted, err := fixture.dispatcher.Subscribe(context.Background(), dispatcher.SubscriptionRequest{
		UEID:              "ue-001",
		EventTriggerStyle: dispatcher.TriggerPeriodic,
		ReportStyle:       dispatcher.ReportMinimal,
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	measure(t, fixture.dispatcher, "ue-001")

	fixture.scheduler.processTick(tickBase.Add(10 * time.Second))

	if fixture.publisher.count() != 0 {
		t.Errorf("evicted UE was reported: %d", fixture.publisher.count())
	}
	if _, ok := fixture.bridge.Lookup("ue-001"); ok {
		t.Error("idle UE still registered")
	}
	if state, _ := fixture.dispatcher.State(targeted.ID); state != dispatcher.StateUnsubscribed {
		t.Errorf("targeted subscription state=%s, want UNSUBSCRIBED", state)
	}
	if got := testutil.ToFloat64(fixture.collector.EvictedSessions); got != 1 {
		t.Errorf("evicted=%v, want 1", got)
	}
	if got := testutil.ToFloat64(fixture.collector.ActiveSessions); got != 0 {
		t.Errorf("active sessions=%v, want 0", got)
	}
}

func TestStartStop(t *testing.T) {
	fixture := newFixture(t)
	ctx := context.Background()

	if err := fixture.scheduler.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := fixture.scheduler.Start(ctx); err != nil {
		t.Errorf("second Start: %v", err)
	}
	time.Sleep(30 * time.Millisecond)

	stopContext, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := fixture.scheduler.Stop(stopContext); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := fixture.scheduler.Stop(stopContext); err != nil {
		t.Errorf("second Stop: %v", err)
	}
}
