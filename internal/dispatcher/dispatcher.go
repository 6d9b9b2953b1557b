// Package dispatcher implements the E2SM-NTN service model dispatcher:
//   - the RAN function catalog (event-trigger and report styles)
//   - the subscription state machine
//   - measurement handling, threshold events and periodic reports
//   - decoding and validation of inbound control messages.
//
// The dispatcher never performs network I/O and never executes control
// actions. It hands encoded buffers and validated records back to the
// caller.
package dispatcher

import (
	stdctx "context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/free5gc/e2sm-ntn/internal/aggregator"
	"github.com/free5gc/e2sm-ntn/internal/codec"
	ntnctx "github.com/free5gc/e2sm-ntn/internal/context"
	"github.com/free5gc/e2sm-ntn/internal/logger"
	"github.com/free5gc/e2sm-ntn/internal/metrics"
	"github.com/free5gc/e2sm-ntn/internal/model"
)

// Config is the static dispatcher configuration.
type Config struct {
	RANFunctionID uint16
	// Format is the encoding used for outbound indications.
	Format        codec.Format
	DefaultPeriod time.Duration
	Thresholds    Thresholds

	// EndedRetention is how long an ended subscription stays queryable
	// before it is forgotten.
	EndedRetention time.Duration

	AllowedActions []model.ActionType
	Bounds         ActionBounds
}

// DefaultEndedRetention applies when Config.EndedRetention is unset.
const DefaultEndedRetention = 5 * time.Minute

// EncodedIndication is an enveloped indication ready for the transport.
type EncodedIndication struct {
	SubscriptionID string
	UEID           string
	Style          ReportStyle
	Trigger        string
	Format         codec.Format
	RANFunctionID  uint16
	TimestampNs    int64
	// Payload is the envelope header followed by the encoded message.
	Payload []byte
}

// PositionResolver fills satellite positions that a measurement omits.
type PositionResolver interface {
	Resolve(satelliteID string, at time.Time) (model.GeoPosition, model.GroundVelocity, error)
}

// Dispatcher is the service model entry point used by the southbound
// receiver, the scheduler and the subscription API.
type Dispatcher interface {
	// Catalog returns the RAN function description.
	Catalog() RANFunctionDescription

	Subscribe(ctx stdctx.Context, request SubscriptionRequest) (SubscriptionInfo, error)
	// Unsubscribe reports whether an active subscription was stopped.
	Unsubscribe(ctx stdctx.Context, subscriptionID string) bool
	State(subscriptionID string) (SubscriptionState, bool)
	Subscriptions() []SubscriptionInfo
	ActiveSubscriptions() int

	// OnMeasurement aggregates a measurement and returns the indications
	// due for it. A serving satellite below the minimum elevation
	// suppresses the cycle and yields (nil, nil).
	OnMeasurement(ctx stdctx.Context, measurement model.Measurement) ([]EncodedIndication, error)

	// CollectDue returns the periodic indications due at now, built from
	// the latest record of each UE.
	CollectDue(ctx stdctx.Context, now time.Time) []EncodedIndication

	// OnUEEvicted drops per-UE subscription state and ends subscriptions
	// that targeted the UE.
	OnUEEvicted(ueID string)

	// OnControlMessage decodes and validates an enveloped control message.
	// The record is returned for execution elsewhere.
	OnControlMessage(ctx stdctx.Context, data []byte) (*model.NTNControlRecord, error)
}

// Option customises a Dispatcher.
type Option func(*dispatcherImpl)

// WithMetrics records dispatcher activity on collector.
func WithMetrics(collector *metrics.Collector) Option {
	return func(dispatcherInstance *dispatcherImpl) {
		dispatcherInstance.metrics = collector
	}
}

// WithClock overrides the time source used for report scheduling.
func WithClock(clock func() time.Time) Option {
	return func(dispatcherInstance *dispatcherImpl) {
		dispatcherInstance.clock = clock
	}
}

// WithPositionResolver fills missing satellite positions from resolver.
func WithPositionResolver(resolver PositionResolver) Option {
	return func(dispatcherInstance *dispatcherImpl) {
		dispatcherInstance.resolver = resolver
	}
}

type pendingReport struct {
	subscriptionID string
	style          ReportStyle
	ueID           string
	trigger        string
}

// dispatcherImpl is the concrete implementation of Dispatcher.
type dispatcherImpl struct {
	config     Config
	aggregator aggregator.Aggregator
	bridge     ntnctx.SessionBridge
	codecs     map[codec.Format]codec.Codec
	outbound   codec.Codec
	catalog    RANFunctionDescription

	metrics  *metrics.Collector
	clock    func() time.Time
	resolver PositionResolver

	allowedActionNames []string

	mutexForSubscriptions sync.Mutex
	subscriptionsByID     map[string]*subscription
}

// NewDispatcher creates a Dispatcher on top of the aggregator and the UE
// session bridge.
func NewDispatcher(
	config Config,
	aggregatorInstance aggregator.Aggregator,
	bridge ntnctx.SessionBridge,
	options ...Option,
) (Dispatcher, error) {
	if aggregatorInstance == nil || bridge == nil {
		return nil, errors.New("dispatcher: aggregator and session bridge are required")
	}
	if config.RANFunctionID == 0 {
		config.RANFunctionID = codec.DefaultRANFunctionID
	}
	if config.Format == 0 {
		config.Format = codec.FormatPER
	}
	if config.EndedRetention <= 0 {
		config.EndedRetention = DefaultEndedRetention
	}
	if config.Bounds == (ActionBounds{}) {
		config.Bounds = DefaultActionBounds()
	}
	if len(config.AllowedActions) == 0 {
		config.AllowedActions = []model.ActionType{
			model.ActionSetPower,
			model.ActionTriggerHandover,
			model.ActionCompensateDoppler,
			model.ActionSwitchBeam,
		}
	}

	codecs := make(map[codec.Format]codec.Codec, 2)
	for _, format := range []codec.Format{codec.FormatPER, codec.FormatJSON} {
		codecInstance, err := codec.New(format)
		if err != nil {
			return nil, err
		}
		codecs[format] = codecInstance
	}
	outbound, ok := codecs[config.Format]
	if !ok {
		return nil, errors.Errorf("dispatcher: unsupported outbound format %s", config.Format)
	}

	allowed := make([]string, 0, len(config.AllowedActions))
	for _, action := range config.AllowedActions {
		if !action.Valid() {
			return nil, errors.Errorf("dispatcher: invalid allowed action %s", action)
		}
		allowed = append(allowed, action.String())
	}

	dispatcherInstance := &dispatcherImpl{
		config:             config,
		aggregator:         aggregatorInstance,
		bridge:             bridge,
		codecs:             codecs,
		outbound:           outbound,
		catalog:            Catalog(config.RANFunctionID, config.AllowedActions),
		clock:              time.Now,
		allowedActionNames: allowed,
		subscriptionsByID:  make(map[string]*subscription),
	}
	for _, option := range options {
		option(dispatcherInstance)
	}
	return dispatcherInstance, nil
}

// Catalog implements Dispatcher.Catalog.
func (dispatcherInstance *dispatcherImpl) Catalog() RANFunctionDescription {
	return dispatcherInstance.catalog
}

// Subscribe implements Dispatcher.Subscribe.
func (dispatcherInstance *dispatcherImpl) Subscribe(
	ctx stdctx.Context,
	request SubscriptionRequest,
) (SubscriptionInfo, error) {
	period, err := validateSubscriptionRequest(request, dispatcherInstance.config.DefaultPeriod)
	if err != nil {
		return SubscriptionInfo{}, err
	}

	now := dispatcherInstance.clock()
	entry := &subscription{
		id:           uuid.NewString(),
		request:      request,
		period:       period,
		createdAt:    now,
		state:        StateSubscribed,
		lastReportAt: make(map[string]time.Time),
	}

	dispatcherInstance.mutexForSubscriptions.Lock()
	dispatcherInstance.pruneEndedLocked(now)
	dispatcherInstance.subscriptionsByID[entry.id] = entry
	info := entry.info()
	dispatcherInstance.mutexForSubscriptions.Unlock()

	logger.DispatcherLog.Infof("subscription created id=%s ueId=%q trigger=%s style=%s period=%s",
		entry.id, request.UEID, request.EventTriggerStyle, request.ReportStyle, period)
	return info, nil
}

// Unsubscribe implements Dispatcher.Unsubscribe.
func (dispatcherInstance *dispatcherImpl) Unsubscribe(ctx stdctx.Context, subscriptionID string) bool {
	dispatcherInstance.mutexForSubscriptions.Lock()
	defer dispatcherInstance.mutexForSubscriptions.Unlock()

	entry, ok := dispatcherInstance.subscriptionsByID[subscriptionID]
	if !ok || !entry.state.Active() {
		return false
	}
	endLocked(entry, "unsubscribe", dispatcherInstance.clock())
	return true
}

func endLocked(entry *subscription, reason string, now time.Time) {
	entry.state = StateUnsubscribed
	entry.endedAt = now
	entry.lastReportAt = make(map[string]time.Time)
	logger.DispatcherLog.Infof("subscription ended id=%s reason=%s", entry.id, reason)
}

// pruneEndedLocked forgets subscriptions that ended more than
// EndedRetention before now.
func (dispatcherInstance *dispatcherImpl) pruneEndedLocked(now time.Time) {
	for id, entry := range dispatcherInstance.subscriptionsByID {
		if entry.state != StateUnsubscribed {
			continue
		}
		if now.Sub(entry.endedAt) < dispatcherInstance.config.EndedRetention {
			continue
		}
		delete(dispatcherInstance.subscriptionsByID, id)
		logger.DispatcherLog.Debugf("subscription forgotten id=%s", id)
	}
}

// State implements Dispatcher.State.
func (dispatcherInstance *dispatcherImpl) State(subscriptionID string) (SubscriptionState, bool) {
	dispatcherInstance.mutexForSubscriptions.Lock()
	defer dispatcherInstance.mutexForSubscriptions.Unlock()

	entry, ok := dispatcherInstance.subscriptionsByID[subscriptionID]
	if !ok {
		return StateIdle, false
	}
	return entry.state, true
}

// Subscriptions implements Dispatcher.Subscriptions. The result is ordered
// by creation time.
func (dispatcherInstance *dispatcherImpl) Subscriptions() []SubscriptionInfo {
	dispatcherInstance.mutexForSubscriptions.Lock()
	infos := make([]SubscriptionInfo, 0, len(dispatcherInstance.subscriptionsByID))
	for _, entry := range dispatcherInstance.subscriptionsByID {
		infos = append(infos, entry.info())
	}
	dispatcherInstance.mutexForSubscriptions.Unlock()

	sort.Slice(infos, func(i, j int) bool {
		if infos[i].CreatedAt.Equal(infos[j].CreatedAt) {
			return infos[i].ID < infos[j].ID
		}
		return infos[i].CreatedAt.Before(infos[j].CreatedAt)
	})
	return infos
}

// ActiveSubscriptions implements Dispatcher.ActiveSubscriptions.
func (dispatcherInstance *dispatcherImpl) ActiveSubscriptions() int {
	dispatcherInstance.mutexForSubscriptions.Lock()
	defer dispatcherInstance.mutexForSubscriptions.Unlock()

	count := 0
	for _, entry := range dispatcherInstance.subscriptionsByID {
		if entry.state.Active() {
			count++
		}
	}
	return count
}

// OnMeasurement implements Dispatcher.OnMeasurement.
func (dispatcherInstance *dispatcherImpl) OnMeasurement(
	ctx stdctx.Context,
	measurement model.Measurement,
) ([]EncodedIndication, error) {
	if err := model.IdentifierField.Check(measurement.UEID); err != nil {
		return nil, &model.ValidationError{Field: "ueId", Reason: err.Error()}
	}
	if err := dispatcherInstance.resolvePositions(&measurement); err != nil {
		return nil, err
	}

	input, err := dispatcherInstance.aggregator.Evaluate(measurement)
	if err != nil {
		if model.IsBelowMinimumElevation(err) {
			logger.DispatcherLog.Debugf("cycle suppressed ueId=%s: %v", measurement.UEID, err)
			dispatcherInstance.metrics.ObserveSuppressed()
			return nil, nil
		}
		return nil, err
	}
	if err := aggregator.ValidateInput(input); err != nil {
		return nil, err
	}

	handle, err := dispatcherInstance.bridge.Register(ctx, measurement.UEID)
	if err != nil {
		return nil, err
	}

	var previous *model.NTNIndicationRecord
	record, err := dispatcherInstance.bridge.UpdateWith(ctx, handle,
		func(state *ntnctx.UESessionState) (*model.NTNIndicationRecord, error) {
			previous = state.LastRecord().Clone()
			return dispatcherInstance.aggregator.Aggregate(input, state)
		})
	if err != nil {
		return nil, err
	}

	events := detectEvents(previous, record, dispatcherInstance.config.Thresholds)
	if len(events) > 0 {
		logger.DispatcherLog.Debugf("events ueId=%s %v", record.UEID, events)
	}
	now := dispatcherInstance.clock()
	pending := dispatcherInstance.selectReports(record.UEID, events, now)
	indications, err := dispatcherInstance.encodeAll(record, pending)
	dispatcherInstance.markReported(indications, now)
	return indications, err
}

func (dispatcherInstance *dispatcherImpl) resolvePositions(measurement *model.Measurement) error {
	if dispatcherInstance.resolver == nil {
		return nil
	}
	at := measurement.Timestamp
	if at.IsZero() {
		at = dispatcherInstance.clock()
	}

	fill := func(observation *model.SatelliteObservation) error {
		if observation.Position != nil && observation.Velocity != nil {
			return nil
		}
		position, velocity, err := dispatcherInstance.resolver.Resolve(observation.SatelliteID, at)
		if err != nil {
			return err
		}
		observation.Position = &position
		observation.Velocity = &velocity
		return nil
	}

	if err := fill(&measurement.Serving); err != nil {
		return errors.Wrapf(err, "resolve serving satellite %s", measurement.Serving.SatelliteID)
	}
	candidates := make([]model.SatelliteObservation, 0, len(measurement.Candidates))
	for _, candidate := range measurement.Candidates {
		if err := fill(&candidate); err != nil {
			logger.DispatcherLog.Debugf("candidate %s skipped: %v", candidate.SatelliteID, err)
			continue
		}
		candidates = append(candidates, candidate)
	}
	measurement.Candidates = candidates
	return nil
}

// selectReports decides which subscriptions report for ueID now. Nothing
// is marked until the indication has been encoded.
func (dispatcherInstance *dispatcherImpl) selectReports(ueID string, events []string, now time.Time) []pendingReport {
	dispatcherInstance.mutexForSubscriptions.Lock()
	defer dispatcherInstance.mutexForSubscriptions.Unlock()

	var pending []pendingReport
	for _, entry := range dispatcherInstance.subscriptionsByID {
		if !entry.state.Active() || !entry.targets(ueID) {
			continue
		}

		trigger := ""
		last, seen := entry.lastReportAt[ueID]
		switch {
		case !seen:
			trigger = TriggerNameInitial
		case entry.request.EventTriggerStyle == TriggerThreshold && len(events) > 0:
			trigger = events[0]
		case entry.period > 0 && now.Sub(last) >= entry.period:
			trigger = TriggerNamePeriodic
		}
		if trigger == "" {
			continue
		}

		pending = append(pending, pendingReport{
			subscriptionID: entry.id,
			style:          entry.request.ReportStyle,
			ueID:           ueID,
			trigger:        trigger,
		})
	}
	return pending
}

// markReported records the delivered indications against their
// subscriptions. Subscriptions that ended meanwhile are left alone.
func (dispatcherInstance *dispatcherImpl) markReported(indications []EncodedIndication, now time.Time) {
	if len(indications) == 0 {
		return
	}
	dispatcherInstance.mutexForSubscriptions.Lock()
	defer dispatcherInstance.mutexForSubscriptions.Unlock()

	for _, indication := range indications {
		entry, ok := dispatcherInstance.subscriptionsByID[indication.SubscriptionID]
		if !ok || !entry.state.Active() {
			continue
		}
		markReportedLocked(entry, indication.UEID, now)
	}
}

func markReportedLocked(entry *subscription, ueID string, now time.Time) {
	if entry.state == StateSubscribed {
		entry.state = StateReporting
	}
	entry.lastReportAt[ueID] = now
	entry.reports++
}

// CollectDue implements Dispatcher.CollectDue.
func (dispatcherInstance *dispatcherImpl) CollectDue(ctx stdctx.Context, now time.Time) []EncodedIndication {
	dispatcherInstance.mutexForSubscriptions.Lock()
	dispatcherInstance.pruneEndedLocked(now)
	var pending []pendingReport
	for _, entry := range dispatcherInstance.subscriptionsByID {
		if !entry.state.Active() || entry.period <= 0 {
			continue
		}
		for ueID, last := range entry.lastReportAt {
			if now.Sub(last) < entry.period {
				continue
			}
			pending = append(pending, pendingReport{
				subscriptionID: entry.id,
				style:          entry.request.ReportStyle,
				ueID:           ueID,
				trigger:        TriggerNamePeriodic,
			})
		}
	}
	dispatcherInstance.mutexForSubscriptions.Unlock()

	var indications []EncodedIndication
	for _, report := range pending {
		snapshot, ok := dispatcherInstance.bridge.Snapshot(report.ueID)
		if !ok || snapshot.LastRecord() == nil {
			continue
		}
		indication, err := dispatcherInstance.encode(snapshot.LastRecord(), report)
		if err != nil {
			continue
		}
		indications = append(indications, indication)
	}
	dispatcherInstance.markReported(indications, now)
	return indications
}

// OnUEEvicted implements Dispatcher.OnUEEvicted.
func (dispatcherInstance *dispatcherImpl) OnUEEvicted(ueID string) {
	dispatcherInstance.mutexForSubscriptions.Lock()
	defer dispatcherInstance.mutexForSubscriptions.Unlock()

	for _, entry := range dispatcherInstance.subscriptionsByID {
		if !entry.state.Active() {
			continue
		}
		if entry.request.UEID == ueID {
			endLocked(entry, "session timeout", dispatcherInstance.clock())
			continue
		}
		delete(entry.lastReportAt, ueID)
	}
}

func (dispatcherInstance *dispatcherImpl) encodeAll(
	record *model.NTNIndicationRecord,
	pending []pendingReport,
) ([]EncodedIndication, error) {
	var (
		indications []EncodedIndication
		firstErr    error
	)
	for _, report := range pending {
		indication, err := dispatcherInstance.encode(record, report)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		indications = append(indications, indication)
	}
	return indications, firstErr
}

func (dispatcherInstance *dispatcherImpl) encode(
	record *model.NTNIndicationRecord,
	report pendingReport,
) (EncodedIndication, error) {
	start := time.Now()
	payload, err := dispatcherInstance.outbound.Encode(report.style.Project(record))
	elapsed := time.Since(start)
	if err != nil {
		logger.DispatcherLog.Errorf("encode indication ueId=%s subscription=%s: %v",
			record.UEID, report.subscriptionID, err)
		return EncodedIndication{}, err
	}

	format := dispatcherInstance.config.Format
	dispatcherInstance.metrics.ObserveIndication(report.style.String(), format.String(), report.trigger, elapsed)
	return EncodedIndication{
		SubscriptionID: report.subscriptionID,
		UEID:           record.UEID,
		Style:          report.style,
		Trigger:        report.trigger,
		Format:         format,
		RANFunctionID:  dispatcherInstance.config.RANFunctionID,
		TimestampNs:    record.TimestampNs,
		Payload:        codec.Wrap(format, dispatcherInstance.config.RANFunctionID, payload),
	}, nil
}
