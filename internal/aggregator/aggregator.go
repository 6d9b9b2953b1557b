// Package aggregator implements the metric aggregation step of the
// E2SM-NTN function. It turns a raw measurement into one NTN indication
// record:
//   - runs the geometry engine for the serving and candidate satellites
//   - validates the externally supplied timestamp, powers and channel quality
//   - predicts time-to-handover, handover probability and the next satellite
//   - produces an advisory power-control recommendation
//   - estimates performance KPMs when the measurement does not carry them
//   - records the latest geometry and prediction in the UE session state.
package aggregator

import (
	"math"
	"sort"
	"time"

	"github.com/pkg/errors"

	ntnctx "github.com/free5gc/e2sm-ntn/internal/context"
	"github.com/free5gc/e2sm-ntn/internal/geometry"
	"github.com/free5gc/e2sm-ntn/internal/logger"
	"github.com/free5gc/e2sm-ntn/internal/model"
)

// Config holds the aggregation thresholds.
type Config struct {
	// MinElevationDeg is the handover trigger elevation.
	MinElevationDeg float64

	LowMarginDb     float64
	HighMarginDb    float64
	MaxPowerStepDb  float64
	PowerCeilingDbm float64
	PowerFloorDbm   float64

	// ProbabilityMidpointSec and ProbabilitySteepnessSec shape the logistic
	// handover probability curve.
	ProbabilityMidpointSec  float64
	ProbabilitySteepnessSec float64

	// ProcessingDelayMs is added to the two-way propagation delay when the
	// round-trip latency has to be estimated.
	ProcessingDelayMs float64
	// UplinkThroughputRatio scales the estimated downlink throughput into
	// the uplink estimate.
	UplinkThroughputRatio float64
}

// Candidate is a non-serving satellite considered for the next handover.
type Candidate struct {
	SatelliteID string
	Geometry    model.SatelliteGeometry
}

// Input carries everything one aggregation cycle needs.
type Input struct {
	UEID        string
	SatelliteID string
	OrbitType   model.OrbitType
	BeamID      int
	Timestamp   time.Time

	Geometry       model.SatelliteGeometry
	ChannelQuality model.ChannelQuality
	Impairments    model.NTNImpairments
	LinkBudget     model.LinkBudget
	// Performance is optional; nil means estimate from the link.
	Performance *model.PerformanceMetrics
	Candidates  []Candidate
}

// Aggregator is the abstraction used by the dispatcher to turn measurements
// into indication records.
type Aggregator interface {
	// Evaluate runs the geometry engine for a measurement. A serving
	// satellite below the minimum elevation yields a GeometryError with
	// BelowMinimum set; candidates below the minimum are skipped.
	Evaluate(measurement model.Measurement) (Input, error)

	// Aggregate builds the indication record and updates state with the
	// latest geometry and handover prediction. state is borrowed for the
	// duration of the call.
	Aggregate(input Input, state *ntnctx.UESessionState) (*model.NTNIndicationRecord, error)
}

// aggregatorImpl is the concrete implementation of Aggregator.
type aggregatorImpl struct {
	engine *geometry.Engine
	config Config
}

// NewAggregator creates an Aggregator on top of the geometry engine.
func NewAggregator(engine *geometry.Engine, config Config) Aggregator {
	if config.ProbabilitySteepnessSec <= 0 {
		config.ProbabilitySteepnessSec = 6
	}
	if config.ProbabilityMidpointSec <= 0 {
		config.ProbabilityMidpointSec = 30
	}
	if config.UplinkThroughputRatio <= 0 {
		config.UplinkThroughputRatio = 0.5
	}

	return &aggregatorImpl{
		engine: engine,
		config: config,
	}
}

// Evaluate implements Aggregator.Evaluate.
func (aggregatorInstance *aggregatorImpl) Evaluate(measurement model.Measurement) (Input, error) {
	serving := measurement.Serving
	if serving.Position == nil || serving.Velocity == nil {
		return Input{}, &model.GeometryError{Reason: "serving satellite " + serving.SatelliteID + " has no position"}
	}

	linkGeometry, geometryError := aggregatorInstance.engine.ComputeGeometry(
		measurement.UEPosition,
		*serving.Position,
		*serving.Velocity,
	)
	if geometryError != nil {
		return Input{}, errors.Wrapf(geometryError, "serving satellite %s", serving.SatelliteID)
	}

	candidates := make([]Candidate, 0, len(measurement.Candidates))
	for _, observation := range measurement.Candidates {
		if observation.SatelliteID == serving.SatelliteID || observation.Position == nil || observation.Velocity == nil {
			continue
		}
		candidateGeometry, candidateError := aggregatorInstance.engine.ComputeGeometry(
			measurement.UEPosition,
			*observation.Position,
			*observation.Velocity,
		)
		if candidateError != nil {
			logger.AggregatorLog.Debugf(
				"skipping candidate satelliteId=%s for ueId=%s: %v",
				observation.SatelliteID, measurement.UEID, candidateError,
			)
			continue
		}
		candidates = append(candidates, Candidate{
			SatelliteID: observation.SatelliteID,
			Geometry:    candidateGeometry.SatelliteGeometry,
		})
	}

	return Input{
		UEID:        measurement.UEID,
		SatelliteID: serving.SatelliteID,
		OrbitType:   serving.OrbitType,
		BeamID:      serving.BeamID,
		Timestamp:   measurement.Timestamp,

		Geometry:       linkGeometry.SatelliteGeometry,
		ChannelQuality: measurement.ChannelQuality,
		Impairments:    aggregatorInstance.engine.ComputeImpairments(linkGeometry, measurement.WeatherAttenuationDb),
		LinkBudget: aggregatorInstance.engine.ComputeLinkBudget(
			linkGeometry,
			measurement.TxPowerDbm,
			measurement.RequiredSNRDb,
			measurement.WeatherAttenuationDb,
		),
		Performance: measurement.Performance,
		Candidates:  candidates,
	}, nil
}

// Aggregate implements Aggregator.Aggregate.
func (aggregatorInstance *aggregatorImpl) Aggregate(
	input Input,
	state *ntnctx.UESessionState,
) (*model.NTNIndicationRecord, error) {
	if validationError := ValidateInput(input); validationError != nil {
		return nil, validationError
	}

	prediction := aggregatorInstance.PredictHandover(input.Geometry, input.Candidates)
	recommendation := aggregatorInstance.RecommendPower(input.LinkBudget)

	performance := input.Performance
	if performance == nil {
		estimated := aggregatorInstance.estimatePerformance(input)
		performance = &estimated
	}

	geometrySection := input.Geometry
	channelQuality := input.ChannelQuality
	impairments := input.Impairments
	linkBudget := input.LinkBudget
	performanceSection := *performance

	record := (&model.NTNIndicationRecord{
		TimestampNs:    input.Timestamp.UnixNano(),
		SatelliteID:    input.SatelliteID,
		OrbitType:      input.OrbitType,
		BeamID:         input.BeamID,
		UEID:           input.UEID,
		Geometry:       &geometrySection,
		ChannelQuality: &channelQuality,
		Impairments:    &impairments,
		LinkBudget:     &linkBudget,
		Handover:       &prediction,
		Performance:    &performanceSection,
		PowerControl:   &recommendation,
	}).Quantized()

	if state != nil {
		lastGeometry := *record.Geometry
		state.LastGeometry = &lastGeometry
		state.LastPrediction = record.Clone().Handover
	}

	logger.AggregatorLog.Debugf(
		"aggregated ueId=%s satelliteId=%s elevation=%.2f margin=%.1f power=%s",
		record.UEID, record.SatelliteID, record.Geometry.ElevationDeg,
		record.LinkBudget.LinkMarginDb, record.PowerControl.Action,
	)

	return record, nil
}

// latestTimestamp is the last instant whose UnixNano fits an int64.
var latestTimestamp = time.Unix(0, math.MaxInt64)

// ValidateInput checks the externally supplied parts of an evaluated
// measurement against the wire ranges. A failing input must not reach the
// UE session state.
func ValidateInput(input Input) error {
	if input.UEID == "" {
		return &model.ValidationError{Field: "ueId", Reason: "must not be empty"}
	}
	if input.Timestamp.IsZero() {
		return &model.ValidationError{Field: "timestamp", Reason: "must be set"}
	}
	if input.Timestamp.After(latestTimestamp) {
		return &model.ValidationError{Field: "timestamp", Reason: "beyond the nanosecond range"}
	}
	if err := model.TimestampField.Check(input.Timestamp.UnixNano()); err != nil {
		return &model.ValidationError{Field: "timestamp", Reason: err.Error()}
	}
	if err := model.TxPowerField.InRange(input.LinkBudget.TxPowerDbm); err != nil {
		return &model.ValidationError{Field: "txPowerDbm", Reason: err.Error()}
	}
	if err := model.RequiredSNRField.InRange(input.LinkBudget.RequiredSNRDb); err != nil {
		return &model.ValidationError{Field: "requiredSnrDb", Reason: err.Error()}
	}
	return ValidateChannelQuality(input.ChannelQuality)
}

// ValidateChannelQuality checks the externally supplied sample against the
// wire ranges before it is used. Values between grid points are accepted
// and quantized later.
func ValidateChannelQuality(channelQuality model.ChannelQuality) error {
	checks := []struct {
		constraint model.FieldConstraint
		value      float64
	}{
		{model.RSRPField, channelQuality.RSRPDbm},
		{model.RSRQField, channelQuality.RSRQDb},
		{model.SINRField, channelQuality.SINRDb},
		{model.BLERField, channelQuality.BLER},
	}
	for _, check := range checks {
		if err := check.constraint.InRange(check.value); err != nil {
			return &model.ValidationError{Field: "channelQuality." + check.constraint.Name, Reason: err.Error()}
		}
	}
	if err := model.CQIField.Check(int64(channelQuality.CQI)); err != nil {
		return &model.ValidationError{Field: "channelQuality.cqi", Reason: err.Error()}
	}
	return nil
}

// PredictHandover computes the handover prediction for the serving
// geometry. Time-to-handover is only defined while the satellite sets.
func (aggregatorInstance *aggregatorImpl) PredictHandover(
	servingGeometry model.SatelliteGeometry,
	candidates []Candidate,
) model.HandoverPrediction {
	prediction := model.HandoverPrediction{
		TriggerThresholdDeg: aggregatorInstance.config.MinElevationDeg,
	}

	timeToHandover, setting := TimeToHandover(
		servingGeometry.ElevationDeg,
		servingGeometry.AngularVelocityDegS,
		aggregatorInstance.config.MinElevationDeg,
	)
	if setting {
		timeToHandover = math.Min(timeToHandover, model.TimeToHandoverField.Max)
		prediction.TimeToHandoverSec = model.Float(timeToHandover)
		prediction.HandoverProbability = HandoverProbability(
			timeToHandover,
			aggregatorInstance.config.ProbabilityMidpointSec,
			aggregatorInstance.config.ProbabilitySteepnessSec,
		)
	}

	if next, found := selectNextSatellite(candidates, aggregatorInstance.config.MinElevationDeg); found {
		prediction.NextSatelliteID = model.String(next.SatelliteID)
		prediction.NextSatelliteElevationDeg = model.Float(next.Geometry.ElevationDeg)
	}

	return prediction
}

// TimeToHandover returns the seconds until the elevation reaches
// minElevationDeg. The second result is false while the satellite is not
// setting, in which case no handover is foreseen.
func TimeToHandover(elevationDeg, angularVelocityDegS, minElevationDeg float64) (float64, bool) {
	if angularVelocityDegS >= 0 {
		return 0, false
	}
	remaining := elevationDeg - minElevationDeg
	if remaining < 0 {
		remaining = 0
	}
	return remaining / math.Abs(angularVelocityDegS), true
}

// HandoverProbability is a logistic curve in time-to-handover normalised so
// that it equals 1 at zero seconds and decays to 0 far from the threshold:
//
//	p(t) = (1 + e^(-m/k)) / (1 + e^((t-m)/k))
func HandoverProbability(timeToHandoverSec, midpointSec, steepnessSec float64) float64 {
	if timeToHandoverSec <= 0 {
		return 1
	}
	numerator := 1 + math.Exp(-midpointSec/steepnessSec)
	probability := numerator / (1 + math.Exp((timeToHandoverSec-midpointSec)/steepnessSec))
	return math.Min(math.Max(probability, 0), 1)
}

// selectNextSatellite picks the highest usable candidate; rising satellites
// win ties.
func selectNextSatellite(candidates []Candidate, minElevationDeg float64) (Candidate, bool) {
	usable := make([]Candidate, 0, len(candidates))
	for _, candidate := range candidates {
		if candidate.Geometry.ElevationDeg >= minElevationDeg {
			usable = append(usable, candidate)
		}
	}
	if len(usable) == 0 {
		return Candidate{}, false
	}
	sort.SliceStable(usable, func(i, j int) bool {
		if usable[i].Geometry.ElevationDeg != usable[j].Geometry.ElevationDeg {
			return usable[i].Geometry.ElevationDeg > usable[j].Geometry.ElevationDeg
		}
		return usable[i].Geometry.AngularVelocityDegS > usable[j].Geometry.AngularVelocityDegS
	})
	return usable[0], true
}

// RecommendPower derives the advisory power-control recommendation from
// the link margin. Steps are bounded by MaxPowerStepDb and the resulting
// power by [PowerFloorDbm, PowerCeilingDbm].
func (aggregatorInstance *aggregatorImpl) RecommendPower(linkBudget model.LinkBudget) model.PowerControlRecommendation {
	config := aggregatorInstance.config
	current := linkBudget.TxPowerDbm
	recommendation := model.PowerControlRecommendation{
		Action:           model.PowerHold,
		TargetTxPowerDbm: current,
	}

	switch {
	case linkBudget.LinkMarginDb < config.LowMarginDb:
		step := math.Min(config.MaxPowerStepDb, config.LowMarginDb-linkBudget.LinkMarginDb)
		target := math.Min(current+step, config.PowerCeilingDbm)
		if target > current {
			recommendation.Action = model.PowerIncrease
			recommendation.DeltaDb = target - current
			recommendation.TargetTxPowerDbm = target
		}
	case linkBudget.LinkMarginDb > config.HighMarginDb:
		step := math.Min(config.MaxPowerStepDb, linkBudget.LinkMarginDb-config.HighMarginDb)
		target := math.Max(current-step, config.PowerFloorDbm)
		if target < current {
			recommendation.Action = model.PowerDecrease
			recommendation.DeltaDb = target - current
			recommendation.TargetTxPowerDbm = target
		}
	}

	return recommendation
}

// estimatePerformance fills in KPMs for measurements that do not carry
// them: RTT from the two-way propagation delay, throughput from the
// Shannon bound scaled by (1 - BLER), packet loss from BLER.
func (aggregatorInstance *aggregatorImpl) estimatePerformance(input Input) model.PerformanceMetrics {
	bandwidthHz := aggregatorInstance.engine.Config().BandwidthHz
	sinrLinear := math.Pow(10, input.ChannelQuality.SINRDb/10)
	downlink := bandwidthHz * math.Log2(1+sinrLinear) * (1 - input.ChannelQuality.BLER) / 1e6
	downlink = math.Min(math.Max(downlink, 0), model.ThroughputField.Max)

	latency := 2*input.Impairments.PropagationDelayMs + aggregatorInstance.config.ProcessingDelayMs
	latency = math.Min(latency, model.LatencyField.Max)

	return model.PerformanceMetrics{
		DLThroughputMbps: downlink,
		ULThroughputMbps: downlink * aggregatorInstance.config.UplinkThroughputRatio,
		LatencyMs:        latency,
		PacketLossRate:   input.ChannelQuality.BLER,
	}
}
