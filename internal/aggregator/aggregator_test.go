package aggregator

import (
	"math"
	"testing"
	"time"

	ntnctx "github.com/free5gc/e2sm-ntn/internal/context"
	"github.com/free5gc/e2sm-ntn/internal/geometry"
	"github.com/free5gc/e2sm-ntn/internal/model"
)

func testConfig() Config {
	return Config{
		MinElevationDeg:         10,
		LowMarginDb:             3,
		HighMarginDb:            10,
		MaxPowerStepDb:          3,
		PowerCeilingDbm:         43,
		PowerFloorDbm:           0,
		ProbabilityMidpointSec:  30,
		ProbabilitySteepnessSec: 6,
		ProcessingDelayMs:       4,
		UplinkThroughputRatio:   0.5,
	}
}

func testEngine() *geometry.Engine {
	return geometry.NewEngine(geometry.Config{
		MinElevationDeg:         10,
		CarrierFrequencyHz:      2e9,
		BandwidthHz:             20e6,
		TxAntennaGainDbi:        30,
		RxAntennaGainDbi:        0,
		NoiseFigureDb:           7,
		ZenithAtmosphericLossDb: 0.5,
	})
}

func newTestAggregator() *aggregatorImpl {
	return NewAggregator(testEngine(), testConfig()).(*aggregatorImpl)
}

func observation(id string, latitudeDeg float64, headingDeg float64) model.SatelliteObservation {
	return model.SatelliteObservation{
		SatelliteID: id,
		OrbitType:   model.OrbitLEO,
		BeamID:      7,
		Position:    &model.GeoPosition{LatitudeDeg: latitudeDeg, AltitudeKm: 600},
		Velocity:    &model.GroundVelocity{SpeedKmS: 7.5, HeadingDeg: headingDeg},
	}
}

func testMeasurement() model.Measurement {
	return model.Measurement{
		UEID:       "ue-001",
		Timestamp:  time.Unix(1700000000, 0),
		UEPosition: model.GeoPosition{},
		// Moving north away from the UE: setting.
		Serving: observation("LEO-1", 5, 0),
		Candidates: []model.SatelliteObservation{
			// Approaching from the south: rising and higher.
			observation("LEO-2", -3, 0),
			// Far away: below the minimum elevation.
			observation("LEO-3", 30, 0),
		},
		ChannelQuality: model.ChannelQuality{
			RSRPDbm: -105.5,
			RSRQDb:  -11.2,
			SINRDb:  6.4,
			BLER:    0.02,
			CQI:     9,
		},
		TxPowerDbm:    23,
		RequiredSNRDb: -5,
	}
}

func TestTimeToHandover_LEOPass(t *testing.T) {
	timeToHandover, setting := TimeToHandover(45.3, -0.42, 10)
	if !setting {
		t.Fatal("expected a setting satellite")
	}
	expected := 84.0
	if math.Abs(timeToHandover-expected)/expected > 0.05 {
		t.Errorf("time to handover=%v, want %v +/-5%%", timeToHandover, expected)
	}
}

func TestTimeToHandover_RisingHasNoHandover(t *testing.T) {
	if _, setting := TimeToHandover(30, 0.3, 10); setting {
		t.Error("rising satellite must not predict a handover")
	}
	if _, setting := TimeToHandover(30, 0, 10); setting {
		t.Error("stationary satellite must not predict a handover")
	}

	aggregatorInstance := newTestAggregator()
	prediction := aggregatorInstance.PredictHandover(model.SatelliteGeometry{
		ElevationDeg:        30,
		AngularVelocityDegS: 0.3,
	}, nil)
	if prediction.TimeToHandoverSec != nil {
		t.Errorf("time to handover=%v, want nil", *prediction.TimeToHandoverSec)
	}
	if prediction.HandoverProbability != 0 {
		t.Errorf("probability=%v, want 0", prediction.HandoverProbability)
	}
	if prediction.TriggerThresholdDeg != 10 {
		t.Errorf("trigger threshold=%v, want 10", prediction.TriggerThresholdDeg)
	}
}

func TestTimeToHandover_DecreasesAsSatelliteSets(t *testing.T) {
	previous := math.Inf(1)
	for elevation := 60.0; elevation >= 10; elevation -= 2.5 {
		timeToHandover, setting := TimeToHandover(elevation, -0.4, 10)
		if !setting {
			t.Fatalf("elevation=%v: expected setting", elevation)
		}
		if timeToHandover >= previous {
			t.Errorf("elevation=%v: time to handover %v not below %v", elevation, timeToHandover, previous)
		}
		previous = timeToHandover
	}
	if previous != 0 {
		t.Errorf("time to handover at threshold=%v, want 0", previous)
	}
}

func TestHandoverProbability(t *testing.T) {
	if probability := HandoverProbability(0, 30, 6); probability != 1 {
		t.Errorf("p(0)=%v, want 1", probability)
	}
	if probability := HandoverProbability(30, 30, 6); math.Abs(probability-0.5) > 0.01 {
		t.Errorf("p(midpoint)=%v, want about 0.5", probability)
	}
	if probability := HandoverProbability(600, 30, 6); probability > 1e-6 {
		t.Errorf("p(600)=%v, want about 0", probability)
	}

	previous := 1.0
	for seconds := 1.0; seconds <= 300; seconds++ {
		probability := HandoverProbability(seconds, 30, 6)
		if probability < 0 || probability > 1 {
			t.Fatalf("p(%v)=%v outside [0, 1]", seconds, probability)
		}
		if probability > previous {
			t.Fatalf("p(%v)=%v increased from %v", seconds, probability, previous)
		}
		previous = probability
	}
}

func TestRecommendPower(t *testing.T) {
	aggregatorInstance := newTestAggregator()

	testCases := []struct {
		name         string
		txPowerDbm   float64
		linkMarginDb float64
		action       model.PowerAction
		deltaDb      float64
		targetDbm    float64
	}{
		{"hold inside band", 20, 5, model.PowerHold, 0, 20},
		{"small increase", 20, 1, model.PowerIncrease, 2, 22},
		{"increase bounded by step", 20, -5, model.PowerIncrease, 3, 23},
		{"increase bounded by ceiling", 42, -5, model.PowerIncrease, 1, 43},
		{"at ceiling holds", 43, -5, model.PowerHold, 0, 43},
		{"decrease bounded by step", 20, 20, model.PowerDecrease, -3, 17},
		{"decrease bounded by floor", 1, 20, model.PowerDecrease, -1, 0},
		{"at floor holds", 0, 20, model.PowerHold, 0, 0},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			recommendation := aggregatorInstance.RecommendPower(model.LinkBudget{
				TxPowerDbm:   testCase.txPowerDbm,
				LinkMarginDb: testCase.linkMarginDb,
			})
			if recommendation.Action != testCase.action {
				t.Errorf("action=%v, want %v", recommendation.Action, testCase.action)
			}
			if math.Abs(recommendation.DeltaDb-testCase.deltaDb) > 1e-9 {
				t.Errorf("delta=%v, want %v", recommendation.DeltaDb, testCase.deltaDb)
			}
			if math.Abs(recommendation.TargetTxPowerDbm-testCase.targetDbm) > 1e-9 {
				t.Errorf("target=%v, want %v", recommendation.TargetTxPowerDbm, testCase.targetDbm)
			}
		})
	}
}

func TestAggregate_FullRecord(t *testing.T) {
	aggregatorInstance := newTestAggregator()
	measurement := testMeasurement()

	input, err := aggregatorInstance.Evaluate(measurement)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(input.Candidates) != 1 || input.Candidates[0].SatelliteID != "LEO-2" {
		t.Fatalf("candidates=%+v, want only LEO-2", input.Candidates)
	}

	state := &ntnctx.UESessionState{UEID: measurement.UEID}
	record, err := aggregatorInstance.Aggregate(input, state)
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}

	if record.UEID != "ue-001" || record.SatelliteID != "LEO-1" || record.BeamID != 7 {
		t.Errorf("identity fields wrong: %+v", record)
	}
	if record.TimestampNs != measurement.Timestamp.UnixNano() {
		t.Errorf("timestamp=%d, want %d", record.TimestampNs, measurement.Timestamp.UnixNano())
	}
	if record.Geometry.ElevationDeg < 40 || record.Geometry.ElevationDeg > 47 {
		t.Errorf("elevation=%v, want about 43", record.Geometry.ElevationDeg)
	}
	if record.Geometry.AngularVelocityDegS >= 0 {
		t.Errorf("angular velocity=%v, want negative", record.Geometry.AngularVelocityDegS)
	}
	if record.Impairments.DopplerShiftHz >= 0 {
		t.Errorf("doppler=%v, want negative for a receding satellite", record.Impairments.DopplerShiftHz)
	}
	if record.Handover.TimeToHandoverSec == nil || *record.Handover.TimeToHandoverSec <= 0 {
		t.Fatalf("time to handover missing: %+v", record.Handover)
	}
	if record.Handover.NextSatelliteID == nil || *record.Handover.NextSatelliteID != "LEO-2" {
		t.Errorf("next satellite=%v, want LEO-2", record.Handover.NextSatelliteID)
	}
	if record.PowerControl.Action != model.PowerIncrease {
		t.Errorf("power action=%v, want INCREASE for margin %v",
			record.PowerControl.Action, record.LinkBudget.LinkMarginDb)
	}

	expectedLatency := 2*input.Impairments.PropagationDelayMs + 4
	if math.Abs(record.Performance.LatencyMs-expectedLatency) > 0.01 {
		t.Errorf("latency=%v, want %v", record.Performance.LatencyMs, expectedLatency)
	}
	if record.Performance.PacketLossRate != 0.02 {
		t.Errorf("packet loss=%v, want 0.02", record.Performance.PacketLossRate)
	}
	if record.Performance.DLThroughputMbps <= 0 {
		t.Errorf("downlink throughput=%v, want positive", record.Performance.DLThroughputMbps)
	}

	if state.LastGeometry == nil || *state.LastGeometry != *record.Geometry {
		t.Errorf("state geometry=%+v, want %+v", state.LastGeometry, record.Geometry)
	}
	if state.LastPrediction == nil || state.LastPrediction == record.Handover {
		t.Error("state prediction must be a private copy of the record's prediction")
	}
}

func TestAggregate_KeepsSuppliedPerformance(t *testing.T) {
	aggregatorInstance := newTestAggregator()
	measurement := testMeasurement()
	measurement.Performance = &model.PerformanceMetrics{
		DLThroughputMbps: 120.5,
		ULThroughputMbps: 20.25,
		LatencyMs:        31.5,
		PacketLossRate:   0.001,
	}

	input, err := aggregatorInstance.Evaluate(measurement)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	record, err := aggregatorInstance.Aggregate(input, nil)
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if *record.Performance != *measurement.Performance {
		t.Errorf("performance=%+v, want %+v", record.Performance, measurement.Performance)
	}
}

func TestEvaluate_BelowMinimumElevation(t *testing.T) {
	aggregatorInstance := newTestAggregator()
	measurement := testMeasurement()
	measurement.Serving = observation("LEO-1", 22, 0)

	if _, err := aggregatorInstance.Evaluate(measurement); !model.IsBelowMinimumElevation(err) {
		t.Errorf("err=%v, want below-minimum geometry error", err)
	}
}

func TestAggregate_RejectsInvalidChannelQuality(t *testing.T) {
	aggregatorInstance := newTestAggregator()

	testCases := []struct {
		name   string
		mutate func(*model.ChannelQuality)
		field  string
	}{
		{"rsrp", func(channelQuality *model.ChannelQuality) { channelQuality.RSRPDbm = -200 }, "channelQuality.rsrpDbm"},
		{"bler", func(channelQuality *model.ChannelQuality) { channelQuality.BLER = 1.5 }, "channelQuality.bler"},
		{"cqi", func(channelQuality *model.ChannelQuality) { channelQuality.CQI = 16 }, "channelQuality.cqi"},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			input, err := aggregatorInstance.Evaluate(testMeasurement())
			if err != nil {
				t.Fatalf("evaluate: %v", err)
			}
			testCase.mutate(&input.ChannelQuality)

			_, err = aggregatorInstance.Aggregate(input, nil)
			validationError, ok := model.AsValidationError(err)
			if !ok {
				t.Fatalf("err=%v, want ValidationError", err)
			}
			if validationError.Field != testCase.field {
				t.Errorf("field=%s, want %s", validationError.Field, testCase.field)
			}
		})
	}
}

func TestAggregate_RejectsInvalidMeasurementValues(t *testing.T) {
	aggregatorInstance := newTestAggregator()

	testCases := []struct {
		name   string
		mutate func(*model.Measurement)
		field  string
	}{
		{"zero timestamp", func(measurement *model.Measurement) { measurement.Timestamp = time.Time{} }, "timestamp"},
		{"before epoch", func(measurement *model.Measurement) { measurement.Timestamp = time.Unix(-60, 0) }, "timestamp"},
		{"tx power", func(measurement *model.Measurement) { measurement.TxPowerDbm = 70 }, "txPowerDbm"},
		{"required snr", func(measurement *model.Measurement) { measurement.RequiredSNRDb = -25 }, "requiredSnrDb"},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			measurement := testMeasurement()
			testCase.mutate(&measurement)
			input, err := aggregatorInstance.Evaluate(measurement)
			if err != nil {
				t.Fatalf("evaluate: %v", err)
			}

			state := &ntnctx.UESessionState{}
			_, err = aggregatorInstance.Aggregate(input, state)
			validationError, ok := model.AsValidationError(err)
			if !ok {
				t.Fatalf("err=%v, want ValidationError", err)
			}
			if validationError.Field != testCase.field {
				t.Errorf("field=%s, want %s", validationError.Field, testCase.field)
			}
			if state.LastGeometry != nil || state.LastPrediction != nil {
				t.Error("rejected input must not touch the session state")
			}
		})
	}
}

func TestAggregate_AcceptsOffGridChannelQuality(t *testing.T) {
	aggregatorInstance := newTestAggregator()
	measurement := testMeasurement()
	measurement.ChannelQuality.RSRPDbm = -105.57
	measurement.TxPowerDbm = 23.04

	input, err := aggregatorInstance.Evaluate(measurement)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	record, err := aggregatorInstance.Aggregate(input, nil)
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if record.ChannelQuality.RSRPDbm != -105.6 {
		t.Errorf("rsrp=%v, want -105.6", record.ChannelQuality.RSRPDbm)
	}
	if record.LinkBudget.TxPowerDbm != 23 {
		t.Errorf("tx power=%v, want 23", record.LinkBudget.TxPowerDbm)
	}
}
