package geometry

import (
	"math"
	"testing"

	"github.com/free5gc/e2sm-ntn/internal/model"
)

func testEngine(minElevationDeg float64) *Engine {
	return NewEngine(Config{
		MinElevationDeg:         minElevationDeg,
		CarrierFrequencyHz:      2e9,
		BandwidthHz:             5e6,
		TxAntennaGainDbi:        0,
		RxAntennaGainDbi:        35,
		NoiseFigureDb:           5,
		ZenithAtmosphericLossDb: 0.5,
	})
}

func almostEqual(a, b, tolerance float64) bool {
	return math.Abs(a-b) <= tolerance
}

func TestComputeGeometry_Overhead(t *testing.T) {
	engine := testEngine(10)
	ue := model.GeoPosition{LatitudeDeg: 48.1, LongitudeDeg: 11.6}
	satellite := model.GeoPosition{LatitudeDeg: 48.1, LongitudeDeg: 11.6, AltitudeKm: 600}

	geometry, err := engine.ComputeGeometry(ue, satellite, model.GroundVelocity{SpeedKmS: 7.5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if geometry.ElevationDeg != 90 {
		t.Errorf("elevation=%v, want 90", geometry.ElevationDeg)
	}
	if !almostEqual(geometry.SlantRangeKm, 600, 1e-9) {
		t.Errorf("slant range=%v, want 600", geometry.SlantRangeKm)
	}
	if !almostEqual(SlantRangeAtElevation(90, 600), 600, 1e-9) {
		t.Errorf("SlantRangeAtElevation(90)=%v, want 600", SlantRangeAtElevation(90, 600))
	}
}

func TestComputeGeometry_Horizon(t *testing.T) {
	const altitude = 600.0
	engine := testEngine(-1)

	// Place the sub-satellite point exactly at the horizon central angle.
	gamma := math.Acos(EarthRadiusKm / (EarthRadiusKm + altitude))
	ue := model.GeoPosition{}
	satellite := model.GeoPosition{LatitudeDeg: radToDeg(gamma), AltitudeKm: altitude}

	geometry, err := engine.ComputeGeometry(ue, satellite, model.GroundVelocity{SpeedKmS: 7.5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !almostEqual(geometry.ElevationDeg, 0, 1e-6) {
		t.Errorf("elevation=%v, want 0", geometry.ElevationDeg)
	}
	if !almostEqual(geometry.SlantRangeKm, HorizonRangeKm(altitude), 1e-6) {
		t.Errorf("slant range=%v, want %v", geometry.SlantRangeKm, HorizonRangeKm(altitude))
	}
	if !almostEqual(SlantRangeAtElevation(0, altitude), HorizonRangeKm(altitude), 1e-9) {
		t.Errorf("SlantRangeAtElevation(0)=%v, want %v", SlantRangeAtElevation(0, altitude), HorizonRangeKm(altitude))
	}
}

func TestComputeGeometry_BelowMinimum(t *testing.T) {
	engine := testEngine(10)
	ue := model.GeoPosition{}
	// 22 deg of central angle puts a 600 km satellite just above the horizon.
	satellite := model.GeoPosition{LatitudeDeg: 22, AltitudeKm: 600}

	geometry, err := engine.ComputeGeometry(ue, satellite, model.GroundVelocity{SpeedKmS: 7.5})
	if err == nil {
		t.Fatal("expected below-minimum error")
	}
	if !model.IsBelowMinimumElevation(err) {
		t.Fatalf("expected below-minimum geometry error, got %v", err)
	}
	if geometry.ElevationDeg >= 10 || geometry.ElevationDeg < 0 {
		t.Errorf("unexpected elevation %v", geometry.ElevationDeg)
	}
}

func TestComputeGeometry_InvalidInputs(t *testing.T) {
	engine := testEngine(10)
	cases := []struct {
		name      string
		ue        model.GeoPosition
		satellite model.GeoPosition
		velocity  model.GroundVelocity
	}{
		{"satellite below UE", model.GeoPosition{AltitudeKm: 1}, model.GeoPosition{AltitudeKm: 0.5}, model.GroundVelocity{}},
		{"latitude out of range", model.GeoPosition{LatitudeDeg: 91}, model.GeoPosition{AltitudeKm: 600}, model.GroundVelocity{}},
		{"NaN longitude", model.GeoPosition{LongitudeDeg: math.NaN()}, model.GeoPosition{AltitudeKm: 600}, model.GroundVelocity{}},
		{"too fast", model.GeoPosition{}, model.GeoPosition{AltitudeKm: 600}, model.GroundVelocity{SpeedKmS: 20}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := engine.ComputeGeometry(tc.ue, tc.satellite, tc.velocity)
			if err == nil {
				t.Fatal("expected error")
			}
			if model.IsBelowMinimumElevation(err) {
				t.Fatalf("degenerate input must not be reported as below minimum: %v", err)
			}
		})
	}
}

func TestComputeGeometry_AzimuthQuadrants(t *testing.T) {
	engine := testEngine(0)
	ue := model.GeoPosition{}
	cases := []struct {
		satellite model.GeoPosition
		want      float64
	}{
		{model.GeoPosition{LatitudeDeg: 5, AltitudeKm: 600}, 0},
		{model.GeoPosition{LongitudeDeg: 5, AltitudeKm: 600}, 90},
		{model.GeoPosition{LatitudeDeg: -5, AltitudeKm: 600}, 180},
		{model.GeoPosition{LongitudeDeg: -5, AltitudeKm: 600}, 270},
	}

	for _, tc := range cases {
		geometry, err := engine.ComputeGeometry(ue, tc.satellite, model.GroundVelocity{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !almostEqual(geometry.AzimuthDeg, tc.want, 1e-6) {
			t.Errorf("satellite %+v: azimuth=%v, want %v", tc.satellite, geometry.AzimuthDeg, tc.want)
		}
		if geometry.AzimuthDeg < 0 || geometry.AzimuthDeg >= 360 {
			t.Errorf("azimuth %v not normalised", geometry.AzimuthDeg)
		}
	}
}

func TestComputeDoppler_SignConvention(t *testing.T) {
	engine := testEngine(10)
	ue := model.GeoPosition{}
	northbound := model.GroundVelocity{SpeedKmS: 7.5, HeadingDeg: 0}

	// South of the UE and heading north: approaching, rising.
	rising, err := engine.ComputeGeometry(ue, model.GeoPosition{LatitudeDeg: -10, AltitudeKm: 600}, northbound)
	if err != nil {
		t.Fatalf("rising: %v", err)
	}
	if rising.AngularVelocityDegS <= 0 {
		t.Errorf("rising angular velocity=%v, want > 0", rising.AngularVelocityDegS)
	}
	shift, _ := engine.ComputeDoppler(rising, 2e9)
	if shift <= 0 {
		t.Errorf("rising Doppler=%v, want > 0", shift)
	}
	if math.Abs(shift) > MaxDopplerHz(2e9) {
		t.Errorf("rising Doppler=%v exceeds bound %v", shift, MaxDopplerHz(2e9))
	}

	// North of the UE and heading north: receding, setting.
	setting, err := engine.ComputeGeometry(ue, model.GeoPosition{LatitudeDeg: 10, AltitudeKm: 600}, northbound)
	if err != nil {
		t.Fatalf("setting: %v", err)
	}
	if setting.AngularVelocityDegS >= 0 {
		t.Errorf("setting angular velocity=%v, want < 0", setting.AngularVelocityDegS)
	}
	shift, _ = engine.ComputeDoppler(setting, 2e9)
	if shift >= 0 {
		t.Errorf("setting Doppler=%v, want < 0", shift)
	}
}

func TestComputeImpairmentsAndLinkBudget(t *testing.T) {
	engine := testEngine(10)
	geometry, err := engine.ComputeGeometry(
		model.GeoPosition{},
		model.GeoPosition{LatitudeDeg: -3, AltitudeKm: 600},
		model.GroundVelocity{SpeedKmS: 7.5},
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	impairments := engine.ComputeImpairments(geometry, 1.5)
	wantDelay := geometry.SlantRangeKm / SpeedOfLightKmS * 1000
	if !almostEqual(impairments.PropagationDelayMs, wantDelay, 1e-12) {
		t.Errorf("delay=%v, want %v", impairments.PropagationDelayMs, wantDelay)
	}
	if impairments.RainAttenuationDb != 1.5 {
		t.Errorf("rain=%v, want 1.5", impairments.RainAttenuationDb)
	}
	if impairments.AtmosphericLossDb < 0.5 {
		t.Errorf("atmospheric loss=%v must not be below the zenith value", impairments.AtmosphericLossDb)
	}
	if engine.ComputeImpairments(geometry, -2).RainAttenuationDb != 0 {
		t.Error("negative weather attenuation must clamp to 0")
	}

	clear := engine.ComputeLinkBudget(geometry, 23, 0, 0)
	rainy := engine.ComputeLinkBudget(geometry, 23, 0, 3)
	if !almostEqual(clear.RxPowerDbm-rainy.RxPowerDbm, 3, 1e-9) {
		t.Errorf("weather attenuation not applied: clear=%v rainy=%v", clear.RxPowerDbm, rainy.RxPowerDbm)
	}
	budget := engine.ComputeLinkBudget(geometry, 23, 2, 0)
	if !almostEqual(budget.LinkMarginDb, budget.SNRDb-2, 1e-12) {
		t.Errorf("margin=%v, want snr-required=%v", budget.LinkMarginDb, budget.SNRDb-2)
	}
	if !almostEqual(budget.SNRDb, budget.RxPowerDbm-engine.NoiseFloorDbm(), 1e-12) {
		t.Errorf("snr inconsistent with rx power and noise floor")
	}
}

func TestFreeSpacePathLoss(t *testing.T) {
	// 1000 km at 2 GHz: 60 + 66.02 + 32.45
	got := FreeSpacePathLossDb(1000, 2e9)
	if !almostEqual(got, 158.4706, 1e-3) {
		t.Errorf("FSPL=%v, want ~158.47", got)
	}
}

func TestGroundTrack(t *testing.T) {
	testCases := []struct {
		name                           string
		fromLat, fromLon, toLat, toLon float64
		wantDistanceKm, wantHeadingDeg float64
	}{
		{"northbound", 0, 0, 1, 0, 111.19, 0},
		{"eastbound", 0, 0, 0, 1, 111.19, 90},
		{"southbound", 1, 10, 0, 10, 111.19, 180},
		{"westbound", 0, 1, 0, 0, 111.19, 270},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			distance, heading := GroundTrack(testCase.fromLat, testCase.fromLon, testCase.toLat, testCase.toLon)
			if math.Abs(distance-testCase.wantDistanceKm) > 0.05 {
				t.Errorf("distance = %.3f km, want %.2f", distance, testCase.wantDistanceKm)
			}
			if math.Abs(heading-testCase.wantHeadingDeg) > 1e-6 {
				t.Errorf("heading = %.6f deg, want %.0f", heading, testCase.wantHeadingDeg)
			}
		})
	}
}
