// Package geometry implements the link-geometry engine: elevation, azimuth
// and slant range of a satellite seen from a UE, Doppler shift and rate,
// propagation impairments and the link budget.
//
// Every function is pure. An Engine only carries static configuration and
// is safe for concurrent use.
package geometry

import (
	"math"

	"github.com/pkg/errors"

	"github.com/free5gc/e2sm-ntn/internal/model"
)

const (
	// MaxGroundSpeedKmS is the fastest accepted sub-satellite ground speed.
	MaxGroundSpeedKmS = 12.0

	// lookAheadSec is the step used for angular velocity and Doppler rate.
	lookAheadSec = 1.0

	// overheadEpsilonRad is the central angle below which the satellite is
	// treated as directly overhead.
	overheadEpsilonRad = 1e-9

	// thermalNoiseDbmHz is kT at 290 K.
	thermalNoiseDbmHz = -174.0

	// minAtmosphericElevationDeg caps the 1/sin(el) atmospheric path growth.
	minAtmosphericElevationDeg = 5.0
)

// Config holds the static RF parameters of the engine.
type Config struct {
	MinElevationDeg         float64
	CarrierFrequencyHz      float64
	BandwidthHz             float64
	TxAntennaGainDbi        float64
	RxAntennaGainDbi        float64
	NoiseFigureDb           float64
	ZenithAtmosphericLossDb float64
}

// Engine computes link geometry and link budgets.
type Engine struct {
	config Config
}

// NewEngine creates an Engine with the given configuration.
func NewEngine(config Config) *Engine {
	return &Engine{config: config}
}

// Config returns the engine configuration.
func (engine *Engine) Config() Config { return engine.config }

// LinkGeometry is the result of ComputeGeometry. It embeds the reported
// SatelliteGeometry and keeps the line-of-sight velocity and a one second
// look-ahead sample, which Doppler and Doppler-rate computations need.
type LinkGeometry struct {
	model.SatelliteGeometry

	// LineOfSightVelocityKmS is the ground velocity projected towards the
	// UE; positive while the satellite approaches.
	LineOfSightVelocityKmS float64

	AheadElevationDeg           float64
	AheadLineOfSightVelocityKmS float64

	SatelliteAltitudeKm float64
	UEAltitudeKm        float64
}

type sightSample struct {
	elevationDeg           float64
	azimuthDeg             float64
	slantRangeKm           float64
	lineOfSightVelocityKmS float64
}

// ComputeGeometry derives the satellite geometry seen by the UE. When the
// elevation is below the configured minimum the populated geometry is
// returned together with a GeometryError whose BelowMinimum flag is set.
func (engine *Engine) ComputeGeometry(
	uePosition model.GeoPosition,
	satellitePosition model.GeoPosition,
	satelliteVelocity model.GroundVelocity,
) (LinkGeometry, error) {
	if validateError := validateInputs(uePosition, satellitePosition, satelliteVelocity); validateError != nil {
		return LinkGeometry{}, validateError
	}

	current := observe(uePosition, satellitePosition, satelliteVelocity)

	satelliteLat := degToRad(satellitePosition.LatitudeDeg)
	satelliteLon := degToRad(satellitePosition.LongitudeDeg)
	heading := degToRad(satelliteVelocity.HeadingDeg)
	travelled := satelliteVelocity.SpeedKmS * lookAheadSec / EarthRadiusKm
	aheadLat, aheadLon := destinationPoint(satelliteLat, satelliteLon, heading, travelled)

	aheadPosition := model.GeoPosition{
		LatitudeDeg:  radToDeg(aheadLat),
		LongitudeDeg: radToDeg(aheadLon),
		AltitudeKm:   satellitePosition.AltitudeKm,
	}
	ahead := observe(uePosition, aheadPosition, satelliteVelocity)

	result := LinkGeometry{
		SatelliteGeometry: model.SatelliteGeometry{
			ElevationDeg:        current.elevationDeg,
			AzimuthDeg:          current.azimuthDeg,
			SlantRangeKm:        current.slantRangeKm,
			GroundVelocityKmS:   satelliteVelocity.SpeedKmS,
			AngularVelocityDegS: (ahead.elevationDeg - current.elevationDeg) / lookAheadSec,
		},
		LineOfSightVelocityKmS:      current.lineOfSightVelocityKmS,
		AheadElevationDeg:           ahead.elevationDeg,
		AheadLineOfSightVelocityKmS: ahead.lineOfSightVelocityKmS,
		SatelliteAltitudeKm:         satellitePosition.AltitudeKm,
		UEAltitudeKm:                uePosition.AltitudeKm,
	}

	if current.elevationDeg < engine.config.MinElevationDeg {
		return result, &model.GeometryError{
			Reason:       "link unusable",
			ElevationDeg: current.elevationDeg,
			BelowMinimum: true,
		}
	}

	return result, nil
}

func validateInputs(
	uePosition model.GeoPosition,
	satellitePosition model.GeoPosition,
	satelliteVelocity model.GroundVelocity,
) error {
	for _, value := range []float64{
		uePosition.LatitudeDeg, uePosition.LongitudeDeg, uePosition.AltitudeKm,
		satellitePosition.LatitudeDeg, satellitePosition.LongitudeDeg, satellitePosition.AltitudeKm,
		satelliteVelocity.SpeedKmS, satelliteVelocity.HeadingDeg,
	} {
		if math.IsNaN(value) || math.IsInf(value, 0) {
			return &model.GeometryError{Reason: "non-finite position or velocity"}
		}
	}
	if math.Abs(uePosition.LatitudeDeg) > 90 || math.Abs(satellitePosition.LatitudeDeg) > 90 {
		return &model.GeometryError{Reason: "latitude outside [-90, 90]"}
	}
	if satellitePosition.AltitudeKm <= uePosition.AltitudeKm {
		return errors.Wrapf(
			&model.GeometryError{Reason: "satellite not above UE"},
			"satelliteAltitudeKm=%.3f ueAltitudeKm=%.3f",
			satellitePosition.AltitudeKm, uePosition.AltitudeKm,
		)
	}
	if satelliteVelocity.SpeedKmS < 0 || satelliteVelocity.SpeedKmS > MaxGroundSpeedKmS {
		return &model.GeometryError{Reason: "ground speed outside [0, 12] km/s"}
	}
	return nil
}

// observe computes elevation, azimuth, slant range and line-of-sight
// velocity for one satellite position.
func observe(
	uePosition model.GeoPosition,
	satellitePosition model.GeoPosition,
	satelliteVelocity model.GroundVelocity,
) sightSample {
	ueLat := degToRad(uePosition.LatitudeDeg)
	ueLon := degToRad(uePosition.LongitudeDeg)
	satelliteLat := degToRad(satellitePosition.LatitudeDeg)
	satelliteLon := degToRad(satellitePosition.LongitudeDeg)

	gamma := centralAngle(ueLat, ueLon, satelliteLat, satelliteLon)

	if gamma < overheadEpsilonRad {
		// Directly overhead: azimuth is undefined and the ground track is
		// perpendicular to the line of sight.
		return sightSample{
			elevationDeg: 90,
			azimuthDeg:   0,
			slantRangeKm: satellitePosition.AltitudeKm - uePosition.AltitudeKm,
		}
	}

	ueRadius := EarthRadiusKm + uePosition.AltitudeKm
	orbitRadius := EarthRadiusKm + satellitePosition.AltitudeKm
	slantRange := math.Sqrt(ueRadius*ueRadius + orbitRadius*orbitRadius -
		2*ueRadius*orbitRadius*math.Cos(gamma))

	sinElevation := clampUnit((orbitRadius*math.Cos(gamma) - ueRadius) / slantRange)
	elevation := radToDeg(math.Asin(sinElevation))

	azimuth := model.NormalizeAzimuth(radToDeg(initialBearing(ueLat, ueLon, satelliteLat, satelliteLon)))

	bearingToUE := initialBearing(satelliteLat, satelliteLon, ueLat, ueLon)
	heading := degToRad(satelliteVelocity.HeadingDeg)
	lineOfSight := satelliteVelocity.SpeedKmS * math.Cos(heading-bearingToUE)

	return sightSample{
		elevationDeg:           elevation,
		azimuthDeg:             azimuth,
		slantRangeKm:           slantRange,
		lineOfSightVelocityKmS: lineOfSight,
	}
}
