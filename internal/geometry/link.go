package geometry

import (
	"math"

	"github.com/free5gc/e2sm-ntn/internal/model"
)

func dopplerAt(lineOfSightVelocityKmS, elevationDeg, carrierFrequencyHz float64) float64 {
	return lineOfSightVelocityKmS / SpeedOfLightKmS * carrierFrequencyHz * math.Cos(degToRad(elevationDeg))
}

// ComputeDoppler returns the Doppler shift (Hz) and its rate (Hz/s). The
// shift is positive while the satellite approaches (rising) and negative
// while it recedes (setting).
func (engine *Engine) ComputeDoppler(linkGeometry LinkGeometry, carrierFrequencyHz float64) (float64, float64) {
	shift := dopplerAt(linkGeometry.LineOfSightVelocityKmS, linkGeometry.ElevationDeg, carrierFrequencyHz)
	aheadShift := dopplerAt(linkGeometry.AheadLineOfSightVelocityKmS, linkGeometry.AheadElevationDeg, carrierFrequencyHz)
	return shift, (aheadShift - shift) / lookAheadSec
}

// atmosphericLossDb scales the zenith loss with the air mass along the
// slant path.
func (engine *Engine) atmosphericLossDb(elevationDeg float64) float64 {
	if engine.config.ZenithAtmosphericLossDb <= 0 {
		return 0
	}
	elevation := math.Max(elevationDeg, minAtmosphericElevationDeg)
	return engine.config.ZenithAtmosphericLossDb / math.Sin(degToRad(elevation))
}

// ComputeImpairments derives the NTN channel impairments for the
// configured carrier. Negative weather attenuation is treated as none.
func (engine *Engine) ComputeImpairments(linkGeometry LinkGeometry, weatherAttenuationDb float64) model.NTNImpairments {
	shift, rate := engine.ComputeDoppler(linkGeometry, engine.config.CarrierFrequencyHz)

	return model.NTNImpairments{
		DopplerShiftHz:     shift,
		DopplerRateHzS:     rate,
		PropagationDelayMs: linkGeometry.SlantRangeKm / SpeedOfLightKmS * 1000,
		PathLossDb:         FreeSpacePathLossDb(linkGeometry.SlantRangeKm, engine.config.CarrierFrequencyHz),
		RainAttenuationDb:  math.Max(weatherAttenuationDb, 0),
		AtmosphericLossDb:  engine.atmosphericLossDb(linkGeometry.ElevationDeg),
	}
}

// NoiseFloorDbm is the receiver noise power over the configured bandwidth.
func (engine *Engine) NoiseFloorDbm() float64 {
	return thermalNoiseDbmHz + 10*math.Log10(engine.config.BandwidthHz) + engine.config.NoiseFigureDb
}

// ComputeLinkBudget computes received power, SNR and link margin. The link
// margin is the received power above the required sensitivity, i.e. the
// SNR above the SNR the MCS needs.
func (engine *Engine) ComputeLinkBudget(
	linkGeometry LinkGeometry,
	txPowerDbm float64,
	requiredSNRDb float64,
	weatherAttenuationDb float64,
) model.LinkBudget {
	pathLoss := FreeSpacePathLossDb(linkGeometry.SlantRangeKm, engine.config.CarrierFrequencyHz)
	rxPower := txPowerDbm +
		engine.config.TxAntennaGainDbi +
		engine.config.RxAntennaGainDbi -
		pathLoss -
		math.Max(weatherAttenuationDb, 0) -
		engine.atmosphericLossDb(linkGeometry.ElevationDeg)

	snr := rxPower - engine.NoiseFloorDbm()

	return model.LinkBudget{
		TxPowerDbm:    txPowerDbm,
		RxPowerDbm:    rxPower,
		LinkMarginDb:  snr - requiredSNRDb,
		SNRDb:         snr,
		RequiredSNRDb: requiredSNRDb,
	}
}
