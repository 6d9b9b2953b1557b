package model

import (
	"fmt"
	"math"
)

// FieldConstraint maps a real-valued field onto a constrained INTEGER:
// wire value = round(value * Scale), bounded by [Min*Scale, Max*Scale].
type FieldConstraint struct {
	Name  string
	Min   float64
	Max   float64
	Scale float64
}

// Bounds returns the integer range of the field on the wire.
func (constraint FieldConstraint) Bounds() (int64, int64) {
	return int64(math.Round(constraint.Min * constraint.Scale)),
		int64(math.Round(constraint.Max * constraint.Scale))
}

// gridTolerance is the relative slack allowed between a value and the
// nearest point of its wire grid. It absorbs float64 noise from scaling.
const gridTolerance = 1e-9

// InRange reports whether value is finite and, once rounded onto the wire
// grid, inside the declared range. Values between grid points are accepted.
func (constraint FieldConstraint) InRange(value float64) error {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return fmt.Errorf("%s is not finite", constraint.Name)
	}
	scaled := math.Round(value * constraint.Scale)
	lower, upper := constraint.Bounds()
	if scaled < float64(lower) || scaled > float64(upper) {
		return fmt.Errorf("%s=%v outside [%v, %v]", constraint.Name, value, constraint.Min, constraint.Max)
	}
	return nil
}

// ToWire converts a value to its wire integer. It fails when the value is
// not finite, lies outside the declared range or falls between two points
// of the wire grid. Callers holding raw values use Quantize first.
func (constraint FieldConstraint) ToWire(value float64) (int64, error) {
	if err := constraint.InRange(value); err != nil {
		return 0, err
	}
	exact := value * constraint.Scale
	scaled := math.Round(exact)
	if math.Abs(exact-scaled) > gridTolerance*math.Max(1, math.Abs(scaled)) {
		return 0, fmt.Errorf("%s=%v is not a multiple of the %v resolution",
			constraint.Name, value, 1/constraint.Scale)
	}
	return int64(scaled), nil
}

// FromWire converts a wire integer back to the field value.
func (constraint FieldConstraint) FromWire(wire int64) float64 {
	return float64(wire) / constraint.Scale
}

// Quantize snaps value onto the wire resolution. Quantized values survive
// an encode/decode cycle unchanged.
func (constraint FieldConstraint) Quantize(value float64) float64 {
	quantized := math.Round(value*constraint.Scale) / constraint.Scale
	if quantized == 0 {
		// collapse negative zero
		return 0
	}
	return quantized
}

// Check reports whether value is representable on the wire without loss.
func (constraint FieldConstraint) Check(value float64) error {
	_, err := constraint.ToWire(value)
	return err
}

// IntConstraint is a constrained INTEGER field.
type IntConstraint struct {
	Name string
	Min  int64
	Max  int64
}

// Check reports whether value lies inside the declared range.
func (constraint IntConstraint) Check(value int64) error {
	if value < constraint.Min || value > constraint.Max {
		return fmt.Errorf("%s=%d outside [%d, %d]", constraint.Name, value, constraint.Min, constraint.Max)
	}
	return nil
}

// StringConstraint is a size-constrained PrintableString-like field over
// the visible ASCII range 0x20..0x7E.
type StringConstraint struct {
	Name   string
	MinLen int
	MaxLen int
}

// Check reports whether value fits the size and alphabet constraints.
func (constraint StringConstraint) Check(value string) error {
	if len(value) < constraint.MinLen || len(value) > constraint.MaxLen {
		return fmt.Errorf("%s length %d outside [%d, %d]", constraint.Name, len(value), constraint.MinLen, constraint.MaxLen)
	}
	for index := 0; index < len(value); index++ {
		if value[index] < 0x20 || value[index] > 0x7e {
			return fmt.Errorf("%s contains non-printable byte 0x%02x at %d", constraint.Name, value[index], index)
		}
	}
	return nil
}

// Wire constraints of the E2SM-NTN schema.
var (
	IdentifierField = StringConstraint{Name: "identifier", MinLen: 1, MaxLen: 64}
	BeamIDField     = IntConstraint{Name: "beamId", Min: 0, Max: 4095}
	CQIField        = IntConstraint{Name: "cqi", Min: 0, Max: 15}
	PriorityField   = IntConstraint{Name: "priority", Min: 0, Max: 255}
	RampField       = IntConstraint{Name: "rampDurationMs", Min: 0, Max: 60000}
	DelayField      = IntConstraint{Name: "executionDelayMs", Min: 0, Max: 600000}
	TimestampField  = IntConstraint{Name: "timestampNs", Min: 0, Max: math.MaxInt64}

	ElevationField       = FieldConstraint{Name: "elevationDeg", Min: 0, Max: 90, Scale: 100}
	AzimuthField         = FieldConstraint{Name: "azimuthDeg", Min: 0, Max: 359.99, Scale: 100}
	SlantRangeField      = FieldConstraint{Name: "slantRangeKm", Min: 0.1, Max: 50000, Scale: 10}
	GroundVelocityField  = FieldConstraint{Name: "groundVelocityKmS", Min: 0, Max: 12, Scale: 1000}
	AngularVelocityField = FieldConstraint{Name: "angularVelocityDegS", Min: -5, Max: 5, Scale: 10000}

	RSRPField = FieldConstraint{Name: "rsrpDbm", Min: -156, Max: -31, Scale: 10}
	RSRQField = FieldConstraint{Name: "rsrqDb", Min: -43, Max: 20, Scale: 10}
	SINRField = FieldConstraint{Name: "sinrDb", Min: -23, Max: 40, Scale: 10}
	BLERField = FieldConstraint{Name: "bler", Min: 0, Max: 1, Scale: 10000}

	DopplerShiftField     = FieldConstraint{Name: "dopplerShiftHz", Min: -1000000, Max: 1000000, Scale: 1}
	DopplerRateField      = FieldConstraint{Name: "dopplerRateHzS", Min: -10000, Max: 10000, Scale: 10}
	PropagationDelayField = FieldConstraint{Name: "propagationDelayMs", Min: 0.001, Max: 300, Scale: 1000}
	PathLossField         = FieldConstraint{Name: "pathLossDb", Min: 0, Max: 250, Scale: 100}
	RainAttenuationField  = FieldConstraint{Name: "rainAttenuationDb", Min: 0, Max: 100, Scale: 100}
	AtmosphericLossField  = FieldConstraint{Name: "atmosphericLossDb", Min: 0, Max: 50, Scale: 100}

	TxPowerField     = FieldConstraint{Name: "txPowerDbm", Min: -30, Max: 60, Scale: 10}
	RxPowerField     = FieldConstraint{Name: "rxPowerDbm", Min: -250, Max: 0, Scale: 10}
	LinkMarginField  = FieldConstraint{Name: "linkMarginDb", Min: -150, Max: 150, Scale: 10}
	SNRField         = FieldConstraint{Name: "snrDb", Min: -100, Max: 100, Scale: 10}
	RequiredSNRField = FieldConstraint{Name: "requiredSnrDb", Min: -20, Max: 40, Scale: 10}

	TimeToHandoverField   = FieldConstraint{Name: "timeToHandoverSec", Min: 0, Max: 86400, Scale: 10}
	TriggerThresholdField = FieldConstraint{Name: "triggerThresholdDeg", Min: 0, Max: 90, Scale: 100}
	NextElevationField    = FieldConstraint{Name: "nextSatelliteElevationDeg", Min: 0, Max: 90, Scale: 100}
	ProbabilityField      = FieldConstraint{Name: "handoverProbability", Min: 0, Max: 1, Scale: 10000}

	ThroughputField = FieldConstraint{Name: "throughputMbps", Min: 0, Max: 10000, Scale: 100}
	LatencyField    = FieldConstraint{Name: "latencyMs", Min: 0, Max: 10000, Scale: 100}
	PacketLossField = FieldConstraint{Name: "packetLossRate", Min: 0, Max: 1, Scale: 10000}

	PowerDeltaField = FieldConstraint{Name: "deltaDb", Min: -30, Max: 30, Scale: 10}
)

// NormalizeAzimuth wraps an angle into [0, 360).
func NormalizeAzimuth(degrees float64) float64 {
	wrapped := math.Mod(degrees, 360)
	if wrapped < 0 {
		wrapped += 360
	}
	if wrapped >= 360 {
		wrapped = 0
	}
	return wrapped
}

// Quantized returns a copy of the record with every real-valued field
// snapped onto its wire resolution. The azimuth is re-normalised after
// rounding so that values close to 360 wrap to 0.
func (record *NTNIndicationRecord) Quantized() *NTNIndicationRecord {
	quantized := record.Clone()
	if quantized == nil {
		return nil
	}

	if section := quantized.Geometry; section != nil {
		section.ElevationDeg = ElevationField.Quantize(section.ElevationDeg)
		section.AzimuthDeg = AzimuthField.Quantize(section.AzimuthDeg)
		if section.AzimuthDeg >= 360 {
			section.AzimuthDeg = 0
		}
		section.SlantRangeKm = SlantRangeField.Quantize(section.SlantRangeKm)
		section.GroundVelocityKmS = GroundVelocityField.Quantize(section.GroundVelocityKmS)
		section.AngularVelocityDegS = AngularVelocityField.Quantize(section.AngularVelocityDegS)
	}
	if section := quantized.ChannelQuality; section != nil {
		section.RSRPDbm = RSRPField.Quantize(section.RSRPDbm)
		section.RSRQDb = RSRQField.Quantize(section.RSRQDb)
		section.SINRDb = SINRField.Quantize(section.SINRDb)
		section.BLER = BLERField.Quantize(section.BLER)
	}
	if section := quantized.Impairments; section != nil {
		section.DopplerShiftHz = DopplerShiftField.Quantize(section.DopplerShiftHz)
		section.DopplerRateHzS = DopplerRateField.Quantize(section.DopplerRateHzS)
		section.PropagationDelayMs = PropagationDelayField.Quantize(section.PropagationDelayMs)
		section.PathLossDb = PathLossField.Quantize(section.PathLossDb)
		section.RainAttenuationDb = RainAttenuationField.Quantize(section.RainAttenuationDb)
		section.AtmosphericLossDb = AtmosphericLossField.Quantize(section.AtmosphericLossDb)
	}
	if section := quantized.LinkBudget; section != nil {
		section.TxPowerDbm = TxPowerField.Quantize(section.TxPowerDbm)
		section.RxPowerDbm = RxPowerField.Quantize(section.RxPowerDbm)
		section.LinkMarginDb = LinkMarginField.Quantize(section.LinkMarginDb)
		section.SNRDb = SNRField.Quantize(section.SNRDb)
		section.RequiredSNRDb = RequiredSNRField.Quantize(section.RequiredSNRDb)
	}
	if section := quantized.Handover; section != nil {
		if section.TimeToHandoverSec != nil {
			section.TimeToHandoverSec = Float(TimeToHandoverField.Quantize(*section.TimeToHandoverSec))
		}
		section.TriggerThresholdDeg = TriggerThresholdField.Quantize(section.TriggerThresholdDeg)
		if section.NextSatelliteElevationDeg != nil {
			section.NextSatelliteElevationDeg = Float(NextElevationField.Quantize(*section.NextSatelliteElevationDeg))
		}
		section.HandoverProbability = ProbabilityField.Quantize(section.HandoverProbability)
	}
	if section := quantized.Performance; section != nil {
		section.DLThroughputMbps = ThroughputField.Quantize(section.DLThroughputMbps)
		section.ULThroughputMbps = ThroughputField.Quantize(section.ULThroughputMbps)
		section.LatencyMs = LatencyField.Quantize(section.LatencyMs)
		section.PacketLossRate = PacketLossField.Quantize(section.PacketLossRate)
	}
	if section := quantized.PowerControl; section != nil {
		section.DeltaDb = PowerDeltaField.Quantize(section.DeltaDb)
		section.TargetTxPowerDbm = TxPowerField.Quantize(section.TargetTxPowerDbm)
	}
	return quantized
}
