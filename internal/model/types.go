// Package model defines shared data structures for the E2SM-NTN service
// model, including:
// - The per-UE indication record and its satellite link sections
// - The control-action record with its per-action parameter variants
// - Measurement events received from the channel/measurement source
// - Wire-format field constraints and the error taxonomy.
//
// All types here are intentionally free of dependencies on other internal
// packages to avoid circular imports.
package model

import (
	"fmt"
	"strings"
)

// OrbitType enumerates the orbit class of the serving satellite.
type OrbitType uint8

const (
	OrbitLEO OrbitType = iota
	OrbitMEO
	OrbitGEO
)

var orbitTypeNames = [...]string{"LEO", "MEO", "GEO"}

func (orbitType OrbitType) String() string {
	if int(orbitType) < len(orbitTypeNames) {
		return orbitTypeNames[orbitType]
	}
	return fmt.Sprintf("OrbitType(%d)", uint8(orbitType))
}

// MarshalText implements encoding.TextMarshaler.
func (orbitType OrbitType) MarshalText() ([]byte, error) {
	if int(orbitType) >= len(orbitTypeNames) {
		return nil, fmt.Errorf("invalid orbit type %d", uint8(orbitType))
	}
	return []byte(orbitTypeNames[orbitType]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (orbitType *OrbitType) UnmarshalText(text []byte) error {
	parsed, err := ParseOrbitType(string(text))
	if err != nil {
		return err
	}
	*orbitType = parsed
	return nil
}

// ParseOrbitType parses "LEO", "MEO" or "GEO" (case-insensitive).
func ParseOrbitType(value string) (OrbitType, error) {
	for index, name := range orbitTypeNames {
		if strings.EqualFold(name, strings.TrimSpace(value)) {
			return OrbitType(index), nil
		}
	}
	return 0, fmt.Errorf("unknown orbit type %q", value)
}

// ---------------------------------------------------------------------------
// Indication record sections
// ---------------------------------------------------------------------------

// SatelliteGeometry describes where the serving satellite is as seen from
// the UE. AngularVelocityDegS is positive while the satellite is rising and
// negative while it is setting.
type SatelliteGeometry struct {
	ElevationDeg        float64 `json:"elevationDeg"`
	AzimuthDeg          float64 `json:"azimuthDeg"`
	SlantRangeKm        float64 `json:"slantRangeKm"`
	GroundVelocityKmS   float64 `json:"groundVelocityKmS"`
	AngularVelocityDegS float64 `json:"angularVelocityDegS"`
}

// ChannelQuality is the radio quality sample reported for the UE.
type ChannelQuality struct {
	RSRPDbm float64 `json:"rsrpDbm"`
	RSRQDb  float64 `json:"rsrqDb"`
	SINRDb  float64 `json:"sinrDb"`
	BLER    float64 `json:"bler"`
	CQI     int     `json:"cqi"`
}

// NTNImpairments are the satellite-specific channel impairments.
type NTNImpairments struct {
	DopplerShiftHz     float64 `json:"dopplerShiftHz"`
	DopplerRateHzS     float64 `json:"dopplerRateHzS"`
	PropagationDelayMs float64 `json:"propagationDelayMs"`
	PathLossDb         float64 `json:"pathLossDb"`
	RainAttenuationDb  float64 `json:"rainAttenuationDb"`
	AtmosphericLossDb  float64 `json:"atmosphericLossDb"`
}

// LinkBudget summarises the received power versus what the configured MCS
// requires. LinkMarginDb = SNRDb - RequiredSNRDb.
type LinkBudget struct {
	TxPowerDbm    float64 `json:"txPowerDbm"`
	RxPowerDbm    float64 `json:"rxPowerDbm"`
	LinkMarginDb  float64 `json:"linkMarginDb"`
	SNRDb         float64 `json:"snrDb"`
	RequiredSNRDb float64 `json:"requiredSnrDb"`
}

// HandoverPrediction carries the expected time until the serving satellite
// drops below the handover threshold. A nil TimeToHandoverSec means the
// satellite is still rising (no handover foreseen).
type HandoverPrediction struct {
	TimeToHandoverSec         *float64 `json:"timeToHandoverSec,omitempty"`
	TriggerThresholdDeg       float64  `json:"triggerThresholdDeg"`
	NextSatelliteID           *string  `json:"nextSatelliteId,omitempty"`
	NextSatelliteElevationDeg *float64 `json:"nextSatelliteElevationDeg,omitempty"`
	HandoverProbability       float64  `json:"handoverProbability"`
}

// PerformanceMetrics are user-plane level KPMs.
type PerformanceMetrics struct {
	DLThroughputMbps float64 `json:"dlThroughputMbps"`
	ULThroughputMbps float64 `json:"ulThroughputMbps"`
	LatencyMs        float64 `json:"latencyMs"`
	PacketLossRate   float64 `json:"packetLossRate"`
}

// PowerAction is the direction of an advisory power-control recommendation.
type PowerAction uint8

const (
	PowerHold PowerAction = iota
	PowerIncrease
	PowerDecrease
)

var powerActionNames = [...]string{"HOLD", "INCREASE", "DECREASE"}

func (action PowerAction) String() string {
	if int(action) < len(powerActionNames) {
		return powerActionNames[action]
	}
	return fmt.Sprintf("PowerAction(%d)", uint8(action))
}

// MarshalText implements encoding.TextMarshaler.
func (action PowerAction) MarshalText() ([]byte, error) {
	if int(action) >= len(powerActionNames) {
		return nil, fmt.Errorf("invalid power action %d", uint8(action))
	}
	return []byte(powerActionNames[action]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (action *PowerAction) UnmarshalText(text []byte) error {
	for index, name := range powerActionNames {
		if name == string(text) {
			*action = PowerAction(index)
			return nil
		}
	}
	return fmt.Errorf("unknown power action %q", string(text))
}

// PowerControlRecommendation is advisory data computed from the link margin.
// It is never executed by this function.
type PowerControlRecommendation struct {
	Action           PowerAction `json:"action"`
	DeltaDb          float64     `json:"deltaDb"`
	TargetTxPowerDbm float64     `json:"targetTxPowerDbm"`
}

// ---------------------------------------------------------------------------
// Messages
// ---------------------------------------------------------------------------

// MessageKind identifies the top-level alternative of an E2SM-NTN message.
type MessageKind uint8

const (
	MessageIndication MessageKind = iota
	MessageControl
)

func (kind MessageKind) String() string {
	switch kind {
	case MessageIndication:
		return "indication"
	case MessageControl:
		return "control"
	default:
		return fmt.Sprintf("MessageKind(%d)", uint8(kind))
	}
}

// Message is implemented by NTNIndicationRecord and NTNControlRecord.
type Message interface {
	MessageKind() MessageKind
}

// NTNIndicationRecord is the timestamped per-UE aggregate reported in one
// cycle. Sections are optional so that reduced report styles can omit them;
// a Full report carries every section.
type NTNIndicationRecord struct {
	TimestampNs int64     `json:"timestampNs"`
	SatelliteID string    `json:"satelliteId"`
	OrbitType   OrbitType `json:"orbitType"`
	BeamID      int       `json:"beamId"`
	UEID        string    `json:"ueId"`

	Geometry       *SatelliteGeometry          `json:"geometry,omitempty"`
	ChannelQuality *ChannelQuality             `json:"channelQuality,omitempty"`
	Impairments    *NTNImpairments             `json:"impairments,omitempty"`
	LinkBudget     *LinkBudget                 `json:"linkBudget,omitempty"`
	Handover       *HandoverPrediction         `json:"handover,omitempty"`
	Performance    *PerformanceMetrics         `json:"performance,omitempty"`
	PowerControl   *PowerControlRecommendation `json:"powerControl,omitempty"`
}

// MessageKind implements Message.
func (*NTNIndicationRecord) MessageKind() MessageKind { return MessageIndication }

// Clone returns a deep copy of the record.
func (record *NTNIndicationRecord) Clone() *NTNIndicationRecord {
	if record == nil {
		return nil
	}
	copyRecord := *record
	if record.Geometry != nil {
		section := *record.Geometry
		copyRecord.Geometry = &section
	}
	if record.ChannelQuality != nil {
		section := *record.ChannelQuality
		copyRecord.ChannelQuality = &section
	}
	if record.Impairments != nil {
		section := *record.Impairments
		copyRecord.Impairments = &section
	}
	if record.LinkBudget != nil {
		section := *record.LinkBudget
		copyRecord.LinkBudget = &section
	}
	if record.Handover != nil {
		section := *record.Handover
		section.TimeToHandoverSec = cloneFloat(record.Handover.TimeToHandoverSec)
		section.NextSatelliteElevationDeg = cloneFloat(record.Handover.NextSatelliteElevationDeg)
		if record.Handover.NextSatelliteID != nil {
			id := *record.Handover.NextSatelliteID
			section.NextSatelliteID = &id
		}
		copyRecord.Handover = &section
	}
	if record.Performance != nil {
		section := *record.Performance
		copyRecord.Performance = &section
	}
	if record.PowerControl != nil {
		section := *record.PowerControl
		copyRecord.PowerControl = &section
	}
	return &copyRecord
}

func cloneFloat(value *float64) *float64 {
	if value == nil {
		return nil
	}
	copied := *value
	return &copied
}

// Float returns a pointer to value. Used for optional fields.
func Float(value float64) *float64 { return &value }

// String returns a pointer to value. Used for optional fields.
func String(value string) *string { return &value }

// Uint32 returns a pointer to value. Used for optional fields.
func Uint32(value uint32) *uint32 { return &value }
