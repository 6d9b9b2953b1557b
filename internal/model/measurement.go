package model

import "time"

// GeoPosition is a geodetic position. AltitudeKm is above the mean Earth
// radius.
type GeoPosition struct {
	LatitudeDeg  float64 `json:"latitudeDeg"`
	LongitudeDeg float64 `json:"longitudeDeg"`
	AltitudeKm   float64 `json:"altitudeKm"`
}

// GroundVelocity is the velocity of the sub-satellite point: speed over
// ground and heading measured clockwise from true north.
type GroundVelocity struct {
	SpeedKmS   float64 `json:"speedKmS"`
	HeadingDeg float64 `json:"headingDeg"`
}

// SatelliteObservation is the position/velocity of one satellite at the
// measurement time. Position and Velocity may be omitted when the satellite
// is present in the configured ephemeris catalog.
type SatelliteObservation struct {
	SatelliteID string          `json:"satelliteId"`
	OrbitType   OrbitType       `json:"orbitType"`
	BeamID      int             `json:"beamId"`
	Position    *GeoPosition    `json:"position,omitempty"`
	Velocity    *GroundVelocity `json:"velocity,omitempty"`
}

// Measurement is one raw measurement event delivered by the channel or
// measurement source for a UE.
type Measurement struct {
	UEID      string    `json:"ueId"`
	Timestamp time.Time `json:"timestamp"`

	UEPosition GeoPosition          `json:"uePosition"`
	Serving    SatelliteObservation `json:"serving"`
	// Candidates are other visible satellites considered for the
	// next-satellite prediction.
	Candidates []SatelliteObservation `json:"candidates,omitempty"`

	ChannelQuality ChannelQuality `json:"channelQuality"`

	TxPowerDbm           float64 `json:"txPowerDbm"`
	RequiredSNRDb        float64 `json:"requiredSnrDb"`
	WeatherAttenuationDb float64 `json:"weatherAttenuationDb"`

	// Performance is optional; when absent it is estimated from the link.
	Performance *PerformanceMetrics `json:"performance,omitempty"`
}
