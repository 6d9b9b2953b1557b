package geometry

import "math"

// EarthRadiusKm is the mean Earth radius used for all geometry (kilometres).
const EarthRadiusKm = 6371.0

// SpeedOfLightKmS is the speed of light in vacuum (km/s).
const SpeedOfLightKmS = 299792.458

func degToRad(degrees float64) float64 { return degrees * math.Pi / 180 }

func radToDeg(radians float64) float64 { return radians * 180 / math.Pi }

// centralAngle returns the haversine central angle (radians) between two
// points given in radians.
func centralAngle(lat1, lon1, lat2, lon2 float64) float64 {
	sinHalfLat := math.Sin((lat2 - lat1) / 2)
	sinHalfLon := math.Sin((lon2 - lon1) / 2)
	a := sinHalfLat*sinHalfLat + math.Cos(lat1)*math.Cos(lat2)*sinHalfLon*sinHalfLon
	if a > 1 {
		a = 1
	}
	return 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// initialBearing returns the forward azimuth (radians, clockwise from
// north) of the great circle from point 1 towards point 2.
func initialBearing(lat1, lon1, lat2, lon2 float64) float64 {
	deltaLon := lon2 - lon1
	y := math.Sin(deltaLon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(deltaLon)
	return math.Atan2(y, x)
}

// destinationPoint moves along a great circle from (lat, lon) by the given
// angular distance and bearing, all in radians.
func destinationPoint(lat, lon, bearing, angularDistance float64) (float64, float64) {
	sinLat := math.Sin(lat)*math.Cos(angularDistance) +
		math.Cos(lat)*math.Sin(angularDistance)*math.Cos(bearing)
	destinationLat := math.Asin(clampUnit(sinLat))
	destinationLon := lon + math.Atan2(
		math.Sin(bearing)*math.Sin(angularDistance)*math.Cos(lat),
		math.Cos(angularDistance)-math.Sin(lat)*math.Sin(destinationLat),
	)
	return destinationLat, destinationLon
}

// GroundTrack returns the great-circle distance (km) and the initial
// heading (degrees in [0, 360)) from one geodetic point to another.
func GroundTrack(fromLatDeg, fromLonDeg, toLatDeg, toLonDeg float64) (distanceKm, headingDeg float64) {
	lat1, lon1 := degToRad(fromLatDeg), degToRad(fromLonDeg)
	lat2, lon2 := degToRad(toLatDeg), degToRad(toLonDeg)
	distanceKm = centralAngle(lat1, lon1, lat2, lon2) * EarthRadiusKm
	headingDeg = math.Mod(radToDeg(initialBearing(lat1, lon1, lat2, lon2))+360, 360)
	return distanceKm, headingDeg
}

func clampUnit(value float64) float64 {
	if value > 1 {
		return 1
	}
	if value < -1 {
		return -1
	}
	return value
}

// SlantRangeAtElevation returns the straight-line distance (km) from a
// sea-level observer to a satellite at the given altitude seen at the given
// elevation.
func SlantRangeAtElevation(elevationDeg, satelliteAltitudeKm float64) float64 {
	elevation := degToRad(elevationDeg)
	orbitRadius := EarthRadiusKm + satelliteAltitudeKm
	horizontal := EarthRadiusKm * math.Cos(elevation)
	return math.Sqrt(orbitRadius*orbitRadius-horizontal*horizontal) - EarthRadiusKm*math.Sin(elevation)
}

// HorizonRangeKm is the slant range at 0 deg elevation, the largest range
// at which a satellite at the given altitude is visible from sea level.
func HorizonRangeKm(satelliteAltitudeKm float64) float64 {
	orbitRadius := EarthRadiusKm + satelliteAltitudeKm
	return math.Sqrt(orbitRadius*orbitRadius - EarthRadiusKm*EarthRadiusKm)
}

// FreeSpacePathLossDb is the Friis free-space loss for a distance in km and
// a carrier frequency in Hz.
func FreeSpacePathLossDb(distanceKm, carrierFrequencyHz float64) float64 {
	return 20*math.Log10(distanceKm) + 20*math.Log10(carrierFrequencyHz/1e6) + 32.45
}

// MaxDopplerHz bounds the Doppler shift magnitude for a carrier frequency
// given the fastest accepted ground speed.
func MaxDopplerHz(carrierFrequencyHz float64) float64 {
	return MaxGroundSpeedKmS / SpeedOfLightKmS * carrierFrequencyHz
}
