// Package ephemeris resolves satellite positions from configured TLEs so
// that measurement sources may omit the serving and candidate satellite
// positions.
package ephemeris

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"
	"github.com/pkg/errors"

	"github.com/free5gc/e2sm-ntn/internal/geometry"
	"github.com/free5gc/e2sm-ntn/internal/logger"
	"github.com/free5gc/e2sm-ntn/internal/model"
	"github.com/free5gc/e2sm-ntn/pkg/factory"
)

// lookAhead is the propagation step used to derive the ground velocity.
const lookAhead = time.Second

// ErrUnknownSatellite is returned for identifiers absent from the catalog.
var ErrUnknownSatellite = errors.New("satellite not in ephemeris catalog")

// Catalog propagates a fixed set of TLEs with SGP4. It is immutable after
// construction and safe for concurrent use.
type Catalog struct {
	satellites map[string]satellite.Satellite
}

// NewCatalog parses the configured TLEs. An empty list yields an empty
// catalog that resolves nothing.
func NewCatalog(entries []factory.SatelliteTLE) (*Catalog, error) {
	catalog := &Catalog{satellites: make(map[string]satellite.Satellite, len(entries))}
	for _, entry := range entries {
		sat, err := parseTLE(entry)
		if err != nil {
			return nil, errors.Wrapf(err, "satellite %q", entry.ID)
		}
		catalog.satellites[entry.ID] = sat
	}
	if len(entries) > 0 {
		logger.EphemerisLog.Infof("Loaded %d satellite TLE(s): %s",
			len(entries), strings.Join(catalog.IDs(), ","))
	}
	return catalog, nil
}

// parseTLE converts the lines, trapping the panics the parser raises on
// malformed numeric fields.
func parseTLE(entry factory.SatelliteTLE) (sat satellite.Satellite, err error) {
	line1 := strings.TrimRight(entry.Line1, " \r\n")
	line2 := strings.TrimRight(entry.Line2, " \r\n")
	if len(line1) < 69 || len(line2) < 69 {
		return sat, errors.Errorf("TLE lines must be 69 characters, got %d and %d", len(line1), len(line2))
	}
	for index, line := range []string{line1, line2} {
		if !validChecksum(line) {
			return sat, errors.Errorf("TLE line %d checksum mismatch", index+1)
		}
	}

	defer func() {
		if recovered := recover(); recovered != nil {
			err = errors.Errorf("TLE parse failed: %v", recovered)
		}
	}()
	sat = satellite.TLEToSat(line1, line2, satellite.GravityWGS72)
	return sat, nil
}

// validChecksum applies the modulo-10 TLE checksum: digits count their
// value, minus signs count one, and column 69 holds the result.
func validChecksum(line string) bool {
	sum := 0
	for _, character := range line[:68] {
		switch {
		case character >= '0' && character <= '9':
			sum += int(character - '0')
		case character == '-':
			sum++
		}
	}
	last := line[68]
	return last >= '0' && last <= '9' && int(last-'0') == sum%10
}

// IDs returns the catalogued satellite identifiers in lexical order.
func (catalog *Catalog) IDs() []string {
	ids := make([]string, 0, len(catalog.satellites))
	for id := range catalog.satellites {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of catalogued satellites.
func (catalog *Catalog) Len() int { return len(catalog.satellites) }

// Resolve returns the sub-satellite point and the ground velocity of the
// satellite at the given instant.
func (catalog *Catalog) Resolve(satelliteID string, at time.Time) (model.GeoPosition, model.GroundVelocity, error) {
	sat, ok := catalog.satellites[satelliteID]
	if !ok {
		return model.GeoPosition{}, model.GroundVelocity{}, errors.Wrap(ErrUnknownSatellite, satelliteID)
	}

	position, err := subSatellitePoint(sat, at)
	if err != nil {
		return model.GeoPosition{}, model.GroundVelocity{}, errors.Wrapf(err, "satellite %s", satelliteID)
	}
	ahead, err := subSatellitePoint(sat, at.Add(lookAhead))
	if err != nil {
		return model.GeoPosition{}, model.GroundVelocity{}, errors.Wrapf(err, "satellite %s", satelliteID)
	}

	distanceKm, headingDeg := geometry.GroundTrack(
		position.LatitudeDeg, position.LongitudeDeg, ahead.LatitudeDeg, ahead.LongitudeDeg)
	velocity := model.GroundVelocity{
		SpeedKmS:   distanceKm / lookAhead.Seconds(),
		HeadingDeg: headingDeg,
	}
	return position, velocity, nil
}

func subSatellitePoint(sat satellite.Satellite, at time.Time) (model.GeoPosition, error) {
	at = at.UTC()
	year, month, day := at.Date()
	hour, minute, second := at.Clock()

	positionECI, _ := satellite.Propagate(sat, year, int(month), day, hour, minute, second)
	if math.IsNaN(positionECI.X) || math.IsNaN(positionECI.Y) || math.IsNaN(positionECI.Z) {
		return model.GeoPosition{}, errors.New("SGP4 propagation diverged")
	}

	// Propagate works at whole seconds; the sidereal angle must match.
	gmst := satellite.GSTimeFromDate(year, int(month), day, hour, minute, second)
	altitudeKm, _, latLongRad := satellite.ECIToLLA(positionECI, gmst)
	latLongDeg := satellite.LatLongDeg(latLongRad)

	return model.GeoPosition{
		LatitudeDeg:  latLongDeg.Latitude,
		LongitudeDeg: normalizeLongitude(latLongDeg.Longitude),
		AltitudeKm:   altitudeKm,
	}, nil
}

func normalizeLongitude(longitudeDeg float64) float64 {
	longitudeDeg = math.Mod(longitudeDeg+180, 360)
	if longitudeDeg < 0 {
		longitudeDeg += 360
	}
	return longitudeDeg - 180
}

// String implements fmt.Stringer for debug logs.
func (catalog *Catalog) String() string {
	return fmt.Sprintf("ephemeris.Catalog(%d satellites)", catalog.Len())
}
