package ephemeris

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/free5gc/e2sm-ntn/internal/dispatcher"
	"github.com/free5gc/e2sm-ntn/pkg/factory"
)

var _ dispatcher.PositionResolver = (*Catalog)(nil)

var issTLE = factory.SatelliteTLE{
	ID:    "ISS",
	Line1: "1 25544U 98067A   08264.51782528 -.00002182  00000-0 -11606-4 0  2927",
	Line2: "2 25544  51.6416 247.4627 0006703 130.5360 325.0288 15.72125391563537",
}

// issEpoch is close to the TLE epoch (day 264.5178 of 2008).
var issEpoch = time.Date(2008, time.September, 20, 12, 30, 0, 0, time.UTC)

func TestResolveISS(t *testing.T) {
	catalog, err := NewCatalog([]factory.SatelliteTLE{issTLE})
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}
	if catalog.Len() != 1 || catalog.IDs()[0] != "ISS" {
		t.Fatalf("catalog ids = %v", catalog.IDs())
	}

	for _, offset := range []time.Duration{0, 10 * time.Minute, 45 * time.Minute} {
		position, velocity, err := catalog.Resolve("ISS", issEpoch.Add(offset))
		if err != nil {
			t.Fatalf("Resolve(+%s): %v", offset, err)
		}
		if position.AltitudeKm < 300 || position.AltitudeKm > 450 {
			t.Errorf("+%s altitude = %.1f km, want 300..450", offset, position.AltitudeKm)
		}
		if math.Abs(position.LatitudeDeg) > 52.5 {
			t.Errorf("+%s latitude = %.2f exceeds the inclination", offset, position.LatitudeDeg)
		}
		if position.LongitudeDeg < -180 || position.LongitudeDeg >= 180 {
			t.Errorf("+%s longitude = %.2f not normalized", offset, position.LongitudeDeg)
		}
		if velocity.SpeedKmS < 6.5 || velocity.SpeedKmS > 8 {
			t.Errorf("+%s ground speed = %.3f km/s, want 6.5..8", offset, velocity.SpeedKmS)
		}
		if velocity.HeadingDeg < 0 || velocity.HeadingDeg >= 360 {
			t.Errorf("+%s heading = %.2f outside [0, 360)", offset, velocity.HeadingDeg)
		}
	}
}

func TestResolveUnknownSatellite(t *testing.T) {
	catalog, err := NewCatalog(nil)
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}
	_, _, err = catalog.Resolve("LEO-404", issEpoch)
	if !errors.Is(err, ErrUnknownSatellite) {
		t.Fatalf("err = %v, want ErrUnknownSatellite", err)
	}
}

func TestNewCatalogRejectsMalformedTLE(t *testing.T) {
	testCases := []struct {
		name  string
		entry factory.SatelliteTLE
	}{
		{
			name:  "short line",
			entry: factory.SatelliteTLE{ID: "X", Line1: issTLE.Line1[:40], Line2: issTLE.Line2},
		},
		{
			name:  "checksum",
			entry: factory.SatelliteTLE{ID: "X", Line1: issTLE.Line1[:68] + "0", Line2: issTLE.Line2},
		},
		{
			name: "altered digit",
			entry: factory.SatelliteTLE{ID: "X", Line1: issTLE.Line1,
				Line2: strings.Replace(issTLE.Line2, "51.6416", "51.6417", 1)},
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			if _, err := NewCatalog([]factory.SatelliteTLE{testCase.entry}); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}

func TestNormalizeLongitude(t *testing.T) {
	testCases := map[float64]float64{0: 0, 190: -170, -190: 170, 540: -180, -45: -45}
	for input, want := range testCases {
		if got := normalizeLongitude(input); math.Abs(got-want) > 1e-9 {
			t.Errorf("normalizeLongitude(%v) = %v, want %v", input, got, want)
		}
	}
}
