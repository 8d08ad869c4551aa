// Package geo provides great-circle helpers over model coordinates.
package geo

import (
	"github.com/golang/geo/s2"

	"github.com/sells-group/saferoute/internal/model"
)

// EarthRadiusMeters is the mean Earth radius.
const EarthRadiusMeters = 6371000.0

func toS2(p model.LatLng) s2.LatLng {
	return s2.LatLngFromDegrees(p.Lat, p.Lng)
}

func fromS2(ll s2.LatLng) model.LatLng {
	return model.LatLng{Lat: ll.Lat.Degrees(), Lng: ll.Lng.Degrees()}
}

// Distance returns the great-circle distance between a and b in metres.
func Distance(a, b model.LatLng) float64 {
	return toS2(a).Distance(toS2(b)).Radians() * EarthRadiusMeters
}

// Interpolate returns the point a fraction f of the way from a to b along
// the great circle. f=0 is a, f=1 is b.
func Interpolate(a, b model.LatLng, f float64) model.LatLng {
	if a == b {
		return a
	}
	p := s2.Interpolate(f, s2.PointFromLatLng(toS2(a)), s2.PointFromLatLng(toS2(b)))
	return fromS2(s2.LatLngFromPoint(p))
}

// Within reports whether b lies within radius metres of a.
func Within(a, b model.LatLng, radius float64) bool {
	return Distance(a, b) <= radius
}
