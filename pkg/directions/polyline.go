package directions

import (
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-polyline"

	"github.com/sells-group/saferoute/internal/model"
)

// decodePolyline decodes an encoded polyline (precision 5, lat/lng order).
func decodePolyline(s string) ([]model.LatLng, error) {
	if s == "" {
		return nil, nil
	}
	coords, rest, err := polyline.DecodeCoords([]byte(s))
	if err != nil {
		return nil, eris.Wrap(err, "directions: decode polyline")
	}
	if len(rest) != 0 {
		return nil, eris.Errorf("directions: %d trailing bytes after polyline", len(rest))
	}
	pts := make([]model.LatLng, len(coords))
	for i, c := range coords {
		pts[i] = model.LatLng{Lat: c[0], Lng: c[1]}
	}
	return pts, nil
}
