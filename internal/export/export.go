// Package export renders comparisons, grids and reports as GeoJSON for map
// clients. Coordinates are emitted in GeoJSON (lng, lat) order.
package export

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/sells-group/saferoute/internal/grid"
	"github.com/sells-group/saferoute/internal/model"
)

// Comparison returns one LineString feature per scored route. The roles a
// route holds are listed in its "roles" property.
func Comparison(cmp *model.RouteComparison) (*geojson.FeatureCollection, error) {
	if cmp == nil {
		return nil, eris.New("export: nil comparison")
	}
	fc := &geojson.FeatureCollection{Features: make([]*geojson.Feature, 0, len(cmp.Routes))}
	for i, r := range cmp.Routes {
		g, err := pathGeometry(r.Route.Polyline())
		if err != nil {
			return nil, eris.Wrapf(err, "export: route %d geometry", i)
		}
		fc.Features = append(fc.Features, &geojson.Feature{
			ID:       fmt.Sprintf("route-%d", i),
			Geometry: g,
			Properties: map[string]any{
				"index":                 i,
				"roles":                 roles(cmp, i),
				"summary":               r.Route.Summary,
				"distance_meters":       r.DistanceMeters,
				"duration_seconds":      r.DurationSeconds,
				"crime_safety_score":    r.CrimeSafetyScore,
				"lighting_score":        r.LightingScore,
				"combined_safety_score": r.CombinedSafetyScore,
				"report_penalty":        r.ReportPenalty,
				"degraded":              cmp.Degraded,
				"stale":                 cmp.Stale,
			},
		})
	}
	return fc, nil
}

func roles(cmp *model.RouteComparison, i int) []string {
	out := []string{}
	if len(cmp.Routes) == 0 {
		return out
	}
	if cmp.ShortestIndex == i {
		out = append(out, string(model.SelectShortest))
	}
	if cmp.SafestIndex == i {
		out = append(out, string(model.SelectSafest))
	}
	if cmp.BalancedIndex == i {
		out = append(out, string(model.SelectBalanced))
	}
	return out
}

func pathGeometry(pts []model.LatLng) (geom.T, error) {
	switch len(pts) {
	case 0:
		return nil, nil
	case 1:
		return geom.NewPointFlat(geom.XY, []float64{pts[0].Lng, pts[0].Lat}), nil
	}
	flat := make([]float64, 0, len(pts)*2)
	for _, p := range pts {
		flat = append(flat, p.Lng, p.Lat)
	}
	ls := geom.NewLineStringFlat(geom.XY, flat)
	if ls.NumCoords() < 2 {
		return nil, eris.New("linestring needs two coordinates")
	}
	return ls, nil
}

// Grid returns one Polygon feature per populated cell.
func Grid(g *grid.SafetyGrid) (*geojson.FeatureCollection, error) {
	if g == nil {
		return nil, eris.New("export: nil grid")
	}
	fc := &geojson.FeatureCollection{Features: make([]*geojson.Feature, 0, len(g.Cells))}
	if !g.Empty() {
		fc.BBox = geom.NewBounds(geom.XY).Set(g.Bounds.MinLng, g.Bounds.MinLat, g.Bounds.MaxLng, g.Bounds.MaxLat)
	}
	for _, c := range g.Cells {
		poly, err := geom.NewPolygon(geom.XY).SetCoords([][]geom.Coord{{
			{c.LngMin, c.LatMin},
			{c.LngMax, c.LatMin},
			{c.LngMax, c.LatMax},
			{c.LngMin, c.LatMax},
			{c.LngMin, c.LatMin},
		}})
		if err != nil {
			return nil, eris.Wrapf(err, "export: cell (%d,%d)", c.LatBin, c.LngBin)
		}
		fc.Features = append(fc.Features, &geojson.Feature{
			ID:       fmt.Sprintf("%s-%d-%d", g.Kind, c.LatBin, c.LngBin),
			Geometry: poly,
			Properties: map[string]any{
				"kind":        string(g.Kind),
				"lat_bin":     c.LatBin,
				"lng_bin":     c.LngBin,
				"count":       c.Count,
				"percentile":  c.Percentile,
				"score":       c.Score,
				"visual_hint": c.VisualHint,
			},
		})
	}
	return fc, nil
}

// Reports returns one Point feature per report.
func Reports(reports []model.CommunityReport) *geojson.FeatureCollection {
	fc := &geojson.FeatureCollection{Features: make([]*geojson.Feature, 0, len(reports))}
	for _, r := range reports {
		fc.Features = append(fc.Features, &geojson.Feature{
			ID:       r.ID,
			Geometry: geom.NewPointFlat(geom.XY, []float64{r.Lng, r.Lat}),
			Properties: map[string]any{
				"type":             string(r.Type),
				"upvotes":          r.Upvotes,
				"downvotes":        r.Downvotes,
				"timestamp_millis": r.TimestampMillis,
				"dismissed":        r.Dismissed,
			},
		})
	}
	return fc
}

// Write encodes a feature collection as JSON.
func Write(w io.Writer, fc *geojson.FeatureCollection) error {
	return eris.Wrap(json.NewEncoder(w).Encode(fc), "export: encode geojson")
}
