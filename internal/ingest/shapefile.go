package ingest

import (
	"strconv"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"

	"github.com/sells-group/saferoute/internal/model"
)

// ShapefileOptions configures ReadShapefilePoints.
type ShapefileOptions struct {
	// CountField names a numeric attribute used as the point weight, e.g. the
	// number of fixtures on a pole. Empty means weight 1.
	CountField string
}

// ReadShapefilePoints reads point features (streetlights) from a shapefile.
// Coordinates must be WGS84. Non-point shapes and records with bad
// coordinates or counts are skipped and counted.
func ReadShapefilePoints(path string, opts ShapefileOptions) (*Result, error) {
	reader, err := shp.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: open shapefile %s", path)
	}
	defer func() { _ = reader.Close() }()

	countIdx := -1
	if opts.CountField != "" {
		for i, f := range reader.Fields() {
			name := strings.TrimRight(f.String(), "\x00")
			if strings.EqualFold(name, opts.CountField) {
				countIdx = i
				break
			}
		}
		if countIdx < 0 {
			return nil, eris.Errorf("ingest: shapefile %s has no field %q", path, opts.CountField)
		}
	}

	res := &Result{}
	for reader.Next() {
		n, shape := reader.Shape()
		line := n + 1
		res.Rows++

		pts := shapePoints(shape)
		if len(pts) == 0 {
			res.skip(&RowError{Line: line, Err: eris.Errorf("unsupported shape %T", shape)})
			continue
		}

		weight := 0.0
		if countIdx >= 0 {
			raw := strings.TrimSpace(strings.TrimRight(reader.Attribute(countIdx), "\x00"))
			w, err := strconv.ParseFloat(raw, 64)
			if err != nil || w < 0 {
				res.skip(&RowError{Line: line, Field: opts.CountField, Err: eris.Errorf("invalid count %q", raw)})
				continue
			}
			if w == 0 {
				res.Filtered++
				continue
			}
			weight = w
		}

		for _, p := range pts {
			if !(model.LatLng{Lat: p.Y, Lng: p.X}).Valid() {
				res.skip(&RowError{Line: line, Err: eris.Errorf("coordinate %v,%v out of range", p.Y, p.X)})
				continue
			}
			res.Points = append(res.Points, model.RawPoint{Lat: p.Y, Lng: p.X, Weight: weight})
		}
	}
	if err := reader.Err(); err != nil {
		return nil, eris.Wrapf(err, "ingest: read shapefile %s", path)
	}
	return res, nil
}

func shapePoints(s shp.Shape) []shp.Point {
	switch v := s.(type) {
	case *shp.Point:
		return []shp.Point{*v}
	case *shp.PointZ:
		return []shp.Point{{X: v.X, Y: v.Y}}
	case *shp.PointM:
		return []shp.Point{{X: v.X, Y: v.Y}}
	case *shp.MultiPoint:
		return v.Points
	default:
		return nil
	}
}
