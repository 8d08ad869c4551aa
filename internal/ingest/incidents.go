package ingest

import (
	"context"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/saferoute/internal/model"
)

// IncidentColumns names the header columns of an incident dataset. Matching
// is case-insensitive. Timestamp and Weight are optional columns.
type IncidentColumns struct {
	Lat       string `yaml:"lat" mapstructure:"lat"`
	Lng       string `yaml:"lng" mapstructure:"lng"`
	Timestamp string `yaml:"timestamp" mapstructure:"timestamp"`
	Weight    string `yaml:"weight" mapstructure:"weight"`
}

// DefaultIncidentColumns returns the conventional column names.
func DefaultIncidentColumns() IncidentColumns {
	return IncidentColumns{Lat: "lat", Lng: "lng", Timestamp: "timestamp"}
}

// IncidentOptions configures ReadIncidents.
type IncidentOptions struct {
	Columns IncidentColumns
	CSV     CSVOptions
	XLSX    XLSXOptions
	// Since and Until bound the incident timestamps kept. Zero means open.
	Since time.Time
	Until time.Time
}

var (
	latAliases = []string{"lat", "latitude", "y"}
	lngAliases = []string{"lng", "lon", "long", "longitude", "x"}
)

// timestampLayouts are tried in order for non-numeric timestamps.
var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006/01/02 15:04:05",
	"01/02/2006 15:04",
	"01/02/2006",
	"2006-01-02",
}

// ParseTimestamp parses an incident timestamp. Numeric values are Unix
// seconds, or milliseconds when larger than 1e11.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, eris.New("missing value")
	}
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		if math.IsNaN(n) || math.IsInf(n, 0) || n < 0 {
			return time.Time{}, eris.Errorf("invalid epoch %q", s)
		}
		if n > 1e11 {
			return time.UnixMilli(int64(n)).UTC(), nil
		}
		return time.Unix(int64(n), 0).UTC(), nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, eris.Errorf("unrecognized timestamp %q", s)
}

// ReadIncidents reads an incident CSV. Rows with missing or malformed
// coordinates, out-of-range coordinates or unparseable timestamps are skipped
// and counted.
func ReadIncidents(ctx context.Context, r io.Reader, opts IncidentOptions) (*Result, error) {
	return readIncidents(ctx, func(ctx context.Context) (<-chan []string, <-chan error) {
		return StreamCSV(ctx, r, opts.CSV)
	}, opts)
}

// ReadIncidentsFile reads an incident dataset from a CSV or XLSX file.
func ReadIncidentsFile(ctx context.Context, path string, opts IncidentOptions) (*Result, error) {
	if isXLSX(path) {
		return readIncidents(ctx, func(ctx context.Context) (<-chan []string, <-chan error) {
			return StreamXLSX(ctx, path, opts.XLSX)
		}, opts)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: open %s", path)
	}
	defer f.Close() //nolint:errcheck
	return ReadIncidents(ctx, f, opts)
}

type incidentIndex struct {
	lat, lng, ts, weight int
}

func readIncidents(ctx context.Context, stream streamFunc, opts IncidentOptions) (*Result, error) {
	cols := opts.Columns
	if cols.Lat == "" && cols.Lng == "" {
		cols = DefaultIncidentColumns()
	}

	res := &Result{}
	var idx incidentIndex
	onHeader := func(header []string) error {
		h := indexHeader(header)
		idx = incidentIndex{
			lat:    h.find(append([]string{cols.Lat}, latAliases...)...),
			lng:    h.find(append([]string{cols.Lng}, lngAliases...)...),
			ts:     -1,
			weight: -1,
		}
		if cols.Timestamp != "" {
			idx.ts = h.find(cols.Timestamp)
		}
		if cols.Weight != "" {
			idx.weight = h.find(cols.Weight)
		}
		if idx.lat < 0 || idx.lng < 0 {
			return eris.Errorf("ingest: header %v has no %q/%q columns", header, cols.Lat, cols.Lng)
		}
		return nil
	}
	onRow := func(line int, rec []string) {
		res.Rows++
		p, rowErr := parseIncident(rec, line, idx)
		if rowErr != nil {
			res.skip(rowErr)
			return
		}
		if idx.ts >= 0 {
			ts, err := ParseTimestamp(field(rec, idx.ts))
			if err != nil {
				res.skip(&RowError{Line: line, Field: "timestamp", Err: err})
				return
			}
			if (!opts.Since.IsZero() && ts.Before(opts.Since)) || (!opts.Until.IsZero() && !ts.Before(opts.Until)) {
				res.Filtered++
				return
			}
		}
		res.Points = append(res.Points, p)
	}

	onBad := func(e *RowError) {
		res.Rows++
		res.skip(e)
	}

	if err := collect(ctx, stream, onHeader, onRow, onBad); err != nil {
		return nil, err
	}
	return res, nil
}

func parseIncident(rec []string, line int, idx incidentIndex) (model.RawPoint, *RowError) {
	lat, rowErr := parseFloatField(rec, idx.lat, "lat", line)
	if rowErr != nil {
		return model.RawPoint{}, rowErr
	}
	lng, rowErr := parseFloatField(rec, idx.lng, "lng", line)
	if rowErr != nil {
		return model.RawPoint{}, rowErr
	}
	if !(model.LatLng{Lat: lat, Lng: lng}).Valid() {
		return model.RawPoint{}, &RowError{Line: line, Err: eris.Errorf("coordinate %v,%v out of range", lat, lng)}
	}
	p := model.RawPoint{Lat: lat, Lng: lng}
	if idx.weight >= 0 && field(rec, idx.weight) != "" {
		w, rowErr := parseFloatField(rec, idx.weight, "weight", line)
		if rowErr != nil {
			return model.RawPoint{}, rowErr
		}
		if w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			return model.RawPoint{}, &RowError{Line: line, Field: "weight", Err: eris.Errorf("invalid weight %v", w)}
		}
		p.Weight = w
	}
	return p, nil
}
