package ingest

import (
	"context"
	"io"
	"math"
	"os"
	"strconv"

	"github.com/rotisserie/eris"

	"github.com/sells-group/saferoute/internal/grid"
)

// BinColumns names the columns of a pre-binned lighting dataset.
type BinColumns struct {
	LatBin string `yaml:"lat_bin" mapstructure:"lat_bin"`
	LngBin string `yaml:"lng_bin" mapstructure:"lng_bin"`
	Count  string `yaml:"count" mapstructure:"count"`
}

// DefaultBinColumns returns the conventional column names.
func DefaultBinColumns() BinColumns {
	return BinColumns{LatBin: "lat_bin", LngBin: "lng_bin", Count: "count"}
}

// BinOptions configures ReadLightingBins.
type BinOptions struct {
	Columns BinColumns
	CSV     CSVOptions
	XLSX    XLSXOptions
}

// BinResult holds the bins read from a lighting dataset.
type BinResult struct {
	Bins    []grid.Bin
	Rows    int
	Skipped int
	Errors  []*RowError
}

func (r *BinResult) skip(e *RowError) {
	r.Skipped++
	if len(r.Errors) < maxRowErrors {
		r.Errors = append(r.Errors, e)
	}
}

// ReadLightingBins reads pre-binned (lat_bin, lng_bin, count) records from a
// CSV or XLSX file.
func ReadLightingBins(ctx context.Context, path string, opts BinOptions) (*BinResult, error) {
	if isXLSX(path) {
		return readBins(ctx, func(ctx context.Context) (<-chan []string, <-chan error) {
			return StreamXLSX(ctx, path, opts.XLSX)
		}, opts)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: open %s", path)
	}
	defer f.Close() //nolint:errcheck
	return ReadLightingBinsCSV(ctx, f, opts)
}

// ReadLightingBinsCSV reads pre-binned lighting records from CSV.
func ReadLightingBinsCSV(ctx context.Context, r io.Reader, opts BinOptions) (*BinResult, error) {
	return readBins(ctx, func(ctx context.Context) (<-chan []string, <-chan error) {
		return StreamCSV(ctx, r, opts.CSV)
	}, opts)
}

func readBins(ctx context.Context, stream streamFunc, opts BinOptions) (*BinResult, error) {
	cols := opts.Columns
	if cols == (BinColumns{}) {
		cols = DefaultBinColumns()
	}

	res := &BinResult{}
	var latIdx, lngIdx, countIdx int
	onHeader := func(header []string) error {
		h := indexHeader(header)
		latIdx, lngIdx, countIdx = h.find(cols.LatBin), h.find(cols.LngBin), h.find(cols.Count)
		if latIdx < 0 || lngIdx < 0 || countIdx < 0 {
			return eris.Errorf("ingest: header %v missing %q, %q or %q", header, cols.LatBin, cols.LngBin, cols.Count)
		}
		return nil
	}
	onRow := func(line int, rec []string) {
		res.Rows++
		latBin, err := strconv.Atoi(field(rec, latIdx))
		if err != nil {
			res.skip(&RowError{Line: line, Field: "lat_bin", Err: err})
			return
		}
		lngBin, err := strconv.Atoi(field(rec, lngIdx))
		if err != nil {
			res.skip(&RowError{Line: line, Field: "lng_bin", Err: err})
			return
		}
		count, rowErr := parseFloatField(rec, countIdx, "count", line)
		if rowErr != nil {
			res.skip(rowErr)
			return
		}
		if count < 0 || math.IsNaN(count) || math.IsInf(count, 0) {
			res.skip(&RowError{Line: line, Field: "count", Err: eris.Errorf("invalid count %v", count)})
			return
		}
		res.Bins = append(res.Bins, grid.Bin{LatBin: latBin, LngBin: lngBin, Count: count})
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
