// Package ingest reads incident and streetlight datasets from CSV, XLSX and
// shapefile sources. Malformed rows are skipped and counted, never fatal.
package ingest

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/saferoute/internal/model"
)

// maxRowErrors bounds how many row errors a Result keeps for reporting.
const maxRowErrors = 20

// RowError describes one skipped input row.
type RowError struct {
	Line  int
	Field string
	Err   error
}

func (e *RowError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("ingest: line %d: %v", e.Line, e.Err)
	}
	return fmt.Sprintf("ingest: line %d: %s: %v", e.Line, e.Field, e.Err)
}

func (e *RowError) Unwrap() error {
	return e.Err
}

// Result holds the points read from a dataset and its row accounting.
type Result struct {
	Points []model.RawPoint
	// Rows counts data rows seen, excluding the header.
	Rows int
	// Skipped counts malformed or out-of-range rows.
	Skipped int
	// Filtered counts well-formed rows outside the requested time window.
	Filtered int
	// Errors keeps the first few row errors.
	Errors []*RowError
}

func (r *Result) skip(e *RowError) {
	r.Skipped++
	if len(r.Errors) < maxRowErrors {
		r.Errors = append(r.Errors, e)
	}
}

// Log reports the row accounting. Skipped rows are logged at warn.
func (r *Result) Log(source string) {
	log := zap.L().With(zap.String("source", source))
	if r.Skipped > 0 {
		fields := []zap.Field{zap.Int("skipped", r.Skipped), zap.Int("rows", r.Rows)}
		if len(r.Errors) > 0 {
			fields = append(fields, zap.String("first_error", r.Errors[0].Error()))
		}
		log.Warn("ingest: skipped malformed rows", fields...)
	}
	log.Info("ingest: dataset read",
		zap.Int("points", len(r.Points)),
		zap.Int("rows", r.Rows),
		zap.Int("filtered", r.Filtered),
	)
}

// Record is one row of a dataset stream. Err is set when the row could not
// be parsed; Fields is nil in that case.
type Record struct {
	Fields []string
	Err    error
}

// streamFunc starts a row stream that includes the header row.
type streamFunc func(ctx context.Context) (<-chan Record, <-chan error)

// collect feeds the header to onHeader and every following row to onRow.
// Rows the parser rejected go to onBad. A header error stops the stream.
func collect(ctx context.Context, stream streamFunc, onHeader func([]string) error, onRow func(line int, rec []string), onBad func(*RowError)) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	rows, errs := stream(ctx)
	var (
		line   int
		hdrErr error
		seen   bool
	)
	for rec := range rows {
		line++
		if hdrErr != nil {
			continue
		}
		if !seen {
			seen = true
			if rec.Err != nil {
				hdrErr = eris.Wrap(rec.Err, "ingest: read header")
			} else {
				hdrErr = onHeader(rec.Fields)
			}
			if hdrErr != nil {
				cancel()
			}
			continue
		}
		if rec.Err != nil {
			onBad(&RowError{Line: line, Err: rec.Err})
			continue
		}
		if blank(rec.Fields) {
			continue
		}
		onRow(line, rec.Fields)
	}
	err := <-errs
	if hdrErr != nil {
		return hdrErr
	}
	if err != nil {
		return err
	}
	if !seen {
		return eris.New("ingest: dataset has no header row")
	}
	return nil
}

// headerIndex maps normalized column names to positions.
type headerIndex map[string]int

func indexHeader(header []string) headerIndex {
	idx := make(headerIndex, len(header))
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if _, dup := idx[name]; !dup {
			idx[name] = i
		}
	}
	return idx
}

// find returns the position of the first matching column, or -1.
func (h headerIndex) find(names ...string) int {
	for _, n := range names {
		if i, ok := h[strings.ToLower(n)]; ok {
			return i
		}
	}
	return -1
}

func field(rec []string, i int) string {
	if i < 0 || i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}

func parseFloatField(rec []string, i int, name string, line int) (float64, *RowError) {
	s := field(rec, i)
	if s == "" {
		return 0, &RowError{Line: line, Field: name, Err: eris.New("missing value")}
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, &RowError{Line: line, Field: name, Err: err}
	}
	return v, nil
}

func blank(rec []string) bool {
	for _, f := range rec {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

func isXLSX(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".xlsx" || ext == ".xlsm"
}
