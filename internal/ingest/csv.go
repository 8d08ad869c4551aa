package ingest

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/htmlindex"
)

// CSVOptions configures the streaming CSV parser.
type CSVOptions struct {
	Delimiter  rune // default ','
	Comment    rune // comment character (0 = none)
	LazyQuotes bool
	TrimSpace  bool
	// Charset names the input encoding (e.g. "windows-1252", "iso-8859-1").
	// Empty means UTF-8.
	Charset string
}

// StreamCSV reads CSV records, including the header, and sends them to a
// channel. A record the parser rejects is sent with Err set and reading
// continues on the next line; I/O and context errors end the stream. Both
// channels are closed when processing completes.
func StreamCSV(ctx context.Context, r io.Reader, opts CSVOptions) (<-chan Record, <-chan error) {
	rowCh := make(chan Record, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(rowCh)
		defer close(errCh)

		src, err := decodeCharset(r, opts.Charset)
		if err != nil {
			errCh <- err
			return
		}

		reader := csv.NewReader(src)
		if opts.Delimiter != 0 {
			reader.Comma = opts.Delimiter
		}
		if opts.Comment != 0 {
			reader.Comment = opts.Comment
		}
		reader.LazyQuotes = opts.LazyQuotes
		reader.FieldsPerRecord = -1 // allow variable fields

		for {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}

			var rec Record
			fields, err := reader.Read()
			switch {
			case err == io.EOF:
				return
			case malformed(err):
				rec.Err = err
			case err != nil:
				errCh <- eris.Wrap(err, "csv: read row")
				return
			default:
				if opts.TrimSpace {
					for i, f := range fields {
						fields[i] = strings.TrimSpace(f)
					}
				}
				rec.Fields = fields
			}

			select {
			case rowCh <- rec:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}
		}
	}()

	return rowCh, errCh
}

// malformed reports whether err is a parse error confined to one record.
// csv.Reader has already consumed the offending line, so reading can resume.
func malformed(err error) bool {
	var pe *csv.ParseError
	return errors.As(err, &pe) && !errors.Is(err, csv.ErrFieldCount)
}

// decodeCharset wraps r with a decoder for the named charset.
func decodeCharset(r io.Reader, charset string) (io.Reader, error) {
	if charset == "" || strings.EqualFold(charset, "utf-8") || strings.EqualFold(charset, "utf8") {
		return r, nil
	}
	enc, err := htmlindex.Get(charset)
	if err != nil {
		return nil, eris.Wrapf(err, "csv: unsupported charset %q", charset)
	}
	return enc.NewDecoder().Reader(r), nil
}
