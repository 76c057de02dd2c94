// Package csv turns raw object bytes into records.Set values.
//
// Reader is the streaming form: it decodes the declared text encoding on the
// fly, strips any BOM, and yields one records.Record per line with every
// field trimmed and blank cells mapped to nil. Extract drains a Reader into
// an in-memory Set for callers that need the whole file (validation and
// loading both do).
//
// Values are always strings or nil. Typing is the job of the validator and
// transformer, which know the per-table coercions.
package csv

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"

	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"s3etl/internal/config"
	"s3etl/internal/records"
)

// DefaultMaxBytes is the documented scaling limit for a single object.
const DefaultMaxBytes int64 = 64 << 20

// Options configures decoding and tokenizing.
type Options struct {
	// Comma is the field delimiter; zero means ','.
	Comma rune
	// Encoding names the source text encoding; empty means UTF-8.
	Encoding string
	// TrimSpace trims surrounding whitespace from every field.
	TrimSpace bool
	// LazyQuotes relaxes quote handling (csv.Reader.LazyQuotes).
	LazyQuotes bool
	// MaxBytes bounds the decoded object size; <= 0 disables the check.
	MaxBytes int64
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{Comma: ',', Encoding: "utf-8", TrimSpace: true, MaxBytes: DefaultMaxBytes}
}

// OptionsFrom reads parser options from a generic options bag:
// comma (string), encoding (string), trim_space (bool), lazy_quotes (bool),
// max_bytes (int).
func OptionsFrom(o config.Options) Options {
	d := DefaultOptions()
	return Options{
		Comma:      o.Rune("comma", d.Comma),
		Encoding:   o.String("encoding", d.Encoding),
		TrimSpace:  o.Bool("trim_space", d.TrimSpace),
		LazyQuotes: o.Bool("lazy_quotes", false),
		MaxBytes:   int64(o.Int("max_bytes", int(d.MaxBytes))),
	}
}

// ExtractionError reports bytes that could not be turned into records.
// Line is 1-based; 0 means the failure happened before any line was read.
type ExtractionError struct {
	Key  string
	Line int
	Err  error
}

func (e *ExtractionError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("extract %s: line %d: %v", e.Key, e.Line, e.Err)
	}
	return fmt.Sprintf("extract %s: %v", e.Key, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// Reader yields records lazily. It is not safe for concurrent use. To restart,
// open the source again and build a new Reader.
type Reader struct {
	key    string
	cr     *csv.Reader
	opt    Options
	header []string
	line   int
}

// NewReader decodes and reads the header line. An empty object yields a Reader
// with no columns whose first Next returns io.EOF.
func NewReader(key string, r io.Reader, opt Options) (*Reader, error) {
	dec, err := decoderFor(opt.Encoding)
	if err != nil {
		return nil, &ExtractionError{Key: key, Err: err}
	}
	src := io.Reader(&capReader{r: r, max: opt.MaxBytes})
	src = transform.NewReader(src, dec)

	cr := csv.NewReader(src)
	if opt.Comma != 0 {
		cr.Comma = opt.Comma
	}
	cr.LazyQuotes = opt.LazyQuotes
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	rd := &Reader{key: key, cr: cr, opt: opt}
	hdr, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return rd, nil
	}
	if err != nil {
		return nil, rd.wrap(err)
	}
	rd.line, _ = cr.FieldPos(0)
	rd.header = normalizeHeader(hdr)
	return rd, nil
}

// Header returns the normalized column names in source order.
func (r *Reader) Header() []string { return r.header }

// Next returns the next record or io.EOF. Short lines are padded with nil;
// lines wider than the header are rejected.
func (r *Reader) Next() (records.Record, error) {
	if r.header == nil {
		return nil, io.EOF
	}
	row, err := r.cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, io.EOF
	}
	if err != nil {
		return nil, r.wrap(err)
	}
	r.line, _ = r.cr.FieldPos(0)
	if len(row) > len(r.header) {
		return nil, &ExtractionError{
			Key:  r.key,
			Line: r.line,
			Err:  fmt.Errorf("expected %d fields, saw %d", len(r.header), len(row)),
		}
	}

	rec := make(records.Record, len(r.header))
	for i, col := range r.header {
		if i >= len(row) {
			rec[col] = nil
			continue
		}
		v := row[i]
		if r.opt.TrimSpace {
			v = strings.TrimSpace(v)
		}
		if v == "" {
			rec[col] = nil
		} else {
			rec[col] = v
		}
	}
	return rec, nil
}

func (r *Reader) wrap(err error) error {
	var pe *csv.ParseError
	if errors.As(err, &pe) {
		return &ExtractionError{Key: r.key, Line: pe.StartLine, Err: pe.Err}
	}
	return &ExtractionError{Key: r.key, Line: r.line + 1, Err: err}
}

// Extract drains r into a Set. Cancellation is checked between lines.
func Extract(ctx context.Context, key string, r io.Reader, opt Options) (*records.Set, error) {
	rd, err := NewReader(key, r, opt)
	if err != nil {
		return nil, err
	}
	set := &records.Set{Source: key, Columns: append([]string(nil), rd.Header()...)}
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, err := rd.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		set.Rows = append(set.Rows, rec)
	}
	log.Printf("extract: key=%s columns=%d rows=%d", key, len(set.Columns), len(set.Rows))
	return set, nil
}

// normalizeHeader trims and NFC-normalizes names, strips a stray BOM from the
// first cell, names blank columns and de-duplicates repeated names with a
// numeric suffix (a, a.1, a.2).
func normalizeHeader(h []string) []string {
	out := make([]string, len(h))
	seen := make(map[string]int, len(h))
	for i, c := range h {
		c = strings.TrimSpace(c)
		if i == 0 {
			c = stripBOM(c)
		}
		c = norm.NFC.String(c)
		if c == "" {
			c = fmt.Sprintf("unnamed_%d", i)
		}
		name := c
		if n, ok := seen[c]; ok {
			name = fmt.Sprintf("%s.%d", c, n)
			seen[c] = n + 1
		} else {
			seen[c] = 1
		}
		out[i] = name
	}
	return out
}
