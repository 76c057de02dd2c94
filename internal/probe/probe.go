// Package probe samples a CSV object and proposes a table rule for it.
//
// The proposal is a config.Table: a file-name pattern, a target table name,
// one coercion kind per column and candidate key columns. It is a starting
// point for the tables: section of the config file, not something the
// pipeline applies on its own.
package probe

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"s3etl/internal/blobstore"
	"s3etl/internal/config"
	csvparser "s3etl/internal/parser/csv"
	"s3etl/internal/records"
	"s3etl/internal/rules"
)

// Defaults for Options.
const (
	DefaultSampleBytes = 1 << 20
	DefaultSampleRows  = 500
)

// Options bounds the sample.
type Options struct {
	// SampleBytes is how much of the object is read; <= 0 means DefaultSampleBytes.
	SampleBytes int64
	// SampleRows caps the rows inspected; <= 0 means DefaultSampleRows.
	SampleRows int
	Parser     csvparser.Options
}

func (o Options) withDefaults() Options {
	if o.SampleBytes <= 0 {
		o.SampleBytes = DefaultSampleBytes
	}
	if o.SampleRows <= 0 {
		o.SampleRows = DefaultSampleRows
	}
	if o.Parser.Comma == 0 {
		o.Parser = csvparser.DefaultOptions()
	}
	return o
}

// Column is what the sample says about one column.
type Column struct {
	// Name is the header as the pipeline sees it (lower-cased).
	Name string `json:"name"`
	// Normalized is an ASCII identifier for the header; it differs from Name
	// when the header has spaces, punctuation or accents.
	Normalized string             `json:"normalized"`
	Kind       rules.CoercionKind `json:"kind"`
	NonEmpty   int                `json:"non_empty"`
	Distinct   int                `json:"distinct"`
}

// Result is the outcome of probing one object.
type Result struct {
	Key       string       `json:"key"`
	Rows      int          `json:"rows"`
	Truncated bool         `json:"truncated"`
	Columns   []Column     `json:"columns"`
	Rule      config.Table `json:"rule"`
}

// Probe reads the head of bucket/key and infers a rule from it.
func Probe(ctx context.Context, store blobstore.Store, bucket, key string, opt Options) (Result, error) {
	opt = opt.withDefaults()
	body, err := store.Get(ctx, bucket, key)
	if err != nil {
		return Result{}, fmt.Errorf("probe: get %s: %w", blobstore.URI(bucket, key), err)
	}
	defer body.Close()

	sample, truncated, err := readSample(body, opt.SampleBytes)
	if err != nil {
		return Result{}, fmt.Errorf("probe: read %s: %w", blobstore.URI(bucket, key), err)
	}
	set, err := csvparser.Extract(ctx, key, bytes.NewReader(sample), opt.Parser)
	if err != nil {
		return Result{}, err
	}
	res := Infer(key, set, opt.SampleRows)
	res.Truncated = truncated
	return res, nil
}

// readSample reads up to n bytes. When the object is longer the sample is
// cut after the last complete line.
func readSample(r io.Reader, n int64) ([]byte, bool, error) {
	b, err := io.ReadAll(io.LimitReader(r, n+1))
	if err != nil {
		return nil, false, err
	}
	if int64(len(b)) <= n {
		return b, false, nil
	}
	b = b[:n]
	if i := bytes.LastIndexByte(b, '\n'); i >= 0 {
		b = b[:i+1]
	}
	return b, true, nil
}

// Infer derives column kinds and a rule from at most maxRows rows of set.
func Infer(key string, set *records.Set, maxRows int) Result {
	rows := set.Rows
	if maxRows > 0 && len(rows) > maxRows {
		rows = rows[:maxRows]
	}
	res := Result{Key: key, Rows: len(rows)}

	for _, c := range set.Columns {
		vals := make([]string, 0, len(rows))
		distinct := map[string]struct{}{}
		for _, r := range rows {
			if records.IsNull(r[c]) {
				continue
			}
			s := strings.TrimSpace(fmt.Sprint(r[c]))
			if s == "" {
				continue
			}
			vals = append(vals, s)
			distinct[s] = struct{}{}
		}
		res.Columns = append(res.Columns, Column{
			Name:       strings.ToLower(strings.TrimSpace(c)),
			Normalized: NormalizeFieldName(c),
			Kind:       InferKind(vals),
			NonEmpty:   len(vals),
			Distinct:   len(distinct),
		})
	}
	res.Rule = ruleFor(key, res)
	return res
}

var trailingDigits = regexp.MustCompile(`(_[0-9]+)+$`)

func ruleFor(key string, res Result) config.Table {
	stem := NormalizeFieldName(rules.Stem(key))
	if s := trailingDigits.ReplaceAllString(stem, ""); s != "" {
		stem = s
	}
	t := config.Table{
		Name:     stem,
		Patterns: []string{stem},
		Table:    stem,
		Coerce:   map[string]string{},
	}
	for _, c := range res.Columns {
		t.Columns = append(t.Columns, c.Name)
		if c.Kind != rules.Text {
			t.Coerce[c.Name] = string(c.Kind)
		}
	}
	if k := keyColumn(res); k != "" {
		t.Keys = []string{k}
		t.Required = []string{k}
		t.NotNull = []string{k}
	}
	return t
}

// keyColumn picks the first id-like column that is complete and unique in
// the sample.
func keyColumn(res Result) string {
	if res.Rows == 0 {
		return ""
	}
	for _, c := range res.Columns {
		n := c.Normalized
		if n != "id" && !strings.HasSuffix(n, "_id") {
			continue
		}
		if c.NonEmpty == res.Rows && c.Distinct == res.Rows {
			return c.Name
		}
	}
	return ""
}

// InferKind returns the narrowest kind every value converts to: integer,
// then decimal, then date, else text. An empty column, or one holding
// zero-padded codes, is text.
func InferKind(values []string) rules.CoercionKind {
	if len(values) == 0 {
		return rules.Text
	}
	for _, v := range values {
		if zeroPadded(v) {
			return rules.Text
		}
	}
	if allMatch(values, isInt) {
		return rules.Integer
	}
	for _, k := range []rules.CoercionKind{rules.Decimal, rules.Date} {
		if allMatch(values, func(s string) bool {
			_, ok := rules.Coerce(k, s)
			return ok
		}) {
			return k
		}
	}
	return rules.Text
}

func allMatch(vals []string, fn func(string) bool) bool {
	for _, v := range vals {
		if !fn(v) {
			return false
		}
	}
	return true
}

// isInt requires a signed base-10 integer that fits in int64.
func isInt(s string) bool {
	_, err := strconv.ParseInt(s, 10, 64)
	return err == nil
}

// zeroPadded reports digit strings like "007"; they are codes, not numbers.
func zeroPadded(s string) bool {
	if len(s) < 2 || s[0] != '0' {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// NormalizeFieldName converts header text into a lowercase ASCII identifier:
// accents are stripped, space, dash and dot become underscores, anything
// else outside [a-z0-9_] is dropped. Empty input yields "col".
func NormalizeFieldName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	ascii, _, _ := transform.String(t, s)

	var b strings.Builder
	prevUnderscore := false
	for _, r := range ascii {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			prevUnderscore = false
		case r == '_' || r == ' ' || r == '-' || r == '.':
			if !prevUnderscore {
				b.WriteRune('_')
				prevUnderscore = true
			}
		}
	}
	name := strings.Trim(b.String(), "_")
	if name == "" {
		return "col"
	}
	return name
}
