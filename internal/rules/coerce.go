package rules

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// CoercionKind names a target scalar type.
type CoercionKind string

const (
	Text    CoercionKind = "text"
	Date    CoercionKind = "date"
	Integer CoercionKind = "integer"
	Decimal CoercionKind = "decimal"
)

// ParseKind accepts the kind names used in config files, including a few
// aliases (int, float, numeric, string, datetime).
func ParseKind(s string) (CoercionKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "text", "string", "str":
		return Text, nil
	case "date", "datetime", "timestamp":
		return Date, nil
	case "integer", "int", "bigint":
		return Integer, nil
	case "decimal", "numeric", "float", "double", "number":
		return Decimal, nil
	}
	return "", fmt.Errorf("unknown coercion kind %q", s)
}

// Valid reports whether k is one of the known kinds.
func (k CoercionKind) Valid() bool {
	switch k {
	case Text, Date, Integer, Decimal:
		return true
	}
	return false
}

// Coercer converts a raw value. ok is false when v was not null but could not
// be converted; the caller stores nil in that case.
type Coercer func(v any) (out any, ok bool)

var coercers = map[CoercionKind]Coercer{
	Text:    coerceText,
	Date:    coerceDate,
	Integer: coerceInteger,
	Decimal: coerceDecimal,
}

// Coerce converts v to kind. Null input yields nil with ok=true. Conversion is
// idempotent: already-typed values pass through.
func Coerce(kind CoercionKind, v any) (any, bool) {
	if v == nil {
		return nil, true
	}
	if s, isStr := v.(string); isStr && strings.TrimSpace(s) == "" {
		return nil, true
	}
	fn, ok := coercers[kind]
	if !ok {
		return v, true
	}
	return fn(v)
}

func coerceText(v any) (any, bool) {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t), true
	case time.Time:
		return t.Format("2006-01-02"), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	default:
		return strings.TrimSpace(fmt.Sprint(t)), true
	}
}

// DateLayouts are tried in order when parsing dates.
var DateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC3339,
	"2006/01/02",
	"01/02/2006",
	"1/2/2006",
	"01-02-2006",
	"02.01.2006",
	"2-Jan-2006",
	"02-Jan-2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"20060102",
}

func coerceDate(v any) (any, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		s := strings.TrimSpace(t)
		for _, layout := range DateLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts.UTC(), true
			}
		}
	}
	return nil, false
}

func coerceInteger(v any) (any, bool) {
	switch t := v.(type) {
	case int64:
		return t, true
	case int:
		return int64(t), true
	case float64:
		// float64(math.MaxInt64) rounds up to 2^63, so the upper bound is exclusive.
		if t == math.Trunc(t) && t >= math.MinInt64 && t < math.MaxInt64 {
			return int64(t), true
		}
		return nil, false
	case string:
		s := strings.TrimSpace(t)
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i, true
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return coerceInteger(f)
		}
	}
	return nil, false
}

func coerceDecimal(v any) (any, bool) {
	switch t := v.(type) {
	case float64:
		if math.IsInf(t, 0) || math.IsNaN(t) {
			return nil, false
		}
		return t, true
	case int64:
		return float64(t), true
	case int:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
			return nil, false
		}
		return f, true
	}
	return nil, false
}
