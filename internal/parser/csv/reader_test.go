package csv

import (
	"bytes"
	"context"
	"errors"
	"io"
	"reflect"
	"strings"
	"testing"

	"golang.org/x/text/encoding/unicode"

	"s3etl/internal/config"
)

func TestExtract_TrimsAndNullsBlankCells(t *testing.T) {
	t.Parallel()

	in := "member_id , first_name,dob\n M1001 ,Ann,1990-01-01\nM1002,,  \n"
	set, err := Extract(context.Background(), "mba/csv/x.csv", strings.NewReader(in), DefaultOptions())
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if want := []string{"member_id", "first_name", "dob"}; !reflect.DeepEqual(set.Columns, want) {
		t.Fatalf("columns=%v want %v", set.Columns, want)
	}
	if set.Len() != 2 {
		t.Fatalf("rows=%d want 2", set.Len())
	}
	if got := set.Rows[0]["member_id"]; got != "M1001" {
		t.Fatalf("member_id=%v want M1001", got)
	}
	if got := set.Rows[1]["first_name"]; got != nil {
		t.Fatalf("blank cell=%v want nil", got)
	}
	if got := set.Rows[1]["dob"]; got != nil {
		t.Fatalf("whitespace cell=%v want nil", got)
	}
	if set.Source != "mba/csv/x.csv" {
		t.Fatalf("source=%q", set.Source)
	}
}

func TestExtract_Encodings(t *testing.T) {
	t.Parallel()

	utf16, err := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewEncoder().String("name,city\nAnna,Brno\n")
	if err != nil {
		t.Fatalf("encode utf16: %v", err)
	}

	tests := []struct {
		name     string
		input    []byte
		encoding string
		wantHdr  string
		wantVal  string
	}{
		{"utf8 bom", append([]byte("\xEF\xBB\xBF"), "name,city\nAnna,Brno\n"...), "", "name", "Brno"},
		{"utf16 bom overrides declared", []byte(utf16), "utf-8", "name", "Brno"},
		// 0x9A is "š", 0xE8 is "č" in windows-1250.
		{"windows-1250", []byte("name,city\nAnna,\x9Aumperk \xE8\n"), "windows-1250", "name", "šumperk č"},
		{"latin1", []byte("name,city\nAnna,K\xF6ln\n"), "iso-8859-1", "name", "Köln"},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			opt := DefaultOptions()
			opt.Encoding = tc.encoding
			set, err := Extract(context.Background(), "k", bytes.NewReader(tc.input), opt)
			if err != nil {
				t.Fatalf("Extract: %v", err)
			}
			if set.Columns[0] != tc.wantHdr {
				t.Fatalf("header[0]=%q want %q", set.Columns[0], tc.wantHdr)
			}
			if got := set.Rows[0]["city"]; got != tc.wantVal {
				t.Fatalf("city=%q want %q", got, tc.wantVal)
			}
		})
	}
}

func TestExtract_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		input    string
		opt      func(*Options)
		wantLine int
		wantIs   error
	}{
		{name: "invalid utf8", input: "a,b\n\xff\xfe\xfd,1\n", wantLine: 2},
		{name: "too many fields", input: "a,b\n1,2\n1,2,3\n", wantLine: 3},
		{name: "bare quote", input: "a,b\n1,x\"y\n", wantLine: 2},
		{
			name:   "over size limit",
			input:  "a,b\n" + strings.Repeat("1,2\n", 100),
			opt:    func(o *Options) { o.MaxBytes = 64 },
			wantIs: ErrTooLarge,
		},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			opt := DefaultOptions()
			if tc.opt != nil {
				tc.opt(&opt)
			}
			_, err := Extract(context.Background(), "bad.csv", strings.NewReader(tc.input), opt)
			var xe *ExtractionError
			if !errors.As(err, &xe) {
				t.Fatalf("err=%v want *ExtractionError", err)
			}
			if xe.Key != "bad.csv" {
				t.Fatalf("key=%q", xe.Key)
			}
			if tc.wantLine != 0 && xe.Line != tc.wantLine {
				t.Fatalf("line=%d want %d (%v)", xe.Line, tc.wantLine, err)
			}
			if tc.wantIs != nil && !errors.Is(err, tc.wantIs) {
				t.Fatalf("err=%v want %v", err, tc.wantIs)
			}
		})
	}
}

func TestExtract_UnsupportedEncoding(t *testing.T) {
	t.Parallel()
	opt := DefaultOptions()
	opt.Encoding = "ebcdic"
	_, err := Extract(context.Background(), "k", strings.NewReader("a\n1\n"), opt)
	var xe *ExtractionError
	if !errors.As(err, &xe) {
		t.Fatalf("err=%v want *ExtractionError", err)
	}
}

func TestExtract_EmptyObject(t *testing.T) {
	t.Parallel()
	set, err := Extract(context.Background(), "empty.csv", strings.NewReader(""), DefaultOptions())
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(set.Columns) != 0 || set.Len() != 0 {
		t.Fatalf("want empty set, got %+v", set)
	}
}

func TestExtract_Canceled(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Extract(ctx, "k", strings.NewReader("a\n1\n"), DefaultOptions())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v want context.Canceled", err)
	}
}

func TestReader_ShortRowsPaddedAndHeaderNormalized(t *testing.T) {
	t.Parallel()

	in := "id,id, ,name\n1\n"
	rd, err := NewReader("k", strings.NewReader(in), DefaultOptions())
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	if want := []string{"id", "id.1", "unnamed_2", "name"}; !reflect.DeepEqual(rd.Header(), want) {
		t.Fatalf("header=%v want %v", rd.Header(), want)
	}
	rec, err := rd.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if rec["id"] != "1" || rec["name"] != nil {
		t.Fatalf("rec=%v", rec)
	}
	if _, err := rd.Next(); err != io.EOF {
		t.Fatalf("second Next err=%v want io.EOF", err)
	}
}

func TestOptionsFrom(t *testing.T) {
	t.Parallel()
	opt := OptionsFrom(config.Options{"comma": ";", "encoding": "windows-1250", "trim_space": false})
	if opt.Comma != ';' || opt.Encoding != "windows-1250" || opt.TrimSpace {
		t.Fatalf("opt=%+v", opt)
	}
	if opt.MaxBytes != DefaultMaxBytes {
		t.Fatalf("max bytes=%d", opt.MaxBytes)
	}
}
