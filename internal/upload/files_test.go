package upload

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func touch(t *testing.T, p, body string) string {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestParseExtensions(t *testing.T) {
	t.Parallel()
	got := ParseExtensions("pdf, .CSV,, txt ")
	want := map[string]bool{".pdf": true, ".csv": true, ".txt": true}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
	if len(ParseExtensions("")) != 0 {
		t.Fatal("empty input should yield no extensions")
	}
}

func TestDetectType(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"a/report.PDF":   "pdf",
		"scan.jpeg":      "image",
		"MemberData.csv": "csv",
		"notes":          "other",
		"archive.zip":    "other",
	}
	for in, want := range tests {
		if got := DetectType(in); got != want {
			t.Errorf("DetectType(%q)=%q want %q", in, got, want)
		}
	}
}

func TestBuildKey(t *testing.T) {
	t.Parallel()
	tests := []struct {
		scope, path, prefix string
		withType            bool
		want                string
	}{
		{"mba", "/in/x.csv", "", true, "mba/csv/x.csv"},
		{"mba", "/in/x.csv", "", false, "mba/x.csv"},
		{"policy", "/in/doc.pdf", "archive", true, "archive/pdf/doc.pdf"},
		{"policy", "/in/blob", "p/", true, "p/other/blob"},
	}
	for _, tc := range tests {
		if got := BuildKey(tc.scope, tc.path, tc.prefix, tc.withType); got != tc.want {
			t.Errorf("BuildKey(%q,%q,%q,%v)=%q want %q", tc.scope, tc.path, tc.prefix, tc.withType, got, tc.want)
		}
	}
}

func TestDetectScope(t *testing.T) {
	t.Parallel()
	base := filepath.Join("data", "in")
	tests := []struct {
		path string
		want string
	}{
		{filepath.Join(base, "MBA", "csv", "x.csv"), "mba"},
		{filepath.Join(base, "policy", "x.pdf"), "policy"},
		{filepath.Join("elsewhere", "mba", "deep", "x.csv"), "mba"},
		{filepath.Join(base, "misc", "x.csv"), ""},
	}
	for _, tc := range tests {
		if got := DetectScope(tc.path, base); got != tc.want {
			t.Errorf("DetectScope(%q)=%q want %q", tc.path, got, tc.want)
		}
	}
}

func TestDiscover(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "mba", "a.csv"), "a")
	touch(t, filepath.Join(dir, "mba", "sub", "b.PDF"), "b")
	touch(t, filepath.Join(dir, "mba", "noext"), "c")
	touch(t, filepath.Join(dir, "policy", "c.csv"), "d")

	all, err := Discover(dir, nil, nil, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("all=%v", all)
	}

	scoped, err := Discover(dir, ParseExtensions("pdf"), nil, "mba")
	if err != nil {
		t.Fatal(err)
	}
	if want := []string{filepath.Join(dir, "mba", "sub", "b.PDF")}; !reflect.DeepEqual(scoped, want) {
		t.Fatalf("scoped=%v want %v", scoped, want)
	}

	excl, err := Discover(dir, nil, ParseExtensions("csv"), "missing-scope")
	if err != nil {
		t.Fatal(err)
	}
	if len(excl) != 1 {
		t.Fatalf("excl=%v", excl)
	}
}

func TestDiscover_Errors(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	file := touch(t, filepath.Join(dir, "f.csv"), "x")

	for _, p := range []string{filepath.Join(dir, "nope"), file} {
		_, err := Discover(p, nil, nil, "")
		var fde *FileDiscoveryError
		if !errors.As(err, &fde) {
			t.Fatalf("Discover(%s) err=%v, want *FileDiscoveryError", p, err)
		}
	}
}
