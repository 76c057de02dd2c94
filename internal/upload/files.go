// Package upload pushes local files into the object store: discovery with
// extension filters, key layout by scope and file type, a bounded-concurrency
// uploader with duplicate checks and retries, and a local duplicate scanner.
package upload

import (
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"s3etl/internal/config"
)

// FileTypes maps a lower-case extension to the category used in object keys.
var FileTypes = map[string]string{
	".pdf":  "pdf",
	".png":  "image",
	".jpg":  "image",
	".jpeg": "image",
	".gif":  "image",
	".bmp":  "image",
	".tiff": "image",
	".csv":  "csv",
	".json": "json",
	".txt":  "text",
	".log":  "text",
	".md":   "text",
	".docx": "docx",
	".doc":  "docx",
	".xlsx": "excel",
	".xls":  "excel",
	".pptx": "powerpoint",
	".ppt":  "powerpoint",
	".xml":  "xml",
	".yaml": "yaml",
	".yml":  "yaml",
}

// FileDiscoveryError reports a directory that could not be scanned.
type FileDiscoveryError struct {
	Dir string
	Err error
}

func (e *FileDiscoveryError) Error() string {
	return fmt.Sprintf("discover %s: %v", e.Dir, e.Err)
}

func (e *FileDiscoveryError) Unwrap() error { return e.Err }

// ParseExtensions turns "pdf, .CSV" into {".pdf", ".csv"}.
func ParseExtensions(s string) map[string]bool {
	out := map[string]bool{}
	for _, ext := range strings.Split(s, ",") {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		out[ext] = true
	}
	return out
}

// Discover walks dir recursively and returns regular files in lexical order.
// Files without an extension are skipped. A non-empty include set keeps only
// those extensions; exclude drops extensions. When scope is set and dir has
// a matching subdirectory only that subdirectory is scanned.
func Discover(dir string, include, exclude map[string]bool, scope string) ([]string, error) {
	st, err := os.Stat(dir)
	if err != nil {
		return nil, &FileDiscoveryError{Dir: dir, Err: err}
	}
	if !st.IsDir() {
		return nil, &FileDiscoveryError{Dir: dir, Err: fmt.Errorf("not a directory")}
	}

	scan := dir
	if scope != "" {
		sd := filepath.Join(dir, strings.ToLower(scope))
		if st, err := os.Stat(sd); err == nil && st.IsDir() {
			scan = sd
		} else {
			log.Printf("upload: scope dir %s not found; scanning %s", sd, dir)
		}
	}

	var files []string
	err = filepath.WalkDir(scan, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if !d.Type().IsRegular() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(p))
		switch {
		case ext == "":
			return nil
		case len(include) > 0 && !include[ext]:
			return nil
		case exclude[ext]:
			return nil
		}
		files = append(files, p)
		return nil
	})
	if err != nil {
		return nil, &FileDiscoveryError{Dir: scan, Err: err}
	}
	sort.Strings(files)
	log.Printf("upload: discovered=%d dir=%s", len(files), scan)
	return files, nil
}

// DetectType returns the key category for p, "other" when unknown.
func DetectType(p string) string {
	if t, ok := FileTypes[strings.ToLower(filepath.Ext(p))]; ok {
		return t
	}
	return "other"
}

// DetectScope infers mba or policy from the first path element under base,
// then from any parent directory name. It returns "" when neither matches.
func DetectScope(p, base string) string {
	if rel, err := filepath.Rel(base, p); err == nil && !strings.HasPrefix(rel, "..") {
		first := strings.SplitN(filepath.ToSlash(rel), "/", 2)[0]
		if s := asScope(first); s != "" {
			return s
		}
	}
	for dir := filepath.Dir(p); ; dir = filepath.Dir(dir) {
		if s := asScope(filepath.Base(dir)); s != "" {
			return s
		}
		if parent := filepath.Dir(dir); parent == dir {
			return ""
		}
	}
}

func asScope(name string) string {
	switch n := strings.ToLower(name); n {
	case config.ScopeMBA, config.ScopePolicy:
		return n
	}
	return ""
}

// BuildKey renders <prefix><type>/<name>, or <prefix><name> when withType is
// false. An empty prefix defaults to "<scope>/".
func BuildKey(scope, p, prefix string, withType bool) string {
	if prefix == "" {
		prefix = scope + "/"
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	name := filepath.Base(p)
	if withType {
		return prefix + DetectType(p) + "/" + name
	}
	return prefix + name
}
