package upload

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"s3etl/internal/blobstore"
)

type cacheEntry struct {
	Hash  string `json:"hash"`
	Size  int64  `json:"size"`
	MTime int64  `json:"mtime"`
}

type cacheFile struct {
	Local   map[string]cacheEntry `json:"local"`
	Updated time.Time             `json:"updated"`
}

// Detector finds byte-identical local files. Hashes are cached by absolute
// path and reused while size and modification time are unchanged.
type Detector struct {
	CacheFile string
	cache     map[string]cacheEntry
}

// NewDetector loads the cache file if present. An unreadable cache is
// logged and ignored.
func NewDetector(cachePath string) *Detector {
	d := &Detector{CacheFile: cachePath, cache: map[string]cacheEntry{}}
	if cachePath == "" {
		return d
	}
	b, err := os.ReadFile(cachePath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			log.Printf("dups: read cache %s: %v", cachePath, err)
		}
		return d
	}
	var cf cacheFile
	if err := json.Unmarshal(b, &cf); err != nil {
		log.Printf("dups: parse cache %s: %v", cachePath, err)
		return d
	}
	if cf.Local != nil {
		d.cache = cf.Local
	}
	return d
}

// Scan hashes every regular file under dir and groups paths by hash.
func (d *Detector) Scan(dir string, recursive bool) (map[string][]string, error) {
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, &FileDiscoveryError{Dir: dir, Err: err}
	}
	var files []string
	err = filepath.WalkDir(root, func(p string, e fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if e.IsDir() {
			if p != root && !recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if e.Type().IsRegular() {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, &FileDiscoveryError{Dir: root, Err: err}
	}

	groups := map[string][]string{}
	for _, p := range files {
		h, err := d.hash(p)
		if err != nil {
			log.Printf("dups: file=%s err=%v", p, err)
			continue
		}
		groups[h] = append(groups[h], p)
	}
	if err := d.save(); err != nil {
		log.Printf("dups: save cache %s: %v", d.CacheFile, err)
	}
	log.Printf("dups: dir=%s files=%d groups=%d", root, len(files), len(Duplicates(groups)))
	return groups, nil
}

func (d *Detector) hash(p string) (string, error) {
	st, err := os.Stat(p)
	if err != nil {
		return "", err
	}
	if c, ok := d.cache[p]; ok && c.Size == st.Size() && c.MTime == st.ModTime().UnixNano() {
		return c.Hash, nil
	}
	h, err := HashFile(p)
	if err != nil {
		return "", err
	}
	d.cache[p] = cacheEntry{Hash: h, Size: st.Size(), MTime: st.ModTime().UnixNano()}
	return h, nil
}

func (d *Detector) save() error {
	if d.CacheFile == "" {
		return nil
	}
	b, err := json.MarshalIndent(cacheFile{Local: d.cache, Updated: time.Now().UTC()}, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(d.CacheFile); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(d.CacheFile, b, 0o644)
}

// FindLocal returns other files under dirs with the same content as p.
func (d *Detector) FindLocal(p string, dirs []string) ([]string, error) {
	target, err := filepath.Abs(p)
	if err != nil {
		return nil, err
	}
	h, err := d.hash(target)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, dir := range dirs {
		if _, err := os.Stat(dir); err != nil {
			continue
		}
		groups, err := d.Scan(dir, true)
		if err != nil {
			return nil, err
		}
		for _, q := range groups[h] {
			if q != target {
				out = append(out, q)
			}
		}
	}
	return out, nil
}

// Duplicates keeps only groups with more than one path.
func Duplicates(groups map[string][]string) map[string][]string {
	out := map[string][]string{}
	for h, ps := range groups {
		if len(ps) > 1 {
			out[h] = ps
		}
	}
	return out
}

// Report renders duplicate groups. Within a group the oldest file comes
// first; paths are shown relative to base when possible.
func Report(dups map[string][]string, base string) string {
	rule := strings.Repeat("=", 50)
	var b strings.Builder
	fmt.Fprintf(&b, "%s\nDuplicate Detection Report\n%s\n", rule, rule)
	if len(dups) == 0 {
		b.WriteString("No duplicates found\n")
		b.WriteString(rule)
		return b.String()
	}

	total := 0
	hashes := make([]string, 0, len(dups))
	for h, ps := range dups {
		total += len(ps) - 1
		hashes = append(hashes, h)
	}
	sort.Strings(hashes)
	fmt.Fprintf(&b, "Found %d duplicate files in %d groups\n\n", total, len(dups))

	type entry struct {
		path string
		st   os.FileInfo
	}
	for i, h := range hashes {
		var es []entry
		for _, p := range dups[h] {
			st, err := os.Stat(p)
			if err != nil {
				continue
			}
			es = append(es, entry{p, st})
		}
		sort.SliceStable(es, func(a, c int) bool { return es[a].st.ModTime().Before(es[c].st.ModTime()) })
		fmt.Fprintf(&b, "Group %d (%d files):\n", i+1, len(es))
		for j, e := range es {
			marker := " (duplicate)"
			if j == 0 {
				marker = " (oldest)"
			}
			show := e.path
			if base != "" {
				if rel, err := filepath.Rel(base, e.path); err == nil && !strings.HasPrefix(rel, "..") {
					show = rel
				}
			}
			fmt.Fprintf(&b, "  - %s%s\n", show, marker)
			fmt.Fprintf(&b, "    Size: %d bytes\n", e.st.Size())
			fmt.Fprintf(&b, "    Modified: %s\n", e.st.ModTime().Format("2006-01-02 15:04:05"))
		}
		b.WriteString("\n")
	}
	b.WriteString(rule)
	return b.String()
}

// Similar is a remote object that shares a name or size with a local file.
type Similar struct {
	blobstore.ObjectInfo
	// Similarity is same_name or same_size.
	Similarity string
}

// FindSimilar lists bucket/prefix and returns objects whose base name
// matches p (case-insensitive) or whose size equals p's size.
func FindSimilar(ctx context.Context, store blobstore.Store, bucket, prefix, p string) ([]Similar, error) {
	st, err := os.Stat(p)
	if err != nil {
		return nil, err
	}
	objs, err := store.List(ctx, bucket, prefix)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", blobstore.URI(bucket, prefix), err)
	}
	name := strings.ToLower(filepath.Base(p))
	var out []Similar
	for _, o := range objs {
		switch {
		case strings.ToLower(path.Base(o.Key)) == name:
			out = append(out, Similar{ObjectInfo: o, Similarity: "same_name"})
		case o.Size == st.Size():
			out = append(out, Similar{ObjectInfo: o, Similarity: "same_size"})
		}
	}
	return out, nil
}
