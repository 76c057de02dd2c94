package blobstore

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// metaDir holds per-object metadata sidecars. Bucket names cannot start with
// a dot, so it never collides with a bucket directory.
const metaDir = ".meta"

// Local persists objects on disk under root/<bucket>/<key>, mimicking S3 for
// development runs and tests. ETags are the hex MD5 of the content, which is
// what S3 reports for single-part uploads.
type Local struct {
	root string
}

var _ Store = (*Local)(nil)

// NewLocal creates a store rooted at dir.
func NewLocal(root string) *Local {
	if root == "" {
		root = filepath.Join(os.TempDir(), "s3etl-store")
	}
	_ = os.MkdirAll(root, 0o755)
	return &Local{root: root}
}

// Root returns the directory backing the store.
func (s *Local) Root() string { return s.root }

func (s *Local) List(ctx context.Context, bucket, prefix string) ([]ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	base := s.bucketPath(bucket)
	if bucket == "" {
		return nil, wrapError(CodeBucketNotFound, false, os.ErrNotExist)
	}
	if st, err := os.Stat(base); err != nil || !st.IsDir() {
		return nil, wrapError(CodeBucketNotFound, false, os.ErrNotExist)
	}

	var out []ObjectInfo
	err := filepath.WalkDir(base, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(base, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		info, err := s.stat(bucket, key)
		if err != nil {
			return err
		}
		out = append(out, info)
		return nil
	})
	if err != nil {
		return nil, wrapError(CodeReadFailed, true, err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *Local) Get(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(s.objectPath(bucket, key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, wrapError(CodeObjectNotFound, false, err)
		}
		return nil, wrapError(CodeReadFailed, true, err)
	}
	return f, nil
}

func (s *Local) Head(ctx context.Context, bucket, key string) (ObjectInfo, bool, error) {
	if err := ctx.Err(); err != nil {
		return ObjectInfo{}, false, err
	}
	info, err := s.stat(bucket, key)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ObjectInfo{}, false, nil
		}
		return ObjectInfo{}, false, wrapError(CodeReadFailed, true, err)
	}
	return info, true, nil
}

func (s *Local) Put(ctx context.Context, bucket, key string, body io.Reader, size int64, opt PutOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if bucket == "" {
		return wrapError(CodeBucketNotFound, false, os.ErrNotExist)
	}
	if key == "" {
		return wrapError(CodeWriteFailed, false, errors.New("object key is required"))
	}
	full := s.objectPath(bucket, key)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return wrapError(CodePermissionDenied, false, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(full), ".put-*")
	if err != nil {
		return wrapError(CodeWriteFailed, true, err)
	}
	n, err := io.Copy(tmp, body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil && size >= 0 && n != size {
		err = errors.New("short write: body size does not match declared size")
	}
	if err != nil {
		_ = os.Remove(tmp.Name())
		return wrapError(CodeWriteFailed, true, err)
	}
	if err := os.Rename(tmp.Name(), full); err != nil {
		_ = os.Remove(tmp.Name())
		return wrapError(CodeWriteFailed, true, err)
	}
	return s.writeMeta(bucket, key, opt)
}

type localMeta struct {
	ContentType string            `json:"content_type,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

func (s *Local) writeMeta(bucket, key string, opt PutOptions) error {
	p := s.metaPath(bucket, key)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return wrapError(CodeWriteFailed, false, err)
	}
	b, err := json.Marshal(localMeta{ContentType: opt.ContentType, Metadata: opt.Metadata})
	if err != nil {
		return wrapError(CodeWriteFailed, false, err)
	}
	if err := os.WriteFile(p, b, 0o644); err != nil {
		return wrapError(CodeWriteFailed, true, err)
	}
	return nil
}

func (s *Local) stat(bucket, key string) (ObjectInfo, error) {
	p := s.objectPath(bucket, key)
	st, err := os.Stat(p)
	if err != nil {
		return ObjectInfo{}, err
	}
	if st.IsDir() {
		return ObjectInfo{}, fs.ErrNotExist
	}
	etag, err := fileMD5(p)
	if err != nil {
		return ObjectInfo{}, err
	}
	info := ObjectInfo{
		Bucket:       bucket,
		Key:          key,
		ETag:         etag,
		Size:         st.Size(),
		LastModified: st.ModTime().UTC(),
	}
	if b, err := os.ReadFile(s.metaPath(bucket, key)); err == nil {
		var m localMeta
		if json.Unmarshal(b, &m) == nil {
			info.ContentType = m.ContentType
			info.Metadata = m.Metadata
		}
	}
	return info, nil
}

func fileMD5(p string) (string, error) {
	f, err := os.Open(p)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func (s *Local) bucketPath(bucket string) string {
	return filepath.Join(s.root, sanitize(bucket))
}

func (s *Local) objectPath(bucket, key string) string {
	return filepath.Join(s.bucketPath(bucket), filepath.FromSlash(key))
}

func (s *Local) metaPath(bucket, key string) string {
	return filepath.Join(s.root, metaDir, sanitize(bucket), filepath.FromSlash(key)+".json")
}

func sanitize(name string) string {
	name = strings.TrimSpace(name)
	name = strings.ReplaceAll(name, "..", "")
	name = strings.Trim(name, "/\\")
	return name
}
