package upload

import (
	"context"
	"errors"
	"fmt"
	"log"
	"mime"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"s3etl/internal/blobstore"
	"s3etl/internal/metrics"
)

// Concurrency bounds.
const (
	DefaultConcurrency = 4
	MaxConcurrency     = 32
)

// Status of one uploaded file.
type Status string

const (
	StatusUploaded Status = "uploaded"
	StatusSkipped  Status = "skipped"
	StatusDryRun   Status = "dry-run"
	StatusFailed   Status = "failed"
)

// UploadError reports a file that could not be uploaded.
type UploadError struct {
	File     string
	Bucket   string
	Key      string
	Attempts int
	Err      error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload %s to %s after %d attempt(s): %v", e.File, blobstore.URI(e.Bucket, e.Key), e.Attempts, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// ErrSizeMismatch is returned when the key exists with a different size and
// overwriting is off.
var ErrSizeMismatch = errors.New("file exists with different size (use --overwrite to replace)")

// Item is one local file and its destination key.
type Item struct {
	Path string
	Key  string
}

// Result reports one item.
type Result struct {
	Item
	Status   Status
	Message  string
	Bytes    int64
	Attempts int
	Err      error
}

// Options tunes an Uploader.
type Options struct {
	Concurrency    int
	Retries        int
	RatePerSec     float64
	DryRun         bool
	CheckDuplicate bool
	Overwrite      bool
	SSE            string
	// Backoff is the base delay; attempt n waits Backoff * 2^n.
	Backoff time.Duration
}

// Uploader copies local files into one bucket.
type Uploader struct {
	Store  blobstore.Store
	Bucket string
	Opts   Options
	Now    func() time.Time

	limiter *rate.Limiter
}

// NewUploader clamps concurrency to [1, MaxConcurrency] and sets defaults.
func NewUploader(store blobstore.Store, bucket string, opts Options) *Uploader {
	switch {
	case opts.Concurrency <= 0:
		opts.Concurrency = DefaultConcurrency
	case opts.Concurrency > MaxConcurrency:
		opts.Concurrency = MaxConcurrency
	}
	if opts.Retries <= 0 {
		opts.Retries = 3
	}
	if opts.Backoff <= 0 {
		opts.Backoff = time.Second
	}
	u := &Uploader{Store: store, Bucket: bucket, Opts: opts, Now: time.Now}
	if opts.RatePerSec > 0 {
		u.limiter = rate.NewLimiter(rate.Limit(opts.RatePerSec), 1)
	}
	return u
}

// Upload processes items with bounded concurrency. Results are in item
// order. Per-file failures are reported in the results; the error is
// non-nil only when ctx ends before every item ran.
func (u *Uploader) Upload(ctx context.Context, items []Item) ([]Result, error) {
	results := make([]Result, len(items))
	var failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(u.Opts.Concurrency)
	for i, it := range items {
		i, it := i, it
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			start := time.Now()
			results[i] = u.one(gctx, it)
			metrics.RecordStep("upload", string(results[i].Status), results[i].Err, time.Since(start))
			if results[i].Status == StatusFailed {
				failed.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()
	log.Printf("upload: bucket=%s files=%d failed=%d dry_run=%t", u.Bucket, len(items), failed.Load(), u.Opts.DryRun)
	return results, ctx.Err()
}

func (u *Uploader) one(ctx context.Context, it Item) Result {
	res := Result{Item: it}
	st, err := os.Stat(it.Path)
	if err != nil {
		return u.failed(res, err)
	}
	res.Bytes = st.Size()

	if u.Opts.CheckDuplicate && !u.Opts.Overwrite {
		info, exists, err := u.Store.Head(ctx, u.Bucket, it.Key)
		switch {
		case err != nil:
			log.Printf("upload: head %s: %v", it.Key, err)
		case exists && info.Size == res.Bytes:
			res.Status = StatusSkipped
			res.Message = "Skipped (duplicate)"
			return res
		case exists:
			return u.failed(res, ErrSizeMismatch)
		}
	}

	if u.Opts.DryRun {
		res.Status = StatusDryRun
		res.Message = "Would upload " + blobstore.URI(u.Bucket, it.Key)
		return res
	}

	hash, err := HashFile(it.Path)
	if err != nil {
		return u.failed(res, err)
	}
	opt := blobstore.PutOptions{
		ContentType: mime.TypeByExtension(filepath.Ext(it.Path)),
		SSE:         u.Opts.SSE,
		Metadata: map[string]string{
			"original-filename": filepath.Base(it.Path),
			"local-hash":        hash,
			"upload-timestamp":  strconv.FormatInt(u.Now().Unix(), 10),
		},
	}

	for attempt := 1; attempt <= u.Opts.Retries; attempt++ {
		res.Attempts = attempt
		if u.limiter != nil {
			if err := u.limiter.Wait(ctx); err != nil {
				return u.failed(res, err)
			}
		}
		err = u.put(ctx, it.Path, it.Key, res.Bytes, opt)
		if err == nil {
			res.Status = StatusUploaded
			res.Message = "Uploaded successfully"
			log.Printf("upload: file=%s key=%s bytes=%d attempts=%d", it.Path, it.Key, res.Bytes, attempt)
			return res
		}
		if !blobstore.IsRetryable(err) || attempt == u.Opts.Retries {
			break
		}
		wait := u.Opts.Backoff << attempt
		log.Printf("upload: file=%s attempt=%d retry_in=%s err=%v", it.Path, attempt, wait, err)
		select {
		case <-ctx.Done():
			return u.failed(res, ctx.Err())
		case <-time.After(wait):
		}
	}
	return u.failed(res, err)
}

func (u *Uploader) put(ctx context.Context, path, key string, size int64, opt blobstore.PutOptions) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return u.Store.Put(ctx, u.Bucket, key, f, size, opt)
}

func (u *Uploader) failed(res Result, err error) Result {
	res.Status = StatusFailed
	res.Err = &UploadError{File: res.Path, Bucket: u.Bucket, Key: res.Key, Attempts: res.Attempts, Err: err}
	res.Message = err.Error()
	log.Printf("upload: file=%s status=failed err=%v", res.Path, err)
	return res
}
