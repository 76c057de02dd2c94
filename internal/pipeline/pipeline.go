// Package pipeline drives the per-file ETL sequence and the batch run over a
// bucket prefix.
//
// Every candidate object ends in exactly one Outcome: Skipped (no table rule,
// or already loaded), Completed, or Failed. Per-file errors are recorded in
// the ledger and reported; they never abort sibling files. Only listing the
// source objects and writing the ledger itself are batch-fatal.
//
//	Discovered -> Skipped(reason)
//	Discovered -> Processing -> Completed
//	Discovered -> Processing -> Failed(err)
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"s3etl/internal/blobstore"
	"s3etl/internal/ledger"
	"s3etl/internal/metrics"
	csvparser "s3etl/internal/parser/csv"
	"s3etl/internal/quality"
	"s3etl/internal/records"
	"s3etl/internal/rules"
	"s3etl/internal/storage"
	"s3etl/internal/transformer"
	"s3etl/internal/transformer/builtin"
)

// Skip reasons.
const (
	ReasonUnmapped = "unknown file type"
	ReasonImported = "already imported"
	ReasonCanceled = "canceled"
)

// SourceFile identifies one ingestible object. Fingerprint is the ETag with
// quotes stripped.
type SourceFile struct {
	Bucket      string
	Key         string
	Fingerprint string
	SizeBytes   int64
}

// SourceFromObject builds a SourceFile from a listing entry.
func SourceFromObject(o blobstore.ObjectInfo) SourceFile {
	return SourceFile{
		Bucket:      o.Bucket,
		Key:         o.Key,
		Fingerprint: blobstore.NormalizeETag(o.ETag),
		SizeBytes:   o.Size,
	}
}

// URI renders the file as s3://bucket/key.
func (f SourceFile) URI() string { return blobstore.URI(f.Bucket, f.Key) }

// Kind tags an Outcome.
type Kind string

const (
	Skipped   Kind = "skipped"
	Completed Kind = "completed"
	Failed    Kind = "failed"
)

// Outcome is the result of processing one file.
type Outcome struct {
	Kind   Kind
	Reason string
	Table  string
	JobID  string
	// Records is the number of rows loaded; Rejected the rows dropped
	// before the load (missing keys, duplicates).
	Records  int64
	Rejected int64
	Err      error
}

// InvalidDataError fails a file whose validation reported structural issues.
type InvalidDataError struct {
	Key    string
	Issues []string
}

func (e *InvalidDataError) Error() string {
	return fmt.Sprintf("%s: validation failed: %s", e.Key, strings.Join(e.Issues, "; "))
}

// Options tunes the orchestrator. Zero values fall back to defaults.
type Options struct {
	// Extension selects candidate keys, compared case-insensitively.
	Extension   string
	Policy      storage.ConflictPolicy
	BatchSize   int
	Parser      csvparser.Options
	DedupPolicy string
}

// DefaultOptions loads .csv keys with the update policy.
func DefaultOptions() Options {
	return Options{
		Extension:   ".csv",
		Policy:      storage.PolicyUpdate,
		BatchSize:   storage.DefaultBatchSize,
		Parser:      csvparser.DefaultOptions(),
		DedupPolicy: builtin.KeepLast,
	}
}

// Orchestrator runs files through extract, validate, transform and load.
// It is safe to reuse across runs but processes one file at a time.
type Orchestrator struct {
	Store   blobstore.Store
	Repo    storage.Repository
	Ledger  *ledger.Ledger
	Rules   *rules.Registry
	Options Options
}

// New wires an orchestrator. Unset options take their defaults.
func New(store blobstore.Store, repo storage.Repository, l *ledger.Ledger, reg *rules.Registry, opt Options) *Orchestrator {
	d := DefaultOptions()
	if opt.Extension == "" {
		opt.Extension = d.Extension
	}
	if opt.Policy == "" {
		opt.Policy = d.Policy
	}
	if opt.BatchSize <= 0 {
		opt.BatchSize = d.BatchSize
	}
	if opt.Parser.Comma == 0 {
		opt.Parser = d.Parser
	}
	if opt.DedupPolicy == "" {
		opt.DedupPolicy = d.DedupPolicy
	}
	return &Orchestrator{Store: store, Repo: repo, Ledger: l, Rules: reg, Options: opt}
}

// extractFn is a test seam.
var extractFn = csvparser.Extract

// IsCandidate reports whether key carries the configured extension.
func (o *Orchestrator) IsCandidate(key string) bool {
	return strings.HasSuffix(strings.ToLower(key), strings.ToLower(o.Options.Extension))
}

// ProcessFile runs one file through the state machine. The returned error
// is non-nil only for failures that should stop a batch: ledger writes and
// cancellation before processing started. Everything else is reported in
// the Outcome.
func (o *Orchestrator) ProcessFile(ctx context.Context, src SourceFile) (Outcome, error) {
	rule, ok := o.Rules.Resolve(src.Key)
	if !ok {
		log.Printf("pipeline: key=%s status=skipped reason=%q", src.Key, ReasonUnmapped)
		err := o.Ledger.RecordImport(ctx, nil, ledger.ImportEntry{
			Bucket: src.Bucket, Key: src.Key, ETag: src.Fingerprint, FileBytes: src.SizeBytes,
			Status: ledger.ImportSkipped, Message: "No table mapping",
		})
		return Outcome{Kind: Skipped, Reason: ReasonUnmapped}, err
	}

	loaded, err := o.Ledger.IsAlreadyLoaded(ctx, src.Bucket, src.Fingerprint)
	if err != nil {
		return Outcome{}, err
	}
	if loaded {
		log.Printf("pipeline: key=%s status=skipped reason=%q etag=%s", src.Key, ReasonImported, src.Fingerprint)
		err := o.Ledger.RecordImport(ctx, nil, ledger.ImportEntry{
			Bucket: src.Bucket, Key: src.Key, ETag: src.Fingerprint, FileBytes: src.SizeBytes,
			Status: ledger.ImportSkipped, Message: "Already imported",
		})
		return Outcome{Kind: Skipped, Reason: ReasonImported, Table: rule.Table}, err
	}

	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}
	// From here on the file runs to a terminal status.
	ctx = context.WithoutCancel(ctx)

	jobID, err := o.Ledger.CreateJob(ctx, rule.JobType(), src.URI())
	if err != nil {
		return Outcome{}, err
	}

	start := time.Now()
	res := o.run(ctx, src, rule, jobID)
	res.JobID = jobID
	res.Table = rule.Table
	metrics.RecordStep(rule.Table, "file", res.Err, time.Since(start))

	if res.fatal != nil {
		res.Kind = Failed
		res.Err = res.fatal
		if err := o.Ledger.UpdateJob(ctx, jobID, ledger.StatusFailed, 0, res.read, res.fatal.Error()); err != nil {
			log.Printf("pipeline: key=%s job=%s update_job_failed err=%v", src.Key, jobID, err)
		}
		return res.Outcome, res.fatal
	}

	if res.Err != nil {
		log.Printf("pipeline: key=%s job=%s status=failed err=%v", src.Key, jobID, res.Err)
		if err := o.Ledger.UpdateJob(ctx, jobID, ledger.StatusFailed, 0, res.read, res.Err.Error()); err != nil {
			return res.Outcome, err
		}
		err := o.Ledger.RecordImport(ctx, nil, ledger.ImportEntry{
			Bucket: src.Bucket, Key: src.Key, ETag: src.Fingerprint, FileBytes: src.SizeBytes,
			Status: ledger.ImportError, Message: res.Err.Error(),
		})
		res.Kind = Failed
		return res.Outcome, err
	}

	if err := o.Ledger.UpdateJob(ctx, jobID, ledger.StatusCompleted, res.Records, res.Rejected, ""); err != nil {
		return res.Outcome, err
	}
	res.Kind = Completed
	log.Printf("pipeline: key=%s job=%s table=%s status=completed rows=%d rejected=%d took=%s",
		src.Key, jobID, rule.Table, res.Records, res.Rejected, time.Since(start).Truncate(time.Millisecond))
	return res.Outcome, nil
}

type runResult struct {
	Outcome
	// read counts extracted rows; reported as failed when the file fails.
	read int64
	// fatal is a ledger failure that must stop the batch.
	fatal error
}

func (o *Orchestrator) run(ctx context.Context, src SourceFile, rule rules.TableRule, jobID string) runResult {
	var res runResult

	t0 := time.Now()
	set, err := o.extract(ctx, src)
	metrics.RecordStep(rule.Table, "extract", err, time.Since(t0))
	if err != nil {
		res.Err = err
		return res
	}
	res.read = int64(set.Len())
	metrics.RecordRow(rule.Table, "processed", res.read)

	coerced, vo, verr := quality.Validate(set, rule)
	if err := o.Ledger.LogQuality(ctx, ledger.QualityEntry{
		JobID:     jobID,
		CheckType: quality.CheckValidation,
		TableName: rule.Table,
		Result:    ledger.QualityResult(vo.Result()),
		Details:   vo,
	}); err != nil {
		res.fatal = err
		return res
	}
	if verr != nil {
		res.Err = verr
		return res
	}
	if !vo.IsValid {
		res.Err = &InvalidDataError{Key: src.Key, Issues: vo.Issues}
		return res
	}

	out, st := transformer.ForRuleWith(rule, o.Options.DedupPolicy).Run(coerced)
	res.Rejected = int64(st.In - st.Out)
	metrics.RecordRow(rule.Table, "transform_dropped", res.Rejected)

	t0 = time.Now()
	n, err := storage.Load(ctx, o.Repo, storage.LoadRequest{
		Table:     rule.Table,
		Set:       out,
		Keys:      rule.KeyColumns,
		Policy:    o.Options.Policy,
		BatchSize: o.Options.BatchSize,
		AfterLoad: func(ctx context.Context, tx storage.Tx, rows int64) error {
			return o.Ledger.RecordImport(ctx, tx, ledger.ImportEntry{
				Bucket: src.Bucket, Key: src.Key, ETag: src.Fingerprint, FileBytes: src.SizeBytes,
				LoadedRows: rows, Status: ledger.ImportLoaded,
			})
		},
	})
	metrics.RecordStep(rule.Table, "load", err, time.Since(t0))
	if err != nil {
		res.Err = err
		return res
	}
	metrics.RecordRow(rule.Table, "inserted", n)
	res.Records = n
	return res
}

func (o *Orchestrator) extract(ctx context.Context, src SourceFile) (*records.Set, error) {
	body, err := o.Store.Get(ctx, src.Bucket, src.Key)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", src.URI(), err)
	}
	defer body.Close()
	return extractFn(ctx, src.Key, body, o.Options.Parser)
}

// FileDetail is one line of a batch report.
type FileDetail struct {
	Key     string `json:"key"`
	Status  Kind   `json:"status"`
	Reason  string `json:"reason,omitempty"`
	Table   string `json:"table,omitempty"`
	JobID   string `json:"job_id,omitempty"`
	Records int64  `json:"records"`
	Error   string `json:"error,omitempty"`
}

// BatchReport aggregates a batch run. Details follow listing order.
type BatchReport struct {
	Bucket     string        `json:"bucket"`
	Prefix     string        `json:"prefix"`
	TotalFiles int           `json:"total_files"`
	Successful int           `json:"successful"`
	Failed     int           `json:"failed"`
	Skipped    int           `json:"skipped"`
	Details    []FileDetail  `json:"details"`
	Duration   time.Duration `json:"duration"`
}

func (r *BatchReport) add(key string, out Outcome) {
	d := FileDetail{Key: key, Status: out.Kind, Reason: out.Reason, Table: out.Table, JobID: out.JobID, Records: out.Records}
	if out.Err != nil {
		d.Error = out.Err.Error()
	}
	switch out.Kind {
	case Completed:
		r.Successful++
	case Failed:
		r.Failed++
	default:
		r.Skipped++
	}
	r.Details = append(r.Details, d)
}

// ProcessBatch lists bucket/prefix and processes every candidate in listing
// order. The error is non-nil only for batch-fatal failures; the report
// covers every file handled up to that point. When ctx is canceled the
// remaining files are reported as skipped and ctx.Err() is returned.
func (o *Orchestrator) ProcessBatch(ctx context.Context, bucket, prefix string) (*BatchReport, error) {
	start := time.Now()
	objs, err := o.Store.List(ctx, bucket, prefix)
	if err != nil {
		return nil, fmt.Errorf("pipeline: list %s: %w", blobstore.URI(bucket, prefix), err)
	}

	rep := &BatchReport{Bucket: bucket, Prefix: prefix}
	var files []SourceFile
	for _, obj := range objs {
		if o.IsCandidate(obj.Key) {
			if obj.Bucket == "" {
				obj.Bucket = bucket
			}
			files = append(files, SourceFromObject(obj))
		}
	}
	rep.TotalFiles = len(files)
	log.Printf("pipeline: bucket=%s prefix=%s listed=%d candidates=%d", bucket, prefix, len(objs), len(files))

	for i, f := range files {
		if err := ctx.Err(); err != nil {
			for _, rest := range files[i:] {
				rep.add(rest.Key, Outcome{Kind: Skipped, Reason: ReasonCanceled})
			}
			rep.Duration = time.Since(start)
			return rep, err
		}
		out, err := o.ProcessFile(ctx, f)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				for _, rest := range files[i:] {
					rep.add(rest.Key, Outcome{Kind: Skipped, Reason: ReasonCanceled})
				}
				rep.Duration = time.Since(start)
				return rep, err
			}
			rep.Duration = time.Since(start)
			return rep, fmt.Errorf("pipeline: %s: %w", f.Key, err)
		}
		rep.add(f.Key, out)
	}
	rep.Duration = time.Since(start)
	metrics.RecordBatches("pipeline", 1)
	log.Printf("pipeline: bucket=%s prefix=%s total=%d successful=%d failed=%d skipped=%d took=%s",
		bucket, prefix, rep.TotalFiles, rep.Successful, rep.Failed, rep.Skipped, rep.Duration.Truncate(time.Millisecond))
	return rep, nil
}
