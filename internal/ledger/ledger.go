// Package ledger records processing attempts (etl_jobs), quality check
// results (data_quality_logs) and per-object import outcomes (import_log).
//
// The ledger is append/update-only and relies on the relational store's own
// transaction isolation; it holds no in-process locks.
package ledger

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"s3etl/internal/storage"
)

// Status is a job's lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether s ends a job.
func (s Status) Terminal() bool { return s == StatusCompleted || s == StatusFailed }

func (s Status) valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

var (
	// ErrTerminal is returned when an update would move a job out of a
	// terminal status.
	ErrTerminal = errors.New("ledger: job is in a terminal status")
	// ErrJobNotFound is returned for unknown job IDs.
	ErrJobNotFound = errors.New("ledger: job not found")
)

// Job is one processing attempt.
type Job struct {
	ID               string
	Type             string
	SourceFile       string
	Status           Status
	RecordsProcessed int64
	RecordsFailed    int64
	ErrorMessage     string
	StartedAt        time.Time
	// CompletedAt is nil until the job reaches a terminal status.
	CompletedAt *time.Time
	CreatedAt   time.Time
}

// QualityResult is the verdict of one quality check.
type QualityResult string

const (
	ResultPass QualityResult = "pass"
	ResultFail QualityResult = "fail"
)

// QualityEntry is one data_quality_logs row. Details is stored as JSON.
type QualityEntry struct {
	JobID     string
	CheckType string
	TableName string
	Result    QualityResult
	Details   any
}

// ImportStatus is the outcome recorded in import_log.
type ImportStatus string

const (
	ImportLoaded  ImportStatus = "LOADED"
	ImportSkipped ImportStatus = "SKIPPED"
	ImportError   ImportStatus = "ERROR"
)

// MaxMessageLen bounds import_log.message.
const MaxMessageLen = 995

// ImportEntry is one import_log row.
type ImportEntry struct {
	Bucket     string
	Key        string
	ETag       string
	FileBytes  int64
	LoadedRows int64
	Status     ImportStatus
	Message    string
	CreatedAt  time.Time
}

// QualityCount aggregates quality entries by check type and result.
type QualityCount struct {
	CheckType string
	Result    QualityResult
	Count     int64
}

// Ledger writes and reads the ledger tables through a storage.Repository.
type Ledger struct {
	repo storage.Repository
	now  func() time.Time
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock replaces time.Now; tests use it to pin timestamps.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// New returns a Ledger over repo.
func New(repo storage.Repository, opts ...Option) *Ledger {
	l := &Ledger{repo: repo, now: time.Now}
	for _, o := range opts {
		o(l)
	}
	return l
}

func (l *Ledger) clock() time.Time { return l.now().UTC() }

// NewJobID renders {jobType}_{YYYYMMDD_HHMMSS}_{8 hex}; the suffix is taken
// from a random UUID.
func NewJobID(jobType string, now time.Time) string {
	u := uuid.New()
	return fmt.Sprintf("%s_%s_%s", jobType, now.UTC().Format("20060102_150405"), hex.EncodeToString(u[:4]))
}

// EnsureSchema creates the ledger tables for the given storage kind.
func (l *Ledger) EnsureSchema(ctx context.Context, kind string) error {
	return storage.EnsureTables(ctx, l.repo, kind, Tables())
}

// CreateJob inserts a job in status processing and returns its ID.
func (l *Ledger) CreateJob(ctx context.Context, jobType, sourceFile string) (string, error) {
	now := l.clock()
	id := NewJobID(jobType, now)
	_, err := l.repo.Exec(ctx,
		"INSERT INTO etl_jobs (job_id, job_type, source_file, status, records_processed, records_failed, started_at, created_at) VALUES (?, ?, ?, ?, 0, 0, ?, ?)",
		id, jobType, sourceFile, string(StatusProcessing), now, now)
	if err != nil {
		return "", fmt.Errorf("ledger: create job %s: %w", jobType, err)
	}
	log.Printf("ledger: job=%s status=%s source=%s", id, StatusProcessing, sourceFile)
	return id, nil
}

// UpdateJob sets a job's status and counters. completed_at is set only for
// terminal statuses. A job in a terminal status may only be re-written with
// the same status (last write wins); anything else returns ErrTerminal.
func (l *Ledger) UpdateJob(ctx context.Context, jobID string, status Status, processed, failed int64, errMsg string) error {
	if !status.valid() {
		return fmt.Errorf("ledger: unknown status %q", status)
	}
	now := l.clock()
	var completedAt any
	if status.Terminal() {
		completedAt = now
	}
	var msg any
	if errMsg != "" {
		msg = errMsg
	}

	err := l.repo.WithTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		rows, err := tx.Query(ctx, "SELECT status FROM etl_jobs WHERE job_id = ?", jobID)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
		}
		if cur := Status(rows[0].String("status")); cur.Terminal() && cur != status {
			return fmt.Errorf("%w: %s is %s, cannot become %s", ErrTerminal, jobID, cur, status)
		}
		_, err = tx.Exec(ctx,
			"UPDATE etl_jobs SET status = ?, records_processed = ?, records_failed = ?, error_message = ?, completed_at = ? WHERE job_id = ?",
			string(status), processed, failed, msg, completedAt, jobID)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrTerminal) || errors.Is(err, ErrJobNotFound) {
			return err
		}
		return fmt.Errorf("ledger: update job %s: %w", jobID, err)
	}
	log.Printf("ledger: job=%s status=%s processed=%d failed=%d", jobID, status, processed, failed)
	return nil
}

// GetJob loads one job.
func (l *Ledger) GetJob(ctx context.Context, jobID string) (Job, error) {
	rows, err := l.repo.Query(ctx, "SELECT "+jobColumns+" FROM etl_jobs WHERE job_id = ?", jobID)
	if err != nil {
		return Job{}, fmt.Errorf("ledger: get job %s: %w", jobID, err)
	}
	if len(rows) == 0 {
		return Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	return jobFromRow(rows[0]), nil
}

// RecentJobs returns up to limit jobs, newest first.
func (l *Ledger) RecentJobs(ctx context.Context, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = 10
	}
	q := "SELECT " + jobColumns + " FROM etl_jobs ORDER BY created_at DESC " + l.repo.Dialect().Limit(limit)
	rows, err := l.repo.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("ledger: recent jobs: %w", err)
	}
	out := make([]Job, 0, len(rows))
	for _, r := range rows {
		out = append(out, jobFromRow(r))
	}
	return out, nil
}

// CountJobs counts jobs for a source file in the given status.
func (l *Ledger) CountJobs(ctx context.Context, sourceFile string, status Status) (int64, error) {
	rows, err := l.repo.Query(ctx, "SELECT COUNT(*) AS n FROM etl_jobs WHERE source_file = ? AND status = ?", sourceFile, string(status))
	if err != nil {
		return 0, fmt.Errorf("ledger: count jobs: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return rows[0].Int64("n"), nil
}

const jobColumns = "job_id, job_type, source_file, status, records_processed, records_failed, error_message, started_at, completed_at, created_at"

func jobFromRow(r storage.Row) Job {
	j := Job{
		ID:               r.String("job_id"),
		Type:             r.String("job_type"),
		SourceFile:       r.String("source_file"),
		Status:           Status(r.String("status")),
		RecordsProcessed: r.Int64("records_processed"),
		RecordsFailed:    r.Int64("records_failed"),
		ErrorMessage:     r.String("error_message"),
		StartedAt:        r.Time("started_at"),
		CreatedAt:        r.Time("created_at"),
	}
	if t := r.Time("completed_at"); !t.IsZero() {
		j.CompletedAt = &t
	}
	return j
}

// LogQuality appends a quality entry.
func (l *Ledger) LogQuality(ctx context.Context, e QualityEntry) error {
	var details any
	if e.Details != nil {
		b, err := json.Marshal(e.Details)
		if err != nil {
			return fmt.Errorf("ledger: encode quality details: %w", err)
		}
		details = string(b)
	}
	_, err := l.repo.Exec(ctx,
		"INSERT INTO data_quality_logs (job_id, check_type, table_name, check_result, details, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		e.JobID, e.CheckType, e.TableName, string(e.Result), details, l.clock())
	if err != nil {
		return fmt.Errorf("ledger: log quality %s/%s: %w", e.JobID, e.CheckType, err)
	}
	return nil
}

// QualitySummary counts quality entries created at or after since.
func (l *Ledger) QualitySummary(ctx context.Context, since time.Time) ([]QualityCount, error) {
	rows, err := l.repo.Query(ctx,
		"SELECT check_type, check_result, COUNT(*) AS n FROM data_quality_logs WHERE created_at >= ? GROUP BY check_type, check_result ORDER BY check_type, check_result",
		since.UTC())
	if err != nil {
		return nil, fmt.Errorf("ledger: quality summary: %w", err)
	}
	out := make([]QualityCount, 0, len(rows))
	for _, r := range rows {
		out = append(out, QualityCount{
			CheckType: r.String("check_type"),
			Result:    QualityResult(r.String("check_result")),
			Count:     r.Int64("n"),
		})
	}
	return out, nil
}

// IsAlreadyLoaded reports whether an object with this fingerprint was
// already loaded from bucket. An empty fingerprint is never considered
// loaded.
func (l *Ledger) IsAlreadyLoaded(ctx context.Context, bucket, fingerprint string) (bool, error) {
	if fingerprint == "" {
		return false, nil
	}
	rows, err := l.repo.Query(ctx,
		"SELECT COUNT(*) AS n FROM import_log WHERE s3_bucket = ? AND etag = ? AND status = ?",
		bucket, fingerprint, string(ImportLoaded))
	if err != nil {
		return false, fmt.Errorf("ledger: check import %s/%s: %w", bucket, fingerprint, err)
	}
	return len(rows) > 0 && rows[0].Int64("n") > 0, nil
}

// RecordImport writes an import_log row through ex, which is the load
// transaction for LOADED rows. A nil ex writes directly to the repository.
func (l *Ledger) RecordImport(ctx context.Context, ex storage.Execer, e ImportEntry) error {
	if ex == nil {
		ex = l.repo
	}
	var etag any
	if tag := strings.Trim(e.ETag, `"`); tag != "" {
		etag = tag
	}
	var msg any
	if e.Message != "" {
		msg = truncate(e.Message, MaxMessageLen)
	}
	_, err := ex.Exec(ctx,
		"INSERT INTO import_log (s3_bucket, s3_key, etag, file_bytes, loaded_rows, status, message, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		e.Bucket, e.Key, etag, e.FileBytes, e.LoadedRows, string(e.Status), msg, l.clock())
	if err != nil {
		return fmt.Errorf("ledger: record import %s/%s: %w", e.Bucket, e.Key, err)
	}
	return nil
}

// RecentImports returns up to limit import_log rows, newest first.
func (l *Ledger) RecentImports(ctx context.Context, limit int) ([]ImportEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	q := "SELECT s3_bucket, s3_key, etag, file_bytes, loaded_rows, status, message, created_at FROM import_log ORDER BY created_at DESC, id DESC " +
		l.repo.Dialect().Limit(limit)
	rows, err := l.repo.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("ledger: recent imports: %w", err)
	}
	out := make([]ImportEntry, 0, len(rows))
	for _, r := range rows {
		out = append(out, ImportEntry{
			Bucket:     r.String("s3_bucket"),
			Key:        r.String("s3_key"),
			ETag:       r.String("etag"),
			FileBytes:  r.Int64("file_bytes"),
			LoadedRows: r.Int64("loaded_rows"),
			Status:     ImportStatus(r.String("status")),
			Message:    r.String("message"),
			CreatedAt:  r.Time("created_at"),
		})
	}
	return out, nil
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
