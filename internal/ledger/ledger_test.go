package ledger

import (
	"context"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"s3etl/internal/storage"
	_ "s3etl/internal/storage/sqlite"
)

// stepClock returns a clock that advances one second per call.
func stepClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	t := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

func newTestLedger(t *testing.T) (*Ledger, storage.Repository) {
	t.Helper()
	ctx := context.Background()
	repo, err := storage.New(ctx, storage.Config{Kind: "sqlite", DSN: filepath.Join(t.TempDir(), "ledger.db")})
	require.NoError(t, err)
	t.Cleanup(repo.Close)

	l := New(repo, WithClock(stepClock(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))))
	require.NoError(t, l.EnsureSchema(ctx, "sqlite"))
	return l, repo
}

func TestNewJobID(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.FixedZone("X", 3600))
	id := NewJobID("csv_to_member_data", now)
	assert.Regexp(t, regexp.MustCompile(`^csv_to_member_data_20240102_020405_[0-9a-f]{8}$`), id)
	assert.NotEqual(t, id, NewJobID("csv_to_member_data", now), "suffix must be random")
}

func TestJobLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l, _ := newTestLedger(t)

	id, err := l.CreateJob(ctx, "csv_to_member_data", "s3://b/mba/csv/MemberData.csv")
	require.NoError(t, err)

	job, err := l.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, job.Status)
	assert.Nil(t, job.CompletedAt)
	assert.False(t, job.StartedAt.IsZero())

	require.NoError(t, l.UpdateJob(ctx, id, StatusProcessing, 1, 0, ""))
	job, err = l.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, job.CompletedAt, "non-terminal update leaves completed_at null")

	require.NoError(t, l.UpdateJob(ctx, id, StatusCompleted, 3, 0, ""))
	job, err = l.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, job.Status)
	assert.EqualValues(t, 3, job.RecordsProcessed)
	require.NotNil(t, job.CompletedAt)

	// Same terminal status again: last write wins.
	require.NoError(t, l.UpdateJob(ctx, id, StatusCompleted, 4, 0, ""))
	job, _ = l.GetJob(ctx, id)
	assert.EqualValues(t, 4, job.RecordsProcessed)

	err = l.UpdateJob(ctx, id, StatusFailed, 0, 0, "late failure")
	assert.ErrorIs(t, err, ErrTerminal)

	assert.ErrorIs(t, l.UpdateJob(ctx, "nope", StatusFailed, 0, 0, ""), ErrJobNotFound)
	assert.Error(t, l.UpdateJob(ctx, id, Status("done"), 0, 0, ""))
}

func TestFailedJobKeepsMessage(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l, _ := newTestLedger(t)

	id, err := l.CreateJob(ctx, "csv_to_deductibles_oop", "k")
	require.NoError(t, err)
	require.NoError(t, l.UpdateJob(ctx, id, StatusFailed, 0, 0, "missing required columns [Metric]"))

	job, err := l.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, job.Status)
	assert.Contains(t, job.ErrorMessage, "Metric")
	n, err := l.CountJobs(ctx, "k", StatusFailed)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestImportLog(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l, _ := newTestLedger(t)

	loaded, err := l.IsAlreadyLoaded(ctx, "b", "abc")
	require.NoError(t, err)
	assert.False(t, loaded)

	require.NoError(t, l.RecordImport(ctx, nil, ImportEntry{Bucket: "b", Key: "k1", ETag: `"abc"`, Status: ImportSkipped, Message: "No table mapping"}))
	loaded, err = l.IsAlreadyLoaded(ctx, "b", "abc")
	require.NoError(t, err)
	assert.False(t, loaded, "SKIPPED rows do not count as loaded")

	require.NoError(t, l.RecordImport(ctx, nil, ImportEntry{Bucket: "b", Key: "k1", ETag: `"abc"`, FileBytes: 10, LoadedRows: 2, Status: ImportLoaded}))
	loaded, err = l.IsAlreadyLoaded(ctx, "b", "abc")
	require.NoError(t, err)
	assert.True(t, loaded)

	loaded, err = l.IsAlreadyLoaded(ctx, "other", "abc")
	require.NoError(t, err)
	assert.False(t, loaded, "fingerprints are scoped by bucket")

	loaded, err = l.IsAlreadyLoaded(ctx, "b", "")
	require.NoError(t, err)
	assert.False(t, loaded)

	require.NoError(t, l.RecordImport(ctx, nil, ImportEntry{Bucket: "b", Key: "k2", Status: ImportError, Message: strings.Repeat("é", 600)}))
	imports, err := l.RecentImports(ctx, 10)
	require.NoError(t, err)
	require.Len(t, imports, 3)
	assert.Equal(t, ImportError, imports[0].Status)
	assert.LessOrEqual(t, len(imports[0].Message), MaxMessageLen)
	assert.Equal(t, "abc", imports[1].ETag)
}

func TestQualityAndReports(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l, _ := newTestLedger(t)

	var ids []string
	for i := 0; i < 3; i++ {
		id, err := l.CreateJob(ctx, "csv_to_member_data", "k")
		require.NoError(t, err)
		ids = append(ids, id)
	}
	require.NoError(t, l.LogQuality(ctx, QualityEntry{JobID: ids[0], CheckType: "dataframe_validation", TableName: "member_data", Result: ResultPass, Details: map[string]any{"total_rows": 1}}))
	require.NoError(t, l.LogQuality(ctx, QualityEntry{JobID: ids[1], CheckType: "dataframe_validation", TableName: "member_data", Result: ResultFail}))
	require.NoError(t, l.LogQuality(ctx, QualityEntry{JobID: ids[2], CheckType: "dataframe_validation", TableName: "member_data", Result: ResultPass}))

	summary, err := l.QualitySummary(ctx, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, []QualityCount{
		{CheckType: "dataframe_validation", Result: ResultFail, Count: 1},
		{CheckType: "dataframe_validation", Result: ResultPass, Count: 2},
	}, summary)

	none, err := l.QualitySummary(ctx, time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Empty(t, none)

	recent, err := l.RecentJobs(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, ids[2], recent[0].ID, "newest first")
	assert.Equal(t, ids[1], recent[1].ID)
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab", truncate("abc", 2))
	// "é" is two bytes; never split it.
	assert.Equal(t, "a", truncate("aé", 2))
}
