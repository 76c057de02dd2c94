package trigger

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"s3etl/internal/blobstore"
	"s3etl/internal/pipeline"
)

type fakeProcessor struct {
	seen []pipeline.SourceFile
	out  map[string]pipeline.Outcome
	err  error
}

func (f *fakeProcessor) ProcessFile(_ context.Context, src pipeline.SourceFile) (pipeline.Outcome, error) {
	f.seen = append(f.seen, src)
	return f.out[src.Key], f.err
}

const event = `{"Records":[
 {"eventName":"ObjectCreated:Put","s3":{"bucket":{"name":"hma-mba-bucket"},"object":{"key":"mba/csv/Member+Data%282024%29.csv","eTag":"\"abc\"","size":42}}},
 {"eventName":"ObjectCreated:Put","s3":{"bucket":{"name":"hma-mba-bucket"},"object":{"key":"mba/csv/benefit_accumulator.csv","eTag":"def","size":7}}}
]}`

func TestHandle_OK(t *testing.T) {
	t.Parallel()
	ev, err := Decode(strings.NewReader(event))
	require.NoError(t, err)

	p := &fakeProcessor{out: map[string]pipeline.Outcome{
		"mba/csv/Member Data(2024).csv":   {Kind: pipeline.Completed, Table: "member_data", Records: 3, JobID: "j1"},
		"mba/csv/benefit_accumulator.csv": {Kind: pipeline.Skipped, Reason: pipeline.ReasonImported},
	}}
	resp := (&Handler{Pipeline: p}).Handle(context.Background(), ev)

	assert.Equal(t, "ok", resp.Status)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, Result{Bucket: "hma-mba-bucket", Key: "mba/csv/Member Data(2024).csv", Table: "member_data", Rows: 3, Status: "completed", JobID: "j1"}, resp.Results[0])
	assert.Equal(t, "abc", p.seen[0].Fingerprint)
	assert.EqualValues(t, 42, p.seen[0].SizeBytes)
}

func TestHandle_FailedFileMarksError(t *testing.T) {
	t.Parallel()
	ev, err := Decode(strings.NewReader(event))
	require.NoError(t, err)

	p := &fakeProcessor{out: map[string]pipeline.Outcome{
		"mba/csv/Member Data(2024).csv": {Kind: pipeline.Failed, Err: errors.New("boom")},
	}}
	resp := (&Handler{Pipeline: p}).Handle(context.Background(), ev)
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, "boom", resp.Error)
	assert.Len(t, resp.Results, 2, "later records still run")
}

func TestHandle_FatalStops(t *testing.T) {
	t.Parallel()
	ev, err := Decode(strings.NewReader(event))
	require.NoError(t, err)

	p := &fakeProcessor{err: errors.New("ledger down")}
	resp := (&Handler{Pipeline: p}).Handle(context.Background(), ev)
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, "ledger down", resp.Error)
	assert.Len(t, p.seen, 1)
}

func TestHandle_FillsFingerprintFromStore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := blobstore.NewLocal(t.TempDir())
	body := "member_id\nM0001\n"
	require.NoError(t, store.Put(ctx, "b", "mba/csv/MemberData.csv", strings.NewReader(body), int64(len(body)), blobstore.PutOptions{}))

	ev, err := Decode(strings.NewReader(`{"Records":[{"s3":{"bucket":{"name":"b"},"object":{"key":"mba/csv/MemberData.csv"}}}]}`))
	require.NoError(t, err)
	p := &fakeProcessor{}
	(&Handler{Pipeline: p, Store: store}).Handle(ctx, ev)

	require.Len(t, p.seen, 1)
	assert.Len(t, p.seen[0].Fingerprint, 32)
	assert.EqualValues(t, len(body), p.seen[0].SizeBytes)
}

func TestDecode_Invalid(t *testing.T) {
	t.Parallel()
	_, err := Decode(strings.NewReader("{"))
	assert.Error(t, err)
}
