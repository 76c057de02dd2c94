package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// run executes the command tree with env as the only environment. Commands
// redirect the standard logger, so these tests do not run in parallel.
func run(t *testing.T, env map[string]string, args ...string) (string, error) {
	t.Helper()
	t.Cleanup(func() {
		log.SetOutput(os.Stderr)
		log.SetFlags(log.LstdFlags)
	})
	var out, errOut bytes.Buffer
	cmd := newRootCommand(&RootOptions{Getenv: func(k string) string { return env[k] }})
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

// localEnv points storage at a SQLite file and the object store at a
// directory, both under a fresh temp dir.
func localEnv(t *testing.T) (map[string]string, string) {
	t.Helper()
	dir := t.TempDir()
	return map[string]string{
		"DB_DRIVER":        "sqlite",
		"DB_NAME":          filepath.Join(dir, "s3etl.db"),
		"S3ETL_STORE":      "local",
		"S3ETL_LOCAL_ROOT": filepath.Join(dir, "store"),
	}, dir
}

func putObject(t *testing.T, env map[string]string, bucket, key, body string) {
	t.Helper()
	p := filepath.Join(env["S3ETL_LOCAL_ROOT"], bucket, filepath.FromSlash(key))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
}

const memberCSV = "member_id,first_name,last_name,dob\nM0001,Jane,Doe,1980-02-03\nM0002,John,Roe,not-a-date\n"

func TestConfigValidate_Defaults(t *testing.T) {
	out, err := run(t, nil, "config", "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "configuration is valid")
}

func TestConfigValidate_ReportsErrors(t *testing.T) {
	out, err := run(t, map[string]string{"DB_DRIVER": "oracle"}, "config", "validate")
	require.Error(t, err)
	assert.Contains(t, out, "storage.kind")
	assert.Contains(t, err.Error(), "invalid setting")
}

func TestConfigShow_MasksSecrets(t *testing.T) {
	out, err := run(t, map[string]string{"DB_PASSWORD": "hunter2", "AWS_SECRET_ACCESS_KEY": "s3cr3t", "AWS_ACCESS_KEY_ID": "AK"}, "config", "show")
	require.NoError(t, err)
	assert.NotContains(t, out, "hunter2")
	assert.NotContains(t, out, "s3cr3t")
	assert.Contains(t, out, "****")
}

func TestInvalidFormat(t *testing.T) {
	_, err := run(t, nil, "--format", "xml", "config", "validate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestLoad_EndToEndIsIdempotent(t *testing.T) {
	env, _ := localEnv(t)
	putObject(t, env, "hma-mba-bucket", "mba/csv/MemberData_2024.csv", memberCSV)
	putObject(t, env, "hma-mba-bucket", "mba/csv/notes.txt", "ignored")
	putObject(t, env, "hma-mba-bucket", "mba/csv/unknown_thing.csv", "a,b\n1,2\n")

	out, err := run(t, env, "db", "init")
	require.NoError(t, err)
	assert.Contains(t, out, "schema applied")

	out, err = run(t, env, "load", "--scope", "mba")
	require.NoError(t, err)
	assert.Contains(t, out, "total=2 successful=1 failed=0 skipped=1")
	assert.Contains(t, out, "MemberData_2024.csv")

	out, err = run(t, env, "--format", "json", "load", "--scope", "mba")
	require.NoError(t, err)
	var rep struct {
		TotalFiles int `json:"total_files"`
		Successful int `json:"successful"`
		Skipped    int `json:"skipped"`
		Details    []struct {
			Key    string `json:"key"`
			Status string `json:"status"`
			Reason string `json:"reason"`
		} `json:"details"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &rep))
	assert.Equal(t, 2, rep.TotalFiles)
	assert.Equal(t, 0, rep.Successful)
	assert.Equal(t, 2, rep.Skipped)
	require.Len(t, rep.Details, 2)
	assert.Equal(t, "already imported", rep.Details[0].Reason)

	out, err = run(t, env, "--format", "json", "report")
	require.NoError(t, err)
	var sum struct {
		Tables []struct {
			Table string
			Count int64
		}
		RecentJobs []struct{ Status string }
		Imports    []struct{ Key string }
	}
	require.NoError(t, json.Unmarshal([]byte(out), &sum))
	counts := map[string]int64{}
	for _, tc := range sum.Tables {
		counts[tc.Table] = tc.Count
	}
	assert.EqualValues(t, 2, counts["member_data"])
	require.Len(t, sum.RecentJobs, 1)
	assert.Equal(t, "completed", sum.RecentJobs[0].Status)
	assert.NotEmpty(t, sum.Imports)

	out, err = run(t, env, "report", "--imports", "0")
	require.NoError(t, err)
	assert.Contains(t, out, "Recent jobs")
	assert.NotContains(t, out, "Recent imports")
}

func TestLoad_RejectsBadFlags(t *testing.T) {
	env, _ := localEnv(t)
	_, err := run(t, env, "load", "--scope", "claims")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid scope")

	_, err = run(t, env, "load", "--dedup", "newest")
	require.Error(t, err)

	_, err = run(t, env, "load", "--policy", "merge")
	require.Error(t, err)
}

func TestLoad_MissingBucketIsFatal(t *testing.T) {
	env, _ := localEnv(t)
	_, err := run(t, env, "db", "init")
	require.NoError(t, err)
	_, err = run(t, env, "load", "--scope", "policy")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pipeline: list")
}

func TestQuality_RunsChecksUnderJob(t *testing.T) {
	env, _ := localEnv(t)
	putObject(t, env, "hma-mba-bucket", "mba/csv/MemberData_2024.csv", memberCSV)
	_, err := run(t, env, "db", "init")
	require.NoError(t, err)
	_, err = run(t, env, "load")
	require.NoError(t, err)

	out, err := run(t, env, "quality")
	require.NoError(t, err)
	assert.Contains(t, out, "quality job data_quality_check_")
	assert.Contains(t, out, "completed")
}

func TestHandleEvent_FromFile(t *testing.T) {
	env, dir := localEnv(t)
	putObject(t, env, "hma-mba-bucket", "mba/csv/MemberData 2024.csv", memberCSV)
	_, err := run(t, env, "db", "init")
	require.NoError(t, err)

	ev := `{"Records":[{"s3":{"bucket":{"name":"hma-mba-bucket"},"object":{"key":"mba/csv/MemberData+2024.csv"}}}]}`
	evPath := filepath.Join(dir, "event.json")
	require.NoError(t, os.WriteFile(evPath, []byte(ev), 0o644))

	out, err := run(t, env, "handle-event", evPath)
	require.NoError(t, err)
	var resp struct {
		Status  string `json:"status"`
		Results []struct {
			Key    string `json:"key"`
			Status string `json:"status"`
			Rows   int64  `json:"rows"`
		} `json:"results"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "mba/csv/MemberData 2024.csv", resp.Results[0].Key)
	assert.Equal(t, "completed", resp.Results[0].Status)
	assert.EqualValues(t, 2, resp.Results[0].Rows)

	// The fingerprint came from the store, so a replay is skipped.
	out, err = run(t, env, "handle-event", evPath)
	require.NoError(t, err)
	assert.Contains(t, out, `"status": "skipped"`)
}

func TestHandleEvent_BadInput(t *testing.T) {
	env, dir := localEnv(t)
	p := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(p, []byte("{not json"), 0o644))
	_, err := run(t, env, "handle-event", p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode event")

	_, err = run(t, env, "handle-event")
	require.Error(t, err)
}

func writeFile(t *testing.T, p, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
}

func TestUpload_DryRunDetectsScopes(t *testing.T) {
	env, dir := localEnv(t)
	src := filepath.Join(dir, "src")
	writeFile(t, filepath.Join(src, "mba", "MemberData_2024.csv"), memberCSV)
	writeFile(t, filepath.Join(src, "policy", "terms.pdf"), "%PDF-1.4")
	writeFile(t, filepath.Join(src, "loose.txt"), "no scope")

	out, err := run(t, env, "upload", "--dir", src, "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, "mba/csv/MemberData_2024.csv")
	assert.Contains(t, out, "policy/pdf/terms.pdf")
	assert.Contains(t, out, "uploaded=0 skipped=0 dry_run=2 failed=0 unscoped=1")

	_, err = os.Stat(filepath.Join(env["S3ETL_LOCAL_ROOT"], "hma-mba-bucket"))
	assert.True(t, os.IsNotExist(err), "dry run must not write")
}

func TestUpload_ThenLoad(t *testing.T) {
	env, dir := localEnv(t)
	src := filepath.Join(dir, "src")
	writeFile(t, filepath.Join(src, "mba", "MemberData_2024.csv"), memberCSV)
	writeFile(t, filepath.Join(src, "mba", "readme.md"), "skip me")

	out, err := run(t, env, "upload", "--dir", src, "--scope", "mba", "--exclude", "md", "--concurrency", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "uploaded=1 skipped=0")

	out, err = run(t, env, "upload", "--dir", src, "--scope", "mba", "--exclude", "md")
	require.NoError(t, err)
	assert.Contains(t, out, "uploaded=0 skipped=1")

	_, err = run(t, env, "db", "init")
	require.NoError(t, err)
	out, err = run(t, env, "load", "--scope", "mba")
	require.NoError(t, err)
	assert.Contains(t, out, "successful=1")
}

func TestUpload_RequiresDir(t *testing.T) {
	env, _ := localEnv(t)
	_, err := run(t, env, "upload")
	require.Error(t, err)

	_, err = run(t, env, "upload", "--dir", filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
}

func TestDups_ReportAndCheck(t *testing.T) {
	env, dir := localEnv(t)
	src := filepath.Join(dir, "src")
	writeFile(t, filepath.Join(src, "a.csv"), memberCSV)
	writeFile(t, filepath.Join(src, "nested", "copy_of_a.csv"), memberCSV)
	writeFile(t, filepath.Join(src, "b.csv"), "other")
	cache := filepath.Join(dir, "cache.json")

	out, err := run(t, env, "dups", "--dir", src, "--cache-file", cache)
	require.NoError(t, err)
	assert.Contains(t, out, "Found 1 duplicate files in 1 groups")
	assert.FileExists(t, cache)

	out, err = run(t, env, "dups", "--dir", src, "--cache-file", cache, "--check", filepath.Join(src, "a.csv"))
	require.NoError(t, err)
	assert.Contains(t, out, "1 local duplicate(s)")
	assert.True(t, strings.Contains(out, "copy_of_a.csv"))
}

func TestDBPing(t *testing.T) {
	env, _ := localEnv(t)
	out, err := run(t, env, "db", "ping")
	require.NoError(t, err)
	assert.Contains(t, out, "database connection ok (sqlite)")
}

func TestRulesListAndSuggest(t *testing.T) {
	env, _ := localEnv(t)
	out, err := run(t, env, "rules", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "member_data")

	putObject(t, env, "hma-mba-bucket", "mba/csv/Claims_2024.csv", "Claim ID,member_id,amount\nC1,M0001,12.5\nC2,M0002,3\n")
	out, err = run(t, env, "rules", "suggest", "mba/csv/Claims_2024.csv")
	require.NoError(t, err)
	assert.Contains(t, out, "2 sampled row(s)")
	assert.Contains(t, out, `"claim id" would read better as "claim_id"`)
	assert.Contains(t, out, "table: claims")
	assert.Contains(t, out, "amount: decimal")
}
