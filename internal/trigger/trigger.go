// Package trigger adapts S3 event notifications to single-file pipeline runs.
package trigger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/url"

	"s3etl/internal/blobstore"
	"s3etl/internal/pipeline"
)

// Event is the subset of an S3 event notification the handler reads.
type Event struct {
	Records []EventRecord `json:"Records"`
}

// EventRecord is one object notification.
type EventRecord struct {
	EventName string `json:"eventName"`
	S3        struct {
		Bucket struct {
			Name string `json:"name"`
		} `json:"bucket"`
		Object struct {
			Key  string `json:"key"`
			ETag string `json:"eTag"`
			Size int64  `json:"size"`
		} `json:"object"`
	} `json:"s3"`
}

// Result reports one record.
type Result struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
	Table  string `json:"table,omitempty"`
	Rows   int64  `json:"rows"`
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
	JobID  string `json:"job_id,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Response is what the handler returns to the caller.
type Response struct {
	Status  string   `json:"status"`
	Results []Result `json:"results"`
	Error   string   `json:"error,omitempty"`
}

// Processor is the single-file pipeline entry point.
type Processor interface {
	ProcessFile(ctx context.Context, src pipeline.SourceFile) (pipeline.Outcome, error)
}

// Handler runs event records through the pipeline, one at a time.
type Handler struct {
	Pipeline Processor
	// Store fills in ETag and size when the event omits them; may be nil.
	Store blobstore.Store
}

// Decode parses an S3 event notification.
func Decode(r io.Reader) (Event, error) {
	var ev Event
	if err := json.NewDecoder(r).Decode(&ev); err != nil {
		return Event{}, fmt.Errorf("trigger: decode event: %w", err)
	}
	return ev, nil
}

// Handle processes every record. Status is "error" when any record failed
// or the pipeline reported a fatal error; records after a fatal error are
// not attempted.
func (h *Handler) Handle(ctx context.Context, ev Event) Response {
	resp := Response{Status: "ok", Results: []Result{}}
	for _, rec := range ev.Records {
		src, err := h.source(ctx, rec)
		if err != nil {
			return fail(resp, err)
		}
		out, err := h.Pipeline.ProcessFile(ctx, src)
		res := Result{
			Bucket: src.Bucket, Key: src.Key, Table: out.Table, Rows: out.Records,
			Status: string(out.Kind), Reason: out.Reason, JobID: out.JobID,
		}
		if out.Err != nil {
			res.Error = out.Err.Error()
		}
		resp.Results = append(resp.Results, res)
		if err != nil {
			return fail(resp, err)
		}
		if out.Kind == pipeline.Failed && resp.Error == "" {
			resp.Status = "error"
			resp.Error = res.Error
		}
	}
	log.Printf("trigger: records=%d status=%s", len(ev.Records), resp.Status)
	return resp
}

func fail(resp Response, err error) Response {
	log.Printf("trigger: status=error err=%v", err)
	resp.Status = "error"
	resp.Error = err.Error()
	return resp
}

func (h *Handler) source(ctx context.Context, rec EventRecord) (pipeline.SourceFile, error) {
	// Keys arrive form-encoded: spaces as '+', other bytes percent-escaped.
	key, err := url.QueryUnescape(rec.S3.Object.Key)
	if err != nil {
		return pipeline.SourceFile{}, fmt.Errorf("trigger: key %q: %w", rec.S3.Object.Key, err)
	}
	src := pipeline.SourceFile{
		Bucket:      rec.S3.Bucket.Name,
		Key:         key,
		Fingerprint: blobstore.NormalizeETag(rec.S3.Object.ETag),
		SizeBytes:   rec.S3.Object.Size,
	}
	if src.Bucket == "" || src.Key == "" {
		return src, fmt.Errorf("trigger: record without bucket or key")
	}
	if src.Fingerprint == "" && h.Store != nil {
		info, ok, err := h.Store.Head(ctx, src.Bucket, src.Key)
		if err != nil {
			return src, fmt.Errorf("trigger: head %s: %w", blobstore.URI(src.Bucket, src.Key), err)
		}
		if ok {
			src.Fingerprint = info.ETag
			src.SizeBytes = info.Size
		}
	}
	return src, nil
}
