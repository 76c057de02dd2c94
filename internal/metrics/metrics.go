// Package metrics records operational metrics for batch loads and uploads
// behind a small pluggable Backend.
//
// The default backend is a no-op, so instrumented code never checks whether
// metrics are configured. Concrete backends live in subpackages (prompush,
// datadog) and are installed once at startup with SetBackend.
package metrics

import (
	"sync/atomic"
	"time"
)

// Metric names emitted by the helpers below.
const (
	StepTotal    = "s3etl_step_total"
	StepDuration = "s3etl_step_duration_seconds"
	RecordsTotal = "s3etl_records_total"
	BatchesTotal = "s3etl_batches_total"
)

// Labels are string key/value pairs attached to a metric.
type Labels map[string]string

// Backend is the minimal interface for metrics backends.
type Backend interface {
	// IncCounter increments a counter by delta.
	IncCounter(name string, delta float64, labels Labels)
	// ObserveHistogram records a value in a latency/duration style metric.
	ObserveHistogram(name string, value float64, labels Labels)
	// Flush pushes or flushes metrics, if the backend needs it (e.g. Pushgateway).
	Flush() error
}

type nopBackend struct{}

func (nopBackend) IncCounter(name string, delta float64, labels Labels)       {}
func (nopBackend) ObserveHistogram(name string, value float64, labels Labels) {}
func (nopBackend) Flush() error                                               { return nil }

type holder struct{ Backend }

var current atomic.Value

func init() { current.Store(holder{nopBackend{}}) }

func backend() Backend { return current.Load().(holder).Backend }

// SetBackend installs a concrete backend. Passing nil keeps the existing one.
func SetBackend(b Backend) {
	if b == nil {
		return
	}
	current.Store(holder{b})
}

// Flush delegates to the current backend.
func Flush() error {
	return backend().Flush()
}

// RecordStep counts one execution of step for job (a target table, or
// "upload") and observes its duration.
func RecordStep(job, step string, err error, d time.Duration) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	lbls := Labels{
		"job":    job,
		"step":   step,
		"status": status,
	}
	b := backend()
	b.IncCounter(StepTotal, 1, lbls)
	b.ObserveHistogram(StepDuration, d.Seconds(), lbls)
}

// RecordRow adds delta rows of kind for job. Kinds used by the pipeline:
//   - "processed": rows extracted from a file
//   - "transform_dropped": rows removed before the load
//   - "inserted": rows written by a committed load
func RecordRow(job, kind string, delta int64) {
	if delta <= 0 {
		return
	}
	backend().IncCounter(RecordsTotal, float64(delta), Labels{
		"job":  job,
		"kind": kind,
	})
}

// RecordBatches counts completed batch runs.
func RecordBatches(job string, delta int64) {
	if delta <= 0 {
		return
	}
	backend().IncCounter(BatchesTotal, float64(delta), Labels{
		"job": job,
	})
}
