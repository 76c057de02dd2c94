// This file implements the batched loader: LoadBatches drains positional rows
// from a channel and invokes a write function per batch; Load drives it inside
// one transaction per record set.
//
// Logging: on every successful flush, a concise progress line is emitted with
// running totals and instantaneous rows/sec since the previous flush.
package storage

import (
	"context"
	"fmt"
	"log"
	"time"

	"s3etl/internal/records"
)

// CopyFn writes one batch of rows aligned to columns and returns the number
// of rows written. It must cancel promptly when ctx is done.
type CopyFn func(ctx context.Context, columns []string, rows [][]any) (int64, error)

// LoadBatches drains typed rows from 'in', groups them into batches of size
// 'batchSize', and calls 'copyFn' for each non-empty batch. It returns the total
// number of rows reported by copyFn and the first error encountered.
//
// Cancellation: returns (total, ctx.Err()) when canceled. Progress is logged on
// each successful flush.
func LoadBatches(
	ctx context.Context,
	columns []string,
	in <-chan []any,
	batchSize int,
	copyFn CopyFn,
) (int64, error) {
	if batchSize <= 0 {
		return 0, fmt.Errorf("batchSize must be > 0")
	}
	if copyFn == nil {
		return 0, fmt.Errorf("copyFn must not be nil")
	}

	var (
		total       int64
		batches     int64
		batch       = make([][]any, 0, batchSize)
		start       = time.Now()
		lastFlushTS = start
		lastTotal   int64
	)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := copyFn(ctx, columns, batch)
		total += n

		// Reuse allocated slice; keep capacity to avoid churn.
		batch = batch[:0]

		if err != nil {
			log.Printf("loader: batch failed after=%d total=%d err=%v", n, total, err)

			return err
		}

		// Progress log per successful batch.
		batches++
		now := time.Now()
		sinceLast := now.Sub(lastFlushTS)
		insertedSinceLast := total - lastTotal
		rps := float64(0)
		if sinceLast > 0 {
			rps = float64(insertedSinceLast) / sinceLast.Seconds()
		}
		log.Printf(
			"batch #%d: rps=%.0f inserted=%d total_inserted=%d elapsed=%s since_last=%s",
			batches,
			rps,
			n,
			total,
			now.Sub(start).Truncate(time.Millisecond),
			sinceLast.Truncate(time.Millisecond),
		)
		lastFlushTS = now
		lastTotal = total

		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return total, ctx.Err()

		case row, ok := <-in:
			if !ok {
				// Channel closed: flush remaining rows.
				if err := flush(); err != nil {
					return total, err
				}
				log.Printf("loader: input closed, final_flush=%d total_inserted=%d", len(batch), total)

				return total, nil
			}
			batch = append(batch, row)
			if len(batch) >= batchSize {
				if err := flush(); err != nil {
					return total, err
				}
			}
		}
	}
}

// LoadRequest describes one record set to write into Table.
type LoadRequest struct {
	Table string
	Set   *records.Set
	// Columns selects and orders the written columns; empty means Set.Columns.
	Columns   []string
	Keys      []string
	Policy    ConflictPolicy
	BatchSize int
	// AfterLoad runs inside the load transaction once every batch has been
	// written; an error rolls the whole load back.
	AfterLoad func(ctx context.Context, tx Tx, rows int64) error
}

// LoadError reports a failed load. Nothing from the failed set is committed.
type LoadError struct {
	Table string
	// Rows counts rows written before the failure; all were rolled back.
	Rows int64
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load %s: %v", e.Table, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// DefaultBatchSize is used when LoadRequest.BatchSize is not positive.
const DefaultBatchSize = 1000

// Load writes req.Set into req.Table in a single transaction: either every
// row and the AfterLoad effects commit, or none do. It returns the number of
// rows written as counted by BulkUpsert: inserted rows for PolicyIgnore,
// submitted rows otherwise.
func Load(ctx context.Context, repo Repository, req LoadRequest) (int64, error) {
	if req.Set == nil {
		return 0, &LoadError{Table: req.Table, Err: fmt.Errorf("nil record set")}
	}
	cols := req.Columns
	if len(cols) == 0 {
		cols = req.Set.Columns
	}
	if req.Policy == "" {
		req.Policy = PolicyUpdate
	}
	shape := UpsertRequest{Table: req.Table, Columns: cols, Keys: req.Keys, Policy: req.Policy}
	if err := shape.validate(); err != nil {
		return 0, &LoadError{Table: req.Table, Err: err}
	}
	batch := req.BatchSize
	if batch <= 0 {
		batch = DefaultBatchSize
	}

	var total int64
	err := repo.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		pctx, cancel := context.WithCancel(ctx)
		defer cancel()

		in := make(chan []any, batch)
		go func() {
			defer close(in)
			for _, r := range req.Set.Rows {
				select {
				case in <- r.Values(cols):
				case <-pctx.Done():
					return
				}
			}
		}()

		n, err := LoadBatches(pctx, cols, in, batch, func(ctx context.Context, columns []string, rows [][]any) (int64, error) {
			return BulkUpsert(ctx, tx, repo.Dialect(), UpsertRequest{
				Table:   req.Table,
				Columns: columns,
				Keys:    req.Keys,
				Policy:  req.Policy,
				Rows:    rows,
			})
		})
		total = n
		if err != nil {
			return err
		}
		if req.AfterLoad != nil {
			return req.AfterLoad(ctx, tx, n)
		}
		return nil
	})
	if err != nil {
		return 0, &LoadError{Table: req.Table, Rows: total, Err: err}
	}
	log.Printf("loader: committed table=%s rows=%d policy=%s", req.Table, total, req.Policy)
	return total, nil
}
