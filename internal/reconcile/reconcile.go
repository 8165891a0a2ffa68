// Package reconcile implements startup and periodic backfill of the dedup
// index from the Ingest Log, recovering from the crash window between a log
// append and its dedup insert.
package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fetchwell/ingestcore/internal/ingestlog"
	"github.com/fetchwell/ingestcore/internal/metastore"
	"github.com/fetchwell/ingestcore/internal/observability"
)

// minimalEnvelope is the only shape reconciliation needs: enough to backfill
// a dedup row without depending on the full envelope.Envelope type.
type minimalEnvelope struct {
	IdempotencyKey string `json:"idempotency_key"`
	EnvelopeID     string `json:"envelope_id"`
}

// Result summarizes one reconciliation pass.
type Result struct {
	ScannedEntries int64
	BackfilledRows int64
	OrphansFound   int64
}

// Reconciler scans the log tail since the last checkpoint and backfills any
// (idempotency_key -> envelope_id) pairs missing from the dedup index.
type Reconciler struct {
	root      string
	metastore metastore.Store
	hooks     *observability.Registry
}

// New builds a Reconciler rooted at the same directory the Ingest Log writes to.
func New(root string, meta metastore.Store, hooks *observability.Registry) *Reconciler {
	return &Reconciler{root: root, metastore: meta, hooks: hooks}
}

// Run scans from the last reconcile checkpoint (or the earliest log entry, on
// first run) through the current end of the log, inserting any dedup rows the
// index is missing, then advances the checkpoint. Safe to call repeatedly;
// re-running over already-reconciled entries is a no-op since DedupInsert is
// idempotent.
func (r *Reconciler) Run(ctx context.Context) (*Result, error) {
	start := time.Now()

	fileDate, byteOffset, found, err := r.metastore.ReconcileCheckpointGet(ctx)
	if err != nil {
		return nil, fmt.Errorf("reconcile: read checkpoint: %w", err)
	}
	startPos := ingestlog.Position{}
	if found {
		startPos = ingestlog.Position{FileDate: fileDate, ByteOffset: byteOffset}
	}

	reader, err := ingestlog.NewReader(r.root, startPos)
	if err != nil {
		// No log files yet is not an error worth surfacing to an operator; there is
		// nothing to reconcile.
		return &Result{}, nil
	}
	defer reader.Close()

	result := &Result{}
	var lastPos ingestlog.Position

	for {
		line, pos, err := reader.Next()
		if err == ingestlog.ErrEndOfStream {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reconcile: read log: %w", err)
		}

		result.ScannedEntries++
		lastPos = pos

		var env minimalEnvelope
		if err := json.Unmarshal(line, &env); err != nil {
			result.OrphansFound++
			continue
		}
		if env.IdempotencyKey == "" || env.EnvelopeID == "" {
			result.OrphansFound++
			continue
		}

		inserted, _, err := r.metastore.DedupInsert(ctx, env.IdempotencyKey, env.EnvelopeID, time.Now().UTC())
		if err != nil {
			return nil, fmt.Errorf("reconcile: dedup insert: %w", err)
		}
		if inserted {
			result.BackfilledRows++
		}
	}

	if result.ScannedEntries > 0 {
		if err := r.metastore.ReconcileCheckpointSet(ctx, lastPos.FileDate, lastPos.ByteOffset); err != nil {
			return nil, fmt.Errorf("reconcile: write checkpoint: %w", err)
		}
	}

	r.hooks.EmitReconcileRun(ctx, observability.ReconcileRunEvent{
		Timestamp:      time.Now().UTC(),
		ScannedEntries: result.ScannedEntries,
		BackfilledRows: result.BackfilledRows,
		Duration:       time.Since(start),
	})

	return result, nil
}

// RunPeriodically runs Run immediately, then on every tick of interval, until
// ctx is canceled. A pass that fails is reported to onError (when non-nil)
// rather than stopping the loop, so a transient per-pass failure does not end
// the sweep.
func (r *Reconciler) RunPeriodically(ctx context.Context, interval time.Duration, onError func(error)) {
	if _, err := r.Run(ctx); err != nil && onError != nil {
		onError(err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Run(ctx); err != nil && onError != nil {
				onError(err)
			}
		}
	}
}
