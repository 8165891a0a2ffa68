// Package metastore holds the ingestion core's single small transactional
// store: the dedup index, the cadence marks, and consumer offsets. A unique
// constraint on idempotency_key is the primary enforcement of exactly-once
// acceptance; everything above this package treats that constraint, not any
// in-process lock, as the source of truth.
package metastore

import (
	"context"
	"time"
)

// Store is the capability set the Gateway, Scheduler, and reconciliation sweep
// need from the metastore. Two implementations exist behind it: SQLiteStore
// (the default, single-file embedded database) and PostgresStore (for
// deployments that already run a shared Postgres instance).
type Store interface {
	// DedupLookup returns the envelope_id already recorded for key, if any.
	DedupLookup(ctx context.Context, idempotencyKey string) (envelopeID string, found bool, err error)

	// DedupInsert records idempotencyKey -> envelopeID. If the key already
	// exists (a race with a concurrent accept()), it returns the existing
	// envelope_id and inserted=false instead of erroring — the caller's dedup
	// probe and this insert are not required to be atomic with each other.
	DedupInsert(ctx context.Context, idempotencyKey, envelopeID string, firstSeenAt time.Time) (inserted bool, existingEnvelopeID string, err error)

	// CadenceGet returns the last_fetched_at recorded for sourceID, if any.
	CadenceGet(ctx context.Context, sourceID string) (lastFetchedAt time.Time, found bool, err error)

	// CadenceSet upserts the last_fetched_at for sourceID.
	CadenceSet(ctx context.Context, sourceID string, lastFetchedAt time.Time) error

	// OffsetGet returns a consumer's committed byte offset into a given day's
	// log file, if any.
	OffsetGet(ctx context.Context, consumerID, fileDate string) (byteOffset int64, found bool, err error)

	// OffsetCommit upserts a consumer's byte offset into a given day's log file.
	OffsetCommit(ctx context.Context, consumerID, fileDate string, byteOffset int64) error

	// ReconcileCheckpointGet returns the (file_date, byte_offset) the last
	// reconciliation pass scanned up to, if any.
	ReconcileCheckpointGet(ctx context.Context) (fileDate string, byteOffset int64, found bool, err error)

	// ReconcileCheckpointSet records how far the most recent reconciliation pass scanned.
	ReconcileCheckpointSet(ctx context.Context, fileDate string, byteOffset int64) error

	// Close releases the underlying connection/handle.
	Close() error
}

// DedupRecord mirrors one row of the dedupe_index table.
type DedupRecord struct {
	IdempotencyKey string
	EnvelopeID     string
	FirstSeenAt    time.Time
}
