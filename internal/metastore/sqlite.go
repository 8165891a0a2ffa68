package metastore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore is the default metastore backend: a single file at
// <data_root>/ingest_log/meta.db holding all four tables, matching the
// filesystem layout's single-writer-per-data-root invariant.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if necessary) the SQLite file at path and
// ensures the dedupe_index, cadence, consumer_offsets, and reconcile_checkpoint
// tables exist.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("metastore: open sqlite %q: %w", path, err)
	}
	// Single-writer-per-process invariant: one connection keeps writes serialized
	// through the database's own transaction model, per the Gateway's concurrency
	// model for the dedup/cadence/offset store.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("metastore: ping sqlite: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.createTables(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) createTables() error {
	schema := `
		CREATE TABLE IF NOT EXISTS dedupe_index (
			idempotency_key TEXT PRIMARY KEY,
			envelope_id TEXT NOT NULL,
			first_seen_at TIMESTAMP NOT NULL
		);

		CREATE TABLE IF NOT EXISTS cadence (
			source_id TEXT PRIMARY KEY,
			last_fetched_at TIMESTAMP NOT NULL
		);

		CREATE TABLE IF NOT EXISTS consumer_offsets (
			consumer_id TEXT NOT NULL,
			file_date TEXT NOT NULL,
			byte_offset INTEGER NOT NULL,
			PRIMARY KEY (consumer_id, file_date)
		);

		CREATE TABLE IF NOT EXISTS reconcile_checkpoint (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			file_date TEXT NOT NULL,
			byte_offset INTEGER NOT NULL
		);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("metastore: create tables: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DedupLookup(ctx context.Context, idempotencyKey string) (string, bool, error) {
	var envelopeID string
	err := s.db.QueryRowContext(ctx,
		`SELECT envelope_id FROM dedupe_index WHERE idempotency_key = ?`, idempotencyKey,
	).Scan(&envelopeID)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("metastore: dedup lookup: %w", err)
	}
	return envelopeID, true, nil
}

func (s *SQLiteStore) DedupInsert(ctx context.Context, idempotencyKey, envelopeID string, firstSeenAt time.Time) (bool, string, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dedupe_index (idempotency_key, envelope_id, first_seen_at) VALUES (?, ?, ?)
		 ON CONFLICT (idempotency_key) DO NOTHING`,
		idempotencyKey, envelopeID, firstSeenAt.UTC(),
	)
	if err != nil {
		return false, "", fmt.Errorf("metastore: dedup insert: %w", err)
	}

	existing, found, err := s.DedupLookup(ctx, idempotencyKey)
	if err != nil {
		return false, "", err
	}
	if !found {
		return false, "", fmt.Errorf("metastore: dedup insert: row vanished after insert")
	}
	return existing == envelopeID, existing, nil
}

func (s *SQLiteStore) CadenceGet(ctx context.Context, sourceID string) (time.Time, bool, error) {
	var lastFetchedAt time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT last_fetched_at FROM cadence WHERE source_id = ?`, sourceID,
	).Scan(&lastFetchedAt)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("metastore: cadence get: %w", err)
	}
	return lastFetchedAt.UTC(), true, nil
}

func (s *SQLiteStore) CadenceSet(ctx context.Context, sourceID string, lastFetchedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cadence (source_id, last_fetched_at) VALUES (?, ?)
		 ON CONFLICT (source_id) DO UPDATE SET last_fetched_at = excluded.last_fetched_at`,
		sourceID, lastFetchedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("metastore: cadence set: %w", err)
	}
	return nil
}

func (s *SQLiteStore) OffsetGet(ctx context.Context, consumerID, fileDate string) (int64, bool, error) {
	var byteOffset int64
	err := s.db.QueryRowContext(ctx,
		`SELECT byte_offset FROM consumer_offsets WHERE consumer_id = ? AND file_date = ?`,
		consumerID, fileDate,
	).Scan(&byteOffset)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("metastore: offset get: %w", err)
	}
	return byteOffset, true, nil
}

func (s *SQLiteStore) OffsetCommit(ctx context.Context, consumerID, fileDate string, byteOffset int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO consumer_offsets (consumer_id, file_date, byte_offset) VALUES (?, ?, ?)
		 ON CONFLICT (consumer_id, file_date) DO UPDATE SET byte_offset = excluded.byte_offset`,
		consumerID, fileDate, byteOffset,
	)
	if err != nil {
		return fmt.Errorf("metastore: offset commit: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ReconcileCheckpointGet(ctx context.Context) (string, int64, bool, error) {
	var fileDate string
	var byteOffset int64
	err := s.db.QueryRowContext(ctx,
		`SELECT file_date, byte_offset FROM reconcile_checkpoint WHERE id = 1`,
	).Scan(&fileDate, &byteOffset)
	if err == sql.ErrNoRows {
		return "", 0, false, nil
	}
	if err != nil {
		return "", 0, false, fmt.Errorf("metastore: checkpoint get: %w", err)
	}
	return fileDate, byteOffset, true, nil
}

func (s *SQLiteStore) ReconcileCheckpointSet(ctx context.Context, fileDate string, byteOffset int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO reconcile_checkpoint (id, file_date, byte_offset) VALUES (1, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET file_date = excluded.file_date, byte_offset = excluded.byte_offset`,
		fileDate, byteOffset,
	)
	if err != nil {
		return fmt.Errorf("metastore: checkpoint set: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
