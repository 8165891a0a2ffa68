package metastore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/fetchwell/ingestcore/internal/config"
	"github.com/fetchwell/ingestcore/internal/dbpool"
)

// PostgresStore is the alternate metastore backend for deployments that
// already run a shared Postgres instance instead of the embedded SQLite file.
type PostgresStore struct {
	pool   *dbpool.SharedPool
	ownsDB bool
}

// NewPostgresStore opens a dedicated connection pool to connectionString.
func NewPostgresStore(connectionString string, poolConfig config.PostgresPoolConfig) (*PostgresStore, error) {
	pool, err := dbpool.NewSharedPool(connectionString, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("metastore: %w", err)
	}
	store := &PostgresStore{pool: pool, ownsDB: true}
	if err := store.createTables(); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// NewPostgresStoreWithPool reuses an existing shared pool instead of opening a
// dedicated one, so the metastore and any other Postgres-backed component can
// share connections.
func NewPostgresStoreWithPool(pool *dbpool.SharedPool) (*PostgresStore, error) {
	store := &PostgresStore{pool: pool, ownsDB: false}
	if err := store.createTables(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *PostgresStore) db() *sql.DB {
	return s.pool.DB()
}

func (s *PostgresStore) createTables() error {
	schema := `
		CREATE TABLE IF NOT EXISTS dedupe_index (
			idempotency_key TEXT PRIMARY KEY,
			envelope_id TEXT NOT NULL,
			first_seen_at TIMESTAMPTZ NOT NULL
		);

		CREATE TABLE IF NOT EXISTS cadence (
			source_id TEXT PRIMARY KEY,
			last_fetched_at TIMESTAMPTZ NOT NULL
		);

		CREATE TABLE IF NOT EXISTS consumer_offsets (
			consumer_id TEXT NOT NULL,
			file_date TEXT NOT NULL,
			byte_offset BIGINT NOT NULL,
			PRIMARY KEY (consumer_id, file_date)
		);

		CREATE TABLE IF NOT EXISTS reconcile_checkpoint (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			file_date TEXT NOT NULL,
			byte_offset BIGINT NOT NULL
		);
	`
	if _, err := s.db().Exec(schema); err != nil {
		return fmt.Errorf("metastore: create tables: %w", err)
	}
	return nil
}

func (s *PostgresStore) DedupLookup(ctx context.Context, idempotencyKey string) (string, bool, error) {
	var envelopeID string
	err := s.db().QueryRowContext(ctx,
		`SELECT envelope_id FROM dedupe_index WHERE idempotency_key = $1`, idempotencyKey,
	).Scan(&envelopeID)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("metastore: dedup lookup: %w", err)
	}
	return envelopeID, true, nil
}

func (s *PostgresStore) DedupInsert(ctx context.Context, idempotencyKey, envelopeID string, firstSeenAt time.Time) (bool, string, error) {
	_, err := s.db().ExecContext(ctx,
		`INSERT INTO dedupe_index (idempotency_key, envelope_id, first_seen_at) VALUES ($1, $2, $3)
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

func (s *PostgresStore) CadenceGet(ctx context.Context, sourceID string) (time.Time, bool, error) {
	var lastFetchedAt time.Time
	err := s.db().QueryRowContext(ctx,
		`SELECT last_fetched_at FROM cadence WHERE source_id = $1`, sourceID,
	).Scan(&lastFetchedAt)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("metastore: cadence get: %w", err)
	}
	return lastFetchedAt.UTC(), true, nil
}

func (s *PostgresStore) CadenceSet(ctx context.Context, sourceID string, lastFetchedAt time.Time) error {
	_, err := s.db().ExecContext(ctx,
		`INSERT INTO cadence (source_id, last_fetched_at) VALUES ($1, $2)
		 ON CONFLICT (source_id) DO UPDATE SET last_fetched_at = excluded.last_fetched_at`,
		sourceID, lastFetchedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("metastore: cadence set: %w", err)
	}
	return nil
}

func (s *PostgresStore) OffsetGet(ctx context.Context, consumerID, fileDate string) (int64, bool, error) {
	var byteOffset int64
	err := s.db().QueryRowContext(ctx,
		`SELECT byte_offset FROM consumer_offsets WHERE consumer_id = $1 AND file_date = $2`,
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

func (s *PostgresStore) OffsetCommit(ctx context.Context, consumerID, fileDate string, byteOffset int64) error {
	_, err := s.db().ExecContext(ctx,
		`INSERT INTO consumer_offsets (consumer_id, file_date, byte_offset) VALUES ($1, $2, $3)
		 ON CONFLICT (consumer_id, file_date) DO UPDATE SET byte_offset = excluded.byte_offset`,
		consumerID, fileDate, byteOffset,
	)
	if err != nil {
		return fmt.Errorf("metastore: offset commit: %w", err)
	}
	return nil
}

func (s *PostgresStore) ReconcileCheckpointGet(ctx context.Context) (string, int64, bool, error) {
	var fileDate string
	var byteOffset int64
	err := s.db().QueryRowContext(ctx,
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

func (s *PostgresStore) ReconcileCheckpointSet(ctx context.Context, fileDate string, byteOffset int64) error {
	_, err := s.db().ExecContext(ctx,
		`INSERT INTO reconcile_checkpoint (id, file_date, byte_offset) VALUES (1, $1, $2)
		 ON CONFLICT (id) DO UPDATE SET file_date = excluded.file_date, byte_offset = excluded.byte_offset`,
		fileDate, byteOffset,
	)
	if err != nil {
		return fmt.Errorf("metastore: checkpoint set: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	if s.ownsDB {
		return s.pool.Close()
	}
	return nil
}
