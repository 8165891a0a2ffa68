package config

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// finalize applies defaults not already set and validates the configuration,
// failing fast the way the Gateway's registry load does (fatal to the process).
func (c *Config) finalize() error {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Environment == "" {
		c.Logging.Environment = "production"
	}
	if c.Logging.Service == "" {
		c.Logging.Service = "ingestcore"
	}
	if c.DataRoot == "" {
		c.DataRoot = "./data"
	}
	if c.Cadence.FloorSecs <= 0 {
		c.Cadence.FloorSecs = 43200
	}
	if c.Skew.WindowSecs <= 0 {
		c.Skew.WindowSecs = 86400
	}
	if c.Envelope.MaxEnvelopeBytes <= 0 {
		c.Envelope.MaxEnvelopeBytes = 64 * 1024
	}
	if c.Envelope.MaxPayloadBytesDefault <= 0 {
		c.Envelope.MaxPayloadBytesDefault = 64 * 1024 * 1024
	}
	if c.RateLimit.DefaultRPM <= 0 {
		c.RateLimit.DefaultRPM = 30
	}
	if c.RateLimit.DefaultRPH <= 0 {
		c.RateLimit.DefaultRPH = 600
	}
	if c.CircuitBreaker.Overrides == nil {
		c.CircuitBreaker.Overrides = map[string]BreakerServiceConfig{}
	}
	if c.Metastore.Backend == "" {
		c.Metastore.Backend = "sqlite"
	}
	if c.CAS.Backend == "" {
		c.CAS.Backend = "local"
	}
	if c.AdminServer.Address == "" {
		c.AdminServer.Address = ":9090"
	}

	// Derive the metastore's sqlite path and the CAS local root from the data root
	// when the operator hasn't overridden them explicitly, so a bare data_root is
	// enough to get a working single-directory deployment.
	if c.Metastore.Backend == "sqlite" && c.Metastore.SQLitePath == "./data/ingest_log/meta.db" && c.DataRoot != "./data" {
		c.Metastore.SQLitePath = c.DataRoot + "/ingest_log/meta.db"
	}
	if c.CAS.Backend == "local" && c.CAS.LocalRoot == "./data/cas" && c.DataRoot != "./data" {
		c.CAS.LocalRoot = c.DataRoot + "/cas"
	}

	return c.validate()
}

// validate checks that required configuration fields are coherent. It never touches
// the filesystem; directory creation is the registry's and the log's job.
func (c *Config) validate() error {
	var errs []string

	switch c.Metastore.Backend {
	case "sqlite":
		if c.Metastore.SQLitePath == "" {
			errs = append(errs, "metastore.sqlite_path is required when metastore.backend is 'sqlite'")
		}
	case "postgres":
		if c.Metastore.PostgresURL == "" {
			errs = append(errs, "metastore.postgres_url is required when metastore.backend is 'postgres'")
		}
	default:
		errs = append(errs, fmt.Sprintf("metastore.backend %q is not one of sqlite|postgres", c.Metastore.Backend))
	}

	switch c.CAS.Backend {
	case "local":
		if c.CAS.LocalRoot == "" {
			errs = append(errs, "cas.local_root is required when cas.backend is 'local'")
		}
	case "mongo":
		if c.CAS.MongoURL == "" {
			errs = append(errs, "cas.mongo_url is required when cas.backend is 'mongo'")
		}
		if c.CAS.MongoDatabase == "" {
			errs = append(errs, "cas.mongo_database is required when cas.backend is 'mongo'")
		}
	default:
		errs = append(errs, fmt.Sprintf("cas.backend %q is not one of local|mongo", c.CAS.Backend))
	}

	if c.RateLimit.DefaultRPM > c.RateLimit.DefaultRPH {
		errs = append(errs, "rate_limit.default_rpm must not exceed rate_limit.default_rph")
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// ApplyPostgresPoolSettings applies connection pool settings to a database connection.
// If pool config is not specified, applies sensible defaults.
func ApplyPostgresPoolSettings(db *sql.DB, pool PostgresPoolConfig) {
	maxOpen := pool.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 25
	}

	maxIdle := pool.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = 5
	}

	if maxIdle > maxOpen {
		maxIdle = maxOpen
	}

	maxLifetime := pool.ConnMaxLifetime.Duration
	if maxLifetime <= 0 {
		maxLifetime = 5 * time.Minute
	}

	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(maxLifetime)
}
