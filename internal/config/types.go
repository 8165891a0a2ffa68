package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support string based YAML decoding.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses duration values expressed as Go-style strings or numbers interpreted as seconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		raw := strings.TrimSpace(value.Value)
		if raw == "" {
			d.Duration = 0
			return nil
		}
		parsed, err := time.ParseDuration(raw)
		if err == nil {
			d.Duration = parsed
			return nil
		}
		secs, convErr := time.ParseDuration(fmt.Sprintf("%ss", raw))
		if convErr == nil {
			d.Duration = secs
			return nil
		}
		return fmt.Errorf("invalid duration value %q: %w", raw, err)
	default:
		return fmt.Errorf("unsupported duration node kind: %v", value.Kind)
	}
}

// MarshalYAML renders the duration as a string to keep config edits human-friendly.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Config holds the ingestion core's full configuration, aggregated from a YAML file
// and then layered with environment overrides.
type Config struct {
	DataRoot string        `yaml:"data_root"`
	Cadence  CadenceConfig `yaml:"cadence"`
	Skew     SkewConfig    `yaml:"skew"`
	Envelope EnvelopeConfig `yaml:"envelope"`

	Registry       RegistryConfig       `yaml:"registry"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	Metastore      MetastoreConfig      `yaml:"metastore"`
	CAS            CASConfig            `yaml:"cas"`
	AdminServer    AdminServerConfig    `yaml:"admin_server"`
	PushServer     PushServerConfig     `yaml:"push_server"`
	Logging        LoggingConfig        `yaml:"logging"`
	Reconcile      ReconcileConfig      `yaml:"reconcile"`
}

// ReconcileConfig controls the dedup-index backfill sweep and the log
// retention maintenance path.
type ReconcileConfig struct {
	Interval Duration `yaml:"interval"`
	// KnownConsumers lists the consumer ids rotate-compress must see a
	// committed offset from before it will touch a day's log file. A
	// consumer that stops running without being removed here blocks
	// rotation of every file after its last commit indefinitely.
	KnownConsumers []string `yaml:"known_consumers"`
}

// CadenceConfig controls the Fetch Scheduler's minimum inter-fetch interval.
type CadenceConfig struct {
	FloorSecs int64 `yaml:"floor_secs"` // global floor; per-source override lives on SourceSpec
	Bypass    bool  `yaml:"bypass"`     // forces every fetch_once call to skip the cadence check
}

// SkewConfig bounds the allowed delta between fetched_at and gateway_received_at.
type SkewConfig struct {
	WindowSecs int64 `yaml:"window_secs"`
}

// EnvelopeConfig bounds envelope and payload sizes enforced by the Gateway.
type EnvelopeConfig struct {
	MaxEnvelopeBytes     int64 `yaml:"max_envelope_bytes"`
	MaxPayloadBytesDefault int64 `yaml:"max_payload_bytes_default"`
}

// RegistryConfig points at the directory of source-spec documents.
type RegistryConfig struct {
	SourceDir string `yaml:"source_dir"`
	// ReloadInterval, when positive, makes the composition root hand out a
	// Reloader instead of a static Registry: Get/ListEnabled re-read SourceDir
	// at most once per interval rather than once at process start. Zero keeps
	// the registry static for the process lifetime.
	ReloadInterval Duration `yaml:"reload_interval"`
}

// RateLimitConfig holds the default per-source token bucket rates applied when a
// SourceSpec omits its own rate_limit_rpm/rate_limit_rph.
type RateLimitConfig struct {
	DefaultRPM int `yaml:"default_rpm"`
	DefaultRPH int `yaml:"default_rph"`
}

// CircuitBreakerConfig configures the per-source breaker defaults; any source_id not
// explicitly listed in Overrides uses Default.
type CircuitBreakerConfig struct {
	Enabled   bool                            `yaml:"enabled"`
	Default   BreakerServiceConfig            `yaml:"default"`
	Overrides map[string]BreakerServiceConfig `yaml:"overrides"`
}

// BreakerServiceConfig configures a circuit breaker for a specific source's outbound
// HTTP client.
type BreakerServiceConfig struct {
	MaxRequests         uint32   `yaml:"max_requests"`
	Interval            Duration `yaml:"interval"`
	Timeout             Duration `yaml:"timeout"`
	ConsecutiveFailures uint32   `yaml:"consecutive_failures"`
	FailureRatio        float64  `yaml:"failure_ratio"`
	MinRequests         uint32   `yaml:"min_requests"`
}

// MetastoreConfig selects and configures the dedup/cadence/offset relational store.
type MetastoreConfig struct {
	Backend      string             `yaml:"backend"` // "sqlite" or "postgres"
	SQLitePath   string             `yaml:"sqlite_path"`
	PostgresURL  string             `yaml:"postgres_url"`
	PostgresPool PostgresPoolConfig `yaml:"postgres_pool"`
}

// PostgresPoolConfig holds PostgreSQL connection pool settings.
type PostgresPoolConfig struct {
	MaxOpenConns    int      `yaml:"max_open_conns"`
	MaxIdleConns    int      `yaml:"max_idle_conns"`
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime"`
}

// CASConfig selects and configures the content-addressed payload store.
type CASConfig struct {
	Backend         string `yaml:"backend"` // "local" or "mongo"
	LocalRoot       string `yaml:"local_root"`
	MongoURL        string `yaml:"mongo_url"`
	MongoDatabase   string `yaml:"mongo_database"`
	MongoCollection string `yaml:"mongo_collection"`
}

// AdminServerConfig configures the optional observability-only HTTP surface.
type AdminServerConfig struct {
	Enabled            bool     `yaml:"enabled"`
	Address            string   `yaml:"address"`
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
	RateLimitPerMinute int      `yaml:"rate_limit_per_minute"`
	ReadTimeout        Duration `yaml:"read_timeout"`
	WriteTimeout       Duration `yaml:"write_timeout"`
	IdleTimeout        Duration `yaml:"idle_timeout"`
}

// PushServerConfig configures the optional push-ingestion HTTP surface, the
// Gateway's alternate entry point for sources that deliver events rather than
// waiting to be polled by the Fetch Scheduler.
type PushServerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
	// IdempotencyTTL bounds how long a replayed delivery (same source_id +
	// Idempotency-Key header) gets served the cached HTTP response instead of
	// reaching the Gateway a second time.
	IdempotencyTTL Duration `yaml:"idempotency_ttl"`
	ReadTimeout    Duration `yaml:"read_timeout"`
	WriteTimeout   Duration `yaml:"write_timeout"`
	IdleTimeout    Duration `yaml:"idle_timeout"`
}

// LoggingConfig holds structured logging configuration.
type LoggingConfig struct {
	Level       string `yaml:"level"`       // debug, info, warn, error (default: info)
	Format      string `yaml:"format"`      // json, console (default: json)
	Environment string `yaml:"environment"` // production, staging, development
	Service     string `yaml:"service"`
}
