package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// applyEnvOverrides applies environment variable overrides to the config.
// Environment variables take precedence over YAML configuration. Names follow
// spec.md §6 where it names them explicitly (INGEST_DATA_ROOT, INGEST_BYPASS_CADENCE,
// INGEST_CADENCE_FLOOR_SECS, INGEST_SKEW_WINDOW_SECS) and extend the same INGEST_
// namespace for the rest of the ambient config.
func (c *Config) applyEnvOverrides() {
	setIfEnv(&c.DataRoot, "INGEST_DATA_ROOT")
	setBoolIfEnv(&c.Cadence.Bypass, "INGEST_BYPASS_CADENCE")
	setInt64IfEnv(&c.Cadence.FloorSecs, "INGEST_CADENCE_FLOOR_SECS")
	setInt64IfEnv(&c.Skew.WindowSecs, "INGEST_SKEW_WINDOW_SECS")

	setInt64IfEnv(&c.Envelope.MaxEnvelopeBytes, "INGEST_MAX_ENVELOPE_BYTES")
	setInt64IfEnv(&c.Envelope.MaxPayloadBytesDefault, "INGEST_MAX_PAYLOAD_BYTES_DEFAULT")

	setIfEnv(&c.Registry.SourceDir, "INGEST_SOURCE_DIR")

	setIntIfEnv(&c.RateLimit.DefaultRPM, "INGEST_RATE_LIMIT_DEFAULT_RPM")
	setIntIfEnv(&c.RateLimit.DefaultRPH, "INGEST_RATE_LIMIT_DEFAULT_RPH")

	setBoolIfEnv(&c.CircuitBreaker.Enabled, "INGEST_CIRCUIT_BREAKER_ENABLED")

	setIfEnv(&c.Metastore.Backend, "INGEST_METASTORE_BACKEND")
	setIfEnv(&c.Metastore.SQLitePath, "INGEST_METASTORE_SQLITE_PATH")
	setIfEnv(&c.Metastore.PostgresURL, "INGEST_METASTORE_POSTGRES_URL")

	setIfEnv(&c.CAS.Backend, "INGEST_CAS_BACKEND")
	setIfEnv(&c.CAS.LocalRoot, "INGEST_CAS_LOCAL_ROOT")
	setIfEnv(&c.CAS.MongoURL, "INGEST_CAS_MONGO_URL")
	setIfEnv(&c.CAS.MongoDatabase, "INGEST_CAS_MONGO_DATABASE")
	setIfEnv(&c.CAS.MongoCollection, "INGEST_CAS_MONGO_COLLECTION")

	setBoolIfEnv(&c.AdminServer.Enabled, "INGEST_ADMIN_SERVER_ENABLED")
	setIfEnv(&c.AdminServer.Address, "INGEST_ADMIN_SERVER_ADDRESS")
	setIntIfEnv(&c.AdminServer.RateLimitPerMinute, "INGEST_ADMIN_SERVER_RATE_LIMIT_PER_MINUTE")

	setBoolIfEnv(&c.PushServer.Enabled, "INGEST_PUSH_SERVER_ENABLED")
	setIfEnv(&c.PushServer.Address, "INGEST_PUSH_SERVER_ADDRESS")

	setIfEnv(&c.Logging.Level, "INGEST_LOG_LEVEL")
	setIfEnv(&c.Logging.Format, "INGEST_LOG_FORMAT")
	setIfEnv(&c.Logging.Environment, "INGEST_ENVIRONMENT")
}

// setIfEnv sets a string pointer to the environment variable value if it exists.
func setIfEnv(target *string, key string) {
	if val := os.Getenv(key); val != "" {
		*target = val
	}
}

// setBoolIfEnv sets a boolean pointer from an environment variable.
// Accepts "1", "true", "TRUE", "True" as true values.
func setBoolIfEnv(target *bool, key string) {
	if v := os.Getenv(key); v != "" {
		*target = v == "1" || strings.EqualFold(v, "true")
	}
}

// setIntIfEnv sets an int pointer from an environment variable.
func setIntIfEnv(target *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*target = n
		}
	}
}

// setInt64IfEnv sets an int64 pointer from an environment variable.
func setInt64IfEnv(target *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*target = n
		}
	}
}

// setDurationIfEnv sets a Duration pointer from an environment variable.
// Uses time.ParseDuration to parse values like "5m", "120s", "1h30m".
func setDurationIfEnv(target *Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if dur, err := time.ParseDuration(v); err == nil {
			*target = Duration{Duration: dur}
		}
	}
}
