package config

import (
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads configuration from a YAML file (optional) and applies environment
// overrides and defaults. Call order mirrors the layering contract: defaults, then
// file, then environment, then fail-fast finalize.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		if err := cfg.parseFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.finalize(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// defaultConfig returns a Config with the spec's documented defaults:
// INGEST_CADENCE_FLOOR_SECS=43200, INGEST_SKEW_WINDOW_SECS=86400, data root ./data.
func defaultConfig() *Config {
	return &Config{
		DataRoot: "./data",
		Cadence: CadenceConfig{
			FloorSecs: 43200,
		},
		Skew: SkewConfig{
			WindowSecs: 86400,
		},
		Envelope: EnvelopeConfig{
			MaxEnvelopeBytes:       64 * 1024,
			MaxPayloadBytesDefault: 64 * 1024 * 1024,
		},
		Registry: RegistryConfig{
			SourceDir: "./sources",
		},
		RateLimit: RateLimitConfig{
			DefaultRPM: 30,
			DefaultRPH: 600,
		},
		CircuitBreaker: CircuitBreakerConfig{
			Enabled: true,
			Default: BreakerServiceConfig{
				MaxRequests:         3,
				Interval:            Duration{Duration: 60 * time.Second},
				Timeout:             Duration{Duration: 30 * time.Second},
				ConsecutiveFailures: 5,
				FailureRatio:        0.5,
				MinRequests:         10,
			},
			Overrides: map[string]BreakerServiceConfig{},
		},
		Metastore: MetastoreConfig{
			Backend:    "sqlite",
			SQLitePath: "./data/ingest_log/meta.db",
			PostgresPool: PostgresPoolConfig{
				MaxOpenConns:    25,
				MaxIdleConns:    5,
				ConnMaxLifetime: Duration{Duration: 5 * time.Minute},
			},
		},
		CAS: CASConfig{
			Backend:   "local",
			LocalRoot: "./data/cas",
		},
		AdminServer: AdminServerConfig{
			Enabled:            false,
			Address:            ":9090",
			RateLimitPerMinute: 120,
			ReadTimeout:        Duration{Duration: 5 * time.Second},
			WriteTimeout:       Duration{Duration: 5 * time.Second},
			IdleTimeout:        Duration{Duration: 60 * time.Second},
		},
		PushServer: PushServerConfig{
			Enabled:        false,
			Address:        ":9091",
			IdempotencyTTL: Duration{Duration: 24 * time.Hour},
			ReadTimeout:    Duration{Duration: 10 * time.Second},
			WriteTimeout:   Duration{Duration: 10 * time.Second},
			IdleTimeout:    Duration{Duration: 60 * time.Second},
		},
		Logging: LoggingConfig{
			Level:       "info",
			Format:      "json",
			Environment: "production",
			Service:     "ingestcore",
		},
		Reconcile: ReconcileConfig{
			Interval: Duration{Duration: 5 * time.Minute},
		},
	}
}

// parseFile reads and unmarshals a YAML configuration file.
func (c *Config) parseFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}
	return nil
}
