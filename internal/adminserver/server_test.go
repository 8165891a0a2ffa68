package adminserver

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/fetchwell/ingestcore/internal/config"
	"github.com/fetchwell/ingestcore/internal/metastore"
	"github.com/fetchwell/ingestcore/internal/metrics"
)

func testConfig() config.AdminServerConfig {
	return config.AdminServerConfig{
		Enabled:            true,
		Address:            ":0",
		RateLimitPerMinute: 120,
		ReadTimeout:        config.Duration{Duration: 5 * time.Second},
		WriteTimeout:       config.Duration{Duration: 5 * time.Second},
		IdleTimeout:        config.Duration{Duration: 60 * time.Second},
	}
}

func testMetastore(t *testing.T) *metastore.SQLiteStore {
	t.Helper()
	store, err := metastore.NewSQLiteStore(filepath.Join(t.TempDir(), "meta.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestHealthz_ReturnsOKWhenMetastoreReachable(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	srv := New(testConfig(), testMetastore(t), m, zerolog.Nop())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestMetrics_ServesPrometheusFormat(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	srv := New(testConfig(), testMetastore(t), m, zerolog.Nop())

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
