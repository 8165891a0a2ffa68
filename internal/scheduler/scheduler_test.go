package scheduler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fetchwell/ingestcore/internal/circuitbreaker"
	"github.com/fetchwell/ingestcore/internal/config"
	"github.com/fetchwell/ingestcore/internal/envelope"
	"github.com/fetchwell/ingestcore/internal/metastore"
	"github.com/fetchwell/ingestcore/internal/observability"
	"github.com/fetchwell/ingestcore/internal/ratelimiter"
	"github.com/fetchwell/ingestcore/internal/registry"
	"github.com/rs/zerolog"
)

type fakeAcceptor struct {
	result *AcceptResult
	err    error
	calls  int
}

func (f *fakeAcceptor) Accept(ctx context.Context, submission *envelope.Envelope, payload []byte) (*AcceptResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

// sourceDoc mirrors the JSON shape registry.Load expects, independent of
// SourceSpec's Go field names so the test fixture stays honest about the wire format.
type sourceDoc struct {
	SourceID        string   `json:"source_id"`
	Endpoint        string   `json:"endpoint"`
	Method          string   `json:"method"`
	ContentTypes    []string `json:"content_types"`
	RateLimitRPM    int      `json:"rate_limit_rpm"`
	RateLimitRPH    int      `json:"rate_limit_rph"`
	TimeoutMS       int      `json:"timeout_ms"`
	DataPolicy      string   `json:"data_policy"`
	LicenseID       string   `json:"license_id"`
	MaxPayloadBytes int64    `json:"max_payload_bytes"`
	Enabled         bool     `json:"enabled"`
}

func testRegistry(t *testing.T, endpoint string) *registry.Registry {
	t.Helper()
	dir := t.TempDir()
	doc := sourceDoc{
		SourceID:        "test_source",
		Endpoint:        endpoint,
		Method:          http.MethodGet,
		ContentTypes:    []string{"text/plain"},
		RateLimitRPM:    60,
		RateLimitRPH:    1000,
		TimeoutMS:       2000,
		DataPolicy:      "public",
		LicenseID:       "lic-1",
		MaxPayloadBytes: 1 << 20,
		Enabled:         true,
	}
	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal source doc: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "test_source.json"), data, 0o644); err != nil {
		t.Fatalf("write source doc: %v", err)
	}

	reg, err := registry.Load(dir)
	if err != nil {
		t.Fatalf("registry.Load: %v", err)
	}
	return reg
}

func newMetastore(t *testing.T) metastore.Store {
	t.Helper()
	store, err := metastore.NewSQLiteStore(filepath.Join(t.TempDir(), "meta.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func newScheduler(t *testing.T, srv *httptest.Server, acceptor Acceptor) (*Scheduler, *registry.Registry, metastore.Store) {
	t.Helper()
	reg := testRegistry(t, srv.URL)
	meta := newMetastore(t)
	limiter := ratelimiter.New(60, 1000)
	breakers := circuitbreaker.NewManagerFromConfig(config.CircuitBreakerConfig{Enabled: false}, nil)
	hooks := observability.NewRegistry(zerolog.Nop())

	s := New(reg, meta, limiter, breakers, acceptor, hooks, time.Hour, 3*time.Second)
	return s, reg, meta
}

func TestFetchOnce_AcceptsOnSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("hello world"))
	}))
	defer srv.Close()

	acceptor := &fakeAcceptor{result: &AcceptResult{Outcome: "accepted", EnvelopeID: "env-1", PayloadRef: "cas:sha256:abc"}}
	s, _, meta := newScheduler(t, srv, acceptor)

	outcome, err := s.FetchOnce(context.Background(), "test_source", Options{})
	if err != nil {
		t.Fatalf("FetchOnce: %v", err)
	}
	if outcome.Status != "accepted" || outcome.EnvelopeID != "env-1" {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	if acceptor.calls != 1 {
		t.Fatalf("expected exactly one Accept call, got %d", acceptor.calls)
	}

	if _, found, _ := meta.CadenceGet(context.Background(), "test_source"); !found {
		t.Fatalf("expected cadence mark to be set after acceptance")
	}
}

func TestFetchOnce_SkipsWhenCadenceNotElapsed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("hello"))
	}))
	defer srv.Close()

	acceptor := &fakeAcceptor{result: &AcceptResult{Outcome: "accepted", EnvelopeID: "env-1"}}
	s, _, meta := newScheduler(t, srv, acceptor)

	if err := meta.CadenceSet(context.Background(), "test_source", time.Now().UTC()); err != nil {
		t.Fatalf("CadenceSet: %v", err)
	}

	outcome, err := s.FetchOnce(context.Background(), "test_source", Options{})
	if err != nil {
		t.Fatalf("FetchOnce: %v", err)
	}
	if outcome.Status != "skipped_cadence" {
		t.Fatalf("expected skipped_cadence, got %+v", outcome)
	}
	if acceptor.calls != 0 {
		t.Fatalf("expected no Accept call on cadence skip")
	}
}

func TestFetchOnce_BypassCadenceIgnoresFloor(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("hello"))
	}))
	defer srv.Close()

	acceptor := &fakeAcceptor{result: &AcceptResult{Outcome: "accepted", EnvelopeID: "env-1"}}
	s, _, meta := newScheduler(t, srv, acceptor)

	if err := meta.CadenceSet(context.Background(), "test_source", time.Now().UTC()); err != nil {
		t.Fatalf("CadenceSet: %v", err)
	}

	outcome, err := s.FetchOnce(context.Background(), "test_source", Options{BypassCadence: true})
	if err != nil {
		t.Fatalf("FetchOnce: %v", err)
	}
	if outcome.Status != "accepted" {
		t.Fatalf("expected accepted despite cadence floor, got %+v", outcome)
	}
}

func TestFetchOnce_RejectsUnknownSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	acceptor := &fakeAcceptor{result: &AcceptResult{Outcome: "accepted"}}
	s, _, _ := newScheduler(t, srv, acceptor)

	_, err := s.FetchOnce(context.Background(), "does_not_exist", Options{})
	if err == nil {
		t.Fatalf("expected error for unknown source")
	}
	if err.Code != "validation_error" {
		t.Fatalf("expected validation_error, got %s", err.Code)
	}
}

func TestFetchOnce_EnforcesMaxPayloadBytes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(make([]byte, 4096))
	}))
	defer srv.Close()

	acceptor := &fakeAcceptor{result: &AcceptResult{Outcome: "accepted"}}
	s, reg, _ := newScheduler(t, srv, acceptor)

	spec, _ := reg.Get("test_source")
	spec.MaxPayloadBytes = 10

	_, err := s.FetchOnce(context.Background(), "test_source", Options{})
	if err == nil {
		t.Fatalf("expected transient_io error for oversize payload")
	}
	if acceptor.calls != 0 {
		t.Fatalf("expected no Accept call when payload exceeds max_payload_bytes")
	}
}
