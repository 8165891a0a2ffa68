package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/fetchwell/ingestcore/internal/cas"
	"github.com/fetchwell/ingestcore/internal/envelope"
	"github.com/fetchwell/ingestcore/internal/metastore"
	"github.com/fetchwell/ingestcore/internal/observability"
	"github.com/fetchwell/ingestcore/internal/registry"
)

type fakeAppender struct {
	lines [][]byte
	err   error
}

func (f *fakeAppender) Append(ctx context.Context, line []byte) (string, int64, error) {
	if f.err != nil {
		return "", 0, f.err
	}
	offset := int64(len(f.lines))
	f.lines = append(f.lines, line)
	return "2026-07-31", offset, nil
}

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	dir := t.TempDir()
	doc := map[string]interface{}{
		"source_id":         "blue_moon",
		"endpoint":          "https://example.com/feed",
		"method":            "GET",
		"content_types":     []string{"text/plain; charset=utf-8"},
		"rate_limit_rpm":    60,
		"rate_limit_rph":    1000,
		"timeout_ms":        2000,
		"data_policy":       "public",
		"license_id":        "lic-1",
		"max_payload_bytes": 1 << 20,
		"enabled":           true,
	}
	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal source doc: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "blue_moon.json"), data, 0o644); err != nil {
		t.Fatalf("write source doc: %v", err)
	}
	reg, err := registry.Load(dir)
	if err != nil {
		t.Fatalf("registry.Load: %v", err)
	}
	return reg
}

func newGateway(t *testing.T) (*Gateway, *fakeAppender, metastore.Store) {
	t.Helper()
	reg := testRegistry(t)
	meta, err := metastore.NewSQLiteStore(filepath.Join(t.TempDir(), "meta.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { meta.Close() })

	store, err := cas.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}

	appender := &fakeAppender{}
	hooks := observability.NewRegistry(zerolog.Nop())

	gw := New(reg, meta, store, appender, hooks, 24*time.Hour, 64*1024)
	return gw, appender, meta
}

func validSubmission(payload []byte) *envelope.Envelope {
	sum := sha256Hex(payload)
	return &envelope.Envelope{
		EnvelopeVersion: envelope.Version,
		SourceID:        "blue_moon",
		IdempotencyKey:  "blue_moon|2026-07-31|cursor=0",
		PayloadMeta: envelope.PayloadMeta{
			SizeBytes: int64(len(payload)),
			Checksum:  envelope.Checksum{SHA256: sum},
			MimeType:  http.DetectContentType(payload),
		},
		Request: envelope.Request{URL: "https://example.com/feed", Method: "GET", StatusCode: 200},
		Timing:  envelope.Timing{FetchedAt: time.Now().UTC()},
		Legal:   envelope.Legal{LicenseID: "lic-1"},
	}
}

func TestAccept_HappyPath(t *testing.T) {
	gw, appender, meta := newGateway(t)
	payload := []byte(`{"hello":"world"}`)
	sub := validSubmission(payload)

	result, err := gw.Accept(context.Background(), sub, payload)
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if result.Outcome != "accepted" {
		t.Fatalf("expected accepted, got %+v", result)
	}
	if len(appender.lines) != 1 {
		t.Fatalf("expected one log line, got %d", len(appender.lines))
	}

	envelopeID, found, err := meta.DedupLookup(context.Background(), sub.IdempotencyKey)
	if err != nil || !found {
		t.Fatalf("expected dedup row, found=%v err=%v", found, err)
	}
	if envelopeID != result.EnvelopeID {
		t.Fatalf("dedup row envelope_id mismatch: %s vs %s", envelopeID, result.EnvelopeID)
	}
}

func TestAccept_DuplicateSubmissionReturnsExistingEnvelopeID(t *testing.T) {
	gw, _, _ := newGateway(t)
	payload := []byte(`{"hello":"world"}`)
	sub := validSubmission(payload)

	first, err := gw.Accept(context.Background(), sub, payload)
	if err != nil {
		t.Fatalf("first Accept: %v", err)
	}

	second, err := gw.Accept(context.Background(), sub, payload)
	if err != nil {
		t.Fatalf("second Accept: %v", err)
	}
	if second.Outcome != "deduplicated" {
		t.Fatalf("expected deduplicated, got %+v", second)
	}
	if second.EnvelopeID != first.EnvelopeID {
		t.Fatalf("expected same envelope_id, got %s vs %s", second.EnvelopeID, first.EnvelopeID)
	}
}

func TestAccept_RejectsChecksumMismatch(t *testing.T) {
	gw, _, _ := newGateway(t)
	payload := []byte(`{"hello":"world"}`)
	sub := validSubmission(payload)
	sub.PayloadMeta.Checksum.SHA256 = strings.Repeat("0", 64)

	_, err := gw.Accept(context.Background(), sub, payload)
	if err == nil {
		t.Fatalf("expected integrity error")
	}
}

func TestAccept_RejectsUnknownSource(t *testing.T) {
	gw, _, _ := newGateway(t)
	payload := []byte(`{"hello":"world"}`)
	sub := validSubmission(payload)
	sub.SourceID = "does_not_exist"

	_, err := gw.Accept(context.Background(), sub, payload)
	if err == nil {
		t.Fatalf("expected policy error for unknown source")
	}
}

func TestAccept_RejectsDisallowedMimeType(t *testing.T) {
	gw, _, _ := newGateway(t)
	payload := []byte(`{"hello":"world"}`)
	sub := validSubmission(payload)
	sub.PayloadMeta.MimeType = "text/html"

	_, err := gw.Accept(context.Background(), sub, payload)
	if err == nil {
		t.Fatalf("expected policy error for disallowed mime type")
	}
}

func TestAccept_RejectsDisallowedLicense(t *testing.T) {
	gw, _, _ := newGateway(t)
	payload := []byte(`{"hello":"world"}`)
	sub := validSubmission(payload)
	sub.Legal.LicenseID = "lic-2"

	_, err := gw.Accept(context.Background(), sub, payload)
	if err == nil {
		t.Fatalf("expected policy error for disallowed license")
	}
}

func TestAccept_RejectsMimeMismatch(t *testing.T) {
	gw, _, _ := newGateway(t)
	payload := []byte(`{"hello":"world"}`)
	sub := validSubmission(payload)
	sub.PayloadMeta.MimeType = "text/plain; charset=utf-8"
	sub.PayloadMeta.Checksum.SHA256 = sha256Hex([]byte("<html></html>"))
	sub.PayloadMeta.SizeBytes = int64(len([]byte("<html></html>")))

	_, err := gw.Accept(context.Background(), sub, []byte("<html></html>"))
	if err == nil {
		t.Fatalf("expected policy error for mime mismatch")
	}
}

func TestAccept_RejectsSkewOutsideWindow(t *testing.T) {
	gw, _, _ := newGateway(t)
	payload := []byte(`{"hello":"world"}`)
	sub := validSubmission(payload)
	sub.Timing.FetchedAt = time.Now().UTC().Add(-48 * time.Hour)

	_, err := gw.Accept(context.Background(), sub, payload)
	if err == nil {
		t.Fatalf("expected skew error")
	}
}

func TestAccept_RejectsMalformedEnvelope(t *testing.T) {
	gw, _, _ := newGateway(t)
	payload := []byte(`{"hello":"world"}`)
	sub := validSubmission(payload)
	sub.IdempotencyKey = ""

	_, err := gw.Accept(context.Background(), sub, payload)
	if err == nil {
		t.Fatalf("expected validation error for missing idempotency_key")
	}
}
