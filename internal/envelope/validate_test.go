package envelope

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func validEnvelope() *Envelope {
	return &Envelope{
		EnvelopeVersion: Version,
		SourceID:        "blue_moon",
		IdempotencyKey:  "blue_moon|2025-01-15|cursor=0",
		PayloadMeta: PayloadMeta{
			SizeBytes: 167064,
			Checksum:  Checksum{SHA256: strings.Repeat("a", 64)},
			MimeType:  "application/json",
		},
		Request: Request{URL: "https://example.com/feed", Method: "GET", StatusCode: 200},
		Timing:  Timing{FetchedAt: time.Now().UTC()},
		Legal:   Legal{LicenseID: "public"},
	}
}

func marshal(t *testing.T, env *Envelope) []byte {
	t.Helper()
	raw, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return raw
}

func TestValidate_Valid(t *testing.T) {
	env := validEnvelope()
	if reasons := Validate(marshal(t, env), env); len(reasons) != 0 {
		t.Fatalf("expected no reasons, got %v", reasons)
	}
}

func TestValidate_MissingFields(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Envelope)
		wantErr string
	}{
		{
			name:    "wrong version",
			mutate:  func(e *Envelope) { e.EnvelopeVersion = "0.9.0" },
			wantErr: "envelope_version must be",
		},
		{
			name:    "missing source_id",
			mutate:  func(e *Envelope) { e.SourceID = "" },
			wantErr: "source_id is required",
		},
		{
			name:    "missing idempotency_key",
			mutate:  func(e *Envelope) { e.IdempotencyKey = "" },
			wantErr: "idempotency_key is required",
		},
		{
			name:    "idempotency_key too long",
			mutate:  func(e *Envelope) { e.IdempotencyKey = strings.Repeat("x", 257) },
			wantErr: "idempotency_key must be ASCII",
		},
		{
			name:    "bad checksum format",
			mutate:  func(e *Envelope) { e.PayloadMeta.Checksum.SHA256 = "not-hex" },
			wantErr: "checksum.sha256 must be",
		},
		{
			name:    "missing mime type",
			mutate:  func(e *Envelope) { e.PayloadMeta.MimeType = "" },
			wantErr: "mime_type is required",
		},
		{
			name:    "zero fetched_at",
			mutate:  func(e *Envelope) { e.Timing.FetchedAt = time.Time{} },
			wantErr: "fetched_at is required",
		},
		{
			name:    "missing license",
			mutate:  func(e *Envelope) { e.Legal.LicenseID = "" },
			wantErr: "license_id is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := validEnvelope()
			tt.mutate(env)
			reasons := Validate(marshal(t, env), env)
			if len(reasons) == 0 {
				t.Fatalf("expected a validation reason, got none")
			}
			if !strings.Contains(reasons.Error(), tt.wantErr) {
				t.Fatalf("expected reasons to contain %q, got %q", tt.wantErr, reasons.Error())
			}
		})
	}
}

func TestValidate_UnknownTopLevelKeyRejected(t *testing.T) {
	env := validEnvelope()
	raw := marshal(t, env)
	var generic map[string]json.RawMessage
	if err := json.Unmarshal(raw, &generic); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	generic["mystery_field"] = json.RawMessage(`"surprise"`)
	raw, err := json.Marshal(generic)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	reasons := Validate(raw, env)
	if !strings.Contains(reasons.Error(), "unknown top-level key") {
		t.Fatalf("expected unknown key rejection, got %v", reasons)
	}
}

func TestValidate_ExtFieldAllowed(t *testing.T) {
	env := validEnvelope()
	env.Ext = map[string]interface{}{"crawler": map[string]interface{}{"version": "1.2.3"}}
	if reasons := Validate(marshal(t, env), env); len(reasons) != 0 {
		t.Fatalf("expected ext field to be allowed, got %v", reasons)
	}
}

func TestValidate_OversizeEnvelopeRejected(t *testing.T) {
	env := validEnvelope()
	env.Ext = map[string]interface{}{"padding": strings.Repeat("x", MaxSize)}
	reasons := Validate(marshal(t, env), env)
	if !strings.Contains(reasons.Error(), "exceeds 64 KiB") {
		t.Fatalf("expected size rejection, got %v", reasons)
	}
}
