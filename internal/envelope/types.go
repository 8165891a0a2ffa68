// Package envelope defines the wire shape of an ingestion envelope (v1.0.0) and
// the pure validator shared by the Gateway and the validate-envelope CLI.
package envelope

import "time"

// Version is the only envelope_version this core accepts.
const Version = "1.0.0"

// Checksum carries the submitted content hash.
type Checksum struct {
	SHA256 string `json:"sha256"`
}

// PayloadMeta describes the submitted payload bytes.
type PayloadMeta struct {
	SizeBytes int64    `json:"size_bytes"`
	Checksum  Checksum `json:"checksum"`
	MimeType  string   `json:"mime_type"`
}

// Request records the HTTP exchange that produced the payload.
type Request struct {
	URL        string `json:"url"`
	Method     string `json:"method"`
	StatusCode int    `json:"status_code"`
}

// Timing records when the payload was actually fetched.
type Timing struct {
	FetchedAt time.Time `json:"fetched_at"`
}

// Legal carries the license under which the payload was obtained.
type Legal struct {
	LicenseID string `json:"license_id"`
}

// Trace is optional correlation metadata threaded through the pipeline.
type Trace struct {
	TraceID string `json:"trace_id,omitempty"`
	Attempt int    `json:"attempt,omitempty"`
}

// Content carries optional hints about the payload's logical shape. The Gateway
// never inspects it beyond size/presence; it is consumed by downstream parsers.
type Content struct {
	SchemaHint string `json:"schema_hint,omitempty"`
}

// Envelope is the unit appended to the ingest log. Submission builds the fields
// up through Trace; the Gateway seals EnvelopeID, GatewayReceivedAt, and PayloadRef.
type Envelope struct {
	EnvelopeVersion string      `json:"envelope_version"`
	SourceID        string      `json:"source_id"`
	IdempotencyKey  string      `json:"idempotency_key"`
	PayloadMeta     PayloadMeta `json:"payload_meta"`
	Request         Request     `json:"request"`
	Timing          Timing      `json:"timing"`
	Legal           Legal       `json:"legal"`

	GeoHint string                 `json:"geo_hint,omitempty"`
	Content *Content               `json:"content,omitempty"`
	Trace   *Trace                 `json:"trace,omitempty"`
	Ext     map[string]interface{} `json:"ext,omitempty"`

	// Gateway-assigned, absent on submission.
	EnvelopeID       string `json:"envelope_id,omitempty"`
	GatewayReceivedAt *time.Time `json:"gateway_received_at,omitempty"`
	PayloadRef       string `json:"payload_ref,omitempty"`
}

// Sealed reports whether the Gateway has already assigned the envelope's
// identity fields.
func (e *Envelope) Sealed() bool {
	return e.EnvelopeID != "" && e.PayloadRef != "" && e.GatewayReceivedAt != nil
}
