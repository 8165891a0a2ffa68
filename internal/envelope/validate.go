package envelope

import (
	"encoding/json"
	"regexp"
	"strings"
)

var sha256HexPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// known top-level keys, used to reject unrecognized submission fields (ext excepted).
var knownTopLevelKeys = map[string]bool{
	"envelope_version":    true,
	"source_id":           true,
	"idempotency_key":     true,
	"payload_meta":        true,
	"request":             true,
	"timing":              true,
	"legal":                true,
	"geo_hint":            true,
	"content":             true,
	"trace":               true,
	"ext":                 true,
	"envelope_id":         true,
	"gateway_received_at": true,
	"payload_ref":         true,
}

// Reasons is the list of failure reasons from Validate; empty when the envelope is
// structurally valid.
type Reasons []string

func (r Reasons) Error() string {
	return strings.Join(r, "; ")
}

// MaxSize is the maximum serialized size of a submission envelope (excluding
// payload bytes), per the 64 KiB invariant.
const MaxSize = 64 * 1024

// Validate performs the Gateway's schema validation step (step 1 of accept()):
// size limit, required fields, timestamp format, and unknown top-level keys. It
// does not touch the registry, CAS, or dedup index — those are later steps.
// raw is the exact bytes submitted, used for the size and unknown-key checks;
// env is the already-unmarshaled struct, used for field-level checks.
func Validate(raw []byte, env *Envelope) Reasons {
	var reasons Reasons

	if len(raw) > MaxSize {
		reasons = append(reasons, "envelope exceeds 64 KiB size limit")
	}

	var generic map[string]json.RawMessage
	if err := json.Unmarshal(raw, &generic); err != nil {
		return append(reasons, "envelope is not a valid JSON object")
	}
	for key := range generic {
		if !knownTopLevelKeys[key] {
			reasons = append(reasons, "unknown top-level key: "+key)
		}
	}

	if env.EnvelopeVersion != Version {
		reasons = append(reasons, "envelope_version must be "+Version)
	}
	if env.SourceID == "" {
		reasons = append(reasons, "source_id is required")
	}
	if env.IdempotencyKey == "" {
		reasons = append(reasons, "idempotency_key is required")
	} else if len(env.IdempotencyKey) > 256 || !isASCII(env.IdempotencyKey) {
		reasons = append(reasons, "idempotency_key must be ASCII and at most 256 bytes")
	}

	if env.PayloadMeta.SizeBytes <= 0 {
		reasons = append(reasons, "payload_meta.size_bytes must be positive")
	}
	if !sha256HexPattern.MatchString(env.PayloadMeta.Checksum.SHA256) {
		reasons = append(reasons, "payload_meta.checksum.sha256 must be 64 lowercase hex characters")
	}
	if env.PayloadMeta.MimeType == "" {
		reasons = append(reasons, "payload_meta.mime_type is required")
	}

	if env.Request.URL == "" {
		reasons = append(reasons, "request.url is required")
	}
	if env.Request.Method == "" {
		reasons = append(reasons, "request.method is required")
	}

	if env.Timing.FetchedAt.IsZero() {
		reasons = append(reasons, "timing.fetched_at is required and must be RFC3339")
	}

	if env.Legal.LicenseID == "" {
		reasons = append(reasons, "legal.license_id is required")
	}

	return reasons
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] > 127 {
			return false
		}
	}
	return true
}
