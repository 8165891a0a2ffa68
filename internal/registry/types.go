// Package registry loads, validates, and serves the declarative SourceSpec
// documents that govern what the Fetch Scheduler may fetch and under what rules.
package registry

import "errors"

// ErrNotFound is returned by Get when no spec is registered under the given id.
var ErrNotFound = errors.New("registry: source not found")

// Lookup is the read surface the Fetch Scheduler and Ingestion Gateway depend
// on. Both the static *Registry and the TTL-reloading *Reloader satisfy it, so
// either can back a running process without the Scheduler/Gateway caring which.
type Lookup interface {
	Get(sourceID string) (*SourceSpec, error)
	ListEnabled() []*SourceSpec
}

// allowedDataPolicies is the enum SourceSpec.DataPolicy must belong to.
var allowedDataPolicies = map[string]bool{
	"public":     true,
	"restricted": true,
	"internal":   true,
}

// SourceSpec is one external source's fetch and policy configuration, loaded
// from a single JSON document under the registry's source directory.
type SourceSpec struct {
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
	ParsePlanRef    string   `json:"parse_plan_ref,omitempty"`

	// CadenceFloorSecs, when non-zero, overrides the global cadence floor for this
	// source only (spec.md's resolved "global floor with optional per-spec override").
	CadenceFloorSecs int64 `json:"cadence_floor_secs,omitempty"`
}

// AcceptsMimeType reports whether mimeType is in the spec's content-type allow-list.
func (s *SourceSpec) AcceptsMimeType(mimeType string) bool {
	for _, ct := range s.ContentTypes {
		if ct == mimeType {
			return true
		}
	}
	return false
}
