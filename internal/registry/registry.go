package registry

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

var sourceIDPattern = regexp.MustCompile(`^[a-z0-9_]+$`)

// Registry is the immutable, loaded-at-start table of SourceSpecs. It is never
// mutated in-process; picking up edited source documents takes either a restart
// or a Reloader, which swaps in a freshly loaded Registry.
type Registry struct {
	specs map[string]*SourceSpec
}

// Load reads every *.json document in dir, validates it, and returns an immutable
// Registry. Any violation fails the load entirely — registry load errors are
// fatal to the process, per the Source Registry's contract.
func Load(dir string) (*Registry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("registry: read source dir %q: %w", dir, err)
	}

	specs := make(map[string]*SourceSpec)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("registry: read %s: %w", path, err)
		}

		var spec SourceSpec
		if err := json.Unmarshal(raw, &spec); err != nil {
			return nil, fmt.Errorf("registry: parse %s: %w", path, err)
		}

		if err := validateSpec(&spec); err != nil {
			return nil, fmt.Errorf("registry: %s: %w", path, err)
		}

		if _, exists := specs[spec.SourceID]; exists {
			return nil, fmt.Errorf("registry: duplicate source_id %q", spec.SourceID)
		}
		specs[spec.SourceID] = &spec
	}

	return &Registry{specs: specs}, nil
}

// validateSpec enforces the Source Registry's load-time invariants: required
// fields present, endpoint absolute, rate limits coherent, content_types
// non-empty, data_policy in the allowed enum.
func validateSpec(spec *SourceSpec) error {
	if !sourceIDPattern.MatchString(spec.SourceID) {
		return fmt.Errorf("source_id %q must match ^[a-z0-9_]+$", spec.SourceID)
	}
	if spec.Endpoint == "" {
		return fmt.Errorf("endpoint is required")
	}
	parsed, err := url.Parse(spec.Endpoint)
	if err != nil || !parsed.IsAbs() {
		return fmt.Errorf("endpoint %q must parse as an absolute URL", spec.Endpoint)
	}
	if spec.Method != "GET" && spec.Method != "POST" {
		return fmt.Errorf("method must be GET or POST, got %q", spec.Method)
	}
	if len(spec.ContentTypes) == 0 {
		return fmt.Errorf("content_types must be non-empty")
	}
	if spec.RateLimitRPM <= 0 || spec.RateLimitRPH <= 0 {
		return fmt.Errorf("rate_limit_rpm and rate_limit_rph must be positive")
	}
	if spec.RateLimitRPM > spec.RateLimitRPH {
		return fmt.Errorf("rate_limit_rpm (%d) must not exceed rate_limit_rph (%d)", spec.RateLimitRPM, spec.RateLimitRPH)
	}
	if !allowedDataPolicies[spec.DataPolicy] {
		return fmt.Errorf("data_policy %q is not one of public|restricted|internal", spec.DataPolicy)
	}
	if spec.LicenseID == "" {
		return fmt.Errorf("license_id is required")
	}
	if spec.TimeoutMS <= 0 {
		return fmt.Errorf("timeout_ms must be positive")
	}
	if spec.MaxPayloadBytes <= 0 {
		spec.MaxPayloadBytes = 64 * 1024 * 1024
	}
	return nil
}

// Get returns the spec for source_id, or ErrNotFound.
func (r *Registry) Get(sourceID string) (*SourceSpec, error) {
	spec, ok := r.specs[sourceID]
	if !ok {
		return nil, ErrNotFound
	}
	return spec, nil
}

// ListEnabled returns every enabled spec, sorted by source_id for deterministic
// iteration order (scheduling sweeps, CLI listings).
func (r *Registry) ListEnabled() []*SourceSpec {
	out := make([]*SourceSpec, 0, len(r.specs))
	for _, spec := range r.specs {
		if spec.Enabled {
			out = append(out, spec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SourceID < out[j].SourceID })
	return out
}

// Len returns the total number of loaded specs, enabled or not.
func (r *Registry) Len() int {
	return len(r.specs)
}
