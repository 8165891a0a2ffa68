package registry

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func writeSpec(t *testing.T, dir, filename string, spec SourceSpec) {
	t.Helper()
	raw, err := json.Marshal(spec)
	if err != nil {
		t.Fatalf("marshal spec: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, filename), raw, 0o644); err != nil {
		t.Fatalf("write spec: %v", err)
	}
}

func baseSpec(sourceID string) SourceSpec {
	return SourceSpec{
		SourceID:        sourceID,
		Endpoint:        "https://example.com/feed",
		Method:          "GET",
		ContentTypes:    []string{"application/json"},
		RateLimitRPM:    30,
		RateLimitRPH:    600,
		TimeoutMS:       5000,
		DataPolicy:      "public",
		LicenseID:       "cc-by",
		MaxPayloadBytes: 1 << 20,
		Enabled:         true,
	}
}

func TestLoad_ValidSources(t *testing.T) {
	dir := t.TempDir()
	writeSpec(t, dir, "blue_moon.json", baseSpec("blue_moon"))
	writeSpec(t, dir, "red_sun.json", func() SourceSpec {
		s := baseSpec("red_sun")
		s.Enabled = false
		return s
	}())

	reg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if reg.Len() != 2 {
		t.Fatalf("expected 2 specs, got %d", reg.Len())
	}

	enabled := reg.ListEnabled()
	if len(enabled) != 1 || enabled[0].SourceID != "blue_moon" {
		t.Fatalf("expected only blue_moon enabled, got %v", enabled)
	}

	if _, err := reg.Get("red_sun"); err != nil {
		t.Fatalf("expected red_sun to be gettable even though disabled: %v", err)
	}

	if _, err := reg.Get("missing"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLoad_RejectsInvalidSpecs(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*SourceSpec)
	}{
		{"bad source_id", func(s *SourceSpec) { s.SourceID = "Blue-Moon" }},
		{"relative endpoint", func(s *SourceSpec) { s.Endpoint = "/feed" }},
		{"bad method", func(s *SourceSpec) { s.Method = "PATCH" }},
		{"empty content types", func(s *SourceSpec) { s.ContentTypes = nil }},
		{"rpm exceeds rph", func(s *SourceSpec) { s.RateLimitRPM = 1000; s.RateLimitRPH = 600 }},
		{"bad data policy", func(s *SourceSpec) { s.DataPolicy = "whatever" }},
		{"missing license", func(s *SourceSpec) { s.LicenseID = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			spec := baseSpec("blue_moon")
			tt.mutate(&spec)
			writeSpec(t, dir, "spec.json", spec)

			if _, err := Load(dir); err == nil {
				t.Fatalf("expected Load to fail for %s", tt.name)
			}
		})
	}
}

func TestLoad_DuplicateSourceIDRejected(t *testing.T) {
	dir := t.TempDir()
	writeSpec(t, dir, "a.json", baseSpec("blue_moon"))
	writeSpec(t, dir, "b.json", baseSpec("blue_moon"))

	if _, err := Load(dir); err == nil {
		t.Fatalf("expected duplicate source_id to fail load")
	}
}

func TestAcceptsMimeType(t *testing.T) {
	spec := baseSpec("blue_moon")
	if !spec.AcceptsMimeType("application/json") {
		t.Fatalf("expected application/json to be accepted")
	}
	if spec.AcceptsMimeType("text/html") {
		t.Fatalf("expected text/html to be rejected")
	}
}
