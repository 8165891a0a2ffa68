package registry

import (
	"testing"
	"time"
)

func TestReloader_ServesCachedSnapshotWithinTTL(t *testing.T) {
	dir := t.TempDir()
	writeSpec(t, dir, "blue_moon.json", baseSpec("blue_moon"))

	r, err := NewReloader(dir, time.Hour)
	if err != nil {
		t.Fatalf("NewReloader: %v", err)
	}
	if len(r.ListEnabled()) != 1 {
		t.Fatalf("expected 1 enabled source, got %d", len(r.ListEnabled()))
	}

	writeSpec(t, dir, "red_sun.json", baseSpec("red_sun"))
	if len(r.ListEnabled()) != 1 {
		t.Fatalf("expected reloader to keep serving the cached snapshot within TTL, got %d sources", len(r.ListEnabled()))
	}
}

func TestReloader_PicksUpChangesAfterTTL(t *testing.T) {
	dir := t.TempDir()
	writeSpec(t, dir, "blue_moon.json", baseSpec("blue_moon"))

	r, err := NewReloader(dir, time.Nanosecond)
	if err != nil {
		t.Fatalf("NewReloader: %v", err)
	}
	if len(r.ListEnabled()) != 1 {
		t.Fatalf("expected 1 enabled source, got %d", len(r.ListEnabled()))
	}

	writeSpec(t, dir, "red_sun.json", baseSpec("red_sun"))
	time.Sleep(time.Millisecond)

	if len(r.ListEnabled()) != 2 {
		t.Fatalf("expected reload to pick up red_sun after TTL elapsed, got %d sources", len(r.ListEnabled()))
	}
}

func TestReloader_KeepsLastGoodSnapshotOnReloadFailure(t *testing.T) {
	dir := t.TempDir()
	writeSpec(t, dir, "blue_moon.json", baseSpec("blue_moon"))

	r, err := NewReloader(dir, time.Nanosecond)
	if err != nil {
		t.Fatalf("NewReloader: %v", err)
	}

	badSpec := baseSpec("broken")
	badSpec.Endpoint = "not-a-url"
	writeSpec(t, dir, "broken.json", badSpec)
	time.Sleep(time.Millisecond)

	if got, err := r.Get("blue_moon"); err != nil || got.SourceID != "blue_moon" {
		t.Fatalf("expected last good snapshot to still serve blue_moon, got %v, err %v", got, err)
	}
}
