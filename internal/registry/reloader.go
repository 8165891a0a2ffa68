package registry

import (
	"sync"
	"time"

	"github.com/fetchwell/ingestcore/internal/cacheutil"
)

// Reloader wraps a static Registry load behind a TTL so a long-running
// daemon picks up added/edited/removed source documents without a restart,
// without re-reading and re-validating the source directory on every call.
// A failed reload keeps serving the last good Registry rather than erroring
// the caller, since a transient directory read failure shouldn't take every
// source offline.
type Reloader struct {
	dir string
	ttl time.Duration

	mu       sync.RWMutex
	current  cacheutil.CachedValue[*Registry]
	lastGood *Registry
}

// NewReloader builds a Reloader that re-reads dir at most once per ttl. It
// performs the initial load eagerly so construction fails the same way
// Load does if the source directory is invalid.
func NewReloader(dir string, ttl time.Duration) (*Reloader, error) {
	reg, err := Load(dir)
	if err != nil {
		return nil, err
	}
	r := &Reloader{dir: dir, ttl: ttl, lastGood: reg}
	r.current = cacheutil.CachedValue[*Registry]{Value: reg, FetchedAt: time.Now()}
	return r, nil
}

// snapshot returns the cached Registry, reloading it first if the TTL has
// elapsed. Reload failures are swallowed in favor of the last good load.
func (r *Reloader) snapshot() *Registry {
	reg, _ := cacheutil.ReadThrough(
		&r.mu,
		func(now time.Time) (*Registry, bool) {
			if now.Sub(r.current.FetchedAt) < r.ttl {
				return r.current.Value, true
			}
			return nil, false
		},
		func(now time.Time) (*Registry, error) {
			reg, err := Load(r.dir)
			if err != nil {
				// Keep serving the last good load; just push the TTL out so
				// we don't retry the failing reload on every call.
				r.current.FetchedAt = now
				return r.lastGood, nil
			}
			r.current = cacheutil.CachedValue[*Registry]{Value: reg, FetchedAt: now}
			r.lastGood = reg
			return reg, nil
		},
	)
	return reg
}

// Get returns the spec for source_id out of the current (possibly just
// reloaded) snapshot.
func (r *Reloader) Get(sourceID string) (*SourceSpec, error) {
	return r.snapshot().Get(sourceID)
}

// ListEnabled returns every enabled spec out of the current snapshot.
func (r *Reloader) ListEnabled() []*SourceSpec {
	return r.snapshot().ListEnabled()
}
