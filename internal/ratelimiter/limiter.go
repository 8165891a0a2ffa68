// Package ratelimiter enforces each source's dual rpm/rph token buckets. A
// fetch needs one token from both buckets; on insufficient tokens it returns
// Throttled(retry_after) rather than blocking, so callers choose whether to
// sleep or abandon.
package ratelimiter

import (
	"sync"
	"time"

	"github.com/fetchwell/ingestcore/internal/ingesterr"
	"golang.org/x/time/rate"
)

// sourceBuckets holds the two buckets for one source_id.
type sourceBuckets struct {
	rpm *rate.Limiter
	rph *rate.Limiter
}

// Limiter manages one dual-bucket pair per source, created lazily on first use.
// Buckets are process-local; the registry's rate limits are a per-process
// constraint in multi-process deployments, per the Rate Limiter's contract.
type Limiter struct {
	mu         sync.Mutex
	buckets    map[string]*sourceBuckets
	defaultRPM int
	defaultRPH int
}

// New creates a Limiter that falls back to defaultRPM/defaultRPH for any
// source whose SourceSpec doesn't carry its own rate limits.
func New(defaultRPM, defaultRPH int) *Limiter {
	return &Limiter{
		buckets:    make(map[string]*sourceBuckets),
		defaultRPM: defaultRPM,
		defaultRPH: defaultRPH,
	}
}

// Reserve attempts to take one token from each of the source's rpm and rph
// buckets. On success it returns nil. On insufficient tokens in either bucket
// it returns a Throttled error carrying the longer of the two required delays;
// it never blocks.
func (l *Limiter) Reserve(sourceID string, rpm, rph int) *ingesterr.Error {
	b := l.bucketsFor(sourceID, rpm, rph)

	rpmReservation := b.rpm.Reserve()
	if !rpmReservation.OK() {
		return ingesterr.Throttled(0)
	}
	rpmDelay := rpmReservation.Delay()

	rphReservation := b.rph.Reserve()
	if !rphReservation.OK() {
		rpmReservation.Cancel()
		return ingesterr.Throttled(0)
	}
	rphDelay := rphReservation.Delay()

	delay := rpmDelay
	if rphDelay > delay {
		delay = rphDelay
	}
	if delay > 0 {
		rpmReservation.Cancel()
		rphReservation.Cancel()
		return ingesterr.Throttled(delay)
	}

	return nil
}

// bucketsFor returns the source's bucket pair, creating it from rpm/rph (or the
// limiter's defaults when either is zero) on first use.
func (l *Limiter) bucketsFor(sourceID string, rpm, rph int) *sourceBuckets {
	l.mu.Lock()
	defer l.mu.Unlock()

	if b, ok := l.buckets[sourceID]; ok {
		return b
	}

	if rpm <= 0 {
		rpm = l.defaultRPM
	}
	if rph <= 0 {
		rph = l.defaultRPH
	}

	b := &sourceBuckets{
		rpm: rate.NewLimiter(rate.Limit(float64(rpm)/60.0), burstFor(rpm)),
		rph: rate.NewLimiter(rate.Limit(float64(rph)/3600.0), burstFor(rph)),
	}
	l.buckets[sourceID] = b
	return b
}

// burstFor sizes the bucket's burst capacity to its own per-minute/hour rate so
// a cold start doesn't immediately throttle a single fetch.
func burstFor(rate int) int {
	if rate < 1 {
		return 1
	}
	return rate
}

// Wait blocks the caller for the duration of a Throttled error's retry_after,
// honoring ctx-less cooperative sleep. The Fetch Scheduler uses this for its
// bounded retry budget rather than busy-waiting.
func Wait(d time.Duration) {
	if d > 0 {
		time.Sleep(d)
	}
}
