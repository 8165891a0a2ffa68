package ratelimiter

import (
	"testing"
	"time"
)

func TestReserve_AllowsWithinBurst(t *testing.T) {
	l := New(60, 3600)
	if err := l.Reserve("blue_moon", 60, 3600); err != nil {
		t.Fatalf("expected first reservation to succeed, got %v", err)
	}
}

func TestReserve_ThrottlesBeyondCapacity(t *testing.T) {
	l := New(1, 60)

	if err := l.Reserve("blue_moon", 1, 60); err != nil {
		t.Fatalf("expected first reservation to succeed, got %v", err)
	}

	err := l.Reserve("blue_moon", 1, 60)
	if err == nil {
		t.Fatalf("expected second immediate reservation to be throttled")
	}
	if err.RetryAfter <= 0 {
		t.Fatalf("expected a positive retry_after, got %v", err.RetryAfter)
	}
}

func TestReserve_IndependentPerSource(t *testing.T) {
	l := New(1, 60)

	if err := l.Reserve("blue_moon", 1, 60); err != nil {
		t.Fatalf("blue_moon reservation failed: %v", err)
	}
	if err := l.Reserve("red_sun", 1, 60); err != nil {
		t.Fatalf("red_sun should have its own bucket, got %v", err)
	}
}

func TestReserve_FallsBackToDefaults(t *testing.T) {
	l := New(1, 60)

	if err := l.Reserve("blue_moon", 0, 0); err != nil {
		t.Fatalf("expected default-rate reservation to succeed, got %v", err)
	}
	if err := l.Reserve("blue_moon", 0, 0); err == nil {
		t.Fatalf("expected second reservation against default burst of 1 to throttle")
	}
}

func TestWait_SleepsForDuration(t *testing.T) {
	start := time.Now()
	Wait(10 * time.Millisecond)
	if time.Since(start) < 10*time.Millisecond {
		t.Fatalf("expected Wait to sleep at least 10ms")
	}
}
