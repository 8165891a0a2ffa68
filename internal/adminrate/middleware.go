// Package adminrate rate-limits the optional admin HTTP surface (/healthz,
// /metrics). It must never gate ingestion outcomes: the Fetch Scheduler and
// Gateway never call into this package, and their own per-source throttling
// lives in internal/ratelimiter instead.
package adminrate

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/fetchwell/ingestcore/internal/metrics"
	"github.com/go-chi/httprate"
)

// Config holds admin surface rate limiting configuration.
type Config struct {
	// Global rate limiting (across all callers of the admin surface).
	GlobalEnabled bool
	GlobalLimit   int
	GlobalWindow  time.Duration

	// Per-IP rate limiting.
	PerIPEnabled bool
	PerIPLimit   int
	PerIPWindow  time.Duration

	// Metrics collector (optional).
	Metrics *metrics.Metrics
}

// rateLimitResponse is the JSON body written on a 429.
type rateLimitResponse struct {
	Error             string `json:"error"`
	Message           string `json:"message"`
	RetryAfterSeconds int    `json:"retry_after_seconds"`
}

// DefaultConfig returns rate limits sized for a low-traffic observability
// surface, not for request-per-envelope traffic.
func DefaultConfig(perMinute int) Config {
	if perMinute <= 0 {
		perMinute = 120
	}
	return Config{
		GlobalEnabled: true,
		GlobalLimit:   perMinute * 4,
		GlobalWindow:  1 * time.Minute,

		PerIPEnabled: true,
		PerIPLimit:   perMinute,
		PerIPWindow:  1 * time.Minute,
	}
}

// createRateLimitHandler builds the 429 handler shared by the global and
// per-IP limiters.
func createRateLimitHandler(limitType string, windowSeconds int, metricsCollector *metrics.Metrics) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		if metricsCollector != nil {
			metricsCollector.ObserveAdminRateLimit(limitType)
		}

		message := "Rate limit exceeded. Please try again later."
		if limitType == "global" {
			message = "Admin surface is receiving too many requests. Please try again later."
		}

		response := rateLimitResponse{
			Error:             "rate_limit_exceeded",
			Message:           message,
			RetryAfterSeconds: windowSeconds,
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Retry-After", fmt.Sprintf("%d", windowSeconds))
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(response)
	}
}

// GlobalLimiter caps total admin surface traffic regardless of origin.
func GlobalLimiter(cfg Config) func(http.Handler) http.Handler {
	if !cfg.GlobalEnabled {
		return func(next http.Handler) http.Handler { return next }
	}

	return httprate.Limit(
		cfg.GlobalLimit,
		cfg.GlobalWindow,
		httprate.WithLimitHandler(
			createRateLimitHandler("global", int(cfg.GlobalWindow.Seconds()), cfg.Metrics),
		),
	)
}

// IPLimiter caps per-caller admin surface traffic.
func IPLimiter(cfg Config) func(http.Handler) http.Handler {
	if !cfg.PerIPEnabled {
		return func(next http.Handler) http.Handler { return next }
	}

	return httprate.Limit(
		cfg.PerIPLimit,
		cfg.PerIPWindow,
		httprate.WithKeyByIP(),
		httprate.WithLimitHandler(
			createRateLimitHandler("per_ip", int(cfg.PerIPWindow.Seconds()), cfg.Metrics),
		),
	)
}
