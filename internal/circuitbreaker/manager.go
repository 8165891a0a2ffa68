package circuitbreaker

import (
	"sync"
	"time"

	"github.com/fetchwell/ingestcore/internal/config"
	"github.com/sony/gobreaker"
)

// Manager manages one circuit breaker per source, created lazily on first use.
// Each source's outbound HTTP client gets its own breaker so a failing source
// cannot degrade fetches from a healthy one (bulkhead isolation).
type Manager struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
	defaults BreakerConfig
	overrides map[string]BreakerConfig
	enabled   bool
	onStateChange func(sourceID, from, to string)
}

// BreakerConfig configures a single circuit breaker.
type BreakerConfig struct {
	// MaxRequests is the maximum number of requests allowed to pass through
	// when the circuit breaker is half-open.
	MaxRequests uint32

	// Interval is the cyclic period in closed state to clear the internal counts.
	// If 0, never clears.
	Interval time.Duration

	// Timeout is the period of the open state after which the state becomes
	// half-open.
	Timeout time.Duration

	// ReadyToTrip thresholds: trip on ConsecutiveFailures, or on FailureRatio once
	// at least MinRequests have been observed.
	ConsecutiveFailures uint32
	FailureRatio        float64
	MinRequests         uint32
}

// NewManagerFromConfig builds a Manager from the loaded application config, wiring
// an optional state-change callback (the composition root uses this to forward
// transitions to the observability registry's BreakerHook).
func NewManagerFromConfig(cfg config.CircuitBreakerConfig, onStateChange func(sourceID, from, to string)) *Manager {
	overrides := make(map[string]BreakerConfig, len(cfg.Overrides))
	for sourceID, bc := range cfg.Overrides {
		overrides[sourceID] = fromConfig(bc)
	}

	return &Manager{
		breakers:      make(map[string]*gobreaker.CircuitBreaker),
		defaults:      fromConfig(cfg.Default),
		overrides:     overrides,
		enabled:       cfg.Enabled,
		onStateChange: onStateChange,
	}
}

func fromConfig(bc config.BreakerServiceConfig) BreakerConfig {
	return BreakerConfig{
		MaxRequests:         bc.MaxRequests,
		Interval:            bc.Interval.Duration,
		Timeout:             bc.Timeout.Duration,
		ConsecutiveFailures: bc.ConsecutiveFailures,
		FailureRatio:        bc.FailureRatio,
		MinRequests:         bc.MinRequests,
	}
}

// Execute wraps a fetch call with circuit breaker protection for the given source.
// If circuit breakers are disabled, it executes directly.
func (m *Manager) Execute(sourceID string, fn func() (interface{}, error)) (interface{}, error) {
	if !m.enabled {
		return fn()
	}
	return m.breakerFor(sourceID).Execute(fn)
}

// State returns the current state of a source's circuit breaker.
func (m *Manager) State(sourceID string) string {
	if !m.enabled {
		return "disabled"
	}
	return m.breakerFor(sourceID).State().String()
}

// Counts returns the current counts for a source's circuit breaker.
func (m *Manager) Counts(sourceID string) Counts {
	if !m.enabled {
		return Counts{}
	}
	c := m.breakerFor(sourceID).Counts()
	return Counts{
		Requests:             c.Requests,
		TotalSuccesses:       c.TotalSuccesses,
		TotalFailures:        c.TotalFailures,
		ConsecutiveSuccesses: c.ConsecutiveSuccesses,
		ConsecutiveFailures:  c.ConsecutiveFailures,
	}
}

// Counts represents circuit breaker statistics.
type Counts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

// breakerFor returns the source's breaker, creating it from the override (or the
// default) on first use.
func (m *Manager) breakerFor(sourceID string) *gobreaker.CircuitBreaker {
	m.mu.Lock()
	defer m.mu.Unlock()

	if b, ok := m.breakers[sourceID]; ok {
		return b
	}

	cfg := m.defaults
	if override, ok := m.overrides[sourceID]; ok {
		cfg = override
	}

	b := gobreaker.NewCircuitBreaker(toGobreakerSettings(sourceID, cfg, m.onStateChange))
	m.breakers[sourceID] = b
	return b
}

// toGobreakerSettings converts our config to gobreaker.Settings.
func toGobreakerSettings(sourceID string, cfg BreakerConfig, onStateChange func(sourceID, from, to string)) gobreaker.Settings {
	return gobreaker.Settings{
		Name:        sourceID,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if cfg.ConsecutiveFailures > 0 && counts.ConsecutiveFailures >= cfg.ConsecutiveFailures {
				return true
			}
			if cfg.FailureRatio > 0 && cfg.MinRequests > 0 {
				if counts.Requests >= cfg.MinRequests {
					failureRate := float64(counts.TotalFailures) / float64(counts.Requests)
					if failureRate >= cfg.FailureRatio {
						return true
					}
				}
			}
			return false
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			if onStateChange != nil {
				onStateChange(name, from.String(), to.String())
			}
		},
	}
}

// DefaultConfig returns sensible defaults for a source with no explicit override.
func DefaultConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:         3,
		Interval:            60 * time.Second,
		Timeout:             30 * time.Second,
		ConsecutiveFailures: 5,
		FailureRatio:        0.5,
		MinRequests:         10,
	}
}
