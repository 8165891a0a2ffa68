package observability

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Registry manages a collection of observability hooks and dispatches envelope
// lifecycle events to all of them. It is the middleware-pipeline substitute for a
// virtual-dispatch tower: hooks are a flat, ordered list, not nested decorators.
type Registry struct {
	fetchHooks    []FetchHook
	gatewayHooks  []GatewayHook
	logHooks      []LogHook
	reconcileHooks []ReconcileHook
	breakerHooks  []BreakerHook
	logger        zerolog.Logger
	mu            sync.RWMutex
}

// NewRegistry creates a new hook registry.
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		logger: logger,
	}
}

// RegisterFetchHook adds a fetch hook to the registry.
func (r *Registry) RegisterFetchHook(hook FetchHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fetchHooks = append(r.fetchHooks, hook)
	r.logger.Info().Str("hook", hook.Name()).Msg("registered fetch hook")
}

// RegisterGatewayHook adds a gateway hook to the registry.
func (r *Registry) RegisterGatewayHook(hook GatewayHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gatewayHooks = append(r.gatewayHooks, hook)
	r.logger.Info().Str("hook", hook.Name()).Msg("registered gateway hook")
}

// RegisterLogHook adds a log hook to the registry.
func (r *Registry) RegisterLogHook(hook LogHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logHooks = append(r.logHooks, hook)
	r.logger.Info().Str("hook", hook.Name()).Msg("registered log hook")
}

// RegisterReconcileHook adds a reconcile hook to the registry.
func (r *Registry) RegisterReconcileHook(hook ReconcileHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reconcileHooks = append(r.reconcileHooks, hook)
	r.logger.Info().Str("hook", hook.Name()).Msg("registered reconcile hook")
}

// RegisterBreakerHook adds a breaker hook to the registry.
func (r *Registry) RegisterBreakerHook(hook BreakerHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.breakerHooks = append(r.breakerHooks, hook)
	r.logger.Info().Str("hook", hook.Name()).Msg("registered breaker hook")
}

// ===============================================
// Fetch Hook Dispatchers
// ===============================================

// EmitFetchCompleted dispatches the event to all fetch hooks.
func (r *Registry) EmitFetchCompleted(ctx context.Context, event FetchCompletedEvent) {
	r.mu.RLock()
	hooks := r.fetchHooks
	r.mu.RUnlock()

	for _, hook := range hooks {
		func() {
			defer r.recoverPanic("OnFetchCompleted", hook.Name())
			hook.OnFetchCompleted(ctx, event)
		}()
	}
}

// EmitCadenceSkip dispatches the event to all fetch hooks.
func (r *Registry) EmitCadenceSkip(ctx context.Context, event CadenceSkipEvent) {
	r.mu.RLock()
	hooks := r.fetchHooks
	r.mu.RUnlock()

	for _, hook := range hooks {
		func() {
			defer r.recoverPanic("OnCadenceSkip", hook.Name())
			hook.OnCadenceSkip(ctx, event)
		}()
	}
}

// EmitThrottled dispatches the event to all fetch hooks.
func (r *Registry) EmitThrottled(ctx context.Context, event ThrottledEvent) {
	r.mu.RLock()
	hooks := r.fetchHooks
	r.mu.RUnlock()

	for _, hook := range hooks {
		func() {
			defer r.recoverPanic("OnThrottled", hook.Name())
			hook.OnThrottled(ctx, event)
		}()
	}
}

// ===============================================
// Gateway Hook Dispatchers
// ===============================================

// EmitAccepted dispatches the event to all gateway hooks.
func (r *Registry) EmitAccepted(ctx context.Context, event AcceptedEvent) {
	r.mu.RLock()
	hooks := r.gatewayHooks
	r.mu.RUnlock()

	for _, hook := range hooks {
		func() {
			defer r.recoverPanic("OnAccepted", hook.Name())
			hook.OnAccepted(ctx, event)
		}()
	}
}

// EmitDeduplicated dispatches the event to all gateway hooks.
func (r *Registry) EmitDeduplicated(ctx context.Context, event DeduplicatedEvent) {
	r.mu.RLock()
	hooks := r.gatewayHooks
	r.mu.RUnlock()

	for _, hook := range hooks {
		func() {
			defer r.recoverPanic("OnDeduplicated", hook.Name())
			hook.OnDeduplicated(ctx, event)
		}()
	}
}

// EmitRejected dispatches the event to all gateway hooks.
func (r *Registry) EmitRejected(ctx context.Context, event RejectedEvent) {
	r.mu.RLock()
	hooks := r.gatewayHooks
	r.mu.RUnlock()

	for _, hook := range hooks {
		func() {
			defer r.recoverPanic("OnRejected", hook.Name())
			hook.OnRejected(ctx, event)
		}()
	}
}

// ===============================================
// Log Hook Dispatchers
// ===============================================

// EmitLogAppend dispatches the event to all log hooks.
func (r *Registry) EmitLogAppend(ctx context.Context, event LogAppendEvent) {
	r.mu.RLock()
	hooks := r.logHooks
	r.mu.RUnlock()

	for _, hook := range hooks {
		func() {
			defer r.recoverPanic("OnLogAppend", hook.Name())
			hook.OnLogAppend(ctx, event)
		}()
	}
}

// EmitLogRotation dispatches the event to all log hooks.
func (r *Registry) EmitLogRotation(ctx context.Context, event LogRotationEvent) {
	r.mu.RLock()
	hooks := r.logHooks
	r.mu.RUnlock()

	for _, hook := range hooks {
		func() {
			defer r.recoverPanic("OnLogRotation", hook.Name())
			hook.OnLogRotation(ctx, event)
		}()
	}
}

// ===============================================
// Reconcile Hook Dispatchers
// ===============================================

// EmitReconcileRun dispatches the event to all reconcile hooks.
func (r *Registry) EmitReconcileRun(ctx context.Context, event ReconcileRunEvent) {
	r.mu.RLock()
	hooks := r.reconcileHooks
	r.mu.RUnlock()

	for _, hook := range hooks {
		func() {
			defer r.recoverPanic("OnReconcileRun", hook.Name())
			hook.OnReconcileRun(ctx, event)
		}()
	}
}

// ===============================================
// Breaker Hook Dispatchers
// ===============================================

// EmitBreakerStateChange dispatches the event to all breaker hooks.
func (r *Registry) EmitBreakerStateChange(ctx context.Context, event BreakerStateChangeEvent) {
	r.mu.RLock()
	hooks := r.breakerHooks
	r.mu.RUnlock()

	for _, hook := range hooks {
		func() {
			defer r.recoverPanic("OnBreakerStateChange", hook.Name())
			hook.OnBreakerStateChange(ctx, event)
		}()
	}
}

// ===============================================
// Error Recovery
// ===============================================

// recoverPanic recovers from panics in hook implementations.
// This ensures one bad hook doesn't crash the entire system.
func (r *Registry) recoverPanic(method, hookName string) {
	if err := recover(); err != nil {
		r.logger.Error().
			Str("hook", hookName).
			Str("method", method).
			Interface("panic", err).
			Msg("observability hook panicked (recovered)")
	}
}
