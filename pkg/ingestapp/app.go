// Package ingestapp wires the Source Registry, Fetch Scheduler, Ingestion
// Gateway, and Ingest Log into one process, mirroring the shape of an
// embeddable application object rather than a bespoke main().
package ingestapp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/fetchwell/ingestcore/internal/cas"
	"github.com/fetchwell/ingestcore/internal/circuitbreaker"
	"github.com/fetchwell/ingestcore/internal/config"
	"github.com/fetchwell/ingestcore/internal/envelope"
	"github.com/fetchwell/ingestcore/internal/gateway"
	"github.com/fetchwell/ingestcore/internal/ingestlog"
	"github.com/fetchwell/ingestcore/internal/lifecycle"
	"github.com/fetchwell/ingestcore/internal/logger"
	"github.com/fetchwell/ingestcore/internal/metastore"
	"github.com/fetchwell/ingestcore/internal/metrics"
	"github.com/fetchwell/ingestcore/internal/observability"
	"github.com/fetchwell/ingestcore/internal/pushserver"
	"github.com/fetchwell/ingestcore/internal/ratelimiter"
	"github.com/fetchwell/ingestcore/internal/reconcile"
	"github.com/fetchwell/ingestcore/internal/registry"
	"github.com/fetchwell/ingestcore/internal/scheduler"
	"github.com/prometheus/client_golang/prometheus"
)

// App assembles the ingestion core's components for embedding or standalone
// use by a CLI entry point.
type App struct {
	Config     *config.Config
	Registry   registry.Lookup
	Metastore  metastore.Store
	CAS        cas.Store
	Log        *ingestlog.Log
	Gateway    *gateway.Gateway
	Scheduler  *scheduler.Scheduler
	Reconciler *reconcile.Reconciler
	PushServer *pushserver.Server
	Hooks      *observability.Registry

	resources *lifecycle.Manager
	logger    zerolog.Logger
}

// Option configures App construction.
type Option func(*options)

type options struct {
	metastore metastore.Store
	store     cas.Store
	registrar prometheus.Registerer
}

// WithMetastore injects a custom dedup/cadence/offset store, bypassing the
// config-driven sqlite/postgres selection.
func WithMetastore(store metastore.Store) Option {
	return func(o *options) { o.metastore = store }
}

// WithCAS injects a custom content-addressed store, bypassing the
// config-driven local/mongo selection.
func WithCAS(store cas.Store) Option {
	return func(o *options) { o.store = store }
}

// WithPrometheusRegisterer points metrics at a non-default registry, useful
// for tests that construct more than one App in the same process.
func WithPrometheusRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registrar = reg }
}

// New assembles an App from cfg: loads the Source Registry, opens the
// metastore and CAS backends the config selects, opens the Ingest Log, and
// wires the Gateway and Scheduler together through the Acceptor/Appender
// adapters that keep those two packages decoupled.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("ingestapp: config required")
	}

	optState := options{registrar: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(&optState)
	}

	appLogger := logger.New(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Service:     cfg.Logging.Service,
		Environment: cfg.Logging.Environment,
	})

	resources := lifecycle.NewManager()
	hooks := observability.NewRegistry(appLogger)

	metricsCollector := metrics.New(optState.registrar)
	hooks.RegisterFetchHook(observability.NewPrometheusHook(metricsCollector))
	hooks.RegisterGatewayHook(observability.NewPrometheusHook(metricsCollector))
	hooks.RegisterLogHook(observability.NewPrometheusHook(metricsCollector))
	hooks.RegisterReconcileHook(observability.NewPrometheusHook(metricsCollector))
	hooks.RegisterBreakerHook(observability.NewPrometheusHook(metricsCollector))

	var reg registry.Lookup
	var err error
	if cfg.Registry.ReloadInterval.Duration > 0 {
		reg, err = registry.NewReloader(cfg.Registry.SourceDir, cfg.Registry.ReloadInterval.Duration)
	} else {
		reg, err = registry.Load(cfg.Registry.SourceDir)
	}
	if err != nil {
		return nil, fmt.Errorf("ingestapp: load registry: %w", err)
	}

	meta := optState.metastore
	if meta == nil {
		meta, err = newMetastore(cfg.Metastore)
		if err != nil {
			return nil, fmt.Errorf("ingestapp: open metastore: %w", err)
		}
		if closer, ok := meta.(io.Closer); ok {
			resources.Register("metastore", closer)
		}
	}
	meta = metastore.NewCoalescingStore(meta)

	store := optState.store
	if store == nil {
		store, err = newCASStore(ctx, cfg.CAS)
		if err != nil {
			return nil, fmt.Errorf("ingestapp: open cas: %w", err)
		}
	}

	logDir := filepath.Join(cfg.DataRoot, "ingest_log")
	log, err := ingestlog.New(logDir, hooks)
	if err != nil {
		return nil, fmt.Errorf("ingestapp: open ingest log: %w", err)
	}
	resources.RegisterFunc("ingest-log", log.Close)

	gw := gateway.New(
		reg, meta, store, log, hooks,
		time.Duration(cfg.Skew.WindowSecs)*time.Second,
		cfg.Envelope.MaxEnvelopeBytes,
	)

	limiter := ratelimiter.New(cfg.RateLimit.DefaultRPM, cfg.RateLimit.DefaultRPH)
	breakers := circuitbreaker.NewManagerFromConfig(cfg.CircuitBreaker, func(sourceID, from, to string) {
		hooks.EmitBreakerStateChange(ctx, observability.BreakerStateChangeEvent{
			Timestamp: time.Now().UTC(),
			SourceID:  sourceID,
			From:      from,
			To:        to,
		})
	})

	sched := scheduler.New(
		reg, meta, limiter, breakers, gatewayAcceptor{gw}, hooks,
		time.Duration(cfg.Cadence.FloorSecs)*time.Second,
		30*time.Second,
	)

	recon := reconcile.New(logDir, meta, hooks)

	var pushSrv *pushserver.Server
	if cfg.PushServer.Enabled {
		pushSrv = pushserver.New(cfg.PushServer, reg, limiter, gatewayAcceptor{gw}, appLogger)
	}

	return &App{
		Config:     cfg,
		Registry:   reg,
		Metastore:  meta,
		CAS:        store,
		Log:        log,
		Gateway:    gw,
		Scheduler:  sched,
		Reconciler: recon,
		PushServer: pushSrv,
		Hooks:      hooks,
		resources:  resources,
		logger:     appLogger,
	}, nil
}

// Close releases resources acquired by New, in reverse acquisition order.
func (a *App) Close() error {
	return a.resources.Close()
}

func newMetastore(cfg config.MetastoreConfig) (metastore.Store, error) {
	switch cfg.Backend {
	case "", "sqlite":
		return metastore.NewSQLiteStore(cfg.SQLitePath)
	case "postgres":
		return metastore.NewPostgresStore(cfg.PostgresURL, cfg.PostgresPool)
	default:
		return nil, fmt.Errorf("ingestapp: unknown metastore backend %q", cfg.Backend)
	}
}

func newCASStore(ctx context.Context, cfg config.CASConfig) (cas.Store, error) {
	switch cfg.Backend {
	case "", "local":
		return cas.NewLocalStore(cfg.LocalRoot)
	case "mongo":
		return cas.NewMongoStore(ctx, cfg.MongoURL, cfg.MongoDatabase, cfg.MongoCollection)
	default:
		return nil, fmt.Errorf("ingestapp: unknown cas backend %q", cfg.Backend)
	}
}

// gatewayAcceptor adapts *gateway.Gateway to scheduler.Acceptor, translating
// gateway.Result into scheduler.AcceptResult. The two types stay distinct so
// neither package imports the other.
type gatewayAcceptor struct {
	gw *gateway.Gateway
}

func (a gatewayAcceptor) Accept(ctx context.Context, submission *envelope.Envelope, payload []byte) (*scheduler.AcceptResult, error) {
	result, err := a.gw.Accept(ctx, submission, payload)
	if err != nil {
		return nil, err
	}
	return &scheduler.AcceptResult{
		Outcome:    result.Outcome,
		EnvelopeID: result.EnvelopeID,
		PayloadRef: result.PayloadRef,
	}, nil
}
