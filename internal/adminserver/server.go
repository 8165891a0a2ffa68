// Package adminserver exposes the ingestion core's observability-only HTTP
// surface: /healthz and /metrics. It never touches the Gateway or Scheduler
// directly, and nothing in the accept()/fetch_once path depends on it being
// up, per spec.md's separation of the ingestion path from its own monitoring.
package adminserver

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/fetchwell/ingestcore/internal/adminrate"
	"github.com/fetchwell/ingestcore/internal/config"
	"github.com/fetchwell/ingestcore/internal/metastore"
	"github.com/fetchwell/ingestcore/internal/metrics"
)

// HealthChecker is the subset of the metastore the /healthz handler pings to
// decide liveness. Defined narrowly so the handler doesn't need the full
// metastore.Store capability set.
type HealthChecker interface {
	ReconcileCheckpointGet(ctx context.Context) (fileDate string, byteOffset int64, found bool, err error)
}

// Server wraps a chi router and an *http.Server configured from
// config.AdminServerConfig.
type Server struct {
	httpServer *http.Server
	router     chi.Router
}

// New builds the admin server. It is always constructed; callers gate
// whether to call ListenAndServe on cfg.Enabled.
func New(cfg config.AdminServerConfig, meta metastore.Store, metricsCollector *metrics.Metrics, logger zerolog.Logger) *Server {
	router := chi.NewRouter()

	if len(cfg.CORSAllowedOrigins) > 0 {
		router.Use(cors.New(cors.Options{
			AllowedOrigins: cfg.CORSAllowedOrigins,
			AllowedMethods: []string{"GET"},
			AllowedHeaders: []string{"*"},
			MaxAge:         300,
		}).Handler)
	}

	rateCfg := adminrate.DefaultConfig(cfg.RateLimitPerMinute)
	rateCfg.Metrics = metricsCollector
	router.Use(adminrate.GlobalLimiter(rateCfg))
	router.Use(adminrate.IPLimiter(rateCfg))

	router.Get("/healthz", healthzHandler(meta, logger))
	router.Handle("/metrics", promhttp.Handler())

	return &Server{
		router: router,
		httpServer: &http.Server{
			Addr:         cfg.Address,
			Handler:      router,
			ReadTimeout:  cfg.ReadTimeout.Duration,
			WriteTimeout: cfg.WriteTimeout.Duration,
			IdleTimeout:  cfg.IdleTimeout.Duration,
		},
	}
}

type healthzResponse struct {
	Status              string `json:"status"`
	ReconcileCheckpoint string `json:"reconcile_checkpoint,omitempty"`
}

// healthzHandler reports healthy as long as the metastore responds; it does
// not try to reach CAS or the log, since a slow disk shouldn't flap this probe.
func healthzHandler(meta HealthChecker, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		fileDate, offset, found, err := meta.ReconcileCheckpointGet(ctx)
		w.Header().Set("Content-Type", "application/json")
		if err != nil {
			logger.Error().Err(err).Msg("adminserver.healthz_metastore_unreachable")
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(healthzResponse{Status: "unhealthy"})
			return
		}

		resp := healthzResponse{Status: "healthy"}
		if found {
			resp.ReconcileCheckpoint = fileDate + "@" + strconv.FormatInt(offset, 10)
		}
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(resp)
	}
}

// ListenAndServe starts the HTTP server. Callers should run this in its own
// goroutine and use Shutdown to stop it.
func (s *Server) ListenAndServe() error {
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Router exposes the chi router for tests.
func (s *Server) Router() chi.Router {
	return s.router
}
