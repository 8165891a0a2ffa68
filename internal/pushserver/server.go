// Package pushserver exposes the Ingestion Gateway's alternate entry point:
// an HTTP surface for sources that deliver events rather than waiting to be
// polled by the Fetch Scheduler. It shares the Gateway's accept() pipeline
// (validation, policy, dedup, CAS write, log append) through the same
// scheduler.Acceptor seam the Scheduler uses, so a pushed submission is
// indistinguishable from a pulled one by the time it reaches the log.
package pushserver

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/fetchwell/ingestcore/internal/config"
	"github.com/fetchwell/ingestcore/internal/dedupcache"
	"github.com/fetchwell/ingestcore/internal/envelope"
	"github.com/fetchwell/ingestcore/internal/ingesterr"
	"github.com/fetchwell/ingestcore/internal/ratelimiter"
	"github.com/fetchwell/ingestcore/internal/registry"
	"github.com/fetchwell/ingestcore/internal/scheduler"
)

// Server accepts pushed submissions over HTTP and hands them to a
// scheduler.Acceptor (in practice the Gateway, via the same adapter the
// Scheduler uses).
type Server struct {
	httpServer *http.Server
	router     chi.Router
}

// submissionMeta is the caller-supplied half of an envelope; the server fills
// in the payload-derived and gateway-assigned fields itself, the same split
// the Fetch Scheduler observes when it builds a submission.
type submissionMeta struct {
	IdempotencyKey string                 `json:"idempotency_key"`
	Request        envelope.Request       `json:"request"`
	GeoHint        string                 `json:"geo_hint,omitempty"`
	Content        *envelope.Content      `json:"content,omitempty"`
	Trace          *envelope.Trace        `json:"trace,omitempty"`
	Ext            map[string]interface{} `json:"ext,omitempty"`
}

// New builds the push server. acceptor is typically the same
// scheduler.Acceptor-implementing adapter the composition root wires into
// the Scheduler, so pushed and polled submissions share one accept path.
// limiter is the same per-source token-bucket limiter the Scheduler throttles
// fetches with, so a source's rate_limit_rpm/rate_limit_rph budget is shared across its
// pull and push traffic rather than doubled by adding a push path.
func New(cfg config.PushServerConfig, reg registry.Lookup, limiter *ratelimiter.Limiter, acceptor scheduler.Acceptor, logger zerolog.Logger) *Server {
	router := chi.NewRouter()

	idempotencyStore := dedupcache.NewMemoryStore()
	router.With(dedupcache.Middleware(idempotencyStore, cfg.IdempotencyTTL.Duration)).
		Post("/v1/sources/{source_id}/events", pushHandler(reg, limiter, acceptor, logger))

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

type acceptResponse struct {
	Status     string `json:"status"`
	EnvelopeID string `json:"envelope_id,omitempty"`
	PayloadRef string `json:"payload_ref,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// pushHandler decodes a pushed submission, fills in the payload-derived
// envelope fields, and calls into the shared accept() pipeline. A missing
// Idempotency-Key header is rejected outright: without one, a retried
// delivery can't be told apart from a new event at the transport layer.
func pushHandler(reg registry.Lookup, limiter *ratelimiter.Limiter, acceptor scheduler.Acceptor, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sourceID := chi.URLParam(r, "source_id")

		if r.Header.Get(dedupcache.HeaderKey) == "" {
			writeError(w, http.StatusBadRequest, "missing_idempotency_key", "Idempotency-Key header is required")
			return
		}

		spec, err := reg.Get(sourceID)
		if err != nil {
			writeError(w, http.StatusNotFound, "unknown_source", "source_id is not registered")
			return
		}
		if !spec.Enabled {
			writeError(w, http.StatusForbidden, "source_disabled", "source_id is registered but disabled")
			return
		}

		if ierr := limiter.Reserve(sourceID, spec.RateLimitRPM, spec.RateLimitRPH); ierr != nil {
			ierr.WriteJSON(w)
			return
		}

		var meta submissionMeta
		if raw := r.Header.Get("X-Ingest-Meta"); raw != "" {
			if err := json.Unmarshal([]byte(raw), &meta); err != nil {
				writeError(w, http.StatusBadRequest, "invalid_meta", "X-Ingest-Meta header is not valid JSON")
				return
			}
		}
		meta.IdempotencyKey = r.Header.Get(dedupcache.HeaderKey)
		if meta.Request.URL == "" {
			meta.Request.URL = r.URL.String()
		}
		meta.Request.Method = http.MethodPost

		payload, err := io.ReadAll(io.LimitReader(r.Body, spec.MaxPayloadBytes+1))
		if err != nil {
			writeError(w, http.StatusBadRequest, "read_error", "failed to read request body")
			return
		}
		if int64(len(payload)) > spec.MaxPayloadBytes {
			writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "payload exceeds max_payload_bytes")
			return
		}

		sum := sha256.Sum256(payload)
		submission := &envelope.Envelope{
			EnvelopeVersion: envelope.Version,
			SourceID:        sourceID,
			IdempotencyKey:  meta.IdempotencyKey,
			PayloadMeta: envelope.PayloadMeta{
				SizeBytes: int64(len(payload)),
				Checksum:  envelope.Checksum{SHA256: hex.EncodeToString(sum[:])},
				MimeType:  http.DetectContentType(payload),
			},
			Request: meta.Request,
			Timing:  envelope.Timing{FetchedAt: time.Now().UTC()},
			Legal:   envelope.Legal{LicenseID: spec.LicenseID},
			GeoHint: meta.GeoHint,
			Content: meta.Content,
			Trace:   meta.Trace,
			Ext:     meta.Ext,
		}

		result, err := acceptor.Accept(r.Context(), submission, payload)
		if err != nil {
			writeAcceptError(w, logger, err)
			return
		}

		status := http.StatusCreated
		if result.Outcome == "deduplicated" {
			status = http.StatusOK
		}
		writeJSON(w, status, acceptResponse{
			Status:     result.Outcome,
			EnvelopeID: result.EnvelopeID,
			PayloadRef: result.PayloadRef,
		})
	}
}

// writeAcceptError reuses ingesterr.Error's own JSON/status-code mapping
// (the same one the admin surface would use) rather than re-deriving it here.
func writeAcceptError(w http.ResponseWriter, logger zerolog.Logger, err error) {
	ierr, ok := err.(*ingesterr.Error)
	if !ok {
		logger.Error().Err(err).Msg("pushserver.accept_internal_error")
		writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
		return
	}
	ierr.WriteJSON(w)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, Code: code})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
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
