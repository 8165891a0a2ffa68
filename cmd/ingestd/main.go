// Command ingestd runs the ingestion core as a long-lived daemon: a sweep
// loop over every enabled source honoring cadence and rate limits, a
// background reconciliation sweep, and the optional admin HTTP surface.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"
	"github.com/rs/zerolog/log"

	"github.com/fetchwell/ingestcore/internal/adminserver"
	"github.com/fetchwell/ingestcore/internal/config"
	"github.com/fetchwell/ingestcore/internal/reconcile"
	"github.com/fetchwell/ingestcore/internal/registry"
	"github.com/fetchwell/ingestcore/internal/scheduler"
	"github.com/fetchwell/ingestcore/pkg/ingestapp"
)

func main() {
	var (
		configPath    = flag.StringP("config", "c", "", "path to config YAML (default: built-in defaults)")
		sweepInterval = flag.Duration("sweep-interval", time.Minute, "delay between passes over the enabled source list")
	)
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `ingestd runs the ingestion core as a daemon: sweeps every enabled
source on an interval, reconciles the dedup index in the background, and
optionally serves /healthz and /metrics.

Usage:
  ingestd [--config <path>] [--sweep-interval <duration>]
`)
	}
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("ingestd: load config")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	app, err := ingestapp.New(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("ingestd: build app")
	}
	defer app.Close()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		runSweepLoop(ctx, app.Scheduler, app.Registry, *sweepInterval)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.Reconciler.RunPeriodically(ctx, cfg.Reconcile.Interval.Duration, func(err error) {
			log.Error().Err(err).Msg("ingestd: reconcile pass failed")
		})
	}()

	if len(cfg.Reconcile.KnownConsumers) > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runRotateLoop(ctx, app.Reconciler, cfg.Reconcile.KnownConsumers)
		}()
	}

	var adminSrv *adminserver.Server
	if cfg.AdminServer.Enabled {
		adminSrv = adminserver.New(cfg.AdminServer, app.Metastore, nil, log.Logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := adminSrv.ListenAndServe(); err != nil {
				log.Error().Err(err).Msg("ingestd: admin server stopped")
			}
		}()
	}

	if app.PushServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := app.PushServer.ListenAndServe(); err != nil {
				log.Error().Err(err).Msg("ingestd: push server stopped")
			}
		}()
	}

	<-ctx.Done()
	log.Info().Msg("ingestd: shutting down")

	if adminSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		adminSrv.Shutdown(shutdownCtx)
		shutdownCancel()
	}
	if app.PushServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		app.PushServer.Shutdown(shutdownCtx)
		shutdownCancel()
	}

	wg.Wait()
}

// runSweepLoop calls fetch_once for every enabled source once per interval,
// relying on the Scheduler's own cadence/rate-limit gating to make most calls
// cheap no-ops between a source's actual due times.
func runSweepLoop(ctx context.Context, sched *scheduler.Scheduler, reg registry.Lookup, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	sweep := func() {
		for _, spec := range reg.ListEnabled() {
			outcome, err := sched.FetchOnce(ctx, spec.SourceID, scheduler.Options{})
			if err != nil {
				log.Warn().Err(err).Str("source_id", spec.SourceID).Msg("ingestd: fetch_once failed")
				continue
			}
			log.Info().Str("source_id", spec.SourceID).Str("status", outcome.Status).Msg("ingestd: fetch_once")
		}
	}

	sweep()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweep()
		}
	}
}

// runRotateLoop compresses fully-committed, non-current-day log files once an
// hour. It runs independently of the dedup reconciliation sweep since
// rotation cares about consumer read offsets, not dedup index drift.
func runRotateLoop(ctx context.Context, r *reconcile.Reconciler, knownConsumers []string) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	rotate := func() {
		today := time.Now().UTC().Format("2006-01-02")
		compressed, err := r.RotateCompress(ctx, today, knownConsumers)
		if err != nil {
			log.Error().Err(err).Msg("ingestd: rotate-compress pass failed")
			return
		}
		if compressed > 0 {
			log.Info().Int("files_compressed", compressed).Msg("ingestd: rotate-compress")
		}
	}

	rotate()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rotate()
		}
	}
}
