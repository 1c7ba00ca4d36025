// Copyright (c) 2025-2026, the fileanalyzer contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/civitools/fileanalyzer/internal/logger"
	"github.com/civitools/fileanalyzer/internal/metrics"
)

// serveCommand runs periodic scans and exposes health and metrics
// endpoints until interrupted.
func serveCommand(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run periodic scans with a metrics endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			registry := prometheus.NewRegistry()
			registry.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)
			collector := metrics.NewCollector(registry)

			a, err := newApp(*configPath, collector)
			if err != nil {
				return err
			}
			defer a.close()

			a.cfg.WatchConfig(logger.SetLogLevel)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv := &http.Server{
				Addr: net.JoinHostPort(a.cfg.Config.MetricsHost,
					strconv.Itoa(a.cfg.Config.MetricsPort)),
				Handler:           serveRouter(registry),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				log.Info().Str("addr", srv.Addr).Msg("metrics endpoint listening")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
			}()

			go runScanLoop(ctx, a)

			select {
			case err := <-errCh:
				return fmt.Errorf("metrics server: %w", err)
			case <-ctx.Done():
			}

			log.Info().Msg("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
	return cmd
}

func serveRouter(registry *prometheus.Registry) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	return r
}

// runScanLoop scans all categories immediately and then on the configured
// interval. Overlap with a still-running scan is prevented by the scan
// guard, not by the loop.
func runScanLoop(ctx context.Context, a *app) {
	interval := time.Duration(a.cfg.Config.ScanIntervalHours) * time.Hour
	if interval <= 0 {
		interval = 24 * time.Hour
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		report, err := a.scans.RunScan(ctx, "all")
		if err != nil {
			log.Error().Err(err).Msg("scheduled scan aborted")
		} else if report.IsError {
			for _, m := range report.Messages {
				log.Warn().Msg(m)
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
