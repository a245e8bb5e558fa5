// Package main implements the stepq worker process.
// The worker executes process steps from the task store, either by polling it
// or by consuming the tasks announced on the broker, and exposes metrics.
//
// Modes:
//   - poll: a single polling executor drains due tasks from the store
//   - broker: created tasks are published per family and consumed by durable
//     subscribers; process changes travel over the broker too
//   - loopback: polling executor plus an in-process change queue feeding the
//     state machine
//
// Usage:
//
//	go run ./cmd/worker -mode poll -store redis -seed 10
//
// Settings are read from the environment (see pkg/config); flags override them.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/guido-cesarano/stepq/pkg/config"
	"github.com/guido-cesarano/stepq/pkg/logger"
	"github.com/guido-cesarano/stepq/pkg/store"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Log.Fatal().Err(err).Msg("Invalid configuration")
	}

	flag.StringVar(&cfg.Mode, "mode", cfg.Mode, "execution mode: poll, broker or loopback")
	flag.StringVar(&cfg.Store, "store", cfg.Store, "task store: memory, redis or postgres")
	flag.StringVar(&cfg.RedisAddr, "redis", cfg.RedisAddr, "Redis address for the broker and the redis store")
	flag.StringVar(&cfg.MetricsAddr, "metrics", cfg.MetricsAddr, "address of the metrics endpoint")
	seed := flag.Int("seed", 0, "demo processes of each kind to start")
	failRate := flag.Float64("fail-rate", 0, "probability that a demo step fails transiently")
	flag.Parse()

	if err := cfg.Validate(); err != nil {
		logger.Log.Fatal().Err(err).Msg("Invalid configuration")
	}
	if !logger.SetLevel(cfg.LogLevel) {
		logger.Log.Warn().Str("level", cfg.LogLevel).Msg("Unknown log level, keeping default")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	backend, err := store.Open(ctx, cfg)
	if err != nil {
		logger.Log.Fatal().Err(err).Str("store", cfg.Store).Msg("Failed to open task store")
	}
	defer backend.Close()

	w := newWorker(cfg, backend, demoOptions{latency: 100 * time.Millisecond, failRate: *failRate})

	// Start Prometheus metrics server
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
	go func() {
		logger.Log.Info().Str("addr", cfg.MetricsAddr).Msg("Metrics server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log.Error().Err(err).Msg("Metrics server failed")
		}
	}()

	if err := w.Start(ctx); err != nil {
		logger.Log.Fatal().Err(err).Msg("Failed to start worker")
	}
	logger.Log.Info().Str("mode", cfg.Mode).Str("store", cfg.Store).Msg("Worker started. Waiting for tasks...")

	if *seed > 0 {
		if _, err := w.Seed(ctx, *seed); err != nil {
			logger.Log.Error().Err(err).Msg("Failed to seed demo processes")
		}
	}

	// Setup graceful shutdown handlers
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Log.Info().Msg("Shutting down worker...")
	w.Stop()

	shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	srv.Shutdown(shutdownCtx)
}
