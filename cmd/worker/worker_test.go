package main

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/guido-cesarano/stepq/pkg/config"
	"github.com/guido-cesarano/stepq/pkg/store"
)

func testConfig(t *testing.T, mode string) config.Config {
	t.Helper()
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(s.Close)

	cfg := config.Default()
	cfg.Mode = mode
	cfg.RedisAddr = s.Addr()
	cfg.Poll.Interval = 5 * time.Millisecond
	cfg.Poll.ShutdownTimeout = time.Second
	cfg.Subscriber.MaxWait = 10 * time.Millisecond
	cfg.Subscriber.AutoCreate = true
	cfg.Subscriber.ShutdownTimeout = time.Second
	cfg.Loopback.Delay = time.Millisecond
	return cfg
}

func waitForFinalStates(t *testing.T, w *worker, ids []string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for _, id := range ids {
		for {
			p, err := w.processes.FindByID(context.Background(), id)
			if err != nil {
				t.Fatalf("FindByID failed: %v", err)
			}
			if p != nil && p.IsFinal() {
				break
			}
			if time.Now().After(deadline) {
				t.Fatalf("Process %s did not finish, last seen %+v", id, p)
			}
			time.Sleep(10 * time.Millisecond)
		}
	}
}

func TestWorkerRunsDemoProcessesToCompletion(t *testing.T) {
	for _, mode := range []string{config.ModePoll, config.ModeLoopback, config.ModeBroker} {
		t.Run(mode, func(t *testing.T) {
			cfg := testConfig(t, mode)
			backend, err := store.Open(context.Background(), cfg)
			if err != nil {
				t.Fatalf("Open failed: %v", err)
			}
			defer backend.Close()

			w := newWorker(cfg, backend, demoOptions{})
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			if err := w.Start(ctx); err != nil {
				t.Fatalf("Start failed: %v", err)
			}
			defer w.Stop()

			ids, err := w.Seed(ctx, 2)
			if err != nil {
				t.Fatalf("Seed failed: %v", err)
			}
			if len(ids) != 6 {
				t.Fatalf("Expected 6 processes, got %d", len(ids))
			}
			waitForFinalStates(t, w, ids)
		})
	}
}

func TestWorkerRetriesTransientDemoFailures(t *testing.T) {
	cfg := testConfig(t, config.ModePoll)
	cfg.Poll.MaxRetries = 50
	backend, _ := store.Open(context.Background(), cfg)
	defer backend.Close()

	w := newWorker(cfg, backend, demoOptions{failRate: 0.3})
	w.Start(context.Background())
	defer w.Stop()

	ids, _ := w.Seed(context.Background(), 1)
	waitForFinalStates(t, w, ids)
}
