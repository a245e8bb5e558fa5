// Package main implements the stepq admin HTTP server.
// The server creates and inspects tasks in the shared task store and reports
// broker stream depths and dead letters.
//
// API Endpoints:
//
//	POST   /tasks     - creates a task for a registered payload type
//	GET    /tasks     - lists stored tasks, oldest first (?limit=50)
//	GET    /task      - returns one task (?id=)
//	DELETE /task      - deletes one task (?id=)
//	GET    /types     - lists the registered payload types
//	POST   /schedule  - creates a task on a cron schedule
//	GET    /stats     - task backlog and stream depths
//	GET    /dead      - dead-lettered messages of a stream (?stream=)
//
// Request Format (POST /tasks):
//
//	{
//	  "type": "task:PrepareTransfer",
//	  "processId": "tp-1",
//	  "processState": "INITIAL",
//	  "processType": "CONSUMER"
//	}
//
// Usage:
//
//	go run ./cmd/server -store redis
//
// The server listens on :8081. Set API_KEY to require the X-API-Key header.
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

	"github.com/guido-cesarano/stepq/pkg/broker"
	"github.com/guido-cesarano/stepq/pkg/config"
	"github.com/guido-cesarano/stepq/pkg/logger"
	"github.com/guido-cesarano/stepq/pkg/service"
	"github.com/guido-cesarano/stepq/pkg/store"
	"github.com/guido-cesarano/stepq/pkg/taskbus"
)

// authMiddleware wraps an http.HandlerFunc and enforces API Key authentication.
func authMiddleware(next http.HandlerFunc, requiredKey string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// If no key is configured, allow all (dev mode)
		if requiredKey == "" {
			next(w, r)
			return
		}

		if r.Header.Get("X-API-Key") != requiredKey {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next(w, r)
	}
}

// enableCORS wraps an http.HandlerFunc and adds CORS headers.
func enableCORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*") // Allow all origins for dev
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, DELETE")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, Authorization, X-API-Key")

		// Handle preflight requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}

// setupRouter configures the HTTP handlers and returns the mux.
// CORS wraps auth so preflight requests never need the key.
func setupRouter(a *api, apiKey string) *http.ServeMux {
	mux := http.NewServeMux()
	handle := func(path string, h http.HandlerFunc) {
		mux.HandleFunc(path, enableCORS(authMiddleware(h, apiKey)))
	}

	handle("/tasks", a.handleTasks)
	handle("/task", a.handleTask)
	handle("/types", a.handleTypes)
	handle("/schedule", a.handleSchedule)
	handle("/stats", a.handleStats)
	handle("/dead", a.handleDead)
	return mux
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Log.Fatal().Err(err).Msg("Invalid configuration")
	}
	addr := flag.String("addr", ":8081", "listen address")
	flag.StringVar(&cfg.Store, "store", cfg.Store, "task store: memory, redis or postgres")
	flag.StringVar(&cfg.RedisAddr, "redis", cfg.RedisAddr, "Redis address for the broker and the redis store")
	flag.Parse()
	if err := cfg.Validate(); err != nil {
		logger.Log.Fatal().Err(err).Msg("Invalid configuration")
	}
	logger.SetLevel(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	backend, err := store.Open(ctx, cfg)
	if err != nil {
		logger.Log.Fatal().Err(err).Str("store", cfg.Store).Msg("Failed to open task store")
	}
	defer backend.Close()
	if cfg.Store == config.StoreMemory {
		logger.Log.Warn().Msg("Memory store selected, tasks are not shared with workers")
	}

	svc := service.New(backend.Tasks, backend.Tx)
	if cfg.Mode == config.ModeBroker {
		// Workers in broker mode only see tasks announced on the broker.
		router := taskbus.NewRouter(
			taskbus.NewPublisher(broker.NewClient(cfg.RedisAddr), taskbus.PublisherConfig{
				Stream: cfg.Publisher.Stream, SubjectPrefix: taskbus.NegotiationPrefix, Family: taskbus.FamilyNegotiation,
			}),
			taskbus.NewPublisher(broker.NewClient(cfg.RedisAddr), taskbus.PublisherConfig{
				Stream: cfg.Publisher.Stream, SubjectPrefix: cfg.Publisher.SubjectPrefix, Family: taskbus.FamilyTransfer,
			}),
		)
		defer router.Close()
		svc.AddListener(router)
	}

	monitor := broker.NewClient(cfg.RedisAddr)
	defer monitor.Close()

	a := newAPI(svc, backend.Tasks, monitor, []string{cfg.Publisher.Stream, cfg.Subscriber.Stream})
	a.cron.Start()
	defer a.cron.Stop()

	if cfg.APIKey == "" {
		logger.Log.Warn().Msg("API_KEY not set. Authentication disabled.")
	} else {
		logger.Log.Info().Msg("API Authentication enabled.")
	}

	srv := &http.Server{Addr: *addr, Handler: setupRouter(a, cfg.APIKey)}
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Log.Info().Str("addr", *addr).Msg("Server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Log.Fatal().Err(err).Msg("Server failed")
	}
}
