/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the budget engine HTTP server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, environment, flags)
  2. Initialize logger and SQLite store
  3. Choose collaborators: Redis or in-process lock, Kafka or log publisher
  4. Build the engine, the refresh queue and the horizon scheduler
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS (override the environment):
  -addr    HTTP listen address (BUDGET_ADDR, default :8080)
  -db      SQLite database path (BUDGET_DB_PATH, default budget.db)
           Use ":memory:" for an in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the scheduler and drain running refreshes
  4. Close publisher and database

SEE ALSO:
  - config/config.go: Environment keys
  - api/server.go: Router configuration
*/
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/warp/budget-engine/api"
	"github.com/warp/budget-engine/budget"
	"github.com/warp/budget-engine/config"
	"github.com/warp/budget-engine/events"
	"github.com/warp/budget-engine/lock"
	"github.com/warp/budget-engine/logger"
	"github.com/warp/budget-engine/queue"
	"github.com/warp/budget-engine/store/sqlite"
)

type publisher interface {
	budget.Publisher
	Close() error
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Get().Fatalw("failed to load configuration", "error", err)
	}
	addr := flag.String("addr", cfg.Addr, "HTTP listen address")
	dbPath := flag.String("db", cfg.DBPath, "SQLite database path")
	flag.Parse()

	logger.Init(cfg.Env)
	log := logger.Get()
	defer logger.Sync()

	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalw("failed to initialize database", "path", *dbPath, "error", err)
	}
	defer store.Close()
	log.Infow("database ready", "path", *dbPath, "schema_version", store.SchemaVersion())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var locker budget.Locker = lock.NewLocal()
	if cfg.RedisAddr != "" {
		rdb, err := lock.Connect(ctx, cfg.RedisAddr)
		if err != nil {
			log.Fatalw("failed to connect to redis", "addr", cfg.RedisAddr, "error", err)
		}
		defer rdb.Close()
		locker = lock.NewRedis(rdb, cfg.LockTTL)
		log.Infow("using redis refresh lock", "addr", cfg.RedisAddr, "ttl", cfg.LockTTL)
	}

	var pub publisher = events.NewLog(log)
	if len(cfg.KafkaBrokers) > 0 {
		pub = events.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic, log)
		log.Infow("publishing events to kafka", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}
	defer pub.Close()

	engine := budget.NewEngine(store,
		budget.WithSettings(cfg.Settings()),
		budget.WithLogger(log),
		budget.WithLocker(locker),
		budget.WithPublisher(pub),
	)

	refreshQueue := queue.New(engine.RunQueuedRefresh, cfg.QueueWorkers, log)
	refreshQueue.Start(ctx)
	engine.SetDispatcher(refreshQueue)

	handler := api.NewHandler(engine, log)
	handler.Queue = refreshQueue

	scheduler := api.NewHorizonScheduler(engine, log)
	scheduler.CheckInterval = cfg.RealignInterval
	scheduler.Start()

	server := &http.Server{
		Addr:         *addr,
		Handler:      api.NewRouter(handler),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Infow("server starting", "addr", *addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorw("server forced to shutdown", "error", err)
	}
	scheduler.Stop()
	refreshQueue.Stop()

	log.Info("server stopped")
}
