// Durable API — HTTP API для запуска, опроса и остановки orchestration.
//
// При STORE=memory процесс самодостаточен: хранилище, очередь и worker
// работают в памяти. При STORE=postgres (по умолчанию) instances выполняет
// durable-orchestrator, а API только пишет в БД и публикует уведомления.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shaiso/Durable/internal/api"
	"github.com/shaiso/Durable/internal/client"
	"github.com/shaiso/Durable/internal/config"
	"github.com/shaiso/Durable/internal/mq"
	"github.com/shaiso/Durable/internal/orchestrator"
	"github.com/shaiso/Durable/internal/repo"
	"github.com/shaiso/Durable/internal/telemetry"
	"github.com/shaiso/Durable/internal/worker"
)

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger()
	logger.Info("starting durable-api")

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if cfg.Tracing.Enabled {
		shutdown, err := telemetry.InitTracing("durable-api", cfg.Tracing.Output)
		if err != nil {
			logger.Error("failed to init tracing", "error", err)
			os.Exit(1)
		}
		defer shutdown(context.Background())
	}

	registry, err := orchestrator.NewRegistry(cfg.Orchestrator())
	if err != nil {
		logger.Error("invalid orchestration config", "error", err)
		os.Exit(1)
	}

	var (
		store    repo.Store
		notifier mq.Notifier
		embedded *worker.Worker
	)

	switch cfg.Store {
	case config.StoreMemory:
		memStore := repo.NewMemoryStore()
		queue := mq.NewMemoryQueue(mq.MemoryQueueConfig{Logger: logger})
		defer queue.Close()

		store = memStore
		notifier = queue

		// Встроенный worker — без него instances в памяти никто не выполнит
		embedded = worker.New(worker.Config{
			Store:        memStore,
			Registry:     registry,
			Notifier:     queue,
			Queue:        queue,
			Concurrency:  cfg.Worker.Concurrency,
			PollInterval: cfg.Worker.PollInterval,
			BatchSize:    cfg.Worker.BatchSize,
			Logger:       telemetry.WithComponent(logger, "worker"),
		})
		if err := embedded.Start(ctx); err != nil {
			logger.Error("failed to start worker", "error", err)
			os.Exit(1)
		}
		logger.Info("running with in-memory store")

	default:
		pool, err := repo.NewPool(ctx, cfg.DatabaseURL, 0)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		logger.Info("connected to database")

		if err := repo.Migrate(ctx, pool); err != nil {
			logger.Error("failed to migrate database", "error", err)
			os.Exit(1)
		}
		store = repo.NewPostgresStore(pool)

		mqConn, err := mq.NewConnection(mq.ConnectionConfig{URL: cfg.RabbitMQURL, Name: "durable-api", Logger: logger})
		if err != nil {
			logger.Warn("RabbitMQ not available, instances will be picked up by polling", "error", err)
		} else {
			defer mqConn.Close()
			if err := mq.SetupTopology(ctx, mqConn); err != nil {
				logger.Warn("failed to setup topology", "error", err)
			}
			notifier = mq.NewPublisher(mqConn, logger)
			logger.Info("RabbitMQ connected")
		}
	}

	durable := client.New(client.Config{
		Store:    store,
		Notifier: notifier,
		Registry: registry,
		Logger:   logger,
	})

	handler := api.NewHandler(api.Config{
		Client:  durable,
		BaseURL: cfg.BaseURL,
		Logger:  logger,
	})

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	addr := ":" + cfg.APIPort

	// Создаём HTTP сервер с возможностью graceful shutdown
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	// Graceful shutdown с таймаутом 10 секунд
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	if embedded != nil {
		embedded.Stop()
	}

	logger.Info("stopped")
}
