// Durable Orchestrator — выполняет orchestration instances.
//
// Orchestrator:
//   - Получает уведомления instance.work из RabbitMQ
//   - Периодически ищет instances с необработанной историей (polling)
//   - Выполняет replay + body и фиксирует результат в Postgres
//
// Процессы масштабируются горизонтально: commit оптимистичен.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

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
	logger.Info("starting durable-orchestrator")

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if cfg.Store != config.StorePostgres {
		logger.Error("durable-orchestrator requires STORE=postgres; use durable-api with STORE=memory for a single process")
		os.Exit(1)
	}

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if cfg.Tracing.Enabled {
		shutdown, err := telemetry.InitTracing("durable-orchestrator", cfg.Tracing.Output)
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

	// DB pool
	pool, err := repo.NewPool(ctx, cfg.DatabaseURL, int32(cfg.Worker.Concurrency*2))
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("database connected")

	if err := repo.Migrate(ctx, pool); err != nil {
		logger.Error("failed to migrate database", "error", err)
		os.Exit(1)
	}

	// RabbitMQ
	var notifier mq.Notifier
	mqConn, err := mq.NewConnection(mq.ConnectionConfig{URL: cfg.RabbitMQURL, Name: "durable-orchestrator", Logger: logger})
	if err != nil {
		logger.Warn("RabbitMQ not available, running in polling-only mode", "error", err)
		mqConn = nil
	} else {
		defer mqConn.Close()
		logger.Info("RabbitMQ connected")

		// Создаём топологию
		if err := mq.SetupTopology(ctx, mqConn); err != nil {
			logger.Warn("failed to setup topology", "error", err)
		}
		notifier = mq.NewPublisher(mqConn, logger)
	}

	w := worker.New(worker.Config{
		Store:        repo.NewPostgresStore(pool),
		Registry:     registry,
		Notifier:     notifier,
		Conn:         mqConn,
		Concurrency:  cfg.Worker.Concurrency,
		PollInterval: cfg.Worker.PollInterval,
		BatchSize:    cfg.Worker.BatchSize,
		Logger:       logger,
	})

	if err := w.Start(ctx); err != nil {
		logger.Error("failed to start worker", "error", err)
		os.Exit(1)
	}

	// HTTP mux: /healthz + /metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, _ *http.Request) {
		rw.WriteHeader(http.StatusOK)
		rw.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	port := ":" + cfg.WorkerPort

	go func() {
		logger.Info("listening", "addr", port)
		if err := http.ListenAndServe(port, mux); err != nil {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	// Ожидаем сигнал завершения
	<-ctx.Done()

	w.Stop()
	logger.Info("durable-orchestrator stopped")
}
