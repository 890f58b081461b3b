// Durable Scheduler — запускает orchestration по cron-расписанию.
//
// Triggers задаются в YAML (scheduler.triggers) или через SCHEDULE_CRON.
// Несколько реплик безопасны: тики выполняет только лидер
// (pg_try_advisory_lock), а ID instance детерминирован по trigger и тику.
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/Durable/internal/client"
	"github.com/shaiso/Durable/internal/config"
	"github.com/shaiso/Durable/internal/mq"
	"github.com/shaiso/Durable/internal/orchestrator"
	"github.com/shaiso/Durable/internal/repo"
	"github.com/shaiso/Durable/internal/scheduler"
	"github.com/shaiso/Durable/internal/telemetry"
)

const schedLockKey int64 = 424242

func main() {
	logger := telemetry.SetupLogger()
	logger.Info("starting durable-scheduler")

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if cfg.Store != config.StorePostgres {
		logger.Error("durable-scheduler requires STORE=postgres")
		os.Exit(1)
	}

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	registry, err := orchestrator.NewRegistry(cfg.Orchestrator())
	if err != nil {
		logger.Error("invalid orchestration config", "error", err)
		os.Exit(1)
	}

	// DB pool
	pool, err := repo.NewPool(ctx, cfg.DatabaseURL, 0)
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

	var notifier mq.Notifier
	mqConn, err := mq.NewConnection(mq.ConnectionConfig{URL: cfg.RabbitMQURL, Name: "durable-scheduler", Logger: logger})
	if err != nil {
		logger.Warn("RabbitMQ not available, instances will be picked up by polling", "error", err)
	} else {
		defer mqConn.Close()
		if err := mq.SetupTopology(ctx, mqConn); err != nil {
			logger.Warn("failed to setup topology", "error", err)
		}
		notifier = mq.NewPublisher(mqConn, logger)
	}

	triggers := make([]scheduler.Trigger, 0, len(cfg.Scheduler.Triggers))
	for _, t := range cfg.Scheduler.Triggers {
		var input json.RawMessage
		if t.Input != "" {
			input = json.RawMessage(t.Input)
		}
		triggers = append(triggers, scheduler.Trigger{
			Name:          t.Name,
			Cron:          t.Cron,
			Orchestration: t.Orchestration,
			Input:         input,
		})
	}

	lock := repo.NewLeaderLock(pool, schedLockKey)
	defer lock.Unlock(context.Background())

	sched, err := scheduler.New(scheduler.Config{
		Starter: client.New(client.Config{
			Store:    repo.NewPostgresStore(pool),
			Notifier: notifier,
			Registry: registry,
			Logger:   logger,
		}),
		Locker:   lock,
		Triggers: triggers,
		Logger:   telemetry.WithComponent(logger, "scheduler"),
	})
	if err != nil {
		logger.Error("invalid scheduler config", "error", err)
		os.Exit(1)
	}

	if len(triggers) == 0 {
		logger.Warn("no triggers configured")
	}

	// HTTP mux: /healthz + /metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	port := ":" + cfg.SchedulerPort
	go func() {
		logger.Info("listening", "addr", port)
		if err := http.ListenAndServe(port, mux); err != nil {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	sched.Run(ctx)
	logger.Info("durable-scheduler stopped")
}
