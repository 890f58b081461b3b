package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/shaiso/Durable/internal/engine"
	"github.com/shaiso/Durable/internal/mq"
	"github.com/shaiso/Durable/internal/repo"
)

// Default configuration values.
const (
	defaultConcurrency        = 4
	defaultPollInterval       = 10 * time.Second
	defaultBatchSize          = 100
	defaultMaxConflictRetries = 5
)

// Worker — host runtime для orchestration instances.
//
// Worker:
//   - Получает уведомления instance.work из очереди (RabbitMQ или MemoryQueue)
//   - Периодически ищет instances с необработанной историей (polling fallback)
//   - Выполняет execution: replay истории, body orchestration, commit
//   - Создаёт дочерние instances и дописывает их результаты родителю
//
// Несколько Workers могут работать с одним хранилищем: commit оптимистичен
// и при конфликте execution повторяется с новой историей.
type Worker struct {
	store      repo.Store
	registry   *engine.Registry
	dispatcher *engine.Dispatcher
	notifier   mq.Notifier

	// Источники уведомлений
	conn     *mq.Connection
	queue    *mq.MemoryQueue
	consumer *mq.Consumer

	// Active instances — instanceID → есть ли отложенный повтор.
	active map[string]bool
	mu     sync.Mutex

	// Configuration
	concurrency        int
	pollInterval       time.Duration
	batchSize          int
	maxConflictRetries int

	// Lifecycle
	logger     *slog.Logger
	cancelFunc context.CancelFunc
	group      *errgroup.Group
	stopped    bool
	stoppedMu  sync.RWMutex
}

// Config — конфигурация Worker.
type Config struct {
	// Store — хранилище instances (обязательно).
	Store repo.Store

	// Registry — реестр orchestration (обязательно).
	Registry *engine.Registry

	// Notifier — куда публиковать уведомления для новых и родительских instances.
	// Если nil, их подхватит polling.
	Notifier mq.Notifier

	// Conn — соединение RabbitMQ для потребления instances.work.
	Conn *mq.Connection

	// Queue — очередь в памяти (вместо Conn).
	Queue *mq.MemoryQueue

	Concurrency        int           // горутин обработки (default: 4)
	PollInterval       time.Duration // интервал polling (default: 10s)
	BatchSize          int           // instances за один poll (default: 100)
	MaxConflictRetries int           // повторов execution при ErrConflict (default: 5)

	Logger *slog.Logger
}

// New создаёт новый Worker.
func New(cfg Config) *Worker {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}

	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	maxRetries := cfg.MaxConflictRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxConflictRetries
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Worker{
		store:              cfg.Store,
		registry:           cfg.Registry,
		dispatcher:         engine.NewDispatcher(cfg.Registry),
		notifier:           cfg.Notifier,
		conn:               cfg.Conn,
		queue:              cfg.Queue,
		active:             make(map[string]bool),
		concurrency:        concurrency,
		pollInterval:       pollInterval,
		batchSize:          batchSize,
		maxConflictRetries: maxRetries,
		logger:             logger,
	}
}

// Start запускает Worker.
//
// Запускает:
//   - Consumer для instances.work (если задан Conn или Queue)
//   - Polling горутину для fallback
func (w *Worker) Start(ctx context.Context) error {
	if w.IsStopped() {
		return ErrWorkerStopped
	}

	ctx, cancel := context.WithCancel(ctx)
	w.cancelFunc = cancel

	w.logger.Info("starting worker",
		"concurrency", w.concurrency,
		"poll_interval", w.pollInterval,
		"batch_size", w.batchSize,
		"orchestrations", w.registry.Names(),
	)

	g := new(errgroup.Group)
	w.group = g

	if w.conn != nil {
		w.consumer = mq.NewConsumer(w.conn, w.logger, mq.ConsumerConfig{
			Queue:    string(mq.QueueInstancesWork),
			Handler:  w.handleInstanceWork,
			Prefetch: w.concurrency * 2,
			Workers:  w.concurrency,
		})

		g.Go(func() error {
			if err := w.consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				w.logger.Error("instance consumer error", "error", err)
				return err
			}
			return nil
		})
	}

	if w.queue != nil {
		g.Go(func() error {
			err := w.queue.Consume(ctx, w.concurrency, w.handleInstanceWork)
			if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, mq.ErrQueueClosed) {
				w.logger.Error("memory queue consumer error", "error", err)
				return err
			}
			return nil
		})
	}

	g.Go(func() error {
		w.pollLoop(ctx)
		return nil
	})

	w.logger.Info("worker started")
	return nil
}

// Stop останавливает Worker и ждёт завершения горутин.
func (w *Worker) Stop() {
	w.stoppedMu.Lock()
	w.stopped = true
	w.stoppedMu.Unlock()

	w.logger.Info("stopping worker...")

	if w.cancelFunc != nil {
		w.cancelFunc()
	}

	if w.consumer != nil {
		w.consumer.Stop()
	}

	if w.group != nil {
		if err := w.group.Wait(); err != nil {
			w.logger.Warn("worker goroutine exited with error", "error", err)
		}
	}

	w.logger.Info("worker stopped", "active_instances", w.ActiveCount())
}

// IsStopped проверяет, остановлен ли Worker.
func (w *Worker) IsStopped() bool {
	w.stoppedMu.RLock()
	defer w.stoppedMu.RUnlock()
	return w.stopped
}

// pollLoop — цикл polling для fallback.
func (w *Worker) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	// Первый poll сразу при старте (подхватываем instances, оставшиеся после рестарта)
	w.Poll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Poll(ctx)
		}
	}
}

// Poll выполняет один цикл polling и возвращает количество найденных instances.
func (w *Worker) Poll(ctx context.Context) int {
	ids, err := w.store.ListRunnable(ctx, w.batchSize)
	if err != nil {
		w.logger.Error("failed to list runnable instances", "error", err)
		return 0
	}

	if len(ids) == 0 {
		return 0
	}

	w.logger.Debug("poll found runnable instances", "count", len(ids))

	g := new(errgroup.Group)
	g.SetLimit(w.concurrency)
	for _, id := range ids {
		g.Go(func() error {
			if err := w.ProcessInstance(ctx, id); err != nil && !errors.Is(err, ErrInstanceBusy) {
				w.logger.Error("failed to process instance from poll",
					"instance_id", id,
					"error", err,
				)
			}
			return nil
		})
	}
	_ = g.Wait()

	return len(ids)
}

// acquire помечает instance активным.
// Если instance уже активен, отмечает отложенный повтор и возвращает false.
func (w *Worker) acquire(id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, exists := w.active[id]; exists {
		w.active[id] = true
		return false
	}
	w.active[id] = false
	return true
}

// releaseOrRepeat снимает instance с активных, если повтор не нужен.
// Возвращает true, если пока шёл execution пришло новое уведомление.
func (w *Worker) releaseOrRepeat(id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.active[id] {
		w.active[id] = false
		return true
	}
	delete(w.active, id)
	return false
}

// release снимает instance с активных без повтора.
func (w *Worker) release(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.active, id)
}

// IsActive проверяет, выполняется ли instance.
func (w *Worker) IsActive(id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, exists := w.active[id]
	return exists
}

// ActiveCount возвращает количество выполняющихся instances.
func (w *Worker) ActiveCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.active)
}
