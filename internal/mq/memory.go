package mq

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Notifier — получатель уведомлений о работе для instance.
// Реализуется Publisher и MemoryQueue.
type Notifier interface {
	NotifyInstance(ctx context.Context, instanceID, reason string) error
}

// Значения MemoryQueue по умолчанию.
const (
	defaultMemoryQueueSize   = 1024
	defaultMaxRedeliveries   = 5
	defaultRedeliveryBackoff = 50 * time.Millisecond
)

// MemoryQueue — очередь уведомлений в памяти процесса.
//
// Повторяет семантику instances.work: ошибка Handler возвращает сообщение
// в очередь (не более MaxRedeliveries раз), ErrPermanent отбрасывает его.
type MemoryQueue struct {
	ch     chan *Message
	logger *slog.Logger

	maxRedeliveries int
	backoff         time.Duration

	mu       sync.RWMutex
	closed   bool
	attempts map[string]int
}

// MemoryQueueConfig — конфигурация MemoryQueue.
type MemoryQueueConfig struct {
	Size            int           // ёмкость буфера (default: 1024)
	MaxRedeliveries int           // повторов после ошибки (default: 5)
	Backoff         time.Duration // задержка перед повтором (default: 50ms)
	Logger          *slog.Logger
}

// NewMemoryQueue создаёт MemoryQueue.
func NewMemoryQueue(cfg MemoryQueueConfig) *MemoryQueue {
	size := cfg.Size
	if size <= 0 {
		size = defaultMemoryQueueSize
	}
	maxRedeliveries := cfg.MaxRedeliveries
	if maxRedeliveries <= 0 {
		maxRedeliveries = defaultMaxRedeliveries
	}
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = defaultRedeliveryBackoff
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &MemoryQueue{
		ch:              make(chan *Message, size),
		logger:          logger,
		maxRedeliveries: maxRedeliveries,
		backoff:         backoff,
		attempts:        make(map[string]int),
	}
}

// Publish кладёт сообщение в очередь без ожидания.
// Если буфер заполнен, возвращает ErrQueueFull: такое уведомление теряется,
// instance подхватит polling worker'а.
func (q *MemoryQueue) Publish(ctx context.Context, msg *Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.ch <- msg:
		return nil
	default:
		return ErrQueueFull
	}
}

// NotifyInstance реализует Notifier.
func (q *MemoryQueue) NotifyInstance(ctx context.Context, instanceID, reason string) error {
	return q.Publish(ctx, NewInstanceWorkMessage(instanceID, reason))
}

// Consume обрабатывает сообщения в workers горутинах.
// Возвращает управление после отмены ctx или Close.
func (q *MemoryQueue) Consume(ctx context.Context, workers int, handler Handler) error {
	if workers <= 0 {
		workers = 1
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case msg, ok := <-q.ch:
					if !ok {
						return
					}
					q.handle(ctx, msg, handler)
				}
			}
		}()
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return err
	}
	return ErrQueueClosed
}

func (q *MemoryQueue) handle(ctx context.Context, msg *Message, handler Handler) {
	q.mu.Lock()
	q.attempts[msg.ID]++
	attempt := q.attempts[msg.ID]
	q.mu.Unlock()

	err := handler(ctx, &Delivery{Message: *msg, Attempt: attempt})
	if err == nil || errors.Is(err, ErrPermanent) || attempt > q.maxRedeliveries {
		if err != nil {
			q.logger.Error("message dropped",
				"message_id", msg.ID,
				"type", msg.Type,
				"attempt", attempt,
				"error", err,
			)
		}
		q.mu.Lock()
		delete(q.attempts, msg.ID)
		q.mu.Unlock()
		return
	}

	q.logger.Warn("handler failed, requeueing",
		"message_id", msg.ID,
		"attempt", attempt,
		"error", err,
	)
	time.AfterFunc(q.backoff, func() {
		if err := q.Publish(context.Background(), msg); err != nil {
			q.logger.Debug("requeue skipped", "message_id", msg.ID, "error", err)
		}
	})
}

// Len возвращает количество сообщений в буфере.
func (q *MemoryQueue) Len() int {
	return len(q.ch)
}

// Close закрывает очередь. Consume завершается после разбора буфера.
func (q *MemoryQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.ch)
}
