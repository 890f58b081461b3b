package worker

import (
	"context"
	"testing"
	"time"

	"github.com/shaiso/Durable/internal/client"
	"github.com/shaiso/Durable/internal/domain"
	"github.com/shaiso/Durable/internal/mq"
	"github.com/shaiso/Durable/internal/orchestrator"
	"github.com/shaiso/Durable/internal/repo"
)

// runQueueWorker запускает Worker поверх MemoryQueue и возвращает функцию остановки.
func runQueueWorker(t *testing.T, store repo.Store, queue *mq.MemoryQueue, cfg Config) func() {
	t.Helper()

	cfg.Store = store
	cfg.Registry = defaultRegistry(t)
	cfg.Queue = queue
	cfg.Notifier = queue
	cfg.Logger = testLogger()

	w := New(cfg)
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	return func() {
		stopped := make(chan struct{})
		go func() {
			w.Stop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-time.After(5 * time.Second):
			t.Fatal("worker did not stop")
		}
	}
}

// waitCompleted ждёт, пока все instances не станут COMPLETED.
func waitCompleted(t *testing.T, store repo.Store, ids []string, timeout time.Duration) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for {
		pending := 0
		var last *domain.Instance
		for _, id := range ids {
			inst := getInstance(t, store, id)
			if inst.Status != domain.InstanceStatusCompleted {
				if inst.IsFinished() {
					t.Fatalf("instance %s status = %s (error: %s)", id, inst.Status, inst.Error)
				}
				pending++
				last = inst
			}
		}
		if pending == 0 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("%d instances not completed, e.g. %s status=%s", pending, last.ID, last.Status)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func startThroughClient(t *testing.T, store repo.Store, queue *mq.MemoryQueue, n int) []string {
	t.Helper()

	c := client.New(client.Config{
		Store:    store,
		Notifier: queue,
		Logger:   testLogger(),
	})

	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		h, err := c.StartNew(context.Background(), orchestrator.NameMessaging, nil, client.StartOptions{})
		if err != nil {
			t.Fatalf("StartNew: %v", err)
		}
		ids = append(ids, h.InstanceID)
	}
	return ids
}

func TestWorker_StartDrivenByMemoryQueue(t *testing.T) {
	store := repo.NewMemoryStore()
	queue := mq.NewMemoryQueue(mq.MemoryQueueConfig{Logger: testLogger()})
	defer queue.Close()

	// Polling отключён на время теста: работу двигают только уведомления.
	stop := runQueueWorker(t, store, queue, Config{
		Concurrency:  2,
		PollInterval: time.Hour,
	})

	ids := startThroughClient(t, store, queue, 5)
	waitCompleted(t, store, ids, 5*time.Second)
	stop()

	if got := store.Len(); got != 25 {
		t.Errorf("store.Len() = %d, want 25", got)
	}
	for _, id := range ids {
		children := 0
		history, err := store.LoadHistory(context.Background(), id)
		if err != nil {
			t.Fatalf("LoadHistory: %v", err)
		}
		for _, ev := range history {
			if ev.Type == domain.EventSubOrchestrationCompleted {
				children++
			}
		}
		if children != 4 {
			t.Errorf("instance %s: completed children = %d, want 4", id, children)
		}
	}
}

func TestWorker_FullQueueFallsBackToPolling(t *testing.T) {
	store := repo.NewMemoryStore()
	queue := mq.NewMemoryQueue(mq.MemoryQueueConfig{Size: 2, Logger: testLogger()})

	ids := startThroughClient(t, store, queue, 2)
	if got := queue.Len(); got != 2 {
		t.Fatalf("queue.Len() = %d, want 2", got)
	}

	stop := runQueueWorker(t, store, queue, Config{
		Concurrency:  1,
		PollInterval: 20 * time.Millisecond,
	})

	waitCompleted(t, store, ids, 5*time.Second)
	stop()

	closed := make(chan struct{})
	go func() {
		queue.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("queue.Close blocked")
	}
}
