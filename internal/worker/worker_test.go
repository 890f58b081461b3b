package worker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"

	"github.com/shaiso/Durable/internal/domain"
	"github.com/shaiso/Durable/internal/engine"
	"github.com/shaiso/Durable/internal/mq"
	"github.com/shaiso/Durable/internal/orchestrator"
	"github.com/shaiso/Durable/internal/repo"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recordingNotifier запоминает уведомления.
type recordingNotifier struct {
	calls []string
}

func (n *recordingNotifier) NotifyInstance(_ context.Context, id, reason string) error {
	n.calls = append(n.calls, reason+":"+id)
	return nil
}

func newTestWorker(t *testing.T, reg *engine.Registry) (*Worker, *repo.MemoryStore) {
	t.Helper()
	store := repo.NewMemoryStore()
	w := New(Config{
		Store:       store,
		Registry:    reg,
		Concurrency: 2,
		Logger:      testLogger(),
	})
	return w, store
}

func defaultRegistry(t *testing.T) *engine.Registry {
	t.Helper()
	reg, err := orchestrator.NewRegistry(orchestrator.Config{Count: orchestrator.DefaultCount})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return reg
}

func startInstance(t *testing.T, store repo.Store, name string, input json.RawMessage) string {
	t.Helper()
	id := uuid.NewString()
	inst := domain.NewInstance(id, name, input, "")
	started := domain.MustHistoryEvent(id, domain.EventExecutionStarted, domain.ExecutionStartedPayload{Name: name, Input: input})
	if err := store.CreateInstance(context.Background(), inst, started); err != nil {
		t.Fatalf("CreateInstance: %v", err)
	}
	return id
}

// drain выполняет polling, пока есть работа.
func drain(t *testing.T, w *Worker) {
	t.Helper()
	for i := 0; i < 100; i++ {
		if w.Poll(context.Background()) == 0 {
			return
		}
	}
	t.Fatal("instances did not settle after 100 polls")
}

func getInstance(t *testing.T, store repo.Store, id string) *domain.Instance {
	t.Helper()
	inst, err := store.GetInstance(context.Background(), id)
	if err != nil {
		t.Fatalf("GetInstance(%s): %v", id, err)
	}
	return inst
}

func TestWorker_CompletesMessaging(t *testing.T) {
	w, store := newTestWorker(t, defaultRegistry(t))

	var ids []string
	for i := 0; i < 5; i++ {
		ids = append(ids, startInstance(t, store, orchestrator.NameMessaging, nil))
	}

	drain(t, w)

	for _, id := range ids {
		inst := getInstance(t, store, id)
		if inst.Status != domain.InstanceStatusCompleted {
			t.Fatalf("instance %s status = %s, want COMPLETED (error: %s)", id, inst.Status, inst.Error)
		}

		history, err := store.LoadHistory(context.Background(), id)
		if err != nil {
			t.Fatalf("LoadHistory: %v", err)
		}

		var scheduled []domain.SubOrchestrationScheduledPayload
		for _, ev := range history {
			if ev.Type == domain.EventSubOrchestrationScheduled {
				p, _ := domain.DecodePayload[domain.SubOrchestrationScheduledPayload](ev)
				scheduled = append(scheduled, p)
			}
		}
		if len(scheduled) != 4 {
			t.Fatalf("scheduled = %d, want 4", len(scheduled))
		}
		wantNames := []string{"send_line_message", "send_facebook_message", "send_line_message", "send_facebook_message"}
		for i, p := range scheduled {
			if p.TaskID != i {
				t.Errorf("scheduled[%d].TaskID = %d", i, p.TaskID)
			}
			if p.Name != wantNames[i] {
				t.Errorf("scheduled[%d].Name = %s, want %s", i, p.Name, wantNames[i])
			}
			child := getInstance(t, store, domain.SubOrchestrationID(id, i))
			if child.Status != domain.InstanceStatusCompleted {
				t.Errorf("child %d status = %s", i, child.Status)
			}
			if child.ParentID != id {
				t.Errorf("child %d parent = %s", i, child.ParentID)
			}
		}

		if inst.Checkpoint != len(history) {
			t.Errorf("checkpoint = %d, history = %d", inst.Checkpoint, len(history))
		}
	}

	// 5 родителей + 20 дочерних
	if store.Len() != 25 {
		t.Errorf("store.Len() = %d, want 25", store.Len())
	}
}

func TestWorker_ZeroCount(t *testing.T) {
	w, store := newTestWorker(t, defaultRegistry(t))
	id := startInstance(t, store, orchestrator.NameMessaging, json.RawMessage(`{"count":0}`))

	drain(t, w)

	inst := getInstance(t, store, id)
	if inst.Status != domain.InstanceStatusCompleted {
		t.Fatalf("status = %s, want COMPLETED", inst.Status)
	}
	if store.Len() != 1 {
		t.Errorf("store.Len() = %d, want 1", store.Len())
	}
}

func TestWorker_UnknownOrchestration(t *testing.T) {
	w, store := newTestWorker(t, defaultRegistry(t))
	id := startInstance(t, store, "missing", nil)

	if err := w.ProcessInstance(context.Background(), id); err != nil {
		t.Fatalf("ProcessInstance: %v", err)
	}

	inst := getInstance(t, store, id)
	if inst.Status != domain.InstanceStatusFailed {
		t.Fatalf("status = %s, want FAILED", inst.Status)
	}
	if inst.Error == "" {
		t.Error("expected error message")
	}
}

func TestWorker_InstanceNotFound(t *testing.T) {
	w, _ := newTestWorker(t, defaultRegistry(t))

	err := w.ProcessInstance(context.Background(), "nope")
	if !errors.Is(err, ErrInstanceNotFound) {
		t.Fatalf("err = %v, want ErrInstanceNotFound", err)
	}
	if w.IsActive("nope") {
		t.Error("instance must be released after error")
	}
}

func TestWorker_Busy(t *testing.T) {
	w, store := newTestWorker(t, defaultRegistry(t))
	id := startInstance(t, store, orchestrator.NameMessaging, nil)

	if !w.acquire(id) {
		t.Fatal("first acquire must succeed")
	}
	if err := w.ProcessInstance(context.Background(), id); !errors.Is(err, ErrInstanceBusy) {
		t.Fatalf("err = %v, want ErrInstanceBusy", err)
	}
	if !w.releaseOrRepeat(id) {
		t.Error("busy notification must request a repeat")
	}
	if w.releaseOrRepeat(id) {
		t.Error("second release must not repeat")
	}
	if w.ActiveCount() != 0 {
		t.Errorf("ActiveCount = %d", w.ActiveCount())
	}
}

func TestWorker_Termination(t *testing.T) {
	notifier := &recordingNotifier{}
	store := repo.NewMemoryStore()
	w := New(Config{
		Store:    store,
		Registry: defaultRegistry(t),
		Notifier: notifier,
		Logger:   testLogger(),
	})
	ctx := context.Background()

	id := startInstance(t, store, orchestrator.NameMessaging, nil)

	// Первый execution планирует два вызова первого раунда.
	if err := w.ProcessInstance(ctx, id); err != nil {
		t.Fatalf("ProcessInstance: %v", err)
	}
	if got := getInstance(t, store, id).Status; got != domain.InstanceStatusRunning {
		t.Fatalf("status = %s, want RUNNING", got)
	}

	if err := store.RequestTermination(ctx, id, "stop"); err != nil {
		t.Fatalf("RequestTermination: %v", err)
	}
	if err := w.ProcessInstance(ctx, id); err != nil {
		t.Fatalf("ProcessInstance: %v", err)
	}

	inst := getInstance(t, store, id)
	if inst.Status != domain.InstanceStatusTerminated {
		t.Fatalf("status = %s, want TERMINATED", inst.Status)
	}
	if inst.Reason != "stop" {
		t.Errorf("reason = %q", inst.Reason)
	}

	drain(t, w)

	for i := 0; i < 2; i++ {
		child := getInstance(t, store, domain.SubOrchestrationID(id, i))
		if child.Status != domain.InstanceStatusTerminated {
			t.Errorf("child %d status = %s, want TERMINATED", i, child.Status)
		}
	}

	// Второй раунд не планировался.
	if _, err := store.GetInstance(ctx, domain.SubOrchestrationID(id, 2)); !errors.Is(err, repo.ErrNotFound) {
		t.Errorf("third child must not exist, err = %v", err)
	}

	var terminated int
	for _, c := range notifier.calls {
		if len(c) > len(mq.ReasonTerminated) && c[:len(mq.ReasonTerminated)] == mq.ReasonTerminated {
			terminated++
		}
	}
	if terminated != 2 {
		t.Errorf("terminated notifications = %d, want 2 (calls: %v)", terminated, notifier.calls)
	}
}

func TestWorker_ChildFailure(t *testing.T) {
	reg := engine.NewRegistry()
	reg.MustRegister(engine.NewFunc("parent", func(ctx *engine.Context) (any, error) {
		f, err := ctx.CallSubOrchestration("broken", nil)
		if err != nil {
			return nil, err
		}
		res, err := f.Result()
		if err != nil {
			return nil, err
		}
		return res, nil
	}))
	reg.MustRegister(engine.NewFunc("broken", func(ctx *engine.Context) (any, error) {
		return nil, errors.New("boom")
	}))

	w, store := newTestWorker(t, reg)
	id := startInstance(t, store, "parent", nil)

	drain(t, w)

	child := getInstance(t, store, domain.SubOrchestrationID(id, 0))
	if child.Status != domain.InstanceStatusFailed {
		t.Fatalf("child status = %s, want FAILED", child.Status)
	}

	inst := getInstance(t, store, id)
	if inst.Status != domain.InstanceStatusFailed {
		t.Fatalf("parent status = %s, want FAILED", inst.Status)
	}
	if inst.Error == "" {
		t.Error("parent error must describe child failure")
	}
}

func TestWorker_CommitsNotifyChildrenAndParent(t *testing.T) {
	notifier := &recordingNotifier{}
	store := repo.NewMemoryStore()
	w := New(Config{
		Store:    store,
		Registry: defaultRegistry(t),
		Notifier: notifier,
		Logger:   testLogger(),
	})

	id := startInstance(t, store, orchestrator.NameMessaging, json.RawMessage(`{"count":1}`))
	drain(t, w)

	want := map[string]bool{
		mq.ReasonScheduled + ":" + domain.SubOrchestrationID(id, 0): true,
		mq.ReasonScheduled + ":" + domain.SubOrchestrationID(id, 1): true,
		mq.ReasonChildDone + ":" + id:                              true,
	}
	for _, c := range notifier.calls {
		delete(want, c)
	}
	if len(want) != 0 {
		t.Errorf("missing notifications: %v (calls: %v)", want, notifier.calls)
	}
}

func TestOutstandingChildren(t *testing.T) {
	id := "p"
	history := []domain.HistoryEvent{
		domain.MustHistoryEvent(id, domain.EventExecutionStarted, domain.ExecutionStartedPayload{Name: "x"}),
		domain.MustHistoryEvent(id, domain.EventSubOrchestrationScheduled, domain.SubOrchestrationScheduledPayload{TaskID: 0, InstanceID: "p:0"}),
		domain.MustHistoryEvent(id, domain.EventSubOrchestrationScheduled, domain.SubOrchestrationScheduledPayload{TaskID: 1, InstanceID: "p:1"}),
		domain.MustHistoryEvent(id, domain.EventSubOrchestrationScheduled, domain.SubOrchestrationScheduledPayload{TaskID: 2, InstanceID: "p:2"}),
		domain.MustHistoryEvent(id, domain.EventSubOrchestrationCompleted, domain.SubOrchestrationCompletedPayload{TaskID: 0}),
		domain.MustHistoryEvent(id, domain.EventSubOrchestrationFailed, domain.SubOrchestrationFailedPayload{TaskID: 2, Error: "x"}),
	}

	got := OutstandingChildren(history)
	if len(got) != 1 || got[0] != "p:1" {
		t.Errorf("OutstandingChildren = %v, want [p:1]", got)
	}
}

func TestHandleInstanceWork_Permanent(t *testing.T) {
	w, _ := newTestWorker(t, defaultRegistry(t))

	d := &mq.Delivery{Message: mq.Message{Type: mq.MessageTypeInstanceWork, Payload: json.RawMessage(`{}`)}}
	if err := w.handleInstanceWork(context.Background(), d); !errors.Is(err, mq.ErrPermanent) {
		t.Errorf("empty instance_id: err = %v, want ErrPermanent", err)
	}

	d = &mq.Delivery{Message: mq.Message{Type: mq.MessageTypeInstanceWork, Payload: json.RawMessage(`{"instance_id":"unknown"}`)}}
	if err := w.handleInstanceWork(context.Background(), d); err != nil {
		t.Errorf("unknown instance must be acked, got %v", err)
	}
}
