package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/shaiso/Durable/internal/domain"
	"github.com/shaiso/Durable/internal/engine"
	"github.com/shaiso/Durable/internal/mq"
	"github.com/shaiso/Durable/internal/repo"
	"github.com/shaiso/Durable/internal/telemetry"
)

// handleInstanceWork обрабатывает уведомление из очереди instances.work.
func (w *Worker) handleInstanceWork(ctx context.Context, delivery *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.InstanceWorkPayload](&delivery.Message)
	if err != nil {
		w.logger.Error("failed to parse instance.work payload", "error", err)
		return fmt.Errorf("%w: %v", mq.ErrPermanent, err)
	}
	if payload.InstanceID == "" {
		return fmt.Errorf("%w: empty instance_id", mq.ErrPermanent)
	}

	w.logger.Debug("received instance.work event",
		"instance_id", payload.InstanceID,
		"reason", payload.Reason,
		"attempt", delivery.Attempt,
	)

	if err := w.ProcessInstance(ctx, payload.InstanceID); err != nil {
		// Ожидаемые ситуации — не возвращаем ошибку (ack)
		if errors.Is(err, ErrInstanceNotFound) || errors.Is(err, ErrInstanceBusy) {
			w.logger.Debug("instance not processed", "instance_id", payload.InstanceID, "reason", err)
			return nil
		}
		w.logger.Error("failed to process instance", "instance_id", payload.InstanceID, "error", err)
		return err
	}
	return nil
}

// ProcessInstance выполняет instance, пока в его истории есть новые события.
//
// Если instance уже выполняется в этом процессе, возвращает ErrInstanceBusy
// и помечает повтор: текущий держатель выполнит его ещё раз.
func (w *Worker) ProcessInstance(ctx context.Context, id string) error {
	if !w.acquire(id) {
		return ErrInstanceBusy
	}

	for {
		if err := w.executeWithRetry(ctx, id); err != nil {
			w.release(id)
			return err
		}
		if !w.releaseOrRepeat(id) {
			return nil
		}
	}
}

// executeWithRetry повторяет execution при конфликте commit.
func (w *Worker) executeWithRetry(ctx context.Context, id string) error {
	for attempt := 1; ; attempt++ {
		err := w.execute(ctx, id)
		if !errors.Is(err, repo.ErrConflict) {
			return err
		}

		telemetry.CommitConflictsTotal.Inc()
		if attempt > w.maxConflictRetries {
			return err
		}
		w.logger.Debug("commit conflict, re-executing", "instance_id", id, "attempt", attempt)

		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

// execute выполняет один execution instance.
//
//  1. Загрузка instance и истории
//  2. Пропуск, если instance финальный или новых событий нет
//  3. PENDING → RUNNING
//  4. Replay + body через engine.Execute
//  5. Commit: события, статус, дочерние instances, событие родителю
//  6. Уведомления и метрики
func (w *Worker) execute(ctx context.Context, id string) (err error) {
	started := time.Now()

	ctx, span := telemetry.StartSpan(ctx, "durable.execute", attribute.String("instance.id", id))
	defer func() { telemetry.EndSpan(span, err) }()

	inst, err := w.store.GetInstance(ctx, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrInstanceNotFound, id)
		}
		return fmt.Errorf("get instance: %w", err)
	}
	if inst.IsFinished() {
		return nil
	}

	history, err := w.store.LoadHistory(ctx, id)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	if len(history) <= inst.Checkpoint {
		return nil
	}

	span.SetAttributes(attribute.String("orchestration", inst.Name))
	log := telemetry.WithOrchestration(telemetry.WithInstanceID(w.logger, id), inst.Name)

	next := *inst
	if next.Status == domain.InstanceStatusPending {
		if err := next.MarkRunning(); err != nil {
			return err
		}
	}

	res := w.run(&next, history)
	span.SetAttributes(attribute.String("outcome", string(res.Outcome)))

	commit := &repo.Commit{
		Instance:           &next,
		ExpectedCheckpoint: inst.Checkpoint,
		ExpectedHistoryLen: len(history),
	}
	if err := buildCommit(commit, res); err != nil {
		return err
	}

	if err := w.store.Commit(ctx, commit); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	w.afterCommit(ctx, log, &next, history, commit, res)
	telemetry.ObserveExecution(inst.Name, string(res.Outcome), started)
	return nil
}

// run выполняет body orchestration над историей.
// Ошибки восстановления Context и неизвестное имя дают OutcomeFailed.
func (w *Worker) run(inst *domain.Instance, history []domain.HistoryEvent) engine.Result {
	orch, err := w.registry.Get(inst.Name)
	if err != nil {
		return engine.Result{Outcome: engine.OutcomeFailed, Err: err}
	}

	ectx, err := engine.NewContext(*inst, history, w.dispatcher, w.logger)
	if err != nil {
		return engine.Result{Outcome: engine.OutcomeFailed, Err: err}
	}

	return engine.Execute(orch, ectx)
}

// buildCommit переводит результат execution в события и новое состояние.
func buildCommit(commit *repo.Commit, res engine.Result) error {
	inst := commit.Instance

	for _, a := range res.Actions {
		commit.Events = append(commit.Events, domain.MustHistoryEvent(inst.ID, domain.EventSubOrchestrationScheduled,
			domain.SubOrchestrationScheduledPayload{
				TaskID:     a.TaskID,
				Name:       a.Name,
				InstanceID: a.InstanceID,
				Input:      a.Input,
			}))

		child := domain.NewInstance(a.InstanceID, a.Name, a.Input, inst.ID)
		commit.Children = append(commit.Children, repo.Child{
			Instance: child,
			Started: domain.MustHistoryEvent(child.ID, domain.EventExecutionStarted, domain.ExecutionStartedPayload{
				Name:     child.Name,
				Input:    child.Input,
				ParentID: inst.ID,
			}),
		})
	}

	switch res.Outcome {
	case engine.OutcomeCompleted:
		if err := inst.MarkCompleted(res.Output); err != nil {
			return err
		}
		commit.Events = append(commit.Events, domain.MustHistoryEvent(inst.ID, domain.EventExecutionCompleted,
			domain.ExecutionCompletedPayload{Output: res.Output}))

	case engine.OutcomeFailed:
		if err := inst.MarkFailed(res.Err.Error()); err != nil {
			return err
		}
		commit.Events = append(commit.Events, domain.MustHistoryEvent(inst.ID, domain.EventExecutionFailed,
			domain.ExecutionFailedPayload{Error: res.Err.Error()}))

	case engine.OutcomeTerminated:
		if err := inst.MarkTerminated(res.Reason); err != nil {
			return err
		}
	}

	if inst.IsFinished() && inst.IsSubOrchestration() {
		if ev, ok := parentEvent(inst); ok {
			commit.ParentEvents = append(commit.ParentEvents, ev)
		}
	}
	return nil
}

// parentEvent строит событие завершения для истории родителя.
func parentEvent(inst *domain.Instance) (domain.HistoryEvent, bool) {
	parentID, taskID, ok := domain.ParseSubOrchestrationID(inst.ID)
	if !ok || parentID != inst.ParentID {
		return domain.HistoryEvent{}, false
	}

	switch inst.Status {
	case domain.InstanceStatusCompleted:
		return domain.MustHistoryEvent(parentID, domain.EventSubOrchestrationCompleted,
			domain.SubOrchestrationCompletedPayload{TaskID: taskID, Result: inst.Output}), true
	case domain.InstanceStatusTerminated:
		return domain.MustHistoryEvent(parentID, domain.EventSubOrchestrationFailed,
			domain.SubOrchestrationFailedPayload{TaskID: taskID, Error: "terminated: " + inst.Reason}), true
	default:
		return domain.MustHistoryEvent(parentID, domain.EventSubOrchestrationFailed,
			domain.SubOrchestrationFailedPayload{TaskID: taskID, Error: inst.Error}), true
	}
}

// afterCommit публикует уведомления, пишет логи и метрики.
// Ошибки публикации не фатальны: instances подхватит polling.
func (w *Worker) afterCommit(ctx context.Context, log *slog.Logger, inst *domain.Instance, history []domain.HistoryEvent, commit *repo.Commit, res engine.Result) {
	if n := len(commit.Children); n > 0 {
		telemetry.SubOrchestrationsDispatchedTotal.WithLabelValues(inst.Name).Add(float64(n))
		for _, child := range commit.Children {
			telemetry.InstancesStartedTotal.WithLabelValues(child.Instance.Name).Inc()
			w.notify(ctx, child.Instance.ID, mq.ReasonScheduled)
		}
		log.Debug("sub-orchestrations scheduled", "count", n)
	}

	if !inst.IsFinished() {
		return
	}

	telemetry.InstancesFinishedTotal.WithLabelValues(inst.Name, string(inst.Status)).Inc()

	switch inst.Status {
	case domain.InstanceStatusCompleted:
		log.Info("instance completed", "duration", inst.Duration())
	case domain.InstanceStatusFailed:
		log.Warn("instance failed", "error", inst.Error, "duration", inst.Duration())
	case domain.InstanceStatusTerminated:
		log.Info("instance terminated", "reason", inst.Reason)
		w.terminateChildren(ctx, log, inst, history)
	}

	if len(commit.ParentEvents) > 0 {
		w.notify(ctx, inst.ParentID, mq.ReasonChildDone)
	}
}

// terminateChildren передаёт terminate незавершённым дочерним instances.
func (w *Worker) terminateChildren(ctx context.Context, log *slog.Logger, inst *domain.Instance, history []domain.HistoryEvent) {
	for _, childID := range OutstandingChildren(history) {
		err := w.store.RequestTermination(ctx, childID, "parent terminated: "+inst.Reason)
		if err != nil {
			if !errors.Is(err, repo.ErrInvalidState) && !errors.Is(err, repo.ErrNotFound) {
				log.Warn("failed to terminate child", "child_id", childID, "error", err)
			}
			continue
		}
		w.notify(ctx, childID, mq.ReasonTerminated)
	}
}

// OutstandingChildren возвращает ID дочерних instances, результат которых
// ещё не записан в историю.
func OutstandingChildren(history []domain.HistoryEvent) []string {
	scheduled := make(map[int]string)
	var order []int

	for _, ev := range history {
		switch ev.Type {
		case domain.EventSubOrchestrationScheduled:
			p, err := domain.DecodePayload[domain.SubOrchestrationScheduledPayload](ev)
			if err == nil {
				scheduled[p.TaskID] = p.InstanceID
				order = append(order, p.TaskID)
			}
		case domain.EventSubOrchestrationCompleted:
			p, err := domain.DecodePayload[domain.SubOrchestrationCompletedPayload](ev)
			if err == nil {
				delete(scheduled, p.TaskID)
			}
		case domain.EventSubOrchestrationFailed:
			p, err := domain.DecodePayload[domain.SubOrchestrationFailedPayload](ev)
			if err == nil {
				delete(scheduled, p.TaskID)
			}
		}
	}

	var ids []string
	for _, taskID := range order {
		if id, ok := scheduled[taskID]; ok {
			ids = append(ids, id)
		}
	}
	return ids
}

func (w *Worker) notify(ctx context.Context, id, reason string) {
	if w.notifier == nil {
		return
	}
	if err := w.notifier.NotifyInstance(ctx, id, reason); err != nil {
		w.logger.Warn("failed to publish instance.work",
			"instance_id", id,
			"reason", reason,
			"error", err,
		)
	}
}
