package engine

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"

	"github.com/shaiso/Durable/internal/domain"
)

// Context — контекст одного execution orchestration.
//
// Создаётся заново для каждого execution из истории instance.
// Решения, принятые ранее (SubOrchestrationScheduled), сопоставляются с
// вызовами body по порядковому номеру; новые решения копятся в Actions.
//
// Context не потокобезопасен: body выполняется в одной горутине.
type Context struct {
	instance   domain.Instance
	dispatcher *Dispatcher
	logger     *slog.Logger
	base       *slog.Logger

	// scheduled — записанные вызовы, индекс совпадает с TaskID.
	scheduled []domain.SubOrchestrationScheduledPayload

	// pastScheduled — сколько вызовов было записано до checkpoint.
	pastScheduled int

	completed map[int]json.RawMessage
	failed    map[int]string

	terminated bool
	reason     string

	nextTaskID int
	actions    []Action
}

// NewContext восстанавливает Context из истории instance.
//
// Checkpoint берётся из instance: события с Seq < Checkpoint уже видел
// предыдущий execution, их повтор считается replay.
func NewContext(inst domain.Instance, history []domain.HistoryEvent, dispatcher *Dispatcher, logger *slog.Logger) (*Context, error) {
	if logger == nil {
		logger = slog.Default()
	}

	c := &Context{
		instance:   inst,
		dispatcher: dispatcher,
		completed:  make(map[int]json.RawMessage),
		failed:     make(map[int]string),
	}

	for _, ev := range history {
		if err := c.apply(ev); err != nil {
			return nil, fmt.Errorf("%w: instance %s seq %d: %v", ErrMalformedHistory, inst.ID, ev.Seq, err)
		}
	}

	attrs := []any{
		slog.String("instance_id", inst.ID),
		slog.String("orchestration", inst.Name),
	}
	c.base = logger.With(attrs...)
	c.logger = slog.New(newReplaySafeHandler(logger.Handler(), c)).With(attrs...)
	return c, nil
}

func (c *Context) apply(ev domain.HistoryEvent) error {
	switch ev.Type {
	case domain.EventSubOrchestrationScheduled:
		p, err := domain.DecodePayload[domain.SubOrchestrationScheduledPayload](ev)
		if err != nil {
			return err
		}
		if p.TaskID != len(c.scheduled) {
			return fmt.Errorf("task %d scheduled out of order, expected %d", p.TaskID, len(c.scheduled))
		}
		c.scheduled = append(c.scheduled, p)
		if ev.Seq < c.instance.Checkpoint {
			c.pastScheduled++
		}

	case domain.EventSubOrchestrationCompleted:
		p, err := domain.DecodePayload[domain.SubOrchestrationCompletedPayload](ev)
		if err != nil {
			return err
		}
		c.completed[p.TaskID] = p.Result

	case domain.EventSubOrchestrationFailed:
		p, err := domain.DecodePayload[domain.SubOrchestrationFailedPayload](ev)
		if err != nil {
			return err
		}
		c.failed[p.TaskID] = p.Error

	case domain.EventExecutionTerminated:
		p, err := domain.DecodePayload[domain.ExecutionTerminatedPayload](ev)
		if err != nil {
			return err
		}
		if !c.terminated {
			c.terminated = true
			c.reason = p.Reason
		}
	}
	return nil
}

// InstanceID возвращает ID текущего instance.
func (c *Context) InstanceID() string { return c.instance.ID }

// Name возвращает имя orchestration.
func (c *Context) Name() string { return c.instance.Name }

// ParentID возвращает ID родителя (пусто для top-level).
func (c *Context) ParentID() string { return c.instance.ParentID }

// Logger возвращает logger, молчащий во время replay.
func (c *Context) Logger() *slog.Logger { return c.logger }

// BaseLogger возвращает logger, который пишет и во время replay.
func (c *Context) BaseLogger() *slog.Logger { return c.base }

// IsReplaying возвращает true, пока body повторяет решения,
// уже принятые предыдущими execution.
func (c *Context) IsReplaying() bool {
	return c.nextTaskID < c.pastScheduled
}

// IsTerminated возвращает true, если в истории есть запрос terminate.
func (c *Context) IsTerminated() bool { return c.terminated }

// TerminationReason возвращает причину terminate.
func (c *Context) TerminationReason() string { return c.reason }

// Actions возвращает новые решения этого execution.
func (c *Context) Actions() []Action {
	out := make([]Action, len(c.actions))
	copy(out, c.actions)
	return out
}

// Input парсит вход instance в v. Пустой вход оставляет v без изменений.
func (c *Context) Input(v any) error {
	if len(c.instance.Input) == 0 || string(c.instance.Input) == "null" {
		return nil
	}
	if err := json.Unmarshal(c.instance.Input, v); err != nil {
		return fmt.Errorf("decode input of %s: %w", c.instance.ID, err)
	}
	return nil
}

// CallSubOrchestration планирует вызов orchestration name с входом input.
//
// Возвращает Future сразу, не дожидаясь результата. При replay вызов
// сопоставляется с записанным и новый дочерний instance не создаётся.
// Неизвестное имя даёт ErrOrchestrationNotFound, расхождение с историей
// даёт ErrNonDeterministic.
func (c *Context) CallSubOrchestration(name string, input any) (*Future, error) {
	if c.terminated {
		return nil, ErrTerminated
	}

	taskID := c.nextTaskID

	if taskID < len(c.scheduled) {
		rec := c.scheduled[taskID]
		if err := matchRecorded(rec, name, input); err != nil {
			return nil, fmt.Errorf("%w: task %d: %v", ErrNonDeterministic, taskID, err)
		}
		c.nextTaskID++

		f := &Future{taskID: taskID, name: rec.Name, instanceID: rec.InstanceID}
		if result, ok := c.completed[taskID]; ok {
			f.resolve(result)
		} else if msg, ok := c.failed[taskID]; ok {
			f.fail(msg)
		}
		return f, nil
	}

	action, err := c.dispatcher.Dispatch(c.instance.ID, taskID, name, input)
	if err != nil {
		return nil, err
	}
	c.nextTaskID++
	c.actions = append(c.actions, action)

	return &Future{taskID: taskID, name: name, instanceID: action.InstanceID}, nil
}

// matchRecorded сверяет вызов с записанным решением.
// Вход сравнивается по значению, а не по байтам: хранилище может
// переупорядочить ключи JSON.
func matchRecorded(rec domain.SubOrchestrationScheduledPayload, name string, input any) error {
	if rec.Name != name {
		return fmt.Errorf("recorded %q, got %q", rec.Name, name)
	}

	data, err := json.Marshal(input)
	if err != nil {
		return fmt.Errorf("marshal input: %w", err)
	}
	if input == nil {
		data = nil
	}

	var want, got any
	if len(rec.Input) > 0 {
		if err := json.Unmarshal(rec.Input, &want); err != nil {
			return fmt.Errorf("recorded input: %w", err)
		}
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &got); err != nil {
			return fmt.Errorf("input: %w", err)
		}
	}
	if !reflect.DeepEqual(want, got) {
		return fmt.Errorf("input of %q differs from recorded", name)
	}
	return nil
}
