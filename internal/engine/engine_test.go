package engine

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/Durable/internal/domain"
)

type historyBuilder struct {
	id     string
	events []domain.HistoryEvent
}

func newHistory(id string) *historyBuilder {
	b := &historyBuilder{id: id}
	return b.add(domain.EventExecutionStarted, domain.ExecutionStartedPayload{Name: "fanout"})
}

func (b *historyBuilder) add(t domain.EventType, payload any) *historyBuilder {
	ev := domain.MustHistoryEvent(b.id, t, payload)
	ev.Seq = len(b.events)
	b.events = append(b.events, ev)
	return b
}

func (b *historyBuilder) scheduled(taskID int, name string, input any) *historyBuilder {
	raw, _ := json.Marshal(input)
	return b.add(domain.EventSubOrchestrationScheduled, domain.SubOrchestrationScheduledPayload{
		TaskID:     taskID,
		Name:       name,
		InstanceID: domain.SubOrchestrationID(b.id, taskID),
		Input:      raw,
	})
}

func (b *historyBuilder) completed(taskID int, result string) *historyBuilder {
	raw, _ := json.Marshal(result)
	return b.add(domain.EventSubOrchestrationCompleted, domain.SubOrchestrationCompletedPayload{TaskID: taskID, Result: raw})
}

func (b *historyBuilder) failed(taskID int, msg string) *historyBuilder {
	return b.add(domain.EventSubOrchestrationFailed, domain.SubOrchestrationFailedPayload{TaskID: taskID, Error: msg})
}

type childInput struct {
	MessageID string `json:"message_id"`
}

func newTestRegistry(t *testing.T) (*Registry, Orchestration) {
	t.Helper()

	fanOut := NewFunc("fanout", func(ctx *Context) (any, error) {
		ctx.Logger().Info("fan-out started")

		first, err := ctx.CallSubOrchestration("child", childInput{MessageID: "0"})
		if err != nil {
			return nil, err
		}
		second, err := ctx.CallSubOrchestration("child", childInput{MessageID: "1"})
		if err != nil {
			return nil, err
		}

		results, err := ctx.WhenAll(first, second)
		if err != nil {
			return nil, err
		}

		ctx.Logger().Info("fan-out finished")
		return results, nil
	})

	reg := NewRegistry()
	require.NoError(t, reg.Register(fanOut))
	require.NoError(t, reg.Register(NewFunc("child", func(ctx *Context) (any, error) {
		return "", nil
	})))
	return reg, fanOut
}

func newTestContext(t *testing.T, reg *Registry, checkpoint int, history []domain.HistoryEvent, logger *slog.Logger) *Context {
	t.Helper()

	inst := domain.NewInstance("root", "fanout", nil, "")
	inst.Checkpoint = checkpoint
	c, err := NewContext(*inst, history, NewDispatcher(reg), logger)
	require.NoError(t, err)
	return c
}

func TestExecute_FirstExecutionSuspends(t *testing.T) {
	reg, fanOut := newTestRegistry(t)
	c := newTestContext(t, reg, 0, newHistory("root").events, nil)

	res := Execute(fanOut, c)

	require.Equal(t, OutcomeSuspended, res.Outcome)
	require.Len(t, res.Actions, 2)
	assert.Equal(t, "root:0", res.Actions[0].InstanceID)
	assert.Equal(t, "root:1", res.Actions[1].InstanceID)
	assert.Equal(t, 0, res.Actions[0].TaskID)
	assert.Equal(t, 1, res.Actions[1].TaskID)
	assert.JSONEq(t, `{"message_id":"0"}`, string(res.Actions[0].Input))
	assert.False(t, c.IsReplaying())
}

func TestExecute_ReplayCompletes(t *testing.T) {
	reg, fanOut := newTestRegistry(t)
	h := newHistory("root").
		scheduled(0, "child", childInput{MessageID: "0"}).
		scheduled(1, "child", childInput{MessageID: "1"}).
		completed(1, "b").
		completed(0, "a")

	c := newTestContext(t, reg, 3, h.events, nil)
	assert.True(t, c.IsReplaying())

	res := Execute(fanOut, c)

	require.Equal(t, OutcomeCompleted, res.Outcome)
	assert.Empty(t, res.Actions)
	assert.JSONEq(t, `["a","b"]`, string(res.Output))
	assert.False(t, c.IsReplaying())
}

func TestExecute_PartialResultsStaySuspended(t *testing.T) {
	reg, fanOut := newTestRegistry(t)
	h := newHistory("root").
		scheduled(0, "child", childInput{MessageID: "0"}).
		scheduled(1, "child", childInput{MessageID: "1"}).
		completed(0, "a")

	res := Execute(fanOut, newTestContext(t, reg, 3, h.events, nil))

	assert.Equal(t, OutcomeSuspended, res.Outcome)
	assert.Empty(t, res.Actions)
}

func TestExecute_ReplaySuppressesLogs(t *testing.T) {
	reg, fanOut := newTestRegistry(t)

	var first bytes.Buffer
	Execute(fanOut, newTestContext(t, reg, 0, newHistory("root").events, slog.New(slog.NewTextHandler(&first, nil))))
	assert.Contains(t, first.String(), "fan-out started")
	assert.Contains(t, first.String(), "instance_id=root")

	h := newHistory("root").
		scheduled(0, "child", childInput{MessageID: "0"}).
		scheduled(1, "child", childInput{MessageID: "1"}).
		completed(0, "a").
		completed(1, "b")

	var replay bytes.Buffer
	res := Execute(fanOut, newTestContext(t, reg, 3, h.events, slog.New(slog.NewTextHandler(&replay, nil))))
	require.Equal(t, OutcomeCompleted, res.Outcome)
	assert.NotContains(t, replay.String(), "fan-out started")
	assert.Contains(t, replay.String(), "fan-out finished")
}

func TestContext_BaseLoggerWritesDuringReplay(t *testing.T) {
	reg, _ := newTestRegistry(t)

	h := newHistory("root").scheduled(0, "child", childInput{MessageID: "0"})

	var buf bytes.Buffer
	c := newTestContext(t, reg, 2, h.events, slog.New(slog.NewTextHandler(&buf, nil)))
	require.True(t, c.IsReplaying())

	c.Logger().Info("quiet line")
	c.BaseLogger().Info("loud line")

	assert.NotContains(t, buf.String(), "quiet line")
	assert.Contains(t, buf.String(), "loud line")
	assert.Contains(t, buf.String(), "instance_id=root")
}

func TestExecute_NonDeterministic(t *testing.T) {
	reg, fanOut := newTestRegistry(t)
	h := newHistory("root").
		scheduled(0, "child", childInput{MessageID: "7"})

	res := Execute(fanOut, newTestContext(t, reg, 2, h.events, nil))

	require.Equal(t, OutcomeFailed, res.Outcome)
	assert.ErrorIs(t, res.Err, ErrNonDeterministic)
}

func TestExecute_UnknownOrchestration(t *testing.T) {
	reg := NewRegistry()
	orch := NewFunc("broken", func(ctx *Context) (any, error) {
		if _, err := ctx.CallSubOrchestration("missing", nil); err != nil {
			return nil, err
		}
		return nil, nil
	})
	require.NoError(t, reg.Register(orch))

	inst := domain.NewInstance("root", "broken", nil, "")
	c, err := NewContext(*inst, nil, NewDispatcher(reg), nil)
	require.NoError(t, err)

	res := Execute(orch, c)

	require.Equal(t, OutcomeFailed, res.Outcome)
	assert.ErrorIs(t, res.Err, ErrOrchestrationNotFound)
	assert.Empty(t, res.Actions)
}

func TestExecute_WhenAllCollectsAllErrors(t *testing.T) {
	reg, fanOut := newTestRegistry(t)
	h := newHistory("root").
		scheduled(0, "child", childInput{MessageID: "0"}).
		scheduled(1, "child", childInput{MessageID: "1"}).
		failed(0, "boom").
		failed(1, "bang")

	res := Execute(fanOut, newTestContext(t, reg, 3, h.events, nil))

	require.Equal(t, OutcomeFailed, res.Outcome)
	assert.ErrorIs(t, res.Err, ErrSubOrchestrationFailed)
	assert.Contains(t, res.Err.Error(), "boom")
	assert.Contains(t, res.Err.Error(), "bang")

	var subErr *SubOrchestrationError
	require.True(t, errors.As(res.Err, &subErr))
	assert.Equal(t, "root:0", subErr.InstanceID)
}

func TestExecute_TerminatedSkipsBody(t *testing.T) {
	called := false
	orch := NewFunc("fanout", func(ctx *Context) (any, error) {
		called = true
		return nil, nil
	})
	reg := NewRegistry()
	require.NoError(t, reg.Register(orch))

	h := newHistory("root").
		add(domain.EventExecutionTerminated, domain.ExecutionTerminatedPayload{Reason: "enough"})

	res := Execute(orch, newTestContext(t, reg, 1, h.events, nil))

	assert.Equal(t, OutcomeTerminated, res.Outcome)
	assert.Equal(t, "enough", res.Reason)
	assert.False(t, called)
}

func TestContext_TerminatedAtSuspensionPoint(t *testing.T) {
	reg, _ := newTestRegistry(t)
	h := newHistory("root").
		add(domain.EventExecutionTerminated, domain.ExecutionTerminatedPayload{Reason: "stop"})
	c := newTestContext(t, reg, 1, h.events, nil)

	_, err := c.CallSubOrchestration("child", nil)
	assert.ErrorIs(t, err, ErrTerminated)

	_, err = c.WhenAll()
	assert.ErrorIs(t, err, ErrTerminated)
	assert.Empty(t, c.Actions())
}

func TestExecute_PanicFails(t *testing.T) {
	orch := NewFunc("panicky", func(ctx *Context) (any, error) {
		panic("unexpected")
	})
	reg := NewRegistry()
	require.NoError(t, reg.Register(orch))

	inst := domain.NewInstance("root", "panicky", nil, "")
	c, err := NewContext(*inst, nil, NewDispatcher(reg), nil)
	require.NoError(t, err)

	res := Execute(orch, c)

	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Contains(t, res.Err.Error(), "unexpected")
}

func TestCallSubOrchestration_InputIsCopied(t *testing.T) {
	reg, _ := newTestRegistry(t)
	c := newTestContext(t, reg, 0, newHistory("root").events, nil)

	in := &childInput{MessageID: "0"}
	_, err := c.CallSubOrchestration("child", in)
	require.NoError(t, err)
	in.MessageID = "changed"

	actions := c.Actions()
	require.Len(t, actions, 1)
	assert.JSONEq(t, `{"message_id":"0"}`, string(actions[0].Input))
}

func TestNewContext_MalformedHistory(t *testing.T) {
	reg, _ := newTestRegistry(t)
	h := newHistory("root").scheduled(3, "child", nil)

	inst := domain.NewInstance("root", "fanout", nil, "")
	_, err := NewContext(*inst, h.events, NewDispatcher(reg), nil)
	assert.ErrorIs(t, err, ErrMalformedHistory)
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(NewFunc("b", nil)))
	require.NoError(t, reg.Register(NewFunc("a", nil)))

	assert.ErrorIs(t, reg.Register(NewFunc("a", nil)), ErrDuplicateOrchestration)
	assert.Equal(t, []string{"a", "b"}, reg.Names())
	assert.True(t, reg.Has("a"))

	_, err := reg.Get("c")
	assert.ErrorIs(t, err, ErrOrchestrationNotFound)
}
