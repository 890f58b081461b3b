package orchestrator

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/Durable/internal/domain"
	"github.com/shaiso/Durable/internal/engine"
)

// simulation повторяет работу host runtime в памяти:
// фиксирует решения в истории и дописывает результаты дочерних вызовов.
type simulation struct {
	t          *testing.T
	reg        *engine.Registry
	instance   *domain.Instance
	history    []domain.HistoryEvent
	dispatched []engine.Action
	logger     *slog.Logger
}

func newSimulation(t *testing.T, reg *engine.Registry, input string) *simulation {
	t.Helper()

	var raw json.RawMessage
	if input != "" {
		raw = json.RawMessage(input)
	}
	inst := domain.NewInstance("root", NameMessaging, raw, "")

	s := &simulation{t: t, reg: reg, instance: inst}
	s.append(domain.EventExecutionStarted, domain.ExecutionStartedPayload{Name: NameMessaging, Input: raw})
	return s
}

func (s *simulation) append(t domain.EventType, payload any) {
	ev := domain.MustHistoryEvent(s.instance.ID, t, payload)
	ev.Seq = len(s.history)
	s.history = append(s.history, ev)
}

// step выполняет один execution и фиксирует его решения.
func (s *simulation) step() engine.Result {
	s.t.Helper()

	orch, err := s.reg.Get(s.instance.Name)
	require.NoError(s.t, err)

	c, err := engine.NewContext(*s.instance, s.history, engine.NewDispatcher(s.reg), s.logger)
	require.NoError(s.t, err)

	res := engine.Execute(orch, c)
	for _, a := range res.Actions {
		s.append(domain.EventSubOrchestrationScheduled, domain.SubOrchestrationScheduledPayload{
			TaskID:     a.TaskID,
			Name:       a.Name,
			InstanceID: a.InstanceID,
			Input:      a.Input,
		})
		s.dispatched = append(s.dispatched, a)
	}
	s.instance.Checkpoint = len(s.history)
	return res
}

func (s *simulation) complete(a engine.Action, result string) {
	raw, _ := json.Marshal(result)
	s.append(domain.EventSubOrchestrationCompleted, domain.SubOrchestrationCompletedPayload{TaskID: a.TaskID, Result: raw})
}

func (s *simulation) fail(a engine.Action, msg string) {
	s.append(domain.EventSubOrchestrationFailed, domain.SubOrchestrationFailedPayload{TaskID: a.TaskID, Error: msg})
}

// run выполняет instance до финального исхода, завершая вызовы в обратном порядке.
func (s *simulation) run() engine.Result {
	s.t.Helper()

	for i := 0; i < 100; i++ {
		res := s.step()
		if res.Outcome != engine.OutcomeSuspended {
			return res
		}
		require.NotEmpty(s.t, res.Actions, "suspended without new work")
		for j := len(res.Actions) - 1; j >= 0; j-- {
			s.complete(res.Actions[j], "")
		}
	}
	s.t.Fatal("orchestration did not finish")
	return engine.Result{}
}

func messageIDs(t *testing.T, actions []engine.Action) []string {
	t.Helper()

	ids := make([]string, 0, len(actions))
	for _, a := range actions {
		var in domain.SubOrchestrationInput
		require.NoError(t, json.Unmarshal(a.Input, &in))
		ids = append(ids, in.MessageStatus.MessageID)
	}
	return ids
}

func defaultRegistry(t *testing.T, count int) *engine.Registry {
	t.Helper()
	reg, err := NewRegistry(Config{Count: count})
	require.NoError(t, err)
	return reg
}

func TestMessaging_DispatchesTwoPerMessage(t *testing.T) {
	s := newSimulation(t, defaultRegistry(t, 2), "")

	res := s.run()

	require.Equal(t, engine.OutcomeCompleted, res.Outcome)
	assert.JSONEq(t, `[]`, string(res.Output))
	require.Len(t, s.dispatched, 4)
	assert.Equal(t, []string{"0", "0", "1", "1"}, messageIDs(t, s.dispatched))

	names := make([]string, 0, len(s.dispatched))
	for _, a := range s.dispatched {
		names = append(names, a.Name)
	}
	assert.Equal(t, []string{
		"send_line_message", "send_facebook_message",
		"send_line_message", "send_facebook_message",
	}, names)
	assert.Equal(t, "root:0", s.dispatched[0].InstanceID)
	assert.Equal(t, "root:3", s.dispatched[3].InstanceID)
}

func TestMessaging_ZeroCountCompletesImmediately(t *testing.T) {
	s := newSimulation(t, defaultRegistry(t, 0), "")

	res := s.step()

	require.Equal(t, engine.OutcomeCompleted, res.Outcome)
	assert.Empty(t, s.dispatched)
	assert.JSONEq(t, `[]`, string(res.Output))
}

func TestMessaging_InputOverridesCount(t *testing.T) {
	s := newSimulation(t, defaultRegistry(t, 2), `{"count":3}`)

	res := s.run()

	require.Equal(t, engine.OutcomeCompleted, res.Outcome)
	assert.Len(t, s.dispatched, 6)
}

func TestMessaging_NegativeCountFails(t *testing.T) {
	s := newSimulation(t, defaultRegistry(t, 2), `{"count":-1}`)

	res := s.step()

	require.Equal(t, engine.OutcomeFailed, res.Outcome)
	assert.ErrorIs(t, res.Err, ErrInvalidInput)
}

func TestMessaging_JoinWaitsForAllChildren(t *testing.T) {
	s := newSimulation(t, defaultRegistry(t, 2), "")

	first := s.step()
	require.Equal(t, engine.OutcomeSuspended, first.Outcome)
	require.Len(t, first.Actions, 2)

	s.complete(first.Actions[1], "")

	second := s.step()
	assert.Equal(t, engine.OutcomeSuspended, second.Outcome)
	assert.Empty(t, second.Actions)

	s.complete(first.Actions[0], "")

	third := s.step()
	assert.Equal(t, engine.OutcomeSuspended, third.Outcome)
	assert.Equal(t, []string{"1", "1"}, messageIDs(t, third.Actions))
}

func TestMessaging_ChildFailureFailsParent(t *testing.T) {
	s := newSimulation(t, defaultRegistry(t, 2), "")

	first := s.step()
	require.Len(t, first.Actions, 2)
	s.fail(first.Actions[0], "line is down")
	s.complete(first.Actions[1], "")

	res := s.step()

	require.Equal(t, engine.OutcomeFailed, res.Outcome)
	assert.ErrorIs(t, res.Err, ErrExecution)
	assert.ErrorIs(t, res.Err, engine.ErrSubOrchestrationFailed)
	assert.Contains(t, res.Err.Error(), "line is down")
	assert.Len(t, s.dispatched, 2)
}

func TestMessaging_OutputKeepsNonEmptyResults(t *testing.T) {
	s := newSimulation(t, defaultRegistry(t, 1), "")

	first := s.step()
	require.Len(t, first.Actions, 2)
	s.complete(first.Actions[1], "fb-ok")
	s.complete(first.Actions[0], "line-ok")

	res := s.step()

	require.Equal(t, engine.OutcomeCompleted, res.Outcome)
	assert.JSONEq(t, `["line-ok","fb-ok"]`, string(res.Output))
}

func TestMessaging_TerminateStopsDispatching(t *testing.T) {
	s := newSimulation(t, defaultRegistry(t, 2), "")

	first := s.step()
	require.Len(t, first.Actions, 2)
	s.append(domain.EventExecutionTerminated, domain.ExecutionTerminatedPayload{Reason: "X"})
	s.complete(first.Actions[0], "")
	s.complete(first.Actions[1], "")

	res := s.step()

	assert.Equal(t, engine.OutcomeTerminated, res.Outcome)
	assert.Equal(t, "X", res.Reason)
	assert.Empty(t, res.Actions)
	assert.Len(t, s.dispatched, 2)
}

func TestMessaging_ReplayIsDeterministic(t *testing.T) {
	s := newSimulation(t, defaultRegistry(t, 2), "")
	final := s.run()
	require.Equal(t, engine.OutcomeCompleted, final.Outcome)

	orch, err := s.reg.Get(NameMessaging)
	require.NoError(t, err)

	for checkpoint := 0; checkpoint <= len(s.history); checkpoint++ {
		inst := *s.instance
		inst.Checkpoint = checkpoint

		c, err := engine.NewContext(inst, s.history, engine.NewDispatcher(s.reg), nil)
		require.NoError(t, err)

		res := engine.Execute(orch, c)
		assert.Equal(t, engine.OutcomeCompleted, res.Outcome, "checkpoint %d", checkpoint)
		assert.Empty(t, res.Actions, "checkpoint %d", checkpoint)
		assert.JSONEq(t, string(final.Output), string(res.Output))
	}
}

func TestMessaging_LogsOncePerLogicalEvent(t *testing.T) {
	var buf bytes.Buffer
	s := newSimulation(t, defaultRegistry(t, 2), "")
	s.logger = slog.New(slog.NewTextHandler(&buf, nil))

	res := s.run()
	require.Equal(t, engine.OutcomeCompleted, res.Outcome)

	assert.Equal(t, 1, bytes.Count(buf.Bytes(), []byte("messaging orchestration started")))
	assert.Equal(t, 1, bytes.Count(buf.Bytes(), []byte("messaging orchestration finished")))
}

func TestChannel_ReturnsEmptyResult(t *testing.T) {
	reg := defaultRegistry(t, 2)
	orch, err := reg.Get("send_line_message")
	require.NoError(t, err)

	input, err := json.Marshal(domain.SubOrchestrationInput{
		ParentInstanceID: "root",
		MessageStatus:    domain.MessageStatus{MessageID: "0", InstanceID: "root"},
	})
	require.NoError(t, err)

	var buf bytes.Buffer
	inst := domain.NewInstance("root:0", orch.Name(), input, "root")
	c, err := engine.NewContext(*inst, nil, engine.NewDispatcher(reg), slog.New(slog.NewTextHandler(&buf, nil)))
	require.NoError(t, err)

	res := engine.Execute(orch, c)

	require.Equal(t, engine.OutcomeCompleted, res.Outcome)
	assert.JSONEq(t, `""`, string(res.Output))
	assert.Contains(t, buf.String(), "sub-orchestration started")
	assert.Contains(t, buf.String(), "sub-orchestration finished")
	assert.Contains(t, buf.String(), "channel=line")
	assert.Contains(t, buf.String(), "parent_instance_id=root")
}

func TestRegister_Validation(t *testing.T) {
	_, err := NewRegistry(Config{Count: -1})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewRegistry(Config{Count: 1, Channels: []string{"sms", "sms"}})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	reg, err := NewRegistry(Config{Count: 1, Channels: []string{"sms"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"messaging", "send_sms_message"}, reg.Names())
}
