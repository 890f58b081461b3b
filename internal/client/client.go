package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/shaiso/Durable/internal/domain"
	"github.com/shaiso/Durable/internal/engine"
	"github.com/shaiso/Durable/internal/mq"
	"github.com/shaiso/Durable/internal/repo"
	"github.com/shaiso/Durable/internal/telemetry"
)

// DefaultTerminateReason — причина terminate, если не указана.
const DefaultTerminateReason = "It was time To be done."

// Outcome — результат Terminate.
type Outcome string

const (
	// OutcomeNoOp — запрос проигнорирован (пустой, неизвестный или финальный instance).
	OutcomeNoOp Outcome = "noop"

	// OutcomeSignaled — запрос записан в историю instance.
	OutcomeSignaled Outcome = "signaled"
)

// AuditSink получает копию каждой записи, отданной ListActiveInstances.
type AuditSink interface {
	Record(ctx context.Context, inst domain.Instance)
}

// logAuditSink пишет записи в slog.
type logAuditSink struct {
	logger *slog.Logger
}

func (s logAuditSink) Record(ctx context.Context, inst domain.Instance) {
	data, err := json.Marshal(inst)
	if err != nil {
		s.logger.WarnContext(ctx, "failed to marshal instance", "instance_id", inst.ID, "error", err)
		return
	}
	s.logger.InfoContext(ctx, string(data))
}

// NewLogAuditSink создаёт AuditSink, логирующий JSON каждой записи.
func NewLogAuditSink(logger *slog.Logger) AuditSink {
	return logAuditSink{logger: telemetry.WithComponent(logger, "audit")}
}

// Client управляет instances.
type Client struct {
	store    repo.Store
	notifier mq.Notifier
	registry *engine.Registry
	audit    AuditSink
	logger   *slog.Logger
}

// Config — конфигурация Client.
type Config struct {
	// Store — хранилище instances (обязательно).
	Store repo.Store

	// Notifier — очередь уведомлений. Если nil, instances подхватит polling.
	Notifier mq.Notifier

	// Registry — если задан, StartNew проверяет имя orchestration.
	Registry *engine.Registry

	// AuditSink — получатель записей ListActiveInstances (default: slog с component=audit).
	AuditSink AuditSink

	Logger *slog.Logger
}

// New создаёт Client.
func New(cfg Config) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	audit := cfg.AuditSink
	if audit == nil {
		audit = NewLogAuditSink(logger)
	}

	return &Client{
		store:    cfg.Store,
		notifier: cfg.Notifier,
		registry: cfg.Registry,
		audit:    audit,
		logger:   logger,
	}
}

// StartOptions — параметры запуска.
type StartOptions struct {
	// InstanceID — ID нового instance. Пусто — сгенерировать UUID.
	// Повторный запуск с тем же ID возвращает существующий instance.
	InstanceID string
}

// Handle — ссылка на запущенный instance.
type Handle struct {
	InstanceID string
	Name       string

	// Created — false, если instance с этим ID уже существовал.
	Created bool
}

// StartNew создаёт top-level instance и публикует уведомление.
func (c *Client) StartNew(ctx context.Context, name string, input any, opts StartOptions) (*Handle, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: orchestration name is required", ErrValidation)
	}
	if c.registry != nil && !c.registry.Has(name) {
		return nil, fmt.Errorf("%w: %s", engine.ErrOrchestrationNotFound, name)
	}

	raw, err := marshalInput(input)
	if err != nil {
		return nil, err
	}

	id := opts.InstanceID
	if id == "" {
		id = uuid.New().String()
	}
	if _, _, ok := domain.ParseSubOrchestrationID(id); ok {
		return nil, fmt.Errorf("%w: instance id %q is reserved for sub-orchestrations", ErrValidation, id)
	}

	inst := domain.NewInstance(id, name, raw, "")
	started, err := domain.NewHistoryEvent(id, domain.EventExecutionStarted, domain.ExecutionStartedPayload{
		Name:  name,
		Input: raw,
	})
	if err != nil {
		return nil, err
	}

	log := telemetry.WithOrchestration(telemetry.WithInstanceID(c.logger, id), name)

	err = c.store.CreateInstance(ctx, inst, started)
	if errors.Is(err, repo.ErrAlreadyExists) {
		existing, getErr := c.store.GetInstance(ctx, id)
		if getErr != nil {
			return nil, fmt.Errorf("get existing instance: %w", getErr)
		}
		if existing.Name != name {
			return nil, fmt.Errorf("%w: instance %s already runs %s", ErrValidation, id, existing.Name)
		}
		log.Debug("instance already exists")
		return &Handle{InstanceID: id, Name: name}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("create instance: %w", err)
	}

	telemetry.InstancesStartedTotal.WithLabelValues(name).Inc()
	log.Info("started orchestration")

	c.notify(ctx, id, mq.ReasonStarted)

	return &Handle{InstanceID: id, Name: name, Created: true}, nil
}

// GetStatus возвращает instance по ID.
func (c *Client) GetStatus(ctx context.Context, id string) (*domain.Instance, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: instance id is required", ErrValidation)
	}
	inst, err := c.store.GetInstance(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrInstanceNotFound, id)
	}
	return inst, err
}

// History возвращает журнал instance.
func (c *Client) History(ctx context.Context, id string) ([]domain.HistoryEvent, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: instance id is required", ErrValidation)
	}
	history, err := c.store.LoadHistory(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrInstanceNotFound, id)
	}
	return history, err
}

// ListActiveInstances возвращает ленивую последовательность незавершённых
// instances (все статусы, кроме COMPLETED).
//
// Последовательность одноразовая: повторный обход отдаёт ErrSequenceConsumed.
// Каждая отданная запись (копия) передаётся в AuditSink.
func (c *Client) ListActiveInstances(ctx context.Context) iter.Seq2[domain.Instance, error] {
	var consumed atomic.Bool
	filter := repo.InstanceFilter{Exclude: []domain.InstanceStatus{domain.InstanceStatusCompleted}}

	return func(yield func(domain.Instance, error) bool) {
		if !consumed.CompareAndSwap(false, true) {
			yield(domain.Instance{}, ErrSequenceConsumed)
			return
		}

		err := c.store.ScanInstances(ctx, filter, func(inst domain.Instance) bool {
			c.audit.Record(ctx, copyInstance(inst))
			return yield(inst, nil)
		})
		if err != nil {
			yield(domain.Instance{}, err)
		}
	}
}

// Terminate запрашивает остановку instance.
//
// Пустой ID, неизвестный или финальный instance дают OutcomeNoOp без ошибки.
// Сам переход в TERMINATED выполняет worker при следующем execution.
func (c *Client) Terminate(ctx context.Context, id, reason string) (Outcome, error) {
	if id == "" {
		telemetry.TerminationsTotal.WithLabelValues(string(OutcomeNoOp)).Inc()
		return OutcomeNoOp, nil
	}
	if reason == "" {
		reason = DefaultTerminateReason
	}

	log := telemetry.WithInstanceID(c.logger, id)

	err := c.store.RequestTermination(ctx, id, reason)
	if errors.Is(err, repo.ErrNotFound) || errors.Is(err, repo.ErrInvalidState) {
		log.Debug("terminate ignored", "reason", err)
		telemetry.TerminationsTotal.WithLabelValues(string(OutcomeNoOp)).Inc()
		return OutcomeNoOp, nil
	}
	if err != nil {
		return "", fmt.Errorf("request termination: %w", err)
	}

	telemetry.TerminationsTotal.WithLabelValues(string(OutcomeSignaled)).Inc()
	log.Info("terminate requested", "reason", reason)

	c.notify(ctx, id, mq.ReasonTerminated)
	return OutcomeSignaled, nil
}

func (c *Client) notify(ctx context.Context, id, reason string) {
	if c.notifier == nil {
		return
	}
	if err := c.notifier.NotifyInstance(ctx, id, reason); err != nil {
		c.logger.Warn("failed to publish instance.work",
			"instance_id", id,
			"reason", reason,
			"error", err,
		)
	}
}

func copyInstance(inst domain.Instance) domain.Instance {
	inst.Input = append(json.RawMessage(nil), inst.Input...)
	inst.Output = append(json.RawMessage(nil), inst.Output...)
	if inst.CompletedAt != nil {
		t := *inst.CompletedAt
		inst.CompletedAt = &t
	}
	return inst
}

func marshalInput(input any) (json.RawMessage, error) {
	switch v := input.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		if len(v) == 0 || string(v) == "null" {
			return nil, nil
		}
		if !json.Valid(v) {
			return nil, fmt.Errorf("%w: input is not valid JSON", ErrValidation)
		}
		return v, nil
	}

	data, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal input: %v", ErrValidation, err)
	}
	return data, nil
}
