package orchestrator

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/shaiso/Durable/internal/domain"
	"github.com/shaiso/Durable/internal/engine"
)

// NameMessaging — имя top-level orchestration по умолчанию.
const NameMessaging = "messaging"

// Значения по умолчанию.
const (
	DefaultCount = 2
)

// DefaultChannels — каналы доставки по умолчанию, в порядке вызова.
var DefaultChannels = []string{"line", "facebook"}

// MessagingInput — вход Messaging.
type MessagingInput struct {
	// Count переопределяет число раундов из конфигурации.
	Count *int `json:"count,omitempty"`
}

// Messaging — fan-out/join orchestration.
//
// Для каждого i в [0, count) строит MessageStatus{MessageID: i}, вызывает
// sub-orchestration каждого канала и ждёт завершения всех вызовов раунда.
// Ошибки раунда собираются целиком, соседние вызовы не отменяются.
type Messaging struct {
	count    int
	channels []string
}

// NewMessaging создаёт Messaging.
func NewMessaging(count int, channels []string) *Messaging {
	return &Messaging{
		count:    count,
		channels: append([]string(nil), channels...),
	}
}

// Name возвращает имя orchestration.
func (m *Messaging) Name() string { return NameMessaging }

// Run выполняет body.
// Результат — непустые результаты дочерних вызовов в порядке вызова.
func (m *Messaging) Run(ctx *engine.Context) (any, error) {
	var in MessagingInput
	if err := ctx.Input(&in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	count := m.count
	if in.Count != nil {
		if *in.Count < 0 {
			return nil, fmt.Errorf("%w: count must be >= 0, got %d", ErrInvalidInput, *in.Count)
		}
		count = *in.Count
	}

	log := ctx.Logger()
	log.Info("messaging orchestration started",
		"count", count,
		"channels", m.channels,
	)

	results := make([]string, 0)
	for i := 0; i < count; i++ {
		item := domain.WorkItem{MessageID: strconv.Itoa(i)}

		round, err := m.fanOut(ctx, item)
		if err != nil {
			return nil, err
		}

		for _, r := range round {
			if r != "" {
				results = append(results, r)
			}
		}
	}

	log.Info("messaging orchestration finished", "results", len(results))
	return results, nil
}

// fanOut вызывает все каналы для одного сообщения и ждёт их.
func (m *Messaging) fanOut(ctx *engine.Context, item domain.WorkItem) ([]string, error) {
	status := item.Status(ctx.InstanceID())

	futures := make([]*engine.Future, 0, len(m.channels))
	for _, channel := range m.channels {
		f, err := ctx.CallSubOrchestration(ChannelOrchestrationName(channel), domain.SubOrchestrationInput{
			ParentInstanceID: ctx.InstanceID(),
			MessageStatus:    status,
		})
		if err != nil {
			return nil, err
		}
		futures = append(futures, f)
	}

	results, err := ctx.WhenAll(futures...)
	if err != nil {
		if errors.Is(err, engine.ErrSuspended) || errors.Is(err, engine.ErrTerminated) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: message %s: %w", ErrExecution, status.MessageID, err)
	}
	return results, nil
}
