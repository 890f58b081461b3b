package orchestrator

import (
	"fmt"

	"github.com/shaiso/Durable/internal/domain"
	"github.com/shaiso/Durable/internal/engine"
)

// ChannelOrchestrationName возвращает имя sub-orchestration канала.
func ChannelOrchestrationName(channel string) string {
	return "send_" + channel + "_message"
}

// Channel — sub-orchestration доставки через один канал.
//
// Сама доставка — внешний коллаборатор и здесь не выполняется:
// orchestration фиксирует вызов и возвращает пустой результат.
type Channel struct {
	channel string
}

// NewChannel создаёт sub-orchestration для канала.
func NewChannel(channel string) *Channel {
	return &Channel{channel: channel}
}

// Name возвращает имя orchestration.
func (c *Channel) Name() string { return ChannelOrchestrationName(c.channel) }

// Run выполняет body.
func (c *Channel) Run(ctx *engine.Context) (any, error) {
	var in domain.SubOrchestrationInput
	if err := ctx.Input(&in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	attrs := []any{
		"channel", c.channel,
		"message_id", in.MessageStatus.MessageID,
		"parent_instance_id", in.ParentInstanceID,
	}

	ctx.Logger().Info("sub-orchestration started", attrs...)
	ctx.BaseLogger().Info("sub-orchestration finished", attrs...)

	return "", nil
}
