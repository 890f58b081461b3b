package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// MessageType — тип сообщения в очереди.
type MessageType string

// Типы сообщений.
const (
	// MessageTypeInstanceWork — в истории instance появились новые события.
	MessageTypeInstanceWork MessageType = "instance.work"
)

// Причины уведомления.
const (
	ReasonStarted    = "started"
	ReasonScheduled  = "scheduled"
	ReasonChildDone  = "child_done"
	ReasonTerminated = "terminated"
)

// Message — сообщение для публикации.
type Message struct {
	// ID — уникальный идентификатор сообщения.
	ID string `json:"id"`

	// Type — тип сообщения.
	Type MessageType `json:"type"`

	// Payload — полезная нагрузка.
	Payload any `json:"payload"`

	// Timestamp — время создания.
	Timestamp time.Time `json:"timestamp"`
}

// InstanceWorkPayload — payload MessageTypeInstanceWork.
//
// Сообщение только будит worker: сама работа берётся из истории,
// поэтому дубликаты и потерянные сообщения безопасны.
type InstanceWorkPayload struct {
	InstanceID string `json:"instance_id"`
	Reason     string `json:"reason,omitempty"`
}

// NewInstanceWorkMessage создаёт сообщение для instance.
func NewInstanceWorkMessage(instanceID, reason string) *Message {
	return &Message{
		ID:        uuid.New().String(),
		Type:      MessageTypeInstanceWork,
		Payload:   InstanceWorkPayload{InstanceID: instanceID, Reason: reason},
		Timestamp: time.Now(),
	}
}

// Publisher публикует сообщения в RabbitMQ.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPublisher создаёт новый Publisher.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		conn:   conn,
		logger: logger,
	}
}

// Publish публикует сообщение в указанный exchange с routing key.
func (p *Publisher) Publish(ctx context.Context, exchange Exchange, routingKey RoutingKey, msg *Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	return p.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		err := ch.PublishWithContext(
			ctx,
			string(exchange),   // exchange
			string(routingKey), // routing key
			false,
			false,
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent,
				MessageId:    msg.ID,
				Timestamp:    msg.Timestamp,
				Body:         body,
			},
		)
		if err != nil {
			return fmt.Errorf("publish to %s/%s: %w", exchange, routingKey, err)
		}

		p.logger.Debug("published message",
			"exchange", exchange,
			"routing_key", routingKey,
			"message_id", msg.ID,
			"type", msg.Type,
		)
		return nil
	})
}

// PublishInstanceWork публикует уведомление о работе для instance.
// Потребитель: Worker.
func (p *Publisher) PublishInstanceWork(ctx context.Context, instanceID, reason string) error {
	return p.Publish(ctx, ExchangeInstances, RoutingKeyWork, NewInstanceWorkMessage(instanceID, reason))
}

// NotifyInstance реализует Notifier.
func (p *Publisher) NotifyInstance(ctx context.Context, instanceID, reason string) error {
	return p.PublishInstanceWork(ctx, instanceID, reason)
}
