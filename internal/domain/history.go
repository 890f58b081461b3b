package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType — тип события в истории instance.
type EventType string

// Типы событий истории.
const (
	// EventExecutionStarted — instance создан (первое событие истории).
	EventExecutionStarted EventType = "ExecutionStarted"

	// EventSubOrchestrationScheduled — execution запланировал sub-orchestration.
	EventSubOrchestrationScheduled EventType = "SubOrchestrationScheduled"

	// EventSubOrchestrationCompleted — дочерний instance завершился успешно.
	EventSubOrchestrationCompleted EventType = "SubOrchestrationCompleted"

	// EventSubOrchestrationFailed — дочерний instance завершился ошибкой или был остановлен.
	EventSubOrchestrationFailed EventType = "SubOrchestrationFailed"

	// EventExecutionTerminated — получен запрос terminate.
	EventExecutionTerminated EventType = "ExecutionTerminated"

	// EventExecutionCompleted — orchestration вернула результат.
	EventExecutionCompleted EventType = "ExecutionCompleted"

	// EventExecutionFailed — orchestration вернула ошибку.
	EventExecutionFailed EventType = "ExecutionFailed"
)

// HistoryEvent — запись append-only журнала instance.
//
// Журнал строго упорядочен по Seq. Replay читает его с начала и
// восстанавливает все ранее принятые решения.
type HistoryEvent struct {
	InstanceID string          `json:"instance_id"`
	Seq        int             `json:"seq"`
	Type       EventType       `json:"type"`
	Timestamp  time.Time       `json:"timestamp"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// ExecutionStartedPayload — payload EventExecutionStarted.
type ExecutionStartedPayload struct {
	Name     string          `json:"name"`
	Input    json.RawMessage `json:"input,omitempty"`
	ParentID string          `json:"parent_id,omitempty"`
}

// SubOrchestrationScheduledPayload — payload EventSubOrchestrationScheduled.
type SubOrchestrationScheduledPayload struct {
	TaskID     int             `json:"task_id"`
	Name       string          `json:"name"`
	InstanceID string          `json:"instance_id"`
	Input      json.RawMessage `json:"input,omitempty"`
}

// SubOrchestrationCompletedPayload — payload EventSubOrchestrationCompleted.
type SubOrchestrationCompletedPayload struct {
	TaskID int             `json:"task_id"`
	Result json.RawMessage `json:"result,omitempty"`
}

// SubOrchestrationFailedPayload — payload EventSubOrchestrationFailed.
type SubOrchestrationFailedPayload struct {
	TaskID int    `json:"task_id"`
	Error  string `json:"error"`
}

// ExecutionTerminatedPayload — payload EventExecutionTerminated.
type ExecutionTerminatedPayload struct {
	Reason string `json:"reason"`
}

// ExecutionCompletedPayload — payload EventExecutionCompleted.
type ExecutionCompletedPayload struct {
	Output json.RawMessage `json:"output,omitempty"`
}

// ExecutionFailedPayload — payload EventExecutionFailed.
type ExecutionFailedPayload struct {
	Error string `json:"error"`
}

// NewHistoryEvent создаёт событие с сериализованным payload.
// Seq назначается хранилищем при добавлении в журнал.
func NewHistoryEvent(instanceID string, eventType EventType, payload any) (HistoryEvent, error) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return HistoryEvent{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
		}
		raw = data
	}
	return HistoryEvent{
		InstanceID: instanceID,
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		Payload:    raw,
	}, nil
}

// MustHistoryEvent — как NewHistoryEvent, но паникует при ошибке.
// Используется для payload-структур этого пакета, которые всегда сериализуемы.
func MustHistoryEvent(instanceID string, eventType EventType, payload any) HistoryEvent {
	ev, err := NewHistoryEvent(instanceID, eventType, payload)
	if err != nil {
		panic(err)
	}
	return ev
}

// DecodePayload парсит payload события в указанный тип.
func DecodePayload[T any](ev HistoryEvent) (T, error) {
	var result T
	if len(ev.Payload) == 0 {
		return result, nil
	}
	if err := json.Unmarshal(ev.Payload, &result); err != nil {
		return result, fmt.Errorf("unmarshal %s payload: %w", ev.Type, err)
	}
	return result, nil
}
