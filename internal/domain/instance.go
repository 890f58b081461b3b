package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Instance — одно durable выполнение orchestration.
//
// Instance создаётся когда:
//   - Клиент запускает orchestration (HTTP/CLI/scheduler)
//   - Родительский instance планирует sub-orchestration
//
// Состояние execution не хранится в Instance: оно каждый раз
// восстанавливается replay'ем истории (HistoryEvent) до Checkpoint.
type Instance struct {
	// ID — уникальный идентификатор instance. Не меняется после создания.
	// Для top-level instance — UUID, для дочерних — "<parentID>:<taskID>".
	ID string `json:"id"`

	// Name — имя orchestration в реестре.
	Name string `json:"name"`

	// Status — текущий статус.
	Status InstanceStatus `json:"status"`

	// Input — входные данные (JSON). Nil для запуска без входа.
	Input json.RawMessage `json:"input,omitempty"`

	// Output — результат orchestration (JSON), заполняется при COMPLETED.
	Output json.RawMessage `json:"output,omitempty"`

	// Error — текст ошибки при FAILED.
	Error string `json:"error,omitempty"`

	// Reason — причина остановки при TERMINATED.
	Reason string `json:"reason,omitempty"`

	// ParentID — родительский instance (пусто для top-level).
	// Дочерний instance хранится отдельно, но жизненный цикл принадлежит родителю.
	ParentID string `json:"parent_id,omitempty"`

	// Checkpoint — количество событий истории, обработанных последним execution.
	// События с Seq >= Checkpoint — новые.
	Checkpoint int `json:"checkpoint"`

	// TerminationRequested — получен запрос terminate, ещё не обработан.
	TerminationRequested bool `json:"termination_requested,omitempty"`

	// CreatedAt — время создания.
	CreatedAt time.Time `json:"created_at"`

	// LastUpdatedAt — время последнего изменения.
	LastUpdatedAt time.Time `json:"last_updated_at"`

	// CompletedAt — время перехода в финальный статус.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// NewInstance создаёт instance в статусе PENDING.
func NewInstance(id, name string, input json.RawMessage, parentID string) *Instance {
	now := time.Now().UTC()
	return &Instance{
		ID:            id,
		Name:          name,
		Status:        InstanceStatusPending,
		Input:         input,
		ParentID:      parentID,
		CreatedAt:     now,
		LastUpdatedAt: now,
	}
}

// IsFinished возвращает true, если instance в финальном статусе.
func (i *Instance) IsFinished() bool {
	return i.Status.IsTerminal()
}

// IsSubOrchestration возвращает true для дочернего instance.
func (i *Instance) IsSubOrchestration() bool {
	return i.ParentID != ""
}

// Duration возвращает время от создания до завершения.
// Возвращает 0, если instance ещё не завершён.
func (i *Instance) Duration() time.Duration {
	if i.CompletedAt == nil {
		return 0
	}
	return i.CompletedAt.Sub(i.CreatedAt)
}

// Transition переводит instance в статус next.
// Возвращает ошибку, если переход нарушает монотонность.
func (i *Instance) Transition(next InstanceStatus) error {
	if !i.Status.CanTransitionTo(next) {
		return fmt.Errorf("instance %s: transition %s → %s not allowed", i.ID, i.Status, next)
	}
	now := time.Now().UTC()
	i.Status = next
	i.LastUpdatedAt = now
	if next.IsTerminal() {
		i.CompletedAt = &now
		i.TerminationRequested = false
	}
	return nil
}

// MarkRunning переводит instance в RUNNING.
func (i *Instance) MarkRunning() error {
	return i.Transition(InstanceStatusRunning)
}

// MarkCompleted переводит instance в COMPLETED с результатом.
func (i *Instance) MarkCompleted(output json.RawMessage) error {
	if err := i.Transition(InstanceStatusCompleted); err != nil {
		return err
	}
	i.Output = output
	return nil
}

// MarkFailed переводит instance в FAILED с ошибкой.
func (i *Instance) MarkFailed(errMsg string) error {
	if err := i.Transition(InstanceStatusFailed); err != nil {
		return err
	}
	i.Error = errMsg
	return nil
}

// MarkTerminated переводит instance в TERMINATED с причиной.
func (i *Instance) MarkTerminated(reason string) error {
	if err := i.Transition(InstanceStatusTerminated); err != nil {
		return err
	}
	i.Reason = reason
	return nil
}

// SubOrchestrationID формирует детерминированный ID дочернего instance.
// Повторный replay после падения даёт тот же ID, поэтому дубликатов нет.
func SubOrchestrationID(parentID string, taskID int) string {
	return fmt.Sprintf("%s:%d", parentID, taskID)
}

// ParseSubOrchestrationID разбирает ID дочернего instance на родителя и taskID.
// Для вложенных ID ("a:0:1") родителем считается всё до последнего ':'.
func ParseSubOrchestrationID(id string) (parentID string, taskID int, ok bool) {
	idx := strings.LastIndex(id, ":")
	if idx <= 0 || idx == len(id)-1 {
		return "", 0, false
	}
	n, err := strconv.Atoi(id[idx+1:])
	if err != nil || n < 0 {
		return "", 0, false
	}
	return id[:idx], n, true
}

// MessageStatus — статус доставки одного сообщения.
//
// Передаётся от родителя в sub-orchestration как часть входа.
// Копируется в каждый вызов, общий экземпляр не разделяется.
type MessageStatus struct {
	MessageID  string `json:"message_id"`
	InstanceID string `json:"instance_id"`
	Status     string `json:"status,omitempty"`
	Message    string `json:"message,omitempty"`
}

// SubOrchestrationInput — вход sub-orchestration: родитель и копия MessageStatus.
type SubOrchestrationInput struct {
	ParentInstanceID string        `json:"parent_instance_id"`
	MessageStatus    MessageStatus `json:"message_status"`
}

// WorkItem — единица работы одной итерации fan-out.
// Живёт только в памяти execution; в историю попадают только запланированные вызовы.
type WorkItem struct {
	MessageID string          `json:"message_id"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Status строит MessageStatus, который передаётся каждому каналу этой итерации.
func (w WorkItem) Status(instanceID string) MessageStatus {
	return MessageStatus{
		MessageID:  w.MessageID,
		InstanceID: instanceID,
	}
}
