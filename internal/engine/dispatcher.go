package engine

import (
	"encoding/json"
	"fmt"

	"github.com/shaiso/Durable/internal/domain"
)

// Action — решение execution запустить sub-orchestration.
//
// Actions копятся в Context и фиксируются вызывающим кодом атомарно
// вместе с событиями истории (SubOrchestrationScheduled).
type Action struct {
	TaskID     int
	Name       string
	InstanceID string
	Input      json.RawMessage
}

// Dispatcher проверяет вызов sub-orchestration и строит Action.
//
// Dispatcher ничего не пишет в хранилище: запуск дочернего instance
// происходит только после коммита execution, иначе replay после падения
// мог бы запустить его дважды.
type Dispatcher struct {
	registry *Registry
}

// NewDispatcher создаёт Dispatcher поверх реестра.
func NewDispatcher(registry *Registry) *Dispatcher {
	return &Dispatcher{registry: registry}
}

// Dispatch строит Action для вызова name из parentID.
//
// Вход сериализуется сразу: Action хранит собственную копию, поэтому
// последующие изменения значения вызывающим кодом на неё не влияют.
func (d *Dispatcher) Dispatch(parentID string, taskID int, name string, input any) (Action, error) {
	if !d.registry.Has(name) {
		return Action{}, fmt.Errorf("%w: %s", ErrOrchestrationNotFound, name)
	}

	var raw json.RawMessage
	if input != nil {
		data, err := json.Marshal(input)
		if err != nil {
			return Action{}, fmt.Errorf("marshal input for %s: %w", name, err)
		}
		raw = data
	}

	return Action{
		TaskID:     taskID,
		Name:       name,
		InstanceID: domain.SubOrchestrationID(parentID, taskID),
		Input:      raw,
	}, nil
}
