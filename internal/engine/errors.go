package engine

import (
	"errors"
	"fmt"
)

// Ошибки выполнения orchestration.
var (
	// ErrSuspended — execution ожидает результатов sub-orchestration.
	// Не является ошибкой orchestration: body должен вернуть её наверх как есть.
	ErrSuspended = errors.New("orchestration suspended")

	// ErrTerminated — в истории есть запрос terminate.
	// Возвращается в точке ожидания, после неё ничего не планируется.
	ErrTerminated = errors.New("orchestration terminated")

	// ErrNonDeterministic — replay разошёлся с записанной историей.
	ErrNonDeterministic = errors.New("non-deterministic orchestration")

	// ErrOrchestrationNotFound — имя не зарегистрировано в реестре.
	ErrOrchestrationNotFound = errors.New("orchestration not found")

	// ErrDuplicateOrchestration — имя уже зарегистрировано.
	ErrDuplicateOrchestration = errors.New("orchestration already registered")

	// ErrSubOrchestrationFailed — дочерний instance завершился не успешно.
	ErrSubOrchestrationFailed = errors.New("sub-orchestration failed")

	// ErrMalformedHistory — событие истории не удалось разобрать.
	ErrMalformedHistory = errors.New("malformed history")
)

// SubOrchestrationError — ошибка дочернего instance с контекстом.
type SubOrchestrationError struct {
	TaskID     int    // порядковый номер вызова в родителе
	Name       string // имя sub-orchestration
	InstanceID string // ID дочернего instance
	Message    string // текст ошибки из истории
}

// Error реализует интерфейс error.
func (e *SubOrchestrationError) Error() string {
	return fmt.Sprintf("sub-orchestration %s (%s): %s", e.Name, e.InstanceID, e.Message)
}

// Unwrap возвращает ErrSubOrchestrationFailed.
func (e *SubOrchestrationError) Unwrap() error {
	return ErrSubOrchestrationFailed
}
