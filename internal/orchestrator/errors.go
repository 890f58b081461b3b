package orchestrator

import "errors"

// Ошибки orchestration.
var (
	// ErrExecution — раунд fan-out завершился с ошибками дочерних instance.
	ErrExecution = errors.New("orchestration execution failed")

	// ErrInvalidInput — вход orchestration не удалось разобрать.
	ErrInvalidInput = errors.New("invalid orchestration input")

	// ErrInvalidConfig — невалидная конфигурация каналов.
	ErrInvalidConfig = errors.New("invalid orchestrator config")
)
