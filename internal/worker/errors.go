package worker

import "errors"

// Ошибки воркера.
var (
	// ErrInstanceNotFound — instance не найден в хранилище.
	ErrInstanceNotFound = errors.New("instance not found")

	// ErrInstanceBusy — instance уже выполняется в этом процессе.
	// Повторный запуск будет выполнен держателем после текущего execution.
	ErrInstanceBusy = errors.New("instance is being processed")

	// ErrWorkerStopped — воркер остановлен.
	ErrWorkerStopped = errors.New("worker stopped")
)
