package domain

// InstanceStatus — статус orchestration instance.
//
// Жизненный цикл:
//
//	PENDING → RUNNING → COMPLETED
//	                  ↘ FAILED
//	          (или) → TERMINATED (из PENDING или RUNNING)
//
// Из финального статуса переходов нет.
type InstanceStatus string

const (
	// InstanceStatusPending — instance создан, execution ещё не начался.
	InstanceStatusPending InstanceStatus = "PENDING"

	// InstanceStatusRunning — coordinator выполняет orchestration.
	InstanceStatusRunning InstanceStatus = "RUNNING"

	// InstanceStatusCompleted — orchestration успешно завершилась.
	InstanceStatusCompleted InstanceStatus = "COMPLETED"

	// InstanceStatusFailed — orchestration завершилась с ошибкой.
	InstanceStatusFailed InstanceStatus = "FAILED"

	// InstanceStatusTerminated — instance остановлен через terminate.
	InstanceStatusTerminated InstanceStatus = "TERMINATED"
)

// IsTerminal возвращает true, если статус финальный.
func (s InstanceStatus) IsTerminal() bool {
	switch s {
	case InstanceStatusCompleted, InstanceStatusFailed, InstanceStatusTerminated:
		return true
	default:
		return false
	}
}

// IsValid проверяет, что статус известен.
func (s InstanceStatus) IsValid() bool {
	switch s {
	case InstanceStatusPending, InstanceStatusRunning,
		InstanceStatusCompleted, InstanceStatusFailed, InstanceStatusTerminated:
		return true
	default:
		return false
	}
}

// CanTransitionTo проверяет допустимость перехода s → next.
// Переход в тот же нефинальный статус допустим (повторное сохранение RUNNING).
func (s InstanceStatus) CanTransitionTo(next InstanceStatus) bool {
	if s.IsTerminal() {
		return false
	}
	switch next {
	case InstanceStatusPending:
		return s == InstanceStatusPending
	case InstanceStatusRunning:
		return s == InstanceStatusPending || s == InstanceStatusRunning
	case InstanceStatusCompleted, InstanceStatusFailed, InstanceStatusTerminated:
		return true
	default:
		return false
	}
}

// String возвращает строковое представление InstanceStatus.
func (s InstanceStatus) String() string {
	return string(s)
}

// ParseInstanceStatus парсит строку в InstanceStatus.
// Пустая строка и неизвестные значения дают false.
func ParseInstanceStatus(s string) (InstanceStatus, bool) {
	status := InstanceStatus(s)
	return status, status.IsValid()
}
