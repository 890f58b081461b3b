package repo

import (
	"context"

	"github.com/shaiso/Durable/internal/domain"
)

// Store — durable хранилище instances и их истории.
//
// Реализации: PostgresStore (production) и MemoryStore (тесты, локальный запуск).
// Все методы потокобезопасны.
type Store interface {
	// CreateInstance сохраняет новый instance и первое событие истории.
	// Возвращает ErrAlreadyExists, если ID занят.
	CreateInstance(ctx context.Context, inst *domain.Instance, started domain.HistoryEvent) error

	// GetInstance возвращает instance по ID.
	GetInstance(ctx context.Context, id string) (*domain.Instance, error)

	// ScanInstances вызывает fn для каждого instance, подходящего под фильтр,
	// в порядке создания. Обход прекращается, когда fn возвращает false.
	ScanInstances(ctx context.Context, filter InstanceFilter, fn func(domain.Instance) bool) error

	// LoadHistory возвращает полную историю instance, упорядоченную по Seq.
	LoadHistory(ctx context.Context, id string) ([]domain.HistoryEvent, error)

	// RequestTermination добавляет ExecutionTerminated в историю.
	// Возвращает ErrNotFound или ErrInvalidState для финального instance.
	RequestTermination(ctx context.Context, id, reason string) error

	// Commit атомарно фиксирует результат execution.
	Commit(ctx context.Context, c *Commit) error

	// ListRunnable возвращает ID нефинальных instances с необработанными событиями.
	ListRunnable(ctx context.Context, limit int) ([]string, error)
}

// InstanceFilter — параметры фильтрации instances.
type InstanceFilter struct {
	Status  domain.InstanceStatus   // только этот статус (пусто — любой)
	Exclude []domain.InstanceStatus // исключить эти статусы
	Name    string                  // только эта orchestration
	Limit   int                     // 0 — без ограничения
}

// Matches проверяет instance на соответствие фильтру (без учёта Limit).
func (f InstanceFilter) Matches(inst *domain.Instance) bool {
	if f.Status != "" && inst.Status != f.Status {
		return false
	}
	for _, s := range f.Exclude {
		if inst.Status == s {
			return false
		}
	}
	if f.Name != "" && inst.Name != f.Name {
		return false
	}
	return true
}

// Commit — результат одного execution.
//
// Применяется только если с момента загрузки instance не изменился:
// Checkpoint и длина истории совпадают с ожидаемыми. Иначе ErrConflict.
// После применения Instance.Checkpoint равен новой длине истории.
type Commit struct {
	// Instance — новое состояние instance (статус, output, error, reason).
	Instance *domain.Instance

	// ExpectedCheckpoint — Checkpoint на момент загрузки.
	ExpectedCheckpoint int

	// ExpectedHistoryLen — длина истории на момент загрузки.
	ExpectedHistoryLen int

	// Events — новые события истории instance.
	Events []domain.HistoryEvent

	// Children — дочерние instances, запланированные execution.
	// Уже существующие пропускаются.
	Children []Child

	// ParentEvents — события для истории родителя (Instance.ParentID).
	ParentEvents []domain.HistoryEvent
}

// Child — новый дочерний instance и его первое событие.
type Child struct {
	Instance *domain.Instance
	Started  domain.HistoryEvent
}
