package repo

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shaiso/Durable/internal/domain"
)

// MemoryStore — Store в памяти процесса.
//
// Используется в тестах и в режиме STORE=memory. Все изменения
// выполняются под одним мьютексом, поэтому Commit атомарен.
type MemoryStore struct {
	mu        sync.RWMutex
	instances map[string]*domain.Instance
	history   map[string][]domain.HistoryEvent
}

// NewMemoryStore создаёт пустой MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		instances: make(map[string]*domain.Instance),
		history:   make(map[string][]domain.HistoryEvent),
	}
}

var _ Store = (*MemoryStore)(nil)

// CreateInstance сохраняет новый instance.
func (s *MemoryStore) CreateInstance(_ context.Context, inst *domain.Instance, started domain.HistoryEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.instances[inst.ID]; exists {
		return fmt.Errorf("%w: instance %s", ErrAlreadyExists, inst.ID)
	}
	s.insertLocked(inst, started)
	return nil
}

func (s *MemoryStore) insertLocked(inst *domain.Instance, started domain.HistoryEvent) {
	stored := cloneInstance(inst)
	stored.Checkpoint = 0
	s.instances[inst.ID] = stored
	s.history[inst.ID] = nil
	s.appendLocked(inst.ID, []domain.HistoryEvent{started})
}

// appendLocked дописывает события, назначая Seq.
func (s *MemoryStore) appendLocked(id string, events []domain.HistoryEvent) {
	h := s.history[id]
	for _, ev := range events {
		ev.InstanceID = id
		ev.Seq = len(h)
		if ev.Timestamp.IsZero() {
			ev.Timestamp = time.Now().UTC()
		}
		h = append(h, ev)
	}
	s.history[id] = h
}

// GetInstance возвращает копию instance.
func (s *MemoryStore) GetInstance(_ context.Context, id string) (*domain.Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inst, ok := s.instances[id]
	if !ok {
		return nil, fmt.Errorf("%w: instance %s", ErrNotFound, id)
	}
	return cloneInstance(inst), nil
}

// ScanInstances обходит снимок instances, сделанный на момент вызова.
func (s *MemoryStore) ScanInstances(ctx context.Context, filter InstanceFilter, fn func(domain.Instance) bool) error {
	s.mu.RLock()
	snapshot := make([]domain.Instance, 0, len(s.instances))
	for _, inst := range s.instances {
		if filter.Matches(inst) {
			snapshot = append(snapshot, *cloneInstance(inst))
		}
	}
	s.mu.RUnlock()

	sort.Slice(snapshot, func(i, j int) bool {
		if snapshot[i].CreatedAt.Equal(snapshot[j].CreatedAt) {
			return snapshot[i].ID < snapshot[j].ID
		}
		return snapshot[i].CreatedAt.Before(snapshot[j].CreatedAt)
	})

	for i, inst := range snapshot {
		if filter.Limit > 0 && i >= filter.Limit {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !fn(inst) {
			return nil
		}
	}
	return nil
}

// LoadHistory возвращает копию истории.
func (s *MemoryStore) LoadHistory(_ context.Context, id string) ([]domain.HistoryEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.instances[id]; !ok {
		return nil, fmt.Errorf("%w: instance %s", ErrNotFound, id)
	}
	h := s.history[id]
	out := make([]domain.HistoryEvent, len(h))
	copy(out, h)
	return out, nil
}

// RequestTermination добавляет запрос terminate в историю.
func (s *MemoryStore) RequestTermination(_ context.Context, id, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inst, ok := s.instances[id]
	if !ok {
		return fmt.Errorf("%w: instance %s", ErrNotFound, id)
	}
	if inst.IsFinished() {
		return fmt.Errorf("%w: instance %s is %s", ErrInvalidState, id, inst.Status)
	}

	ev, err := domain.NewHistoryEvent(id, domain.EventExecutionTerminated, domain.ExecutionTerminatedPayload{Reason: reason})
	if err != nil {
		return err
	}
	s.appendLocked(id, []domain.HistoryEvent{ev})
	inst.TerminationRequested = true
	inst.LastUpdatedAt = time.Now().UTC()
	return nil
}

// Commit атомарно применяет результат execution.
func (s *MemoryStore) Commit(_ context.Context, c *Commit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := c.Instance.ID
	cur, ok := s.instances[id]
	if !ok {
		return fmt.Errorf("%w: instance %s", ErrNotFound, id)
	}
	if cur.Checkpoint != c.ExpectedCheckpoint || len(s.history[id]) != c.ExpectedHistoryLen {
		return fmt.Errorf("%w: instance %s", ErrConflict, id)
	}
	if !cur.Status.CanTransitionTo(c.Instance.Status) {
		return fmt.Errorf("%w: instance %s: %s → %s", ErrInvalidState, id, cur.Status, c.Instance.Status)
	}

	s.appendLocked(id, c.Events)

	next := cloneInstance(c.Instance)
	next.Checkpoint = len(s.history[id])
	s.instances[id] = next
	c.Instance.Checkpoint = next.Checkpoint

	for _, child := range c.Children {
		if _, exists := s.instances[child.Instance.ID]; exists {
			continue
		}
		s.insertLocked(child.Instance, child.Started)
	}

	if len(c.ParentEvents) > 0 && next.ParentID != "" {
		if _, exists := s.instances[next.ParentID]; exists {
			s.appendLocked(next.ParentID, c.ParentEvents)
			s.instances[next.ParentID].LastUpdatedAt = time.Now().UTC()
		}
	}
	return nil
}

// ListRunnable возвращает нефинальные instances с новыми событиями.
func (s *MemoryStore) ListRunnable(_ context.Context, limit int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var runnable []*domain.Instance
	for id, inst := range s.instances {
		if !inst.IsFinished() && len(s.history[id]) > inst.Checkpoint {
			runnable = append(runnable, inst)
		}
	}
	sort.Slice(runnable, func(i, j int) bool {
		return runnable[i].LastUpdatedAt.Before(runnable[j].LastUpdatedAt)
	})

	ids := make([]string, 0, len(runnable))
	for _, inst := range runnable {
		if limit > 0 && len(ids) >= limit {
			break
		}
		ids = append(ids, inst.ID)
	}
	return ids, nil
}

// Len возвращает количество instances.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.instances)
}

func cloneInstance(inst *domain.Instance) *domain.Instance {
	c := *inst
	if inst.Input != nil {
		c.Input = append([]byte(nil), inst.Input...)
	}
	if inst.Output != nil {
		c.Output = append([]byte(nil), inst.Output...)
	}
	if inst.CompletedAt != nil {
		t := *inst.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}
