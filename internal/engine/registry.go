package engine

import (
	"fmt"
	"sort"
	"sync"
)

// Orchestration — durable функция, выполняемая движком.
//
// Run вызывается повторно при каждом новом событии истории, поэтому обязан
// быть детерминированным: никакого времени, случайности и I/O напрямую.
// Все побочные эффекты выражаются через Context.CallSubOrchestration.
type Orchestration interface {
	// Name возвращает имя в реестре.
	Name() string

	// Run выполняет body. Результат сериализуется в JSON как output instance.
	Run(ctx *Context) (any, error)
}

// Func — адаптер функции к Orchestration.
type Func struct {
	name string
	fn   func(ctx *Context) (any, error)
}

// NewFunc создаёт Orchestration из функции.
func NewFunc(name string, fn func(ctx *Context) (any, error)) *Func {
	return &Func{name: name, fn: fn}
}

// Name возвращает имя orchestration.
func (f *Func) Name() string { return f.name }

// Run вызывает функцию.
func (f *Func) Run(ctx *Context) (any, error) { return f.fn(ctx) }

// Registry — реестр orchestration по имени.
// Потокобезопасен.
type Registry struct {
	mu    sync.RWMutex
	items map[string]Orchestration
}

// NewRegistry создаёт пустой реестр.
func NewRegistry() *Registry {
	return &Registry{
		items: make(map[string]Orchestration),
	}
}

// Register регистрирует orchestration.
// Возвращает ErrDuplicateOrchestration, если имя занято.
func (r *Registry) Register(o Orchestration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[o.Name()]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateOrchestration, o.Name())
	}
	r.items[o.Name()] = o
	return nil
}

// MustRegister — как Register, но паникует при ошибке.
func (r *Registry) MustRegister(o Orchestration) {
	if err := r.Register(o); err != nil {
		panic(err)
	}
}

// Get возвращает orchestration по имени.
// Возвращает ErrOrchestrationNotFound, если имя не зарегистрировано.
func (r *Registry) Get(name string) (Orchestration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	o, exists := r.items[name]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrOrchestrationNotFound, name)
	}
	return o, nil
}

// Has проверяет, зарегистрировано ли имя.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.items[name]
	return exists
}

// Names возвращает отсортированный список зарегистрированных имён.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.items))
	for name := range r.items {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
