package engine

import (
	"encoding/json"
	"errors"
)

// Future — handle запланированного вызова sub-orchestration.
//
// Future разрешается только из истории: результат появляется, когда
// в журнале родителя есть SubOrchestrationCompleted или SubOrchestrationFailed
// с тем же TaskID.
type Future struct {
	taskID     int
	name       string
	instanceID string

	done   bool
	result json.RawMessage
	err    error
}

// TaskID возвращает порядковый номер вызова.
func (f *Future) TaskID() int { return f.taskID }

// Name возвращает имя вызванной orchestration.
func (f *Future) Name() string { return f.name }

// InstanceID возвращает ID дочернего instance.
func (f *Future) InstanceID() string { return f.instanceID }

// IsDone возвращает true, если результат уже есть в истории.
func (f *Future) IsDone() bool { return f.done }

// Err возвращает ошибку дочернего instance (nil, если успех или ещё не готов).
func (f *Future) Err() error { return f.err }

// Result возвращает результат как строку.
// Если результат ещё не получен, возвращает ErrSuspended.
func (f *Future) Result() (string, error) {
	if !f.done {
		return "", ErrSuspended
	}
	if f.err != nil {
		return "", f.err
	}
	return decodeString(f.result), nil
}

func (f *Future) resolve(result json.RawMessage) {
	f.done = true
	f.result = result
}

func (f *Future) fail(msg string) {
	f.done = true
	f.err = &SubOrchestrationError{
		TaskID:     f.taskID,
		Name:       f.name,
		InstanceID: f.instanceID,
		Message:    msg,
	}
}

// decodeString превращает JSON-результат в строку.
// JSON-строка раскрывается, прочие значения возвращаются как текст.
func decodeString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// WhenAll — барьер ожидания всех futures.
//
// Пока хотя бы один future не разрешён, возвращает ErrSuspended.
// Когда разрешены все, возвращает результаты в порядке аргументов и
// все ошибки дочерних instance, объединённые через errors.Join.
// Ошибка одного вызова не отменяет остальные: барьер ждёт всех.
func (c *Context) WhenAll(futures ...*Future) ([]string, error) {
	if c.terminated {
		return nil, ErrTerminated
	}

	for _, f := range futures {
		if f == nil {
			return nil, errors.New("when all: nil future")
		}
		if !f.done {
			return nil, ErrSuspended
		}
	}

	results := make([]string, len(futures))
	var errs []error
	for i, f := range futures {
		if f.err != nil {
			errs = append(errs, f.err)
			continue
		}
		results[i] = decodeString(f.result)
	}
	return results, errors.Join(errs...)
}
