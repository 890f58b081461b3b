package engine

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Outcome — исход одного execution.
type Outcome string

const (
	// OutcomeSuspended — body ждёт результатов sub-orchestration.
	OutcomeSuspended Outcome = "suspended"

	// OutcomeCompleted — body вернул результат.
	OutcomeCompleted Outcome = "completed"

	// OutcomeFailed — body вернул ошибку или запаниковал.
	OutcomeFailed Outcome = "failed"

	// OutcomeTerminated — instance остановлен по запросу terminate.
	OutcomeTerminated Outcome = "terminated"
)

// Result — результат Execute.
type Result struct {
	Outcome Outcome

	// Output — JSON результата (OutcomeCompleted).
	Output json.RawMessage

	// Err — ошибка body (OutcomeFailed).
	Err error

	// Reason — причина terminate (OutcomeTerminated).
	Reason string

	// Actions — новые вызовы sub-orchestration, которые нужно зафиксировать.
	// Для OutcomeTerminated всегда пусто.
	Actions []Action
}

// Execute выполняет один execution orchestration над восстановленным Context.
//
// Правила классификации:
//   - в истории есть terminate → OutcomeTerminated, body не вызывается
//   - ErrSuspended → OutcomeSuspended
//   - ErrTerminated → OutcomeTerminated
//   - любая другая ошибка или panic → OutcomeFailed
//   - nil → OutcomeCompleted
//
// Вызовы, запланированные до ошибки, остаются в Actions: уже принятые
// решения не отменяются.
func Execute(o Orchestration, c *Context) (res Result) {
	if c.terminated {
		return Result{Outcome: OutcomeTerminated, Reason: c.reason}
	}

	defer func() {
		if r := recover(); r != nil {
			res = Result{
				Outcome: OutcomeFailed,
				Err:     fmt.Errorf("orchestration %s panicked: %v", o.Name(), r),
				Actions: c.Actions(),
			}
		}
	}()

	out, err := o.Run(c)

	switch {
	case errors.Is(err, ErrSuspended):
		return Result{Outcome: OutcomeSuspended, Actions: c.Actions()}

	case errors.Is(err, ErrTerminated):
		return Result{Outcome: OutcomeTerminated, Reason: c.reason}

	case err != nil:
		return Result{Outcome: OutcomeFailed, Err: err, Actions: c.Actions()}
	}

	var output json.RawMessage
	if out != nil {
		data, err := json.Marshal(out)
		if err != nil {
			return Result{
				Outcome: OutcomeFailed,
				Err:     fmt.Errorf("marshal output of %s: %w", o.Name(), err),
				Actions: c.Actions(),
			}
		}
		output = data
	}

	return Result{Outcome: OutcomeCompleted, Output: output, Actions: c.Actions()}
}
