package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/shaiso/Durable/internal/client"
)

// ErrInvalidTrigger — некорректный trigger.
var ErrInvalidTrigger = errors.New("invalid trigger")

// Starter запускает instances. Реализуется client.Client.
type Starter interface {
	StartNew(ctx context.Context, name string, input any, opts client.StartOptions) (*client.Handle, error)
}

// Locker — leader election. TryLock возвращает true, если процесс лидер.
type Locker interface {
	TryLock(ctx context.Context) (bool, error)
}

// Trigger — cron trigger запуска orchestration.
type Trigger struct {
	Name          string
	Cron          string
	Orchestration string
	Input         json.RawMessage
}

type trigger struct {
	Trigger
	schedule cron.Schedule
	nextDue  time.Time
}

// Scheduler — планировщик, запускающий orchestration по расписанию.
type Scheduler struct {
	starter  Starter
	locker   Locker
	triggers []*trigger
	logger   *slog.Logger
	interval time.Duration

	mu sync.Mutex
}

// Config — конфигурация Scheduler.
type Config struct {
	Starter  Starter
	Locker   Locker // nil — процесс всегда лидер
	Triggers []Trigger
	Interval time.Duration // период тика (default: 1s)
	Logger   *slog.Logger

	// Now — время создания (для вычисления первого срабатывания).
	Now time.Time
}

// New создаёт новый Scheduler.
func New(cfg Config) (*Scheduler, error) {
	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Second
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	now := cfg.Now
	if now.IsZero() {
		now = time.Now()
	}

	s := &Scheduler{
		starter:  cfg.Starter,
		locker:   cfg.Locker,
		logger:   logger,
		interval: interval,
	}

	seen := make(map[string]bool, len(cfg.Triggers))
	for _, t := range cfg.Triggers {
		if t.Name == "" || t.Orchestration == "" {
			return nil, fmt.Errorf("%w: name and orchestration are required", ErrInvalidTrigger)
		}
		if seen[t.Name] {
			return nil, fmt.Errorf("%w: duplicate trigger %s", ErrInvalidTrigger, t.Name)
		}
		seen[t.Name] = true

		if len(t.Input) > 0 && !json.Valid(t.Input) {
			return nil, fmt.Errorf("%w: trigger %s: input is not valid JSON", ErrInvalidTrigger, t.Name)
		}

		schedule, err := ParseCron(t.Cron)
		if err != nil {
			return nil, fmt.Errorf("%w: trigger %s: %v", ErrInvalidTrigger, t.Name, err)
		}

		s.triggers = append(s.triggers, &trigger{
			Trigger:  t,
			schedule: schedule,
			nextDue:  NextDue(schedule, now),
		})
	}

	return s, nil
}

// Run вызывает Tick каждый интервал, пока процесс лидер.
func (s *Scheduler) Run(ctx context.Context) {
	tk := time.NewTicker(s.interval)
	defer tk.Stop()

	s.logger.Info("scheduler started", "triggers", len(s.triggers), "interval", s.interval)

	var leader bool
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-tk.C:
			if s.locker != nil {
				ok, err := s.locker.TryLock(ctx)
				if err != nil {
					s.logger.Error("leader lock failed", "error", err)
					continue
				}
				if ok != leader {
					s.logger.Info("leadership changed", "leader", ok)
					leader = ok
				}
				if !ok {
					continue
				}
			}

			if _, err := s.Tick(ctx, now); err != nil {
				s.logger.Error("scheduler tick failed", "error", err)
			}
		}
	}
}

// Tick запускает instances для всех trigger'ов со временем срабатывания <= now.
// Возвращает количество созданных instances.
//
// ID instance детерминирован по trigger и времени срабатывания, поэтому
// повтор тика (рестарт, смена лидера) не создаёт дубликатов.
// Ошибки одного trigger не блокируют остальные.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var created int
	var errs []error

	for _, t := range s.triggers {
		if t.nextDue.After(now) {
			continue
		}

		log := s.logger.With("trigger", t.Name, "due", t.nextDue)

		var input any
		if len(t.Input) > 0 {
			input = t.Input
		}

		handle, err := s.starter.StartNew(ctx, t.Orchestration, input, client.StartOptions{
			InstanceID: InstanceID(t.Name, t.nextDue),
		})
		if err != nil {
			log.Error("failed to start scheduled instance", "error", err)
			errs = append(errs, fmt.Errorf("trigger %s: %w", t.Name, err))
			// Следующий тик повторит попытку с тем же ID
			continue
		}

		if handle.Created {
			created++
			log.Info("started scheduled instance", "instance_id", handle.InstanceID)
		} else {
			log.Debug("scheduled instance already exists", "instance_id", handle.InstanceID)
		}

		t.nextDue = NextDue(t.schedule, now)
	}

	return created, errors.Join(errs...)
}

// NextRuns возвращает следующее время срабатывания каждого trigger.
func (s *Scheduler) NextRuns() map[string]time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]time.Time, len(s.triggers))
	for _, t := range s.triggers {
		out[t.Name] = t.nextDue
	}
	return out
}
