// Package scheduler запускает orchestration по cron-расписанию.
//
// Структура:
//   - scheduler.go — Scheduler (Run, Tick)
//   - cron.go      — парсинг cron-выражений и детерминированные ID instances
//
// Использование:
//
//	sched, err := scheduler.New(scheduler.Config{
//	    Starter:  durableClient,
//	    Locker:   repo.NewLeaderLock(pool, lockKey),
//	    Triggers: triggers,
//	    Logger:   logger,
//	})
//
//	go sched.Run(ctx)
//
// Leader Election:
//
// Run вызывает Tick только пока Locker подтверждает лидерство
// (pg_try_advisory_lock на выделенном соединении). Без Locker процесс
// считается лидером. Повтор тика безопасен: ID instance вычисляется из
// имени trigger и времени срабатывания.
package scheduler
