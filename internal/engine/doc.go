// Package engine содержит durable-движок выполнения orchestration.
//
// Включает:
//   - context.go    — Context: replay истории, планирование вызовов, IsReplaying
//   - future.go     — Future и WhenAll (барьер ожидания всех вызовов)
//   - logger.go     — slog.Handler, подавляющий записи во время replay
//   - registry.go   — реестр orchestration по имени
//   - dispatcher.go — Dispatcher: проверка имени и ID дочернего instance
//   - execute.go    — Execute: один шаг execution и классификация исхода
//
// Execution детерминирован: body вызывается заново после каждого нового
// события истории и обязан принять те же решения в том же порядке.
// Ожидание выражено явным возвратом ErrSuspended, а не блокировкой горутины.
package engine
