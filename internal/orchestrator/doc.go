// Package orchestrator содержит orchestration-функции приложения.
//
// Messaging — top-level orchestration: N раундов fan-out, в каждом по
// одному вызову sub-orchestration на канал доставки, затем ожидание всех
// вызовов раунда (WhenAll). Channel — sub-orchestration одного канала.
//
// Функции детерминированы и выполняются движком engine многократно,
// все побочные эффекты идут через engine.Context.
package orchestrator
