// Package worker выполняет orchestration instances.
//
// # Обзор
//
// Worker — host runtime системы Durable. Он не хранит состояния между
// execution: всё восстанавливается из истории instance. Worker отвечает за:
//
//   - Получение уведомлений instance.work (RabbitMQ или MemoryQueue)
//   - Периодическую проверку instances с необработанной историей (polling fallback)
//   - Replay истории и выполнение body orchestration через engine.Execute
//   - Атомарный commit: события, статус, дочерние instances, событие родителю
//   - Передачу terminate незавершённым дочерним instances
//
// Workers масштабируются горизонтально — несколько экземпляров работают
// с одним хранилищем. Commit оптимистичен: при ErrConflict execution
// повторяется над свежей историей.
//
// # Использование
//
//	w := worker.New(worker.Config{
//	    Store:    store,
//	    Registry: registry,
//	    Notifier: publisher,
//	    Conn:     mqConn,
//	    Logger:   logger,
//	})
//
//	if err := w.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer w.Stop()
//
// # Execution
//
//  1. Загрузка instance, пропуск финального
//  2. Загрузка истории, пропуск если новых событий нет
//  3. PENDING → RUNNING
//  4. Replay + body (suspended / completed / failed / terminated)
//  5. Commit с проверкой Checkpoint и длины истории
//  6. Уведомление дочерних instances и родителя
//
// Один instance в процессе выполняется не более чем одной горутиной.
// Уведомление, пришедшее во время execution, приводит к повторному проходу.
package worker
