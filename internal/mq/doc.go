// Package mq предоставляет очередь уведомлений о работе для instances.
//
// Структура:
//   - connection.go — соединение с RabbitMQ (reconnect, graceful shutdown)
//   - topology.go   — объявление exchanges, queues, bindings
//   - publisher.go  — публикация уведомлений instance.work
//   - consumer.go   — потребление из RabbitMQ с ack/nack
//   - memory.go     — MemoryQueue с той же семантикой для тестов и STORE=memory
//
// Сообщение только будит worker для instance: вся работа восстанавливается
// из истории, поэтому доставка at-least-once безопасна.
//
// Exchanges:
//   - durable.instances — уведомления instance.work
//   - durable.dlq       — dead letter queue
package mq
