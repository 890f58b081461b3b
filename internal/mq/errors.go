package mq

import "errors"

// Ошибки очереди.
var (
	// ErrNoChannel — AMQP канал недоступен (нет соединения).
	ErrNoChannel = errors.New("no channel available")

	// ErrPermanent — обработка не удастся при повторе.
	// Consumer отклоняет такое сообщение без requeue (в DLQ).
	ErrPermanent = errors.New("permanent message failure")

	// ErrQueueClosed — очередь в памяти закрыта.
	ErrQueueClosed = errors.New("queue closed")

	// ErrQueueFull — буфер очереди в памяти заполнен.
	ErrQueueFull = errors.New("queue full")
)
