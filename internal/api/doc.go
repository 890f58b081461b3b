// Package api содержит HTTP API сервер.
//
// Структура:
//   - handler.go          — Handler с DI (client, logger)
//   - routes.go           — регистрация маршрутов
//   - middleware.go       — middleware (logging, recovery)
//   - response.go         — унифицированные JSON-ответы и обработка ошибок
//   - dto.go              — Data Transfer Objects (request/response)
//   - instance_handler.go — запуск, статус, история и terminate instances
//
// Список instances отдаётся как NDJSON (одна JSON-запись на строку),
// остальные ответы — в конверте {"data": ...} или {"error": {...}}.
package api
