// Package cli реализует инструмент командной строки Durable.
//
// # Обзор
//
// CLI — клиентская утилита для взаимодействия с Durable API.
// Работает через HTTP, не импортирует внутренние пакеты системы.
//
// ## Client
//
// HTTP-клиент для Durable API. Инкапсулирует HTTP-запросы,
// парсинг ответов (DataResponse, ListResponse, ErrorResponse, NDJSON)
// и обработку ошибок.
//
//	client := cli.NewClient("http://localhost:8080")
//	handle, err := client.Start("messaging", nil, "")
//
// ## Output
//
// Форматирование вывода. Поддерживает два режима:
//   - Таблицы (text/tabwriter) — по умолчанию
//   - JSON — с флагом --json
//
// Данные выводятся в stdout, сообщения (Success/Error) — в stderr.
// Это позволяет использовать pipe: durable status --json | jq .
//
// ## Commands
//
//   - start [NAME] — запуск orchestration
//   - status — незавершённые instances
//   - show ID, history ID — состояние и журнал instance
//   - terminate ID — запрос остановки
//
// Команды принимают clientFn и outputFn — замыкания для ленивого
// создания Client и Output после парсинга PersistentFlags.
package cli
