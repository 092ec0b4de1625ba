// Package cli реализует административные команды Conveyor.
//
// # Обзор
//
// CLI работает напрямую с PostgreSQL через те же компоненты, что и
// сервер: jobqueue.Queue (без запуска polling) и repo.RunRepo. Команды
// cron не требуют подключения к БД.
//
// # Ключевые компоненты
//
// ## Output
//
// Форматирование вывода. Поддерживает два режима:
//   - Таблицы (text/tabwriter) — по умолчанию
//   - JSON — с флагом --json
//
// Данные выводятся в stdout, сообщения (Success/Error) — в stderr.
// Это позволяет использовать pipe: conveyor jobs list --json | jq .
//
// ## Commands
//
// Cobra-команды организованы по ресурсам:
//   - jobs: list, get, push, update, delete, stats
//   - dlq: list, get, retry, delete
//   - runs: list
//   - cron: validate, next
//
// Каждая группа создаётся фабричной функцией (NewJobsCmd и т.д.),
// принимающей замыкания для ленивого создания зависимостей и Output
// после парсинга PersistentFlags.
package cli
