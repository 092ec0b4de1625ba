// Package repo — хранилище PostgreSQL (pgx/v5).
//
// Репозитории:
//   - JobRepo — очередь задач job_queue и dead-letter таблица job_failures
//   - RunRepo — audit-записи выполнения actions (action_runs)
//
// Схема создаётся Migrate из встроенных migrations/*.sql.
package repo
