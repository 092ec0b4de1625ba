// Package jobqueue — durable очередь фоновых задач с polling-воркером.
//
// Жизненный цикл задачи:
//
//	Push → pending ──claim──→ running ──успех──→ (строка удаляется)
//	                             │
//	                             ├─ошибка, попытки есть──→ retrying (run_at = now + backoff)
//	                             ├─ошибка, попытки исчерпаны──→ job_failures
//	                             └─обработчик не найден──→ failed
//
// Захват задачи выполняется одной транзакцией (FOR UPDATE SKIP LOCKED),
// поэтому несколько процессов могут опрашивать одну таблицу без координатора.
// Обработчик вызывается только после commit захвата.
//
// Хранилища:
//   - repo.JobRepo — PostgreSQL (production)
//   - MemoryStore — в памяти процесса (тесты, локальная разработка)
package jobqueue
