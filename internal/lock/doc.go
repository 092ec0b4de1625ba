// Package lock реализует best-effort распределённую блокировку (lease)
// поверх общего key-value хранилища.
//
// Захват — атомарный "SET key token NX" с TTL. Освобождение удаляет ключ
// только если в нём всё ещё наш token: держатель, чей lease истёк и был
// перехвачен другим процессом, не может удалить чужую блокировку.
//
// Обе операции fail-safe:
//   - ошибка хранилища при захвате → блокировка не получена (работа пропускается)
//   - ошибка при освобождении логируется и игнорируется (TTL — последняя страховка)
//
// Провайдеры:
//   - RedisProvider  — go-redis, SET NX PX + Lua compare-and-delete
//   - MemoryProvider — один процесс (тесты, локальная разработка)
//
// Использование:
//
//	res, ok, err := lock.WithLock(ctx, provider, "scheduler:cron:report", 5*time.Minute,
//	    func(ctx context.Context) (string, error) {
//	        return buildReport(ctx)
//	    })
//	if !ok {
//	    // блокировку держит другой экземпляр
//	}
package lock
