// Package scheduler запускает actions по расписанию.
//
// Два вида задач:
//   - cron-привязки actions из реестра (строятся при Start) и произвольные
//     cron-задачи через Schedule(Cron(expr), ...)
//   - однократные задачи через Schedule(After(d) | At(t), ...)
//
// Cron-движок — robfig/cron/v3 (5 полей и дескрипторы @hourly, @every).
//
// Несколько экземпляров:
//
// С провайдером lock.Provider каждое срабатывание захватывает блокировку
// scheduler:cron:<action> с TTL (Action.LockTTL или Config.LockTTL, 300s).
// Не захватил — срабатывание пропускается. Если handler работает дольше
// TTL, блокировка истекает и action может выполниться на двух
// экземплярах одновременно: TTL нужно выбирать больше худшей длительности.
//
// Управление из результата:
//
// Action может вернуть action.CronMeta: Reschedule заменяет выражение,
// RunOnce удаляет привязку, SkipNext не поддерживается (пишется в лог).
// Изменения живут в памяти процесса до рестарта.
//
// Использование:
//
//	sched := scheduler.New(scheduler.Config{
//	    Registry: registry,
//	    Executor: exec,
//	    Locks:    lock.NewRedisProvider(rdb, "conveyor:"),
//	    Logger:   logger,
//	})
//	if err := sched.Start(ctx); err != nil {
//	    return err
//	}
//	defer sched.Stop(context.Background())
package scheduler
