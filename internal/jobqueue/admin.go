package jobqueue

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/shaiso/Conveyor/internal/domain"
)

// Get возвращает задачу по ID.
func (q *Queue) Get(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	return q.store.Get(ctx, id)
}

// GetAll возвращает задачи по фильтру.
func (q *Queue) GetAll(ctx context.Context, filter domain.JobFilter) ([]domain.Job, error) {
	return q.store.List(ctx, filter)
}

// Update изменяет ожидающую задачу (pending/retrying).
func (q *Queue) Update(ctx context.Context, id uuid.UUID, upd domain.JobUpdate) (*domain.Job, error) {
	if upd.IsEmpty() {
		return q.store.Get(ctx, id)
	}
	return q.store.Update(ctx, id, upd)
}

// Delete удаляет задачу из очереди.
func (q *Queue) Delete(ctx context.Context, id uuid.UUID) error {
	return q.store.Delete(ctx, id)
}

// ListFailed возвращает dead-letter записи (новые первыми).
func (q *Queue) ListFailed(ctx context.Context, limit, offset int) ([]domain.DeadLetterEntry, error) {
	return q.store.ListFailed(ctx, limit, offset)
}

// GetFailed возвращает dead-letter запись по ID.
func (q *Queue) GetFailed(ctx context.Context, id uuid.UUID) (*domain.DeadLetterEntry, error) {
	return q.store.GetFailed(ctx, id)
}

// DeleteFailed удаляет dead-letter запись.
func (q *Queue) DeleteFailed(ctx context.Context, id uuid.UUID) error {
	return q.store.DeleteFailed(ctx, id)
}

// RetryFailedJob возвращает задачу из job_failures в очередь.
//
// Создаётся новая задача (новый ID, attempts = 0, приоритет по умолчанию),
// dead-letter запись удаляется в той же транзакции.
func (q *Queue) RetryFailedJob(ctx context.Context, id uuid.UUID) (uuid.UUID, error) {
	dead, err := q.store.GetFailed(ctx, id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("get failed job: %w", err)
	}

	job := q.newJob(dead.Name, dead.Data, domain.PushOptions{TraceID: dead.TraceID})
	if err := q.store.Resurrect(ctx, id, job); err != nil {
		return uuid.Nil, fmt.Errorf("resurrect job: %w", err)
	}

	q.logger.Info("failed job requeued",
		"failed_job_id", id,
		"job_id", job.ID,
		"job_name", job.Name,
	)
	return job.ID, nil
}

// Stats возвращает сводку по очереди.
func (q *Queue) Stats(ctx context.Context) (*domain.QueueStats, error) {
	return q.store.Stats(ctx)
}
