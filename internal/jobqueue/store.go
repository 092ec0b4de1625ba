package jobqueue

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Conveyor/internal/domain"
)

// Store — хранилище задач (job_queue) и dead-letter записей (job_failures).
//
// Методы, работающие с одной записью, возвращают repo.ErrNotFound,
// если записи нет.
type Store interface {
	// Insert добавляет задачу.
	Insert(ctx context.Context, job *domain.Job) error

	// Claim атомарно захватывает одну готовую задачу: pending или retrying,
	// run_at <= now, не из exclude. Порядок: priority DESC, run_at ASC.
	// В той же транзакции attempts увеличивается на 1, статус — running.
	// Возвращает nil, nil, если готовых задач нет.
	Claim(ctx context.Context, now time.Time, exclude []uuid.UUID) (*domain.Job, error)

	Get(ctx context.Context, id uuid.UUID) (*domain.Job, error)
	List(ctx context.Context, filter domain.JobFilter) ([]domain.Job, error)

	// Update изменяет задачу в статусе pending/retrying.
	// Для остальных статусов — repo.ErrInvalidState.
	Update(ctx context.Context, id uuid.UUID, upd domain.JobUpdate) (*domain.Job, error)

	Delete(ctx context.Context, id uuid.UUID) error

	// Complete удаляет успешно выполненную задачу.
	Complete(ctx context.Context, id uuid.UUID) error

	// Retry переводит задачу в retrying с новым run_at.
	Retry(ctx context.Context, id uuid.UUID, runAt time.Time, lastError string) error

	// MarkFailed переводит задачу в терминальный failed.
	MarkFailed(ctx context.Context, id uuid.UUID, lastError string) error

	// MoveToDeadLetter в одной транзакции удаляет задачу из job_queue
	// и вставляет её в job_failures.
	MoveToDeadLetter(ctx context.Context, id uuid.UUID, errMsg string, failedAt time.Time) error

	ListFailed(ctx context.Context, limit, offset int) ([]domain.DeadLetterEntry, error)
	GetFailed(ctx context.Context, id uuid.UUID) (*domain.DeadLetterEntry, error)
	DeleteFailed(ctx context.Context, id uuid.UUID) error

	// Resurrect в одной транзакции удаляет запись deadID из job_failures
	// и вставляет job в job_queue.
	Resurrect(ctx context.Context, deadID uuid.UUID, job *domain.Job) error

	// RequeueStale возвращает в retrying задачи, зависшие в running
	// (updated_at < olderThan). Возвращает количество задач.
	RequeueStale(ctx context.Context, olderThan, now time.Time) (int, error)

	Stats(ctx context.Context) (*domain.QueueStats, error)
}
