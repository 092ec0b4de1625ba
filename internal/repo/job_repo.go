package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Conveyor/internal/domain"
)

const jobColumns = `id, name, data, status, priority, attempts, max_attempts, run_at,
		       last_error, trace_id, created_at, updated_at`

const staleError = "requeued: worker did not finish in time"

// JobRepo — репозиторий задач (job_queue) и dead-letter записей (job_failures).
//
// Реализует jobqueue.Store.
type JobRepo struct {
	pool *pgxpool.Pool
}

// NewJobRepo создаёт новый JobRepo.
func NewJobRepo(pool *pgxpool.Pool) *JobRepo {
	return &JobRepo{pool: pool}
}

// Insert добавляет задачу.
func (r *JobRepo) Insert(ctx context.Context, job *domain.Job) error {
	if err := insertJob(ctx, r.pool, job); err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// Claim захватывает одну готовую задачу.
//
// SELECT ... FOR UPDATE SKIP LOCKED пропускает строки, заблокированные
// другими транзакциями, поэтому конкурирующие воркеры никогда не получают
// одну и ту же задачу. Блокировка держится только до commit захвата.
func (r *JobRepo) Claim(ctx context.Context, now time.Time, exclude []uuid.UUID) (*domain.Job, error) {
	// nil кодируется как NULL, а NOT (id = ANY(NULL)) отбрасывает все строки.
	if exclude == nil {
		exclude = []uuid.UUID{}
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin claim: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var id uuid.UUID
	err = tx.QueryRow(ctx, `
		SELECT id
		FROM job_queue
		WHERE status IN ('pending', 'retrying')
		  AND run_at <= $1
		  AND NOT (id = ANY($2::uuid[]))
		ORDER BY priority DESC, run_at ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	`, now, exclude).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select job for claim: %w", err)
	}

	job, err := scanJob(tx.QueryRow(ctx, `
		UPDATE job_queue
		SET attempts = attempts + 1, status = 'running', updated_at = $2
		WHERE id = $1
		RETURNING `+jobColumns, id, now))
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}
	return job, nil
}

// Get возвращает задачу по ID.
func (r *JobRepo) Get(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	return scanJob(r.pool.QueryRow(ctx, `
		SELECT `+jobColumns+`
		FROM job_queue
		WHERE id = $1
	`, id))
}

// List возвращает задачи по фильтру.
func (r *JobRepo) List(ctx context.Context, filter domain.JobFilter) ([]domain.Job, error) {
	var status *string
	if filter.Status != nil {
		s := string(*filter.Status)
		status = &s
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+jobColumns+`
		FROM job_queue
		WHERE ($1::text IS NULL OR status = $1)
		  AND ($2::text IS NULL OR name = $2)
		ORDER BY created_at ASC
		LIMIT $3 OFFSET $4
	`, status, nullString(filter.Name), limit, filter.Offset)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// Update изменяет задачу в статусе pending/retrying.
func (r *JobRepo) Update(ctx context.Context, id uuid.UUID, upd domain.JobUpdate) (*domain.Job, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin update: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	job, err := scanJob(tx.QueryRow(ctx, `
		SELECT `+jobColumns+`
		FROM job_queue
		WHERE id = $1
		FOR UPDATE
	`, id))
	if err != nil {
		return nil, err
	}
	if !job.Status.IsPollable() {
		return nil, fmt.Errorf("update job in status %s: %w", job.Status, ErrInvalidState)
	}

	upd.Apply(job, time.Now().UTC())

	_, err = tx.Exec(ctx, `
		UPDATE job_queue
		SET data = $2, priority = $3, max_attempts = $4, run_at = $5, updated_at = $6
		WHERE id = $1
	`, job.ID, nullJSON(job.Data), job.Priority, job.MaxAttempts, job.RunAt, job.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("update job: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit update: %w", err)
	}
	return job, nil
}

// Delete удаляет задачу.
func (r *JobRepo) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM job_queue WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Complete удаляет выполненную задачу.
func (r *JobRepo) Complete(ctx context.Context, id uuid.UUID) error {
	return r.Delete(ctx, id)
}

// Retry переводит задачу в retrying.
func (r *JobRepo) Retry(ctx context.Context, id uuid.UUID, runAt time.Time, lastError string) error {
	return r.setStatus(ctx, `
		UPDATE job_queue
		SET status = 'retrying', run_at = $2, last_error = $3, updated_at = NOW()
		WHERE id = $1
	`, id, runAt, lastError)
}

// MarkFailed переводит задачу в failed.
func (r *JobRepo) MarkFailed(ctx context.Context, id uuid.UUID, lastError string) error {
	return r.setStatus(ctx, `
		UPDATE job_queue
		SET status = 'failed', last_error = $2, updated_at = NOW()
		WHERE id = $1
	`, id, lastError)
}

func (r *JobRepo) setStatus(ctx context.Context, query string, args ...any) error {
	result, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MoveToDeadLetter переносит задачу в job_failures одной транзакцией.
func (r *JobRepo) MoveToDeadLetter(ctx context.Context, id uuid.UUID, errMsg string, failedAt time.Time) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		job, err := scanJob(tx.QueryRow(ctx, `
			DELETE FROM job_queue
			WHERE id = $1
			RETURNING `+jobColumns, id))
		if err != nil {
			return err
		}

		if err := insertDeadLetter(ctx, tx, job.DeadLetter(errMsg, failedAt)); err != nil {
			return fmt.Errorf("insert dead letter: %w", err)
		}
		return nil
	})
}

// ListFailed возвращает dead-letter записи (новые первыми).
func (r *JobRepo) ListFailed(ctx context.Context, limit, offset int) ([]domain.DeadLetterEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, name, data, error, attempts, failed_at, trace_id
		FROM job_failures
		ORDER BY failed_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list failed jobs: %w", err)
	}
	defer rows.Close()

	var entries []domain.DeadLetterEntry
	for rows.Next() {
		e, err := scanDeadLetter(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

// GetFailed возвращает dead-letter запись по ID.
func (r *JobRepo) GetFailed(ctx context.Context, id uuid.UUID) (*domain.DeadLetterEntry, error) {
	return scanDeadLetter(r.pool.QueryRow(ctx, `
		SELECT id, name, data, error, attempts, failed_at, trace_id
		FROM job_failures
		WHERE id = $1
	`, id))
}

// DeleteFailed удаляет dead-letter запись.
func (r *JobRepo) DeleteFailed(ctx context.Context, id uuid.UUID) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM job_failures WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete failed job: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Resurrect удаляет запись из job_failures и вставляет новую задачу
// одной транзакцией.
func (r *JobRepo) Resurrect(ctx context.Context, deadID uuid.UUID, job *domain.Job) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		result, err := tx.Exec(ctx, `DELETE FROM job_failures WHERE id = $1`, deadID)
		if err != nil {
			return fmt.Errorf("delete failed job: %w", err)
		}
		if result.RowsAffected() == 0 {
			return ErrNotFound
		}

		if err := insertJob(ctx, tx, job); err != nil {
			return fmt.Errorf("insert job: %w", err)
		}
		return nil
	})
}

// RequeueStale возвращает зависшие в running задачи в очередь.
func (r *JobRepo) RequeueStale(ctx context.Context, olderThan, now time.Time) (int, error) {
	result, err := r.pool.Exec(ctx, `
		UPDATE job_queue
		SET status = 'retrying', run_at = $2, last_error = $3, updated_at = $2
		WHERE status = 'running' AND updated_at < $1
	`, olderThan, now, staleError)
	if err != nil {
		return 0, fmt.Errorf("requeue stale jobs: %w", err)
	}
	return int(result.RowsAffected()), nil
}

// Stats возвращает количество задач по статусам и размер job_failures.
func (r *JobRepo) Stats(ctx context.Context) (*domain.QueueStats, error) {
	stats := &domain.QueueStats{ByStatus: make(map[domain.JobStatus]int)}

	rows, err := r.pool.Query(ctx, `SELECT status, COUNT(*) FROM job_queue GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status domain.JobStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan job count: %w", err)
		}
		stats.ByStatus[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	err = r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM job_failures`).Scan(&stats.DeadLetters)
	if err != nil {
		return nil, fmt.Errorf("count failed jobs: %w", err)
	}
	return stats, nil
}

// --- Helpers ---

// execer — общий интерфейс pool и tx.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func insertJob(ctx context.Context, db execer, job *domain.Job) error {
	_, err := db.Exec(ctx, `
		INSERT INTO job_queue (id, name, data, status, priority, attempts, max_attempts,
		                       run_at, last_error, trace_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		job.ID,
		job.Name,
		nullJSON(job.Data),
		job.Status,
		job.Priority,
		job.Attempts,
		job.MaxAttempts,
		job.RunAt,
		nullString(job.LastError),
		nullString(job.TraceID),
		job.CreatedAt,
		job.UpdatedAt,
	)
	return mapError(err)
}

func insertDeadLetter(ctx context.Context, db execer, e *domain.DeadLetterEntry) error {
	_, err := db.Exec(ctx, `
		INSERT INTO job_failures (id, name, data, error, attempts, failed_at, trace_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		e.ID,
		e.Name,
		nullJSON(e.Data),
		e.Error,
		e.Attempts,
		e.FailedAt,
		nullString(e.TraceID),
	)
	return err
}

func scanJob(row pgx.Row) (*domain.Job, error) {
	var job domain.Job
	var data []byte
	var lastError, traceID *string

	err := row.Scan(
		&job.ID,
		&job.Name,
		&data,
		&job.Status,
		&job.Priority,
		&job.Attempts,
		&job.MaxAttempts,
		&job.RunAt,
		&lastError,
		&traceID,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		if err = mapError(err); errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("scan job: %w", err)
	}

	job.Data = data
	if lastError != nil {
		job.LastError = *lastError
	}
	if traceID != nil {
		job.TraceID = *traceID
	}
	return &job, nil
}

func scanDeadLetter(row pgx.Row) (*domain.DeadLetterEntry, error) {
	var e domain.DeadLetterEntry
	var data []byte
	var traceID *string

	err := row.Scan(&e.ID, &e.Name, &data, &e.Error, &e.Attempts, &e.FailedAt, &traceID)
	if err != nil {
		if err = mapError(err); errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("scan dead letter: %w", err)
	}

	e.Data = data
	if traceID != nil {
		e.TraceID = *traceID
	}
	return &e, nil
}

// nullString возвращает nil для пустой строки (для NULL в БД).
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// nullJSON возвращает nil для пустого JSON.
func nullJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
