package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Conveyor/internal/domain"
)

// RunRepo — репозиторий audit-записей выполнения actions (action_runs).
//
// Реализует runlog.Writer.
type RunRepo struct {
	pool *pgxpool.Pool
}

// NewRunRepo создаёт новый RunRepo.
func NewRunRepo(pool *pgxpool.Pool) *RunRepo {
	return &RunRepo{pool: pool}
}

var runColumns = []string{
	"trace_id", "action_name", "module_name", "trigger_type", "status",
	"input", "output", "error_message", "error_stack",
	"duration_ms", "attempt", "max_attempts", "final", "created_at",
}

// InsertBatch записывает пачку записей через COPY.
func (r *RunRepo) InsertBatch(ctx context.Context, entries []domain.RunEntry) error {
	if len(entries) == 0 {
		return nil
	}

	rows := make([][]any, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []any{
			e.TraceID,
			e.ActionName,
			nullString(e.ModuleName),
			string(e.TriggerType),
			string(e.Status),
			nullJSON(e.Input),
			nullJSON(e.Output),
			nullString(e.ErrorMessage),
			nullString(e.ErrorStack),
			e.Duration.Milliseconds(),
			e.Attempt,
			e.MaxAttempts,
			e.Final,
			e.CreatedAt,
		})
	}

	_, err := r.pool.CopyFrom(ctx, pgx.Identifier{"action_runs"}, runColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("copy action runs: %w", err)
	}
	return nil
}

// RunFilter — фильтр для списка записей.
type RunFilter struct {
	TraceID    string
	ActionName string
	Status     *domain.RunStatus
	Limit      int
}

// List возвращает записи (новые первыми). Используется CLI.
func (r *RunRepo) List(ctx context.Context, filter RunFilter) ([]domain.RunEntry, error) {
	var status *string
	if filter.Status != nil {
		s := string(*filter.Status)
		status = &s
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.pool.Query(ctx, `
		SELECT trace_id, action_name, module_name, trigger_type, status,
		       input, output, error_message, error_stack,
		       duration_ms, attempt, max_attempts, final, created_at
		FROM action_runs
		WHERE ($1::text IS NULL OR trace_id = $1)
		  AND ($2::text IS NULL OR action_name = $2)
		  AND ($3::text IS NULL OR status = $3)
		ORDER BY created_at DESC, id DESC
		LIMIT $4
	`, nullString(filter.TraceID), nullString(filter.ActionName), status, limit)
	if err != nil {
		return nil, fmt.Errorf("list action runs: %w", err)
	}
	defer rows.Close()

	var entries []domain.RunEntry
	for rows.Next() {
		var e domain.RunEntry
		var module, errMsg, errStack *string
		var input, output []byte
		var durationMs int64

		err := rows.Scan(
			&e.TraceID,
			&e.ActionName,
			&module,
			&e.TriggerType,
			&e.Status,
			&input,
			&output,
			&errMsg,
			&errStack,
			&durationMs,
			&e.Attempt,
			&e.MaxAttempts,
			&e.Final,
			&e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan action run: %w", err)
		}

		e.Input, e.Output = input, output
		e.Duration = time.Duration(durationMs) * time.Millisecond
		if module != nil {
			e.ModuleName = *module
		}
		if errMsg != nil {
			e.ErrorMessage = *errMsg
		}
		if errStack != nil {
			e.ErrorStack = *errStack
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
