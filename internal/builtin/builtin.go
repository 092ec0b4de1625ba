// Package builtin содержит служебные actions и обработчики задач,
// которые регистрирует conveyor serve.
//
//   - conveyor.runs.purge   — cron-action, удаляющий старые записи action_runs
//   - conveyor.http.request — исходящий HTTP запрос с retry на 5xx
//   - action.invoke         — job, выполняющий action по имени (trigger "job")
package builtin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shaiso/Conveyor/internal/action"
	"github.com/shaiso/Conveyor/internal/backoff"
	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/executor"
	"github.com/shaiso/Conveyor/internal/jobqueue"
)

const (
	PurgeRunsAction = "conveyor.runs.purge"
	InvokeJobName   = "action.invoke"

	// DefaultPurgeCron — расписание очистки по умолчанию.
	DefaultPurgeCron = "@daily"
)

// Options — параметры служебных actions.
type Options struct {
	// RunRetention — срок хранения action_runs. 0 — очистка выключена.
	RunRetention time.Duration

	// PurgeCron — расписание очистки (default: @daily).
	PurgeCron string

	// HTTPMaxAttempts — попытки conveyor.http.request (default: 3).
	HTTPMaxAttempts int

	// HTTPBackoff — стратегия задержки между попытками (default: exponential).
	HTTPBackoff backoff.Kind
}

// Register регистрирует служебные actions в реестре.
func Register(reg *action.Registry, opts Options) error {
	httpAction := NewHTTPRequestAction(opts.HTTPMaxAttempts)
	if opts.HTTPBackoff != "" {
		httpAction.Retry.Backoff = opts.HTTPBackoff
	}
	if err := reg.Register(httpAction); err != nil {
		return err
	}
	if opts.RunRetention <= 0 {
		return nil
	}
	return reg.Register(PurgeRuns(opts.RunRetention, opts.PurgeCron))
}

// PurgeResult — результат очистки.
type PurgeResult struct {
	Deleted int64     `json:"deleted"`
	Before  time.Time `json:"before"`
}

// PurgeRuns создаёт action, удаляющий записи action_runs старше retention.
func PurgeRuns(retention time.Duration, cronExpr string) *action.Action {
	if cronExpr == "" {
		cronExpr = DefaultPurgeCron
	}

	return &action.Action{
		Name:       PurgeRunsAction,
		ModuleName: "conveyor",
		Triggers:   []action.Trigger{action.CronTrigger(cronExpr)},
		Retry:      &action.RetryPolicy{MaxAttempts: 3},
		LockTTL:    10 * time.Minute,
		Handler: func(ctx context.Context, ec *action.Context, _ any) (any, error) {
			db, err := ec.DB()
			if err != nil {
				return nil, err
			}

			before := time.Now().UTC().Add(-retention)
			tag, err := db.Exec(ctx, `DELETE FROM action_runs WHERE created_at < $1`, before)
			if err != nil {
				return nil, fmt.Errorf("purge action_runs: %w", err)
			}

			ec.Logger().Info("action runs purged", "deleted", tag.RowsAffected(), "before", before)
			return PurgeResult{Deleted: tag.RowsAffected(), Before: before}, nil
		},
	}
}

// InvokeRequest — payload задачи action.invoke.
type InvokeRequest struct {
	Action string          `json:"action"`
	Input  json.RawMessage `json:"input,omitempty"`
}

// Invoker выполняет action по имени. Реализуется *executor.Executor.
type Invoker interface {
	ExecuteByName(ctx context.Context, name string, input any, opts executor.Options) executor.Result
}

// ErrInvalidInvokeRequest — payload задачи action.invoke не разобран.
var ErrInvalidInvokeRequest = errors.New("invalid action.invoke payload")

// InvokeJob возвращает обработчик задачи action.invoke.
//
// Action выполняется с trigger "job" и trace id задачи. Неуспешный
// Result превращается в ошибку, и задача уходит в retry очереди.
func InvokeJob(exec Invoker) jobqueue.Handler {
	return func(ctx context.Context, jc *jobqueue.JobContext, data json.RawMessage) error {
		var req InvokeRequest
		if err := json.Unmarshal(data, &req); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidInvokeRequest, err)
		}
		if req.Action == "" {
			return fmt.Errorf("%w: action is required", ErrInvalidInvokeRequest)
		}

		var input any
		if len(req.Input) > 0 {
			input = req.Input
		}

		res := exec.ExecuteByName(ctx, req.Action, input, executor.Options{
			Trigger: domain.TriggerJob,
			TraceID: jc.TraceID,
		})
		if !res.Success {
			if res.Err != nil {
				return fmt.Errorf("action %s: %w", req.Action, res.Err)
			}
			return fmt.Errorf("action %s: %s", req.Action, res.Error)
		}
		return nil
	}
}
