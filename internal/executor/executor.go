package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Conveyor/internal/action"
	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/runlog"
	"github.com/shaiso/Conveyor/internal/telemetry"
)

// DefaultMaxDepth — максимальная глубина вложенных вызовов.
const DefaultMaxDepth = 50

// Исходы выполнения для метрик.
const (
	OutcomeSuccess  = "success"
	OutcomeError    = "error"
	OutcomeRejected = "rejected"
)

// Result — результат выполнения action.
type Result = action.Result

// Metrics — метрики выполнения (telemetry.Metrics).
type Metrics interface {
	ActionExecuted(action, outcome string, d time.Duration)
}

// Registry — источник actions по имени.
type Registry interface {
	Get(name string) (*action.Action, bool)
}

// Config — конфигурация Executor.
type Config struct {
	// Registry нужен для ExecuteByName и вложенных вызовов.
	Registry Registry

	// Sink получает RunEntry (default: runlog.Nop).
	Sink runlog.Sink

	// Builder собирает Context (default: без capabilities).
	Builder *action.ContextBuilder

	// Metrics (опционально).
	Metrics Metrics

	// MaxDepth — лимит глубины вложенных вызовов (default: 50).
	MaxDepth int

	Logger *slog.Logger
}

// Options — параметры одного вызова.
type Options struct {
	// Trigger — источник вызова (default: internal).
	Trigger domain.TriggerType

	// Auth — данные вызывающей стороны.
	Auth *action.Auth

	// Path — путь вызовов родителя. Пустой для вызовов верхнего уровня.
	Path action.Path

	// TraceID — trace id (иначе генерируется новый).
	TraceID string
}

// Executor выполняет actions: guards, retry, audit.
type Executor struct {
	registry Registry
	sink     runlog.Sink
	builder  *action.ContextBuilder
	metrics  Metrics
	maxDepth int
	logger   *slog.Logger
}

// New создаёт Executor и подключает его к Builder для Context.Invoke.
func New(cfg Config) *Executor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	sink := cfg.Sink
	if sink == nil {
		sink = runlog.Nop{}
	}

	builder := cfg.Builder
	if builder == nil {
		builder = action.NewContextBuilder(logger, action.Providers{})
	}

	maxDepth := cfg.MaxDepth
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}

	e := &Executor{
		registry: cfg.Registry,
		sink:     sink,
		builder:  builder,
		metrics:  cfg.Metrics,
		maxDepth: maxDepth,
		logger:   logger,
	}
	builder.SetDispatcher(e)
	return e
}

// ExecuteByName находит action в реестре и выполняет его.
func (e *Executor) ExecuteByName(ctx context.Context, name string, input any, opts Options) Result {
	var (
		act *action.Action
		ok  bool
	)
	if e.registry != nil {
		act, ok = e.registry.Get(name)
	}
	if !ok {
		err := fmt.Errorf("%w: %s", action.ErrActionNotFound, name)
		return Result{Error: err.Error(), Err: err, TraceID: opts.TraceID}
	}
	return e.Execute(ctx, act, input, opts)
}

// Dispatch реализует action.Dispatcher: вложенный вызов с путём,
// auth и trace id родителя.
func (e *Executor) Dispatch(ctx context.Context, name string, input any, parent *action.Context) Result {
	return e.ExecuteByName(ctx, name, input, Options{
		Trigger: domain.TriggerInternal,
		Auth:    parent.Auth(),
		Path:    parent.Path(),
		TraceID: parent.TraceID(),
	})
}

// invocation — состояние одного вызова.
type invocation struct {
	act       *action.Action
	traceID   string
	trigger   domain.TriggerType
	auth      *action.Auth
	input     json.RawMessage
	policy    action.RetryPolicy
	startedAt time.Time
	logger    *slog.Logger
}

// Execute выполняет action.
func (e *Executor) Execute(ctx context.Context, act *action.Action, input any, opts Options) (res Result) {
	inv := &invocation{
		act:       act,
		traceID:   opts.TraceID,
		trigger:   opts.Trigger,
		auth:      opts.Auth,
		input:     marshal(input),
		policy:    act.Retry.Resolve(),
		startedAt: time.Now(),
	}
	if inv.traceID == "" {
		inv.traceID = uuid.NewString()
	}
	if inv.trigger == "" {
		inv.trigger = domain.TriggerInternal
	}
	// Логгер вызывающего кода (например, задачи очереди) дополняется trace_id и action.
	inv.logger = telemetry.WithAction(telemetry.WithTraceID(telemetry.FromContext(ctx, e.logger), inv.traceID), act.Name)

	// Паника вне handler'а (guard, validate) превращается в ошибку выполнения.
	defer func() {
		if r := recover(); r != nil {
			err := &action.ExecutionError{
				Message: fmt.Sprintf("panic: %v", r),
				Stack:   string(debug.Stack()),
			}
			res = e.fail(ctx, inv, err, 0, time.Since(inv.startedAt))
		}
	}()

	// 1. Циклы и глубина.
	if opts.Path.Contains(act.Key()) {
		err := &action.CircularDependencyError{Action: act.Key(), Stack: opts.Path.Keys()}
		return e.fail(ctx, inv, err, 0, time.Since(inv.startedAt))
	}
	if opts.Path.Len() >= e.maxDepth {
		err := &action.DepthExceededError{
			Action:   act.Key(),
			Depth:    opts.Path.Len(),
			MaxDepth: e.maxDepth,
			Stack:    opts.Path.Keys(),
		}
		return e.fail(ctx, inv, err, 0, time.Since(inv.startedAt))
	}

	// 2. Context.
	ec := e.builder.Build(action.BuildParams{
		TraceID:     inv.traceID,
		Action:      act,
		Trigger:     inv.trigger,
		Auth:        opts.Auth,
		Path:        opts.Path.Append(act.Key()),
		Input:       input,
		MaxAttempts: inv.policy.MaxAttempts,
		Logger:      inv.logger,
	})

	if act.Validate != nil {
		validated, err := act.Validate(input)
		if err != nil {
			var validErr *action.ValidationError
			if !errors.As(err, &validErr) {
				err = &action.ValidationError{Message: "invalid input", Err: err}
			}
			return e.fail(ctx, inv, err, 0, time.Since(inv.startedAt))
		}
		input = validated
	}

	// 3. Guards: без retry.
	if err := act.Guards.Run(ctx, ec); err != nil {
		return e.fail(ctx, inv, err, 0, time.Since(inv.startedAt))
	}

	// 4-5. Попытки.
	for attempt := 1; ; attempt++ {
		ec.SetAttempt(attempt)
		attemptStart := time.Now()

		out, err := e.invoke(ctx, act, ec, input)
		elapsed := time.Since(attemptStart)

		if err == nil {
			return e.succeed(ctx, inv, ec, out, attempt, elapsed)
		}

		if attempt >= inv.policy.MaxAttempts || !inv.policy.ShouldRetry(err) {
			return e.fail(ctx, inv, err, attempt, elapsed)
		}

		delay := inv.policy.Delay(attempt)
		inv.logger.Warn("action attempt failed, retrying",
			"attempt", attempt,
			"max_attempts", inv.policy.MaxAttempts,
			"delay", delay,
			"error", err,
		)

		e.record(ctx, inv, attempt, elapsed, false, nil, err)

		// Отмена во время ожидания завершает вызов финальной записью
		// той же попытки.
		if sleepErr := sleep(ctx, delay); sleepErr != nil {
			return e.fail(ctx, inv, fmt.Errorf("retry aborted: %w", errors.Join(err, sleepErr)), attempt, elapsed)
		}
	}
}

// invoke вызывает handler, перехватывая панику.
func (e *Executor) invoke(ctx context.Context, act *action.Action, ec *action.Context, input any) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &action.ExecutionError{
				Message: fmt.Sprintf("panic: %v", r),
				Stack:   string(debug.Stack()),
			}
		}
	}()
	return act.Handler(ctx, ec, input)
}

func (e *Executor) succeed(ctx context.Context, inv *invocation, ec *action.Context, out any, attempt int, elapsed time.Duration) Result {
	res := Result{Success: true, TraceID: inv.traceID}

	switch o := out.(type) {
	case *action.Output:
		if o != nil {
			res.Data = o.Data
			res.Transport = o.Transport
			res.Session = o.Session
		}
	case action.Output:
		res.Data = o.Data
		res.Transport = o.Transport
		res.Session = o.Session
	default:
		res.Data = out
	}

	if queued := ec.SessionActions(); len(queued) > 0 {
		res.Session = append(queued, res.Session...)
	}

	e.record(ctx, inv, attempt, elapsed, true, res.Data, nil)
	e.observe(inv, OutcomeSuccess)
	return res
}

// fail завершает вызов ошибкой: финальная RunEntry, метрики, Result.
//
// Ошибки guards возвращаются как есть, остальные нормализуются
// в *action.ExecutionError с контекстом вызова.
func (e *Executor) fail(ctx context.Context, inv *invocation, err error, attempt int, elapsed time.Duration) Result {
	outcome := OutcomeError

	var guardErr *action.GuardError
	if errors.As(err, &guardErr) {
		outcome = OutcomeRejected
		inv.logger.Info("action rejected by guard",
			"status", guardErr.Status,
			"error", err,
		)
	} else {
		err = e.normalize(inv, err)
		inv.logger.Error("action failed", "attempt", attempt, "error", err)
	}

	e.record(ctx, inv, attempt, elapsed, true, nil, err)
	e.observe(inv, outcome)

	msg := err.Error()
	var execErr *action.ExecutionError
	if errors.As(err, &execErr) {
		msg = execErr.Message
	}

	return Result{Error: msg, Err: err, TraceID: inv.traceID}
}

func (e *Executor) normalize(inv *invocation, err error) error {
	var userID string
	if inv.auth != nil {
		userID = inv.auth.UserID
	}

	var execErr *action.ExecutionError
	if errors.As(err, &execErr) && execErr.TraceID == "" {
		// Паника: стек уже есть, дополняем контекстом.
		execErr.TraceID = inv.traceID
		execErr.Action = inv.act.Name
		execErr.Module = inv.act.ModuleName
		execErr.UserID = userID
		return execErr
	}

	return &action.ExecutionError{
		Message: err.Error(),
		TraceID: inv.traceID,
		Action:  inv.act.Name,
		Module:  inv.act.ModuleName,
		UserID:  userID,
		Err:     err,
	}
}

// record отправляет RunEntry в sink.
func (e *Executor) record(ctx context.Context, inv *invocation, attempt int, elapsed time.Duration, final bool, data any, err error) {
	entry := domain.RunEntry{
		TraceID:     inv.traceID,
		ActionName:  inv.act.Name,
		ModuleName:  inv.act.ModuleName,
		TriggerType: inv.trigger,
		Status:      domain.RunStatusSuccess,
		Input:       inv.input,
		Duration:    elapsed,
		Final:       final,
		CreatedAt:   time.Now().UTC(),
	}

	if inv.policy.MaxAttempts > 1 {
		entry.Attempt = attempt
		entry.MaxAttempts = inv.policy.MaxAttempts
	}

	if err != nil {
		entry.Status = domain.RunStatusError
		entry.ErrorMessage = err.Error()
		var execErr *action.ExecutionError
		if errors.As(err, &execErr) {
			entry.ErrorMessage = execErr.Message
			entry.ErrorStack = execErr.Stack
		}
	} else {
		entry.Output = marshal(data)
	}

	e.sink.PushRun(ctx, entry)
}

func (e *Executor) observe(inv *invocation, outcome string) {
	if e.metrics != nil {
		e.metrics.ActionExecuted(inv.act.Name, outcome, time.Since(inv.startedAt))
	}
}

// marshal сериализует значение для RunEntry. Несериализуемые значения
// не записываются.
func marshal(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}

// sleep ждёт d или отмены ctx.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
