package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/shaiso/Conveyor/internal/action"
	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/executor"
	"github.com/shaiso/Conveyor/internal/lock"
)

// DefaultLockTTL — TTL блокировки cron-запуска по умолчанию.
const DefaultLockTTL = 300 * time.Second

// LockKeyPrefix — префикс ключа блокировки cron-запуска.
const LockKeyPrefix = "scheduler:cron:"

// Результаты срабатывания cron для метрик.
const (
	FireExecuted = "executed"
	FireFailed   = "failed"
	FireSkipped  = "skipped"
)

var (
	// ErrTaskNotFound — задача с таким ID не найдена.
	ErrTaskNotFound = errors.New("scheduled task not found")

	// ErrAlreadyStarted — планировщик уже запущен.
	ErrAlreadyStarted = errors.New("scheduler already started")
)

// TaskFunc — тело запланированной задачи.
type TaskFunc func(ctx context.Context) error

// Registry — источник actions с cron-триггерами.
type Registry interface {
	All() []*action.Action
}

// Executor выполняет action.
type Executor interface {
	Execute(ctx context.Context, act *action.Action, input any, opts executor.Options) action.Result
}

// Metrics — метрики планировщика (telemetry.Metrics).
type Metrics interface {
	CronFired(action, result string)
}

// Config — конфигурация Scheduler.
type Config struct {
	Registry Registry
	Executor Executor

	// Locks — провайдер распределённых блокировок. nil — один экземпляр,
	// actions выполняются без блокировки.
	Locks lock.Provider

	// LockTTL — TTL блокировки (default: 300s). Action.LockTTL имеет приоритет.
	LockTTL time.Duration

	// SkipIfRunning — пропускать срабатывание, если предыдущее
	// в этом процессе ещё выполняется.
	SkipIfRunning bool

	Metrics Metrics
	Logger  *slog.Logger
}

// TaskInfo — описание запланированной задачи.
type TaskInfo struct {
	ID      string    `json:"id"`
	Name    string    `json:"name"`
	Kind    string    `json:"kind"` // "cron" | "once"
	Expr    string    `json:"expr,omitempty"`
	Action  string    `json:"action,omitempty"`
	NextRun time.Time `json:"next_run"`
}

type task struct {
	id     string
	name   string
	expr   string
	action string

	entryID cron.EntryID
	timer   *time.Timer
	at      time.Time
}

// Scheduler — планировщик cron-привязок actions и отложенных задач.
//
// Привязки строятся из реестра при Start и живут только в памяти:
// изменения через CronMeta (reschedule, runOnce) теряются при рестарте.
type Scheduler struct {
	registry      Registry
	exec          Executor
	locks         lock.Provider
	lockTTL       time.Duration
	skipIfRunning bool
	metrics       Metrics
	logger        *slog.Logger

	cron *cron.Cron

	mu       sync.Mutex
	tasks    map[string]*task
	bindings map[string]string // action → task id
	started  bool

	ctx    context.Context
	cancel context.CancelFunc
	onceWG sync.WaitGroup
}

// New создаёт Scheduler.
func New(cfg Config) *Scheduler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	lockTTL := cfg.LockTTL
	if lockTTL <= 0 {
		lockTTL = DefaultLockTTL
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		registry:      cfg.Registry,
		exec:          cfg.Executor,
		locks:         cfg.Locks,
		lockTTL:       lockTTL,
		skipIfRunning: cfg.SkipIfRunning,
		metrics:       cfg.Metrics,
		logger:        logger,
		cron: cron.New(
			cron.WithParser(cronParser),
			cron.WithLogger(cronLogger{logger: logger}),
		),
		tasks:    make(map[string]*task),
		bindings: make(map[string]string),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start строит cron-привязки для actions из реестра и запускает cron.
//
// Action с некорректным выражением пропускается с ошибкой в логе,
// остальные привязки создаются.
//
// ctx ограничивает только запуск. Срабатывания получают собственный
// контекст планировщика, который отменяется в Stop после ожидания
// выполняющихся задач.
func (s *Scheduler) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.mu.Unlock()

	bound := 0
	if s.registry != nil {
		for _, act := range s.registry.All() {
			trigger, ok := act.CronTrigger()
			if !ok {
				continue
			}
			if _, err := s.bind(act, trigger.Cron); err != nil {
				s.logger.Error("failed to bind cron action",
					"action", act.Name,
					"cron", trigger.Cron,
					"error", err,
				)
				continue
			}
			bound++
		}
	}

	s.cron.Start()

	s.logger.Info("scheduler started",
		"cron_actions", bound,
		"distributed_lock", s.locks != nil,
		"lock_ttl", s.lockTTL,
	)
	return nil
}

// Stop останавливает cron и отложенные задачи, ждёт выполняющиеся
// задачи до отмены ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.logger.Info("stopping scheduler...")

	s.mu.Lock()
	for _, t := range s.tasks {
		if t.timer != nil {
			s.cancelLocked(t)
		}
	}
	s.mu.Unlock()

	cronDone := s.cron.Stop()

	onceDone := make(chan struct{})
	go func() {
		s.onceWG.Wait()
		close(onceDone)
	}()

	defer s.cancel()

	for _, done := range []<-chan struct{}{cronDone.Done(), onceDone} {
		select {
		case <-done:
		case <-ctx.Done():
			return fmt.Errorf("stop scheduler: %w", ctx.Err())
		}
	}

	s.logger.Info("scheduler stopped")
	return nil
}

// Schedule планирует fn и возвращает ID задачи.
func (s *Scheduler) Schedule(when When, name string, fn TaskFunc) (string, error) {
	t := &task{id: uuid.NewString(), name: name}

	switch when.kind {
	case whenCron:
		job := cron.FuncJob(func() {
			if err := s.runTask(t.name, fn); err != nil {
				s.logger.Error("scheduled task failed", "task", t.name, "error", err)
			}
		})

		entryID, err := s.cron.AddJob(when.expr, s.wrap(job))
		if err != nil {
			return "", fmt.Errorf("invalid cron expression %q: %w", when.expr, err)
		}
		t.expr = when.expr
		t.entryID = entryID

	default:
		at := when.at
		if when.kind == whenAfter {
			at = time.Now().Add(when.delay)
		}
		t.at = at

		s.mu.Lock()
		s.onceWG.Add(1)
		t.timer = time.AfterFunc(time.Until(at), func() {
			defer s.onceWG.Done()
			s.remove(t.id)
			if err := s.runTask(t.name, fn); err != nil {
				s.logger.Error("scheduled task failed", "task", t.name, "error", err)
			}
		})
		s.tasks[t.id] = t
		s.mu.Unlock()

		s.logger.Debug("task scheduled", "task_id", t.id, "task", name, "when", when.String())
		return t.id, nil
	}

	s.mu.Lock()
	s.tasks[t.id] = t
	s.mu.Unlock()

	s.logger.Debug("task scheduled", "task_id", t.id, "task", name, "when", when.String())
	return t.id, nil
}

// Cancel отменяет задачу. Для cron-привязки action удаляет привязку.
func (s *Scheduler) Cancel(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return ErrTaskNotFound
	}
	s.cancelLocked(t)
	return nil
}

func (s *Scheduler) cancelLocked(t *task) {
	if t.timer != nil {
		// Stop == false — таймер уже сработал и сам вызовет Done.
		if t.timer.Stop() {
			s.onceWG.Done()
		}
	} else {
		s.cron.Remove(t.entryID)
	}

	delete(s.tasks, t.id)
	if t.action != "" && s.bindings[t.action] == t.id {
		delete(s.bindings, t.action)
	}
}

func (s *Scheduler) remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, id)
}

// ListTasks возвращает запланированные задачи, отсортированные по времени запуска.
func (s *Scheduler) ListTasks() []TaskInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]TaskInfo, 0, len(s.tasks))
	for _, t := range s.tasks {
		info := TaskInfo{ID: t.id, Name: t.name, Expr: t.expr, Action: t.action}
		if t.timer != nil {
			info.Kind = "once"
			info.NextRun = t.at
		} else {
			info.Kind = "cron"
			info.NextRun = s.cron.Entry(t.entryID).Next
		}
		out = append(out, info)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].NextRun.Equal(out[j].NextRun) {
			return out[i].Name < out[j].Name
		}
		return out[i].NextRun.Before(out[j].NextRun)
	})
	return out
}

// runTask выполняет fn, превращая панику в ошибку.
func (s *Scheduler) runTask(name string, fn TaskFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panic: %v", name, r)
		}
	}()
	return fn(s.ctx)
}

func (s *Scheduler) wrap(job cron.Job) cron.Job {
	if !s.skipIfRunning {
		return job
	}
	return cron.NewChain(cron.SkipIfStillRunning(cronLogger{logger: s.logger})).Then(job)
}

// bind создаёт cron-привязку action, заменяя существующую.
func (s *Scheduler) bind(act *action.Action, expr string) (string, error) {
	t := &task{
		id:     uuid.NewString(),
		name:   act.Name,
		expr:   expr,
		action: act.Name,
	}

	entryID, err := s.cron.AddJob(expr, s.wrap(cron.FuncJob(func() { s.fire(act) })))
	if err != nil {
		return "", fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	t.entryID = entryID

	s.mu.Lock()
	defer s.mu.Unlock()

	if oldID, ok := s.bindings[act.Name]; ok {
		if old, ok := s.tasks[oldID]; ok {
			s.cancelLocked(old)
		}
	}
	s.tasks[t.id] = t
	s.bindings[act.Name] = t.id

	return t.id, nil
}

// unbind удаляет cron-привязку action.
func (s *Scheduler) unbind(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.bindings[name]; ok {
		if t, ok := s.tasks[id]; ok {
			s.cancelLocked(t)
		}
		delete(s.bindings, name)
	}
}

// fire — срабатывание cron-привязки action.
//
// С провайдером блокировок action выполняется только экземпляром,
// захватившим scheduler:cron:<action>. Если handler работает дольше TTL,
// блокировка истекает и другой экземпляр может запустить action повторно.
func (s *Scheduler) fire(act *action.Action) {
	logger := s.logger.With("action", act.Name)

	if s.locks == nil {
		s.afterRun(act, s.execute(s.ctx, act), logger)
		return
	}

	ttl := act.LockTTL
	if ttl <= 0 {
		ttl = s.lockTTL
	}

	res, acquired, _ := lock.WithLock(s.ctx, s.locks, LockKeyPrefix+act.Name, ttl,
		func(ctx context.Context) (action.Result, error) {
			return s.execute(ctx, act), nil
		},
		lock.WithLogger(logger),
	)
	if !acquired {
		logger.Debug("cron fire skipped, lock held by another instance")
		s.observe(act.Name, FireSkipped)
		return
	}

	s.afterRun(act, res, logger)
}

func (s *Scheduler) execute(ctx context.Context, act *action.Action) action.Result {
	res := s.exec.Execute(ctx, act, nil, executor.Options{Trigger: domain.TriggerCron})
	if res.Success {
		s.observe(act.Name, FireExecuted)
	} else {
		s.observe(act.Name, FireFailed)
	}
	return res
}

// afterRun применяет CronMeta из результата.
func (s *Scheduler) afterRun(act *action.Action, res action.Result, logger *slog.Logger) {
	if res.Transport == nil || res.Transport.Cron == nil {
		return
	}
	meta := res.Transport.Cron

	if meta.SkipNext {
		logger.Warn("cron skipNext is not supported, ignoring")
	}

	switch {
	case meta.RunOnce:
		s.unbind(act.Name)
		logger.Info("cron binding removed after run")

	case meta.Reschedule != "":
		if _, err := s.bind(act, meta.Reschedule); err != nil {
			logger.Error("failed to reschedule cron action",
				"cron", meta.Reschedule,
				"error", err,
			)
			return
		}
		logger.Info("cron action rescheduled", "cron", meta.Reschedule)
	}
}

func (s *Scheduler) observe(name, result string) {
	if s.metrics != nil {
		s.metrics.CronFired(name, result)
	}
}
