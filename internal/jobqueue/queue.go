package jobqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Conveyor/internal/action"
	"github.com/shaiso/Conveyor/internal/backoff"
	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/telemetry"
)

// Default configuration values.
const (
	defaultPollInterval = time.Second
	defaultConcurrency  = 1
	defaultStopTimeout  = 5 * time.Second

	retryBackoffBase = time.Second
	retryBackoffMax  = 30 * time.Second

	staleError = "requeued: worker did not finish in time"
)

// Исходы обработки для метрик.
const (
	OutcomeSuccess    = "success"
	OutcomeRetry      = "retry"
	OutcomeDeadLetter = "dead_letter"
	OutcomeFailed     = "failed"
)

// Handler обрабатывает задачу. Ошибка ведёт к повтору или dead-letter.
type Handler func(ctx context.Context, jc *JobContext, data json.RawMessage) error

// JobContext — контекст выполнения задачи.
type JobContext struct {
	JobID       uuid.UUID
	Name        string
	TraceID     string
	Attempt     int
	MaxAttempts int
	Logger      *slog.Logger

	// DB — доступ к БД (nil, если не сконфигурирован).
	DB action.Querier
}

// Metrics — метрики очереди (telemetry.Metrics).
type Metrics interface {
	JobProcessed(job, outcome string)
	JobDeadLettered(job string)
}

// Config — конфигурация Queue.
type Config struct {
	Store Store

	// DB передаётся обработчикам через JobContext (опционально).
	DB action.Querier

	PollInterval time.Duration // интервал polling (default: 1s)
	Concurrency  int           // максимум одновременных обработчиков (default: 1)
	StopTimeout  time.Duration // ожидание обработчиков при Stop (default: 5s)

	// StaleAfter — через сколько задача в running считается брошенной
	// и возвращается в очередь (0 — выключено). Должно быть больше
	// максимальной длительности обработчика, иначе задача выполнится дважды.
	StaleAfter time.Duration

	Metrics Metrics
	Logger  *slog.Logger
}

// Queue — очередь фоновых задач.
type Queue struct {
	store   Store
	db      action.Querier
	metrics Metrics
	logger  *slog.Logger

	pollInterval time.Duration
	stopTimeout  time.Duration
	staleAfter   time.Duration
	slots        chan struct{}

	handlersMu sync.RWMutex
	handlers   map[string]Handler

	// processing — задачи, выполняемые этим процессом.
	processingMu sync.Mutex
	processing   map[uuid.UUID]struct{}

	// Lifecycle
	runningMu  sync.Mutex
	running    bool
	cancelFunc context.CancelFunc
	loopWG     sync.WaitGroup
	handlerWG  sync.WaitGroup
	now        func() time.Time
}

// New создаёт Queue.
func New(cfg Config) *Queue {
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}

	stopTimeout := cfg.StopTimeout
	if stopTimeout <= 0 {
		stopTimeout = defaultStopTimeout
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Queue{
		store:        cfg.Store,
		db:           cfg.DB,
		metrics:      cfg.Metrics,
		logger:       logger,
		pollInterval: pollInterval,
		stopTimeout:  stopTimeout,
		staleAfter:   cfg.StaleAfter,
		slots:        make(chan struct{}, concurrency),
		handlers:     make(map[string]Handler),
		processing:   make(map[uuid.UUID]struct{}),
		now:          time.Now,
	}
}

// Register регистрирует обработчик задач name. Повторная регистрация
// заменяет обработчик.
func (q *Queue) Register(name string, h Handler) {
	q.handlersMu.Lock()
	defer q.handlersMu.Unlock()
	q.handlers[name] = h
}

func (q *Queue) handler(name string) (Handler, bool) {
	q.handlersMu.RLock()
	defer q.handlersMu.RUnlock()
	h, ok := q.handlers[name]
	return h, ok
}

// Push ставит задачу в очередь и возвращает её ID.
//
// data — json.RawMessage, []byte (уже JSON) или значение для json.Marshal.
func (q *Queue) Push(ctx context.Context, name string, data any, opts domain.PushOptions) (uuid.UUID, error) {
	if name == "" {
		return uuid.Nil, ErrEmptyName
	}

	payload, err := encodeData(data)
	if err != nil {
		return uuid.Nil, fmt.Errorf("encode job data: %w", err)
	}

	job := q.newJob(name, payload, opts)
	if err := q.store.Insert(ctx, job); err != nil {
		return uuid.Nil, fmt.Errorf("push job: %w", err)
	}

	q.logger.Debug("job pushed",
		"job_id", job.ID,
		"job_name", name,
		"run_at", job.RunAt,
		"priority", job.Priority,
	)
	return job.ID, nil
}

func (q *Queue) newJob(name string, data json.RawMessage, opts domain.PushOptions) *domain.Job {
	now := q.now().UTC()

	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = domain.DefaultJobMaxAttempts
	}

	runAt := now.Add(opts.Delay)
	if !opts.RunAt.IsZero() {
		runAt = opts.RunAt.UTC()
	}

	traceID := opts.TraceID
	if traceID == "" {
		traceID = uuid.NewString()
	}

	return &domain.Job{
		ID:          uuid.New(),
		Name:        name,
		Data:        data,
		Status:      domain.JobStatusPending,
		Priority:    opts.Priority,
		MaxAttempts: maxAttempts,
		RunAt:       runAt,
		TraceID:     traceID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func encodeData(data any) (json.RawMessage, error) {
	switch v := data.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return v, nil
	case []byte:
		if !json.Valid(v) {
			return nil, errors.New("data is not valid JSON")
		}
		return v, nil
	default:
		return json.Marshal(v)
	}
}

// Start запускает polling. Первый poll выполняется сразу.
func (q *Queue) Start(ctx context.Context) error {
	q.runningMu.Lock()
	defer q.runningMu.Unlock()

	if q.running {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	q.cancelFunc = cancel
	q.running = true

	q.logger.Info("starting job queue",
		"poll_interval", q.pollInterval,
		"concurrency", cap(q.slots),
		"stale_after", q.staleAfter,
	)

	q.loopWG.Add(1)
	go func() {
		defer q.loopWG.Done()
		q.pollLoop(ctx)
	}()

	return nil
}

// Stop останавливает polling и ждёт выполняющиеся обработчики
// не дольше StopTimeout (или до отмены ctx).
//
// Незавершённые задачи остаются в running. Возвращает ErrStopTimeout,
// если обработчики не успели завершиться.
func (q *Queue) Stop(ctx context.Context) error {
	q.runningMu.Lock()
	if !q.running {
		q.runningMu.Unlock()
		return nil
	}
	q.running = false
	q.cancelFunc()
	q.runningMu.Unlock()

	q.logger.Info("stopping job queue...")

	q.loopWG.Wait()

	done := make(chan struct{})
	go func() {
		q.handlerWG.Wait()
		close(done)
	}()

	timer := time.NewTimer(q.stopTimeout)
	defer timer.Stop()

	select {
	case <-done:
		q.logger.Info("job queue stopped")
		return nil
	case <-timer.C:
	case <-ctx.Done():
	}

	q.logger.Warn("job queue stopped with jobs in flight",
		"in_flight", len(q.inFlight()),
	)
	return ErrStopTimeout
}

// IsRunning возвращает true, если polling запущен.
func (q *Queue) IsRunning() bool {
	q.runningMu.Lock()
	defer q.runningMu.Unlock()
	return q.running
}

// pollLoop — цикл polling.
func (q *Queue) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(q.pollInterval)
	defer ticker.Stop()

	// Первый poll сразу при старте.
	q.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.requeueStale(ctx)
			q.poll(ctx)
		}
	}
}

// poll захватывает готовые задачи, пока есть свободные слоты.
func (q *Queue) poll(ctx context.Context) {
	for ctx.Err() == nil {
		select {
		case q.slots <- struct{}{}:
		default:
			return
		}

		job, err := q.store.Claim(ctx, q.now().UTC(), q.inFlight())
		if err != nil || job == nil {
			<-q.slots
			if err != nil && !errors.Is(err, context.Canceled) {
				q.logger.Error("failed to claim job", "error", err)
			}
			return
		}

		q.track(job.ID)
		q.handlerWG.Add(1)
		go func() {
			defer q.handlerWG.Done()
			defer func() { <-q.slots }()
			defer q.untrack(job.ID)

			// Обработчик не прерывается остановкой очереди.
			q.process(context.WithoutCancel(ctx), job)
		}()
	}
}

func (q *Queue) requeueStale(ctx context.Context) {
	if q.staleAfter <= 0 {
		return
	}

	now := q.now().UTC()
	n, err := q.store.RequeueStale(ctx, now.Add(-q.staleAfter), now)
	if err != nil {
		q.logger.Error("failed to requeue stale jobs", "error", err)
		return
	}
	if n > 0 {
		q.logger.Warn("requeued stale jobs", "count", n, "stale_after", q.staleAfter)
	}
}

// process выполняет захваченную задачу и фиксирует результат.
func (q *Queue) process(ctx context.Context, job *domain.Job) {
	logger := telemetry.WithTraceID(telemetry.WithJobID(q.logger, job.ID.String(), job.Name), job.TraceID)

	h, ok := q.handler(job.Name)
	if !ok {
		msg := fmt.Sprintf("%s: %s", ErrHandlerNotFound, job.Name)
		if err := q.store.MarkFailed(ctx, job.ID, msg); err != nil {
			logger.Error("failed to mark job failed", "error", err)
		}
		logger.Error("job handler not registered")
		q.observe(job.Name, OutcomeFailed)
		return
	}

	jc := &JobContext{
		JobID:       job.ID,
		Name:        job.Name,
		TraceID:     job.TraceID,
		Attempt:     job.Attempts,
		MaxAttempts: job.MaxAttempts,
		Logger:      logger,
		DB:          q.db,
	}

	logger.Debug("processing job", "attempt", job.Attempts, "max_attempts", job.MaxAttempts)

	start := time.Now()
	// В контексте только job_id/job_name: executor добавит свой trace_id.
	err := runHandler(telemetry.WithLogger(ctx, telemetry.WithJobID(q.logger, job.ID.String(), job.Name)), h, jc, job.Data)
	if err == nil {
		if err := q.store.Complete(ctx, job.ID); err != nil {
			logger.Error("failed to complete job", "error", err)
			return
		}
		logger.Info("job completed", "attempt", job.Attempts, "duration_ms", time.Since(start).Milliseconds())
		q.observe(job.Name, OutcomeSuccess)
		return
	}

	q.fail(ctx, logger, job, err)
}

// fail — повтор с backoff или перенос в job_failures.
func (q *Queue) fail(ctx context.Context, logger *slog.Logger, job *domain.Job, jobErr error) {
	now := q.now().UTC()

	if job.AttemptsExhausted() {
		if err := q.store.MoveToDeadLetter(ctx, job.ID, jobErr.Error(), now); err != nil {
			logger.Error("failed to move job to dead letter", "error", err)
			return
		}
		logger.Error("job moved to dead letter",
			"attempts", job.Attempts,
			"error", jobErr,
		)
		q.observe(job.Name, OutcomeDeadLetter)
		if q.metrics != nil {
			q.metrics.JobDeadLettered(job.Name)
		}
		return
	}

	delay := RetryDelay(job.Attempts)
	if err := q.store.Retry(ctx, job.ID, now.Add(delay), jobErr.Error()); err != nil {
		logger.Error("failed to schedule job retry", "error", err)
		return
	}

	logger.Warn("job failed, will retry",
		"attempt", job.Attempts,
		"max_attempts", job.MaxAttempts,
		"delay", delay,
		"error", jobErr,
	)
	q.observe(job.Name, OutcomeRetry)
}

// RetryDelay — задержка перед повтором после attempts попыток:
// min(1s * 2^attempts, 30s).
func RetryDelay(attempts int) time.Duration {
	return backoff.ExponentialDelay(retryBackoffBase, retryBackoffMax, attempts+1)
}

// runHandler вызывает обработчик, превращая панику в ошибку.
func runHandler(ctx context.Context, h Handler, jc *JobContext, data json.RawMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job handler panic: %v", r)
		}
	}()
	return h(ctx, jc, data)
}

func (q *Queue) observe(name, outcome string) {
	if q.metrics != nil {
		q.metrics.JobProcessed(name, outcome)
	}
}

func (q *Queue) track(id uuid.UUID) {
	q.processingMu.Lock()
	q.processing[id] = struct{}{}
	q.processingMu.Unlock()
}

func (q *Queue) untrack(id uuid.UUID) {
	q.processingMu.Lock()
	delete(q.processing, id)
	q.processingMu.Unlock()
}

func (q *Queue) inFlight() []uuid.UUID {
	q.processingMu.Lock()
	defer q.processingMu.Unlock()

	ids := make([]uuid.UUID, 0, len(q.processing))
	for id := range q.processing {
		ids = append(ids, id)
	}
	return ids
}
