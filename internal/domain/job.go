package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// JobStatus — статус фоновой задачи в очереди.
//
// Жизненный цикл:
//
//	pending → running → (удаляется из job_queue)
//	                  ↘ retrying → running → ...
//	                  ↘ перенос в job_failures (попытки исчерпаны)
//	running → failed (обработчик не зарегистрирован)
type JobStatus string

const (
	// JobStatusPending — задача ожидает первого выполнения.
	JobStatusPending JobStatus = "pending"

	// JobStatusRunning — задача захвачена воркером.
	JobStatusRunning JobStatus = "running"

	// JobStatusCompleted — задача выполнена (строка удаляется сразу после).
	JobStatusCompleted JobStatus = "completed"

	// JobStatusFailed — задача не может быть выполнена (ошибка конфигурации).
	JobStatusFailed JobStatus = "failed"

	// JobStatusRetrying — задача ожидает повторной попытки после ошибки.
	JobStatusRetrying JobStatus = "retrying"
)

// IsPollable возвращает true, если задачу может захватить воркер.
func (s JobStatus) IsPollable() bool {
	return s == JobStatusPending || s == JobStatusRetrying
}

// Valid проверяет, что статус известен.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusRunning, JobStatusCompleted, JobStatusFailed, JobStatusRetrying:
		return true
	default:
		return false
	}
}

// Значения по умолчанию для новых задач.
const (
	DefaultJobMaxAttempts = 3
	DefaultJobPriority    = 0
)

// Job — durable единица фоновой работы (строка таблицы job_queue).
//
// Job создаётся через Queue.Push, изменяется циклом воркера и в итоге
// удаляется (успех) или переносится в job_failures (DeadLetterEntry).
type Job struct {
	// ID — глобально уникальный идентификатор.
	ID uuid.UUID `json:"id"`

	// Name — имя зарегистрированного обработчика.
	Name string `json:"name"`

	// Data — непрозрачный payload, передаётся обработчику как есть.
	Data json.RawMessage `json:"data,omitempty"`

	// Status — текущий статус.
	Status JobStatus `json:"status"`

	// Priority — приоритет: большее значение выполняется раньше.
	Priority int `json:"priority"`

	// Attempts — количество захватов задачи воркерами.
	// Увеличивается ровно один раз за захват, в той же транзакции.
	Attempts int `json:"attempts"`

	// MaxAttempts — лимит попыток, после которого задача уходит в job_failures.
	MaxAttempts int `json:"max_attempts"`

	// RunAt — самое раннее время, когда задача может быть захвачена.
	RunAt time.Time `json:"run_at"`

	// LastError — текст последней ошибки обработчика.
	LastError string `json:"last_error,omitempty"`

	// TraceID — идентификатор для корреляции логов.
	TraceID string `json:"trace_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AttemptsExhausted возвращает true, если лимит попыток исчерпан.
func (j *Job) AttemptsExhausted() bool {
	return j.Attempts >= j.MaxAttempts
}

// MarkRunning переводит задачу в running и увеличивает счётчик попыток.
func (j *Job) MarkRunning(now time.Time) {
	j.Status = JobStatusRunning
	j.Attempts++
	j.UpdatedAt = now
}

// MarkRetrying планирует повторную попытку.
func (j *Job) MarkRetrying(runAt time.Time, lastError string, now time.Time) {
	j.Status = JobStatusRetrying
	j.RunAt = runAt
	j.LastError = lastError
	j.UpdatedAt = now
}

// MarkFailed переводит задачу в терминальный статус failed.
func (j *Job) MarkFailed(lastError string, now time.Time) {
	j.Status = JobStatusFailed
	j.LastError = lastError
	j.UpdatedAt = now
}

// DeadLetter строит запись для job_failures.
func (j *Job) DeadLetter(errMsg string, failedAt time.Time) *DeadLetterEntry {
	return &DeadLetterEntry{
		ID:       j.ID,
		Name:     j.Name,
		Data:     j.Data,
		Error:    errMsg,
		Attempts: j.Attempts,
		FailedAt: failedAt,
		TraceID:  j.TraceID,
	}
}

// DeadLetterEntry — задача, исчерпавшая все попытки (строка job_failures).
type DeadLetterEntry struct {
	ID       uuid.UUID       `json:"id"`
	Name     string          `json:"name"`
	Data     json.RawMessage `json:"data,omitempty"`
	Error    string          `json:"error"`
	Attempts int             `json:"attempts"`
	FailedAt time.Time       `json:"failed_at"`
	TraceID  string          `json:"trace_id,omitempty"`
}

// PushOptions — параметры постановки задачи в очередь.
type PushOptions struct {
	// Priority — приоритет (default: 0).
	Priority int

	// MaxAttempts — лимит попыток (default: 3).
	MaxAttempts int

	// Delay — задержка перед первым выполнением.
	// Игнорируется, если задан RunAt.
	Delay time.Duration

	// RunAt — абсолютное время первого выполнения.
	RunAt time.Time

	// TraceID — trace id вызывающей стороны (иначе генерируется новый).
	TraceID string
}

// JobFilter — фильтр для списка задач.
type JobFilter struct {
	Status *JobStatus
	Name   string
	Limit  int
	Offset int
}

// JobUpdate — изменяемые поля задачи. nil — поле не меняется.
type JobUpdate struct {
	Data        json.RawMessage
	Priority    *int
	MaxAttempts *int
	RunAt       *time.Time
}

// IsEmpty возвращает true, если обновлять нечего.
func (u JobUpdate) IsEmpty() bool {
	return u.Data == nil && u.Priority == nil && u.MaxAttempts == nil && u.RunAt == nil
}

// Apply применяет изменения к задаче.
func (u JobUpdate) Apply(j *Job, now time.Time) {
	if u.Data != nil {
		j.Data = u.Data
	}
	if u.Priority != nil {
		j.Priority = *u.Priority
	}
	if u.MaxAttempts != nil {
		j.MaxAttempts = *u.MaxAttempts
	}
	if u.RunAt != nil {
		j.RunAt = *u.RunAt
	}
	j.UpdatedAt = now
}

// QueueStats — сводка по очереди.
type QueueStats struct {
	ByStatus    map[JobStatus]int `json:"by_status"`
	DeadLetters int               `json:"dead_letters"`
}
