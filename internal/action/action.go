package action

import (
	"context"
	"time"

	"github.com/shaiso/Conveyor/internal/backoff"
	"github.com/shaiso/Conveyor/internal/domain"
)

// Handler — тело action. input уже прошёл валидацию (если она задана).
//
// Результат может быть обёрнут в *Output, чтобы передать транспортные
// метаданные (HTTP-статус, управление cron) и действия над сессией.
type Handler func(ctx context.Context, ec *Context, input any) (any, error)

// Trigger — способ запуска action.
type Trigger struct {
	// Type — тип триггера.
	Type domain.TriggerType

	// Cron — cron-выражение (только для TriggerCron).
	// Формат: "минуты часы дни месяцы дни_недели" или дескриптор ("@hourly").
	Cron string
}

// CronTrigger создаёт cron-триггер.
func CronTrigger(expr string) Trigger {
	return Trigger{Type: domain.TriggerCron, Cron: expr}
}

// RetryPolicy — политика повторов при ошибке handler'а.
type RetryPolicy struct {
	// MaxAttempts — максимальное количество попыток (default: 1 — без retry).
	MaxAttempts int

	// Backoff — стратегия: "exponential" (default) или "fixed".
	Backoff backoff.Kind

	// BackoffBase — базовая задержка (default: 1s).
	BackoffBase time.Duration

	// MaxBackoff — потолок задержки (default: 30s).
	MaxBackoff time.Duration

	// RetryIf — дополнительный предикат. Retry выполняется, только если
	// ошибка транзиентная И RetryIf (если задан) вернул true.
	RetryIf func(err error) bool
}

// Resolve возвращает политику с заполненными значениями по умолчанию.
// nil-политика означает одну попытку.
func (p *RetryPolicy) Resolve() RetryPolicy {
	resolved := RetryPolicy{
		MaxAttempts: 1,
		Backoff:     backoff.Exponential,
		BackoffBase: backoff.DefaultBase,
		MaxBackoff:  backoff.DefaultMax,
	}
	if p == nil {
		return resolved
	}

	if p.MaxAttempts > 0 {
		resolved.MaxAttempts = p.MaxAttempts
	}
	if p.Backoff != "" {
		resolved.Backoff = p.Backoff
	}
	if p.BackoffBase > 0 {
		resolved.BackoffBase = p.BackoffBase
	}
	if p.MaxBackoff > 0 {
		resolved.MaxBackoff = p.MaxBackoff
	}
	resolved.RetryIf = p.RetryIf
	return resolved
}

// Delay возвращает задержку перед попыткой attempt+1.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	return backoff.Policy{Kind: p.Backoff, Base: p.BackoffBase, Max: p.MaxBackoff}.Delay(attempt)
}

// ShouldRetry решает, можно ли повторить попытку после err.
func (p RetryPolicy) ShouldRetry(err error) bool {
	if !IsRetryable(err) {
		return false
	}
	if p.RetryIf != nil && !p.RetryIf(err) {
		return false
	}
	return true
}

// Action — именованная единица работы.
//
// Неизменяема после регистрации: Registry хранит собственную копию.
type Action struct {
	// Name — уникальный ключ action.
	Name string

	// ModuleName — имя модуля-владельца (опционально).
	ModuleName string

	// Guards — проверки перед handler'ом.
	Guards GuardSet

	// Triggers — способы запуска. Не более одного cron-триггера.
	Triggers []Trigger

	// Handler — тело action.
	Handler Handler

	// Retry — политика повторов (nil — без повторов).
	Retry *RetryPolicy

	// Validate — валидация и нормализация входа (опционально).
	// Ошибка валидации не повторяется.
	Validate func(input any) (any, error)

	// LockTTL — TTL распределённой блокировки для cron-запусков
	// (0 — значение планировщика по умолчанию).
	//
	// Если handler работает дольше TTL, блокировка истекает и другой
	// экземпляр может запустить action параллельно.
	LockTTL time.Duration
}

// Key возвращает ключ action для реестра и обнаружения циклов.
func (a *Action) Key() string {
	return a.Name
}

// CronTrigger возвращает cron-триггер action, если он есть.
func (a *Action) CronTrigger() (Trigger, bool) {
	for _, t := range a.Triggers {
		if t.Type == domain.TriggerCron {
			return t, true
		}
	}
	return Trigger{}, false
}

// clone возвращает копию, не разделяющую срезы с оригиналом.
func (a *Action) clone() *Action {
	c := *a
	c.Triggers = append([]Trigger(nil), a.Triggers...)
	c.Guards = a.Guards.clone()
	if a.Retry != nil {
		r := *a.Retry
		c.Retry = &r
	}
	return &c
}

// Output — результат handler'а с транспортными метаданными.
//
// Executor снимает обёртку: в Result.Data попадает только Data.
type Output struct {
	Data      any
	Transport *TransportMeta
	Session   []SessionAction
}

// WithTransport оборачивает данные транспортными метаданными.
func WithTransport(data any, meta TransportMeta) *Output {
	return &Output{Data: data, Transport: &meta}
}

// TransportMeta — метаданные для транспортного слоя.
type TransportMeta struct {
	HTTP *HTTPMeta `json:"http,omitempty"`
	Cron *CronMeta `json:"cron,omitempty"`
}

// HTTPMeta — подсказки HTTP-слою.
type HTTPMeta struct {
	Status  int               `json:"status,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

// CronMeta — управление cron-привязкой из результата запуска.
type CronMeta struct {
	// Reschedule — новое cron-выражение для этой привязки.
	Reschedule string `json:"reschedule,omitempty"`

	// RunOnce — удалить привязку после текущего запуска.
	RunOnce bool `json:"run_once,omitempty"`

	// SkipNext — пропустить следующий запуск (не поддерживается cron-движком).
	SkipNext bool `json:"skip_next,omitempty"`
}

// SessionOp — операция над сессией.
type SessionOp string

const (
	SessionSet     SessionOp = "set"
	SessionDelete  SessionOp = "delete"
	SessionDestroy SessionOp = "destroy"
)

// SessionAction — отложенное действие над сессией, выполняемое HTTP-слоем.
type SessionAction struct {
	Op    SessionOp `json:"op"`
	Key   string    `json:"key,omitempty"`
	Value any       `json:"value,omitempty"`
}

// Result — результат Executor'а. Единственный контракт, который читают
// HTTP/WS/MCP-слои.
type Result struct {
	Success bool
	Data    any

	// Error — сообщение об ошибке, Err — сама ошибка (для StatusOf / errors.As).
	Error string
	Err   error

	Transport *TransportMeta
	Session   []SessionAction

	// TraceID — trace id вызова.
	TraceID string
}
