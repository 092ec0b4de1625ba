package action

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/shaiso/Conveyor/internal/domain"
)

// ErrCapabilityUnavailable — capability не сконфигурирован в ContextBuilder.
var ErrCapabilityUnavailable = errors.New("capability unavailable")

// Querier — доступ к БД (совместим с *pgxpool.Pool и pgx.Tx).
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ObjectStorage — объектное хранилище.
type ObjectStorage interface {
	Put(ctx context.Context, key string, r io.Reader) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// Mail — исходящее письмо.
type Mail struct {
	To      []string
	Subject string
	Text    string
	HTML    string
}

// Mailer — отправка писем.
type Mailer interface {
	Send(ctx context.Context, m Mail) error
}

// Cache — key-value кэш.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// JobPusher — постановка фоновых задач.
type JobPusher interface {
	Push(ctx context.Context, name string, data any, opts domain.PushOptions) (uuid.UUID, error)
}

// Dispatcher — вложенный вызов action через executor.
type Dispatcher interface {
	Dispatch(ctx context.Context, name string, input any, parent *Context) Result
}

// Auth — данные аутентификации вызывающей стороны.
type Auth struct {
	UserID  string
	Roles   []string
	Session map[string]any
}

// Authenticated возвращает true, если пользователь известен.
func (a *Auth) Authenticated() bool {
	return a != nil && a.UserID != ""
}

// HasRole проверяет наличие роли.
func (a *Auth) HasRole(role string) bool {
	if a == nil {
		return false
	}
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Providers — фабрики capabilities. nil — capability недоступен.
//
// Каждая фабрика вызывается не более одного раза на Context и только
// при первом обращении.
type Providers struct {
	DB      func() (Querier, error)
	Storage func() (ObjectStorage, error)
	Mailer  func() (Mailer, error)
	Cache   func() (Cache, error)
	Jobs    func() (JobPusher, error)
}

// ContextBuilder собирает Context для каждого вызова.
type ContextBuilder struct {
	logger     *slog.Logger
	providers  Providers
	dispatcher Dispatcher
}

// NewContextBuilder создаёт builder.
func NewContextBuilder(logger *slog.Logger, providers Providers) *ContextBuilder {
	if logger == nil {
		logger = slog.Default()
	}
	return &ContextBuilder{logger: logger, providers: providers}
}

// SetDispatcher подключает executor для Context.Invoke.
func (b *ContextBuilder) SetDispatcher(d Dispatcher) {
	b.dispatcher = d
}

// BuildParams — параметры вызова.
type BuildParams struct {
	TraceID     string
	Action      *Action
	Trigger     domain.TriggerType
	Auth        *Auth
	Path        Path
	Input       any
	MaxAttempts int

	// Logger — логгер вызова с trace_id и action (иначе строится от логгера builder'а).
	Logger *slog.Logger
}

// Build создаёт Context. Capabilities инициализируются лениво.
func (b *ContextBuilder) Build(p BuildParams) *Context {
	ec := &Context{
		traceID:     p.TraceID,
		action:      p.Action.Name,
		module:      p.Action.ModuleName,
		trigger:     p.Trigger,
		auth:        p.Auth,
		path:        p.Path,
		input:       p.Input,
		attempt:     1,
		maxAttempts: p.MaxAttempts,
		dispatcher:  b.dispatcher,
	}

	ec.logger = sync.OnceValue(func() *slog.Logger {
		l := p.Logger
		if l == nil {
			l = b.logger.With("trace_id", ec.traceID, "action", ec.action)
		}
		if ec.auth.Authenticated() {
			l = l.With("user_id", ec.auth.UserID)
		}
		return l
	})
	ec.db = lazy(b.providers.DB)
	ec.storage = lazy(b.providers.Storage)
	ec.mailer = lazy(b.providers.Mailer)
	ec.cache = lazy(b.providers.Cache)
	ec.jobs = lazy(b.providers.Jobs)

	return ec
}

func lazy[T any](provider func() (T, error)) func() (T, error) {
	if provider == nil {
		return func() (T, error) {
			var zero T
			return zero, ErrCapabilityUnavailable
		}
	}
	return sync.OnceValues(provider)
}

// Context — контекст выполнения одного вызова action.
//
// Живёт ровно один вызов. Attempt обновляется executor'ом перед
// каждой попыткой.
type Context struct {
	traceID     string
	action      string
	module      string
	trigger     domain.TriggerType
	auth        *Auth
	path        Path
	input       any
	attempt     int
	maxAttempts int
	dispatcher  Dispatcher

	logger  func() *slog.Logger
	db      func() (Querier, error)
	storage func() (ObjectStorage, error)
	mailer  func() (Mailer, error)
	cache   func() (Cache, error)
	jobs    func() (JobPusher, error)

	mu      sync.Mutex
	session []SessionAction
}

func (c *Context) TraceID() string             { return c.traceID }
func (c *Context) ActionName() string          { return c.action }
func (c *Context) ModuleName() string          { return c.module }
func (c *Context) Trigger() domain.TriggerType { return c.trigger }
func (c *Context) Auth() *Auth                 { return c.auth }
func (c *Context) Path() Path                  { return c.path }
func (c *Context) Input() any                  { return c.input }
func (c *Context) Attempt() int                { return c.attempt }
func (c *Context) MaxAttempts() int            { return c.maxAttempts }

// SetAttempt выставляет номер текущей попытки (1-based).
func (c *Context) SetAttempt(n int) {
	c.attempt = n
}

// Logger возвращает logger с trace_id и action.
func (c *Context) Logger() *slog.Logger {
	return c.logger()
}

// DB возвращает доступ к БД.
func (c *Context) DB() (Querier, error) {
	return c.db()
}

// Storage возвращает объектное хранилище.
func (c *Context) Storage() (ObjectStorage, error) {
	return c.storage()
}

// Mailer возвращает отправщик писем.
func (c *Context) Mailer() (Mailer, error) {
	return c.mailer()
}

// Cache возвращает key-value кэш.
func (c *Context) Cache() (Cache, error) {
	return c.cache()
}

// Jobs возвращает очередь фоновых задач.
func (c *Context) Jobs() (JobPusher, error) {
	return c.jobs()
}

// Invoke вызывает другой action через тот же executor.
// Путь вызовов и auth наследуются.
func (c *Context) Invoke(ctx context.Context, name string, input any) Result {
	if c.dispatcher == nil {
		return Result{Error: ErrCapabilityUnavailable.Error(), Err: ErrCapabilityUnavailable, TraceID: c.traceID}
	}
	return c.dispatcher.Dispatch(ctx, name, input, c)
}

// SetSession добавляет запись в сессию.
func (c *Context) SetSession(key string, value any) {
	c.addSession(SessionAction{Op: SessionSet, Key: key, Value: value})
}

// DeleteSession удаляет ключ из сессии.
func (c *Context) DeleteSession(key string) {
	c.addSession(SessionAction{Op: SessionDelete, Key: key})
}

// DestroySession уничтожает сессию.
func (c *Context) DestroySession() {
	c.addSession(SessionAction{Op: SessionDestroy})
}

func (c *Context) addSession(a SessionAction) {
	c.mu.Lock()
	c.session = append(c.session, a)
	c.mu.Unlock()
}

// SessionActions возвращает накопленные действия над сессией.
func (c *Context) SessionActions() []SessionAction {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]SessionAction(nil), c.session...)
}
