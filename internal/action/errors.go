package action

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"
)

// Ошибки реестра.
var (
	// ErrActionNotFound — action не зарегистрирован.
	ErrActionNotFound = errors.New("action not found")

	// ErrDuplicateAction — action с таким именем уже зарегистрирован.
	ErrDuplicateAction = errors.New("action already registered")

	// ErrInvalidAction — некорректное описание action.
	ErrInvalidAction = errors.New("invalid action")
)

// GuardError — отказ guard'а. Status — класс ответа для транспорта.
type GuardError struct {
	Status  int
	Message string
	Err     error
}

func (e *GuardError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("guard: %s: %v", e.Message, e.Err)
	}
	return "guard: " + e.Message
}

func (e *GuardError) Unwrap() error {
	return e.Err
}

// Unauthorized — нет аутентификации (401).
func Unauthorized(msg string) *GuardError {
	return &GuardError{Status: http.StatusUnauthorized, Message: msg}
}

// Forbidden — недостаточно прав (403).
func Forbidden(msg string) *GuardError {
	return &GuardError{Status: http.StatusForbidden, Message: msg}
}

// RateLimited — превышен лимит запросов (429).
func RateLimited(msg string) *GuardError {
	return &GuardError{Status: http.StatusTooManyRequests, Message: msg}
}

// GuardInternal — внутренняя ошибка guard'а (500).
func GuardInternal(msg string, err error) *GuardError {
	return &GuardError{Status: http.StatusInternalServerError, Message: msg, Err: err}
}

// CircularDependencyError — action уже есть в пути вызовов.
type CircularDependencyError struct {
	Action string
	Stack  []string
}

func (e *CircularDependencyError) Error() string {
	return fmt.Sprintf("circular dependency: %s -> %s", strings.Join(e.Stack, " -> "), e.Action)
}

// DepthExceededError — превышена максимальная глубина вложенных вызовов.
type DepthExceededError struct {
	Action   string
	Depth    int
	MaxDepth int
	Stack    []string
}

func (e *DepthExceededError) Error() string {
	return fmt.Sprintf("max call depth %d exceeded at %s (depth %d)", e.MaxDepth, e.Action, e.Depth)
}

// ValidationError — вход не прошёл валидацию. Не повторяется.
type ValidationError struct {
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("validation: %s: %v", e.Message, e.Err)
	}
	return "validation: " + e.Message
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// ExecutionError — нормализованная ошибка выполнения с контекстом вызова.
type ExecutionError struct {
	Message string
	Stack   string
	TraceID string
	Action  string
	Module  string
	UserID  string
	Err     error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("action %s: %s", e.Action, e.Message)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// retryableError помечает ошибку как транзиентную.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

// Retryable помечает err как транзиентную: executor повторит попытку
// в пределах политики.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &retryableError{err: err}
}

// IsRetryable возвращает true для транзиентных ошибок: таймауты,
// отказ/сброс соединения, обрыв потока и явно помеченные через Retryable.
//
// Ошибки guards, циклов, глубины и валидации не повторяются никогда.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var (
		guardErr *GuardError
		cycleErr *CircularDependencyError
		depthErr *DepthExceededError
		validErr *ValidationError
	)
	switch {
	case errors.As(err, &guardErr), errors.As(err, &cycleErr),
		errors.As(err, &depthErr), errors.As(err, &validErr):
		return false
	}

	var marked *retryableError
	if errors.As(err, &marked) {
		return true
	}

	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return false
}

// StatusOf возвращает класс ответа для транспорта.
func StatusOf(err error) int {
	if err == nil {
		return http.StatusOK
	}

	var guardErr *GuardError
	if errors.As(err, &guardErr) {
		return guardErr.Status
	}

	var validErr *ValidationError
	if errors.As(err, &validErr) {
		return http.StatusBadRequest
	}

	if errors.Is(err, ErrActionNotFound) {
		return http.StatusNotFound
	}

	return http.StatusInternalServerError
}
