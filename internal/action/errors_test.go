package action

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("boom"), false},
		{"deadline", context.DeadlineExceeded, true},
		{"wrapped deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), true},
		{"canceled", context.Canceled, false},
		{"unexpected eof", io.ErrUnexpectedEOF, true},
		{"conn refused", &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}, true},
		{"conn reset", fmt.Errorf("read: %w", syscall.ECONNRESET), true},
		{"net timeout", timeoutErr{}, true},
		{"marked", Retryable(errors.New("busy")), true},
		{"guard", Forbidden("no"), false},
		{"marked guard", Retryable(Forbidden("no")), false},
		{"validation", &ValidationError{Message: "bad"}, false},
		{"cycle", &CircularDependencyError{Action: "a"}, false},
		{"depth", &DepthExceededError{Action: "a"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestRetryable_Nil(t *testing.T) {
	assert.NoError(t, Retryable(nil))
}

func TestStatusOf(t *testing.T) {
	assert.Equal(t, http.StatusOK, StatusOf(nil))
	assert.Equal(t, http.StatusUnauthorized, StatusOf(Unauthorized("x")))
	assert.Equal(t, http.StatusForbidden, StatusOf(fmt.Errorf("wrap: %w", Forbidden("x"))))
	assert.Equal(t, http.StatusTooManyRequests, StatusOf(RateLimited("x")))
	assert.Equal(t, http.StatusInternalServerError, StatusOf(GuardInternal("x", errors.New("db"))))
	assert.Equal(t, http.StatusBadRequest, StatusOf(&ValidationError{Message: "x"}))
	assert.Equal(t, http.StatusNotFound, StatusOf(fmt.Errorf("%w: foo", ErrActionNotFound)))
	assert.Equal(t, http.StatusInternalServerError, StatusOf(errors.New("boom")))
}

func TestCircularDependencyError_Message(t *testing.T) {
	err := &CircularDependencyError{Action: "a", Stack: []string{"a", "b"}}
	assert.Equal(t, "circular dependency: a -> b -> a", err.Error())
}

func TestExecutionError_Unwrap(t *testing.T) {
	inner := errors.New("db down")
	err := &ExecutionError{Message: "db down", Action: "a", Err: inner}
	assert.ErrorIs(t, err, inner)
	assert.Equal(t, "action a: db down", err.Error())
}
