package action

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/Conveyor/internal/backoff"
	"github.com/shaiso/Conveyor/internal/domain"
)

func noop(context.Context, *Context, any) (any, error) { return nil, nil }

func TestRetryPolicy_Resolve(t *testing.T) {
	var nilPolicy *RetryPolicy
	p := nilPolicy.Resolve()
	assert.Equal(t, 1, p.MaxAttempts)
	assert.Equal(t, backoff.Exponential, p.Backoff)
	assert.Equal(t, time.Second, p.BackoffBase)
	assert.Equal(t, 30*time.Second, p.MaxBackoff)

	p = (&RetryPolicy{MaxAttempts: 4, Backoff: backoff.Fixed, BackoffBase: 10 * time.Millisecond}).Resolve()
	assert.Equal(t, 4, p.MaxAttempts)
	assert.Equal(t, 10*time.Millisecond, p.Delay(3))
}

func TestRetryPolicy_ShouldRetry(t *testing.T) {
	transient := Retryable(errors.New("busy"))

	p := (&RetryPolicy{MaxAttempts: 3}).Resolve()
	assert.True(t, p.ShouldRetry(transient))
	assert.False(t, p.ShouldRetry(errors.New("permanent")))

	p = (&RetryPolicy{MaxAttempts: 3, RetryIf: func(error) bool { return false }}).Resolve()
	assert.False(t, p.ShouldRetry(transient))
}

func TestPath_AppendIsImmutable(t *testing.T) {
	root := NewPath("a")
	left := root.Append("b")
	right := root.Append("c")

	assert.Equal(t, []string{"a"}, root.Keys())
	assert.Equal(t, []string{"a", "b"}, left.Keys())
	assert.Equal(t, []string{"a", "c"}, right.Keys())
	assert.True(t, left.Contains("b"))
	assert.False(t, right.Contains("b"))
	assert.Equal(t, "a -> b", left.String())
	assert.Equal(t, 0, Path{}.Len())
}

func TestGuardSet_SequentialStopsAtFirstFailure(t *testing.T) {
	var calls []int
	set := Sequential(
		func(context.Context, *Context) error { calls = append(calls, 1); return nil },
		func(context.Context, *Context) error { calls = append(calls, 2); return Forbidden("no") },
		func(context.Context, *Context) error { calls = append(calls, 3); return nil },
	)

	err := set.Run(context.Background(), &Context{})
	var guardErr *GuardError
	require.ErrorAs(t, err, &guardErr)
	assert.Equal(t, []int{1, 2}, calls)
}

func TestGuardSet_ParallelCancelsOthers(t *testing.T) {
	var cancelled atomic.Bool
	set := Parallel(
		func(context.Context, *Context) error { return RateLimited("slow down") },
		func(ctx context.Context, _ *Context) error {
			select {
			case <-ctx.Done():
				cancelled.Store(true)
				return nil
			case <-time.After(time.Second):
				return nil
			}
		},
	)

	err := set.Run(context.Background(), &Context{})
	assert.Equal(t, 429, StatusOf(err))
	assert.True(t, cancelled.Load())
}

func TestRequireRole(t *testing.T) {
	b := NewContextBuilder(nil, Providers{})
	act := &Action{Name: "admin.only", Handler: noop}

	anon := b.Build(BuildParams{Action: act})
	assert.Equal(t, 401, StatusOf(RequireRole("admin")(context.Background(), anon)))

	user := b.Build(BuildParams{Action: act, Auth: &Auth{UserID: "u1", Roles: []string{"viewer"}}})
	assert.Equal(t, 403, StatusOf(RequireRole("admin")(context.Background(), user)))

	admin := b.Build(BuildParams{Action: act, Auth: &Auth{UserID: "u2", Roles: []string{"admin"}}})
	assert.NoError(t, RequireRole("admin")(context.Background(), admin))
}

type fakeCache struct{ Cache }

func TestContext_CapabilitiesAreLazy(t *testing.T) {
	var built atomic.Int32
	b := NewContextBuilder(nil, Providers{
		Cache: func() (Cache, error) {
			built.Add(1)
			return fakeCache{}, nil
		},
	})
	ec := b.Build(BuildParams{TraceID: "t1", Action: &Action{Name: "a", Handler: noop}})

	assert.Equal(t, int32(0), built.Load())

	c1, err := ec.Cache()
	require.NoError(t, err)
	c2, _ := ec.Cache()
	assert.Equal(t, c1, c2)
	assert.Equal(t, int32(1), built.Load())

	_, err = ec.DB()
	assert.ErrorIs(t, err, ErrCapabilityUnavailable)
}

func TestContext_InvokeWithoutDispatcher(t *testing.T) {
	ec := NewContextBuilder(nil, Providers{}).Build(BuildParams{Action: &Action{Name: "a", Handler: noop}})
	res := ec.Invoke(context.Background(), "b", nil)
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, ErrCapabilityUnavailable)
}

func TestContext_SessionActions(t *testing.T) {
	ec := NewContextBuilder(nil, Providers{}).Build(BuildParams{Action: &Action{Name: "a", Handler: noop}})
	ec.SetSession("user", "u1")
	ec.DeleteSession("cart")

	got := ec.SessionActions()
	require.Len(t, got, 2)
	assert.Equal(t, SessionSet, got[0].Op)
	assert.Equal(t, SessionDelete, got[1].Op)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()

	act := &Action{
		Name:     "report.daily",
		Handler:  noop,
		Triggers: []Trigger{CronTrigger("0 9 * * *")},
	}
	require.NoError(t, r.Register(act))
	require.NoError(t, r.Register(&Action{Name: "user.create", Handler: noop}))

	err := r.Register(&Action{Name: "report.daily", Handler: noop})
	assert.ErrorIs(t, err, ErrDuplicateAction)

	// Изменение исходной структуры не влияет на реестр.
	act.Triggers[0].Cron = "* * * * *"
	got, ok := r.Get("report.daily")
	require.True(t, ok)
	trigger, ok := got.CronTrigger()
	require.True(t, ok)
	assert.Equal(t, "0 9 * * *", trigger.Cron)

	names := []string{}
	for _, a := range r.All() {
		names = append(names, a.Name)
	}
	assert.Equal(t, []string{"report.daily", "user.create"}, names)

	_, ok = r.Get("missing")
	assert.False(t, ok)
}

func TestRegistry_Invalid(t *testing.T) {
	r := NewRegistry()

	assert.ErrorIs(t, r.Register(nil), ErrInvalidAction)
	assert.ErrorIs(t, r.Register(&Action{Handler: noop}), ErrInvalidAction)
	assert.ErrorIs(t, r.Register(&Action{Name: "x"}), ErrInvalidAction)
	assert.ErrorIs(t, r.Register(&Action{
		Name:    "x",
		Handler: noop,
		Triggers: []Trigger{
			CronTrigger("@hourly"),
			{Type: domain.TriggerCron, Cron: "@daily"},
		},
	}), ErrInvalidAction)
	assert.Equal(t, 0, r.Len())
}
