package builtin

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/Conveyor/internal/action"
	"github.com/shaiso/Conveyor/internal/backoff"
	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/executor"
	"github.com/shaiso/Conveyor/internal/jobqueue"
)

type fakeDB struct {
	sql  string
	args []any
	err  error
}

func (f *fakeDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.sql = sql
	f.args = args
	if f.err != nil {
		return pgconn.CommandTag{}, f.err
	}
	return pgconn.NewCommandTag("DELETE 7"), nil
}

func (f *fakeDB) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeDB) QueryRow(context.Context, string, ...any) pgx.Row {
	return nil
}

type entries struct {
	mu  sync.Mutex
	all []domain.RunEntry
}

func (e *entries) PushRun(_ context.Context, entry domain.RunEntry) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.all = append(e.all, entry)
}

func newExecutor(t *testing.T, reg *action.Registry, db action.Querier) (*executor.Executor, *entries) {
	t.Helper()
	sink := &entries{}
	var providers action.Providers
	if db != nil {
		providers.DB = func() (action.Querier, error) { return db, nil }
	}
	exec := executor.New(executor.Config{
		Registry: reg,
		Sink:     sink,
		Builder:  action.NewContextBuilder(nil, providers),
	})
	return exec, sink
}

func TestRegister_DisabledWithoutRetention(t *testing.T) {
	reg := action.NewRegistry()
	require.NoError(t, Register(reg, Options{}))
	assert.Equal(t, 1, reg.Len())
	_, ok := reg.Get(PurgeRunsAction)
	assert.False(t, ok)
}

func TestRegister_HTTPRetryOptions(t *testing.T) {
	reg := action.NewRegistry()
	require.NoError(t, Register(reg, Options{HTTPMaxAttempts: 5, HTTPBackoff: backoff.ParseKind("fixed")}))

	act, ok := reg.Get(HTTPRequestAction)
	require.True(t, ok)
	assert.Equal(t, 5, act.Retry.MaxAttempts)
	assert.Equal(t, backoff.Fixed, act.Retry.Backoff)
}

func TestPurgeRuns(t *testing.T) {
	reg := action.NewRegistry()
	require.NoError(t, Register(reg, Options{RunRetention: 24 * time.Hour}))

	act, ok := reg.Get(PurgeRunsAction)
	require.True(t, ok)
	trig, ok := act.CronTrigger()
	require.True(t, ok)
	assert.Equal(t, DefaultPurgeCron, trig.Cron)

	db := &fakeDB{}
	exec, sink := newExecutor(t, reg, db)

	res := exec.ExecuteByName(context.Background(), PurgeRunsAction, nil, executor.Options{Trigger: domain.TriggerCron})
	require.True(t, res.Success, res.Error)

	out, ok := res.Data.(PurgeResult)
	require.True(t, ok)
	assert.EqualValues(t, 7, out.Deleted)
	assert.WithinDuration(t, time.Now().Add(-24*time.Hour), out.Before, time.Minute)

	assert.Contains(t, db.sql, "DELETE FROM action_runs")
	require.Len(t, db.args, 1)

	require.Len(t, sink.all, 1)
	assert.Equal(t, domain.TriggerCron, sink.all[0].TriggerType)
}

func TestPurgeRuns_NoDatabase(t *testing.T) {
	reg := action.NewRegistry()
	require.NoError(t, reg.Register(PurgeRuns(time.Hour, "")))
	exec, _ := newExecutor(t, reg, nil)

	res := exec.ExecuteByName(context.Background(), PurgeRunsAction, nil, executor.Options{})
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, action.ErrCapabilityUnavailable)
}

func TestInvokeJob(t *testing.T) {
	var got any
	reg := action.NewRegistry()
	require.NoError(t, reg.Register(&action.Action{
		Name: "greet",
		Handler: func(_ context.Context, ec *action.Context, input any) (any, error) {
			got = input
			assert.Equal(t, domain.TriggerJob, ec.Trigger())
			return "ok", nil
		},
	}))
	exec, sink := newExecutor(t, reg, nil)

	jc := &jobqueue.JobContext{JobID: uuid.New(), Name: InvokeJobName, TraceID: "job-trace"}
	data := json.RawMessage(`{"action":"greet","input":{"name":"ann"}}`)

	require.NoError(t, InvokeJob(exec)(context.Background(), jc, data))

	raw, ok := got.(json.RawMessage)
	require.True(t, ok)
	assert.JSONEq(t, `{"name":"ann"}`, string(raw))

	require.Len(t, sink.all, 1)
	assert.Equal(t, "job-trace", sink.all[0].TraceID)
	assert.Equal(t, domain.TriggerJob, sink.all[0].TriggerType)
}

func TestInvokeJob_Failures(t *testing.T) {
	reg := action.NewRegistry()
	require.NoError(t, reg.Register(&action.Action{
		Name: "broken",
		Handler: func(context.Context, *action.Context, any) (any, error) {
			return nil, errors.New("boom")
		},
	}))
	exec, _ := newExecutor(t, reg, nil)
	handler := InvokeJob(exec)
	jc := &jobqueue.JobContext{TraceID: "t"}

	err := handler(context.Background(), jc, json.RawMessage(`{"action":"broken"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")

	err = handler(context.Background(), jc, json.RawMessage(`{"action":"missing"}`))
	assert.ErrorIs(t, err, action.ErrActionNotFound)

	err = handler(context.Background(), jc, json.RawMessage(`{}`))
	assert.ErrorIs(t, err, ErrInvalidInvokeRequest)

	err = handler(context.Background(), jc, json.RawMessage(`[1]`))
	assert.ErrorIs(t, err, ErrInvalidInvokeRequest)
}

func TestInvokeJob_ThroughQueue(t *testing.T) {
	calls := make(chan struct{}, 1)
	reg := action.NewRegistry()
	require.NoError(t, reg.Register(&action.Action{
		Name: "ping",
		Handler: func(context.Context, *action.Context, any) (any, error) {
			calls <- struct{}{}
			return nil, nil
		},
	}))
	exec, _ := newExecutor(t, reg, nil)

	store := jobqueue.NewMemoryStore()
	q := jobqueue.New(jobqueue.Config{Store: store, PollInterval: 10 * time.Millisecond})
	q.Register(InvokeJobName, InvokeJob(exec))

	_, err := q.Push(context.Background(), InvokeJobName, InvokeRequest{Action: "ping"}, domain.PushOptions{})
	require.NoError(t, err)

	require.NoError(t, q.Start(context.Background()))
	defer func() { _ = q.Stop(context.Background()) }()

	select {
	case <-calls:
	case <-time.After(2 * time.Second):
		t.Fatal("action was not invoked")
	}
}
