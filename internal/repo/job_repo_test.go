package repo

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/Conveyor/internal/domain"
)

// testPool подключается к TEST_DB_URL и очищает таблицы.
// Без TEST_DB_URL тест пропускается.
func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	dsn := os.Getenv("TEST_DB_URL")
	if dsn == "" {
		t.Skip("TEST_DB_URL not set")
	}

	ctx := context.Background()
	pool, err := NewPool(ctx, PoolConfig{DSN: dsn, MaxConns: 20})
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	_, err = Migrate(ctx, pool)
	require.NoError(t, err)

	_, err = pool.Exec(ctx, `TRUNCATE job_queue, job_failures, action_runs`)
	require.NoError(t, err)
	return pool
}

func newJob(name string, priority int, runAt time.Time) *domain.Job {
	return &domain.Job{
		ID:          uuid.New(),
		Name:        name,
		Data:        json.RawMessage(`{"n":1}`),
		Status:      domain.JobStatusPending,
		Priority:    priority,
		MaxAttempts: 2,
		RunAt:       runAt,
		TraceID:     uuid.NewString(),
		CreatedAt:   runAt,
		UpdatedAt:   runAt,
	}
}

func TestJobRepo_ConcurrentClaim(t *testing.T) {
	pool := testPool(t)
	r := NewJobRepo(pool)
	ctx := context.Background()
	now := time.Now().UTC()

	const jobs = 10
	for i := 0; i < jobs; i++ {
		require.NoError(t, r.Insert(ctx, newJob("job", 0, now.Add(-time.Second))))
	}

	var (
		mu      sync.Mutex
		claimed = make(map[uuid.UUID]int)
		wg      sync.WaitGroup
	)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				job, err := r.Claim(ctx, now, nil)
				if !assert.NoError(t, err) || job == nil {
					return
				}
				mu.Lock()
				claimed[job.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, claimed, jobs)
	for id, n := range claimed {
		assert.Equal(t, 1, n)
		job, err := r.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusRunning, job.Status)
		assert.Equal(t, 1, job.Attempts)
	}
}

func TestJobRepo_ClaimOrderAndExclude(t *testing.T) {
	pool := testPool(t)
	r := NewJobRepo(pool)
	ctx := context.Background()
	now := time.Now().UTC()

	low := newJob("low", 0, now.Add(-time.Hour))
	high := newJob("high", 5, now.Add(-time.Minute))
	future := newJob("future", 9, now.Add(time.Hour))
	for _, j := range []*domain.Job{low, high, future} {
		require.NoError(t, r.Insert(ctx, j))
	}

	job, err := r.Claim(ctx, now, []uuid.UUID{high.ID})
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, low.ID, job.ID)

	job, err = r.Claim(ctx, now, nil)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, high.ID, job.ID)

	job, err = r.Claim(ctx, now, nil)
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestJobRepo_ClaimExcludesSeveral(t *testing.T) {
	pool := testPool(t)
	r := NewJobRepo(pool)
	ctx := context.Background()
	now := time.Now().UTC()

	a := newJob("a", 3, now.Add(-time.Minute))
	b := newJob("b", 2, now.Add(-time.Minute))
	c := newJob("c", 1, now.Add(-time.Minute))
	for _, j := range []*domain.Job{a, b, c} {
		require.NoError(t, r.Insert(ctx, j))
	}

	job, err := r.Claim(ctx, now, []uuid.UUID{a.ID, b.ID})
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, c.ID, job.ID)

	job, err = r.Claim(ctx, now, []uuid.UUID{})
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, a.ID, job.ID)

	job, err = r.Claim(ctx, now, []uuid.UUID{b.ID})
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestJobRepo_DeadLetterAndResurrect(t *testing.T) {
	pool := testPool(t)
	r := NewJobRepo(pool)
	ctx := context.Background()
	now := time.Now().UTC()

	job := newJob("always-fails", 3, now)
	require.NoError(t, r.Insert(ctx, job))

	for i := 0; i < 2; i++ {
		claimed, err := r.Claim(ctx, time.Now().UTC(), nil)
		require.NoError(t, err)
		require.NotNil(t, claimed)
		if i == 0 {
			require.NoError(t, r.Retry(ctx, job.ID, now, "boom"))
		}
	}
	require.NoError(t, r.MoveToDeadLetter(ctx, job.ID, "boom", time.Now().UTC()))

	_, err := r.Get(ctx, job.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	dead, err := r.GetFailed(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, dead.Attempts)
	assert.Equal(t, "boom", dead.Error)
	assert.JSONEq(t, `{"n":1}`, string(dead.Data))

	assert.ErrorIs(t, r.MoveToDeadLetter(ctx, job.ID, "again", now), ErrNotFound)

	fresh := newJob(dead.Name, 0, now)
	fresh.Data = dead.Data
	require.NoError(t, r.Resurrect(ctx, dead.ID, fresh))

	_, err = r.GetFailed(ctx, dead.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := r.Get(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Zero(t, got.Attempts)

	assert.ErrorIs(t, r.Resurrect(ctx, dead.ID, newJob("x", 0, now)), ErrNotFound)

	stats, err := r.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ByStatus[domain.JobStatusPending])
	assert.Zero(t, stats.DeadLetters)
}

func TestJobRepo_UpdateAndStale(t *testing.T) {
	pool := testPool(t)
	r := NewJobRepo(pool)
	ctx := context.Background()
	now := time.Now().UTC()

	job := newJob("x", 0, now)
	require.NoError(t, r.Insert(ctx, job))

	prio := 7
	updated, err := r.Update(ctx, job.ID, domain.JobUpdate{Priority: &prio})
	require.NoError(t, err)
	assert.Equal(t, 7, updated.Priority)

	_, err = r.Claim(ctx, now, nil)
	require.NoError(t, err)

	_, err = r.Update(ctx, job.ID, domain.JobUpdate{Priority: &prio})
	assert.ErrorIs(t, err, ErrInvalidState)

	n, err := r.RequeueStale(ctx, now.Add(time.Hour), now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := r.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusRetrying, got.Status)
}

func TestRunRepo_InsertBatch(t *testing.T) {
	pool := testPool(t)
	r := NewRunRepo(pool)
	ctx := context.Background()

	entries := []domain.RunEntry{
		{TraceID: "t1", ActionName: "a", TriggerType: domain.TriggerHTTP, Status: domain.RunStatusError,
			ErrorMessage: "busy", Attempt: 1, MaxAttempts: 2, Duration: 15 * time.Millisecond, CreatedAt: time.Now().UTC()},
		{TraceID: "t1", ActionName: "a", TriggerType: domain.TriggerHTTP, Status: domain.RunStatusSuccess,
			Output: json.RawMessage(`{"ok":true}`), Attempt: 2, MaxAttempts: 2, Final: true, CreatedAt: time.Now().UTC()},
	}
	require.NoError(t, r.InsertBatch(ctx, entries))

	got, err := r.List(ctx, RunFilter{TraceID: "t1"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, domain.RunStatusSuccess, got[0].Status)
	assert.JSONEq(t, `{"ok":true}`, string(got[0].Output))
	assert.Equal(t, 15*time.Millisecond, got[1].Duration)
}
