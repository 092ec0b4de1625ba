package jobqueue

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/repo"
)

// MemoryStore — Store в памяти процесса.
//
// Все операции сериализуются мьютексом, поэтому Claim атомарен
// в пределах процесса. Между процессами не разделяется.
type MemoryStore struct {
	mu     sync.Mutex
	jobs   map[uuid.UUID]*domain.Job
	failed map[uuid.UUID]*domain.DeadLetterEntry
	now    func() time.Time
}

// NewMemoryStore создаёт пустое хранилище.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:   make(map[uuid.UUID]*domain.Job),
		failed: make(map[uuid.UUID]*domain.DeadLetterEntry),
		now:    time.Now,
	}
}

func (s *MemoryStore) Insert(_ context.Context, job *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[job.ID]; ok {
		return fmt.Errorf("insert job %s: %w", job.ID, repo.ErrAlreadyExists)
	}
	j := *job
	s.jobs[job.ID] = &j
	return nil
}

func (s *MemoryStore) Claim(_ context.Context, now time.Time, exclude []uuid.UUID) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var best *domain.Job
	for _, j := range s.jobs {
		if !j.Status.IsPollable() || j.RunAt.After(now) || slices.Contains(exclude, j.ID) {
			continue
		}
		if best == nil || before(j, best) {
			best = j
		}
	}
	if best == nil {
		return nil, nil
	}

	best.MarkRunning(now)
	claimed := *best
	return &claimed, nil
}

// before — порядок захвата: priority DESC, run_at ASC.
func before(a, b *domain.Job) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if !a.RunAt.Equal(b.RunAt) {
		return a.RunAt.Before(b.RunAt)
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

func (s *MemoryStore) Get(_ context.Context, id uuid.UUID) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	out := *j
	return &out, nil
}

func (s *MemoryStore) List(_ context.Context, filter domain.JobFilter) ([]domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Job
	for _, j := range s.jobs {
		if filter.Status != nil && j.Status != *filter.Status {
			continue
		}
		if filter.Name != "" && j.Name != filter.Name {
			continue
		}
		out = append(out, *j)
	}

	slices.SortFunc(out, func(a, b domain.Job) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})

	return paginate(out, filter.Limit, filter.Offset), nil
}

func (s *MemoryStore) Update(_ context.Context, id uuid.UUID, upd domain.JobUpdate) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	if !j.Status.IsPollable() {
		return nil, fmt.Errorf("update job in status %s: %w", j.Status, repo.ErrInvalidState)
	}

	upd.Apply(j, s.now())
	out := *j
	return &out, nil
}

func (s *MemoryStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[id]; !ok {
		return repo.ErrNotFound
	}
	delete(s.jobs, id)
	return nil
}

func (s *MemoryStore) Complete(ctx context.Context, id uuid.UUID) error {
	return s.Delete(ctx, id)
}

func (s *MemoryStore) Retry(_ context.Context, id uuid.UUID, runAt time.Time, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return repo.ErrNotFound
	}
	j.MarkRetrying(runAt, lastError, s.now())
	return nil
}

func (s *MemoryStore) MarkFailed(_ context.Context, id uuid.UUID, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return repo.ErrNotFound
	}
	j.MarkFailed(lastError, s.now())
	return nil
}

func (s *MemoryStore) MoveToDeadLetter(_ context.Context, id uuid.UUID, errMsg string, failedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return repo.ErrNotFound
	}
	s.failed[id] = j.DeadLetter(errMsg, failedAt)
	delete(s.jobs, id)
	return nil
}

func (s *MemoryStore) ListFailed(_ context.Context, limit, offset int) ([]domain.DeadLetterEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.DeadLetterEntry, 0, len(s.failed))
	for _, e := range s.failed {
		out = append(out, *e)
	}

	slices.SortFunc(out, func(a, b domain.DeadLetterEntry) int {
		return b.FailedAt.Compare(a.FailedAt)
	})

	return paginate(out, limit, offset), nil
}

func (s *MemoryStore) GetFailed(_ context.Context, id uuid.UUID) (*domain.DeadLetterEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.failed[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	out := *e
	return &out, nil
}

func (s *MemoryStore) DeleteFailed(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.failed[id]; !ok {
		return repo.ErrNotFound
	}
	delete(s.failed, id)
	return nil
}

func (s *MemoryStore) Resurrect(_ context.Context, deadID uuid.UUID, job *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.failed[deadID]; !ok {
		return repo.ErrNotFound
	}
	if _, ok := s.jobs[job.ID]; ok {
		return fmt.Errorf("insert job %s: %w", job.ID, repo.ErrAlreadyExists)
	}

	delete(s.failed, deadID)
	j := *job
	s.jobs[job.ID] = &j
	return nil
}

func (s *MemoryStore) RequeueStale(_ context.Context, olderThan, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, j := range s.jobs {
		if j.Status == domain.JobStatusRunning && j.UpdatedAt.Before(olderThan) {
			j.MarkRetrying(now, staleError, now)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) Stats(_ context.Context) (*domain.QueueStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := &domain.QueueStats{
		ByStatus:    make(map[domain.JobStatus]int),
		DeadLetters: len(s.failed),
	}
	for _, j := range s.jobs {
		stats.ByStatus[j.Status]++
	}
	return stats, nil
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
