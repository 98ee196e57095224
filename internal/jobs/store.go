package jobs

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Store persists jobs. ClaimDue must be atomic with respect to concurrent callers: a
// job is handed to at most one of them.
type Store interface {
	Insert(ctx context.Context, job *Job) error
	Get(ctx context.Context, id string) (*Job, error)
	// ClaimDue moves up to limit jobs to processing and returns them oldest first: pending
	// jobs with ProcessAt <= now, and processing jobs whose lease ran out (UpdatedAt <=
	// staleBefore) because their runner died before recording an outcome.
	ClaimDue(ctx context.Context, now, staleBefore time.Time, limit int) ([]*Job, error)
	Update(ctx context.Context, job *Job) error
	CountByStatus(ctx context.Context) (map[Status]int64, error)
	// DeleteFinishedBefore removes terminal jobs that finished before cutoff.
	DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// MemoryStore keeps jobs in process memory. Jobs are lost on restart.
type MemoryStore struct {
	mu   sync.Mutex
	jobs map[string]*memoryEntry
	seq  int64
}

type memoryEntry struct {
	job *Job
	seq int64
}

// NewMemoryStore 创建内存任务存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*memoryEntry)}
}

func (m *MemoryStore) Insert(_ context.Context, job *Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	m.jobs[job.ID] = &memoryEntry{job: job.clone(), seq: m.seq}
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return e.job.clone(), nil
}

func (m *MemoryStore) ClaimDue(_ context.Context, now, staleBefore time.Time, limit int) ([]*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var due []*memoryEntry
	for _, e := range m.jobs {
		if claimable(e.job, now, staleBefore) {
			due = append(due, e)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		a, b := due[i], due[j]
		if !a.job.CreatedAt.Equal(b.job.CreatedAt) {
			return a.job.CreatedAt.Before(b.job.CreatedAt)
		}
		return a.seq < b.seq
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	claimed := make([]*Job, 0, len(due))
	for _, e := range due {
		e.job.Status = StatusProcessing
		e.job.UpdatedAt = now
		claimed = append(claimed, e.job.clone())
	}
	return claimed, nil
}

func (m *MemoryStore) Update(_ context.Context, job *Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.jobs[job.ID]
	if !ok {
		return ErrJobNotFound
	}
	e.job = job.clone()
	return nil
}

func (m *MemoryStore) CountByStatus(_ context.Context) (map[Status]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[Status]int64, 4)
	for _, e := range m.jobs {
		counts[e.job.Status]++
	}
	return counts, nil
}

func (m *MemoryStore) DeleteFinishedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, e := range m.jobs {
		if e.job.Status.Terminal() && e.job.FinishedAt != nil && e.job.FinishedAt.Before(cutoff) {
			delete(m.jobs, id)
			n++
		}
	}
	return n, nil
}

func claimable(job *Job, now, staleBefore time.Time) bool {
	switch job.Status {
	case StatusPending:
		return !job.ProcessAt.After(now)
	case StatusProcessing:
		return !job.UpdatedAt.After(staleBefore)
	default:
		return false
	}
}
