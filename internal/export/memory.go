package export

import (
	"context"
	"sort"
	"sync"
)

// Compile-time check that MemoryRepository implements Repository.
var _ Repository = (*MemoryRepository)(nil)

// DefaultJobRetention is how many finished jobs a session keeps.
const DefaultJobRetention = 10

// MemoryRepository is an in-memory implementation of Repository.
// It uses a map with RWMutex for thread-safe access.
type MemoryRepository struct {
	mu     sync.RWMutex
	jobs   map[string]*Job
	retain int
}

// MemoryOption configures a MemoryRepository.
type MemoryOption func(*MemoryRepository)

// WithRetention keeps at most n finished jobs, evicting the oldest first.
// Jobs still capturing or encoding are never evicted. n <= 0 keeps every job.
func WithRetention(n int) MemoryOption {
	return func(r *MemoryRepository) {
		r.retain = n
	}
}

// NewMemoryRepository creates a new in-memory job repository.
func NewMemoryRepository(opts ...MemoryOption) *MemoryRepository {
	r := &MemoryRepository{
		jobs: make(map[string]*Job),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Save stores a clone so later mutations of job are not visible.
func (r *MemoryRepository) Save(_ context.Context, job *Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[job.ID] = job.Clone()
	r.evictLocked()
	return nil
}

// evictLocked drops the oldest finished jobs beyond the retention limit,
// releasing their artifact data.
func (r *MemoryRepository) evictLocked() {
	if r.retain <= 0 {
		return
	}
	finished := make([]*Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		if job.IsTerminal() {
			finished = append(finished, job)
		}
	}
	if len(finished) <= r.retain {
		return
	}
	sortOldestFirst(finished)
	for _, job := range finished[:len(finished)-r.retain] {
		delete(r.jobs, job.ID)
	}
}

// FindByID retrieves a job by its ID.
// Returns a clone to prevent external mutations.
func (r *MemoryRepository) FindByID(_ context.Context, id string) (*Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return job.Clone(), nil
}

// List returns clones of all jobs, oldest first.
func (r *MemoryRepository) List(_ context.Context) ([]*Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]*Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		result = append(result, job.Clone())
	}
	sortOldestFirst(result)
	return result, nil
}

func sortOldestFirst(jobs []*Job) {
	sort.Slice(jobs, func(a, b int) bool {
		if !jobs[a].CreatedAt.Equal(jobs[b].CreatedAt) {
			return jobs[a].CreatedAt.Before(jobs[b].CreatedAt)
		}
		return jobs[a].ID < jobs[b].ID
	})
}

// Delete removes a job from storage.
func (r *MemoryRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[id]; !ok {
		return ErrJobNotFound
	}
	delete(r.jobs, id)
	return nil
}
