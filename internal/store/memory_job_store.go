package store

import (
	"context"
	"sort"
	"sync"

	"github.com/concretepros/directory-api/internal/model"
)

// MemoryJobStore is a process-local JobStore for development and tests.
// Jobs are copied on the way in and out so callers never share state.
type MemoryJobStore struct {
	mu   sync.RWMutex
	jobs map[string]*model.Job
}

func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{jobs: make(map[string]*model.Job)}
}

func (s *MemoryJobStore) Create(ctx context.Context, job *model.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

func (s *MemoryJobStore) Get(ctx context.Context, id string) (*model.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneJob(job), nil
}

func (s *MemoryJobStore) List(ctx context.Context) ([]*model.Job, error) {
	s.mu.RLock()
	jobs := make([]*model.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, cloneJob(j))
	}
	s.mu.RUnlock()

	sort.Slice(jobs, func(a, b int) bool {
		if jobs[a].CreatedAt.Equal(jobs[b].CreatedAt) {
			return jobs[a].ID > jobs[b].ID
		}
		return jobs[a].CreatedAt.After(jobs[b].CreatedAt)
	})
	return jobs, nil
}

func (s *MemoryJobStore) Update(ctx context.Context, id string, fn func(*model.Job) error) (*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	job := cloneJob(current)
	if err := fn(job); err != nil {
		return nil, err
	}
	s.jobs[id] = job
	return cloneJob(job), nil
}

func cloneJob(j *model.Job) *model.Job {
	c := *j
	if j.Payload != nil {
		c.Payload = append([]byte(nil), j.Payload...)
	}
	if j.Result != nil {
		c.Result = append([]byte(nil), j.Result...)
	}
	if j.LastError != nil {
		v := *j.LastError
		c.LastError = &v
	}
	if j.StartedAt != nil {
		v := *j.StartedAt
		c.StartedAt = &v
	}
	if j.CompletedAt != nil {
		v := *j.CompletedAt
		c.CompletedAt = &v
	}
	if j.CreatedBy != nil {
		v := *j.CreatedBy
		c.CreatedBy = &v
	}
	return &c
}
