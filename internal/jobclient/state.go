package jobclient

import (
	"sort"
	"sync"

	"github.com/concretepros/directory-api/internal/model"
)

// JobState is the client's view of known jobs, shared by the channel, the
// poller and the controls. Listeners run after every accepted change, on the
// goroutine that made it and outside the state lock.
type JobState struct {
	mu        sync.RWMutex
	jobs      map[string]*model.Job
	listeners map[int]func(*model.Job)
	nextID    int
}

func NewJobState() *JobState {
	return &JobState{
		jobs:      make(map[string]*model.Job),
		listeners: make(map[int]func(*model.Job)),
	}
}

// Job returns a copy of a known job
func (s *JobState) Job(id string) (*model.Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, false
	}
	cp := *j
	return &cp, true
}

// IsActive reports whether id is known and pending or processing
func (s *JobState) IsActive(id string) bool {
	j, ok := s.Job(id)
	return ok && j.Status.IsActive()
}

// Active returns the known active jobs, newest first
func (s *JobState) Active() []*model.Job {
	s.mu.RLock()
	out := make([]*model.Job, 0)
	for _, j := range s.jobs {
		if j.Status.IsActive() {
			cp := *j
			out = append(out, &cp)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.After(out[b].CreatedAt) })
	return out
}

// ActiveOfType returns a known active job of the given type
func (s *JobState) ActiveOfType(t model.JobType) (*model.Job, bool) {
	for _, j := range s.Active() {
		if j.JobType == t {
			return j, true
		}
	}
	return nil, false
}

// Put stores a job fetched from the server. A job already known to be
// terminal only goes back to an active status when the record comes from a
// later retry, such as one started from another session; a stale response is
// dropped. Reset replaces a job unconditionally.
func (s *JobState) Put(job *model.Job) bool {
	if job == nil || job.ID == "" {
		return false
	}
	s.mu.Lock()
	if cur, ok := s.jobs[job.ID]; ok && cur.Status.IsTerminal() && !job.Status.IsTerminal() && job.Retries <= cur.Retries {
		s.mu.Unlock()
		return false
	}
	stored := clampJob(job)
	s.jobs[job.ID] = stored
	s.mu.Unlock()

	s.notify(stored)
	return true
}

// Reset replaces a job unconditionally, for a retry the server accepted
func (s *JobState) Reset(job *model.Job) {
	if job == nil || job.ID == "" {
		return
	}
	stored := clampJob(job)
	s.mu.Lock()
	s.jobs[job.ID] = stored
	s.mu.Unlock()

	s.notify(stored)
}

// ApplyEvent updates a known job in place from a push event. Events for
// unknown jobs and for jobs already terminal are dropped.
func (s *JobState) ApplyEvent(ev model.JobEvent) bool {
	s.mu.Lock()
	cur, ok := s.jobs[ev.JobID]
	if !ok || cur.Status.IsTerminal() {
		s.mu.Unlock()
		return false
	}

	next := *cur
	if ev.Status.Valid() {
		next.Status = ev.Status
	}
	p := model.NewProgress(ev.TotalItems, ev.ProcessedItems, ev.FailedItems)
	next.TotalItems, next.ProcessedItems, next.FailedItems = p.Total, p.Processed, p.Failed
	if ev.Attempts > 0 {
		next.Attempts = ev.Attempts
	}
	if ev.Error != "" {
		msg := ev.Error
		next.LastError = &msg
	}
	s.jobs[ev.JobID] = &next
	s.mu.Unlock()

	s.notify(&next)
	return true
}

// OnChange registers fn for every accepted change and returns its removal
func (s *JobState) OnChange(fn func(*model.Job)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *JobState) notify(job *model.Job) {
	s.mu.RLock()
	fns := make([]func(*model.Job), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.RUnlock()

	for _, fn := range fns {
		cp := *job
		fn(&cp)
	}
}

func clampJob(job *model.Job) *model.Job {
	cp := *job
	p := job.Progress()
	cp.TotalItems, cp.ProcessedItems, cp.FailedItems = p.Total, p.Processed, p.Failed
	return &cp
}
