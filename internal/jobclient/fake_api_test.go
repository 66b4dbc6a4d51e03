package jobclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/concretepros/directory-api/internal/model"
)

type fakeStream struct {
	events chan Event
	done   chan struct{}
	once   sync.Once
}

func newFakeStream() *fakeStream {
	return &fakeStream{events: make(chan Event, 16), done: make(chan struct{})}
}

func (s *fakeStream) Next() (Event, error) {
	select {
	case ev, ok := <-s.events:
		if !ok {
			return Event{}, io.EOF
		}
		return ev, nil
	case <-s.done:
		return Event{}, errors.New("stream closed")
	}
}

func (s *fakeStream) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

// fakeAPI is an in-memory jobs server with scriptable streams
type fakeAPI struct {
	mu          sync.Mutex
	jobs        map[string]*model.Job
	streams     map[string][]*fakeStream
	failStreams int
	createErr   error
	calls       map[string]int
	seq         int
}

func newFakeAPI(jobs ...*model.Job) *fakeAPI {
	api := &fakeAPI{
		jobs:    make(map[string]*model.Job),
		streams: make(map[string][]*fakeStream),
		calls:   make(map[string]int),
	}
	for _, j := range jobs {
		api.jobs[j.ID] = j
	}
	return api
}

func (a *fakeAPI) record(call string) {
	a.mu.Lock()
	a.calls[call]++
	a.mu.Unlock()
}

func (a *fakeAPI) count(call string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls[call]
}

func (a *fakeAPI) set(job *model.Job) {
	a.mu.Lock()
	a.jobs[job.ID] = job
	a.mu.Unlock()
}

func (a *fakeAPI) get(id string) (*model.Job, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	j, ok := a.jobs[id]
	if !ok {
		return nil, &APIError{Status: 404, Code: "NOT_FOUND", Message: "job not found"}
	}
	cp := *j
	return &cp, nil
}

// stream returns the n-th stream opened for a job, waiting for it to exist
func (a *fakeAPI) stream(t *testing.T, id string, n int) *fakeStream {
	t.Helper()
	var s *fakeStream
	eventually(t, func() bool {
		a.mu.Lock()
		defer a.mu.Unlock()
		if len(a.streams[id]) > n {
			s = a.streams[id][n]
			return true
		}
		return false
	})
	return s
}

func (a *fakeAPI) ActiveJobs(context.Context) ([]*model.Job, error) {
	a.record("active")
	a.mu.Lock()
	defer a.mu.Unlock()
	out := []*model.Job{}
	for _, j := range a.jobs {
		if j.Status.IsActive() {
			cp := *j
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (a *fakeAPI) GetJob(_ context.Context, id string) (*model.Job, error) {
	a.record("get")
	return a.get(id)
}

func (a *fakeAPI) CreateJob(_ context.Context, jobType model.JobType, payload json.RawMessage) (*model.Job, error) {
	a.record("create")
	if a.createErr != nil {
		return nil, a.createErr
	}
	a.mu.Lock()
	a.seq++
	job := &model.Job{
		ID:          fmt.Sprintf("job-%d", a.seq),
		JobType:     jobType,
		Status:      model.JobStatusPending,
		MaxAttempts: 3,
		Payload:     payload,
		CreatedAt:   time.Now(),
	}
	a.jobs[job.ID] = job
	a.mu.Unlock()

	cp := *job
	return &cp, nil
}

func (a *fakeAPI) CancelJob(_ context.Context, id string) (*model.Job, error) {
	a.record("cancel")
	job, err := a.get(id)
	if err != nil {
		return nil, err
	}
	job.Status = model.JobStatusCancelled
	a.set(job)
	return job, nil
}

func (a *fakeAPI) RetryJob(_ context.Context, id string) (*model.Job, error) {
	a.record("retry")
	job, err := a.get(id)
	if err != nil {
		return nil, err
	}
	job.Status = model.JobStatusPending
	job.Attempts = 0
	job.Retries++
	job.LastError = nil
	job.ProcessedItems, job.FailedItems, job.TotalItems = 0, 0, 0
	a.set(job)
	return job, nil
}

func (a *fakeAPI) StreamJob(_ context.Context, id string) (EventReader, error) {
	a.record("stream")
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failStreams > 0 {
		a.failStreams--
		return nil, errors.New("connection refused")
	}
	s := newFakeStream()
	a.streams[id] = append(a.streams[id], s)
	return s, nil
}

func jobEvent(t *testing.T, id string, status model.JobStatus, total, processed, failed int) Event {
	t.Helper()
	ev := model.JobEvent{
		Type:           model.EventTypeForStatus(status),
		JobID:          id,
		Status:         status,
		TotalItems:     total,
		ProcessedItems: processed,
		FailedItems:    failed,
	}
	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return Event{Name: ev.Type, Data: data}
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met within 2s")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func job(id string, jobType model.JobType, status model.JobStatus) *model.Job {
	return &model.Job{ID: id, JobType: jobType, Status: status, MaxAttempts: 3, CreatedAt: time.Now()}
}
