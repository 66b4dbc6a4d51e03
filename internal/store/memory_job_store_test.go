package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/concretepros/directory-api/internal/model"
)

func TestMemoryJobStore_ListNewestFirst(t *testing.T) {
	s := NewMemoryJobStore()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"a", "b", "c"} {
		job := &model.Job{ID: id, Status: model.JobStatusPending, CreatedAt: base.Add(time.Duration(i) * time.Minute)}
		if err := s.Create(ctx, job); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	jobs, err := s.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	got := []string{jobs[0].ID, jobs[1].ID, jobs[2].ID}
	want := []string{"c", "b", "a"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected order %v, got %v", want, got)
		}
	}
}

func TestMemoryJobStore_UpdateErrorLeavesJobUntouched(t *testing.T) {
	s := NewMemoryJobStore()
	ctx := context.Background()
	_ = s.Create(ctx, &model.Job{ID: "x", Status: model.JobStatusPending})

	boom := errors.New("boom")
	_, err := s.Update(ctx, "x", func(j *model.Job) error {
		j.Status = model.JobStatusProcessing
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	job, _ := s.Get(ctx, "x")
	if job.Status != model.JobStatusPending {
		t.Errorf("expected status pending, got %s", job.Status)
	}
}

func TestMemoryJobStore_GetReturnsCopy(t *testing.T) {
	s := NewMemoryJobStore()
	ctx := context.Background()
	_ = s.Create(ctx, &model.Job{ID: "x", Status: model.JobStatusPending})

	job, _ := s.Get(ctx, "x")
	job.Status = model.JobStatusFailed

	again, _ := s.Get(ctx, "x")
	if again.Status != model.JobStatusPending {
		t.Errorf("mutating a returned job changed the store")
	}
}

func TestMemoryJobStore_NotFound(t *testing.T) {
	s := NewMemoryJobStore()
	if _, err := s.Get(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	_, err := s.Update(context.Background(), "missing", func(*model.Job) error { return nil })
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound from update, got %v", err)
	}
}
