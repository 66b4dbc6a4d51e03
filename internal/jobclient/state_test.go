package jobclient

import (
	"testing"

	"github.com/concretepros/directory-api/internal/model"
)

func TestJobState_TerminalIsSticky(t *testing.T) {
	s := NewJobState()
	s.Put(job("j1", model.JobTypeImageEnrichment, model.JobStatusCompleted))

	if s.Put(job("j1", model.JobTypeImageEnrichment, model.JobStatusProcessing)) {
		t.Error("stale active snapshot replaced a terminal job")
	}
	if s.ApplyEvent(model.JobEvent{JobID: "j1", Status: model.JobStatusProcessing, TotalItems: 4}) {
		t.Error("event applied to a terminal job")
	}
	if j, _ := s.Job("j1"); j.Status != model.JobStatusCompleted {
		t.Errorf("expected completed, got %s", j.Status)
	}

	s.Reset(job("j1", model.JobTypeImageEnrichment, model.JobStatusPending))
	if !s.IsActive("j1") {
		t.Error("reset did not reactivate the job")
	}
}

func TestJobState_RetriedRecordReplacesTerminal(t *testing.T) {
	s := NewJobState()
	s.Put(job("j1", model.JobTypeImageEnrichment, model.JobStatusFailed))

	retried := job("j1", model.JobTypeImageEnrichment, model.JobStatusPending)
	retried.Retries = 1
	if !s.Put(retried) {
		t.Fatal("record of a later retry was refused")
	}
	if !s.IsActive("j1") {
		t.Error("expected j1 active after the retry")
	}

	// the retried run finishes; a response from before that is stale again
	done := *retried
	done.Status = model.JobStatusCompleted
	s.Put(&done)
	if s.Put(retried) {
		t.Error("stale record of the same retry replaced a terminal job")
	}
}

func TestJobState_EventCountersAreClamped(t *testing.T) {
	s := NewJobState()
	s.Put(job("j1", model.JobTypeReviewEnrichment, model.JobStatusProcessing))

	s.ApplyEvent(model.JobEvent{JobID: "j1", Status: model.JobStatusProcessing, TotalItems: 10, ProcessedItems: 8, FailedItems: 5})

	j, _ := s.Job("j1")
	if j.ProcessedItems+j.FailedItems > j.TotalItems {
		t.Errorf("counters exceed total: %d+%d > %d", j.ProcessedItems, j.FailedItems, j.TotalItems)
	}
	if j.ProcessedItems != 8 || j.FailedItems != 2 {
		t.Errorf("expected 8/2, got %d/%d", j.ProcessedItems, j.FailedItems)
	}
}

func TestJobState_UnknownEventDropped(t *testing.T) {
	s := NewJobState()
	if s.ApplyEvent(model.JobEvent{JobID: "ghost", Status: model.JobStatusProcessing}) {
		t.Error("event for unknown job was applied")
	}
}

func TestJobState_ListenersAndActiveOfType(t *testing.T) {
	s := NewJobState()
	var seen []model.JobStatus
	remove := s.OnChange(func(j *model.Job) { seen = append(seen, j.Status) })

	s.Put(job("j1", model.JobTypeImageEnrichment, model.JobStatusPending))
	s.ApplyEvent(model.JobEvent{JobID: "j1", Status: model.JobStatusProcessing})
	remove()
	s.Put(job("j1", model.JobTypeImageEnrichment, model.JobStatusCompleted))

	if len(seen) != 2 || seen[1] != model.JobStatusProcessing {
		t.Errorf("unexpected notifications %v", seen)
	}
	if _, ok := s.ActiveOfType(model.JobTypeImageEnrichment); ok {
		t.Error("completed job reported as active")
	}
}
