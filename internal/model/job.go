package model

import (
	"encoding/json"
	"time"
)

// JobType identifies the kind of maintenance work a job performs
type JobType string

const (
	JobTypeImageEnrichment  JobType = "image_enrichment"
	JobTypeReviewEnrichment JobType = "review_enrichment"
)

var ValidJobTypes = []JobType{JobTypeImageEnrichment, JobTypeReviewEnrichment}

// Valid reports whether t is a known job type
func (t JobType) Valid() bool {
	for _, v := range ValidJobTypes {
		if v == t {
			return true
		}
	}
	return false
}

// JobStatus is the lifecycle state of a job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

var ValidJobStatuses = []JobStatus{
	JobStatusPending, JobStatusProcessing, JobStatusCompleted,
	JobStatusFailed, JobStatusCancelled,
}

// Valid reports whether s is a known status
func (s JobStatus) Valid() bool {
	for _, v := range ValidJobStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// IsActive reports whether a job in this status still has work ahead of it
func (s JobStatus) IsActive() bool {
	return s == JobStatusPending || s == JobStatusProcessing
}

// IsTerminal reports whether s is completed, failed or cancelled
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// transitions lists every status change the service accepts.
// failed -> pending is only reachable through an explicit retry.
var transitions = map[JobStatus][]JobStatus{
	JobStatusPending:    {JobStatusProcessing, JobStatusCancelled},
	JobStatusProcessing: {JobStatusCompleted, JobStatusFailed, JobStatusPending},
	JobStatusFailed:     {JobStatusPending},
}

// CanTransition reports whether a job may move from one status to another
func CanTransition(from, to JobStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// DefaultMaxAttempts is used when a job is created without an explicit cap
const DefaultMaxAttempts = 3

// Job represents a background maintenance job
type Job struct {
	ID             string          `json:"id"`
	JobType        JobType         `json:"jobType"`
	Status         JobStatus       `json:"status"`
	Attempts       int             `json:"attempts"`
	MaxAttempts    int             `json:"maxAttempts"`
	Retries        int             `json:"retries"`
	TotalItems     int             `json:"totalItems"`
	ProcessedItems int             `json:"processedItems"`
	FailedItems    int             `json:"failedItems"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	Result         json.RawMessage `json:"result,omitempty"`
	LastError      *string         `json:"lastError"`
	CreatedAt      time.Time       `json:"createdAt"`
	StartedAt      *time.Time      `json:"startedAt"`
	CompletedAt    *time.Time      `json:"completedAt"`
	CreatedBy      *string         `json:"createdBy"`
}

// Progress returns the clamped counters for display.
// processed+failed never exceeds total, even if a worker over-reports.
func (j *Job) Progress() Progress {
	return NewProgress(j.TotalItems, j.ProcessedItems, j.FailedItems)
}

// Progress is an aggregated, display-safe view of a job's counters
type Progress struct {
	Total     int `json:"total"`
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
	Percent   int `json:"percent"`
}

// NewProgress clamps the counters so that processed+failed <= total
func NewProgress(total, processed, failed int) Progress {
	if total < 0 {
		total = 0
	}
	if processed < 0 {
		processed = 0
	}
	if failed < 0 {
		failed = 0
	}
	if processed > total {
		processed = total
	}
	if processed+failed > total {
		failed = total - processed
	}

	p := Progress{Total: total, Processed: processed, Failed: failed}
	if total > 0 {
		p.Percent = (processed + failed) * 100 / total
	}
	return p
}

// CreateJobRequest is the body of POST /api/jobs
type CreateJobRequest struct {
	JobType     JobType         `json:"jobType" validate:"required,oneof=image_enrichment review_enrichment"`
	Payload     json.RawMessage `json:"payload"`
	MaxAttempts int             `json:"maxAttempts" validate:"omitempty,min=1,max=10"`
}

// ListJobsQuery carries the filters of GET /api/jobs
type ListJobsQuery struct {
	JobType JobType   `query:"jobType" validate:"omitempty,oneof=image_enrichment review_enrichment"`
	Status  JobStatus `query:"status" validate:"omitempty,oneof=pending processing completed failed cancelled"`
	Limit   int       `query:"limit" validate:"omitempty,min=1,max=100"`
	Offset  int       `query:"offset" validate:"omitempty,min=0"`
}

const (
	DefaultJobListLimit = 20
	MaxJobListLimit     = 100
)

// Normalize applies list defaults
func (q *ListJobsQuery) Normalize() {
	if q.Limit <= 0 {
		q.Limit = DefaultJobListLimit
	}
	if q.Limit > MaxJobListLimit {
		q.Limit = MaxJobListLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
}

// Matches reports whether a job passes the query filters
func (q *ListJobsQuery) Matches(j *Job) bool {
	if q.JobType != "" && j.JobType != q.JobType {
		return false
	}
	if q.Status != "" && j.Status != q.Status {
		return false
	}
	return true
}

// JobListResponse is the body of GET /api/jobs
type JobListResponse struct {
	Jobs   []*Job `json:"jobs"`
	Total  int    `json:"total"`
	Limit  int    `json:"limit"`
	Offset int    `json:"offset"`
}

// ActiveJobsResponse is the body of GET /api/jobs/active
type ActiveJobsResponse struct {
	Jobs []*Job `json:"jobs"`
}

// EnrichmentPayload is the shared payload shape of the enrichment job types
type EnrichmentPayload struct {
	ContractorIDs []string `json:"contractorIds,omitempty"`
	CitySlug      string   `json:"citySlug,omitempty"`
	Limit         int      `json:"limit,omitempty"`
	Force         bool     `json:"force,omitempty"`
}

// EnrichmentResult is stored on a completed enrichment job
type EnrichmentResult struct {
	Updated []string          `json:"updated"`
	Errors  map[string]string `json:"errors,omitempty"`
}
