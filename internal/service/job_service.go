package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog/log"

	"github.com/concretepros/directory-api/internal/events"
	"github.com/concretepros/directory-api/internal/model"
	"github.com/concretepros/directory-api/internal/store"
)

const (
	TaskTypeImageEnrichment  = "enrichment:images"
	TaskTypeReviewEnrichment = "enrichment:reviews"
)

var (
	ErrJobNotFound       = errors.New("job not found")
	ErrJobActive         = errors.New("a job of this type is already active")
	ErrInvalidTransition = errors.New("job status does not allow this action")
	ErrInvalidPayload    = errors.New("invalid job payload")
	ErrJobCancelled      = errors.New("job was cancelled")
)

// TaskTypeFor maps a job type to its queue task type
func TaskTypeFor(jt model.JobType) string {
	switch jt {
	case model.JobTypeReviewEnrichment:
		return TaskTypeReviewEnrichment
	default:
		return TaskTypeImageEnrichment
	}
}

// TaskEnqueuer is the part of *asynq.Client the service needs
type TaskEnqueuer interface {
	Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// JobTaskPayload is the queue message of every job task
type JobTaskPayload struct {
	JobID string `json:"jobId"`
}

// JobServiceConfig holds queue settings
type JobServiceConfig struct {
	Queue       string
	MaxAttempts int
}

// JobService owns job records and every status transition
type JobService struct {
	store     store.JobStore
	enqueuer  TaskEnqueuer
	publisher events.Publisher
	payloads  *PayloadValidator
	cfg       JobServiceConfig
	now       func() time.Time
}

func NewJobService(jobStore store.JobStore, enqueuer TaskEnqueuer, publisher events.Publisher, payloads *PayloadValidator, cfg JobServiceConfig) *JobService {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = model.DefaultMaxAttempts
	}
	if cfg.Queue == "" {
		cfg.Queue = "enrichment"
	}
	return &JobService{
		store:     jobStore,
		enqueuer:  enqueuer,
		publisher: publisher,
		payloads:  payloads,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Create stores a new pending job and queues it.
// Every job type blocks itself: a second job of the same type is rejected while one is active.
func (s *JobService) Create(ctx context.Context, req *model.CreateJobRequest, userID string) (*model.Job, error) {
	if err := s.payloads.Validate(req.JobType, req.Payload); err != nil {
		return nil, err
	}

	active, err := s.Active(ctx)
	if err != nil {
		return nil, err
	}
	for _, j := range active {
		if j.JobType == req.JobType {
			return nil, ErrJobActive
		}
	}

	maxAttempts := req.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = s.cfg.MaxAttempts
	}

	job := &model.Job{
		ID:          uuid.New().String(),
		JobType:     req.JobType,
		Status:      model.JobStatusPending,
		MaxAttempts: maxAttempts,
		Payload:     req.Payload,
		CreatedAt:   s.now().UTC(),
	}
	if userID != "" {
		job.CreatedBy = &userID
	}

	if err := s.store.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to save job: %w", err)
	}

	if err := s.enqueue(job); err != nil {
		s.failUnqueued(ctx, job.ID, err)
		return nil, err
	}

	log.Info().Str("job_id", job.ID).Str("job_type", string(job.JobType)).Msg("job queued")
	s.publish(job)
	return job, nil
}

// List returns a newest-first page of jobs matching the filters
func (s *JobService) List(ctx context.Context, q model.ListJobsQuery) (*model.JobListResponse, error) {
	q.Normalize()

	all, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}

	matched := make([]*model.Job, 0, len(all))
	for _, j := range all {
		if q.Matches(j) {
			matched = append(matched, j)
		}
	}

	start := q.Offset
	if start > len(matched) {
		start = len(matched)
	}
	end := start + q.Limit
	if end > len(matched) {
		end = len(matched)
	}

	return &model.JobListResponse{
		Jobs:   matched[start:end],
		Total:  len(matched),
		Limit:  q.Limit,
		Offset: q.Offset,
	}, nil
}

// Active returns pending and processing jobs, newest first
func (s *JobService) Active(ctx context.Context) ([]*model.Job, error) {
	all, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	active := make([]*model.Job, 0)
	for _, j := range all {
		if j.Status.IsActive() {
			active = append(active, j)
		}
	}
	return active, nil
}

func (s *JobService) Get(ctx context.Context, id string) (*model.Job, error) {
	job, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, translate(err)
	}
	return job, nil
}

// Cancel moves a pending job to cancelled. Any other status is rejected.
func (s *JobService) Cancel(ctx context.Context, id string) (*model.Job, error) {
	job, err := s.transition(ctx, id, model.JobStatusCancelled, func(j *model.Job) {
		now := s.now().UTC()
		j.CompletedAt = &now
	})
	if err != nil {
		return nil, err
	}
	log.Info().Str("job_id", id).Msg("job cancelled")
	return job, nil
}

// Retry moves a failed job back to pending with fresh counters and queues it again
func (s *JobService) Retry(ctx context.Context, id string) (*model.Job, error) {
	job, err := s.transition(ctx, id, model.JobStatusPending, func(j *model.Job) {
		j.Attempts = 0
		j.TotalItems = 0
		j.ProcessedItems = 0
		j.FailedItems = 0
		j.LastError = nil
		j.Result = nil
		j.StartedAt = nil
		j.CompletedAt = nil
		j.Retries++
	})
	if err != nil {
		return nil, err
	}

	if err := s.enqueue(job); err != nil {
		s.failUnqueued(ctx, job.ID, err)
		return nil, err
	}
	log.Info().Str("job_id", id).Msg("job retried")
	return job, nil
}

// Start marks a job as processing for a new worker attempt.
// It returns ErrJobCancelled when the job was cancelled before a worker picked it up.
func (s *JobService) Start(ctx context.Context, id string, totalItems int) (*model.Job, error) {
	job, err := s.store.Update(ctx, id, func(j *model.Job) error {
		if j.Status == model.JobStatusCancelled {
			return ErrJobCancelled
		}
		// a processing job seen here was orphaned by a crashed worker and is redelivered
		if j.Status != model.JobStatusProcessing && !model.CanTransition(j.Status, model.JobStatusProcessing) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, model.JobStatusProcessing)
		}
		now := s.now().UTC()
		j.Status = model.JobStatusProcessing
		j.Attempts++
		j.TotalItems = totalItems
		j.ProcessedItems = 0
		j.FailedItems = 0
		j.StartedAt = &now
		return nil
	})
	if err != nil {
		return nil, translate(err)
	}
	s.publish(job)
	return job, nil
}

// ReportProgress records a progress snapshot of a processing job
func (s *JobService) ReportProgress(ctx context.Context, id string, processed, failed int) (*model.Job, error) {
	job, err := s.store.Update(ctx, id, func(j *model.Job) error {
		if j.Status != model.JobStatusProcessing {
			return fmt.Errorf("%w: progress on %s job", ErrInvalidTransition, j.Status)
		}
		p := model.NewProgress(j.TotalItems, processed, failed)
		j.ProcessedItems = p.Processed
		j.FailedItems = p.Failed
		return nil
	})
	if err != nil {
		return nil, translate(err)
	}
	s.publish(job)
	return job, nil
}

// Complete marks a processing job as completed with its result
func (s *JobService) Complete(ctx context.Context, id string, result interface{}) (*model.Job, error) {
	resultBytes, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}

	job, err := s.transition(ctx, id, model.JobStatusCompleted, func(j *model.Job) {
		now := s.now().UTC()
		j.Result = resultBytes
		j.CompletedAt = &now
	})
	if err != nil {
		return nil, err
	}
	log.Info().Str("job_id", id).Int("processed", job.ProcessedItems).Int("failed", job.FailedItems).Msg("job completed")
	return job, nil
}

// Fail records a failed attempt. When final is false the job goes back to
// pending and waits for the queue to retry it; otherwise it becomes failed.
func (s *JobService) Fail(ctx context.Context, id string, errMsg string, final bool) (*model.Job, error) {
	target := model.JobStatusPending
	if final {
		target = model.JobStatusFailed
	}

	job, err := s.transition(ctx, id, target, func(j *model.Job) {
		j.LastError = &errMsg
		if final {
			now := s.now().UTC()
			j.CompletedAt = &now
		}
	})
	if err != nil {
		return nil, err
	}
	log.Warn().Str("job_id", id).Bool("final", final).Str("error", errMsg).Msg("job attempt failed")
	return job, nil
}

func (s *JobService) transition(ctx context.Context, id string, to model.JobStatus, mutate func(*model.Job)) (*model.Job, error) {
	job, err := s.store.Update(ctx, id, func(j *model.Job) error {
		if !model.CanTransition(j.Status, to) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, to)
		}
		j.Status = to
		mutate(j)
		return nil
	})
	if err != nil {
		return nil, translate(err)
	}
	s.publish(job)
	return job, nil
}

// failUnqueued marks a pending job whose task never reached the queue as failed,
// so it does not block its type and can be retried
func (s *JobService) failUnqueued(ctx context.Context, id string, cause error) {
	msg := cause.Error()
	failed, err := s.store.Update(ctx, id, func(j *model.Job) error {
		if j.Status != model.JobStatusPending {
			return fmt.Errorf("%w: %s job was not queued", ErrInvalidTransition, j.Status)
		}
		now := s.now().UTC()
		j.Status = model.JobStatusFailed
		j.LastError = &msg
		j.CompletedAt = &now
		return nil
	})
	if err != nil {
		log.Error().Err(err).Str("job_id", id).Msg("failed to mark unqueued job as failed")
		return
	}
	s.publish(failed)
}

// TaskID names the queue task of a job run. Retries get a fresh id because
// asynq keeps finished task ids around for the retention period.
func TaskID(job *model.Job) string {
	if job.Retries == 0 {
		return job.ID
	}
	return fmt.Sprintf("%s:retry-%d", job.ID, job.Retries)
}

func (s *JobService) enqueue(job *model.Job) error {
	data, err := json.Marshal(JobTaskPayload{JobID: job.ID})
	if err != nil {
		return fmt.Errorf("failed to marshal task payload: %w", err)
	}

	task := asynq.NewTask(TaskTypeFor(job.JobType), data)
	_, err = s.enqueuer.Enqueue(task,
		asynq.TaskID(TaskID(job)),
		asynq.Queue(s.cfg.Queue),
		asynq.MaxRetry(job.MaxAttempts-1),
		asynq.Retention(24*time.Hour),
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}
	return nil
}

func (s *JobService) publish(job *model.Job) {
	if s.publisher == nil {
		return
	}
	s.publisher.Publish(model.EventForJob(job))
}

func translate(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return ErrJobNotFound
	}
	return err
}
