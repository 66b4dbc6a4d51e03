package jobclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/concretepros/directory-api/internal/model"
)

var (
	ErrJobAlreadyActive = errors.New("a job of this type is already active")
	ErrNotCancellable   = errors.New("only pending jobs can be cancelled")
	ErrNotRetryable     = errors.New("only failed jobs can be retried")
)

// Notifier shows the outcome of a control action to the operator
type Notifier interface {
	Success(message string)
	Error(message string)
}

// LogNotifier reports control outcomes through the global logger
type LogNotifier struct{}

func (LogNotifier) Success(message string) { log.Info().Msg(message) }
func (LogNotifier) Error(message string)   { log.Error().Msg(message) }

// Follower is told about jobs a control action made active
type Follower interface {
	Watch(jobID string)
}

// Controls queues, cancels and retries jobs. Every action is checked against
// the JobState first and is a no-op, with no request sent, when the known
// status does not allow it.
type Controls struct {
	api      API
	state    *JobState
	follower Follower
	notifier Notifier
}

func NewControls(api API, state *JobState, follower Follower, notifier Notifier) *Controls {
	if notifier == nil {
		notifier = LogNotifier{}
	}
	return &Controls{api: api, state: state, follower: follower, notifier: notifier}
}

// QueueJob creates a job unless one of the same type is known to be active
func (c *Controls) QueueJob(ctx context.Context, jobType model.JobType, payload json.RawMessage) (*model.Job, error) {
	if _, ok := c.state.ActiveOfType(jobType); ok {
		return nil, ErrJobAlreadyActive
	}

	job, err := c.api.CreateJob(ctx, jobType, payload)
	if err != nil {
		c.notifier.Error(fmt.Sprintf("Failed to queue %s job: %s", jobType, errorMessage(err)))
		return nil, err
	}

	c.state.Put(job)
	c.follow(job.ID)
	c.notifier.Success(fmt.Sprintf("Queued %s job %s", jobType, job.ID))
	return job, nil
}

// CancelJob cancels a job the client knows to be pending
func (c *Controls) CancelJob(ctx context.Context, id string) (*model.Job, error) {
	known, ok := c.state.Job(id)
	if !ok || known.Status != model.JobStatusPending {
		return nil, ErrNotCancellable
	}

	job, err := c.api.CancelJob(ctx, id)
	if err != nil {
		c.notifier.Error(fmt.Sprintf("Failed to cancel job %s: %s", id, errorMessage(err)))
		return nil, err
	}

	c.state.Put(job)
	c.notifier.Success(fmt.Sprintf("Cancelled job %s", id))
	return job, nil
}

// RetryJob re-queues a job the client knows to have failed. The server's
// response replaces the local state, attempts included.
func (c *Controls) RetryJob(ctx context.Context, id string) (*model.Job, error) {
	known, ok := c.state.Job(id)
	if !ok || known.Status != model.JobStatusFailed {
		return nil, ErrNotRetryable
	}

	job, err := c.api.RetryJob(ctx, id)
	if err != nil {
		c.notifier.Error(fmt.Sprintf("Failed to retry job %s: %s", id, errorMessage(err)))
		return nil, err
	}

	c.state.Reset(job)
	c.follow(job.ID)
	c.notifier.Success(fmt.Sprintf("Retrying job %s", id))
	return job, nil
}

func (c *Controls) follow(jobID string) {
	if c.follower != nil {
		c.follower.Watch(jobID)
	}
}

func errorMessage(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return err.Error()
}
