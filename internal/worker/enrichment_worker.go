package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog/log"

	"github.com/concretepros/directory-api/internal/client"
	"github.com/concretepros/directory-api/internal/model"
	"github.com/concretepros/directory-api/internal/repository"
	"github.com/concretepros/directory-api/internal/service"
)

// maxResultErrors caps the per-item errors kept on the job result
const maxResultErrors = 50

// JobHooks is the part of the job service a worker drives
type JobHooks interface {
	Get(ctx context.Context, id string) (*model.Job, error)
	Start(ctx context.Context, id string, totalItems int) (*model.Job, error)
	ReportProgress(ctx context.Context, id string, processed, failed int) (*model.Job, error)
	Complete(ctx context.Context, id string, result interface{}) (*model.Job, error)
	Fail(ctx context.Context, id string, errMsg string, final bool) (*model.Job, error)
}

// ContractorSource loads and updates the contractors a job enriches
type ContractorSource interface {
	ByIDs(ctx context.Context, ids []string) ([]*model.Contractor, error)
	NeedingEnrichment(ctx context.Context, field repository.EnrichmentField, citySlug string, limit int, force bool) ([]*model.Contractor, error)
	SetImage(ctx context.Context, id, imageURL string) error
	SetReviews(ctx context.Context, id string, rating float64, count int) error
}

type enrichFunc func(ctx context.Context, c *model.Contractor) error

// EnrichmentWorker processes image and review enrichment jobs
type EnrichmentWorker struct {
	jobs        JobHooks
	contractors ContractorSource
	places      client.PlacesProvider
	images      client.ImageStore
}

// NewEnrichmentWorker falls back to mocks when places or images is nil
func NewEnrichmentWorker(jobs JobHooks, contractors ContractorSource, places client.PlacesProvider, images client.ImageStore) *EnrichmentWorker {
	if places == nil {
		places = client.MockPlaces{}
	}
	if images == nil {
		images = client.MockImageStore{}
	}
	return &EnrichmentWorker{
		jobs:        jobs,
		contractors: contractors,
		places:      places,
		images:      images,
	}
}

// Register binds the worker's handlers to an asynq mux
func (w *EnrichmentWorker) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(service.TaskTypeImageEnrichment, w.ProcessImages)
	mux.HandleFunc(service.TaskTypeReviewEnrichment, w.ProcessReviews)
}

func (w *EnrichmentWorker) ProcessImages(ctx context.Context, t *asynq.Task) error {
	return w.process(ctx, t, repository.EnrichImages, w.enrichImage)
}

func (w *EnrichmentWorker) ProcessReviews(ctx context.Context, t *asynq.Task) error {
	return w.process(ctx, t, repository.EnrichReviews, w.enrichReviews)
}

func (w *EnrichmentWorker) process(ctx context.Context, t *asynq.Task, field repository.EnrichmentField, enrich enrichFunc) error {
	var taskPayload service.JobTaskPayload
	if err := json.Unmarshal(t.Payload(), &taskPayload); err != nil {
		return fmt.Errorf("failed to unmarshal task payload: %v: %w", err, asynq.SkipRetry)
	}
	jobID := taskPayload.JobID
	logger := log.With().Str("job_id", jobID).Str("task", t.Type()).Logger()

	job, err := w.jobs.Get(ctx, jobID)
	if err != nil {
		if errors.Is(err, service.ErrJobNotFound) {
			logger.Warn().Msg("job no longer exists, dropping task")
			return fmt.Errorf("job %s: %v: %w", jobID, err, asynq.SkipRetry)
		}
		return err
	}
	if job.Status == model.JobStatusCancelled {
		logger.Info().Msg("job cancelled before start, skipping")
		return nil
	}

	var payload model.EnrichmentPayload
	if len(job.Payload) > 0 {
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return w.abort(ctx, jobID, fmt.Errorf("invalid payload: %w", err), true)
		}
	}

	items, err := w.loadItems(ctx, field, &payload)
	if err != nil {
		return w.abort(ctx, jobID, err, isFinalAttempt(ctx))
	}

	if _, err := w.jobs.Start(ctx, jobID, len(items)); err != nil {
		return w.startError(jobID, err)
	}
	logger.Info().Int("items", len(items)).Msg("enrichment started")

	result := model.EnrichmentResult{Updated: make([]string, 0, len(items))}
	processed, failed := 0, 0
	for _, c := range items {
		if err := ctx.Err(); err != nil {
			w.fail(ctx, jobID, fmt.Sprintf("interrupted after %d of %d items: %v", processed+failed, len(items), err))
			return err
		}

		if err := enrich(ctx, c); err != nil {
			failed++
			if result.Errors == nil {
				result.Errors = make(map[string]string)
			}
			if len(result.Errors) < maxResultErrors {
				result.Errors[c.ID] = err.Error()
			}
			logger.Debug().Err(err).Str("contractor_id", c.ID).Msg("item failed")
		} else {
			processed++
			result.Updated = append(result.Updated, c.ID)
		}

		if _, err := w.jobs.ReportProgress(ctx, jobID, processed, failed); err != nil {
			logger.Warn().Err(err).Msg("failed to report progress")
		}
	}

	if len(items) > 0 && failed == len(items) {
		msg := fmt.Sprintf("all %d items failed", failed)
		w.fail(ctx, jobID, msg)
		return errors.New(msg)
	}

	if _, err := w.jobs.Complete(ctx, jobID, result); err != nil {
		return fmt.Errorf("failed to complete job %s: %w", jobID, err)
	}
	logger.Info().Int("processed", processed).Int("failed", failed).Msg("enrichment completed")
	return nil
}

func (w *EnrichmentWorker) loadItems(ctx context.Context, field repository.EnrichmentField, p *model.EnrichmentPayload) ([]*model.Contractor, error) {
	if len(p.ContractorIDs) > 0 {
		items, err := w.contractors.ByIDs(ctx, p.ContractorIDs)
		if err != nil {
			return nil, fmt.Errorf("failed to load contractors: %w", err)
		}
		return items, nil
	}
	items, err := w.contractors.NeedingEnrichment(ctx, field, p.CitySlug, p.Limit, p.Force)
	if err != nil {
		return nil, fmt.Errorf("failed to select contractors: %w", err)
	}
	return items, nil
}

func (w *EnrichmentWorker) enrichImage(ctx context.Context, c *model.Contractor) error {
	details, err := w.places.Lookup(ctx, client.PlaceQuery{PlaceID: c.PlaceID, Name: c.Name, Address: c.Address})
	if err != nil {
		return err
	}
	if details.PhotoName == "" {
		return errors.New("no photo available")
	}

	data, contentType, err := w.places.Photo(ctx, details.PhotoName)
	if err != nil {
		return err
	}

	url, err := w.images.Upload(ctx, client.ContractorImageKey(c.ID, contentType), bytes.NewReader(data), contentType)
	if err != nil {
		return err
	}
	return w.contractors.SetImage(ctx, c.ID, url)
}

func (w *EnrichmentWorker) enrichReviews(ctx context.Context, c *model.Contractor) error {
	details, err := w.places.Lookup(ctx, client.PlaceQuery{PlaceID: c.PlaceID, Name: c.Name, Address: c.Address})
	if err != nil {
		return err
	}
	return w.contractors.SetReviews(ctx, c.ID, details.Rating, details.ReviewCount)
}

// abort records a failed attempt for a job that never got its items loaded
func (w *EnrichmentWorker) abort(ctx context.Context, jobID string, cause error, final bool) error {
	if _, err := w.jobs.Start(ctx, jobID, 0); err != nil {
		return w.startError(jobID, err)
	}
	if _, err := w.jobs.Fail(ctx, jobID, cause.Error(), final); err != nil {
		log.Error().Err(err).Str("job_id", jobID).Msg("failed to record job failure")
	}
	if final {
		return fmt.Errorf("%v: %w", cause, asynq.SkipRetry)
	}
	return cause
}

func (w *EnrichmentWorker) fail(ctx context.Context, jobID, msg string) {
	// the task context may already be done; the failure still has to be recorded
	if _, err := w.jobs.Fail(context.WithoutCancel(ctx), jobID, msg, isFinalAttempt(ctx)); err != nil {
		log.Error().Err(err).Str("job_id", jobID).Msg("failed to record job failure")
	}
}

func (w *EnrichmentWorker) startError(jobID string, err error) error {
	if errors.Is(err, service.ErrJobCancelled) {
		log.Info().Str("job_id", jobID).Msg("job cancelled before start, skipping")
		return nil
	}
	if errors.Is(err, service.ErrInvalidTransition) || errors.Is(err, service.ErrJobNotFound) {
		return fmt.Errorf("job %s cannot start: %v: %w", jobID, err, asynq.SkipRetry)
	}
	return err
}

// isFinalAttempt reports whether the queue will not retry the running task.
// Outside a queue handler every attempt is final.
func isFinalAttempt(ctx context.Context) bool {
	retried, ok := asynq.GetRetryCount(ctx)
	if !ok {
		return true
	}
	maxRetry, ok := asynq.GetMaxRetry(ctx)
	if !ok {
		return true
	}
	return retried >= maxRetry
}
