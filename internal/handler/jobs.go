package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"github.com/concretepros/directory-api/internal/middleware"
	"github.com/concretepros/directory-api/internal/model"
	"github.com/concretepros/directory-api/internal/service"
	"github.com/concretepros/directory-api/pkg/response"
)

type JobHandler struct {
	service   *service.JobService
	validator *validator.Validate
}

func NewJobHandler(svc *service.JobService, v *validator.Validate) *JobHandler {
	return &JobHandler{
		service:   svc,
		validator: v,
	}
}

// List handles GET /api/jobs
func (h *JobHandler) List(c *fiber.Ctx) error {
	var q model.ListJobsQuery
	if err := c.QueryParser(&q); err != nil {
		return response.ValidationError(c, "Invalid query parameters", nil)
	}
	if err := h.validator.Struct(&q); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.service.List(c.UserContext(), q)
	if err != nil {
		return jobError(c, err)
	}
	return response.OK(c, result)
}

// Active handles GET /api/jobs/active
func (h *JobHandler) Active(c *fiber.Ctx) error {
	jobs, err := h.service.Active(c.UserContext())
	if err != nil {
		return jobError(c, err)
	}
	return response.OK(c, model.ActiveJobsResponse{Jobs: jobs})
}

// Create handles POST /api/jobs
func (h *JobHandler) Create(c *fiber.Ctx) error {
	var req model.CreateJobRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	job, err := h.service.Create(c.UserContext(), &req, middleware.GetUserID(c))
	if err != nil {
		return jobError(c, err)
	}
	return response.Created(c, job)
}

// Get handles GET /api/jobs/:id
func (h *JobHandler) Get(c *fiber.Ctx) error {
	job, err := h.service.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return jobError(c, err)
	}
	return response.OK(c, job)
}

// Cancel handles POST /api/jobs/:id/cancel
func (h *JobHandler) Cancel(c *fiber.Ctx) error {
	job, err := h.service.Cancel(c.UserContext(), c.Params("id"))
	if err != nil {
		return jobError(c, err)
	}
	return response.OK(c, job)
}

// Retry handles POST /api/jobs/:id/retry
func (h *JobHandler) Retry(c *fiber.Ctx) error {
	job, err := h.service.Retry(c.UserContext(), c.Params("id"))
	if err != nil {
		return jobError(c, err)
	}
	return response.OK(c, job)
}

func jobError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, service.ErrJobNotFound):
		return response.NotFound(c, "Job not found")
	case errors.Is(err, service.ErrJobActive):
		return response.Conflict(c, "A job of this type is already pending or processing")
	case errors.Is(err, service.ErrInvalidTransition):
		return response.Conflict(c, err.Error())
	case errors.Is(err, service.ErrInvalidPayload):
		return response.ValidationError(c, "Invalid job payload", err.Error())
	default:
		log.Error().Err(err).Str("path", c.Path()).Msg("job request failed")
		return response.ServiceError(c, "Job service unavailable")
	}
}
