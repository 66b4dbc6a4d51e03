package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/concretepros/directory-api/internal/model"
	"github.com/concretepros/directory-api/internal/repository"
	"github.com/concretepros/directory-api/internal/service"
	"github.com/concretepros/directory-api/pkg/response"
)

// PageHandler serves admin page CRUD
type PageHandler struct {
	service   *service.PageService
	validator *validator.Validate
}

func NewPageHandler(svc *service.PageService, v *validator.Validate) *PageHandler {
	return &PageHandler{service: svc, validator: v}
}

// Get handles GET /api/pages/:id
func (h *PageHandler) Get(c *fiber.Ctx) error {
	page, err := h.service.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return pageError(c, err)
	}
	return response.OK(c, page)
}

// Children handles GET /api/pages/:id/children
func (h *PageHandler) Children(c *fiber.Ctx) error {
	pages, err := h.service.Children(c.UserContext(), c.Params("id"))
	if err != nil {
		return pageError(c, err)
	}
	return response.OK(c, fiber.Map{"pages": pages})
}

// Update handles PATCH /api/pages/:id
func (h *PageHandler) Update(c *fiber.Ctx) error {
	var req model.UpdatePageRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	page, err := h.service.Update(c.UserContext(), c.Params("id"), &req)
	if err != nil {
		return pageError(c, err)
	}
	return response.OK(c, page)
}

// Delete handles DELETE /api/pages/:id
func (h *PageHandler) Delete(c *fiber.Ctx) error {
	if err := h.service.Delete(c.UserContext(), c.Params("id")); err != nil {
		return pageError(c, err)
	}
	return response.NoContent(c)
}

func pageError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, service.ErrPageNotFound):
		return response.NotFound(c, "Page not found")
	case errors.Is(err, repository.ErrSlugTaken):
		return response.Conflict(c, "Slug is already used by a sibling page")
	case errors.Is(err, repository.ErrHasChildren):
		return response.Conflict(c, "Page has child pages")
	case errors.Is(err, service.ErrInvalidParent):
		return response.ValidationError(c, err.Error(), nil)
	default:
		return directoryError(c, err)
	}
}
