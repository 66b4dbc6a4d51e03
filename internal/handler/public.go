package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"github.com/concretepros/directory-api/internal/model"
	"github.com/concretepros/directory-api/internal/service"
	"github.com/concretepros/directory-api/pkg/response"
)

// PublicHandler serves the public directory reads
type PublicHandler struct {
	service   *service.DirectoryService
	validator *validator.Validate
}

func NewPublicHandler(svc *service.DirectoryService, v *validator.Validate) *PublicHandler {
	return &PublicHandler{service: svc, validator: v}
}

// Contractors handles GET /api/public/contractors
func (h *PublicHandler) Contractors(c *fiber.Ctx) error {
	var q model.ContractorQuery
	if err := c.QueryParser(&q); err != nil {
		return response.ValidationError(c, "Invalid query parameters", nil)
	}
	if err := h.validator.Struct(&q); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.service.Contractors(c.UserContext(), q)
	if err != nil {
		return directoryError(c, err)
	}
	return response.OK(c, result)
}

// City handles GET /api/public/cities/:slug
func (h *PublicHandler) City(c *fiber.Ctx) error {
	result, err := h.service.City(c.UserContext(), c.Params("slug"))
	if err != nil {
		return directoryError(c, err)
	}
	return response.OK(c, result)
}

// Categories handles GET /api/public/categories
func (h *PublicHandler) Categories(c *fiber.Ctx) error {
	categories, err := h.service.Categories(c.UserContext())
	if err != nil {
		return directoryError(c, err)
	}
	return response.OK(c, fiber.Map{"categories": categories})
}

// Locations handles GET /api/public/locations
func (h *PublicHandler) Locations(c *fiber.Ctx) error {
	locations, err := h.service.Locations(c.UserContext())
	if err != nil {
		return directoryError(c, err)
	}
	return response.OK(c, fiber.Map{"locations": locations})
}

func directoryError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, service.ErrCityNotFound):
		return response.NotFound(c, "City not found")
	case errors.Is(err, service.ErrContractorNotFound):
		return response.NotFound(c, "Contractor not found")
	default:
		log.Error().Err(err).Str("path", c.Path()).Msg("directory request failed")
		return response.ServiceError(c, "Directory unavailable")
	}
}
