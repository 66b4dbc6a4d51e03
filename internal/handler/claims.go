package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/concretepros/directory-api/internal/model"
	"github.com/concretepros/directory-api/internal/service"
	"github.com/concretepros/directory-api/pkg/response"
)

// ClaimHandler serves the public listing claim flow
type ClaimHandler struct {
	service   *service.ClaimService
	validator *validator.Validate
}

func NewClaimHandler(svc *service.ClaimService, v *validator.Validate) *ClaimHandler {
	return &ClaimHandler{service: svc, validator: v}
}

// Submit handles POST /api/public/claims
func (h *ClaimHandler) Submit(c *fiber.Ctx) error {
	var req model.SubmitClaimRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	claim, err := h.service.Submit(c.UserContext(), &req)
	if err != nil {
		return claimError(c, err)
	}
	return response.Created(c, claim)
}

// CheckEmail handles POST /api/public/claims/check-email
func (h *ClaimHandler) CheckEmail(c *fiber.Ctx) error {
	var req model.CheckEmailRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.service.CheckEmail(c.UserContext(), req.Email)
	if err != nil {
		return claimError(c, err)
	}
	return response.OK(c, result)
}

// ValidateActivation handles POST /api/public/claims/validate-activation.
// Invalid tokens are a normal answer here, not an error.
func (h *ClaimHandler) ValidateActivation(c *fiber.Ctx) error {
	var req model.ActivationTokenRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	claim, err := h.service.ValidateActivation(c.UserContext(), req.Token)
	if err != nil {
		if isTokenError(err) {
			return response.OK(c, model.ActivationResponse{Valid: false})
		}
		return claimError(c, err)
	}
	return response.OK(c, activationResponse(claim))
}

// Activate handles POST /api/public/claims/activate
func (h *ClaimHandler) Activate(c *fiber.Ctx) error {
	var req model.ActivationTokenRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	claim, err := h.service.Activate(c.UserContext(), req.Token)
	if err != nil {
		return claimError(c, err)
	}
	return response.OK(c, activationResponse(claim))
}

func activationResponse(claim *model.Claim) model.ActivationResponse {
	return model.ActivationResponse{
		Valid:        true,
		ClaimID:      claim.ID,
		ContractorID: claim.ContractorID,
		Email:        claim.Email,
		Status:       claim.Status,
	}
}

func isTokenError(err error) bool {
	return errors.Is(err, service.ErrTokenInvalid) ||
		errors.Is(err, service.ErrTokenExpired) ||
		errors.Is(err, service.ErrClaimNotPending)
}

func claimError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, service.ErrContractorNotFound):
		return response.NotFound(c, "Contractor not found")
	case errors.Is(err, service.ErrTokenInvalid):
		return response.NotFound(c, "Activation token not found")
	case errors.Is(err, service.ErrTokenExpired):
		return response.Error(c, fiber.StatusGone, response.CodeValidationError, "Activation token has expired", nil)
	case errors.Is(err, service.ErrClaimNotPending):
		return response.Conflict(c, "Claim is not awaiting activation")
	default:
		return directoryError(c, err)
	}
}
