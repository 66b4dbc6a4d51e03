package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/concretepros/directory-api/internal/model"
	"github.com/concretepros/directory-api/internal/repository"
)

var (
	ErrClaimNotFound   = errors.New("claim not found")
	ErrTokenInvalid    = errors.New("activation token is invalid")
	ErrTokenExpired    = errors.New("activation token has expired")
	ErrClaimNotPending = errors.New("claim is not awaiting activation")
)

// ClaimStore is the ownership claim storage
type ClaimStore interface {
	Create(ctx context.Context, c *model.Claim) (*model.Claim, error)
	LatestByEmail(ctx context.Context, email string) (*model.Claim, error)
	ByActivationToken(ctx context.Context, token string) (*model.Claim, error)
	Activate(ctx context.Context, claimID string) (*model.Claim, error)
}

// ClaimService handles the public listing claim flow
type ClaimService struct {
	claims      ClaimStore
	contractors ContractorReader
	now         func() time.Time
}

func NewClaimService(claims ClaimStore, contractors ContractorReader) *ClaimService {
	return &ClaimService{claims: claims, contractors: contractors, now: time.Now}
}

// Submit files a pending claim for an existing contractor
func (s *ClaimService) Submit(ctx context.Context, req *model.SubmitClaimRequest) (*model.Claim, error) {
	exists, err := s.contractors.Exists(ctx, req.ContractorID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrContractorNotFound
	}

	claim, err := s.claims.Create(ctx, &model.Claim{
		ContractorID: req.ContractorID,
		Name:         strings.TrimSpace(req.Name),
		Email:        strings.ToLower(strings.TrimSpace(req.Email)),
		Phone:        req.Phone,
		Message:      req.Message,
		Status:       model.ClaimStatusPending,
	})
	if err != nil {
		return nil, err
	}
	log.Info().Str("claim_id", claim.ID).Str("contractor_id", claim.ContractorID).Msg("claim submitted")
	return claim, nil
}

// CheckEmail reports whether a claim was already filed with email
func (s *ClaimService) CheckEmail(ctx context.Context, email string) (*model.CheckEmailResponse, error) {
	claim, err := s.claims.LatestByEmail(ctx, strings.TrimSpace(email))
	if errors.Is(err, repository.ErrNotFound) {
		return &model.CheckEmailResponse{Exists: false}, nil
	}
	if err != nil {
		return nil, err
	}
	return &model.CheckEmailResponse{Exists: true, Status: claim.Status}, nil
}

// ValidateActivation resolves an activation token to its approved claim
func (s *ClaimService) ValidateActivation(ctx context.Context, token string) (*model.Claim, error) {
	claim, err := s.claims.ByActivationToken(ctx, token)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrTokenInvalid
	}
	if err != nil {
		return nil, err
	}
	if claim.Status != model.ClaimStatusApproved {
		return nil, ErrClaimNotPending
	}
	if claim.ActivationExpires == nil || !s.now().Before(*claim.ActivationExpires) {
		return nil, ErrTokenExpired
	}
	return claim, nil
}

// Activate consumes a valid token and marks the listing as claimed
func (s *ClaimService) Activate(ctx context.Context, token string) (*model.Claim, error) {
	claim, err := s.ValidateActivation(ctx, token)
	if err != nil {
		return nil, err
	}

	activated, err := s.claims.Activate(ctx, claim.ID)
	if errors.Is(err, repository.ErrNotFound) {
		// activated concurrently by another request
		return nil, ErrClaimNotPending
	}
	if err != nil {
		return nil, err
	}
	log.Info().Str("claim_id", activated.ID).Str("contractor_id", activated.ContractorID).Msg("claim activated")
	return activated, nil
}
