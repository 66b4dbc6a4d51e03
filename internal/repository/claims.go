package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/concretepros/directory-api/internal/model"
)

// ClaimRepository stores listing ownership claims
type ClaimRepository struct {
	pool *pgxpool.Pool
}

func NewClaimRepository(pool *pgxpool.Pool) *ClaimRepository {
	return &ClaimRepository{pool: pool}
}

const claimColumns = `id::text, contractor_id::text, name, email, phone, message, status,
	activation_token, activation_expires, created_at`

func scanClaim(row pgx.Row) (*model.Claim, error) {
	var c model.Claim
	err := row.Scan(&c.ID, &c.ContractorID, &c.Name, &c.Email, &c.Phone, &c.Message, &c.Status,
		&c.ActivationToken, &c.ActivationExpires, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *ClaimRepository) Create(ctx context.Context, c *model.Claim) (*model.Claim, error) {
	saved, err := scanClaim(r.pool.QueryRow(ctx, `
		INSERT INTO claims (contractor_id, name, email, phone, message, status)
		VALUES ($1::uuid, $2, $3, $4, $5, $6)
		RETURNING `+claimColumns,
		c.ContractorID, c.Name, c.Email, c.Phone, c.Message, c.Status))
	if err != nil {
		return nil, fmt.Errorf("insert claim: %w", err)
	}
	return saved, nil
}

// LatestByEmail returns the most recent claim filed with email
func (r *ClaimRepository) LatestByEmail(ctx context.Context, email string) (*model.Claim, error) {
	c, err := scanClaim(r.pool.QueryRow(ctx,
		"SELECT "+claimColumns+" FROM claims WHERE LOWER(email) = LOWER($1) ORDER BY created_at DESC LIMIT 1", email))
	if err != nil {
		return nil, notFound(err)
	}
	return c, nil
}

func (r *ClaimRepository) ByActivationToken(ctx context.Context, token string) (*model.Claim, error) {
	c, err := scanClaim(r.pool.QueryRow(ctx,
		"SELECT "+claimColumns+" FROM claims WHERE activation_token = $1", token))
	if err != nil {
		return nil, notFound(err)
	}
	return c, nil
}

// Activate marks an approved claim activated, consumes its token and flags the listing as claimed
func (r *ClaimRepository) Activate(ctx context.Context, claimID string) (*model.Claim, error) {
	var out *model.Claim
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		c, err := scanClaim(tx.QueryRow(ctx, `
			UPDATE claims SET status = $2, activation_token = NULL, activation_expires = NULL
			WHERE id::text = $1 AND status = $3
			RETURNING `+claimColumns,
			claimID, model.ClaimStatusActivated, model.ClaimStatusApproved))
		if err != nil {
			return notFound(err)
		}
		if _, err := tx.Exec(ctx, "UPDATE contractors SET claimed = TRUE WHERE id::text = $1", c.ContractorID); err != nil {
			return fmt.Errorf("mark contractor claimed: %w", err)
		}
		out = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
