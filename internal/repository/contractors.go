package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/concretepros/directory-api/internal/model"
)

// EnrichmentField names the contractor column an enrichment job fills in
type EnrichmentField string

const (
	EnrichImages  EnrichmentField = "image"
	EnrichReviews EnrichmentField = "reviews"
)

// ContractorRepository reads and enriches contractor listings
type ContractorRepository struct {
	pool *pgxpool.Pool
}

func NewContractorRepository(pool *pgxpool.Pool) *ContractorRepository {
	return &ContractorRepository{pool: pool}
}

const contractorColumns = `
	c.id::text, c.city_id, c.name, c.slug, c.phone, c.website, c.address, c.place_id,
	c.image_url, c.rating, c.review_count, c.claimed, c.enriched_at, c.created_at,
	ARRAY(
		SELECT cat.slug FROM contractor_categories cc
		JOIN categories cat ON cat.id = cc.category_id
		WHERE cc.contractor_id = c.id ORDER BY cat.slug
	)`

func scanContractor(row pgx.Row) (*model.Contractor, error) {
	var c model.Contractor
	err := row.Scan(
		&c.ID, &c.CityID, &c.Name, &c.Slug, &c.Phone, &c.Website, &c.Address, &c.PlaceID,
		&c.ImageURL, &c.Rating, &c.ReviewCount, &c.Claimed, &c.EnrichedAt, &c.CreatedAt,
		&c.Categories,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func collectContractors(rows pgx.Rows) ([]*model.Contractor, error) {
	defer rows.Close()
	out := make([]*model.Contractor, 0)
	for rows.Next() {
		c, err := scanContractor(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// List returns a page of contractors matching q and the total match count
func (r *ContractorRepository) List(ctx context.Context, q model.ContractorQuery) ([]*model.Contractor, int, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if q.State != "" {
		p := arg(strings.ToLower(q.State))
		where = append(where, fmt.Sprintf("(s.slug = %s OR LOWER(s.code) = %s)", p, p))
	}
	if q.City != "" {
		where = append(where, "ci.slug = "+arg(q.City))
	}
	if q.Category != "" {
		where = append(where, `EXISTS (
			SELECT 1 FROM contractor_categories cc JOIN categories cat ON cat.id = cc.category_id
			WHERE cc.contractor_id = c.id AND cat.slug = `+arg(q.Category)+`)`)
	}

	from := `FROM contractors c
		JOIN cities ci ON ci.id = c.city_id
		JOIN states s ON s.id = ci.state_id`
	if len(where) > 0 {
		from += " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) "+from, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count contractors: %w", err)
	}

	query := "SELECT " + contractorColumns + " " + from +
		" ORDER BY c.rating DESC NULLS LAST, c.name LIMIT " + arg(q.Limit) + " OFFSET " + arg(q.Offset)
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list contractors: %w", err)
	}
	list, err := collectContractors(rows)
	if err != nil {
		return nil, 0, err
	}
	return list, total, nil
}

// ByIDs loads the given contractors; unknown ids are skipped
func (r *ContractorRepository) ByIDs(ctx context.Context, ids []string) ([]*model.Contractor, error) {
	rows, err := r.pool.Query(ctx,
		"SELECT "+contractorColumns+" FROM contractors c WHERE c.id::text = ANY($1) ORDER BY c.name", ids)
	if err != nil {
		return nil, fmt.Errorf("load contractors: %w", err)
	}
	return collectContractors(rows)
}

// ByCity lists the contractors of a city
func (r *ContractorRepository) ByCity(ctx context.Context, cityID int64) ([]*model.Contractor, error) {
	rows, err := r.pool.Query(ctx,
		"SELECT "+contractorColumns+" FROM contractors c WHERE c.city_id = $1 ORDER BY c.rating DESC NULLS LAST, c.name", cityID)
	if err != nil {
		return nil, fmt.Errorf("list city contractors: %w", err)
	}
	return collectContractors(rows)
}

// Exists reports whether a contractor id is known
func (r *ContractorRepository) Exists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM contractors WHERE id::text = $1)", id).Scan(&exists)
	return exists, err
}

// NeedingEnrichment returns contractors missing field, or all of them when force is set
func (r *ContractorRepository) NeedingEnrichment(ctx context.Context, field EnrichmentField, citySlug string, limit int, force bool) ([]*model.Contractor, error) {
	var (
		where []string
		args  []any
	)
	if !force {
		switch field {
		case EnrichImages:
			where = append(where, "c.image_url IS NULL")
		case EnrichReviews:
			where = append(where, "c.review_count IS NULL")
		}
	}
	if citySlug != "" {
		args = append(args, citySlug)
		where = append(where, fmt.Sprintf("c.city_id IN (SELECT id FROM cities WHERE slug = $%d)", len(args)))
	}

	query := "SELECT " + contractorColumns + " FROM contractors c"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY c.created_at"
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list contractors for enrichment: %w", err)
	}
	return collectContractors(rows)
}

// SetImage stores an enriched image URL
func (r *ContractorRepository) SetImage(ctx context.Context, id, imageURL string) error {
	tag, err := r.pool.Exec(ctx,
		"UPDATE contractors SET image_url = $2, enriched_at = $3 WHERE id::text = $1", id, imageURL, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update contractor image: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetReviews stores an enriched rating and review count
func (r *ContractorRepository) SetReviews(ctx context.Context, id string, rating float64, count int) error {
	tag, err := r.pool.Exec(ctx,
		"UPDATE contractors SET rating = $2, review_count = $3, enriched_at = $4 WHERE id::text = $1",
		id, rating, count, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update contractor reviews: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
