package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/concretepros/directory-api/internal/model"
)

// LocationRepository reads states, cities and categories
type LocationRepository struct {
	pool *pgxpool.Pool
}

func NewLocationRepository(pool *pgxpool.Pool) *LocationRepository {
	return &LocationRepository{pool: pool}
}

// CityBySlug returns the city and its state. The slug may be qualified with
// the state code ("austin-tx") when several states share a city name.
func (r *LocationRepository) CityBySlug(ctx context.Context, slug string) (*model.City, *model.State, error) {
	var (
		city  model.City
		state model.State
	)
	err := r.pool.QueryRow(ctx, `
		SELECT ci.id, ci.state_id, s.code, ci.name, ci.slug,
		       (SELECT COUNT(*) FROM contractors c WHERE c.city_id = ci.id),
		       s.id, s.code, s.name, s.slug
		FROM cities ci JOIN states s ON s.id = ci.state_id
		WHERE ci.slug = $1 OR ci.slug || '-' || LOWER(s.code) = $1
		ORDER BY (ci.slug = $1) DESC
		LIMIT 1`, slug,
	).Scan(&city.ID, &city.StateID, &city.StateCode, &city.Name, &city.Slug, &city.ContractorCount,
		&state.ID, &state.Code, &state.Name, &state.Slug)
	if err != nil {
		return nil, nil, notFound(err)
	}
	return &city, &state, nil
}

// Categories lists every service category
func (r *LocationRepository) Categories(ctx context.Context) ([]*model.Category, error) {
	rows, err := r.pool.Query(ctx, "SELECT id, name, slug FROM categories ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	out := make([]*model.Category, 0)
	for rows.Next() {
		var c model.Category
		if err := rows.Scan(&c.ID, &c.Name, &c.Slug); err != nil {
			return nil, err
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

// Locations lists states that have cities, each with its cities
func (r *LocationRepository) Locations(ctx context.Context) ([]*model.Location, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT s.id, s.code, s.name, s.slug,
		       ci.id, ci.name, ci.slug,
		       (SELECT COUNT(*) FROM contractors c WHERE c.city_id = ci.id)
		FROM states s JOIN cities ci ON ci.state_id = s.id
		ORDER BY s.name, ci.name`)
	if err != nil {
		return nil, fmt.Errorf("list locations: %w", err)
	}
	defer rows.Close()

	out := make([]*model.Location, 0)
	var current *model.Location
	for rows.Next() {
		var (
			s model.State
			c model.City
		)
		if err := rows.Scan(&s.ID, &s.Code, &s.Name, &s.Slug, &c.ID, &c.Name, &c.Slug, &c.ContractorCount); err != nil {
			return nil, err
		}
		if current == nil || current.State.ID != s.ID {
			current = &model.Location{State: &s}
			out = append(out, current)
		}
		c.StateID = s.ID
		c.StateCode = s.Code
		current.Cities = append(current.Cities, &c)
	}
	return out, rows.Err()
}
