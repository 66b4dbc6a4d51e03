package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/concretepros/directory-api/internal/model"
)

// PageRepository stores CMS pages
type PageRepository struct {
	pool *pgxpool.Pool
}

func NewPageRepository(pool *pgxpool.Pool) *PageRepository {
	return &PageRepository{pool: pool}
}

const pageColumns = `id::text, parent_id::text, title, slug, template, status, content, created_at, updated_at`

func scanPage(row pgx.Row) (*model.Page, error) {
	var p model.Page
	err := row.Scan(&p.ID, &p.ParentID, &p.Title, &p.Slug, &p.Template, &p.Status, &p.Content, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PageRepository) Get(ctx context.Context, id string) (*model.Page, error) {
	p, err := scanPage(r.pool.QueryRow(ctx, "SELECT "+pageColumns+" FROM pages WHERE id::text = $1", id))
	if err != nil {
		return nil, notFound(err)
	}
	return p, nil
}

// Children lists the direct children of a page
func (r *PageRepository) Children(ctx context.Context, id string) ([]*model.Page, error) {
	rows, err := r.pool.Query(ctx,
		"SELECT "+pageColumns+" FROM pages WHERE parent_id::text = $1 ORDER BY title", id)
	if err != nil {
		return nil, fmt.Errorf("list child pages: %w", err)
	}
	defer rows.Close()

	out := make([]*model.Page, 0)
	for rows.Next() {
		p, err := scanPage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Save writes every editable field of p
func (r *PageRepository) Save(ctx context.Context, p *model.Page) (*model.Page, error) {
	saved, err := scanPage(r.pool.QueryRow(ctx, `
		UPDATE pages
		SET parent_id = $2::uuid, title = $3, slug = $4, template = $5, status = $6, content = $7, updated_at = NOW()
		WHERE id::text = $1
		RETURNING `+pageColumns,
		p.ID, p.ParentID, p.Title, p.Slug, p.Template, p.Status, p.Content))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrSlugTaken
		}
		return nil, notFound(err)
	}
	return saved, nil
}

// IsDescendant reports whether candidate lies in the subtree rooted at id
func (r *PageRepository) IsDescendant(ctx context.Context, id, candidate string) (bool, error) {
	var found bool
	err := r.pool.QueryRow(ctx, `
		WITH RECURSIVE subtree AS (
			SELECT id FROM pages WHERE id::text = $1
			UNION ALL
			SELECT p.id FROM pages p JOIN subtree s ON p.parent_id = s.id
		)
		SELECT EXISTS(SELECT 1 FROM subtree WHERE id::text = $2)`, id, candidate).Scan(&found)
	return found, err
}

// Delete removes a page without children
func (r *PageRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, "DELETE FROM pages WHERE id::text = $1", id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return ErrHasChildren
		}
		return fmt.Errorf("delete page: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
