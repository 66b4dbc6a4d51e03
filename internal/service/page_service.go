package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/concretepros/directory-api/internal/model"
	"github.com/concretepros/directory-api/internal/repository"
)

var (
	ErrPageNotFound  = errors.New("page not found")
	ErrInvalidParent = errors.New("page cannot be moved under itself or its descendants")
)

// PageStore is the CMS page storage
type PageStore interface {
	Get(ctx context.Context, id string) (*model.Page, error)
	Children(ctx context.Context, id string) ([]*model.Page, error)
	Save(ctx context.Context, p *model.Page) (*model.Page, error)
	IsDescendant(ctx context.Context, id, candidate string) (bool, error)
	Delete(ctx context.Context, id string) error
}

// PageService handles admin page CRUD
type PageService struct {
	pages PageStore
}

func NewPageService(pages PageStore) *PageService {
	return &PageService{pages: pages}
}

func (s *PageService) Get(ctx context.Context, id string) (*model.Page, error) {
	page, err := s.pages.Get(ctx, id)
	if err != nil {
		return nil, translatePage(err)
	}
	return page, nil
}

// Children lists the direct children of an existing page
func (s *PageService) Children(ctx context.Context, id string) ([]*model.Page, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.pages.Children(ctx, id)
}

// Update applies the non-nil fields of req. An empty parentId moves the page to the root.
func (s *PageService) Update(ctx context.Context, id string, req *model.UpdatePageRequest) (*model.Page, error) {
	page, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.ParentID != nil {
		if *req.ParentID == "" {
			page.ParentID = nil
		} else {
			if err := s.checkParent(ctx, id, *req.ParentID); err != nil {
				return nil, err
			}
			parent := *req.ParentID
			page.ParentID = &parent
		}
	}
	if req.Title != nil {
		page.Title = *req.Title
	}
	if req.Slug != nil {
		page.Slug = *req.Slug
	}
	if req.Template != nil {
		page.Template = *req.Template
	}
	if req.Status != nil {
		page.Status = *req.Status
	}
	if req.Content != nil {
		page.Content = *req.Content
	}

	saved, err := s.pages.Save(ctx, page)
	if err != nil {
		return nil, translatePage(err)
	}
	log.Info().Str("page_id", id).Str("slug", saved.Slug).Msg("page updated")
	return saved, nil
}

// Delete removes a leaf page
func (s *PageService) Delete(ctx context.Context, id string) error {
	if err := s.pages.Delete(ctx, id); err != nil {
		return translatePage(err)
	}
	log.Info().Str("page_id", id).Msg("page deleted")
	return nil
}

func (s *PageService) checkParent(ctx context.Context, id, parentID string) error {
	if parentID == id {
		return ErrInvalidParent
	}
	if _, err := s.pages.Get(ctx, parentID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%w: parent %s does not exist", ErrInvalidParent, parentID)
		}
		return err
	}
	cycle, err := s.pages.IsDescendant(ctx, id, parentID)
	if err != nil {
		return err
	}
	if cycle {
		return ErrInvalidParent
	}
	return nil
}

func translatePage(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return ErrPageNotFound
	}
	return err
}
