package service

import (
	"context"
	"errors"

	"github.com/concretepros/directory-api/internal/model"
	"github.com/concretepros/directory-api/internal/repository"
)

var (
	ErrCityNotFound       = errors.New("city not found")
	ErrContractorNotFound = errors.New("contractor not found")
)

// ContractorReader is the contractor storage the public directory reads from
type ContractorReader interface {
	List(ctx context.Context, q model.ContractorQuery) ([]*model.Contractor, int, error)
	ByCity(ctx context.Context, cityID int64) ([]*model.Contractor, error)
	Exists(ctx context.Context, id string) (bool, error)
}

// LocationReader is the state/city/category storage
type LocationReader interface {
	CityBySlug(ctx context.Context, slug string) (*model.City, *model.State, error)
	Categories(ctx context.Context) ([]*model.Category, error)
	Locations(ctx context.Context) ([]*model.Location, error)
}

// DirectoryService serves public directory reads
type DirectoryService struct {
	contractors ContractorReader
	locations   LocationReader
}

func NewDirectoryService(contractors ContractorReader, locations LocationReader) *DirectoryService {
	return &DirectoryService{contractors: contractors, locations: locations}
}

// Contractors returns a filtered page of listings
func (s *DirectoryService) Contractors(ctx context.Context, q model.ContractorQuery) (*model.ContractorListResponse, error) {
	if q.Limit <= 0 {
		q.Limit = 20
	}
	if q.Limit > 100 {
		q.Limit = 100
	}
	if q.Offset < 0 {
		q.Offset = 0
	}

	list, total, err := s.contractors.List(ctx, q)
	if err != nil {
		return nil, err
	}
	return &model.ContractorListResponse{
		Contractors: list,
		Total:       total,
		Limit:       q.Limit,
		Offset:      q.Offset,
	}, nil
}

// City returns a city with its state and listings
func (s *DirectoryService) City(ctx context.Context, slug string) (*model.CityDetail, error) {
	city, state, err := s.locations.CityBySlug(ctx, slug)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrCityNotFound
		}
		return nil, err
	}

	contractors, err := s.contractors.ByCity(ctx, city.ID)
	if err != nil {
		return nil, err
	}
	return &model.CityDetail{City: city, State: state, Contractors: contractors}, nil
}

func (s *DirectoryService) Categories(ctx context.Context) ([]*model.Category, error) {
	return s.locations.Categories(ctx)
}

func (s *DirectoryService) Locations(ctx context.Context) ([]*model.Location, error) {
	return s.locations.Locations(ctx)
}
