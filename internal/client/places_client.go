package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/concretepros/directory-api/internal/config"
)

// ErrPlaceNotFound is returned when the provider has no match for a listing
var ErrPlaceNotFound = errors.New("place not found")

const maxPhotoBytes = 10 << 20

// PlaceQuery identifies a business at the places provider
type PlaceQuery struct {
	PlaceID string
	Name    string
	Address string
}

// PlaceDetails is what enrichment needs from the provider
type PlaceDetails struct {
	PlaceID     string
	Rating      float64
	ReviewCount int
	PhotoName   string
}

// PlacesProvider looks up ratings and photos of businesses
type PlacesProvider interface {
	Lookup(ctx context.Context, q PlaceQuery) (*PlaceDetails, error)
	Photo(ctx context.Context, photoName string) ([]byte, string, error)
}

// PlacesClient talks to the Google Places API (v1)
type PlacesClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

type placeResponse struct {
	ID              string  `json:"id"`
	Rating          float64 `json:"rating"`
	UserRatingCount int     `json:"userRatingCount"`
	Photos          []struct {
		Name string `json:"name"`
	} `json:"photos"`
}

type searchTextResponse struct {
	Places []placeResponse `json:"places"`
}

const placeFieldMask = "id,rating,userRatingCount,photos"

func NewPlacesClient(cfg *config.PlacesConfig) *PlacesClient {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &PlacesClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
	}
}

// IsConfigured returns true if the client has an API key
func (c *PlacesClient) IsConfigured() bool {
	return c.apiKey != ""
}

// Lookup fetches place details by id, or searches by name and address when the id is unknown
func (c *PlacesClient) Lookup(ctx context.Context, q PlaceQuery) (*PlaceDetails, error) {
	var place placeResponse
	if q.PlaceID != "" {
		if err := c.do(ctx, http.MethodGet, "/places/"+url.PathEscape(q.PlaceID), nil, &place); err != nil {
			return nil, err
		}
	} else {
		body := map[string]any{
			"textQuery":      strings.TrimSpace(q.Name + " " + q.Address),
			"maxResultCount": 1,
		}
		var resp searchTextResponse
		if err := c.do(ctx, http.MethodPost, "/places:searchText", body, &resp); err != nil {
			return nil, err
		}
		if len(resp.Places) == 0 {
			return nil, ErrPlaceNotFound
		}
		place = resp.Places[0]
	}

	details := &PlaceDetails{
		PlaceID:     place.ID,
		Rating:      place.Rating,
		ReviewCount: place.UserRatingCount,
	}
	if len(place.Photos) > 0 {
		details.PhotoName = place.Photos[0].Name
	}
	return details, nil
}

// Photo downloads a place photo and returns its bytes and content type
func (c *PlacesClient) Photo(ctx context.Context, photoName string) ([]byte, string, error) {
	endpoint := fmt.Sprintf("%s/%s/media?maxWidthPx=1200", c.baseURL, photoName)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-Goog-Api-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to download photo: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("places API error (status %d) downloading photo", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPhotoBytes))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read photo: %w", err)
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	return data, contentType, nil
}

func (c *PlacesClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Goog-Api-Key", c.apiKey)
	fieldMask := placeFieldMask
	if body != nil {
		fieldMask = "places.id,places.rating,places.userRatingCount,places.photos"
	}
	req.Header.Set("X-Goog-FieldMask", fieldMask)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return ErrPlaceNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("places API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}

// MockPlaces returns stable fake details for development without an API key
type MockPlaces struct{}

func (MockPlaces) Lookup(_ context.Context, q PlaceQuery) (*PlaceDetails, error) {
	h := fnv.New32a()
	h.Write([]byte(q.PlaceID + q.Name))
	sum := h.Sum32()
	return &PlaceDetails{
		PlaceID:     q.PlaceID,
		Rating:      3.5 + float64(sum%16)/10,
		ReviewCount: int(sum % 250),
		PhotoName:   "mock/" + q.Name,
	}, nil
}

func (MockPlaces) Photo(context.Context, string) ([]byte, string, error) {
	// 1x1 transparent PNG
	png := []byte{
		0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0x00, 0x00, 0x0d, 0x49, 0x48, 0x44, 0x52,
		0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01, 0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0x15, 0xc4,
		0x89, 0x00, 0x00, 0x00, 0x0d, 0x49, 0x44, 0x41, 0x54, 0x78, 0x9c, 0x63, 0x00, 0x01, 0x00, 0x00,
		0x05, 0x00, 0x01, 0x0d, 0x0a, 0x2d, 0xb4, 0x00, 0x00, 0x00, 0x00, 0x49, 0x45, 0x4e, 0x44, 0xae,
		0x42, 0x60, 0x82,
	}
	return png, "image/png", nil
}
