package model

import "time"

// State is a US state with directory listings
type State struct {
	ID   int64  `json:"id"`
	Code string `json:"code"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

// City belongs to a state; its slug is unique within the state
type City struct {
	ID              int64  `json:"id"`
	StateID         int64  `json:"stateId"`
	StateCode       string `json:"stateCode"`
	Name            string `json:"name"`
	Slug            string `json:"slug"`
	ContractorCount int    `json:"contractorCount"`
}

// Category is a service category (driveways, foundations, ...)
type Category struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

// Contractor is a directory listing
type Contractor struct {
	ID          string     `json:"id"`
	CityID      int64      `json:"cityId"`
	Name        string     `json:"name"`
	Slug        string     `json:"slug"`
	Phone       string     `json:"phone,omitempty"`
	Website     string     `json:"website,omitempty"`
	Address     string     `json:"address,omitempty"`
	PlaceID     string     `json:"placeId,omitempty"`
	ImageURL    *string    `json:"imageUrl"`
	Rating      *float64   `json:"rating"`
	ReviewCount *int       `json:"reviewCount"`
	Categories  []string   `json:"categories"`
	Claimed     bool       `json:"claimed"`
	EnrichedAt  *time.Time `json:"enrichedAt"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// ContractorQuery filters public contractor listings
type ContractorQuery struct {
	State    string `query:"state" validate:"omitempty,max=64"`
	City     string `query:"city" validate:"omitempty,max=128"`
	Category string `query:"category" validate:"omitempty,max=64"`
	Limit    int    `query:"limit" validate:"omitempty,min=1,max=100"`
	Offset   int    `query:"offset" validate:"omitempty,min=0"`
}

// ContractorListResponse is the body of GET /api/public/contractors
type ContractorListResponse struct {
	Contractors []*Contractor `json:"contractors"`
	Total       int           `json:"total"`
	Limit       int           `json:"limit"`
	Offset      int           `json:"offset"`
}

// CityDetail is the body of GET /api/public/cities/:slug
type CityDetail struct {
	City        *City         `json:"city"`
	State       *State        `json:"state"`
	Contractors []*Contractor `json:"contractors"`
}

// Location groups a state with its cities
type Location struct {
	State  *State  `json:"state"`
	Cities []*City `json:"cities"`
}

// PageStatus is the publish state of a CMS page
type PageStatus string

const (
	PageStatusDraft     PageStatus = "draft"
	PageStatusPublished PageStatus = "published"
	PageStatusArchived  PageStatus = "archived"
)

// Page is a CMS page; ParentID forms a tree
type Page struct {
	ID        string     `json:"id"`
	ParentID  *string    `json:"parentId"`
	Title     string     `json:"title"`
	Slug      string     `json:"slug"`
	Template  string     `json:"template"`
	Status    PageStatus `json:"status"`
	Content   string     `json:"content"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// UpdatePageRequest is the body of PATCH /api/pages/:id; nil fields are left unchanged
type UpdatePageRequest struct {
	ParentID *string     `json:"parentId" validate:"omitempty,uuid"`
	Title    *string     `json:"title" validate:"omitempty,min=1,max=200"`
	Slug     *string     `json:"slug" validate:"omitempty,min=1,max=120,lowercase"`
	Template *string     `json:"template" validate:"omitempty,oneof=standard hub spoke"`
	Status   *PageStatus `json:"status" validate:"omitempty,oneof=draft published archived"`
	Content  *string     `json:"content"`
}

// ClaimStatus is the review state of an ownership claim
type ClaimStatus string

const (
	ClaimStatusPending   ClaimStatus = "pending"
	ClaimStatusApproved  ClaimStatus = "approved"
	ClaimStatusRejected  ClaimStatus = "rejected"
	ClaimStatusActivated ClaimStatus = "activated"
)

// Claim is a business owner's request to manage a listing
type Claim struct {
	ID                string      `json:"id"`
	ContractorID      string      `json:"contractorId"`
	Name              string      `json:"name"`
	Email             string      `json:"email"`
	Phone             string      `json:"phone,omitempty"`
	Message           string      `json:"message,omitempty"`
	Status            ClaimStatus `json:"status"`
	ActivationToken   *string     `json:"-"`
	ActivationExpires *time.Time  `json:"-"`
	CreatedAt         time.Time   `json:"createdAt"`
}

// SubmitClaimRequest is the body of POST /api/public/claims
type SubmitClaimRequest struct {
	ContractorID string `json:"contractorId" validate:"required,uuid"`
	Name         string `json:"name" validate:"required,min=2,max=120"`
	Email        string `json:"email" validate:"required,email"`
	Phone        string `json:"phone" validate:"omitempty,max=32"`
	Message      string `json:"message" validate:"omitempty,max=2000"`
}

// CheckEmailRequest is the body of POST /api/public/claims/check-email
type CheckEmailRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// CheckEmailResponse reports whether an email already has a claim on file
type CheckEmailResponse struct {
	Exists bool        `json:"exists"`
	Status ClaimStatus `json:"status,omitempty"`
}

// ActivationTokenRequest is the body of the activation endpoints
type ActivationTokenRequest struct {
	Token string `json:"token" validate:"required,min=16,max=128"`
}

// ActivationResponse describes the claim a token belongs to
type ActivationResponse struct {
	Valid        bool        `json:"valid"`
	ClaimID      string      `json:"claimId,omitempty"`
	ContractorID string      `json:"contractorId,omitempty"`
	Email        string      `json:"email,omitempty"`
	Status       ClaimStatus `json:"status,omitempty"`
}
