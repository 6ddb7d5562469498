package domain

import (
	"strings"
	"time"

	"github.com/couchcryptid/civicfix-service/internal/geo"
)

// Status is the lifecycle state of a report.
type Status string

const (
	StatusSubmitted  Status = "Submitted"
	StatusInProgress Status = "In Progress"
	StatusResolved   Status = "Resolved"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusSubmitted, StatusInProgress, StatusResolved:
		return true
	}
	return false
}

// Stage is a step on a report's history timeline.
type Stage string

const (
	StageSubmitted  Stage = "Submitted"
	StageAssigned   Stage = "Assigned"
	StageInProgress Stage = "In Progress"
	StageResolved   Stage = "Resolved"
)

// Known report categories. Free-form categories are accepted and routed to
// the General department.
const (
	CategoryPothole      = "Pothole"
	CategoryGarbage      = "Garbage"
	CategoryStreetlight  = "Streetlight"
	CategoryWaterLeakage = "Water Leakage"
	CategoryOthers       = "Others"
)

// HistoryEntry records one stage transition.
type HistoryEntry struct {
	Stage     Stage     `json:"stage"`
	Status    Status    `json:"status,omitempty"`
	ChangedBy string    `json:"changedBy"`
	ChangedAt time.Time `json:"changedAt"`
	Note      string    `json:"note,omitempty"`
}

// IssuePayload is what a citizen submits.
type IssuePayload struct {
	Title         string   `json:"title" validate:"required"`
	Description   string   `json:"description" validate:"required"`
	Category      string   `json:"category" validate:"required"`
	LocationText  string   `json:"locationText"`
	FullAddress   string   `json:"fullAddress" validate:"required"`
	Street        string   `json:"street,omitempty"`
	Locality      string   `json:"locality,omitempty"`
	City          string   `json:"city" validate:"required"`
	State         string   `json:"state" validate:"required"`
	Pincode       string   `json:"pincode" validate:"required"`
	Country       string   `json:"country" validate:"required"`
	Landmark      string   `json:"landmark,omitempty"`
	Lat           *float64 `json:"lat" validate:"required,latitude"`
	Lng           *float64 `json:"lng" validate:"required,longitude"`
	UserID        string   `json:"userId" validate:"required"`
	Department    string   `json:"department,omitempty"`
	PhoneVerified bool     `json:"phoneVerified"`
	AadhaarNumber string   `json:"aadharNumber,omitempty" validate:"omitempty,len=12,numeric"`
}

// ResolvedAddress returns FullAddress, falling back to LocationText.
func (p IssuePayload) ResolvedAddress() string {
	if a := strings.TrimSpace(p.FullAddress); a != "" {
		return a
	}
	return strings.TrimSpace(p.LocationText)
}

// Normalize trims every text field and resolves the address fallback.
func (p IssuePayload) Normalize() IssuePayload {
	p.Title = strings.TrimSpace(p.Title)
	p.Description = strings.TrimSpace(p.Description)
	p.Category = strings.TrimSpace(p.Category)
	p.FullAddress = p.ResolvedAddress()
	p.LocationText = strings.TrimSpace(p.LocationText)
	if p.LocationText == "" {
		p.LocationText = p.FullAddress
	}
	p.Street = strings.TrimSpace(p.Street)
	p.Locality = strings.TrimSpace(p.Locality)
	p.City = strings.TrimSpace(p.City)
	p.State = strings.TrimSpace(p.State)
	p.Pincode = strings.TrimSpace(p.Pincode)
	p.Country = strings.TrimSpace(p.Country)
	p.Landmark = strings.TrimSpace(p.Landmark)
	p.UserID = strings.TrimSpace(p.UserID)
	p.Department = strings.TrimSpace(p.Department)
	p.AadhaarNumber = strings.TrimSpace(p.AadhaarNumber)
	return p
}

// Position returns the submitted coordinates when both are present.
func (p IssuePayload) Position() (geo.Point, bool) {
	if p.Lat == nil || p.Lng == nil {
		return geo.Point{}, false
	}
	return geo.Point{Lat: *p.Lat, Lng: *p.Lng}, true
}

// IssueRecord is a persisted report.
type IssueRecord struct {
	ID             string         `json:"id"`
	Title          string         `json:"title"`
	Description    string         `json:"description"`
	Category       string         `json:"category"`
	Status         Status         `json:"status"`
	UserID         string         `json:"userId"`
	PhoneVerified  bool           `json:"phoneVerified"`
	AadhaarNumber  string         `json:"aadharNumber,omitempty"`
	AadhaarImage   string         `json:"aadharImageUrl,omitempty"`
	LocationText   string         `json:"locationText"`
	FullAddress    string         `json:"fullAddress"`
	Street         string         `json:"street,omitempty"`
	Locality       string         `json:"locality,omitempty"`
	City           string         `json:"city,omitempty"`
	State          string         `json:"state,omitempty"`
	Pincode        string         `json:"pincode,omitempty"`
	Country        string         `json:"country,omitempty"`
	Landmark       string         `json:"landmark,omitempty"`
	Lat            *float64       `json:"lat,omitempty"`
	Lng            *float64       `json:"lng,omitempty"`
	Department     string         `json:"department"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
	StaffID        string         `json:"staffId,omitempty"`
	Upvotes        int            `json:"upvotes"`
	UpvotedBy      []string       `json:"upvotedBy"`
	StatusHistory  []HistoryEntry `json:"statusHistory"`
	BeforeImageURL string         `json:"beforeImageUrl,omitempty"`
	AfterImageURL  string         `json:"afterImageUrl,omitempty"`
}

// Position returns the record's coordinates when both are present.
func (r IssueRecord) Position() (geo.Point, bool) {
	if r.Lat == nil || r.Lng == nil {
		return geo.Point{}, false
	}
	return geo.Point{Lat: *r.Lat, Lng: *r.Lng}, true
}

// Stages returns the set of stages already on the record's timeline.
func (r IssueRecord) Stages() map[Stage]bool {
	out := make(map[Stage]bool, len(r.StatusHistory))
	for _, h := range r.StatusHistory {
		out[h.Stage] = true
	}
	return out
}

// NewIssueRecord builds the initial record for a validated payload. Asset
// URLs are filled in by the caller after uploads succeed.
func NewIssueRecord(p IssuePayload) IssueRecord {
	now := Now()
	department := p.Department
	if department == "" {
		department = ResolveDepartment(p.Category)
	}
	address := p.ResolvedAddress()

	return IssueRecord{
		Title:         p.Title,
		Description:   p.Description,
		Category:      p.Category,
		Status:        StatusSubmitted,
		UserID:        p.UserID,
		PhoneVerified: p.PhoneVerified,
		AadhaarNumber: p.AadhaarNumber,
		LocationText:  address,
		FullAddress:   address,
		Street:        p.Street,
		Locality:      p.Locality,
		City:          p.City,
		State:         p.State,
		Pincode:       p.Pincode,
		Country:       p.Country,
		Landmark:      p.Landmark,
		Lat:           p.Lat,
		Lng:           p.Lng,
		Department:    department,
		CreatedAt:     now,
		UpdatedAt:     now,
		Upvotes:       0,
		UpvotedBy:     []string{},
		StatusHistory: []HistoryEntry{{
			Stage:     StageSubmitted,
			Status:    StatusSubmitted,
			ChangedBy: p.UserID,
			ChangedAt: now,
			Note:      "Issue submitted",
		}},
	}
}

// ResolveDepartment maps a category to the department that handles it.
func ResolveDepartment(category string) string {
	switch category {
	case CategoryGarbage:
		return "Sanitation"
	case CategoryStreetlight:
		return "Electrical"
	default:
		return "General"
	}
}

// DuplicateCandidate is an existing report close enough to a new submission
// to be shown to the citizen before they submit.
type DuplicateCandidate struct {
	Issue          IssueRecord `json:"issue"`
	DistanceMeters float64     `json:"distanceMeters"`
}

// Attachment is an uploaded file held in memory.
type Attachment struct {
	Name        string
	ContentType string
	Data        []byte
}

// StoredAsset identifies an uploaded attachment. Ref is what the asset store
// needs to delete it; URL is what clients fetch.
type StoredAsset struct {
	Ref string
	URL string
}

// UpvoteResult is the state after a toggle.
type UpvoteResult struct {
	Upvoted bool `json:"upvoted"`
	Upvotes int  `json:"upvotes"`
}
