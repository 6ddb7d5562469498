package mongo

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/couchcryptid/civicfix-service/internal/domain"
)

type historyDoc struct {
	Stage     string    `bson:"stage"`
	Status    string    `bson:"status,omitempty"`
	ChangedBy string    `bson:"changedBy"`
	ChangedAt time.Time `bson:"changedAt"`
	Note      string    `bson:"note,omitempty"`
}

type issueDoc struct {
	ID             primitive.ObjectID `bson:"_id,omitempty"`
	Title          string             `bson:"title"`
	Description    string             `bson:"description"`
	Category       string             `bson:"category"`
	Status         string             `bson:"status"`
	UserID         string             `bson:"userId"`
	PhoneVerified  bool               `bson:"phoneVerified"`
	AadhaarNumber  string             `bson:"aadharNumber,omitempty"`
	AadhaarImage   string             `bson:"aadharImageUrl,omitempty"`
	LocationText   string             `bson:"locationText"`
	FullAddress    string             `bson:"fullAddress"`
	Street         string             `bson:"street,omitempty"`
	Locality       string             `bson:"locality,omitempty"`
	City           string             `bson:"city,omitempty"`
	State          string             `bson:"state,omitempty"`
	Pincode        string             `bson:"pincode,omitempty"`
	Country        string             `bson:"country,omitempty"`
	Landmark       string             `bson:"landmark,omitempty"`
	Lat            *float64           `bson:"lat,omitempty"`
	Lng            *float64           `bson:"lng,omitempty"`
	Department     string             `bson:"department"`
	CreatedAt      time.Time          `bson:"createdAt"`
	UpdatedAt      time.Time          `bson:"updatedAt"`
	StaffID        string             `bson:"staffId,omitempty"`
	Upvotes        int                `bson:"upvotes"`
	UpvotedBy      []string           `bson:"upvotedBy"`
	StatusHistory  []historyDoc       `bson:"statusHistory"`
	BeforeImageURL string             `bson:"beforeImageUrl,omitempty"`
	AfterImageURL  string             `bson:"afterImageUrl,omitempty"`
}

func toDoc(r domain.IssueRecord) issueDoc {
	upvotedBy := r.UpvotedBy
	if upvotedBy == nil {
		upvotedBy = []string{}
	}
	return issueDoc{
		Title:          r.Title,
		Description:    r.Description,
		Category:       r.Category,
		Status:         string(r.Status),
		UserID:         r.UserID,
		PhoneVerified:  r.PhoneVerified,
		AadhaarNumber:  r.AadhaarNumber,
		AadhaarImage:   r.AadhaarImage,
		LocationText:   r.LocationText,
		FullAddress:    r.FullAddress,
		Street:         r.Street,
		Locality:       r.Locality,
		City:           r.City,
		State:          r.State,
		Pincode:        r.Pincode,
		Country:        r.Country,
		Landmark:       r.Landmark,
		Lat:            r.Lat,
		Lng:            r.Lng,
		Department:     r.Department,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
		StaffID:        r.StaffID,
		Upvotes:        r.Upvotes,
		UpvotedBy:      upvotedBy,
		StatusHistory:  toHistoryDocs(r.StatusHistory),
		BeforeImageURL: r.BeforeImageURL,
		AfterImageURL:  r.AfterImageURL,
	}
}

func toHistoryDocs(entries []domain.HistoryEntry) []historyDoc {
	out := make([]historyDoc, 0, len(entries))
	for _, h := range entries {
		out = append(out, historyDoc{
			Stage:     string(h.Stage),
			Status:    string(h.Status),
			ChangedBy: h.ChangedBy,
			ChangedAt: h.ChangedAt,
			Note:      h.Note,
		})
	}
	return out
}

func (d issueDoc) record() domain.IssueRecord {
	history := make([]domain.HistoryEntry, 0, len(d.StatusHistory))
	for _, h := range d.StatusHistory {
		history = append(history, domain.HistoryEntry{
			Stage:     domain.Stage(h.Stage),
			Status:    domain.Status(h.Status),
			ChangedBy: h.ChangedBy,
			ChangedAt: h.ChangedAt.UTC(),
			Note:      h.Note,
		})
	}
	upvotedBy := d.UpvotedBy
	if upvotedBy == nil {
		upvotedBy = []string{}
	}
	return domain.IssueRecord{
		ID:             d.ID.Hex(),
		Title:          d.Title,
		Description:    d.Description,
		Category:       d.Category,
		Status:         domain.Status(d.Status),
		UserID:         d.UserID,
		PhoneVerified:  d.PhoneVerified,
		AadhaarNumber:  d.AadhaarNumber,
		AadhaarImage:   d.AadhaarImage,
		LocationText:   d.LocationText,
		FullAddress:    d.FullAddress,
		Street:         d.Street,
		Locality:       d.Locality,
		City:           d.City,
		State:          d.State,
		Pincode:        d.Pincode,
		Country:        d.Country,
		Landmark:       d.Landmark,
		Lat:            d.Lat,
		Lng:            d.Lng,
		Department:     d.Department,
		CreatedAt:      d.CreatedAt.UTC(),
		UpdatedAt:      d.UpdatedAt.UTC(),
		StaffID:        d.StaffID,
		Upvotes:        d.Upvotes,
		UpvotedBy:      upvotedBy,
		StatusHistory:  history,
		BeforeImageURL: d.BeforeImageURL,
		AfterImageURL:  d.AfterImageURL,
	}
}
