package mongo

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/couchcryptid/civicfix-service/internal/domain"
)

func TestQueryFilter(t *testing.T) {
	from := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		q    domain.IssueQuery
		want bson.M
	}{
		{name: "empty", q: domain.IssueQuery{}, want: bson.M{}},
		{
			name: "duplicate window",
			q:    domain.IssueQuery{Category: "Pothole", CreatedFrom: from},
			want: bson.M{"category": "Pothole", "createdAt": bson.M{"$gte": from}},
		},
		{
			name: "assigned to staff",
			q:    domain.IssueQuery{UserID: "u1", Statuses: []domain.Status{domain.StatusSubmitted, domain.StatusInProgress}},
			want: bson.M{"userId": "u1", "status": bson.M{"$in": bson.A{"Submitted", "In Progress"}}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, queryFilter(tt.q))
		})
	}
}

func TestDocumentRoundTripKeepsHistoryAndVoters(t *testing.T) {
	lat, lng := 12.9716, 77.5946
	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	r := domain.IssueRecord{
		Title:     "Pothole",
		Category:  "Pothole",
		Status:    domain.StatusInProgress,
		Lat:       &lat,
		Lng:       &lng,
		Upvotes:   1,
		UpvotedBy: []string{"u2"},
		CreatedAt: created,
		UpdatedAt: created,
		StatusHistory: []domain.HistoryEntry{
			{Stage: domain.StageSubmitted, Status: domain.StatusSubmitted, ChangedBy: "u1", ChangedAt: created},
			{Stage: domain.StageAssigned, Status: domain.StatusInProgress, ChangedBy: "s1", ChangedAt: created, Note: "Assigned to Ravi"},
		},
	}

	doc := toDoc(r)
	doc.ID = primitive.NewObjectID()
	raw, err := bson.Marshal(doc)
	assert.NoError(t, err)

	var decoded issueDoc
	assert.NoError(t, bson.Unmarshal(raw, &decoded))
	got := decoded.record()

	r.ID = doc.ID.Hex()
	assert.Equal(t, r, got)
}

func TestRecordNeverReturnsNilVoters(t *testing.T) {
	got := issueDoc{ID: primitive.NewObjectID()}.record()
	assert.NotNil(t, got.UpvotedBy)
	assert.Empty(t, got.UpvotedBy)
}
