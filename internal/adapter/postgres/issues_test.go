package postgres

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/couchcryptid/civicfix-service/internal/domain"
)

func TestBuildQuery(t *testing.T) {
	from := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	base := "SELECT " + issueColumns + " FROM issues"
	order := " ORDER BY created_at DESC, id DESC"

	tests := []struct {
		name     string
		q        domain.IssueQuery
		wantSQL  string
		wantArgs []any
	}{
		{
			name:    "no filters",
			q:       domain.IssueQuery{},
			wantSQL: base + order,
		},
		{
			name:     "duplicate window",
			q:        domain.IssueQuery{Category: "Pothole", CreatedFrom: from, Limit: 100},
			wantSQL:  base + " WHERE category = $1 AND created_at >= $2" + order + " LIMIT $3",
			wantArgs: []any{"Pothole", from, 100},
		},
		{
			name:     "open issues for a staff member",
			q:        domain.IssueQuery{UserID: "s1", Statuses: []domain.Status{domain.StatusSubmitted, domain.StatusInProgress}},
			wantSQL:  base + " WHERE user_id = $1 AND status = ANY($2)" + order,
			wantArgs: []any{"s1", []string{"Submitted", "In Progress"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, args := buildQuery(tt.q)
			assert.Equal(t, tt.wantSQL, sql)
			assert.Equal(t, tt.wantArgs, args)
		})
	}
}

func TestMigrationsEmbedded(t *testing.T) {
	entries, err := migrationFiles.ReadDir("migrations")
	assert.NoError(t, err)
	assert.NotEmpty(t, entries)

	content, err := migrationFiles.ReadFile("migrations/001_issues.sql")
	assert.NoError(t, err)
	assert.Contains(t, string(content), "pg_notify('issues_changed'")
}
