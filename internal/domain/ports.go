package domain

import (
	"context"
	"time"
)

// IssueQuery selects stored reports. Zero-valued fields do not filter.
// Results are always ordered newest first.
type IssueQuery struct {
	Category    string
	CreatedFrom time.Time
	UserID      string
	Statuses    []Status
	Limit       int
}

// IssueQuerier runs filtered reads against the record store.
type IssueQuerier interface {
	QueryIssues(ctx context.Context, q IssueQuery) ([]IssueRecord, error)
}

// IssueRepository is the full record-store contract.
type IssueRepository interface {
	IssueQuerier

	// CreateIssue persists r and returns its generated id.
	CreateIssue(ctx context.Context, r IssueRecord) (string, error)

	// GetIssue returns ErrNotFound when id does not exist.
	GetIssue(ctx context.Context, id string) (IssueRecord, error)

	// ApplyStatusChange updates status fields and appends c.History.
	ApplyStatusChange(ctx context.Context, id string, c StatusChange) (IssueRecord, error)

	// ToggleUpvote adds or removes userID from the voters atomically.
	ToggleUpvote(ctx context.Context, id, userID string) (UpvoteResult, error)

	// SubscribeIssues calls fn with the current result of q and again after
	// every change, until ctx is done.
	SubscribeIssues(ctx context.Context, q IssueQuery, fn func([]IssueRecord)) error

	Ping(ctx context.Context) error
}

// NotificationLevel classifies a user-facing notification.
type NotificationLevel string

const (
	NotifySuccess NotificationLevel = "success"
	NotifyError   NotificationLevel = "error"
	NotifyInfo    NotificationLevel = "info"
)

// Notification is a transient message for a user.
type Notification struct {
	Level   NotificationLevel
	UserID  string
	Message string
}

// Notifier delivers notifications. Delivery is best-effort.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}
