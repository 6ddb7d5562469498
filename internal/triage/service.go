// Package triage holds the staff and community operations on stored reports:
// status updates with their history timeline, upvotes, reads and live
// subscriptions.
package triage

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/couchcryptid/civicfix-service/internal/domain"
	"github.com/couchcryptid/civicfix-service/internal/observability"
)

const cleanupTimeout = 10 * time.Second

// AssetStore uploads after photos and deletes them if the update fails.
type AssetStore interface {
	Upload(ctx context.Context, path string, a domain.Attachment) (domain.StoredAsset, error)
	Delete(ctx context.Context, ref string) error
}

// EventEmitter records domain events without blocking.
type EventEmitter interface {
	Emit(ctx context.Context, name domain.EventName, params map[string]any)
}

// StatusUpdate is a staff request to move an issue along.
type StatusUpdate struct {
	IssueID    string
	Status     domain.Status
	StaffID    string
	StaffName  string
	AfterImage *domain.Attachment
}

// Filter selects issues for List. Zero fields do not filter.
type Filter struct {
	Category string
	UserID   string
	Statuses []domain.Status
	Limit    int
}

// Service implements the triage operations over a record store.
type Service struct {
	store    domain.IssueRepository
	assets   AssetStore
	events   EventEmitter
	notifier domain.Notifier
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// NewService creates a Service. events and notifier may be nil.
func NewService(store domain.IssueRepository, assets AssetStore, events EventEmitter, notifier domain.Notifier, logger *slog.Logger, metrics *observability.Metrics) *Service {
	return &Service{
		store:    store,
		assets:   assets,
		events:   events,
		notifier: notifier,
		logger:   logger,
		metrics:  metrics,
	}
}

// UpdateStatus applies a staff status change. Resolving requires an after
// photo, which is checked before anything is uploaded or read. History
// entries are added only for stages the issue has not reached yet. If the
// write fails the uploaded photo is removed.
func (s *Service) UpdateStatus(ctx context.Context, u StatusUpdate) (domain.IssueRecord, error) {
	if err := validateUpdate(u); err != nil {
		return domain.IssueRecord{}, err
	}

	current, err := s.store.GetIssue(ctx, u.IssueID)
	if err != nil {
		return domain.IssueRecord{}, fmt.Errorf("load issue %s: %w", u.IssueID, err)
	}

	change := domain.PlanStatusChange(current, u.Status, u.StaffID, u.StaffName)

	var uploaded *domain.StoredAsset
	if u.AfterImage != nil {
		key := domain.AssetPath("issue-resolutions", u.IssueID, u.AfterImage.Name)
		asset, err := s.assets.Upload(ctx, key, *u.AfterImage)
		if err != nil {
			s.metrics.AssetUploads.WithLabelValues("after", "error").Inc()
			return domain.IssueRecord{}, &domain.SubmissionError{
				Code:    domain.CodeAttachmentUpload,
				Message: "After photo upload failed. Please retry.",
				Err:     err,
			}
		}
		s.metrics.AssetUploads.WithLabelValues("after", "success").Inc()
		uploaded = &asset
		change.AfterImageURL = asset.URL
	}

	updated, err := s.store.ApplyStatusChange(ctx, u.IssueID, change)
	if err != nil {
		if uploaded != nil {
			s.removeAsset(ctx, uploaded.Ref)
		}
		return domain.IssueRecord{}, &domain.SubmissionError{
			Code:    domain.CodePersistence,
			Message: "Failed to update status. Please try again.",
			Err:     err,
		}
	}

	s.logger.Info("issue status updated",
		"issue_id", u.IssueID,
		"from", current.Status,
		"to", updated.Status,
		"staff_id", u.StaffID,
		"history_added", len(change.History),
	)

	if updated.Status == domain.StatusResolved && current.Status != domain.StatusResolved && s.events != nil {
		s.events.Emit(ctx, domain.EventIssueResolved, map[string]any{
			"issue_id":   updated.ID,
			"category":   updated.Category,
			"department": updated.Department,
		})
	}
	if updated.Status != current.Status && s.notifier != nil {
		s.notifier.Notify(ctx, domain.Notification{
			Level:   domain.NotifyInfo,
			UserID:  updated.UserID,
			Message: fmt.Sprintf("%s is now %s", updated.Title, updated.Status),
		})
	}
	return updated, nil
}

// ToggleUpvote adds userID's vote, or removes it if already present.
func (s *Service) ToggleUpvote(ctx context.Context, issueID, userID string) (domain.UpvoteResult, error) {
	if strings.TrimSpace(userID) == "" {
		verr := &domain.ValidationError{}
		verr.Add("userId", "Sign in to upvote issues.")
		return domain.UpvoteResult{}, verr
	}
	res, err := s.store.ToggleUpvote(ctx, issueID, strings.TrimSpace(userID))
	if err != nil {
		return domain.UpvoteResult{}, fmt.Errorf("toggle upvote on %s: %w", issueID, err)
	}
	return res, nil
}

// Get returns one issue or domain.ErrNotFound.
func (s *Service) Get(ctx context.Context, id string) (domain.IssueRecord, error) {
	return s.store.GetIssue(ctx, id)
}

// List returns issues matching f, newest first.
func (s *Service) List(ctx context.Context, f Filter) ([]domain.IssueRecord, error) {
	return s.store.QueryIssues(ctx, f.query())
}

// Watch calls fn with the matching issues now and after every change until
// ctx is done.
func (s *Service) Watch(ctx context.Context, f Filter, fn func([]domain.IssueRecord)) error {
	return s.store.SubscribeIssues(ctx, f.query(), fn)
}

func (f Filter) query() domain.IssueQuery {
	return domain.IssueQuery{
		Category: f.Category,
		UserID:   f.UserID,
		Statuses: f.Statuses,
		Limit:    f.Limit,
	}
}

func (s *Service) removeAsset(ctx context.Context, ref string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	if err := s.assets.Delete(ctx, ref); err != nil {
		s.metrics.AssetCleanups.WithLabelValues("error").Inc()
		s.logger.Warn("orphaned after photo cleanup failed", "ref", ref, "error", err)
		return
	}
	s.metrics.AssetCleanups.WithLabelValues("success").Inc()
}

func validateUpdate(u StatusUpdate) error {
	verr := &domain.ValidationError{}
	if strings.TrimSpace(u.IssueID) == "" {
		verr.Add("issueId", "Issue id is required.")
	}
	if !u.Status.Valid() {
		verr.Add("status", fmt.Sprintf("Unknown status %q.", u.Status))
	}
	if strings.TrimSpace(u.StaffID) == "" {
		verr.Add("staffId", "Staff id is required.")
	}
	if u.Status == domain.StatusResolved && u.AfterImage == nil {
		verr.Add("afterImage", "Upload an after photo to resolve this issue.")
	}
	if u.AfterImage != nil {
		ct := u.AfterImage.ContentType
		if ct == "" {
			ct = http.DetectContentType(u.AfterImage.Data)
		}
		if !strings.HasPrefix(ct, "image/") {
			verr.Add("afterImage", "After photo must be an image.")
		}
	}
	return verr.OrNil()
}
