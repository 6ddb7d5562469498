package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/couchcryptid/civicfix-service/internal/domain"
	"github.com/couchcryptid/civicfix-service/internal/duplicate"
	"github.com/couchcryptid/civicfix-service/internal/observability"
)

// IssueStore writes new records.
type IssueStore interface {
	CreateIssue(ctx context.Context, r domain.IssueRecord) (string, error)
}

// AssetStore uploads attachments by path and deletes them by reference.
type AssetStore interface {
	Upload(ctx context.Context, path string, a domain.Attachment) (domain.StoredAsset, error)
	Delete(ctx context.Context, ref string) error
}

// DuplicateFinder looks for an open report near a new one.
type DuplicateFinder interface {
	FindNearbyDuplicate(ctx context.Context, p duplicate.Params) (*domain.DuplicateCandidate, error)
}

// DraftQueue saves submissions made while the record store is unreachable.
type DraftQueue interface {
	QueueDraft(ctx context.Context, payload domain.IssuePayload, photo, identity *domain.Attachment) (domain.Draft, error)
}

// Connectivity reports whether the record store is reachable.
type Connectivity interface {
	Online() bool
}

// EventEmitter records domain events without blocking.
type EventEmitter interface {
	Emit(ctx context.Context, name domain.EventName, params map[string]any)
}

// Deps are the collaborators of a Pipeline. Store and Assets are required;
// the rest may be nil, which disables that step.
type Deps struct {
	Store      IssueStore
	Assets     AssetStore
	Duplicates DuplicateFinder
	Drafts     DraftQueue
	Conn       Connectivity
	Events     EventEmitter
	Geocoder   domain.Geocoder
	Notifier   domain.Notifier
}

// Config tunes the pipeline.
type Config struct {
	// DuplicateCheckTimeout bounds the advisory proximity query.
	DuplicateCheckTimeout time.Duration
}

const (
	defaultDuplicateCheckTimeout = 3 * time.Second
	cleanupTimeout               = 10 * time.Second
)

// Outcome is how a submission ended when it did not fail.
type Outcome string

const (
	OutcomeCreated   Outcome = "created"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeQueued    Outcome = "queued"
)

// Request is one citizen submission.
type Request struct {
	Payload  domain.IssuePayload
	Photo    *domain.Attachment
	Identity *domain.Attachment

	// ProceedDespiteDuplicate skips the duplicate checkpoint after the
	// citizen has seen the nearby report and chosen to file anyway.
	ProceedDespiteDuplicate bool
}

// Result is the non-error outcome of Submit.
type Result struct {
	Outcome   Outcome                    `json:"outcome"`
	IssueID   string                     `json:"issueId,omitempty"`
	DraftID   string                     `json:"draftId,omitempty"`
	Duplicate *domain.DuplicateCandidate `json:"duplicate,omitempty"`
}

// Pipeline turns submissions into stored records.
type Pipeline struct {
	deps    Deps
	cfg     Config
	logger  *slog.Logger
	metrics *observability.Metrics
}

// New creates a Pipeline.
func New(deps Deps, cfg Config, logger *slog.Logger, metrics *observability.Metrics) *Pipeline {
	if cfg.DuplicateCheckTimeout <= 0 {
		cfg.DuplicateCheckTimeout = defaultDuplicateCheckTimeout
	}
	return &Pipeline{deps: deps, cfg: cfg, logger: logger, metrics: metrics}
}

// Submit runs a live submission. Missing address fields are filled from the
// coordinates when a geocoder is configured. A valid payload is queued as a
// draft while offline, stops at the duplicate checkpoint when an open report
// is nearby, and otherwise goes through Create.
func (p *Pipeline) Submit(ctx context.Context, req Request) (Result, error) {
	ctx, span := otel.Tracer("civicfix/pipeline").Start(ctx, "pipeline.Submit",
		trace.WithAttributes(attribute.Bool("submission.force", req.ProceedDespiteDuplicate)))
	defer span.End()

	payload := req.Payload.Normalize()
	if p.deps.Geocoder != nil {
		if err := validateExceptAddress(payload, req.Photo, req.Identity); err != nil {
			p.metrics.Submissions.WithLabelValues("invalid").Inc()
			return Result{}, err
		}
		payload = domain.FillAddress(ctx, payload, p.deps.Geocoder, p.logger)
	}
	if err := Validate(payload, req.Photo, req.Identity); err != nil {
		p.metrics.Submissions.WithLabelValues("invalid").Inc()
		span.SetStatus(codes.Error, "invalid payload")
		return Result{}, err
	}
	span.SetAttributes(attribute.String("issue.category", payload.Category))

	if p.deps.Drafts != nil && p.deps.Conn != nil && !p.deps.Conn.Online() {
		return p.queue(ctx, payload, req.Photo, req.Identity)
	}

	if !req.ProceedDespiteDuplicate {
		if dup := p.checkDuplicate(ctx, payload); dup != nil {
			p.metrics.Submissions.WithLabelValues("duplicate").Inc()
			span.SetAttributes(attribute.String("duplicate.issue_id", dup.Issue.ID))
			return Result{Outcome: OutcomeDuplicate, Duplicate: dup}, nil
		}
	}

	id, err := p.Create(ctx, payload, req.Photo, req.Identity)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}
	return Result{Outcome: OutcomeCreated, IssueID: id}, nil
}

// Create uploads the attachments and writes the record. It is the write path
// shared by live submissions and draft replay. Upload failures abort before
// any write; a failed or cancelled write removes the uploaded assets. The
// returned error is a *domain.ValidationError, a *domain.SubmissionError or
// the context error.
func (p *Pipeline) Create(ctx context.Context, payload domain.IssuePayload, photo, identity *domain.Attachment) (string, error) {
	ctx, span := otel.Tracer("civicfix/pipeline").Start(ctx, "pipeline.Create",
		trace.WithAttributes(attribute.Bool("issue.has_photo", photo != nil)))
	defer span.End()

	payload = payload.Normalize()
	if err := Validate(payload, photo, identity); err != nil {
		p.metrics.Submissions.WithLabelValues("invalid").Inc()
		return "", err
	}

	var uploaded []domain.StoredAsset
	record := domain.NewIssueRecord(payload)

	if photo != nil {
		asset, err := p.upload(ctx, "photo", domain.AssetPath("issue-images", payload.UserID, photo.Name), *photo)
		if err != nil {
			p.cleanup(ctx, uploaded)
			return "", p.uploadFailed(err, "Photo upload failed. Please retry or remove the attachment.")
		}
		uploaded = append(uploaded, asset)
		record.BeforeImageURL = asset.URL
	}
	if identity != nil {
		asset, err := p.upload(ctx, "identity", domain.AssetPath("aadhar-images", payload.UserID, identity.Name), *identity)
		if err != nil {
			p.cleanup(ctx, uploaded)
			return "", p.uploadFailed(err, "Identity document upload failed. Please retry.")
		}
		uploaded = append(uploaded, asset)
		record.AadhaarImage = asset.URL
	}

	// A caller that went away must not get a record written behind its back.
	if err := ctx.Err(); err != nil {
		p.cleanup(ctx, uploaded)
		p.metrics.Submissions.WithLabelValues("cancelled").Inc()
		return "", fmt.Errorf("submission cancelled: %w", err)
	}

	id, err := p.deps.Store.CreateIssue(ctx, record)
	if err != nil {
		p.cleanup(ctx, uploaded)
		p.metrics.Submissions.WithLabelValues("persist_failed").Inc()
		p.logger.Error("issue write failed", "user_id", payload.UserID, "category", payload.Category, "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "record write failed")
		return "", &domain.SubmissionError{
			Code:    domain.CodePersistence,
			Message: "Unable to save your issue right now. Please try again.",
			Err:     err,
		}
	}

	p.metrics.Submissions.WithLabelValues("created").Inc()
	span.SetAttributes(attribute.String("issue.id", id))
	p.logger.Info("issue created",
		"issue_id", id,
		"category", record.Category,
		"department", record.Department,
		"attachments", len(uploaded),
	)

	if p.deps.Events != nil {
		p.deps.Events.Emit(ctx, domain.EventIssueCreated, map[string]any{
			"issue_id":       id,
			"category":       record.Category,
			"department":     record.Department,
			"phone_verified": record.PhoneVerified,
		})
	}
	return id, nil
}

func (p *Pipeline) queue(ctx context.Context, payload domain.IssuePayload, photo, identity *domain.Attachment) (Result, error) {
	draft, err := p.deps.Drafts.QueueDraft(ctx, payload, photo, identity)
	if err != nil {
		p.metrics.Submissions.WithLabelValues("queue_failed").Inc()
		p.logger.Error("queue offline draft failed", "user_id", payload.UserID, "error", err)
		return Result{}, err
	}

	p.metrics.Submissions.WithLabelValues("queued").Inc()
	p.logger.Info("offline draft queued", "draft_id", draft.ID, "category", payload.Category)
	if p.deps.Notifier != nil {
		p.deps.Notifier.Notify(ctx, domain.Notification{
			Level:   domain.NotifyInfo,
			UserID:  payload.UserID,
			Message: "You're offline. Your report was saved and will be submitted when you're back online.",
		})
	}
	return Result{Outcome: OutcomeQueued, DraftID: draft.ID}, nil
}

// checkDuplicate is best-effort: a failed or slow check counts as no
// duplicate and never blocks the submission.
func (p *Pipeline) checkDuplicate(ctx context.Context, payload domain.IssuePayload) *domain.DuplicateCandidate {
	if p.deps.Duplicates == nil {
		return nil
	}
	pos, ok := payload.Position()
	if !ok {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.DuplicateCheckTimeout)
	defer cancel()

	dup, err := p.deps.Duplicates.FindNearbyDuplicate(ctx, duplicate.Params{
		Category: payload.Category,
		Lat:      pos.Lat,
		Lng:      pos.Lng,
	})
	if err != nil {
		p.logger.Warn("duplicate check failed, continuing without it",
			"category", payload.Category,
			"error", err,
		)
		return nil
	}
	return dup
}

func (p *Pipeline) uploadFailed(err error, msg string) error {
	p.metrics.Submissions.WithLabelValues("upload_failed").Inc()
	return &domain.SubmissionError{Code: domain.CodeAttachmentUpload, Message: msg, Err: err}
}
