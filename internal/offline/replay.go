package offline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/couchcryptid/civicfix-service/internal/domain"
	"github.com/couchcryptid/civicfix-service/internal/observability"
)

// Creator submits a draft through the normal write path.
type Creator interface {
	Create(ctx context.Context, payload domain.IssuePayload, photo, identity *domain.Attachment) (string, error)
}

// Connectivity reports whether the record store is reachable.
type Connectivity interface {
	Online() bool
}

// ReplayResult summarizes one pass over the queue.
type ReplayResult struct {
	Skipped   bool     `json:"skipped"`
	Delivered []string `json:"delivered"`
	Remaining int      `json:"remaining"`
}

// Replayer drains the queue one draft at a time.
type Replayer struct {
	queue    *Queue
	creator  Creator
	conn     Connectivity
	notifier domain.Notifier
	logger   *slog.Logger
	metrics  *observability.Metrics

	running sync.Mutex

	// delivered maps draft ids to issue ids written in this process whose
	// draft could not be removed yet. Guarded by running.
	delivered map[string]string
}

// NewReplayer creates a Replayer. A nil conn is treated as always online.
func NewReplayer(queue *Queue, creator Creator, conn Connectivity, notifier domain.Notifier, logger *slog.Logger, metrics *observability.Metrics) *Replayer {
	return &Replayer{
		queue:    queue,
		creator:  creator,
		conn:     conn,
		notifier: notifier,
		logger:   logger,
		metrics:  metrics,

		delivered: make(map[string]string),
	}
}

// Replay submits queued drafts in order. Each delivered draft is removed and
// announced. The first failure stops the pass and leaves that draft and every
// later one queued for the next trigger. Replay is a no-op while offline.
func (r *Replayer) Replay(ctx context.Context) (ReplayResult, error) {
	if r.conn != nil && !r.conn.Online() {
		return ReplayResult{Skipped: true}, nil
	}

	r.running.Lock()
	defer r.running.Unlock()

	drafts, err := r.queue.ListQueuedDrafts(ctx)
	if err != nil {
		r.notify(ctx, domain.NotifyError, "", "Failed to sync offline reports.")
		return ReplayResult{}, err
	}

	result := ReplayResult{Delivered: []string{}, Remaining: len(drafts)}
	for _, d := range drafts {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		issueID, err := r.deliver(ctx, d)
		if err != nil {
			r.metrics.DraftsReplayed.WithLabelValues("error").Inc()
			r.logger.Error("offline draft replay failed", "draft_id", d.ID, "error", err)
			r.notify(ctx, domain.NotifyError, d.Payload.UserID, "Failed to sync offline reports.")
			return result, fmt.Errorf("replay draft %s: %w", d.ID, err)
		}

		r.metrics.DraftsReplayed.WithLabelValues("success").Inc()
		r.logger.Info("offline draft delivered", "draft_id", d.ID, "issue_id", issueID)
		r.notify(ctx, domain.NotifySuccess, d.Payload.UserID, "Offline report submitted.")
		result.Delivered = append(result.Delivered, issueID)
		result.Remaining--
	}
	return result, nil
}

// Run replays once immediately and again on every transition to online,
// until ctx is done or transitions is closed. Failures are logged; the next
// trigger retries.
func (r *Replayer) Run(ctx context.Context, transitions <-chan bool) error {
	r.replayLogged(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case online, ok := <-transitions:
			if !ok {
				return nil
			}
			if online {
				r.replayLogged(ctx)
			}
		}
	}
}

func (r *Replayer) replayLogged(ctx context.Context) {
	res, err := r.Replay(ctx)
	if err != nil {
		if ctx.Err() == nil {
			r.logger.Warn("offline replay stopped", "remaining", res.Remaining, "error", err)
		}
		return
	}
	if len(res.Delivered) > 0 {
		r.logger.Info("offline replay complete", "delivered", len(res.Delivered))
	}
}

func (r *Replayer) deliver(ctx context.Context, d domain.Draft) (string, error) {
	// Already written by an earlier pass; only the removal is left.
	issueID := d.DeliveredIssueID
	if issueID == "" {
		issueID = r.delivered[d.ID]
	}
	if issueID != "" {
		return issueID, r.remove(ctx, d.ID, issueID)
	}

	photo, err := Decode(d.Image)
	if err != nil {
		return "", fmt.Errorf("decode image: %w", err)
	}
	identity, err := Decode(d.IdentityImage)
	if err != nil {
		return "", fmt.Errorf("decode identity image: %w", err)
	}

	issueID, err = r.creator.Create(ctx, d.Payload, photo, identity)
	if err != nil {
		return "", err
	}
	r.delivered[d.ID] = issueID
	if err := r.queue.MarkDelivered(ctx, d.ID, issueID); err != nil {
		r.logger.Warn("could not mark draft delivered", "draft_id", d.ID, "issue_id", issueID, "error", err)
	}
	return issueID, r.remove(ctx, d.ID, issueID)
}

func (r *Replayer) remove(ctx context.Context, draftID, issueID string) error {
	if err := r.queue.RemoveDraft(ctx, draftID); err != nil {
		return fmt.Errorf("remove delivered draft (issue %s): %w", issueID, err)
	}
	delete(r.delivered, draftID)
	return nil
}

func (r *Replayer) notify(ctx context.Context, level domain.NotificationLevel, userID, msg string) {
	if r.notifier == nil {
		return
	}
	r.notifier.Notify(ctx, domain.Notification{Level: level, UserID: userID, Message: msg})
}
