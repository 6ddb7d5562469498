// Package offline keeps submissions made while the record store is
// unreachable and replays them once it is back.
package offline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/couchcryptid/civicfix-service/internal/domain"
	"github.com/couchcryptid/civicfix-service/internal/observability"
)

// StorageKey is the key under which the whole queue is stored.
const StorageKey = "civicfix-offline-issues"

// KV is durable local key-value storage. Get returns domain.ErrNotFound for
// a missing key.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
}

// Queue is an ordered list of drafts persisted as one JSON document.
// Operations are serialized within the process.
type Queue struct {
	kv      KV
	metrics *observability.Metrics
	mu      sync.Mutex
}

// NewQueue creates a Queue backed by kv.
func NewQueue(kv KV, metrics *observability.Metrics) *Queue {
	return &Queue{kv: kv, metrics: metrics}
}

// QueueDraft appends a draft holding payload and the optional attachments.
// It returns an *domain.OfflineQueueError if storage cannot be read or written;
// in that case nothing was saved.
func (q *Queue) QueueDraft(ctx context.Context, payload domain.IssuePayload, photo, identity *domain.Attachment) (domain.Draft, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	drafts, err := q.read(ctx)
	if err != nil {
		return domain.Draft{}, err
	}

	draft := domain.Draft{
		ID:            uuid.NewString(),
		CreatedAt:     domain.Now().UnixMilli(),
		Payload:       payload,
		Image:         inline(photo),
		IdentityImage: inline(identity),
	}
	drafts = append(drafts, draft)

	if err := q.write(ctx, drafts); err != nil {
		return domain.Draft{}, err
	}
	q.metrics.DraftsQueued.Inc()
	return draft, nil
}

// ListQueuedDrafts returns the drafts in insertion order.
func (q *Queue) ListQueuedDrafts(ctx context.Context) ([]domain.Draft, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.read(ctx)
}

// RemoveDraft deletes the draft with id. Removing an absent id is a no-op.
func (q *Queue) RemoveDraft(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	drafts, err := q.read(ctx)
	if err != nil {
		return err
	}
	kept := slices.DeleteFunc(drafts, func(d domain.Draft) bool { return d.ID == id })
	return q.write(ctx, kept)
}

// MarkDelivered records that the draft with id was written as issueID, so a
// later replay removes it instead of creating the record again.
func (q *Queue) MarkDelivered(ctx context.Context, id, issueID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	drafts, err := q.read(ctx)
	if err != nil {
		return err
	}
	i := slices.IndexFunc(drafts, func(d domain.Draft) bool { return d.ID == id })
	if i < 0 {
		return nil
	}
	drafts[i].DeliveredIssueID = issueID
	return q.write(ctx, drafts)
}

func (q *Queue) read(ctx context.Context) ([]domain.Draft, error) {
	raw, err := q.kv.Get(ctx, StorageKey)
	if errors.Is(err, domain.ErrNotFound) {
		return []domain.Draft{}, nil
	}
	if err != nil {
		return nil, &domain.OfflineQueueError{Op: "read", Err: err}
	}

	var drafts []domain.Draft
	if err := json.Unmarshal(raw, &drafts); err != nil {
		return nil, &domain.OfflineQueueError{Op: "read", Err: fmt.Errorf("decode drafts: %w", err)}
	}
	if drafts == nil {
		drafts = []domain.Draft{}
	}
	return drafts, nil
}

func (q *Queue) write(ctx context.Context, drafts []domain.Draft) error {
	raw, err := json.Marshal(drafts)
	if err != nil {
		return &domain.OfflineQueueError{Op: "write", Err: fmt.Errorf("encode drafts: %w", err)}
	}
	if err := q.kv.Set(ctx, StorageKey, raw); err != nil {
		return &domain.OfflineQueueError{Op: "write", Err: err}
	}
	q.metrics.DraftQueueDepth.Set(float64(len(drafts)))
	return nil
}
