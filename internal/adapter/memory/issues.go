// Package memory provides in-process implementations of the stores, used
// for local development and tests.
package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/couchcryptid/civicfix-service/internal/domain"
)

// IssueStore implements domain.IssueRepository in memory.
type IssueStore struct {
	mu      sync.RWMutex
	issues  map[string]domain.IssueRecord
	order   []string // insertion order
	changed chan struct{}
}

// NewIssueStore creates an empty store.
func NewIssueStore() *IssueStore {
	return &IssueStore{
		issues:  make(map[string]domain.IssueRecord),
		changed: make(chan struct{}),
	}
}

func (s *IssueStore) CreateIssue(_ context.Context, r domain.IssueRecord) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r.ID = uuid.NewString()
	if r.UpvotedBy == nil {
		r.UpvotedBy = []string{}
	}
	s.issues[r.ID] = cloneRecord(r)
	s.order = append(s.order, r.ID)
	s.notifyLocked()
	return r.ID, nil
}

func (s *IssueStore) GetIssue(_ context.Context, id string) (domain.IssueRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.issues[id]
	if !ok {
		return domain.IssueRecord{}, domain.ErrNotFound
	}
	return cloneRecord(r), nil
}

func (s *IssueStore) QueryIssues(_ context.Context, q domain.IssueQuery) ([]domain.IssueRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.IssueRecord, 0)
	for _, id := range s.order {
		r := s.issues[id]
		if matches(r, q) {
			out = append(out, cloneRecord(r))
		}
	}

	// Newest first; stable so equal timestamps keep the newer insert first.
	slices.Reverse(out)
	slices.SortStableFunc(out, func(a, b domain.IssueRecord) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})

	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *IssueStore) ApplyStatusChange(_ context.Context, id string, c domain.StatusChange) (domain.IssueRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.issues[id]
	if !ok {
		return domain.IssueRecord{}, domain.ErrNotFound
	}
	r = c.Apply(r)
	s.issues[id] = r
	s.notifyLocked()
	return cloneRecord(r), nil
}

func (s *IssueStore) ToggleUpvote(_ context.Context, id, userID string) (domain.UpvoteResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.issues[id]
	if !ok {
		return domain.UpvoteResult{}, domain.ErrNotFound
	}

	var res domain.UpvoteResult
	if i := slices.Index(r.UpvotedBy, userID); i >= 0 {
		r.UpvotedBy = slices.Delete(slices.Clone(r.UpvotedBy), i, i+1)
		r.Upvotes = max(r.Upvotes-1, 0)
	} else {
		r.UpvotedBy = append(slices.Clone(r.UpvotedBy), userID)
		r.Upvotes++
		res.Upvoted = true
	}
	res.Upvotes = r.Upvotes
	s.issues[id] = r
	s.notifyLocked()
	return res, nil
}

// SubscribeIssues delivers the query result now and after every write.
func (s *IssueStore) SubscribeIssues(ctx context.Context, q domain.IssueQuery, fn func([]domain.IssueRecord)) error {
	for {
		s.mu.RLock()
		changed := s.changed
		s.mu.RUnlock()

		records, err := s.QueryIssues(ctx, q)
		if err != nil {
			return err
		}
		fn(records)

		select {
		case <-ctx.Done():
			return nil
		case <-changed:
		}
	}
}

func (s *IssueStore) Ping(context.Context) error { return nil }

// notifyLocked wakes subscribers. Callers hold s.mu.
func (s *IssueStore) notifyLocked() {
	close(s.changed)
	s.changed = make(chan struct{})
}

func matches(r domain.IssueRecord, q domain.IssueQuery) bool {
	if q.Category != "" && r.Category != q.Category {
		return false
	}
	if q.UserID != "" && r.UserID != q.UserID {
		return false
	}
	if !q.CreatedFrom.IsZero() && r.CreatedAt.Before(q.CreatedFrom) {
		return false
	}
	if len(q.Statuses) > 0 && !slices.Contains(q.Statuses, r.Status) {
		return false
	}
	return true
}

func cloneRecord(r domain.IssueRecord) domain.IssueRecord {
	r.UpvotedBy = slices.Clone(r.UpvotedBy)
	r.StatusHistory = slices.Clone(r.StatusHistory)
	return r
}
