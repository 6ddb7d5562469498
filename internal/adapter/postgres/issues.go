// Package postgres implements the record store on PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/couchcryptid/civicfix-service/internal/domain"
)

const changeChannel = "issues_changed"

const issueColumns = `id, title, description, category, status, user_id, phone_verified,
	aadhar_number, aadhar_image_url, location_text, full_address, street, locality,
	city, state, pincode, country, landmark, lat, lng, department, created_at,
	updated_at, staff_id, upvotes, upvoted_by, status_history, before_image_url,
	after_image_url`

// IssueStore implements domain.IssueRepository on a pgx pool.
type IssueStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// Open connects to url and applies pending migrations.
func Open(ctx context.Context, url string, logger *slog.Logger) (*IssueStore, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s := &IssueStore{pool: pool, logger: logger}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate postgres: %w", err)
	}
	return s, nil
}

func (s *IssueStore) Close() { s.pool.Close() }

func (s *IssueStore) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *IssueStore) CreateIssue(ctx context.Context, r domain.IssueRecord) (string, error) {
	id := uuid.NewString()
	upvotedBy := r.UpvotedBy
	if upvotedBy == nil {
		upvotedBy = []string{}
	}
	history := r.StatusHistory
	if history == nil {
		history = []domain.HistoryEntry{}
	}

	_, err := s.pool.Exec(ctx, `INSERT INTO issues (`+issueColumns+`) VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17,
		$18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29)`,
		id, r.Title, r.Description, r.Category, string(r.Status), r.UserID, r.PhoneVerified,
		r.AadhaarNumber, r.AadhaarImage, r.LocationText, r.FullAddress, r.Street, r.Locality,
		r.City, r.State, r.Pincode, r.Country, r.Landmark, r.Lat, r.Lng, r.Department, r.CreatedAt,
		r.UpdatedAt, r.StaffID, r.Upvotes, upvotedBy, history, r.BeforeImageURL,
		r.AfterImageURL,
	)
	if err != nil {
		return "", fmt.Errorf("insert issue: %w", err)
	}
	return id, nil
}

func (s *IssueStore) GetIssue(ctx context.Context, id string) (domain.IssueRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+issueColumns+` FROM issues WHERE id = $1`, id)
	r, err := scanIssue(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.IssueRecord{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.IssueRecord{}, fmt.Errorf("get issue: %w", err)
	}
	return r, nil
}

func (s *IssueStore) QueryIssues(ctx context.Context, q domain.IssueQuery) ([]domain.IssueRecord, error) {
	sql, args := buildQuery(q)
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query issues: %w", err)
	}
	defer rows.Close()

	out := make([]domain.IssueRecord, 0)
	for rows.Next() {
		r, err := scanIssue(rows)
		if err != nil {
			return nil, fmt.Errorf("scan issue: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query issues: %w", err)
	}
	return out, nil
}

func (s *IssueStore) ApplyStatusChange(ctx context.Context, id string, c domain.StatusChange) (domain.IssueRecord, error) {
	history := c.History
	if history == nil {
		history = []domain.HistoryEntry{}
	}
	row := s.pool.QueryRow(ctx, `UPDATE issues SET
			status = $2,
			staff_id = $3,
			updated_at = $4,
			after_image_url = CASE WHEN $5::text = '' THEN after_image_url ELSE $5::text END,
			status_history = status_history || $6::jsonb
		WHERE id = $1
		RETURNING `+issueColumns,
		id, string(c.Status), c.StaffID, c.UpdatedAt, c.AfterImageURL, history)
	r, err := scanIssue(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.IssueRecord{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.IssueRecord{}, fmt.Errorf("update issue status: %w", err)
	}
	return r, nil
}

// ToggleUpvote flips userID's vote in a single statement.
func (s *IssueStore) ToggleUpvote(ctx context.Context, id, userID string) (domain.UpvoteResult, error) {
	var res domain.UpvoteResult
	err := s.pool.QueryRow(ctx, `UPDATE issues SET
			upvotes = CASE WHEN $2::text = ANY(upvoted_by) THEN GREATEST(upvotes - 1, 0) ELSE upvotes + 1 END,
			upvoted_by = CASE WHEN $2::text = ANY(upvoted_by)
				THEN array_remove(upvoted_by, $2::text)
				ELSE array_append(upvoted_by, $2::text) END
		WHERE id = $1
		RETURNING upvotes, $2::text = ANY(upvoted_by)`, id, userID).Scan(&res.Upvotes, &res.Upvoted)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.UpvoteResult{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.UpvoteResult{}, fmt.Errorf("toggle upvote: %w", err)
	}
	return res, nil
}

// SubscribeIssues holds one pooled connection on LISTEN and re-runs q after
// each notification.
func (s *IssueStore) SubscribeIssues(ctx context.Context, q domain.IssueQuery, fn func([]domain.IssueRecord)) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire listen connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+changeChannel); err != nil {
		return fmt.Errorf("listen %s: %w", changeChannel, err)
	}

	for {
		records, err := s.QueryIssues(ctx, q)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		fn(records)

		if _, err := conn.Conn().WaitForNotification(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("wait for %s: %w", changeChannel, err)
		}
	}
}

// buildQuery renders q as a parameterised SELECT.
func buildQuery(q domain.IssueQuery) (string, []any) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if q.Category != "" {
		add("category = $%d", q.Category)
	}
	if q.UserID != "" {
		add("user_id = $%d", q.UserID)
	}
	if !q.CreatedFrom.IsZero() {
		add("created_at >= $%d", q.CreatedFrom)
	}
	if len(q.Statuses) > 0 {
		statuses := make([]string, 0, len(q.Statuses))
		for _, st := range q.Statuses {
			statuses = append(statuses, string(st))
		}
		add("status = ANY($%d)", statuses)
	}

	var b strings.Builder
	b.WriteString("SELECT " + issueColumns + " FROM issues")
	if len(where) > 0 {
		b.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY created_at DESC, id DESC")
	if q.Limit > 0 {
		args = append(args, q.Limit)
		fmt.Fprintf(&b, " LIMIT $%d", len(args))
	}
	return b.String(), args
}

func scanIssue(row pgx.Row) (domain.IssueRecord, error) {
	var (
		r      domain.IssueRecord
		status string
	)
	err := row.Scan(
		&r.ID, &r.Title, &r.Description, &r.Category, &status, &r.UserID, &r.PhoneVerified,
		&r.AadhaarNumber, &r.AadhaarImage, &r.LocationText, &r.FullAddress, &r.Street, &r.Locality,
		&r.City, &r.State, &r.Pincode, &r.Country, &r.Landmark, &r.Lat, &r.Lng, &r.Department, &r.CreatedAt,
		&r.UpdatedAt, &r.StaffID, &r.Upvotes, &r.UpvotedBy, &r.StatusHistory, &r.BeforeImageURL,
		&r.AfterImageURL,
	)
	if err != nil {
		return domain.IssueRecord{}, err
	}
	r.Status = domain.Status(status)
	r.CreatedAt = r.CreatedAt.UTC()
	r.UpdatedAt = r.UpdatedAt.UTC()
	if r.UpvotedBy == nil {
		r.UpvotedBy = []string{}
	}
	return r, nil
}
