package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/couchcryptid/civicfix-service/internal/domain"
)

const (
	issuesCollection = "issues"
	pollInterval     = 2 * time.Second
)

// IssueStore implements domain.IssueRepository on a MongoDB collection.
type IssueStore struct {
	client *mongo.Client
	coll   *mongo.Collection
	logger *slog.Logger
}

// NewIssueStore uses the issues collection of db.
func NewIssueStore(db *mongo.Database, logger *slog.Logger) *IssueStore {
	return &IssueStore{
		client: db.Client(),
		coll:   db.Collection(issuesCollection),
		logger: logger,
	}
}

// EnsureIndexes creates the indexes the duplicate and listing queries use.
func (s *IssueStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "category", Value: 1}, {Key: "createdAt", Value: -1}}},
		{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "createdAt", Value: -1}}},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "createdAt", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("create issue indexes: %w", err)
	}
	return nil
}

func (s *IssueStore) CreateIssue(ctx context.Context, r domain.IssueRecord) (string, error) {
	doc := toDoc(r)
	doc.ID = primitive.NewObjectID()
	if _, err := s.coll.InsertOne(ctx, doc); err != nil {
		return "", fmt.Errorf("insert issue: %w", err)
	}
	return doc.ID.Hex(), nil
}

func (s *IssueStore) GetIssue(ctx context.Context, id string) (domain.IssueRecord, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return domain.IssueRecord{}, domain.ErrNotFound
	}
	var doc issueDoc
	err = s.coll.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.IssueRecord{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.IssueRecord{}, fmt.Errorf("find issue: %w", err)
	}
	return doc.record(), nil
}

func (s *IssueStore) QueryIssues(ctx context.Context, q domain.IssueQuery) ([]domain.IssueRecord, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}})
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}

	cursor, err := s.coll.Find(ctx, queryFilter(q), opts)
	if err != nil {
		return nil, fmt.Errorf("query issues: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []issueDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode issues: %w", err)
	}
	out := make([]domain.IssueRecord, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.record())
	}
	return out, nil
}

func (s *IssueStore) ApplyStatusChange(ctx context.Context, id string, c domain.StatusChange) (domain.IssueRecord, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return domain.IssueRecord{}, domain.ErrNotFound
	}

	set := bson.M{
		"status":    string(c.Status),
		"staffId":   c.StaffID,
		"updatedAt": c.UpdatedAt,
	}
	if c.AfterImageURL != "" {
		set["afterImageUrl"] = c.AfterImageURL
	}
	update := bson.M{"$set": set}
	if len(c.History) > 0 {
		update["$push"] = bson.M{"statusHistory": bson.M{"$each": toHistoryDocs(c.History)}}
	}

	var doc issueDoc
	err = s.coll.FindOneAndUpdate(ctx, bson.M{"_id": oid}, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.IssueRecord{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.IssueRecord{}, fmt.Errorf("update issue status: %w", err)
	}
	return doc.record(), nil
}

// ToggleUpvote flips userID's vote in one pipeline update so concurrent
// toggles cannot lose a vote or drive the count negative.
func (s *IssueStore) ToggleUpvote(ctx context.Context, id, userID string) (domain.UpvoteResult, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return domain.UpvoteResult{}, domain.ErrNotFound
	}

	voters := bson.D{{Key: "$ifNull", Value: bson.A{"$upvotedBy", bson.A{}}}}
	count := bson.D{{Key: "$ifNull", Value: bson.A{"$upvotes", 0}}}
	has := bson.D{{Key: "$in", Value: bson.A{userID, voters}}}
	update := mongo.Pipeline{{{Key: "$set", Value: bson.D{
		{Key: "upvotes", Value: bson.D{{Key: "$cond", Value: bson.A{
			has,
			bson.D{{Key: "$max", Value: bson.A{0, bson.D{{Key: "$subtract", Value: bson.A{count, 1}}}}}},
			bson.D{{Key: "$add", Value: bson.A{count, 1}}},
		}}}},
		{Key: "upvotedBy", Value: bson.D{{Key: "$cond", Value: bson.A{
			has,
			bson.D{{Key: "$filter", Value: bson.D{
				{Key: "input", Value: voters},
				{Key: "cond", Value: bson.D{{Key: "$ne", Value: bson.A{"$$this", userID}}}},
			}}},
			bson.D{{Key: "$concatArrays", Value: bson.A{voters, bson.A{userID}}}},
		}}}},
	}}}}

	var doc issueDoc
	err = s.coll.FindOneAndUpdate(ctx, bson.M{"_id": oid}, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.UpvoteResult{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.UpvoteResult{}, fmt.Errorf("toggle upvote: %w", err)
	}

	res := domain.UpvoteResult{Upvotes: doc.Upvotes}
	for _, v := range doc.UpvotedBy {
		if v == userID {
			res.Upvoted = true
			break
		}
	}
	return res, nil
}

// SubscribeIssues re-runs q on every change stream event. Standalone servers
// have no change streams, so it falls back to polling.
func (s *IssueStore) SubscribeIssues(ctx context.Context, q domain.IssueQuery, fn func([]domain.IssueRecord)) error {
	records, err := s.QueryIssues(ctx, q)
	if err != nil {
		return err
	}
	fn(records)

	stream, err := s.coll.Watch(ctx, mongo.Pipeline{})
	if err != nil {
		s.logger.Warn("change stream unavailable, polling issues", "error", err, "interval", pollInterval)
		return s.poll(ctx, q, fn)
	}
	defer stream.Close(context.Background())

	for stream.Next(ctx) {
		records, err := s.QueryIssues(ctx, q)
		if err != nil {
			return err
		}
		fn(records)
	}
	if ctx.Err() != nil {
		return nil
	}
	return fmt.Errorf("issue change stream: %w", stream.Err())
}

func (s *IssueStore) poll(ctx context.Context, q domain.IssueQuery, fn func([]domain.IssueRecord)) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			records, err := s.QueryIssues(ctx, q)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
			fn(records)
		}
	}
}

func (s *IssueStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

func queryFilter(q domain.IssueQuery) bson.M {
	filter := bson.M{}
	if q.Category != "" {
		filter["category"] = q.Category
	}
	if q.UserID != "" {
		filter["userId"] = q.UserID
	}
	if !q.CreatedFrom.IsZero() {
		filter["createdAt"] = bson.M{"$gte": q.CreatedFrom}
	}
	if len(q.Statuses) > 0 {
		statuses := make(bson.A, 0, len(q.Statuses))
		for _, st := range q.Statuses {
			statuses = append(statuses, string(st))
		}
		filter["status"] = bson.M{"$in": statuses}
	}
	return filter
}
