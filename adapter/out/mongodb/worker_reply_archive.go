package mongodb

import (
	"context"
	"fmt"
	"time"

	"warranty_worker/core/port/out"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const collectionReplies = "sent_replies"

// ReplyArchiveAdapter implements out.ReplyArchive using MongoDB.
type ReplyArchiveAdapter struct {
	collection *mongo.Collection
	retention  time.Duration
	now        func() time.Time
}

// NewReplyArchiveAdapter stores replies for retention. Zero keeps them forever.
func NewReplyArchiveAdapter(db *mongo.Database, retention time.Duration) *ReplyArchiveAdapter {
	return &ReplyArchiveAdapter{
		collection: db.Collection(collectionReplies),
		retention:  retention,
		now:        time.Now,
	}
}

// EnsureIndexes creates necessary indexes for the collection.
func (a *ReplyArchiveAdapter) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "in_reply_to", Value: 1}}},
		{Keys: bson.D{{Key: "thread_id", Value: 1}}},
		{Keys: bson.D{{Key: "sent_at", Value: -1}}},
	}
	if a.retention > 0 {
		indexes = append(indexes, mongo.IndexModel{
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0), // TTL index
		})
	}

	_, err := a.collection.Indexes().CreateMany(ctx, indexes)
	return err
}

// replyDocument represents the MongoDB document structure.
type replyDocument struct {
	out.ArchivedReply `bson:",inline"`
	ArchivedAt        time.Time  `bson:"archived_at"`
	ExpiresAt         *time.Time `bson:"expires_at,omitempty"`
}

func (a *ReplyArchiveAdapter) document(entry out.ArchivedReply) replyDocument {
	now := a.now().UTC()
	doc := replyDocument{ArchivedReply: entry, ArchivedAt: now}
	if doc.SentAt.IsZero() {
		doc.SentAt = now
	}
	if a.retention > 0 {
		exp := now.Add(a.retention)
		doc.ExpiresAt = &exp
	}
	return doc
}

// Archive inserts one reply.
func (a *ReplyArchiveAdapter) Archive(ctx context.Context, entry out.ArchivedReply) error {
	if _, err := a.collection.InsertOne(ctx, a.document(entry)); err != nil {
		return fmt.Errorf("archive reply to %s: %w", entry.To, err)
	}
	return nil
}

// ByThread returns archived replies of a thread, newest first.
func (a *ReplyArchiveAdapter) ByThread(ctx context.Context, threadID string, limit int64) ([]out.ArchivedReply, error) {
	opts := options.Find().SetSort(bson.D{{Key: "sent_at", Value: -1}}).SetLimit(limit)
	cursor, err := a.collection.Find(ctx, bson.M{"thread_id": threadID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []replyDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	replies := make([]out.ArchivedReply, 0, len(docs))
	for _, d := range docs {
		replies = append(replies, d.ArchivedReply)
	}
	return replies, nil
}

var _ out.ReplyArchive = (*ReplyArchiveAdapter)(nil)
