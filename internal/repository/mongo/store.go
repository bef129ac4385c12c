// Package mongo stores messages and conversations in MongoDB.
package mongo

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const (
	messagesCollection      = "messages"
	conversationsCollection = "conversations"
)

type Store struct {
	db      *mongo.Database
	timeout time.Duration
	logger  *zerolog.Logger
}

func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}
	return client, nil
}

func NewStore(db *mongo.Database, timeout time.Duration, logger *zerolog.Logger) *Store {
	return &Store{db: db, timeout: timeout, logger: logger}
}

func (s *Store) Messages() *MessageRepository {
	return &MessageRepository{store: s}
}

func (s *Store) Conversations() *ConversationRepository {
	return &ConversationRepository{store: s}
}

func (s *Store) messages() *mongo.Collection      { return s.db.Collection(messagesCollection) }
func (s *Store) conversations() *mongo.Collection { return s.db.Collection(conversationsCollection) }

// bound limits a single store call to the configured timeout.
func (s *Store) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

// EnsureIndexes creates the indexes the repositories rely on, including the
// unique conversation key that serializes concurrent first sends.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	indexes := map[string][]mongo.IndexModel{
		messagesCollection: {
			{Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}},
			{Keys: bson.D{{Key: "receiver_id", Value: 1}, {Key: "status", Value: 1}}},
			{Keys: bson.D{{Key: "sender_id", Value: 1}, {Key: "created_at", Value: -1}}},
			{Keys: bson.D{{Key: "receiver_id", Value: 1}, {Key: "created_at", Value: -1}}},
		},
		conversationsCollection: {
			{
				Keys: bson.D{
					{Key: "participant_low", Value: 1},
					{Key: "participant_high", Value: 1},
					{Key: "item_scope", Value: 1},
				},
				Options: options.Index().SetUnique(true).SetName("uq_conversation_key"),
			},
			{Keys: bson.D{{Key: "participant_ids", Value: 1}, {Key: "last_message_at", Value: -1}}},
			{Keys: bson.D{{Key: "item_scope", Value: 1}}},
		},
	}

	for name, idx := range indexes {
		if _, err := s.db.Collection(name).Indexes().CreateMany(ctx, idx); err != nil {
			return fmt.Errorf("failed to create indexes for %s: %w", name, err)
		}
	}
	s.logger.Info().Msg("MongoDB indexes ensured")
	return nil
}
