package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/lostfound/internal/models"
	"github.com/lostfound/internal/repository"
)

type MessageRepository struct {
	store *Store
}

var _ repository.MessageRepository = (*MessageRepository)(nil)

func (r *MessageRepository) Create(ctx context.Context, msg *models.Message) error {
	if err := msg.Validate(); err != nil {
		return repository.Malformed("message", msg.ID, err)
	}
	ctx, cancel := r.store.bound(ctx)
	defer cancel()

	if _, err := r.store.messages().InsertOne(ctx, messageToDoc(msg)); err != nil {
		r.store.logger.Error().Err(err).Str("message_id", msg.ID).Msg("Failed to create message")
		return err
	}
	return nil
}

func (r *MessageRepository) GetByID(ctx context.Context, id string) (*models.Message, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

func (r *MessageRepository) findOne(ctx context.Context, filter bson.M, opts ...options.Lister[options.FindOneOptions]) (*models.Message, error) {
	ctx, cancel := r.store.bound(ctx)
	defer cancel()

	var doc messageDoc
	err := r.store.messages().FindOne(ctx, filter, opts...).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		r.store.logger.Error().Err(err).Interface("filter", filter).Msg("Failed to get message")
		return nil, err
	}
	return doc.toModel()
}

func (r *MessageRepository) find(ctx context.Context, filter bson.M, sort bson.D, limit int) ([]*models.Message, error) {
	ctx, cancel := r.store.bound(ctx)
	defer cancel()

	opts := options.Find().SetSort(sort)
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := r.store.messages().Find(ctx, filter, opts)
	if err != nil {
		r.store.logger.Error().Err(err).Msg("Failed to query messages")
		return nil, err
	}
	var docs []messageDoc
	if err := cur.All(ctx, &docs); err != nil {
		r.store.logger.Error().Err(err).Msg("Failed to decode messages")
		return nil, err
	}

	messages := make([]*models.Message, 0, len(docs))
	for _, doc := range docs {
		m, err := doc.toModel()
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, nil
}

func (r *MessageRepository) ListByConversation(ctx context.Context, conversationID string, before *models.Cursor, limit int) ([]*models.Message, error) {
	filter := pageFilter(conversationID, before)
	return r.find(ctx, filter, newestFirst, limit)
}

func (r *MessageRepository) LastInConversation(ctx context.Context, conversationID string) (*models.Message, error) {
	return r.findOne(ctx,
		bson.M{"conversation_id": conversationID, "is_deleted": false},
		options.FindOne().SetSort(newestFirst),
	)
}

func (r *MessageRepository) ListUndelivered(ctx context.Context, receiverID string, limit int) ([]*models.Message, error) {
	filter := bson.M{
		"receiver_id": receiverID,
		"status":      string(models.StatusSent),
		"is_deleted":  false,
	}
	return r.find(ctx, filter, oldestFirst, limit)
}

func (r *MessageRepository) MarkRead(ctx context.Context, id string, at time.Time) (bool, error) {
	ctx, cancel := r.store.bound(ctx)
	defer cancel()

	res, err := r.store.messages().UpdateOne(ctx,
		bson.M{"_id": id, "status": bson.M{"$ne": string(models.StatusRead)}},
		bson.M{"$set": bson.M{"status": string(models.StatusRead), "read_at": at}},
	)
	if err != nil {
		r.store.logger.Error().Err(err).Str("message_id", id).Msg("Failed to mark message as read")
		return false, err
	}
	return res.ModifiedCount == 1, nil
}

func (r *MessageRepository) MarkConversationRead(ctx context.Context, conversationID, receiverID string, at time.Time) (int64, error) {
	ctx, cancel := r.store.bound(ctx)
	defer cancel()

	res, err := r.store.messages().UpdateMany(ctx,
		bson.M{
			"conversation_id": conversationID,
			"receiver_id":     receiverID,
			"status":          bson.M{"$ne": string(models.StatusRead)},
			"is_deleted":      false,
		},
		bson.M{"$set": bson.M{"status": string(models.StatusRead), "read_at": at}},
	)
	if err != nil {
		r.store.logger.Error().Err(err).
			Str("conversation_id", conversationID).
			Str("receiver_id", receiverID).
			Msg("Failed to mark conversation as read")
		return 0, err
	}
	return res.ModifiedCount, nil
}

func (r *MessageRepository) MarkDelivered(ctx context.Context, receiverID string, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	ctx, cancel := r.store.bound(ctx)
	defer cancel()

	res, err := r.store.messages().UpdateMany(ctx,
		bson.M{
			"_id":         bson.M{"$in": ids},
			"receiver_id": receiverID,
			"status":      string(models.StatusSent),
		},
		bson.M{"$set": bson.M{"status": string(models.StatusDelivered)}},
	)
	if err != nil {
		r.store.logger.Error().Err(err).Str("receiver_id", receiverID).Msg("Failed to mark messages as delivered")
		return 0, err
	}
	return res.ModifiedCount, nil
}

func (r *MessageRepository) SoftDelete(ctx context.Context, id string, at time.Time) error {
	ctx, cancel := r.store.bound(ctx)
	defer cancel()

	_, err := r.store.messages().UpdateOne(ctx,
		bson.M{"_id": id, "is_deleted": false},
		bson.M{"$set": bson.M{"is_deleted": true, "deleted_at": at}},
	)
	if err != nil {
		r.store.logger.Error().Err(err).Str("message_id", id).Msg("Failed to delete message")
	}
	return err
}

func (r *MessageRepository) Search(ctx context.Context, userID, query string, limit int) ([]*models.Message, error) {
	filter := searchFilter(userID, query)
	return r.find(ctx, filter, newestFirst, limit)
}

func (r *MessageRepository) CountUnread(ctx context.Context, receiverID, conversationID string) (int64, error) {
	ctx, cancel := r.store.bound(ctx)
	defer cancel()

	n, err := r.store.messages().CountDocuments(ctx, unreadFilter(receiverID, conversationID))
	if err != nil {
		r.store.logger.Error().Err(err).Str("receiver_id", receiverID).Msg("Failed to count unread messages")
		return 0, err
	}
	return n, nil
}
