package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/lostfound/internal/models"
	"github.com/lostfound/internal/repository"
)

type ConversationRepository struct {
	store *Store
}

var _ repository.ConversationRepository = (*ConversationRepository)(nil)

func (r *ConversationRepository) Create(ctx context.Context, conv *models.Conversation) error {
	if err := conv.Validate(); err != nil {
		return repository.Malformed("conversation", conv.ID, err)
	}
	ctx, cancel := r.store.bound(ctx)
	defer cancel()

	_, err := r.store.conversations().InsertOne(ctx, conversationToDoc(conv))
	if mongo.IsDuplicateKeyError(err) {
		return repository.ErrDuplicateConversation
	}
	if err != nil {
		r.store.logger.Error().Err(err).Str("conversation_id", conv.ID).Msg("Failed to create conversation")
		return err
	}
	return nil
}

func (r *ConversationRepository) GetByID(ctx context.Context, id string) (*models.Conversation, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

func (r *ConversationRepository) GetByKey(ctx context.Context, key models.ConversationKey) (*models.Conversation, error) {
	return r.findOne(ctx, bson.M{
		"participant_low":  key.Pair.Low(),
		"participant_high": key.Pair.High(),
		"item_scope":       key.ItemScope,
	})
}

func (r *ConversationRepository) findOne(ctx context.Context, filter bson.M) (*models.Conversation, error) {
	ctx, cancel := r.store.bound(ctx)
	defer cancel()

	var doc conversationDoc
	err := r.store.conversations().FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		r.store.logger.Error().Err(err).Interface("filter", filter).Msg("Failed to get conversation")
		return nil, err
	}
	return doc.toModel()
}

func (r *ConversationRepository) ListByUser(ctx context.Context, userID string, includeArchived bool, limit int) ([]*models.Conversation, error) {
	ctx, cancel := r.store.bound(ctx)
	defer cancel()

	filter := userConversationsFilter(userID, includeArchived)
	opts := options.Find().SetSort(recentlyActiveFirst)
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cur, err := r.store.conversations().Find(ctx, filter, opts)
	if err != nil {
		r.store.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to list conversations")
		return nil, err
	}
	var docs []conversationDoc
	if err := cur.All(ctx, &docs); err != nil {
		r.store.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to decode conversations")
		return nil, err
	}

	convs := make([]*models.Conversation, 0, len(docs))
	for _, doc := range docs {
		c, err := doc.toModel()
		if err != nil {
			return nil, err
		}
		convs = append(convs, c)
	}
	return convs, nil
}

// updateSide applies update to the side of the conversation userID sits on.
// Each attempt is one atomic UpdateOne; at most one side can match.
func (r *ConversationRepository) updateSide(ctx context.Context, id, userID string, guard func(counter string) bson.M, update func(counter string) bson.M) (bool, error) {
	ctx, cancel := r.store.bound(ctx)
	defer cancel()

	for _, s := range sides {
		var extra bson.M
		if guard != nil {
			extra = guard(s.counter)
		}
		res, err := r.store.conversations().UpdateOne(ctx, sideFilter(id, userID, s, extra), update(s.counter))
		if err != nil {
			return false, err
		}
		if res.MatchedCount == 1 {
			return true, nil
		}
	}
	return false, nil
}

func (r *ConversationRepository) RecordMessage(ctx context.Context, id, receiverID, content string, at time.Time) error {
	matched, err := r.updateSide(ctx, id, receiverID, nil, func(counter string) bson.M {
		return recordMessageUpdate(counter, content, at)
	})
	if err != nil {
		r.store.logger.Error().Err(err).Str("conversation_id", id).Msg("Failed to record message on conversation")
		return err
	}
	if !matched {
		return fmt.Errorf("conversation %s has no participant %s", id, receiverID)
	}
	return nil
}

func (r *ConversationRepository) DecrementUnread(ctx context.Context, id, userID string) error {
	_, err := r.updateSide(ctx, id, userID, positiveGuard, decrementUpdate)
	return r.logCounterErr(err, id, userID)
}

func (r *ConversationRepository) ResetUnread(ctx context.Context, id, userID string) error {
	_, err := r.updateSide(ctx, id, userID, nil, resetUpdate)
	return r.logCounterErr(err, id, userID)
}

func (r *ConversationRepository) ReconcileUnread(ctx context.Context, id, userID string, expected, n int64) (bool, error) {
	if n < 0 || expected == n {
		return false, nil
	}
	guard := func(counter string) bson.M { return equalsGuard(counter, expected) }
	update := func(counter string) bson.M { return setCounterUpdate(counter, n) }
	changed, err := r.updateSide(ctx, id, userID, guard, update)
	return changed, r.logCounterErr(err, id, userID)
}

func (r *ConversationRepository) logCounterErr(err error, id, userID string) error {
	if err != nil {
		r.store.logger.Error().Err(err).
			Str("conversation_id", id).
			Str("user_id", userID).
			Msg("Failed to update unread counter")
	}
	return err
}

func (r *ConversationRepository) SumUnread(ctx context.Context, userID string) (int64, error) {
	ctx, cancel := r.store.bound(ctx)
	defer cancel()

	cur, err := r.store.conversations().Aggregate(ctx, sumUnreadPipeline(userID))
	if err != nil {
		r.store.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to sum unread counters")
		return 0, err
	}
	var rows []struct {
		Total int64 `bson:"total"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return rows[0].Total, nil
}

func (r *ConversationRepository) SetArchived(ctx context.Context, id string, archived bool) error {
	ctx, cancel := r.store.bound(ctx)
	defer cancel()

	res, err := r.store.conversations().UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"is_archived": archived}},
	)
	if err != nil {
		r.store.logger.Error().Err(err).Str("conversation_id", id).Msg("Failed to update archive flag")
		return err
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("conversation %s not found", id)
	}
	return nil
}
