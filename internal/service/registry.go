package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lostfound/internal/models"
	"github.com/lostfound/internal/repository"
)

// ConversationRegistry resolves the single conversation for a pair of users
// and an optional item.
type ConversationRegistry interface {
	FindOrCreate(ctx context.Context, userA, userB string, itemID *string) (*models.Conversation, error)
}

type conversationRegistry struct {
	repo   repository.ConversationRepository
	logger *zerolog.Logger
	now    func() time.Time
}

func NewConversationRegistry(repo repository.ConversationRepository, logger *zerolog.Logger) ConversationRegistry {
	return &conversationRegistry{repo: repo, logger: logger, now: now}
}

func (r *conversationRegistry) FindOrCreate(ctx context.Context, userA, userB string, itemID *string) (*models.Conversation, error) {
	key, err := models.NewConversationKey(userA, userB, itemID)
	if err != nil {
		return nil, &ValidationError{Message: err.Error()}
	}

	conv, err := r.repo.GetByKey(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to look up conversation: %w", err)
	}
	if conv != nil {
		return conv, nil
	}

	conv = models.NewConversation(uuid.NewString(), key, r.now())
	err = r.repo.Create(ctx, conv)
	if err == nil {
		r.logger.Debug().
			Str("conversation_id", conv.ID).
			Str("key", key.String()).
			Msg("Conversation created")
		return conv, nil
	}
	if !errors.Is(err, repository.ErrDuplicateConversation) {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}

	// Lost the race against a concurrent first message.
	conv, err = r.repo.GetByKey(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to look up conversation: %w", err)
	}
	if conv == nil {
		return nil, fmt.Errorf("conversation %s vanished after duplicate insert", key)
	}
	return conv, nil
}

// now is the clock for every stored timestamp: UTC at millisecond precision,
// which every backend can store without rounding.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}
