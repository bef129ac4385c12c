package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

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

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	key := conv.Key()
	if _, exists := r.store.byKey[key]; exists {
		return repository.ErrDuplicateConversation
	}
	if _, exists := r.store.conversations[conv.ID]; exists {
		return repository.ErrDuplicateConversation
	}
	r.store.conversations[conv.ID] = cloneConversation(conv)
	r.store.byKey[key] = conv.ID
	return nil
}

func (r *ConversationRepository) GetByID(ctx context.Context, id string) (*models.Conversation, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	conv, ok := r.store.conversations[id]
	if !ok {
		return nil, nil
	}
	return cloneConversation(conv), nil
}

func (r *ConversationRepository) GetByKey(ctx context.Context, key models.ConversationKey) (*models.Conversation, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	id, ok := r.store.byKey[key]
	if !ok {
		return nil, nil
	}
	return cloneConversation(r.store.conversations[id]), nil
}

func (r *ConversationRepository) ListByUser(ctx context.Context, userID string, includeArchived bool, limit int) ([]*models.Conversation, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var out []*models.Conversation
	for _, conv := range r.store.conversations {
		if !conv.HasParticipant(userID) || (conv.IsArchived && !includeArchived) {
			continue
		}
		out = append(out, cloneConversation(conv))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastMessageAt.Equal(out[j].LastMessageAt) {
			return out[i].LastMessageAt.After(out[j].LastMessageAt)
		}
		return out[i].ID > out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// participant returns the stored conversation and fails unless userID
// takes part in it. Callers hold the write lock.
func (r *ConversationRepository) participant(id, userID string) (*models.Conversation, error) {
	conv, ok := r.store.conversations[id]
	if !ok {
		return nil, fmt.Errorf("conversation %s not found", id)
	}
	if !conv.HasParticipant(userID) {
		return nil, fmt.Errorf("user %s is not a participant of %s", userID, id)
	}
	return conv, nil
}

func (r *ConversationRepository) RecordMessage(ctx context.Context, id, receiverID, content string, at time.Time) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	conv, err := r.participant(id, receiverID)
	if err != nil {
		return err
	}
	conv.LastMessageAt = at
	preview := content
	conv.LastMessageContent = &preview
	conv.UnreadCount[receiverID]++
	return nil
}

func (r *ConversationRepository) DecrementUnread(ctx context.Context, id, userID string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	conv, err := r.participant(id, userID)
	if err != nil {
		return err
	}
	if conv.UnreadCount[userID] > 0 {
		conv.UnreadCount[userID]--
	}
	return nil
}

func (r *ConversationRepository) ResetUnread(ctx context.Context, id, userID string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	conv, err := r.participant(id, userID)
	if err != nil {
		return err
	}
	conv.UnreadCount[userID] = 0
	return nil
}

func (r *ConversationRepository) SumUnread(ctx context.Context, userID string) (int64, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var total int64
	for _, conv := range r.store.conversations {
		if conv.HasParticipant(userID) {
			total += conv.UnreadCount[userID]
		}
	}
	return total, nil
}

func (r *ConversationRepository) ReconcileUnread(ctx context.Context, id, userID string, expected, n int64) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	conv, err := r.participant(id, userID)
	if err != nil {
		return false, err
	}
	if n < 0 || conv.UnreadCount[userID] != expected || expected == n {
		return false, nil
	}
	conv.UnreadCount[userID] = n
	return true, nil
}

func (r *ConversationRepository) SetArchived(ctx context.Context, id string, archived bool) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	conv, ok := r.store.conversations[id]
	if !ok {
		return fmt.Errorf("conversation %s not found", id)
	}
	conv.IsArchived = archived
	return nil
}
