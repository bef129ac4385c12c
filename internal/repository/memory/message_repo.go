package memory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

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

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if _, exists := r.store.messages[msg.ID]; exists {
		return errors.New("message id already exists")
	}
	r.store.messages[msg.ID] = cloneMessage(msg)
	return nil
}

func (r *MessageRepository) GetByID(ctx context.Context, id string) (*models.Message, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	m, ok := r.store.messages[id]
	if !ok {
		return nil, nil
	}
	return cloneMessage(m), nil
}

// collect returns copies of matching messages, newest first.
func (r *MessageRepository) collect(match func(m *models.Message) bool) []*models.Message {
	var out []*models.Message
	for _, m := range r.store.messages {
		if match(m) {
			out = append(out, cloneMessage(m))
		}
	}
	sort.Slice(out, func(i, j int) bool { return models.Newer(out[i], out[j]) })
	return out
}

func limitMessages(msgs []*models.Message, limit int) []*models.Message {
	if limit > 0 && len(msgs) > limit {
		return msgs[:limit]
	}
	return msgs
}

func (r *MessageRepository) ListByConversation(ctx context.Context, conversationID string, before *models.Cursor, limit int) ([]*models.Message, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	msgs := r.collect(func(m *models.Message) bool {
		return m.ConversationID == conversationID && (before == nil || before.Admits(m))
	})
	return limitMessages(msgs, limit), nil
}

func (r *MessageRepository) LastInConversation(ctx context.Context, conversationID string) (*models.Message, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	msgs := r.collect(func(m *models.Message) bool {
		return m.ConversationID == conversationID && !m.IsDeleted
	})
	if len(msgs) == 0 {
		return nil, nil
	}
	return msgs[0], nil
}

func (r *MessageRepository) ListUndelivered(ctx context.Context, receiverID string, limit int) ([]*models.Message, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	msgs := r.collect(func(m *models.Message) bool {
		return m.ReceiverID == receiverID && m.Status == models.StatusSent && !m.IsDeleted
	})
	// oldest first
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return limitMessages(msgs, limit), nil
}

func (r *MessageRepository) MarkRead(ctx context.Context, id string, at time.Time) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	m, ok := r.store.messages[id]
	if !ok || m.Status == models.StatusRead {
		return false, nil
	}
	m.Status = models.StatusRead
	readAt := at
	m.ReadAt = &readAt
	return true, nil
}

func (r *MessageRepository) MarkConversationRead(ctx context.Context, conversationID, receiverID string, at time.Time) (int64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	var n int64
	for _, m := range r.store.messages {
		if m.ConversationID != conversationID || m.ReceiverID != receiverID {
			continue
		}
		if m.IsDeleted || m.Status == models.StatusRead {
			continue
		}
		m.Status = models.StatusRead
		readAt := at
		m.ReadAt = &readAt
		n++
	}
	return n, nil
}

func (r *MessageRepository) MarkDelivered(ctx context.Context, receiverID string, ids []string) (int64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	var n int64
	for _, id := range ids {
		m, ok := r.store.messages[id]
		if ok && m.ReceiverID == receiverID && m.Status == models.StatusSent {
			m.Status = models.StatusDelivered
			n++
		}
	}
	return n, nil
}

func (r *MessageRepository) SoftDelete(ctx context.Context, id string, at time.Time) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	m, ok := r.store.messages[id]
	if !ok || m.IsDeleted {
		return nil
	}
	m.IsDeleted = true
	deletedAt := at
	m.DeletedAt = &deletedAt
	return nil
}

func (r *MessageRepository) Search(ctx context.Context, userID, query string, limit int) ([]*models.Message, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	needle := strings.ToLower(query)
	msgs := r.collect(func(m *models.Message) bool {
		return m.IsParticipant(userID) && !m.IsDeleted &&
			strings.Contains(strings.ToLower(m.Content), needle)
	})
	return limitMessages(msgs, limit), nil
}

func (r *MessageRepository) CountUnread(ctx context.Context, receiverID, conversationID string) (int64, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var n int64
	for _, m := range r.store.messages {
		if m.ReceiverID != receiverID || m.IsDeleted || m.Status == models.StatusRead {
			continue
		}
		if conversationID != "" && m.ConversationID != conversationID {
			continue
		}
		n++
	}
	return n, nil
}
