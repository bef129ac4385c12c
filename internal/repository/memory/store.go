// Package memory is an in-process implementation of the repository
// contract, used with STORAGE_DRIVER=memory and by tests.
package memory

import (
	"sync"

	"github.com/lostfound/internal/models"
)

// Store holds both record types behind one lock. Records are copied on the
// way in and out so callers never share state with the store.
type Store struct {
	mu            sync.RWMutex
	messages      map[string]*models.Message
	conversations map[string]*models.Conversation
	byKey         map[models.ConversationKey]string
}

func NewStore() *Store {
	return &Store{
		messages:      make(map[string]*models.Message),
		conversations: make(map[string]*models.Conversation),
		byKey:         make(map[models.ConversationKey]string),
	}
}

func (s *Store) Messages() *MessageRepository {
	return &MessageRepository{store: s}
}

func (s *Store) Conversations() *ConversationRepository {
	return &ConversationRepository{store: s}
}

func cloneMessage(m *models.Message) *models.Message {
	c := *m
	if m.ItemID != nil {
		id := *m.ItemID
		c.ItemID = &id
	}
	if m.ReadAt != nil {
		at := *m.ReadAt
		c.ReadAt = &at
	}
	if m.DeletedAt != nil {
		at := *m.DeletedAt
		c.DeletedAt = &at
	}
	return &c
}

func cloneConversation(conv *models.Conversation) *models.Conversation {
	c := *conv
	if conv.ItemID != nil {
		id := *conv.ItemID
		c.ItemID = &id
	}
	if conv.LastMessageContent != nil {
		content := *conv.LastMessageContent
		c.LastMessageContent = &content
	}
	c.UnreadCount = make(map[string]int64, len(conv.UnreadCount))
	for k, v := range conv.UnreadCount {
		c.UnreadCount[k] = v
	}
	return &c
}
