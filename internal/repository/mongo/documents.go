package mongo

import (
	"time"

	"github.com/lostfound/internal/models"
	"github.com/lostfound/internal/repository"
)

type messageDoc struct {
	ID             string     `bson:"_id"`
	ConversationID string     `bson:"conversation_id"`
	SenderID       string     `bson:"sender_id"`
	ReceiverID     string     `bson:"receiver_id"`
	ItemID         *string    `bson:"item_id,omitempty"`
	Content        string     `bson:"content"`
	Status         string     `bson:"status"`
	CreatedAt      time.Time  `bson:"created_at"`
	ReadAt         *time.Time `bson:"read_at,omitempty"`
	IsDeleted      bool       `bson:"is_deleted"`
	DeletedAt      *time.Time `bson:"deleted_at,omitempty"`
}

// The pair is stored both as an array, for participant lookups, and as
// sorted scalar fields that back the unique key and the two counters.
type conversationDoc struct {
	ID                 string    `bson:"_id"`
	ParticipantIDs     []string  `bson:"participant_ids"`
	ParticipantLow     string    `bson:"participant_low"`
	ParticipantHigh    string    `bson:"participant_high"`
	ItemScope          string    `bson:"item_scope"`
	CreatedAt          time.Time `bson:"created_at"`
	LastMessageAt      time.Time `bson:"last_message_at"`
	LastMessageContent *string   `bson:"last_message_content,omitempty"`
	IsArchived         bool      `bson:"is_archived"`
	UnreadLow          int64     `bson:"unread_low"`
	UnreadHigh         int64     `bson:"unread_high"`
}

func messageToDoc(m *models.Message) messageDoc {
	return messageDoc{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		ReceiverID:     m.ReceiverID,
		ItemID:         m.ItemID,
		Content:        m.Content,
		Status:         string(m.Status),
		CreatedAt:      m.CreatedAt,
		ReadAt:         m.ReadAt,
		IsDeleted:      m.IsDeleted,
		DeletedAt:      m.DeletedAt,
	}
}

func (d messageDoc) toModel() (*models.Message, error) {
	m := &models.Message{
		ID:             d.ID,
		ConversationID: d.ConversationID,
		SenderID:       d.SenderID,
		ReceiverID:     d.ReceiverID,
		ItemID:         d.ItemID,
		Content:        d.Content,
		Status:         models.MessageStatus(d.Status),
		CreatedAt:      d.CreatedAt.UTC(),
		ReadAt:         utcPtr(d.ReadAt),
		IsDeleted:      d.IsDeleted,
		DeletedAt:      utcPtr(d.DeletedAt),
	}
	if err := m.Validate(); err != nil {
		return nil, repository.Malformed("message", d.ID, err)
	}
	return m, nil
}

func conversationToDoc(c *models.Conversation) conversationDoc {
	key := c.Key()
	return conversationDoc{
		ID:                 c.ID,
		ParticipantIDs:     c.Participants.IDs(),
		ParticipantLow:     c.Participants.Low(),
		ParticipantHigh:    c.Participants.High(),
		ItemScope:          key.ItemScope,
		CreatedAt:          c.CreatedAt,
		LastMessageAt:      c.LastMessageAt,
		LastMessageContent: c.LastMessageContent,
		IsArchived:         c.IsArchived,
		UnreadLow:          c.UnreadFor(c.Participants.Low()),
		UnreadHigh:         c.UnreadFor(c.Participants.High()),
	}
}

func (d conversationDoc) toModel() (*models.Conversation, error) {
	pair, err := models.NewPair(d.ParticipantLow, d.ParticipantHigh)
	if err != nil {
		return nil, repository.Malformed("conversation", d.ID, err)
	}
	key := models.ConversationKey{Pair: pair, ItemScope: d.ItemScope}
	c := &models.Conversation{
		ID:                 d.ID,
		Participants:       pair,
		ItemID:             key.ItemID(),
		CreatedAt:          d.CreatedAt.UTC(),
		LastMessageAt:      d.LastMessageAt.UTC(),
		LastMessageContent: d.LastMessageContent,
		IsArchived:         d.IsArchived,
		UnreadCount: map[string]int64{
			pair.Low():  d.UnreadLow,
			pair.High(): d.UnreadHigh,
		},
	}
	if err := c.Validate(); err != nil {
		return nil, repository.Malformed("conversation", d.ID, err)
	}
	return c, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
