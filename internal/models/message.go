package models

import (
	"errors"
	"fmt"
	"time"
)

type MessageStatus string

const (
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
)

const (
	MaxContentLength   = 5000
	DeletedPlaceholder = "[Message deleted]"
)

func (s MessageStatus) Valid() bool {
	switch s {
	case StatusSent, StatusDelivered, StatusRead:
		return true
	}
	return false
}

type Message struct {
	ID             string        `json:"message_id"`
	ConversationID string        `json:"conversation_id"`
	SenderID       string        `json:"sender_id"`
	ReceiverID     string        `json:"receiver_id"`
	ItemID         *string       `json:"item_id,omitempty"`
	Content        string        `json:"content"`
	Status         MessageStatus `json:"status"`
	CreatedAt      time.Time     `json:"created_at"`
	ReadAt         *time.Time    `json:"read_at,omitempty"`
	IsDeleted      bool          `json:"is_deleted"`
	DeletedAt      *time.Time    `json:"deleted_at,omitempty"`
}

// Validate checks the fields every stored message must carry.
func (m *Message) Validate() error {
	switch {
	case m.ID == "":
		return errors.New("message_id is required")
	case m.ConversationID == "":
		return errors.New("conversation_id is required")
	case m.SenderID == "" || m.ReceiverID == "":
		return errors.New("sender_id and receiver_id are required")
	case m.SenderID == m.ReceiverID:
		return errors.New("sender_id and receiver_id must differ")
	case !m.Status.Valid():
		return fmt.Errorf("unknown status %q", m.Status)
	case m.CreatedAt.IsZero():
		return errors.New("created_at is required")
	case m.Status == StatusRead && m.ReadAt == nil:
		return errors.New("read message without read_at")
	case m.IsDeleted && m.DeletedAt == nil:
		return errors.New("deleted message without deleted_at")
	}
	return nil
}

func (m *Message) IsParticipant(userID string) bool {
	return userID != "" && (m.SenderID == userID || m.ReceiverID == userID)
}

// ViewFor returns the copy of m that userID is allowed to see. Deleted
// content stays visible to its sender only.
func (m *Message) ViewFor(userID string) *Message {
	view := *m
	if m.IsDeleted && userID != m.SenderID {
		view.Content = DeletedPlaceholder
	}
	return &view
}

func (m *Message) Cursor() Cursor {
	return Cursor{CreatedAt: m.CreatedAt, MessageID: m.ID}
}

// Newer reports whether a sorts ahead of b in conversation order:
// created_at descending, message id descending.
func Newer(a, b *Message) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}

type SendMessageRequest struct {
	ReceiverID string  `json:"receiver_id"`
	Content    string  `json:"content"`
	ItemID     *string `json:"item_id,omitempty"`
}

type MessagePage struct {
	Messages   []*Message `json:"messages"`
	Total      int        `json:"total"`
	HasMore    bool       `json:"has_more"`
	NextCursor string     `json:"next_cursor,omitempty"`
}
