// Package repository defines the persistence contract for messages and
// conversations. Adapters live in the mongo, mysql and memory subpackages.
//
// Getters return (nil, nil) when the record does not exist. Every counter
// mutation is a single atomic statement in the backing store.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lostfound/internal/models"
)

var (
	// ErrDuplicateConversation is returned by Create when a conversation
	// with the same key already exists.
	ErrDuplicateConversation = errors.New("conversation already exists")

	// ErrMalformedRecord wraps validation failures of stored records.
	ErrMalformedRecord = errors.New("malformed record")
)

type MessageRepository interface {
	Create(ctx context.Context, msg *models.Message) error
	GetByID(ctx context.Context, id string) (*models.Message, error)
	// ListByConversation returns up to limit messages newest first,
	// restricted to those after the cursor when one is given.
	ListByConversation(ctx context.Context, conversationID string, before *models.Cursor, limit int) ([]*models.Message, error)
	LastInConversation(ctx context.Context, conversationID string) (*models.Message, error)
	ListUndelivered(ctx context.Context, receiverID string, limit int) ([]*models.Message, error)
	// MarkRead moves one message to read unless it already is. The bool
	// reports whether this call made the transition.
	MarkRead(ctx context.Context, id string, at time.Time) (bool, error)
	MarkConversationRead(ctx context.Context, conversationID, receiverID string, at time.Time) (int64, error)
	MarkDelivered(ctx context.Context, receiverID string, ids []string) (int64, error)
	SoftDelete(ctx context.Context, id string, at time.Time) error
	Search(ctx context.Context, userID, query string, limit int) ([]*models.Message, error)
	// CountUnread counts non-deleted messages addressed to receiverID that
	// are not read. An empty conversationID counts across conversations.
	CountUnread(ctx context.Context, receiverID, conversationID string) (int64, error)
}

type ConversationRepository interface {
	Create(ctx context.Context, conv *models.Conversation) error
	GetByID(ctx context.Context, id string) (*models.Conversation, error)
	GetByKey(ctx context.Context, key models.ConversationKey) (*models.Conversation, error)
	ListByUser(ctx context.Context, userID string, includeArchived bool, limit int) ([]*models.Conversation, error)
	// RecordMessage sets the preview fields and increments the unread
	// counter of receiverID by one.
	RecordMessage(ctx context.Context, id, receiverID, content string, at time.Time) error
	// DecrementUnread lowers the counter of userID by one, never below zero.
	DecrementUnread(ctx context.Context, id, userID string) error
	ResetUnread(ctx context.Context, id, userID string) error
	SumUnread(ctx context.Context, userID string) (int64, error)
	// ReconcileUnread sets the counter of userID to n only while it still
	// holds expected, and reports whether it changed.
	ReconcileUnread(ctx context.Context, id, userID string, expected, n int64) (bool, error)
	SetArchived(ctx context.Context, id string, archived bool) error
}

// Malformed wraps a record validation error with ErrMalformedRecord.
func Malformed(kind, id string, err error) error {
	return fmt.Errorf("%w: %s %s: %v", ErrMalformedRecord, kind, id, err)
}

