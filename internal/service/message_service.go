package service

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lostfound/internal/cache"
	"github.com/lostfound/internal/models"
	"github.com/lostfound/internal/repository"
)

const (
	defaultMessagesLimit      = 50
	defaultConversationsLimit = 20
	defaultSearchLimit        = 50
	defaultUndeliveredLimit   = 100
	MaxPageLimit              = 100
	minSearchQueryLength      = 2
)

// Notifier receives events after they are persisted. Implementations must
// not block.
type Notifier interface {
	NotifyMessage(msg *models.Message)
	NotifyConversationRead(conversationID, readerID, otherID string, count int64)
}

type MessageService interface {
	SendMessage(ctx context.Context, senderID, receiverID, content string, itemID *string) (*models.Message, error)
	GetMessage(ctx context.Context, messageID, requesterID string) (*models.Message, error)
	GetConversationMessages(ctx context.Context, conversationID, requesterID string, limit int, before *models.Cursor) (*models.MessagePage, error)
	MarkMessageAsRead(ctx context.Context, messageID, requesterID string) (*models.Message, error)
	MarkConversationAsRead(ctx context.Context, conversationID, requesterID string) (int64, error)
	DeleteMessage(ctx context.Context, messageID, requesterID string) error
	GetUnreadCount(ctx context.Context, userID string) (int64, error)
	GetUserConversations(ctx context.Context, userID string, includeArchived bool, limit int) ([]models.ConversationSummary, error)
	ArchiveConversation(ctx context.Context, conversationID, requesterID string) (*models.Conversation, error)
	UnarchiveConversation(ctx context.Context, conversationID, requesterID string) (*models.Conversation, error)
	SearchMessages(ctx context.Context, userID, query string, limit int) ([]*models.Message, error)
	GetUndeliveredMessages(ctx context.Context, receiverID string, limit int) ([]*models.Message, error)
	MarkMessagesDelivered(ctx context.Context, receiverID string, ids []string) (int64, error)
	// SetNotifier must be called before the service handles requests.
	SetNotifier(n Notifier)
}

type Options struct {
	UnreadCacheTTL        time.Duration
	ConversationsCacheTTL time.Duration
	CacheTimeout          time.Duration
}

type messageService struct {
	messages      repository.MessageRepository
	conversations repository.ConversationRepository
	registry      ConversationRegistry
	cache         *inboxCache
	notifier      Notifier
	logger        *zerolog.Logger
	now           func() time.Time
}

func NewMessageService(
	messages repository.MessageRepository,
	conversations repository.ConversationRepository,
	registry ConversationRegistry,
	c cache.Cache,
	opts Options,
	logger *zerolog.Logger,
) MessageService {
	return &messageService{
		messages:      messages,
		conversations: conversations,
		registry:      registry,
		cache:         newInboxCache(c, opts, logger),
		logger:        logger,
		now:           now,
	}
}

func (s *messageService) SetNotifier(n Notifier) {
	s.notifier = n
}

func (s *messageService) SendMessage(ctx context.Context, senderID, receiverID, content string, itemID *string) (*models.Message, error) {
	if senderID == "" || receiverID == "" {
		return nil, invalid("sender and receiver are required")
	}
	if senderID == receiverID {
		return nil, invalid("cannot send a message to yourself")
	}

	content = strings.TrimSpace(content)
	if content == "" {
		return nil, invalid("message content cannot be empty")
	}
	if utf8.RuneCountInString(content) > models.MaxContentLength {
		return nil, invalid("message content cannot exceed %d characters", models.MaxContentLength)
	}
	if itemID != nil && strings.TrimSpace(*itemID) == "" {
		itemID = nil
	}

	conv, err := s.registry.FindOrCreate(ctx, senderID, receiverID, itemID)
	if err != nil {
		return nil, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate message id: %w", err)
	}
	msg := &models.Message{
		ID:             id.String(),
		ConversationID: conv.ID,
		SenderID:       senderID,
		ReceiverID:     receiverID,
		ItemID:         conv.ItemID,
		Content:        content,
		Status:         models.StatusSent,
		CreatedAt:      s.now(),
	}
	if err := s.messages.Create(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to save message: %w", err)
	}

	if err := s.conversations.RecordMessage(ctx, conv.ID, receiverID, content, msg.CreatedAt); err != nil {
		s.logger.Error().Err(err).
			Str("message_id", msg.ID).
			Str("conversation_id", conv.ID).
			Msg("Message stored but conversation was not updated")
		return nil, fmt.Errorf("failed to update conversation: %w", err)
	}

	s.cache.invalidate(ctx, senderID, receiverID)

	if s.notifier != nil {
		pushed := *msg
		s.notifier.NotifyMessage(&pushed)
	}

	s.logger.Debug().
		Str("message_id", msg.ID).
		Str("conversation_id", conv.ID).
		Msg("Message sent")
	return msg, nil
}

func (s *messageService) getMessage(ctx context.Context, messageID string) (*models.Message, error) {
	msg, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	if msg == nil {
		return nil, &NotFoundError{Resource: "message", ID: messageID}
	}
	return msg, nil
}

// participantConversation loads a conversation the requester takes part in.
func (s *messageService) participantConversation(ctx context.Context, conversationID, requesterID string) (*models.Conversation, error) {
	conv, err := s.conversations.GetByID(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	if conv == nil {
		return nil, &NotFoundError{Resource: "conversation", ID: conversationID}
	}
	if !conv.HasParticipant(requesterID) {
		return nil, forbidden("you are not a participant in this conversation")
	}
	return conv, nil
}

func (s *messageService) GetMessage(ctx context.Context, messageID, requesterID string) (*models.Message, error) {
	msg, err := s.getMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if !msg.IsParticipant(requesterID) {
		return nil, forbidden("you do not have access to this message")
	}
	return msg.ViewFor(requesterID), nil
}

func (s *messageService) GetConversationMessages(ctx context.Context, conversationID, requesterID string, limit int, before *models.Cursor) (*models.MessagePage, error) {
	if _, err := s.participantConversation(ctx, conversationID, requesterID); err != nil {
		return nil, err
	}
	limit = clampLimit(limit, defaultMessagesLimit)

	msgs, err := s.messages.ListByConversation(ctx, conversationID, before, limit+1)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	page := &models.MessagePage{Messages: make([]*models.Message, 0, limit)}
	if len(msgs) > limit {
		page.HasMore = true
		msgs = msgs[:limit]
	}
	for _, m := range msgs {
		page.Messages = append(page.Messages, m.ViewFor(requesterID))
	}
	page.Total = len(page.Messages)
	if page.HasMore {
		page.NextCursor = msgs[len(msgs)-1].Cursor().Encode()
	}
	return page, nil
}

func (s *messageService) MarkMessageAsRead(ctx context.Context, messageID, requesterID string) (*models.Message, error) {
	msg, err := s.getMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.ReceiverID != requesterID {
		return nil, forbidden("only the receiver can mark a message as read")
	}
	if msg.Status == models.StatusRead {
		return msg.ViewFor(requesterID), nil
	}

	at := s.now()
	won, err := s.messages.MarkRead(ctx, messageID, at)
	if err != nil {
		return nil, fmt.Errorf("failed to mark message as read: %w", err)
	}
	if won {
		// The read is committed; a counter left behind here is repaired by
		// the next unread read.
		if err := s.conversations.DecrementUnread(ctx, msg.ConversationID, requesterID); err != nil {
			s.logger.Error().Err(err).
				Str("message_id", msg.ID).
				Str("conversation_id", msg.ConversationID).
				Msg("Message marked read but unread counter was not updated")
		}
		s.cache.invalidate(ctx, requesterID)
		if s.notifier != nil {
			s.notifier.NotifyConversationRead(msg.ConversationID, requesterID, msg.SenderID, 1)
		}
	}

	msg, err = s.getMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	return msg.ViewFor(requesterID), nil
}

func (s *messageService) MarkConversationAsRead(ctx context.Context, conversationID, requesterID string) (int64, error) {
	conv, err := s.participantConversation(ctx, conversationID, requesterID)
	if err != nil {
		return 0, err
	}

	n, err := s.messages.MarkConversationRead(ctx, conversationID, requesterID, s.now())
	if err != nil {
		return 0, fmt.Errorf("failed to mark conversation as read: %w", err)
	}
	if err := s.conversations.ResetUnread(ctx, conversationID, requesterID); err != nil {
		return 0, fmt.Errorf("failed to reset unread count: %w", err)
	}
	s.cache.invalidate(ctx, requesterID)

	if n > 0 && s.notifier != nil {
		s.notifier.NotifyConversationRead(conversationID, requesterID, conv.Participants.Other(requesterID), n)
	}
	return n, nil
}

func (s *messageService) DeleteMessage(ctx context.Context, messageID, requesterID string) error {
	msg, err := s.getMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if msg.SenderID != requesterID {
		return forbidden("only the sender can delete a message")
	}
	if msg.IsDeleted {
		return nil
	}

	if err := s.messages.SoftDelete(ctx, messageID, s.now()); err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	s.cache.invalidate(ctx, msg.SenderID, msg.ReceiverID)
	return nil
}

// GetUnreadCount counts the user's unread messages directly. The stored
// per-conversation counters are repaired when their sum disagrees.
func (s *messageService) GetUnreadCount(ctx context.Context, userID string) (int64, error) {
	if userID == "" {
		return 0, invalid("user id is required")
	}
	n, snap, ok := s.cache.unread(ctx, userID)
	if ok {
		return n, nil
	}

	n, err := s.messages.CountUnread(ctx, userID, "")
	if err != nil {
		return 0, fmt.Errorf("failed to count unread messages: %w", err)
	}
	s.reconcileUser(ctx, userID, n)
	s.cache.setUnread(ctx, userID, snap, n)
	return n, nil
}

func (s *messageService) reconcileUser(ctx context.Context, userID string, actual int64) {
	stored, err := s.conversations.SumUnread(ctx, userID)
	if err != nil {
		s.logger.Warn().Err(err).Str("user_id", userID).Msg("Failed to read stored unread counters")
		return
	}
	if stored == actual {
		return
	}

	convs, err := s.conversations.ListByUser(ctx, userID, true, 0)
	if err != nil {
		s.logger.Warn().Err(err).Str("user_id", userID).Msg("Failed to list conversations for reconcile")
		return
	}
	for _, conv := range convs {
		if _, err := s.reconcileConversation(ctx, conv, userID); err != nil {
			s.logger.Warn().Err(err).
				Str("conversation_id", conv.ID).
				Str("user_id", userID).
				Msg("Failed to count unread messages")
		}
	}
}

// reconcileConversation returns the unread count of userID in conv, counted
// from the messages, and moves the stored counter to it. The update is
// conditional on the counter still holding the value read with conv, so a
// concurrent increment is never overwritten.
func (s *messageService) reconcileConversation(ctx context.Context, conv *models.Conversation, userID string) (int64, error) {
	actual, err := s.messages.CountUnread(ctx, userID, conv.ID)
	if err != nil {
		return 0, err
	}
	stored := conv.UnreadFor(userID)
	if stored == actual {
		return actual, nil
	}

	changed, err := s.conversations.ReconcileUnread(ctx, conv.ID, userID, stored, actual)
	if err != nil {
		s.logger.Warn().Err(err).
			Str("conversation_id", conv.ID).
			Str("user_id", userID).
			Msg("Failed to reconcile unread counter")
	} else if changed {
		s.logger.Info().
			Str("conversation_id", conv.ID).
			Str("user_id", userID).
			Int64("stored", stored).
			Int64("actual", actual).
			Msg("Reconciled unread counter")
	}
	conv.UnreadCount[userID] = actual
	return actual, nil
}

func (s *messageService) GetUserConversations(ctx context.Context, userID string, includeArchived bool, limit int) ([]models.ConversationSummary, error) {
	if userID == "" {
		return nil, invalid("user id is required")
	}
	limit = clampLimit(limit, defaultConversationsLimit)

	summaries, snap, ok := s.cache.conversations(ctx, userID, includeArchived, limit)
	if ok {
		return summaries, nil
	}

	convs, err := s.conversations.ListByUser(ctx, userID, includeArchived, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}

	summaries = make([]models.ConversationSummary, 0, len(convs))
	for _, conv := range convs {
		last, err := s.messages.LastInConversation(ctx, conv.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to load last message: %w", err)
		}
		unread, err := s.reconcileConversation(ctx, conv, userID)
		if err != nil {
			return nil, fmt.Errorf("failed to count unread messages: %w", err)
		}
		summaries = append(summaries, models.ConversationSummary{
			Conversation: conv,
			LastMessage:  last,
			UnreadCount:  unread,
		})
	}

	s.cache.setConversations(ctx, userID, includeArchived, snap, limit, summaries)
	return summaries, nil
}

func (s *messageService) ArchiveConversation(ctx context.Context, conversationID, requesterID string) (*models.Conversation, error) {
	return s.setArchived(ctx, conversationID, requesterID, true)
}

func (s *messageService) UnarchiveConversation(ctx context.Context, conversationID, requesterID string) (*models.Conversation, error) {
	return s.setArchived(ctx, conversationID, requesterID, false)
}

func (s *messageService) setArchived(ctx context.Context, conversationID, requesterID string, archived bool) (*models.Conversation, error) {
	conv, err := s.participantConversation(ctx, conversationID, requesterID)
	if err != nil {
		return nil, err
	}
	if err := s.conversations.SetArchived(ctx, conversationID, archived); err != nil {
		return nil, fmt.Errorf("failed to update conversation: %w", err)
	}
	conv.IsArchived = archived
	s.cache.invalidate(ctx, conv.Participants.IDs()...)
	return conv, nil
}

func (s *messageService) SearchMessages(ctx context.Context, userID, query string, limit int) ([]*models.Message, error) {
	query = strings.TrimSpace(query)
	if utf8.RuneCountInString(query) < minSearchQueryLength {
		return nil, invalid("search query must be at least %d characters", minSearchQueryLength)
	}
	limit = clampLimit(limit, defaultSearchLimit)

	msgs, err := s.messages.Search(ctx, userID, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search messages: %w", err)
	}
	views := make([]*models.Message, 0, len(msgs))
	for _, m := range msgs {
		views = append(views, m.ViewFor(userID))
	}
	return views, nil
}

func (s *messageService) GetUndeliveredMessages(ctx context.Context, receiverID string, limit int) ([]*models.Message, error) {
	if receiverID == "" {
		return nil, invalid("receiver id is required")
	}
	msgs, err := s.messages.ListUndelivered(ctx, receiverID, clampLimit(limit, defaultUndeliveredLimit))
	if err != nil {
		return nil, fmt.Errorf("failed to list undelivered messages: %w", err)
	}
	return msgs, nil
}

func (s *messageService) MarkMessagesDelivered(ctx context.Context, receiverID string, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	n, err := s.messages.MarkDelivered(ctx, receiverID, ids)
	if err != nil {
		return 0, fmt.Errorf("failed to mark messages as delivered: %w", err)
	}
	return n, nil
}

func clampLimit(limit, defaultLimit int) int {
	switch {
	case limit <= 0:
		return defaultLimit
	case limit > MaxPageLimit:
		return MaxPageLimit
	}
	return limit
}
