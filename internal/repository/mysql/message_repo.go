package mysql

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lostfound/internal/models"
	"github.com/lostfound/internal/repository"
)

type MessageRepository struct {
	store *Store
}

var _ repository.MessageRepository = (*MessageRepository)(nil)

const messageColumns = `id, conversation_id, sender_id, receiver_id, item_id, content,
	status, created_at, read_at, is_deleted, deleted_at`

func scanMessage(row scanner) (*models.Message, error) {
	var (
		msg       models.Message
		itemID    sql.NullString
		status    string
		readAt    sql.NullTime
		deletedAt sql.NullTime
	)
	err := row.Scan(&msg.ID, &msg.ConversationID, &msg.SenderID, &msg.ReceiverID, &itemID,
		&msg.Content, &status, &msg.CreatedAt, &readAt, &msg.IsDeleted, &deletedAt)
	if err != nil {
		return nil, err
	}
	msg.ItemID = stringPtr(itemID)
	msg.Status = models.MessageStatus(status)
	msg.CreatedAt = msg.CreatedAt.UTC()
	msg.ReadAt = timePtr(readAt)
	msg.DeletedAt = timePtr(deletedAt)
	if err := msg.Validate(); err != nil {
		return nil, repository.Malformed("message", msg.ID, err)
	}
	return &msg, nil
}

func (r *MessageRepository) Create(ctx context.Context, msg *models.Message) error {
	if err := msg.Validate(); err != nil {
		return repository.Malformed("message", msg.ID, err)
	}
	ctx, cancel := r.store.bound(ctx)
	defer cancel()

	query := `
		INSERT INTO messages (` + messageColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.store.db.ExecContext(ctx, query,
		msg.ID,
		msg.ConversationID,
		msg.SenderID,
		msg.ReceiverID,
		nullString(msg.ItemID),
		msg.Content,
		string(msg.Status),
		msg.CreatedAt,
		nullTime(msg.ReadAt),
		msg.IsDeleted,
		nullTime(msg.DeletedAt),
	)
	if err != nil {
		r.store.logger.Error().Err(err).Str("message_id", msg.ID).Msg("Failed to create message")
		return err
	}
	return nil
}

func (r *MessageRepository) GetByID(ctx context.Context, id string) (*models.Message, error) {
	ctx, cancel := r.store.bound(ctx)
	defer cancel()

	query := `SELECT ` + messageColumns + ` FROM messages WHERE id = ?`
	msg, err := scanMessage(r.store.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.store.logger.Error().Err(err).Str("message_id", id).Msg("Failed to get message by ID")
		return nil, err
	}
	return msg, nil
}

func (r *MessageRepository) query(ctx context.Context, query string, args ...any) ([]*models.Message, error) {
	ctx, cancel := r.store.bound(ctx)
	defer cancel()

	rows, err := r.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		r.store.logger.Error().Err(err).Msg("Failed to query messages")
		return nil, err
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			r.store.logger.Error().Err(err).Msg("Failed to scan message row")
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

func (r *MessageRepository) ListByConversation(ctx context.Context, conversationID string, before *models.Cursor, limit int) ([]*models.Message, error) {
	if before == nil {
		return r.query(ctx, `
			SELECT `+messageColumns+`
			FROM messages
			WHERE conversation_id = ?
			ORDER BY created_at DESC, id DESC
			LIMIT ?
		`, conversationID, limit)
	}
	return r.query(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE conversation_id = ?
			AND (created_at < ? OR (created_at = ? AND id < ?))
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, conversationID, before.CreatedAt, before.CreatedAt, before.MessageID, limit)
}

func (r *MessageRepository) LastInConversation(ctx context.Context, conversationID string) (*models.Message, error) {
	msgs, err := r.query(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE conversation_id = ? AND is_deleted = FALSE
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, conversationID)
	if err != nil || len(msgs) == 0 {
		return nil, err
	}
	return msgs[0], nil
}

func (r *MessageRepository) ListUndelivered(ctx context.Context, receiverID string, limit int) ([]*models.Message, error) {
	return r.query(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE receiver_id = ? AND status = 'sent' AND is_deleted = FALSE
		ORDER BY created_at ASC, id ASC
		LIMIT ?
	`, receiverID, limit)
}

func (r *MessageRepository) exec(ctx context.Context, query string, args ...any) (int64, error) {
	ctx, cancel := r.store.bound(ctx)
	defer cancel()

	result, err := r.store.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *MessageRepository) MarkRead(ctx context.Context, id string, at time.Time) (bool, error) {
	n, err := r.exec(ctx, `
		UPDATE messages
		SET status = 'read', read_at = ?
		WHERE id = ? AND status <> 'read'
	`, at, id)
	if err != nil {
		r.store.logger.Error().Err(err).Str("message_id", id).Msg("Failed to mark message as read")
		return false, err
	}
	return n == 1, nil
}

func (r *MessageRepository) MarkConversationRead(ctx context.Context, conversationID, receiverID string, at time.Time) (int64, error) {
	n, err := r.exec(ctx, `
		UPDATE messages
		SET status = 'read', read_at = ?
		WHERE conversation_id = ? AND receiver_id = ? AND status <> 'read' AND is_deleted = FALSE
	`, at, conversationID, receiverID)
	if err != nil {
		r.store.logger.Error().Err(err).
			Str("conversation_id", conversationID).
			Str("receiver_id", receiverID).
			Msg("Failed to mark messages as read")
		return 0, err
	}
	return n, nil
}

func (r *MessageRepository) MarkDelivered(ctx context.Context, receiverID string, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	args := make([]any, 0, len(ids)+1)
	args = append(args, receiverID)
	for _, id := range ids {
		args = append(args, id)
	}
	n, err := r.exec(ctx, `
		UPDATE messages
		SET status = 'delivered'
		WHERE receiver_id = ? AND status = 'sent' AND id IN (`+placeholders(len(ids))+`)
	`, args...)
	if err != nil {
		r.store.logger.Error().Err(err).Str("receiver_id", receiverID).Msg("Failed to mark messages as delivered")
		return 0, err
	}
	return n, nil
}

func (r *MessageRepository) SoftDelete(ctx context.Context, id string, at time.Time) error {
	_, err := r.exec(ctx, `
		UPDATE messages
		SET is_deleted = TRUE, deleted_at = ?
		WHERE id = ? AND is_deleted = FALSE
	`, at, id)
	if err != nil {
		r.store.logger.Error().Err(err).Str("message_id", id).Msg("Failed to delete message")
	}
	return err
}

// Search matches case-insensitively through the column collation.
func (r *MessageRepository) Search(ctx context.Context, userID, query string, limit int) ([]*models.Message, error) {
	pattern := "%" + likeEscaper.Replace(query) + "%"
	return r.query(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE (sender_id = ? OR receiver_id = ?) AND is_deleted = FALSE AND content LIKE ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, userID, userID, pattern, limit)
}

func (r *MessageRepository) CountUnread(ctx context.Context, receiverID, conversationID string) (int64, error) {
	ctx, cancel := r.store.bound(ctx)
	defer cancel()

	query := `
		SELECT COUNT(*)
		FROM messages
		WHERE receiver_id = ? AND status <> 'read' AND is_deleted = FALSE
	`
	args := []any{receiverID}
	if conversationID != "" {
		query += ` AND conversation_id = ?`
		args = append(args, conversationID)
	}

	var n int64
	if err := r.store.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		r.store.logger.Error().Err(err).Str("receiver_id", receiverID).Msg("Failed to count unread messages")
		return 0, err
	}
	return n, nil
}
