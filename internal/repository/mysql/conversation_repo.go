package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lostfound/internal/models"
	"github.com/lostfound/internal/repository"
)

type ConversationRepository struct {
	store *Store
}

var _ repository.ConversationRepository = (*ConversationRepository)(nil)

const conversationColumns = `id, participant_low, participant_high, item_scope, created_at,
	last_message_at, last_message_content, is_archived, unread_low, unread_high`

func scanConversation(row scanner) (*models.Conversation, error) {
	var (
		id, low, high, scope string
		createdAt, lastAt    time.Time
		preview              sql.NullString
		archived             bool
		unreadLow, unreadHi  int64
	)
	err := row.Scan(&id, &low, &high, &scope, &createdAt, &lastAt, &preview, &archived, &unreadLow, &unreadHi)
	if err != nil {
		return nil, err
	}
	pair, err := models.NewPair(low, high)
	if err != nil {
		return nil, repository.Malformed("conversation", id, err)
	}
	key := models.ConversationKey{Pair: pair, ItemScope: scope}
	conv := &models.Conversation{
		ID:                 id,
		Participants:       pair,
		ItemID:             key.ItemID(),
		CreatedAt:          createdAt.UTC(),
		LastMessageAt:      lastAt.UTC(),
		LastMessageContent: stringPtr(preview),
		IsArchived:         archived,
		UnreadCount:        map[string]int64{pair.Low(): unreadLow, pair.High(): unreadHi},
	}
	if err := conv.Validate(); err != nil {
		return nil, repository.Malformed("conversation", id, err)
	}
	return conv, nil
}

func (r *ConversationRepository) Create(ctx context.Context, conv *models.Conversation) error {
	if err := conv.Validate(); err != nil {
		return repository.Malformed("conversation", conv.ID, err)
	}
	ctx, cancel := r.store.bound(ctx)
	defer cancel()

	query := `
		INSERT INTO conversations (` + conversationColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	low, high := conv.Participants.Low(), conv.Participants.High()
	_, err := r.store.db.ExecContext(ctx, query,
		conv.ID,
		low,
		high,
		conv.Key().ItemScope,
		conv.CreatedAt,
		conv.LastMessageAt,
		nullString(conv.LastMessageContent),
		conv.IsArchived,
		conv.UnreadFor(low),
		conv.UnreadFor(high),
	)
	if isDuplicate(err) {
		return repository.ErrDuplicateConversation
	}
	if err != nil {
		r.store.logger.Error().Err(err).Str("conversation_id", conv.ID).Msg("Failed to create conversation")
		return err
	}
	return nil
}

func (r *ConversationRepository) getOne(ctx context.Context, query string, args ...any) (*models.Conversation, error) {
	ctx, cancel := r.store.bound(ctx)
	defer cancel()

	conv, err := scanConversation(r.store.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.store.logger.Error().Err(err).Msg("Failed to get conversation")
		return nil, err
	}
	return conv, nil
}

func (r *ConversationRepository) GetByID(ctx context.Context, id string) (*models.Conversation, error) {
	return r.getOne(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, id)
}

func (r *ConversationRepository) GetByKey(ctx context.Context, key models.ConversationKey) (*models.Conversation, error) {
	return r.getOne(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE participant_low = ? AND participant_high = ? AND item_scope = ?
	`, key.Pair.Low(), key.Pair.High(), key.ItemScope)
}

func (r *ConversationRepository) ListByUser(ctx context.Context, userID string, includeArchived bool, limit int) ([]*models.Conversation, error) {
	ctx, cancel := r.store.bound(ctx)
	defer cancel()

	query := `
		SELECT ` + conversationColumns + `
		FROM conversations
		WHERE (participant_low = ? OR participant_high = ?) AND (? OR is_archived = FALSE)
		ORDER BY last_message_at DESC, id DESC
	`
	args := []any{userID, userID, includeArchived}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		r.store.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to list conversations")
		return nil, err
	}
	defer rows.Close()

	var convs []*models.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			r.store.logger.Error().Err(err).Msg("Failed to scan conversation row")
			return nil, err
		}
		convs = append(convs, conv)
	}
	return convs, rows.Err()
}

func (r *ConversationRepository) exec(ctx context.Context, query string, args ...any) (int64, error) {
	ctx, cancel := r.store.bound(ctx)
	defer cancel()

	result, err := r.store.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *ConversationRepository) RecordMessage(ctx context.Context, id, receiverID, content string, at time.Time) error {
	n, err := r.exec(ctx, `
		UPDATE conversations
		SET last_message_at = ?,
			last_message_content = ?,
			unread_low = unread_low + IF(participant_low = ?, 1, 0),
			unread_high = unread_high + IF(participant_high = ?, 1, 0)
		WHERE id = ? AND (participant_low = ? OR participant_high = ?)
	`, at, content, receiverID, receiverID, id, receiverID, receiverID)
	if err != nil {
		r.store.logger.Error().Err(err).Str("conversation_id", id).Msg("Failed to record message on conversation")
		return err
	}
	if n == 0 {
		return fmt.Errorf("conversation %s has no participant %s", id, receiverID)
	}
	return nil
}

func (r *ConversationRepository) DecrementUnread(ctx context.Context, id, userID string) error {
	_, err := r.exec(ctx, `
		UPDATE conversations
		SET unread_low = IF(participant_low = ? AND unread_low > 0, unread_low - 1, unread_low),
			unread_high = IF(participant_high = ? AND unread_high > 0, unread_high - 1, unread_high)
		WHERE id = ?
	`, userID, userID, id)
	return r.logCounterErr(err, id, userID)
}

func (r *ConversationRepository) ResetUnread(ctx context.Context, id, userID string) error {
	_, err := r.exec(ctx, `
		UPDATE conversations
		SET unread_low = IF(participant_low = ?, 0, unread_low),
			unread_high = IF(participant_high = ?, 0, unread_high)
		WHERE id = ?
	`, userID, userID, id)
	return r.logCounterErr(err, id, userID)
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

	var total int64
	err := r.store.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(IF(participant_low = ?, unread_low, unread_high)), 0)
		FROM conversations
		WHERE participant_low = ? OR participant_high = ?
	`, userID, userID, userID).Scan(&total)
	if err != nil {
		r.store.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to sum unread counters")
		return 0, err
	}
	return total, nil
}

func (r *ConversationRepository) ReconcileUnread(ctx context.Context, id, userID string, expected, n int64) (bool, error) {
	if n < 0 || expected == n {
		return false, nil
	}
	changed, err := r.exec(ctx, `
		UPDATE conversations
		SET unread_low = IF(participant_low = ? AND unread_low = ?, ?, unread_low),
			unread_high = IF(participant_high = ? AND unread_high = ?, ?, unread_high)
		WHERE id = ?
	`, userID, expected, n, userID, expected, n, id)
	if err != nil {
		return false, r.logCounterErr(err, id, userID)
	}
	return changed == 1, nil
}

func (r *ConversationRepository) SetArchived(ctx context.Context, id string, archived bool) error {
	_, err := r.exec(ctx, `UPDATE conversations SET is_archived = ? WHERE id = ?`, archived, id)
	if err != nil {
		r.store.logger.Error().Err(err).Str("conversation_id", id).Msg("Failed to update archive flag")
	}
	return err
}
