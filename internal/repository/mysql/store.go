// Package mysql stores messages and conversations in MySQL.
package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog"
)

const errDuplicateEntry = 1062

var schema = []string{
	`CREATE TABLE IF NOT EXISTS conversations (
		id VARCHAR(64) NOT NULL PRIMARY KEY,
		participant_low VARCHAR(64) NOT NULL,
		participant_high VARCHAR(64) NOT NULL,
		item_scope VARCHAR(64) NOT NULL DEFAULT '',
		created_at DATETIME(3) NOT NULL,
		last_message_at DATETIME(3) NOT NULL,
		last_message_content TEXT NULL,
		is_archived BOOLEAN NOT NULL DEFAULT FALSE,
		unread_low BIGINT NOT NULL DEFAULT 0,
		unread_high BIGINT NOT NULL DEFAULT 0,
		UNIQUE KEY uq_conversation_key (participant_low, participant_high, item_scope),
		KEY idx_low_last (participant_low, last_message_at),
		KEY idx_high_last (participant_high, last_message_at)
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id VARCHAR(64) NOT NULL PRIMARY KEY,
		conversation_id VARCHAR(64) NOT NULL,
		sender_id VARCHAR(64) NOT NULL,
		receiver_id VARCHAR(64) NOT NULL,
		item_id VARCHAR(64) NULL,
		content TEXT NOT NULL,
		status VARCHAR(16) NOT NULL,
		created_at DATETIME(3) NOT NULL,
		read_at DATETIME(3) NULL,
		is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
		deleted_at DATETIME(3) NULL,
		KEY idx_conversation_order (conversation_id, created_at, id),
		KEY idx_receiver_status (receiver_id, status),
		KEY idx_sender_created (sender_id, created_at)
	)`,
}

type Store struct {
	db      *sql.DB
	timeout time.Duration
	logger  *zerolog.Logger
}

// Open connects with UTC time parsing, matching how records are written.
func Open(user, password, host, port, dbName string) (*sql.DB, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true&loc=UTC",
		user, password, host, port, dbName)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	return db, nil
}

func NewStore(db *sql.DB, timeout time.Duration, logger *zerolog.Logger) *Store {
	return &Store{db: db, timeout: timeout, logger: logger}
}

func (s *Store) Messages() *MessageRepository {
	return &MessageRepository{store: s}
}

func (s *Store) Conversations() *ConversationRepository {
	return &ConversationRepository{store: s}
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

func (s *Store) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

type scanner interface {
	Scan(dest ...any) error
}

func isDuplicate(err error) bool {
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == errDuplicateEntry
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}
