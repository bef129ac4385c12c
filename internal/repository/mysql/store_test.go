package mysql

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog"

	"github.com/lostfound/internal/models"
	"github.com/lostfound/internal/repository"
)

var (
	conversationCols = []string{"id", "participant_low", "participant_high", "item_scope", "created_at",
		"last_message_at", "last_message_content", "is_archived", "unread_low", "unread_high"}
	messageCols = []string{"id", "conversation_id", "sender_id", "receiver_id", "item_id", "content",
		"status", "created_at", "read_at", "is_deleted", "deleted_at"}
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
		db.Close()
	})
	logger := zerolog.Nop()
	return NewStore(db, time.Second, &logger), mock
}

func TestCreateConversationDuplicate(t *testing.T) {
	store, mock := newMockStore(t)
	key, _ := models.NewConversationKey("amy", "zed", nil)
	conv := models.NewConversation("c1", key, time.Now().UTC())

	mock.ExpectExec("INSERT INTO conversations").
		WillReturnError(&mysql.MySQLError{Number: errDuplicateEntry, Message: "Duplicate entry"})

	err := store.Conversations().Create(context.Background(), conv)
	if !errors.Is(err, repository.ErrDuplicateConversation) {
		t.Fatalf("error = %v, want ErrDuplicateConversation", err)
	}
}

func TestGetConversationByKey(t *testing.T) {
	store, mock := newMockStore(t)
	item := "item-7"
	key, _ := models.NewConversationKey("zed", "amy", &item)
	now := time.UnixMilli(5000).UTC()

	mock.ExpectQuery("WHERE participant_low = \\? AND participant_high = \\? AND item_scope = \\?").
		WithArgs("amy", "zed", "item-7").
		WillReturnRows(sqlmock.NewRows(conversationCols).
			AddRow("c1", "amy", "zed", "item-7", now, now, "hello", false, int64(0), int64(3)))

	conv, err := store.Conversations().GetByKey(context.Background(), key)
	if err != nil {
		t.Fatalf("GetByKey: %v", err)
	}
	if conv == nil || conv.Key() != key {
		t.Fatalf("conversation = %+v", conv)
	}
	if conv.UnreadFor("zed") != 3 || conv.UnreadFor("amy") != 0 {
		t.Errorf("counters = %v", conv.UnreadCount)
	}
	if conv.LastMessageContent == nil || *conv.LastMessageContent != "hello" {
		t.Errorf("preview = %v", conv.LastMessageContent)
	}
}

func TestGetConversationMissing(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM conversations WHERE id = ?")).
		WithArgs("nope").
		WillReturnRows(sqlmock.NewRows(conversationCols))

	conv, err := store.Conversations().GetByID(context.Background(), "nope")
	if err != nil || conv != nil {
		t.Fatalf("GetByID = %v, %v; want nil, nil", conv, err)
	}
}

func TestGetConversationMalformed(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()
	mock.ExpectQuery("FROM conversations").
		WillReturnRows(sqlmock.NewRows(conversationCols).
			AddRow("c1", "amy", "amy", "", now, now, nil, false, int64(0), int64(0)))

	_, err := store.Conversations().GetByID(context.Background(), "c1")
	if !errors.Is(err, repository.ErrMalformedRecord) {
		t.Fatalf("error = %v, want ErrMalformedRecord", err)
	}
}

func TestRecordMessageRequiresParticipant(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("UPDATE conversations").
		WithArgs(sqlmock.AnyArg(), "hi", "eve", "eve", "c1", "eve", "eve").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.Conversations().RecordMessage(context.Background(), "c1", "eve", "hi", time.Now())
	if err == nil {
		t.Fatal("expected error for non-participant receiver")
	}
}

func TestDecrementUnreadIsFloored(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("IF(participant_low = ? AND unread_low > 0, unread_low - 1, unread_low)")).
		WithArgs("amy", "amy", "c1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.Conversations().DecrementUnread(context.Background(), "c1", "amy"); err != nil {
		t.Fatalf("DecrementUnread: %v", err)
	}
}

func TestSumUnread(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT COALESCE\\(SUM").
		WithArgs("amy", "amy", "amy").
		WillReturnRows(sqlmock.NewRows([]string{"total"}).AddRow(int64(7)))

	total, err := store.Conversations().SumUnread(context.Background(), "amy")
	if err != nil {
		t.Fatalf("SumUnread: %v", err)
	}
	if total != 7 {
		t.Errorf("total = %d, want 7", total)
	}
}

func TestListByConversationWithCursor(t *testing.T) {
	store, mock := newMockStore(t)
	at := time.UnixMilli(9000).UTC()
	cursor := &models.Cursor{CreatedAt: at, MessageID: "m5"}

	mock.ExpectQuery(regexp.QuoteMeta("(created_at < ? OR (created_at = ? AND id < ?))")).
		WithArgs("c1", sqlmock.AnyArg(), sqlmock.AnyArg(), "m5", 3).
		WillReturnRows(sqlmock.NewRows(messageCols).
			AddRow("m4", "c1", "amy", "zed", nil, "hi", "sent", at, nil, false, nil).
			AddRow("m3", "c1", "zed", "amy", "item-1", "yo", "read", at, at, false, nil))

	msgs, err := store.Messages().ListByConversation(context.Background(), "c1", cursor, 3)
	if err != nil {
		t.Fatalf("ListByConversation: %v", err)
	}
	if len(msgs) != 2 || msgs[0].ID != "m4" || msgs[1].ID != "m3" {
		t.Fatalf("messages = %+v", msgs)
	}
	if msgs[1].ItemID == nil || *msgs[1].ItemID != "item-1" || msgs[1].ReadAt == nil {
		t.Errorf("nullable columns not mapped: %+v", msgs[1])
	}
}

func TestMarkReadReportsTransition(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("UPDATE messages").
		WithArgs(sqlmock.AnyArg(), "m1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE messages").
		WithArgs(sqlmock.AnyArg(), "m1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	repo := store.Messages()
	first, err := repo.MarkRead(context.Background(), "m1", time.Now())
	if err != nil || !first {
		t.Fatalf("first MarkRead = %v, %v", first, err)
	}
	second, err := repo.MarkRead(context.Background(), "m1", time.Now())
	if err != nil || second {
		t.Fatalf("second MarkRead = %v, %v", second, err)
	}
}

func TestMarkDeliveredExpandsIDs(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("id IN (?,?)")).
		WithArgs("zed", "m1", "m2").
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := store.Messages().MarkDelivered(context.Background(), "zed", []string{"m1", "m2"})
	if err != nil || n != 2 {
		t.Fatalf("MarkDelivered = %d, %v", n, err)
	}

	n, err = store.Messages().MarkDelivered(context.Background(), "zed", nil)
	if err != nil || n != 0 {
		t.Fatalf("empty MarkDelivered = %d, %v", n, err)
	}
}

func TestSearchEscapesPattern(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("content LIKE \\?").
		WithArgs("amy", "amy", `%50\%\_off%`, 10).
		WillReturnRows(sqlmock.NewRows(messageCols))

	msgs, err := store.Messages().Search(context.Background(), "amy", "50%_off", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("messages = %d, want 0", len(msgs))
	}
}

func TestCountUnread(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*)")).
		WithArgs("bob").
		WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(int64(4)))
	mock.ExpectQuery(regexp.QuoteMeta("AND conversation_id = ?")).
		WithArgs("bob", "c1").
		WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(int64(1)))

	ctx := context.Background()
	if n, err := store.Messages().CountUnread(ctx, "bob", ""); err != nil || n != 4 {
		t.Errorf("total = %d, %v; want 4", n, err)
	}
	if n, err := store.Messages().CountUnread(ctx, "bob", "c1"); err != nil || n != 1 {
		t.Errorf("c1 = %d, %v; want 1", n, err)
	}
}

func TestReconcileUnreadIsConditional(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("IF(participant_low = ? AND unread_low = ?, ?, unread_low)")).
		WithArgs("amy", int64(1), int64(0), "amy", int64(1), int64(0), "c1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE conversations").
		WithArgs("amy", int64(2), int64(0), "amy", int64(2), int64(0), "c1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	ctx := context.Background()
	if changed, err := store.Conversations().ReconcileUnread(ctx, "c1", "amy", 1, 0); err != nil || !changed {
		t.Errorf("first = %v, %v; want changed", changed, err)
	}
	if changed, err := store.Conversations().ReconcileUnread(ctx, "c1", "amy", 2, 0); err != nil || changed {
		t.Errorf("stale expectation = %v, %v; want unchanged", changed, err)
	}
	if changed, _ := store.Conversations().ReconcileUnread(ctx, "c1", "amy", 3, 3); changed {
		t.Error("equal counts issued an update")
	}
}

func TestListByUserWithoutLimit(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT (.+) FROM conversations").
		WithArgs("amy", "amy", true).
		WillReturnRows(sqlmock.NewRows(conversationCols))

	convs, err := store.Conversations().ListByUser(context.Background(), "amy", true, 0)
	if err != nil || len(convs) != 0 {
		t.Fatalf("ListByUser = %v, %v", convs, err)
	}
}
