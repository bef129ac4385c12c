package mongo

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/lostfound/internal/models"
	"github.com/lostfound/internal/repository"
)

// newTestStore connects to the server in MONGO_URI and gives each test its
// own database, dropped on cleanup.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	uri := os.Getenv("MONGO_URI")
	if uri == "" {
		t.Skip("MONGO_URI not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := Connect(ctx, uri)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	db := client.Database(fmt.Sprintf("lostfound_test_%d", time.Now().UnixNano()))
	t.Cleanup(func() {
		db.Drop(context.Background())
		client.Disconnect(context.Background())
	})

	logger := zerolog.Nop()
	store := NewStore(db, 5*time.Second, &logger)
	if err := store.EnsureIndexes(ctx); err != nil {
		t.Fatalf("EnsureIndexes: %v", err)
	}
	return store
}

func createConversation(t *testing.T, convs *ConversationRepository, id, a, b string) {
	t.Helper()
	key, err := models.NewConversationKey(a, b, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := convs.Create(context.Background(), models.NewConversation(id, key, time.UnixMilli(1000).UTC())); err != nil {
		t.Fatalf("Create %s: %v", id, err)
	}
}

func TestMongoDuplicateConversation(t *testing.T) {
	convs := newTestStore(t).Conversations()
	createConversation(t, convs, "c1", "amy", "zed")

	key, _ := models.NewConversationKey("zed", "amy", nil)
	err := convs.Create(context.Background(), models.NewConversation("c2", key, time.Now().UTC()))
	if !errors.Is(err, repository.ErrDuplicateConversation) {
		t.Fatalf("error = %v, want ErrDuplicateConversation", err)
	}
}

func TestMongoUnreadCounters(t *testing.T) {
	ctx := context.Background()
	convs := newTestStore(t).Conversations()
	createConversation(t, convs, "c1", "amy", "zed")
	createConversation(t, convs, "c2", "bob", "zed")

	for _, receiver := range []string{"zed", "zed", "amy"} {
		if err := convs.RecordMessage(ctx, "c1", receiver, "hi", time.Now()); err != nil {
			t.Fatalf("RecordMessage(%s): %v", receiver, err)
		}
	}
	convs.RecordMessage(ctx, "c2", "zed", "hey", time.Now())
	if err := convs.RecordMessage(ctx, "c1", "eve", "hi", time.Now()); err == nil {
		t.Error("RecordMessage accepted a non-participant")
	}

	for i := 0; i < 3; i++ {
		if err := convs.DecrementUnread(ctx, "c1", "amy"); err != nil {
			t.Fatalf("DecrementUnread: %v", err)
		}
	}
	conv, err := convs.GetByID(ctx, "c1")
	if err != nil {
		t.Fatal(err)
	}
	if conv.UnreadFor("amy") != 0 || conv.UnreadFor("zed") != 2 {
		t.Fatalf("counters amy=%d zed=%d, want 0 and 2", conv.UnreadFor("amy"), conv.UnreadFor("zed"))
	}

	if total, err := convs.SumUnread(ctx, "zed"); err != nil || total != 3 {
		t.Errorf("SumUnread(zed) = %d, %v; want 3", total, err)
	}
	if total, _ := convs.SumUnread(ctx, "nobody"); total != 0 {
		t.Errorf("SumUnread(nobody) = %d", total)
	}

	if changed, _ := convs.ReconcileUnread(ctx, "c1", "zed", 5, 0); changed {
		t.Error("stale expectation applied")
	}
	if changed, err := convs.ReconcileUnread(ctx, "c1", "zed", 2, 0); err != nil || !changed {
		t.Errorf("ReconcileUnread = %v, %v", changed, err)
	}
	conv, _ = convs.GetByID(ctx, "c1")
	if conv.UnreadFor("zed") != 0 {
		t.Errorf("zed = %d after reconcile", conv.UnreadFor("zed"))
	}
}

func TestMongoMessagePagesAndUnread(t *testing.T) {
	ctx := context.Background()
	msgs := newTestStore(t).Messages()
	at := time.UnixMilli(5000).UTC()

	for i := 0; i < 4; i++ {
		m := &models.Message{
			ID: fmt.Sprintf("m%d", i), ConversationID: "c1", SenderID: "amy", ReceiverID: "zed",
			Content: "found keys", Status: models.StatusSent, CreatedAt: at,
		}
		if err := msgs.Create(ctx, m); err != nil {
			t.Fatal(err)
		}
	}

	page, err := msgs.ListByConversation(ctx, "c1", nil, 2)
	if err != nil || len(page) != 2 || page[0].ID != "m3" || page[1].ID != "m2" {
		t.Fatalf("first page = %v, %v", page, err)
	}
	cursor := page[1].Cursor()
	page, _ = msgs.ListByConversation(ctx, "c1", &cursor, 2)
	if len(page) != 2 || page[0].ID != "m1" || page[1].ID != "m0" {
		t.Fatalf("second page = %v", page)
	}

	msgs.MarkRead(ctx, "m0", time.Now())
	msgs.SoftDelete(ctx, "m1", time.Now())
	if n, err := msgs.CountUnread(ctx, "zed", "c1"); err != nil || n != 2 {
		t.Errorf("CountUnread = %d, %v; want 2", n, err)
	}
	if n, _ := msgs.CountUnread(ctx, "zed", ""); n != 2 {
		t.Errorf("CountUnread across conversations = %d, want 2", n)
	}
}
