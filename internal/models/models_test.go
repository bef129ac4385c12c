package models

import (
	"encoding/json"
	"testing"
	"time"
)

func TestNewPairIsOrderIndependent(t *testing.T) {
	ab, err := NewPair("alice", "bob")
	if err != nil {
		t.Fatalf("NewPair: %v", err)
	}
	ba, err := NewPair("bob", "alice")
	if err != nil {
		t.Fatalf("NewPair: %v", err)
	}
	if ab != ba {
		t.Fatalf("pairs differ: %v vs %v", ab.IDs(), ba.IDs())
	}
	if ab.Low() != "alice" || ab.High() != "bob" {
		t.Errorf("pair not sorted: %v", ab.IDs())
	}
	if ab.Other("alice") != "bob" || ab.Other("bob") != "alice" {
		t.Error("Other returned the wrong participant")
	}
}

func TestNewPairRejectsInvalid(t *testing.T) {
	tests := []struct{ a, b string }{
		{"alice", "alice"},
		{"", "bob"},
		{"alice", ""},
	}
	for _, tt := range tests {
		if _, err := NewPair(tt.a, tt.b); err != ErrInvalidPair {
			t.Errorf("NewPair(%q, %q) error = %v, want ErrInvalidPair", tt.a, tt.b, err)
		}
	}
}

func TestConversationKeyScopes(t *testing.T) {
	item := "item-1"
	unscoped, _ := NewConversationKey("a", "b", nil)
	scoped, _ := NewConversationKey("b", "a", &item)
	if unscoped == scoped {
		t.Fatal("item scope must produce a distinct key")
	}
	if unscoped.ItemID() != nil {
		t.Error("unscoped key reported an item")
	}
	if got := scoped.ItemID(); got == nil || *got != item {
		t.Errorf("ItemID() = %v, want %q", got, item)
	}
}

func TestPairJSONRoundTrip(t *testing.T) {
	conv := NewConversation("c1", mustKey(t, "u2", "u1"), time.Unix(100, 0).UTC())
	data, err := json.Marshal(conv)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var decoded Conversation
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded.Participants != conv.Participants {
		t.Errorf("participants = %v, want %v", decoded.Participants.IDs(), conv.Participants.IDs())
	}
	if err := decoded.Validate(); err != nil {
		t.Errorf("decoded conversation invalid: %v", err)
	}
}

func TestConversationValidate(t *testing.T) {
	conv := NewConversation("c1", mustKey(t, "a", "b"), time.Now())
	if err := conv.Validate(); err != nil {
		t.Fatalf("fresh conversation invalid: %v", err)
	}

	conv.UnreadCount["a"] = -1
	if conv.Validate() == nil {
		t.Error("negative unread count accepted")
	}

	conv.UnreadCount = map[string]int64{"a": 0}
	if conv.Validate() == nil {
		t.Error("single-entry unread map accepted")
	}
}

func TestMessageValidate(t *testing.T) {
	now := time.Now()
	valid := Message{
		ID: "m1", ConversationID: "c1", SenderID: "a", ReceiverID: "b",
		Content: "hi", Status: StatusSent, CreatedAt: now,
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid message rejected: %v", err)
	}

	tests := map[string]func(m *Message){
		"missing id":       func(m *Message) { m.ID = "" },
		"self message":     func(m *Message) { m.ReceiverID = m.SenderID },
		"unknown status":   func(m *Message) { m.Status = "lost" },
		"read without at":  func(m *Message) { m.Status = StatusRead },
		"deleted without":  func(m *Message) { m.IsDeleted = true },
		"zero created_at":  func(m *Message) { m.CreatedAt = time.Time{} },
		"no conversation":  func(m *Message) { m.ConversationID = "" },
		"missing receiver": func(m *Message) { m.ReceiverID = "" },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			m := valid
			mutate(&m)
			if m.Validate() == nil {
				t.Error("malformed message accepted")
			}
		})
	}
}

func TestViewForMasksDeletedContent(t *testing.T) {
	at := time.Now()
	m := &Message{ID: "m1", SenderID: "a", ReceiverID: "b", Content: "secret", IsDeleted: true, DeletedAt: &at}

	if got := m.ViewFor("b").Content; got != DeletedPlaceholder {
		t.Errorf("receiver sees %q, want placeholder", got)
	}
	if got := m.ViewFor("a").Content; got != "secret" {
		t.Errorf("sender sees %q, want original content", got)
	}
	if m.Content != "secret" {
		t.Error("ViewFor mutated the stored message")
	}
}

func TestCursorEncodeParse(t *testing.T) {
	c := Cursor{CreatedAt: time.UnixMilli(1700000000123).UTC(), MessageID: "0190-abc"}
	parsed, err := ParseCursor(c.Encode())
	if err != nil {
		t.Fatalf("ParseCursor: %v", err)
	}
	if !parsed.CreatedAt.Equal(c.CreatedAt) || parsed.MessageID != c.MessageID {
		t.Errorf("parsed %+v, want %+v", parsed, c)
	}

	for _, bad := range []string{"!!!", "bm9jb2xvbg", ""} {
		if _, err := ParseCursor(bad); err != ErrInvalidCursor {
			t.Errorf("ParseCursor(%q) error = %v, want ErrInvalidCursor", bad, err)
		}
	}
}

func TestCursorAdmitsTieBreak(t *testing.T) {
	ts := time.UnixMilli(1000)
	c := Cursor{CreatedAt: ts, MessageID: "b"}

	if !c.Admits(&Message{ID: "a", CreatedAt: ts}) {
		t.Error("same timestamp, smaller id should be admitted")
	}
	if c.Admits(&Message{ID: "b", CreatedAt: ts}) {
		t.Error("cursor message itself must not be admitted")
	}
	if c.Admits(&Message{ID: "a", CreatedAt: ts.Add(time.Millisecond)}) {
		t.Error("newer message admitted")
	}
	if !c.Admits(&Message{ID: "z", CreatedAt: ts.Add(-time.Millisecond)}) {
		t.Error("older message rejected")
	}
}

func mustKey(t *testing.T, a, b string) ConversationKey {
	t.Helper()
	key, err := NewConversationKey(a, b, nil)
	if err != nil {
		t.Fatalf("NewConversationKey: %v", err)
	}
	return key
}
