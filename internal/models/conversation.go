package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var ErrInvalidPair = errors.New("a conversation needs two distinct participants")

// Pair is the unordered set of the two participants of a conversation.
// The ids are kept sorted so (a, b) and (b, a) are the same value.
type Pair struct {
	low  string
	high string
}

func NewPair(a, b string) (Pair, error) {
	if a == "" || b == "" || a == b {
		return Pair{}, ErrInvalidPair
	}
	if a > b {
		a, b = b, a
	}
	return Pair{low: a, high: b}, nil
}

func (p Pair) Low() string  { return p.low }
func (p Pair) High() string { return p.high }

func (p Pair) IsZero() bool { return p.low == "" && p.high == "" }

func (p Pair) Contains(userID string) bool {
	return userID != "" && (p.low == userID || p.high == userID)
}

// Other returns the participant that is not userID.
func (p Pair) Other(userID string) string {
	if userID == p.low {
		return p.high
	}
	return p.low
}

func (p Pair) IDs() []string { return []string{p.low, p.high} }

func (p Pair) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.IDs())
}

func (p *Pair) UnmarshalJSON(data []byte) error {
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return err
	}
	if len(ids) != 2 {
		return ErrInvalidPair
	}
	pair, err := NewPair(ids[0], ids[1])
	if err != nil {
		return err
	}
	*p = pair
	return nil
}

// ConversationKey identifies at most one conversation: a pair plus an
// optional item scope ("" when unscoped).
type ConversationKey struct {
	Pair      Pair
	ItemScope string
}

func NewConversationKey(userA, userB string, itemID *string) (ConversationKey, error) {
	pair, err := NewPair(userA, userB)
	if err != nil {
		return ConversationKey{}, err
	}
	key := ConversationKey{Pair: pair}
	if itemID != nil {
		key.ItemScope = *itemID
	}
	return key, nil
}

func (k ConversationKey) ItemID() *string {
	if k.ItemScope == "" {
		return nil
	}
	id := k.ItemScope
	return &id
}

func (k ConversationKey) String() string {
	return fmt.Sprintf("%s:%s:%s", k.Pair.low, k.Pair.high, k.ItemScope)
}

type Conversation struct {
	ID                 string           `json:"conversation_id"`
	Participants       Pair             `json:"participant_ids"`
	ItemID             *string          `json:"item_id,omitempty"`
	CreatedAt          time.Time        `json:"created_at"`
	LastMessageAt      time.Time        `json:"last_message_at"`
	LastMessageContent *string          `json:"last_message_content,omitempty"`
	IsArchived         bool             `json:"is_archived"`
	UnreadCount        map[string]int64 `json:"unread_count"`
}

func NewConversation(id string, key ConversationKey, now time.Time) *Conversation {
	return &Conversation{
		ID:            id,
		Participants:  key.Pair,
		ItemID:        key.ItemID(),
		CreatedAt:     now,
		LastMessageAt: now,
		UnreadCount: map[string]int64{
			key.Pair.low:  0,
			key.Pair.high: 0,
		},
	}
}

func (c *Conversation) Key() ConversationKey {
	key := ConversationKey{Pair: c.Participants}
	if c.ItemID != nil {
		key.ItemScope = *c.ItemID
	}
	return key
}

func (c *Conversation) HasParticipant(userID string) bool {
	return c.Participants.Contains(userID)
}

func (c *Conversation) UnreadFor(userID string) int64 {
	return c.UnreadCount[userID]
}

func (c *Conversation) Validate() error {
	switch {
	case c.ID == "":
		return errors.New("conversation_id is required")
	case c.Participants.low == "" || c.Participants.low >= c.Participants.high:
		return ErrInvalidPair
	case c.CreatedAt.IsZero():
		return errors.New("created_at is required")
	case len(c.UnreadCount) != 2:
		return errors.New("unread_count must hold exactly the two participants")
	}
	for _, id := range c.Participants.IDs() {
		n, ok := c.UnreadCount[id]
		if !ok {
			return fmt.Errorf("unread_count missing participant %s", id)
		}
		if n < 0 {
			return fmt.Errorf("unread_count for %s is negative", id)
		}
	}
	return nil
}

// ConversationSummary is one row of a user's inbox.
type ConversationSummary struct {
	Conversation *Conversation `json:"conversation"`
	LastMessage  *Message      `json:"last_message,omitempty"`
	UnreadCount  int64         `json:"unread_count"`
}
