package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lostfound/internal/cache"
	"github.com/lostfound/internal/models"
)

// inboxCache wraps the cache with the keys and encodings the service uses.
// Failures are logged and reported as misses.
//
// Every user has a generation token that invalidate replaces. Entries carry
// the generation that was current before their data was loaded and are only
// served while it still is, so a repopulate that raced an invalidation is
// never read back.
type inboxCache struct {
	c               cache.Cache
	unreadTTL       time.Duration
	conversationTTL time.Duration
	generationTTL   time.Duration
	timeout         time.Duration
	logger          *zerolog.Logger
}

// snapshot is a user's generation as seen before a store load.
type snapshot struct {
	generation string
	writable   bool
}

type cachedUnread struct {
	Generation string `json:"generation"`
	Count      int64  `json:"count"`
}

type cachedConversations struct {
	Generation string                       `json:"generation"`
	Limit      int                          `json:"limit"`
	Complete   bool                         `json:"complete"`
	Summaries  []models.ConversationSummary `json:"summaries"`
}

func newInboxCache(c cache.Cache, opts Options, logger *zerolog.Logger) *inboxCache {
	return &inboxCache{
		c:               c,
		unreadTTL:       opts.UnreadCacheTTL,
		conversationTTL: opts.ConversationsCacheTTL,
		generationTTL:   2 * max(opts.UnreadCacheTTL, opts.ConversationsCacheTTL),
		timeout:         opts.CacheTimeout,
		logger:          logger,
	}
}

func unreadKey(userID string) string {
	return "unread_count:" + userID
}

func conversationsKey(userID string, includeArchived bool) string {
	return fmt.Sprintf("user_conversations:%s:%t", userID, includeArchived)
}

func generationKey(userID string) string {
	return "inbox_generation:" + userID
}

func (ic *inboxCache) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if ic.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, ic.timeout)
}

func (ic *inboxCache) get(ctx context.Context, key string) ([]byte, bool, error) {
	ctx, cancel := ic.bound(ctx)
	defer cancel()

	value, ok, err := ic.c.Get(ctx, key)
	if err != nil {
		ic.logger.Warn().Err(err).Str("key", key).Msg("Cache read failed")
		return nil, false, err
	}
	return value, ok, nil
}

func (ic *inboxCache) set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	ctx, cancel := ic.bound(ctx)
	defer cancel()

	if err := ic.c.Set(ctx, key, value, ttl); err != nil {
		ic.logger.Warn().Err(err).Str("key", key).Msg("Cache write failed")
	}
}

// snapshot reads the current generation of userID. A missing token is a
// valid generation of its own; a failed read makes the snapshot read-only.
func (ic *inboxCache) snapshot(ctx context.Context, userID string) snapshot {
	if ic.c == nil {
		return snapshot{}
	}
	value, _, err := ic.get(ctx, generationKey(userID))
	if err != nil {
		return snapshot{}
	}
	return snapshot{generation: string(value), writable: true}
}

// invalidate moves every given user to a new generation and drops their
// entries. It runs even when the request context is already canceled, since
// the mutation it follows has been committed.
func (ic *inboxCache) invalidate(ctx context.Context, userIDs ...string) {
	if ic.c == nil || len(userIDs) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)

	keys := make([]string, 0, 3*len(userIDs))
	for _, id := range userIDs {
		ic.set(ctx, generationKey(id), []byte(uuid.NewString()), ic.generationTTL)
		keys = append(keys, unreadKey(id), conversationsKey(id, false), conversationsKey(id, true))
	}

	ctx, cancel := ic.bound(ctx)
	defer cancel()
	if err := ic.c.Delete(ctx, keys...); err != nil {
		ic.logger.Warn().Err(err).Strs("keys", keys).Msg("Cache invalidation failed")
	}
}

// lookup reads key into entry when the user's generation allows it. The
// returned snapshot is the one a repopulate must be tagged with.
func (ic *inboxCache) lookup(ctx context.Context, userID, key string, entry any, generation func() string) (snapshot, bool) {
	snap := ic.snapshot(ctx, userID)
	if !snap.writable {
		return snap, false
	}
	value, ok, err := ic.get(ctx, key)
	if err != nil || !ok {
		return snap, false
	}
	if err := json.Unmarshal(value, entry); err != nil {
		ic.logger.Warn().Err(err).Str("key", key).Msg("Discarding corrupt cache entry")
		return snap, false
	}
	return snap, generation() == snap.generation
}

func (ic *inboxCache) store(ctx context.Context, snap snapshot, key string, entry any, ttl time.Duration) {
	if !snap.writable {
		return
	}
	value, err := json.Marshal(entry)
	if err != nil {
		ic.logger.Warn().Err(err).Str("key", key).Msg("Failed to encode cache entry")
		return
	}
	ic.set(ctx, key, value, ttl)
}

func (ic *inboxCache) unread(ctx context.Context, userID string) (int64, snapshot, bool) {
	var entry cachedUnread
	snap, ok := ic.lookup(ctx, userID, unreadKey(userID), &entry, func() string { return entry.Generation })
	return entry.Count, snap, ok
}

func (ic *inboxCache) setUnread(ctx context.Context, userID string, snap snapshot, n int64) {
	ic.store(ctx, snap, unreadKey(userID), cachedUnread{Generation: snap.generation, Count: n}, ic.unreadTTL)
}

// conversations serves a cached inbox only when it holds at least limit
// rows or the full inbox.
func (ic *inboxCache) conversations(ctx context.Context, userID string, includeArchived bool, limit int) ([]models.ConversationSummary, snapshot, bool) {
	var entry cachedConversations
	snap, ok := ic.lookup(ctx, userID, conversationsKey(userID, includeArchived), &entry, func() string { return entry.Generation })
	if !ok || (limit > entry.Limit && !entry.Complete) {
		return nil, snap, false
	}
	if len(entry.Summaries) > limit {
		entry.Summaries = entry.Summaries[:limit]
	}
	return entry.Summaries, snap, true
}

func (ic *inboxCache) setConversations(ctx context.Context, userID string, includeArchived bool, snap snapshot, limit int, summaries []models.ConversationSummary) {
	ic.store(ctx, snap, conversationsKey(userID, includeArchived), cachedConversations{
		Generation: snap.generation,
		Limit:      limit,
		Complete:   len(summaries) < limit,
		Summaries:  summaries,
	}, ic.conversationTTL)
}
