package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/parkside-ed/engage-sync-go/internal/entity"
)

// warmSnapshot is the serialized form of the warm-start payload.
type warmSnapshot struct {
	Posts         []entity.Post         `json:"posts"`
	Conversations []entity.Conversation `json:"conversations"`
	Scopes        map[string][]string   `json:"scopes"`
	SavedAt       time.Time             `json:"saved_at"`
}

// WarmStore persists a session's cache contents to Redis so the next session
// can render immediately while the first fetches are in flight. Loading is
// best effort: a missing or corrupt payload is not an error, and warm data
// never substitutes for a failed live fetch.
type WarmStore struct {
	client *redis.Client
	key    string
	ttl    time.Duration
	logger zerolog.Logger
}

// NewWarmStore constructs a warm store scoped to one viewer.
func NewWarmStore(client *redis.Client, viewerID string, ttl time.Duration, logger zerolog.Logger) *WarmStore {
	return &WarmStore{
		client: client,
		key:    fmt.Sprintf("engage:warm:%s", viewerID),
		ttl:    ttl,
		logger: logger.With().Str("component", "warm_store").Logger(),
	}
}

// Save writes the store's posts, conversations and scope memberships.
func (w *WarmStore) Save(ctx context.Context, store *Store) error {
	if w.client == nil {
		return nil
	}

	snapshot := warmSnapshot{
		Conversations: store.Conversations(),
		Scopes:        make(map[string][]string),
		SavedAt:       time.Now().UTC(),
	}

	store.mu.RLock()
	for _, post := range store.posts {
		snapshot.Posts = append(snapshot.Posts, post)
	}
	for key, ids := range store.scopes {
		if _, stale := store.staleScopes[key]; stale {
			continue
		}
		snapshot.Scopes[string(key)] = ids
	}
	store.mu.RUnlock()

	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal warm snapshot: %w", err)
	}

	if err := w.client.Set(ctx, w.key, payload, w.ttl).Err(); err != nil {
		return fmt.Errorf("failed to persist warm snapshot: %w", err)
	}

	w.logger.Debug().Int("posts", len(snapshot.Posts)).Int("scopes", len(snapshot.Scopes)).Msg("warm snapshot saved")
	return nil
}

// Load populates the store from a previously saved snapshot, if one exists.
func (w *WarmStore) Load(ctx context.Context, store *Store) error {
	if w.client == nil {
		return nil
	}

	raw, err := w.client.Get(ctx, w.key).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read warm snapshot: %w", err)
	}

	var snapshot warmSnapshot
	if err := json.Unmarshal([]byte(raw), &snapshot); err != nil {
		w.logger.Warn().Err(err).Msg("discarding corrupt warm snapshot")
		return nil
	}

	for _, post := range snapshot.Posts {
		store.UpsertPost(post)
	}
	for _, conv := range snapshot.Conversations {
		store.UpsertConversation(conv)
	}
	for key, ids := range snapshot.Scopes {
		store.SetScope(ScopeKey(key), ids)
		// Warm membership is from a previous session; force a refetch on
		// first activation while keeping it renderable.
		store.MarkScopeStale(ScopeKey(key))
	}

	w.logger.Debug().Int("posts", len(snapshot.Posts)).Msg("warm snapshot loaded")
	return nil
}
