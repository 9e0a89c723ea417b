package cache

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/parkside-ed/engage-sync-go/internal/entity"
)

func TestWarmStoreSaveAndLoad(t *testing.T) {
	mini, err := miniredis.Run()
	require.NoError(t, err)
	defer mini.Close()

	client := redis.NewClient(&redis.Options{Addr: mini.Addr()})
	warm := NewWarmStore(client, "viewer-1", time.Minute, zerolog.Nop())

	source := NewStore(zerolog.Nop())
	source.UpsertPost(entity.Post{ID: "p1", Body: "hello", Status: entity.PostStatusPosted})
	source.UpsertConversation(entity.Conversation{ID: "cv1", Kind: entity.ConversationPrivate})
	source.SetScope(PostStatusScope(entity.PostStatusPosted), []string{"p1"})

	ctx := context.Background()
	require.NoError(t, warm.Save(ctx, source))

	restored := NewStore(zerolog.Nop())
	require.NoError(t, warm.Load(ctx, restored))

	post, ok := restored.Post("p1")
	require.True(t, ok)
	require.Equal(t, "hello", post.Body)

	_, ok = restored.Conversation("cv1")
	require.True(t, ok)

	// Warm membership renders immediately but must refetch on activation.
	ids, ok := restored.Scope(PostStatusScope(entity.PostStatusPosted))
	require.True(t, ok)
	require.Equal(t, []string{"p1"}, ids)
	require.True(t, restored.ScopeStale(PostStatusScope(entity.PostStatusPosted)))
}

func TestWarmStoreSaveSkipsStaleScopes(t *testing.T) {
	mini, err := miniredis.Run()
	require.NoError(t, err)
	defer mini.Close()

	client := redis.NewClient(&redis.Options{Addr: mini.Addr()})
	warm := NewWarmStore(client, "viewer-1", time.Minute, zerolog.Nop())

	source := NewStore(zerolog.Nop())
	source.SetScope(PostStatusScope(entity.PostStatusPosted), []string{"p1"})
	source.SetScope(PostStatusScope(entity.PostStatusPending), []string{"p2"})
	source.MarkScopeStale(PostStatusScope(entity.PostStatusPending))

	ctx := context.Background()
	require.NoError(t, warm.Save(ctx, source))

	restored := NewStore(zerolog.Nop())
	require.NoError(t, warm.Load(ctx, restored))

	_, ok := restored.Scope(PostStatusScope(entity.PostStatusPosted))
	require.True(t, ok)
	_, ok = restored.Scope(PostStatusScope(entity.PostStatusPending))
	require.False(t, ok)
}

func TestWarmStoreLoadMissingSnapshotIsNotAnError(t *testing.T) {
	mini, err := miniredis.Run()
	require.NoError(t, err)
	defer mini.Close()

	client := redis.NewClient(&redis.Options{Addr: mini.Addr()})
	warm := NewWarmStore(client, "viewer-1", time.Minute, zerolog.Nop())

	require.NoError(t, warm.Load(context.Background(), NewStore(zerolog.Nop())))
}

func TestWarmStoreLoadDiscardsCorruptSnapshot(t *testing.T) {
	mini, err := miniredis.Run()
	require.NoError(t, err)
	defer mini.Close()

	require.NoError(t, mini.Set("engage:warm:viewer-1", "{not json"))

	client := redis.NewClient(&redis.Options{Addr: mini.Addr()})
	warm := NewWarmStore(client, "viewer-1", time.Minute, zerolog.Nop())

	restored := NewStore(zerolog.Nop())
	require.NoError(t, warm.Load(context.Background(), restored))
	_, ok := restored.Post("p1")
	require.False(t, ok)
}
