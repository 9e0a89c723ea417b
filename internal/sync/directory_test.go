package sync

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/parkside-ed/engage-sync-go/internal/cache"
	"github.com/parkside-ed/engage-sync-go/internal/entity"
)

func TestDirectorySearchMatchesNameRoleAndChild(t *testing.T) {
	gw := &stubGateway{
		listUsersFn: func(ctx context.Context, actor entity.Identity) ([]entity.UserSummary, error) {
			return []entity.UserSummary{
				{ID: "u2", DisplayName: "Amira Hassan", Role: "teacher"},
				{ID: "u3", DisplayName: "Ben Olsen", Role: "parent", ChildName: "Mia Olsen"},
				{ID: "u4", DisplayName: "Carla Diaz", Role: "parent", ChildName: "Leo Diaz"},
			}, nil
		},
	}
	dir := NewDirectory(cache.NewStore(zerolog.Nop()), gw, zerolog.Nop())

	require.False(t, dir.Loaded())
	require.NoError(t, dir.Load(context.Background(), testActor))
	require.True(t, dir.Loaded())

	require.Len(t, dir.Search(""), 3)
	require.Len(t, dir.Search("parent"), 2)

	byChild := dir.Search("mia")
	require.Len(t, byChild, 1)
	require.Equal(t, "u3", byChild[0].ID)

	require.Empty(t, dir.Search("nobody"))
}

func TestDirectoryFailedRefreshKeepsPreviousListing(t *testing.T) {
	fail := false
	gw := &stubGateway{
		listUsersFn: func(ctx context.Context, actor entity.Identity) ([]entity.UserSummary, error) {
			if fail {
				return nil, errors.New("gateway unreachable")
			}
			return []entity.UserSummary{{ID: "u2", DisplayName: "Amira Hassan", Role: "teacher"}}, nil
		},
	}
	dir := NewDirectory(cache.NewStore(zerolog.Nop()), gw, zerolog.Nop())

	require.NoError(t, dir.Load(context.Background(), testActor))
	fail = true
	require.Error(t, dir.Load(context.Background(), testActor))
	require.Len(t, dir.Search(""), 1)
}

func TestResolveReusesCachedPrivateConversation(t *testing.T) {
	created := 0
	gw := &stubGateway{
		createPrivateConvFn: func(ctx context.Context, actor entity.Identity, targetUserID string) (entity.Conversation, error) {
			created++
			return entity.Conversation{ID: "cv9"}, nil
		},
	}
	store := cache.NewStore(zerolog.Nop())
	store.UpsertConversation(entity.Conversation{
		ID:   "cv1",
		Kind: entity.ConversationPrivate,
		Participants: []entity.UserSummary{
			{ID: "u2"},
			{ID: "u1"},
		},
	})
	dir := NewDirectory(store, gw, zerolog.Nop())

	conv, err := dir.ResolveOrCreateConversation(context.Background(), testActor, "u2")
	require.NoError(t, err)
	require.Equal(t, "cv1", conv.ID)
	require.Zero(t, created)
}

func TestResolveCreatesConversationOnce(t *testing.T) {
	gw := &stubGateway{
		createPrivateConvFn: func(ctx context.Context, actor entity.Identity, targetUserID string) (entity.Conversation, error) {
			return entity.Conversation{
				ID:   "cv5",
				Kind: entity.ConversationPrivate,
				Participants: []entity.UserSummary{
					{ID: actor.UserID},
					{ID: targetUserID},
				},
			}, nil
		},
	}
	store := cache.NewStore(zerolog.Nop())
	store.SetScope(cache.ConversationListScope, []string{"cv1"})
	dir := NewDirectory(store, gw, zerolog.Nop())

	conv, err := dir.ResolveOrCreateConversation(context.Background(), testActor, "u2")
	require.NoError(t, err)
	require.Equal(t, "cv5", conv.ID)

	// The new conversation joined the cache and the conversation list.
	_, ok := store.Conversation("cv5")
	require.True(t, ok)
	ids, _ := store.Scope(cache.ConversationListScope)
	require.Equal(t, []string{"cv5", "cv1"}, ids)

	// A later resolve finds the cached conversation instead of creating.
	again, err := dir.ResolveOrCreateConversation(context.Background(), testActor, "u2")
	require.NoError(t, err)
	require.Equal(t, "cv5", again.ID)
}

func TestResolveDeduplicatesConcurrentCreation(t *testing.T) {
	var creations atomic.Int32
	release := make(chan struct{})
	gw := &stubGateway{
		createPrivateConvFn: func(ctx context.Context, actor entity.Identity, targetUserID string) (entity.Conversation, error) {
			creations.Add(1)
			<-release
			return entity.Conversation{
				ID:   "cv7",
				Kind: entity.ConversationPrivate,
				Participants: []entity.UserSummary{
					{ID: actor.UserID},
					{ID: targetUserID},
				},
			}, nil
		},
	}
	store := cache.NewStore(zerolog.Nop())
	dir := NewDirectory(store, gw, zerolog.Nop())

	const callers = 4
	results := make([]entity.Conversation, callers)
	errs := make([]error, callers)

	var started sync.WaitGroup
	var done sync.WaitGroup
	for i := 0; i < callers; i++ {
		started.Add(1)
		done.Add(1)
		go func(i int) {
			started.Done()
			defer done.Done()
			results[i], errs[i] = dir.ResolveOrCreateConversation(context.Background(), testActor, "u2")
		}(i)
	}

	started.Wait()
	close(release)
	done.Wait()

	require.Equal(t, int32(1), creations.Load())
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, "cv7", results[i].ID)
	}
}

func TestResolveFailureIsSharedWithWaiters(t *testing.T) {
	createErr := errors.New("target unknown")
	gw := &stubGateway{
		createPrivateConvFn: func(ctx context.Context, actor entity.Identity, targetUserID string) (entity.Conversation, error) {
			return entity.Conversation{}, createErr
		},
	}
	store := cache.NewStore(zerolog.Nop())
	dir := NewDirectory(store, gw, zerolog.Nop())

	_, err := dir.ResolveOrCreateConversation(context.Background(), testActor, "u9")
	require.ErrorIs(t, err, createErr)
	require.Empty(t, store.Conversations())
}
