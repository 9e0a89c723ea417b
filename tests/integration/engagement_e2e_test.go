package integration_test

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/parkside-ed/engage-sync-go/internal/cache"
	"github.com/parkside-ed/engage-sync-go/internal/entity"
	"github.com/parkside-ed/engage-sync-go/internal/gateway"
	"github.com/parkside-ed/engage-sync-go/internal/gatewaytest"
	"github.com/parkside-ed/engage-sync-go/internal/questionnaire"
	enginesync "github.com/parkside-ed/engage-sync-go/internal/sync"
)

type session struct {
	server    *gatewaytest.Server
	store     *cache.Store
	engine    *enginesync.Engine
	scopes    *enginesync.ScopeController
	directory *enginesync.Directory
	composer  *enginesync.MessageComposer
}

func newSession(t *testing.T, server *gatewaytest.Server) *session {
	t.Helper()
	logger := zerolog.New(io.Discard)

	gw, err := gateway.NewHTTPGateway("http://gateway.test", 5*time.Second, logger,
		gateway.WithHTTPClient(server.Client()))
	require.NoError(t, err)

	store := cache.NewStore(logger)
	engine := enginesync.NewEngine(store, gw, logger)

	qvalidate, err := questionnaire.NewValidator()
	require.NoError(t, err)
	validate := validator.New(validator.WithRequiredStructEnabled())

	return &session{
		server:    server,
		store:     store,
		engine:    engine,
		scopes:    enginesync.NewScopeController(store, gw, logger),
		directory: enginesync.NewDirectory(store, gw, logger),
		composer:  enginesync.NewMessageComposer(engine, gw, qvalidate, validate, nil, logger),
	}
}

func TestModerationWorkflowEndToEnd(t *testing.T) {
	server := gatewaytest.NewServer()
	server.AddUser(gatewaytest.User{ID: "staff-1", Username: "Ms. Reyes", Role: "staff"})
	server.AddUser(gatewaytest.User{ID: "parent-1", Username: "Jordan Lee", Role: "parent", ChildrenName: "Sam Lee"})
	pendingID := server.AddPost("parent-1", "Can we organize a bake sale?", "pending")

	staff := entity.Identity{UserID: "staff-1", Role: "staff"}
	s := newSession(t, server)
	ctx := context.Background()

	// Staff opens the approval queue.
	ids, err := s.scopes.Activate(ctx, staff, enginesync.PostScope(entity.PostStatusPending), false)
	require.NoError(t, err)
	require.Equal(t, []string{pendingID}, ids)

	// Approving moves the post out of the queue and invalidates the feed tab.
	approved, err := s.engine.ApprovePost(ctx, staff, pendingID)
	require.NoError(t, err)
	require.Equal(t, entity.PostStatusPosted, approved.Status)
	require.Equal(t, "posted", server.PostStatus(pendingID))

	ids, err = s.scopes.Activate(ctx, staff, enginesync.PostScope(entity.PostStatusPending), false)
	require.NoError(t, err)
	require.Empty(t, ids)

	ids, err = s.scopes.Activate(ctx, staff, enginesync.PostScope(entity.PostStatusPosted), false)
	require.NoError(t, err)
	require.Equal(t, []string{pendingID}, ids)

	// A second approval of the same post conflicts and the queue resyncs.
	_, err = s.engine.ApprovePost(ctx, staff, pendingID)
	require.ErrorIs(t, err, enginesync.ErrInvalidTransition)
}

func TestEngagementAndCommentsEndToEnd(t *testing.T) {
	server := gatewaytest.NewServer()
	server.AddUser(gatewaytest.User{ID: "staff-1", Username: "Ms. Reyes", Role: "staff"})
	server.AddUser(gatewaytest.User{ID: "parent-1", Username: "Jordan Lee", Role: "parent"})
	postID := server.AddPost("staff-1", "Sports day on Friday", "posted")

	parent := entity.Identity{UserID: "parent-1", Role: "parent"}
	s := newSession(t, server)
	ctx := context.Background()

	_, err := s.scopes.Activate(ctx, parent, enginesync.PostScope(entity.PostStatusPosted), false)
	require.NoError(t, err)

	liked, err := s.engine.ToggleLike(ctx, parent, postID)
	require.NoError(t, err)
	require.Equal(t, 1, liked.LikeCount)
	require.True(t, liked.ViewerHasLiked)

	comment, err := s.engine.AppendComment(ctx, parent, postID, "Sam can't wait!", "")
	require.NoError(t, err)
	require.NotEmpty(t, comment.ID)

	reply, err := s.engine.AppendComment(ctx, parent, postID, "Bringing snacks too.", comment.ID)
	require.NoError(t, err)
	require.Equal(t, comment.ID, reply.ParentID)

	post, ok := s.store.Post(postID)
	require.True(t, ok)
	require.Equal(t, 2, post.CommentCount)

	commentIDs, err := s.scopes.LoadComments(ctx, parent, postID, true)
	require.NoError(t, err)
	require.Len(t, commentIDs, 2)
}

func TestMessagingEndToEnd(t *testing.T) {
	server := gatewaytest.NewServer()
	server.AddUser(gatewaytest.User{ID: "staff-1", Username: "Ms. Reyes", Role: "staff"})
	server.AddUser(gatewaytest.User{ID: "parent-1", Username: "Jordan Lee", Role: "parent", ChildrenName: "Sam Lee"})

	staff := entity.Identity{UserID: "staff-1", Role: "staff"}
	s := newSession(t, server)
	ctx := context.Background()

	require.NoError(t, s.directory.Load(ctx, staff))
	matches := s.directory.Search("sam")
	require.Len(t, matches, 1)
	require.Equal(t, "parent-1", matches[0].ID)

	conv, err := s.directory.ResolveOrCreateConversation(ctx, staff, "parent-1")
	require.NoError(t, err)
	require.True(t, conv.IsPrivateBetween("staff-1", "parent-1"))
	require.Equal(t, 1, server.ConversationCount())

	// Resolving again must not create a duplicate pair.
	again, err := s.directory.ResolveOrCreateConversation(ctx, staff, "parent-1")
	require.NoError(t, err)
	require.Equal(t, conv.ID, again.ID)
	require.Equal(t, 1, server.ConversationCount())

	s.composer.SetText("Reminder: early pickup tomorrow")
	sent, err := s.composer.Send(ctx, staff, conv.ID)
	require.NoError(t, err)
	require.Equal(t, entity.MessageText, sent.Kind)

	// The other side of the conversation sees the message on fetch.
	parent := entity.Identity{UserID: "parent-1", Role: "parent"}
	peer := newSession(t, server)
	ids, err := peer.scopes.Activate(ctx, parent, enginesync.ConversationScope(conv.ID), false)
	require.NoError(t, err)
	require.Equal(t, []string{sent.ID}, ids)

	msg, ok := peer.store.Message(sent.ID)
	require.True(t, ok)
	require.Equal(t, "Reminder: early pickup tomorrow", msg.Text)

	convs, err := peer.scopes.Activate(ctx, parent, enginesync.ConversationListScope(), false)
	require.NoError(t, err)
	require.Equal(t, []string{conv.ID}, convs)

	cached, ok := peer.store.Conversation(conv.ID)
	require.True(t, ok)
	require.Equal(t, "Ms. Reyes", cached.DisplayNameFor(parent))
}
