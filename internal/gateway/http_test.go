package gateway_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/parkside-ed/engage-sync-go/internal/entity"
	"github.com/parkside-ed/engage-sync-go/internal/gateway"
	"github.com/parkside-ed/engage-sync-go/internal/gatewaytest"
)

var (
	staffActor  = entity.Identity{UserID: "staff-1", Role: "staff"}
	parentActor = entity.Identity{UserID: "parent-1", Role: "parent"}
)

func newFakeBackend(t *testing.T) (*gatewaytest.Server, *gateway.HTTPGateway) {
	t.Helper()
	server := gatewaytest.NewServer()
	server.AddUser(gatewaytest.User{ID: "staff-1", Username: "Ms. Reyes", Role: "staff"})
	server.AddUser(gatewaytest.User{ID: "parent-1", Username: "Jordan Lee", Role: "parent", ChildrenName: "Sam Lee"})

	gw, err := gateway.NewHTTPGateway("http://gateway.test", 5*time.Second, zerolog.Nop(),
		gateway.WithHTTPClient(server.Client()))
	require.NoError(t, err)
	return server, gw
}

func TestListPostsFiltersByStatus(t *testing.T) {
	server, gw := newFakeBackend(t)
	server.AddPost("staff-1", "welcome back", "posted")
	server.AddPost("parent-1", "awaiting review", "pending")

	posts, err := gw.ListPosts(context.Background(), staffActor, entity.PostStatusPosted)
	require.NoError(t, err)
	require.Len(t, posts, 1)
	require.Equal(t, "welcome back", posts[0].Body)
	require.Equal(t, entity.PostStatusPosted, posts[0].Status)
	require.Equal(t, "Ms. Reyes", posts[0].Author.DisplayName)

	pending, err := gw.ListPosts(context.Background(), staffActor, entity.PostStatusPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
}

func TestToggleLikeRoundTrip(t *testing.T) {
	server, gw := newFakeBackend(t)
	postID := server.AddPost("staff-1", "like me", "posted")

	state, err := gw.ToggleLike(context.Background(), parentActor, postID)
	require.NoError(t, err)
	require.Equal(t, 1, state.LikeCount)
	require.True(t, state.ViewerHasLiked)

	state, err = gw.ToggleLike(context.Background(), parentActor, postID)
	require.NoError(t, err)
	require.Equal(t, 0, state.LikeCount)
	require.False(t, state.ViewerHasLiked)
}

func TestLikeTallyIsPerViewer(t *testing.T) {
	server, gw := newFakeBackend(t)
	postID := server.AddPost("staff-1", "popular", "posted")

	_, err := gw.ToggleLike(context.Background(), parentActor, postID)
	require.NoError(t, err)

	posts, err := gw.ListPosts(context.Background(), staffActor, entity.PostStatusPosted)
	require.NoError(t, err)
	require.Equal(t, 1, posts[0].LikeCount)
	require.False(t, posts[0].ViewerHasLiked)
}

func TestApproveConflictIsClassified(t *testing.T) {
	server, gw := newFakeBackend(t)
	postID := server.AddPost("parent-1", "needs review", "pending")

	approved, err := gw.ApprovePost(context.Background(), staffActor, postID)
	require.NoError(t, err)
	require.Equal(t, entity.PostStatusPosted, approved.Status)

	_, err = gw.RejectPost(context.Background(), staffActor, postID)
	require.Error(t, err)
	require.Equal(t, gateway.KindConflict, gateway.KindOf(err))
}

func TestErrorTaxonomy(t *testing.T) {
	server, gw := newFakeBackend(t)
	postID := server.AddPost("staff-1", "target", "posted")

	server.FailNext("POST", "/forum/posts", 429)
	_, err := gw.ToggleLike(context.Background(), staffActor, postID)
	require.Equal(t, gateway.KindTransient, gateway.KindOf(err))

	server.FailNext("POST", "/forum/posts", 500)
	_, err = gw.ToggleLike(context.Background(), staffActor, postID)
	require.Equal(t, gateway.KindServer, gateway.KindOf(err))

	_, err = gw.ToggleLike(context.Background(), staffActor, "missing")
	require.Equal(t, gateway.KindValidation, gateway.KindOf(err))
}

func TestCreatePostWithAttachmentUploadsAndRefetches(t *testing.T) {
	_, gw := newFakeBackend(t)

	post, err := gw.CreatePost(context.Background(), staffActor, gateway.CreatePostInput{
		Body: "field trip photos",
		Attachments: []gateway.StagedAttachment{
			{Name: "bus.png", ContentType: "image/png", Data: []byte("\x89PNG")},
		},
	})
	require.NoError(t, err)
	require.Equal(t, entity.PostStatusPosted, post.Status)
	require.Len(t, post.Attachments, 1)
	require.Equal(t, "bus.png", post.Attachments[0].Name)
}

func TestCreatePostVoidedWhenAttachmentUploadFails(t *testing.T) {
	server, gw := newFakeBackend(t)

	server.FailNext("POST", "/forum/posts/p1/attachments", 500)
	_, err := gw.CreatePost(context.Background(), staffActor, gateway.CreatePostInput{
		Body: "doomed",
		Attachments: []gateway.StagedAttachment{
			{Name: "bad.png", ContentType: "image/png", Data: []byte("\x89PNG")},
		},
	})
	require.Error(t, err)

	// The half-created post was deleted, not left dangling.
	posts, err := gw.ListPosts(context.Background(), staffActor, entity.PostStatusPosted)
	require.NoError(t, err)
	require.Empty(t, posts)
}

func TestParentPostQueuesForApproval(t *testing.T) {
	_, gw := newFakeBackend(t)

	post, err := gw.CreatePost(context.Background(), parentActor, gateway.CreatePostInput{Body: "from a parent"})
	require.NoError(t, err)
	require.Equal(t, entity.PostStatusPending, post.Status)
}

func TestCommentRoundTrip(t *testing.T) {
	server, gw := newFakeBackend(t)
	postID := server.AddPost("staff-1", "discuss", "posted")

	created, err := gw.CreateComment(context.Background(), parentActor, postID, "great news", "")
	require.NoError(t, err)
	require.Equal(t, postID, created.PostID)
	require.Equal(t, "great news", created.Body)

	comments, err := gw.ListComments(context.Background(), staffActor, postID)
	require.NoError(t, err)
	require.Len(t, comments, 1)
	require.Equal(t, created.ID, comments[0].ID)
}

func TestSendMessageEchoesCorrelation(t *testing.T) {
	server, gw := newFakeBackend(t)
	convID := server.AddConversation("private", "staff-1", "parent-1")

	msg, err := gw.SendMessage(context.Background(), staffActor, gateway.SendMessageInput{
		ConversationID: convID,
		Text:           "reminder: early pickup",
		Correlation:    "corr-123",
	})
	require.NoError(t, err)
	require.Equal(t, convID, msg.ConversationID)
	require.Equal(t, "corr-123", msg.Correlation)
	require.Equal(t, entity.MessageText, msg.Kind)

	messages, err := gw.ListMessages(context.Background(), parentActor, convID)
	require.NoError(t, err)
	require.Len(t, messages, 1)
}

func TestSendMessageWithAttachmentMultipart(t *testing.T) {
	server, gw := newFakeBackend(t)
	convID := server.AddConversation("private", "staff-1", "parent-1")

	msg, err := gw.SendMessage(context.Background(), staffActor, gateway.SendMessageInput{
		ConversationID: convID,
		Attachment:     &gateway.StagedAttachment{Name: "permission.pdf", ContentType: "application/pdf", Data: []byte("%PDF-1.4")},
		Correlation:    "corr-456",
	})
	require.NoError(t, err)
	require.Equal(t, entity.MessageAttachment, msg.Kind)
	require.NotNil(t, msg.Attachment)
	require.Equal(t, "permission.pdf", msg.Attachment.Name)
}

func TestCreatePrivateConversationReusesExistingPair(t *testing.T) {
	server, gw := newFakeBackend(t)

	first, err := gw.CreatePrivateConversation(context.Background(), staffActor, "parent-1")
	require.NoError(t, err)
	require.True(t, first.IsPrivateBetween("staff-1", "parent-1"))

	second, err := gw.CreatePrivateConversation(context.Background(), staffActor, "parent-1")
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, 1, server.ConversationCount())
}

func TestListConversationsScopedToViewer(t *testing.T) {
	server, gw := newFakeBackend(t)
	server.AddUser(gatewaytest.User{ID: "parent-2", Username: "Robin Cho", Role: "parent"})
	server.AddConversation("private", "staff-1", "parent-1")
	server.AddConversation("private", "staff-1", "parent-2")

	mine, err := gw.ListConversations(context.Background(), parentActor)
	require.NoError(t, err)
	require.Len(t, mine, 1)

	staff, err := gw.ListConversations(context.Background(), staffActor)
	require.NoError(t, err)
	require.Len(t, staff, 2)
}

func TestGetQuestionnaire(t *testing.T) {
	server, gw := newFakeBackend(t)
	server.AddQuestionnaire(gatewaytest.Questionnaire{
		ID:    "qn1",
		Title: "Trip consent",
		Questions: []gatewaytest.Question{
			{ID: "q1", Type: "yes_no", Text: "May your child attend?", Required: true},
		},
	})

	q, err := gw.GetQuestionnaire(context.Background(), parentActor, "qn1")
	require.NoError(t, err)
	require.Equal(t, "Trip consent", q.Title)
	require.Len(t, q.Questions, 1)
	require.Equal(t, entity.QuestionYesNo, q.Questions[0].Type)
	require.Equal(t, "May your child attend?", q.Questions[0].Prompt)
}

func TestDeletePost(t *testing.T) {
	server, gw := newFakeBackend(t)
	postID := server.AddPost("staff-1", "temporary", "posted")

	require.NoError(t, gw.DeletePost(context.Background(), staffActor, postID))
	require.Empty(t, server.PostStatus(postID))
}
