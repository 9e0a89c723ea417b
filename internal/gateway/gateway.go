// Package gateway defines the contract of the remote entity gateway that
// owns all durable engagement state, plus an HTTP implementation of it. The
// sync layer treats the backend as a black box returning entity snapshots.
package gateway

import (
	"context"

	"github.com/parkside-ed/engage-sync-go/internal/entity"
)

// LikeState is the authoritative like tally the backend returns for a toggle.
type LikeState struct {
	PostID         string `json:"post_id"`
	LikeCount      int    `json:"like_count"`
	ViewerHasLiked bool   `json:"viewer_has_liked"`
}

// PinState is the authoritative pin flag the backend returns for a toggle.
type PinState struct {
	PostID string `json:"post_id"`
	Pinned bool   `json:"pinned"`
}

// StagedAttachment is a file staged locally and not yet uploaded.
type StagedAttachment struct {
	Name        string
	ContentType string
	Data        []byte
}

// CreatePostInput carries a composed post. Attachments are uploaded after
// the post record is created; AttachmentLocators carries pre-uploaded
// references instead when a direct uploader produced them.
type CreatePostInput struct {
	Body               string
	Attachments        []StagedAttachment
	AttachmentLocators []entity.AttachmentRef
}

// SendMessageInput carries a composed message. Exactly one of Attachment and
// AttachmentLocator may be set; Correlation is the client-generated token
// used to reconcile the optimistic append.
type SendMessageInput struct {
	ConversationID    string
	Text              string
	Attachment        *StagedAttachment
	AttachmentLocator *entity.AttachmentRef
	QuestionnaireID   string
	Correlation       string
}

// Gateway is the remote collaborator owning posts, comments, likes,
// conversations, messages and questionnaires. Every call carries the acting
// identity explicitly; ambient user state is never consulted.
type Gateway interface {
	ListPosts(ctx context.Context, actor entity.Identity, status entity.PostStatus) ([]entity.Post, error)
	ListComments(ctx context.Context, actor entity.Identity, postID string) ([]entity.Comment, error)
	CreatePost(ctx context.Context, actor entity.Identity, input CreatePostInput) (entity.Post, error)
	CreateComment(ctx context.Context, actor entity.Identity, postID, body, parentID string) (entity.Comment, error)
	ToggleLike(ctx context.Context, actor entity.Identity, postID string) (LikeState, error)
	TogglePin(ctx context.Context, actor entity.Identity, postID string) (PinState, error)
	ApprovePost(ctx context.Context, actor entity.Identity, postID string) (entity.Post, error)
	RejectPost(ctx context.Context, actor entity.Identity, postID string) (entity.Post, error)
	DeletePost(ctx context.Context, actor entity.Identity, postID string) error
	ListConversations(ctx context.Context, actor entity.Identity) ([]entity.Conversation, error)
	ListMessages(ctx context.Context, actor entity.Identity, conversationID string) ([]entity.Message, error)
	SendMessage(ctx context.Context, actor entity.Identity, input SendMessageInput) (entity.Message, error)
	CreatePrivateConversation(ctx context.Context, actor entity.Identity, targetUserID string) (entity.Conversation, error)
	ListUsers(ctx context.Context, actor entity.Identity) ([]entity.UserSummary, error)
	GetQuestionnaire(ctx context.Context, actor entity.Identity, questionnaireID string) (entity.Questionnaire, error)
}
