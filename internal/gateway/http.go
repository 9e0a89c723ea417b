package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/parkside-ed/engage-sync-go/internal/entity"
)

const maxErrorBodyBytes = 2048

// HTTPGateway talks to the engagement backend over its REST API. The acting
// identity travels as User-ID / User-Role headers on every request.
type HTTPGateway struct {
	baseURL string
	client  *http.Client
	logger  zerolog.Logger
}

// HTTPOption customises the gateway client.
type HTTPOption func(*HTTPGateway)

// WithHTTPClient substitutes the underlying HTTP client. Tests use this to
// route requests into an in-process fake backend.
func WithHTTPClient(client *http.Client) HTTPOption {
	return func(g *HTTPGateway) {
		g.client = client
	}
}

// NewHTTPGateway constructs a gateway client for the given base URL.
func NewHTTPGateway(baseURL string, timeout time.Duration, logger zerolog.Logger, opts ...HTTPOption) (*HTTPGateway, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("gateway base url must not be empty")
	}

	g := &HTTPGateway{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		logger:  logger.With().Str("component", "http_gateway").Logger(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// ListPosts fetches posts filtered by moderation status.
func (g *HTTPGateway) ListPosts(ctx context.Context, actor entity.Identity, status entity.PostStatus) ([]entity.Post, error) {
	path := "/forum/posts/"
	if status != "" {
		path += "?status=" + url.QueryEscape(string(status))
	}

	var payload struct {
		Posts []wirePost `json:"posts"`
	}
	if err := g.doJSON(ctx, actor, http.MethodGet, "list_posts", path, nil, &payload); err != nil {
		return nil, err
	}

	posts := make([]entity.Post, 0, len(payload.Posts))
	for _, wp := range payload.Posts {
		posts = append(posts, wp.toEntity())
	}
	return posts, nil
}

// ListComments fetches the comment tree of a post.
func (g *HTTPGateway) ListComments(ctx context.Context, actor entity.Identity, postID string) ([]entity.Comment, error) {
	var payload struct {
		Comments []wireComment `json:"comments"`
	}
	path := fmt.Sprintf("/forum/posts/%s/comments/", url.PathEscape(postID))
	if err := g.doJSON(ctx, actor, http.MethodGet, "list_comments", path, nil, &payload); err != nil {
		return nil, err
	}

	comments := make([]entity.Comment, 0, len(payload.Comments))
	for _, wc := range payload.Comments {
		comments = append(comments, wc.toEntity(postID))
	}
	return comments, nil
}

// CreatePost creates a post and uploads any staged attachments. A failed
// attachment upload voids the whole post so no half-applied entity survives.
func (g *HTTPGateway) CreatePost(ctx context.Context, actor entity.Identity, input CreatePostInput) (entity.Post, error) {
	body := map[string]any{"content": input.Body}
	if len(input.AttachmentLocators) > 0 {
		body["attachments"] = input.AttachmentLocators
	}

	var created wirePost
	if err := g.doJSON(ctx, actor, http.MethodPost, "create_post", "/forum/posts/", body, &created); err != nil {
		return entity.Post{}, err
	}

	for _, att := range input.Attachments {
		if err := g.uploadPostAttachment(ctx, actor, created.ID, att); err != nil {
			if delErr := g.DeletePost(ctx, actor, created.ID); delErr != nil {
				g.logger.Warn().Err(delErr).Str("post_id", created.ID).Msg("failed to void post after attachment upload failure")
			}
			return entity.Post{}, err
		}
	}

	// Refetch so the snapshot includes the attachment references.
	if len(input.Attachments) > 0 {
		var payload struct {
			Post wirePost `json:"post"`
		}
		path := fmt.Sprintf("/forum/posts/%s/", url.PathEscape(created.ID))
		if err := g.doJSON(ctx, actor, http.MethodGet, "get_post", path, nil, &payload); err == nil {
			return payload.Post.toEntity(), nil
		}
	}

	return created.toEntity(), nil
}

// CreateComment appends a comment, optionally under a parent comment.
func (g *HTTPGateway) CreateComment(ctx context.Context, actor entity.Identity, postID, body, parentID string) (entity.Comment, error) {
	payload := map[string]any{"content": body}
	if parentID != "" {
		payload["parent_comment"] = parentID
	}

	var created wireComment
	path := fmt.Sprintf("/forum/posts/%s/comments/", url.PathEscape(postID))
	if err := g.doJSON(ctx, actor, http.MethodPost, "create_comment", path, payload, &created); err != nil {
		return entity.Comment{}, err
	}
	return created.toEntity(postID), nil
}

// ToggleLike flips the actor's like on a post and returns the authoritative
// tally.
func (g *HTTPGateway) ToggleLike(ctx context.Context, actor entity.Identity, postID string) (LikeState, error) {
	var payload struct {
		TotalLikes    int  `json:"total_likes"`
		IsLikedByUser bool `json:"is_liked_by_user"`
	}
	path := fmt.Sprintf("/forum/posts/%s/like/", url.PathEscape(postID))
	if err := g.doJSON(ctx, actor, http.MethodPost, "toggle_like", path, nil, &payload); err != nil {
		return LikeState{}, err
	}
	return LikeState{PostID: postID, LikeCount: payload.TotalLikes, ViewerHasLiked: payload.IsLikedByUser}, nil
}

// TogglePin flips the pinned flag of a post.
func (g *HTTPGateway) TogglePin(ctx context.Context, actor entity.Identity, postID string) (PinState, error) {
	var payload struct {
		IsPinned bool `json:"is_pinned"`
	}
	path := fmt.Sprintf("/forum/posts/%s/pin/", url.PathEscape(postID))
	if err := g.doJSON(ctx, actor, http.MethodPost, "toggle_pin", path, nil, &payload); err != nil {
		return PinState{}, err
	}
	return PinState{PostID: postID, Pinned: payload.IsPinned}, nil
}

// ApprovePost moves a pending post to posted.
func (g *HTTPGateway) ApprovePost(ctx context.Context, actor entity.Identity, postID string) (entity.Post, error) {
	return g.transitionPost(ctx, actor, "approve_post", postID, "approve")
}

// RejectPost moves a pending post to rejected.
func (g *HTTPGateway) RejectPost(ctx context.Context, actor entity.Identity, postID string) (entity.Post, error) {
	return g.transitionPost(ctx, actor, "reject_post", postID, "reject")
}

func (g *HTTPGateway) transitionPost(ctx context.Context, actor entity.Identity, op, postID, action string) (entity.Post, error) {
	var payload struct {
		Post wirePost `json:"post"`
	}
	path := fmt.Sprintf("/forum/posts/%s/%s/", url.PathEscape(postID), action)
	if err := g.doJSON(ctx, actor, http.MethodPost, op, path, nil, &payload); err != nil {
		return entity.Post{}, err
	}
	return payload.Post.toEntity(), nil
}

// DeletePost removes a post; the backend cascades comments and likes.
func (g *HTTPGateway) DeletePost(ctx context.Context, actor entity.Identity, postID string) error {
	path := fmt.Sprintf("/forum/posts/%s/", url.PathEscape(postID))
	return g.doJSON(ctx, actor, http.MethodDelete, "delete_post", path, nil, nil)
}

// ListConversations fetches the actor's conversation list.
func (g *HTTPGateway) ListConversations(ctx context.Context, actor entity.Identity) ([]entity.Conversation, error) {
	var payload struct {
		Conversations []wireConversation `json:"conversations"`
	}
	if err := g.doJSON(ctx, actor, http.MethodGet, "list_conversations", "/chat/conversations/", nil, &payload); err != nil {
		return nil, err
	}

	conversations := make([]entity.Conversation, 0, len(payload.Conversations))
	for _, wc := range payload.Conversations {
		conversations = append(conversations, wc.toEntity())
	}
	return conversations, nil
}

// ListMessages fetches a conversation's messages in chronological order.
func (g *HTTPGateway) ListMessages(ctx context.Context, actor entity.Identity, conversationID string) ([]entity.Message, error) {
	var payload struct {
		Messages []wireMessage `json:"messages"`
	}
	path := fmt.Sprintf("/chat/conversations/%s/messages/", url.PathEscape(conversationID))
	if err := g.doJSON(ctx, actor, http.MethodGet, "list_messages", path, nil, &payload); err != nil {
		return nil, err
	}

	messages := make([]entity.Message, 0, len(payload.Messages))
	for _, wm := range payload.Messages {
		messages = append(messages, wm.toEntity())
	}
	return messages, nil
}

// SendMessage posts a composed message as multipart form data, mirroring the
// backend's upload contract.
func (g *HTTPGateway) SendMessage(ctx context.Context, actor entity.Identity, input SendMessageInput) (entity.Message, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	fields := map[string]string{
		"conversation": input.ConversationID,
		"correlation":  input.Correlation,
	}
	if input.Text != "" {
		fields["text"] = input.Text
	}
	if input.QuestionnaireID != "" {
		fields["questionnaire"] = input.QuestionnaireID
	}
	if input.AttachmentLocator != nil {
		fields["attachment_locator"] = input.AttachmentLocator.Locator
		fields["attachment_name"] = input.AttachmentLocator.Name
	}
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return entity.Message{}, wrapTransport("send_message", err)
		}
	}

	if input.Attachment != nil {
		part, err := writer.CreateFormFile("attachment", input.Attachment.Name)
		if err != nil {
			return entity.Message{}, wrapTransport("send_message", err)
		}
		if _, err := part.Write(input.Attachment.Data); err != nil {
			return entity.Message{}, wrapTransport("send_message", err)
		}
	}

	if err := writer.Close(); err != nil {
		return entity.Message{}, wrapTransport("send_message", err)
	}

	var created wireMessage
	if err := g.doRaw(ctx, actor, http.MethodPost, "send_message", "/chat/messages/", &buf, writer.FormDataContentType(), &created); err != nil {
		return entity.Message{}, err
	}
	return created.toEntity(), nil
}

// CreatePrivateConversation asks the backend for a private conversation with
// the target user. The backend may return an existing one.
func (g *HTTPGateway) CreatePrivateConversation(ctx context.Context, actor entity.Identity, targetUserID string) (entity.Conversation, error) {
	body := map[string]any{"participant": targetUserID, "conversation_type": string(entity.ConversationPrivate)}

	var created wireConversation
	if err := g.doJSON(ctx, actor, http.MethodPost, "create_conversation", "/chat/conversations/", body, &created); err != nil {
		return entity.Conversation{}, err
	}
	return created.toEntity(), nil
}

// ListUsers fetches the directory of known counterparties.
func (g *HTTPGateway) ListUsers(ctx context.Context, actor entity.Identity) ([]entity.UserSummary, error) {
	var payload struct {
		Users []wireUser `json:"users"`
	}
	if err := g.doJSON(ctx, actor, http.MethodGet, "list_users", "/users/", nil, &payload); err != nil {
		return nil, err
	}

	users := make([]entity.UserSummary, 0, len(payload.Users))
	for _, wu := range payload.Users {
		users = append(users, wu.toEntity())
	}
	return users, nil
}

// GetQuestionnaire fetches a questionnaire definition by id.
func (g *HTTPGateway) GetQuestionnaire(ctx context.Context, actor entity.Identity, questionnaireID string) (entity.Questionnaire, error) {
	var payload wireQuestionnaire
	path := fmt.Sprintf("/questionnaires/%s/", url.PathEscape(questionnaireID))
	if err := g.doJSON(ctx, actor, http.MethodGet, "get_questionnaire", path, nil, &payload); err != nil {
		return entity.Questionnaire{}, err
	}
	return payload.toEntity(), nil
}

func (g *HTTPGateway) uploadPostAttachment(ctx context.Context, actor entity.Identity, postID string, att StagedAttachment) error {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("file", att.Name)
	if err != nil {
		return wrapTransport("upload_attachment", err)
	}
	if _, err := part.Write(att.Data); err != nil {
		return wrapTransport("upload_attachment", err)
	}
	if err := writer.Close(); err != nil {
		return wrapTransport("upload_attachment", err)
	}

	path := fmt.Sprintf("/forum/posts/%s/attachments/", url.PathEscape(postID))
	return g.doRaw(ctx, actor, http.MethodPost, "upload_attachment", path, &buf, writer.FormDataContentType(), nil)
}

func (g *HTTPGateway) doJSON(ctx context.Context, actor entity.Identity, method, op, path string, body any, out any) error {
	var reader io.Reader
	contentType := ""
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return wrapTransport(op, err)
		}
		reader = bytes.NewReader(encoded)
		contentType = "application/json"
	}
	return g.doRaw(ctx, actor, method, op, path, reader, contentType, out)
}

func (g *HTTPGateway) doRaw(ctx context.Context, actor entity.Identity, method, op, path string, body io.Reader, contentType string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, body)
	if err != nil {
		return wrapTransport(op, err)
	}

	req.Header.Set("User-ID", actor.UserID)
	req.Header.Set("User-Role", actor.Role)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return wrapTransport(op, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= 400 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		gwErr := classifyStatus(op, resp.StatusCode, strings.TrimSpace(string(snippet)))
		g.logger.Debug().Str("op", op).Int("status", resp.StatusCode).Str("kind", string(gwErr.Kind)).Msg("gateway request failed")
		return gwErr
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return wrapTransport(op, fmt.Errorf("failed to decode %s response: %w", op, err))
	}
	return nil
}
