package gateway

import (
	"time"

	"github.com/parkside-ed/engage-sync-go/internal/entity"
)

// Wire types mirror the backend's JSON field names, which differ from the
// domain model. Mapping stays in this package so the rest of the sync layer
// only sees entity types.

type wireUser struct {
	ID           string `json:"id"`
	Username     string `json:"username"`
	Role         string `json:"role"`
	ChildrenName string `json:"children_name,omitempty"`
}

func (w wireUser) toEntity() entity.UserSummary {
	return entity.UserSummary{
		ID:          w.ID,
		DisplayName: w.Username,
		Role:        w.Role,
		ChildName:   w.ChildrenName,
	}
}

type wireAttachment struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url"`
}

func (w wireAttachment) toEntity() entity.AttachmentRef {
	return entity.AttachmentRef{ID: w.ID, Name: w.Name, Locator: w.URL}
}

type wirePost struct {
	ID            string           `json:"id"`
	Content       string           `json:"content"`
	PostedBy      wireUser         `json:"posted_by"`
	PostedAt      time.Time        `json:"posted_at"`
	Status        string           `json:"status"`
	IsPinned      bool             `json:"is_pinned"`
	Attachments   []wireAttachment `json:"attachments"`
	TotalLikes    int              `json:"total_likes"`
	TotalComments int              `json:"total_comments"`
	IsLikedByUser bool             `json:"is_liked_by_user"`
}

func (w wirePost) toEntity() entity.Post {
	attachments := make([]entity.AttachmentRef, 0, len(w.Attachments))
	for _, att := range w.Attachments {
		attachments = append(attachments, att.toEntity())
	}

	status := entity.PostStatus(w.Status)
	// Some backend builds label the approval queue "pending approval".
	if !status.Valid() {
		status = entity.PostStatusPending
	}

	return entity.Post{
		ID:             w.ID,
		Author:         w.PostedBy.toEntity(),
		Body:           w.Content,
		Status:         status,
		Pinned:         w.IsPinned,
		CreatedAt:      w.PostedAt,
		Attachments:    attachments,
		LikeCount:      w.TotalLikes,
		CommentCount:   w.TotalComments,
		ViewerHasLiked: w.IsLikedByUser,
	}
}

type wireComment struct {
	ID            string        `json:"id"`
	Content       string        `json:"content"`
	CommentFrom   wireUser      `json:"comment_from"`
	CommentAt     time.Time     `json:"comment_at"`
	ParentComment string        `json:"parent_comment,omitempty"`
	Replies       []wireComment `json:"replies,omitempty"`
}

func (w wireComment) toEntity(postID string) entity.Comment {
	replies := make([]entity.Comment, 0, len(w.Replies))
	for _, reply := range w.Replies {
		replies = append(replies, reply.toEntity(postID))
	}

	return entity.Comment{
		ID:        w.ID,
		PostID:    postID,
		Author:    w.CommentFrom.toEntity(),
		Body:      w.Content,
		CreatedAt: w.CommentAt,
		ParentID:  w.ParentComment,
		Replies:   replies,
	}
}

type wireMessage struct {
	ID              string          `json:"id"`
	Conversation    string          `json:"conversation"`
	FromUser        wireUser        `json:"from_user"`
	Text            string          `json:"text,omitempty"`
	Attachment      *wireAttachment `json:"attachment,omitempty"`
	QuestionnaireID string          `json:"questionnaire,omitempty"`
	Type            string          `json:"type,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	Correlation     string          `json:"correlation,omitempty"`
}

func (w wireMessage) toEntity() entity.Message {
	msg := entity.Message{
		ID:              w.ID,
		ConversationID:  w.Conversation,
		Sender:          w.FromUser.toEntity(),
		CreatedAt:       w.CreatedAt,
		Text:            w.Text,
		QuestionnaireID: w.QuestionnaireID,
		Correlation:     w.Correlation,
	}

	if w.Attachment != nil {
		att := w.Attachment.toEntity()
		msg.Attachment = &att
	}

	switch {
	case w.Type == string(entity.MessageSystem):
		msg.Kind = entity.MessageSystem
	case msg.QuestionnaireID != "":
		msg.Kind = entity.MessageQuestionnaire
	case msg.Attachment != nil:
		msg.Kind = entity.MessageAttachment
	default:
		msg.Kind = entity.MessageText
	}

	return msg
}

type wireConversation struct {
	ID               string       `json:"id"`
	Name             string       `json:"name,omitempty"`
	ConversationType string       `json:"conversation_type"`
	Participants     []wireUser   `json:"participants"`
	UpdatedAt        time.Time    `json:"updated_at"`
	LastMessage      *wireMessage `json:"last_message,omitempty"`
}

func (w wireConversation) toEntity() entity.Conversation {
	participants := make([]entity.UserSummary, 0, len(w.Participants))
	for _, p := range w.Participants {
		participants = append(participants, p.toEntity())
	}

	conv := entity.Conversation{
		ID:           w.ID,
		Kind:         entity.ConversationKind(w.ConversationType),
		Participants: participants,
		Name:         w.Name,
		UpdatedAt:    w.UpdatedAt,
	}

	if w.LastMessage != nil {
		last := w.LastMessage.toEntity()
		conv.LastMessage = &last
	}

	return conv
}

type wireQuestion struct {
	ID          string   `json:"id"`
	Type        string   `json:"type"`
	Text        string   `json:"text"`
	Required    bool     `json:"required"`
	Options     []string `json:"options,omitempty"`
	RatingScale int      `json:"rating_scale,omitempty"`
}

type wireQuestionnaire struct {
	ID          string         `json:"id"`
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Questions   []wireQuestion `json:"questions"`
}

func (w wireQuestionnaire) toEntity() entity.Questionnaire {
	questions := make([]entity.Question, 0, len(w.Questions))
	for _, q := range w.Questions {
		questions = append(questions, entity.Question{
			ID:          q.ID,
			Type:        entity.QuestionType(q.Type),
			Prompt:      q.Text,
			Required:    q.Required,
			Options:     q.Options,
			RatingScale: q.RatingScale,
		})
	}

	return entity.Questionnaire{
		ID:          w.ID,
		Title:       w.Title,
		Description: w.Description,
		Questions:   questions,
	}
}
