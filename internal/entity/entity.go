package entity

import (
	"strings"
	"time"
)

// Kind identifies an entity family inside the cache.
type Kind string

const (
	KindPost         Kind = "post"
	KindComment      Kind = "comment"
	KindConversation Kind = "conversation"
	KindMessage      Kind = "message"
)

// PostStatus is the moderation state of a forum post.
type PostStatus string

const (
	PostStatusDraft    PostStatus = "draft"
	PostStatusPending  PostStatus = "pending"
	PostStatusPosted   PostStatus = "posted"
	PostStatusRejected PostStatus = "rejected"
)

// Valid reports whether the status is one of the closed set.
func (s PostStatus) Valid() bool {
	switch s {
	case PostStatusDraft, PostStatusPending, PostStatusPosted, PostStatusRejected:
		return true
	}
	return false
}

// CanTransitionTo reports whether the moderation workflow permits moving from
// s to next. Posted and rejected are terminal; a re-submission is a new
// pending post, never a revived one.
func (s PostStatus) CanTransitionTo(next PostStatus) bool {
	switch s {
	case PostStatusDraft:
		return next == PostStatusPending
	case PostStatusPending:
		return next == PostStatusPosted || next == PostStatusRejected
	}
	return false
}

// ConversationKind distinguishes one-to-one chats from group rooms.
type ConversationKind string

const (
	ConversationPrivate ConversationKind = "private"
	ConversationGroup   ConversationKind = "group"
)

// MessageKind is the primary payload carried by a chat message.
type MessageKind string

const (
	MessageText          MessageKind = "text"
	MessageAttachment    MessageKind = "attachment"
	MessageQuestionnaire MessageKind = "questionnaire"
	MessageSystem        MessageKind = "system"
)

// QuestionType enumerates the supported questionnaire question shapes.
type QuestionType string

const (
	QuestionText         QuestionType = "text"
	QuestionSingleChoice QuestionType = "single_choice"
	QuestionRating       QuestionType = "rating"
	QuestionYesNo        QuestionType = "yes_no"
)

// Identity is the acting user, supplied explicitly on every gateway and
// engine call. The credential itself lives in an external session component.
type Identity struct {
	UserID string
	Role   string
}

// UserSummary is a directory entry for a counterparty.
type UserSummary struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
	ChildName   string `json:"child_name,omitempty"`
}

// AttachmentRef points at an uploaded file. The locator is opaque to the
// sync layer; rendering resolves it.
type AttachmentRef struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Locator string `json:"locator"`
}

// Post is a community-forum submission subject to the moderation lifecycle.
type Post struct {
	ID             string          `json:"id"`
	Author         UserSummary     `json:"author"`
	Body           string          `json:"body"`
	Status         PostStatus      `json:"status"`
	Pinned         bool            `json:"pinned"`
	CreatedAt      time.Time       `json:"created_at"`
	Attachments    []AttachmentRef `json:"attachments,omitempty"`
	LikeCount      int             `json:"like_count"`
	CommentCount   int             `json:"comment_count"`
	ViewerHasLiked bool            `json:"viewer_has_liked"`
}

// Comment belongs to a post. ParentID, when set, references another comment
// on the same post.
type Comment struct {
	ID        string      `json:"id"`
	PostID    string      `json:"post_id"`
	Author    UserSummary `json:"author"`
	Body      string      `json:"body"`
	CreatedAt time.Time   `json:"created_at"`
	ParentID  string      `json:"parent_id,omitempty"`
	Replies   []Comment   `json:"replies,omitempty"`
}

// Message is a single chat payload. Exactly one primary payload is set
// according to Kind; Text may additionally accompany an attachment.
type Message struct {
	ID              string         `json:"id"`
	ConversationID  string         `json:"conversation_id"`
	Sender          UserSummary    `json:"sender"`
	CreatedAt       time.Time      `json:"created_at"`
	Kind            MessageKind    `json:"kind"`
	Text            string         `json:"text,omitempty"`
	Attachment      *AttachmentRef `json:"attachment,omitempty"`
	QuestionnaireID string         `json:"questionnaire_id,omitempty"`
	Correlation     string         `json:"correlation,omitempty"`
}

// Conversation groups messages between a fixed participant set.
type Conversation struct {
	ID           string           `json:"id"`
	Kind         ConversationKind `json:"kind"`
	Participants []UserSummary    `json:"participants"`
	Name         string           `json:"name,omitempty"`
	LastMessage  *Message         `json:"last_message,omitempty"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// DisplayNameFor derives the title shown to self: group conversations use
// their explicit name, private ones the non-self participant.
func (c Conversation) DisplayNameFor(self Identity) string {
	if c.Kind == ConversationGroup {
		if c.Name != "" {
			return c.Name
		}
		return "Group " + c.ID
	}
	for _, p := range c.Participants {
		if p.ID != self.UserID {
			return p.DisplayName
		}
	}
	if len(c.Participants) > 0 {
		return c.Participants[0].DisplayName
	}
	return c.ID
}

// IsPrivateBetween reports whether c is the private conversation for the
// unordered pair {a, b}.
func (c Conversation) IsPrivateBetween(a, b string) bool {
	if c.Kind != ConversationPrivate || len(c.Participants) != 2 {
		return false
	}
	p0, p1 := c.Participants[0].ID, c.Participants[1].ID
	return (p0 == a && p1 == b) || (p0 == b && p1 == a)
}

// Question is one entry of a questionnaire.
type Question struct {
	ID          string       `json:"id"`
	Type        QuestionType `json:"type"`
	Prompt      string       `json:"prompt"`
	Required    bool         `json:"required"`
	Options     []string     `json:"options,omitempty"`
	RatingScale int          `json:"rating_scale,omitempty"`
}

// Questionnaire is referenced by messages but rendered elsewhere; the sync
// layer only needs its identity and structure for validation.
type Questionnaire struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Questions   []Question `json:"questions"`
}

// MatchesQuery reports whether the user matches a case-insensitive substring
// search over display name, role and linked child name.
func (u UserSummary) MatchesQuery(query string) bool {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return true
	}
	return strings.Contains(strings.ToLower(u.DisplayName), q) ||
		strings.Contains(strings.ToLower(u.Role), q) ||
		strings.Contains(strings.ToLower(u.ChildName), q)
}
