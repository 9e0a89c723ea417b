package cache

import (
	"fmt"
	"slices"
	"sync"

	"github.com/rs/zerolog"

	"github.com/parkside-ed/engage-sync-go/internal/entity"
)

// ScopeKey names a partial view of an entity kind: a status tab for posts,
// a conversation for messages, the full list for conversations.
type ScopeKey string

// PostStatusScope keys the membership of a moderation-status tab.
func PostStatusScope(status entity.PostStatus) ScopeKey {
	return ScopeKey(fmt.Sprintf("posts:status:%s", status))
}

// CommentsScope keys the comment listing of a single post.
func CommentsScope(postID string) ScopeKey {
	return ScopeKey(fmt.Sprintf("comments:post:%s", postID))
}

// MessagesScope keys the message listing of a single conversation.
func MessagesScope(conversationID string) ScopeKey {
	return ScopeKey(fmt.Sprintf("messages:conversation:%s", conversationID))
}

// ConversationListScope keys the viewer's conversation list.
const ConversationListScope ScopeKey = "conversations:all"

// Store holds the last known server snapshot of every entity plus scope
// membership indexes. It performs no network I/O; all reads return copies so
// no caller can mutate a cached snapshot in place.
type Store struct {
	mu            sync.RWMutex
	posts         map[string]entity.Post
	comments      map[string]entity.Comment
	conversations map[string]entity.Conversation
	messages      map[string]entity.Message
	scopes        map[ScopeKey][]string
	staleScopes   map[ScopeKey]struct{}
	log           zerolog.Logger
}

// NewStore constructs an empty entity cache.
func NewStore(logger zerolog.Logger) *Store {
	return &Store{
		posts:         make(map[string]entity.Post),
		comments:      make(map[string]entity.Comment),
		conversations: make(map[string]entity.Conversation),
		messages:      make(map[string]entity.Message),
		scopes:        make(map[ScopeKey][]string),
		staleScopes:   make(map[ScopeKey]struct{}),
		log:           logger.With().Str("component", "entity_cache").Logger(),
	}
}

// UpsertPost replaces the cached snapshot for the post's id. Partial updates
// must be merged by the caller before upserting; the store never merges.
func (s *Store) UpsertPost(post entity.Post) {
	s.mu.Lock()
	defer s.mu.Unlock()
	post.Attachments = slices.Clone(post.Attachments)
	s.posts[post.ID] = post
}

// Post returns a copy of the cached post snapshot.
func (s *Store) Post(id string) (entity.Post, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	post, ok := s.posts[id]
	if ok {
		post.Attachments = slices.Clone(post.Attachments)
	}
	return post, ok
}

// DeletePost removes the post and cascades: its comments, its comment scope
// and its membership in every post scope are dropped. Conversations and
// messages have separate lifecycles and are untouched.
func (s *Store) DeletePost(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.posts, id)
	for commentID, comment := range s.comments {
		if comment.PostID == id {
			delete(s.comments, commentID)
		}
	}
	delete(s.scopes, CommentsScope(id))
	delete(s.staleScopes, CommentsScope(id))
	for key, ids := range s.scopes {
		if idx := slices.Index(ids, id); idx >= 0 {
			s.scopes[key] = slices.Delete(ids, idx, idx+1)
		}
	}
	s.log.Debug().Str("post_id", id).Msg("post removed from cache with cascades")
}

// UpsertComment replaces the cached snapshot for the comment's id.
func (s *Store) UpsertComment(comment entity.Comment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	comment.Replies = slices.Clone(comment.Replies)
	s.comments[comment.ID] = comment
}

// Comment returns a copy of the cached comment snapshot.
func (s *Store) Comment(id string) (entity.Comment, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	comment, ok := s.comments[id]
	if ok {
		comment.Replies = slices.Clone(comment.Replies)
	}
	return comment, ok
}

// DeleteComment removes a single comment snapshot and its scope memberships.
func (s *Store) DeleteComment(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.comments, id)
	for key, ids := range s.scopes {
		if idx := slices.Index(ids, id); idx >= 0 {
			s.scopes[key] = slices.Delete(ids, idx, idx+1)
		}
	}
}

// UpsertConversation replaces the cached snapshot for the conversation's id.
func (s *Store) UpsertConversation(conv entity.Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv.Participants = slices.Clone(conv.Participants)
	if conv.LastMessage != nil {
		last := *conv.LastMessage
		conv.LastMessage = &last
	}
	s.conversations[conv.ID] = conv
}

// Conversation returns a copy of the cached conversation snapshot.
func (s *Store) Conversation(id string) (entity.Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[id]
	if ok {
		conv.Participants = slices.Clone(conv.Participants)
		if conv.LastMessage != nil {
			last := *conv.LastMessage
			conv.LastMessage = &last
		}
	}
	return conv, ok
}

// Conversations returns copies of every cached conversation snapshot.
func (s *Store) Conversations() []entity.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]entity.Conversation, 0, len(s.conversations))
	for _, conv := range s.conversations {
		conv.Participants = slices.Clone(conv.Participants)
		if conv.LastMessage != nil {
			last := *conv.LastMessage
			conv.LastMessage = &last
		}
		out = append(out, conv)
	}
	return out
}

// UpsertMessage replaces the cached snapshot for the message's id.
func (s *Store) UpsertMessage(msg entity.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.Attachment != nil {
		att := *msg.Attachment
		msg.Attachment = &att
	}
	s.messages[msg.ID] = msg
}

// Message returns a copy of the cached message snapshot.
func (s *Store) Message(id string) (entity.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msg, ok := s.messages[id]
	if ok && msg.Attachment != nil {
		att := *msg.Attachment
		msg.Attachment = &att
	}
	return msg, ok
}

// DeleteMessage removes a message snapshot and its scope memberships.
func (s *Store) DeleteMessage(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.messages, id)
	for key, ids := range s.scopes {
		if idx := slices.Index(ids, id); idx >= 0 {
			s.scopes[key] = slices.Delete(ids, idx, idx+1)
		}
	}
}

// SetScope replaces scope membership wholesale and clears any stale mark.
// The backend is the source of truth, so no incremental diffing happens.
func (s *Store) SetScope(key ScopeKey, ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scopes[key] = slices.Clone(ids)
	delete(s.staleScopes, key)
}

// Scope returns the last fetched membership for the key and whether a fetch
// was ever recorded.
func (s *Store) Scope(key ScopeKey) ([]string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids, ok := s.scopes[key]
	return slices.Clone(ids), ok
}

// AppendToScope adds an id to the end of a scope's membership if absent.
func (s *Store) AppendToScope(key ScopeKey, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if slices.Contains(s.scopes[key], id) {
		return
	}
	s.scopes[key] = append(s.scopes[key], id)
}

// PrependToScope adds an id to the front of a scope's membership if absent.
func (s *Store) PrependToScope(key ScopeKey, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if slices.Contains(s.scopes[key], id) {
		return
	}
	s.scopes[key] = append([]string{id}, s.scopes[key]...)
}

// RemoveFromScope drops an id from a scope's membership.
func (s *Store) RemoveFromScope(key ScopeKey, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.scopes[key]
	if idx := slices.Index(ids, id); idx >= 0 {
		s.scopes[key] = slices.Delete(ids, idx, idx+1)
	}
}

// ReplaceInScope swaps a temporary id for its server-assigned one in place,
// preserving ordering. Used when an append-style mutation is acknowledged.
func (s *Store) ReplaceInScope(key ScopeKey, oldID, newID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.scopes[key]
	if idx := slices.Index(ids, oldID); idx >= 0 {
		ids[idx] = newID
	}
}

// MarkScopeStale flags a scope so the next activation refetches it. The
// prior membership stays available for rendering until the refetch lands.
func (s *Store) MarkScopeStale(key ScopeKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.scopes[key]; ok {
		s.staleScopes[key] = struct{}{}
	}
}

// ScopeStale reports whether a scope was invalidated by a mutation.
func (s *Store) ScopeStale(key ScopeKey) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, stale := s.staleScopes[key]
	return stale
}
