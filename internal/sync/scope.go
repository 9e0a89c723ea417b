package sync

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/parkside-ed/engage-sync-go/internal/cache"
	"github.com/parkside-ed/engage-sync-go/internal/entity"
	"github.com/parkside-ed/engage-sync-go/internal/observability"
)

// ErrUnknownScope indicates a scope descriptor the controller cannot fetch.
var ErrUnknownScope = errors.New("unknown scope descriptor")

// ScopeKind names the family of a view scope.
type ScopeKind string

const (
	ScopePostStatus       ScopeKind = "post_status"
	ScopeConversation     ScopeKind = "conversation"
	ScopeConversationList ScopeKind = "conversation_list"
)

// Scope describes what the user is currently looking at: a moderation status
// tab, one conversation's messages, or the conversation list itself.
type Scope struct {
	Kind           ScopeKind
	Status         entity.PostStatus
	ConversationID string
}

// PostScope builds a status-tab descriptor.
func PostScope(status entity.PostStatus) Scope {
	return Scope{Kind: ScopePostStatus, Status: status}
}

// ConversationScope builds a descriptor for one conversation's messages.
func ConversationScope(conversationID string) Scope {
	return Scope{Kind: ScopeConversation, ConversationID: conversationID}
}

// ConversationListScope builds the descriptor for the conversation list.
func ConversationListScope() Scope {
	return Scope{Kind: ScopeConversationList}
}

// Key maps the descriptor onto its cache scope key.
func (s Scope) Key() cache.ScopeKey {
	switch s.Kind {
	case ScopePostStatus:
		return cache.PostStatusScope(s.Status)
	case ScopeConversation:
		return cache.MessagesScope(s.ConversationID)
	case ScopeConversationList:
		return cache.ConversationListScope
	}
	return ""
}

// ScopeController owns the mapping from the active view to the fetch that
// must run. Switching back to a scope within a session reuses cached
// membership unless a mutation invalidated it; a fetch that resolves after
// the active scope moved on is discarded without touching the cache.
type ScopeController struct {
	store  *cache.Store
	gw     scopeGateway
	logger zerolog.Logger
	tracer trace.Tracer

	mu     sync.Mutex
	active Scope
	epoch  uint64
}

// scopeGateway is the fetch surface the controller needs.
type scopeGateway interface {
	ListPosts(ctx context.Context, actor entity.Identity, status entity.PostStatus) ([]entity.Post, error)
	ListComments(ctx context.Context, actor entity.Identity, postID string) ([]entity.Comment, error)
	ListMessages(ctx context.Context, actor entity.Identity, conversationID string) ([]entity.Message, error)
	ListConversations(ctx context.Context, actor entity.Identity) ([]entity.Conversation, error)
}

// NewScopeController constructs a controller over the shared cache.
func NewScopeController(store *cache.Store, gw scopeGateway, logger zerolog.Logger) *ScopeController {
	return &ScopeController{
		store:  store,
		gw:     gw,
		logger: logger.With().Str("component", "scope_controller").Logger(),
		tracer: otel.Tracer("github.com/parkside-ed/engage-sync-go/internal/sync"),
	}
}

// Active returns the currently selected scope.
func (c *ScopeController) Active() Scope {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Activate switches the active scope and returns its membership. Cached
// membership is reused unless never fetched, marked stale, or force is set.
// On fetch failure the previous membership is returned untouched alongside
// the error, so a rendered view never goes blank.
func (c *ScopeController) Activate(ctx context.Context, actor entity.Identity, scope Scope, force bool) ([]string, error) {
	key := scope.Key()
	if key == "" {
		return nil, fmt.Errorf("activate %q: %w", scope.Kind, ErrUnknownScope)
	}

	c.mu.Lock()
	c.active = scope
	c.epoch++
	epoch := c.epoch
	c.mu.Unlock()

	ids, fetched := c.store.Scope(key)
	if fetched && !force && !c.store.ScopeStale(key) {
		observability.ScopeFetches().WithLabelValues("hit").Inc()
		return ids, nil
	}

	ctx, span := c.tracer.Start(ctx, "scope.fetch", trace.WithAttributes(
		attribute.String("scope.key", string(key)),
		attribute.Bool("scope.forced", force),
	))
	defer span.End()

	freshIDs, err := c.fetch(ctx, actor, scope)
	if err != nil {
		span.RecordError(err)
		observability.ScopeFetches().WithLabelValues("error").Inc()
		c.logger.Warn().Err(err).Str("scope", string(key)).Msg("scope fetch failed, keeping previous membership")
		return ids, err
	}

	// A stale fetch must not clobber whatever scope is active now, nor a
	// newer fetch of the same scope.
	c.mu.Lock()
	stale := c.epoch != epoch
	c.mu.Unlock()
	if stale {
		observability.StaleScopeDiscards().Inc()
		c.logger.Debug().Str("scope", string(key)).Msg("discarding fetch result for superseded scope")
		return ids, nil
	}

	c.store.SetScope(key, freshIDs)
	observability.ScopeFetches().WithLabelValues("fetch").Inc()
	return freshIDs, nil
}

// Refresh forces a refetch of the currently active scope.
func (c *ScopeController) Refresh(ctx context.Context, actor entity.Identity) ([]string, error) {
	c.mu.Lock()
	scope := c.active
	c.mu.Unlock()
	return c.Activate(ctx, actor, scope, true)
}

// LoadComments fetches and caches the comment thread of a post. Comment
// threads are keyed per post and follow the same wholesale-replacement rule
// as every other scope.
func (c *ScopeController) LoadComments(ctx context.Context, actor entity.Identity, postID string, force bool) ([]string, error) {
	key := cache.CommentsScope(postID)

	ids, fetched := c.store.Scope(key)
	if fetched && !force && !c.store.ScopeStale(key) {
		observability.ScopeFetches().WithLabelValues("hit").Inc()
		return ids, nil
	}

	comments, err := c.gw.ListComments(ctx, actor, postID)
	if err != nil {
		observability.ScopeFetches().WithLabelValues("error").Inc()
		return ids, err
	}

	fresh := make([]string, 0, len(comments))
	for _, comment := range comments {
		c.store.UpsertComment(comment)
		fresh = append(fresh, comment.ID)
		for _, reply := range comment.Replies {
			c.store.UpsertComment(reply)
		}
	}
	c.store.SetScope(key, fresh)
	observability.ScopeFetches().WithLabelValues("fetch").Inc()
	return fresh, nil
}

func (c *ScopeController) fetch(ctx context.Context, actor entity.Identity, scope Scope) ([]string, error) {
	switch scope.Kind {
	case ScopePostStatus:
		posts, err := c.gw.ListPosts(ctx, actor, scope.Status)
		if err != nil {
			return nil, err
		}
		ids := make([]string, 0, len(posts))
		for _, post := range posts {
			c.store.UpsertPost(post)
			ids = append(ids, post.ID)
		}
		return ids, nil

	case ScopeConversation:
		messages, err := c.gw.ListMessages(ctx, actor, scope.ConversationID)
		if err != nil {
			return nil, err
		}
		ids := make([]string, 0, len(messages))
		for _, msg := range messages {
			c.store.UpsertMessage(msg)
			ids = append(ids, msg.ID)
		}
		return ids, nil

	case ScopeConversationList:
		conversations, err := c.gw.ListConversations(ctx, actor)
		if err != nil {
			return nil, err
		}
		ids := make([]string, 0, len(conversations))
		for _, conv := range conversations {
			c.store.UpsertConversation(conv)
			ids = append(ids, conv.ID)
		}
		return ids, nil
	}

	return nil, fmt.Errorf("fetch %q: %w", scope.Kind, ErrUnknownScope)
}
