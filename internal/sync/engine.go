// Package sync implements the client-side engagement state-synchronization
// layer: an optimistic mutation engine, a view scope controller, the
// directory/search overlay and the outgoing composers, all sharing one
// entity cache and talking to the remote gateway.
package sync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/parkside-ed/engage-sync-go/internal/cache"
	"github.com/parkside-ed/engage-sync-go/internal/entity"
	"github.com/parkside-ed/engage-sync-go/internal/events"
	"github.com/parkside-ed/engage-sync-go/internal/gateway"
	"github.com/parkside-ed/engage-sync-go/internal/observability"
)

var (
	// ErrNotCached indicates a mutation targeted an entity the cache has
	// never seen; the view must fetch before mutating.
	ErrNotCached = errors.New("entity not present in cache")
	// ErrInvalidTransition indicates a moderation transition the lifecycle
	// forbids, caught before any network call.
	ErrInvalidTransition = errors.New("post status transition not permitted")
	// ErrParentMismatch indicates a reply whose parent comment belongs to a
	// different post.
	ErrParentMismatch = errors.New("parent comment belongs to a different post")
)

const localIDPrefix = "local-"

// Engine applies local projections of mutations to the entity cache before
// the gateway confirms them, then reconciles with the authoritative response
// or rolls back. Mutations against the same entity are sequenced so a late
// response never overwrites a newer local projection.
type Engine struct {
	store     *cache.Store
	gw        gateway.Gateway
	publisher events.Publisher
	logger    zerolog.Logger
	tracer    trace.Tracer
	timeout   time.Duration
	now       func() time.Time

	mu   sync.Mutex
	seqs map[seqKey]uint64

	pendingMu sync.Mutex
	pending   map[string]struct{}
}

type seqKey struct {
	kind entity.Kind
	id   string
}

// EngineOption customises an Engine.
type EngineOption func(*Engine)

// WithPublisher attaches an event publisher notified after confirmed
// mutations.
func WithPublisher(publisher events.Publisher) EngineOption {
	return func(e *Engine) {
		e.publisher = publisher
	}
}

// WithTimeout bounds every gateway call the engine issues. A call exceeding
// the bound counts as a failure and triggers rollback.
func WithTimeout(timeout time.Duration) EngineOption {
	return func(e *Engine) {
		e.timeout = timeout
	}
}

// WithClock injects the time source.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		e.now = now
	}
}

// NewEngine constructs the optimistic mutation engine.
func NewEngine(store *cache.Store, gw gateway.Gateway, logger zerolog.Logger, opts ...EngineOption) *Engine {
	engine := &Engine{
		store:   store,
		gw:      gw,
		logger:  logger.With().Str("component", "mutation_engine").Logger(),
		tracer:  otel.Tracer("github.com/parkside-ed/engage-sync-go/internal/sync"),
		now:     time.Now,
		seqs:    make(map[seqKey]uint64),
		pending: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(engine)
	}
	return engine
}

// issue assigns the next sequence number for the entity. The resolution of a
// mutation is applied only while its number is still the latest.
func (e *Engine) issue(kind entity.Kind, id string) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seqs[seqKey{kind, id}]++
	return e.seqs[seqKey{kind, id}]
}

func (e *Engine) isCurrent(kind entity.Kind, id string, seq uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.seqs[seqKey{kind, id}] == seq
}

func (e *Engine) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.timeout > 0 {
		return context.WithTimeout(ctx, e.timeout)
	}
	return ctx, func() {}
}

// ToggleLike flips the viewer's like on a post. The projected count and flag
// change together and render immediately; the server tally wins on
// reconciliation.
func (e *Engine) ToggleLike(ctx context.Context, actor entity.Identity, postID string) (entity.Post, error) {
	before, ok := e.store.Post(postID)
	if !ok {
		return entity.Post{}, fmt.Errorf("toggle like %s: %w", postID, ErrNotCached)
	}

	projected := before
	if projected.ViewerHasLiked {
		projected.ViewerHasLiked = false
		if projected.LikeCount > 0 {
			projected.LikeCount--
		}
	} else {
		projected.ViewerHasLiked = true
		projected.LikeCount++
	}

	seq := e.issue(entity.KindPost, postID)
	e.store.UpsertPost(projected)

	ctx, span := e.tracer.Start(ctx, "engine.toggle_like", trace.WithAttributes(
		attribute.String("post.id", postID),
		attribute.String("actor.id", actor.UserID),
	))
	defer span.End()

	callCtx, cancel := e.callCtx(ctx)
	defer cancel()

	state, err := e.gw.ToggleLike(callCtx, actor, postID)
	if err != nil {
		span.RecordError(err)
		return e.rollbackPost(postID, before, seq, "like", err)
	}

	if !e.isCurrent(entity.KindPost, postID, seq) {
		observability.StaleResolutions().Inc()
		current, _ := e.store.Post(postID)
		return current, nil
	}

	// Merge only the fields the response is authoritative for.
	current, ok := e.store.Post(postID)
	if !ok {
		current = projected
	}
	current.LikeCount = state.LikeCount
	current.ViewerHasLiked = state.ViewerHasLiked
	e.store.UpsertPost(current)

	observability.Mutations().WithLabelValues("like", "confirmed").Inc()
	return current, nil
}

// TogglePin flips the pinned flag of a post.
func (e *Engine) TogglePin(ctx context.Context, actor entity.Identity, postID string) (entity.Post, error) {
	before, ok := e.store.Post(postID)
	if !ok {
		return entity.Post{}, fmt.Errorf("toggle pin %s: %w", postID, ErrNotCached)
	}

	projected := before
	projected.Pinned = !projected.Pinned

	seq := e.issue(entity.KindPost, postID)
	e.store.UpsertPost(projected)

	callCtx, cancel := e.callCtx(ctx)
	defer cancel()

	state, err := e.gw.TogglePin(callCtx, actor, postID)
	if err != nil {
		return e.rollbackPost(postID, before, seq, "pin", err)
	}

	if !e.isCurrent(entity.KindPost, postID, seq) {
		observability.StaleResolutions().Inc()
		current, _ := e.store.Post(postID)
		return current, nil
	}

	current, ok := e.store.Post(postID)
	if !ok {
		current = projected
	}
	current.Pinned = state.Pinned
	e.store.UpsertPost(current)

	observability.Mutations().WithLabelValues("pin", "confirmed").Inc()
	return current, nil
}

func (e *Engine) rollbackPost(postID string, before entity.Post, seq uint64, kind string, err error) (entity.Post, error) {
	if e.isCurrent(entity.KindPost, postID, seq) {
		e.store.UpsertPost(before)
		observability.Rollbacks().WithLabelValues(kind).Inc()
		e.logger.Warn().Err(err).Str("post_id", postID).Str("mutation", kind).Msg("optimistic mutation rolled back")
	} else {
		observability.StaleResolutions().Inc()
	}
	observability.Mutations().WithLabelValues(kind, "failed").Inc()
	return before, err
}

// ApprovePost transitions a pending post to posted. On success the post
// leaves its source status scope and the destination scope is marked for
// refetch; on a conflict the source scope is resynced instead.
func (e *Engine) ApprovePost(ctx context.Context, actor entity.Identity, postID string) (entity.Post, error) {
	return e.transitionPost(ctx, actor, postID, entity.PostStatusPosted, e.gw.ApprovePost, events.SubjectPostApproved)
}

// RejectPost transitions a pending post to rejected.
func (e *Engine) RejectPost(ctx context.Context, actor entity.Identity, postID string) (entity.Post, error) {
	return e.transitionPost(ctx, actor, postID, entity.PostStatusRejected, e.gw.RejectPost, events.SubjectPostRejected)
}

func (e *Engine) transitionPost(
	ctx context.Context,
	actor entity.Identity,
	postID string,
	target entity.PostStatus,
	call func(context.Context, entity.Identity, string) (entity.Post, error),
	subject string,
) (entity.Post, error) {
	before, cached := e.store.Post(postID)
	if cached && !before.Status.CanTransitionTo(target) {
		return before, fmt.Errorf("post %s is %s: %w", postID, before.Status, ErrInvalidTransition)
	}

	ctx, span := e.tracer.Start(ctx, "engine.transition_post", trace.WithAttributes(
		attribute.String("post.id", postID),
		attribute.String("post.target_status", string(target)),
	))
	defer span.End()

	seq := e.issue(entity.KindPost, postID)

	callCtx, cancel := e.callCtx(ctx)
	defer cancel()

	updated, err := call(callCtx, actor, postID)
	if err != nil {
		span.RecordError(err)
		observability.Mutations().WithLabelValues("transition", "failed").Inc()
		if gateway.KindOf(err) == gateway.KindConflict && cached {
			// Authoritative state moved underneath us; force the source
			// scope to resync on its next activation.
			e.store.MarkScopeStale(cache.PostStatusScope(before.Status))
		}
		return before, err
	}

	if !e.isCurrent(entity.KindPost, postID, seq) {
		observability.StaleResolutions().Inc()
		current, _ := e.store.Post(postID)
		return current, nil
	}

	e.store.UpsertPost(updated)
	if cached {
		e.store.RemoveFromScope(cache.PostStatusScope(before.Status), postID)
	}
	e.store.MarkScopeStale(cache.PostStatusScope(updated.Status))

	observability.Mutations().WithLabelValues("transition", "confirmed").Inc()
	e.publish(ctx, subject, events.PostEvent{PostID: postID, Status: string(updated.Status), ActorID: actor.UserID})
	return updated, nil
}

// DeletePost removes a post. The cache cascade (comments, likes, scope
// memberships) runs only after the gateway confirms; message history in
// conversations is never touched by post deletion.
func (e *Engine) DeletePost(ctx context.Context, actor entity.Identity, postID string) error {
	callCtx, cancel := e.callCtx(ctx)
	defer cancel()

	if err := e.gw.DeletePost(callCtx, actor, postID); err != nil {
		observability.Mutations().WithLabelValues("delete", "failed").Inc()
		return err
	}

	e.issue(entity.KindPost, postID)
	e.store.DeletePost(postID)
	observability.Mutations().WithLabelValues("delete", "confirmed").Inc()
	return nil
}

// CreatePost submits a composed post. The backend decides the initial status
// (staff posts publish immediately, parent posts queue for approval), so the
// snapshot is inserted after confirmation rather than optimistically.
func (e *Engine) CreatePost(ctx context.Context, actor entity.Identity, input gateway.CreatePostInput) (entity.Post, error) {
	callCtx, cancel := e.callCtx(ctx)
	defer cancel()

	created, err := e.gw.CreatePost(callCtx, actor, input)
	if err != nil {
		observability.Mutations().WithLabelValues("create_post", "failed").Inc()
		return entity.Post{}, err
	}

	e.store.UpsertPost(created)
	e.store.PrependToScope(cache.PostStatusScope(created.Status), created.ID)
	observability.Mutations().WithLabelValues("create_post", "confirmed").Inc()
	return created, nil
}

// AppendComment optimistically appends a comment to a post's thread with a
// temporary id, replacing it with the server-assigned entity on
// confirmation. The comment count on the owning post moves with it.
func (e *Engine) AppendComment(ctx context.Context, actor entity.Identity, postID, body, parentID string) (entity.Comment, error) {
	post, ok := e.store.Post(postID)
	if !ok {
		return entity.Comment{}, fmt.Errorf("append comment on %s: %w", postID, ErrNotCached)
	}

	if parentID != "" {
		parent, ok := e.store.Comment(parentID)
		if !ok || parent.PostID != postID {
			return entity.Comment{}, fmt.Errorf("reply under %s: %w", parentID, ErrParentMismatch)
		}
	}

	tempID := localIDPrefix + uuid.NewString()
	local := entity.Comment{
		ID:        tempID,
		PostID:    postID,
		Author:    entity.UserSummary{ID: actor.UserID, Role: actor.Role},
		Body:      body,
		CreatedAt: e.now().UTC(),
		ParentID:  parentID,
	}

	scope := cache.CommentsScope(postID)
	postSeq := e.issue(entity.KindPost, postID)

	e.store.UpsertComment(local)
	e.store.AppendToScope(scope, tempID)
	projected := post
	projected.CommentCount++
	e.store.UpsertPost(projected)

	callCtx, cancel := e.callCtx(ctx)
	defer cancel()

	created, err := e.gw.CreateComment(callCtx, actor, postID, body, parentID)
	if err != nil {
		e.store.DeleteComment(tempID)
		if e.isCurrent(entity.KindPost, postID, postSeq) {
			e.store.UpsertPost(post)
			observability.Rollbacks().WithLabelValues("comment").Inc()
		} else {
			observability.StaleResolutions().Inc()
		}
		observability.Mutations().WithLabelValues("comment", "failed").Inc()
		e.logger.Warn().Err(err).Str("post_id", postID).Msg("optimistic comment removed after gateway failure")
		return entity.Comment{}, err
	}

	e.store.UpsertComment(created)
	e.store.ReplaceInScope(scope, tempID, created.ID)
	e.store.DeleteComment(tempID)
	e.store.AppendToScope(scope, created.ID)

	observability.Mutations().WithLabelValues("comment", "confirmed").Inc()
	return created, nil
}

// SendMessage optimistically appends a composed message to its conversation
// under a temporary id and a client correlation token. On confirmation the
// server entity replaces the local one, matched by the token rather than
// content equality; on failure the local message disappears entirely.
func (e *Engine) SendMessage(ctx context.Context, actor entity.Identity, input gateway.SendMessageInput) (entity.Message, error) {
	correlation := uuid.NewString()
	input.Correlation = correlation

	tempID := localIDPrefix + correlation
	local := entity.Message{
		ID:             tempID,
		ConversationID: input.ConversationID,
		Sender:         entity.UserSummary{ID: actor.UserID, Role: actor.Role},
		CreatedAt:      e.now().UTC(),
		Text:           input.Text,
		Correlation:    correlation,
	}
	switch {
	case input.QuestionnaireID != "":
		local.Kind = entity.MessageQuestionnaire
		local.QuestionnaireID = input.QuestionnaireID
	case input.Attachment != nil || input.AttachmentLocator != nil:
		local.Kind = entity.MessageAttachment
		if input.AttachmentLocator != nil {
			ref := *input.AttachmentLocator
			local.Attachment = &ref
		} else {
			local.Attachment = &entity.AttachmentRef{Name: input.Attachment.Name}
		}
	default:
		local.Kind = entity.MessageText
	}

	scope := cache.MessagesScope(input.ConversationID)
	convBefore, convCached := e.store.Conversation(input.ConversationID)

	e.trackPending(correlation)
	defer e.untrackPending(correlation)

	e.store.UpsertMessage(local)
	e.store.AppendToScope(scope, tempID)
	if convCached {
		projected := convBefore
		msg := local
		projected.LastMessage = &msg
		projected.UpdatedAt = local.CreatedAt
		e.store.UpsertConversation(projected)
	}

	ctx, span := e.tracer.Start(ctx, "engine.send_message", trace.WithAttributes(
		attribute.String("conversation.id", input.ConversationID),
		attribute.String("message.kind", string(local.Kind)),
		attribute.String("correlation_id", correlation),
	))
	defer span.End()

	callCtx, cancel := e.callCtx(ctx)
	defer cancel()

	created, err := e.gw.SendMessage(callCtx, actor, input)
	if err != nil {
		span.RecordError(err)
		e.store.DeleteMessage(tempID)
		if convCached {
			e.store.UpsertConversation(convBefore)
		}
		observability.Rollbacks().WithLabelValues("message").Inc()
		observability.Mutations().WithLabelValues("message", "failed").Inc()
		e.logger.Warn().Err(err).Str("conversation_id", input.ConversationID).Msg("optimistic message removed after gateway failure")
		return entity.Message{}, err
	}

	if created.Correlation == "" {
		created.Correlation = correlation
	}

	e.store.UpsertMessage(created)
	e.store.ReplaceInScope(scope, tempID, created.ID)
	e.store.DeleteMessage(tempID)
	e.store.AppendToScope(scope, created.ID)
	if conv, ok := e.store.Conversation(input.ConversationID); ok {
		msg := created
		conv.LastMessage = &msg
		conv.UpdatedAt = created.CreatedAt
		e.store.UpsertConversation(conv)
	}

	observability.Mutations().WithLabelValues("message", "confirmed").Inc()
	e.publish(ctx, events.SubjectMessageSent, events.MessageEvent{
		MessageID:      created.ID,
		ConversationID: created.ConversationID,
		SenderID:       actor.UserID,
		Kind:           string(created.Kind),
	})
	return created, nil
}

// ApplyInboundMessage merges a message delivered outside the request cycle
// (live feed) into the cache. Echoes of the viewer's own in-flight sends are
// ignored; the acknowledgement path reconciles those.
func (e *Engine) ApplyInboundMessage(msg entity.Message) {
	if msg.ID == "" || msg.ConversationID == "" {
		return
	}
	if msg.Correlation != "" && e.isPending(msg.Correlation) {
		return
	}
	if _, exists := e.store.Message(msg.ID); exists {
		return
	}

	e.store.UpsertMessage(msg)
	e.store.AppendToScope(cache.MessagesScope(msg.ConversationID), msg.ID)
	if conv, ok := e.store.Conversation(msg.ConversationID); ok {
		m := msg
		conv.LastMessage = &m
		if msg.CreatedAt.After(conv.UpdatedAt) {
			conv.UpdatedAt = msg.CreatedAt
		}
		e.store.UpsertConversation(conv)
	}
}

func (e *Engine) trackPending(correlation string) {
	e.pendingMu.Lock()
	defer e.pendingMu.Unlock()
	e.pending[correlation] = struct{}{}
}

func (e *Engine) untrackPending(correlation string) {
	e.pendingMu.Lock()
	defer e.pendingMu.Unlock()
	delete(e.pending, correlation)
}

func (e *Engine) isPending(correlation string) bool {
	e.pendingMu.Lock()
	defer e.pendingMu.Unlock()
	_, ok := e.pending[correlation]
	return ok
}

func (e *Engine) publish(ctx context.Context, subject string, payload any) {
	if e.publisher == nil {
		return
	}
	if err := e.publisher.Publish(ctx, subject, payload); err != nil {
		e.logger.Warn().Err(err).Str("subject", subject).Msg("failed to publish engagement event")
	}
}
