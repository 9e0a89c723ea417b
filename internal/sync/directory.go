package sync

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/parkside-ed/engage-sync-go/internal/cache"
	"github.com/parkside-ed/engage-sync-go/internal/entity"
	"github.com/parkside-ed/engage-sync-go/internal/observability"
)

// directoryGateway is the surface the overlay needs from the backend.
type directoryGateway interface {
	ListUsers(ctx context.Context, actor entity.Identity) ([]entity.UserSummary, error)
	CreatePrivateConversation(ctx context.Context, actor entity.Identity, targetUserID string) (entity.Conversation, error)
}

// Directory is the search overlay over all known counterparties. It keeps
// its own user cache, independent of the entity cache's conversation scopes,
// and resolves a target user to an existing or newly created private
// conversation.
type Directory struct {
	store  *cache.Store
	gw     directoryGateway
	logger zerolog.Logger
	tracer trace.Tracer

	mu       sync.Mutex
	users    []entity.UserSummary
	loaded   bool
	inflight map[string]*resolveCall
}

type resolveCall struct {
	done chan struct{}
	conv entity.Conversation
	err  error
}

// NewDirectory constructs the overlay.
func NewDirectory(store *cache.Store, gw directoryGateway, logger zerolog.Logger) *Directory {
	return &Directory{
		store:    store,
		gw:       gw,
		logger:   logger.With().Str("component", "directory").Logger(),
		tracer:   otel.Tracer("github.com/parkside-ed/engage-sync-go/internal/sync"),
		inflight: make(map[string]*resolveCall),
	}
}

// Load fetches the counterparty directory. Subsequent calls refresh it; a
// failed refresh keeps the previous listing.
func (d *Directory) Load(ctx context.Context, actor entity.Identity) error {
	users, err := d.gw.ListUsers(ctx, actor)
	if err != nil {
		return err
	}

	d.mu.Lock()
	d.users = users
	d.loaded = true
	d.mu.Unlock()

	d.logger.Debug().Int("users", len(users)).Msg("directory loaded")
	return nil
}

// Loaded reports whether the directory has been fetched at least once.
func (d *Directory) Loaded() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.loaded
}

// Search filters the directory by a case-insensitive substring over display
// name, role and linked child name. Search is advisory and never mutates the
// entity cache.
func (d *Directory) Search(query string) []entity.UserSummary {
	d.mu.Lock()
	defer d.mu.Unlock()

	matches := make([]entity.UserSummary, 0, len(d.users))
	for _, user := range d.users {
		if user.MatchesQuery(query) {
			matches = append(matches, user)
		}
	}
	return matches
}

// ResolveOrCreateConversation returns the private conversation between the
// actor and the target, creating it only when no cached one exists. A second
// caller racing the same target awaits and reuses the first creation, so the
// pair invariant holds even under concurrent resolution.
func (d *Directory) ResolveOrCreateConversation(ctx context.Context, actor entity.Identity, targetUserID string) (entity.Conversation, error) {
	for _, conv := range d.store.Conversations() {
		if conv.IsPrivateBetween(actor.UserID, targetUserID) {
			observability.ConversationsResolved().WithLabelValues("existing").Inc()
			return conv, nil
		}
	}

	d.mu.Lock()
	if call, ok := d.inflight[targetUserID]; ok {
		d.mu.Unlock()
		observability.ConversationsResolved().WithLabelValues("shared").Inc()
		select {
		case <-call.done:
			return call.conv, call.err
		case <-ctx.Done():
			return entity.Conversation{}, ctx.Err()
		}
	}
	call := &resolveCall{done: make(chan struct{})}
	d.inflight[targetUserID] = call
	d.mu.Unlock()

	ctx, span := d.tracer.Start(ctx, "directory.create_conversation", trace.WithAttributes(
		attribute.String("target.id", targetUserID),
	))
	defer span.End()

	conv, err := d.gw.CreatePrivateConversation(ctx, actor, targetUserID)
	if err == nil {
		d.store.UpsertConversation(conv)
		d.store.PrependToScope(cache.ConversationListScope, conv.ID)
		observability.ConversationsResolved().WithLabelValues("created").Inc()
	} else {
		span.RecordError(err)
	}

	call.conv = conv
	call.err = err
	close(call.done)

	d.mu.Lock()
	delete(d.inflight, targetUserID)
	d.mu.Unlock()

	return conv, err
}
