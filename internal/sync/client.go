package sync

import (
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/parkside-ed/engage-sync-go/internal/cache"
	"github.com/parkside-ed/engage-sync-go/internal/gateway"
	"github.com/parkside-ed/engage-sync-go/internal/questionnaire"
)

// Client bundles one session's sync components over a shared entity cache.
// Views talk to Scopes for what to render, Engine for mutations, Directory
// for finding counterparties and Messages/Posts for composing outgoing
// content.
type Client struct {
	Store     *cache.Store
	Engine    *Engine
	Scopes    *ScopeController
	Directory *Directory
	Messages  *MessageComposer
	Posts     *PostComposer
	Feed      *LiveFeed
}

// NewClient wires a session. The uploader may be nil; engine options are
// forwarded unchanged.
func NewClient(store *cache.Store, gw gateway.Gateway, uploader Uploader, logger zerolog.Logger, engineOpts ...EngineOption) (*Client, error) {
	qvalidate, err := questionnaire.NewValidator()
	if err != nil {
		return nil, err
	}
	validate := validator.New(validator.WithRequiredStructEnabled())

	engine := NewEngine(store, gw, logger, engineOpts...)
	return &Client{
		Store:     store,
		Engine:    engine,
		Scopes:    NewScopeController(store, gw, logger),
		Directory: NewDirectory(store, gw, logger),
		Messages:  NewMessageComposer(engine, gw, qvalidate, validate, uploader, logger),
		Posts:     NewPostComposer(engine, validate, uploader, logger),
		Feed:      NewLiveFeed(engine, logger),
	}, nil
}
