// Package events publishes engagement lifecycle events for other clients of
// the platform (notification fan-out, staff dashboards). Publishing is
// strictly best effort; the sync layer never fails a mutation over it.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

const (
	SubjectPostApproved = "engage.forum.post_approved"
	SubjectPostRejected = "engage.forum.post_rejected"
	SubjectMessageSent  = "engage.chat.message_sent"
)

// PostEvent describes a moderation transition on a forum post.
type PostEvent struct {
	PostID  string `json:"post_id"`
	Status  string `json:"status"`
	ActorID string `json:"actor_id"`
}

// MessageEvent describes a confirmed outgoing chat message.
type MessageEvent struct {
	MessageID      string `json:"message_id"`
	ConversationID string `json:"conversation_id"`
	SenderID       string `json:"sender_id"`
	Kind           string `json:"kind"`
}

// Publisher delivers engagement events to interested subscribers.
type Publisher interface {
	Publish(ctx context.Context, subject string, payload any) error
}

type envelope struct {
	Source  string          `json:"source"`
	SentAt  time.Time       `json:"sent_at"`
	Payload json.RawMessage `json:"payload"`
}

// NATSPublisher publishes JSON envelopes over a NATS connection. Each
// publisher carries a node id so subscribers can discard their own echoes.
type NATSPublisher struct {
	conn   *nats.Conn
	nodeID string
	logger zerolog.Logger
}

// NewNATSPublisher wraps an established NATS connection.
func NewNATSPublisher(conn *nats.Conn, logger zerolog.Logger) *NATSPublisher {
	return &NATSPublisher{
		conn:   conn,
		nodeID: uuid.NewString(),
		logger: logger.With().Str("component", "event_publisher").Logger(),
	}
}

// Publish marshals the payload into an envelope and sends it on the subject.
func (p *NATSPublisher) Publish(_ context.Context, subject string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event payload: %w", err)
	}

	body, err := json.Marshal(envelope{Source: p.nodeID, SentAt: time.Now().UTC(), Payload: raw})
	if err != nil {
		return fmt.Errorf("failed to marshal event envelope: %w", err)
	}

	if err := p.conn.Publish(subject, body); err != nil {
		return fmt.Errorf("failed to publish %s: %w", subject, err)
	}

	p.logger.Debug().Str("subject", subject).Msg("engagement event published")
	return nil
}
