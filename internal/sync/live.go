package sync

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/parkside-ed/engage-sync-go/internal/entity"
)

const liveReadDeadline = 90 * time.Second

// liveEvent is the frame the backend pushes for each new chat message.
type liveEvent struct {
	Type    string         `json:"type"`
	Message entity.Message `json:"message"`
}

// LiveFeed subscribes to the gateway's websocket push channel and merges
// inbound messages into the cache through the engine. Each feed serves one
// session; reconnecting after a drop is the caller's decision.
type LiveFeed struct {
	engine *Engine
	logger zerolog.Logger
	dialer *websocket.Dialer
}

// NewLiveFeed constructs a feed bound to the engine.
func NewLiveFeed(engine *Engine, logger zerolog.Logger) *LiveFeed {
	return &LiveFeed{
		engine: engine,
		logger: logger.With().Str("component", "live_feed").Logger(),
		dialer: websocket.DefaultDialer,
	}
}

// Run dials the endpoint and consumes events until the context is cancelled
// or the connection drops. The viewer's identity travels in the same headers
// the REST gateway uses.
func (f *LiveFeed) Run(ctx context.Context, endpoint string, actor entity.Identity) error {
	header := http.Header{}
	header.Set("User-ID", actor.UserID)
	header.Set("User-Role", actor.Role)

	conn, _, err := f.dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		return err
	}
	defer func() {
		_ = conn.Close()
	}()

	go func() {
		<-ctx.Done()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended"),
			time.Now().Add(time.Second))
		_ = conn.Close()
	}()

	f.logger.Debug().Str("endpoint", endpoint).Msg("live feed connected")

	for {
		_ = conn.SetReadDeadline(time.Now().Add(liveReadDeadline))
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				f.logger.Debug().Msg("live feed idle timeout")
				return nil
			}
			return err
		}

		var event liveEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			f.logger.Warn().Err(err).Msg("discarding malformed live event")
			continue
		}
		if event.Type != "" && event.Type != "message" {
			continue
		}

		f.engine.ApplyInboundMessage(event.Message)
	}
}
