package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// Event is one message from the /ws event feed.
type Event struct {
	Type      string          `json:"type"`
	Channel   string          `json:"channel,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// eventsURL maps the API base URL onto the websocket scheme.
func (c *APIClient) eventsURL() string {
	switch {
	case strings.HasPrefix(c.baseURL, "https://"):
		return "wss://" + strings.TrimPrefix(c.baseURL, "https://") + "/ws"
	case strings.HasPrefix(c.baseURL, "http://"):
		return "ws://" + strings.TrimPrefix(c.baseURL, "http://") + "/ws"
	default:
		return c.baseURL + "/ws"
	}
}

// Events streams events to fn until ctx is done or the connection drops.
// channels narrows the feed to event types or "product:{id}" channels;
// none means everything. Control replies (pong, subscribed) are not passed on.
func (c *APIClient) Events(ctx context.Context, channels []string, fn func(Event)) error {
	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.eventsURL(), header)
	if err != nil {
		return fmt.Errorf("failed to connect to event feed: %w", err)
	}
	defer conn.Close()

	if len(channels) > 0 {
		err := conn.WriteJSON(map[string]any{
			"type": "subscribe",
			"data": map[string]any{"channels": channels},
		})
		if err != nil {
			return fmt.Errorf("failed to subscribe: %w", err)
		}
	}

	stop := context.AfterFunc(ctx, func() {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		conn.Close()
	})
	defer stop()

	for {
		var ev Event
		if err := conn.ReadJSON(&ev); err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				return fmt.Errorf("event feed closed: %w", err)
			}
			return fmt.Errorf("event feed: %w", err)
		}
		switch ev.Type {
		case "pong", "subscribed", "unsubscribed":
			continue
		}
		fn(ev)
	}
}
