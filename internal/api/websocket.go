package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/scanchain/scanchain/internal/logging"
	"github.com/scanchain/scanchain/internal/metrics"
	"github.com/scanchain/scanchain/internal/verification"
)

// Event types pushed to websocket clients.
const (
	EventProductStored   = "product.stored"
	EventProductVerified = "product.verified"
	EventProductScanned  = "product.scanned"
	EventLedgerEvent     = "ledger.event"
)

const (
	wsPingInterval = 54 * time.Second
	wsReadTimeout  = 60 * time.Second
	wsWriteTimeout = 10 * time.Second
	wsReadLimit    = 512 * 1024
	wsSendBuffer   = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The feed carries no credentials and is read-only.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// EventMessage is the websocket envelope. Channel is "product:{id}" for
// product events.
type EventMessage struct {
	Type      string    `json:"type"`
	Channel   string    `json:"channel,omitempty"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// eventClient is one connected websocket subscriber
type eventClient struct {
	hub        *EventHub
	conn       *websocket.Conn
	send       chan []byte
	subscribed map[string]bool
	mu         sync.RWMutex
}

// wants reports whether the client should receive msg. A client with no
// subscriptions receives everything; otherwise it must have subscribed to
// the event type or the channel.
func (c *eventClient) wants(msg *EventMessage) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.subscribed) == 0 {
		return true
	}
	return c.subscribed[msg.Type] || (msg.Channel != "" && c.subscribed[msg.Channel])
}

// EventHub fans product and ledger events out to websocket clients.
type EventHub struct {
	clients    map[*eventClient]bool
	broadcast  chan *EventMessage
	register   chan *eventClient
	unregister chan *eventClient
	done       chan struct{}
	mu         sync.RWMutex

	metrics *metrics.PrometheusCollector
}

// NewEventHub creates a hub. Run must be called before clients connect.
func NewEventHub() *EventHub {
	return &EventHub{
		clients:    make(map[*eventClient]bool),
		broadcast:  make(chan *EventMessage, wsSendBuffer),
		register:   make(chan *eventClient),
		unregister: make(chan *eventClient),
		done:       make(chan struct{}),
	}
}

// SetMetrics sets the collector that tracks connected clients.
func (h *EventHub) SetMetrics(mc *metrics.PrometheusCollector) {
	h.metrics = mc
}

// Run delivers broadcasts until ctx is cancelled, then closes every client.
func (h *EventHub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				h.drop(client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			if h.metrics != nil {
				h.metrics.ClientConnected()
			}
			logging.Debug("websocket client connected",
				"total_clients", total,
				logging.Component("websocket"))

		case client := <-h.unregister:
			h.mu.Lock()
			if h.clients[client] {
				h.drop(client)
			}
			total := len(h.clients)
			h.mu.Unlock()
			logging.Debug("websocket client disconnected",
				"total_clients", total,
				logging.Component("websocket"))

		case msg := <-h.broadcast:
			h.deliver(msg)
		}
	}
}

// drop removes a client and closes its send channel. Caller holds h.mu.
func (h *EventHub) drop(client *eventClient) {
	delete(h.clients, client)
	close(client.send)
	if h.metrics != nil {
		h.metrics.ClientDisconnected()
	}
}

func (h *EventHub) deliver(msg *EventMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		logging.Warn("failed to encode websocket event",
			"type", msg.Type,
			logging.Err(err),
			logging.Component("websocket"))
		return
	}

	var slow []*eventClient
	h.mu.RLock()
	for client := range h.clients {
		if !client.wants(msg) {
			continue
		}
		select {
		case client.send <- data:
		default:
			slow = append(slow, client)
		}
	}
	h.mu.RUnlock()

	if len(slow) == 0 {
		return
	}
	// Clients whose buffer is full are disconnected.
	h.mu.Lock()
	for _, client := range slow {
		if h.clients[client] {
			h.drop(client)
		}
	}
	h.mu.Unlock()
}

// Broadcast queues an event for every interested client. It never blocks.
func (h *EventHub) Broadcast(eventType string, data any) {
	h.publish(&EventMessage{Type: eventType, Data: data, Timestamp: time.Now().UTC()})
}

// BroadcastProduct queues a product event on the product's channel.
func (h *EventHub) BroadcastProduct(eventType, productID string, data any) {
	h.publish(&EventMessage{
		Type:      eventType,
		Channel:   "product:" + productID,
		Data:      data,
		Timestamp: time.Now().UTC(),
	})
}

func (h *EventHub) publish(msg *EventMessage) {
	select {
	case h.broadcast <- msg:
	default:
		logging.Warn("websocket broadcast buffer full",
			"type", msg.Type,
			logging.Component("websocket"))
	}
}

// ClientCount returns the number of connected clients
func (h *EventHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// storedEvent is the payload of product.stored.
type storedEvent struct {
	ProductID string `json:"productId"`
	FileHash  string `json:"fileHash"`
	Locator   string `json:"storageLocator"`
	TxHash    string `json:"txHash"`
	BatchName string `json:"batchName,omitempty"`
	Simulated bool   `json:"simulated,omitempty"`
}

// Handle publishes product.stored. It implements verification.Notifier.
func (h *EventHub) Handle(_ context.Context, n verification.Notification) error {
	h.BroadcastProduct(EventProductStored, n.ProductID, storedEvent{
		ProductID: n.ProductID,
		FileHash:  n.Digest.String(),
		Locator:   n.Locator,
		TxHash:    n.Receipt.TxHash,
		BatchName: n.Attributes["batchName"],
		Simulated: n.Simulated,
	})
	return nil
}

// readPump reads subscription requests until the connection fails
func (c *eventClient) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(wsReadLimit)
	c.conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Debug("websocket read error",
					logging.Err(err),
					logging.Component("websocket"))
			}
			return
		}

		var req clientRequest
		if err := json.Unmarshal(message, &req); err != nil {
			continue
		}
		c.handleRequest(req)
	}
}

// writePump writes queued events and pings until the send channel closes
func (c *eventClient) writePump() {
	ticker := time.NewTicker(wsPingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// clientRequest is a message sent by a websocket client.
type clientRequest struct {
	Type string `json:"type"`
	Data struct {
		Channels []string `json:"channels"`
	} `json:"data"`
}

func (c *eventClient) handleRequest(req clientRequest) {
	switch req.Type {
	case "subscribe":
		c.mu.Lock()
		for _, ch := range req.Data.Channels {
			if ch != "" {
				c.subscribed[ch] = true
			}
		}
		c.mu.Unlock()
		c.reply("subscribed", map[string]any{"channels": c.channels()})
	case "unsubscribe":
		c.mu.Lock()
		for _, ch := range req.Data.Channels {
			delete(c.subscribed, ch)
		}
		c.mu.Unlock()
		c.reply("unsubscribed", map[string]any{"channels": c.channels()})
	case "ping":
		c.reply("pong", nil)
	}
}

// reply queues a direct response. It is dropped when the buffer is full.
func (c *eventClient) reply(msgType string, data any) {
	payload, err := json.Marshal(EventMessage{Type: msgType, Data: data, Timestamp: time.Now().UTC()})
	if err != nil {
		return
	}
	// The hub may have closed send concurrently.
	defer func() { _ = recover() }()
	select {
	case c.send <- payload:
	default:
	}
}

func (c *eventClient) channels() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	channels := make([]string, 0, len(c.subscribed))
	for ch := range c.subscribed {
		channels = append(channels, ch)
	}
	return channels
}

// handleWebSocket upgrades the connection and registers the client
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn("websocket upgrade failed",
			logging.Err(err),
			logging.Component("websocket"))
		return
	}

	client := &eventClient{
		hub:        s.hub,
		conn:       conn,
		send:       make(chan []byte, wsSendBuffer),
		subscribed: make(map[string]bool),
	}
	select {
	case s.hub.register <- client:
	case <-s.hub.done:
		conn.Close()
		return
	case <-r.Context().Done():
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}
