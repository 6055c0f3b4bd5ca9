// Package api provides the HTTP API handlers and the websocket event stream
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Every stream request is authenticated before the upgrade
		return true
	},
}

// MessageType represents the type of WebSocket message
type MessageType string

const (
	MessageTypeEvent       MessageType = "event"
	MessageTypePing        MessageType = "ping"
	MessageTypePong        MessageType = "pong"
	MessageTypeSubscribe   MessageType = "subscribe"
	MessageTypeUnsubscribe MessageType = "unsubscribe"
)

// Message represents a WebSocket message
type Message struct {
	Type      MessageType     `json:"type"`
	Subject   string          `json:"subject,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Client represents a WebSocket client
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	user   string
	mu     sync.RWMutex
	topics map[string]bool // "action", "bulk", "manifest", "config" or "*" for all
}

// Hub maintains the set of active clients and fans bus events out to them
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex
	logger     *slog.Logger
}

// NewHub creates a new WebSocket hub
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     slog.Default().With("component", "websocket-hub"),
	}
}

// Run registers and removes clients until ctx is done
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				_ = client.conn.Close()
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("Client connected", "user", client.user, "total_clients", total)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("Client disconnected", "total_clients", total)
		}
	}
}

// topicOf returns the second segment of a hub subject, so
// "pluginhub.bulk.progress" belongs to topic "bulk".
func topicOf(subject string) string {
	parts := strings.SplitN(subject, ".", 3)
	if len(parts) < 2 {
		return subject
	}
	return parts[1]
}

// Forward relays a bus event to every client subscribed to its topic. It has
// the signature of an events.Bus subscription handler.
func (h *Hub) Forward(subject string, data []byte) {
	msg := Message{
		Type:      MessageTypeEvent,
		Subject:   subject,
		Timestamp: time.Now(),
		Data:      json.RawMessage(data),
	}
	if !json.Valid(data) {
		msg.Data = nil
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("Failed to marshal event message", "error", err)
		return
	}

	topic := topicOf(subject)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		if !client.subscribed(topic) {
			continue
		}
		select {
		case client.send <- payload:
		default:
			h.logger.Warn("Client buffer full, dropping message", "user", client.user)
		}
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeClient upgrades the connection and registers it for user
func (h *Hub) ServeClient(w http.ResponseWriter, r *http.Request, user string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade connection", "error", err)
		return
	}

	client := &Client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, 256),
		user:   user,
		topics: map[string]bool{"*": true},
	}

	select {
	case h.register <- client:
	case <-h.done:
		_ = conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

func (c *Client) subscribed(topic string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.topics["*"] || c.topics[topic]
}

// readPump pumps messages from the WebSocket connection to the hub
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Error("WebSocket read error", "error", err)
			}
			break
		}
		c.handleMessage(message)
	}
}

// writePump pumps messages from the hub to the WebSocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.hub.done:
			return
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				// Hub closed the channel
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage handles incoming messages from the client
func (c *Client) handleMessage(data []byte) {
	var msg struct {
		Type   MessageType `json:"type"`
		Topics []string    `json:"topics"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}

	switch msg.Type {
	case MessageTypePing:
		response := Message{Type: MessageTypePong, Timestamp: time.Now()}
		if data, err := json.Marshal(response); err == nil {
			select {
			case c.send <- data:
			default:
			}
		}

	case MessageTypeSubscribe:
		c.mu.Lock()
		// An explicit subscription narrows the default of everything
		delete(c.topics, "*")
		for _, t := range msg.Topics {
			c.topics[t] = true
		}
		c.mu.Unlock()

	case MessageTypeUnsubscribe:
		c.mu.Lock()
		for _, t := range msg.Topics {
			delete(c.topics, t)
		}
		c.mu.Unlock()
	}
}
