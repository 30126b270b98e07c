// Package websocket streams sync activity to operator dashboards
package websocket

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"syncbridge/internal/core/domain"
	"syncbridge/internal/core/ports"
)

// Message types on the feed
const (
	MessageSyncLog = "sync_log"
	MessageLog     = "log"
)

// FeedMessage is one frame sent to operators
type FeedMessage struct {
	Type    string          `json:"type"`
	SyncLog *domain.SyncLog `json:"sync_log,omitempty"`
	Line    json.RawMessage `json:"line,omitempty"`
	Text    string          `json:"text,omitempty"`
}

// FeedHub fans sync log entries and log lines out to connected operators.
// It implements io.Writer so it can sit behind slog, and ports.SyncObserver
// so the dispatcher can publish every attempt. Slow clients drop frames.
type FeedHub struct {
	clients map[*Client]struct{}

	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	mu        sync.RWMutex
	secretKey string
	upgrader  websocket.Upgrader
}

var _ ports.SyncObserver = (*FeedHub)(nil)

// Client represents a connected WebSocket client
type Client struct {
	hub  *FeedHub
	conn *websocket.Conn
	send chan []byte
}

const (
	broadcastBufferSize = 256
	clientBufferSize    = 64

	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

// NewFeedHub creates a hub. Clients must present secretKey as ?secret_key=.
func NewFeedHub(secretKey string) *FeedHub {
	return &FeedHub{
		clients:    make(map[*Client]struct{}),
		broadcast:  make(chan []byte, broadcastBufferSize),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		secretKey:  secretKey,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Dashboards are served from elsewhere; the secret key gates access
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Run is the hub's event loop. It returns when ctx is done, disconnecting all clients.
// Run must be called at most once.
func (h *FeedHub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			total := len(h.clients)
			h.mu.Unlock()
			slog.Info("Feed client connected", "clients", total)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			slog.Info("Feed client disconnected", "clients", total)

		case message := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Publish implements ports.SyncObserver
func (h *FeedHub) Publish(entry *domain.SyncLog) {
	copied := *entry
	msg, err := json.Marshal(FeedMessage{Type: MessageSyncLog, SyncLog: &copied})
	if err != nil {
		return
	}
	h.enqueue(msg)
}

// Write implements io.Writer. JSON log lines are forwarded as-is, anything else as text.
// It never blocks and never fails.
func (h *FeedHub) Write(p []byte) (int, error) {
	line := bytes.TrimRight(p, "\n\r")
	frame := FeedMessage{Type: MessageLog}
	if json.Valid(line) {
		frame.Line = append(json.RawMessage(nil), line...)
	} else {
		frame.Text = string(line)
	}
	if msg, err := json.Marshal(frame); err == nil {
		h.enqueue(msg)
	}
	return len(p), nil
}

func (h *FeedHub) enqueue(msg []byte) {
	select {
	case h.broadcast <- msg:
	default:
	}
}

// ServeWS upgrades an operator connection
// Route: /ws/sync?secret_key=FEED_SECRET
func (h *FeedHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	queryKey := r.URL.Query().Get("secret_key")
	if h.secretKey == "" || subtle.ConstantTimeCompare([]byte(queryKey), []byte(h.secretKey)) != 1 {
		slog.Warn("Unauthorized feed connection attempt", "remote_addr", r.RemoteAddr)
		http.Error(w, "Unauthorized: Invalid or missing secret_key", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("Feed upgrade failed", "error", err)
		return
	}

	client := &Client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, clientBufferSize),
	}
	if !h.join(client) {
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// join hands client to the event loop; false once the loop has stopped
func (h *FeedHub) join(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

func (h *FeedHub) leave(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// ClientCount returns the current number of connected clients
func (h *FeedHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// readPump drains the connection so pongs and close frames are processed
func (c *Client) readPump() {
	defer func() {
		c.hub.leave(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Debug("Feed client read error", "error", err)
			}
			return
		}
	}
}

// writePump sends one frame per message and keeps the connection alive with pings
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
