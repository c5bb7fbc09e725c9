// Package push fans events out to the websocket connections of each user.
package push

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	sendBuffer = 16
	readLimit  = 4096
)

// Event is the frame written to clients.
type Event struct {
	Name string `json:"event"`
	Data any    `json:"data"`
}

// Hub tracks live connections per user. The zero value is not usable; call
// NewHub.
type Hub struct {
	upgrader   websocket.Upgrader
	log        *zap.Logger
	pingPeriod time.Duration

	mu      sync.RWMutex
	clients map[string]map[*client]struct{}
	closed  bool
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func (c *client) stop() {
	c.once.Do(func() { close(c.done) })
}

// Option configures a Hub.
type Option func(*Hub)

// WithPingPeriod sets how often idle connections are pinged.
func WithPingPeriod(d time.Duration) Option {
	return func(h *Hub) { h.pingPeriod = d }
}

// NewHub returns an empty hub.
func NewHub(log *zap.Logger, opts ...Option) *Hub {
	h := &Hub{
		log:        log,
		pingPeriod: 30 * time.Second,
		clients:    make(map[string]map[*client]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Serve upgrades the request and streams events published for userID until
// the connection ends. It blocks for the lifetime of the connection.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, userID string) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("upgrade: %w", err)
	}

	c := &client{conn: conn, send: make(chan []byte, sendBuffer), done: make(chan struct{})}
	if !h.register(userID, c) {
		_ = conn.Close()
		return nil
	}
	h.log.Info("push client connected", zap.String("user_id", userID))

	go h.writePump(c)
	h.readPump(c)

	h.unregister(userID, c)
	h.log.Info("push client disconnected", zap.String("user_id", userID))
	return nil
}

func (h *Hub) register(userID string, c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	set, ok := h.clients[userID]
	if !ok {
		set = make(map[*client]struct{})
		h.clients[userID] = set
	}
	set[c] = struct{}{}
	return true
}

func (h *Hub) unregister(userID string, c *client) {
	h.mu.Lock()
	if set, ok := h.clients[userID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.clients, userID)
		}
	}
	h.mu.Unlock()
	c.stop()
}

// readPump discards inbound frames; it exists to process control frames and
// to notice when the peer goes away.
func (h *Hub) readPump(c *client) {
	c.conn.SetReadLimit(readLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(2 * h.pingPeriod))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(2 * h.pingPeriod))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(h.pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.stop()
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.stop()
				return
			}
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(writeWait))
			return
		}
	}
}

// Publish sends event to every connection of userID and returns how many
// connections it was queued on. Connections too slow to keep up are dropped.
func (h *Hub) Publish(userID, event string, data any) (int, error) {
	msg, err := json.Marshal(Event{Name: event, Data: data})
	if err != nil {
		return 0, fmt.Errorf("encode event: %w", err)
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.deliver(h.clients[userID], msg), nil
}

// Broadcast sends event to every connection.
func (h *Hub) Broadcast(event string, data any) (int, error) {
	msg, err := json.Marshal(Event{Name: event, Data: data})
	if err != nil {
		return 0, fmt.Errorf("encode event: %w", err)
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, set := range h.clients {
		n += h.deliver(set, msg)
	}
	return n, nil
}

func (h *Hub) deliver(set map[*client]struct{}, msg []byte) int {
	n := 0
	for c := range set {
		select {
		case c.send <- msg:
			n++
		default:
			h.log.Warn("dropping slow push client")
			c.stop()
		}
	}
	return n
}

// Connected returns the number of live connections of userID.
func (h *Hub) Connected(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for _, set := range h.clients {
		for c := range set {
			c.stop()
		}
	}
}
