// Package ws streams bot events and states to dashboards over WebSocket.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/quantbot/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 256
)

// Channels clients may subscribe to. They match the Redis bus channels.
const (
	ChannelEvents = "events"
	ChannelStates = "states"
)

var defaultChannels = []string{ChannelEvents, ChannelStates}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The socket is read-only and the CORS middleware already filters
	// browser origins.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Subscriber is the read side of the event bus.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// Status is the snapshot sent to every client on connect.
type Status struct {
	BotID     string    `json:"bot_id,omitempty"`
	Mode      string    `json:"mode"`
	Strategy  string    `json:"strategy_name"`
	StartedAt time.Time `json:"started_at"`
}

// frame is every message the hub writes.
type frame struct {
	Type    string          `json:"type"`
	Channel string          `json:"channel,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// Hub fans bot events and states out to connected dashboards. Messages come
// from the Redis bus when one is attached, or straight from the in-process
// bot through PublishEvent and PublishState. A new client receives the
// hub status and then the latest state of every bot seen so far.
type Hub struct {
	bus    Subscriber
	status Status
	logger *slog.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
	latest  map[string][]byte // bot id -> last state frame
	closed  bool
}

// NewHub creates a hub. bus may be nil, in which case only in-process
// publishes reach clients.
func NewHub(bus Subscriber, logger *slog.Logger, status Status) *Hub {
	if strings.TrimSpace(status.Mode) == "" {
		status.Mode = "unknown"
	}
	if status.StartedAt.IsZero() {
		status.StartedAt = time.Now().UTC()
	}
	return &Hub{
		bus:     bus,
		status:  status,
		logger:  logger.With(slog.String("component", "ws_hub")),
		clients: make(map[*client]struct{}),
		latest:  make(map[string][]byte),
	}
}

// Run forwards bus messages until ctx ends, then disconnects every client.
func (h *Hub) Run(ctx context.Context) error {
	if h.bus != nil {
		for _, ch := range defaultChannels {
			go h.follow(ctx, ch)
		}
	}
	<-ctx.Done()

	h.mu.Lock()
	h.closed = true
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
	h.mu.Unlock()
	return ctx.Err()
}

// PublishEvent forwards an in-process bot event to clients.
func (h *Hub) PublishEvent(ctx context.Context, e domain.Event) error {
	return h.publish(ctx, ChannelEvents, e)
}

// PublishState forwards an in-process bot state to clients.
func (h *Hub) PublishState(ctx context.Context, st domain.BotState) error {
	return h.publish(ctx, ChannelStates, st)
}

func (h *Hub) publish(ctx context.Context, channel string, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return h.deliver(channel, payload)
}

// deliver wraps payload in a frame and queues it on every subscribed
// client. A client whose buffer is full misses the frame.
func (h *Hub) deliver(channel string, payload []byte) error {
	kind := strings.TrimSuffix(channel, "s")
	data, err := json.Marshal(frame{Type: kind, Channel: channel, Payload: payload})
	if err != nil {
		return err
	}

	var botID string
	if channel == ChannelStates {
		var head struct {
			BotID string `json:"bot_id"`
		}
		if json.Unmarshal(payload, &head) == nil {
			botID = head.BotID
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if botID != "" {
		h.latest[botID] = data
	}
	dropped := 0
	for c := range h.clients {
		if !c.wants(channel) {
			continue
		}
		select {
		case c.send <- data:
		default:
			dropped++
		}
	}
	if dropped > 0 {
		h.logger.Warn("ws: slow clients missed a frame",
			slog.String("channel", channel),
			slog.Int("clients", dropped),
		)
	}
	return nil
}

// follow relays one bus channel into the hub.
func (h *Hub) follow(ctx context.Context, channel string) {
	msgs, err := h.bus.Subscribe(ctx, channel)
	if err != nil {
		h.logger.Error("ws: subscribe failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
		return
	}
	h.logger.Info("ws: following bus channel", slog.String("channel", channel))

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgs:
			if !ok {
				h.logger.Warn("ws: bus subscription closed", slog.String("channel", channel))
				return
			}
			if err := h.deliver(channel, data); err != nil {
				h.logger.Warn("ws: bad bus message",
					slog.String("channel", channel),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// HandleWS upgrades the request and attaches the connection to the hub.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}
	c := &client{hub: h, conn: conn, send: make(chan []byte, sendBufferSize), subs: make(map[string]bool)}
	for _, ch := range defaultChannels {
		c.subs[ch] = true
	}
	if !h.attach(c) {
		_ = conn.Close()
		return
	}
	go c.writePump()
	go c.readPump()
}

// attach registers c and queues its greeting: the status frame, then the
// latest state per bot in bot id order.
func (h *Hub) attach(c *client) bool {
	status, err := json.Marshal(h.status)
	if err != nil {
		return false
	}
	hello, err := json.Marshal(frame{Type: "bot_status", Payload: status})
	if err != nil {
		return false
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	c.send <- hello
	ids := make([]string, 0, len(h.latest))
	for id := range h.latest {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if len(c.send) == cap(c.send) {
			break
		}
		c.send <- h.latest[id]
	}
	h.clients[c] = struct{}{}
	h.logger.Info("ws: client connected", slog.Int("clients", len(h.clients)))
	return true
}

func (h *Hub) detach(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	h.logger.Info("ws: client disconnected", slog.Int("clients", len(h.clients)))
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu   sync.RWMutex
	subs map[string]bool
}

// control is a client request such as
// {"action":"unsubscribe","channels":["states"]}.
type control struct {
	Action   string   `json:"action"`
	Channels []string `json:"channels"`
}

func (c *client) readPump() {
	defer func() {
		c.hub.detach(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close", slog.String("error", err.Error()))
			}
			return
		}
		var ctl control
		if json.Unmarshal(msg, &ctl) == nil {
			c.apply(ctl)
		}
	}
}

func (c *client) apply(ctl control) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range ctl.Channels {
		switch ctl.Action {
		case "subscribe":
			c.subs[ch] = true
		case "unsubscribe":
			delete(c.subs, ch)
		}
	}
}

// wants reports whether the client follows channel, either by name or by a
// trailing-* prefix such as "event*".
func (c *client) wants(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.subs[channel] {
		return true
	}
	for sub := range c.subs {
		if prefix, ok := strings.CutSuffix(sub, "*"); ok && strings.HasPrefix(channel, prefix) {
			return true
		}
	}
	return false
}

func (c *client) writePump() {
	ping := time.NewTicker(pingPeriod)
	defer func() {
		ping.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ping.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
