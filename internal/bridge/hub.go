package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum request envelope size.
	maxMessageSize = 4 << 20

	// Outbound frames buffered per connection.
	sendBuffer = 256

	// Requests served concurrently per connection.
	maxInFlight = 32
)

// ErrHubClosed is returned when delivering to a closed hub.
var ErrHubClosed = errors.New("hub closed")

// Hub tracks connected surfaces and delivers events to them.
type Hub struct {
	bridge  *Bridge
	logger  *zap.Logger
	metrics *Metrics

	mu     sync.RWMutex
	conns  map[*Conn]struct{}
	closed bool
}

// NewHub creates a hub whose connections dispatch through b.
func NewHub(b *Bridge, logger *zap.Logger, metrics *Metrics) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		bridge:  b,
		logger:  logger,
		metrics: metrics,
		conns:   make(map[*Conn]struct{}),
	}
}

// Count returns the number of open connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Broadcast delivers ev to every connection.
func (h *Hub) Broadcast(ev Event) {
	h.deliver(ev, func(*Conn) bool { return true })
}

// Send delivers a plugin's event on channel to that plugin's surfaces and
// to unbound surfaces such as the UI shell.
func (h *Hub) Send(pluginID, channel string, payload any) error {
	if channel == "" {
		return errors.New("event channel is empty")
	}
	h.mu.RLock()
	closed := h.closed
	h.mu.RUnlock()
	if closed {
		return ErrHubClosed
	}
	h.deliver(Event{Event: channel, Payload: payload}, func(c *Conn) bool {
		return c.pluginID == "" || c.pluginID == pluginID
	})
	return nil
}

func (h *Hub) deliver(ev Event, match func(*Conn) bool) {
	msg, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("event not encodable", zap.String("event", ev.Event), zap.Error(err))
		return
	}

	h.mu.RLock()
	targets := make([]*Conn, 0, len(h.conns))
	for c := range h.conns {
		if match(c) {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if !c.trySend(msg) {
			h.logger.Warn("surface too slow, dropping connection", zap.String("conn", c.id))
			c.close()
		}
	}
}

// Serve runs a connection until it closes. pluginID binds every request on
// it to one plugin; empty leaves it unbound.
func (h *Hub) Serve(ctx context.Context, ws *websocket.Conn, pluginID string) {
	c := &Conn{
		id:       uuid.NewString(),
		pluginID: pluginID,
		hub:      h,
		ws:       ws,
		send:     make(chan []byte, sendBuffer),
		done:     make(chan struct{}),
		inflight: make(chan struct{}, maxInFlight),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = ws.Close()
		return
	}
	h.conns[c] = struct{}{}
	h.mu.Unlock()
	h.metrics.connOpened()
	h.logger.Debug("surface connected", zap.String("conn", c.id), zap.String("plugin", pluginID))

	go c.writePump()
	c.readPump(WithCaller(ctx, pluginID))

	h.mu.Lock()
	delete(h.conns, c)
	h.mu.Unlock()
	h.metrics.connClosed()
	h.logger.Debug("surface disconnected", zap.String("conn", c.id))
}

// Close disconnects every surface.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	conns := make([]*Conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		c.close()
	}
}
