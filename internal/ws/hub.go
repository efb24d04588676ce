package ws

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/chatcore/internal/logger"
	"github.com/chatcore/internal/service"
)

// Hub держит WebSocket-соединения по пользователям и открывает для них live-представления.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{}
	total   int
	cfg     Config
	views   Views

	connections   prometheus.Gauge
	subscriptions prometheus.Gauge

	register   chan *Client
	unregister chan *Client
	done       chan struct{}
}

// NewHub регистрирует метрики в reg; nil: метрики не экспортируются.
func NewHub(views Views, cfg Config, reg prometheus.Registerer) *Hub {
	h := &Hub{
		clients: make(map[string]map[*Client]struct{}),
		cfg:     cfg.withDefaults(),
		views:   views,
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "chatcore", Subsystem: "ws", Name: "connections",
			Help: "Open WebSocket connections.",
		}),
		subscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "chatcore", Subsystem: "ws", Name: "subscriptions",
			Help: "Live views opened over WebSocket.",
		}),
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		done:       make(chan struct{}),
	}
	if reg != nil {
		reg.MustRegister(h.connections, h.subscriptions)
	}
	return h
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

func (h *Hub) shutdown() {
	// Collect all clients under the lock, do NOT perform I/O under mutex.
	h.mu.Lock()
	allClients := make([]*Client, 0, h.total)
	for _, clients := range h.clients {
		for c := range clients {
			allClients = append(allClients, c)
		}
	}
	h.clients = make(map[string]map[*Client]struct{})
	h.total = 0
	h.mu.Unlock()
	h.connections.Set(0)

	// Close connections outside the lock (network I/O).
	for _, c := range allClients {
		c.Close()
	}
	for _, c := range allClients {
		c.Wait()
	}
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	if h.total >= h.cfg.MaxConnections {
		h.mu.Unlock()
		logger.Errorf("ws connection limit reached (%d), rejecting user=%s", h.cfg.MaxConnections, c.userID)
		c.Close()
		return
	}
	if _, ok := h.clients[c.userID]; !ok {
		h.clients[c.userID] = make(map[*Client]struct{})
	}
	h.clients[c.userID][c] = struct{}{}
	h.total++
	h.mu.Unlock()
	h.connections.Inc()
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	clients, ok := h.clients[c.userID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, exists := clients[c]; !exists {
		h.mu.Unlock()
		return
	}
	delete(clients, c)
	h.total--
	if len(clients) == 0 {
		delete(h.clients, c.userID)
	}
	h.mu.Unlock()
	h.connections.Dec()

	// Network I/O outside the lock.
	c.Close()
}

// Connections возвращает число открытых соединений пользователя.
func (h *Hub) Connections(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

// HandleMessage dispatches incoming WebSocket frames.
func (h *Hub) HandleMessage(ctx context.Context, c *Client, msg IncomingMessage) {
	switch msg.Type {
	case FrameSubscribe:
		h.handleSubscribe(ctx, c, msg)
	case FrameUnsubscribe:
		if msg.SubID == "" {
			h.sendToClient(c, errorFrame("", service.CodeValidation, "sub_id required"))
			return
		}
		c.unsubscribe(msg.SubID)
		h.sendToClient(c, OutgoingMessage{Type: FrameUnsubscribed, SubID: msg.SubID})
	default:
		h.sendToClient(c, errorFrame(msg.SubID, service.CodeValidation, "unknown frame type"))
	}
}

func (h *Hub) handleSubscribe(ctx context.Context, c *Client, msg IncomingMessage) {
	defer logger.DeferLogDuration("ws.handleSubscribe "+msg.View, time.Now())()
	if msg.SubID == "" {
		h.sendToClient(c, errorFrame("", service.CodeValidation, "sub_id required"))
		return
	}
	open, ok := h.views[msg.View]
	if !ok {
		h.sendToClient(c, errorFrame(msg.SubID, service.CodeValidation, "unknown view"))
		return
	}
	if !c.active(msg.SubID) && c.subscriptionCount() >= h.cfg.MaxSubscriptions {
		h.sendToClient(c, errorFrame(msg.SubID, service.CodeValidation, "too many subscriptions"))
		return
	}
	if err := c.subscribe(ctx, msg.SubID, open, msg.ID); err != nil {
		h.sendToClient(c, viewError(msg.SubID, err))
	}
}

// viewError не раскрывает клиенту внутренние ошибки.
func viewError(subID string, err error) OutgoingMessage {
	code := service.ErrorCode(err)
	if code == service.CodeInternal {
		return errorFrame(subID, code, "internal error")
	}
	return errorFrame(subID, code, err.Error())
}

func (h *Hub) sendToClient(c *Client, msg OutgoingMessage) {
	select {
	case c.send <- msg:
	case <-c.done:
	default:
		// Backpressure: send buffer full, close slow client.
		logger.Errorf("ws send buffer full, closing slow client user=%s", c.userID)
		c.Close()
	}
}

func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		c.Close()
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}
