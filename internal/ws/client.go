package ws

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chatcore/internal/logger"
	"github.com/chatcore/internal/service"
)

// Config: лимиты соединения; нулевые поля заменяются значениями по умолчанию.
type Config struct {
	MaxConnections   int
	SendBufferSize   int
	WriteTimeout     time.Duration
	PongTimeout      time.Duration
	MaxMessageSize   int64
	MaxSubscriptions int
}

func (c Config) withDefaults() Config {
	if c.MaxConnections <= 0 {
		c.MaxConnections = 10000
	}
	if c.SendBufferSize <= 0 {
		c.SendBufferSize = 64
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.PongTimeout <= 0 {
		c.PongTimeout = 60 * time.Second
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 4096
	}
	if c.MaxSubscriptions <= 0 {
		c.MaxSubscriptions = 32
	}
	return c
}

// bufPool pools bytes.Buffer for JSON encoding in the hot-path (writePump).
var bufPool = sync.Pool{
	New: func() any { return new(bytes.Buffer) },
}

// subscription: одна открытая подписка соединения.
type subscription struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func (s *subscription) stop() {
	s.cancel()
	<-s.done
}

// Client represents a single WebSocket connection.
// Lifecycle: NewClient -> Start(ctx, cancel) -> [ReadPump, WritePump] -> Close -> Wait.
// ctx, переданный в Start, несёт личность пользователя: из него открываются все подписки.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan OutgoingMessage
	userID string

	subMu sync.Mutex
	subs  map[string]*subscription

	// done is used as a non-blocking guard in sendToClient.
	done chan struct{}
	// cancel cancels the context passed to Start, triggering pump shutdown.
	cancel context.CancelFunc
	once   sync.Once
	wg     sync.WaitGroup
}

func NewClient(hub *Hub, conn *websocket.Conn, userID string) *Client {
	return &Client{
		hub:    hub,
		conn:   conn,
		send:   make(chan OutgoingMessage, hub.cfg.SendBufferSize),
		userID: userID,
		subs:   make(map[string]*subscription),
		done:   make(chan struct{}),
	}
}

// Start launches ReadPump and WritePump goroutines with controlled lifecycle.
// ctx controls pump lifetime; cancel is stored for Close().
func (c *Client) Start(ctx context.Context, cancel context.CancelFunc) {
	c.cancel = cancel
	c.wg.Add(2)
	go c.writePump(ctx)
	go c.readPump(ctx)
}

// Wait blocks until both pump goroutines have exited.
func (c *Client) Wait() {
	c.wg.Wait()
}

// Close signals the client to stop. Safe to call multiple times from any goroutine.
func (c *Client) Close() {
	c.once.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		close(c.done)
		// Force both pumps to unblock (ReadMessage / WriteMessage will error).
		c.conn.Close()
	})
}

// subscribe открывает представление и запускает доставку снимков.
// Повторный sub_id заменяет прежнюю подписку.
func (c *Client) subscribe(ctx context.Context, subID string, open Opener, id string) error {
	feed, err := open(ctx, id)
	if err != nil {
		return err
	}
	subCtx, cancel := context.WithCancel(ctx)
	sub := &subscription{cancel: cancel, done: make(chan struct{})}

	c.subMu.Lock()
	prev := c.subs[subID]
	c.subs[subID] = sub
	c.subMu.Unlock()
	if prev != nil {
		prev.stop()
	}
	c.hub.subscriptions.Inc()

	go func() {
		defer close(sub.done)
		defer c.hub.subscriptions.Dec()
		err := feed.Run(subCtx, func(payload any) {
			c.hub.sendToClient(c, OutgoingMessage{Type: FrameSnapshot, SubID: subID, Payload: payload, sub: sub})
		})
		if err != nil && subCtx.Err() == nil {
			logger.Errorf("ws view sub=%s user=%s: %v", subID, c.userID, err)
			c.subMu.Lock()
			if c.subs[subID] == sub {
				delete(c.subs, subID)
			}
			c.subMu.Unlock()
			c.hub.sendToClient(c, viewError(subID, err))
		}
	}()
	return nil
}

// unsubscribe возвращается после того, как доставка по подписке остановлена.
func (c *Client) unsubscribe(subID string) bool {
	c.subMu.Lock()
	sub, ok := c.subs[subID]
	delete(c.subs, subID)
	c.subMu.Unlock()
	if ok {
		sub.stop()
	}
	return ok
}

func (c *Client) subscriptionCount() int {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	return len(c.subs)
}

func (c *Client) active(subID string) bool {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	_, ok := c.subs[subID]
	return ok
}

// deliverable отсекает снимки, поставленные в очередь подпиской, которую уже
// отменили или заменили новой с тем же sub_id.
func (c *Client) deliverable(msg OutgoingMessage) bool {
	if msg.sub == nil {
		return true
	}
	c.subMu.Lock()
	defer c.subMu.Unlock()
	return c.subs[msg.SubID] == msg.sub
}

// stopAll отменяет все подписки соединения (при отключении).
func (c *Client) stopAll() {
	c.subMu.Lock()
	subs := c.subs
	c.subs = make(map[string]*subscription)
	c.subMu.Unlock()
	for _, s := range subs {
		s.stop()
	}
}

// readPump reads messages from the WebSocket connection.
// Exits on read error (triggered by conn.Close from Close() or WritePump exit).
func (c *Client) readPump(ctx context.Context) {
	defer c.wg.Done()
	defer func() {
		c.stopAll()
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.hub.cfg.MaxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(c.hub.cfg.PongTimeout)); err != nil {
		logger.Errorf("ws set read deadline user=%s: %v", c.userID, err)
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.hub.cfg.PongTimeout))
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Errorf("ws read error user=%s: %v", c.userID, err)
			}
			return
		}

		var msg IncomingMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.hub.sendToClient(c, errorFrame("", service.CodeValidation, "malformed frame"))
			continue
		}

		c.hub.HandleMessage(ctx, c, msg)
	}
}

// writePump writes messages to the WebSocket connection.
// Exits on ctx cancellation, write error, or connection close.
func (c *Client) writePump(ctx context.Context) {
	defer c.wg.Done()
	pingPeriod := (c.hub.cfg.PongTimeout * 9) / 10
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			if err := c.conn.WriteMessage(websocket.CloseMessage, nil); err != nil {
				logger.Debugf("ws close message user=%s: %v", c.userID, err)
			}
			return
		case msg := <-c.send:
			if !c.deliverable(msg) {
				continue
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.hub.cfg.WriteTimeout)); err != nil {
				logger.Errorf("ws set write deadline user=%s: %v", c.userID, err)
				return
			}
			buf := bufPool.Get().(*bytes.Buffer)
			buf.Reset()
			enc := json.NewEncoder(buf)
			if err := enc.Encode(msg); err != nil {
				bufPool.Put(buf)
				logger.Errorf("ws marshal error user=%s: %v", c.userID, err)
				continue
			}
			data := buf.Bytes()
			// json.Encoder appends '\n'; trim it for WebSocket text messages.
			if len(data) > 0 && data[len(data)-1] == '\n' {
				data = data[:len(data)-1]
			}
			writeErr := c.conn.WriteMessage(websocket.TextMessage, data)
			bufPool.Put(buf)
			if writeErr != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.hub.cfg.WriteTimeout)); err != nil {
				logger.Errorf("ws set write deadline user=%s: %v", c.userID, err)
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
