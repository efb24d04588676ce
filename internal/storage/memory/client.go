package memory

import (
	"context"
	"sync"

	"github.com/chatcore/internal/storage"
)

// Client: шина изменений внутри одного процесса.
type Client struct {
	mu     sync.RWMutex
	subs   map[chan string]struct{}
	closed bool
}

func New() *Client {
	return &Client{subs: make(map[chan string]struct{})}
}

func (c *Client) Publish(ctx context.Context, collection string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for ch := range c.subs {
		select {
		case ch <- collection:
		default:
			// подписчик не успевает: он всё равно перечитает по таймеру
		}
	}
	return nil
}

func (c *Client) Subscribe(ctx context.Context) (<-chan string, error) {
	ch := make(chan string, storage.SubscriberBuffer)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		close(ch)
		return ch, nil
	}
	c.subs[ch] = struct{}{}
	c.mu.Unlock()
	go func() {
		<-ctx.Done()
		c.remove(ch)
	}()
	return ch, nil
}

func (c *Client) remove(ch chan string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.subs[ch]; ok {
		delete(c.subs, ch)
		close(ch)
	}
}

// Subscribers возвращает число активных подписчиков.
func (c *Client) Subscribers() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.subs)
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for ch := range c.subs {
		delete(c.subs, ch)
		close(ch)
	}
	return nil
}
