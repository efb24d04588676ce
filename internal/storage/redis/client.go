package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/chatcore/internal/logger"
	"github.com/chatcore/internal/storage"
)

// DefaultChannel: pub/sub канал уведомлений об изменениях документов.
const DefaultChannel = "chatcore:docstore:changes"

type Client struct {
	cli     *redis.Client
	channel string
}

func New(ctx context.Context, url string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{cli: cli, channel: DefaultChannel}, nil
}

// WithChannel меняет имя pub/sub канала (отдельные окружения на одном Redis).
func (c *Client) WithChannel(name string) *Client {
	if name != "" {
		c.channel = name
	}
	return c
}

func (c *Client) Close() error {
	return c.cli.Close()
}

func (c *Client) Publish(ctx context.Context, collection string) error {
	if err := c.cli.Publish(ctx, c.channel, collection).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Subscribe подписывается на канал; сообщения пересылаются без блокировки.
func (c *Client) Subscribe(ctx context.Context) (<-chan string, error) {
	ps := c.cli.Subscribe(ctx, c.channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis subscribe: %w", err)
	}
	out := make(chan string, storage.SubscriberBuffer)
	go func() {
		defer close(out)
		defer func() {
			if err := ps.Close(); err != nil {
				logger.Warnf("redis pubsub close: %v", err)
			}
		}()
		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- m.Payload:
				default:
				}
			}
		}
	}()
	return out, nil
}
