package startup

import (
	"context"
	"time"

	redisstorage "github.com/chatcore/internal/storage/redis"
)

// ConnectRedisWithRetry подключает шину изменений поверх Redis pub/sub.
func ConnectRedisWithRetry(ctx context.Context, redisURL, channel string, maxWait time.Duration, logPrefix string) (*redisstorage.Client, error) {
	return withRetry(ctx, "redis", maxWait, logPrefix, func(ctx context.Context) (*redisstorage.Client, error) {
		connCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		client, err := redisstorage.New(connCtx, redisURL)
		if err != nil {
			return nil, err
		}
		return client.WithChannel(channel), nil
	})
}
