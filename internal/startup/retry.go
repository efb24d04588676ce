// Package startup подключает внешние хранилища при старте сервиса: ждёт, пока
// они поднимутся, вместо того чтобы падать на первой ошибке.
package startup

import (
	"context"
	"fmt"
	"time"

	"github.com/chatcore/internal/logger"
)

const (
	initialBackoff = 2 * time.Second
	maxBackoff     = 30 * time.Second
)

// sleep подменяется в тестах.
var sleep = func(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// withRetry повторяет connect с экспоненциальной паузой 2s→30s, пока не истечёт maxWait.
// logPrefix добавляется к сообщениям лога (например "api: ").
func withRetry[T any](ctx context.Context, what string, maxWait time.Duration, logPrefix string, connect func(context.Context) (T, error)) (T, error) {
	deadline := time.Now().Add(maxWait)
	backoff := initialBackoff
	for {
		v, err := connect(ctx)
		if err == nil {
			return v, nil
		}
		if time.Now().After(deadline) {
			var zero T
			return zero, fmt.Errorf("%s (gave up after %v): %w", what, maxWait, err)
		}
		logger.Errorf("%s%s connect failed, retry in %v: %v", logPrefix, what, backoff, err)
		if err := sleep(ctx, backoff); err != nil {
			var zero T
			return zero, fmt.Errorf("%s: %w", what, err)
		}
		if backoff < maxBackoff {
			backoff *= 2
		}
	}
}
