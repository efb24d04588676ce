// Package breaker настраивает circuit breaker для HTTP-коллабораторов
// (провайдер идентификации, сервис пушей).
package breaker

import (
	"time"

	"github.com/sony/gobreaker"

	"github.com/chatcore/internal/logger"
)

type Config struct {
	MaxFailures uint32
	Interval    time.Duration
	Timeout     time.Duration
}

func DefaultConfig() Config {
	return Config{MaxFailures: 5, Interval: 60 * time.Second, Timeout: 30 * time.Second}
}

// New размыкается после MaxFailures подряд неудачных вызовов и через Timeout
// пропускает один пробный запрос.
func New(name string, cfg Config) *gobreaker.CircuitBreaker {
	if cfg.MaxFailures == 0 {
		cfg = DefaultConfig()
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warnf("circuit breaker %s: %s -> %s", name, from, to)
		},
	})
}
