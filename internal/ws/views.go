package ws

import (
	"context"

	"github.com/chatcore/internal/service"
)

// Feed: запущенное live-представление.
type Feed interface {
	// Run передаёт снимки в emit, пока не закончится ctx или представление не упадёт.
	// После возврата Run emit больше не вызывается.
	Run(ctx context.Context, emit func(payload any)) error
}

// Opener открывает представление с параметром id для пользователя из ctx.
type Opener func(ctx context.Context, id string) (Feed, error)

// Views: реестр представлений по имени.
type Views map[string]Opener

type streamFeed[T any] struct {
	s *service.Stream[T]
}

func (f streamFeed[T]) Run(ctx context.Context, emit func(any)) error {
	defer f.s.Cancel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case v, ok := <-f.s.C():
			if !ok {
				return f.s.Err()
			}
			emit(v)
		}
	}
}

// StreamView адаптирует сервисный поток к Opener.
func StreamView[T any](open func(ctx context.Context, id string) (*service.Stream[T], error)) Opener {
	return func(ctx context.Context, id string) (Feed, error) {
		s, err := open(ctx, id)
		if err != nil {
			return nil, err
		}
		return streamFeed[T]{s: s}, nil
	}
}
