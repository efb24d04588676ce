package storage

import "context"

// ChangeBus разносит уведомления об изменённых коллекциях документов
// между live-подписками. Реализации: redis.Client (несколько инстансов API),
// memory.Client (один процесс, -dev и тесты).
//
// Доставка best-effort: при переполнении буфера подписчика сообщение теряется,
// подписки дополнительно опрашивают хранилище по таймеру.
type ChangeBus interface {
	// Publish сообщает, что коллекция с путём collection изменилась.
	Publish(ctx context.Context, collection string) error
	// Subscribe возвращает канал путей изменённых коллекций; канал закрывается после отмены ctx.
	Subscribe(ctx context.Context) (<-chan string, error)
	Close() error
}

// SubscriberBuffer: ёмкость канала одного подписчика.
const SubscriberBuffer = 64
