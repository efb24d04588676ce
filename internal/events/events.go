// Package events публикует доменные события после успешных записей
// (сообщение отправлено, пост опубликован, реакция изменена).
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sony/gobreaker"

	"github.com/chatcore/internal/breaker"
	"github.com/chatcore/internal/logger"
)

const (
	MessageSent       = "message.sent"
	GroupCreated      = "group.created"
	ChannelCreated    = "channel.created"
	ChannelSubscribed = "channel.subscribed"
	PostPublished     = "post.published"
	ReactionChanged   = "reaction.changed"
	ProfileSaved      = "profile.saved"
)

// Event: конверт события. Key задаёт партицию (id чата, канала или поста).
type Event struct {
	Type    string `json:"type"`
	Key     string `json:"key"`
	ActorID string `json:"actorId"`
	At      int64  `json:"at"`
	Payload any    `json:"payload,omitempty"`
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Noop используется, когда брокер не настроен.
type Noop struct{}

func (Noop) Publish(context.Context, Event) error { return nil }
func (Noop) Close() error                        { return nil }

type KafkaPublisher struct {
	writer *kafka.Writer
	cb     *gobreaker.CircuitBreaker
}

func NewKafkaPublisher(brokers []string, topic string, cbCfg breaker.Config) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
	}
	return &KafkaPublisher{writer: w, cb: breaker.New("kafka", cbCfg)}
}

func (p *KafkaPublisher) Publish(ctx context.Context, e Event) error {
	defer logger.DeferLogDuration("events.Publish", time.Now())()
	if e.At == 0 {
		e.At = time.Now().UnixMilli()
	}
	value, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("events: encode %s: %w", e.Type, err)
	}
	msg := kafka.Message{
		Key:   []byte(e.Key),
		Value: value,
		Time:  time.UnixMilli(e.At),
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(e.Type)},
		},
	}
	_, err = p.cb.Execute(func() (any, error) {
		return nil, p.writer.WriteMessages(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("events: publish %s: %w", e.Type, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error { return p.writer.Close() }
