package service

import (
	"context"
	"errors"

	"github.com/chatcore/internal/docstore"
	"github.com/chatcore/internal/logger"
)

// Stream is a live view: every value on C is a full replacement snapshot.
// Cancel tears the view down; nothing is delivered after Cancel returns.
type Stream[T any] struct {
	c      chan T
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// C is closed when the stream ends.
func (s *Stream[T]) C() <-chan T { return s.c }

func (s *Stream[T]) Cancel() {
	s.cancel()
	<-s.done
}

func (s *Stream[T]) Done() <-chan struct{} { return s.done }

// Err is the error that ended the stream; valid after Done is closed.
func (s *Stream[T]) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// startStream runs body in its own goroutine. emit blocks until the consumer
// takes the value and returns false once the stream is cancelled.
func startStream[T any](parent context.Context, body func(ctx context.Context, emit func(T) bool) error) *Stream[T] {
	ctx, cancel := context.WithCancel(parent)
	s := &Stream[T]{c: make(chan T), cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(s.done)
		defer close(s.c)
		defer cancel()
		err := body(ctx, func(v T) bool {
			select {
			case s.c <- v:
				return true
			case <-ctx.Done():
				return false
			}
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			s.err = err
		}
	}()
	return s
}

// mapStream watches q and converts each snapshot with fn. A failed conversion
// is logged and skipped: the next snapshot replaces it anyway.
func mapStream[T any](ctx context.Context, w *docstore.Watcher, q docstore.Query, fn func(context.Context, []docstore.Document) (T, error)) *Stream[T] {
	return startStream(ctx, func(ctx context.Context, emit func(T) bool) error {
		sub := w.Watch(ctx, q)
		defer sub.Cancel()
		for {
			select {
			case <-ctx.Done():
				return nil
			case docs, ok := <-sub.C():
				if !ok {
					return sub.Err()
				}
				v, err := fn(ctx, docs)
				if err != nil {
					if ctx.Err() != nil {
						return nil
					}
					logger.Errorf("live view %s: %v", q, err)
					continue
				}
				if !emit(v) {
					return nil
				}
			}
		}
	})
}
