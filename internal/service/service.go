// Package service implements the messaging domain: user directory, direct and
// group chats, channels with posts, and reactions. Every write that touches a
// denormalized field (lastMessage, lastPost, counters, channelTags) goes
// through one atomic batch or transaction together with the record it summarizes.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chatcore/internal/docstore"
	"github.com/chatcore/internal/events"
	"github.com/chatcore/internal/identity"
	"github.com/chatcore/internal/logger"
	"github.com/chatcore/internal/push"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrValidation       = errors.New("validation error")
	ErrConflict         = errors.New("conflict")
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrForbidden        = errors.New("forbidden")
)

const sideEffectTimeout = 5 * time.Second

// Notifier delivers push notifications; push.Client implements it.
type Notifier interface {
	Notify(ctx context.Context, n push.Notification)
}

type Option func(*base)

func WithEvents(p events.Publisher) Option {
	return func(b *base) {
		if p != nil {
			b.events = p
		}
	}
}

func WithNotifier(n Notifier) Option {
	return func(b *base) {
		if n != nil {
			b.push = n
		}
	}
}

// WithClock overrides the server clock used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(b *base) {
		if now != nil {
			b.now = now
		}
	}
}

type base struct {
	store   docstore.Store
	watcher *docstore.Watcher
	events  events.Publisher
	push    Notifier
	now     func() time.Time
}

func newBase(store docstore.Store, watcher *docstore.Watcher, opts []Option) base {
	b := base{
		store:   store,
		watcher: watcher,
		events:  events.Noop{},
		now:     time.Now,
	}
	for _, o := range opts {
		o(&b)
	}
	return b
}

func (b *base) nowMillis() int64 {
	return b.now().UnixMilli()
}

// publish sends a domain event after a successful commit; failures are logged only.
func (b *base) publish(ctx context.Context, e events.Event) {
	if e.At == 0 {
		e.At = b.nowMillis()
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
	defer cancel()
	if err := b.events.Publish(ctx, e); err != nil {
		logger.Warnf("event %s (%s): %v", e.Type, e.Key, err)
	}
}

func (b *base) notify(ctx context.Context, n push.Notification) {
	if b.push == nil || len(n.UserIDs) == 0 {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
		defer cancel()
		b.push.Notify(ctx, n)
	}()
}

// storeErr maps docstore errors to the service taxonomy, keeping the cause.
func storeErr(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrValidation), errors.Is(err, ErrForbidden),
		errors.Is(err, ErrConflict), errors.Is(err, ErrStoreUnavailable):
		return fmt.Errorf("%s: %w", op, err)
	case errors.Is(err, docstore.ErrNotFound):
		return fmt.Errorf("%s: %w: %w", op, ErrNotFound, err)
	case errors.Is(err, docstore.ErrConflict), errors.Is(err, docstore.ErrAlreadyExists):
		return fmt.Errorf("%s: %w: %w", op, ErrConflict, err)
	case errors.Is(err, docstore.ErrUnavailable):
		return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
	case errors.Is(err, docstore.ErrInvalidArgument):
		return fmt.Errorf("%s: %w: %w", op, ErrValidation, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

// selfOrCaller resolves a userID argument that may only name the caller:
// "" means the caller, any other user is ErrForbidden.
func selfOrCaller(ctx context.Context, userID string) (string, error) {
	caller, err := identity.UserID(ctx)
	if err != nil {
		return "", err
	}
	if userID != "" && userID != caller {
		return "", ErrForbidden
	}
	return caller, nil
}

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Error codes shared by the REST and WebSocket surfaces.
const (
	CodeNotFound        = "not_found"
	CodeValidation      = "validation"
	CodeForbidden       = "forbidden"
	CodeConflict        = "conflict"
	CodeUnavailable     = "unavailable"
	CodeUnauthenticated = "unauthenticated"
	CodeInternal        = "internal"
)

// ErrorCode classifies err by the taxonomy above.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, identity.ErrUnauthenticated):
		return CodeUnauthenticated
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrValidation):
		return CodeValidation
	case errors.Is(err, ErrForbidden):
		return CodeForbidden
	case errors.Is(err, ErrConflict):
		return CodeConflict
	case errors.Is(err, ErrStoreUnavailable):
		return CodeUnavailable
	default:
		return CodeInternal
	}
}
