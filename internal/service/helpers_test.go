package service

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chatcore/internal/docstore"
	memstore "github.com/chatcore/internal/docstore/memory"
	"github.com/chatcore/internal/identity"
	"github.com/chatcore/internal/model"
	membus "github.com/chatcore/internal/storage/memory"
)

type testEnv struct {
	mem       *memstore.Store
	bus       *membus.Client
	store     docstore.Store
	watcher   *docstore.Watcher
	users     *UserDirectory
	direct    *DirectChats
	groups    *GroupChats
	channels  *Channels
	reactions *Reactions
}

// newTestEnv собирает сервисы поверх in-memory хранилища и шины изменений.
// Попыток транзакции больше, чем в проде: тесты гоняют десятки конкурентных записей.
func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	mem := memstore.New()
	bus := membus.New()
	store := docstore.WithRetry(docstore.WithNotifications(mem, bus), docstore.RetryPolicy{
		TxnAttempts:  100,
		ReadAttempts: 3,
		ReadBackoff:  time.Millisecond,
	})
	watcher := docstore.NewWatcher(store, bus, 20*time.Millisecond)
	users := NewUserDirectory(store, watcher, opts...)
	t.Cleanup(func() { _ = bus.Close() })
	return &testEnv{
		mem:       mem,
		bus:       bus,
		store:     store,
		watcher:   watcher,
		users:     users,
		direct:    NewDirectChats(store, watcher, users, opts...),
		groups:    NewGroupChats(store, watcher, users, opts...),
		channels:  NewChannels(store, watcher, opts...),
		reactions: NewReactions(store, watcher, opts...),
	}
}

func asUser(userID, phone string) context.Context {
	return identity.WithIdentity(context.Background(), identity.New(userID, phone))
}

func (e *testEnv) seedUser(t *testing.T, userID, phone, tag string) context.Context {
	t.Helper()
	ctx := asUser(userID, phone)
	_, err := e.users.SaveProfile(ctx, model.User{ID: userID, FirstName: "User " + userID, Tag: tag})
	require.NoError(t, err)
	return ctx
}

// waitFor читает снимки, пока pred не вернёт true.
func waitFor[T any](t *testing.T, s *Stream[T], pred func(T) bool) T {
	t.Helper()
	timeout := time.After(waitTimeout)
	for {
		select {
		case v, ok := <-s.C():
			require.True(t, ok, "stream closed: %v", s.Err())
			if pred(v) {
				return v
			}
		case <-timeout:
			t.Fatal("timed out waiting for snapshot")
		}
	}
}

func fixedClock(ms int64) Option {
	return WithClock(func() time.Time { return time.UnixMilli(ms) })
}

// steppingClock сдвигается на 1 ms при каждом чтении: порядок записей однозначен.
func steppingClock(startMs int64) Option {
	var n atomic.Int64
	n.Store(startMs)
	return WithClock(func() time.Time { return time.UnixMilli(n.Add(1)) })
}

const (
	waitTimeout = 3 * time.Second
	pollStep    = 10 * time.Millisecond
)
