package memory

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatcore/internal/docstore"
)

func TestGetMissing(t *testing.T) {
	s := New()
	_, err := s.Get(context.Background(), "users", "u1")
	assert.ErrorIs(t, err, docstore.ErrNotFound)
}

func TestBatchIsAtomic(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Batch(ctx, docstore.Set("users", "u1", map[string]any{"name": "a"})))

	err := s.Batch(ctx,
		docstore.Set("users", "u2", map[string]any{"name": "b"}),
		docstore.Update("users", "u1", docstore.Assign("name", "changed")),
		docstore.Update("users", "ghost", docstore.Assign("name", "x")),
	)
	assert.ErrorIs(t, err, docstore.ErrNotFound)

	_, err = s.Get(ctx, "users", "u2")
	assert.ErrorIs(t, err, docstore.ErrNotFound)
	d, err := s.Get(ctx, "users", "u1")
	require.NoError(t, err)
	assert.Equal(t, "a", d.Data["name"])
}

func TestBatchSeesEarlierOps(t *testing.T) {
	s := New()
	ctx := context.Background()
	err := s.Batch(ctx,
		docstore.Create("channels", "c1", map[string]any{"subscribersCount": 1}),
		docstore.IncrementOp("channels", "c1", "subscribersCount", 1),
	)
	require.NoError(t, err)
	d, err := s.Get(ctx, "channels", "c1")
	require.NoError(t, err)
	assert.Equal(t, float64(2), d.Data["subscribersCount"])
}

func TestCreateExisting(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Batch(ctx, docstore.Create("users", "u1", map[string]any{})))
	err := s.Batch(ctx, docstore.Create("users", "u1", map[string]any{}))
	assert.ErrorIs(t, err, docstore.ErrAlreadyExists)
}

func TestVersionsAndCopies(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Batch(ctx, docstore.Set("users", "u1", map[string]any{"tags": []string{"a"}})))
	d1, err := s.Get(ctx, "users", "u1")
	require.NoError(t, err)

	// изменение полученной копии не влияет на хранилище
	d1.Data["tags"] = "broken"

	require.NoError(t, s.Batch(ctx, docstore.Update("users", "u1", docstore.ArrayUnion("tags", "b"))))
	d2, err := s.Get(ctx, "users", "u1")
	require.NoError(t, err)
	assert.Greater(t, d2.Version, d1.Version)
	assert.Equal(t, []any{"a", "b"}, d2.Data["tags"])
}

func TestDeleteMissingIsNoop(t *testing.T) {
	s := New()
	assert.NoError(t, s.Batch(context.Background(), docstore.Delete("users", "nobody")))
}

func TestQueryCollectionGroup(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Batch(ctx,
		docstore.Set("chats/c1/messages", "m1", map[string]any{"senderId": "a", "timestamp": 2}),
		docstore.Set("chats/c2/messages", "m2", map[string]any{"senderId": "a", "timestamp": 1}),
		docstore.Set("chats/c2/messages", "m3", map[string]any{"senderId": "b", "timestamp": 3}),
		docstore.Set("chats", "c1", map[string]any{}),
	))

	docs, err := s.Query(ctx, docstore.CollectionGroup("messages").
		Filter(docstore.Eq("senderId", "a")).
		Order("timestamp", docstore.Asc))
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "m2", docs[0].ID)
	assert.Equal(t, "chats/c2/messages", docs[0].Path)
	assert.Equal(t, "m1", docs[1].ID)

	docs, err = s.Query(ctx, docstore.Collection("chats/c2/messages"))
	require.NoError(t, err)
	assert.Len(t, docs, 2)
	assert.Equal(t, 2, s.Len("chats/c2/messages"))
}

func TestQueryInvalid(t *testing.T) {
	_, err := New().Query(context.Background(), docstore.Collection("chats/c1"))
	assert.ErrorIs(t, err, docstore.ErrInvalidArgument)
}

func TestTransactionConflict(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Batch(ctx, docstore.Set("posts", "p1", map[string]any{"n": 0})))

	err := s.RunTransaction(ctx, func(ctx context.Context, tx docstore.Txn) error {
		if _, err := tx.Get(ctx, "posts", "p1"); err != nil {
			return err
		}
		// конкурентная запись между чтением и коммитом
		require.NoError(t, s.Batch(ctx, docstore.IncrementOp("posts", "p1", "n", 1)))
		tx.Stage(docstore.Update("posts", "p1", docstore.Assign("n", 100)))
		return nil
	})
	assert.ErrorIs(t, err, docstore.ErrConflict)

	d, err := s.Get(ctx, "posts", "p1")
	require.NoError(t, err)
	assert.Equal(t, float64(1), d.Data["n"])
}

func TestTransactionAbsentReadConflicts(t *testing.T) {
	s := New()
	ctx := context.Background()
	err := s.RunTransaction(ctx, func(ctx context.Context, tx docstore.Txn) error {
		_, err := tx.Get(ctx, "chats", "dm")
		require.ErrorIs(t, err, docstore.ErrNotFound)
		require.NoError(t, s.Batch(ctx, docstore.Set("chats", "dm", map[string]any{})))
		tx.Stage(docstore.Create("chats", "dm", map[string]any{"x": 1}))
		return nil
	})
	assert.ErrorIs(t, err, docstore.ErrConflict)
}

func TestTransactionFnErrorAppliesNothing(t *testing.T) {
	s := New()
	ctx := context.Background()
	boom := errors.New("boom")
	err := s.RunTransaction(ctx, func(ctx context.Context, tx docstore.Txn) error {
		tx.Stage(docstore.Set("users", "u1", map[string]any{}))
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, s.Len("users"))
}

func TestConcurrentIncrements(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Batch(ctx, docstore.Set("channels", "c1", map[string]any{"subscribersCount": 1})))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.Batch(ctx, docstore.IncrementOp("channels", "c1", "subscribersCount", 1)))
		}()
	}
	wg.Wait()
	d, err := s.Get(ctx, "channels", "c1")
	require.NoError(t, err)
	assert.Equal(t, float64(51), d.Data["subscribersCount"])
}

func TestFaultInjection(t *testing.T) {
	s := New()
	ctx := context.Background()
	s.SetFault(func(op string) error {
		if op == "batch" {
			return docstore.ErrUnavailable
		}
		return nil
	})
	assert.ErrorIs(t, s.Batch(ctx, docstore.Set("users", "u1", map[string]any{})), docstore.ErrUnavailable)
	s.SetFault(nil)
	assert.NoError(t, s.Batch(ctx, docstore.Set("users", "u1", map[string]any{})))
}
