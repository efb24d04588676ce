package service

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatcore/internal/model"
	"github.com/chatcore/internal/repository"
)

func TestCreateChannelSubscribesOwner(t *testing.T) {
	e := newTestEnv(t)
	ctx := e.seedUser(t, "owner", "+1", "owner")

	ch, err := e.channels.CreateChannel(ctx, "Go News", "daily", "gonews")
	require.NoError(t, err)
	assert.Equal(t, "owner", ch.OwnerID)
	assert.Equal(t, int64(1), ch.SubscribersCount)

	u, err := e.users.ResolveByID(ctx, "owner")
	require.NoError(t, err)
	assert.Equal(t, []string{"gonews"}, u.ChannelTags)

	got, err := e.channels.GetChannelByID(ctx, ch.ID)
	require.NoError(t, err)
	assert.Equal(t, *ch, *got)

	_, err = e.channels.CreateChannel(ctx, "Other", "", "gonews")
	assert.ErrorIs(t, err, ErrConflict)
}

func TestCreateChannelWithoutProfileIsAtomic(t *testing.T) {
	e := newTestEnv(t)
	// профиля нет: подписка владельца не пишется, и канал тоже
	_, err := e.channels.CreateChannel(asUser("ghost", ""), "Name", "", "tag1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 0, e.mem.Len(repository.ChannelsCollection))
}

func TestCreateChannelValidation(t *testing.T) {
	e := newTestEnv(t)
	ctx := e.seedUser(t, "owner", "+1", "")
	_, err := e.channels.CreateChannel(ctx, "", "", "tag")
	assert.ErrorIs(t, err, ErrValidation)
	_, err = e.channels.CreateChannel(ctx, "name", "", " ")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestGetChannelByIDNotFound(t *testing.T) {
	e := newTestEnv(t)
	_, err := e.channels.GetChannelByID(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSearchChannels(t *testing.T) {
	e := newTestEnv(t)
	ctx := e.seedUser(t, "owner", "+1", "")
	for _, c := range [][2]string{{"Golang Weekly", "gow"}, {"Golang Jobs", "goj"}, {"Rust", "rustlang"}} {
		_, err := e.channels.CreateChannel(ctx, c[0], "", c[1])
		require.NoError(t, err)
	}

	got, err := e.channels.SearchChannels(ctx, "Gol")
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = e.channels.SearchChannels(ctx, "Golang")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Golang Jobs", got[0].Name)
	assert.Equal(t, "Golang Weekly", got[1].Name)

	got, err = e.channels.SearchChannels(ctx, "rustlang")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Rust", got[0].Name)
}

func TestConcurrentSubscribeCountsEveryone(t *testing.T) {
	e := newTestEnv(t)
	owner := e.seedUser(t, "owner", "+1", "")
	ch, err := e.channels.CreateChannel(owner, "Channel", "", "chan")
	require.NoError(t, err)

	const n = 25
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("sub%02d", i)
		e.seedUser(t, ids[i], "+2"+ids[i], "")
	}

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i, id := range ids {
		i, id := i, id
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = e.channels.Subscribe(asUser(id, ""), id, ch.ID)
		}()
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	got, err := e.channels.GetChannelByID(owner, ch.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(n+1), got.SubscribersCount)
}

func TestSubscribeTwiceIsNoop(t *testing.T) {
	e := newTestEnv(t)
	owner := e.seedUser(t, "owner", "+1", "")
	ch, err := e.channels.CreateChannel(owner, "Channel", "", "chan")
	require.NoError(t, err)
	ctx := e.seedUser(t, "u1", "+2", "")

	added, err := e.channels.Subscribe(ctx, "u1", ch.ID)
	require.NoError(t, err)
	assert.True(t, added)
	added, err = e.channels.Subscribe(ctx, "", ch.ID)
	require.NoError(t, err)
	assert.False(t, added)

	got, err := e.channels.GetChannelByID(ctx, ch.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.SubscribersCount)

	_, err = e.channels.Subscribe(ctx, "owner", ch.ID)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = e.channels.Subscribe(ctx, "u1", "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = e.channels.Subscribe(asUser("ghost", ""), "ghost", ch.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListSubscribedChannelsFollowsTags(t *testing.T) {
	e := newTestEnv(t, steppingClock(1_000))
	owner := e.seedUser(t, "owner", "+1", "")
	news, err := e.channels.CreateChannel(owner, "News", "", "news")
	require.NoError(t, err)
	sport, err := e.channels.CreateChannel(owner, "Sport", "", "sport")
	require.NoError(t, err)

	ctx := e.seedUser(t, "u1", "+2", "")
	s, err := e.channels.ListSubscribedChannels(ctx, "u1")
	require.NoError(t, err)
	defer s.Cancel()
	waitFor(t, s, func(chs []model.Channel) bool { return len(chs) == 0 })

	_, err = e.channels.Subscribe(ctx, "u1", news.ID)
	require.NoError(t, err)
	chs := waitFor(t, s, func(chs []model.Channel) bool { return len(chs) == 1 })
	assert.Equal(t, news.ID, chs[0].ID)

	_, err = e.channels.Subscribe(ctx, "u1", sport.ID)
	require.NoError(t, err)
	waitFor(t, s, func(chs []model.Channel) bool { return len(chs) == 2 })

	// новый пост поднимает канал наверх
	_, err = e.channels.PublishPost(owner, news.ID, model.Post{Content: "breaking"})
	require.NoError(t, err)
	chs = waitFor(t, s, func(chs []model.Channel) bool {
		return len(chs) == 2 && chs[0].LastPost != nil
	})
	assert.Equal(t, news.ID, chs[0].ID)
	assert.Equal(t, "breaking", chs[0].LastPost.Content)
}

func TestPublishPost(t *testing.T) {
	e := newTestEnv(t, fixedClock(5_000))
	owner := e.seedUser(t, "owner", "+1", "")
	ch, err := e.channels.CreateChannel(owner, "Channel", "", "chan")
	require.NoError(t, err)

	post, err := e.channels.PublishPost(owner, ch.ID, model.Post{Content: "hello", LikesCount: 99})
	require.NoError(t, err)
	assert.Equal(t, int64(0), post.LikesCount)
	assert.Equal(t, int64(5_000), post.PostedAt)
	assert.Equal(t, ch.ID, post.ChannelID)

	got, err := e.channels.GetChannelByID(owner, ch.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastPost)
	assert.Equal(t, post.ID, got.LastPost.ID)
	assert.Equal(t, int64(5_000), got.LastUpdated)

	_, err = e.channels.PublishPost(owner, "missing", model.Post{Content: "x"})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 0, e.mem.Len(repository.PostsPath("missing")))

	_, err = e.channels.PublishPost(owner, ch.ID, model.Post{Content: " "})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestChannelPostsLive(t *testing.T) {
	e := newTestEnv(t)
	owner := e.seedUser(t, "owner", "+1", "")
	ch, err := e.channels.CreateChannel(owner, "Channel", "", "chan")
	require.NoError(t, err)

	s, err := e.channels.ChannelPosts(owner, ch.ID)
	require.NoError(t, err)
	defer s.Cancel()
	waitFor(t, s, func(ps []model.Post) bool { return len(ps) == 0 })

	for _, c := range []string{"a", "b", "c"} {
		_, err := e.channels.PublishPost(owner, ch.ID, model.Post{Content: c})
		require.NoError(t, err)
	}
	ps := waitFor(t, s, func(ps []model.Post) bool { return len(ps) == 3 })
	for i := 1; i < len(ps); i++ {
		assert.LessOrEqual(t, ps[i-1].PostedAt, ps[i].PostedAt)
	}
}
