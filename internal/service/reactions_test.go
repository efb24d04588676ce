package service

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatcore/internal/model"
	"github.com/chatcore/internal/repository"
)

type reactionFixture struct {
	e       *testEnv
	channel *model.Channel
	post    *model.Post
}

func newReactionFixture(t *testing.T) *reactionFixture {
	t.Helper()
	e := newTestEnv(t)
	owner := e.seedUser(t, "owner", "+1", "")
	ch, err := e.channels.CreateChannel(owner, "Channel", "", "chan")
	require.NoError(t, err)
	post, err := e.channels.PublishPost(owner, ch.ID, model.Post{Content: "post"})
	require.NoError(t, err)
	return &reactionFixture{e: e, channel: ch, post: post}
}

func (f *reactionFixture) counts(t *testing.T) (likes, dislikes int64) {
	t.Helper()
	p, err := repository.NewChannelRepository(f.e.store).GetPost(context.Background(), f.channel.ID, f.post.ID)
	require.NoError(t, err)
	return p.LikesCount, p.DislikesCount
}

func TestReactLikeToggleDislike(t *testing.T) {
	f := newReactionFixture(t)
	ctx := asUser("u1", "")

	out, err := f.e.reactions.React(ctx, f.channel.ID, f.post.ID, model.ReactionLike)
	require.NoError(t, err)
	assert.Equal(t, ReactionAdded, out)
	likes, dislikes := f.counts(t)
	assert.Equal(t, int64(1), likes)
	assert.Equal(t, int64(0), dislikes)

	out, err = f.e.reactions.React(ctx, f.channel.ID, f.post.ID, model.ReactionLike)
	require.NoError(t, err)
	assert.Equal(t, ReactionRemoved, out)
	likes, dislikes = f.counts(t)
	assert.Equal(t, int64(0), likes)
	assert.Equal(t, int64(0), dislikes)
	assert.Equal(t, 0, f.e.mem.Len(repository.ReactionsCollection))

	out, err = f.e.reactions.React(ctx, f.channel.ID, f.post.ID, model.ReactionDislike)
	require.NoError(t, err)
	assert.Equal(t, ReactionAdded, out)
	likes, dislikes = f.counts(t)
	assert.Equal(t, int64(0), likes)
	assert.Equal(t, int64(1), dislikes)
}

func TestReactSwitch(t *testing.T) {
	f := newReactionFixture(t)
	ctx := asUser("u1", "")

	_, err := f.e.reactions.React(ctx, f.channel.ID, f.post.ID, model.ReactionLike)
	require.NoError(t, err)
	out, err := f.e.reactions.React(ctx, f.channel.ID, f.post.ID, model.ReactionDislike)
	require.NoError(t, err)
	assert.Equal(t, ReactionSwitched, out)

	likes, dislikes := f.counts(t)
	assert.Equal(t, int64(0), likes)
	assert.Equal(t, int64(1), dislikes)
	assert.Equal(t, 1, f.e.mem.Len(repository.ReactionsCollection))
}

func TestReactCountersMatchReactionsUnderConcurrency(t *testing.T) {
	f := newReactionFixture(t)
	users := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	seq := []model.ReactionType{model.ReactionLike, model.ReactionDislike, model.ReactionDislike, model.ReactionLike, model.ReactionLike}

	var wg sync.WaitGroup
	for _, u := range users {
		u := u
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx := asUser(u, "")
			for _, rt := range seq {
				_, err := f.e.reactions.React(ctx, f.channel.ID, f.post.ID, rt)
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	// LIKE, DISLIKE (switch), DISLIKE (off), LIKE (on), LIKE (off): у каждого пусто
	likes, dislikes := f.counts(t)
	assert.Equal(t, int64(0), likes)
	assert.Equal(t, int64(0), dislikes)
	assert.Equal(t, 0, f.e.mem.Len(repository.ReactionsCollection))

	for _, u := range users {
		_, err := f.e.reactions.React(asUser(u, ""), f.channel.ID, f.post.ID, model.ReactionLike)
		require.NoError(t, err)
	}
	likes, _ = f.counts(t)
	assert.Equal(t, int64(len(users)), likes)
}

func TestReactValidation(t *testing.T) {
	f := newReactionFixture(t)
	ctx := asUser("u1", "")

	_, err := f.e.reactions.React(ctx, f.channel.ID, f.post.ID, model.ReactionType("LOVE"))
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.e.reactions.React(ctx, f.channel.ID, "missing", model.ReactionLike)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 0, f.e.mem.Len(repository.ReactionsCollection))
}

func TestReactionsForUserLive(t *testing.T) {
	f := newReactionFixture(t)
	ctx := asUser("u1", "")

	s, err := f.e.reactions.ReactionsForUser(ctx, f.channel.ID, "u1")
	require.NoError(t, err)
	defer s.Cancel()
	waitFor(t, s, func(rs []model.Reaction) bool { return len(rs) == 0 })

	_, err = f.e.reactions.React(ctx, f.channel.ID, f.post.ID, model.ReactionLike)
	require.NoError(t, err)
	_, err = f.e.reactions.React(asUser("u2", ""), f.channel.ID, f.post.ID, model.ReactionDislike)
	require.NoError(t, err)

	rs := waitFor(t, s, func(rs []model.Reaction) bool { return len(rs) == 1 })
	assert.Equal(t, model.ReactionLike, rs[0].Type)
	assert.Equal(t, f.post.ID, rs[0].PostID)
	assert.Equal(t, "u1", rs[0].UserID)

	_, err = f.e.reactions.React(ctx, f.channel.ID, f.post.ID, model.ReactionDislike)
	require.NoError(t, err)
	waitFor(t, s, func(rs []model.Reaction) bool { return len(rs) == 1 && rs[0].Type == model.ReactionDislike })
}
