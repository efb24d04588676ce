package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatcore/internal/identity"
	"github.com/chatcore/internal/model"
)

func TestSaveProfileRoundTrip(t *testing.T) {
	e := newTestEnv(t)
	ctx := asUser("u1", "+79990000001")

	u := model.User{
		ID:          "u1",
		PhoneNumber: "+79990000001",
		FirstName:   "Anna",
		LastName:    "K",
		Description: "hello",
		Tag:         "annak",
	}
	_, err := e.users.SaveProfile(ctx, u)
	require.NoError(t, err)

	got, err := e.users.ResolveByID(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, u.PhoneNumber, got.PhoneNumber)
	assert.Equal(t, u.FirstName, got.FirstName)
	assert.Equal(t, u.LastName, got.LastName)
	assert.Equal(t, u.Description, got.Description)
	assert.Equal(t, u.Tag, got.Tag)
	assert.Equal(t, []string{}, got.ChannelTags)

	exists, err := e.users.ProfileExists(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestSaveProfileKeepsSubscriptionsAndPhone(t *testing.T) {
	e := newTestEnv(t)
	ctx := e.seedUser(t, "u1", "+79990000001", "anna")
	owner := e.seedUser(t, "owner", "+79990000002", "owner")
	ch, err := e.channels.CreateChannel(owner, "News", "", "news")
	require.NoError(t, err)
	_, err = e.channels.Subscribe(ctx, "u1", ch.ID)
	require.NoError(t, err)

	saved, err := e.users.SaveProfile(ctx, model.User{ID: "u1", FirstName: "Anya"})
	require.NoError(t, err)
	assert.Equal(t, "Anya", saved.FirstName)
	assert.Equal(t, "+79990000001", saved.PhoneNumber)
	assert.Equal(t, []string{"news"}, saved.ChannelTags)

	_, err = e.users.SaveProfile(ctx, model.User{ID: "u1", PhoneNumber: "+70000000000"})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestSaveProfileIgnoresChannelTags(t *testing.T) {
	e := newTestEnv(t)
	owner := e.seedUser(t, "owner", "+79990000001", "owner")
	ch, err := e.channels.CreateChannel(owner, "Go News", "", "gonews")
	require.NoError(t, err)

	// владелец не может отписаться от своего канала через профиль
	saved, err := e.users.SaveProfile(owner, model.User{ID: "owner", FirstName: "Owner", ChannelTags: []string{}})
	require.NoError(t, err)
	assert.Equal(t, []string{"gonews"}, saved.ChannelTags)

	// новый профиль не получает подписки в обход счётчика
	fan := asUser("fan", "+79990000002")
	saved, err = e.users.SaveProfile(fan, model.User{ID: "fan", FirstName: "Fan", ChannelTags: []string{"gonews"}})
	require.NoError(t, err)
	assert.Empty(t, saved.ChannelTags)

	added, err := e.channels.Subscribe(fan, "fan", ch.ID)
	require.NoError(t, err)
	assert.True(t, added)

	_, err = e.users.SaveProfile(fan, model.User{ID: "fan", FirstName: "Fan", ChannelTags: []string{"other"}})
	require.NoError(t, err)

	got, err := e.channels.GetChannelByID(owner, ch.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.SubscribersCount)
	for _, id := range []string{"owner", "fan"} {
		u, err := e.users.ResolveByID(owner, id)
		require.NoError(t, err)
		assert.Equal(t, []string{"gonews"}, u.ChannelTags, id)
	}
}

func TestSaveProfileValidation(t *testing.T) {
	e := newTestEnv(t)

	_, err := e.users.SaveProfile(asUser("u1", "+7"), model.User{FirstName: "NoID"})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = e.users.SaveProfile(asUser("u1", "+7"), model.User{ID: "u2"})
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = e.users.SaveProfile(context.Background(), model.User{ID: "u1"})
	assert.ErrorIs(t, err, identity.ErrUnauthenticated)
}

func TestResolveByIDAbsent(t *testing.T) {
	e := newTestEnv(t)
	u, err := e.users.ResolveByID(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Nil(t, u)

	exists, err := e.users.ProfileExists(context.Background(), "ghost")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestSearchByQuery(t *testing.T) {
	e := newTestEnv(t)
	e.seedUser(t, "u1", "+79990000001", "alexander")
	e.seedUser(t, "u2", "+79990000002", "alexey")
	e.seedUser(t, "u3", "+79990000003", "boris")

	for _, q := range []string{"", "a", "ale", "  al  "} {
		got, err := e.users.SearchByQuery(context.Background(), q)
		require.NoError(t, err)
		assert.Empty(t, got, "query %q", q)
	}

	got, err := e.users.SearchByQuery(context.Background(), "alex")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "alexander", got[0].Tag)
	assert.Equal(t, "alexey", got[1].Tag)

	got, err = e.users.SearchByQuery(context.Background(), "+79990000003")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "u3", got[0].ID)
}

func TestSearchByQueryPageSize(t *testing.T) {
	e := newTestEnv(t)
	for _, id := range []string{"a1", "a2", "a3", "a4", "a5", "a6", "a7"} {
		e.seedUser(t, id, "+7"+id, "tester_"+id)
	}
	got, err := e.users.SearchByQuery(context.Background(), "tester")
	require.NoError(t, err)
	assert.Len(t, got, 5)
}

func TestResolveByPhoneNumbersAndIDs(t *testing.T) {
	e := newTestEnv(t)
	e.seedUser(t, "u1", "+1", "")
	e.seedUser(t, "u2", "+2", "")
	e.seedUser(t, "u3", "+3", "")

	got, err := e.users.ResolveByPhoneNumbers(context.Background(), []string{"+1", "+3", "+404", "+1"})
	require.NoError(t, err)
	ids := make([]string, 0, len(got))
	for _, u := range got {
		ids = append(ids, u.ID)
	}
	assert.ElementsMatch(t, []string{"u1", "u3"}, ids)

	byID, err := e.users.ResolveByIDs(context.Background(), []string{"u3", "ghost", "u1"})
	require.NoError(t, err)
	require.Len(t, byID, 2)
	assert.Equal(t, "u3", byID[0].ID)
	assert.Equal(t, "u1", byID[1].ID)
}

func TestCurrentUserLive(t *testing.T) {
	e := newTestEnv(t)
	ctx := asUser("u1", "+1")
	s, err := e.users.CurrentUser(ctx)
	require.NoError(t, err)
	defer s.Cancel()

	waitFor(t, s, func(u *model.User) bool { return u == nil })
	_, err = e.users.SaveProfile(ctx, model.User{ID: "u1", FirstName: "Anna"})
	require.NoError(t, err)
	u := waitFor(t, s, func(u *model.User) bool { return u != nil })
	assert.Equal(t, "Anna", u.FirstName)
}
