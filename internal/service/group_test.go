package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatcore/internal/model"
	"github.com/chatcore/internal/repository"
)

func TestCreateGroupAddsCreator(t *testing.T) {
	e := newTestEnv(t)
	chat, err := e.groups.CreateGroup(asUser("u1", "+1"),
		model.GroupInfo{Name: " team ", Tag: "team", CreatedBy: "mallory"},
		[]string{"u2", "u2", "", "u1", "u3"})
	require.NoError(t, err)

	assert.True(t, chat.IsGroup)
	require.NotNil(t, chat.GroupInfo)
	assert.Equal(t, "team", chat.GroupInfo.Name)
	assert.Equal(t, "u1", chat.GroupInfo.CreatedBy)
	assert.Equal(t, []string{"u1", "u2", "u3"}, chat.GroupInfo.Members)

	stored, err := repository.NewChatRepository(e.store).GetByID(asUser("u1", ""), chat.ID)
	require.NoError(t, err)
	assert.Equal(t, chat.GroupInfo.Members, stored.GroupInfo.Members)
	assert.Empty(t, stored.Participants)
}

func TestCreateGroupValidation(t *testing.T) {
	e := newTestEnv(t)
	_, err := e.groups.CreateGroup(asUser("u1", ""), model.GroupInfo{Name: "  "}, nil)
	assert.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, 0, e.mem.Len(repository.ChatsCollection))
}

func TestSendGroupMessage(t *testing.T) {
	e := newTestEnv(t, fixedClock(1_000))
	chat, err := e.groups.CreateGroup(asUser("u1", ""), model.GroupInfo{Name: "team"}, []string{"u2"})
	require.NoError(t, err)

	msg, err := e.groups.SendGroupMessage(asUser("u2", ""), model.Message{Content: "hello", SenderID: "u1", ReceiverID: "x"}, chat.ID)
	require.NoError(t, err)
	assert.Equal(t, "u2", msg.SenderID)
	assert.Empty(t, msg.ReceiverID)
	assert.Equal(t, chat.ID, msg.ChatID)

	_, err = e.groups.SendGroupMessage(asUser("u1", ""), model.Message{Content: "again"}, chat.ID)
	require.NoError(t, err)

	stored, err := repository.NewChatRepository(e.store).GetByID(asUser("u1", ""), chat.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.LastMessage)
	assert.Equal(t, "again", stored.LastMessage.Content)
	assert.Equal(t, int64(1_002), stored.LastUpdated)
	assert.Equal(t, 2, e.mem.Len(repository.MessagesPath(chat.ID)))
}

func TestSendGroupMessageRejectsOutsiders(t *testing.T) {
	e := newTestEnv(t)
	chat, err := e.groups.CreateGroup(asUser("u1", ""), model.GroupInfo{Name: "team"}, []string{"u2"})
	require.NoError(t, err)

	_, err = e.groups.SendGroupMessage(asUser("u3", ""), model.Message{Content: "let me in"}, chat.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = e.groups.SendGroupMessage(asUser("u1", ""), model.Message{Content: "hi"}, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	direct, err := e.direct.SendDirectMessage(asUser("u1", ""), model.Message{ReceiverID: "u2", Content: "dm"}, "")
	require.NoError(t, err)
	_, err = e.groups.SendGroupMessage(asUser("u1", ""), model.Message{Content: "hi"}, direct)
	assert.ErrorIs(t, err, ErrValidation)

	assert.Equal(t, 0, e.mem.Len(repository.MessagesPath(chat.ID)))
}

func TestGroupMembersAndMessages(t *testing.T) {
	e := newTestEnv(t)
	e.seedUser(t, "u1", "+1", "anna")
	e.seedUser(t, "u2", "+2", "boris")
	chat, err := e.groups.CreateGroup(asUser("u1", "+1"), model.GroupInfo{Name: "team"}, []string{"u2", "ghost"})
	require.NoError(t, err)

	members, err := e.groups.GroupMembers(asUser("u2", "+2"), chat.ID)
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.Equal(t, "u1", members[0].ID)
	assert.Equal(t, "u2", members[1].ID)

	_, err = e.groups.GroupMembers(asUser("u9", ""), chat.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	s, err := e.groups.GroupMessages(asUser("u2", "+2"), chat.ID)
	require.NoError(t, err)
	defer s.Cancel()
	waitFor(t, s, func(ms []model.Message) bool { return len(ms) == 0 })

	_, err = e.groups.SendGroupMessage(asUser("u1", "+1"), model.Message{Content: "first"}, chat.ID)
	require.NoError(t, err)
	_, err = e.groups.SendGroupMessage(asUser("u2", "+2"), model.Message{Content: "second"}, chat.ID)
	require.NoError(t, err)

	ms := waitFor(t, s, func(ms []model.Message) bool { return len(ms) == 2 })
	assert.Equal(t, "first", ms[0].Content)
	assert.Equal(t, "second", ms[1].Content)
}
