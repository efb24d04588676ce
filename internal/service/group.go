package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/chatcore/internal/docstore"
	"github.com/chatcore/internal/events"
	"github.com/chatcore/internal/identity"
	"github.com/chatcore/internal/logger"
	"github.com/chatcore/internal/model"
	"github.com/chatcore/internal/push"
	"github.com/chatcore/internal/repository"
)

// MaxGroupMembers ограничивает состав группы при создании.
const MaxGroupMembers = 500

type GroupChats struct {
	base
	users *UserDirectory
	chats *repository.ChatRepository
}

func NewGroupChats(store docstore.Store, watcher *docstore.Watcher, users *UserDirectory, opts ...Option) *GroupChats {
	return &GroupChats{
		base:  newBase(store, watcher, opts),
		users: users,
		chats: repository.NewChatRepository(store),
	}
}

// CreateGroup сохраняет группу одной записью. Создатель всегда в составе,
// состав после создания не меняется.
func (g *GroupChats) CreateGroup(ctx context.Context, info model.GroupInfo, memberIDs []string) (*model.Chat, error) {
	defer logger.DeferLogDuration("group.CreateGroup", time.Now())()
	caller, err := identity.UserID(ctx)
	if err != nil {
		return nil, err
	}
	info.Name = strings.TrimSpace(info.Name)
	if info.Name == "" {
		return nil, validationf("group name is required")
	}
	members := make([]string, 0, len(memberIDs)+1)
	seen := map[string]struct{}{caller: {}}
	members = append(members, caller)
	for _, id := range memberIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		members = append(members, id)
	}
	if len(members) > MaxGroupMembers {
		return nil, validationf("group has %d members, at most %d allowed", len(members), MaxGroupMembers)
	}
	info.CreatedBy = caller
	info.Members = members

	chat := model.Chat{
		ID:          uuid.NewString(),
		IsGroup:     true,
		GroupInfo:   &info,
		LastUpdated: g.nowMillis(),
	}
	if err := g.store.Batch(ctx, docstore.Create(repository.ChatsCollection, chat.ID, chat)); err != nil {
		return nil, storeErr("group.CreateGroup", err)
	}
	logger.Infof("group %s (%q) created by %s, %d members", chat.ID, info.Name, caller, len(members))
	g.publish(ctx, events.Event{Type: events.GroupCreated, Key: chat.ID, ActorID: caller, Payload: chat})
	return &chat, nil
}

// SendGroupMessage пишет сообщение и обновляет lastMessage/lastUpdated одной транзакцией.
// Писать могут только участники группы.
func (g *GroupChats) SendGroupMessage(ctx context.Context, msg model.Message, chatID string) (*model.Message, error) {
	defer logger.DeferLogDuration("group.SendGroupMessage", time.Now())()
	sender, err := identity.UserID(ctx)
	if err != nil {
		return nil, err
	}
	if chatID == "" {
		return nil, validationf("chat id is required")
	}
	if strings.TrimSpace(msg.Content) == "" {
		return nil, validationf("message content is required")
	}
	msg.SenderID = sender
	msg.ReceiverID = ""

	var sent model.Message
	var members []string
	err = g.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Txn) error {
		doc, err := tx.Get(ctx, repository.ChatsCollection, chatID)
		if errors.Is(err, docstore.ErrNotFound) {
			return fmt.Errorf("chat %s: %w", chatID, ErrNotFound)
		}
		if err != nil {
			return err
		}
		chat, err := repository.DecodeChat(doc)
		if err != nil {
			return err
		}
		if !chat.IsGroup {
			return validationf("chat %s is not a group", chatID)
		}
		if !chat.HasMember(sender) {
			return fmt.Errorf("%s is not a member of %s: %w", sender, chatID, ErrForbidden)
		}
		members = chat.GroupInfo.Members

		ts := g.nowMillis()
		if ts <= chat.LastUpdated {
			ts = chat.LastUpdated + 1
		}
		sent = msg
		sent.ID = uuid.NewString()
		sent.ChatID = chatID
		sent.Timestamp = ts
		tx.Stage(
			docstore.Create(repository.MessagesPath(chatID), sent.ID, sent),
			docstore.Update(repository.ChatsCollection, chatID,
				docstore.Assign("lastMessage", sent),
				docstore.Assign("lastUpdated", ts),
			),
		)
		return nil
	})
	if err != nil {
		return nil, storeErr("group.SendGroupMessage", err)
	}
	g.publish(ctx, events.Event{Type: events.MessageSent, Key: chatID, ActorID: sender, Payload: sent})
	recipients := make([]string, 0, len(members))
	for _, m := range members {
		if m != sender {
			recipients = append(recipients, m)
		}
	}
	g.notify(ctx, push.Notification{
		UserIDs: recipients,
		Title:   "New group message",
		Body:    sent.Content,
		Data:    map[string]string{"chatId": chatID, "messageId": sent.ID},
	})
	return &sent, nil
}

// GroupMembers возвращает профили участников в порядке состава группы.
func (g *GroupChats) GroupMembers(ctx context.Context, chatID string) ([]model.User, error) {
	chat, err := g.group(ctx, chatID)
	if err != nil {
		return nil, err
	}
	return g.users.ResolveByIDs(ctx, chat.GroupInfo.Members)
}

// GroupMessages: live-лента сообщений группы по возрастанию времени.
func (g *GroupChats) GroupMessages(ctx context.Context, chatID string) (*Stream[[]model.Message], error) {
	if _, err := g.group(ctx, chatID); err != nil {
		return nil, err
	}
	return mapStream(ctx, g.watcher, repository.ChatMessagesQuery(chatID),
		func(_ context.Context, docs []docstore.Document) ([]model.Message, error) {
			return repository.DecodeMessages(docs)
		}), nil
}

// group загружает группу и проверяет, что вызывающий в её составе.
func (g *GroupChats) group(ctx context.Context, chatID string) (*model.Chat, error) {
	caller, err := identity.UserID(ctx)
	if err != nil {
		return nil, err
	}
	if chatID == "" {
		return nil, validationf("chat id is required")
	}
	chat, err := g.chats.GetByID(ctx, chatID)
	if err != nil {
		return nil, storeErr("group.Get", err)
	}
	if !chat.IsGroup || chat.GroupInfo == nil {
		return nil, validationf("chat %s is not a group", chatID)
	}
	if !chat.HasMember(caller) {
		return nil, ErrForbidden
	}
	return chat, nil
}
