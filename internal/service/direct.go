package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/chatcore/internal/docstore"
	"github.com/chatcore/internal/events"
	"github.com/chatcore/internal/identity"
	"github.com/chatcore/internal/logger"
	"github.com/chatcore/internal/model"
	"github.com/chatcore/internal/push"
	"github.com/chatcore/internal/repository"
)

// resolveParallelism bounds concurrent profile lookups per chat list snapshot.
const resolveParallelism = 8

type DirectChats struct {
	base
	users *UserDirectory
	chats *repository.ChatRepository
}

func NewDirectChats(store docstore.Store, watcher *docstore.Watcher, users *UserDirectory, opts ...Option) *DirectChats {
	return &DirectChats{
		base:  newBase(store, watcher, opts),
		users: users,
		chats: repository.NewChatRepository(store),
	}
}

// SendDirectMessage writes msg from the caller to msg.ReceiverID. Without
// existingChatID the pair's chat is created together with the first message and
// its id is returned; if the pair already has a chat (a concurrent first send)
// the message is appended to it instead. With existingChatID the message, lastMessage
// and lastUpdated are committed as one unit and "" is returned.
//
// The server assigns id and timestamp and overwrites senderId with the caller.
// Timestamps never go backwards within a chat, so lastUpdated strictly increases.
func (d *DirectChats) SendDirectMessage(ctx context.Context, msg model.Message, existingChatID string) (string, error) {
	defer logger.DeferLogDuration("direct.SendDirectMessage", time.Now())()
	sender, err := identity.UserID(ctx)
	if err != nil {
		return "", err
	}
	msg.SenderID = sender
	if strings.TrimSpace(msg.Content) == "" {
		return "", validationf("message content is required")
	}
	if msg.ReceiverID == "" {
		return "", validationf("receiver id is required")
	}
	if msg.ReceiverID == sender {
		return "", validationf("cannot send a direct message to yourself")
	}

	chatID := existingChatID
	if chatID == "" {
		chatID = model.DirectChatID(sender, msg.ReceiverID)
	}
	var sent model.Message
	var created bool
	err = d.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Txn) error {
		created = false
		doc, err := tx.Get(ctx, repository.ChatsCollection, chatID)
		var chat *model.Chat
		switch {
		case errors.Is(err, docstore.ErrNotFound):
			if existingChatID != "" {
				return fmt.Errorf("chat %s: %w", chatID, ErrNotFound)
			}
		case err != nil:
			return err
		default:
			if chat, err = repository.DecodeChat(doc); err != nil {
				return err
			}
			if chat.IsGroup || !chat.HasMember(sender) || !chat.HasMember(msg.ReceiverID) {
				return validationf("chat %s is not a direct chat between sender and receiver", chatID)
			}
		}

		ts := d.nowMillis()
		if chat != nil && ts <= chat.LastUpdated {
			ts = chat.LastUpdated + 1
		}
		sent = msg
		sent.ID = uuid.NewString()
		sent.ChatID = chatID
		sent.Timestamp = ts
		msgOp := docstore.Create(repository.MessagesPath(chatID), sent.ID, sent)

		if chat == nil {
			pair := model.SortedPair(sender, msg.ReceiverID)
			newChat := model.Chat{
				ID:           chatID,
				Participants: pair[:],
				LastMessage:  &sent,
				LastUpdated:  ts,
			}
			tx.Stage(docstore.Create(repository.ChatsCollection, chatID, newChat), msgOp)
			created = true
			return nil
		}
		tx.Stage(msgOp, docstore.Update(repository.ChatsCollection, chatID,
			docstore.Assign("lastMessage", sent),
			docstore.Assign("lastUpdated", ts),
		))
		return nil
	})
	if err != nil {
		return "", storeErr("direct.SendDirectMessage", err)
	}
	if created {
		logger.Debugf("direct chat %s created by %s", chatID, sender)
	}
	d.publish(ctx, events.Event{Type: events.MessageSent, Key: chatID, ActorID: sender, Payload: sent})
	d.notify(ctx, push.Notification{
		UserIDs: []string{msg.ReceiverID},
		Title:   "New message",
		Body:    sent.Content,
		Data:    map[string]string{"chatId": chatID, "messageId": sent.ID},
	})
	if existingChatID != "" {
		return "", nil
	}
	return chatID, nil
}

// ListChatsForUser is a live list of the user's direct and group chats, newest
// first, each with the other participant's profile (nil for groups or unknown users).
func (d *DirectChats) ListChatsForUser(ctx context.Context, userID string) (*Stream[[]model.ChatListItem], error) {
	userID, err := selfOrCaller(ctx, userID)
	if err != nil {
		return nil, err
	}
	return mapStream(ctx, d.watcher, repository.ListQuery(userID),
		func(ctx context.Context, docs []docstore.Document) ([]model.ChatListItem, error) {
			chats, err := repository.DecodeChats(docs)
			if err != nil {
				return nil, err
			}
			return d.withParticipants(ctx, userID, chats)
		}), nil
}

// withParticipants resolves the other participant of every direct chat concurrently.
func (d *DirectChats) withParticipants(ctx context.Context, userID string, chats []model.Chat) ([]model.ChatListItem, error) {
	items := make([]model.ChatListItem, len(chats))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(resolveParallelism)
	for i := range chats {
		items[i].Chat = chats[i]
		other := chats[i].OtherParticipant(userID)
		if other == "" {
			continue
		}
		i := i
		g.Go(func() error {
			u, err := d.users.ResolveByID(gctx, other)
			if err != nil {
				return err
			}
			if u != nil {
				pub := u.ToPublic()
				items[i].OtherParticipant = &pub
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return items, nil
}

// ChatMessages is a live, timestamp-ordered view of the messages exchanged by
// the caller and participantID.
func (d *DirectChats) ChatMessages(ctx context.Context, participantID string) (*Stream[[]model.Message], error) {
	caller, err := identity.UserID(ctx)
	if err != nil {
		return nil, err
	}
	if participantID == "" {
		return nil, validationf("participant id is required")
	}
	return mapStream(ctx, d.watcher, repository.DirectMessagesQuery(caller, participantID),
		func(_ context.Context, docs []docstore.Document) ([]model.Message, error) {
			return repository.DecodeMessages(docs)
		}), nil
}

// GetChatByID returns ErrNotFound when the chat is absent and ErrForbidden
// when the caller is not in it.
func (d *DirectChats) GetChatByID(ctx context.Context, chatID string) (*model.Chat, error) {
	caller, err := identity.UserID(ctx)
	if err != nil {
		return nil, err
	}
	if chatID == "" {
		return nil, validationf("chat id is required")
	}
	chat, err := d.chats.GetByID(ctx, chatID)
	if err != nil {
		return nil, storeErr("direct.GetChatByID", err)
	}
	if !chat.HasMember(caller) {
		return nil, ErrForbidden
	}
	return chat, nil
}
