package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/chatcore/internal/docstore"
	"github.com/chatcore/internal/logger"
	"github.com/chatcore/internal/model"
)

type ChatRepository struct {
	store docstore.Reader
}

func NewChatRepository(store docstore.Reader) *ChatRepository {
	return &ChatRepository{store: store}
}

func (r *ChatRepository) GetByID(ctx context.Context, id string) (*model.Chat, error) {
	defer logger.DeferLogDuration("chat.GetByID", time.Now())()
	doc, err := r.store.Get(ctx, ChatsCollection, id)
	if err != nil {
		return nil, fmt.Errorf("chatRepo.GetByID: %w", err)
	}
	return DecodeChat(doc)
}

// ListQuery выбирает чаты пользователя: личные, где он участник, и группы, где он в составе;
// новые сверху.
func ListQuery(userID string) docstore.Query {
	return docstore.Collection(ChatsCollection).
		Filter(docstore.Or(
			docstore.ArrayContains("participants", userID),
			docstore.And(
				docstore.Eq("isGroup", true),
				docstore.ArrayContains("groupInfo.members", userID),
			),
		)).
		Order("lastUpdated", docstore.Desc)
}

func DecodeChat(doc docstore.Document) (*model.Chat, error) {
	c := &model.Chat{}
	if err := doc.DataTo(c); err != nil {
		return nil, err
	}
	if c.ID == "" {
		c.ID = doc.ID
	}
	return c, nil
}

func DecodeChats(docs []docstore.Document) ([]model.Chat, error) {
	chats := make([]model.Chat, 0, len(docs))
	for _, d := range docs {
		c, err := DecodeChat(d)
		if err != nil {
			return nil, err
		}
		chats = append(chats, *c)
	}
	return chats, nil
}
