package repository

import (
	"github.com/chatcore/internal/docstore"
	"github.com/chatcore/internal/model"
)

// DirectMessagesQuery: сообщения между двумя пользователями по всем подколлекциям
// messages, по возрастанию времени.
func DirectMessagesQuery(userID, otherID string) docstore.Query {
	return docstore.CollectionGroup(MessagesCollection).
		Filter(docstore.Or(
			docstore.And(docstore.Eq("senderId", userID), docstore.Eq("receiverId", otherID)),
			docstore.And(docstore.Eq("senderId", otherID), docstore.Eq("receiverId", userID)),
		)).
		Order("timestamp", docstore.Asc)
}

func ChatMessagesQuery(chatID string) docstore.Query {
	return docstore.Collection(MessagesPath(chatID)).Order("timestamp", docstore.Asc)
}

func DecodeMessages(docs []docstore.Document) ([]model.Message, error) {
	return decodeAll[model.Message](docs)
}
