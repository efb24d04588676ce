// Package repository: типизированный доступ к коллекциям документов:
// пути, запросы и декодирование. Записи собирают сервисы в атомарные батчи.
package repository

import (
	"github.com/chatcore/internal/docstore"
)

const (
	UsersCollection     = "users"
	ChatsCollection     = "chats"
	MessagesCollection  = "messages"
	ChannelsCollection  = "channels"
	PostsCollection     = "posts"
	ReactionsCollection = "reactions"
)

// SearchPageSize: размер страницы интерактивного поиска.
const SearchPageSize = 5

// inChunk ограничивает число значений в одном IN-запросе.
const inChunk = 30

func MessagesPath(chatID string) string {
	return docstore.JoinPath(ChatsCollection, chatID, MessagesCollection)
}

func PostsPath(channelID string) string {
	return docstore.JoinPath(ChannelsCollection, channelID, PostsCollection)
}

func decodeAll[T any](docs []docstore.Document) ([]T, error) {
	out := make([]T, 0, len(docs))
	for _, d := range docs {
		var v T
		if err := d.DataTo(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func chunks(values []string, size int) [][]string {
	out := make([][]string, 0, len(values)/size+1)
	for len(values) > size {
		out = append(out, values[:size])
		values = values[size:]
	}
	if len(values) > 0 {
		out = append(out, values)
	}
	return out
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
