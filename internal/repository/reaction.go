package repository

import (
	"github.com/chatcore/internal/docstore"
	"github.com/chatcore/internal/model"
)

func UserReactionsQuery(channelID, userID string) docstore.Query {
	return docstore.Collection(ReactionsCollection).
		Filter(docstore.And(
			docstore.Eq("channelId", channelID),
			docstore.Eq("userId", userID),
		))
}

func DecodeReactions(docs []docstore.Document) ([]model.Reaction, error) {
	return decodeAll[model.Reaction](docs)
}
