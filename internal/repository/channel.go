package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/chatcore/internal/docstore"
	"github.com/chatcore/internal/logger"
	"github.com/chatcore/internal/model"
)

type ChannelRepository struct {
	store docstore.Reader
}

func NewChannelRepository(store docstore.Reader) *ChannelRepository {
	return &ChannelRepository{store: store}
}

func (r *ChannelRepository) GetByID(ctx context.Context, id string) (*model.Channel, error) {
	defer logger.DeferLogDuration("channel.GetByID", time.Now())()
	doc, err := r.store.Get(ctx, ChannelsCollection, id)
	if err != nil {
		return nil, fmt.Errorf("channelRepo.GetByID: %w", err)
	}
	ch := &model.Channel{}
	if err := doc.DataTo(ch); err != nil {
		return nil, fmt.Errorf("channelRepo.GetByID: %w", err)
	}
	if ch.ID == "" {
		ch.ID = doc.ID
	}
	return ch, nil
}

// Search ищет точное совпадение тега или префикс названия.
func (r *ChannelRepository) Search(ctx context.Context, query string, limit int) ([]model.Channel, error) {
	defer logger.DeferLogDuration("channel.Search", time.Now())()
	q := docstore.Collection(ChannelsCollection).
		Filter(docstore.Or(
			docstore.Eq("tag", query),
			docstore.Prefix("name", query),
		)).
		Order("name", docstore.Asc).
		Take(limit)
	docs, err := r.store.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("channelRepo.Search: %w", err)
	}
	return decodeAll[model.Channel](docs)
}

func (r *ChannelRepository) TagTaken(ctx context.Context, tag string) (bool, error) {
	defer logger.DeferLogDuration("channel.TagTaken", time.Now())()
	docs, err := r.store.Query(ctx, docstore.Collection(ChannelsCollection).Filter(docstore.Eq("tag", tag)).Take(1))
	if err != nil {
		return false, fmt.Errorf("channelRepo.TagTaken: %w", err)
	}
	return len(docs) > 0, nil
}

func (r *ChannelRepository) GetPost(ctx context.Context, channelID, postID string) (*model.Post, error) {
	defer logger.DeferLogDuration("channel.GetPost", time.Now())()
	doc, err := r.store.Get(ctx, PostsPath(channelID), postID)
	if err != nil {
		return nil, fmt.Errorf("channelRepo.GetPost: %w", err)
	}
	p := &model.Post{}
	if err := doc.DataTo(p); err != nil {
		return nil, fmt.Errorf("channelRepo.GetPost: %w", err)
	}
	return p, nil
}

// SubscribedQuery: каналы с тегами из tags, недавно обновлённые сверху.
// Пустой набор тегов даёт пустую выборку.
func SubscribedQuery(tags []string) docstore.Query {
	return docstore.Collection(ChannelsCollection).
		Filter(docstore.In("tag", dedupe(tags))).
		Order("lastUpdated", docstore.Desc)
}

func PostsQuery(channelID string) docstore.Query {
	return docstore.Collection(PostsPath(channelID)).Order("postedAt", docstore.Asc)
}

func DecodeChannels(docs []docstore.Document) ([]model.Channel, error) {
	return decodeAll[model.Channel](docs)
}

func DecodePosts(docs []docstore.Document) ([]model.Post, error) {
	return decodeAll[model.Post](docs)
}
