package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/chatcore/internal/docstore"
	"github.com/chatcore/internal/events"
	"github.com/chatcore/internal/identity"
	"github.com/chatcore/internal/logger"
	"github.com/chatcore/internal/model"
	"github.com/chatcore/internal/repository"
)

type Channels struct {
	base
	channels *repository.ChannelRepository
}

func NewChannels(store docstore.Store, watcher *docstore.Watcher, opts ...Option) *Channels {
	return &Channels{
		base:     newBase(store, watcher, opts),
		channels: repository.NewChannelRepository(store),
	}
}

// CreateChannel creates a channel owned by the caller together with the
// caller's subscription, in one batch. A taken tag is a conflict.
func (c *Channels) CreateChannel(ctx context.Context, name, description, tag string) (*model.Channel, error) {
	defer logger.DeferLogDuration("channels.CreateChannel", time.Now())()
	owner, err := identity.UserID(ctx)
	if err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	tag = strings.TrimSpace(tag)
	if name == "" {
		return nil, validationf("channel name is required")
	}
	if tag == "" {
		return nil, validationf("channel tag is required")
	}
	taken, err := c.channels.TagTaken(ctx, tag)
	if err != nil {
		return nil, storeErr("channels.CreateChannel", err)
	}
	if taken {
		return nil, fmt.Errorf("channels.CreateChannel: tag %q: %w", tag, ErrConflict)
	}
	ch := model.Channel{
		ID:               uuid.NewString(),
		Name:             name,
		Description:      strings.TrimSpace(description),
		Tag:              tag,
		OwnerID:          owner,
		SubscribersCount: 1,
		LastUpdated:      c.nowMillis(),
	}
	err = c.store.Batch(ctx,
		docstore.Create(repository.ChannelsCollection, ch.ID, ch),
		docstore.Update(repository.UsersCollection, owner, docstore.ArrayUnion("channelTags", tag)),
	)
	if err != nil {
		return nil, storeErr("channels.CreateChannel", err)
	}
	logger.Infof("channel %s (#%s) created by %s", ch.ID, tag, owner)
	c.publish(ctx, events.Event{Type: events.ChannelCreated, Key: ch.ID, ActorID: owner, Payload: ch})
	return &ch, nil
}

// SearchChannels matches an exact tag or a name prefix; same floor as user search.
func (c *Channels) SearchChannels(ctx context.Context, query string) ([]model.Channel, error) {
	query = strings.TrimSpace(query)
	if utf8.RuneCountInString(query) < MinSearchLength {
		return []model.Channel{}, nil
	}
	chs, err := c.channels.Search(ctx, query, repository.SearchPageSize)
	if err != nil {
		return nil, storeErr("channels.SearchChannels", err)
	}
	return chs, nil
}

// Subscribe adds the channel tag to the user's channelTags and increments
// subscribersCount in one transaction. Only the user's own document is read,
// so subscribers of the same channel never conflict with each other; the
// counter is an atomic increment. Re-subscribing is a no-op and reports false.
func (c *Channels) Subscribe(ctx context.Context, userID, channelID string) (bool, error) {
	defer logger.DeferLogDuration("channels.Subscribe", time.Now())()
	caller, err := identity.UserID(ctx)
	if err != nil {
		return false, err
	}
	if userID == "" {
		userID = caller
	}
	if userID != caller {
		return false, ErrForbidden
	}
	if channelID == "" {
		return false, validationf("channel id is required")
	}
	// tag не меняется после создания канала, поэтому читается вне транзакции
	ch, err := c.channels.GetByID(ctx, channelID)
	if err != nil {
		return false, storeErr("channels.Subscribe", err)
	}
	var added bool
	err = c.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Txn) error {
		added = false
		doc, err := tx.Get(ctx, repository.UsersCollection, userID)
		if errors.Is(err, docstore.ErrNotFound) {
			return fmt.Errorf("user %s: %w", userID, ErrNotFound)
		}
		if err != nil {
			return err
		}
		u, err := repository.DecodeUser(doc)
		if err != nil {
			return err
		}
		if u.HasChannelTag(ch.Tag) {
			return nil
		}
		tx.Stage(
			docstore.Update(repository.UsersCollection, userID, docstore.ArrayUnion("channelTags", ch.Tag)),
			docstore.IncrementOp(repository.ChannelsCollection, channelID, "subscribersCount", 1),
		)
		added = true
		return nil
	})
	if err != nil {
		return false, storeErr("channels.Subscribe", err)
	}
	if added {
		c.publish(ctx, events.Event{Type: events.ChannelSubscribed, Key: channelID, ActorID: userID})
	}
	return added, nil
}

// ListSubscribedChannels is a live list of channels whose tag is in the user's
// channelTags, most recently updated first. The channel query is re-issued
// whenever the tag set changes.
func (c *Channels) ListSubscribedChannels(ctx context.Context, userID string) (*Stream[[]model.Channel], error) {
	userID, err := selfOrCaller(ctx, userID)
	if err != nil {
		return nil, err
	}
	return startStream(ctx, func(ctx context.Context, emit func([]model.Channel) bool) error {
		profile := c.watcher.Watch(ctx, repository.ProfileQuery(userID))
		defer profile.Cancel()

		var inner *docstore.Subscription
		var innerC <-chan []docstore.Document
		stopInner := func() {
			if inner != nil {
				inner.Cancel()
				inner, innerC = nil, nil
			}
		}
		defer stopInner()

		var tags []string
		first := true
		for {
			select {
			case <-ctx.Done():
				return nil
			case docs, ok := <-profile.C():
				if !ok {
					return profile.Err()
				}
				next := []string{}
				if len(docs) > 0 {
					u, err := repository.DecodeUser(docs[0])
					if err != nil {
						logger.Errorf("subscribed channels %s: %v", userID, err)
						continue
					}
					next = slices.Clone(u.ChannelTags)
				}
				slices.Sort(next)
				next = slices.Compact(next)
				if !first && slices.Equal(next, tags) {
					continue
				}
				first = false
				tags = next
				stopInner()
				if len(tags) == 0 {
					if !emit([]model.Channel{}) {
						return nil
					}
					continue
				}
				inner = c.watcher.Watch(ctx, repository.SubscribedQuery(tags))
				innerC = inner.C()
			case docs, ok := <-innerC:
				if !ok {
					err := inner.Err()
					inner, innerC = nil, nil
					if err != nil {
						return err
					}
					continue
				}
				chs, err := repository.DecodeChannels(docs)
				if err != nil {
					logger.Errorf("subscribed channels %s: %v", userID, err)
					continue
				}
				if !emit(chs) {
					return nil
				}
			}
		}
	}), nil
}

// PublishPost writes the post and the channel's lastPost/lastUpdated in one
// batch. Ownership is checked upstream; the write is accepted from any caller.
func (c *Channels) PublishPost(ctx context.Context, channelID string, post model.Post) (*model.Post, error) {
	defer logger.DeferLogDuration("channels.PublishPost", time.Now())()
	caller, err := identity.UserID(ctx)
	if err != nil {
		return nil, err
	}
	if channelID == "" {
		return nil, validationf("channel id is required")
	}
	if strings.TrimSpace(post.Content) == "" {
		return nil, validationf("post content is required")
	}
	post.ID = uuid.NewString()
	post.ChannelID = channelID
	post.LikesCount = 0
	post.DislikesCount = 0
	post.PostedAt = c.nowMillis()
	err = c.store.Batch(ctx,
		docstore.Create(repository.PostsPath(channelID), post.ID, post),
		docstore.Update(repository.ChannelsCollection, channelID,
			docstore.Assign("lastPost", post),
			docstore.Assign("lastUpdated", post.PostedAt),
		),
	)
	if err != nil {
		return nil, storeErr("channels.PublishPost", err)
	}
	c.publish(ctx, events.Event{Type: events.PostPublished, Key: channelID, ActorID: caller, Payload: post})
	return &post, nil
}

// ChannelPosts: live-лента постов канала по возрастанию postedAt.
func (c *Channels) ChannelPosts(ctx context.Context, channelID string) (*Stream[[]model.Post], error) {
	if channelID == "" {
		return nil, validationf("channel id is required")
	}
	return mapStream(ctx, c.watcher, repository.PostsQuery(channelID),
		func(_ context.Context, docs []docstore.Document) ([]model.Post, error) {
			return repository.DecodePosts(docs)
		}), nil
}

func (c *Channels) GetChannelByID(ctx context.Context, channelID string) (*model.Channel, error) {
	if channelID == "" {
		return nil, validationf("channel id is required")
	}
	ch, err := c.channels.GetByID(ctx, channelID)
	if err != nil {
		return nil, storeErr("channels.GetChannelByID", err)
	}
	return ch, nil
}
