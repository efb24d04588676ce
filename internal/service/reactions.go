package service

import (
	"context"
	"errors"
	"time"

	"github.com/chatcore/internal/docstore"
	"github.com/chatcore/internal/events"
	"github.com/chatcore/internal/identity"
	"github.com/chatcore/internal/logger"
	"github.com/chatcore/internal/model"
	"github.com/chatcore/internal/repository"
)

// ReactionOutcome describes what a React call did.
type ReactionOutcome string

const (
	ReactionAdded    ReactionOutcome = "added"
	ReactionRemoved  ReactionOutcome = "removed"
	ReactionSwitched ReactionOutcome = "switched"
)

type Reactions struct {
	base
}

func NewReactions(store docstore.Store, watcher *docstore.Watcher, opts ...Option) *Reactions {
	return &Reactions{base: newBase(store, watcher, opts)}
}

// React applies a reaction of type t by the caller to a post:
//   - no reaction yet: create it, counter of t +1;
//   - same type: delete it, counter of t -1;
//   - opposite type: replace it, opposite counter -1, counter of t +1.
//
// The reaction document id is derived from (user, post), so a user holds at
// most one reaction per post. Reaction and counters commit in one transaction;
// concurrent reactions of the same user conflict and are retried.
func (r *Reactions) React(ctx context.Context, channelID, postID string, t model.ReactionType) (ReactionOutcome, error) {
	defer logger.DeferLogDuration("reactions.React", time.Now())()
	userID, err := identity.UserID(ctx)
	if err != nil {
		return "", err
	}
	if channelID == "" || postID == "" {
		return "", validationf("channel id and post id are required")
	}
	if !t.Valid() {
		return "", validationf("unknown reaction type %q", t)
	}
	id := model.ReactionID(userID, postID)
	postsPath := repository.PostsPath(channelID)

	var outcome ReactionOutcome
	err = r.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Txn) error {
		doc, err := tx.Get(ctx, repository.ReactionsCollection, id)
		var existing *model.Reaction
		switch {
		case errors.Is(err, docstore.ErrNotFound):
		case err != nil:
			return err
		default:
			existing = &model.Reaction{}
			if err := doc.DataTo(existing); err != nil {
				return err
			}
		}

		reaction := model.Reaction{ID: id, ChannelID: channelID, PostID: postID, UserID: userID, Type: t}
		switch {
		case existing == nil:
			tx.Stage(
				docstore.Create(repository.ReactionsCollection, id, reaction),
				docstore.IncrementOp(postsPath, postID, t.CounterField(), 1),
			)
			outcome = ReactionAdded
		case existing.Type == t:
			tx.Stage(
				docstore.Delete(repository.ReactionsCollection, id),
				docstore.IncrementOp(postsPath, postID, t.CounterField(), -1),
			)
			outcome = ReactionRemoved
		default:
			tx.Stage(
				docstore.Set(repository.ReactionsCollection, id, reaction),
				docstore.Update(postsPath, postID,
					docstore.Increment(existing.Type.CounterField(), -1),
					docstore.Increment(t.CounterField(), 1),
				),
			)
			outcome = ReactionSwitched
		}
		return nil
	})
	if err != nil {
		return "", storeErr("reactions.React", err)
	}
	r.publish(ctx, events.Event{
		Type:    events.ReactionChanged,
		Key:     postID,
		ActorID: userID,
		Payload: map[string]string{"channelId": channelID, "postId": postID, "type": string(t), "outcome": string(outcome)},
	})
	return outcome, nil
}

// ReactionsForUser: live-список реакций пользователя на посты канала.
func (r *Reactions) ReactionsForUser(ctx context.Context, channelID, userID string) (*Stream[[]model.Reaction], error) {
	userID, err := selfOrCaller(ctx, userID)
	if err != nil {
		return nil, err
	}
	if channelID == "" {
		return nil, validationf("channel id is required")
	}
	return mapStream(ctx, r.watcher, repository.UserReactionsQuery(channelID, userID),
		func(_ context.Context, docs []docstore.Document) ([]model.Reaction, error) {
			return repository.DecodeReactions(docs)
		}), nil
}
