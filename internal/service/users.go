package service

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/chatcore/internal/docstore"
	"github.com/chatcore/internal/events"
	"github.com/chatcore/internal/identity"
	"github.com/chatcore/internal/logger"
	"github.com/chatcore/internal/model"
	"github.com/chatcore/internal/repository"
)

// MinSearchLength is the shortest query searched; shorter ones return nothing
// instead of scanning a broad prefix range.
const MinSearchLength = 4

type UserDirectory struct {
	base
	users *repository.UserRepository
}

func NewUserDirectory(store docstore.Store, watcher *docstore.Watcher, opts ...Option) *UserDirectory {
	return &UserDirectory{
		base:  newBase(store, watcher, opts),
		users: repository.NewUserRepository(store),
	}
}

// ProfileExists tells a returning user from a new one after authentication.
func (d *UserDirectory) ProfileExists(ctx context.Context, userID string) (bool, error) {
	if userID == "" {
		return false, validationf("user id is required")
	}
	ok, err := d.users.Exists(ctx, userID)
	return ok, storeErr("users.ProfileExists", err)
}

// SaveProfile upserts the caller's profile. The phone number is taken from the
// identity when absent and cannot change once stored. channelTags is never
// taken from u: it changes only together with subscribersCount in
// CreateChannel and Subscribe, so a new profile starts with no subscriptions.
func (d *UserDirectory) SaveProfile(ctx context.Context, u model.User) (*model.User, error) {
	defer logger.DeferLogDuration("users.SaveProfile", time.Now())()
	u.ID = strings.TrimSpace(u.ID)
	if u.ID == "" {
		return nil, validationf("user id is required")
	}
	caller, err := identity.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	if u.ID != caller.UserID() {
		return nil, ErrForbidden
	}
	if u.PhoneNumber == "" {
		u.PhoneNumber = caller.PhoneNumber()
	}
	if p := caller.PhoneNumber(); p != "" && u.PhoneNumber != p {
		return nil, validationf("phone number does not match the verified one")
	}
	u.ChannelTags = nil

	var saved model.User
	err = d.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Txn) error {
		doc, err := tx.Get(ctx, repository.UsersCollection, u.ID)
		if errors.Is(err, docstore.ErrNotFound) {
			if u.PhoneNumber == "" {
				return validationf("phone number is required")
			}
			saved = u
			saved.ChannelTags = []string{}
			tx.Stage(docstore.Create(repository.UsersCollection, u.ID, saved))
			return nil
		}
		if err != nil {
			return err
		}
		cur, err := repository.DecodeUser(doc)
		if err != nil {
			return err
		}
		if cur.PhoneNumber != "" && u.PhoneNumber != cur.PhoneNumber {
			return validationf("phone number is immutable")
		}
		saved = *cur
		saved.PhoneNumber = u.PhoneNumber
		saved.FirstName = u.FirstName
		saved.LastName = u.LastName
		saved.Description = u.Description
		saved.Tag = u.Tag
		updates := []docstore.FieldUpdate{
			docstore.Assign("phoneNumber", u.PhoneNumber),
			docstore.Assign("firstName", u.FirstName),
			docstore.Assign("lastName", u.LastName),
			docstore.Assign("description", u.Description),
			docstore.Assign("tag", u.Tag),
		}
		tx.Stage(docstore.Update(repository.UsersCollection, u.ID, updates...))
		return nil
	})
	if err != nil {
		return nil, storeErr("users.SaveProfile", err)
	}
	d.publish(ctx, events.Event{Type: events.ProfileSaved, Key: u.ID, ActorID: u.ID})
	return &saved, nil
}

// SearchByQuery matches an exact phone number or a tag prefix, at most
// repository.SearchPageSize users.
func (d *UserDirectory) SearchByQuery(ctx context.Context, query string) ([]model.User, error) {
	query = strings.TrimSpace(query)
	if utf8.RuneCountInString(query) < MinSearchLength {
		return []model.User{}, nil
	}
	users, err := d.users.Search(ctx, query, repository.SearchPageSize)
	if err != nil {
		return nil, storeErr("users.SearchByQuery", err)
	}
	return users, nil
}

func (d *UserDirectory) ResolveByPhoneNumbers(ctx context.Context, phones []string) ([]model.User, error) {
	if len(phones) == 0 {
		return []model.User{}, nil
	}
	users, err := d.users.GetByPhoneNumbers(ctx, phones)
	if err != nil {
		return nil, storeErr("users.ResolveByPhoneNumbers", err)
	}
	return users, nil
}

// ResolveByIDs keeps the order of ids and skips unknown users.
func (d *UserDirectory) ResolveByIDs(ctx context.Context, ids []string) ([]model.User, error) {
	if len(ids) == 0 {
		return []model.User{}, nil
	}
	users, err := d.users.GetByIDs(ctx, ids)
	if err != nil {
		return nil, storeErr("users.ResolveByIDs", err)
	}
	return users, nil
}

// ResolveByID returns nil without error when the user does not exist.
func (d *UserDirectory) ResolveByID(ctx context.Context, userID string) (*model.User, error) {
	if userID == "" {
		return nil, nil
	}
	u, err := d.users.GetByID(ctx, userID)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("users.ResolveByID", err)
	}
	return u, nil
}

// CurrentUser is a live view of the caller's own profile; nil until it is saved.
func (d *UserDirectory) CurrentUser(ctx context.Context) (*Stream[*model.User], error) {
	caller, err := identity.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	return mapStream(ctx, d.watcher, repository.ProfileQuery(caller.UserID()),
		func(_ context.Context, docs []docstore.Document) (*model.User, error) {
			if len(docs) == 0 {
				return nil, nil
			}
			return repository.DecodeUser(docs[0])
		}), nil
}
