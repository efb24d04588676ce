package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chatcore/internal/docstore"
	"github.com/chatcore/internal/logger"
	"github.com/chatcore/internal/model"
)

type UserRepository struct {
	store docstore.Reader
}

func NewUserRepository(store docstore.Reader) *UserRepository {
	return &UserRepository{store: store}
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*model.User, error) {
	defer logger.DeferLogDuration("user.GetByID", time.Now())()
	doc, err := r.store.Get(ctx, UsersCollection, id)
	if err != nil {
		return nil, fmt.Errorf("userRepo.GetByID: %w", err)
	}
	return DecodeUser(doc)
}

func (r *UserRepository) Exists(ctx context.Context, id string) (bool, error) {
	defer logger.DeferLogDuration("user.Exists", time.Now())()
	_, err := r.store.Get(ctx, UsersCollection, id)
	if errors.Is(err, docstore.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("userRepo.Exists: %w", err)
	}
	return true, nil
}

// Search ищет точное совпадение телефона или префикс тега, упорядочено по тегу.
func (r *UserRepository) Search(ctx context.Context, query string, limit int) ([]model.User, error) {
	defer logger.DeferLogDuration("user.Search", time.Now())()
	q := docstore.Collection(UsersCollection).
		Filter(docstore.Or(
			docstore.Eq("phoneNumber", query),
			docstore.Prefix("tag", query),
		)).
		Order("tag", docstore.Asc).
		Take(limit)
	docs, err := r.store.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("userRepo.Search: %w", err)
	}
	return decodeAll[model.User](docs)
}

func (r *UserRepository) GetByPhoneNumbers(ctx context.Context, phones []string) ([]model.User, error) {
	defer logger.DeferLogDuration("user.GetByPhoneNumbers", time.Now())()
	users := make([]model.User, 0, len(phones))
	for _, part := range chunks(dedupe(phones), inChunk) {
		docs, err := r.store.Query(ctx, docstore.Collection(UsersCollection).Filter(docstore.In("phoneNumber", part)))
		if err != nil {
			return nil, fmt.Errorf("userRepo.GetByPhoneNumbers: %w", err)
		}
		batch, err := decodeAll[model.User](docs)
		if err != nil {
			return nil, fmt.Errorf("userRepo.GetByPhoneNumbers: %w", err)
		}
		users = append(users, batch...)
	}
	return users, nil
}

// GetByIDs возвращает найденных пользователей в порядке ids; отсутствующие пропускаются.
func (r *UserRepository) GetByIDs(ctx context.Context, ids []string) ([]model.User, error) {
	defer logger.DeferLogDuration("user.GetByIDs", time.Now())()
	ids = dedupe(ids)
	byID := make(map[string]model.User, len(ids))
	for _, part := range chunks(ids, inChunk) {
		docs, err := r.store.Query(ctx, docstore.Collection(UsersCollection).Filter(docstore.In(docstore.FieldID, part)))
		if err != nil {
			return nil, fmt.Errorf("userRepo.GetByIDs: %w", err)
		}
		for _, d := range docs {
			u, err := DecodeUser(d)
			if err != nil {
				return nil, fmt.Errorf("userRepo.GetByIDs: %w", err)
			}
			byID[d.ID] = *u
		}
	}
	users := make([]model.User, 0, len(byID))
	for _, id := range ids {
		if u, ok := byID[id]; ok {
			users = append(users, u)
		}
	}
	return users, nil
}

// ProfileQuery: запрос одного профиля для live-подписки.
func ProfileQuery(id string) docstore.Query {
	return docstore.Collection(UsersCollection).Filter(docstore.Eq(docstore.FieldID, id))
}

func DecodeUser(doc docstore.Document) (*model.User, error) {
	u := &model.User{}
	if err := doc.DataTo(u); err != nil {
		return nil, err
	}
	if u.ID == "" {
		u.ID = doc.ID
	}
	return u, nil
}
