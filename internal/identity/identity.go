// Package identity хранит в контексте вызывающего пользователя: проверенные внешним
// провайдером user id и номер телефона, неизменные в пределах запроса.
package identity

import (
	"context"
	"errors"
)

var ErrUnauthenticated = errors.New("unauthenticated")

type Identity struct {
	userID string
	phone  string
}

func New(userID, phoneNumber string) Identity {
	return Identity{userID: userID, phone: phoneNumber}
}

func (i Identity) UserID() string { return i.userID }

// PhoneNumber может быть пустым, если провайдер его не вернул.
func (i Identity) PhoneNumber() string { return i.phone }

func (i Identity) IsZero() bool { return i.userID == "" }

type contextKey struct{}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext возвращает ErrUnauthenticated, если личность не установлена middleware.
func FromContext(ctx context.Context) (Identity, error) {
	id, ok := ctx.Value(contextKey{}).(Identity)
	if !ok || id.IsZero() {
		return Identity{}, ErrUnauthenticated
	}
	return id, nil
}

// UserID: короткая форма FromContext для сервисов, которым нужен только id.
func UserID(ctx context.Context) (string, error) {
	id, err := FromContext(ctx)
	if err != nil {
		return "", err
	}
	return id.UserID(), nil
}
