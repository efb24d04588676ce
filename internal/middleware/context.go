package middleware

import (
	"context"

	"github.com/chatcore/internal/identity"
)

// GetUserID возвращает user_id вызывающего (устанавливается IdentityValidate или TrustedHeaders).
// Пустая строка: запрос не аутентифицирован.
func GetUserID(ctx context.Context) string {
	id, err := identity.FromContext(ctx)
	if err != nil {
		return ""
	}
	return id.UserID()
}
