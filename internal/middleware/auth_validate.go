package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/chatcore/internal/breaker"
	"github.com/chatcore/internal/identity"
	"github.com/chatcore/internal/logger"
)

var errRejected = errors.New("token rejected")

// IdentityClient проверяет токен у внешнего провайдера идентичности.
// Провайдер отвечает {"user_id","phone_number"} на POST /internal/validate.
type IdentityClient struct {
	baseURL string
	client  *http.Client
	cb      *gobreaker.CircuitBreaker
}

func NewIdentityClient(baseURL string, client *http.Client, cbCfg breaker.Config) *IdentityClient {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &IdentityClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		cb:      breaker.New("identity", cbCfg),
	}
}

// Validate возвращает личность владельца токена. Отказ провайдера (401/403) не
// считается сбоем для circuit breaker.
func (c *IdentityClient) Validate(ctx context.Context, token string) (identity.Identity, error) {
	var rejected bool
	res, err := c.cb.Execute(func() (any, error) {
		id, err := c.validate(ctx, token)
		if errors.Is(err, errRejected) {
			rejected = true
			return identity.Identity{}, nil
		}
		return id, err
	})
	if err != nil {
		return identity.Identity{}, err
	}
	if rejected {
		return identity.Identity{}, errRejected
	}
	return res.(identity.Identity), nil
}

func (c *IdentityClient) validate(ctx context.Context, token string) (identity.Identity, error) {
	body, _ := json.Marshal(map[string]string{"token": token})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/internal/validate", bytes.NewReader(body))
	if err != nil {
		return identity.Identity{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return identity.Identity{}, err
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return identity.Identity{}, errRejected
	case resp.StatusCode != http.StatusOK:
		return identity.Identity{}, fmt.Errorf("identity provider: status %d", resp.StatusCode)
	}
	var result struct {
		UserID      string `json:"user_id"`
		PhoneNumber string `json:"phone_number"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return identity.Identity{}, fmt.Errorf("identity provider: decode: %w", err)
	}
	if result.UserID == "" {
		return identity.Identity{}, errRejected
	}
	return identity.New(result.UserID, result.PhoneNumber), nil
}

// bearerToken берёт токен из Authorization: Bearer, для WebSocket из ?token=.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return r.URL.Query().Get("token")
}

// IdentityValidate кладёт в контекст личность, подтверждённую провайдером.
// 401, если токена нет или он отклонён; 503, если провайдер недоступен.
func IdentityValidate(c *IdentityClient) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				writeErr(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			id, err := c.Validate(r.Context(), token)
			if err != nil {
				if errors.Is(err, errRejected) {
					writeErr(w, http.StatusUnauthorized, "unauthorized")
					return
				}
				logger.Errorf("identity validate (token %s): %v", MaskToken(token), err)
				writeErr(w, http.StatusServiceUnavailable, "identity provider unavailable")
				return
			}
			next.ServeHTTP(w, r.WithContext(identity.WithIdentity(r.Context(), id)))
		})
	}
}

// TrustedHeaders берёт личность из X-User-Id / X-Phone-Number без проверки.
// Только для dev и для развёртывания за шлюзом, который сам проверяет токен.
func TrustedHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.Header.Get("X-User-Id"))
		if userID == "" {
			userID = r.URL.Query().Get("user_id")
		}
		if userID == "" {
			writeErr(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		id := identity.New(userID, strings.TrimSpace(r.Header.Get("X-Phone-Number")))
		next.ServeHTTP(w, r.WithContext(identity.WithIdentity(r.Context(), id)))
	})
}

func writeErr(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
