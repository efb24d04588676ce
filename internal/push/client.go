package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/chatcore/internal/breaker"
	"github.com/chatcore/internal/logger"
)

// Client вызывает внешний сервис пуш-уведомлений. Если URL пустой: методы no-op.
// Доставка пушей не входит в ядро: ошибки только логируются.
type Client struct {
	baseURL    string
	httpClient *http.Client
	cb         *gobreaker.CircuitBreaker
}

// NewClient создаёт клиент. baseURL пустой: пуши отключены.
func NewClient(baseURL string, cbCfg breaker.Config) *Client {
	if baseURL == "" {
		return &Client{}
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		cb: breaker.New("push", cbCfg),
	}
}

func (c *Client) Enabled() bool { return c.baseURL != "" }

// Notification: уведомление для набора пользователей.
type Notification struct {
	UserIDs []string          `json:"user_ids"`
	Title   string            `json:"title"`
	Body    string            `json:"body"`
	Data    map[string]string `json:"data,omitempty"`
}

// Notify отправляет уведомление (новое сообщение в чате и т.п.).
func (c *Client) Notify(ctx context.Context, n Notification) {
	if c.baseURL == "" || len(n.UserIDs) == 0 {
		return
	}
	_, err := c.cb.Execute(func() (any, error) {
		return nil, c.post(ctx, n)
	})
	if err != nil {
		logger.Errorf("push notify: %v", err)
	}
}

func (c *Client) post(ctx context.Context, n Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/notify", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("push notify: status %d", resp.StatusCode)
	}
	return nil
}
