package handler

import (
	"net/http"
	"sort"

	"github.com/chatcore/internal/config"
	"github.com/chatcore/internal/ws"
)

// ConfigHandler отдаёт публичные параметры конфигурации для клиента.
type ConfigHandler struct {
	cfg   *config.Config
	views ws.Views
}

func NewConfigHandler(cfg *config.Config, views ws.Views) *ConfigHandler {
	return &ConfigHandler{cfg: cfg, views: views}
}

type LiveConfigResponse struct {
	PollIntervalMS   int64    `json:"poll_interval_ms"`
	MaxSubscriptions int      `json:"max_subscriptions"`
	Views            []string `json:"views"`
}

// GetLiveConfig возвращает настройки live-подписок (без авторизации).
func (h *ConfigHandler) GetLiveConfig(w http.ResponseWriter, r *http.Request) {
	views := make([]string, 0, len(h.views))
	for name := range h.views {
		views = append(views, name)
	}
	sort.Strings(views)
	writeJSON(w, http.StatusOK, LiveConfigResponse{
		PollIntervalMS:   h.cfg.LivePollInterval.Milliseconds(),
		MaxSubscriptions: h.cfg.WS.MaxSubscriptions,
		Views:            views,
	})
}
