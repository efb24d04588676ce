package handler

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chatcore/internal/config"
	"github.com/chatcore/internal/middleware"
	"github.com/chatcore/internal/ws"
)

// RouterDeps: всё, из чего собирается HTTP API.
type RouterDeps struct {
	Config   *config.Config
	Services Services
	Hub      *ws.Hub
	Views    ws.Views
	// Auth кладёт личность в контекст: IdentityValidate или TrustedHeaders.
	Auth        func(http.Handler) http.Handler
	RateLimiter *middleware.RateLimiter
	// Metrics: откуда /metrics берёт метрики; при nil эндпоинт не регистрируется.
	Metrics prometheus.Gatherer
}

func NewRouter(d RouterDeps) http.Handler {
	userH := NewUserHandler(d.Services.Users)
	chatH := NewChatHandler(d.Services.Direct, d.Services.Groups)
	channelH := NewChannelHandler(d.Services.Channels, d.Services.Reactions)
	configH := NewConfigHandler(d.Config, d.Views)
	wsH := NewWSHandler(d.Hub, d.Config.CORSAllowedOrigins)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RecoverJSON)
	// Не сжимать WebSocket: иначе ResponseWriter не реализует http.Hijacker и upgrade даёт 500.
	r.Use(func(next http.Handler) http.Handler {
		compressed := chimw.Compress(5)(next)
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if strings.EqualFold(req.Header.Get("Upgrade"), "websocket") {
				next.ServeHTTP(w, req)
				return
			}
			compressed.ServeHTTP(w, req)
		})
	})
	r.Use(middleware.RequestLog)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   d.Config.CORSOrigins(),
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-User-Id", "X-Phone-Number"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if d.Metrics != nil {
		r.With(middleware.InternalOnly).Handle("/metrics", promhttp.HandlerFor(d.Metrics, promhttp.HandlerOpts{}))
	}
	r.Get("/api/config/live", configH.GetLiveConfig)

	r.Group(func(r chi.Router) {
		r.Use(d.Auth)
		if d.RateLimiter != nil {
			r.Use(d.RateLimiter.Middleware)
		}

		r.Get("/api/users/me", userH.GetProfile)
		r.Put("/api/users/me", userH.SaveProfile)
		r.Get("/api/users/exists/{id}", userH.ProfileExists)
		r.Get("/api/users/search", userH.Search)
		r.Post("/api/users/resolve", userH.Resolve)
		r.Get("/api/users/{id}", userH.GetUser)

		r.Get("/api/chats/{id}", chatH.GetChat)
		r.Post("/api/chats/direct/messages", chatH.SendDirectMessage)
		r.Post("/api/chats/groups", chatH.CreateGroup)
		r.Post("/api/chats/groups/{id}/messages", chatH.SendGroupMessage)
		r.Get("/api/chats/groups/{id}/members", chatH.GroupMembers)

		r.Post("/api/channels", channelH.Create)
		r.Get("/api/channels/search", channelH.Search)
		r.Get("/api/channels/{id}", channelH.Get)
		r.Post("/api/channels/{id}/subscribe", channelH.Subscribe)
		r.Post("/api/channels/{id}/posts", channelH.PublishPost)
		r.Post("/api/channels/{id}/posts/{postId}/reactions", channelH.React)

		r.Get("/ws", wsH.ServeWS)
	})
	return r
}
