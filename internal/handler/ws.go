package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/chatcore/internal/identity"
	"github.com/chatcore/internal/logger"
	"github.com/chatcore/internal/model"
	"github.com/chatcore/internal/service"
	"github.com/chatcore/internal/ws"
)

// Services: сервисы, из которых строятся live-представления.
type Services struct {
	Users     *service.UserDirectory
	Direct    *service.DirectChats
	Groups    *service.GroupChats
	Channels  *service.Channels
	Reactions *service.Reactions
}

// LiveViews: представления, доступные по WebSocket. Параметр id: собеседник
// для direct_messages, чат для group_messages, канал для channel_posts и reactions.
func LiveViews(s Services) ws.Views {
	return ws.Views{
		ws.ViewChats: ws.StreamView(func(ctx context.Context, _ string) (*service.Stream[[]model.ChatListItem], error) {
			uid, err := identity.UserID(ctx)
			if err != nil {
				return nil, err
			}
			return s.Direct.ListChatsForUser(ctx, uid)
		}),
		ws.ViewDirectMessages: ws.StreamView(s.Direct.ChatMessages),
		ws.ViewGroupMessages:  ws.StreamView(s.Groups.GroupMessages),
		ws.ViewChannels: ws.StreamView(func(ctx context.Context, _ string) (*service.Stream[[]model.Channel], error) {
			uid, err := identity.UserID(ctx)
			if err != nil {
				return nil, err
			}
			return s.Channels.ListSubscribedChannels(ctx, uid)
		}),
		ws.ViewChannelPosts: ws.StreamView(s.Channels.ChannelPosts),
		ws.ViewReactions: ws.StreamView(func(ctx context.Context, channelID string) (*service.Stream[[]model.Reaction], error) {
			uid, err := identity.UserID(ctx)
			if err != nil {
				return nil, err
			}
			return s.Reactions.ReactionsForUser(ctx, channelID, uid)
		}),
		ws.ViewProfile: ws.StreamView(func(ctx context.Context, _ string) (*service.Stream[*model.User], error) {
			return s.Users.CurrentUser(ctx)
		}),
	}
}

type WSHandler struct {
	hub            *ws.Hub
	allowedOrigins string
}

// NewWSHandler создаёт обработчик WebSocket. allowedOrigins: как в CORS (через запятую или "*").
func NewWSHandler(hub *ws.Hub, allowedOrigins string) *WSHandler {
	return &WSHandler{hub: hub, allowedOrigins: strings.TrimSpace(allowedOrigins)}
}

func (h *WSHandler) checkOrigin(r *http.Request) bool {
	if h.allowedOrigins == "*" || h.allowedOrigins == "" {
		return true
	}
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	for _, o := range strings.Split(h.allowedOrigins, ",") {
		if strings.TrimSpace(o) == origin {
			return true
		}
	}
	return false
}

func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	caller, err := identity.FromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if !h.checkOrigin(r) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(r *http.Request) bool { return h.checkOrigin(r) },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Errorf("ws upgrade: %v", err)
		return
	}

	// Соединение живёт дольше запроса: личность переносится в отдельный контекст.
	ctx, cancel := context.WithCancel(identity.WithIdentity(context.Background(), caller))
	client := ws.NewClient(h.hub, conn, caller.UserID())
	client.Start(ctx, cancel)
	h.hub.Register(client)
}
