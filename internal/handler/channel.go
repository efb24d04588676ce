package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/chatcore/internal/model"
	"github.com/chatcore/internal/service"
)

type ChannelHandler struct {
	channels  *service.Channels
	reactions *service.Reactions
}

func NewChannelHandler(channels *service.Channels, reactions *service.Reactions) *ChannelHandler {
	return &ChannelHandler{channels: channels, reactions: reactions}
}

type CreateChannelRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Tag         string `json:"tag"`
}

func (h *ChannelHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateChannelRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ch, err := h.channels.CreateChannel(r.Context(), req.Name, req.Description, req.Tag)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ch)
}

func (h *ChannelHandler) Search(w http.ResponseWriter, r *http.Request) {
	channels, err := h.channels.SearchChannels(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, channels)
}

func (h *ChannelHandler) Get(w http.ResponseWriter, r *http.Request) {
	ch, err := h.channels.GetChannelByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ch)
}

type SubscribeRequest struct {
	// UserID может быть пустым: подписывается вызывающий.
	UserID string `json:"userId,omitempty"`
}

// Subscribe идемпотентна: subscribed=false, если пользователь уже подписан.
func (h *ChannelHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	var req SubscribeRequest
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}
	changed, err := h.channels.Subscribe(r.Context(), req.UserID, chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"subscribed": changed})
}

type PublishPostRequest struct {
	Content string `json:"content"`
}

func (h *ChannelHandler) PublishPost(w http.ResponseWriter, r *http.Request) {
	var req PublishPostRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	post, err := h.channels.PublishPost(r.Context(), chi.URLParam(r, "id"), model.Post{Content: req.Content})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, post)
}

type ReactRequest struct {
	Type model.ReactionType `json:"type"`
}

// React переключает реакцию: та же снимается, противоположная заменяется.
func (h *ChannelHandler) React(w http.ResponseWriter, r *http.Request) {
	var req ReactRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	outcome, err := h.reactions.React(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "postId"), req.Type)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]service.ReactionOutcome{"outcome": outcome})
}
