package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/chatcore/internal/model"
	"github.com/chatcore/internal/service"
)

type ChatHandler struct {
	direct *service.DirectChats
	groups *service.GroupChats
}

func NewChatHandler(direct *service.DirectChats, groups *service.GroupChats) *ChatHandler {
	return &ChatHandler{direct: direct, groups: groups}
}

func (h *ChatHandler) GetChat(w http.ResponseWriter, r *http.Request) {
	chat, err := h.direct.GetChatByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, chat)
}

type SendDirectMessageRequest struct {
	ReceiverID string `json:"receiverId"`
	Content    string `json:"content"`
	// ChatID пустой для первого сообщения: чат создаётся вместе с ним.
	ChatID string `json:"chatId,omitempty"`
}

type SendDirectMessageResponse struct {
	ChatID string `json:"chatId"`
}

func (h *ChatHandler) SendDirectMessage(w http.ResponseWriter, r *http.Request) {
	var req SendDirectMessageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	chatID, err := h.direct.SendDirectMessage(r.Context(),
		model.Message{ReceiverID: req.ReceiverID, Content: req.Content}, req.ChatID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if chatID == "" {
		chatID = req.ChatID
	}
	writeJSON(w, http.StatusCreated, SendDirectMessageResponse{ChatID: chatID})
}

type CreateGroupRequest struct {
	Name      string   `json:"name"`
	Tag       string   `json:"tag,omitempty"`
	IsPrivate bool     `json:"isPrivate"`
	MemberIDs []string `json:"memberIds"`
}

func (h *ChatHandler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	var req CreateGroupRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	chat, err := h.groups.CreateGroup(r.Context(),
		model.GroupInfo{Name: req.Name, Tag: req.Tag, IsPrivate: req.IsPrivate}, req.MemberIDs)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, chat)
}

type SendGroupMessageRequest struct {
	Content string `json:"content"`
}

func (h *ChatHandler) SendGroupMessage(w http.ResponseWriter, r *http.Request) {
	var req SendGroupMessageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	msg, err := h.groups.SendGroupMessage(r.Context(), model.Message{Content: req.Content}, chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (h *ChatHandler) GroupMembers(w http.ResponseWriter, r *http.Request) {
	members, err := h.groups.GroupMembers(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, publicUsers(members))
}
