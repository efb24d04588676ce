package handler

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/chatcore/internal/logger"
	"github.com/chatcore/internal/middleware"
	"github.com/chatcore/internal/model"
	"github.com/chatcore/internal/service"
)

// phoneRe: международный формат E.164, + и 8-15 цифр.
var phoneRe = regexp.MustCompile(`^\+\d{8,15}$`)

type UserHandler struct {
	users *service.UserDirectory
}

func NewUserHandler(users *service.UserDirectory) *UserHandler {
	return &UserHandler{users: users}
}

func publicUsers(users []model.User) []model.UserPublic {
	out := make([]model.UserPublic, 0, len(users))
	for i := range users {
		out = append(out, users[i].ToPublic())
	}
	return out
}

// GetProfile возвращает собственный профиль вместе с подписками (channelTags).
func (h *UserHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	user, err := h.users.ResolveByID(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if user == nil {
		writeError(w, http.StatusNotFound, "profile not found")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// SaveProfile создаёт или обновляет профиль вызывающего. id берётся из личности.
func (h *UserHandler) SaveProfile(w http.ResponseWriter, r *http.Request) {
	var req model.User
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ID == "" {
		req.ID = middleware.GetUserID(r.Context())
	}
	req.FirstName = strings.TrimSpace(req.FirstName)
	req.LastName = strings.TrimSpace(req.LastName)
	if req.PhoneNumber != "" && !phoneRe.MatchString(req.PhoneNumber) {
		writeError(w, http.StatusBadRequest, "phone number must be in E.164 format")
		return
	}
	saved, err := h.users.SaveProfile(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (h *UserHandler) ProfileExists(w http.ResponseWriter, r *http.Request) {
	ok, err := h.users.ProfileExists(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"exists": ok})
}

func (h *UserHandler) Search(w http.ResponseWriter, r *http.Request) {
	users, err := h.users.SearchByQuery(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, publicUsers(users))
}

type ResolveUsersRequest struct {
	PhoneNumbers []string `json:"phoneNumbers"`
	IDs          []string `json:"ids"`
}

// Resolve находит профили по номерам из адресной книги или по id.
// Номера не в формате E.164 пропускаются.
func (h *UserHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	var req ResolveUsersRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	var (
		users []model.User
		err   error
	)
	if len(req.PhoneNumbers) > 0 {
		phones := make([]string, 0, len(req.PhoneNumbers))
		for _, p := range req.PhoneNumbers {
			if p = strings.TrimSpace(p); phoneRe.MatchString(p) {
				phones = append(phones, p)
			} else {
				logger.Debugf("users.Resolve: skip invalid phone %s", middleware.MaskPhone(p))
			}
		}
		users, err = h.users.ResolveByPhoneNumbers(r.Context(), phones)
	} else {
		users, err = h.users.ResolveByIDs(r.Context(), req.IDs)
	}
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, publicUsers(users))
}

func (h *UserHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.users.ResolveByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if user == nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	writeJSON(w, http.StatusOK, user.ToPublic())
}
