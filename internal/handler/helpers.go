package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/chatcore/internal/logger"
	"github.com/chatcore/internal/service"
)

// maxBodyBytes: верхняя граница тела JSON-запроса.
const maxBodyBytes = 64 << 10

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Errorf("writeJSON encode: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

var statusByCode = map[string]int{
	service.CodeNotFound:        http.StatusNotFound,
	service.CodeValidation:      http.StatusBadRequest,
	service.CodeForbidden:       http.StatusForbidden,
	service.CodeConflict:        http.StatusConflict,
	service.CodeUnavailable:     http.StatusServiceUnavailable,
	service.CodeUnauthenticated: http.StatusUnauthorized,
}

// writeServiceError переводит ошибку сервиса в HTTP-статус. Внутренние ошибки
// только логируются, клиенту уходит общий текст.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	code := service.ErrorCode(err)
	status, ok := statusByCode[code]
	if !ok {
		logger.Errorf("%s %s: %v", r.Method, r.URL.Path, err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal server error", Code: service.CodeInternal})
		return
	}
	if status == http.StatusServiceUnavailable {
		logger.Errorf("%s %s: %v", r.Method, r.URL.Path, err)
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), Code: code})
}

// decodeJSON читает тело запроса в v; false: ответ с ошибкой уже отправлен.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid body")
		return false
	}
	return true
}
