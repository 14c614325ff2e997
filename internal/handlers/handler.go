package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/staffchat/internal/api/middleware"
	"github.com/eldtechnologies/staffchat/internal/chat"
	"github.com/eldtechnologies/staffchat/internal/delivery"
	"github.com/eldtechnologies/staffchat/internal/models"
	"github.com/eldtechnologies/staffchat/internal/store"
)

// Config carries the dependencies shared by all HTTP handlers.
type Config struct {
	Service *chat.Service
	Store   store.DataStore
	Redis   *store.RedisStore // optional
	Hub     *delivery.Hub
	Logger  zerolog.Logger

	AllowedOrigins []string
}

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	svc    *chat.Service
	store  store.DataStore
	redis  *store.RedisStore
	hub    *delivery.Hub
	logger zerolog.Logger

	origins []string
}

// NewHandler creates a new Handler.
func NewHandler(cfg Config) *Handler {
	return &Handler{
		svc:     cfg.Service,
		store:   cfg.Store,
		redis:   cfg.Redis,
		hub:     cfg.Hub,
		logger:  cfg.Logger,
		origins: cfg.AllowedOrigins,
	}
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, code, message string) {
	h.JSON(w, status, ErrorResponse{Error: message, Code: code})
}

// writeError maps service errors to responses. Unrecognised errors are
// logged and reported as internal.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, chat.ErrValidation):
		h.Error(w, http.StatusBadRequest, "validation", err.Error())
	case errors.Is(err, chat.ErrNotFound):
		h.Error(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, chat.ErrForbidden):
		h.Error(w, http.StatusForbidden, "forbidden", err.Error())
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		h.Error(w, http.StatusServiceUnavailable, "unavailable", "request timed out")
	default:
		h.logger.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("request failed")
		h.Error(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

// currentUser returns the authenticated user, writing a 401 when absent.
func (h *Handler) currentUser(w http.ResponseWriter, r *http.Request) *models.User {
	user := middleware.GetUserFromContext(r.Context())
	if user == nil {
		h.Error(w, http.StatusUnauthorized, "unauthorized", "authentication required")
	}
	return user
}

// decode reads a JSON request body into v, writing a 400 on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.Error(w, http.StatusBadRequest, "validation", "invalid JSON body")
		return false
	}
	return true
}

// queryInt parses a non-negative integer query parameter; absent means 0.
func queryInt(r *http.Request, name string) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// pageLimit reads the limit query parameter. Absent or 0 means ceiling and
// larger values are clamped to ceiling.
func pageLimit(r *http.Request, ceiling int) (int, bool) {
	n, ok := queryInt(r, "limit")
	if !ok {
		return 0, false
	}
	if n == 0 || n > ceiling {
		n = ceiling
	}
	return n, true
}
