package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/eldtechnologies/staffchat/internal/chat"
)

// maxMessagePage caps one page of message history.
const maxMessagePage = 500

// PostMessageRequest represents the post message request.
type PostMessageRequest struct {
	Content string `json:"content"`
}

// MessageListResponse represents a room's messages, oldest first.
type MessageListResponse struct {
	Messages []chat.MessageView `json:"messages"`
}

// ListMessages returns a room's messages, optionally after ?since=<id>.
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	user := h.currentUser(w, r)
	if user == nil {
		return
	}

	limit, ok := pageLimit(r, maxMessagePage)
	if !ok {
		h.Error(w, http.StatusBadRequest, "validation", "limit must be a non-negative integer")
		return
	}

	messages, err := h.svc.ListMessages(r.Context(), chi.URLParam(r, "id"), user.ID, r.URL.Query().Get("since"), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.JSON(w, http.StatusOK, MessageListResponse{Messages: messages})
}

// PostMessage appends a message to a room.
func (h *Handler) PostMessage(w http.ResponseWriter, r *http.Request) {
	user := h.currentUser(w, r)
	if user == nil {
		return
	}

	var req PostMessageRequest
	if !h.decode(w, r, &req) {
		return
	}

	msg, err := h.svc.AppendMessage(r.Context(), chi.URLParam(r, "id"), user.ID, req.Content)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.JSON(w, http.StatusCreated, chat.MessageView{ChatMessage: *msg, SenderName: user.DisplayName()})
}

// DeleteMessage removes one of the caller's own messages.
func (h *Handler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	user := h.currentUser(w, r)
	if user == nil {
		return
	}

	if err := h.svc.DeleteMessage(r.Context(), chi.URLParam(r, "id"), user.ID); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
