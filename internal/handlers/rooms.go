package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/eldtechnologies/staffchat/internal/chat"
	"github.com/eldtechnologies/staffchat/internal/models"
)

// maxRoomPage caps one page of the room listing.
const maxRoomPage = 200

// CreateRoomRequest represents the group room creation request.
type CreateRoomRequest struct {
	Name           string   `json:"name"`
	ParticipantIDs []string `json:"participant_ids"`
}

// StartDirectRequest represents the direct chat request.
type StartDirectRequest struct {
	TargetUserID string `json:"target_user_id"`
}

// RoomResponse is a room with the caller's unread flag.
type RoomResponse struct {
	models.ChatRoom
	Unread bool `json:"unread"`
}

// DirectResponse reports which room a direct chat resolved to.
type DirectResponse struct {
	Room    RoomResponse `json:"room"`
	Created bool         `json:"created"`
}

// RoomListResponse represents one page of the caller's rooms.
type RoomListResponse struct {
	Rooms       []RoomResponse `json:"rooms"`
	NextCursor  string         `json:"next_cursor,omitempty"`
	UnreadCount int            `json:"unread_count"`
}

func roomResponse(room *models.ChatRoom, userID string) RoomResponse {
	return RoomResponse{ChatRoom: *room, Unread: chat.UnreadFor(room, userID)}
}

// CreateRoom handles group room creation.
func (h *Handler) CreateRoom(w http.ResponseWriter, r *http.Request) {
	user := h.currentUser(w, r)
	if user == nil {
		return
	}

	var req CreateRoomRequest
	if !h.decode(w, r, &req) {
		return
	}

	room, err := h.svc.CreateGroupRoom(r.Context(), user.ID, req.Name, req.ParticipantIDs)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.JSON(w, http.StatusCreated, roomResponse(room, user.ID))
}

// StartDirect resolves the caller's direct room with the target, creating it
// on first contact.
func (h *Handler) StartDirect(w http.ResponseWriter, r *http.Request) {
	user := h.currentUser(w, r)
	if user == nil {
		return
	}

	var req StartDirectRequest
	if !h.decode(w, r, &req) {
		return
	}

	room, created, err := h.svc.ResolveDirect(r.Context(), user.ID, req.TargetUserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	h.JSON(w, status, DirectResponse{Room: roomResponse(room, user.ID), Created: created})
}

// ListRooms returns the caller's rooms, most recently active first.
func (h *Handler) ListRooms(w http.ResponseWriter, r *http.Request) {
	user := h.currentUser(w, r)
	if user == nil {
		return
	}

	limit, ok := pageLimit(r, maxRoomPage)
	if !ok {
		h.Error(w, http.StatusBadRequest, "validation", "limit must be a non-negative integer")
		return
	}

	page, err := h.svc.RoomsForUser(r.Context(), user.ID, r.URL.Query().Get("cursor"), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := RoomListResponse{
		Rooms:       make([]RoomResponse, len(page.Rooms)),
		NextCursor:  page.NextCursor,
		UnreadCount: chat.UnreadCount(page.Rooms, user.ID),
	}
	for i := range page.Rooms {
		resp.Rooms[i] = roomResponse(&page.Rooms[i], user.ID)
	}
	h.JSON(w, http.StatusOK, resp)
}

// GetRoom returns one room the caller participates in.
func (h *Handler) GetRoom(w http.ResponseWriter, r *http.Request) {
	user := h.currentUser(w, r)
	if user == nil {
		return
	}

	room, err := h.svc.Room(r.Context(), chi.URLParam(r, "id"), user.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.JSON(w, http.StatusOK, roomResponse(room, user.ID))
}

// DeleteRoom wipes a room's history for every participant.
func (h *Handler) DeleteRoom(w http.ResponseWriter, r *http.Request) {
	user := h.currentUser(w, r)
	if user == nil {
		return
	}

	if err := h.svc.DeleteRoom(r.Context(), chi.URLParam(r, "id"), user.ID); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// MarkRead records that the caller has read the room.
func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	user := h.currentUser(w, r)
	if user == nil {
		return
	}

	if err := h.svc.MarkRead(r.Context(), chi.URLParam(r, "id"), user.ID, time.Time{}); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
