package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/eldtechnologies/staffchat/internal/directory"
	"github.com/eldtechnologies/staffchat/internal/models"
)

// WhoResponse represents a staff profile.
type WhoResponse struct {
	ID              string      `json:"id"`
	DisplayName     string      `json:"display_name"`
	FirstName       string      `json:"first_name"`
	LastName        string      `json:"last_name"`
	Email           string      `json:"email,omitempty"`
	Role            models.Role `json:"role"`
	ProfileImageURL *string     `json:"profile_image_url,omitempty"`
}

func whoResponse(u *models.User) WhoResponse {
	return WhoResponse{
		ID:              u.ID,
		DisplayName:     u.DisplayName(),
		FirstName:       u.FirstName,
		LastName:        u.LastName,
		Email:           u.Email,
		Role:            u.Role,
		ProfileImageURL: u.ProfileImageURL,
	}
}

// Me returns the authenticated user's profile.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	user := h.currentUser(w, r)
	if user == nil {
		return
	}
	h.JSON(w, http.StatusOK, whoResponse(user))
}

// Who handles staff profile lookup.
func (h *Handler) Who(w http.ResponseWriter, r *http.Request) {
	if h.currentUser(w, r) == nil {
		return
	}

	u, err := directory.Get(r.Context(), h.svc.Directory(), chi.URLParam(r, "id"))
	if err != nil {
		h.logger.Error().Err(err).Msg("directory lookup failed")
		h.Error(w, http.StatusServiceUnavailable, "unavailable", "user directory unavailable")
		return
	}
	if u == nil {
		h.Error(w, http.StatusNotFound, "not_found", "user not found")
		return
	}
	h.JSON(w, http.StatusOK, whoResponse(u))
}
