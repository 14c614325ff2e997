package handlers

import (
	"net/http"

	"github.com/eldtechnologies/staffchat/internal/contacts"
)

// Contacts returns the caller's contact list: recent conversations and
// staff without a direct chat yet, filtered by ?q=.
func (h *Handler) Contacts(w http.ResponseWriter, r *http.Request) {
	user := h.currentUser(w, r)
	if user == nil {
		return
	}

	page, err := h.svc.RoomsForUser(r.Context(), user.ID, "", 0)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	users, err := h.svc.Directory().List(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("directory list failed")
		h.Error(w, http.StatusServiceUnavailable, "unavailable", "user directory unavailable")
		return
	}

	h.JSON(w, http.StatusOK, contacts.Compose(user.ID, users, page.Rooms, r.URL.Query().Get("q")))
}
