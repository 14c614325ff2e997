// Package contacts builds the two-part contact list shown next to the chat:
// recent conversations and staff the user has not messaged yet.
package contacts

import (
	"sort"
	"strings"
	"time"

	"github.com/eldtechnologies/staffchat/internal/chat"
	"github.com/eldtechnologies/staffchat/internal/models"
)

// Recent is one existing conversation.
type Recent struct {
	RoomID    string          `json:"room_id"`
	Type      models.RoomType `json:"type"`
	Title     string          `json:"title"`
	PeerID    string          `json:"peer_id,omitempty"`
	Role      models.Role     `json:"role,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
	Unread    bool            `json:"unread"`
}

// Contacts is the composed list.
type Contacts struct {
	Recent   []Recent      `json:"recent"`
	StartNew []models.User `json:"start_new"`
}

// Compose builds the contact list for self from the directory users and
// self's rooms. query filters both groups by a case-insensitive substring
// of the display name or role.
func Compose(self string, users []models.User, rooms []models.ChatRoom, query string) Contacts {
	byID := make(map[string]models.User, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}
	q := strings.ToLower(strings.TrimSpace(query))

	out := Contacts{Recent: []Recent{}, StartNew: []models.User{}}
	hasDirect := make(map[string]bool)

	for i := range rooms {
		room := &rooms[i]
		if !room.HasParticipant(self) {
			continue
		}
		entry := Recent{
			RoomID:    room.ID,
			Type:      room.Type,
			UpdatedAt: room.UpdatedAt,
			Unread:    chat.UnreadFor(room, self),
		}

		switch room.Type {
		case models.RoomTypeDirect:
			peer, ok := room.Peer(self)
			if !ok {
				continue
			}
			hasDirect[peer] = true
			entry.PeerID = peer
			if u, found := byID[peer]; found {
				entry.Title = u.DisplayName()
				entry.Role = u.Role
			} else {
				entry.Title = models.UnknownUserName
			}
		default:
			if room.Name != nil {
				entry.Title = *room.Name
			}
		}

		if matches(q, entry.Title, string(entry.Role)) {
			out.Recent = append(out.Recent, entry)
		}
	}

	for _, u := range users {
		if u.ID == self || hasDirect[u.ID] || !u.Role.ChatEligible() {
			continue
		}
		if matches(q, u.DisplayName(), string(u.Role)) {
			out.StartNew = append(out.StartNew, u)
		}
	}

	sort.SliceStable(out.Recent, func(i, j int) bool {
		a, b := out.Recent[i], out.Recent[j]
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.After(b.UpdatedAt)
		}
		return a.RoomID > b.RoomID
	})
	sort.SliceStable(out.StartNew, func(i, j int) bool {
		a, b := out.StartNew[i], out.StartNew[j]
		if fa, fb := strings.ToLower(a.FirstName), strings.ToLower(b.FirstName); fa != fb {
			return fa < fb
		}
		if la, lb := strings.ToLower(a.LastName), strings.ToLower(b.LastName); la != lb {
			return la < lb
		}
		return a.ID < b.ID
	})
	return out
}

func matches(q string, fields ...string) bool {
	if q == "" {
		return true
	}
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), q) {
			return true
		}
	}
	return false
}
