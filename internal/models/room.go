package models

import (
	"time"
)

// RoomType distinguishes one-to-one rooms from named group rooms.
type RoomType string

const (
	RoomTypeDirect RoomType = "direct"
	RoomTypeGroup  RoomType = "group"
)

// IsValid reports whether t is a known room type.
func (t RoomType) IsValid() bool {
	return t == RoomTypeDirect || t == RoomTypeGroup
}

// Participant is a room membership. LastReadAt is nil until the user first
// opens the room.
type Participant struct {
	UserID     string     `json:"user_id"`
	LastReadAt *time.Time `json:"last_read_at,omitempty"`
}

// ChatRoom represents a direct or group conversation.
type ChatRoom struct {
	ID        string    `json:"id"`
	Name      *string   `json:"name,omitempty"`
	Type      RoomType  `json:"type"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	// LastMessageAt is set only when a message is accepted.
	LastMessageAt *time.Time    `json:"last_message_at,omitempty"`
	Participants  []Participant `json:"participants"`
}

// HasActivity reports whether a message was ever accepted in the room.
// Touching updated_at alone does not count.
func (r *ChatRoom) HasActivity() bool {
	return r.LastMessageAt != nil
}

// Participant returns the membership row for userID, or nil.
func (r *ChatRoom) Participant(userID string) *Participant {
	for i := range r.Participants {
		if r.Participants[i].UserID == userID {
			return &r.Participants[i]
		}
	}
	return nil
}

// HasParticipant reports whether userID is a member of the room.
func (r *ChatRoom) HasParticipant(userID string) bool {
	return r.Participant(userID) != nil
}

// ParticipantIDs returns the member user ids in stored order.
func (r *ChatRoom) ParticipantIDs() []string {
	ids := make([]string, len(r.Participants))
	for i, p := range r.Participants {
		ids[i] = p.UserID
	}
	return ids
}

// Peer returns the other participant of a direct room.
func (r *ChatRoom) Peer(self string) (string, bool) {
	if r.Type != RoomTypeDirect {
		return "", false
	}
	for _, p := range r.Participants {
		if p.UserID != self {
			return p.UserID, true
		}
	}
	return "", false
}

// DirectKey returns the normalized, order-independent key for a user pair.
func DirectKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + ":" + b
}
