package models

import "time"

// MessageType classifies message content.
type MessageType string

const (
	MessageTypeText   MessageType = "text"
	MessageTypeSystem MessageType = "system"
)

// ChatMessage is an immutable message scoped to a room.
type ChatMessage struct {
	ID          string      `json:"id"` // ULID
	RoomID      string      `json:"room_id"`
	SenderID    *string     `json:"sender_id,omitempty"`
	Content     string      `json:"content"`
	MessageType MessageType `json:"message_type"`
	CreatedAt   time.Time   `json:"created_at"`
}

// Before reports whether m sorts before o: by CreatedAt, then by ID.
func (m ChatMessage) Before(o ChatMessage) bool {
	if !m.CreatedAt.Equal(o.CreatedAt) {
		return m.CreatedAt.Before(o.CreatedAt)
	}
	return m.ID < o.ID
}
