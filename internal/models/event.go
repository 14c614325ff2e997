package models

// EventKind names a delivery notification.
type EventKind string

const (
	EventMessageInserted EventKind = "message_inserted"
	EventMessageDeleted  EventKind = "message_deleted"
	EventRoomCreated     EventKind = "room_created"
	EventRoomDeleted     EventKind = "room_deleted"
	EventHeartbeat       EventKind = "heartbeat"
)

// Event is published after a write so subscribers can refetch.
// UserIDs routes the event to the room's participants and Origin names the
// process that emitted a heartbeat. Neither is sent to clients.
type Event struct {
	Kind      EventKind `json:"event"`
	RoomID    string    `json:"roomId,omitempty"`
	MessageID string    `json:"messageId,omitempty"`
	UserIDs   []string  `json:"user_ids,omitempty"`
	Origin    string    `json:"origin,omitempty"`
}

// Public returns a copy with routing data removed.
func (e Event) Public() Event {
	e.UserIDs = nil
	e.Origin = ""
	return e
}

// AddressedTo reports whether the event concerns userID.
func (e Event) AddressedTo(userID string) bool {
	if e.Kind == EventHeartbeat {
		return true
	}
	for _, id := range e.UserIDs {
		if id == userID {
			return true
		}
	}
	return false
}
