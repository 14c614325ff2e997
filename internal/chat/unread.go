package chat

import (
	"context"
	"fmt"
	"time"

	"github.com/eldtechnologies/staffchat/internal/models"
)

// IsUnread reports whether a room has activity the participant has not read.
// A room that never had a message is never unread.
func IsUnread(room *models.ChatRoom, p *models.Participant) bool {
	if room == nil || p == nil || !room.HasActivity() {
		return false
	}
	if p.LastReadAt == nil {
		return true
	}
	return room.LastMessageAt.After(*p.LastReadAt)
}

// UnreadFor is IsUnread for userID's membership in room.
func UnreadFor(room *models.ChatRoom, userID string) bool {
	return IsUnread(room, room.Participant(userID))
}

// UnreadCount returns how many of rooms are unread for userID.
func UnreadCount(rooms []models.ChatRoom, userID string) int {
	n := 0
	for i := range rooms {
		if UnreadFor(&rooms[i], userID) {
			n++
		}
	}
	return n
}

// MarkRead records that userID has read roomID up to at. A zero at means
// "everything so far". The watermark never moves backwards and the room's
// activity marker is not changed.
func (s *Service) MarkRead(ctx context.Context, roomID, userID string, at time.Time) error {
	room, err := s.loadRoom(ctx, roomID, userID)
	if err != nil {
		return err
	}

	if at.IsZero() {
		at = s.now()
		// Message times can run a few microseconds ahead of the clock.
		if room.UpdatedAt.After(at) {
			at = room.UpdatedAt
		}
	}

	ok, err := s.store.MarkRead(ctx, roomID, userID, at)
	if err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	if !ok {
		// Removed between the membership check and the update.
		return wrap(ErrNotFound, "room %s", roomID)
	}
	return nil
}
