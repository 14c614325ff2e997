package store

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/eldtechnologies/staffchat/internal/models"
)

// ErrDirectRoomExists is returned by CreateRoom when another direct room for
// the same user pair was committed first.
var ErrDirectRoomExists = errors.New("direct room already exists for pair")

// ErrRoomMissing is returned by writes that target a room which does not exist.
var ErrRoomMissing = errors.New("room does not exist")

// RoomCursor marks a position in the updated_at desc, id desc room ordering.
type RoomCursor struct {
	UpdatedAt time.Time
	ID        string
}

// IsZero reports whether the cursor points at the start of the listing.
func (c RoomCursor) IsZero() bool {
	return c.ID == ""
}

// Encode returns the opaque string form of the cursor.
func (c RoomCursor) Encode() string {
	if c.IsZero() {
		return ""
	}
	raw := strconv.FormatInt(c.UpdatedAt.UnixMicro(), 10) + "|" + c.ID
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// ParseRoomCursor decodes a cursor produced by Encode. The empty string is the zero cursor.
func ParseRoomCursor(s string) (RoomCursor, error) {
	if s == "" {
		return RoomCursor{}, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return RoomCursor{}, fmt.Errorf("invalid cursor: %w", err)
	}
	micros, id, ok := strings.Cut(string(raw), "|")
	if !ok || id == "" {
		return RoomCursor{}, errors.New("invalid cursor")
	}
	us, err := strconv.ParseInt(micros, 10, 64)
	if err != nil {
		return RoomCursor{}, fmt.Errorf("invalid cursor: %w", err)
	}
	return RoomCursor{UpdatedAt: time.UnixMicro(us).UTC(), ID: id}, nil
}

// DataStore defines persistent storage of rooms, participants and messages.
// Both PostgresStore and SQLiteStore implement this interface.
// Lookups return (nil, nil) when the row does not exist.
type DataStore interface {
	// Connection management
	Close()
	Ping(ctx context.Context) error

	// Room operations
	CreateRoom(ctx context.Context, room *models.ChatRoom) error
	GetRoom(ctx context.Context, id string) (*models.ChatRoom, error)
	FindDirectRoom(ctx context.Context, userA, userB string) (*models.ChatRoom, error)
	ListRoomsForUser(ctx context.Context, userID string, after RoomCursor, limit int) ([]models.ChatRoom, error)
	TouchRoom(ctx context.Context, id string, at time.Time) error
	DeleteRoom(ctx context.Context, id string) error

	// Participant operations
	IsParticipant(ctx context.Context, roomID, userID string) (bool, error)
	MarkRead(ctx context.Context, roomID, userID string, at time.Time) (bool, error)

	// Message operations
	AppendMessage(ctx context.Context, msg *models.ChatMessage) error
	GetMessage(ctx context.Context, id string) (*models.ChatMessage, error)
	ListMessages(ctx context.Context, roomID, sinceID string, limit int) ([]models.ChatMessage, error)
	DeleteMessage(ctx context.Context, id string) error
}

// nextMessageTime returns the creation time for a message appended to a room
// whose activity marker is last: never earlier than now and always strictly
// after last, at microsecond precision.
func nextMessageTime(now, last time.Time) time.Time {
	now = now.UTC().Truncate(time.Microsecond)
	floor := last.UTC().Add(time.Microsecond)
	if now.Before(floor) {
		return floor
	}
	return now
}

// directKey returns the unique key for direct rooms and nil for group rooms.
func directKey(room *models.ChatRoom) *string {
	if room.Type != models.RoomTypeDirect || len(room.Participants) != 2 {
		return nil
	}
	key := models.DirectKey(room.Participants[0].UserID, room.Participants[1].UserID)
	return &key
}
