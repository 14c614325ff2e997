package chat

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/eldtechnologies/staffchat/internal/metrics"
	"github.com/eldtechnologies/staffchat/internal/models"
	"github.com/eldtechnologies/staffchat/internal/store"
)

// MaxRoomNameLength bounds group room names, in bytes.
const MaxRoomNameLength = 100

// RoomPage is one page of a user's rooms, most recently active first.
type RoomPage struct {
	Rooms      []models.ChatRoom
	NextCursor string
}

// CreateGroupRoom creates a named room. The creator is always a participant
// and at least one other user is required.
func (s *Service) CreateGroupRoom(ctx context.Context, creatorID, name string, participantIDs []string) (*models.ChatRoom, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, wrap(ErrValidation, "room name is required")
	}
	if len(name) > MaxRoomNameLength {
		return nil, wrap(ErrValidation, "room name exceeds %d bytes", MaxRoomNameLength)
	}

	members := distinct(append([]string{creatorID}, participantIDs...))
	if len(members) < 2 {
		return nil, wrap(ErrValidation, "a group room needs at least 2 participants")
	}

	found, err := s.dir.Lookup(ctx, members)
	if err != nil {
		return nil, fmt.Errorf("lookup participants: %w", err)
	}
	var missing []string
	for _, id := range members {
		if _, ok := found[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return nil, wrap(ErrNotFound, "unknown users: %s", strings.Join(missing, ", "))
	}

	room := &models.ChatRoom{
		Name:      &name,
		Type:      models.RoomTypeGroup,
		CreatedAt: s.now(),
	}
	for _, id := range members {
		room.Participants = append(room.Participants, models.Participant{UserID: id})
	}
	if err := s.store.CreateRoom(ctx, room); err != nil {
		return nil, fmt.Errorf("create room: %w", err)
	}

	metrics.GroupRoomsCreated.Inc()
	s.logger.Info().Str("room_id", room.ID).Str("user_id", creatorID).Int("participants", len(members)).Msg("group room created")

	s.publish(ctx, models.Event{Kind: models.EventRoomCreated, RoomID: room.ID, UserIDs: room.ParticipantIDs()})
	return room, nil
}

// RoomsForUser lists the user's rooms with their participants. A limit <= 0
// returns every room; otherwise NextCursor is set when more remain.
func (s *Service) RoomsForUser(ctx context.Context, userID, cursor string, limit int) (*RoomPage, error) {
	after, err := store.ParseRoomCursor(cursor)
	if err != nil {
		return nil, wrap(ErrValidation, "%v", err)
	}

	fetch := limit
	if limit > 0 {
		fetch = limit + 1
	}
	rooms, err := s.store.ListRoomsForUser(ctx, userID, after, fetch)
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}

	page := &RoomPage{Rooms: rooms}
	if limit > 0 && len(rooms) > limit {
		page.Rooms = rooms[:limit]
		last := page.Rooms[limit-1]
		page.NextCursor = store.RoomCursor{UpdatedAt: last.UpdatedAt, ID: last.ID}.Encode()
	}
	if page.Rooms == nil {
		page.Rooms = []models.ChatRoom{}
	}
	return page, nil
}

// Room returns a single room the requester participates in.
func (s *Service) Room(ctx context.Context, roomID, requesterID string) (*models.ChatRoom, error) {
	return s.loadRoom(ctx, roomID, requesterID)
}

// TouchRoom advances the room's activity marker to at. It never moves it back.
func (s *Service) TouchRoom(ctx context.Context, roomID string, at time.Time) error {
	if err := s.store.TouchRoom(ctx, roomID, at); err != nil {
		if errors.Is(err, store.ErrRoomMissing) {
			return wrap(ErrNotFound, "room %s", roomID)
		}
		return fmt.Errorf("touch room: %w", err)
	}
	return nil
}

// DeleteRoom wipes the room's history: the room, its participants and its
// messages. Any participant may do it.
func (s *Service) DeleteRoom(ctx context.Context, roomID, requesterID string) error {
	room, err := s.loadRoom(ctx, roomID, requesterID)
	if err != nil {
		return err
	}

	if err := s.store.DeleteRoom(ctx, roomID); err != nil {
		if errors.Is(err, store.ErrRoomMissing) {
			return wrap(ErrNotFound, "room %s", roomID)
		}
		return fmt.Errorf("delete room: %w", err)
	}

	metrics.RoomsDeleted.Inc()
	s.logger.Info().Str("room_id", roomID).Str("user_id", requesterID).Msg("room deleted")

	s.publish(ctx, models.Event{Kind: models.EventRoomDeleted, RoomID: roomID, UserIDs: room.ParticipantIDs()})
	return nil
}

// distinct returns the non-empty ids in sorted order without duplicates.
func distinct(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
