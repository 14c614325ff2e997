package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/eldtechnologies/staffchat/internal/metrics"
	"github.com/eldtechnologies/staffchat/internal/models"
	"github.com/eldtechnologies/staffchat/internal/store"
)

const resolveAttempts = 3

// ResolveDirect returns the one direct room shared by userA and userB,
// creating it on first use. created reports whether this call made it.
// A concurrent creator winning the insert is not an error: its room is
// returned instead.
func (s *Service) ResolveDirect(ctx context.Context, userA, userB string) (*models.ChatRoom, bool, error) {
	userA, userB = strings.TrimSpace(userA), strings.TrimSpace(userB)
	if userA == "" || userB == "" {
		return nil, false, wrap(ErrValidation, "both users are required")
	}
	if userA == userB {
		return nil, false, wrap(ErrValidation, "cannot start a direct chat with yourself")
	}

	found, err := s.dir.Lookup(ctx, []string{userA, userB})
	if err != nil {
		return nil, false, fmt.Errorf("lookup users: %w", err)
	}
	for _, id := range []string{userA, userB} {
		if _, ok := found[id]; !ok {
			return nil, false, wrap(ErrNotFound, "user %s", id)
		}
	}

	raced := false
	for attempt := 0; attempt < resolveAttempts; attempt++ {
		room, err := s.store.FindDirectRoom(ctx, userA, userB)
		if err != nil {
			return nil, false, fmt.Errorf("find direct room: %w", err)
		}
		if room != nil {
			outcome := "reused"
			if raced {
				outcome = "raced"
			}
			metrics.DirectRooms.WithLabelValues(outcome).Inc()
			return room, false, nil
		}

		room = &models.ChatRoom{
			Type:      models.RoomTypeDirect,
			CreatedAt: s.now(),
			Participants: []models.Participant{
				{UserID: userA},
				{UserID: userB},
			},
		}
		err = s.store.CreateRoom(ctx, room)
		if errors.Is(err, store.ErrDirectRoomExists) {
			raced = true
			continue
		}
		if err != nil {
			return nil, false, fmt.Errorf("create direct room: %w", err)
		}

		metrics.DirectRooms.WithLabelValues("created").Inc()
		s.logger.Info().Str("room_id", room.ID).Str("user_id", userA).Str("peer_id", userB).Msg("direct room created")

		s.publish(ctx, models.Event{Kind: models.EventRoomCreated, RoomID: room.ID, UserIDs: room.ParticipantIDs()})
		return room, true, nil
	}

	// Only reachable if the pair's room is created and deleted repeatedly
	// between our reads and inserts.
	return nil, false, fmt.Errorf("direct room for %s unresolved after %d attempts", models.DirectKey(userA, userB), resolveAttempts)
}
