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

// MaxContentLength bounds message content, in bytes.
const MaxContentLength = 4096

// MessageView is a message with its sender's display name resolved.
type MessageView struct {
	models.ChatMessage
	SenderName string `json:"sender_name,omitempty"`
}

// AppendMessage posts content to a room. Only participants may post; a
// rejected post writes nothing. The notification that follows is
// best-effort and never fails the post.
func (s *Service) AppendMessage(ctx context.Context, roomID, senderID, content string) (*models.ChatMessage, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, wrap(ErrValidation, "message content is required")
	}
	if len(content) > MaxContentLength {
		return nil, wrap(ErrValidation, "message exceeds %d bytes", MaxContentLength)
	}

	room, err := s.loadRoom(ctx, roomID, senderID)
	if err != nil {
		return nil, err
	}

	msg := &models.ChatMessage{
		RoomID:      roomID,
		SenderID:    &senderID,
		Content:     content,
		MessageType: models.MessageTypeText,
		CreatedAt:   s.now(),
	}
	if err := s.store.AppendMessage(ctx, msg); err != nil {
		if errors.Is(err, store.ErrRoomMissing) {
			return nil, wrap(ErrNotFound, "room %s", roomID)
		}
		return nil, fmt.Errorf("append message: %w", err)
	}

	metrics.MessagesPosted.WithLabelValues(string(room.Type)).Inc()
	s.logger.Debug().Str("room_id", roomID).Str("message_id", msg.ID).Str("user_id", senderID).Msg("message posted")

	s.publish(ctx, models.Event{
		Kind:      models.EventMessageInserted,
		RoomID:    roomID,
		MessageID: msg.ID,
		UserIDs:   room.ParticipantIDs(),
	})
	return msg, nil
}

// ListMessages returns a room's messages oldest first. With sinceID only
// later messages are returned; if sinceID was deleted the result may repeat
// messages the caller already has, so callers de-duplicate by id.
func (s *Service) ListMessages(ctx context.Context, roomID, requesterID, sinceID string, limit int) ([]MessageView, error) {
	if limit < 0 {
		return nil, wrap(ErrValidation, "limit must not be negative")
	}
	if _, err := s.loadRoom(ctx, roomID, requesterID); err != nil {
		return nil, err
	}

	messages, err := s.store.ListMessages(ctx, roomID, sinceID, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return s.withSenderNames(ctx, messages), nil
}

// withSenderNames resolves display names at read time. Directory failures
// degrade to unnamed messages rather than failing the read.
func (s *Service) withSenderNames(ctx context.Context, messages []models.ChatMessage) []MessageView {
	views := make([]MessageView, len(messages))

	var senders []string
	for _, m := range messages {
		if m.SenderID != nil {
			senders = append(senders, *m.SenderID)
		}
	}
	var names map[string]models.User
	if len(senders) > 0 {
		var err error
		names, err = s.dir.Lookup(ctx, distinct(senders))
		if err != nil {
			s.logger.Warn().Err(err).Msg("failed to resolve sender names")
		}
	}

	for i, m := range messages {
		views[i] = MessageView{ChatMessage: m}
		if m.SenderID == nil || names == nil {
			continue
		}
		if u, ok := names[*m.SenderID]; ok {
			views[i].SenderName = u.DisplayName()
		} else {
			views[i].SenderName = models.UnknownUserName
		}
	}
	return views
}

// DeleteMessage removes a message. Only its author may delete it. The
// room's activity marker is left untouched.
func (s *Service) DeleteMessage(ctx context.Context, messageID, requesterID string) error {
	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return fmt.Errorf("get message: %w", err)
	}
	if msg == nil {
		return wrap(ErrNotFound, "message %s", messageID)
	}
	if msg.SenderID == nil || *msg.SenderID != requesterID {
		return wrap(ErrForbidden, "only the author may delete message %s", messageID)
	}

	room, err := s.store.GetRoom(ctx, msg.RoomID)
	if err != nil {
		return fmt.Errorf("get room: %w", err)
	}

	if err := s.store.DeleteMessage(ctx, messageID); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}

	metrics.MessagesDeleted.Inc()
	s.logger.Debug().Str("room_id", msg.RoomID).Str("message_id", messageID).Str("user_id", requesterID).Msg("message deleted")

	if room != nil {
		s.publish(ctx, models.Event{
			Kind:      models.EventMessageDeleted,
			RoomID:    msg.RoomID,
			MessageID: messageID,
			UserIDs:   room.ParticipantIDs(),
		})
	}
	return nil
}
