// Package chat implements rooms, direct chats, messages and read state on
// top of a store.DataStore.
package chat

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/staffchat/internal/directory"
	"github.com/eldtechnologies/staffchat/internal/metrics"
	"github.com/eldtechnologies/staffchat/internal/models"
	"github.com/eldtechnologies/staffchat/internal/store"
)

const (
	publishRetries = 3
	publishTimeout = 2 * time.Second
)

// Publisher delivers change notifications to subscribers.
type Publisher interface {
	Publish(ctx context.Context, ev models.Event) error
}

// Service is the write and read path for chat data.
type Service struct {
	store  store.DataStore
	dir    directory.Directory
	events Publisher
	logger zerolog.Logger

	now   func() time.Time
	retry func() backoff.BackOff
}

// NewService creates a chat service.
func NewService(st store.DataStore, dir directory.Directory, events Publisher, logger zerolog.Logger) *Service {
	return &Service{
		store:  st,
		dir:    dir,
		events: events,
		logger: logger,
		now:    time.Now,
		retry: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 50 * time.Millisecond
			b.MaxInterval = 500 * time.Millisecond
			return b
		},
	}
}

// Directory returns the user directory the service validates against.
func (s *Service) Directory() directory.Directory {
	return s.dir
}

// publish sends ev after a committed write. Failures are logged and counted;
// the write they follow has already succeeded.
func (s *Service) publish(ctx context.Context, ev models.Event) {
	if s.events == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	policy := backoff.WithContext(backoff.WithMaxRetries(s.retry(), publishRetries), ctx)
	err := backoff.RetryNotify(func() error {
		return s.events.Publish(ctx, ev)
	}, policy, func(err error, wait time.Duration) {
		s.logger.Debug().Err(err).Dur("wait", wait).Str("event", string(ev.Kind)).Msg("retrying publish")
	})
	if err != nil {
		metrics.EventsPublished.WithLabelValues(string(ev.Kind), "failed").Inc()
		s.logger.Warn().Err(err).
			Str("event", string(ev.Kind)).
			Str("room_id", ev.RoomID).
			Str("message_id", ev.MessageID).
			Msg("failed to publish event")
		return
	}
	metrics.EventsPublished.WithLabelValues(string(ev.Kind), "ok").Inc()
}

// loadRoom returns the room if requesterID is one of its participants.
func (s *Service) loadRoom(ctx context.Context, roomID, requesterID string) (*models.ChatRoom, error) {
	room, err := s.store.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if room == nil {
		return nil, wrap(ErrNotFound, "room %s", roomID)
	}
	if !room.HasParticipant(requesterID) {
		return nil, wrap(ErrForbidden, "not a participant of room %s", roomID)
	}
	return room, nil
}
