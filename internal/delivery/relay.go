package delivery

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/staffchat/internal/models"
)

// EventBus is a cross-process broadcast channel. store.RedisStore implements it.
type EventBus interface {
	PublishEvent(ctx context.Context, ev models.Event) error
	SubscribeEvents(ctx context.Context, logger zerolog.Logger) (<-chan models.Event, error)
}

// RedisRelay publishes events to every server process through an EventBus
// and feeds the events it receives into the local Hub. Only heartbeats this
// relay published itself reach the Hub, so local subscribers stop seeing
// heartbeats whenever the bus round trip is broken.
type RedisRelay struct {
	id     string
	bus    EventBus
	hub    *Hub
	logger zerolog.Logger
	retry  func() backoff.BackOff
}

// NewRedisRelay creates a relay between bus and hub.
func NewRedisRelay(bus EventBus, hub *Hub, logger zerolog.Logger) *RedisRelay {
	return &RedisRelay{
		id:     uuid.NewString(),
		bus:    bus,
		hub:    hub,
		logger: logger,
		retry: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxInterval = 10 * time.Second
			b.MaxElapsedTime = 0
			return b
		},
	}
}

// Publish implements chat.Publisher. Heartbeats are stamped with the
// relay's id.
func (r *RedisRelay) Publish(ctx context.Context, ev models.Event) error {
	if ev.Kind == models.EventHeartbeat {
		ev.Origin = r.id
	}
	return r.bus.PublishEvent(ctx, ev)
}

// Run keeps one bus subscription open until ctx is done, resubscribing
// with backoff when it drops. Nothing reaches the Hub while the
// subscription is down, heartbeats included, so connected viewers miss
// their liveness window and fall back to polling.
func (r *RedisRelay) Run(ctx context.Context) error {
	policy := r.retry()
	for {
		events, err := r.bus.SubscribeEvents(ctx, r.logger)
		if err == nil {
			policy.Reset()
			r.logger.Info().Msg("event relay subscribed")
			r.pump(ctx, events)
		} else if ctx.Err() == nil {
			r.logger.Warn().Err(err).Msg("event relay subscribe failed")
		}

		if ctx.Err() != nil {
			return nil
		}
		wait := policy.NextBackOff()
		if wait == backoff.Stop {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

func (r *RedisRelay) pump(ctx context.Context, events <-chan models.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				r.logger.Warn().Msg("event relay subscription ended")
				return
			}
			if ev.Kind == models.EventHeartbeat && ev.Origin != r.id {
				continue
			}
			r.hub.Deliver(ev)
		}
	}
}
