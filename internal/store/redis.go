package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/staffchat/internal/metrics"
	"github.com/eldtechnologies/staffchat/internal/models"
)

const (
	eventsChannel = "staffchat:events"
	directoryKey  = "staffchat:directory"
)

// RedisStore handles Redis operations for event fan-out and caching.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a new Redis store.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	return &RedisStore{client: client}, nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Client returns the underlying Redis client.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// PublishEvent broadcasts an event to every server process.
func (s *RedisStore) PublishEvent(ctx context.Context, ev models.Event) error {
	start := time.Now()
	defer func() { metrics.RedisLatency.Observe(time.Since(start).Seconds()) }()

	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return s.client.Publish(ctx, eventsChannel, data).Err()
}

// SubscribeEvents streams events published by any process until ctx is
// cancelled. Undecodable payloads are logged and skipped. The returned
// channel is closed when the subscription ends.
func (s *RedisStore) SubscribeEvents(ctx context.Context, logger zerolog.Logger) (<-chan models.Event, error) {
	pubsub := s.client.Subscribe(ctx, eventsChannel)

	// Wait for confirmation so callers know the subscription is live.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, err
	}

	out := make(chan models.Event, 64)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev models.Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					logger.Warn().Err(err).Msg("dropping malformed event")
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// GetDirectory returns the cached directory listing. ok is false on a cache miss.
func (s *RedisStore) GetDirectory(ctx context.Context) (users []models.User, ok bool, err error) {
	start := time.Now()
	defer func() { metrics.RedisLatency.Observe(time.Since(start).Seconds()) }()

	data, err := s.client.Get(ctx, directoryKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}
	if err := json.Unmarshal(data, &users); err != nil {
		return nil, false, err
	}
	return users, true, nil
}

// SetDirectory caches the directory listing for ttl.
func (s *RedisStore) SetDirectory(ctx context.Context, users []models.User, ttl time.Duration) error {
	data, err := json.Marshal(users)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, directoryKey, data, ttl).Err()
}
