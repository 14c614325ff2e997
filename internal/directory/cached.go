package directory

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/staffchat/internal/models"
)

// ListCache stores the full directory listing. store.RedisStore implements it.
type ListCache interface {
	GetDirectory(ctx context.Context) ([]models.User, bool, error)
	SetDirectory(ctx context.Context, users []models.User, ttl time.Duration) error
}

// Cached serves listings from a shared cache and falls through to the
// wrapped directory on a miss. Cache failures are logged and bypassed.
type Cached struct {
	next   Directory
	cache  ListCache
	ttl    time.Duration
	logger zerolog.Logger
}

// NewCached wraps next with cache.
func NewCached(next Directory, cache ListCache, ttl time.Duration, logger zerolog.Logger) *Cached {
	return &Cached{next: next, cache: cache, ttl: ttl, logger: logger}
}

// List implements Directory.
func (c *Cached) List(ctx context.Context) ([]models.User, error) {
	users, ok, err := c.cache.GetDirectory(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Msg("directory cache read failed")
	}
	if ok {
		return users, nil
	}

	users, err = c.next.List(ctx)
	if err != nil {
		return nil, err
	}
	if err := c.cache.SetDirectory(ctx, users, c.ttl); err != nil {
		c.logger.Warn().Err(err).Msg("directory cache write failed")
	}
	return users, nil
}

// Lookup implements Directory. Ids missing from the cached listing are
// resolved against the wrapped directory, so new staff are visible before
// the cache expires.
func (c *Cached) Lookup(ctx context.Context, ids []string) (map[string]models.User, error) {
	out := make(map[string]models.User, len(ids))

	users, ok, err := c.cache.GetDirectory(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Msg("directory cache read failed")
	}
	if ok {
		byID := make(map[string]models.User, len(users))
		for _, u := range users {
			byID[u.ID] = u
		}
		for _, id := range ids {
			if u, found := byID[id]; found {
				out[id] = u
			}
		}
	}

	var missing []string
	for _, id := range ids {
		if _, found := out[id]; !found {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return out, nil
	}

	rest, err := c.next.Lookup(ctx, missing)
	if err != nil {
		return nil, err
	}
	for id, u := range rest {
		out[id] = u
	}
	return out, nil
}
