package delivery

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/staffchat/internal/chat"
	"github.com/eldtechnologies/staffchat/internal/models"
)

// DefaultHeartbeatInterval is used when RunHeartbeat is given no interval.
const DefaultHeartbeatInterval = 15 * time.Second

// RunHeartbeat publishes a heartbeat event through pub every interval until
// ctx is done. Heartbeats travel the same path as change events, so a
// subscriber that stops receiving them knows that path is broken.
func RunHeartbeat(ctx context.Context, pub chat.Publisher, interval time.Duration, logger zerolog.Logger) {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, interval)
			err := pub.Publish(pctx, models.Event{Kind: models.EventHeartbeat})
			cancel()
			if err != nil && ctx.Err() == nil {
				logger.Debug().Err(err).Msg("heartbeat publish failed")
			}
		}
	}
}
