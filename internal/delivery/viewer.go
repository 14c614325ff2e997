package delivery

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/staffchat/internal/chat"
	"github.com/eldtechnologies/staffchat/internal/models"
)

// State is the Viewer's connection state.
type State int

const (
	StateDisconnected State = iota
	StateSubscribing
	StateLive
	StateDegraded
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateSubscribing:
		return "subscribing"
	case StateLive:
		return "live"
	case StateDegraded:
		return "degraded"
	}
	return "unknown"
}

// Subscriber opens a push stream for the current user. The channel is
// closed when the stream ends or ctx is done.
type Subscriber interface {
	Subscribe(ctx context.Context) (<-chan models.Event, error)
}

// MessageLister fetches a room's messages after sinceID.
type MessageLister interface {
	ListMessages(ctx context.Context, roomID, sinceID string) ([]chat.MessageView, error)
}

// ViewerConfig tunes liveness and fallback timing.
type ViewerConfig struct {
	// LivenessWindow is how long the stream may stay silent, heartbeats
	// included, before it is considered dead.
	LivenessWindow time.Duration
	// PollInterval is the refetch period while degraded.
	PollInterval time.Duration
	// Backoff returns the resubscribe policy. Nil uses an exponential
	// policy capped at 30 seconds.
	Backoff func() backoff.BackOff
}

// DefaultViewerConfig suits a server heartbeat of 15 seconds.
func DefaultViewerConfig() ViewerConfig {
	return ViewerConfig{
		LivenessWindow: 45 * time.Second,
		PollInterval:   5 * time.Second,
	}
}

// ViewerHandlers receive updates on the Viewer's goroutine. They must not
// call Open or Close.
type ViewerHandlers struct {
	OnMessages       func(roomID string, messages []chat.MessageView)
	OnMessageDeleted func(roomID, messageID string)
	OnRoomsChanged   func()
	OnStateChange    func(State)
}

// Viewer keeps one open room current. It listens for push events and, when
// the stream is unavailable or silent, polls until it can resubscribe.
// Only one room loop runs at a time.
type Viewer struct {
	sub      Subscriber
	lister   MessageLister
	cfg      ViewerConfig
	handlers ViewerHandlers
	logger   zerolog.Logger

	opMu   sync.Mutex // serializes Open and Close
	mu     sync.Mutex
	state  State
	roomID string
	cancel context.CancelFunc
	done   chan struct{}
}

// NewViewer creates a disconnected viewer.
func NewViewer(sub Subscriber, lister MessageLister, cfg ViewerConfig, handlers ViewerHandlers, logger zerolog.Logger) *Viewer {
	defaults := DefaultViewerConfig()
	if cfg.LivenessWindow <= 0 {
		cfg.LivenessWindow = defaults.LivenessWindow
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaults.PollInterval
	}
	if cfg.Backoff == nil {
		cfg.Backoff = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxInterval = 30 * time.Second
			b.MaxElapsedTime = 0
			return b
		}
	}
	return &Viewer{
		sub:      sub,
		lister:   lister,
		cfg:      cfg,
		handlers: handlers,
		logger:   logger,
	}
}

// State returns the current connection state.
func (v *Viewer) State() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// RoomID returns the open room, or "" when closed.
func (v *Viewer) RoomID() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.roomID
}

// Open switches the viewer to roomID. The previous room's loop is stopped
// and waited for before the new one starts.
func (v *Viewer) Open(ctx context.Context, roomID string) {
	v.opMu.Lock()
	defer v.opMu.Unlock()

	v.stop()

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	v.mu.Lock()
	v.roomID = roomID
	v.cancel = cancel
	v.done = done
	v.mu.Unlock()

	go v.run(loopCtx, roomID, done)
}

// Close stops the room loop and releases its subscription.
func (v *Viewer) Close() {
	v.opMu.Lock()
	defer v.opMu.Unlock()

	v.stop()
	v.mu.Lock()
	v.roomID = ""
	v.mu.Unlock()
	v.transition(StateDisconnected)
}

func (v *Viewer) stop() {
	v.mu.Lock()
	cancel, done := v.cancel, v.done
	v.cancel, v.done = nil, nil
	v.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

func (v *Viewer) transition(s State) {
	v.mu.Lock()
	changed := v.state != s
	v.state = s
	v.mu.Unlock()

	if changed && v.handlers.OnStateChange != nil {
		v.handlers.OnStateChange(s)
	}
}

// roomLoop holds the per-room state owned by the run goroutine.
type roomLoop struct {
	v        *Viewer
	ctx      context.Context
	roomID   string
	timeline *Timeline
	policy   backoff.BackOff

	events    <-chan models.Event
	subCancel context.CancelFunc

	liveness *time.Timer
	poll     *time.Ticker
	retry    *time.Timer
}

func (v *Viewer) run(ctx context.Context, roomID string, done chan struct{}) {
	defer close(done)

	l := &roomLoop{
		v:        v,
		ctx:      ctx,
		roomID:   roomID,
		timeline: NewTimeline(),
		policy:   v.cfg.Backoff(),
	}
	defer l.teardown()

	// Subscribe before the first fetch so nothing lands in between.
	l.subscribe()
	l.refresh()

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-l.events:
			if !ok {
				l.degrade("push stream ended")
				continue
			}
			l.resetLiveness()
			l.handle(ev)

		case <-timerC(l.liveness):
			l.liveness = nil
			l.degrade("push stream silent")

		case <-tickerC(l.poll):
			l.refresh()

		case <-timerC(l.retry):
			l.retry = nil
			l.subscribe()
			if l.state() == StateLive {
				l.refresh()
			}
		}
	}
}

func (l *roomLoop) state() State {
	return l.v.State()
}

// setState records s unless the loop has been cancelled.
func (l *roomLoop) setState(s State) {
	if l.ctx.Err() != nil {
		return
	}
	l.v.transition(s)
}

func (l *roomLoop) subscribe() {
	l.setState(StateSubscribing)

	subCtx, cancel := context.WithCancel(l.ctx)
	events, err := l.v.sub.Subscribe(subCtx)
	if err != nil {
		cancel()
		if l.ctx.Err() != nil {
			return
		}
		l.v.logger.Debug().Err(err).Str("room_id", l.roomID).Msg("subscribe failed")
		l.degrade("subscribe failed")
		return
	}

	l.events = events
	l.subCancel = cancel
	l.policy.Reset()
	l.resetLiveness()
	l.stopPolling()
	l.setState(StateLive)
}

// degrade drops the current stream, starts polling and schedules a
// resubscribe.
func (l *roomLoop) degrade(reason string) {
	if l.ctx.Err() != nil {
		return
	}
	l.dropStream()
	if l.state() != StateDegraded {
		l.v.logger.Debug().Str("room_id", l.roomID).Str("reason", reason).Msg("push degraded, polling")
	}
	l.setState(StateDegraded)

	if l.poll == nil {
		l.poll = time.NewTicker(l.v.cfg.PollInterval)
	}
	if l.retry == nil {
		wait := l.policy.NextBackOff()
		if wait != backoff.Stop {
			l.retry = time.NewTimer(wait)
		}
	}
}

func (l *roomLoop) dropStream() {
	if l.subCancel != nil {
		l.subCancel()
		l.subCancel = nil
	}
	l.events = nil
	if l.liveness != nil {
		l.liveness.Stop()
		l.liveness = nil
	}
}

func (l *roomLoop) resetLiveness() {
	if l.liveness != nil {
		l.liveness.Stop()
	}
	l.liveness = time.NewTimer(l.v.cfg.LivenessWindow)
}

func (l *roomLoop) stopPolling() {
	if l.poll != nil {
		l.poll.Stop()
		l.poll = nil
	}
}

func (l *roomLoop) teardown() {
	l.dropStream()
	l.stopPolling()
	if l.retry != nil {
		l.retry.Stop()
		l.retry = nil
	}
}

func (l *roomLoop) handle(ev models.Event) {
	h := l.v.handlers
	switch ev.Kind {
	case models.EventMessageInserted:
		if ev.RoomID == l.roomID {
			l.refresh()
		}
		if h.OnRoomsChanged != nil && l.ctx.Err() == nil {
			h.OnRoomsChanged()
		}
	case models.EventMessageDeleted:
		if ev.RoomID == l.roomID && l.timeline.Remove(ev.MessageID) && h.OnMessageDeleted != nil {
			h.OnMessageDeleted(l.roomID, ev.MessageID)
		}
	case models.EventRoomCreated, models.EventRoomDeleted:
		if h.OnRoomsChanged != nil {
			h.OnRoomsChanged()
		}
	}
}

// refresh fetches messages after the timeline cursor and hands on the new
// ones. Results that arrive after cancellation are discarded.
func (l *roomLoop) refresh() {
	messages, err := l.v.lister.ListMessages(l.ctx, l.roomID, l.timeline.Cursor())
	if l.ctx.Err() != nil {
		return
	}
	if err != nil {
		l.v.logger.Debug().Err(err).Str("room_id", l.roomID).Msg("refresh failed")
		return
	}
	fresh := l.timeline.Merge(messages)
	if len(fresh) > 0 && l.v.handlers.OnMessages != nil {
		l.v.handlers.OnMessages(l.roomID, fresh)
	}
}

func timerC(t *time.Timer) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}

func tickerC(t *time.Ticker) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}
