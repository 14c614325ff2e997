// Package delivery fans change notifications out to connected users and
// keeps clients current through push with a polling fallback.
package delivery

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/staffchat/internal/metrics"
	"github.com/eldtechnologies/staffchat/internal/models"
)

// DefaultBuffer is the per-subscription event buffer.
const DefaultBuffer = 64

// Subscription receives the events addressed to one user. The channel is
// closed when the subscription is cancelled or falls too far behind.
type Subscription struct {
	ID     string
	UserID string

	hub    *Hub
	events chan models.Event
	once   sync.Once
}

// Events returns the event stream.
func (s *Subscription) Events() <-chan models.Event {
	return s.events
}

// Close unsubscribes. Safe to call more than once.
func (s *Subscription) Close() {
	s.hub.remove(s)
}

// Hub is the in-process pub/sub used by push connections.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[string]*Subscription // userID -> subscriptionID -> subscription
	buffer int
	logger zerolog.Logger
}

// NewHub creates a hub. buffer <= 0 uses DefaultBuffer.
func NewHub(buffer int, logger zerolog.Logger) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hub{
		subs:   make(map[string]map[string]*Subscription),
		buffer: buffer,
		logger: logger,
	}
}

// Subscribe registers a new subscription for userID.
func (h *Hub) Subscribe(userID string) *Subscription {
	sub := &Subscription{
		ID:     uuid.NewString(),
		UserID: userID,
		hub:    h,
		events: make(chan models.Event, h.buffer),
	}

	h.mu.Lock()
	byID := h.subs[userID]
	if byID == nil {
		byID = make(map[string]*Subscription)
		h.subs[userID] = byID
	}
	byID[sub.ID] = sub
	h.mu.Unlock()

	return sub
}

// Publish delivers ev to local subscribers. It implements chat.Publisher for
// single-process deployments.
func (h *Hub) Publish(_ context.Context, ev models.Event) error {
	h.Deliver(ev)
	return nil
}

// Deliver routes ev to the subscriptions of its addressed users and returns
// how many accepted it. A subscription whose buffer is full is dropped.
func (h *Hub) Deliver(ev models.Event) int {
	var overflow []*Subscription
	delivered := 0

	h.mu.RLock()
	send := func(sub *Subscription) {
		select {
		case sub.events <- ev:
			delivered++
		default:
			overflow = append(overflow, sub)
		}
	}
	if ev.Kind == models.EventHeartbeat {
		for _, byID := range h.subs {
			for _, sub := range byID {
				send(sub)
			}
		}
	} else {
		seen := make(map[string]bool, len(ev.UserIDs))
		for _, userID := range ev.UserIDs {
			if seen[userID] {
				continue
			}
			seen[userID] = true
			for _, sub := range h.subs[userID] {
				send(sub)
			}
		}
	}
	h.mu.RUnlock()

	for _, sub := range overflow {
		metrics.SubscribersDropped.Inc()
		h.logger.Warn().Str("user_id", sub.UserID).Str("subscription_id", sub.ID).Msg("dropping slow subscriber")
		h.remove(sub)
	}
	return delivered
}

// Count returns the number of live subscriptions.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, byID := range h.subs {
		n += len(byID)
	}
	return n
}

// Close drops every subscription.
func (h *Hub) Close() {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[string]map[string]*Subscription)
	for _, byID := range subs {
		for _, sub := range byID {
			sub.once.Do(func() { close(sub.events) })
		}
	}
	h.mu.Unlock()
}

// remove closes the subscription's channel. Sends only happen under the
// read lock, so closing under the write lock cannot race with a send.
func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if byID, ok := h.subs[sub.UserID]; ok {
		delete(byID, sub.ID)
		if len(byID) == 0 {
			delete(h.subs, sub.UserID)
		}
	}
	sub.once.Do(func() { close(sub.events) })
}

// LocalSubscriber adapts a Hub to the Viewer's Subscriber for in-process use.
type LocalSubscriber struct {
	Hub    *Hub
	UserID string
}

// Subscribe implements Subscriber. The subscription ends when ctx is done.
func (l LocalSubscriber) Subscribe(ctx context.Context) (<-chan models.Event, error) {
	sub := l.Hub.Subscribe(l.UserID)
	go func() {
		<-ctx.Done()
		sub.Close()
	}()
	return sub.Events(), nil
}
