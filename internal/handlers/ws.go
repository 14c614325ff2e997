package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/eldtechnologies/staffchat/internal/delivery"
	"github.com/eldtechnologies/staffchat/internal/metrics"
	"github.com/eldtechnologies/staffchat/internal/models"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second

	// closeTryAgainLater tells a dropped subscriber to reconnect and refetch.
	closeTryAgainLater = 1013
)

// Events upgrades to a websocket and streams the caller's change
// notifications. Each frame is a JSON event without routing data.
// Heartbeats arrive through the hub like any other event.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	user := h.currentUser(w, r)
	if user == nil {
		return
	}

	// Subscribe before the handshake completes so no event published after
	// the client sees the upgrade is missed.
	sub := h.hub.Subscribe(user.ID)

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		sub.Close()
		h.logger.Debug().Err(err).Str("user_id", user.ID).Msg("websocket upgrade failed")
		return
	}

	metrics.WebsocketConnections.Inc()
	h.logger.Debug().Str("user_id", user.ID).Str("subscription_id", sub.ID).Msg("push stream opened")

	defer func() {
		sub.Close()
		ws.Close()
		metrics.WebsocketConnections.Dec()
		h.logger.Debug().Str("user_id", user.ID).Str("subscription_id", sub.ID).Msg("push stream closed")
	}()

	readDone := make(chan struct{})
	go readLoop(ws, readDone)

	h.writeLoop(ws, sub, readDone)
}

// readLoop discards client frames and keeps the read deadline moving on
// pongs. It returns when the peer goes away.
func readLoop(ws *websocket.Conn, done chan<- struct{}) {
	defer close(done)

	ws.SetReadLimit(512)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Handler) writeLoop(ws *websocket.Conn, sub *delivery.Subscription, readDone <-chan struct{}) {
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-readDone:
			return

		case ev, ok := <-sub.Events():
			if !ok {
				// The hub dropped us for falling behind.
				writeClose(ws, closeTryAgainLater, "subscriber too slow")
				return
			}
			if err := writeEvent(ws, ev.Public()); err != nil {
				return
			}

		case <-ping.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func writeEvent(ws *websocket.Conn, ev models.Event) error {
	if err := ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return ws.WriteJSON(ev)
}

func writeClose(ws *websocket.Conn, code int, reason string) {
	_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
}

// checkOrigin accepts requests without an Origin header and those whose
// origin is configured. A "*" entry allows any origin.
func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.origins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}
