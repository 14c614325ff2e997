package staffchat

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/eldtechnologies/staffchat/internal/models"
)

// Subscribe opens the push stream. The channel is closed when the server
// ends the stream, a read fails, or ctx is done. It satisfies
// delivery.Subscriber.
func (c *Client) Subscribe(ctx context.Context) (<-chan models.Event, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}

	header := http.Header{}
	if c.Token != "" {
		header.Set("Authorization", "Bearer "+c.Token)
	}

	ws, resp, err := dialer.DialContext(ctx, eventsURL(c.BaseURL), header)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
			return nil, &APIError{Status: resp.StatusCode, Code: "handshake", Message: err.Error()}
		}
		return nil, err
	}

	out := make(chan models.Event, 16)
	go func() {
		<-ctx.Done()
		ws.Close()
	}()
	go func() {
		defer close(out)
		defer ws.Close()
		for {
			var ev models.Event
			if err := ws.ReadJSON(&ev); err != nil {
				return
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func eventsURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return strings.TrimRight(base, "/") + "/events"
}
