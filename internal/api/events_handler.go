package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"loom/internal/event"
	"loom/internal/logging"
	"loom/internal/prepare"
)

// ReadyEventsHandler streams readiness payloads over a websocket, one
// JSON message per prepare cycle.
type ReadyEventsHandler struct {
	Bus            *event.Bus[prepare.ReadyEvent]
	Logger         *logging.Logger
	AuthToken      string
	AllowedOrigins []string
}

type readyMessage struct {
	Type       string               `json:"type"`
	Payload    prepare.ReadyPayload `json:"payload"`
	OccurredAt time.Time            `json:"occurredAt"`
}

func (h *ReadyEventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !validateToken(r, h.AuthToken) {
		logWSError(h.Logger, r, "unauthorized", http.StatusUnauthorized, nil)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if h.Bus == nil {
		http.Error(w, "events unavailable", http.StatusServiceUnavailable)
		return
	}

	events, cancel := h.Bus.Subscribe()
	defer cancel()

	conn, err := upgradeWebSocket(w, r, h.AllowedOrigins)
	if err != nil {
		logWSError(h.Logger, r, "websocket upgrade failed", http.StatusBadRequest, err)
		return
	}
	defer conn.Close()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ready, ok := <-events:
			if !ok {
				return
			}
			message := readyMessage{
				Type:       ready.Type(),
				Payload:    ready.Payload,
				OccurredAt: ready.OccurredAt,
			}
			if err := conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
				return
			}
			if err := conn.WriteJSON(message); err != nil {
				return
			}
		case <-closed:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(wsWriteTimeout))
			return
		}
	}
}
