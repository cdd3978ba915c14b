package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"glados/backend/internal/interfaces"
	"glados/backend/internal/session"
)

const (
	eventBuffer  = 64
	pongWait     = 60 * time.Second
	pingInterval = (pongWait * 9) / 10
	writeWait    = 10 * time.Second
)

// EventsHandler pushes session store events to browsers over a WebSocket so
// every open tab re-renders from the same state.
type EventsHandler struct {
	store    interfaces.SessionStore
	upgrader websocket.Upgrader
}

func NewEventsHandler(store interfaces.SessionStore) *EventsHandler {
	return &EventsHandler{
		store: store,
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// HandleEvents godoc
// @Summary      Store events
// @Description  WebSocket stream of session.Event JSON objects, one per store mutation.
// @Tags         Events
// @Success      101
// @Router       /v1/events [get]
func (h *EventsHandler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("WebSocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	events := make(chan session.Event, eventBuffer)
	unsubscribe := h.store.Subscribe(func(ev session.Event) {
		select {
		case events <- ev:
		default:
			slog.Warn("Dropping event for slow subscriber", "type", ev.Type, "session_id", ev.SessionID)
		}
	})
	defer unsubscribe()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go h.readLoop(conn, cancel)

	slog.Debug("Event subscriber connected", "remote", r.RemoteAddr)
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				slog.Debug("Event subscriber gone", "error", err)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readLoop discards client messages and cancels when the connection closes.
func (h *EventsHandler) readLoop(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("WebSocket read error", "error", err)
			}
			return
		}
	}
}
