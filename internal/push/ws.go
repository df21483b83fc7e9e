package push

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

const writeTimeout = 5 * time.Second

// WebSocketHandler streams hub events to admin clients.
type WebSocketHandler struct {
	hub   *Hub
	isDev bool
}

// NewWebSocketHandler creates a handler streaming from the given hub.
func NewWebSocketHandler(hub *Hub, isDev bool) *WebSocketHandler {
	return &WebSocketHandler{hub: hub, isDev: isDev}
}

// ServeHTTP upgrades the connection and forwards events until the
// client disconnects.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	opts := &websocket.AcceptOptions{}
	if h.isDev {
		opts.InsecureSkipVerify = true
	}

	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		slog.Warn("WebSocket accept failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream closed")

	events, cancel := h.hub.Subscribe()
	defer cancel()

	ctx := r.Context()

	// Reads are discarded; the read loop only notices disconnects.
	go func() {
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				cancel()
				return
			}
		}
	}()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				conn.Close(websocket.StatusNormalClosure, "subscription closed")
				return
			}
			writeCtx, writeCancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(writeCtx, conn, ev)
			writeCancel()
			if err != nil {
				slog.Debug("push write failed, dropping subscriber", "error", err)
				return
			}
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "server shutting down")
			return
		}
	}
}
