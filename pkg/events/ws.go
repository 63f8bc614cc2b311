package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/coder/websocket"
)

// writeTimeout bounds how long a single WebSocket write may block before
// the connection is dropped, mirroring the teacher's ConnectionManager
// sendRaw discipline.
const writeTimeout = 5 * time.Second

// pingInterval matches §6's ~30s recommendation.
const pingInterval = 30 * time.Second

// Serve subscribes to sessionID and forwards every published envelope to
// conn until the subscriber channel closes (session reached a terminal
// phase and CloseSession was called), the connection errors, or ctx is
// cancelled. It blocks until the connection ends.
//
// This is a server→client-only stream (§6): the teacher's
// ConnectionManager also reads client messages (subscribe/unsubscribe/
// catchup); that read loop doesn't apply here; a single read goroutine
// exists only to detect client disconnect.
func Serve(ctx context.Context, conn *websocket.Conn, broadcaster *Broadcaster, sessionID string, onDisconnect func()) {
	ch, unsubscribe := broadcaster.Subscribe(sessionID)
	defer unsubscribe()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	disconnected := make(chan struct{})
	go func() {
		defer close(disconnected)
		// Block on reads purely to notice the client closing the socket;
		// MAGI's WS contract carries no client→server messages.
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case payload, ok := <-ch:
			if !ok {
				_ = conn.Close(websocket.StatusNormalClosure, "session complete")
				return
			}
			writeCtx, writeCancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Write(writeCtx, websocket.MessageText, payload)
			writeCancel()
			if err != nil {
				slog.Warn("events: websocket write failed", "session_id", sessionID, "error", err)
				if onDisconnect != nil {
					onDisconnect()
				}
				return
			}

		case <-ticker.C:
			writeCtx, writeCancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Ping(writeCtx)
			writeCancel()
			if err != nil {
				if onDisconnect != nil {
					onDisconnect()
				}
				return
			}

		case <-disconnected:
			// Client closed the socket: per §4.13/§6, disconnect cancels
			// the session (MVP policy, prevents runaway LLM cost).
			if onDisconnect != nil {
				onDisconnect()
			}
			return

		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "server shutting down")
			return
		}
	}
}
