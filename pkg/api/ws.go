package api

import (
	"github.com/coder/websocket"
	echo "github.com/labstack/echo/v5"

	"github.com/codeready-toolchain/magi/pkg/events"
)

// wsHandler handles GET /ws/sessions/{id}: upgrades to WebSocket and
// forwards the session's event stream until the client disconnects or the
// session reaches a terminal phase. A client disconnect cancels the session
// (MVP cost-control policy, §4.13).
func (s *Server) wsHandler(c *echo.Context) error {
	id := c.Param("id")
	if _, ok := s.sessions.Get(id); !ok {
		return echo.NewHTTPError(404, "session not found")
	}

	conn, err := websocket.Accept(c.Response(), c.Request(), &websocket.AcceptOptions{
		// Origin validation is out of scope for this MVP observer UI; a
		// production deployment would replace this with an allowlist read
		// from server config.
		InsecureSkipVerify: true,
	})
	if err != nil {
		return err
	}

	events.Serve(c.Request().Context(), conn, s.sessions.Broadcaster(), id, func() {
		_, _ = s.sessions.Cancel(id)
	})
	return nil
}
