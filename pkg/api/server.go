// Package api provides the HTTP and WebSocket surface described in §6:
// session creation, cancellation, health, and the per-session observer
// event stream.
package api

import (
	"context"
	"net"
	"net/http"

	echo "github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"

	"github.com/codeready-toolchain/magi/pkg/session"
)

// maxBodyBytes bounds request bodies comfortably above the 8000-rune prompt
// cap, rejecting oversized payloads at the HTTP read level before they ever
// reach json.Unmarshal.
const maxBodyBytes = 1 << 20

// Server is the REST/WebSocket API. Grounded on the teacher's
// pkg/api.Server (Echo v5 wiring, body-size limit, graceful
// Start/StartWithListener/Shutdown), trimmed to MAGI's four endpoints.
type Server struct {
	echo       *echo.Echo
	httpServer *http.Server
	sessions   *session.Manager
}

// NewServer constructs a Server backed by sessions and registers its routes.
func NewServer(sessions *session.Manager) *Server {
	e := echo.New()
	s := &Server{echo: e, sessions: sessions}

	e.Use(middleware.BodyLimit(maxBodyBytes))

	e.GET("/api/health", s.healthHandler)
	e.POST("/api/sessions", s.createSessionHandler)
	e.POST("/api/sessions/:id/cancel", s.cancelSessionHandler)
	e.GET("/ws/sessions/:id", s.wsHandler)

	return s
}

// Start starts the HTTP server on addr (blocking).
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.echo}
	return s.httpServer.ListenAndServe()
}

// StartWithListener starts the HTTP server on a pre-created listener. Used
// by test infrastructure to serve on a random OS-assigned port.
func (s *Server) StartWithListener(ln net.Listener) error {
	s.httpServer = &http.Server{Handler: s.echo}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
