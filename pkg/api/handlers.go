package api

import (
	"errors"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/codeready-toolchain/magi/pkg/session"
)

// healthHandler handles GET /api/health.
func (s *Server) healthHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// createSessionHandler handles POST /api/sessions.
func (s *Server) createSessionHandler(c *echo.Context) error {
	var req CreateSessionRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
	}

	var opts session.Options
	if req.Options != nil {
		opts.Model = req.Options.Model
		opts.MaxRounds = req.Options.MaxRounds
		opts.TimeoutSec = req.Options.TimeoutSec
	}

	created, err := s.sessions.Create(opts, req.Prompt)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrInvalidPrompt):
			return c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		case errors.Is(err, session.ErrAtCapacity):
			return c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: err.Error()})
		default:
			return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		}
	}

	return c.JSON(http.StatusCreated, CreateSessionResponse{
		SessionID: created.ID,
		WSURL:     session.WSPath(created.ID),
		Status:    string(created.Status),
	})
}

// cancelSessionHandler handles POST /api/sessions/{id}/cancel.
func (s *Server) cancelSessionHandler(c *echo.Context) error {
	status, err := s.sessions.Cancel(c.Param("id"))
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error()})
		}
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
	}
	return c.JSON(http.StatusOK, CancelSessionResponse{Status: string(status)})
}
