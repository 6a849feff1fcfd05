package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/practice-room-server/internal/batch"
	"github.com/iliyamo/practice-room-server/internal/session"
)

// SessionHandler serves read-only views of the day's session list and the
// admin reload endpoint.
type SessionHandler struct {
	Manager *session.Manager
	Loader  *batch.Loader
}

func NewSessionHandler(mgr *session.Manager, loader *batch.Loader) *SessionHandler {
	if mgr == nil {
		panic("nil manager passed to NewSessionHandler")
	}
	return &SessionHandler{Manager: mgr, Loader: loader}
}

// List handles GET /v1/sessions.  Returns every session registered today,
// including discarded and finished ones, in start-time order.
func (h *SessionHandler) List(c echo.Context) error {
	return c.JSON(http.StatusOK, h.Manager.Sessions())
}

// Current handles GET /v1/sessions/current.  Returns the session on air,
// or 404 when the room is idle.
func (h *SessionHandler) Current(c echo.Context) error {
	s := h.Manager.CurrentSession()
	if s == nil {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "no session is on air"})
	}
	return c.JSON(http.StatusOK, s)
}

// Reload handles POST /v1/admin/sessions/reload.  It drops the in-memory
// registry and reloads today's reservations from the database, for use
// after manual reservation fixes.
func (h *SessionHandler) Reload(c echo.Context) error {
	if h.Loader == nil {
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "reservation storage is not configured"})
	}
	if err := h.Loader.Reload(c.Request().Context()); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "reload failed"})
	}
	return c.JSON(http.StatusOK, echo.Map{"result": "reloaded"})
}
