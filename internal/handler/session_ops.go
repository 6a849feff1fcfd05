package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/practice-room-server/internal/operations"
)

// OpsHandler covers operations on the session currently on air: extending
// its end time and ending it early.  Both are restricted to members who are
// attending the session.
type OpsHandler struct {
	Service *operations.Service
}

func NewOpsHandler(svc *operations.Service) *OpsHandler {
	if svc == nil {
		panic("nil service passed to NewOpsHandler")
	}
	return &OpsHandler{Service: svc}
}

// Extend handles POST /v1/sessions/current/extend.  It pushes the live
// session's end time out by thirty minutes, rejecting the request when the
// session is within ten minutes of ending.
func (h *OpsHandler) Extend(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	switch err := h.Service.Extend(userID); {
	case err == nil:
		return c.JSON(http.StatusOK, echo.Map{"result": "extended"})
	case errors.Is(err, operations.ErrNoLiveSession):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "no session is on air"})
	case errors.Is(err, operations.ErrNotAttending):
		return c.JSON(http.StatusForbidden, echo.Map{"error": "only attendees may extend"})
	case errors.Is(err, operations.ErrExtendWindowClosed):
		return c.JSON(http.StatusConflict, echo.Map{"error": "too close to the end to extend"})
	default:
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}
}

// End handles POST /v1/sessions/current/end.  The body may carry photo
// URLs documenting returned equipment; they are stored with the session
// log.  Ending is refused during the first fifteen minutes of a session.
func (h *OpsHandler) End(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var body struct {
		ReturnImageURLs []string `json:"returnImageUrls"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	switch err := h.Service.End(c.Request().Context(), userID, body.ReturnImageURLs); {
	case err == nil:
		return c.JSON(http.StatusOK, echo.Map{"result": "ended"})
	case errors.Is(err, operations.ErrNoLiveSession):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "no session is on air"})
	case errors.Is(err, operations.ErrNotAttending):
		return c.JSON(http.StatusForbidden, echo.Map{"error": "only attendees may end the session"})
	case errors.Is(err, operations.ErrEndTooEarly):
		return c.JSON(http.StatusConflict, echo.Map{"error": "session has not run long enough to end"})
	default:
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}
}
