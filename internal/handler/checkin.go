package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/practice-room-server/internal/checkin"
	"github.com/iliyamo/practice-room-server/internal/repository"
)

// CheckInHandler exposes the room entrance flow: a status probe that tells
// the client which action the check-in button should take, the check-in
// itself, and joining a session already on air.  All routes assume JWTAuth
// has stored the member id in the context.
type CheckInHandler struct {
	Service *checkin.Service
}

func NewCheckInHandler(svc *checkin.Service) *CheckInHandler {
	if svc == nil {
		panic("nil service passed to NewCheckInHandler")
	}
	return &CheckInHandler{Service: svc}
}

// Status handles GET /v1/sessions/status.  It evaluates what the member
// may do right now (create, start a reserved slot, join, or nothing) and
// returns the verdict together with the live session and the next pending
// reservation, either of which may be null.
func (h *CheckInHandler) Status(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	return c.JSON(http.StatusOK, h.Service.Status(userID))
}

// CheckIn handles POST /v1/sessions/check-in.  Depending on the member's
// current eligibility it either opens a new real-time session or starts the
// pending reservation the member belongs to.  The optional body field
// "participationAvailable" controls whether others may join a real-time
// session; it is ignored when a reservation is being started.
func (h *CheckInHandler) CheckIn(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var body struct {
		ParticipationAvailable bool `json:"participationAvailable"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	outcome, err := h.Service.TryStart(c.Request().Context(), userID, body.ParticipationAvailable)
	switch {
	case err == nil:
		return c.JSON(http.StatusCreated, echo.Map{"result": outcome})
	case errors.Is(err, checkin.ErrNotEligible):
		return c.JSON(http.StatusConflict, echo.Map{"error": "check-in is not available right now"})
	case errors.Is(err, repository.ErrMemberNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "member not found"})
	default:
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}
}

// Attend handles POST /v1/sessions/attend.  The member joins the session
// currently on air; the response carries the attendance grade that was
// recorded (joined, present, or late).
func (h *CheckInHandler) Attend(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	status, err := h.Service.Attend(c.Request().Context(), userID)
	switch {
	case err == nil:
		return c.JSON(http.StatusOK, echo.Map{"attendanceStatus": status})
	case errors.Is(err, checkin.ErrNoLiveSession):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "no session is on air"})
	case errors.Is(err, checkin.ErrNotAllowed):
		return c.JSON(http.StatusForbidden, echo.Map{"error": "session is closed to participation"})
	case errors.Is(err, repository.ErrMemberNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "member not found"})
	default:
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}
}
