package handler

import (
	"errors"

	"github.com/labstack/echo/v4"
)

var errNoUser = errors.New("no authenticated user in context")

// getUserID reads the member id that JWTAuth stored in the request context.
func getUserID(c echo.Context) (int64, error) {
	id, ok := c.Get("user_id").(int64)
	if !ok || id == 0 {
		return 0, errNoUser
	}
	return id, nil
}
