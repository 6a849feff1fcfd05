package middleware // middleware provides shared request processing for handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

// JWTAuth returns an Echo middleware that validates a Bearer access token
// and injects the member id and role claims into the request context.
// Tokens are issued by the account service; this server only verifies them.
// Handlers read the authenticated member via MemberID(c) and the role via
// c.Get("role").
func JWTAuth(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			auth := c.Request().Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token"})
			}
			raw := strings.TrimPrefix(auth, "Bearer ")

			tok, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, echo.ErrUnauthorized
				}
				return []byte(secret), nil
			})
			if err != nil || !tok.Valid {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
			}

			claims, ok := tok.Claims.(jwt.MapClaims)
			if !ok {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid claims"})
			}

			id, ok := subjectID(claims)
			if !ok {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid subject"})
			}
			c.Set("user_id", id)
			c.Set("role", claims["role"])
			return next(c)
		}
	}
}

// MemberID returns the authenticated member id stored by JWTAuth.
func MemberID(c echo.Context) int64 {
	if id, ok := c.Get("user_id").(int64); ok {
		return id
	}
	return 0
}

// subjectID reads the sub claim, which the issuer writes either as a JSON
// number or a decimal string.
func subjectID(claims jwt.MapClaims) (int64, bool) {
	switch v := claims["sub"].(type) {
	case float64:
		return int64(v), true
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	}
	return 0, false
}
