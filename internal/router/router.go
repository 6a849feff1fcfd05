package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/practice-room-server/internal/config"
	"github.com/iliyamo/practice-room-server/internal/handler"
	"github.com/iliyamo/practice-room-server/internal/middleware"
	"github.com/iliyamo/practice-room-server/internal/ws"
)

// RegisterRoutes registers routes that do not require authentication.
// Currently it exposes only a health check.
func RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", handler.Health)
}

// RegisterSessions wires every session endpoint under /v1.  All routes
// require a valid access token; the check-in and attend endpoints
// additionally run behind the token-bucket rate limiter so a stuck client
// cannot hammer the state machine.  The admin reload endpoint is limited
// to the ADMIN role.
func RegisterSessions(
	e *echo.Echo,
	cfg config.Config,
	rdb *redis.Client,
	check *handler.CheckInHandler,
	ops *handler.OpsHandler,
	sessions *handler.SessionHandler,
	hub *ws.Hub,
) {
	g := e.Group("/v1/sessions")
	g.Use(middleware.JWTAuth(cfg.JWTSecret))

	g.GET("", sessions.List)
	g.GET("/current", sessions.Current)
	g.GET("/status", check.Status)

	limited := g.Group("")
	limited.Use(middleware.RateLimit(cfg, rdb))
	limited.POST("/check-in", check.CheckIn)
	limited.POST("/attend", check.Attend)
	limited.POST("/current/extend", ops.Extend)
	limited.POST("/current/end", ops.End)

	admin := e.Group("/v1/admin/sessions")
	admin.Use(middleware.JWTAuth(cfg.JWTSecret))
	admin.Use(middleware.RequireRole("ADMIN"))
	admin.POST("/reload", sessions.Reload)

	// The live session feed is plain websocket; browsers cannot set an
	// Authorization header on the upgrade request, so the feed carries only
	// the public session list.
	e.GET("/v1/sessions/feed", hub.Handle)
}
