package router

import (
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/poster-tracker/internal/config"
	"github.com/iliyamo/poster-tracker/internal/handler"
	"github.com/iliyamo/poster-tracker/internal/middleware"
	"github.com/iliyamo/poster-tracker/internal/model"
)

// PositionOptions carries the shared middleware settings of the position
// routes.  A nil Redis disables both caching and rate limiting.
type PositionOptions struct {
	JWTSecret string
	Redis     *redis.Client
	Cache     config.CacheConfig
	RateLimit config.RateLimitConfig
}

// RegisterPositions registers the poster position endpoints under /v1.
// Every route needs a valid JWT.  Reads go through the response cache;
// writes are rate limited and invalidate cached reads once they succeed.
// Creating and editing positions is restricted to ADMIN, while the
// physical actions are open to any user and checked against the
// position's responsible users by the engine.
func RegisterPositions(e *echo.Echo, h *handler.PositionHandler, opt PositionOptions) {
	g := e.Group(
		"/v1/positions",
		middleware.JWTAuth(opt.JWTSecret),
		middleware.RequireRole(model.RoleAdmin, model.RoleMember),
		middleware.InvalidateOnWrite(opt.Cache, opt.Redis),
	)

	// ---- Reads ----
	cached := middleware.NewRedisCache(opt.Cache, opt.Redis)
	g.GET("", h.List, cached)
	g.GET("/:id", h.Get, cached)

	// ---- Physical actions ----
	limited := middleware.NewTokenBucket(opt.RateLimit, opt.Redis)
	g.PUT("/:id/hang", h.Hang, limited)
	g.PUT("/:id/take-down", h.TakeDown, limited)
	g.PUT("/:id/report-damage", h.ReportDamage, limited)

	// ---- Administration ----
	admin := middleware.RequireRole(model.RoleAdmin)
	g.POST("", h.Create, admin, limited)
	g.PATCH("/:id", h.Edit, admin, limited)
}
