package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/iliyamo/poster-tracker/internal/handler"
	"github.com/iliyamo/poster-tracker/internal/middleware"
	"github.com/iliyamo/poster-tracker/internal/model"
)

// RegisterRoutes registers the unauthenticated operational endpoints:
// liveness, readiness against the database and the Prometheus scrape.
func RegisterRoutes(e *echo.Echo, db handler.Pinger) {
	e.GET("/healthz", handler.Health)
	e.GET("/readyz", handler.Ready(db))
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}

// RegisterImages serves stored confirmation photos from dir under prefix.
// Nothing is registered when prefix is not a local path, which is the
// case when images are fronted by a CDN.
func RegisterImages(e *echo.Echo, prefix, dir string) {
	if prefix == "" || prefix[0] != '/' {
		return
	}
	e.Static(prefix, dir)
}

// RegisterAuth registers login under /v1/auth and the token echo endpoint
// under /v1.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, jwtSecret string) {
	g := e.Group("/v1/auth")
	g.POST("/login", a.Login)

	auth := e.Group("/v1", middleware.JWTAuth(jwtSecret))
	auth.Use(middleware.RequireRole(model.RoleAdmin, model.RoleMember))
	auth.GET("/me", a.Me)
}
