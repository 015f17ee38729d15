// Package router registers the HTTP routes and their middleware chains.
package router

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/business-manager/internal/handler"
	"github.com/iliyamo/business-manager/internal/middleware"
	"github.com/iliyamo/business-manager/internal/utils"
)

// Deps carries everything the routes need. Throttle guards the credential
// endpoints and may be a pass-through.
type Deps struct {
	Auth     *handler.AuthHandler
	Users    *handler.UserHandler
	Health   *handler.HealthHandler
	Codec    *utils.TokenCodec
	Strategy middleware.IdentityStrategy
	Throttle echo.MiddlewareFunc
	Metrics  http.Handler
}

// RegisterRoutes registers unauthenticated operational routes.
func RegisterRoutes(e *echo.Echo, d Deps) {
	e.GET("/healthz", d.Health.Health)
	if d.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(d.Metrics))
	}
}

// RegisterAuth registers the authentication routes. Credential endpoints are
// throttled; the rest require a bearer token.
func RegisterAuth(e *echo.Echo, d Deps) {
	throttle := d.Throttle
	if throttle == nil {
		throttle = func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	authn := middleware.Authenticate(d.Codec, d.Strategy)

	e.POST("/login", d.Auth.Login, throttle)

	g := e.Group("/auth")
	g.POST("/refresh-token", d.Auth.Refresh)
	g.POST("/forgot-password", d.Auth.ForgotPassword, throttle)
	g.GET("/reset-token/:token", d.Auth.ValidateResetToken)
	g.POST("/reset-password/:token", d.Auth.ResetPassword, throttle)

	g.POST("/logout", d.Auth.Logout, authn)
	g.GET("/me", d.Auth.Me, authn)
	g.POST("/change-password", d.Auth.ChangePassword, authn)
	g.POST("/register", d.Auth.Register, authn, middleware.AdminOnly)
}

// RegisterUsers registers account administration and permission routes.
func RegisterUsers(e *echo.Echo, d Deps) {
	authn := middleware.Authenticate(d.Codec, d.Strategy)

	u := e.Group("/users", authn)
	u.GET("/:id", d.Users.Get, middleware.RequireSelfOrAdmin("id"))
	u.PATCH("/:id/status", d.Users.SetStatus, middleware.AdminOnly)

	e.POST("/permissions/check", d.Users.CheckPermission, authn, middleware.AnyStaff)
}
