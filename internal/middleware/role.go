package middleware

import (
	"context"
	"errors"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/business-manager/internal/apperror"
	"github.com/iliyamo/business-manager/internal/model"
	"github.com/iliyamo/business-manager/internal/repository"
)

// RequireRole allows the request when the caller has one of roles.
func RequireRole(roles ...model.Role) echo.MiddlewareFunc {
	allowed := make(map[model.Role]bool, len(roles))
	for _, r := range roles {
		allowed[r] = true
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id, ok := IdentityFrom(c)
			if !ok {
				return apperror.Unauthorized("authentication required")
			}
			if !allowed[id.Role] {
				return apperror.Forbidden("insufficient role")
			}
			return next(c)
		}
	}
}

// Common role sets.
var (
	AdminOnly      = RequireRole(model.RoleAdmin)
	AdminOrManager = RequireRole(model.RoleAdmin, model.RoleManager)
	AnyStaff       = RequireRole(model.RoleAdmin, model.RoleManager, model.RoleEmployee)
)

// OwnerLookup resolves the owner id of the resource with the given id. It
// returns repository.ErrNotFound when the resource does not exist.
type OwnerLookup func(ctx context.Context, resourceID uint64) (uint64, error)

// RequireOwnership allows admins unconditionally and otherwise requires the
// caller to own the resource named by the route parameter param.
func RequireOwnership(param string, lookup OwnerLookup) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id, ok := IdentityFrom(c)
			if !ok {
				return apperror.Unauthorized("authentication required")
			}
			resourceID, err := routeID(c, param)
			if err != nil {
				return err
			}
			if id.IsAdmin() {
				return next(c)
			}
			owner, err := lookup(c.Request().Context(), resourceID)
			if errors.Is(err, repository.ErrNotFound) {
				return apperror.NotFound("resource not found")
			}
			if err != nil {
				return apperror.Internal("ownership lookup failed", err)
			}
			if owner != id.ID {
				return apperror.Forbidden("not the owner of this resource")
			}
			return next(c)
		}
	}
}

// RequireSelfOrAdmin allows the request when the route parameter param
// equals the caller's id, or the caller is an admin.
func RequireSelfOrAdmin(param string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id, ok := IdentityFrom(c)
			if !ok {
				return apperror.Unauthorized("authentication required")
			}
			subject, err := routeID(c, param)
			if err != nil {
				return err
			}
			if subject != id.ID && !id.IsAdmin() {
				return apperror.Forbidden("access limited to own account")
			}
			return next(c)
		}
	}
}

func routeID(c echo.Context, param string) (uint64, error) {
	n, err := strconv.ParseUint(c.Param(param), 10, 64)
	if err != nil || n == 0 {
		return 0, apperror.Validation("invalid id", param)
	}
	return n, nil
}
