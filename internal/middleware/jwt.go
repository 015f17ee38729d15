package middleware

import (
	"context"
	"errors"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/business-manager/internal/apperror"
	"github.com/iliyamo/business-manager/internal/model"
	"github.com/iliyamo/business-manager/internal/repository"
	"github.com/iliyamo/business-manager/internal/utils"
)

// IdentityStrategy turns verified token claims into the request identity.
type IdentityStrategy interface {
	Resolve(ctx context.Context, claims *utils.Claims) (Identity, error)
}

// TrustClaimsStrategy builds the identity from the token claims alone. A
// deactivated user keeps access until the token expires.
type TrustClaimsStrategy struct{}

func (TrustClaimsStrategy) Resolve(_ context.Context, claims *utils.Claims) (Identity, error) {
	id, err := claims.UserID()
	if err != nil {
		return Identity{}, apperror.Unauthorized("invalid token")
	}
	return Identity{ID: id, Name: claims.Name, Email: claims.Email, Role: claims.Role}, nil
}

// UserFinder loads a user by id.
type UserFinder interface {
	FindByID(ctx context.Context, id uint64) (model.User, error)
}

// RevalidateStrategy re-reads the user on every request and rejects
// accounts that are no longer active. Role and name come from the store, so
// changes apply immediately.
type RevalidateStrategy struct{ Users UserFinder }

func (s RevalidateStrategy) Resolve(ctx context.Context, claims *utils.Claims) (Identity, error) {
	id, err := claims.UserID()
	if err != nil {
		return Identity{}, apperror.Unauthorized("invalid token")
	}
	u, err := s.Users.FindByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return Identity{}, apperror.Unauthorized("user no longer exists")
	}
	if err != nil {
		return Identity{}, apperror.Internal("identity lookup failed", err)
	}
	if !u.IsActive() {
		return Identity{}, apperror.Unauthorized("account is not active")
	}
	return Identity{ID: u.ID, Name: u.Name, Email: u.Email, Role: u.Role}, nil
}

// StrategyFor picks RevalidateStrategy when verifyInDB is set.
func StrategyFor(verifyInDB bool, users UserFinder) IdentityStrategy {
	if verifyInDB {
		return RevalidateStrategy{Users: users}
	}
	return TrustClaimsStrategy{}
}

// Authenticate verifies the Bearer access token and attaches the resolved
// Identity to the context. Errors are returned, not written, so the
// centralized error handler shapes the response.
func Authenticate(codec *utils.TokenCodec, strategy IdentityStrategy) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			auth := c.Request().Header.Get(echo.HeaderAuthorization)
			if auth == "" {
				return apperror.Unauthorized("missing bearer token")
			}
			scheme, raw, ok := strings.Cut(auth, " ")
			raw = strings.TrimSpace(raw)
			if !ok || !strings.EqualFold(scheme, "Bearer") || raw == "" {
				return apperror.Unauthorized("malformed authorization header")
			}

			claims, err := codec.Parse(raw)
			if err != nil {
				return apperror.Unauthorized("invalid or expired token")
			}
			id, err := strategy.Resolve(c.Request().Context(), claims)
			if err != nil {
				return err
			}
			SetIdentity(c, id)
			return next(c)
		}
	}
}
