package middleware

import (
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/business-manager/internal/model"
)

const identityKey = "identity"

// Identity is the authenticated caller attached to the request context. It
// never carries the password hash or the raw token.
type Identity struct {
	ID    uint64
	Name  string
	Email string
	Role  model.Role
}

// IsAdmin reports whether the caller has the admin role.
func (i Identity) IsAdmin() bool { return i.Role == model.RoleAdmin }

// SetIdentity attaches id to c.
func SetIdentity(c echo.Context, id Identity) { c.Set(identityKey, id) }

// IdentityFrom returns the identity attached by Authenticate.
func IdentityFrom(c echo.Context) (Identity, bool) {
	id, ok := c.Get(identityKey).(Identity)
	return id, ok
}

// currentUserID returns the caller's id as a string, or "anon" before
// authentication.
func currentUserID(c echo.Context) string {
	if id, ok := IdentityFrom(c); ok {
		return strconv.FormatUint(id.ID, 10)
	}
	return "anon"
}
