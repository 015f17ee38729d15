// Package repository holds the MySQL-backed stores for users and refresh
// tokens. Sentinel errors let the service layer tell apart "no such row" and
// "lost a race" from infrastructure failures without inspecting SQL errors.
package repository

import (
	"errors"

	"github.com/go-sql-driver/mysql"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// ErrEmailExists is returned by UserRepo.Create on a duplicate email.
var ErrEmailExists = errors.New("email already exists")

// ErrTokenNotLive is returned by TokenRepo.Rotate when the presented token
// was revoked or expired between the read and the conditional update.
var ErrTokenNotLive = errors.New("refresh token no longer live")

// isDuplicateKey reports a MySQL 1062 (ER_DUP_ENTRY) error.
func isDuplicateKey(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == 1062
}
