// Package service implements the authentication and account operations on
// top of the user and refresh-token stores.
package service

import (
	"context"
	"time"

	"github.com/iliyamo/business-manager/internal/model"
)

// UserStore is the credential store. Implementations return
// repository.ErrNotFound for missing rows and repository.ErrEmailExists on a
// duplicate email. ConsumeResetToken returns repository.ErrTokenNotLive when
// the reset token is no longer held or has expired.
type UserStore interface {
	Create(ctx context.Context, u model.User) (uint64, error)
	FindByEmail(ctx context.Context, email string) (model.User, error)
	FindByID(ctx context.Context, id uint64) (model.User, error)
	FindByResetToken(ctx context.Context, hash string) (model.User, error)
	SetResetToken(ctx context.Context, id uint64, hash string, exp time.Time) error
	UpdatePassword(ctx context.Context, id uint64, hash string) error
	ConsumeResetToken(ctx context.Context, id uint64, tokenHash, passwordHash string, now time.Time) error
	UpdateLastLogin(ctx context.Context, id uint64, at time.Time) error
	SetStatus(ctx context.Context, id uint64, status model.Status) error
}

// TokenStore persists refresh tokens by hash. Rotate and Revoke return
// repository.ErrTokenNotLive when their conditional update matches nothing.
type TokenStore interface {
	Create(ctx context.Context, t model.RefreshToken) error
	Get(ctx context.Context, hash string) (model.RefreshToken, error)
	Rotate(ctx context.Context, oldHash string, next model.RefreshToken, ip string, now time.Time) error
	Revoke(ctx context.Context, hash string, userID uint64, ip string, now time.Time) error
	RevokeAllForUser(ctx context.Context, userID uint64, ip string, now time.Time) (int64, error)
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}
