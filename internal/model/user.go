package model

import "time"

// Role is the coarse permission group of a user.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleManager  Role = "manager"
	RoleEmployee Role = "employee"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleManager, RoleEmployee:
		return true
	}
	return false
}

// Status is the lifecycle state of a user account. Accounts are never hard
// deleted; "deleted" is a terminal soft state.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusDeleted  Status = "deleted"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusInactive, StatusDeleted:
		return true
	}
	return false
}

// User represents a row of the `users` table.
//
// ResetTokenHash holds the SHA-256 hex digest of the password reset token, never
// the raw value. It is nil when no reset is pending.
type User struct {
	ID               uint64     // users.id
	Name             string     // users.name
	Email            string     // users.email (unique, lower-cased)
	PasswordHash     string     // users.password_hash (bcrypt)
	Role             Role       // users.role
	Status           Status     // users.status
	ResetTokenHash   *string    // users.reset_token (nullable)
	ResetTokenExpiry *time.Time // users.reset_token_expiry (nullable)
	LastLoginAt      *time.Time // users.last_login_at (nullable)
	CreatedAt        time.Time  // users.created_at
	UpdatedAt        time.Time  // users.updated_at
}

// IsActive reports whether the account may authenticate.
func (u User) IsActive() bool { return u.Status == StatusActive }

// Public returns the projection of u that is safe to hand to clients.
func (u User) Public() PublicUser {
	return PublicUser{ID: u.ID, Name: u.Name, Email: u.Email, Role: u.Role}
}

// PublicUser is the client-facing view of a user. It never carries the
// password hash or any token material.
type PublicUser struct {
	ID    uint64 `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  Role   `json:"role"`
}

// RefreshToken models an entry in the `refresh_tokens` table. Token is the
// SHA-256 hex digest of the opaque value handed to the client; the raw value is
// never stored. ReplacedByToken points at the digest of the token that
// superseded this one during rotation, forming a chain per login session.
type RefreshToken struct {
	Token           string     // refresh_tokens.token (primary key)
	UserID          uint64     // refresh_tokens.user_id
	ExpiresAt       time.Time  // refresh_tokens.expires_at
	IsRevoked       bool       // refresh_tokens.is_revoked
	RevokedAt       *time.Time // refresh_tokens.revoked_at (nullable)
	CreatedByIP     string     // refresh_tokens.created_by_ip
	RevokedByIP     *string    // refresh_tokens.revoked_by_ip (nullable)
	ReplacedByToken *string    // refresh_tokens.replaced_by_token (nullable)
	CreatedAt       time.Time  // refresh_tokens.created_at
}

// Expired reports whether the token is past its expiry at now.
func (t RefreshToken) Expired(now time.Time) bool { return !now.Before(t.ExpiresAt) }
