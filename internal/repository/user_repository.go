package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/iliyamo/business-manager/internal/model"
)

const userColumns = "id,name,email,password_hash,role,status,reset_token,reset_token_expiry,last_login_at,created_at,updated_at"

type UserRepo struct{ DB *sql.DB }

func NewUserRepo(db *sql.DB) *UserRepo { return &UserRepo{DB: db} }

// NormalizeEmail lower-cases and trims an email address.
func NormalizeEmail(email string) string { return strings.ToLower(strings.TrimSpace(email)) }

type rowScanner interface{ Scan(dest ...any) error }

func scanUser(row rowScanner) (model.User, error) {
	var (
		u         model.User
		role      string
		status    string
		resetTok  sql.NullString
		resetExp  sql.NullTime
		lastLogin sql.NullTime
	)
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &role, &status,
		&resetTok, &resetExp, &lastLogin, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.User{}, ErrNotFound
	}
	if err != nil {
		return model.User{}, err
	}
	u.Role = model.Role(role)
	u.Status = model.Status(status)
	if resetTok.Valid {
		s := resetTok.String
		u.ResetTokenHash = &s
	}
	if resetExp.Valid {
		t := resetExp.Time
		u.ResetTokenExpiry = &t
	}
	if lastLogin.Valid {
		t := lastLogin.Time
		u.LastLoginAt = &t
	}
	return u, nil
}

// Create inserts u and returns its ID. Email is normalized before insert.
func (r *UserRepo) Create(ctx context.Context, u model.User) (uint64, error) {
	res, err := r.DB.ExecContext(ctx,
		"INSERT INTO users (name, email, password_hash, role, status) VALUES (?,?,?,?,?)",
		u.Name, NormalizeEmail(u.Email), u.PasswordHash, string(u.Role), string(u.Status))
	if err != nil {
		if isDuplicateKey(err) {
			return 0, ErrEmailExists
		}
		return 0, fmt.Errorf("insert user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return uint64(id), nil
}

// FindByEmail fetches a user by normalized email.
func (r *UserRepo) FindByEmail(ctx context.Context, email string) (model.User, error) {
	row := r.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE email=? LIMIT 1", NormalizeEmail(email))
	return scanUser(row)
}

// FindByID fetches a user by id.
func (r *UserRepo) FindByID(ctx context.Context, id uint64) (model.User, error) {
	row := r.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE id=? LIMIT 1", id)
	return scanUser(row)
}

// FindByResetToken fetches the user holding the given reset token hash.
// Expiry is not checked here.
func (r *UserRepo) FindByResetToken(ctx context.Context, hash string) (model.User, error) {
	row := r.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE reset_token=? LIMIT 1", hash)
	return scanUser(row)
}

// SetResetToken stores a reset token hash and its expiry.
func (r *UserRepo) SetResetToken(ctx context.Context, id uint64, hash string, exp time.Time) error {
	return r.execOne(ctx,
		"UPDATE users SET reset_token=?, reset_token_expiry=? WHERE id=?", hash, exp.UTC(), id)
}

// UpdatePassword stores a new hash and clears any pending reset token.
func (r *UserRepo) UpdatePassword(ctx context.Context, id uint64, hash string) error {
	return r.execOne(ctx,
		"UPDATE users SET password_hash=?, reset_token=NULL, reset_token_expiry=NULL WHERE id=?", hash, id)
}

// ConsumeResetToken sets a new password hash for user id if it still holds
// the unexpired reset token, clearing the token in the same statement so it
// is used at most once. ErrTokenNotLive is returned when nothing matched.
func (r *UserRepo) ConsumeResetToken(ctx context.Context, id uint64, tokenHash, passwordHash string, now time.Time) error {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE users SET password_hash=?, reset_token=NULL, reset_token_expiry=NULL WHERE id=? AND reset_token=? AND reset_token_expiry>?",
		passwordHash, id, tokenHash, now.UTC())
	if err != nil {
		return fmt.Errorf("consume reset token: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrTokenNotLive
	}
	return nil
}

// UpdateLastLogin records a successful login.
func (r *UserRepo) UpdateLastLogin(ctx context.Context, id uint64, at time.Time) error {
	return r.execOne(ctx, "UPDATE users SET last_login_at=? WHERE id=?", at.UTC(), id)
}

// SetStatus changes the account status.
func (r *UserRepo) SetStatus(ctx context.Context, id uint64, status model.Status) error {
	return r.execOne(ctx, "UPDATE users SET status=? WHERE id=?", string(status), id)
}

// execOne runs an UPDATE keyed by id and maps "no such row" to ErrNotFound.
// MySQL reports 0 affected rows when the new values equal the old ones, so a
// zero count is confirmed with an existence check before giving up.
func (r *UserRepo) execOne(ctx context.Context, q string, args ...any) error {
	res, err := r.DB.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var one int
	err = r.DB.QueryRowContext(ctx, "SELECT 1 FROM users WHERE id=? LIMIT 1", args[len(args)-1]).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
