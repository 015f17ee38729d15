package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/iliyamo/business-manager/internal/model"
)

// TokenRepo persists refresh tokens keyed by the SHA-256 hex of the raw value.
type TokenRepo struct{ DB *sql.DB }

func NewTokenRepo(db *sql.DB) *TokenRepo { return &TokenRepo{DB: db} }

const insertToken = "INSERT INTO refresh_tokens (token, user_id, expires_at, created_by_ip) VALUES (?,?,?,?)"

// Create inserts a fresh, unrevoked token row.
func (r *TokenRepo) Create(ctx context.Context, t model.RefreshToken) error {
	if _, err := r.DB.ExecContext(ctx, insertToken, t.Token, t.UserID, t.ExpiresAt.UTC(), t.CreatedByIP); err != nil {
		return fmt.Errorf("insert refresh token: %w", err)
	}
	return nil
}

// Get returns the token row for hash, revoked or not.
func (r *TokenRepo) Get(ctx context.Context, hash string) (model.RefreshToken, error) {
	var (
		t         model.RefreshToken
		revokedAt sql.NullTime
		revokedBy sql.NullString
		replaced  sql.NullString
	)
	err := r.DB.QueryRowContext(ctx,
		`SELECT token, user_id, expires_at, is_revoked, revoked_at, created_by_ip, revoked_by_ip, replaced_by_token, created_at
		   FROM refresh_tokens WHERE token=? LIMIT 1`, hash).
		Scan(&t.Token, &t.UserID, &t.ExpiresAt, &t.IsRevoked, &revokedAt, &t.CreatedByIP, &revokedBy, &replaced, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.RefreshToken{}, ErrNotFound
	}
	if err != nil {
		return model.RefreshToken{}, err
	}
	if revokedAt.Valid {
		v := revokedAt.Time
		t.RevokedAt = &v
	}
	if revokedBy.Valid {
		v := revokedBy.String
		t.RevokedByIP = &v
	}
	if replaced.Valid {
		v := replaced.String
		t.ReplacedByToken = &v
	}
	return t, nil
}

// Rotate revokes oldHash and inserts next in one transaction. The revoke is a
// compare-and-swap on is_revoked=0 and expires_at>now; when it matches no row
// the transaction is rolled back and ErrTokenNotLive is returned, so two
// concurrent refreshes of the same token can never both succeed.
func (r *TokenRepo) Rotate(ctx context.Context, oldHash string, next model.RefreshToken, ip string, now time.Time) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE refresh_tokens SET is_revoked=1, revoked_at=?, revoked_by_ip=?, replaced_by_token=?
		  WHERE token=? AND is_revoked=0 AND expires_at>?`,
		now.UTC(), ip, next.Token, oldHash, now.UTC())
	if err != nil {
		return fmt.Errorf("revoke rotated token: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrTokenNotLive
	}
	if _, err := tx.ExecContext(ctx, insertToken, next.Token, next.UserID, next.ExpiresAt.UTC(), next.CreatedByIP); err != nil {
		return fmt.Errorf("insert successor token: %w", err)
	}
	return tx.Commit()
}

// Revoke marks a single live token of userID as revoked. ErrTokenNotLive is
// returned when the token is unknown, already revoked or owned by someone else.
func (r *TokenRepo) Revoke(ctx context.Context, hash string, userID uint64, ip string, now time.Time) error {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE refresh_tokens SET is_revoked=1, revoked_at=?, revoked_by_ip=? WHERE token=? AND user_id=? AND is_revoked=0",
		now.UTC(), ip, hash, userID)
	if err != nil {
		return fmt.Errorf("revoke token: %w", err)
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

// RevokeAllForUser revokes every unrevoked token of the user and returns how
// many rows changed.
func (r *TokenRepo) RevokeAllForUser(ctx context.Context, userID uint64, ip string, now time.Time) (int64, error) {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE refresh_tokens SET is_revoked=1, revoked_at=?, revoked_by_ip=? WHERE user_id=? AND is_revoked=0",
		now.UTC(), ip, userID)
	if err != nil {
		return 0, fmt.Errorf("revoke user tokens: %w", err)
	}
	return res.RowsAffected()
}

// PurgeExpired deletes tokens whose expiry is at or before now.
func (r *TokenRepo) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.DB.ExecContext(ctx, "DELETE FROM refresh_tokens WHERE expires_at<=?", now.UTC())
	if err != nil {
		return 0, fmt.Errorf("purge expired tokens: %w", err)
	}
	return res.RowsAffected()
}
