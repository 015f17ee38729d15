// Package memstore provides in-memory user and refresh-token stores with the
// same error contract as the MySQL repositories. Tests use it in place of a
// database.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/iliyamo/business-manager/internal/model"
	"github.com/iliyamo/business-manager/internal/repository"
)

// Users is an in-memory credential store.
type Users struct {
	mu     sync.Mutex
	nextID uint64
	byID   map[uint64]model.User
}

func NewUsers() *Users { return &Users{byID: make(map[uint64]model.User)} }

func (s *Users) Create(_ context.Context, u model.User) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u.Email = repository.NormalizeEmail(u.Email)
	for _, existing := range s.byID {
		if existing.Email == u.Email {
			return 0, repository.ErrEmailExists
		}
	}
	s.nextID++
	u.ID = s.nextID
	now := time.Now().UTC()
	u.CreatedAt, u.UpdatedAt = now, now
	s.byID[u.ID] = u
	return u.ID, nil
}

func (s *Users) FindByEmail(_ context.Context, email string) (model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	email = repository.NormalizeEmail(email)
	for _, u := range s.byID {
		if u.Email == email {
			return u, nil
		}
	}
	return model.User{}, repository.ErrNotFound
}

func (s *Users) FindByID(_ context.Context, id uint64) (model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[id]
	if !ok {
		return model.User{}, repository.ErrNotFound
	}
	return u, nil
}

func (s *Users) FindByResetToken(_ context.Context, hash string) (model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.byID {
		if u.ResetTokenHash != nil && *u.ResetTokenHash == hash {
			return u, nil
		}
	}
	return model.User{}, repository.ErrNotFound
}

func (s *Users) SetResetToken(_ context.Context, id uint64, hash string, exp time.Time) error {
	return s.update(id, func(u *model.User) {
		u.ResetTokenHash = &hash
		u.ResetTokenExpiry = &exp
	})
}

func (s *Users) UpdatePassword(_ context.Context, id uint64, hash string) error {
	return s.update(id, func(u *model.User) {
		u.PasswordHash = hash
		u.ResetTokenHash = nil
		u.ResetTokenExpiry = nil
	})
}

func (s *Users) ConsumeResetToken(_ context.Context, id uint64, tokenHash, passwordHash string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[id]
	if !ok || u.ResetTokenHash == nil || *u.ResetTokenHash != tokenHash ||
		u.ResetTokenExpiry == nil || !now.Before(*u.ResetTokenExpiry) {
		return repository.ErrTokenNotLive
	}
	u.PasswordHash = passwordHash
	u.ResetTokenHash = nil
	u.ResetTokenExpiry = nil
	u.UpdatedAt = now
	s.byID[id] = u
	return nil
}

func (s *Users) UpdateLastLogin(_ context.Context, id uint64, at time.Time) error {
	return s.update(id, func(u *model.User) { u.LastLoginAt = &at })
}

func (s *Users) SetStatus(_ context.Context, id uint64, status model.Status) error {
	return s.update(id, func(u *model.User) { u.Status = status })
}

// Put stores u as-is under its ID, for seeding rows the public methods
// cannot produce.
func (s *Users) Put(u model.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[u.ID] = u
}

func (s *Users) update(id uint64, fn func(*model.User)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[id]
	if !ok {
		return repository.ErrNotFound
	}
	fn(&u)
	u.UpdatedAt = time.Now().UTC()
	s.byID[id] = u
	return nil
}

// Tokens is an in-memory refresh-token store.
type Tokens struct {
	mu     sync.Mutex
	byHash map[string]model.RefreshToken
}

func NewTokens() *Tokens { return &Tokens{byHash: make(map[string]model.RefreshToken)} }

func (s *Tokens) Create(_ context.Context, t model.RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.IsRevoked = false
	t.CreatedAt = time.Now().UTC()
	s.byHash[t.Token] = t
	return nil
}

func (s *Tokens) Get(_ context.Context, hash string) (model.RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.byHash[hash]
	if !ok {
		return model.RefreshToken{}, repository.ErrNotFound
	}
	return t, nil
}

func (s *Tokens) Rotate(_ context.Context, oldHash string, next model.RefreshToken, ip string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.byHash[oldHash]
	if !ok || old.IsRevoked || !now.Before(old.ExpiresAt) {
		return repository.ErrTokenNotLive
	}
	revoke(&old, ip, now)
	old.ReplacedByToken = &next.Token
	s.byHash[oldHash] = old
	next.CreatedAt = now
	s.byHash[next.Token] = next
	return nil
}

func (s *Tokens) Revoke(_ context.Context, hash string, userID uint64, ip string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.byHash[hash]
	if !ok || t.UserID != userID || t.IsRevoked {
		return repository.ErrTokenNotLive
	}
	revoke(&t, ip, now)
	s.byHash[hash] = t
	return nil
}

func (s *Tokens) RevokeAllForUser(_ context.Context, userID uint64, ip string, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for h, t := range s.byHash {
		if t.UserID == userID && !t.IsRevoked {
			revoke(&t, ip, now)
			s.byHash[h] = t
			n++
		}
	}
	return n, nil
}

func (s *Tokens) PurgeExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for h, t := range s.byHash {
		if !now.Before(t.ExpiresAt) {
			delete(s.byHash, h)
			n++
		}
	}
	return n, nil
}

// Live returns the unrevoked, unexpired tokens of a user.
func (s *Tokens) Live(userID uint64, now time.Time) []model.RefreshToken {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.RefreshToken
	for _, t := range s.byHash {
		if t.UserID == userID && !t.IsRevoked && now.Before(t.ExpiresAt) {
			out = append(out, t)
		}
	}
	return out
}

// Put stores t as-is, for seeding expired or revoked rows.
func (s *Tokens) Put(t model.RefreshToken) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byHash[t.Token] = t
}

func revoke(t *model.RefreshToken, ip string, now time.Time) {
	t.IsRevoked = true
	t.RevokedAt = &now
	t.RevokedByIP = &ip
}
