package service

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/business-manager/internal/apperror"
	"github.com/iliyamo/business-manager/internal/metrics"
	"github.com/iliyamo/business-manager/internal/model"
	"github.com/iliyamo/business-manager/internal/queue"
	"github.com/iliyamo/business-manager/internal/repository"
	"github.com/iliyamo/business-manager/internal/utils"
)

const (
	msgBadCredentials = "invalid email or password"
	msgBadRefresh     = "invalid refresh token"
	msgBadReset       = "invalid or expired reset token"
	publishTimeout    = 2 * time.Second
)

// Options tunes token lifetimes and hashing cost.
type Options struct {
	RefreshTTL time.Duration
	ResetTTL   time.Duration
	BcryptCost int
}

// LoginResult is returned by Authenticate.
type LoginResult struct {
	AccessToken     string
	AccessExpiresAt time.Time
	RefreshToken    string
	User            model.PublicUser
}

// TokenPair is returned by RefreshToken.
type TokenPair struct {
	AccessToken     string
	AccessExpiresAt time.Time
	RefreshToken    string
}

// RegisterInput carries the fields of a new account.
type RegisterInput struct {
	Name     string
	Email    string
	Password string
	Role     model.Role
}

// AuthService implements login, refresh-token rotation, logout, password
// reset and change, registration and account status changes.
type AuthService struct {
	users   UserStore
	tokens  TokenStore
	codec   *utils.TokenCodec
	events  queue.Publisher
	metrics *metrics.Auth
	log     *logrus.Entry
	opts    Options
	now     func() time.Time
}

// NewAuthService wires the service. events must not be nil; pass a
// queue.LogPublisher when no broker is configured.
func NewAuthService(users UserStore, tokens TokenStore, codec *utils.TokenCodec, events queue.Publisher,
	m *metrics.Auth, log *logrus.Entry, opts Options) *AuthService {
	return &AuthService{
		users:   users,
		tokens:  tokens,
		codec:   codec,
		events:  events,
		metrics: m,
		log:     log,
		opts:    opts,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Authenticate verifies credentials and issues a new access/refresh pair.
// Unknown email, inactive account and wrong password all yield the same
// Unauthorized error.
func (s *AuthService) Authenticate(ctx context.Context, email, password, ip string) (LoginResult, error) {
	email = repository.NormalizeEmail(email)
	if email == "" || password == "" {
		return LoginResult{}, apperror.Validation("email and password are required", "email", "password")
	}

	u, err := s.users.FindByEmail(ctx, email)
	if errors.Is(err, repository.ErrNotFound) {
		utils.BurnPasswordCheck(password)
		s.loginFailed(ctx, 0, email, ip, "unknown email")
		return LoginResult{}, apperror.Unauthorized(msgBadCredentials)
	}
	if err != nil {
		return LoginResult{}, apperror.Internal("login failed", err)
	}
	if !utils.VerifyPassword(u.PasswordHash, password) {
		s.loginFailed(ctx, u.ID, email, ip, "bad password")
		return LoginResult{}, apperror.Unauthorized(msgBadCredentials)
	}
	if !u.IsActive() {
		s.loginFailed(ctx, u.ID, email, ip, "account "+string(u.Status))
		return LoginResult{}, apperror.Unauthorized(msgBadCredentials)
	}

	access, err := s.codec.Issue(u)
	if err != nil {
		return LoginResult{}, apperror.Internal("login failed", err)
	}
	refresh, err := utils.NewRefreshToken(s.opts.RefreshTTL)
	if err != nil {
		return LoginResult{}, apperror.Internal("login failed", err)
	}
	if err := s.tokens.Create(ctx, model.RefreshToken{
		Token:       refresh.Hash,
		UserID:      u.ID,
		ExpiresAt:   refresh.Exp,
		CreatedByIP: ip,
	}); err != nil {
		return LoginResult{}, apperror.Internal("login failed", err)
	}

	now := s.now()
	if err := s.users.UpdateLastLogin(ctx, u.ID, now); err != nil {
		s.log.WithError(err).WithField("user_id", u.ID).Warn("update last login failed")
	}
	if n, err := s.tokens.PurgeExpired(ctx, now); err != nil {
		s.log.WithError(err).Warn("purge expired refresh tokens failed")
	} else if n > 0 {
		s.metrics.SweptTokensTotal.Add(float64(n))
	}

	s.metrics.LoginsTotal.WithLabelValues(metrics.OutcomeSuccess).Inc()
	s.publish(ctx, queue.NewEvent(queue.EventLoginSucceeded, u.ID, u.Email, ip))

	return LoginResult{
		AccessToken:     access.Token,
		AccessExpiresAt: access.Exp,
		RefreshToken:    refresh.Raw,
		User:            u.Public(),
	}, nil
}

func (s *AuthService) loginFailed(ctx context.Context, userID uint64, email, ip, reason string) {
	s.metrics.LoginsTotal.WithLabelValues(metrics.OutcomeFailure).Inc()
	ev := queue.NewEvent(queue.EventLoginFailed, userID, email, ip)
	ev.Detail = reason
	s.publish(ctx, ev)
}

// RefreshToken rotates raw into a new pair. Presenting a revoked token, or
// losing a concurrent rotation of the same token, revokes every refresh
// token of the owner.
func (s *AuthService) RefreshToken(ctx context.Context, raw, ip string) (TokenPair, error) {
	if raw == "" {
		return TokenPair{}, apperror.Validation("refresh token is required", "refreshToken")
	}
	hash := utils.HashToken(raw)
	now := s.now()

	tok, err := s.tokens.Get(ctx, hash)
	if errors.Is(err, repository.ErrNotFound) {
		s.metrics.RefreshesTotal.WithLabelValues(metrics.OutcomeFailure).Inc()
		return TokenPair{}, apperror.Unauthorized(msgBadRefresh)
	}
	if err != nil {
		return TokenPair{}, apperror.Internal("refresh failed", err)
	}
	if tok.IsRevoked {
		return TokenPair{}, s.reuseDetected(ctx, tok.UserID, ip, "revoked token presented")
	}
	if tok.Expired(now) {
		s.metrics.RefreshesTotal.WithLabelValues(metrics.OutcomeFailure).Inc()
		return TokenPair{}, apperror.Unauthorized("refresh token expired")
	}

	u, err := s.users.FindByID(ctx, tok.UserID)
	if errors.Is(err, repository.ErrNotFound) {
		s.metrics.RefreshesTotal.WithLabelValues(metrics.OutcomeFailure).Inc()
		return TokenPair{}, apperror.Unauthorized(msgBadRefresh)
	}
	if err != nil {
		return TokenPair{}, apperror.Internal("refresh failed", err)
	}
	if !u.IsActive() {
		s.metrics.RefreshesTotal.WithLabelValues(metrics.OutcomeFailure).Inc()
		return TokenPair{}, apperror.Unauthorized("account is not active")
	}

	next, err := utils.NewRefreshToken(s.opts.RefreshTTL)
	if err != nil {
		return TokenPair{}, apperror.Internal("refresh failed", err)
	}
	err = s.tokens.Rotate(ctx, hash, model.RefreshToken{
		Token:       next.Hash,
		UserID:      u.ID,
		ExpiresAt:   next.Exp,
		CreatedByIP: ip,
	}, ip, now)
	if errors.Is(err, repository.ErrTokenNotLive) {
		return TokenPair{}, s.reuseDetected(ctx, u.ID, ip, "concurrent rotation")
	}
	if err != nil {
		return TokenPair{}, apperror.Internal("refresh failed", err)
	}

	access, err := s.codec.Issue(u)
	if err != nil {
		return TokenPair{}, apperror.Internal("refresh failed", err)
	}
	s.metrics.RefreshesTotal.WithLabelValues(metrics.OutcomeSuccess).Inc()
	return TokenPair{AccessToken: access.Token, AccessExpiresAt: access.Exp, RefreshToken: next.Raw}, nil
}

func (s *AuthService) reuseDetected(ctx context.Context, userID uint64, ip, detail string) error {
	n, err := s.tokens.RevokeAllForUser(ctx, userID, ip, s.now())
	if err != nil {
		return apperror.Internal("refresh failed", err)
	}
	s.metrics.RefreshesTotal.WithLabelValues(metrics.OutcomeReuse).Inc()
	s.metrics.TokenReuseTotal.Inc()
	s.metrics.RevokedTokensTotal.Add(float64(n))
	s.log.WithFields(logrus.Fields{"user_id": userID, "ip": ip, "revoked": n}).
		Warn("refresh token reuse detected; all sessions revoked")

	ev := queue.NewEvent(queue.EventTokenReuseDetected, userID, "", ip)
	ev.Detail = detail
	s.publish(ctx, ev)
	return apperror.Unauthorized(msgBadRefresh)
}

// RevokeToken revokes one of userID's refresh tokens (logout). A token owned
// by another user is treated like an unknown one.
func (s *AuthService) RevokeToken(ctx context.Context, userID uint64, raw, ip string) error {
	if raw == "" {
		return apperror.Validation("refresh token is required", "refreshToken")
	}
	err := s.tokens.Revoke(ctx, utils.HashToken(raw), userID, ip, s.now())
	if errors.Is(err, repository.ErrTokenNotLive) {
		return apperror.Unauthorized(msgBadRefresh)
	}
	if err != nil {
		return apperror.Internal("logout failed", err)
	}
	s.metrics.RevokedTokensTotal.Inc()
	return nil
}

// ValidateToken reports whether raw is a valid access token of an active
// user. Any failure reads as false.
func (s *AuthService) ValidateToken(ctx context.Context, raw string) bool {
	claims, err := s.codec.Parse(raw)
	if err != nil {
		return false
	}
	id, err := claims.UserID()
	if err != nil {
		return false
	}
	u, err := s.users.FindByID(ctx, id)
	if err != nil {
		return false
	}
	return u.IsActive()
}

// GenerateResetToken always returns a fresh token so callers cannot tell
// whether email is registered. The token is stored (hashed) only for an
// existing, non-deleted account, and handed to the mailer via an event.
func (s *AuthService) GenerateResetToken(ctx context.Context, email, ip string) (string, error) {
	raw, err := utils.NewResetToken()
	if err != nil {
		return "", apperror.Internal("reset request failed", err)
	}
	s.metrics.PasswordResetsTotal.WithLabelValues("requested").Inc()

	u, err := s.users.FindByEmail(ctx, repository.NormalizeEmail(email))
	if errors.Is(err, repository.ErrNotFound) {
		return raw, nil
	}
	if err != nil {
		return "", apperror.Internal("reset request failed", err)
	}
	if u.Status == model.StatusDeleted {
		return raw, nil
	}
	if err := s.users.SetResetToken(ctx, u.ID, utils.HashToken(raw), s.now().Add(s.opts.ResetTTL)); err != nil {
		return "", apperror.Internal("reset request failed", err)
	}

	ev := queue.NewEvent(queue.EventPasswordResetRequested, u.ID, u.Email, ip)
	ev.ResetToken = raw
	s.publish(ctx, ev)
	return raw, nil
}

// ValidateResetToken reports whether raw names a pending, unexpired reset.
func (s *AuthService) ValidateResetToken(ctx context.Context, raw string) bool {
	_, err := s.userForReset(ctx, raw)
	return err == nil
}

func (s *AuthService) userForReset(ctx context.Context, raw string) (model.User, error) {
	if raw == "" {
		return model.User{}, apperror.Unauthorized(msgBadReset)
	}
	u, err := s.users.FindByResetToken(ctx, utils.HashToken(raw))
	if errors.Is(err, repository.ErrNotFound) {
		return model.User{}, apperror.Unauthorized(msgBadReset)
	}
	if err != nil {
		return model.User{}, apperror.Internal("reset failed", err)
	}
	if u.ResetTokenExpiry == nil || !s.now().Before(*u.ResetTokenExpiry) {
		return model.User{}, apperror.Unauthorized(msgBadReset)
	}
	return u, nil
}

// ResetPassword consumes a reset token, sets the new password and revokes
// every refresh token of the account. The token is cleared by the same
// conditional update that stores the password, so of two concurrent resets
// with one token only the first succeeds.
func (s *AuthService) ResetPassword(ctx context.Context, raw, newPassword, ip string) error {
	if err := validatePassword(newPassword, "password"); err != nil {
		return err
	}
	u, err := s.userForReset(ctx, raw)
	if err != nil {
		return err
	}
	hash, err := utils.HashPassword(newPassword, s.opts.BcryptCost)
	if err != nil {
		return apperror.Internal("password update failed", err)
	}
	err = s.users.ConsumeResetToken(ctx, u.ID, utils.HashToken(raw), hash, s.now())
	if errors.Is(err, repository.ErrTokenNotLive) {
		return apperror.Unauthorized(msgBadReset)
	}
	if err != nil {
		return apperror.Internal("password update failed", err)
	}
	if err := s.revokeSessions(ctx, u.ID, ip); err != nil {
		return err
	}
	s.metrics.PasswordResetsTotal.WithLabelValues("completed").Inc()
	s.publish(ctx, queue.NewEvent(queue.EventPasswordReset, u.ID, u.Email, ip))
	return nil
}

// ChangePassword replaces the password of an authenticated user after
// checking the current one. All sessions are revoked, including the caller's.
func (s *AuthService) ChangePassword(ctx context.Context, userID uint64, current, next, ip string) error {
	u, err := s.users.FindByID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return apperror.Unauthorized("unknown user")
	}
	if err != nil {
		return apperror.Internal("change password failed", err)
	}
	if !utils.VerifyPassword(u.PasswordHash, current) {
		return apperror.Unauthorized("current password is incorrect")
	}
	if err := validatePassword(next, "newPassword"); err != nil {
		return err
	}
	if next == current {
		return apperror.Validation("new password must differ from the current one", "newPassword")
	}
	if err := s.setPassword(ctx, u.ID, next, ip); err != nil {
		return err
	}
	s.publish(ctx, queue.NewEvent(queue.EventPasswordChanged, u.ID, u.Email, ip))
	return nil
}

func (s *AuthService) setPassword(ctx context.Context, userID uint64, plain, ip string) error {
	hash, err := utils.HashPassword(plain, s.opts.BcryptCost)
	if err != nil {
		return apperror.Internal("password update failed", err)
	}
	if err := s.users.UpdatePassword(ctx, userID, hash); err != nil {
		return apperror.Internal("password update failed", err)
	}
	return s.revokeSessions(ctx, userID, ip)
}

func (s *AuthService) revokeSessions(ctx context.Context, userID uint64, ip string) error {
	n, err := s.tokens.RevokeAllForUser(ctx, userID, ip, s.now())
	if err != nil {
		return apperror.Internal("password update failed", err)
	}
	s.metrics.RevokedTokensTotal.Add(float64(n))
	return nil
}

// Register creates an active account. Role defaults to employee.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (model.PublicUser, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = repository.NormalizeEmail(in.Email)
	if in.Role == "" {
		in.Role = model.RoleEmployee
	}

	var bad []string
	if in.Name == "" {
		bad = append(bad, "name")
	}
	if !validEmail(in.Email) {
		bad = append(bad, "email")
	}
	if len(in.Password) < utils.MinPasswordLength {
		bad = append(bad, "password")
	}
	if !in.Role.Valid() {
		bad = append(bad, "role")
	}
	if len(bad) > 0 {
		return model.PublicUser{}, apperror.Validation("invalid registration data", bad...)
	}

	hash, err := utils.HashPassword(in.Password, s.opts.BcryptCost)
	if err != nil {
		return model.PublicUser{}, apperror.Internal("register failed", err)
	}
	u := model.User{
		Name:         in.Name,
		Email:        in.Email,
		PasswordHash: hash,
		Role:         in.Role,
		Status:       model.StatusActive,
	}
	id, err := s.users.Create(ctx, u)
	if errors.Is(err, repository.ErrEmailExists) {
		return model.PublicUser{}, apperror.Conflict("email already registered")
	}
	if err != nil {
		return model.PublicUser{}, apperror.Internal("register failed", err)
	}
	u.ID = id
	return u.Public(), nil
}

// Profile returns the public view of a user.
func (s *AuthService) Profile(ctx context.Context, userID uint64) (model.PublicUser, error) {
	u, err := s.users.FindByID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return model.PublicUser{}, apperror.NotFound("user not found")
	}
	if err != nil {
		return model.PublicUser{}, apperror.Internal("lookup failed", err)
	}
	return u.Public(), nil
}

// SetStatus moves an account between active, inactive and deleted. Leaving
// active revokes every refresh token of the account.
func (s *AuthService) SetStatus(ctx context.Context, userID uint64, status model.Status, ip string) error {
	if !status.Valid() {
		return apperror.Validation("invalid status", "status")
	}
	err := s.users.SetStatus(ctx, userID, status)
	if errors.Is(err, repository.ErrNotFound) {
		return apperror.NotFound("user not found")
	}
	if err != nil {
		return apperror.Internal("status update failed", err)
	}
	if status != model.StatusActive {
		n, err := s.tokens.RevokeAllForUser(ctx, userID, ip, s.now())
		if err != nil {
			return apperror.Internal("status update failed", err)
		}
		s.metrics.RevokedTokensTotal.Add(float64(n))
	}
	ev := queue.NewEvent(queue.EventStatusChanged, userID, "", ip)
	ev.Detail = string(status)
	s.publish(ctx, ev)
	return nil
}

// CheckPermission reports whether role may perform action on resource.
func (s *AuthService) CheckPermission(role model.Role, resource, action string) bool {
	return CheckPermission(role, resource, action)
}

// publish sends ev without letting a slow or absent broker fail the request.
func (s *AuthService) publish(ctx context.Context, ev queue.AuthEvent) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := s.events.Publish(ctx, ev); err != nil {
		s.log.WithError(err).WithField("event", ev.Type).Warn("publish auth event failed")
	}
}

func validatePassword(p, field string) error {
	if len(p) < utils.MinPasswordLength {
		return apperror.Validation("password must be at least 8 characters", field)
	}
	return nil
}

func validEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}
