package utils // package utils provides helpers for token creation and hashing

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/iliyamo/business-manager/internal/model"
)

// ErrInvalidToken is returned by TokenCodec.Parse for any token that fails
// signature, algorithm, expiry or claim-shape checks.
var ErrInvalidToken = errors.New("invalid token")

// AccessToken represents a signed JWT access token along with its expiry.
type AccessToken struct {
	Token string    // the serialized JWT string
	Exp   time.Time // the UTC expiration time
}

// RefreshToken represents a long-lived opaque token used to obtain new access
// tokens. Only Hash is persisted; Raw goes back to the client once.
type RefreshToken struct {
	Raw  string    // raw token string returned to the client
	Hash string    // SHA-256 hex of Raw, stored server side
	Exp  time.Time // UTC expiration time
}

// Claims is the payload of an access token. The subject carries the user id
// as a decimal string.
type Claims struct {
	Name  string     `json:"name"`
	Email string     `json:"email"`
	Role  model.Role `json:"role"`
	jwt.RegisteredClaims
}

// UserID parses the subject claim.
func (c *Claims) UserID() (uint64, error) {
	return strconv.ParseUint(c.Subject, 10, 64)
}

// TokenCodec signs and verifies access tokens with a shared HS256 secret.
type TokenCodec struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenCodec returns a codec issuing tokens valid for ttl.
func NewTokenCodec(secret string, ttl time.Duration) *TokenCodec {
	return &TokenCodec{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// TTL is the lifetime of issued access tokens.
func (c *TokenCodec) TTL() time.Duration { return c.ttl }

// Issue builds and signs an access token for u.
func (c *TokenCodec) Issue(u model.User) (AccessToken, error) {
	now := c.now().UTC()
	exp := now.Add(c.ttl)
	claims := Claims{
		Name:  u.Name,
		Email: u.Email,
		Role:  u.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(u.ID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return AccessToken{}, err
	}
	return AccessToken{Token: signed, Exp: exp}, nil
}

// Parse verifies signature and expiry of raw and returns its claims. Only
// HS256 tokens are accepted.
func (c *TokenCodec) Parse(raw string) (*Claims, error) {
	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return c.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(c.now), jwt.WithExpirationRequired())
	if err != nil || !tok.Valid {
		return nil, ErrInvalidToken
	}
	if _, err := claims.UserID(); err != nil {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// NewRefreshToken returns a cryptographically secure random token and its
// expiration time.
func NewRefreshToken(ttl time.Duration) (RefreshToken, error) {
	raw, err := randomHex(48) // 48 bytes -> 96 hex chars
	if err != nil {
		return RefreshToken{}, err
	}
	return RefreshToken{
		Raw:  raw,
		Hash: HashToken(raw),
		Exp:  time.Now().UTC().Add(ttl),
	}, nil
}

// NewResetToken returns a random 64 character hex password reset token.
func NewResetToken() (string, error) {
	return randomHex(32)
}

// HashToken returns the SHA-256 hash of an opaque token as a hex string.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
