package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/business-manager/internal/apperror"
	"github.com/iliyamo/business-manager/internal/model"
	"github.com/iliyamo/business-manager/internal/repository"
	"github.com/iliyamo/business-manager/internal/utils"
)

type stubUsers map[uint64]model.User

func (s stubUsers) FindByID(_ context.Context, id uint64) (model.User, error) {
	u, ok := s[id]
	if !ok {
		return model.User{}, repository.ErrNotFound
	}
	return u, nil
}

func newContext(header string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set(echo.HeaderAuthorization, header)
	}
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func okHandler(c echo.Context) error { return c.NoContent(http.StatusOK) }

func TestAuthenticate_RejectsBadHeaders(t *testing.T) {
	codec := utils.NewTokenCodec("test-secret", time.Minute)
	other, err := utils.NewTokenCodec("other", time.Minute).Issue(model.User{ID: 1, Role: model.RoleAdmin})
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
	}{
		{"missing", ""},
		{"no scheme", "abc.def.ghi"},
		{"basic scheme", "Basic dXNlcjpwYXNz"},
		{"empty bearer", "Bearer "},
		{"garbage token", "Bearer not-a-jwt"},
		{"foreign signature", "Bearer " + other.Token},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c, _ := newContext(tt.header)
			err := Authenticate(codec, TrustClaimsStrategy{})(okHandler)(c)
			assert.True(t, apperror.Is(err, apperror.KindUnauthorized), "got %v", err)
			_, ok := IdentityFrom(c)
			assert.False(t, ok)
		})
	}
}

func TestAuthenticate_TrustClaims(t *testing.T) {
	codec := utils.NewTokenCodec("test-secret", time.Minute)
	tok, err := codec.Issue(model.User{ID: 7, Name: "Ada", Email: "ada@example.com", Role: model.RoleManager})
	require.NoError(t, err)

	c, rec := newContext("bearer " + tok.Token)
	require.NoError(t, Authenticate(codec, TrustClaimsStrategy{})(okHandler)(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	id, ok := IdentityFrom(c)
	require.True(t, ok)
	assert.Equal(t, Identity{ID: 7, Name: "Ada", Email: "ada@example.com", Role: model.RoleManager}, id)
}

func TestAuthenticate_Revalidate(t *testing.T) {
	codec := utils.NewTokenCodec("test-secret", time.Minute)
	users := stubUsers{
		1: {ID: 1, Name: "Now Admin", Role: model.RoleAdmin, Status: model.StatusActive},
		2: {ID: 2, Role: model.RoleEmployee, Status: model.StatusInactive},
	}
	strategy := StrategyFor(true, users)
	require.IsType(t, RevalidateStrategy{}, strategy)

	issue := func(u model.User) string {
		tok, err := codec.Issue(u)
		require.NoError(t, err)
		return "Bearer " + tok.Token
	}

	// role comes from the store, not the stale claim
	c, _ := newContext(issue(model.User{ID: 1, Role: model.RoleEmployee}))
	require.NoError(t, Authenticate(codec, strategy)(okHandler)(c))
	id, _ := IdentityFrom(c)
	assert.Equal(t, model.RoleAdmin, id.Role)
	assert.Equal(t, "Now Admin", id.Name)

	c, _ = newContext(issue(model.User{ID: 2, Role: model.RoleEmployee}))
	assert.True(t, apperror.Is(Authenticate(codec, strategy)(okHandler)(c), apperror.KindUnauthorized))

	c, _ = newContext(issue(model.User{ID: 3, Role: model.RoleEmployee}))
	assert.True(t, apperror.Is(Authenticate(codec, strategy)(okHandler)(c), apperror.KindUnauthorized))

	assert.IsType(t, TrustClaimsStrategy{}, StrategyFor(false, users))
}
