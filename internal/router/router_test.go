package router

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/iliyamo/business-manager/internal/handler"
	"github.com/iliyamo/business-manager/internal/metrics"
	"github.com/iliyamo/business-manager/internal/middleware"
	"github.com/iliyamo/business-manager/internal/model"
	"github.com/iliyamo/business-manager/internal/queue"
	"github.com/iliyamo/business-manager/internal/service"
	"github.com/iliyamo/business-manager/internal/testutil/memstore"
	"github.com/iliyamo/business-manager/internal/utils"
)

const password = "Secret123!"

// resetCapture keeps the last reset token handed to the mailer.
type resetCapture struct {
	mu    sync.Mutex
	token string
}

func (p *resetCapture) Publish(_ context.Context, ev queue.AuthEvent) error {
	if ev.Type == queue.EventPasswordResetRequested {
		p.mu.Lock()
		p.token = ev.ResetToken
		p.mu.Unlock()
	}
	return nil
}

func (p *resetCapture) last() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.token
}

type testServer struct {
	e      *echo.Echo
	users  *memstore.Users
	tokens *memstore.Tokens
	resets *resetCapture
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	l := logrus.New()
	l.SetOutput(&bytes.Buffer{})
	log := logrus.NewEntry(l)

	ts := &testServer{users: memstore.NewUsers(), tokens: memstore.NewTokens(), resets: &resetCapture{}}
	m := metrics.New(nil)
	codec := utils.NewTokenCodec("router-test-secret", 15*time.Minute)
	svc := service.NewAuthService(ts.users, ts.tokens, codec, ts.resets, m, log, service.Options{
		RefreshTTL: 24 * time.Hour,
		ResetTTL:   24 * time.Hour,
		BcryptCost: bcrypt.MinCost,
	})

	e := echo.New()
	e.HTTPErrorHandler = handler.ErrorHandler(log)
	d := Deps{
		Auth:  handler.NewAuthHandler(svc, log),
		Users: handler.NewUserHandler(svc),
		Health: &handler.HealthHandler{Required: map[string]handler.Check{
			"db": func(context.Context) error { return nil },
		}},
		Codec:    codec,
		Strategy: middleware.StrategyFor(true, ts.users),
		Metrics:  m.Handler(),
	}
	RegisterRoutes(e, d)
	RegisterAuth(e, d)
	RegisterUsers(e, d)
	ts.e = e
	return ts
}

func (ts *testServer) seed(t *testing.T, email string, role model.Role) uint64 {
	t.Helper()
	hash, err := utils.HashPassword(password, bcrypt.MinCost)
	require.NoError(t, err)
	id, err := ts.users.Create(context.Background(), model.User{
		Name: strings.Split(email, "@")[0], Email: email, PasswordHash: hash, Role: role, Status: model.StatusActive,
	})
	require.NoError(t, err)
	return id
}

type response struct {
	Code int
	Body map[string]any
}

func (ts *testServer) do(t *testing.T, method, path string, body any, bearer string) response {
	t.Helper()
	var rdr *bytes.Reader
	switch b := body.(type) {
	case nil:
		rdr = bytes.NewReader(nil)
	case string:
		rdr = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		rdr = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if bearer != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	ts.e.ServeHTTP(rec, req)

	out := response{Code: rec.Code, Body: map[string]any{}}
	if strings.HasPrefix(rec.Header().Get(echo.HeaderContentType), echo.MIMEApplicationJSON) {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out.Body), rec.Body.String())
	}
	return out
}

func (ts *testServer) login(t *testing.T, email string) (access, refresh string) {
	t.Helper()
	res := ts.do(t, http.MethodPost, "/login", map[string]string{"email": email, "password": password}, "")
	require.Equal(t, http.StatusOK, res.Code, res.Body)
	return res.Body["accessToken"].(string), res.Body["refreshToken"].(string)
}

func TestLoginRefreshReuseScenario(t *testing.T) {
	ts := newTestServer(t)
	ts.seed(t, "a@b.com", model.RoleEmployee)

	res := ts.do(t, http.MethodPost, "/login", map[string]string{"email": "a@b.com", "password": password}, "")
	require.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, true, res.Body["success"])
	user := res.Body["user"].(map[string]any)
	assert.Equal(t, "employee", user["role"])
	assert.NotContains(t, user, "passwordHash")
	original := res.Body["refreshToken"].(string)

	_, secondSession := ts.login(t, "a@b.com")

	res = ts.do(t, http.MethodPost, "/auth/refresh-token", map[string]string{"refreshToken": original}, "")
	require.Equal(t, http.StatusOK, res.Code)
	rotated := res.Body["refreshToken"].(string)
	assert.NotEqual(t, original, rotated)
	assert.NotEmpty(t, res.Body["accessToken"])

	res = ts.do(t, http.MethodPost, "/auth/refresh-token", map[string]string{"refreshToken": original}, "")
	assert.Equal(t, http.StatusUnauthorized, res.Code)
	assert.Equal(t, false, res.Body["success"])
	assert.Equal(t, "Unauthorized", res.Body["error"])
	assert.NotEmpty(t, res.Body["message"])

	// reuse revoked every session of the user
	res = ts.do(t, http.MethodPost, "/auth/refresh-token", map[string]string{"refreshToken": rotated}, "")
	assert.Equal(t, http.StatusUnauthorized, res.Code)
	res = ts.do(t, http.MethodPost, "/auth/refresh-token", map[string]string{"refreshToken": secondSession}, "")
	assert.Equal(t, http.StatusUnauthorized, res.Code)
}

func TestLogin_Failures(t *testing.T) {
	ts := newTestServer(t)
	ts.seed(t, "a@b.com", model.RoleEmployee)

	res := ts.do(t, http.MethodPost, "/login", map[string]string{"email": "a@b.com", "password": "nope-nope"}, "")
	assert.Equal(t, http.StatusUnauthorized, res.Code)

	res = ts.do(t, http.MethodPost, "/login", `{"email":`, "")
	assert.Equal(t, http.StatusBadRequest, res.Code)
	assert.Equal(t, "ValidationError", res.Body["error"])

	res = ts.do(t, http.MethodPost, "/login", map[string]string{}, "")
	assert.Equal(t, http.StatusBadRequest, res.Code)
	assert.ElementsMatch(t, []any{"email", "password"}, res.Body["fields"])
}

func TestAuthorization(t *testing.T) {
	ts := newTestServer(t)
	ts.seed(t, "admin@b.com", model.RoleAdmin)
	ts.seed(t, "manager@b.com", model.RoleManager)
	empID := ts.seed(t, "emp@b.com", model.RoleEmployee)
	otherID := ts.seed(t, "other@b.com", model.RoleEmployee)

	adminTok, _ := ts.login(t, "admin@b.com")
	managerTok, _ := ts.login(t, "manager@b.com")
	empTok, _ := ts.login(t, "emp@b.com")

	newUser := map[string]string{"name": "New", "email": "new@b.com", "password": password}

	res := ts.do(t, http.MethodPost, "/auth/register", newUser, managerTok)
	assert.Equal(t, http.StatusForbidden, res.Code)
	assert.Equal(t, "Forbidden", res.Body["error"])

	res = ts.do(t, http.MethodPost, "/auth/register", newUser, "")
	assert.Equal(t, http.StatusUnauthorized, res.Code)

	res = ts.do(t, http.MethodPost, "/auth/register", newUser, adminTok)
	require.Equal(t, http.StatusCreated, res.Code)
	assert.Equal(t, "employee", res.Body["user"].(map[string]any)["role"])

	res = ts.do(t, http.MethodPost, "/auth/register", newUser, adminTok)
	assert.Equal(t, http.StatusConflict, res.Code)

	otherPath := "/users/" + strconv.FormatUint(otherID, 10)
	res = ts.do(t, http.MethodGet, otherPath, nil, adminTok)
	assert.Equal(t, http.StatusOK, res.Code)
	res = ts.do(t, http.MethodGet, otherPath, nil, empTok)
	assert.Equal(t, http.StatusForbidden, res.Code)
	res = ts.do(t, http.MethodGet, "/users/"+strconv.FormatUint(empID, 10), nil, empTok)
	assert.Equal(t, http.StatusOK, res.Code)
	res = ts.do(t, http.MethodGet, "/users/abc", nil, empTok)
	assert.Equal(t, http.StatusBadRequest, res.Code)
	res = ts.do(t, http.MethodGet, "/users/9999", nil, adminTok)
	assert.Equal(t, http.StatusNotFound, res.Code)
}

func TestSetStatus_RevokesAccess(t *testing.T) {
	ts := newTestServer(t)
	adminID := ts.seed(t, "admin@b.com", model.RoleAdmin)
	empID := ts.seed(t, "emp@b.com", model.RoleEmployee)
	adminTok, _ := ts.login(t, "admin@b.com")
	empTok, empRefresh := ts.login(t, "emp@b.com")

	path := "/users/" + strconv.FormatUint(empID, 10) + "/status"
	res := ts.do(t, http.MethodPatch, path, map[string]string{"status": "inactive"}, empTok)
	assert.Equal(t, http.StatusForbidden, res.Code)

	res = ts.do(t, http.MethodPatch, path, map[string]string{"status": "frozen"}, adminTok)
	assert.Equal(t, http.StatusBadRequest, res.Code)

	res = ts.do(t, http.MethodPatch, "/users/"+strconv.FormatUint(adminID, 10)+"/status",
		map[string]string{"status": "inactive"}, adminTok)
	assert.Equal(t, http.StatusForbidden, res.Code)

	res = ts.do(t, http.MethodPatch, path, map[string]string{"status": "inactive"}, adminTok)
	require.Equal(t, http.StatusOK, res.Code)

	res = ts.do(t, http.MethodGet, "/auth/me", nil, empTok)
	assert.Equal(t, http.StatusUnauthorized, res.Code)
	res = ts.do(t, http.MethodPost, "/auth/refresh-token", map[string]string{"refreshToken": empRefresh}, "")
	assert.Equal(t, http.StatusUnauthorized, res.Code)
}

func TestPasswordResetFlow(t *testing.T) {
	ts := newTestServer(t)
	ts.seed(t, "a@b.com", model.RoleEmployee)
	_, refresh := ts.login(t, "a@b.com")

	unknown := ts.do(t, http.MethodPost, "/auth/forgot-password", map[string]string{"email": "ghost@b.com"}, "")
	require.Equal(t, http.StatusOK, unknown.Code)
	assert.Empty(t, ts.resets.last())

	known := ts.do(t, http.MethodPost, "/auth/forgot-password", map[string]string{"email": "a@b.com"}, "")
	require.Equal(t, http.StatusOK, known.Code)
	assert.Equal(t, unknown.Body, known.Body)

	token := ts.resets.last()
	require.Regexp(t, "^[0-9a-f]{64}$", token)

	res := ts.do(t, http.MethodGet, "/auth/reset-token/"+token, nil, "")
	assert.Equal(t, true, res.Body["valid"])
	res = ts.do(t, http.MethodGet, "/auth/reset-token/"+strings.Repeat("0", 64), nil, "")
	assert.Equal(t, false, res.Body["valid"])

	res = ts.do(t, http.MethodPost, "/auth/reset-password/"+token,
		map[string]string{"password": "BrandNew456!", "confirmPassword": "Different456!"}, "")
	assert.Equal(t, http.StatusBadRequest, res.Code)

	res = ts.do(t, http.MethodPost, "/auth/reset-password/"+token,
		map[string]string{"password": "BrandNew456!", "confirmPassword": "BrandNew456!"}, "")
	require.Equal(t, http.StatusOK, res.Code)

	res = ts.do(t, http.MethodPost, "/auth/refresh-token", map[string]string{"refreshToken": refresh}, "")
	assert.Equal(t, http.StatusUnauthorized, res.Code)

	res = ts.do(t, http.MethodPost, "/auth/reset-password/"+token,
		map[string]string{"password": "Another789!", "confirmPassword": "Another789!"}, "")
	assert.Equal(t, http.StatusUnauthorized, res.Code)

	res = ts.do(t, http.MethodPost, "/login", map[string]string{"email": "a@b.com", "password": "BrandNew456!"}, "")
	assert.Equal(t, http.StatusOK, res.Code)
}

func TestMeChangePasswordLogout(t *testing.T) {
	ts := newTestServer(t)
	ts.seed(t, "a@b.com", model.RoleManager)
	access, refresh := ts.login(t, "a@b.com")

	res := ts.do(t, http.MethodGet, "/auth/me", nil, access)
	require.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, "a@b.com", res.Body["user"].(map[string]any)["email"])

	res = ts.do(t, http.MethodPost, "/auth/logout", map[string]string{"refreshToken": refresh}, access)
	assert.Equal(t, http.StatusOK, res.Code)
	res = ts.do(t, http.MethodPost, "/auth/logout", map[string]string{"refreshToken": refresh}, access)
	assert.Equal(t, http.StatusUnauthorized, res.Code)

	_, refresh = ts.login(t, "a@b.com")
	res = ts.do(t, http.MethodPost, "/auth/change-password",
		map[string]string{"currentPassword": "wrong-one", "newPassword": "BrandNew456!"}, access)
	assert.Equal(t, http.StatusUnauthorized, res.Code)
	res = ts.do(t, http.MethodPost, "/auth/change-password",
		map[string]string{"currentPassword": password, "newPassword": "BrandNew456!"}, access)
	require.Equal(t, http.StatusOK, res.Code)

	res = ts.do(t, http.MethodPost, "/auth/refresh-token", map[string]string{"refreshToken": refresh}, "")
	assert.Equal(t, http.StatusUnauthorized, res.Code)
}

func TestLogout_OnlyOwnToken(t *testing.T) {
	ts := newTestServer(t)
	ts.seed(t, "a@b.com", model.RoleEmployee)
	ts.seed(t, "c@d.com", model.RoleEmployee)
	_, victimRefresh := ts.login(t, "a@b.com")
	otherAccess, _ := ts.login(t, "c@d.com")

	res := ts.do(t, http.MethodPost, "/auth/logout", map[string]string{"refreshToken": victimRefresh}, otherAccess)
	assert.Equal(t, http.StatusUnauthorized, res.Code)

	res = ts.do(t, http.MethodPost, "/auth/refresh-token", map[string]string{"refreshToken": victimRefresh}, "")
	assert.Equal(t, http.StatusOK, res.Code)
}

func TestPermissionsCheck(t *testing.T) {
	ts := newTestServer(t)
	ts.seed(t, "emp@b.com", model.RoleEmployee)
	tok, _ := ts.login(t, "emp@b.com")

	res := ts.do(t, http.MethodPost, "/permissions/check", map[string]string{"resource": "appointments", "action": "create"}, tok)
	require.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, true, res.Body["allowed"])

	res = ts.do(t, http.MethodPost, "/permissions/check", map[string]string{"resource": "users", "action": "delete"}, tok)
	assert.Equal(t, false, res.Body["allowed"])

	res = ts.do(t, http.MethodPost, "/permissions/check", map[string]string{"resource": ""}, tok)
	assert.Equal(t, http.StatusBadRequest, res.Code)

	res = ts.do(t, http.MethodPost, "/permissions/check", map[string]string{"resource": "users", "action": "read"}, "")
	assert.Equal(t, http.StatusUnauthorized, res.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t)
	ts.seed(t, "a@b.com", model.RoleEmployee)
	ts.login(t, "a@b.com")

	res := ts.do(t, http.MethodGet, "/healthz", nil, "")
	assert.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, "ok", res.Body["dependencies"].(map[string]any)["db"])

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	ts.e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "bm_auth_logins_total")

	res = ts.do(t, http.MethodGet, "/nope", nil, "")
	assert.Equal(t, http.StatusNotFound, res.Code)
	assert.Equal(t, "NotFound", res.Body["error"])
}

func TestHealth_RequiredFailure(t *testing.T) {
	h := &handler.HealthHandler{
		Required: map[string]handler.Check{"db": func(context.Context) error { return errors.New("down") }},
		Optional: map[string]handler.Check{"redis": func(context.Context) error { return errors.New("refused") }},
	}
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/healthz", nil), rec)
	require.NoError(t, h.Health(c))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "degraded: refused")
}
