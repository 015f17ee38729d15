package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/business-manager/internal/apperror"
	"github.com/iliyamo/business-manager/internal/middleware"
	"github.com/iliyamo/business-manager/internal/model"
	"github.com/iliyamo/business-manager/internal/service"
)

const requestTimeout = 5 * time.Second

const forgotPasswordMessage = "if the email is registered, a password reset link has been sent"

// AuthHandler bundles dependencies for auth endpoints.
type AuthHandler struct {
	Svc *service.AuthService
	Log *logrus.Entry
}

func NewAuthHandler(svc *service.AuthService, log *logrus.Entry) *AuthHandler {
	return &AuthHandler{Svc: svc, Log: log}
}

// ----- DTOs -----

type loginReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshReq struct {
	RefreshToken string `json:"refreshToken"`
}

type forgotReq struct {
	Email string `json:"email"`
}

type resetReq struct {
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
}

type changePasswordReq struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

type registerReq struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type loginResp struct {
	Success      bool             `json:"success"`
	AccessToken  string           `json:"accessToken"`
	ExpiresAt    time.Time        `json:"expiresAt"`
	RefreshToken string           `json:"refreshToken"`
	User         model.PublicUser `json:"user"`
}

type refreshResp struct {
	Success      bool      `json:"success"`
	AccessToken  string    `json:"accessToken"`
	ExpiresAt    time.Time `json:"expiresAt"`
	RefreshToken string    `json:"refreshToken"`
}

type userResp struct {
	Success bool             `json:"success"`
	User    model.PublicUser `json:"user"`
}

type messageResp struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func bind(c echo.Context, dst any) error {
	if err := c.Bind(dst); err != nil {
		return apperror.Validation("invalid request body")
	}
	return nil
}

func requestContext(c echo.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request().Context(), requestTimeout)
}

func identity(c echo.Context) (middleware.Identity, error) {
	id, ok := middleware.IdentityFrom(c)
	if !ok {
		return middleware.Identity{}, apperror.Unauthorized("authentication required")
	}
	return id, nil
}

// Login: verify credentials and return a new token pair.
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginReq
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	res, err := h.Svc.Authenticate(ctx, req.Email, req.Password, c.RealIP())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, loginResp{
		Success:      true,
		AccessToken:  res.AccessToken,
		ExpiresAt:    res.AccessExpiresAt,
		RefreshToken: res.RefreshToken,
		User:         res.User,
	})
}

// Refresh: rotate the refresh token and issue a new access token.
func (h *AuthHandler) Refresh(c echo.Context) error {
	var req refreshReq
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	pair, err := h.Svc.RefreshToken(ctx, strings.TrimSpace(req.RefreshToken), c.RealIP())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, refreshResp{
		Success:      true,
		AccessToken:  pair.AccessToken,
		ExpiresAt:    pair.AccessExpiresAt,
		RefreshToken: pair.RefreshToken,
	})
}

// ForgotPassword always answers 200 with the same message so the response
// does not reveal whether the email is registered.
func (h *AuthHandler) ForgotPassword(c echo.Context) error {
	var req forgotReq
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	if _, err := h.Svc.GenerateResetToken(ctx, req.Email, c.RealIP()); err != nil {
		h.Log.WithError(err).Error("forgot password")
	}
	return c.JSON(http.StatusOK, messageResp{Success: true, Message: forgotPasswordMessage})
}

// ValidateResetToken reports whether the token in the path can still be used.
func (h *AuthHandler) ValidateResetToken(c echo.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	valid := h.Svc.ValidateResetToken(ctx, c.Param("token"))
	return c.JSON(http.StatusOK, echo.Map{"success": true, "valid": valid})
}

// ResetPassword consumes the reset token in the path.
func (h *AuthHandler) ResetPassword(c echo.Context) error {
	var req resetReq
	if err := bind(c, &req); err != nil {
		return err
	}
	if req.Password != req.ConfirmPassword {
		return apperror.Validation("passwords do not match", "confirmPassword")
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	if err := h.Svc.ResetPassword(ctx, c.Param("token"), req.Password, c.RealIP()); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, messageResp{Success: true, Message: "password has been reset"})
}

// Logout revokes the caller's refresh token given in the body.
func (h *AuthHandler) Logout(c echo.Context) error {
	id, err := identity(c)
	if err != nil {
		return err
	}
	var req refreshReq
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	if err := h.Svc.RevokeToken(ctx, id.ID, strings.TrimSpace(req.RefreshToken), c.RealIP()); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, messageResp{Success: true, Message: "logged out"})
}

// Me returns the authenticated user.
func (h *AuthHandler) Me(c echo.Context) error {
	id, err := identity(c)
	if err != nil {
		return err
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	u, err := h.Svc.Profile(ctx, id.ID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, userResp{Success: true, User: u})
}

// ChangePassword updates the caller's password and ends all their sessions.
func (h *AuthHandler) ChangePassword(c echo.Context) error {
	id, err := identity(c)
	if err != nil {
		return err
	}
	var req changePasswordReq
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	if err := h.Svc.ChangePassword(ctx, id.ID, req.CurrentPassword, req.NewPassword, c.RealIP()); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, messageResp{Success: true, Message: "password changed; please sign in again"})
}

// Register creates an account. Admin only.
func (h *AuthHandler) Register(c echo.Context) error {
	var req registerReq
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	u, err := h.Svc.Register(ctx, service.RegisterInput{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
		Role:     model.Role(strings.ToLower(strings.TrimSpace(req.Role))),
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, userResp{Success: true, User: u})
}
