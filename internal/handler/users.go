package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/business-manager/internal/apperror"
	"github.com/iliyamo/business-manager/internal/model"
	"github.com/iliyamo/business-manager/internal/service"
)

// UserHandler serves account lookups, status changes and permission checks.
type UserHandler struct {
	Svc *service.AuthService
}

func NewUserHandler(svc *service.AuthService) *UserHandler { return &UserHandler{Svc: svc} }

type statusReq struct {
	Status string `json:"status"`
}

type permissionReq struct {
	Resource string `json:"resource"`
	Action   string `json:"action"`
}

func pathID(c echo.Context) (uint64, error) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return 0, apperror.Validation("invalid id", "id")
	}
	return id, nil
}

// Get returns one user. Guarded by RequireSelfOrAdmin.
func (h *UserHandler) Get(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	u, err := h.Svc.Profile(ctx, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, userResp{Success: true, User: u})
}

// SetStatus changes the account status. Admin only; an admin cannot
// deactivate their own account.
func (h *UserHandler) SetStatus(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	caller, err := identity(c)
	if err != nil {
		return err
	}
	var req statusReq
	if err := bind(c, &req); err != nil {
		return err
	}
	status := model.Status(strings.ToLower(strings.TrimSpace(req.Status)))
	if caller.ID == id && status != model.StatusActive {
		return apperror.Forbidden("cannot deactivate your own account")
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	if err := h.Svc.SetStatus(ctx, id, status, c.RealIP()); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "id": id, "status": status})
}

// CheckPermission answers whether the caller's role allows an action on a
// resource.
func (h *UserHandler) CheckPermission(c echo.Context) error {
	caller, err := identity(c)
	if err != nil {
		return err
	}
	var req permissionReq
	if err := bind(c, &req); err != nil {
		return err
	}
	resource := strings.ToLower(strings.TrimSpace(req.Resource))
	action := strings.ToLower(strings.TrimSpace(req.Action))
	var bad []string
	if resource == "" {
		bad = append(bad, "resource")
	}
	if action == "" {
		bad = append(bad, "action")
	}
	if len(bad) > 0 {
		return apperror.Validation("resource and action are required", bad...)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"success":  true,
		"allowed":  h.Svc.CheckPermission(caller.Role, resource, action),
		"role":     caller.Role,
		"resource": resource,
		"action":   action,
	})
}
