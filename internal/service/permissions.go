package service

import "github.com/iliyamo/business-manager/internal/model"

// Actions understood by CheckPermission.
const (
	ActionRead   = "read"
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionDelete = "delete"
)

const allActions = "*"

// rolePermissions maps role -> resource -> allowed actions. Admins are
// handled separately and may do anything.
var rolePermissions = map[model.Role]map[string][]string{
	model.RoleManager: {
		"customers":     {allActions},
		"projects":      {allActions},
		"appointments":  {allActions},
		"services":      {allActions},
		"contacts":      {allActions},
		"notifications": {ActionRead, ActionCreate, ActionUpdate},
		"users":         {ActionRead},
	},
	model.RoleEmployee: {
		"customers":     {ActionRead},
		"projects":      {ActionRead, ActionUpdate},
		"appointments":  {ActionRead, ActionCreate, ActionUpdate},
		"services":      {ActionRead},
		"contacts":      {ActionRead, ActionUpdate},
		"notifications": {ActionRead},
	},
}

// CheckPermission reports whether role may perform action on resource.
// Unknown roles, resources and actions are denied.
func CheckPermission(role model.Role, resource, action string) bool {
	switch action {
	case ActionRead, ActionCreate, ActionUpdate, ActionDelete:
	default:
		return false
	}
	if role == model.RoleAdmin {
		return resource != ""
	}
	for _, a := range rolePermissions[role][resource] {
		if a == allActions || a == action {
			return true
		}
	}
	return false
}
