package domain

import (
	"slices"
	"strings"
)

// Role is the closed set of actor roles known to the authorization gate.
type Role string

// Canonical roles.
const (
	RoleAdmin          Role = "admin"
	RoleProgramManager Role = "program_manager"
	RoleRDManager      Role = "rd_manager"
	RoleManager        Role = "manager"
	RoleEmployee       Role = "employee"
)

var validRoles = []Role{
	RoleAdmin,
	RoleProgramManager,
	RoleRDManager,
	RoleManager,
	RoleEmployee,
}

// ParseRole maps an external role string onto the closed enum. Unknown input
// fails closed instead of defaulting to a permissive role.
func ParseRole(raw string) (Role, error) {
	normalized := strings.TrimSpace(strings.ToLower(raw))
	normalized = strings.ReplaceAll(normalized, "-", "_")
	normalized = strings.ReplaceAll(normalized, " ", "_")
	switch normalized {
	case "admin", "administrator":
		return RoleAdmin, nil
	case "program_manager", "pm":
		return RoleProgramManager, nil
	case "rd_manager", "r&d_manager", "rdmanager":
		return RoleRDManager, nil
	case "manager":
		return RoleManager, nil
	case "employee":
		return RoleEmployee, nil
	default:
		return "", ErrInvalidRole
	}
}

// IsValidRole reports whether the role is a canonical enum value.
func IsValidRole(role Role) bool {
	return slices.Contains(validRoles, role)
}

// Capability identifies one operation class gated by role and ownership.
type Capability string

// Capability values.
const (
	CapabilityEditWorkItem    Capability = "edit_work_item"
	CapabilityEditProgress    Capability = "edit_progress"
	CapabilityManageUsers     Capability = "manage_users"
	CapabilityManageCapacity  Capability = "manage_capacity"
	CapabilityDeleteWorkItem  Capability = "delete_work_item"
	CapabilityAssignEmployees Capability = "assign_employees"
)

// RoleAllows is the authorization gate: a pure function of role, resource
// ownership, and requested capability. It holds no state and performs no I/O.
func RoleAllows(role Role, ownsResource bool, capability Capability) bool {
	if !IsValidRole(role) {
		return false
	}
	switch capability {
	case CapabilityManageUsers:
		return role == RoleAdmin
	case CapabilityEditProgress, CapabilityManageCapacity:
		return role == RoleAdmin || role == RoleProgramManager
	case CapabilityDeleteWorkItem:
		return role == RoleAdmin || (role == RoleProgramManager && ownsResource)
	case CapabilityAssignEmployees:
		switch role {
		case RoleAdmin, RoleProgramManager, RoleRDManager, RoleManager:
			return true
		}
		return false
	case CapabilityEditWorkItem:
		switch role {
		case RoleAdmin, RoleProgramManager, RoleRDManager, RoleManager:
			return true
		}
		return ownsResource
	default:
		return false
	}
}
