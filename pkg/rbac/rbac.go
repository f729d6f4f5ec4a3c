// Package rbac decides what an identity may do inside a group.
package rbac

import (
	"errors"
	"fmt"

	"github.com/udpchat/udpchat/pkg/model"
)

// ErrPermissionDenied is returned by Require.
var ErrPermissionDenied = errors.New("rbac: permission denied")

// Role is an identity's standing in one group.
type Role int

const (
	RoleNone Role = iota
	RoleMember
	RoleOwner
)

// Permission is a group action.
type Permission int

const (
	PermPost Permission = iota
	PermReadHistory
	PermTyping
	PermManage
)

// permissionMatrix maps roles to their allowed permissions.
var permissionMatrix = map[Role]map[Permission]bool{
	RoleOwner: {
		PermPost:        true,
		PermReadHistory: true,
		PermTyping:      true,
		PermManage:      true,
	},
	RoleMember: {
		PermPost:        true,
		PermReadHistory: true,
		PermTyping:      true,
	},
	RoleNone: {
		// Outsiders see nothing.
	},
}

// RoleIn returns identity's role in g. A nil group yields RoleNone.
func RoleIn(g *model.Group, identity string) Role {
	switch {
	case g == nil:
		return RoleNone
	case g.Owner == identity:
		return RoleOwner
	case g.HasMember(identity):
		return RoleMember
	default:
		return RoleNone
	}
}

// HasPermission checks if a role has a specific permission.
func HasPermission(role Role, perm Permission) bool {
	perms, ok := permissionMatrix[role]
	if !ok {
		return false
	}
	return perms[perm]
}

// Require returns ErrPermissionDenied unless identity may perform perm on g.
func Require(g *model.Group, identity string, perm Permission) error {
	role := RoleIn(g, identity)
	if HasPermission(role, perm) {
		return nil
	}
	return fmt.Errorf("%w: %s requires %s", ErrPermissionDenied, perm, requiredRole(perm))
}

func requiredRole(p Permission) Role {
	if p == PermManage {
		return RoleOwner
	}
	return RoleMember
}

func (r Role) String() string {
	switch r {
	case RoleOwner:
		return "owner"
	case RoleMember:
		return "member"
	default:
		return "none"
	}
}

func (p Permission) String() string {
	switch p {
	case PermPost:
		return "post"
	case PermReadHistory:
		return "read_history"
	case PermTyping:
		return "typing"
	case PermManage:
		return "manage"
	default:
		return "unknown"
	}
}
