package rbac

import (
	"errors"
	"testing"

	"github.com/udpchat/udpchat/pkg/model"
)

func TestRoleIn(t *testing.T) {
	g := model.NewGroup("devs", "alice", []string{"bob"})
	tests := []struct {
		identity string
		want     Role
	}{
		{"alice", RoleOwner},
		{"bob", RoleMember},
		{"carol", RoleNone},
	}
	for _, tt := range tests {
		if got := RoleIn(g, tt.identity); got != tt.want {
			t.Errorf("RoleIn(%q) = %v, want %v", tt.identity, got, tt.want)
		}
	}
	if got := RoleIn(nil, "alice"); got != RoleNone {
		t.Errorf("RoleIn(nil) = %v, want none", got)
	}
}

func TestHasPermission(t *testing.T) {
	tests := []struct {
		role Role
		perm Permission
		want bool
	}{
		{RoleOwner, PermManage, true},
		{RoleOwner, PermPost, true},
		{RoleMember, PermPost, true},
		{RoleMember, PermReadHistory, true},
		{RoleMember, PermManage, false},
		{RoleNone, PermPost, false},
		{RoleNone, PermTyping, false},
		{Role(99), PermPost, false},
	}
	for _, tt := range tests {
		if got := HasPermission(tt.role, tt.perm); got != tt.want {
			t.Errorf("HasPermission(%v, %v) = %v, want %v", tt.role, tt.perm, got, tt.want)
		}
	}
}

func TestRequire(t *testing.T) {
	g := model.NewGroup("devs", "alice", []string{"bob"})
	if err := Require(g, "alice", PermManage); err != nil {
		t.Errorf("owner manage: %v", err)
	}
	err := Require(g, "bob", PermManage)
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("member manage err = %v, want ErrPermissionDenied", err)
	}
	if want := "rbac: permission denied: manage requires owner"; err.Error() != want {
		t.Errorf("message = %q, want %q", err.Error(), want)
	}
	if err := Require(g, "carol", PermPost); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("outsider post err = %v", err)
	}
}
