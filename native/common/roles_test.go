package common

import (
	"errors"
	"testing"
)

func addr(fill byte) [20]byte {
	var a [20]byte
	for i := range a {
		a[i] = fill
	}
	return a
}

func TestRolesGrantRevoke(t *testing.T) {
	roles := NewRoles()
	operator := addr(0x01)

	if roles.Has(RoleRedistributor, operator) {
		t.Fatalf("fresh registry must not grant roles")
	}
	roles.Grant(RoleRedistributor, operator)
	if !roles.Has(RoleRedistributor, operator) {
		t.Fatalf("expected role after grant")
	}
	if err := roles.Require(RoleRedistributor, operator); err != nil {
		t.Fatalf("require after grant: %v", err)
	}
	roles.Revoke(RoleRedistributor, operator)
	if err := roles.Require(RoleRedistributor, operator); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized after revoke, got %v", err)
	}
}

func TestRolesMembersDeterministic(t *testing.T) {
	roles := NewRoles()
	roles.Grant(RolePauser, addr(0x03))
	roles.Grant(RolePauser, addr(0x01))
	roles.Grant(RolePauser, addr(0x02))

	members := roles.Members(RolePauser)
	if len(members) != 3 {
		t.Fatalf("expected 3 members, got %d", len(members))
	}
	for i := 1; i < len(members); i++ {
		if members[i-1][0] >= members[i][0] {
			t.Fatalf("members not sorted: %x before %x", members[i-1], members[i])
		}
	}
}

func TestPausesGuard(t *testing.T) {
	pauses := NewPauses()
	if err := Guard(pauses, "postage"); err != nil {
		t.Fatalf("unpaused module must pass guard: %v", err)
	}
	if err := RequirePaused(pauses, "stake"); !errors.Is(err, ErrModuleNotPaused) {
		t.Fatalf("expected ErrModuleNotPaused, got %v", err)
	}

	pauses.Pause("postage")
	if err := Guard(pauses, "postage"); !errors.Is(err, ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
	if err := Guard(pauses, "stake"); err != nil {
		t.Fatalf("pauses must be scoped per module: %v", err)
	}

	pauses.Unpause("postage")
	if err := Guard(pauses, "postage"); err != nil {
		t.Fatalf("guard after unpause: %v", err)
	}
}
