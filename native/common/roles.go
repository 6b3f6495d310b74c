package common

import (
	"errors"
	"sort"
	"sync"
)

// Role names gating the privileged entry points of the incentive modules.
const (
	// RoleRedistributor may freeze/slash stake and drain the postage pot.
	RoleRedistributor = "redistributor"
	// RoleOracleUpdater may adjust the per-round price on the oracle.
	RoleOracleUpdater = "oracleUpdater"
	// RolePriceOracle may push prices into the postage ledger.
	RolePriceOracle = "priceOracle"
	// RolePauser may pause and unpause modules.
	RolePauser = "pauser"
	// RoleAdmin may set protocol parameters and grant/revoke roles.
	RoleAdmin = "admin"
)

// ErrUnauthorized rejects a caller lacking the role a privileged entry point
// requires.
var ErrUnauthorized = errors.New("caller not authorised for role")

// Roles is an explicit role -> member-set registry with an audit-friendly
// grant/revoke surface. Engines hold a read-only view; the node owns grants.
type Roles struct {
	mu      sync.RWMutex
	members map[string]map[[20]byte]struct{}
}

func NewRoles() *Roles {
	return &Roles{members: make(map[string]map[[20]byte]struct{})}
}

func (r *Roles) Grant(role string, addr [20]byte) {
	if r == nil || role == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.members[role]
	if !ok {
		set = make(map[[20]byte]struct{})
		r.members[role] = set
	}
	set[addr] = struct{}{}
}

func (r *Roles) Revoke(role string, addr [20]byte) {
	if r == nil || role == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if set, ok := r.members[role]; ok {
		delete(set, addr)
		if len(set) == 0 {
			delete(r.members, role)
		}
	}
}

func (r *Roles) Has(role string, addr [20]byte) bool {
	if r == nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	set, ok := r.members[role]
	if !ok {
		return false
	}
	_, ok = set[addr]
	return ok
}

// Require returns ErrUnauthorized unless addr holds the role.
func (r *Roles) Require(role string, addr [20]byte) error {
	if !r.Has(role, addr) {
		return ErrUnauthorized
	}
	return nil
}

// Members returns the role's member set in deterministic order.
func (r *Roles) Members(role string) [][20]byte {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	set, ok := r.members[role]
	if !ok {
		return nil
	}
	out := make([][20]byte, 0, len(set))
	for addr := range set {
		out = append(out, addr)
	}
	sort.Slice(out, func(i, j int) bool {
		for k := range out[i] {
			if out[i][k] != out[j][k] {
				return out[i][k] < out[j][k]
			}
		}
		return false
	})
	return out
}
