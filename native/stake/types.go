package stake

import (
	"math/big"

	"swarmchain/crypto"
)

// Record is the collateral account of a single operator identity.
type Record struct {
	Owner           [20]byte
	Overlay         crypto.Overlay
	Collateral      *big.Int
	DeclaredHeight  uint8
	LastUpdateBlock uint64
	FrozenUntil     uint64
}

// Copy returns a deep copy to avoid callers mutating shared pointers.
func (r *Record) Copy() *Record {
	if r == nil {
		return nil
	}
	clone := *r
	if r.Collateral != nil {
		clone.Collateral = new(big.Int).Set(r.Collateral)
	}
	return &clone
}

// FrozenAt reports whether the deposit is frozen at the given block height.
func (r *Record) FrozenAt(block uint64) bool {
	if r == nil {
		return false
	}
	return r.FrozenUntil > block
}
