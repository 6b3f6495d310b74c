package stake

import (
	"fmt"
	"math/big"
)

// Params controls stake admission for the registry.
type Params struct {
	// BaseMinimumStake is the collateral floor for height zero. An operator
	// declaring height h must hold at least BaseMinimumStake << h.
	BaseMinimumStake *big.Int
	// NetworkID salts overlay derivation so overlays are not portable
	// between networks.
	NetworkID uint64
}

// DefaultParams returns the production defaults.
func DefaultParams() Params {
	return Params{
		BaseMinimumStake: big.NewInt(100_000_000_000_000_000),
		NetworkID:        1,
	}
}

// Validate ensures the supplied parameters fall within safe operating ranges.
func (p Params) Validate() error {
	if p.BaseMinimumStake == nil || p.BaseMinimumStake.Sign() <= 0 {
		return fmt.Errorf("base minimum stake must be positive")
	}
	return nil
}

// MinimumFor returns the collateral floor for a declared height.
func (p Params) MinimumFor(height uint8) *big.Int {
	return new(big.Int).Lsh(p.BaseMinimumStake, uint(height))
}
