package oracle

import (
	"fmt"
	"math/big"
)

// priceBase is the denominator of the multiplicative adjustment rates.
const priceBase = 1024

// increaseRate maps clamped redundancy (1..8) to an adjustment rate over
// priceBase. Redundancy below the target of 4 raises the price, above it
// lowers it, and exactly at target the rate is neutral.
var increaseRate = [9]uint64{0, 1036, 1027, 1025, 1024, 1023, 1021, 1017, 1012}

// Params controls the oracle's round cadence and price bounds.
type Params struct {
	// RoundLength is the adjustment window in blocks; AdjustPrice may land
	// once per window.
	RoundLength uint64
	// MinimumPrice floors every adjustment and override.
	MinimumPrice *big.Int
	// TargetRedundancy is the neighbourhood replication the network aims for.
	TargetRedundancy uint64
	// MaxConsideredExtraRedundancy caps how far above target a report counts.
	MaxConsideredExtraRedundancy uint64
}

// DefaultParams returns the production defaults.
func DefaultParams() Params {
	return Params{
		RoundLength:                  152,
		MinimumPrice:                 big.NewInt(1024),
		TargetRedundancy:             4,
		MaxConsideredExtraRedundancy: 4,
	}
}

// Validate ensures the supplied parameters fall within safe operating ranges.
func (p Params) Validate() error {
	if p.RoundLength == 0 {
		return fmt.Errorf("round length must be positive")
	}
	if p.MinimumPrice == nil || p.MinimumPrice.Sign() <= 0 {
		return fmt.Errorf("minimum price must be positive")
	}
	if p.TargetRedundancy == 0 {
		return fmt.Errorf("target redundancy must be positive")
	}
	if p.TargetRedundancy+p.MaxConsideredExtraRedundancy >= uint64(len(increaseRate)) {
		return fmt.Errorf("redundancy bound exceeds rate table")
	}
	return nil
}
