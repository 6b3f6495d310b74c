package redistribution

import "fmt"

// Params controls the round geometry and penalties of the game.
type Params struct {
	// RoundLength is the full round in blocks; the commit phase is the first
	// quarter, the reveal phase the second, the claim phase the rest.
	RoundLength uint64
	// StakeAgeRounds is the number of full rounds a stake update must age
	// before its owner may commit again.
	StakeAgeRounds uint64
	// PenaltyRounds scales the freeze applied to revealers who disagreed
	// with the winning reserve commitment.
	PenaltyRounds uint64
	// InitialMinimumDepth seeds the participation floor on a fresh ledger.
	InitialMinimumDepth uint8
}

// DefaultParams returns the production defaults.
func DefaultParams() Params {
	return Params{
		RoundLength:         152,
		StakeAgeRounds:      2,
		PenaltyRounds:       2,
		InitialMinimumDepth: 4,
	}
}

// Validate ensures the supplied parameters fall within safe operating ranges.
func (p Params) Validate() error {
	if p.RoundLength < 4 || p.RoundLength%4 != 0 {
		return fmt.Errorf("round length must be a positive multiple of four")
	}
	if p.StakeAgeRounds == 0 {
		return fmt.Errorf("stake age rounds must be positive")
	}
	if p.PenaltyRounds == 0 {
		return fmt.Errorf("penalty rounds must be positive")
	}
	return nil
}
