package events

import (
	"math/big"

	"swarmchain/core/types"
	"swarmchain/crypto"
)

const (
	// TypeGameCommitted captures an accepted commitment.
	TypeGameCommitted = "game.committed"
	// TypeGameRevealed captures an accepted reveal with its stake weighting.
	TypeGameRevealed = "game.revealed"
	// TypeGameAnchorFixed is emitted once per round at the first reveal.
	TypeGameAnchorFixed = "game.anchorFixed"
	// TypeGameWon captures a successful claim.
	TypeGameWon = "game.won"
)

// GameCommitted captures an accepted commit for a round.
type GameCommitted struct {
	Round   uint64
	Overlay crypto.Overlay
	Owner   [20]byte
}

func (GameCommitted) EventType() string { return TypeGameCommitted }

func (e GameCommitted) Event() *types.Event {
	return &types.Event{Type: TypeGameCommitted, Attributes: map[string]string{
		"round":   formatUint(e.Round),
		"overlay": e.Overlay.String(),
		"owner":   formatAddress(e.Owner),
	}}
}

// GameRevealed captures an accepted reveal, including the stake density that
// weights the winner draw.
type GameRevealed struct {
	Round        uint64
	Overlay      crypto.Overlay
	Owner        [20]byte
	Depth        uint8
	Stake        *big.Int
	StakeDensity *big.Int
	Hash         [32]byte
}

func (GameRevealed) EventType() string { return TypeGameRevealed }

func (e GameRevealed) Event() *types.Event {
	return &types.Event{Type: TypeGameRevealed, Attributes: map[string]string{
		"round":        formatUint(e.Round),
		"overlay":      e.Overlay.String(),
		"owner":        formatAddress(e.Owner),
		"depth":        formatUint(uint64(e.Depth)),
		"stake":        formatAmount(e.Stake),
		"stakeDensity": formatAmount(e.StakeDensity),
		"hash":         formatHash(e.Hash),
	}}
}

// GameAnchorFixed records the reveal-phase anchor for a round.
type GameAnchorFixed struct {
	Round  uint64
	Anchor [32]byte
}

func (GameAnchorFixed) EventType() string { return TypeGameAnchorFixed }

func (e GameAnchorFixed) Event() *types.Event {
	return &types.Event{Type: TypeGameAnchorFixed, Attributes: map[string]string{
		"round":  formatUint(e.Round),
		"anchor": formatHash(e.Anchor),
	}}
}

// GameWon records the claim outcome of a round.
type GameWon struct {
	Round   uint64
	Overlay crypto.Overlay
	Owner   [20]byte
	Amount  *big.Int
	Depth   uint8
}

func (GameWon) EventType() string { return TypeGameWon }

func (e GameWon) Event() *types.Event {
	return &types.Event{Type: TypeGameWon, Attributes: map[string]string{
		"round":   formatUint(e.Round),
		"overlay": e.Overlay.String(),
		"owner":   formatAddress(e.Owner),
		"amount":  formatAmount(e.Amount),
		"depth":   formatUint(uint64(e.Depth)),
	}}
}
