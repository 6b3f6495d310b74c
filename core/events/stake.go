package events

import (
	"math/big"

	"swarmchain/core/types"
	"swarmchain/crypto"
)

const (
	// TypeStakeUpdated captures collateral deposited or topped up by an operator.
	TypeStakeUpdated = "stake.updated"
	// TypeStakeFrozen is emitted when the redistributor freezes a deposit.
	TypeStakeFrozen = "stake.frozen"
	// TypeStakeSlashed is emitted when collateral is slashed.
	TypeStakeSlashed = "stake.slashed"
	// TypeStakeWithdrawn captures an emergency migration while paused.
	TypeStakeWithdrawn = "stake.withdrawn"
)

// StakeUpdated captures the state of a stake record after manageStake.
type StakeUpdated struct {
	Owner      [20]byte
	Overlay    crypto.Overlay
	Collateral *big.Int
	Height     uint8
	Block      uint64
}

// EventType satisfies the Event interface.
func (StakeUpdated) EventType() string { return TypeStakeUpdated }

// Event converts the structured payload into a broadcastable event.
func (e StakeUpdated) Event() *types.Event {
	return &types.Event{Type: TypeStakeUpdated, Attributes: map[string]string{
		"owner":      formatAddress(e.Owner),
		"overlay":    e.Overlay.String(),
		"collateral": formatAmount(e.Collateral),
		"height":     formatUint(uint64(e.Height)),
		"block":      formatUint(e.Block),
	}}
}

// StakeFrozen records a temporary deposit freeze.
type StakeFrozen struct {
	Owner       [20]byte
	Overlay     crypto.Overlay
	FrozenUntil uint64
}

func (StakeFrozen) EventType() string { return TypeStakeFrozen }

func (e StakeFrozen) Event() *types.Event {
	return &types.Event{Type: TypeStakeFrozen, Attributes: map[string]string{
		"owner":       formatAddress(e.Owner),
		"overlay":     e.Overlay.String(),
		"frozenUntil": formatUint(e.FrozenUntil),
	}}
}

// StakeSlashed records a permanent collateral reduction.
type StakeSlashed struct {
	Owner     [20]byte
	Amount    *big.Int
	Remaining *big.Int
}

func (StakeSlashed) EventType() string { return TypeStakeSlashed }

func (e StakeSlashed) Event() *types.Event {
	return &types.Event{Type: TypeStakeSlashed, Attributes: map[string]string{
		"owner":     formatAddress(e.Owner),
		"amount":    formatAmount(e.Amount),
		"remaining": formatAmount(e.Remaining),
	}}
}

// StakeWithdrawn records a full collateral exit through migrateStake.
type StakeWithdrawn struct {
	Owner  [20]byte
	Amount *big.Int
}

func (StakeWithdrawn) EventType() string { return TypeStakeWithdrawn }

func (e StakeWithdrawn) Event() *types.Event {
	return &types.Event{Type: TypeStakeWithdrawn, Attributes: map[string]string{
		"owner":  formatAddress(e.Owner),
		"amount": formatAmount(e.Amount),
	}}
}
