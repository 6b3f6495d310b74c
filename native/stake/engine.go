package stake

import (
	"errors"
	"math/big"
	"sync"

	"swarmchain/core/events"
	"swarmchain/crypto"
	nativecommon "swarmchain/native/common"
)

const moduleName = "stake"

var (
	errNilState = errors.New("stake engine: state not configured")
	errNilToken = errors.New("stake engine: token not configured")

	// ErrNotStaked rejects operations against an identity without a record.
	ErrNotStaked = errors.New("stake engine: not staked")
	// ErrFrozen rejects stake updates while the deposit freeze is active.
	ErrFrozen = errors.New("stake engine: deposit frozen")
	// ErrBelowMinimumStake rejects collateral below the height-scaled floor.
	ErrBelowMinimumStake = errors.New("stake engine: below minimum stake")
	// ErrInvalidAmount rejects negative amounts.
	ErrInvalidAmount = errors.New("stake engine: amount must not be negative")
)

type engineState interface {
	GetStake(addr [20]byte) (*Record, error)
	PutStake(addr [20]byte, record *Record) error
	DeleteStake(addr [20]byte) error
}

// Engine is the stake registry: collateral accounting, overlay derivation
// and the freeze/slash hooks the redistribution game relies on.
type Engine struct {
	state      engineState
	token      nativecommon.Token
	roles      *nativecommon.Roles
	pauses     nativecommon.PauseView
	emitter    events.Emitter
	params     Params
	moduleAddr [20]byte
	blockFn    func() uint64

	// mu serializes record read-modify-write cycles across the goroutines
	// the host serves RPC calls on.
	mu sync.Mutex
}

// NewEngine constructs a stake registry bound to the module escrow account.
func NewEngine(moduleAddr [20]byte, params Params) (*Engine, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		params:     params,
		moduleAddr: moduleAddr,
		emitter:    events.NoopEmitter{},
	}, nil
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetToken wires the value-transfer capability used for collateral custody.
func (e *Engine) SetToken(token nativecommon.Token) { e.token = token }

// SetRoles installs the role registry gating freeze and slash.
func (e *Engine) SetRoles(roles *nativecommon.Roles) { e.roles = roles }

// SetPauses installs the administrative pause view.
func (e *Engine) SetPauses(p nativecommon.PauseView) { e.pauses = p }

// SetEmitter installs the event sink. A nil emitter silences the engine.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	e.emitter = emitter
}

// SetBlockSource injects the block-height clock.
func (e *Engine) SetBlockSource(fn func() uint64) { e.blockFn = fn }

// SetNetworkID changes the salt of future overlay derivations. Existing
// records keep the overlay they were created with.
func (e *Engine) SetNetworkID(caller [20]byte, networkID uint64) error {
	if err := e.requireRole(nativecommon.RoleAdmin, caller); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.params.NetworkID = networkID
	return nil
}

// NetworkID returns the salt applied to new overlay derivations.
func (e *Engine) NetworkID() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.params.NetworkID
}

func (e *Engine) currentBlock() uint64 {
	if e.blockFn == nil {
		return 0
	}
	return e.blockFn()
}

func (e *Engine) requireRole(role string, caller [20]byte) error {
	if e.roles == nil {
		return nativecommon.ErrUnauthorized
	}
	return e.roles.Require(role, caller)
}

func (e *Engine) ready() error {
	if e.state == nil {
		return errNilState
	}
	if e.token == nil {
		return errNilToken
	}
	return nil
}

// ManageStake deposits collateral for the caller and updates the declared
// height. The first deposit derives the immutable overlay from the caller
// identity, network id and nonce; later deposits add to the existing
// collateral and keep the prior overlay. The cumulative collateral must meet
// the height-scaled minimum before any funds move.
func (e *Engine) ManageStake(caller [20]byte, nonce [32]byte, amount *big.Int, height uint8) (*Record, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.currentBlock()

	record, err := e.state.GetStake(caller)
	if err != nil {
		return nil, err
	}
	if record == nil {
		owner := crypto.MustNewAddress(crypto.SWMPrefix, caller[:])
		record = &Record{
			Owner:      caller,
			Overlay:    crypto.NewOverlay(owner, e.params.NetworkID, nonce),
			Collateral: big.NewInt(0),
		}
	} else {
		if record.FrozenAt(now) {
			return nil, ErrFrozen
		}
		record = record.Copy()
	}

	collateral := new(big.Int).Add(record.Collateral, amount)
	if collateral.Cmp(e.params.MinimumFor(height)) < 0 {
		return nil, ErrBelowMinimumStake
	}
	if amount.Sign() > 0 {
		if err := e.token.TransferFrom(caller, e.moduleAddr, amount); err != nil {
			return nil, err
		}
	}

	record.Collateral = collateral
	record.DeclaredHeight = height
	record.LastUpdateBlock = now
	if err := e.state.PutStake(caller, record); err != nil {
		return nil, err
	}
	e.emitter.Emit(events.StakeUpdated{
		Owner:      caller,
		Overlay:    record.Overlay,
		Collateral: new(big.Int).Set(collateral),
		Height:     height,
		Block:      now,
	})
	return record.Copy(), nil
}

// FreezeDeposit zeroes the effective stake of an identity for the given
// number of blocks without touching the stored collateral. Redistributor only.
func (e *Engine) FreezeDeposit(caller, identity [20]byte, blocks uint64) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := e.requireRole(nativecommon.RoleRedistributor, caller); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	record, err := e.state.GetStake(identity)
	if err != nil {
		return err
	}
	if record == nil {
		return ErrNotStaked
	}
	record = record.Copy()
	record.FrozenUntil = e.currentBlock() + blocks
	if err := e.state.PutStake(identity, record); err != nil {
		return err
	}
	e.emitter.Emit(events.StakeFrozen{
		Owner:       identity,
		Overlay:     record.Overlay,
		FrozenUntil: record.FrozenUntil,
	})
	return nil
}

// SlashDeposit permanently reduces an identity's collateral. Slashing to or
// below zero deletes the record entirely, so subsequent reads report the
// identity as never staked. Redistributor only.
func (e *Engine) SlashDeposit(caller, identity [20]byte, amount *big.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := e.requireRole(nativecommon.RoleRedistributor, caller); err != nil {
		return err
	}
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	record, err := e.state.GetStake(identity)
	if err != nil {
		return err
	}
	if record == nil {
		return ErrNotStaked
	}
	remaining := new(big.Int).Sub(record.Collateral, amount)
	if remaining.Sign() <= 0 {
		if err := e.state.DeleteStake(identity); err != nil {
			return err
		}
		remaining = big.NewInt(0)
	} else {
		record = record.Copy()
		record.Collateral = remaining
		if err := e.state.PutStake(identity, record); err != nil {
			return err
		}
	}
	e.emitter.Emit(events.StakeSlashed{
		Owner:     identity,
		Amount:    new(big.Int).Set(amount),
		Remaining: new(big.Int).Set(remaining),
	})
	return nil
}

// EffectiveStake returns the collateral counted for game eligibility: zero
// while frozen or when the identity never staked.
func (e *Engine) EffectiveStake(identity [20]byte) (*big.Int, error) {
	if e.state == nil {
		return nil, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	record, err := e.state.GetStake(identity)
	if err != nil {
		return nil, err
	}
	if record == nil || record.FrozenAt(e.currentBlock()) {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(record.Collateral), nil
}

// GetStake returns a copy of the stored record, or nil when never staked.
func (e *Engine) GetStake(identity [20]byte) (*Record, error) {
	if e.state == nil {
		return nil, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	record, err := e.state.GetStake(identity)
	if err != nil {
		return nil, err
	}
	return record.Copy(), nil
}

// MigrateStake is the emergency exit: while the registry is paused, an
// operator may withdraw the full collateral, deleting the record.
func (e *Engine) MigrateStake(caller [20]byte) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := nativecommon.RequirePaused(e.pauses, moduleName); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	record, err := e.state.GetStake(caller)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, ErrNotStaked
	}
	amount := new(big.Int).Set(record.Collateral)
	if amount.Sign() > 0 {
		if err := e.token.Transfer(caller, amount); err != nil {
			return nil, err
		}
	}
	if err := e.state.DeleteStake(caller); err != nil {
		return nil, err
	}
	e.emitter.Emit(events.StakeWithdrawn{Owner: caller, Amount: new(big.Int).Set(amount)})
	return amount, nil
}
