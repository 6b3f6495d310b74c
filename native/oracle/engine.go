package oracle

import (
	"errors"
	"math/big"
	"sync"

	"swarmchain/core/events"
	nativecommon "swarmchain/native/common"
)

const moduleName = "oracle"

var (
	errNilState  = errors.New("oracle engine: state not configured")
	errNilLedger = errors.New("oracle engine: ledger not configured")

	// ErrPriceAlreadyAdjusted rejects a second adjustment within one round.
	ErrPriceAlreadyAdjusted = errors.New("oracle engine: price already adjusted this round")
	// ErrUnexpectedZero rejects a zero redundancy report.
	ErrUnexpectedZero = errors.New("oracle engine: redundancy must be positive")
	// ErrInvalidPrice rejects a non-positive owner override.
	ErrInvalidPrice = errors.New("oracle engine: price must be positive")
)

// State is the persisted oracle bookkeeping.
type State struct {
	CurrentPrice      *big.Int
	LastAdjustedRound uint64
}

// Copy returns a deep copy to avoid callers mutating shared pointers.
func (s *State) Copy() *State {
	if s == nil {
		return nil
	}
	clone := *s
	if s.CurrentPrice != nil {
		clone.CurrentPrice = new(big.Int).Set(s.CurrentPrice)
	}
	return &clone
}

type engineState interface {
	GetOracleState() (*State, error)
	PutOracleState(state *State) error
}

// Ledger is the downstream price consumer. A failed push is absorbed: the
// oracle's own state still advances and the divergence is surfaced as an
// event rather than an error.
type Ledger interface {
	SetPrice(price *big.Int) error
}

// Engine adjusts the per-chunk-per-block storage price once per round based
// on reported neighbourhood redundancy.
type Engine struct {
	state   engineState
	ledger  Ledger
	roles   *nativecommon.Roles
	pauses  nativecommon.PauseView
	emitter events.Emitter
	params  Params
	blockFn func() uint64

	// mu serializes the read-adjust-write cycle on the oracle state; the
	// host serves RPC calls on separate goroutines.
	mu sync.Mutex
}

// NewEngine constructs a price oracle.
func NewEngine(params Params) (*Engine, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		params:  params,
		emitter: events.NoopEmitter{},
	}, nil
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetLedger wires the postage ledger the oracle pushes prices into.
func (e *Engine) SetLedger(ledger Ledger) { e.ledger = ledger }

// SetRoles installs the role registry gating adjustments.
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

func (e *Engine) currentBlock() uint64 {
	if e.blockFn == nil {
		return 0
	}
	return e.blockFn()
}

// CurrentRound returns the adjustment round index at the current block.
func (e *Engine) CurrentRound() uint64 {
	return e.currentBlock() / e.params.RoundLength
}

func (e *Engine) loadState() (*State, error) {
	s, err := e.state.GetOracleState()
	if err != nil {
		return nil, err
	}
	if s == nil {
		return &State{CurrentPrice: new(big.Int).Set(e.params.MinimumPrice)}, nil
	}
	return s.Copy(), nil
}

// CurrentPrice returns the oracle's view of the price. The postage ledger may
// transiently lag behind after a failed push.
func (e *Engine) CurrentPrice() (*big.Int, error) {
	if e.state == nil {
		return nil, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	s, err := e.loadState()
	if err != nil {
		return nil, err
	}
	return s.CurrentPrice, nil
}

// MinimumPrice returns the configured floor.
func (e *Engine) MinimumPrice() *big.Int {
	return new(big.Int).Set(e.params.MinimumPrice)
}

func (e *Engine) requireRole(role string, caller [20]byte) error {
	if e.roles == nil {
		return nativecommon.ErrUnauthorized
	}
	return e.roles.Require(role, caller)
}

func applyRate(price *big.Int, rate uint64) *big.Int {
	scaled := new(big.Int).Mul(price, new(big.Int).SetUint64(rate))
	return scaled.Div(scaled, big.NewInt(priceBase))
}

func (e *Engine) floor(price *big.Int) *big.Int {
	if price.Cmp(e.params.MinimumPrice) < 0 {
		return new(big.Int).Set(e.params.MinimumPrice)
	}
	return price
}

// AdjustPrice applies the rate for the reported redundancy, once per round.
// Rounds skipped since the last adjustment each apply the maximum-increase
// rate first: missing reports must never let the price drift downward.
func (e *Engine) AdjustPrice(caller [20]byte, redundancy uint64) (*big.Int, error) {
	if e.state == nil {
		return nil, errNilState
	}
	if err := e.requireRole(nativecommon.RoleOracleUpdater, caller); err != nil {
		return nil, err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if redundancy == 0 {
		return nil, ErrUnexpectedZero
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	s, err := e.loadState()
	if err != nil {
		return nil, err
	}
	round := e.CurrentRound()
	if s.LastAdjustedRound >= round {
		return nil, ErrPriceAlreadyAdjusted
	}

	clamped := redundancy
	if max := e.params.TargetRedundancy + e.params.MaxConsideredExtraRedundancy; clamped > max {
		clamped = max
	}

	price := new(big.Int).Set(s.CurrentPrice)
	// Conservative backfill: one maximum-rate increase per skipped round.
	for skipped := round - s.LastAdjustedRound; skipped > 1; skipped-- {
		price = applyRate(price, increaseRate[1])
	}
	price = e.floor(applyRate(price, increaseRate[clamped]))

	s.CurrentPrice = price
	s.LastAdjustedRound = round
	if err := e.state.PutOracleState(s); err != nil {
		return nil, err
	}
	e.push(price, round)
	e.emitter.Emit(events.PriceAdjusted{
		Price:      new(big.Int).Set(price),
		Redundancy: redundancy,
		Round:      round,
	})
	return new(big.Int).Set(price), nil
}

// SetPrice is the owner override: no round gating, but the floor and the
// ledger push still apply. It does not consume the round's adjustment.
func (e *Engine) SetPrice(caller [20]byte, price *big.Int) (*big.Int, error) {
	if e.state == nil {
		return nil, errNilState
	}
	if err := e.requireRole(nativecommon.RoleAdmin, caller); err != nil {
		return nil, err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if price == nil || price.Sign() <= 0 {
		return nil, ErrInvalidPrice
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	s, err := e.loadState()
	if err != nil {
		return nil, err
	}
	floored := e.floor(new(big.Int).Set(price))
	s.CurrentPrice = floored
	if err := e.state.PutOracleState(s); err != nil {
		return nil, err
	}
	round := e.CurrentRound()
	e.push(floored, round)
	e.emitter.Emit(events.PriceAdjusted{
		Price: new(big.Int).Set(floored),
		Round: round,
	})
	return new(big.Int).Set(floored), nil
}

// push forwards the price downstream. Push failures are logged as events and
// absorbed so the oracle's bookkeeping stays consistent.
func (e *Engine) push(price *big.Int, round uint64) {
	if e.ledger == nil {
		e.emitter.Emit(events.PricePushFailed{
			Price:  new(big.Int).Set(price),
			Round:  round,
			Reason: errNilLedger.Error(),
		})
		return
	}
	if err := e.ledger.SetPrice(price); err != nil {
		e.emitter.Emit(events.PricePushFailed{
			Price:  new(big.Int).Set(price),
			Round:  round,
			Reason: err.Error(),
		})
	}
}
