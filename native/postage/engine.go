package postage

import (
	"errors"
	"math/big"
	"sync"

	"swarmchain/core/events"
	nativecommon "swarmchain/native/common"
)

const moduleName = "postage"

var (
	errNilState = errors.New("postage engine: state not configured")
	errNilToken = errors.New("postage engine: token not configured")

	// ErrZeroAddress rejects a batch owned by the zero address.
	ErrZeroAddress = errors.New("postage engine: owner is the zero address")
	// ErrInvalidDepth rejects bucketDepth >= depth or below the minimum.
	ErrInvalidDepth = errors.New("postage engine: invalid bucket depth")
	// ErrBatchExists rejects a duplicate owner/nonce derivation.
	ErrBatchExists = errors.New("postage engine: batch already exists")
	// ErrInsufficientBalance rejects initial balances that do not cover the
	// minimum validity period at the current price.
	ErrInsufficientBalance = errors.New("postage engine: initial balance too low")
	// ErrBatchDoesNotExist rejects operations on an unknown batch id.
	ErrBatchDoesNotExist = errors.New("postage engine: batch does not exist")
	// ErrBatchExpired rejects top ups and depth changes on a drained batch.
	ErrBatchExpired = errors.New("postage engine: batch expired")
	// ErrNotBatchOwner rejects depth changes by anyone but the owner.
	ErrNotBatchOwner = errors.New("postage engine: not batch owner")
	// ErrDepthNotIncreasing rejects non-monotonic depth changes.
	ErrDepthNotIncreasing = errors.New("postage engine: depth not increasing")
	// ErrBatchImmutable rejects depth changes on immutable batches.
	ErrBatchImmutable = errors.New("postage engine: batch is immutable")
	// ErrInvalidAmount rejects non-positive funding amounts.
	ErrInvalidAmount = errors.New("postage engine: amount must be positive")
	// ErrZeroPrice rejects a zero or negative price push.
	ErrZeroPrice = errors.New("postage engine: price must be positive")
)

type engineState interface {
	GetBatch(id BatchID) (*Batch, error)
	PutBatch(id BatchID, batch *Batch) error
	DeleteBatch(id BatchID) error
	IterateBatches(fn func(id BatchID, batch *Batch) bool) error
	GetPostageGlobals() (*Globals, error)
	PutPostageGlobals(globals *Globals) error
}

// Engine is the postage ledger: prepaid capacity accounting with price-time
// decay, ordered expiry and the pot the redistribution game pays out from.
type Engine struct {
	state      engineState
	token      nativecommon.Token
	roles      *nativecommon.Roles
	pauses     nativecommon.PauseView
	emitter    events.Emitter
	params     Params
	moduleAddr [20]byte
	blockFn    func() uint64
	index      *expiryIndex

	// mu serializes every call that touches the globals or the expiry
	// index; the host serves RPC calls and the block clock on separate
	// goroutines.
	mu sync.Mutex
}

// NewEngine constructs a postage ledger bound to the module escrow account.
func NewEngine(moduleAddr [20]byte, params Params) (*Engine, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		params:     params,
		moduleAddr: moduleAddr,
		emitter:    events.NoopEmitter{},
		index:      newExpiryIndex(),
	}, nil
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetToken wires the value-transfer capability funding batches.
func (e *Engine) SetToken(token nativecommon.Token) { e.token = token }

// SetRoles installs the role registry gating withdraw and price pushes.
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

// LoadIndex rebuilds the in-memory expiry index from the persisted batch
// set. Must run once after SetState, before the first mutation.
func (e *Engine) LoadIndex() error {
	if e.state == nil {
		return errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.index.reset()
	return e.state.IterateBatches(func(id BatchID, batch *Batch) bool {
		e.index.insert(batch.NormalisedBalance, id)
		return true
	})
}

func (e *Engine) currentBlock() uint64 {
	if e.blockFn == nil {
		return 0
	}
	return e.blockFn()
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

func (e *Engine) globals() (*Globals, error) {
	g, err := e.state.GetPostageGlobals()
	if err != nil {
		return nil, err
	}
	if g == nil {
		return NewGlobals(), nil
	}
	return g.Copy(), nil
}

// currentTotalOutPayment returns the live per-chunk payment level: the
// settled accumulator plus price decay since the last settlement block.
func (e *Engine) currentTotalOutPayment(g *Globals) *big.Int {
	blocks := new(big.Int).SetUint64(e.currentBlock() - g.LastUpdatedBlock)
	accrued := new(big.Int).Mul(g.LastPrice, blocks)
	return accrued.Add(accrued, g.TotalOutPayment)
}

// CurrentPrice returns the per-chunk-per-block price last pushed by the oracle.
func (e *Engine) CurrentPrice() (*big.Int, error) {
	if e.state == nil {
		return nil, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	g, err := e.globals()
	if err != nil {
		return nil, err
	}
	return g.LastPrice, nil
}

// minimumInitialBalancePerChunk prices the minimum validity period at the
// last pushed rate. The settlement sweep never moves LastPrice, so the
// result is the same whether the globals are settled or not.
func (e *Engine) minimumInitialBalancePerChunk(g *Globals) *big.Int {
	minimum := new(big.Int).Set(g.LastPrice)
	return minimum.Mul(minimum, new(big.Int).SetUint64(e.params.MinimumValidityBlocks))
}

// MinimumInitialBalancePerChunk is the smallest admissible per-chunk funding
// for a new batch: the minimum validity period priced at the current rate.
func (e *Engine) MinimumInitialBalancePerChunk() (*big.Int, error) {
	if e.state == nil {
		return nil, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	g, err := e.globals()
	if err != nil {
		return nil, err
	}
	return e.minimumInitialBalancePerChunk(g), nil
}

// Pot returns the accumulated payout value extracted from decayed batches.
func (e *Engine) Pot() (*big.Int, error) {
	if e.state == nil {
		return nil, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	g, err := e.globals()
	if err != nil {
		return nil, err
	}
	return g.Pot, nil
}

// ValidChunkCount returns the number of currently funded address-range units.
func (e *Engine) ValidChunkCount() (*big.Int, error) {
	if e.state == nil {
		return nil, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	g, err := e.globals()
	if err != nil {
		return nil, err
	}
	return g.ValidChunkCount, nil
}

// GetBatch returns a copy of the stored batch, or nil when unknown.
func (e *Engine) GetBatch(id BatchID) (*Batch, error) {
	if e.state == nil {
		return nil, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	batch, err := e.state.GetBatch(id)
	if err != nil {
		return nil, err
	}
	return batch.Copy(), nil
}

// RemainingBalance returns the per-chunk balance the batch still holds at the
// current block, floored at zero.
func (e *Engine) RemainingBalance(id BatchID) (*big.Int, error) {
	if e.state == nil {
		return nil, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	batch, err := e.state.GetBatch(id)
	if err != nil {
		return nil, err
	}
	if batch == nil {
		return nil, ErrBatchDoesNotExist
	}
	g, err := e.globals()
	if err != nil {
		return nil, err
	}
	remaining := new(big.Int).Sub(batch.NormalisedBalance, e.currentTotalOutPayment(g))
	if remaining.Sign() < 0 {
		remaining.SetInt64(0)
	}
	return remaining, nil
}

// CreateBatch funds a new batch of 2^depth chunks at initialBalancePerChunk
// each, paid by the caller. The batch id derives from (owner, nonce).
func (e *Engine) CreateBatch(caller, owner [20]byte, initialBalancePerChunk *big.Int, depth, bucketDepth uint8, nonce [32]byte, immutable bool) (BatchID, error) {
	var id BatchID
	if err := e.ready(); err != nil {
		return id, err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return id, err
	}
	if owner == ([20]byte{}) {
		return id, ErrZeroAddress
	}
	if bucketDepth >= depth || bucketDepth < e.params.MinimumBucketDepth {
		return id, ErrInvalidDepth
	}
	if initialBalancePerChunk == nil || initialBalancePerChunk.Sign() <= 0 {
		return id, ErrInvalidAmount
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	id = NewBatchID(owner, nonce)
	existing, err := e.state.GetBatch(id)
	if err != nil {
		return id, err
	}
	if existing != nil {
		return id, ErrBatchExists
	}
	unsettled, err := e.globals()
	if err != nil {
		return id, err
	}
	// The minimum check runs before the transfer and the settlement sweep so
	// a rejected create leaves the ledger exactly as it found it.
	if initialBalancePerChunk.Cmp(e.minimumInitialBalancePerChunk(unsettled)) <= 0 {
		return id, ErrInsufficientBalance
	}

	chunks := chunksAtDepth(depth)
	total := new(big.Int).Mul(initialBalancePerChunk, chunks)
	if err := e.token.TransferFrom(caller, e.moduleAddr, total); err != nil {
		return id, err
	}
	g, err := e.settleExpiry(maxExpiryIterations)
	if err != nil {
		return id, err
	}

	batch := &Batch{
		Owner:             owner,
		Depth:             depth,
		BucketDepth:       bucketDepth,
		Immutable:         immutable,
		NormalisedBalance: new(big.Int).Add(e.currentTotalOutPayment(g), initialBalancePerChunk),
	}
	if err := e.state.PutBatch(id, batch); err != nil {
		return id, err
	}
	g.ValidChunkCount.Add(g.ValidChunkCount, chunks)
	if err := e.state.PutPostageGlobals(g); err != nil {
		return id, err
	}
	e.index.insert(batch.NormalisedBalance, id)

	e.emitter.Emit(events.BatchCreated{
		BatchID:           id,
		Owner:             owner,
		TotalAmount:       total,
		NormalisedBalance: new(big.Int).Set(batch.NormalisedBalance),
		Depth:             depth,
		BucketDepth:       bucketDepth,
		Immutable:         immutable,
	})
	return id, nil
}

// TopUp adds amountPerChunk to the batch's remaining validity, paid by the
// caller. Anyone may extend any live batch.
func (e *Engine) TopUp(caller [20]byte, id BatchID, amountPerChunk *big.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if amountPerChunk == nil || amountPerChunk.Sign() <= 0 {
		return ErrInvalidAmount
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	// No chunk counts change here, so the balance can grow without a
	// settlement sweep; a drained batch is still distinguishable from a
	// missing one.
	g, err := e.globals()
	if err != nil {
		return err
	}
	batch, err := e.state.GetBatch(id)
	if err != nil {
		return err
	}
	if batch == nil {
		return ErrBatchDoesNotExist
	}
	if batch.NormalisedBalance.Cmp(e.currentTotalOutPayment(g)) <= 0 {
		return ErrBatchExpired
	}

	chunks := batch.Chunks()
	total := new(big.Int).Mul(amountPerChunk, chunks)
	if err := e.token.TransferFrom(caller, e.moduleAddr, total); err != nil {
		return err
	}

	oldBalance := new(big.Int).Set(batch.NormalisedBalance)
	batch = batch.Copy()
	batch.NormalisedBalance.Add(batch.NormalisedBalance, amountPerChunk)
	if err := e.state.PutBatch(id, batch); err != nil {
		return err
	}
	e.index.remove(oldBalance, id)
	e.index.insert(batch.NormalisedBalance, id)

	e.emitter.Emit(events.BatchTopUp{
		BatchID:           id,
		AmountPerChunk:    new(big.Int).Set(amountPerChunk),
		NormalisedBalance: new(big.Int).Set(batch.NormalisedBalance),
	})
	return nil
}

// IncreaseDepth doubles capacity per depth step, spreading the remaining
// value over the larger chunk count. Owner only; immutable batches never
// change shape.
func (e *Engine) IncreaseDepth(caller [20]byte, id BatchID, newDepth uint8) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	g, err := e.settleExpiry(maxExpiryIterations)
	if err != nil {
		return err
	}
	batch, err := e.state.GetBatch(id)
	if err != nil {
		return err
	}
	if batch == nil {
		return ErrBatchDoesNotExist
	}
	if batch.Owner != caller {
		return ErrNotBatchOwner
	}
	if batch.Immutable {
		return ErrBatchImmutable
	}
	if newDepth <= batch.Depth || batch.BucketDepth >= newDepth {
		return ErrDepthNotIncreasing
	}
	outPayment := e.currentTotalOutPayment(g)
	remaining := new(big.Int).Sub(batch.NormalisedBalance, outPayment)
	if remaining.Sign() <= 0 {
		return ErrBatchExpired
	}

	// Same total value spread over 2^(newDepth-oldDepth) times the chunks.
	delta := uint(newDepth - batch.Depth)
	newRemaining := new(big.Int).Rsh(remaining, delta)
	oldBalance := new(big.Int).Set(batch.NormalisedBalance)
	oldChunks := batch.Chunks()

	batch = batch.Copy()
	batch.Depth = newDepth
	batch.NormalisedBalance = new(big.Int).Add(outPayment, newRemaining)
	if err := e.state.PutBatch(id, batch); err != nil {
		return err
	}

	// The settled expiry pass above credited every chunk up to the present,
	// so the count can change shape without skewing pot accrual.
	g.ValidChunkCount.Add(g.ValidChunkCount, new(big.Int).Sub(batch.Chunks(), oldChunks))
	if err := e.state.PutPostageGlobals(g); err != nil {
		return err
	}
	e.index.remove(oldBalance, id)
	e.index.insert(batch.NormalisedBalance, id)

	e.emitter.Emit(events.BatchDepthIncrease{
		BatchID:           id,
		NewDepth:          newDepth,
		NormalisedBalance: new(big.Int).Set(batch.NormalisedBalance),
	})
	return nil
}

// maxExpiryIterations bounds the internal settlement sweeps run before
// mutations. Public callers choose their own bound via ExpireLimited.
const maxExpiryIterations = 1 << 20

// ExpireLimited walks the expiry-ordered index from the smallest normalised
// balance, retiring drained batches and crediting the pot, stopping after
// maxIterations. Callers on a resource budget call this repeatedly.
func (e *Engine) ExpireLimited(maxIterations uint64) error {
	if e.state == nil {
		return errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.settleExpiry(maxIterations); err != nil {
		return err
	}
	return nil
}

// settleExpiry removes up to maxIterations drained batches and accrues the
// pot. Every expired batch pays for the interval from the last settlement
// level to its own normalised balance. Live chunks pay through to the present
// only when the sweep fully drains the expired set; a sweep cut short by its
// iteration bound leaves the settlement level untouched so no interval is
// ever double counted across sweeps.
func (e *Engine) settleExpiry(maxIterations uint64) (*Globals, error) {
	g, err := e.globals()
	if err != nil {
		return nil, err
	}
	outPayment := e.currentTotalOutPayment(g)
	settledLevel := new(big.Int).Set(g.LastExpiryBalance)
	complete := true

	for i := uint64(0); ; i++ {
		if i >= maxIterations {
			complete = false
			break
		}
		head, ok := e.index.first()
		if !ok {
			break
		}
		if head.balance.Cmp(outPayment) > 0 {
			break
		}
		batch, err := e.state.GetBatch(head.id)
		if err != nil {
			return nil, err
		}
		if batch == nil {
			// index out of sync with the store; drop the stale entry
			e.index.remove(head.balance, head.id)
			continue
		}
		chunks := batch.Chunks()
		paid := new(big.Int).Sub(batch.NormalisedBalance, settledLevel)
		if paid.Sign() > 0 {
			g.Pot.Add(g.Pot, paid.Mul(paid, chunks))
		}
		g.ValidChunkCount.Sub(g.ValidChunkCount, chunks)
		if err := e.state.DeleteBatch(head.id); err != nil {
			return nil, err
		}
		e.index.remove(head.balance, head.id)
		e.emitter.Emit(events.BatchExpired{BatchID: head.id})
	}

	if complete {
		// Remaining batches are all live and pay for the whole interval.
		live := new(big.Int).Sub(outPayment, settledLevel)
		if live.Sign() > 0 && g.ValidChunkCount.Sign() > 0 {
			g.Pot.Add(g.Pot, live.Mul(live, g.ValidChunkCount))
		}
		g.LastExpiryBalance.Set(outPayment)
	}

	if err := e.state.PutPostageGlobals(g); err != nil {
		return nil, err
	}
	return g, nil
}

// Withdraw drains the pot to the recipient. Redistributor only.
func (e *Engine) Withdraw(caller, recipient [20]byte) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if e.roles == nil {
		return nil, nativecommon.ErrUnauthorized
	}
	if err := e.roles.Require(nativecommon.RoleRedistributor, caller); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	g, err := e.settleExpiry(maxExpiryIterations)
	if err != nil {
		return nil, err
	}
	amount := new(big.Int).Set(g.Pot)
	if amount.Sign() > 0 {
		if err := e.token.Transfer(recipient, amount); err != nil {
			return nil, err
		}
	}
	g.Pot.SetInt64(0)
	if err := e.state.PutPostageGlobals(g); err != nil {
		return nil, err
	}
	e.emitter.Emit(events.PotWithdrawn{Recipient: recipient, Amount: new(big.Int).Set(amount)})
	return amount, nil
}

// SetPrice records a new per-chunk-per-block price, settling the out-payment
// accumulator at the old rate first. Price-oracle role only.
func (e *Engine) SetPrice(caller [20]byte, price *big.Int) error {
	if e.state == nil {
		return errNilState
	}
	if e.roles == nil {
		return nativecommon.ErrUnauthorized
	}
	if err := e.roles.Require(nativecommon.RolePriceOracle, caller); err != nil {
		return err
	}
	if price == nil || price.Sign() <= 0 {
		return ErrZeroPrice
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	g, err := e.globals()
	if err != nil {
		return err
	}
	g.TotalOutPayment = e.currentTotalOutPayment(g)
	g.LastPrice = new(big.Int).Set(price)
	g.LastUpdatedBlock = e.currentBlock()
	if err := e.state.PutPostageGlobals(g); err != nil {
		return err
	}
	e.emitter.Emit(events.PriceUpdate{Price: new(big.Int).Set(price), Block: g.LastUpdatedBlock})
	return nil
}
