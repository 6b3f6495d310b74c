package state

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"

	"swarmchain/crypto"
	"swarmchain/native/oracle"
	"swarmchain/native/postage"
	"swarmchain/native/redistribution"
	"swarmchain/native/stake"
	"swarmchain/storage"
)

// Manager persists all incentive-module state in the underlying key-value
// store. It satisfies the state interface of every engine; a missing record
// is reported as a nil value, not an error.
type Manager struct {
	db storage.Database
}

// NewManager binds a manager to the provided storage backend.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

func (m *Manager) kvGet(key []byte, out interface{}) (bool, error) {
	raw, err := m.db.Get(key)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := rlp.DecodeBytes(raw, out); err != nil {
		return false, fmt.Errorf("state: decode %q: %w", key, err)
	}
	return true, nil
}

func (m *Manager) kvPut(key []byte, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return fmt.Errorf("state: encode %q: %w", key, err)
	}
	return m.db.Put(key, encoded)
}

// Amounts are stored as decimal strings so the encoding stays readable in
// inspection tooling and independent of big.Int's internal representation.
func formatBig(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func parseBig(s string) (*big.Int, error) {
	if s == "" {
		return big.NewInt(0), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("state: invalid stored amount %q", s)
	}
	return v, nil
}

// --- stake registry ---

type storedStakeRecord struct {
	Owner           [20]byte
	Overlay         [32]byte
	Collateral      string
	DeclaredHeight  uint8
	LastUpdateBlock uint64
	FrozenUntil     uint64
}

// GetStake loads the collateral record for an operator identity.
func (m *Manager) GetStake(addr [20]byte) (*stake.Record, error) {
	var stored storedStakeRecord
	ok, err := m.kvGet(stakeKey(addr), &stored)
	if err != nil || !ok {
		return nil, err
	}
	collateral, err := parseBig(stored.Collateral)
	if err != nil {
		return nil, err
	}
	return &stake.Record{
		Owner:           stored.Owner,
		Overlay:         crypto.OverlayFromBytes(stored.Overlay[:]),
		Collateral:      collateral,
		DeclaredHeight:  stored.DeclaredHeight,
		LastUpdateBlock: stored.LastUpdateBlock,
		FrozenUntil:     stored.FrozenUntil,
	}, nil
}

// PutStake stores the collateral record for an operator identity.
func (m *Manager) PutStake(addr [20]byte, record *stake.Record) error {
	if record == nil {
		return fmt.Errorf("state: stake record must not be nil")
	}
	return m.kvPut(stakeKey(addr), &storedStakeRecord{
		Owner:           record.Owner,
		Overlay:         [32]byte(record.Overlay),
		Collateral:      formatBig(record.Collateral),
		DeclaredHeight:  record.DeclaredHeight,
		LastUpdateBlock: record.LastUpdateBlock,
		FrozenUntil:     record.FrozenUntil,
	})
}

// DeleteStake removes the collateral record for an operator identity.
func (m *Manager) DeleteStake(addr [20]byte) error {
	return m.db.Delete(stakeKey(addr))
}

// --- postage ledger ---

type storedBatch struct {
	Owner             [20]byte
	Depth             uint8
	BucketDepth       uint8
	Immutable         bool
	NormalisedBalance string
}

type storedPostageGlobals struct {
	TotalOutPayment   string
	LastExpiryBalance string
	LastPrice         string
	Pot               string
	ValidChunkCount   string
	LastUpdatedBlock  uint64
}

func (s *storedBatch) toBatch() (*postage.Batch, error) {
	balance, err := parseBig(s.NormalisedBalance)
	if err != nil {
		return nil, err
	}
	return &postage.Batch{
		Owner:             s.Owner,
		Depth:             s.Depth,
		BucketDepth:       s.BucketDepth,
		Immutable:         s.Immutable,
		NormalisedBalance: balance,
	}, nil
}

// GetBatch loads a batch by identifier.
func (m *Manager) GetBatch(id postage.BatchID) (*postage.Batch, error) {
	var stored storedBatch
	ok, err := m.kvGet(batchKey(id), &stored)
	if err != nil || !ok {
		return nil, err
	}
	return stored.toBatch()
}

// PutBatch stores a batch under its identifier.
func (m *Manager) PutBatch(id postage.BatchID, batch *postage.Batch) error {
	if batch == nil {
		return fmt.Errorf("state: batch must not be nil")
	}
	return m.kvPut(batchKey(id), &storedBatch{
		Owner:             batch.Owner,
		Depth:             batch.Depth,
		BucketDepth:       batch.BucketDepth,
		Immutable:         batch.Immutable,
		NormalisedBalance: formatBig(batch.NormalisedBalance),
	})
}

// DeleteBatch removes a batch from the store.
func (m *Manager) DeleteBatch(id postage.BatchID) error {
	return m.db.Delete(batchKey(id))
}

// IterateBatches walks every stored batch in ascending identifier order.
// Returning false from the callback stops the walk.
func (m *Manager) IterateBatches(fn func(id postage.BatchID, batch *postage.Batch) bool) error {
	var iterErr error
	err := m.db.Iterate(postageBatchPrefix, func(key, value []byte) bool {
		suffix := key[len(postageBatchPrefix):]
		if len(suffix) != 32 {
			iterErr = fmt.Errorf("state: malformed batch key %x", key)
			return false
		}
		var id postage.BatchID
		copy(id[:], suffix)
		var stored storedBatch
		if err := rlp.DecodeBytes(value, &stored); err != nil {
			iterErr = fmt.Errorf("state: decode batch %s: %w", id, err)
			return false
		}
		batch, err := stored.toBatch()
		if err != nil {
			iterErr = err
			return false
		}
		return fn(id, batch)
	})
	if err != nil {
		return err
	}
	return iterErr
}

// GetPostageGlobals loads the ledger accumulators.
func (m *Manager) GetPostageGlobals() (*postage.Globals, error) {
	var stored storedPostageGlobals
	ok, err := m.kvGet(postageGlobalsKey, &stored)
	if err != nil || !ok {
		return nil, err
	}
	g := &postage.Globals{LastUpdatedBlock: stored.LastUpdatedBlock}
	if g.TotalOutPayment, err = parseBig(stored.TotalOutPayment); err != nil {
		return nil, err
	}
	if g.LastExpiryBalance, err = parseBig(stored.LastExpiryBalance); err != nil {
		return nil, err
	}
	if g.LastPrice, err = parseBig(stored.LastPrice); err != nil {
		return nil, err
	}
	if g.Pot, err = parseBig(stored.Pot); err != nil {
		return nil, err
	}
	if g.ValidChunkCount, err = parseBig(stored.ValidChunkCount); err != nil {
		return nil, err
	}
	return g, nil
}

// PutPostageGlobals stores the ledger accumulators.
func (m *Manager) PutPostageGlobals(globals *postage.Globals) error {
	if globals == nil {
		return fmt.Errorf("state: postage globals must not be nil")
	}
	return m.kvPut(postageGlobalsKey, &storedPostageGlobals{
		TotalOutPayment:   formatBig(globals.TotalOutPayment),
		LastExpiryBalance: formatBig(globals.LastExpiryBalance),
		LastPrice:         formatBig(globals.LastPrice),
		Pot:               formatBig(globals.Pot),
		ValidChunkCount:   formatBig(globals.ValidChunkCount),
		LastUpdatedBlock:  globals.LastUpdatedBlock,
	})
}

// --- price oracle ---

type storedOracleState struct {
	CurrentPrice      string
	LastAdjustedRound uint64
}

// GetOracleState loads the oracle bookkeeping.
func (m *Manager) GetOracleState() (*oracle.State, error) {
	var stored storedOracleState
	ok, err := m.kvGet(oracleStateKey, &stored)
	if err != nil || !ok {
		return nil, err
	}
	price, err := parseBig(stored.CurrentPrice)
	if err != nil {
		return nil, err
	}
	return &oracle.State{
		CurrentPrice:      price,
		LastAdjustedRound: stored.LastAdjustedRound,
	}, nil
}

// PutOracleState stores the oracle bookkeeping.
func (m *Manager) PutOracleState(state *oracle.State) error {
	if state == nil {
		return fmt.Errorf("state: oracle state must not be nil")
	}
	return m.kvPut(oracleStateKey, &storedOracleState{
		CurrentPrice:      formatBig(state.CurrentPrice),
		LastAdjustedRound: state.LastAdjustedRound,
	})
}

// --- chain clock ---

type storedChainHeight struct {
	Height uint64
}

// GetChainHeight loads the last persisted block height; zero when fresh.
func (m *Manager) GetChainHeight() (uint64, error) {
	var stored storedChainHeight
	ok, err := m.kvGet(chainHeightKey, &stored)
	if err != nil || !ok {
		return 0, err
	}
	return stored.Height, nil
}

// PutChainHeight stores the block height so rounds survive a restart.
func (m *Manager) PutChainHeight(height uint64) error {
	return m.kvPut(chainHeightKey, &storedChainHeight{Height: height})
}

// --- redistribution game ---

type storedRoundState struct {
	Seed                [32]byte
	CurrentMinimumDepth uint8
	LastClaimedRound    uint64
	Claimed             bool
}

// GetRoundState loads the game's persisted round bookkeeping.
func (m *Manager) GetRoundState() (*redistribution.RoundState, error) {
	var stored storedRoundState
	ok, err := m.kvGet(gameRoundStateKey, &stored)
	if err != nil || !ok {
		return nil, err
	}
	return &redistribution.RoundState{
		Seed:                stored.Seed,
		CurrentMinimumDepth: stored.CurrentMinimumDepth,
		LastClaimedRound:    stored.LastClaimedRound,
		Claimed:             stored.Claimed,
	}, nil
}

// PutRoundState stores the game's round bookkeeping.
func (m *Manager) PutRoundState(state *redistribution.RoundState) error {
	if state == nil {
		return fmt.Errorf("state: round state must not be nil")
	}
	return m.kvPut(gameRoundStateKey, &storedRoundState{
		Seed:                state.Seed,
		CurrentMinimumDepth: state.CurrentMinimumDepth,
		LastClaimedRound:    state.LastClaimedRound,
		Claimed:             state.Claimed,
	})
}
