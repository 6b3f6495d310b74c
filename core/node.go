package core

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync/atomic"

	"swarmchain/core/events"
	"swarmchain/core/state"
	"swarmchain/core/types"
	"swarmchain/crypto"
	nativecommon "swarmchain/native/common"
	"swarmchain/native/oracle"
	"swarmchain/native/postage"
	"swarmchain/native/redistribution"
	"swarmchain/native/stake"
	"swarmchain/observability/metrics"
	"swarmchain/storage"
)

// Module names used for pause gating and module-account derivation.
const (
	ModuleStake   = "stake"
	ModulePostage = "postage"
	ModuleOracle  = "oracle"
	ModuleGame    = "game"
)

var (
	// ErrUnknownModule rejects pause operations on names outside the ledger.
	ErrUnknownModule = errors.New("node: unknown module")
	// ErrInvalidProof rejects claim proofs that do not bind to the round.
	ErrInvalidProof = errors.New("node: proof does not bind to round anchor")
)

// Allocation is a genesis token grant.
type Allocation struct {
	Address [20]byte
	Amount  *big.Int
}

// Config carries everything the node needs beyond its storage backend.
type Config struct {
	// ChainSalt seeds per-round entropy; all nodes of a network share it.
	ChainSalt [32]byte

	StakeParams   stake.Params
	PostageParams postage.Params
	OracleParams  oracle.Params
	GameParams    redistribution.Params

	// Admin holds the admin and pauser roles from genesis.
	Admin [20]byte
	// OracleUpdaters may report redundancy to the price oracle.
	OracleUpdaters [][20]byte
	// Pausers may pause and unpause modules, in addition to Admin.
	Pausers [][20]byte
	// Allocations funds accounts at construction time.
	Allocations []Allocation
}

// Node hosts the four incentive engines over one persistence layer: it owns
// the block clock, the role registry, the module escrow accounts and the
// capability adapters between engines.
type Node struct {
	db       storage.Database
	log      *slog.Logger
	manager  *state.Manager
	accounts *state.Accounts
	roles    *nativecommon.Roles
	pauses   *nativecommon.Pauses
	metrics  *metrics.IncentiveMetrics

	stakeEngine   *stake.Engine
	postageEngine *postage.Engine
	oracleEngine  *oracle.Engine
	gameEngine    *redistribution.Engine

	stakeAccount   [20]byte
	postageAccount [20]byte
	oracleAccount  [20]byte
	gameAccount    [20]byte

	height atomic.Uint64
}

// moduleAccount derives the escrow address of a native module. Module
// accounts never sign anything; they exist only as balance-book entries.
func moduleAccount(name string) [20]byte {
	digest := crypto.Keccak256([]byte("swarmchain/module/" + name))
	var addr [20]byte
	copy(addr[:], digest[12:])
	return addr
}

// NewNode wires the engines, roles, escrow accounts and adapters together
// over the provided storage backend.
func NewNode(db storage.Database, cfg Config, log *slog.Logger) (*Node, error) {
	if log == nil {
		log = slog.Default()
	}
	n := &Node{
		db:             db,
		log:            log,
		manager:        state.NewManager(db),
		accounts:       state.NewAccounts(db),
		roles:          nativecommon.NewRoles(),
		pauses:         nativecommon.NewPauses(),
		metrics:        metrics.Incentives(),
		stakeAccount:   moduleAccount(ModuleStake),
		postageAccount: moduleAccount(ModulePostage),
		oracleAccount:  moduleAccount(ModuleOracle),
		gameAccount:    moduleAccount(ModuleGame),
	}

	for _, alloc := range cfg.Allocations {
		if err := n.accounts.Mint(alloc.Address, alloc.Amount); err != nil {
			return nil, fmt.Errorf("node: genesis allocation for %x: %w", alloc.Address, err)
		}
	}

	n.roles.Grant(nativecommon.RoleAdmin, cfg.Admin)
	n.roles.Grant(nativecommon.RolePauser, cfg.Admin)
	for _, pauser := range cfg.Pausers {
		n.roles.Grant(nativecommon.RolePauser, pauser)
	}
	for _, updater := range cfg.OracleUpdaters {
		n.roles.Grant(nativecommon.RoleOracleUpdater, updater)
	}
	// The game account drives freezes and pot withdrawals; the oracle account
	// pushes prices into the postage ledger. Both act through capabilities,
	// never through external transactions.
	n.roles.Grant(nativecommon.RoleRedistributor, n.gameAccount)
	n.roles.Grant(nativecommon.RolePriceOracle, n.oracleAccount)

	emitter := &eventFanout{log: log, metrics: n.metrics}
	blockFn := n.height.Load

	var err error
	if n.stakeEngine, err = stake.NewEngine(n.stakeAccount, cfg.StakeParams); err != nil {
		return nil, err
	}
	n.stakeEngine.SetState(n.manager)
	n.stakeEngine.SetToken(state.NewTokenCapability(n.accounts, n.stakeAccount))
	n.stakeEngine.SetRoles(n.roles)
	n.stakeEngine.SetPauses(n.pauses)
	n.stakeEngine.SetEmitter(emitter)
	n.stakeEngine.SetBlockSource(blockFn)

	if n.postageEngine, err = postage.NewEngine(n.postageAccount, cfg.PostageParams); err != nil {
		return nil, err
	}
	n.postageEngine.SetState(n.manager)
	n.postageEngine.SetToken(state.NewTokenCapability(n.accounts, n.postageAccount))
	n.postageEngine.SetRoles(n.roles)
	n.postageEngine.SetPauses(n.pauses)
	n.postageEngine.SetEmitter(emitter)
	n.postageEngine.SetBlockSource(blockFn)
	if err := n.postageEngine.LoadIndex(); err != nil {
		return nil, fmt.Errorf("node: rebuild expiry index: %w", err)
	}

	if n.oracleEngine, err = oracle.NewEngine(cfg.OracleParams); err != nil {
		return nil, err
	}
	n.oracleEngine.SetState(n.manager)
	n.oracleEngine.SetLedger(&oracleLedger{node: n})
	n.oracleEngine.SetRoles(n.roles)
	n.oracleEngine.SetPauses(n.pauses)
	n.oracleEngine.SetEmitter(emitter)
	n.oracleEngine.SetBlockSource(blockFn)

	if n.gameEngine, err = redistribution.NewEngine(cfg.GameParams); err != nil {
		return nil, err
	}
	n.gameEngine.SetState(n.manager)
	n.gameEngine.SetStakes(&gameStakes{node: n})
	n.gameEngine.SetPot(&gamePot{node: n})
	n.gameEngine.SetVerifier(anchorBoundVerifier{})
	n.gameEngine.SetEntropy(chainEntropy{salt: cfg.ChainSalt})
	n.gameEngine.SetPauses(n.pauses)
	n.gameEngine.SetEmitter(emitter)
	n.gameEngine.SetBlockSource(blockFn)

	height, err := n.manager.GetChainHeight()
	if err != nil {
		return nil, fmt.Errorf("node: restore chain height: %w", err)
	}
	n.height.Store(height)

	return n, nil
}

// Stake returns the stake registry engine.
func (n *Node) Stake() *stake.Engine { return n.stakeEngine }

// Postage returns the postage ledger engine.
func (n *Node) Postage() *postage.Engine { return n.postageEngine }

// Oracle returns the price oracle engine.
func (n *Node) Oracle() *oracle.Engine { return n.oracleEngine }

// Game returns the redistribution game engine.
func (n *Node) Game() *redistribution.Engine { return n.gameEngine }

// Accounts returns the token balance book.
func (n *Node) Accounts() *state.Accounts { return n.accounts }

// Height returns the current block height.
func (n *Node) Height() uint64 { return n.height.Load() }

// SetHeight installs a height directly; startup and tests only.
func (n *Node) SetHeight(height uint64) { n.height.Store(height) }

// AdvanceBlock ticks the clock one block forward, persists it and refreshes
// the gauges that track ledger aggregates.
func (n *Node) AdvanceBlock() (uint64, error) {
	height := n.height.Add(1)
	if err := n.manager.PutChainHeight(height); err != nil {
		return height, fmt.Errorf("node: persist chain height: %w", err)
	}
	n.refreshGauges()
	return height, nil
}

// SweepExpired retires drained postage batches in bounded slices. The block
// clock calls it every block so expiry keeps pace without client prompting.
func (n *Node) SweepExpired() error {
	return n.postageEngine.ExpireLimited(expirySweepBudget)
}

// expirySweepBudget bounds the per-block expiry walk so a backlog of drained
// batches cannot stall block production.
const expirySweepBudget = 128

func (n *Node) refreshGauges() {
	if pot, err := n.postageEngine.Pot(); err == nil {
		f, _ := new(big.Float).SetInt(pot).Float64()
		n.metrics.SetPot(f)
	}
	if chunks, err := n.postageEngine.ValidChunkCount(); err == nil {
		f, _ := new(big.Float).SetInt(chunks).Float64()
		n.metrics.SetValidChunks(f)
	}
	if price, err := n.oracleEngine.CurrentPrice(); err == nil {
		f, _ := new(big.Float).SetInt(price).Float64()
		n.metrics.SetPrice(f)
	}
	n.metrics.SetRound(float64(n.gameEngine.CurrentRound()))
}

func knownModule(module string) bool {
	switch module {
	case ModuleStake, ModulePostage, ModuleOracle, ModuleGame:
		return true
	}
	return false
}

// Pause halts the mutating entry points of a module. Pauser role only.
func (n *Node) Pause(caller [20]byte, module string) error {
	if err := n.roles.Require(nativecommon.RolePauser, caller); err != nil {
		return err
	}
	if !knownModule(module) {
		return ErrUnknownModule
	}
	n.pauses.Pause(module)
	n.log.Info("module paused", "module", module)
	return nil
}

// Unpause resumes a module. Pauser role only.
func (n *Node) Unpause(caller [20]byte, module string) error {
	if err := n.roles.Require(nativecommon.RolePauser, caller); err != nil {
		return err
	}
	if !knownModule(module) {
		return ErrUnknownModule
	}
	n.pauses.Unpause(module)
	n.log.Info("module unpaused", "module", module)
	return nil
}

// GrantRole adds an address to a role's member set. Admin only.
func (n *Node) GrantRole(caller [20]byte, role string, addr [20]byte) error {
	if err := n.roles.Require(nativecommon.RoleAdmin, caller); err != nil {
		return err
	}
	n.roles.Grant(role, addr)
	n.log.Info("role granted", "role", role, "address", fmt.Sprintf("%x", addr))
	return nil
}

// RevokeRole removes an address from a role's member set. Admin only.
func (n *Node) RevokeRole(caller [20]byte, role string, addr [20]byte) error {
	if err := n.roles.Require(nativecommon.RoleAdmin, caller); err != nil {
		return err
	}
	n.roles.Revoke(role, addr)
	n.log.Info("role revoked", "role", role, "address", fmt.Sprintf("%x", addr))
	return nil
}

// --- capability adapters ---

// gameStakes narrows the stake registry to the read/freeze slice the game
// consumes, acting under the game module's redistributor role.
type gameStakes struct {
	node *Node
}

func (a *gameStakes) View(identity [20]byte) (redistribution.StakeView, error) {
	record, err := a.node.stakeEngine.GetStake(identity)
	if err != nil || record == nil {
		return redistribution.StakeView{}, err
	}
	effective, err := a.node.stakeEngine.EffectiveStake(identity)
	if err != nil {
		return redistribution.StakeView{}, err
	}
	return redistribution.StakeView{
		Overlay:         record.Overlay,
		Stake:           effective,
		Height:          record.DeclaredHeight,
		LastUpdateBlock: record.LastUpdateBlock,
		Staked:          true,
	}, nil
}

func (a *gameStakes) Freeze(identity [20]byte, blocks uint64) error {
	record, err := a.node.stakeEngine.GetStake(identity)
	if err != nil {
		return err
	}
	if record == nil {
		// the operator exited mid-round; nothing left to freeze
		return nil
	}
	return a.node.stakeEngine.FreezeDeposit(a.node.gameAccount, identity, blocks)
}

// gamePot drains the postage pot under the game module's redistributor role.
type gamePot struct {
	node *Node
}

func (a *gamePot) Withdraw(recipient [20]byte) (*big.Int, error) {
	return a.node.postageEngine.Withdraw(a.node.gameAccount, recipient)
}

// oracleLedger pushes oracle prices into the postage ledger under the oracle
// module's price-oracle role.
type oracleLedger struct {
	node *Node
}

func (a *oracleLedger) SetPrice(price *big.Int) error {
	return a.node.postageEngine.SetPrice(a.node.oracleAccount, price)
}

// chainEntropy derives per-round randomness from the shared chain salt.
type chainEntropy struct {
	salt [32]byte
}

func (e chainEntropy) RoundEntropy(round uint64) [32]byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], round)
	return crypto.Keccak256(e.salt[:], buf[:])
}

// anchorBoundVerifier is the host's default claim check: the proof bytes must
// equal keccak256(anchor || overlay || reserveHash), binding the claim to the
// round and the winning reveal. Deployments running a full storage
// inclusion-proof scheme install their verifier on the game engine instead.
type anchorBoundVerifier struct{}

// ProofFor computes the proof bytes the default verifier accepts.
func ProofFor(anchor [32]byte, overlay crypto.Overlay, reserveHash [32]byte) []byte {
	digest := crypto.Keccak256(anchor[:], overlay[:], reserveHash[:])
	return digest[:]
}

func (anchorBoundVerifier) Verify(anchor [32]byte, reveal redistribution.Reveal, proof []byte) error {
	expected := crypto.Keccak256(anchor[:], reveal.Overlay[:], reveal.Hash[:])
	if !bytes.Equal(proof, expected[:]) {
		return ErrInvalidProof
	}
	return nil
}

// eventFanout forwards engine events to the structured log and the metrics
// registry.
type eventFanout struct {
	log     *slog.Logger
	metrics *metrics.IncentiveMetrics
}

// wireEvent is satisfied by every typed event in core/events.
type wireEvent interface {
	Event() *types.Event
}

func (f *eventFanout) Emit(evt events.Event) {
	if wire, ok := evt.(wireEvent); ok {
		e := wire.Event()
		args := make([]any, 0, 2*len(e.Attributes))
		for k, v := range e.Attributes {
			args = append(args, k, v)
		}
		f.log.Info(e.Type, args...)
	} else {
		f.log.Info(evt.EventType())
	}

	switch evt.EventType() {
	case events.TypeStakeUpdated:
		f.metrics.ObserveStakeOp("manage")
	case events.TypeStakeFrozen:
		f.metrics.ObserveStakeOp("freeze")
	case events.TypeStakeSlashed:
		f.metrics.ObserveStakeOp("slash")
	case events.TypeStakeWithdrawn:
		f.metrics.ObserveStakeOp("migrate")
	case events.TypeBatchCreated:
		f.metrics.ObserveBatchOp("create")
	case events.TypeBatchTopUp:
		f.metrics.ObserveBatchOp("topUp")
	case events.TypeBatchDepthIncrease:
		f.metrics.ObserveBatchOp("increaseDepth")
	case events.TypeBatchExpired:
		f.metrics.ObserveBatchOp("expire")
	case events.TypePotWithdrawn:
		f.metrics.ObserveBatchOp("potWithdraw")
	case events.TypePriceAdjusted:
		f.metrics.ObservePriceAdjustment()
	case events.TypePricePushFailed:
		f.metrics.ObservePricePushFailure()
	case events.TypeGameCommitted:
		f.metrics.ObserveCommit()
	case events.TypeGameRevealed:
		f.metrics.ObserveReveal()
	case events.TypeGameWon:
		f.metrics.ObserveClaim()
	}
}
