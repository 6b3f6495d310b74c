package redistribution

import (
	"errors"
	"math/big"
	"sync"

	"swarmchain/core/events"
	"swarmchain/crypto"
	nativecommon "swarmchain/native/common"
)

const moduleName = "game"

var (
	errNilState    = errors.New("redistribution engine: state not configured")
	errNilStakes   = errors.New("redistribution engine: stake registry not configured")
	errNilPot      = errors.New("redistribution engine: postage pot not configured")
	errNilVerifier = errors.New("redistribution engine: proof verifier not configured")
	errNilEntropy  = errors.New("redistribution engine: entropy source not configured")

	// ErrNotCommitPhase rejects commits outside the first quarter of a round.
	ErrNotCommitPhase = errors.New("redistribution engine: not commit phase")
	// ErrNotRevealPhase rejects reveals outside the second quarter.
	ErrNotRevealPhase = errors.New("redistribution engine: not reveal phase")
	// ErrNotClaimPhase rejects claim-side calls outside the second half.
	ErrNotClaimPhase = errors.New("redistribution engine: not claim phase")
	// ErrPhaseLastBlock rejects the final block of the commit and reveal
	// phases to avoid races at the phase cutover.
	ErrPhaseLastBlock = errors.New("redistribution engine: phase last block")
	// ErrWrongPhase rejects participation lookups during the reveal phase,
	// before the round's anchor is fixed.
	ErrWrongPhase = errors.New("redistribution engine: wrong phase for lookup")
	// ErrNotStaked rejects participants without usable (non-frozen) stake.
	ErrNotStaked = errors.New("redistribution engine: not staked")
	// ErrMustStake2Rounds rejects commits from freshly updated stakes.
	ErrMustStake2Rounds = errors.New("redistribution engine: stake not aged two rounds")
	// ErrCommitRoundOver rejects commits tagged with a past round.
	ErrCommitRoundOver = errors.New("redistribution engine: commit round over")
	// ErrCommitRoundNotStarted rejects commits tagged with a future round.
	ErrCommitRoundNotStarted = errors.New("redistribution engine: commit round not started")
	// ErrAlreadyCommitted rejects a second commit in the same round.
	ErrAlreadyCommitted = errors.New("redistribution engine: already committed")
	// ErrNoCommitsReceived rejects reveals in a round without commits.
	ErrNoCommitsReceived = errors.New("redistribution engine: no commits received")
	// ErrNoMatchingCommit rejects reveals whose re-hash matches no commit
	// from the current round.
	ErrNoMatchingCommit = errors.New("redistribution engine: no matching commit")
	// ErrAlreadyRevealed rejects double reveals.
	ErrAlreadyRevealed = errors.New("redistribution engine: already revealed")
	// ErrNoReveals rejects claim-side calls in a round without reveals.
	ErrNoReveals = errors.New("redistribution engine: no reveals")
	// ErrAlreadyClaimed rejects a second successful claim per round.
	ErrAlreadyClaimed = errors.New("redistribution engine: already claimed")
	// ErrNotWinner rejects claims from anyone but the round's winner.
	ErrNotWinner = errors.New("redistribution engine: caller did not win")
	// ErrOutOfDepth rejects reveals whose overlay is not within the claimed
	// depth of the round anchor.
	ErrOutOfDepth = errors.New("redistribution engine: overlay out of reported depth")
	// ErrBelowMinimumDepth rejects reveals below the participation floor.
	ErrBelowMinimumDepth = errors.New("redistribution engine: depth below minimum")
)

// StakeView is the game's read model of an operator's stake.
type StakeView struct {
	Overlay         crypto.Overlay
	Stake           *big.Int
	Height          uint8
	LastUpdateBlock uint64
	Staked          bool
}

// Stakes is the slice of the stake registry the game consumes. Freeze is
// backed by the registry's redistributor capability; freezing an identity
// whose record has since disappeared must be a no-op, not an error, so a
// mid-round exit cannot wedge the claim.
type Stakes interface {
	View(identity [20]byte) (StakeView, error)
	Freeze(identity [20]byte, blocks uint64) error
}

// Pot drains the postage ledger's accumulated payout, backed by the ledger's
// redistributor capability.
type Pot interface {
	Withdraw(recipient [20]byte) (*big.Int, error)
}

// ProofVerifier checks a winner's storage-inclusion proof against the round
// anchor. The verification scheme itself is an external collaborator.
type ProofVerifier interface {
	Verify(anchor [32]byte, reveal Reveal, proof []byte) error
}

// Entropy supplies per-round randomness. Production binds it to host-chain
// block data; tests inject fixed values. The game only ever mixes it through
// keccak, so the source needs no other structure.
type Entropy interface {
	RoundEntropy(round uint64) [32]byte
}

type engineState interface {
	GetRoundState() (*RoundState, error)
	PutRoundState(state *RoundState) error
}

// Engine runs the commit/reveal/claim Schelling game that redistributes the
// postage pot to one storer per round, weighted by stake density.
type Engine struct {
	state    engineState
	stakes   Stakes
	pot      Pot
	verifier ProofVerifier
	entropy  Entropy
	pauses   nativecommon.PauseView
	emitter  events.Emitter
	params   Params
	blockFn  func() uint64

	// mu serializes every call that touches the arenas or round state; the
	// host serves RPC calls and the block clock on separate goroutines.
	mu sync.Mutex

	// round-tagged arenas, reset lazily when a new round's first record lands
	commitsRound uint64
	commits      []Commit
	revealsRound uint64
	reveals      []Reveal
	anchorRound  uint64
	anchorFixed  bool
	roundAnchor  [32]byte
}

// NewEngine constructs the redistribution game.
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

// SetStakes wires the stake registry view and freeze capability.
func (e *Engine) SetStakes(stakes Stakes) { e.stakes = stakes }

// SetPot wires the postage pot withdraw capability.
func (e *Engine) SetPot(pot Pot) { e.pot = pot }

// SetVerifier wires the storage-inclusion proof collaborator.
func (e *Engine) SetVerifier(verifier ProofVerifier) { e.verifier = verifier }

// SetEntropy wires the per-round randomness source.
func (e *Engine) SetEntropy(entropy Entropy) { e.entropy = entropy }

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

// CurrentRound returns the round index at the current block.
func (e *Engine) CurrentRound() uint64 {
	return e.currentBlock() / e.params.RoundLength
}

// CurrentPhase returns the phase at the current block.
func (e *Engine) CurrentPhase() Phase {
	pos := e.currentBlock() % e.params.RoundLength
	quarter := e.params.RoundLength / 4
	switch {
	case pos < quarter:
		return PhaseCommit
	case pos < 2*quarter:
		return PhaseReveal
	default:
		return PhaseClaim
	}
}

// phaseLastBlock reports whether the current block is the final block of the
// commit or reveal phase.
func (e *Engine) phaseLastBlock() bool {
	pos := e.currentBlock() % e.params.RoundLength
	quarter := e.params.RoundLength / 4
	return pos == quarter-1 || pos == 2*quarter-1
}

func (e *Engine) roundState() (*RoundState, error) {
	s, err := e.state.GetRoundState()
	if err != nil {
		return nil, err
	}
	if s == nil {
		return &RoundState{CurrentMinimumDepth: e.params.InitialMinimumDepth}, nil
	}
	return s.Copy(), nil
}

// RoundStateView returns a copy of the persisted round state (read-only).
func (e *Engine) RoundStateView() (*RoundState, error) {
	if e.state == nil {
		return nil, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.roundState()
}

func (e *Engine) ready() error {
	switch {
	case e.state == nil:
		return errNilState
	case e.stakes == nil:
		return errNilStakes
	case e.entropy == nil:
		return errNilEntropy
	}
	return nil
}

// computeAnchor derives the reference point a round's reveals must prove
// proximity to: keccak256(seed || round || entropy(round)).
func (e *Engine) computeAnchor(seed [32]byte, round uint64) [32]byte {
	entropy := e.entropy.RoundEntropy(round)
	return crypto.Keccak256(seed[:], uint64BE(round), entropy[:])
}

// CurrentRoundAnchor returns the neighbourhood anchor for the current round:
// the value fixed by the round's first reveal, or its deterministic preview
// before any reveal has landed.
func (e *Engine) CurrentRoundAnchor() ([32]byte, error) {
	if err := e.ready(); err != nil {
		return [32]byte{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	current := e.CurrentRound()
	if e.anchorFixed && e.anchorRound == current {
		return e.roundAnchor, nil
	}
	rs, err := e.roundState()
	if err != nil {
		return [32]byte{}, err
	}
	return e.computeAnchor(rs.Seed, current), nil
}

// Commit seals an operator's participation in the given round. The round
// number is explicit so a transaction delayed past the cutover fails loudly
// instead of landing in the wrong round.
func (e *Engine) Commit(caller [20]byte, obfuscatedHash [32]byte, round uint64) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.CurrentPhase() != PhaseCommit {
		return ErrNotCommitPhase
	}
	if e.phaseLastBlock() {
		return ErrPhaseLastBlock
	}
	current := e.CurrentRound()
	if round < current {
		return ErrCommitRoundOver
	}
	if round > current {
		return ErrCommitRoundNotStarted
	}

	view, err := e.stakes.View(caller)
	if err != nil {
		return err
	}
	if !view.Staked || view.Stake == nil || view.Stake.Sign() == 0 {
		return ErrNotStaked
	}
	if e.currentBlock() < view.LastUpdateBlock+e.params.StakeAgeRounds*e.params.RoundLength {
		return ErrMustStake2Rounds
	}

	if e.commitsRound != current {
		e.commits = nil
		e.commitsRound = current
	}
	for i := range e.commits {
		if e.commits[i].Overlay == view.Overlay {
			return ErrAlreadyCommitted
		}
	}
	e.commits = append(e.commits, Commit{
		Overlay:        view.Overlay,
		Owner:          caller,
		Height:         view.Height,
		Stake:          new(big.Int).Set(view.Stake),
		ObfuscatedHash: obfuscatedHash,
	})
	e.emitter.Emit(events.GameCommitted{Round: current, Overlay: view.Overlay, Owner: caller})
	return nil
}

// Reveal opens a commitment from the current round. The first reveal of a
// round fixes the round anchor every reveal must prove proximity to at its
// claimed depth.
func (e *Engine) Reveal(caller [20]byte, depth uint8, reserveHash [32]byte, revealNonce [32]byte) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.CurrentPhase() != PhaseReveal {
		return ErrNotRevealPhase
	}
	if e.phaseLastBlock() {
		return ErrPhaseLastBlock
	}
	current := e.CurrentRound()
	if e.commitsRound != current || len(e.commits) == 0 {
		return ErrNoCommitsReceived
	}
	rs, err := e.roundState()
	if err != nil {
		return err
	}
	if depth < rs.CurrentMinimumDepth {
		return ErrBelowMinimumDepth
	}

	if e.anchorRound != current || !e.anchorFixed {
		e.roundAnchor = e.computeAnchor(rs.Seed, current)
		e.anchorRound = current
		e.anchorFixed = true
		e.emitter.Emit(events.GameAnchorFixed{Round: current, Anchor: e.roundAnchor})
	}

	commit := e.findCommit(caller, depth, reserveHash, revealNonce)
	if commit == nil {
		return ErrNoMatchingCommit
	}
	if commit.Revealed {
		return ErrAlreadyRevealed
	}
	if !crypto.InProximity(commit.Overlay, crypto.OverlayFromBytes(e.roundAnchor[:]), depth) {
		return ErrOutOfDepth
	}

	if e.revealsRound != current {
		e.reveals = nil
		e.revealsRound = current
	}
	commit.Revealed = true
	reveal := Reveal{
		Overlay:      commit.Overlay,
		Owner:        commit.Owner,
		Depth:        depth,
		Hash:         reserveHash,
		Stake:        new(big.Int).Set(commit.Stake),
		StakeDensity: stakeDensity(commit.Stake, depth, commit.Height),
	}
	e.reveals = append(e.reveals, reveal)
	e.emitter.Emit(events.GameRevealed{
		Round:        current,
		Overlay:      reveal.Overlay,
		Owner:        reveal.Owner,
		Depth:        depth,
		Stake:        new(big.Int).Set(reveal.Stake),
		StakeDensity: new(big.Int).Set(reveal.StakeDensity),
		Hash:         reserveHash,
	})
	return nil
}

// findCommit locates the caller's unrevealed commit whose sealed hash matches
// the reveal, or the already-revealed one so double reveals are
// distinguishable from mismatches.
func (e *Engine) findCommit(caller [20]byte, depth uint8, reserveHash [32]byte, nonce [32]byte) *Commit {
	for i := range e.commits {
		c := &e.commits[i]
		if c.Owner != caller {
			continue
		}
		if ObfuscateCommit(c.Overlay, depth, reserveHash, nonce) == c.ObfuscatedHash {
			return c
		}
	}
	return nil
}

// stakeDensity scales effective stake by 2^(depth-height): operators storing
// deeper than their declared height carry proportionally more weight.
func stakeDensity(stake *big.Int, depth, height uint8) *big.Int {
	if depth >= height {
		return new(big.Int).Lsh(stake, uint(depth-height))
	}
	return new(big.Int).Rsh(stake, uint(height-depth))
}

// claimReady gates the claim-phase read and mutate paths. Deliberately not
// pause-guarded on the read side: honesty checks must stay auditable during
// an emergency pause.
func (e *Engine) claimReady() error {
	if e.CurrentPhase() != PhaseClaim {
		return ErrNotClaimPhase
	}
	if e.revealsRound != e.CurrentRound() || len(e.reveals) == 0 {
		return ErrNoReveals
	}
	return nil
}

// CurrentRoundReveals returns copies of the round's reveals. Claim phase only.
func (e *Engine) CurrentRoundReveals() ([]Reveal, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.claimReady(); err != nil {
		return nil, err
	}
	out := make([]Reveal, 0, len(e.reveals))
	for _, r := range e.reveals {
		out = append(out, r.Copy())
	}
	return out, nil
}

// selectWinner draws a scalar over the summed stake densities and returns the
// reveal whose cumulative interval contains it. Exactly one reveal wins for
// any non-empty reveal set.
func (e *Engine) selectWinner(rs *RoundState) *Reveal {
	total := new(big.Int)
	for i := range e.reveals {
		total.Add(total, e.reveals[i].StakeDensity)
	}
	draw := new(big.Int)
	if total.Sign() > 0 {
		random := crypto.Keccak256(rs.Seed[:], e.roundAnchor[:])
		draw.SetBytes(random[:])
		draw.Mod(draw, total)
	}
	cumulative := new(big.Int)
	for i := range e.reveals {
		cumulative.Add(cumulative, e.reveals[i].StakeDensity)
		if draw.Cmp(cumulative) < 0 {
			return &e.reveals[i]
		}
	}
	// densities all zero: fall back to the first reveal so the draw still
	// names exactly one winner
	return &e.reveals[0]
}

// IsWinner reports whether the overlay won the current round's draw. Claim
// phase only; rejects once the round has been successfully claimed.
func (e *Engine) IsWinner(overlay crypto.Overlay) (bool, error) {
	if err := e.ready(); err != nil {
		return false, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.claimReady(); err != nil {
		return false, err
	}
	rs, err := e.roundState()
	if err != nil {
		return false, err
	}
	if rs.Claimed && rs.LastClaimedRound == e.CurrentRound() {
		return false, ErrAlreadyClaimed
	}
	return e.selectWinner(rs).Overlay == overlay, nil
}

// Claim pays the postage pot to the round's winner. The caller must be the
// winning operator and must present a storage-inclusion proof; revealers who
// disagreed with the winning commitment are frozen.
func (e *Engine) Claim(caller [20]byte, proof []byte) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if e.pot == nil {
		return nil, errNilPot
	}
	if e.verifier == nil {
		return nil, errNilVerifier
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.claimReady(); err != nil {
		return nil, err
	}
	current := e.CurrentRound()
	rs, err := e.roundState()
	if err != nil {
		return nil, err
	}
	if rs.Claimed && rs.LastClaimedRound == current {
		return nil, ErrAlreadyClaimed
	}

	winner := e.selectWinner(rs)
	if winner.Owner != caller {
		return nil, ErrNotWinner
	}
	if err := e.verifier.Verify(e.roundAnchor, winner.Copy(), proof); err != nil {
		return nil, err
	}

	// Disagreeing with the winning commitment forfeits eligibility for a
	// while: the freeze zeroes effective stake for the penalty window.
	freeze := e.params.PenaltyRounds * e.params.RoundLength
	for i := range e.reveals {
		r := &e.reveals[i]
		if r.Owner == caller {
			continue
		}
		if r.Hash != winner.Hash || r.Depth != winner.Depth {
			if err := e.stakes.Freeze(r.Owner, freeze); err != nil {
				return nil, err
			}
		}
	}

	amount, err := e.pot.Withdraw(winner.Owner)
	if err != nil {
		return nil, err
	}

	// Ratchet the participation floor one step toward the proven depth and
	// fold fresh entropy into the seed for the next round's draw.
	if winner.Depth > rs.CurrentMinimumDepth {
		rs.CurrentMinimumDepth++
	} else if winner.Depth < rs.CurrentMinimumDepth && rs.CurrentMinimumDepth > 0 {
		rs.CurrentMinimumDepth--
	}
	entropy := e.entropy.RoundEntropy(current)
	rs.Seed = crypto.Keccak256(rs.Seed[:], entropy[:])
	rs.LastClaimedRound = current
	rs.Claimed = true
	if err := e.state.PutRoundState(rs); err != nil {
		return nil, err
	}

	e.emitter.Emit(events.GameWon{
		Round:   current,
		Overlay: winner.Overlay,
		Owner:   winner.Owner,
		Amount:  new(big.Int).Set(amount),
		Depth:   winner.Depth,
	})
	return amount, nil
}

// IsParticipatingInUpcomingRound reports whether the identity's overlay
// falls within the anchor neighbourhood at the given depth. Usable during the
// commit phase (against the current round's anchor) and the claim phase
// (against the next round's projected anchor); during the reveal phase the
// anchor in play is only fixed by the first reveal, so lookups are rejected.
func (e *Engine) IsParticipatingInUpcomingRound(identity [20]byte, depth uint8) (bool, error) {
	if err := e.ready(); err != nil {
		return false, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	phase := e.CurrentPhase()
	if phase == PhaseReveal {
		return false, ErrWrongPhase
	}
	view, err := e.stakes.View(identity)
	if err != nil {
		return false, err
	}
	if !view.Staked || view.Stake == nil || view.Stake.Sign() == 0 {
		return false, ErrNotStaked
	}
	rs, err := e.roundState()
	if err != nil {
		return false, err
	}
	if depth < rs.CurrentMinimumDepth {
		return false, nil
	}

	current := e.CurrentRound()
	var anchor [32]byte
	if phase == PhaseCommit {
		anchor = e.computeAnchor(rs.Seed, current)
	} else {
		// Claim-phase lookahead projects the post-claim seed. If the round
		// was already claimed the stored seed has advanced.
		seed := rs.Seed
		if !rs.Claimed || rs.LastClaimedRound != current {
			entropy := e.entropy.RoundEntropy(current)
			seed = crypto.Keccak256(seed[:], entropy[:])
		}
		anchor = e.computeAnchor(seed, current+1)
	}
	return crypto.InProximity(view.Overlay, crypto.OverlayFromBytes(anchor[:]), depth), nil
}
