package redistribution

import (
	"errors"
	"math/big"
	"sync"
	"testing"

	"swarmchain/crypto"
	nativecommon "swarmchain/native/common"
)

type mockStakes struct {
	views   map[[20]byte]StakeView
	freezes map[[20]byte]uint64
}

func newMockStakes() *mockStakes {
	return &mockStakes{
		views:   make(map[[20]byte]StakeView),
		freezes: make(map[[20]byte]uint64),
	}
}

func (m *mockStakes) View(identity [20]byte) (StakeView, error) {
	view, ok := m.views[identity]
	if !ok {
		return StakeView{}, nil
	}
	return view, nil
}

func (m *mockStakes) Freeze(identity [20]byte, blocks uint64) error {
	if _, ok := m.views[identity]; !ok {
		return nil
	}
	m.freezes[identity] = blocks
	return nil
}

type mockPot struct {
	amount     *big.Int
	recipients [][20]byte
}

func (m *mockPot) Withdraw(recipient [20]byte) (*big.Int, error) {
	m.recipients = append(m.recipients, recipient)
	amount := m.amount
	if amount == nil {
		amount = big.NewInt(0)
	}
	m.amount = big.NewInt(0)
	return new(big.Int).Set(amount), nil
}

type mockVerifier struct {
	fail error
}

func (m *mockVerifier) Verify(anchor [32]byte, reveal Reveal, proof []byte) error {
	return m.fail
}

type fixedEntropy struct{}

func (fixedEntropy) RoundEntropy(round uint64) [32]byte {
	return crypto.Keccak256([]byte{byte(round), byte(round >> 8), byte(round >> 16)})
}

type mockState struct {
	rs *RoundState
}

func (m *mockState) GetRoundState() (*RoundState, error) {
	return m.rs.Copy(), nil
}

func (m *mockState) PutRoundState(state *RoundState) error {
	m.rs = state.Copy()
	return nil
}

func makeAddr(fill byte) [20]byte {
	var a [20]byte
	for i := range a {
		a[i] = fill
	}
	return a
}

// roundLength 16: commit blocks 0-3, reveal 4-7, claim 8-15
const testRoundLength = 16

type fixture struct {
	engine   *Engine
	state    *mockState
	stakes   *mockStakes
	pot      *mockPot
	verifier *mockVerifier
	pauses   *nativecommon.Pauses
	block    uint64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	params := Params{
		RoundLength:         testRoundLength,
		StakeAgeRounds:      2,
		PenaltyRounds:       2,
		InitialMinimumDepth: 0,
	}
	engine, err := NewEngine(params)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	f := &fixture{
		engine:   engine,
		state:    &mockState{},
		stakes:   newMockStakes(),
		pot:      &mockPot{amount: big.NewInt(1_000)},
		verifier: &mockVerifier{},
		pauses:   nativecommon.NewPauses(),
	}
	engine.SetState(f.state)
	engine.SetStakes(f.stakes)
	engine.SetPot(f.pot)
	engine.SetVerifier(f.verifier)
	engine.SetEntropy(fixedEntropy{})
	engine.SetPauses(f.pauses)
	engine.SetBlockSource(func() uint64 { return f.block })
	return f
}

// addStaker registers a view whose overlay shares its leading bytes with the
// given round's anchor, differing only in the low byte, so any depth up to
// 248 bits passes the proximity check.
func (f *fixture) addStaker(t *testing.T, fill byte, stake int64, height uint8, round uint64) [20]byte {
	t.Helper()
	identity := makeAddr(fill)
	f.gotoCommit(round)
	anchor, err := f.engine.CurrentRoundAnchor()
	if err != nil {
		t.Fatalf("round anchor: %v", err)
	}
	overlayBytes := anchor
	overlayBytes[31] = fill
	f.stakes.views[identity] = StakeView{
		Overlay: crypto.OverlayFromBytes(overlayBytes[:]),
		Stake:   big.NewInt(stake),
		Height:  height,
		Staked:  true,
	}
	return identity
}

func (f *fixture) gotoCommit(round uint64) { f.block = round*testRoundLength + 1 }
func (f *fixture) gotoReveal(round uint64) { f.block = round*testRoundLength + 5 }
func (f *fixture) gotoClaim(round uint64)  { f.block = round*testRoundLength + 9 }

func (f *fixture) commit(t *testing.T, identity [20]byte, round uint64, depth uint8, hash, nonce [32]byte) {
	t.Helper()
	f.gotoCommit(round)
	view := f.stakes.views[identity]
	obfuscated := ObfuscateCommit(view.Overlay, depth, hash, nonce)
	if err := f.engine.Commit(identity, obfuscated, round); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func (f *fixture) reveal(t *testing.T, identity [20]byte, round uint64, depth uint8, hash, nonce [32]byte) {
	t.Helper()
	f.gotoReveal(round)
	if err := f.engine.Reveal(identity, depth, hash, nonce); err != nil {
		t.Fatalf("reveal: %v", err)
	}
}

func TestExactlyOneWinner(t *testing.T) {
	f := newFixture(t)
	const round = 3
	hash := [32]byte{0xAA}
	nonce := [32]byte{0x01}

	var identities [][20]byte
	for _, fill := range []byte{0x01, 0x02, 0x03, 0x04} {
		identities = append(identities, f.addStaker(t, fill, 100, 0, round))
	}
	for _, id := range identities {
		f.commit(t, id, round, 16, hash, nonce)
	}
	for _, id := range identities {
		f.reveal(t, id, round, 16, hash, nonce)
	}

	f.gotoClaim(round)
	winners := 0
	for _, id := range identities {
		won, err := f.engine.IsWinner(f.stakes.views[id].Overlay)
		if err != nil {
			t.Fatalf("isWinner: %v", err)
		}
		if won {
			winners++
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners)
	}
}

func TestStakeWeightedFairness(t *testing.T) {
	f := newFixture(t)
	hash := [32]byte{0xBB}
	nonce := [32]byte{0x02}

	winsHeavy, winsLight := 0, 0
	for round := uint64(3); round < 63; round++ {
		heavy := f.addStaker(t, 0x10, 1_000, 0, round)
		light := f.addStaker(t, 0x20, 100, 0, round)

		f.commit(t, heavy, round, 8, hash, nonce)
		f.commit(t, light, round, 8, hash, nonce)
		f.reveal(t, heavy, round, 8, hash, nonce)
		f.reveal(t, light, round, 8, hash, nonce)

		f.gotoClaim(round)
		won, err := f.engine.IsWinner(f.stakes.views[heavy].Overlay)
		if err != nil {
			t.Fatalf("isWinner: %v", err)
		}
		if won {
			winsHeavy++
		} else {
			winsLight++
		}
	}
	if winsHeavy <= winsLight {
		t.Fatalf("10x stake density must win more often: heavy %d light %d", winsHeavy, winsLight)
	}
}

func TestNoRevealNoWin(t *testing.T) {
	f := newFixture(t)
	const round = 3
	id := f.addStaker(t, 0x01, 100, 0, round)
	f.commit(t, id, round, 8, [32]byte{0xCC}, [32]byte{0x03})

	f.gotoClaim(round)
	if _, err := f.engine.IsWinner(f.stakes.views[id].Overlay); !errors.Is(err, ErrNoReveals) {
		t.Fatalf("expected ErrNoReveals, got %v", err)
	}
	if _, err := f.engine.CurrentRoundReveals(); !errors.Is(err, ErrNoReveals) {
		t.Fatalf("expected ErrNoReveals, got %v", err)
	}
}

func TestCommitRoundScoped(t *testing.T) {
	f := newFixture(t)
	const round = 3
	id := f.addStaker(t, 0x01, 100, 0, round)
	view := f.stakes.views[id]
	obfuscated := ObfuscateCommit(view.Overlay, 8, [32]byte{0xDD}, [32]byte{0x04})

	f.gotoCommit(round)
	if err := f.engine.Commit(id, obfuscated, round-1); !errors.Is(err, ErrCommitRoundOver) {
		t.Fatalf("expected ErrCommitRoundOver, got %v", err)
	}
	if err := f.engine.Commit(id, obfuscated, round+1); !errors.Is(err, ErrCommitRoundNotStarted) {
		t.Fatalf("expected ErrCommitRoundNotStarted, got %v", err)
	}
	if err := f.engine.Commit(id, obfuscated, round); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := f.engine.Commit(id, obfuscated, round); !errors.Is(err, ErrAlreadyCommitted) {
		t.Fatalf("expected ErrAlreadyCommitted, got %v", err)
	}
}

func TestRevealRequiresCurrentRoundCommit(t *testing.T) {
	f := newFixture(t)
	hash := [32]byte{0xEE}
	nonce := [32]byte{0x05}

	stale := f.addStaker(t, 0x01, 100, 0, 3)
	f.commit(t, stale, 3, 8, hash, nonce)

	// no commits at all in round 4
	f.gotoReveal(4)
	if err := f.engine.Reveal(stale, 8, hash, nonce); !errors.Is(err, ErrNoCommitsReceived) {
		t.Fatalf("expected ErrNoCommitsReceived, got %v", err)
	}

	// a fresh commit opens round 4's arena, but the stale operator still has
	// no commit in it
	fresh := f.addStaker(t, 0x02, 100, 0, 4)
	f.commit(t, fresh, 4, 8, hash, nonce)
	f.gotoReveal(4)
	if err := f.engine.Reveal(stale, 8, hash, nonce); !errors.Is(err, ErrNoMatchingCommit) {
		t.Fatalf("expected ErrNoMatchingCommit, got %v", err)
	}
}

func TestRevealHashAndDepthMustMatch(t *testing.T) {
	f := newFixture(t)
	const round = 3
	hash := [32]byte{0x11}
	nonce := [32]byte{0x06}
	id := f.addStaker(t, 0x01, 100, 0, round)
	f.commit(t, id, round, 8, hash, nonce)

	f.gotoReveal(round)
	if err := f.engine.Reveal(id, 8, hash, [32]byte{0x99}); !errors.Is(err, ErrNoMatchingCommit) {
		t.Fatalf("wrong nonce: expected ErrNoMatchingCommit, got %v", err)
	}
	// depth is hashed into the commitment, so a different depth cannot match
	if err := f.engine.Reveal(id, 9, hash, nonce); !errors.Is(err, ErrNoMatchingCommit) {
		t.Fatalf("wrong depth: expected ErrNoMatchingCommit, got %v", err)
	}
	if err := f.engine.Reveal(id, 8, hash, nonce); err != nil {
		t.Fatalf("reveal: %v", err)
	}
	if err := f.engine.Reveal(id, 8, hash, nonce); !errors.Is(err, ErrAlreadyRevealed) {
		t.Fatalf("expected ErrAlreadyRevealed, got %v", err)
	}
}

func TestPhaseGating(t *testing.T) {
	f := newFixture(t)
	const round = 3
	id := f.addStaker(t, 0x01, 100, 0, round)
	view := f.stakes.views[id]
	hash := [32]byte{0x22}
	nonce := [32]byte{0x07}
	obfuscated := ObfuscateCommit(view.Overlay, 8, hash, nonce)

	f.gotoReveal(round)
	if err := f.engine.Commit(id, obfuscated, round); !errors.Is(err, ErrNotCommitPhase) {
		t.Fatalf("expected ErrNotCommitPhase, got %v", err)
	}
	f.gotoCommit(round)
	if err := f.engine.Reveal(id, 8, hash, nonce); !errors.Is(err, ErrNotRevealPhase) {
		t.Fatalf("expected ErrNotRevealPhase, got %v", err)
	}
	if _, err := f.engine.IsWinner(view.Overlay); !errors.Is(err, ErrNotClaimPhase) {
		t.Fatalf("expected ErrNotClaimPhase, got %v", err)
	}

	// final block of the commit phase (quarter is 4 blocks: 0..3)
	f.block = round*testRoundLength + 3
	if err := f.engine.Commit(id, obfuscated, round); !errors.Is(err, ErrPhaseLastBlock) {
		t.Fatalf("expected ErrPhaseLastBlock, got %v", err)
	}
	// final block of the reveal phase
	f.block = round*testRoundLength + 7
	if err := f.engine.Reveal(id, 8, hash, nonce); !errors.Is(err, ErrPhaseLastBlock) {
		t.Fatalf("expected ErrPhaseLastBlock, got %v", err)
	}
}

func TestCommitRequiresAgedStake(t *testing.T) {
	f := newFixture(t)
	const round = 3
	id := f.addStaker(t, 0x01, 100, 0, round)

	// stake updated in the previous round: too fresh for two full rounds
	view := f.stakes.views[id]
	view.LastUpdateBlock = (round - 1) * testRoundLength
	f.stakes.views[id] = view

	f.gotoCommit(round)
	obfuscated := ObfuscateCommit(view.Overlay, 8, [32]byte{0x33}, [32]byte{0x08})
	if err := f.engine.Commit(id, obfuscated, round); !errors.Is(err, ErrMustStake2Rounds) {
		t.Fatalf("expected ErrMustStake2Rounds, got %v", err)
	}

	view.LastUpdateBlock = (round - 2) * testRoundLength
	f.stakes.views[id] = view
	if err := f.engine.Commit(id, obfuscated, round); err != nil {
		t.Fatalf("aged stake must commit: %v", err)
	}
}

func TestCommitRequiresStake(t *testing.T) {
	f := newFixture(t)
	f.gotoCommit(3)
	if err := f.engine.Commit(makeAddr(0x42), [32]byte{1}, 3); !errors.Is(err, ErrNotStaked) {
		t.Fatalf("expected ErrNotStaked, got %v", err)
	}

	// a frozen stake reports zero effective stake
	frozen := makeAddr(0x43)
	f.stakes.views[frozen] = StakeView{Overlay: crypto.OverlayFromBytes([]byte{1}), Stake: big.NewInt(0), Staked: true}
	if err := f.engine.Commit(frozen, [32]byte{1}, 3); !errors.Is(err, ErrNotStaked) {
		t.Fatalf("expected ErrNotStaked for frozen stake, got %v", err)
	}
}

func TestClaimPaysWinnerAndPenalisesDisagreement(t *testing.T) {
	f := newFixture(t)
	const round = 3
	honestHash := [32]byte{0x44}
	liarHash := [32]byte{0x55}
	nonce := [32]byte{0x09}

	// the heavy staker dominates the draw deterministically enough for the
	// fixed seed below; identify the winner via IsWinner rather than assuming
	a := f.addStaker(t, 0x01, 100, 0, round)
	b := f.addStaker(t, 0x02, 100, 0, round)
	liar := f.addStaker(t, 0x03, 100, 0, round)

	f.commit(t, a, round, 8, honestHash, nonce)
	f.commit(t, b, round, 8, honestHash, nonce)
	f.commit(t, liar, round, 8, liarHash, nonce)
	f.reveal(t, a, round, 8, honestHash, nonce)
	f.reveal(t, b, round, 8, honestHash, nonce)
	f.reveal(t, liar, round, 8, liarHash, nonce)

	f.gotoClaim(round)
	var winner [20]byte
	for _, id := range [][20]byte{a, b, liar} {
		won, err := f.engine.IsWinner(f.stakes.views[id].Overlay)
		if err != nil {
			t.Fatalf("isWinner: %v", err)
		}
		if won {
			winner = id
		}
	}

	stateBefore, err := f.engine.RoundStateView()
	if err != nil {
		t.Fatalf("round state: %v", err)
	}

	losers := [][20]byte{}
	for _, id := range [][20]byte{a, b, liar} {
		if id != winner {
			losers = append(losers, id)
		}
	}
	if _, err := f.engine.Claim(losers[0], nil); !errors.Is(err, ErrNotWinner) {
		t.Fatalf("expected ErrNotWinner, got %v", err)
	}

	amount, err := f.engine.Claim(winner, nil)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if amount.Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("expected pot payout 1000, got %s", amount)
	}
	if len(f.pot.recipients) != 1 || f.pot.recipients[0] != winner {
		t.Fatalf("pot must be withdrawn to the winner")
	}

	// every revealer disagreeing with the winning commitment is frozen
	for _, id := range [][20]byte{a, b, liar} {
		disagreed := id != winner && (id == liar) != (winner == liar)
		frozen, wasFrozen := f.stakes.freezes[id]
		if disagreed {
			if !wasFrozen || frozen != 2*testRoundLength {
				t.Fatalf("disagreeing revealer %x must be frozen for the penalty window, got %d (%v)", id, frozen, wasFrozen)
			}
		} else if wasFrozen {
			t.Fatalf("agreeing revealer %x must not be frozen", id)
		}
	}

	stateAfter, err := f.engine.RoundStateView()
	if err != nil {
		t.Fatalf("round state: %v", err)
	}
	if stateAfter.Seed == stateBefore.Seed {
		t.Fatalf("claim must advance the seed")
	}
	if stateAfter.CurrentMinimumDepth != stateBefore.CurrentMinimumDepth+1 {
		t.Fatalf("minimum depth must ratchet toward the winner depth: %d -> %d",
			stateBefore.CurrentMinimumDepth, stateAfter.CurrentMinimumDepth)
	}

	if _, err := f.engine.Claim(winner, nil); !errors.Is(err, ErrAlreadyClaimed) {
		t.Fatalf("expected ErrAlreadyClaimed, got %v", err)
	}
	if _, err := f.engine.IsWinner(f.stakes.views[winner].Overlay); !errors.Is(err, ErrAlreadyClaimed) {
		t.Fatalf("isWinner after claim: expected ErrAlreadyClaimed, got %v", err)
	}
}

func TestClaimRejectedProofLeavesStateIntact(t *testing.T) {
	f := newFixture(t)
	const round = 3
	hash := [32]byte{0x66}
	nonce := [32]byte{0x0A}
	id := f.addStaker(t, 0x01, 100, 0, round)
	f.commit(t, id, round, 8, hash, nonce)
	f.reveal(t, id, round, 8, hash, nonce)

	f.gotoClaim(round)
	f.verifier.fail = errors.New("inclusion proof invalid")
	if _, err := f.engine.Claim(id, nil); err == nil {
		t.Fatalf("expected proof failure to propagate")
	}
	if len(f.pot.recipients) != 0 {
		t.Fatalf("failed claim must not withdraw the pot")
	}

	// a corrected proof can still claim the same round
	f.verifier.fail = nil
	if _, err := f.engine.Claim(id, nil); err != nil {
		t.Fatalf("claim after fixing proof: %v", err)
	}
}

func TestIsParticipatingPhaseRules(t *testing.T) {
	f := newFixture(t)
	const round = 3
	id := f.addStaker(t, 0x01, 100, 0, round)

	f.gotoReveal(round)
	if _, err := f.engine.IsParticipatingInUpcomingRound(id, 8); !errors.Is(err, ErrWrongPhase) {
		t.Fatalf("expected ErrWrongPhase, got %v", err)
	}

	f.gotoCommit(round)
	if _, err := f.engine.IsParticipatingInUpcomingRound(makeAddr(0x42), 8); !errors.Is(err, ErrNotStaked) {
		t.Fatalf("expected ErrNotStaked, got %v", err)
	}
	// the fixture overlay shares 31 bytes with the current anchor
	participating, err := f.engine.IsParticipatingInUpcomingRound(id, 8)
	if err != nil {
		t.Fatalf("participating: %v", err)
	}
	if !participating {
		t.Fatalf("overlay in the anchor neighbourhood must participate")
	}

	// claim-phase lookahead targets the next round's anchor; it must answer
	// without error either way
	f.gotoClaim(round)
	if _, err := f.engine.IsParticipatingInUpcomingRound(id, 8); err != nil {
		t.Fatalf("claim-phase lookahead: %v", err)
	}
}

func TestGamePauseGating(t *testing.T) {
	f := newFixture(t)
	const round = 3
	hash := [32]byte{0x77}
	nonce := [32]byte{0x0B}
	id := f.addStaker(t, 0x01, 100, 0, round)
	view := f.stakes.views[id]
	obfuscated := ObfuscateCommit(view.Overlay, 8, hash, nonce)

	f.pauses.Pause(moduleName)
	f.gotoCommit(round)
	if err := f.engine.Commit(id, obfuscated, round); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("commit while paused: got %v", err)
	}

	f.pauses.Unpause(moduleName)
	f.commit(t, id, round, 8, hash, nonce)
	f.reveal(t, id, round, 8, hash, nonce)

	// the winner check stays auditable during an emergency pause
	f.pauses.Pause(moduleName)
	f.gotoClaim(round)
	if _, err := f.engine.IsWinner(view.Overlay); err != nil {
		t.Fatalf("isWinner must ignore pause: %v", err)
	}
	if _, err := f.engine.Claim(id, nil); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("claim while paused: got %v", err)
	}
}

func TestCommitConcurrentStakers(t *testing.T) {
	f := newFixture(t)
	const round = 2
	hash := [32]byte{0xAA}

	identities := make([][20]byte, 8)
	nonces := make([][32]byte, 8)
	for i := range identities {
		identities[i] = f.addStaker(t, byte(i+1), 100, 0, round)
		nonces[i] = [32]byte{byte(i + 1)}
	}

	// The host serves every staker on its own goroutine; commits landing in
	// the same block must all make it into the round.
	f.gotoCommit(round)
	var wg sync.WaitGroup
	errs := make(chan error, len(identities))
	for i, identity := range identities {
		wg.Add(1)
		go func(identity [20]byte, nonce [32]byte) {
			defer wg.Done()
			view := f.stakes.views[identity]
			errs <- f.engine.Commit(identity, ObfuscateCommit(view.Overlay, 0, hash, nonce), round)
		}(identity, nonces[i])
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent commit: %v", err)
		}
	}

	for i, identity := range identities {
		f.reveal(t, identity, round, 0, hash, nonces[i])
	}
	f.gotoClaim(round)
	reveals, err := f.engine.CurrentRoundReveals()
	if err != nil {
		t.Fatalf("reveals: %v", err)
	}
	if len(reveals) != len(identities) {
		t.Fatalf("expected %d reveals, got %d", len(identities), len(reveals))
	}
}
