package postage

import (
	"errors"
	"math/big"
	"testing"

	nativecommon "swarmchain/native/common"
)

type mockState struct {
	batches map[BatchID]*Batch
	globals *Globals
}

func newMockState() *mockState {
	return &mockState{batches: make(map[BatchID]*Batch)}
}

func (m *mockState) GetBatch(id BatchID) (*Batch, error) {
	batch, ok := m.batches[id]
	if !ok {
		return nil, nil
	}
	return batch.Copy(), nil
}

func (m *mockState) PutBatch(id BatchID, batch *Batch) error {
	m.batches[id] = batch.Copy()
	return nil
}

func (m *mockState) DeleteBatch(id BatchID) error {
	delete(m.batches, id)
	return nil
}

func (m *mockState) IterateBatches(fn func(id BatchID, batch *Batch) bool) error {
	for id, batch := range m.batches {
		if !fn(id, batch.Copy()) {
			return nil
		}
	}
	return nil
}

func (m *mockState) GetPostageGlobals() (*Globals, error) {
	return m.globals.Copy(), nil
}

func (m *mockState) PutPostageGlobals(globals *Globals) error {
	m.globals = globals.Copy()
	return nil
}

type mockToken struct {
	balances map[[20]byte]*big.Int
	module   [20]byte
}

func newMockToken(module [20]byte) *mockToken {
	return &mockToken{balances: make(map[[20]byte]*big.Int), module: module}
}

func (m *mockToken) credit(addr [20]byte, amount int64) {
	m.balances[addr] = big.NewInt(amount)
}

func (m *mockToken) balance(addr [20]byte) *big.Int {
	if b, ok := m.balances[addr]; ok {
		return b
	}
	return big.NewInt(0)
}

func (m *mockToken) TransferFrom(from, to [20]byte, amount *big.Int) error {
	if m.balance(from).Cmp(amount) < 0 {
		return nativecommon.ErrInsufficientFunds
	}
	m.balances[from] = new(big.Int).Sub(m.balance(from), amount)
	m.balances[to] = new(big.Int).Add(m.balance(to), amount)
	return nil
}

func (m *mockToken) Transfer(to [20]byte, amount *big.Int) error {
	return m.TransferFrom(m.module, to, amount)
}

func (m *mockToken) BalanceOf(addr [20]byte) (*big.Int, error) {
	return new(big.Int).Set(m.balance(addr)), nil
}

func makeAddr(fill byte) [20]byte {
	var a [20]byte
	for i := range a {
		a[i] = fill
	}
	return a
}

type fixture struct {
	engine *Engine
	state  *mockState
	token  *mockToken
	roles  *nativecommon.Roles
	pauses *nativecommon.Pauses
	oracle [20]byte
	block  uint64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	module := makeAddr(0xEE)
	params := Params{MinimumBucketDepth: 2, MinimumValidityBlocks: 10}
	engine, err := NewEngine(module, params)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	f := &fixture{
		engine: engine,
		state:  newMockState(),
		token:  newMockToken(module),
		roles:  nativecommon.NewRoles(),
		pauses: nativecommon.NewPauses(),
		oracle: makeAddr(0x0D),
		block:  1,
	}
	f.roles.Grant(nativecommon.RolePriceOracle, f.oracle)
	engine.SetState(f.state)
	engine.SetToken(f.token)
	engine.SetRoles(f.roles)
	engine.SetPauses(f.pauses)
	engine.SetBlockSource(func() uint64 { return f.block })
	if err := engine.LoadIndex(); err != nil {
		t.Fatalf("load index: %v", err)
	}
	if err := engine.SetPrice(f.oracle, big.NewInt(1)); err != nil {
		t.Fatalf("seed price: %v", err)
	}
	return f
}

func (f *fixture) create(t *testing.T, payer [20]byte, perChunk int64, depth uint8, nonce byte) BatchID {
	t.Helper()
	id, err := f.engine.CreateBatch(payer, payer, big.NewInt(perChunk), depth, 2, [32]byte{nonce}, false)
	if err != nil {
		t.Fatalf("create batch: %v", err)
	}
	return id
}

func TestCreateBatchValidation(t *testing.T) {
	f := newFixture(t)
	payer := makeAddr(0x01)
	f.token.credit(payer, 1_000_000)

	if _, err := f.engine.CreateBatch(payer, [20]byte{}, big.NewInt(100), 8, 2, [32]byte{1}, false); !errors.Is(err, ErrZeroAddress) {
		t.Fatalf("expected ErrZeroAddress, got %v", err)
	}
	if _, err := f.engine.CreateBatch(payer, payer, big.NewInt(100), 8, 8, [32]byte{1}, false); !errors.Is(err, ErrInvalidDepth) {
		t.Fatalf("bucketDepth == depth must fail, got %v", err)
	}
	if _, err := f.engine.CreateBatch(payer, payer, big.NewInt(100), 8, 1, [32]byte{1}, false); !errors.Is(err, ErrInvalidDepth) {
		t.Fatalf("bucketDepth below minimum must fail, got %v", err)
	}
	// minimum validity 10 blocks at price 1: per-chunk balance of 10 is not enough
	if _, err := f.engine.CreateBatch(payer, payer, big.NewInt(10), 8, 2, [32]byte{1}, false); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}

	id, err := f.engine.CreateBatch(payer, payer, big.NewInt(11), 8, 2, [32]byte{1}, false)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.engine.CreateBatch(payer, payer, big.NewInt(11), 8, 2, [32]byte{1}, false); !errors.Is(err, ErrBatchExists) {
		t.Fatalf("expected ErrBatchExists, got %v", err)
	}

	// 2^8 chunks at 11 per chunk
	if got := f.token.balance(f.token.module); got.Cmp(big.NewInt(256*11)) != 0 {
		t.Fatalf("expected 2816 escrowed, got %s", got)
	}
	chunks, err := f.engine.ValidChunkCount()
	if err != nil {
		t.Fatalf("valid chunks: %v", err)
	}
	if chunks.Cmp(big.NewInt(256)) != 0 {
		t.Fatalf("expected 256 valid chunks, got %s", chunks)
	}
	batch, err := f.engine.GetBatch(id)
	if err != nil || batch == nil {
		t.Fatalf("expected stored batch, got %v %v", batch, err)
	}
}

func TestCreateBatchRejectionLeavesLedgerUntouched(t *testing.T) {
	f := newFixture(t)
	payer := makeAddr(0x03)
	f.token.credit(payer, 1_000_000)

	// A batch that will be fully drained and waiting for a settlement sweep.
	id := f.create(t, payer, 11, 3, 1)
	f.block += 30

	potBefore, err := f.engine.Pot()
	if err != nil {
		t.Fatalf("pot: %v", err)
	}
	chunksBefore, err := f.engine.ValidChunkCount()
	if err != nil {
		t.Fatalf("valid chunks: %v", err)
	}
	balanceBefore := new(big.Int).Set(f.token.balance(payer))

	if _, err := f.engine.CreateBatch(payer, payer, big.NewInt(5), 8, 2, [32]byte{2}, false); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}

	// The rejection must not have swept expiry, moved funds or touched the
	// settlement bookkeeping.
	pot, err := f.engine.Pot()
	if err != nil {
		t.Fatalf("pot: %v", err)
	}
	if pot.Cmp(potBefore) != 0 {
		t.Fatalf("pot moved from %s to %s on a rejected create", potBefore, pot)
	}
	chunks, err := f.engine.ValidChunkCount()
	if err != nil {
		t.Fatalf("valid chunks: %v", err)
	}
	if chunks.Cmp(chunksBefore) != 0 {
		t.Fatalf("chunk count moved from %s to %s on a rejected create", chunksBefore, chunks)
	}
	if got := f.token.balance(payer); got.Cmp(balanceBefore) != 0 {
		t.Fatalf("payer balance moved from %s to %s on a rejected create", balanceBefore, got)
	}
	batch, err := f.engine.GetBatch(id)
	if err != nil {
		t.Fatalf("get batch: %v", err)
	}
	if batch == nil {
		t.Fatalf("drained batch must survive a rejected create until a sweep runs")
	}
	if f.state.globals.LastExpiryBalance.Sign() != 0 {
		t.Fatalf("settlement level moved to %s on a rejected create", f.state.globals.LastExpiryBalance)
	}

	// A sweep afterwards still collects the full drained value: 2^3 chunks
	// at 11 per chunk.
	if err := f.engine.ExpireLimited(1 << 10); err != nil {
		t.Fatalf("expire: %v", err)
	}
	pot, err = f.engine.Pot()
	if err != nil {
		t.Fatalf("pot: %v", err)
	}
	if pot.Cmp(big.NewInt(8*11)) != 0 {
		t.Fatalf("expected pot 88 after sweep, got %s", pot)
	}
}

func TestRemainingBalanceDecaysLinearly(t *testing.T) {
	f := newFixture(t)
	payer := makeAddr(0x02)
	f.token.credit(payer, 1_000_000)

	id := f.create(t, payer, 20, 4, 1)

	remaining, err := f.engine.RemainingBalance(id)
	if err != nil {
		t.Fatalf("remaining: %v", err)
	}
	if remaining.Cmp(big.NewInt(20)) != 0 {
		t.Fatalf("expected 20 at creation, got %s", remaining)
	}

	// constant price 1: balance drops by exactly one per block
	f.block += 7
	remaining, err = f.engine.RemainingBalance(id)
	if err != nil {
		t.Fatalf("remaining: %v", err)
	}
	if remaining.Cmp(big.NewInt(13)) != 0 {
		t.Fatalf("expected 13 after 7 blocks, got %s", remaining)
	}

	f.block += 13
	remaining, err = f.engine.RemainingBalance(id)
	if err != nil {
		t.Fatalf("remaining: %v", err)
	}
	if remaining.Sign() != 0 {
		t.Fatalf("expected 0 at exhaustion, got %s", remaining)
	}

	f.block += 100
	remaining, err = f.engine.RemainingBalance(id)
	if err != nil {
		t.Fatalf("remaining: %v", err)
	}
	if remaining.Sign() != 0 {
		t.Fatalf("remaining balance must floor at zero, got %s", remaining)
	}
}

func TestTopUp(t *testing.T) {
	f := newFixture(t)
	payer := makeAddr(0x03)
	f.token.credit(payer, 1_000_000)

	id := f.create(t, payer, 20, 4, 1)

	if err := f.engine.TopUp(payer, BatchID{0xFF}, big.NewInt(5)); !errors.Is(err, ErrBatchDoesNotExist) {
		t.Fatalf("expected ErrBatchDoesNotExist, got %v", err)
	}

	escrowBefore := new(big.Int).Set(f.token.balance(f.token.module))
	if err := f.engine.TopUp(payer, id, big.NewInt(5)); err != nil {
		t.Fatalf("top up: %v", err)
	}
	remaining, err := f.engine.RemainingBalance(id)
	if err != nil {
		t.Fatalf("remaining: %v", err)
	}
	if remaining.Cmp(big.NewInt(25)) != 0 {
		t.Fatalf("expected 25 after top up, got %s", remaining)
	}
	paid := new(big.Int).Sub(f.token.balance(f.token.module), escrowBefore)
	if paid.Cmp(big.NewInt(16*5)) != 0 {
		t.Fatalf("expected 80 transferred, got %s", paid)
	}

	// drained batches cannot be extended
	f.block += 100
	if err := f.engine.TopUp(payer, id, big.NewInt(5)); !errors.Is(err, ErrBatchExpired) {
		t.Fatalf("expected ErrBatchExpired, got %v", err)
	}
}

func TestIncreaseDepth(t *testing.T) {
	f := newFixture(t)
	owner := makeAddr(0x04)
	stranger := makeAddr(0x05)
	f.token.credit(owner, 1_000_000)

	id := f.create(t, owner, 40, 4, 1)

	if err := f.engine.IncreaseDepth(stranger, id, 5); !errors.Is(err, ErrNotBatchOwner) {
		t.Fatalf("expected ErrNotBatchOwner, got %v", err)
	}
	if err := f.engine.IncreaseDepth(owner, id, 4); !errors.Is(err, ErrDepthNotIncreasing) {
		t.Fatalf("expected ErrDepthNotIncreasing, got %v", err)
	}

	// 10 blocks consumed: remaining 30 per chunk over 16 chunks becomes 15
	// per chunk over 32 chunks.
	f.block += 10
	if err := f.engine.IncreaseDepth(owner, id, 5); err != nil {
		t.Fatalf("increase depth: %v", err)
	}
	remaining, err := f.engine.RemainingBalance(id)
	if err != nil {
		t.Fatalf("remaining: %v", err)
	}
	if remaining.Cmp(big.NewInt(15)) != 0 {
		t.Fatalf("expected renormalised 15, got %s", remaining)
	}
	chunks, err := f.engine.ValidChunkCount()
	if err != nil {
		t.Fatalf("valid chunks: %v", err)
	}
	if chunks.Cmp(big.NewInt(32)) != 0 {
		t.Fatalf("expected 32 valid chunks, got %s", chunks)
	}
}

func TestIncreaseDepthImmutable(t *testing.T) {
	f := newFixture(t)
	owner := makeAddr(0x06)
	f.token.credit(owner, 1_000_000)

	id, err := f.engine.CreateBatch(owner, owner, big.NewInt(40), 4, 2, [32]byte{9}, true)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := f.engine.IncreaseDepth(owner, id, 5); !errors.Is(err, ErrBatchImmutable) {
		t.Fatalf("expected ErrBatchImmutable, got %v", err)
	}
}

func TestExpireLimitedAccruesPot(t *testing.T) {
	f := newFixture(t)
	payer := makeAddr(0x07)
	f.token.credit(payer, 1_000_000)

	// depth 3 = 8 chunks each; batch A drains at 12, batch B at 20
	idA := f.create(t, payer, 12, 3, 1)
	f.create(t, payer, 20, 3, 2)

	f.block += 15
	if err := f.engine.ExpireLimited(10); err != nil {
		t.Fatalf("expire: %v", err)
	}

	// A paid its full 12 per chunk; B has paid 15 so far.
	pot, err := f.engine.Pot()
	if err != nil {
		t.Fatalf("pot: %v", err)
	}
	want := big.NewInt(8*12 + 8*15)
	if pot.Cmp(want) != 0 {
		t.Fatalf("expected pot %s, got %s", want, pot)
	}
	chunks, err := f.engine.ValidChunkCount()
	if err != nil {
		t.Fatalf("valid chunks: %v", err)
	}
	if chunks.Cmp(big.NewInt(8)) != 0 {
		t.Fatalf("expected only batch B remaining, got %s chunks", chunks)
	}
	if batch, err := f.engine.GetBatch(idA); err != nil || batch != nil {
		t.Fatalf("expired batch must be deleted, got %v %v", batch, err)
	}
}

func TestExpireLimitedHonoursIterationBound(t *testing.T) {
	f := newFixture(t)
	payer := makeAddr(0x08)
	f.token.credit(payer, 1_000_000)

	f.create(t, payer, 11, 3, 1)
	f.create(t, payer, 12, 3, 2)

	f.block += 50
	if err := f.engine.ExpireLimited(1); err != nil {
		t.Fatalf("expire: %v", err)
	}
	chunks, err := f.engine.ValidChunkCount()
	if err != nil {
		t.Fatalf("valid chunks: %v", err)
	}
	if chunks.Cmp(big.NewInt(8)) != 0 {
		t.Fatalf("bounded sweep must remove exactly one batch, got %s chunks", chunks)
	}

	if err := f.engine.ExpireLimited(10); err != nil {
		t.Fatalf("expire: %v", err)
	}
	chunks, err = f.engine.ValidChunkCount()
	if err != nil {
		t.Fatalf("valid chunks: %v", err)
	}
	if chunks.Sign() != 0 {
		t.Fatalf("expected empty ledger, got %s chunks", chunks)
	}

	// both batches fully drained: the pot holds everything paid in
	pot, err := f.engine.Pot()
	if err != nil {
		t.Fatalf("pot: %v", err)
	}
	want := big.NewInt(8*11 + 8*12)
	if pot.Cmp(want) != 0 {
		t.Fatalf("expected pot %s, got %s", want, pot)
	}
}

func TestWithdrawRedistributorOnly(t *testing.T) {
	f := newFixture(t)
	payer := makeAddr(0x09)
	redistributor := makeAddr(0x0A)
	beneficiary := makeAddr(0x0B)
	f.roles.Grant(nativecommon.RoleRedistributor, redistributor)
	f.token.credit(payer, 1_000_000)

	f.create(t, payer, 12, 3, 1)
	f.block += 20

	if _, err := f.engine.Withdraw(payer, beneficiary); !errors.Is(err, nativecommon.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}

	amount, err := f.engine.Withdraw(redistributor, beneficiary)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if amount.Cmp(big.NewInt(8*12)) != 0 {
		t.Fatalf("expected payout 96, got %s", amount)
	}
	if f.token.balance(beneficiary).Cmp(amount) != 0 {
		t.Fatalf("beneficiary not paid")
	}
	pot, err := f.engine.Pot()
	if err != nil {
		t.Fatalf("pot: %v", err)
	}
	if pot.Sign() != 0 {
		t.Fatalf("pot must be zero after withdraw, got %s", pot)
	}
}

func TestSetPriceRoleAndSettlement(t *testing.T) {
	f := newFixture(t)
	payer := makeAddr(0x0C)
	f.token.credit(payer, 1_000_000)

	id := f.create(t, payer, 100, 4, 1)

	if err := f.engine.SetPrice(payer, big.NewInt(2)); !errors.Is(err, nativecommon.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := f.engine.SetPrice(f.oracle, big.NewInt(0)); !errors.Is(err, ErrZeroPrice) {
		t.Fatalf("expected ErrZeroPrice, got %v", err)
	}

	// 10 blocks at price 1, then 5 blocks at price 3
	f.block += 10
	if err := f.engine.SetPrice(f.oracle, big.NewInt(3)); err != nil {
		t.Fatalf("set price: %v", err)
	}
	f.block += 5
	remaining, err := f.engine.RemainingBalance(id)
	if err != nil {
		t.Fatalf("remaining: %v", err)
	}
	if remaining.Cmp(big.NewInt(100-10-15)) != 0 {
		t.Fatalf("expected 75 remaining, got %s", remaining)
	}
}

func TestPostagePauseGating(t *testing.T) {
	f := newFixture(t)
	payer := makeAddr(0x0E)
	f.token.credit(payer, 1_000_000)

	id := f.create(t, payer, 20, 4, 1)

	f.pauses.Pause(moduleName)
	if _, err := f.engine.CreateBatch(payer, payer, big.NewInt(20), 4, 2, [32]byte{2}, false); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("create while paused: got %v", err)
	}
	if err := f.engine.TopUp(payer, id, big.NewInt(5)); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("top up while paused: got %v", err)
	}
	if err := f.engine.IncreaseDepth(payer, id, 5); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("increase depth while paused: got %v", err)
	}

	f.pauses.Unpause(moduleName)
	if err := f.engine.TopUp(payer, id, big.NewInt(5)); err != nil {
		t.Fatalf("top up after unpause: %v", err)
	}
}
