package stake

import (
	"errors"
	"math/big"
	"sync"
	"testing"

	nativecommon "swarmchain/native/common"
)

type mockState struct {
	records map[[20]byte]*Record
}

func newMockState() *mockState {
	return &mockState{records: make(map[[20]byte]*Record)}
}

func (m *mockState) GetStake(addr [20]byte) (*Record, error) {
	record, ok := m.records[addr]
	if !ok {
		return nil, nil
	}
	return record.Copy(), nil
}

func (m *mockState) PutStake(addr [20]byte, record *Record) error {
	m.records[addr] = record.Copy()
	return nil
}

func (m *mockState) DeleteStake(addr [20]byte) error {
	delete(m.records, addr)
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
	block  uint64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	module := makeAddr(0xEE)
	params := Params{BaseMinimumStake: big.NewInt(100), NetworkID: 1}
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
		block:  1000,
	}
	engine.SetState(f.state)
	engine.SetToken(f.token)
	engine.SetRoles(f.roles)
	engine.SetPauses(f.pauses)
	engine.SetBlockSource(func() uint64 { return f.block })
	return f
}

func TestManageStakeMinimumBoundary(t *testing.T) {
	f := newFixture(t)
	operator := makeAddr(0x01)
	f.token.credit(operator, 10_000)

	// base 100 at height 2 requires 400.
	if _, err := f.engine.ManageStake(operator, [32]byte{1}, big.NewInt(399), 2); !errors.Is(err, ErrBelowMinimumStake) {
		t.Fatalf("expected ErrBelowMinimumStake, got %v", err)
	}
	if f.token.balance(operator).Cmp(big.NewInt(10_000)) != 0 {
		t.Fatalf("rejected stake must not move funds")
	}

	record, err := f.engine.ManageStake(operator, [32]byte{1}, big.NewInt(400), 2)
	if err != nil {
		t.Fatalf("boundary stake: %v", err)
	}
	if record.Collateral.Cmp(big.NewInt(400)) != 0 {
		t.Fatalf("expected collateral 400, got %s", record.Collateral)
	}
	if f.token.balance(operator).Cmp(big.NewInt(9_600)) != 0 {
		t.Fatalf("expected 400 transferred, operator holds %s", f.token.balance(operator))
	}
}

func TestManageStakeCumulativeKeepsOverlay(t *testing.T) {
	f := newFixture(t)
	operator := makeAddr(0x02)
	f.token.credit(operator, 1_000)

	first, err := f.engine.ManageStake(operator, [32]byte{7}, big.NewInt(100), 0)
	if err != nil {
		t.Fatalf("first stake: %v", err)
	}

	f.block += 10
	second, err := f.engine.ManageStake(operator, [32]byte{9}, big.NewInt(300), 2)
	if err != nil {
		t.Fatalf("top up: %v", err)
	}
	if second.Overlay != first.Overlay {
		t.Fatalf("top up must keep overlay: %s != %s", second.Overlay, first.Overlay)
	}
	if second.Collateral.Cmp(big.NewInt(400)) != 0 {
		t.Fatalf("expected cumulative 400, got %s", second.Collateral)
	}
	if second.DeclaredHeight != 2 {
		t.Fatalf("expected height update, got %d", second.DeclaredHeight)
	}
	if second.LastUpdateBlock != f.block {
		t.Fatalf("expected last update %d, got %d", f.block, second.LastUpdateBlock)
	}
}

func TestFreezeBlocksUpdatesAndZeroesEffectiveStake(t *testing.T) {
	f := newFixture(t)
	operator := makeAddr(0x03)
	redistributor := makeAddr(0x0F)
	f.roles.Grant(nativecommon.RoleRedistributor, redistributor)
	f.token.credit(operator, 1_000)

	if _, err := f.engine.ManageStake(operator, [32]byte{1}, big.NewInt(200), 0); err != nil {
		t.Fatalf("stake: %v", err)
	}

	if err := f.engine.FreezeDeposit(makeAddr(0x04), operator, 50); !errors.Is(err, nativecommon.ErrUnauthorized) {
		t.Fatalf("freeze without role must fail, got %v", err)
	}
	if err := f.engine.FreezeDeposit(redistributor, operator, 50); err != nil {
		t.Fatalf("freeze: %v", err)
	}

	effective, err := f.engine.EffectiveStake(operator)
	if err != nil {
		t.Fatalf("effective stake: %v", err)
	}
	if effective.Sign() != 0 {
		t.Fatalf("frozen stake must be zero, got %s", effective)
	}
	if _, err := f.engine.ManageStake(operator, [32]byte{1}, big.NewInt(100), 0); !errors.Is(err, ErrFrozen) {
		t.Fatalf("expected ErrFrozen, got %v", err)
	}

	f.block += 51
	effective, err = f.engine.EffectiveStake(operator)
	if err != nil {
		t.Fatalf("effective stake: %v", err)
	}
	if effective.Cmp(big.NewInt(200)) != 0 {
		t.Fatalf("thawed stake must return, got %s", effective)
	}
}

func TestSlashDeposit(t *testing.T) {
	f := newFixture(t)
	operator := makeAddr(0x05)
	redistributor := makeAddr(0x0F)
	f.roles.Grant(nativecommon.RoleRedistributor, redistributor)
	f.token.credit(operator, 1_000)

	if _, err := f.engine.ManageStake(operator, [32]byte{1}, big.NewInt(300), 0); err != nil {
		t.Fatalf("stake: %v", err)
	}
	if err := f.engine.SlashDeposit(redistributor, operator, big.NewInt(100)); err != nil {
		t.Fatalf("partial slash: %v", err)
	}
	record, err := f.engine.GetStake(operator)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if record.Collateral.Cmp(big.NewInt(200)) != 0 {
		t.Fatalf("expected 200 after slash, got %s", record.Collateral)
	}

	if err := f.engine.SlashDeposit(redistributor, operator, big.NewInt(500)); err != nil {
		t.Fatalf("full slash: %v", err)
	}
	record, err = f.engine.GetStake(operator)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if record != nil {
		t.Fatalf("fully slashed record must be deleted")
	}
	if err := f.engine.SlashDeposit(redistributor, operator, big.NewInt(1)); !errors.Is(err, ErrNotStaked) {
		t.Fatalf("expected ErrNotStaked, got %v", err)
	}
}

func TestMigrateStakeOnlyWhilePaused(t *testing.T) {
	f := newFixture(t)
	operator := makeAddr(0x06)
	f.token.credit(operator, 1_000)

	if _, err := f.engine.ManageStake(operator, [32]byte{1}, big.NewInt(250), 0); err != nil {
		t.Fatalf("stake: %v", err)
	}
	if _, err := f.engine.MigrateStake(operator); !errors.Is(err, nativecommon.ErrModuleNotPaused) {
		t.Fatalf("expected ErrModuleNotPaused, got %v", err)
	}

	f.pauses.Pause(moduleName)
	amount, err := f.engine.MigrateStake(operator)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if amount.Cmp(big.NewInt(250)) != 0 {
		t.Fatalf("expected full collateral back, got %s", amount)
	}
	if f.token.balance(operator).Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("expected balance restored, got %s", f.token.balance(operator))
	}
	record, err := f.engine.GetStake(operator)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if record != nil {
		t.Fatalf("migrated record must be deleted")
	}
}

func TestManageStakePauseGating(t *testing.T) {
	f := newFixture(t)
	operator := makeAddr(0x07)
	f.token.credit(operator, 1_000)

	f.pauses.Pause(moduleName)
	if _, err := f.engine.ManageStake(operator, [32]byte{1}, big.NewInt(200), 0); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}

	f.pauses.Unpause(moduleName)
	if _, err := f.engine.ManageStake(operator, [32]byte{1}, big.NewInt(200), 0); err != nil {
		t.Fatalf("stake after unpause: %v", err)
	}
}

func TestNetworkIDAffectsFutureOverlaysOnly(t *testing.T) {
	f := newFixture(t)
	admin := makeAddr(0x0A)
	f.roles.Grant(nativecommon.RoleAdmin, admin)
	first := makeAddr(0x08)
	second := makeAddr(0x09)
	f.token.credit(first, 1_000)
	f.token.credit(second, 1_000)

	before, err := f.engine.ManageStake(first, [32]byte{1}, big.NewInt(200), 0)
	if err != nil {
		t.Fatalf("stake: %v", err)
	}
	if err := f.engine.SetNetworkID(admin, 99); err != nil {
		t.Fatalf("set network id: %v", err)
	}

	// Existing record keeps its overlay even when topped up.
	after, err := f.engine.ManageStake(first, [32]byte{1}, big.NewInt(0), 0)
	if err != nil {
		t.Fatalf("top up: %v", err)
	}
	if after.Overlay != before.Overlay {
		t.Fatalf("network id change must not recompute existing overlays")
	}

	fresh, err := f.engine.ManageStake(second, [32]byte{1}, big.NewInt(200), 0)
	if err != nil {
		t.Fatalf("fresh stake: %v", err)
	}
	if fresh.Overlay == before.Overlay {
		t.Fatalf("distinct identities must not collide")
	}
}

func TestManageStakeConcurrentOperators(t *testing.T) {
	f := newFixture(t)

	operators := make([][20]byte, 8)
	for i := range operators {
		operators[i] = makeAddr(byte(i + 1))
		f.token.credit(operators[i], 10_000)
	}

	// The host serves every operator on its own goroutine; deposits landing
	// in the same block must not clobber each other's records.
	var wg sync.WaitGroup
	errs := make(chan error, len(operators))
	for i, operator := range operators {
		wg.Add(1)
		go func(operator [20]byte, nonce byte) {
			defer wg.Done()
			_, err := f.engine.ManageStake(operator, [32]byte{nonce}, big.NewInt(100), 0)
			errs <- err
		}(operator, byte(i+1))
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent stake: %v", err)
		}
	}

	for _, operator := range operators {
		record, err := f.engine.GetStake(operator)
		if err != nil {
			t.Fatalf("get stake: %v", err)
		}
		if record == nil || record.Collateral.Cmp(big.NewInt(100)) != 0 {
			t.Fatalf("expected 100 collateral for %x, got %+v", operator, record)
		}
	}
	if got := f.token.balance(f.token.module); got.Cmp(big.NewInt(800)) != 0 {
		t.Fatalf("expected 800 escrowed, got %s", got)
	}
}
