package state

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"

	nativecommon "swarmchain/native/common"
	"swarmchain/storage"
)

// ErrAmountOutOfRange rejects amounts that do not fit the 256-bit token word.
var ErrAmountOutOfRange = errors.New("state: amount exceeds 256 bits")

// Accounts is the fungible-token balance book the incentive modules settle
// through. Balances are 256-bit words; a zero balance is not stored.
type Accounts struct {
	db storage.Database
}

// NewAccounts binds the balance book to the provided storage backend.
func NewAccounts(db storage.Database) *Accounts {
	return &Accounts{db: db}
}

func (a *Accounts) balance(addr [20]byte) (*uint256.Int, error) {
	raw, err := a.db.Get(accountKey(addr))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return uint256.NewInt(0), nil
	}
	if err != nil {
		return nil, err
	}
	if len(raw) > 32 {
		return nil, fmt.Errorf("state: corrupt balance for %x", addr)
	}
	return new(uint256.Int).SetBytes(raw), nil
}

func (a *Accounts) setBalance(addr [20]byte, balance *uint256.Int) error {
	if balance.IsZero() {
		return a.db.Delete(accountKey(addr))
	}
	return a.db.Put(accountKey(addr), balance.Bytes())
}

func toWord(amount *big.Int) (*uint256.Int, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, nativecommon.ErrInvalidAmount
	}
	word, overflow := uint256.FromBig(amount)
	if overflow {
		return nil, ErrAmountOutOfRange
	}
	return word, nil
}

// BalanceOf returns the balance of an account, zero when absent.
func (a *Accounts) BalanceOf(addr [20]byte) (*big.Int, error) {
	balance, err := a.balance(addr)
	if err != nil {
		return nil, err
	}
	return balance.ToBig(), nil
}

// Mint credits an account out of thin air. Genesis funding only; everything
// after genesis moves value through Transfer.
func (a *Accounts) Mint(addr [20]byte, amount *big.Int) error {
	word, err := toWord(amount)
	if err != nil {
		return err
	}
	balance, err := a.balance(addr)
	if err != nil {
		return err
	}
	sum, overflow := new(uint256.Int).AddOverflow(balance, word)
	if overflow {
		return ErrAmountOutOfRange
	}
	return a.setBalance(addr, sum)
}

// Transfer moves value between two accounts.
func (a *Accounts) Transfer(from, to [20]byte, amount *big.Int) error {
	word, err := toWord(amount)
	if err != nil {
		return err
	}
	if from == to {
		return nil
	}
	fromBalance, err := a.balance(from)
	if err != nil {
		return err
	}
	if fromBalance.Lt(word) {
		return nativecommon.ErrInsufficientFunds
	}
	toBalance, err := a.balance(to)
	if err != nil {
		return err
	}
	sum, overflow := new(uint256.Int).AddOverflow(toBalance, word)
	if overflow {
		return ErrAmountOutOfRange
	}
	if err := a.setBalance(from, new(uint256.Int).Sub(fromBalance, word)); err != nil {
		return err
	}
	return a.setBalance(to, sum)
}

// TokenCapability binds the balance book to a single module account. Handing
// one to an engine gives it exactly the spending power of that account:
// Transfer pays out of the module account, TransferFrom moves third-party
// funds on the module's authority.
type TokenCapability struct {
	accounts *Accounts
	module   [20]byte
}

// NewTokenCapability derives a module-bound token capability.
func NewTokenCapability(accounts *Accounts, module [20]byte) *TokenCapability {
	return &TokenCapability{accounts: accounts, module: module}
}

// TransferFrom moves value between arbitrary accounts.
func (t *TokenCapability) TransferFrom(from, to [20]byte, amount *big.Int) error {
	return t.accounts.Transfer(from, to, amount)
}

// Transfer pays out of the module account.
func (t *TokenCapability) Transfer(to [20]byte, amount *big.Int) error {
	return t.accounts.Transfer(t.module, to, amount)
}

// BalanceOf returns the balance of an account.
func (t *TokenCapability) BalanceOf(addr [20]byte) (*big.Int, error) {
	return t.accounts.BalanceOf(addr)
}
