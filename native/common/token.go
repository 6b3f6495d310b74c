package common

import (
	"errors"
	"math/big"
)

// Token errors surfaced by value-transfer implementations.
var (
	ErrInsufficientFunds = errors.New("token: insufficient funds")
	ErrInvalidAmount     = errors.New("token: amount must be positive")
)

// Token is the value-transfer capability every incentive module settles
// through. The ledger never reimplements token accounting; it consumes
// whatever fungible-token backend the host wires in. A capability handed to
// an engine is bound to that engine's module account: Transfer spends from
// the module account, TransferFrom pulls third-party funds into it or pays
// them onward.
type Token interface {
	TransferFrom(from, to [20]byte, amount *big.Int) error
	Transfer(to [20]byte, amount *big.Int) error
	BalanceOf(addr [20]byte) (*big.Int, error)
}
