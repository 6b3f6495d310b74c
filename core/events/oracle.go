package events

import (
	"math/big"

	"swarmchain/core/types"
)

const (
	// TypePriceAdjusted captures a successful oracle adjustment for a round.
	TypePriceAdjusted = "oracle.priceAdjusted"
	// TypePricePushFailed signals that the oracle updated locally but the
	// downstream ledger rejected the push. The two may transiently diverge.
	TypePricePushFailed = "oracle.pricePushFailed"
)

// PriceAdjusted captures the oracle state after an adjustment.
type PriceAdjusted struct {
	Price      *big.Int
	Redundancy uint64
	Round      uint64
}

func (PriceAdjusted) EventType() string { return TypePriceAdjusted }

func (e PriceAdjusted) Event() *types.Event {
	return &types.Event{Type: TypePriceAdjusted, Attributes: map[string]string{
		"price":      formatAmount(e.Price),
		"redundancy": formatUint(e.Redundancy),
		"round":      formatUint(e.Round),
	}}
}

// PricePushFailed records a ledger push that did not land.
type PricePushFailed struct {
	Price  *big.Int
	Round  uint64
	Reason string
}

func (PricePushFailed) EventType() string { return TypePricePushFailed }

func (e PricePushFailed) Event() *types.Event {
	return &types.Event{Type: TypePricePushFailed, Attributes: map[string]string{
		"price":  formatAmount(e.Price),
		"round":  formatUint(e.Round),
		"reason": e.Reason,
	}}
}
