package events

import (
	"math/big"

	"swarmchain/core/types"
)

const (
	// TypeBatchCreated captures a freshly funded postage batch.
	TypeBatchCreated = "postage.batchCreated"
	// TypeBatchTopUp captures a per-chunk balance top up.
	TypeBatchTopUp = "postage.batchTopUp"
	// TypeBatchDepthIncrease captures a capacity doubling.
	TypeBatchDepthIncrease = "postage.batchDepthIncrease"
	// TypeBatchExpired is emitted for every batch removed by expiry processing.
	TypeBatchExpired = "postage.batchExpired"
	// TypePotWithdrawn is emitted when the redistributor drains the pot.
	TypePotWithdrawn = "postage.potWithdrawn"
	// TypePriceUpdate captures a new per-chunk price pushed by the oracle.
	TypePriceUpdate = "postage.priceUpdate"
)

// BatchCreated captures the initial state of a postage batch.
type BatchCreated struct {
	BatchID           [32]byte
	Owner             [20]byte
	TotalAmount       *big.Int
	NormalisedBalance *big.Int
	Depth             uint8
	BucketDepth       uint8
	Immutable         bool
}

func (BatchCreated) EventType() string { return TypeBatchCreated }

func (e BatchCreated) Event() *types.Event {
	immutable := "false"
	if e.Immutable {
		immutable = "true"
	}
	return &types.Event{Type: TypeBatchCreated, Attributes: map[string]string{
		"batchId":           formatHash(e.BatchID),
		"owner":             formatAddress(e.Owner),
		"totalAmount":       formatAmount(e.TotalAmount),
		"normalisedBalance": formatAmount(e.NormalisedBalance),
		"depth":             formatUint(uint64(e.Depth)),
		"bucketDepth":       formatUint(uint64(e.BucketDepth)),
		"immutable":         immutable,
	}}
}

// BatchTopUp captures the per-chunk amount added and the resulting balance.
type BatchTopUp struct {
	BatchID           [32]byte
	AmountPerChunk    *big.Int
	NormalisedBalance *big.Int
}

func (BatchTopUp) EventType() string { return TypeBatchTopUp }

func (e BatchTopUp) Event() *types.Event {
	return &types.Event{Type: TypeBatchTopUp, Attributes: map[string]string{
		"batchId":           formatHash(e.BatchID),
		"amountPerChunk":    formatAmount(e.AmountPerChunk),
		"normalisedBalance": formatAmount(e.NormalisedBalance),
	}}
}

// BatchDepthIncrease captures a depth change and the renormalised balance.
type BatchDepthIncrease struct {
	BatchID           [32]byte
	NewDepth          uint8
	NormalisedBalance *big.Int
}

func (BatchDepthIncrease) EventType() string { return TypeBatchDepthIncrease }

func (e BatchDepthIncrease) Event() *types.Event {
	return &types.Event{Type: TypeBatchDepthIncrease, Attributes: map[string]string{
		"batchId":           formatHash(e.BatchID),
		"newDepth":          formatUint(uint64(e.NewDepth)),
		"normalisedBalance": formatAmount(e.NormalisedBalance),
	}}
}

// BatchExpired records a batch removed by expireLimited.
type BatchExpired struct {
	BatchID [32]byte
}

func (BatchExpired) EventType() string { return TypeBatchExpired }

func (e BatchExpired) Event() *types.Event {
	return &types.Event{Type: TypeBatchExpired, Attributes: map[string]string{
		"batchId": formatHash(e.BatchID),
	}}
}

// PotWithdrawn records the pot payout of a redistribution round.
type PotWithdrawn struct {
	Recipient [20]byte
	Amount    *big.Int
}

func (PotWithdrawn) EventType() string { return TypePotWithdrawn }

func (e PotWithdrawn) Event() *types.Event {
	return &types.Event{Type: TypePotWithdrawn, Attributes: map[string]string{
		"recipient": formatAddress(e.Recipient),
		"amount":    formatAmount(e.Amount),
	}}
}

// PriceUpdate records the per-chunk-per-block price applied by the ledger.
type PriceUpdate struct {
	Price *big.Int
	Block uint64
}

func (PriceUpdate) EventType() string { return TypePriceUpdate }

func (e PriceUpdate) Event() *types.Event {
	return &types.Event{Type: TypePriceUpdate, Attributes: map[string]string{
		"price": formatAmount(e.Price),
		"block": formatUint(e.Block),
	}}
}
