package postage

import (
	"math/big"

	"swarmchain/crypto"
)

// BatchID is the content-derived identifier of a batch:
// keccak256(owner || nonce).
type BatchID [32]byte

// NewBatchID derives the identifier for an owner/nonce pair.
func NewBatchID(owner [20]byte, nonce [32]byte) BatchID {
	return BatchID(crypto.Keccak256(owner[:], nonce[:]))
}

// Batch is a prepaid storage-capacity grant covering 2^Depth address-space
// units. NormalisedBalance is the total out-payment level at which the batch
// runs dry; comparing it against the ledger's accumulated out-payment gives
// the remaining per-chunk balance without per-batch bookkeeping.
type Batch struct {
	Owner             [20]byte
	Depth             uint8
	BucketDepth       uint8
	Immutable         bool
	NormalisedBalance *big.Int
}

// Copy returns a deep copy to avoid callers mutating shared pointers.
func (b *Batch) Copy() *Batch {
	if b == nil {
		return nil
	}
	clone := *b
	if b.NormalisedBalance != nil {
		clone.NormalisedBalance = new(big.Int).Set(b.NormalisedBalance)
	}
	return &clone
}

// Chunks returns the capacity of the batch in address-range units.
func (b *Batch) Chunks() *big.Int {
	return chunksAtDepth(b.Depth)
}

func chunksAtDepth(depth uint8) *big.Int {
	return new(big.Int).Lsh(big.NewInt(1), uint(depth))
}

// Globals is the shared accumulator state of the ledger.
type Globals struct {
	// TotalOutPayment is the settled per-chunk payment level as of
	// LastUpdatedBlock; the live level adds LastPrice per block since.
	TotalOutPayment *big.Int
	// LastExpiryBalance is the out-payment level up to which expiry
	// processing has already credited the pot.
	LastExpiryBalance *big.Int
	LastPrice         *big.Int
	Pot               *big.Int
	ValidChunkCount   *big.Int
	LastUpdatedBlock  uint64
}

// NewGlobals returns zeroed accumulators.
func NewGlobals() *Globals {
	return &Globals{
		TotalOutPayment:   big.NewInt(0),
		LastExpiryBalance: big.NewInt(0),
		LastPrice:         big.NewInt(0),
		Pot:               big.NewInt(0),
		ValidChunkCount:   big.NewInt(0),
	}
}

// Copy returns a deep copy of the accumulators.
func (g *Globals) Copy() *Globals {
	if g == nil {
		return nil
	}
	clone := &Globals{LastUpdatedBlock: g.LastUpdatedBlock}
	clone.TotalOutPayment = copyBig(g.TotalOutPayment)
	clone.LastExpiryBalance = copyBig(g.LastExpiryBalance)
	clone.LastPrice = copyBig(g.LastPrice)
	clone.Pot = copyBig(g.Pot)
	clone.ValidChunkCount = copyBig(g.ValidChunkCount)
	return clone
}

func copyBig(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// String renders the id as lowercase hex.
func (id BatchID) String() string {
	return crypto.OverlayFromBytes(id[:]).String()
}

// lessThan orders batch ids lexicographically for expiry tie-breaks.
func (id BatchID) lessThan(other BatchID) bool {
	for i := 0; i < len(id); i++ {
		if id[i] != other[i] {
			return id[i] < other[i]
		}
	}
	return false
}
