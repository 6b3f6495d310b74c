package postage

import "fmt"

// Params controls batch admission.
type Params struct {
	// MinimumBucketDepth is the floor for a batch's bucket depth; the batch
	// depth itself must be strictly greater than its bucket depth.
	MinimumBucketDepth uint8
	// MinimumValidityBlocks scales the minimum initial per-chunk balance:
	// a new batch must prepay at least this many blocks at the current price.
	MinimumValidityBlocks uint64
}

// DefaultParams returns the production defaults.
func DefaultParams() Params {
	return Params{
		MinimumBucketDepth:    16,
		MinimumValidityBlocks: 17_280,
	}
}

// Validate ensures the supplied parameters fall within safe operating ranges.
func (p Params) Validate() error {
	if p.MinimumBucketDepth == 0 {
		return fmt.Errorf("minimum bucket depth must be positive")
	}
	if p.MinimumValidityBlocks == 0 {
		return fmt.Errorf("minimum validity blocks must be positive")
	}
	return nil
}
