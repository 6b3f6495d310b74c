package redistribution

import (
	"encoding/binary"
	"math/big"

	"swarmchain/crypto"
)

// Phase is the position of a block within a round.
type Phase int

const (
	// PhaseCommit is the first quarter of a round.
	PhaseCommit Phase = iota
	// PhaseReveal is the second quarter.
	PhaseReveal
	// PhaseClaim is the remaining half.
	PhaseClaim
)

func (p Phase) String() string {
	switch p {
	case PhaseCommit:
		return "commit"
	case PhaseReveal:
		return "reveal"
	case PhaseClaim:
		return "claim"
	default:
		return "unknown"
	}
}

// Commit is an operator's sealed participation in a round. Stake and height
// are snapshotted at commit time so a later stake change cannot retroactively
// shift the round's weights.
type Commit struct {
	Overlay        crypto.Overlay
	Owner          [20]byte
	Height         uint8
	Stake          *big.Int
	ObfuscatedHash [32]byte
	Revealed       bool
}

// Reveal is an opened commitment: the claimed reserve-state hash at a claimed
// storage depth, weighted by stake density for the winner draw.
type Reveal struct {
	Overlay      crypto.Overlay
	Owner        [20]byte
	Depth        uint8
	Hash         [32]byte
	Stake        *big.Int
	StakeDensity *big.Int
}

// Copy returns a deep copy to avoid callers mutating shared pointers.
func (r Reveal) Copy() Reveal {
	clone := r
	if r.Stake != nil {
		clone.Stake = new(big.Int).Set(r.Stake)
	}
	if r.StakeDensity != nil {
		clone.StakeDensity = new(big.Int).Set(r.StakeDensity)
	}
	return clone
}

// RoundState is the persisted cross-round game state.
type RoundState struct {
	// Seed accumulates randomness across claimed rounds.
	Seed [32]byte
	// CurrentMinimumDepth is the participation floor, ratcheting toward the
	// depth each winner proved.
	CurrentMinimumDepth uint8
	// LastClaimedRound guards against double claims and drives seed advance.
	LastClaimedRound uint64
	// Claimed distinguishes "round zero never claimed" from "round zero
	// claimed".
	Claimed bool
}

// Copy returns a copy of the round state.
func (s *RoundState) Copy() *RoundState {
	if s == nil {
		return nil
	}
	clone := *s
	return &clone
}

// ObfuscateCommit computes the sealed commitment hash an operator submits
// during the commit phase: keccak256(overlay || depth || reserveHash || nonce).
// The depth is hashed in, so revealing a different depth can never match.
func ObfuscateCommit(overlay crypto.Overlay, depth uint8, reserveHash [32]byte, nonce [32]byte) [32]byte {
	return crypto.Keccak256(overlay[:], []byte{depth}, reserveHash[:], nonce[:])
}

func uint64BE(v uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return buf[:]
}
