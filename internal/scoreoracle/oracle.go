// Package scoreoracle defines the boundary to the mining score function
// (spec §1: the neural-net proof-of-useful-work scorer lives outside this
// repository). It ships a deterministic stub so the transaction processor's
// solution-intake path (§4.F.3) is exercisable without the real scorer.
package scoreoracle

import "validator-node/internal/types"

// Oracle scores a miner's solution nonce against the current task. Scores
// are compared against SOLUTION_THRESHOLD by the caller.
type Oracle interface {
	Score(source types.PublicKey, nonce [32]byte) uint32
}

// Stub returns a score derived deterministically from the nonce bytes (a
// base-31 polynomial over the 32 bytes; source is ignored) -- useful for
// driving the solution-intake path in tests without a real scorer. Score
// does not read the Threshold field.
type Stub struct {
	Threshold uint32
}

func (s Stub) Score(source types.PublicKey, nonce [32]byte) uint32 {
	var acc uint32
	for _, b := range nonce {
		acc = acc*31 + uint32(b)
	}
	return acc
}
