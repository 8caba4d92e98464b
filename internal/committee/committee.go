// Package committee holds the current 676-member validator set and the
// arbitrator identity (spec §3.1, §4.J). It is the concrete type wired
// into qpi.Committee and the quorum engine's vote-counting salt lookups.
package committee

import (
	"sync"

	"validator-node/internal/types"
)

// Committee is the current epoch's validator set.
type Committee struct {
	mu         sync.RWMutex
	arbitrator types.PublicKey
	members    [types.NumberOfComputors]types.PublicKey
}

// New creates a Committee with the given arbitrator and initial members.
func New(arbitrator types.PublicKey, members [types.NumberOfComputors]types.PublicKey) *Committee {
	return &Committee{arbitrator: arbitrator, members: members}
}

// Arbitrator returns the arbitrator's public key.
func (c *Committee) Arbitrator() types.PublicKey {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.arbitrator
}

// Computor returns the i-th member's public key, wrapping modulo
// NumberOfComputors the way the original source's __computor intrinsic does.
func (c *Committee) Computor(i int) types.PublicKey {
	c.mu.RLock()
	defer c.mu.RUnlock()
	idx := ((i % types.NumberOfComputors) + types.NumberOfComputors) % types.NumberOfComputors
	return c.members[idx]
}

// Members returns a snapshot of the full committee.
func (c *Committee) Members() [types.NumberOfComputors]types.PublicKey {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.members
}

// Replace installs a new member set wholesale (epoch rotation, §4.I step 7).
func (c *Committee) Replace(members [types.NumberOfComputors]types.PublicKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.members = members
}
