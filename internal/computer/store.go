// Package computer implements the per-contract state array (spec §3.4,
// §4.D): up to MaxNumberOfContracts fixed-size state blobs, each
// Merkle-digested, dispatched through a per-contract procedure table.
package computer

import (
	"errors"
	"sync"

	"validator-node/internal/merkle"
	"validator-node/internal/types"
)

var (
	ErrUnknownContract = errors.New("computer: unknown contract index")
	ErrNotRegistered    = errors.New("computer: contract not registered")
)

// Procedure is one entry point a contract exposes: INITIALIZE, BEGIN_EPOCH,
// BEGIN_TICK, END_TICK, END_EPOCH, or a user procedure/function keyed by
// input type (§4.D).
type Procedure func(ctx *InvocationContext, input []byte) (output []byte, err error)

// InvocationContext is threaded through a contract call; it pins the
// contract whose state is being mutated plus the tick/epoch it runs under.
// The full read/write surface is exposed separately via internal/qpi.
type InvocationContext struct {
	Contract types.ContractIndex
	Tick     types.Tick
	Epoch    types.Epoch
}

// Contract is one registered contract's static shape: its fixed state
// size, construction epoch, and dispatch table.
type Contract struct {
	Index             types.ContractIndex
	ConstructionEpoch types.Epoch
	StateSize         int

	Initialize Procedure
	BeginEpoch Procedure
	BeginTick  Procedure
	EndTick    Procedure
	EndEpoch   Procedure

	Procedures map[uint16]Procedure
	Functions  map[uint16]Procedure

	// IPO is non-nil only before ConstructionEpoch: the pre-construction
	// bid auction (§3.4, §4.F.3).
	IPO *IPO
}

// Store holds every contract's state blob plus the computer-wide Merkle
// digest (§3.4).
type Store struct {
	mu        sync.RWMutex
	contracts [types.MaxNumberOfContracts]*Contract
	states    [types.MaxNumberOfContracts][]byte
	tree      *merkle.Tree
	leafHash  func([]byte) types.Digest
}

func New(hash merkle.Hasher, leafHash func([]byte) types.Digest) *Store {
	return &Store{
		tree:     merkle.New(types.MaxNumberOfContracts, hash),
		leafHash: leafHash,
	}
}

// Register installs a contract definition and allocates its state blob.
func (s *Store) Register(c *Contract) error {
	if int(c.Index) >= types.MaxNumberOfContracts {
		return ErrUnknownContract
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contracts[c.Index] = c
	s.states[c.Index] = make([]byte, c.StateSize)
	s.markDirty(c.Index)
	return nil
}

func (s *Store) markDirty(idx types.ContractIndex) {
	s.tree.SetLeaf(uint32(idx), s.leafHash(s.states[idx]))
}

// State returns the raw state blob for a contract, for read access by qpi.
func (s *Store) State(idx types.ContractIndex) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if int(idx) >= types.MaxNumberOfContracts || s.contracts[idx] == nil {
		return nil, ErrUnknownContract
	}
	return s.states[idx], nil
}

// MutateState runs fn against the contract's state blob under the store
// lock and marks its Merkle leaf dirty.
func (s *Store) MutateState(idx types.ContractIndex, fn func([]byte)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if int(idx) >= types.MaxNumberOfContracts || s.contracts[idx] == nil {
		return ErrUnknownContract
	}
	fn(s.states[idx])
	s.markDirty(idx)
	return nil
}

// Invoke dispatches a user procedure call by input type (§4.F.3), passing
// the caller's input slice and ctx straight to the procedure.
func (s *Store) Invoke(idx types.ContractIndex, inputType uint16, ctx *InvocationContext, input []byte) ([]byte, error) {
	s.mu.RLock()
	c := s.contracts[idx]
	s.mu.RUnlock()
	if c == nil {
		return nil, ErrUnknownContract
	}
	proc, ok := c.Procedures[inputType]
	if !ok {
		return nil, ErrNotRegistered
	}
	return proc(ctx, input)
}

// RunBeginTick invokes every registered contract's BEGIN_TICK callback, in
// contract-index order (§4.F: "BEGIN_TICK before" the transaction loop).
func (s *Store) RunBeginTick(tick types.Tick, epoch types.Epoch) {
	s.runPhase(tick, epoch, func(c *Contract) Procedure { return c.BeginTick })
}

// RunEndTick invokes every registered contract's END_TICK callback.
func (s *Store) RunEndTick(tick types.Tick, epoch types.Epoch) {
	s.runPhase(tick, epoch, func(c *Contract) Procedure { return c.EndTick })
}

// RunEndEpoch invokes every registered contract's END_EPOCH callback
// (§4.I step 1).
func (s *Store) RunEndEpoch(tick types.Tick, epoch types.Epoch) {
	s.runPhase(tick, epoch, func(c *Contract) Procedure { return c.EndEpoch })
}

// RunBeginEpoch invokes every registered contract's BEGIN_EPOCH callback.
func (s *Store) RunBeginEpoch(tick types.Tick, epoch types.Epoch) {
	s.runPhase(tick, epoch, func(c *Contract) Procedure { return c.BeginEpoch })
}

func (s *Store) runPhase(tick types.Tick, epoch types.Epoch, pick func(*Contract) Procedure) {
	s.mu.RLock()
	contracts := s.contracts
	s.mu.RUnlock()
	for _, c := range contracts {
		if c == nil {
			continue
		}
		if proc := pick(c); proc != nil {
			ctx := &InvocationContext{Contract: c.Index, Tick: tick, Epoch: epoch}
			_, _ = proc(ctx, nil)
		}
	}
}

// Digest returns the computer's Merkle root over all contract state blobs.
func (s *Store) Digest() types.Digest { return s.tree.Root() }

// Contract returns the registered definition for idx, if any.
func (s *Store) Contract(idx types.ContractIndex) (*Contract, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if int(idx) >= types.MaxNumberOfContracts {
		return nil, false
	}
	c := s.contracts[idx]
	return c, c != nil
}
