// Package spectrum implements the entity balance table (spec §3.2, §4.B):
// an open-addressed hash table of public key to balance record, linear
// probed from the first 32 bits of the key, Merkle-digested over a
// change-flag bitmap.
package spectrum

import (
	"sync"

	"validator-node/internal/merkle"
	"validator-node/internal/types"
)

// Entity is one spectrum slot (§3.2). Balance = IncomingAmount -
// OutgoingAmount and must never be observed negative (P2).
type Entity struct {
	PublicKey      types.PublicKey
	IncomingAmount types.Amount
	OutgoingAmount types.Amount
	NumIncoming    uint32
	NumOutgoing    uint32
	LastInTick     types.Tick
	LastOutTick    types.Tick
}

func (e Entity) Balance() types.Amount { return e.IncomingAmount - e.OutgoingAmount }

const none = ^uint32(0)

// Store is the spectrum hash table. A single RWMutex guards the slot array;
// the change-flag bitmap backing the Merkle tree is guarded by the
// merkle.Tree's own mutex.
type Store struct {
	mu       sync.RWMutex
	slots    []Entity
	capacity uint32
	count    uint32
	tree     *merkle.Tree
	leafHash func(Entity) types.Digest
}

// New creates a Store with the given capacity (must be a power of two;
// production wiring uses types.SpectrumCapacity). leafHash computes a
// slot's Merkle leaf digest, supplied by the owning node so this package
// stays oracle-agnostic.
func New(capacity uint32, hash merkle.Hasher, leafHash func(Entity) types.Digest) *Store {
	return &Store{
		slots:    make([]Entity, capacity),
		capacity: capacity,
		tree:     merkle.New(capacity, hash),
		leafHash: leafHash,
	}
}

func probeStart(pk types.PublicKey, capacity uint32) uint32 {
	k := uint32(pk[0]) | uint32(pk[1])<<8 | uint32(pk[2])<<16 | uint32(pk[3])<<24
	return k & (capacity - 1)
}

// Lookup returns the slot index holding pk, or none if pk is absent.
func (s *Store) Lookup(pk types.PublicKey) uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lookupLocked(pk)
}

func (s *Store) lookupLocked(pk types.PublicKey) uint32 {
	idx := probeStart(pk, s.capacity)
	for i := uint32(0); i < s.capacity; i++ {
		cur := (idx + i) & (s.capacity - 1)
		if s.slots[cur].PublicKey == pk {
			return cur
		}
		if s.slots[cur].PublicKey.IsZero() {
			return none
		}
	}
	return none
}

// Balance returns the balance at index, or 0 if index is out of range.
func (s *Store) Balance(index uint32) types.Amount {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if index >= s.capacity {
		return 0
	}
	return s.slots[index].Balance()
}

// Entity returns a copy of the slot at index.
func (s *Store) Entity(index uint32) (Entity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if index >= s.capacity {
		return Entity{}, false
	}
	return s.slots[index], true
}

// Credit increments a slot's incoming amount, creating the slot on first
// receipt of funds (§3.7). Fails silently when pk is zero or amount < 0,
// per §4.B.
func (s *Store) Credit(pk types.PublicKey, amount types.Amount, tick types.Tick) {
	if pk.IsZero() || amount < 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := probeStart(pk, s.capacity)
	for i := uint32(0); i < s.capacity; i++ {
		cur := (idx + i) & (s.capacity - 1)
		slot := &s.slots[cur]
		if slot.PublicKey == pk {
			slot.IncomingAmount += amount
			slot.NumIncoming++
			slot.LastInTick = tick
			s.markDirty(cur)
			return
		}
		if slot.PublicKey.IsZero() {
			slot.PublicKey = pk
			slot.IncomingAmount = amount
			slot.NumIncoming = 1
			slot.LastInTick = tick
			s.count++
			s.markDirty(cur)
			return
		}
	}
	// Capacity exhausted: not recoverable within a tick (§4.B).
}

// Debit attempts to subtract amount from the slot at index, succeeding
// (and updating outgoing totals) only if the balance is sufficient.
func (s *Store) Debit(index uint32, amount types.Amount, tick types.Tick) bool {
	if amount < 0 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if index >= s.capacity {
		return false
	}
	slot := &s.slots[index]
	if slot.Balance() < amount {
		return false
	}
	slot.OutgoingAmount += amount
	slot.NumOutgoing++
	slot.LastOutTick = tick
	s.markDirty(index)
	return true
}

func (s *Store) markDirty(index uint32) {
	d := s.leafHash(s.slots[index])
	s.tree.SetLeaf(index, d)
}

// Digest returns the spectrum's Merkle root (§3.6, P4).
func (s *Store) Digest() types.Digest {
	return s.tree.Root()
}

// Count returns the number of occupied slots.
func (s *Store) Count() uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}

// Capacity returns the store's configured slot count.
func (s *Store) Capacity() uint32 { return s.capacity }

// Compact rehashes every non-zero-balance entity into a fresh table of the
// same capacity, preserving the open-address invariants (epoch compaction,
// §4.B, §4.I step 5). It returns the new store.
func (s *Store) Compact(hash merkle.Hasher) *Store {
	s.mu.RLock()
	defer s.mu.RUnlock()

	fresh := New(s.capacity, hash, s.leafHash)
	for _, e := range s.slots {
		if e.PublicKey.IsZero() || e.Balance() == 0 {
			continue
		}
		idx := probeStart(e.PublicKey, fresh.capacity)
		for i := uint32(0); i < fresh.capacity; i++ {
			cur := (idx + i) & (fresh.capacity - 1)
			if fresh.slots[cur].PublicKey.IsZero() {
				fresh.slots[cur] = e
				fresh.count++
				fresh.markDirty(cur)
				break
			}
		}
	}
	return fresh
}

// None is the sentinel returned by Lookup when a key is absent.
const None = none
