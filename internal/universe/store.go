// Package universe implements the asset-ownership graph (spec §3.3,
// §4.C): a single open-addressed table holding three tagged variants
// (issuance/ownership/possession) sharing one fixed slot layout, linear
// probed the same way as the spectrum.
package universe

import (
	"sync"

	"validator-node/internal/merkle"
	"validator-node/internal/types"
)

// Slot is one universe record. Only the fields relevant to Kind are
// meaningful; the rest are zero.
type Slot struct {
	Kind types.AssetKind

	// Issuance
	Issuer         types.PublicKey
	Name           [7]byte
	DecimalPlaces  int8
	UnitOfMeasure  [7]byte

	// Ownership
	Owner               types.PublicKey
	OwnershipContract   uint16
	IssuanceIndex       uint32
	OwnershipUnits      int64

	// Possession
	Possessor           types.PublicKey
	PossessionContract  uint16
	OwnershipIndex       uint32
	PossessionUnits      int64
}

func (s Slot) empty() bool { return s.Kind == types.AssetEmpty }

// nameKey returns the low-56-bit name comparison key used for issuance
// equality (name + issuer, per §4.F numeric/edge policies).
func nameKey(issuer types.PublicKey, name [7]byte) [39]byte {
	var k [39]byte
	copy(k[:32], issuer[:])
	copy(k[32:], name[:])
	return k
}

const none = ^uint32(0)

// Store is the universe table.
type Store struct {
	mu       sync.RWMutex
	slots    []Slot
	capacity uint32
	tree     *merkle.Tree
	leafHash func(Slot) types.Digest
}

func New(capacity uint32, hash merkle.Hasher, leafHash func(Slot) types.Digest) *Store {
	return &Store{
		slots:    make([]Slot, capacity),
		capacity: capacity,
		tree:     merkle.New(capacity, hash),
		leafHash: leafHash,
	}
}

func probeStart(pk types.PublicKey, capacity uint32) uint32 {
	k := uint32(pk[0]) | uint32(pk[1])<<8 | uint32(pk[2])<<16 | uint32(pk[3])<<24
	return k & (capacity - 1)
}

func (s *Store) markDirty(idx uint32) {
	s.tree.SetLeaf(idx, s.leafHash(s.slots[idx]))
}

// Digest returns the universe's Merkle root.
func (s *Store) Digest() types.Digest { return s.tree.Root() }

// Capacity returns the table's configured slot count.
func (s *Store) Capacity() uint32 { return s.capacity }

// Slot returns a copy of the record at index.
func (s *Store) Slot(index uint32) (Slot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if index >= s.capacity {
		return Slot{}, false
	}
	return s.slots[index], true
}

// FindIssuance locates an existing issuance by issuer+name, starting the
// probe at the issuer's bucket (matching issueAsset's own probe start).
func (s *Store) FindIssuance(issuer types.PublicKey, name [7]byte) (uint32, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.findIssuanceLocked(issuer, name)
}

func (s *Store) findIssuanceLocked(issuer types.PublicKey, name [7]byte) (uint32, bool) {
	idx := probeStart(issuer, s.capacity)
	want := nameKey(issuer, name)
	for i := uint32(0); i < s.capacity; i++ {
		cur := (idx + i) & (s.capacity - 1)
		slot := &s.slots[cur]
		if slot.empty() {
			return 0, false
		}
		if slot.Kind == types.AssetIssuance && nameKey(slot.Issuer, slot.Name) == want {
			return cur, true
		}
	}
	return 0, false
}

// IssueAsset allocates one issuance + one ownership + one possession for
// the issuer, each taking the next free slot on the issuer's probe chain
// (§4.C). Returns the three indices, or ok=false if an issuance with the
// same issuer+name already exists or capacity is exhausted.
func (s *Store) IssueAsset(issuer types.PublicKey, name [7]byte, decimals int8, unit [7]byte, units int64, managingContract uint16) (issuanceIdx, ownershipIdx, possessionIdx uint32, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.findIssuanceLocked(issuer, name); exists {
		return 0, 0, 0, false
	}

	issuanceIdx, ok = s.allocate(issuer)
	if !ok {
		return 0, 0, 0, false
	}
	s.slots[issuanceIdx] = Slot{
		Kind: types.AssetIssuance, Issuer: issuer, Name: name,
		DecimalPlaces: decimals, UnitOfMeasure: unit,
	}
	s.markDirty(issuanceIdx)

	ownershipIdx, ok = s.allocateFrom(issuanceIdx + 1)
	if !ok {
		s.slots[issuanceIdx] = Slot{}
		s.markDirty(issuanceIdx)
		return 0, 0, 0, false
	}
	s.slots[ownershipIdx] = Slot{
		Kind: types.AssetOwnership, Owner: issuer,
		OwnershipContract: managingContract, IssuanceIndex: issuanceIdx, OwnershipUnits: units,
	}
	s.markDirty(ownershipIdx)

	possessionIdx, ok = s.allocateFrom(ownershipIdx + 1)
	if !ok {
		s.slots[issuanceIdx] = Slot{}
		s.slots[ownershipIdx] = Slot{}
		s.markDirty(issuanceIdx)
		s.markDirty(ownershipIdx)
		return 0, 0, 0, false
	}
	s.slots[possessionIdx] = Slot{
		Kind: types.AssetPossession, Possessor: issuer,
		PossessionContract: managingContract, OwnershipIndex: ownershipIdx, PossessionUnits: units,
	}
	s.markDirty(possessionIdx)

	return issuanceIdx, ownershipIdx, possessionIdx, true
}

func (s *Store) allocate(key types.PublicKey) (uint32, bool) {
	return s.allocateFrom(probeStart(key, s.capacity))
}

func (s *Store) allocateFrom(start uint32) (uint32, bool) {
	for i := uint32(0); i < s.capacity; i++ {
		cur := (start + i) & (s.capacity - 1)
		if s.slots[cur].empty() {
			return cur, true
		}
	}
	return 0, false
}

func (s *Store) findOrCreateOwnership(owner types.PublicKey, issuanceIdx uint32, managingContract uint16) (uint32, bool) {
	idx := probeStart(owner, s.capacity)
	for i := uint32(0); i < s.capacity; i++ {
		cur := (idx + i) & (s.capacity - 1)
		slot := &s.slots[cur]
		if slot.empty() {
			s.slots[cur] = Slot{Kind: types.AssetOwnership, Owner: owner, OwnershipContract: managingContract, IssuanceIndex: issuanceIdx}
			s.markDirty(cur)
			return cur, true
		}
		if slot.Kind == types.AssetOwnership && slot.Owner == owner && slot.IssuanceIndex == issuanceIdx && slot.OwnershipContract == managingContract {
			return cur, true
		}
	}
	return 0, false
}

func (s *Store) findOrCreatePossession(possessor types.PublicKey, ownershipIdx uint32, managingContract uint16) (uint32, bool) {
	idx := probeStart(possessor, s.capacity)
	for i := uint32(0); i < s.capacity; i++ {
		cur := (idx + i) & (s.capacity - 1)
		slot := &s.slots[cur]
		if slot.empty() {
			s.slots[cur] = Slot{Kind: types.AssetPossession, Possessor: possessor, PossessionContract: managingContract, OwnershipIndex: ownershipIdx}
			s.markDirty(cur)
			return cur, true
		}
		if slot.Kind == types.AssetPossession && slot.Possessor == possessor && slot.OwnershipIndex == ownershipIdx && slot.PossessionContract == managingContract {
			return cur, true
		}
	}
	return 0, false
}

// TransferOwnershipAndPossession atomically moves units from the source
// ownership/possession pair to a (possibly new) destination, per §4.C.
// Returns false on any precondition violation, leaving state unchanged.
func (s *Store) TransferOwnershipAndPossession(srcOwnership, srcPossession uint32, dst types.PublicKey, units int64) bool {
	if units <= 0 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if srcOwnership >= s.capacity || srcPossession >= s.capacity {
		return false
	}
	own := s.slots[srcOwnership]
	pos := s.slots[srcPossession]
	if own.Kind != types.AssetOwnership || own.OwnershipUnits < units {
		return false
	}
	if pos.Kind != types.AssetPossession || pos.PossessionUnits < units || pos.OwnershipIndex != srcOwnership {
		return false
	}

	dstOwnershipIdx, ok := s.findOrCreateOwnership(dst, own.IssuanceIndex, own.OwnershipContract)
	if !ok {
		return false
	}
	dstPossessionIdx, ok := s.findOrCreatePossession(dst, dstOwnershipIdx, own.OwnershipContract)
	if !ok {
		return false
	}

	s.slots[srcOwnership].OwnershipUnits -= units
	s.slots[srcPossession].PossessionUnits -= units
	s.slots[dstOwnershipIdx].OwnershipUnits += units
	s.slots[dstPossessionIdx].PossessionUnits += units
	s.markDirty(srcOwnership)
	s.markDirty(srcPossession)
	s.markDirty(dstOwnershipIdx)
	s.markDirty(dstPossessionIdx)
	return true
}

// Compact rebuilds the universe into a fresh table, keeping only
// possessions with positive units (§4.I step 6): each kept possession's
// issuance is reinserted (deduped by issuer+name), its ownership is
// reinserted or extended, and its own possession is reinserted or
// extended -- ownership units accumulate across every possession that
// maps to the same (owner, issuance, contract) triple.
func (s *Store) Compact(hash merkle.Hasher) *Store {
	s.mu.RLock()
	defer s.mu.RUnlock()

	fresh := New(s.capacity, hash, s.leafHash)
	issuanceRemap := map[uint32]uint32{}

	for _, pos := range s.slots {
		if pos.Kind != types.AssetPossession || pos.PossessionUnits <= 0 {
			continue
		}
		own := s.slots[pos.OwnershipIndex]
		if own.Kind != types.AssetOwnership {
			continue
		}
		issuance := s.slots[own.IssuanceIndex]
		if issuance.Kind != types.AssetIssuance {
			continue
		}

		freshIssuanceIdx, remapped := issuanceRemap[own.IssuanceIndex]
		if !remapped {
			if idx, exists := fresh.findIssuanceLocked(issuance.Issuer, issuance.Name); exists {
				freshIssuanceIdx = idx
			} else {
				idx, allocated := fresh.allocate(issuance.Issuer)
				if !allocated {
					continue
				}
				fresh.slots[idx] = Slot{
					Kind: types.AssetIssuance, Issuer: issuance.Issuer, Name: issuance.Name,
					DecimalPlaces: issuance.DecimalPlaces, UnitOfMeasure: issuance.UnitOfMeasure,
				}
				fresh.markDirty(idx)
				freshIssuanceIdx = idx
			}
			issuanceRemap[own.IssuanceIndex] = freshIssuanceIdx
		}

		freshOwnershipIdx, ok := fresh.findOrCreateOwnership(own.Owner, freshIssuanceIdx, own.OwnershipContract)
		if !ok {
			continue
		}
		fresh.slots[freshOwnershipIdx].OwnershipUnits += pos.PossessionUnits
		fresh.markDirty(freshOwnershipIdx)

		freshPossessionIdx, ok := fresh.findOrCreatePossession(pos.Possessor, freshOwnershipIdx, pos.PossessionContract)
		if !ok {
			continue
		}
		fresh.slots[freshPossessionIdx].PossessionUnits += pos.PossessionUnits
		fresh.markDirty(freshPossessionIdx)
	}

	return fresh
}

// None is the sentinel index meaning "not found".
const None = none

// ForEach calls fn for every non-empty slot, in index order. Used by the
// dispatcher's issued/owned/possessed-assets request handlers (§4.H) to
// scan for an entity's holdings; it takes the same read lock Slot does.
func (s *Store) ForEach(fn func(index uint32, slot Slot)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i, slot := range s.slots {
		if !slot.empty() {
			fn(uint32(i), slot)
		}
	}
}
