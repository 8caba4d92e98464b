// Package merkle implements the dense binary digest tree shared by the
// spectrum, universe and computer stores (spec §3.6): 2*N-1 digests over N
// leaves, with a dirty-bit bitmap so recomputation only walks nodes whose
// subtree actually changed.
package merkle

import (
	"sync"

	"validator-node/internal/types"
)

// Hasher combines two child digests into their parent. It is supplied by
// internal/cryptooracle so this package stays oracle-agnostic.
type Hasher func(left, right types.Digest) types.Digest

// Tree is a fixed-capacity dense binary Merkle tree over leafCount leaves.
// Leaves live at nodes[capacity-1 : 2*capacity-1]; node i's parent is
// (i-1)/2. Capacity is rounded up to nothing — callers pass the exact
// leaf count the owning store uses (its probe-table capacity).
type Tree struct {
	mu       sync.RWMutex
	hash     Hasher
	leaves   uint32
	nodes    []types.Digest
	dirty    []uint64 // one bit per node, OR of children dirty bits
	anyDirty bool
}

func New(leaves uint32, hash Hasher) *Tree {
	n := 2*int(leaves) - 1
	if leaves == 0 {
		n = 0
	}
	return &Tree{
		hash:   hash,
		leaves: leaves,
		nodes:  make([]types.Digest, n),
		dirty:  make([]uint64, (n+63)/64),
	}
}

func (t *Tree) leafNode(leaf uint32) int {
	return int(t.leaves) - 1 + int(leaf)
}

func (t *Tree) setBit(i int) {
	t.dirty[i/64] |= 1 << uint(i%64)
}

func (t *Tree) bit(i int) bool {
	return t.dirty[i/64]&(1<<uint(i%64)) != 0
}

func (t *Tree) clearBit(i int) {
	t.dirty[i/64] &^= 1 << uint(i%64)
}

// SetLeaf installs a new leaf digest and marks its ancestry dirty. The
// caller computes the leaf digest (e.g. hash of an Entity record); this
// method only threads the change up the tree.
func (t *Tree) SetLeaf(leaf uint32, d types.Digest) {
	t.mu.Lock()
	defer t.mu.Unlock()
	idx := t.leafNode(leaf)
	t.nodes[idx] = d
	t.anyDirty = true
	for idx > 0 {
		idx = (idx - 1) / 2
		t.setBit(idx)
	}
}

// MarkDirty flags leaf's ancestry dirty without changing its stored digest.
// Root then recombines the flagged ancestors from the leaf digest already
// stored; it never recomputes a leaf digest, so a changed leaf value still
// has to be installed with SetLeaf.
func (t *Tree) MarkDirty(leaf uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	idx := t.leafNode(leaf)
	t.anyDirty = true
	t.setBit(idx)
	for idx > 0 {
		idx = (idx - 1) / 2
		t.setBit(idx)
	}
}

// Root returns the root digest, recomputing only nodes on the dirty path
// (P4: if nothing changed since the last call, this is O(1)).
func (t *Tree) Root() types.Digest {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.anyDirty || len(t.nodes) == 0 {
		if len(t.nodes) == 0 {
			return types.Digest{}
		}
		return t.nodes[0]
	}
	t.recomputeDirty(0)
	t.anyDirty = false
	return t.nodes[0]
}

// recomputeDirty walks down from idx, recomputing any dirty internal node
// bottom-up via post-order recursion, then clears its bit.
func (t *Tree) recomputeDirty(idx int) {
	left := 2*idx + 1
	right := 2*idx + 2
	if left >= len(t.nodes) {
		// leaf: nothing to combine, digest was set directly by SetLeaf.
		t.clearBit(idx)
		return
	}
	if t.bit(left) {
		t.recomputeDirty(left)
	}
	if right < len(t.nodes) && t.bit(right) {
		t.recomputeDirty(right)
	}
	var r types.Digest
	if right < len(t.nodes) {
		r = t.nodes[right]
	}
	t.nodes[idx] = t.hash(t.nodes[left], r)
	t.clearBit(idx)
}

// Leaves returns the tree's configured leaf count.
func (t *Tree) Leaves() uint32 { return t.leaves }
