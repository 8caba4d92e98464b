// Package dedup implements the gossip-deduplication bitmap described in
// spec §4.A: a two-generation Bloom-style filter over a salted fingerprint.
// The bit layout is taken bit-exact from the original source's dejavu0/
// dejavu1 word arrays (qubic.cpp): one bit per fingerprint, word index
// fingerprint>>6, bit fingerprint&63.
package dedup

import "sync"

// Filter is a two-plane bitmap. Production wiring sizes it to 2^32 bits per
// spec §4.A; tests use a smaller bit count so the underlying slices stay
// tractable -- the probe/swap logic is identical at any size that is a
// multiple of 64.
type Filter struct {
	mu           sync.Mutex
	bits         uint64 // total bit capacity, per plane
	words        uint64
	young, old   []uint64
	youngHits    uint64
	swapInterval uint64 // number of sets before planes swap
}

// New creates a Filter with the given bit capacity per plane and the number
// of younger-plane insertions that trigger a generation swap.
func New(bits uint64, swapInterval uint64) *Filter {
	words := (bits + 63) / 64
	return &Filter{
		bits:         bits,
		words:        words,
		young:        make([]uint64, words),
		old:          make([]uint64, words),
		swapInterval: swapInterval,
	}
}

// CheckAndSet reports whether fingerprint was already present (a duplicate)
// in either plane. If not, it is set in the younger plane and the method
// returns false. Mirrors the original's
// "(dejavu0[id>>6]|dejavu1[id>>6]) & (1<<(id&63))" check-then-set.
func (f *Filter) CheckAndSet(fingerprint uint32) (duplicate bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	idx := (uint64(fingerprint) >> 6) % f.words
	bit := uint64(1) << (uint64(fingerprint) & 63)

	if f.young[idx]&bit != 0 || f.old[idx]&bit != 0 {
		return true
	}
	f.young[idx] |= bit
	f.youngHits++
	if f.swapInterval > 0 && f.youngHits >= f.swapInterval {
		f.swapPlanes()
	}
	return false
}

func (f *Filter) swapPlanes() {
	f.old, f.young = f.young, f.old
	for i := range f.young {
		f.young[i] = 0
	}
	f.youngHits = 0
}

// Reset clears both planes, used at epoch rollover.
func (f *Filter) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.young {
		f.young[i] = 0
	}
	for i := range f.old {
		f.old[i] = 0
	}
	f.youngHits = 0
}
