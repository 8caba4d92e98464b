// Package tickstore implements the tick log and transaction arena (spec
// §3.5, §4.E): per-(tick,computor) vote slots, per-tick TickData, a packed
// transaction arena, and the entity-pending-transaction backfill cache.
package tickstore

import (
	"errors"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"validator-node/internal/types"
	"validator-node/internal/wire"
)

var (
	ErrArenaFull    = errors.New("tickstore: transaction arena exhausted")
	ErrOutOfWindow  = errors.New("tickstore: tick outside the current epoch window")
)

// voteSlot guards one (tick,computor) cell with its own lock, per §5's
// per-vote-slot locking discipline.
type voteSlot struct {
	mu   sync.Mutex
	vote *wire.TickVote
}

// Store holds the ring of vote/data slots for one epoch window plus the
// shared transaction arena.
type Store struct {
	initialTick  types.Tick
	maxTicks     uint32 // MAX_TICKS_PER_EPOCH
	votes        []voteSlot                    // len = maxTicks * NumberOfComputors
	dataMu       sync.RWMutex
	data         []*wire.TickData               // len = maxTicks
	faulty       [types.NumberOfComputors]bool
	faultyMu     sync.RWMutex

	arenaMu   sync.Mutex
	arena     []byte
	arenaUsed int
	offsets   [][types.MaxTransactionsPerTick]uint32 // len = maxTicks, 0 = unset

	pendingMu sync.Mutex
	pending   *lru.Cache[types.PublicKey, pendingEntry]
}

type pendingEntry struct {
	Tx     wire.Transaction
	Digest types.Digest
}

// New creates a Store for one epoch window. arenaSize is the transaction
// arena's byte capacity (REQUEST_QUEUE_BUFFER_SIZE, §4.E); pendingCapacity
// bounds the entity-pending cache (one entry per spectrum slot in theory,
// an LRU in practice -- see DESIGN.md's golang-lru wiring note).
func New(initialTick types.Tick, maxTicks uint32, arenaSize int, pendingCapacity int) *Store {
	cache, _ := lru.New[types.PublicKey, pendingEntry](pendingCapacity)
	return &Store{
		initialTick: initialTick,
		maxTicks:    maxTicks,
		votes:       make([]voteSlot, uint64(maxTicks)*types.NumberOfComputors),
		data:        make([]*wire.TickData, maxTicks),
		arena:       make([]byte, arenaSize),
		offsets:     make([][types.MaxTransactionsPerTick]uint32, maxTicks),
		pending:     cache,
	}
}

func (s *Store) tickOffset(tick types.Tick) (uint32, bool) {
	if tick < s.initialTick {
		return 0, false
	}
	off := uint32(tick - s.initialTick)
	if off >= s.maxTicks {
		return 0, false
	}
	return off, true
}

// PutVote records computor's vote for tick, enforcing vote uniqueness (P5).
// If a differing vote already exists for this (tick,computor), the
// computor is marked faulty and the original vote is kept (§3.7: "re-receipt
// flags faulty", never cleared except at epoch rollover).
func (s *Store) PutVote(tick types.Tick, computor uint16, vote wire.TickVote) (faulty bool, err error) {
	off, ok := s.tickOffset(tick)
	if !ok {
		return false, ErrOutOfWindow
	}
	if int(computor) >= types.NumberOfComputors {
		return false, errors.New("tickstore: computor index out of range")
	}
	slotIdx := uint64(off)*types.NumberOfComputors + uint64(computor)
	slot := &s.votes[slotIdx]

	slot.mu.Lock()
	defer slot.mu.Unlock()
	if slot.vote == nil {
		v := vote
		slot.vote = &v
		return false, nil
	}
	if sameEssence(*slot.vote, vote) {
		return false, nil
	}
	s.markFaulty(computor)
	return true, nil
}

func sameEssence(a, b wire.TickVote) bool {
	return a.PrevSpectrumDigest == b.PrevSpectrumDigest &&
		a.PrevUniverseDigest == b.PrevUniverseDigest &&
		a.PrevComputerDigest == b.PrevComputerDigest &&
		a.SaltedSpectrumDigest == b.SaltedSpectrumDigest &&
		a.SaltedUniverseDigest == b.SaltedUniverseDigest &&
		a.SaltedComputerDigest == b.SaltedComputerDigest &&
		a.TransactionDigest == b.TransactionDigest &&
		a.ExpectedNextTickTransactionDigest == b.ExpectedNextTickTransactionDigest
}

func (s *Store) markFaulty(computor uint16) {
	s.faultyMu.Lock()
	defer s.faultyMu.Unlock()
	s.faulty[computor] = true
}

// IsFaulty reports whether computor has been marked faulty this epoch.
func (s *Store) IsFaulty(computor uint16) bool {
	s.faultyMu.RLock()
	defer s.faultyMu.RUnlock()
	return s.faulty[computor]
}

// FaultyCount reports how many computors are marked faulty this epoch, for
// internal/metrics to poll into a gauge.
func (s *Store) FaultyCount() int {
	s.faultyMu.RLock()
	defer s.faultyMu.RUnlock()
	n := 0
	for _, f := range s.faulty {
		if f {
			n++
		}
	}
	return n
}

// Votes returns every recorded vote for tick, keyed by computor index.
func (s *Store) Votes(tick types.Tick) map[uint16]wire.TickVote {
	off, ok := s.tickOffset(tick)
	out := map[uint16]wire.TickVote{}
	if !ok {
		return out
	}
	for c := 0; c < types.NumberOfComputors; c++ {
		slot := &s.votes[uint64(off)*types.NumberOfComputors+uint64(c)]
		slot.mu.Lock()
		if slot.vote != nil {
			out[uint16(c)] = *slot.vote
		}
		slot.mu.Unlock()
	}
	return out
}

// PutTickData installs tick's TickData iff none is recorded yet (§3.7); an
// entry already recorded is kept. ClearTickData removes one.
func (s *Store) PutTickData(tick types.Tick, data wire.TickData) error {
	off, ok := s.tickOffset(tick)
	if !ok {
		return ErrOutOfWindow
	}
	s.dataMu.Lock()
	defer s.dataMu.Unlock()
	if s.data[off] != nil {
		return nil
	}
	d := data
	s.data[off] = &d
	return nil
}

// TickData returns the recorded TickData for tick, if any.
func (s *Store) TickData(tick types.Tick) (wire.TickData, bool) {
	off, ok := s.tickOffset(tick)
	if !ok {
		return wire.TickData{}, false
	}
	s.dataMu.RLock()
	defer s.dataMu.RUnlock()
	d := s.data[off]
	if d == nil {
		return wire.TickData{}, false
	}
	return *d, true
}

// ClearTickData forces tick's TickData back to unset (quorum stall forcing
// an empty tick, §4.G / §7 "Quorum stall").
func (s *Store) ClearTickData(tick types.Tick) {
	off, ok := s.tickOffset(tick)
	if !ok {
		return
	}
	s.dataMu.Lock()
	s.data[off] = nil
	s.dataMu.Unlock()
}

// AppendTransaction stores tx's encoded bytes in the arena and records its
// offset for (tick,slot). Overflow rejects the newest transaction with
// ErrArenaFull, never overwriting existing data (§4.E).
func (s *Store) AppendTransaction(tick types.Tick, slot int, encoded []byte) error {
	off, ok := s.tickOffset(tick)
	if !ok {
		return ErrOutOfWindow
	}
	if slot < 0 || slot >= types.MaxTransactionsPerTick {
		return errors.New("tickstore: slot out of range")
	}
	s.arenaMu.Lock()
	defer s.arenaMu.Unlock()

	if s.arenaUsed+len(encoded) > len(s.arena) {
		return ErrArenaFull
	}
	if s.offsets[off][slot] != 0 {
		return nil // already set, never overwrite
	}
	start := s.arenaUsed
	copy(s.arena[start:], encoded)
	s.arenaUsed += len(encoded)
	// Offsets are 1-based so zero means "unset" (§4.E).
	s.offsets[off][slot] = uint32(start) + 1
	return nil
}

// TransactionBytes returns the raw encoded bytes stored for (tick,slot),
// ok=false if unset.
func (s *Store) TransactionBytes(tick types.Tick, slot int, length int) ([]byte, bool) {
	off, ok := s.tickOffset(tick)
	if !ok {
		return nil, false
	}
	s.arenaMu.Lock()
	defer s.arenaMu.Unlock()
	raw := s.offsets[off][slot]
	if raw == 0 {
		return nil, false
	}
	start := int(raw - 1)
	if start+length > len(s.arena) {
		return nil, false
	}
	out := make([]byte, length)
	copy(out, s.arena[start:start+length])
	return out, true
}

// PutPending records tx as the most-recent pending transaction for its
// source spectrum slot. Per DESIGN.md's resolution of the "same tick+source"
// open question, the most recent PutPending call wins outright.
func (s *Store) PutPending(source types.PublicKey, tx wire.Transaction, digest types.Digest) {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	s.pending.Add(source, pendingEntry{Tx: tx, Digest: digest})
}

// Pending returns the most-recent pending transaction for source, if any.
func (s *Store) Pending(source types.PublicKey) (wire.Transaction, types.Digest, bool) {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	e, ok := s.pending.Get(source)
	if !ok {
		return wire.Transaction{}, types.Digest{}, false
	}
	return e.Tx, e.Digest, true
}

// ResetEpoch clears the vote/data ring and faulty mask for a new epoch
// window, and frees the transaction arena (§3.7 "arena freed at epoch
// rollover").
func (s *Store) ResetEpoch(initialTick types.Tick) {
	s.initialTick = initialTick
	for i := range s.votes {
		s.votes[i] = voteSlot{}
	}
	s.dataMu.Lock()
	for i := range s.data {
		s.data[i] = nil
	}
	s.dataMu.Unlock()
	s.faultyMu.Lock()
	s.faulty = [types.NumberOfComputors]bool{}
	s.faultyMu.Unlock()
	s.arenaMu.Lock()
	s.arenaUsed = 0
	for i := range s.offsets {
		s.offsets[i] = [types.MaxTransactionsPerTick]uint32{}
	}
	s.arenaMu.Unlock()
}
