// Package quorum implements the tick-advancement state machine (spec
// §4.G): deriving the target next-tick transaction digest from cascading
// majority rules, counting votes for consistency against the locally
// computed etalon, and gating tick advancement on quorum agreement.
// Grounded on core/consensus.go's phase-sequenced state machine and
// core/authority_nodes.go's threshold vote-counting pattern.
package quorum

import (
	"sync"

	"validator-node/internal/tickstore"
	"validator-node/internal/types"
	"validator-node/internal/wire"
)

// Phase enumerates the five states a tick passes through (§4.G table).
type Phase int

const (
	PhaseBeginning Phase = iota // 0: processor has not started this tick
	PhaseApplied                // 1: transactions applied, post-tick digests known
	PhaseTargetSet              // 2: next-tick target computed (possibly still unknown)
	PhaseCounting                // 3: votes counted against the etalon
	PhaseReady                   // 4: ready to advance
)

// String renders Phase for logging and the operator status endpoint.
func (p Phase) String() string {
	switch p {
	case PhaseBeginning:
		return "beginning"
	case PhaseApplied:
		return "applied"
	case PhaseTargetSet:
		return "target_set"
	case PhaseCounting:
		return "counting"
	case PhaseReady:
		return "ready"
	default:
		return "unknown"
	}
}

// Diagnostic test-flag bits (§4.G: "divergence sources toggle a 13-bit
// testFlags mask"). The exact bit assignment is not specified by name in
// the original source excerpt available here; this enumeration is a
// resolved judgment call (see DESIGN.md) that covers every divergence
// source the spec names plus a stall marker, kept under 13 bits.
const (
	TestFlagPrevSpectrumMismatch uint16 = 1 << iota
	TestFlagPrevUniverseMismatch
	TestFlagPrevComputerMismatch
	TestFlagSaltedSpectrumMismatch
	TestFlagSaltedUniverseMismatch
	TestFlagSaltedComputerMismatch
	TestFlagTransactionDigestMismatch
	TestFlagExpectedNextTickMismatch
	TestFlagMillisecondMismatch
	TestFlagMissingVote
	TestFlagQuorumStall // bit 10, the stall marker
)

// Etalon is the node's own locally computed reference digests for one
// tick: the three digests as they stood before this tick's transactions
// were applied, and the three as they stand after.
type Etalon struct {
	PrevSpectrumDigest types.Digest
	PrevUniverseDigest types.Digest
	PrevComputerDigest types.Digest
	SpectrumDigest     types.Digest
	UniverseDigest     types.Digest
	ComputerDigest     types.Digest
	Timestamp          wire.Timestamp
}

// SaltedDigest folds a computor's public key into a digest the way every
// vote's three salted fields are computed: hash(pubkey ‖ digest).
func SaltedDigest(hash func([]byte) types.Digest, pk types.PublicKey, d types.Digest) types.Digest {
	buf := make([]byte, 64)
	copy(buf[:32], pk[:])
	copy(buf[32:], d[:])
	return hash(buf)
}

// Engine tracks one tick's progress through the phase table. A node runs
// one Engine per in-flight tick (typically just the current one).
type Engine struct {
	mu sync.Mutex

	hash  func([]byte) types.Digest
	ticks *tickstore.Store

	tick  types.Tick
	phase Phase

	etalon Etalon

	targetDigest types.Digest
	targetKnown  bool

	consistent int
	total      int
	testFlags  uint16
}

// NewEngine creates an Engine bound to ticks for vote lookups and hash for
// digest folding (shared with every other oracle-consuming component).
func NewEngine(hash func([]byte) types.Digest, ticks *tickstore.Store) *Engine {
	return &Engine{hash: hash, ticks: ticks}
}

// BeginTick resets the engine to phase 0 for a new tick (§4.G: "0 →
// Beginning of tick").
func (e *Engine) BeginTick(tick types.Tick) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tick = tick
	e.phase = PhaseBeginning
	e.etalon = Etalon{}
	e.targetDigest = types.Digest{}
	e.targetKnown = false
	e.consistent = 0
	e.total = 0
	e.testFlags = 0
}

// MarkApplied records the post-processing etalon and advances to phase 1
// ("transactions applied, salted digests known").
func (e *Engine) MarkApplied(etalon Etalon) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.etalon = etalon
	if e.phase < PhaseApplied {
		e.phase = PhaseApplied
	}
}

// TransactionSetDigest hashes a TickData's transaction-digest array alone
// (not its signature or timestamp) -- the quantity the vote's
// transactionDigest/expectedNextTickTransactionDigest fields carry.
func (e *Engine) TransactionSetDigest(data wire.TickData) types.Digest {
	buf := make([]byte, 0, len(data.TransactionDigests)*32)
	for _, d := range data.TransactionDigests {
		buf = append(buf, d[:]...)
	}
	return e.hash(buf)
}

// ComputeTarget derives the target next-tick transaction digest via the
// three cascading rules (§4.G) and advances to phase 2.
func (e *Engine) ComputeTarget() (digest types.Digest, known bool) {
	e.mu.Lock()
	tick := e.tick
	e.mu.Unlock()

	// Rule 1: unique transactionDigest values across tick+1's votes.
	votesNext := e.ticks.Votes(tick + 1)
	if d, ok := majorityOrImpossible(votesNext, func(v wire.TickVote) types.Digest { return v.TransactionDigest }); ok {
		e.setTarget(d, true)
		return d, true
	}

	// Rule 2: unique expectedNextTickTransactionDigest across this tick's votes.
	votesCur := e.ticks.Votes(tick)
	if d, ok := majorityOrImpossible(votesCur, func(v wire.TickVote) types.Digest { return v.ExpectedNextTickTransactionDigest }); ok {
		e.setTarget(d, true)
		return d, true
	}

	// Rule 3: undecided.
	e.setTarget(types.Digest{}, false)
	return types.Digest{}, false
}

func (e *Engine) setTarget(d types.Digest, known bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.targetDigest = d
	e.targetKnown = known
	if e.phase < PhaseTargetSet {
		e.phase = PhaseTargetSet
	}
}

// majorityOrImpossible counts unique values of field across votes. A value
// already holding >= Quorum votes wins outright. If no value could reach
// Quorum even counting every still-missing computor as a future supporter
// of the current leader, the outcome is decided as the zero digest (empty
// tick, §4.G rule 1/2's "adopt zero"). Otherwise the outcome is undecided.
func majorityOrImpossible(votes map[uint16]wire.TickVote, field func(wire.TickVote) types.Digest) (types.Digest, bool) {
	counts := map[types.Digest]int{}
	for _, v := range votes {
		counts[field(v)]++
	}
	for d, n := range counts {
		if n >= types.Quorum {
			return d, true
		}
	}
	best := 0
	for _, n := range counts {
		if n > best {
			best = n
		}
	}
	missing := types.NumberOfComputors - len(votes)
	if best+missing < types.Quorum {
		return types.Digest{}, true
	}
	return types.Digest{}, false
}

// CountVotes validates every recorded vote for the engine's tick against
// the etalon, folding each computor's own public key into the three salted
// fields. It advances to phase 3 and records tickNumberOfComputors /
// tickTotalNumberOfComputors / testFlags for TryAdvance and diagnostics.
func (e *Engine) CountVotes(committee [types.NumberOfComputors]types.PublicKey) (consistent, total int, flags uint16) {
	e.mu.Lock()
	tick := e.tick
	etalon := e.etalon
	e.mu.Unlock()

	votes := e.ticks.Votes(tick)
	for c, v := range votes {
		total++
		var f uint16
		if v.PrevSpectrumDigest != etalon.PrevSpectrumDigest {
			f |= TestFlagPrevSpectrumMismatch
		}
		if v.PrevUniverseDigest != etalon.PrevUniverseDigest {
			f |= TestFlagPrevUniverseMismatch
		}
		if v.PrevComputerDigest != etalon.PrevComputerDigest {
			f |= TestFlagPrevComputerMismatch
		}
		pk := committee[c]
		if v.SaltedSpectrumDigest != SaltedDigest(e.hash, pk, etalon.SpectrumDigest) {
			f |= TestFlagSaltedSpectrumMismatch
		}
		if v.SaltedUniverseDigest != SaltedDigest(e.hash, pk, etalon.UniverseDigest) {
			f |= TestFlagSaltedUniverseMismatch
		}
		if v.SaltedComputerDigest != SaltedDigest(e.hash, pk, etalon.ComputerDigest) {
			f |= TestFlagSaltedComputerMismatch
		}
		if f == 0 {
			consistent++
		} else {
			flags |= f
		}
	}
	if missing := types.NumberOfComputors - total; missing > 0 {
		flags |= TestFlagMissingVote
	}

	e.mu.Lock()
	e.consistent = consistent
	e.total = total
	e.testFlags = flags
	if e.phase < PhaseCounting {
		e.phase = PhaseCounting
	}
	e.mu.Unlock()
	return consistent, total, flags
}

// TickDataSuits reports whether nextTickData "suits" the computed target
// (§4.G): either the target is the zero digest and next-tick data is
// cleared/absent, or next-tick data's transaction-set digest matches the
// target exactly.
func (e *Engine) TickDataSuits(nextTickData wire.TickData, nextTickDataKnown bool) bool {
	e.mu.Lock()
	target, known := e.targetDigest, e.targetKnown
	e.mu.Unlock()
	if !known {
		return false
	}
	if target.IsZero() {
		return !nextTickDataKnown || nextTickData.IsEmpty()
	}
	return nextTickDataKnown && e.TransactionSetDigest(nextTickData) == target
}

// TryAdvance checks phase 4's readiness gate (P7: "a tick advances only if
// >= QUORUM votes agree on the same etalon essence digest") together with
// "tick data suits". On success it sets phase 4 and returns true; the
// caller is responsible for actually bumping system.tick.
func (e *Engine) TryAdvance(nextTickData wire.TickData, nextTickDataKnown bool) bool {
	e.mu.Lock()
	consistent := e.consistent
	e.mu.Unlock()

	if consistent < types.Quorum {
		e.mu.Lock()
		e.testFlags |= TestFlagQuorumStall
		e.mu.Unlock()
		return false
	}
	if !e.TickDataSuits(nextTickData, nextTickDataKnown) {
		return false
	}
	e.mu.Lock()
	e.phase = PhaseReady
	e.mu.Unlock()
	return true
}

// Phase returns the engine's current phase.
func (e *Engine) Phase() Phase {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.phase
}

// CurrentTick returns the tick this engine is presently processing, for
// currentTickInfo-style status responses.
func (e *Engine) CurrentTick() types.Tick {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tick
}

// Stats returns the last CountVotes/ComputeTarget results, for the
// operator status endpoint and currentTickInfo responses.
func (e *Engine) Stats() (consistent, total int, testFlags uint16, target types.Digest, targetKnown bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.consistent, e.total, e.testFlags, e.targetDigest, e.targetKnown
}

// CrossesEpochBoundary reports whether ts's calendar date has reached the
// configured epoch cut-over (§4.G "advancing": epochBaseDay + epoch*7,
// hour >= 12). dayIndex counts days since 0000-03-01 of the proleptic
// Gregorian calendar (Howard Hinnant's days_from_civil without its 1970
// shift); on that scale EpochBaseDay is Wednesday 2022-04-20. The original
// source's own dayIndex is not part of the filtered reference material,
// so this is flagged in DESIGN.md for reconfirmation against the live
// network's exact epoch alignment.
func CrossesEpochBoundary(epoch types.Epoch, ts wire.Timestamp) bool {
	day := dayIndex(2000+int(ts.Year), int(ts.Month), int(ts.Day))
	cutover := types.EpochBaseDay + int(epoch)*7
	if day == cutover && ts.Hour >= 12 {
		return true
	}
	return day > cutover
}

// dayIndex returns the number of days from 0000-03-01 to the proleptic
// Gregorian calendar date (year, month, day): the Julian Day Number less
// 1721120, the Julian Day Number of 0000-03-01.
func dayIndex(year, month, day int) int {
	a := (14 - month) / 12
	y := year + 4800 - a
	m := month + 12*a - 3
	return day + (153*m+2)/5 + 365*y + y/4 - y/100 + y/400 - 32045 - 1721120
}
