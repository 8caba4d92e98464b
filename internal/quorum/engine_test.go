package quorum

import (
	"testing"

	"validator-node/internal/tickstore"
	"validator-node/internal/types"
	"validator-node/internal/wire"
)

func testHash(data []byte) types.Digest {
	var out types.Digest
	for i, b := range data {
		out[i%len(out)] ^= b
	}
	return out
}

func committeeOf(n int) [types.NumberOfComputors]types.PublicKey {
	var c [types.NumberOfComputors]types.PublicKey
	for i := 0; i < n; i++ {
		c[i][0] = byte(i + 1)
		c[i][31] = 1
	}
	return c
}

func voteFor(t *testing.T, ts *tickstore.Store, tick types.Tick, computor uint16, etalon Etalon, pk types.PublicKey) {
	t.Helper()
	v := wire.TickVote{
		ComputorIndex:        computor,
		Tick:                 tick,
		PrevSpectrumDigest:   etalon.PrevSpectrumDigest,
		PrevUniverseDigest:   etalon.PrevUniverseDigest,
		PrevComputerDigest:   etalon.PrevComputerDigest,
		SaltedSpectrumDigest: SaltedDigest(testHash, pk, etalon.SpectrumDigest),
		SaltedUniverseDigest: SaltedDigest(testHash, pk, etalon.UniverseDigest),
		SaltedComputerDigest: SaltedDigest(testHash, pk, etalon.ComputerDigest),
	}
	if _, err := ts.PutVote(tick, computor, v); err != nil {
		t.Fatalf("PutVote: %v", err)
	}
}

func TestEngineEmptyTickAdvancesOnQuorum(t *testing.T) {
	ts := tickstore.New(100, 10, 4096, 16)
	e := NewEngine(testHash, ts)
	committee := committeeOf(types.NumberOfComputors)

	e.BeginTick(100)
	etalon := Etalon{SpectrumDigest: types.Digest{1}, UniverseDigest: types.Digest{2}, ComputerDigest: types.Digest{3}}
	e.MarkApplied(etalon)

	for c := 0; c < types.Quorum; c++ {
		voteFor(t, ts, 100, uint16(c), etalon, committee[c])
	}

	consistent, total, _ := e.CountVotes(committee)
	if consistent != types.Quorum {
		t.Fatalf("consistent = %d, want %d", consistent, types.Quorum)
	}
	if total != types.Quorum {
		t.Fatalf("total = %d, want %d", total, types.Quorum)
	}

	// No votes at all for tick+1, so rule 1 is undecided (a future quorum is
	// still reachable). Rule 2 falls back to this tick's votes: every one of
	// the Quorum votes above left expectedNextTickTransactionDigest at its
	// zero value, which itself reaches Quorum, so rule 2 decides "zero".
	target, known := e.ComputeTarget()
	if !known {
		t.Fatal("target should be decided (adopt zero) via rule 2")
	}
	if !target.IsZero() {
		t.Fatalf("target = %x, want zero", target)
	}

	if !e.TryAdvance(wire.TickData{}, false) {
		t.Fatal("tick should advance: quorum met and tick data suits (target zero, no next data)")
	}
	if e.Phase() != PhaseReady {
		t.Fatalf("phase = %v, want PhaseReady", e.Phase())
	}
}

func TestEngineQuorumStallBelowThreshold(t *testing.T) {
	ts := tickstore.New(100, 10, 4096, 16)
	e := NewEngine(testHash, ts)
	committee := committeeOf(types.NumberOfComputors)

	e.BeginTick(100)
	etalon := Etalon{SpectrumDigest: types.Digest{1}}
	e.MarkApplied(etalon)

	// Only 450 votes -- one short of Quorum=451 (S4).
	for c := 0; c < types.Quorum-1; c++ {
		voteFor(t, ts, 100, uint16(c), etalon, committee[c])
	}

	consistent, _, _ := e.CountVotes(committee)
	if consistent != types.Quorum-1 {
		t.Fatalf("consistent = %d, want %d", consistent, types.Quorum-1)
	}

	if e.TryAdvance(wire.TickData{}, false) {
		t.Fatal("tick must not advance below quorum (P7)")
	}
	if e.Phase() == PhaseReady {
		t.Fatal("phase must not reach PhaseReady on a quorum stall")
	}
	_, _, flags, _, _ := e.Stats()
	if flags&TestFlagQuorumStall == 0 {
		t.Fatal("expected TestFlagQuorumStall to be set")
	}
}

func TestEngineInconsistentVoteExcludedFromCount(t *testing.T) {
	ts := tickstore.New(100, 10, 4096, 16)
	e := NewEngine(testHash, ts)
	committee := committeeOf(types.NumberOfComputors)

	e.BeginTick(100)
	etalon := Etalon{SpectrumDigest: types.Digest{1}, UniverseDigest: types.Digest{2}, ComputerDigest: types.Digest{3}}
	e.MarkApplied(etalon)

	for c := 0; c < types.Quorum; c++ {
		voteFor(t, ts, 100, uint16(c), etalon, committee[c])
	}
	// One more vote whose salted digest disagrees (diverging computor).
	bad := wire.TickVote{
		ComputorIndex:        uint16(types.Quorum),
		Tick:                 100,
		PrevSpectrumDigest:   etalon.PrevSpectrumDigest,
		SaltedSpectrumDigest: types.Digest{0xFF},
	}
	if _, err := ts.PutVote(100, uint16(types.Quorum), bad); err != nil {
		t.Fatalf("PutVote: %v", err)
	}

	consistent, total, flags := e.CountVotes(committee)
	if consistent != types.Quorum {
		t.Fatalf("consistent = %d, want %d (inconsistent vote must be excluded)", consistent, types.Quorum)
	}
	if total != types.Quorum+1 {
		t.Fatalf("total = %d, want %d", total, types.Quorum+1)
	}
	if flags&TestFlagSaltedSpectrumMismatch == 0 {
		t.Fatal("expected TestFlagSaltedSpectrumMismatch to be set")
	}
}
