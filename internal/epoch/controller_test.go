package epoch

import (
	"testing"

	"validator-node/internal/committee"
	"validator-node/internal/computer"
	"validator-node/internal/spectrum"
	"validator-node/internal/tickstore"
	"validator-node/internal/txproc"
	"validator-node/internal/types"
	"validator-node/internal/universe"
	"validator-node/internal/wire"
)

func testHash(data []byte) types.Digest {
	var out types.Digest
	for i, b := range data {
		out[i%len(out)] ^= b
	}
	return out
}

func spectrumLeafHash(e spectrum.Entity) types.Digest {
	var d types.Digest
	d[0] = byte(e.IncomingAmount)
	copy(d[1:], e.PublicKey[:])
	return d
}

func universeLeafHash(s universe.Slot) types.Digest {
	var d types.Digest
	d[0] = byte(s.Kind)
	copy(d[1:], s.Owner[:])
	return d
}

func computerLeafHash(state []byte) types.Digest {
	return testHash(state)
}

func pk(b byte) types.PublicKey {
	var p types.PublicKey
	p[0] = b
	p[31] = 1
	return p
}

// pkN gives each index up to 65535 a distinct key, needed for the IPO
// tests where NumberOfComputors (676) exceeds the single-byte range pk
// covers.
func pkN(i int) types.PublicKey {
	var p types.PublicKey
	p[0] = byte(i)
	p[1] = byte(i >> 8)
	p[31] = 1
	return p
}

func newTestCommittee() *committee.Committee {
	var members [types.NumberOfComputors]types.PublicKey
	for i := range members {
		members[i] = pk(byte(i + 10))
	}
	return committee.New(pk(255), members)
}

func TestSettleIPOChargesFinalPriceAndRefundsOverbids(t *testing.T) {
	ss := spectrum.New(1024, testHash, spectrumLeafHash)
	us := universe.New(1024, testHash, universeLeafHash)
	cs := computer.New(testHash, computerLeafHash)
	ticks := tickstore.New(0, 16, 1<<16, 64)
	miner := txproc.NewMinerState(1 << 16)
	cm := newTestCommittee()
	ctl := New(ss, us, cs, ticks, cm, miner, testHash)

	ipo := computer.NewIPO()
	for i := 0; i < types.NumberOfComputors; i++ {
		price := int64(1000 - i) // strictly descending: bid i pays (1000-i)
		ipo.Insert(computer.IPOBid{PublicKey: pkN(i), Price: price})
	}
	c := &computer.Contract{Index: 7, ConstructionEpoch: 5, StateSize: 8, IPO: ipo}
	if err := cs.Register(c); err != nil {
		t.Fatalf("Register: %v", err)
	}

	// Fund the top (highest-priced, most-overpaying) bidder to observe its refund.
	topBidder := pkN(0)
	ss.Credit(topBidder, types.Amount(1000), 0)
	preIdx := ss.Lookup(topBidder)
	preBalance := ss.Balance(preIdx)

	ctl.settleIPO(7, c, 100)

	finalPrice := int64(1000 - (types.NumberOfComputors - 1))
	refund := types.Amount(1000 - finalPrice)
	postBalance := ss.Balance(preIdx)
	if postBalance != preBalance+refund {
		t.Fatalf("topBidder balance = %d, want %d (pre %d + refund %d)", postBalance, preBalance+refund, preBalance, refund)
	}

	reserveIdx := ss.Lookup(contractPseudoAddress(7))
	wantReserve := types.Amount(finalPrice) * types.Amount(types.NumberOfComputors)
	if got := ss.Balance(reserveIdx); got != wantReserve {
		t.Fatalf("contract reserve = %d, want %d", got, wantReserve)
	}
}

func TestSettleIPOSkipsUnfilledAuction(t *testing.T) {
	ss := spectrum.New(1024, testHash, spectrumLeafHash)
	us := universe.New(1024, testHash, universeLeafHash)
	cs := computer.New(testHash, computerLeafHash)
	ticks := tickstore.New(0, 16, 1<<16, 64)
	miner := txproc.NewMinerState(1 << 16)
	cm := newTestCommittee()
	ctl := New(ss, us, cs, ticks, cm, miner, testHash)

	ipo := computer.NewIPO()
	ipo.Insert(computer.IPOBid{PublicKey: pk(1), Price: 500})
	c := &computer.Contract{Index: 3, ConstructionEpoch: 5, StateSize: 8, IPO: ipo}
	if err := cs.Register(c); err != nil {
		t.Fatalf("Register: %v", err)
	}

	ctl.settleIPO(3, c, 100)

	reserveIdx := ss.Lookup(contractPseudoAddress(3))
	if reserveIdx != spectrum.None && ss.Balance(reserveIdx) != 0 {
		t.Fatalf("unfilled IPO must not settle, got reserve %d", ss.Balance(reserveIdx))
	}
}

func TestDistributeRevenueAwardsFullShareWhenAllAtThreshold(t *testing.T) {
	ss := spectrum.New(1024, testHash, spectrumLeafHash)
	us := universe.New(1024, testHash, universeLeafHash)
	cs := computer.New(testHash, computerLeafHash)
	ticks := tickstore.New(0, uint32(types.NumberOfComputors), 1<<16, 64)
	miner := txproc.NewMinerState(1 << 16)
	cm := newTestCommittee()
	ctl := New(ss, us, cs, ticks, cm, miner, testHash)

	// Give every tick slot one non-zero transaction digest so every
	// computor clears the full-share threshold.
	for i := 0; i < types.NumberOfComputors; i++ {
		var data wire.TickData
		data.Epoch = 9
		data.TransactionDigests[0] = types.Digest{1, byte(i)} // byte 0 fixed nonzero so no tick's digest collapses to zero
		if err := ticks.PutTickData(types.Tick(i), data); err != nil {
			t.Fatalf("PutTickData(%d): %v", i, err)
		}
	}

	arbitratorRevenue := ctl.distributeRevenue(9, 0, types.Tick(types.NumberOfComputors-1))

	members := cm.Members()
	want := types.Amount(types.IssuanceRate / types.NumberOfComputors)
	for i, m := range members {
		idx := ss.Lookup(m)
		if got := ss.Balance(idx); got != want {
			t.Fatalf("computor %d revenue = %d, want %d", i, got, want)
		}
	}
	if arbitratorRevenue < 0 {
		t.Fatalf("arbitrator revenue negative: %d", arbitratorRevenue)
	}
	arbIdx := ss.Lookup(cm.Arbitrator())
	if got := ss.Balance(arbIdx); got != arbitratorRevenue {
		t.Fatalf("arbitrator balance = %d, want %d", got, arbitratorRevenue)
	}
}

func TestDistributeRevenueIgnoresOtherEpochTicks(t *testing.T) {
	ss := spectrum.New(1024, testHash, spectrumLeafHash)
	us := universe.New(1024, testHash, universeLeafHash)
	cs := computer.New(testHash, computerLeafHash)
	ticks := tickstore.New(0, 4, 1<<16, 64)
	miner := txproc.NewMinerState(1 << 16)
	cm := newTestCommittee()
	ctl := New(ss, us, cs, ticks, cm, miner, testHash)

	var data wire.TickData
	data.Epoch = 3 // different epoch than the one being distributed
	data.TransactionDigests[0] = types.Digest{1}
	if err := ticks.PutTickData(0, data); err != nil {
		t.Fatalf("PutTickData: %v", err)
	}

	arbitratorRevenue := ctl.distributeRevenue(9, 0, 3)
	if arbitratorRevenue != types.Amount(types.IssuanceRate) {
		t.Fatalf("arbitrator revenue = %d, want full issuance rate %d (no matching-epoch ticks)", arbitratorRevenue, types.IssuanceRate)
	}
}

func TestRotateCommitteeRequiresFullRanking(t *testing.T) {
	ss := spectrum.New(1024, testHash, spectrumLeafHash)
	us := universe.New(1024, testHash, universeLeafHash)
	cs := computer.New(testHash, computerLeafHash)
	ticks := tickstore.New(0, 16, 1<<16, 64)
	miner := txproc.NewMinerState(1 << 16)
	cm := newTestCommittee()
	ctl := New(ss, us, cs, ticks, cm, miner, testHash)

	original := cm.Members()

	ctl.rotateCommittee()
	if cm.Members() != original {
		t.Fatalf("committee rotated with an empty ranking")
	}
}
