// Package txproc implements the per-tick transaction processing loop (spec
// §4.F): the ordered walk over a tick's committed transaction digests that
// moves balances, dispatches contract calls, settles IPO bids, and intakes
// mining solutions. Grounded on qubic.cpp's processTick transaction loop,
// ported to Go's explicit-state style the way core/consensus.go turns a
// monolithic state-machine function into named steps over injected stores.
package txproc

import (
	"encoding/binary"

	"validator-node/internal/computer"
	"validator-node/internal/scoreoracle"
	"validator-node/internal/spectrum"
	"validator-node/internal/types"
	"validator-node/internal/wire"
)

// ipoBidInputSize is sizeof(ContractIPOBid) in the original source: an
// 8-byte price followed by a 2-byte quantity, both little-endian.
const ipoBidInputSize = 10

// Processor applies one tick's TickData against the spectrum and computer
// stores. It holds no tick-scoped state between calls other than the miner
// ranking, which persists across the whole epoch.
type Processor struct {
	spectrum *spectrum.Store
	computer *computer.Store
	hash     func([]byte) types.Digest
	miner    *MinerState
	score    scoreoracle.Oracle
}

// New creates a Processor. hash is the oracle's content hash, shared with
// every other store so digests agree committee-wide.
func New(spectrumStore *spectrum.Store, computerStore *computer.Store, hash func([]byte) types.Digest, miner *MinerState, score scoreoracle.Oracle) *Processor {
	return &Processor{spectrum: spectrumStore, computer: computerStore, hash: hash, miner: miner, score: score}
}

// Result summarizes one ApplyTick call for the caller's logging/metrics use.
type Result struct {
	NumberOfTransactions int
	TouchedSpectrumSlots []uint32
}

// Lookup resolves the raw transaction for a TickData slot, ok=false if the
// arena never received the bytes backing that slot's digest (a tick data
// suits check rejects such ticks before ApplyTick is ever called on them;
// ApplyTick itself just skips the slot, mirroring the original's
// tickTransactionOffsets==0 guard).
type Lookup func(slot int) (wire.Transaction, bool)

// ApplyTick walks data's transaction digests in slot order (§4.F): each
// source entity spends at most once per tick (entityPendingTransactionIndices),
// the generic amount moves from source to destination unconditionally once
// the source can afford it, and a contract pseudo-address destination then
// either receives an IPO bid (pre-construction) or an invocation (post-
// construction).
func (p *Processor) ApplyTick(tick types.Tick, epoch types.Epoch, data wire.TickData, lookup Lookup) Result {
	pending := make(map[uint32]bool, types.MaxTransactionsPerTick)
	touched := map[uint32]bool{}
	count := 0

	for slot, digest := range data.TransactionDigests {
		if digest.IsZero() {
			continue
		}
		tx, ok := lookup(slot)
		if !ok {
			continue
		}

		srcIdx := p.spectrum.Lookup(tx.Source)
		if srcIdx == spectrum.None || pending[srcIdx] {
			continue
		}
		pending[srcIdx] = true
		count++

		if !p.spectrum.Debit(srcIdx, tx.Amount, tick) {
			continue
		}
		touched[srcIdx] = true
		p.spectrum.Credit(tx.Dest, tx.Amount, tick)
		if dstIdx := p.spectrum.Lookup(tx.Dest); dstIdx != spectrum.None {
			touched[dstIdx] = true
		}

		if tx.Dest.IsZero() {
			continue
		}

		contractIdx, isContract := types.ContractAddress(tx.Dest)
		if !isContract {
			continue
		}
		contract, registered := p.computer.Contract(contractIdx)
		if !registered {
			continue
		}

		if epoch < contract.ConstructionEpoch {
			p.applyIPOBid(tick, contract, srcIdx, tx)
			continue
		}

		ctx := &computer.InvocationContext{Contract: contractIdx, Tick: tick, Epoch: epoch}
		_, _ = p.computer.Invoke(contractIdx, tx.InputType, ctx, tx.Input)
	}

	out := Result{NumberOfTransactions: count}
	for idx := range touched {
		out.TouchedSpectrumSlots = append(out.TouchedSpectrumSlots, idx)
	}
	return out
}

// applyIPOBid settles one IPO bid transaction (§4.F.3). The generic
// transfer already moved tx.Amount (always zero for a valid bid, enforced
// below) to the contract's pseudo-address before this is called; a bid is
// only honoured when amount==0 and the input decodes as a ContractIPOBid
// with price and quantity both in range. An invalid or rejected bid leaves
// the source's funds already-transferred stake where the generic transfer
// put them -- there is no separate refund path for a malformed bid, matching
// the original's "amount must already be zero" precondition.
func (p *Processor) applyIPOBid(tick types.Tick, contract *computer.Contract, srcIdx uint32, tx wire.Transaction) {
	if tx.Amount != 0 || len(tx.Input) < ipoBidInputSize || contract.IPO == nil {
		return
	}
	price := int64(binary.LittleEndian.Uint64(tx.Input[0:8]))
	quantity := int(binary.LittleEndian.Uint16(tx.Input[8:10]))
	if price <= 0 || price > types.MaxAmount/types.NumberOfComputors {
		return
	}
	if quantity <= 0 || quantity > types.NumberOfComputors {
		return
	}

	amount := types.Amount(price) * types.Amount(quantity)
	if !p.spectrum.Debit(srcIdx, amount, tick) {
		return
	}

	released := map[types.PublicKey]types.Amount{}
	var order []types.PublicKey
	addRelease := func(pk types.PublicKey, amt types.Amount) {
		if _, seen := released[pk]; !seen {
			order = append(order, pk)
		}
		released[pk] += amt
	}

	for i := 0; i < quantity; i++ {
		displaced, accepted := contract.IPO.Insert(computer.IPOBid{PublicKey: tx.Source, Price: price})
		if !accepted {
			// List full and this unit did not outrank the lowest bid:
			// refund this one unit's price immediately.
			addRelease(tx.Source, types.Amount(price))
			continue
		}
		if displaced != nil {
			addRelease(displaced.PublicKey, types.Amount(displaced.Price))
		}
	}

	for _, pk := range order {
		p.spectrum.Credit(pk, released[pk], tick)
	}
}

// SubmitMiningSolution feeds one published solution into the miner ranking
// (§4.F.3), returning false if it was a duplicate or scored below threshold.
func (p *Processor) SubmitMiningSolution(sol Solution) bool {
	return p.miner.Submit(p.hash, p.score, sol)
}
