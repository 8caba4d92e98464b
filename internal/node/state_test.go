package node

import (
	"testing"
	"time"

	"validator-node/internal/tickstore"
	"validator-node/internal/types"
	"validator-node/internal/wire"
)

func TestTransactionLookupRoundTripsZeroInputTransaction(t *testing.T) {
	ticks := tickstore.New(5, 16, 1<<16, 64)
	n := &NodeState{ticks: ticks}

	tx := wire.Transaction{Tick: 5, Amount: 42}
	tx.Source[0] = 0x11
	tx.Dest[0] = 0x22
	encoded := tx.Marshal()
	if err := ticks.AppendTransaction(5, 0, encoded); err != nil {
		t.Fatalf("AppendTransaction: %v", err)
	}

	lookup := n.transactionLookup(5)
	got, ok := lookup(0)
	if !ok {
		t.Fatal("lookup(0) = false, want true")
	}
	if got.Amount != 42 || got.Source != tx.Source || got.Dest != tx.Dest {
		t.Fatalf("got = %+v, want round trip of %+v", got, tx)
	}
}

func TestTransactionLookupRoundTripsTransactionWithInput(t *testing.T) {
	ticks := tickstore.New(5, 16, 1<<16, 64)
	n := &NodeState{ticks: ticks}

	tx := wire.Transaction{Tick: 5, Amount: 7, InputType: 1, InputSize: 3, Input: []byte{9, 8, 7}}
	encoded := tx.Marshal()
	if err := ticks.AppendTransaction(5, 1, encoded); err != nil {
		t.Fatalf("AppendTransaction: %v", err)
	}

	lookup := n.transactionLookup(5)
	got, ok := lookup(1)
	if !ok {
		t.Fatal("lookup(1) = false, want true")
	}
	if got.InputSize != 3 || string(got.Input) != string([]byte{9, 8, 7}) {
		t.Fatalf("got = %+v, want input [9 8 7]", got)
	}
}

func TestTransactionLookupReportsMissingSlot(t *testing.T) {
	ticks := tickstore.New(5, 16, 1<<16, 64)
	n := &NodeState{ticks: ticks}
	lookup := n.transactionLookup(5)
	if _, ok := lookup(2); ok {
		t.Fatal("lookup on an empty slot returned ok=true")
	}
}

func TestWireTimestampNowMatchesWallClock(t *testing.T) {
	before := time.Now().UTC()
	ts := wireTimestampNow()
	after := time.Now().UTC()

	if int(ts.Year) != before.Year()-2000 && int(ts.Year) != after.Year()-2000 {
		t.Fatalf("Year = %d, want %d or %d", ts.Year, before.Year()-2000, after.Year()-2000)
	}
	if ts.Month < 1 || ts.Month > 12 {
		t.Fatalf("Month = %d, out of range", ts.Month)
	}
}

func TestNodeStateImplementsQuorumAccessors(t *testing.T) {
	ticks := tickstore.New(1, 16, 1<<16, 64)
	n := &NodeState{ticks: ticks, epoch: types.Epoch(3)}
	if n.CurrentEpoch() != 3 {
		t.Fatalf("CurrentEpoch = %d, want 3", n.CurrentEpoch())
	}
	if n.FaultyCount() != 0 {
		t.Fatalf("FaultyCount = %d, want 0 on a fresh store", n.FaultyCount())
	}
}
