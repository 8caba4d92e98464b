package tickstore

import (
	"testing"

	"validator-node/internal/types"
	"validator-node/internal/wire"
)

func TestPutVoteUniquenessMarksFaultyOnConflict(t *testing.T) {
	s := New(100, 10, 4096, 16)
	v1 := wire.TickVote{ComputorIndex: 0, Tick: 100, PrevSpectrumDigest: types.Digest{1}}
	v2 := wire.TickVote{ComputorIndex: 0, Tick: 100, PrevSpectrumDigest: types.Digest{2}}

	faulty, err := s.PutVote(100, 0, v1)
	if err != nil || faulty {
		t.Fatalf("first vote should be accepted cleanly: faulty=%v err=%v", faulty, err)
	}
	faulty, err = s.PutVote(100, 0, v2)
	if err != nil || !faulty {
		t.Fatalf("conflicting vote should mark faulty: faulty=%v err=%v", faulty, err)
	}
	if !s.IsFaulty(0) {
		t.Fatal("computor 0 should be flagged faulty (P5, S3)")
	}

	votes := s.Votes(100)
	if votes[0].PrevSpectrumDigest != v1.PrevSpectrumDigest {
		t.Fatal("original vote must be retained, not overwritten")
	}
}

func TestPutVoteSameEssenceIsNotConflict(t *testing.T) {
	s := New(100, 10, 4096, 16)
	v := wire.TickVote{ComputorIndex: 1, Tick: 100, PrevSpectrumDigest: types.Digest{9}}
	if faulty, _ := s.PutVote(100, 1, v); faulty {
		t.Fatal("first vote must not be faulty")
	}
	if faulty, _ := s.PutVote(100, 1, v); faulty {
		t.Fatal("re-receipt of the identical vote (P6-adjacent) must not mark faulty")
	}
}

func TestAppendTransactionNeverOverwrites(t *testing.T) {
	s := New(100, 10, 16, 4)
	if err := s.AppendTransaction(100, 0, []byte("abcd")); err != nil {
		t.Fatalf("first append: %v", err)
	}
	if err := s.AppendTransaction(100, 0, []byte("zzzz")); err != nil {
		t.Fatalf("second append to same slot should be a silent no-op, got err: %v", err)
	}
	got, ok := s.TransactionBytes(100, 0, 4)
	if !ok || string(got) != "abcd" {
		t.Fatalf("slot was overwritten: got=%q ok=%v", got, ok)
	}
}

func TestAppendTransactionArenaFull(t *testing.T) {
	s := New(100, 10, 4, 4)
	if err := s.AppendTransaction(100, 0, []byte("abcd")); err != nil {
		t.Fatalf("first append: %v", err)
	}
	if err := s.AppendTransaction(100, 1, []byte("e")); err != ErrArenaFull {
		t.Fatalf("expected ErrArenaFull, got %v", err)
	}
}

func TestPendingOverwritesOnSameSource(t *testing.T) {
	s := New(100, 10, 4096, 16)
	src := types.PublicKey{1}
	tx1 := wire.Transaction{Tick: 101}
	tx2 := wire.Transaction{Tick: 102}
	s.PutPending(src, tx1, types.Digest{1})
	s.PutPending(src, tx2, types.Digest{2})

	got, _, ok := s.Pending(src)
	if !ok || got.Tick != 102 {
		t.Fatalf("expected most recent pending tx (tick 102), got %+v ok=%v", got, ok)
	}
}
