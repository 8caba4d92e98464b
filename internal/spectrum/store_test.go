package spectrum

import (
	"testing"

	"validator-node/internal/types"
)

func testHash(a, b types.Digest) types.Digest {
	var out types.Digest
	for i := range out {
		out[i] = a[i] ^ b[i]
	}
	return out
}

func testLeafHash(e Entity) types.Digest {
	var d types.Digest
	d[0] = byte(e.IncomingAmount)
	d[1] = byte(e.OutgoingAmount)
	copy(d[2:], e.PublicKey[:])
	return d
}

func pk(b byte) types.PublicKey {
	var p types.PublicKey
	p[0] = b
	p[31] = 1 // keep non-zero so it isn't treated as the null key
	return p
}

func TestCreditThenDebit(t *testing.T) {
	s := New(64, testHash, testLeafHash)
	a := pk(1)
	s.Credit(a, 1000, 10)

	idx := s.Lookup(a)
	if idx == None {
		t.Fatal("expected entity to be present")
	}
	if got := s.Balance(idx); got != 1000 {
		t.Fatalf("balance = %d, want 1000", got)
	}

	if !s.Debit(idx, 700, 11) {
		t.Fatal("debit should have succeeded")
	}
	if got := s.Balance(idx); got != 300 {
		t.Fatalf("balance after debit = %d, want 300", got)
	}
}

func TestDebitInsufficientBalanceLeavesStateUnchanged(t *testing.T) {
	s := New(64, testHash, testLeafHash)
	a := pk(2)
	s.Credit(a, 100, 1)
	idx := s.Lookup(a)

	if s.Debit(idx, 200, 2) {
		t.Fatal("debit should fail when balance insufficient")
	}
	if got := s.Balance(idx); got != 100 {
		t.Fatalf("balance mutated on failed debit: %d", got)
	}
}

func TestCreditZeroOrNegativeAmountIgnored(t *testing.T) {
	s := New(64, testHash, testLeafHash)
	s.Credit(types.PublicKey{}, 500, 1) // zero key
	if s.Count() != 0 {
		t.Fatal("zero public key must not create a slot")
	}
	a := pk(3)
	s.Credit(a, -5, 1)
	if idx := s.Lookup(a); idx != None {
		t.Fatal("negative amount must not create a slot")
	}
}

func TestDigestMonotonicWhenUnchanged(t *testing.T) {
	s := New(64, testHash, testLeafHash)
	s.Credit(pk(4), 10, 1)
	d1 := s.Digest()
	d2 := s.Digest()
	if d1 != d2 {
		t.Fatal("digest must be stable across repeated calls with no mutation (P4)")
	}
}

func TestCompactPreservesBalancesAndDigest(t *testing.T) {
	s := New(64, testHash, testLeafHash)
	s.Credit(pk(5), 500, 1)
	s.Credit(pk(6), 300, 1)
	idx := s.Lookup(pk(5))
	s.Debit(idx, 200, 2)

	before := s.Digest()
	compacted := s.Compact(testHash)
	after := compacted.Digest()

	if before != after {
		t.Fatalf("compaction changed digest: before=%x after=%x", before, after)
	}
	if got := compacted.Balance(compacted.Lookup(pk(5))); got != 300 {
		t.Fatalf("balance after compaction = %d, want 300", got)
	}
}
