package universe

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

func testLeafHash(s Slot) types.Digest {
	var d types.Digest
	d[0] = byte(s.Kind)
	return d
}

func pk(b byte) types.PublicKey {
	var p types.PublicKey
	p[0] = b
	p[31] = 1
	return p
}

func TestIssueAssetAllocatesThreeSlots(t *testing.T) {
	s := New(64, testHash, testLeafHash)
	issuer := pk(1)
	var name [7]byte
	copy(name[:], "QX")

	issIdx, ownIdx, posIdx, ok := s.IssueAsset(issuer, name, 0, [7]byte{}, 1000, 1)
	if !ok {
		t.Fatal("issue should succeed")
	}
	iss, _ := s.Slot(issIdx)
	if iss.Kind != types.AssetIssuance || iss.Issuer != issuer {
		t.Fatalf("unexpected issuance slot: %+v", iss)
	}
	own, _ := s.Slot(ownIdx)
	if own.Kind != types.AssetOwnership || own.OwnershipUnits != 1000 {
		t.Fatalf("unexpected ownership slot: %+v", own)
	}
	pos, _ := s.Slot(posIdx)
	if pos.Kind != types.AssetPossession || pos.PossessionUnits != 1000 {
		t.Fatalf("unexpected possession slot: %+v", pos)
	}
}

func TestIssueAssetDuplicateNameRejected(t *testing.T) {
	s := New(64, testHash, testLeafHash)
	issuer := pk(2)
	var name [7]byte
	copy(name[:], "QX")

	if _, _, _, ok := s.IssueAsset(issuer, name, 0, [7]byte{}, 100, 1); !ok {
		t.Fatal("first issue should succeed")
	}
	if _, _, _, ok := s.IssueAsset(issuer, name, 0, [7]byte{}, 100, 1); ok {
		t.Fatal("duplicate issuer+name must be rejected")
	}
}

func TestTransferMovesUnitsAndConservesTotal(t *testing.T) {
	s := New(64, testHash, testLeafHash)
	issuer := pk(3)
	var name [7]byte
	copy(name[:], "ABC")
	_, ownIdx, posIdx, ok := s.IssueAsset(issuer, name, 0, [7]byte{}, 1000, 1)
	if !ok {
		t.Fatal("issue failed")
	}

	dst := pk(4)
	if !s.TransferOwnershipAndPossession(ownIdx, posIdx, dst, 400) {
		t.Fatal("transfer should succeed")
	}

	srcOwn, _ := s.Slot(ownIdx)
	srcPos, _ := s.Slot(posIdx)
	if srcOwn.OwnershipUnits != 600 || srcPos.PossessionUnits != 600 {
		t.Fatalf("source units wrong after transfer: own=%d pos=%d", srcOwn.OwnershipUnits, srcPos.PossessionUnits)
	}

	dstOwnIdx, _ := s.findOrCreateOwnership(dst, srcOwn.IssuanceIndex, srcOwn.OwnershipContract)
	dstOwn, _ := s.Slot(dstOwnIdx)
	if dstOwn.OwnershipUnits != 400 {
		t.Fatalf("destination ownership units = %d, want 400", dstOwn.OwnershipUnits)
	}
}

func TestTransferInsufficientUnitsLeavesStateUnchanged(t *testing.T) {
	s := New(64, testHash, testLeafHash)
	issuer := pk(5)
	var name [7]byte
	copy(name[:], "XYZ")
	_, ownIdx, posIdx, _ := s.IssueAsset(issuer, name, 0, [7]byte{}, 100, 1)

	if s.TransferOwnershipAndPossession(ownIdx, posIdx, pk(6), 500) {
		t.Fatal("transfer exceeding units must fail")
	}
	own, _ := s.Slot(ownIdx)
	if own.OwnershipUnits != 100 {
		t.Fatalf("units mutated on failed transfer: %d", own.OwnershipUnits)
	}
}
