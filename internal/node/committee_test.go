package node

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"validator-node/internal/types"
)

func TestLoadCommitteeFileParsesArbitratorAndMembers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "committee.txt")

	var arb, m0 types.PublicKey
	arb[0] = 0xAA
	m0[0] = 0xBB
	content := "# genesis committee\n\n" + hex.EncodeToString(arb[:]) + "\n" + hex.EncodeToString(m0[:]) + "\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	gotArb, members, err := LoadCommitteeFile(path)
	if err != nil {
		t.Fatalf("LoadCommitteeFile: %v", err)
	}
	if gotArb != arb {
		t.Fatalf("arbitrator = %x, want %x", gotArb, arb)
	}
	if members[0] != m0 {
		t.Fatalf("members[0] = %x, want %x", members[0], m0)
	}
	var zero types.PublicKey
	if members[1] != zero {
		t.Fatalf("members[1] should be zero-filled when the file only lists one computor")
	}
}

func TestLoadCommitteeFileRejectsBadHex(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "committee.txt")
	if err := os.WriteFile(path, []byte("not-hex\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, _, err := LoadCommitteeFile(path); err == nil {
		t.Fatal("expected error for invalid hex")
	}
}

func TestLoadCommitteeFileRejectsMissingFile(t *testing.T) {
	if _, _, err := LoadCommitteeFile("/nonexistent/path/committee.txt"); err == nil {
		t.Fatal("expected error for missing file")
	}
}
