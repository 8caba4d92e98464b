package snapshot

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"validator-node/internal/types"
)

type stubSource struct {
	tick    types.Tick
	epoch   types.Epoch
	faulty  int
}

func (s stubSource) CurrentTick() types.Tick       { return s.tick }
func (s stubSource) CurrentEpoch() types.Epoch     { return s.epoch }
func (s stubSource) SpectrumDigest() types.Digest  { return types.Digest{1} }
func (s stubSource) UniverseDigest() types.Digest  { return types.Digest{2} }
func (s stubSource) ComputerDigest() types.Digest  { return types.Digest{3} }
func (s stubSource) FaultyCount() int              { return s.faulty }

func TestTakeWritesJSONFile(t *testing.T) {
	dir := t.TempDir()
	w, err := New(stubSource{tick: 5, epoch: 1, faulty: 2}, dir, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rec, path, err := w.Take()
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	if rec.ID == "" {
		t.Fatalf("Record.ID is empty, want a uuid")
	}
	if rec.Tick != 5 || rec.FaultyComputors != 2 {
		t.Fatalf("Record = %+v, unexpected", rec)
	}
	if filepath.Dir(path) != dir {
		t.Fatalf("path = %s, want directory %s", path, dir)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	var decoded Record
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded.ID != rec.ID {
		t.Fatalf("decoded.ID = %s, want %s", decoded.ID, rec.ID)
	}
}

func TestTakeProducesUniqueIDsAcrossCalls(t *testing.T) {
	dir := t.TempDir()
	w, err := New(stubSource{tick: 1}, dir, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	first, _, err := w.Take()
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	second, _, err := w.Take()
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	if first.ID == second.ID {
		t.Fatalf("expected distinct uuids, got %s twice", first.ID)
	}
}
