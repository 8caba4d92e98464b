// Package snapshot periodically dumps a non-consensus diagnostic record of
// the node's store digests to disk, each one tagged with a github.com/
// google/uuid identifier so operators can correlate a snapshot file with a
// log line or support ticket (§6.3 / NodeConfig.SnapshotIntervalTicks). Grounded on the teacher's
// core/system_health_logging.go RunMetricsCollector ticker-loop shape,
// re-pointed at writing JSON files instead of Prometheus gauges.
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"validator-node/internal/types"
)

// Record is one point-in-time dump. It is diagnostic only: nothing in the
// protocol ever reads a Record back, so its shape may change freely between
// node versions.
type Record struct {
	ID              string       `json:"id"`
	Tick            types.Tick   `json:"tick"`
	Epoch           types.Epoch  `json:"epoch"`
	SpectrumDigest  types.Digest `json:"spectrum_digest"`
	UniverseDigest  types.Digest `json:"universe_digest"`
	ComputerDigest  types.Digest `json:"computer_digest"`
	FaultyComputors int          `json:"faulty_computors"`
	TakenAtUnix     int64        `json:"taken_at_unix"`
}

// Source supplies the values a Record captures. internal/node's NodeState
// implements it.
type Source interface {
	CurrentTick() types.Tick
	CurrentEpoch() types.Epoch
	SpectrumDigest() types.Digest
	UniverseDigest() types.Digest
	ComputerDigest() types.Digest
	FaultyCount() int
}

// Writer periodically takes a Record from a Source and writes it to
// <dir>/snapshot-<tick>-<uuid>.json.
type Writer struct {
	source Source
	dir    string
	log    *logrus.Logger
	now    func() time.Time
}

// New builds a Writer that writes snapshot files under dir, creating it if
// necessary.
func New(source Source, dir string, log *logrus.Logger) (*Writer, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("snapshot: create directory %s: %w", dir, err)
	}
	return &Writer{source: source, dir: dir, log: log, now: time.Now}, nil
}

// Take captures and writes one Record, returning it and the path written.
func (w *Writer) Take() (Record, string, error) {
	rec := Record{
		ID:              uuid.NewString(),
		Tick:            w.source.CurrentTick(),
		Epoch:           w.source.CurrentEpoch(),
		SpectrumDigest:  w.source.SpectrumDigest(),
		UniverseDigest:  w.source.UniverseDigest(),
		ComputerDigest:  w.source.ComputerDigest(),
		FaultyComputors: w.source.FaultyCount(),
		TakenAtUnix:     w.now().Unix(),
	}

	name := fmt.Sprintf("snapshot-%010d-%s.json", rec.Tick, rec.ID)
	path := filepath.Join(w.dir, name)

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return Record{}, "", fmt.Errorf("snapshot: marshal record: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return Record{}, "", fmt.Errorf("snapshot: write %s: %w", path, err)
	}
	w.log.WithField("path", path).WithField("tick", rec.Tick).Info("snapshot: wrote diagnostic dump")
	return rec, path, nil
}

// Run takes a snapshot every interval until ctx is cancelled, logging (not
// returning) any write failure so one bad snapshot never stops the node.
func (w *Writer) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if _, _, err := w.Take(); err != nil {
				w.log.WithError(err).Warn("snapshot: periodic take failed")
			}
		case <-ctx.Done():
			return
		}
	}
}
