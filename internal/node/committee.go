package node

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"validator-node/internal/types"
)

// LoadCommitteeFile reads path as one hex-encoded 32-byte public key per
// line: the arbitrator on the first non-empty, non-comment line, then the
// NumberOfComputors computors in index order (§4.J). Blank lines and lines
// starting with "#" are skipped.
func LoadCommitteeFile(path string) (arbitrator types.PublicKey, members [types.NumberOfComputors]types.PublicKey, err error) {
	f, err := os.Open(path)
	if err != nil {
		return arbitrator, members, fmt.Errorf("node: open committee file: %w", err)
	}
	defer f.Close()

	var keys []types.PublicKey
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		raw, err := hex.DecodeString(line)
		if err != nil {
			return arbitrator, members, fmt.Errorf("node: decode committee key %q: %w", line, err)
		}
		if len(raw) != len(types.PublicKey{}) {
			return arbitrator, members, fmt.Errorf("node: committee key %q has %d bytes, want %d", line, len(raw), len(types.PublicKey{}))
		}
		var pk types.PublicKey
		copy(pk[:], raw)
		keys = append(keys, pk)
	}
	if err := scanner.Err(); err != nil {
		return arbitrator, members, fmt.Errorf("node: scan committee file: %w", err)
	}
	if len(keys) == 0 {
		return arbitrator, members, fmt.Errorf("node: committee file %s has no keys", path)
	}

	arbitrator = keys[0]
	rest := keys[1:]
	for i := 0; i < types.NumberOfComputors; i++ {
		if i < len(rest) {
			members[i] = rest[i]
		}
	}
	return arbitrator, members, nil
}
