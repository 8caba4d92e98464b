package node

import (
	"encoding/hex"
	"fmt"

	"validator-node/internal/types"
)

// decodeHexKey decodes a hex string into an existing types.PublicKey.
func decodeHexKey(s string, out *types.PublicKey) error {
	raw, err := decodeHexBytes(s)
	if err != nil {
		return err
	}
	if len(raw) != len(types.PublicKey{}) {
		return fmt.Errorf("node: key %q has %d bytes, want %d", s, len(raw), len(types.PublicKey{}))
	}
	copy(out[:], raw)
	return nil
}

// decodeHexBytes decodes a hex string, erroring on malformed input.
func decodeHexBytes(s string) ([]byte, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("node: invalid hex %q: %w", s, err)
	}
	return raw, nil
}
