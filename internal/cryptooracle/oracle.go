// Package cryptooracle defines the boundary interface to the hash and
// signature primitives the core treats as external (spec §1: K12 / FourQ
// live outside this repository). It ships a deterministic stand-in built
// from blake3 and secp256k1 Schnorr so the pipeline can run end-to-end in
// tests and development; production wiring swaps Oracle for the real
// K12/FourQ binding at this same interface. Schnorr over secp256k1 is the
// closest real library in the pack to FourQ EC-Schnorr: both are x-only,
// 32-byte-public-key, 64-byte-signature Schnorr schemes.
package cryptooracle

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"lukechampine.com/blake3"

	"validator-node/internal/types"
)

// Oracle is the narrow capability surface the rest of the tree depends on.
// Modelled after core/consensus.go's securityAdapter: a small interface
// (Hash, CombineDigests, Sign, Verify) injected into every consumer rather
// than a concrete type.
type Oracle interface {
	Hash(data []byte) types.Digest
	CombineDigests(left, right types.Digest) types.Digest
	Sign(priv []byte, digest types.Digest) (types.Signature, error)
	Verify(pub types.PublicKey, digest types.Digest, sig types.Signature) bool
}

type blake3Schnorr struct{}

// New returns the default stand-in oracle.
func New() Oracle { return blake3Schnorr{} }

func (blake3Schnorr) Hash(data []byte) types.Digest {
	return types.Digest(blake3.Sum256(data))
}

// CombineDigests is the two-digest-to-digest Merkle combiner (§3.6).
func (o blake3Schnorr) CombineDigests(left, right types.Digest) types.Digest {
	var buf [64]byte
	copy(buf[:32], left[:])
	copy(buf[32:], right[:])
	return o.Hash(buf[:])
}

func (blake3Schnorr) Sign(priv []byte, digest types.Digest) (types.Signature, error) {
	key, _ := btcec.PrivKeyFromBytes(priv)
	sig, err := schnorr.Sign(key, digest[:])
	if err != nil {
		return types.Signature{}, fmt.Errorf("cryptooracle: sign: %w", err)
	}
	var out types.Signature
	copy(out[:], sig.Serialize())
	return out, nil
}

func (blake3Schnorr) Verify(pub types.PublicKey, digest types.Digest, sig types.Signature) bool {
	parsed, err := schnorr.ParsePubKey(pub[:])
	if err != nil {
		return false
	}
	s, err := schnorr.ParseSignature(sig[:])
	if err != nil {
		return false
	}
	return s.Verify(digest[:], parsed)
}

// RandomPrivateKey returns a fresh secp256k1 private key and its x-only
// 32-byte Schnorr public key, used by tests and key-provisioning tooling.
func RandomPrivateKey() ([]byte, types.PublicKey, error) {
	key, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, types.PublicKey{}, fmt.Errorf("cryptooracle: generate key: %w", err)
	}
	var pk types.PublicKey
	copy(pk[:], schnorr.SerializePubKey(key.PubKey()))
	return key.Serialize(), pk, nil
}
