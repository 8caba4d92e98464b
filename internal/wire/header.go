// Package wire implements the framed request/response envelope (spec §4.A,
// §6.1): an 8-byte header (24-bit size, 1-byte type, 32-bit dejavu) in front
// of a type-specific body.
package wire

import (
	"encoding/binary"
	"errors"
)

const HeaderSize = 8

// Type codes, §6.1.
const (
	TypeExchangePublicPeers      = 0
	TypeBroadcastMessage         = 1
	TypeBroadcastComputors       = 2
	TypeBroadcastTick            = 3
	TypeBroadcastFutureTickData  = 8
	TypeRequestComputors         = 11
	TypeRequestQuorumTick        = 14
	TypeRequestTickData          = 16
	TypeBroadcastTransaction     = 24
	TypeRequestCurrentTickInfo   = 27
	TypeRespondCurrentTickInfo   = 28
	TypeRequestTickTransactions  = 29
	TypeRequestEntity            = 31
	TypeRespondEntity            = 32
	TypeRequestContractIPO       = 33
	TypeRespondContractIPO       = 34
	TypeEndResponse              = 35
	TypeRequestIssuedAssets      = 36
	TypeRespondIssuedAssets      = 37
	TypeRequestOwnedAssets       = 38
	TypeRespondOwnedAssets       = 39
	TypeRequestPossessedAssets   = 40
	TypeRespondPossessedAssets   = 41
	TypeSpecialCommand           = 255
)

var ErrFrameTooShort = errors.New("wire: frame smaller than header size")

// Header is the 8-byte frame prefix.
type Header struct {
	Size   uint32 // 24-bit, little-endian, whole frame including header
	Type   byte
	Dejavu uint32
}

// ParseHeader decodes the first HeaderSize bytes of buf. Per spec §4.A the
// codec accepts iff size >= HeaderSize; callers disconnect the peer on
// ErrFrameTooShort.
func ParseHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, ErrFrameTooShort
	}
	size := uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16
	if size < HeaderSize {
		return Header{}, ErrFrameTooShort
	}
	return Header{
		Size:   size,
		Type:   buf[3],
		Dejavu: binary.LittleEndian.Uint32(buf[4:8]),
	}, nil
}

// PutHeader encodes h into the first HeaderSize bytes of buf, which must be
// at least HeaderSize long.
func PutHeader(buf []byte, h Header) {
	buf[0] = byte(h.Size)
	buf[1] = byte(h.Size >> 8)
	buf[2] = byte(h.Size >> 16)
	buf[3] = h.Type
	binary.LittleEndian.PutUint32(buf[4:8], h.Dejavu)
}

// IsSelfOriginated reports whether dejavu marks a self-issued response that
// must not be re-broadcast (§4.A).
func IsSelfOriginated(dejavu uint32) bool { return dejavu == 0 }
