package wire

import (
	"encoding/binary"
	"errors"

	"validator-node/internal/types"
)

// Timestamp is the 7-byte packed clock used by tick votes and tick data:
// 2 bytes millisecond, then one byte each of second, minute, hour, day,
// month. Year (years since 2000) is held on the struct only and is not
// part of the 7 encoded bytes.
type Timestamp struct {
	Millisecond uint16
	Second      uint8
	Minute      uint8
	Hour        uint8
	Day         uint8
	Month       uint8
	Year        uint8
}

// MarshalTimestamp7 encodes t into the canonical 7-byte wire layout. Year
// is not part of the 7-byte field (matching the original source, which
// carries a separate year byte alongside month); it is tracked on the Go
// Timestamp struct for convenience and restored by callers that need it.
func MarshalTimestamp7(t Timestamp) [7]byte {
	var out [7]byte
	binary.LittleEndian.PutUint16(out[0:2], t.Millisecond)
	out[2] = t.Second
	out[3] = t.Minute
	out[4] = t.Hour
	out[5] = t.Day
	out[6] = t.Month
	return out
}

// UnmarshalTimestamp7 decodes the canonical 7-byte wire layout. Year is
// carried alongside at the protocol level (it is not part of the 7-byte
// field in the original source either -- callers combine it with the
// enclosing message's epoch-derived year).
func UnmarshalTimestamp7(b [7]byte) Timestamp {
	return Timestamp{
		Millisecond: binary.LittleEndian.Uint16(b[0:2]),
		Second:      b[2],
		Minute:      b[3],
		Hour:        b[4],
		Day:         b[5],
		Month:       b[6],
	}
}

// Milliseconds returns t flattened to a monotonic millisecond count within
// its year, for the purposes of the "strictly later timestamp" comparison
// in §4.G advancing.
func (t Timestamp) Milliseconds() uint64 {
	return uint64(t.Millisecond) +
		1000*(uint64(t.Second)+
			60*(uint64(t.Minute)+
				60*(uint64(t.Hour)+
					24*(uint64(t.Day)+
						31*uint64(t.Month)))))
}

// TickVote is a computor's signed commitment for one tick (§3.5,
// BROADCAST_TICK). The six digests are, in order: prevSpectrumDigest,
// prevUniverseDigest, prevComputerDigest, saltedSpectrumDigest,
// saltedUniverseDigest, saltedComputerDigest.
type TickVote struct {
	ComputorIndex                    uint16
	Epoch                            types.Epoch
	Tick                             types.Tick
	Timestamp                        Timestamp
	PrevSpectrumDigest                types.Digest
	PrevUniverseDigest                types.Digest
	PrevComputerDigest                types.Digest
	SaltedSpectrumDigest               types.Digest
	SaltedUniverseDigest               types.Digest
	SaltedComputerDigest               types.Digest
	TransactionDigest                 types.Digest
	ExpectedNextTickTransactionDigest types.Digest
	Signature                         types.Signature
}

// SigningPreimage returns the bytes signed/verified for the vote, with the
// XOR-over-index trick applied (computorIndex ^= BROADCAST_TICK), bit-exact
// per the original source (spec §9 open question, resolved in SPEC_FULL.md
// §C.1). It excludes the signature field itself.
func (v TickVote) SigningPreimage() []byte {
	idx := v.ComputorIndex ^ TypeBroadcastTick
	buf := make([]byte, 0, 2+2+4+7+6*32+32+32)
	buf = appendU16(buf, idx)
	buf = appendU16(buf, uint16(v.Epoch))
	buf = appendU32(buf, uint32(v.Tick))
	ts := MarshalTimestamp7(v.Timestamp)
	buf = append(buf, ts[:]...)
	for _, d := range []types.Digest{
		v.PrevSpectrumDigest, v.PrevUniverseDigest, v.PrevComputerDigest,
		v.SaltedSpectrumDigest, v.SaltedUniverseDigest, v.SaltedComputerDigest,
		v.TransactionDigest, v.ExpectedNextTickTransactionDigest,
	} {
		buf = append(buf, d[:]...)
	}
	return buf
}

// tickVoteDigestCount is the number of 32-byte digests a TickVote carries,
// in the fixed wire order used by both Marshal and SigningPreimage.
const tickVoteDigestCount = 8

func (v TickVote) digests() [tickVoteDigestCount]types.Digest {
	return [tickVoteDigestCount]types.Digest{
		v.PrevSpectrumDigest, v.PrevUniverseDigest, v.PrevComputerDigest,
		v.SaltedSpectrumDigest, v.SaltedUniverseDigest, v.SaltedComputerDigest,
		v.TransactionDigest, v.ExpectedNextTickTransactionDigest,
	}
}

// TickVoteSize is the fixed wire length of a Marshal'd TickVote.
const TickVoteSize = 2 + 2 + 4 + 7 + tickVoteDigestCount*32 + 64

// Marshal encodes the real (non-XORed) field values followed by the
// signature -- the on-the-wire form. SigningPreimage computes a related
// but distinct buffer (index XORed, signature excluded) purely for
// signing/verification.
func (v TickVote) Marshal() []byte {
	buf := make([]byte, 0, TickVoteSize)
	buf = appendU16(buf, v.ComputorIndex)
	buf = appendU16(buf, uint16(v.Epoch))
	buf = appendU32(buf, uint32(v.Tick))
	ts := MarshalTimestamp7(v.Timestamp)
	buf = append(buf, ts[:]...)
	for _, d := range v.digests() {
		buf = append(buf, d[:]...)
	}
	buf = append(buf, v.Signature[:]...)
	return buf
}

var ErrShortTickVote = errors.New("wire: tick vote frame too short")

// UnmarshalTickVote decodes a TickVoteSize-byte buffer.
func UnmarshalTickVote(b []byte) (TickVote, error) {
	if len(b) < TickVoteSize {
		return TickVote{}, ErrShortTickVote
	}
	var v TickVote
	v.ComputorIndex = binary.LittleEndian.Uint16(b[0:2])
	v.Epoch = types.Epoch(binary.LittleEndian.Uint16(b[2:4]))
	v.Tick = types.Tick(binary.LittleEndian.Uint32(b[4:8]))
	var ts [7]byte
	copy(ts[:], b[8:15])
	v.Timestamp = UnmarshalTimestamp7(ts)
	off := 15
	digests := [tickVoteDigestCount]*types.Digest{
		&v.PrevSpectrumDigest, &v.PrevUniverseDigest, &v.PrevComputerDigest,
		&v.SaltedSpectrumDigest, &v.SaltedUniverseDigest, &v.SaltedComputerDigest,
		&v.TransactionDigest, &v.ExpectedNextTickTransactionDigest,
	}
	for _, d := range digests {
		copy(d[:], b[off:off+32])
		off += 32
	}
	copy(v.Signature[:], b[off:off+64])
	return v, nil
}

// TickData is the proposer's commitment for one tick (§3.5,
// BROADCAST_FUTURE_TICK_DATA).
type TickData struct {
	ComputorIndex        uint16
	Epoch                types.Epoch
	Tick                 types.Tick
	Timestamp            Timestamp
	Variant              [256]byte // proposal-or-ballot payload
	Timelock              uint32
	TransactionDigests   [types.MaxTransactionsPerTick]types.Digest
	ContractFees         [types.MaxTransactionsPerTick]int64
	Signature            types.Signature
}

// SigningPreimage mirrors TickVote's: computorIndex ^= BROADCAST_FUTURE_TICK_DATA
// around the signed bytes.
func (d TickData) SigningPreimage() []byte {
	idx := d.ComputorIndex ^ TypeBroadcastFutureTickData
	buf := make([]byte, 0, 2+2+4+7+256+4+len(d.TransactionDigests)*32+len(d.ContractFees)*8)
	buf = appendU16(buf, idx)
	buf = appendU16(buf, uint16(d.Epoch))
	buf = appendU32(buf, uint32(d.Tick))
	ts := MarshalTimestamp7(d.Timestamp)
	buf = append(buf, ts[:]...)
	buf = append(buf, d.Variant[:]...)
	buf = appendU32(buf, d.Timelock)
	for _, td := range d.TransactionDigests {
		buf = append(buf, td[:]...)
	}
	for _, fee := range d.ContractFees {
		buf = appendU64(buf, uint64(fee))
	}
	return buf
}

// IsEmpty reports whether d carries no transaction digests -- the "tick
// data is cleared" state used by "tick data suits" (§4.G).
func (d TickData) IsEmpty() bool {
	for _, td := range d.TransactionDigests {
		if !td.IsZero() {
			return false
		}
	}
	return true
}

// TickDataSize is the fixed wire length of a Marshal'd TickData.
const TickDataSize = 2 + 2 + 4 + 7 + 256 + 4 + types.MaxTransactionsPerTick*32 + types.MaxTransactionsPerTick*8 + 64

var ErrShortTickData = errors.New("wire: tick data frame too short")

// Marshal encodes the real (non-XORed) field values followed by the
// signature.
func (d TickData) Marshal() []byte {
	buf := make([]byte, 0, TickDataSize)
	buf = appendU16(buf, d.ComputorIndex)
	buf = appendU16(buf, uint16(d.Epoch))
	buf = appendU32(buf, uint32(d.Tick))
	ts := MarshalTimestamp7(d.Timestamp)
	buf = append(buf, ts[:]...)
	buf = append(buf, d.Variant[:]...)
	buf = appendU32(buf, d.Timelock)
	for _, td := range d.TransactionDigests {
		buf = append(buf, td[:]...)
	}
	for _, fee := range d.ContractFees {
		buf = appendU64(buf, uint64(fee))
	}
	buf = append(buf, d.Signature[:]...)
	return buf
}

// UnmarshalTickData decodes a TickDataSize-byte buffer.
func UnmarshalTickData(b []byte) (TickData, error) {
	if len(b) < TickDataSize {
		return TickData{}, ErrShortTickData
	}
	var d TickData
	d.ComputorIndex = binary.LittleEndian.Uint16(b[0:2])
	d.Epoch = types.Epoch(binary.LittleEndian.Uint16(b[2:4]))
	d.Tick = types.Tick(binary.LittleEndian.Uint32(b[4:8]))
	var ts [7]byte
	copy(ts[:], b[8:15])
	d.Timestamp = UnmarshalTimestamp7(ts)
	off := 15
	copy(d.Variant[:], b[off:off+256])
	off += 256
	d.Timelock = binary.LittleEndian.Uint32(b[off : off+4])
	off += 4
	for i := range d.TransactionDigests {
		copy(d.TransactionDigests[i][:], b[off:off+32])
		off += 32
	}
	for i := range d.ContractFees {
		d.ContractFees[i] = int64(binary.LittleEndian.Uint64(b[off : off+8]))
		off += 8
	}
	copy(d.Signature[:], b[off:off+64])
	return d, nil
}

// Transaction is a BROADCAST_TRANSACTION body (§3.5, type 24).
type Transaction struct {
	Source    types.PublicKey
	Dest      types.PublicKey
	Amount    types.Amount
	Tick      types.Tick
	InputType uint16
	InputSize uint16
	Input     []byte
	Signature types.Signature
}

var ErrTransactionTooLarge = errors.New("wire: transaction input exceeds MaxTransactionSize")

// SigningPreimage returns the bytes signed by the source key: everything
// but the trailing signature.
func (tx Transaction) SigningPreimage() []byte {
	buf := make([]byte, 0, 32+32+8+4+2+2+len(tx.Input))
	buf = append(buf, tx.Source[:]...)
	buf = append(buf, tx.Dest[:]...)
	buf = appendU64(buf, uint64(tx.Amount))
	buf = appendU32(buf, uint32(tx.Tick))
	buf = appendU16(buf, tx.InputType)
	buf = appendU16(buf, tx.InputSize)
	buf = append(buf, tx.Input...)
	return buf
}

// Digest computes the transaction's identity digest via the supplied
// hasher -- used for tickTransactionOffsets lookups and entity-pending
// fingerprints.
func (tx Transaction) Digest(hash func([]byte) types.Digest) types.Digest {
	return hash(tx.SigningPreimage())
}

var ErrShortTransaction = errors.New("wire: transaction frame too short")

// fixedTransactionHeaderSize is Source+Dest+Amount+Tick+InputType+InputSize,
// before the variable-length Input and the trailing Signature.
const fixedTransactionHeaderSize = 32 + 32 + 8 + 4 + 2 + 2

// Marshal encodes the transaction followed by its signature. Wire length
// is fixedTransactionHeaderSize + len(Input) + SignatureSize.
func (tx Transaction) Marshal() []byte {
	buf := tx.SigningPreimage()
	return append(buf, tx.Signature[:]...)
}

// UnmarshalTransaction decodes a transaction frame; InputSize governs how
// many of the trailing bytes belong to Input versus the Signature.
func UnmarshalTransaction(b []byte) (Transaction, error) {
	if len(b) < fixedTransactionHeaderSize+64 {
		return Transaction{}, ErrShortTransaction
	}
	var tx Transaction
	copy(tx.Source[:], b[0:32])
	copy(tx.Dest[:], b[32:64])
	tx.Amount = types.Amount(binary.LittleEndian.Uint64(b[64:72]))
	tx.Tick = types.Tick(binary.LittleEndian.Uint32(b[72:76]))
	tx.InputType = binary.LittleEndian.Uint16(b[76:78])
	tx.InputSize = binary.LittleEndian.Uint16(b[78:80])
	want := fixedTransactionHeaderSize + int(tx.InputSize) + 64
	if len(b) < want {
		return Transaction{}, ErrShortTransaction
	}
	if tx.InputSize > 0 {
		tx.Input = append([]byte(nil), b[80:80+int(tx.InputSize)]...)
	}
	copy(tx.Signature[:], b[80+int(tx.InputSize):want])
	return tx, nil
}

// ComputorList is a BROADCAST_COMPUTORS body (§4.H): the arbitrator's
// signed declaration of the current epoch's committee.
type ComputorList struct {
	Epoch     types.Epoch
	Members   [types.NumberOfComputors]types.PublicKey
	Signature types.Signature
}

// SigningPreimage returns the bytes signed by the arbitrator key: epoch
// followed by the member list, excluding the signature.
func (c ComputorList) SigningPreimage() []byte {
	buf := make([]byte, 0, 2+types.NumberOfComputors*32)
	buf = appendU16(buf, uint16(c.Epoch))
	for _, m := range c.Members {
		buf = append(buf, m[:]...)
	}
	return buf
}

// ComputorListSize is the fixed wire length of a Marshal'd ComputorList.
const ComputorListSize = 2 + types.NumberOfComputors*32 + 64

var ErrShortComputorList = errors.New("wire: computor list frame too short")

// Marshal encodes the committee declaration followed by its signature.
func (c ComputorList) Marshal() []byte {
	buf := c.SigningPreimage()
	return append(buf, c.Signature[:]...)
}

// UnmarshalComputorList decodes a ComputorListSize-byte buffer.
func UnmarshalComputorList(b []byte) (ComputorList, error) {
	if len(b) < ComputorListSize {
		return ComputorList{}, ErrShortComputorList
	}
	var c ComputorList
	c.Epoch = types.Epoch(binary.LittleEndian.Uint16(b[0:2]))
	off := 2
	for i := range c.Members {
		copy(c.Members[i][:], b[off:off+32])
		off += 32
	}
	copy(c.Signature[:], b[off:off+64])
	return c, nil
}

// SolutionHint is a BROADCAST_MESSAGE body carrying a mining solution
// announcement (§4.F.3, §4.H's "solution hints").
type SolutionHint struct {
	Source types.PublicKey
	Nonce  [32]byte
}

// SolutionHintSize is the fixed wire length of a SolutionHint.
const SolutionHintSize = 32 + 32

var ErrShortSolutionHint = errors.New("wire: solution hint frame too short")

// Marshal encodes the solution hint (no signature: the original format
// carries it inside an encrypted envelope outside this codec's scope).
func (s SolutionHint) Marshal() []byte {
	buf := make([]byte, 0, SolutionHintSize)
	buf = append(buf, s.Source[:]...)
	buf = append(buf, s.Nonce[:]...)
	return buf
}

// UnmarshalSolutionHint decodes a SolutionHintSize-byte buffer.
func UnmarshalSolutionHint(b []byte) (SolutionHint, error) {
	if len(b) < SolutionHintSize {
		return SolutionHint{}, ErrShortSolutionHint
	}
	var s SolutionHint
	copy(s.Source[:], b[0:32])
	copy(s.Nonce[:], b[32:64])
	return s, nil
}

func appendU16(buf []byte, v uint16) []byte {
	return append(buf, byte(v), byte(v>>8))
}

func appendU32(buf []byte, v uint32) []byte {
	return append(buf, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}

func appendU64(buf []byte, v uint64) []byte {
	return append(buf,
		byte(v), byte(v>>8), byte(v>>16), byte(v>>24),
		byte(v>>32), byte(v>>40), byte(v>>48), byte(v>>56))
}
