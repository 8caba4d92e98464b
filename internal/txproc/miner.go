package txproc

import (
	"sync"

	"validator-node/internal/dedup"
	"validator-node/internal/types"
)

// Solution is one published proof-of-useful-work submission (§4.F.3).
type Solution struct {
	Source          types.PublicKey
	Nonce           [32]byte
	PublicationTick types.Tick // tick at which this solution becomes eligible to publish
}

type minerRank struct {
	PublicKey types.PublicKey
	Score     uint32
}

// MinerState tracks mining solutions and scores across an epoch, feeding
// the next epoch's candidate committee (§4.F.3).
type MinerState struct {
	mu sync.Mutex

	flags *dedup.Filter // dedup by hash(sourcePk||nonce)

	resourceTestingDigest types.Digest

	solutions []Solution
	solvedKey map[[64]byte]struct{} // dedup by nonce+pk

	ranks []minerRank // sorted descending by score; index 0 is the highest-ranked

	minimumComputorScore uint32
	minimumCandidateScore uint32
	futureComputors       [types.NumberOfComputors]types.PublicKey
}

// NewMinerState creates a MinerState with a dejavu-style dedup filter sized
// for fingerprintBits bits (production wiring: 1<<32, per §4.A's filter).
func NewMinerState(fingerprintBits uint64) *MinerState {
	return &MinerState{
		flags:     dedup.New(fingerprintBits, fingerprintBits/4),
		solvedKey: make(map[[64]byte]struct{}),
	}
}

// ResourceTestingDigest returns the folded digest of all accepted solutions
// this epoch.
func (m *MinerState) ResourceTestingDigest() types.Digest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resourceTestingDigest
}

// Solutions returns a snapshot of recorded solutions.
func (m *MinerState) Solutions() []Solution {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Solution, len(m.solutions))
	copy(out, m.solutions)
	return out
}

// Score returns a miner's current accumulated score.
func (m *MinerState) Score(pk types.PublicKey) uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.ranks {
		if r.PublicKey == pk {
			return r.Score
		}
	}
	return 0
}

// FutureComputors returns the published top-NumberOfComputors ranking.
func (m *MinerState) FutureComputors() [types.NumberOfComputors]types.PublicKey {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.futureComputors
}

func fingerprintKey(hash func([]byte) types.Digest, source types.PublicKey, nonce [32]byte) uint32 {
	buf := make([]byte, 64)
	copy(buf[:32], source[:])
	copy(buf[32:], nonce[:])
	d := hash(buf)
	return uint32(d[0]) | uint32(d[1])<<8 | uint32(d[2])<<16 | uint32(d[3])<<24
}

// SetThresholds stores the sitting-computor and candidate minimum scores
// (§4.F.3). Only the candidate threshold is consulted: Submit ranks a
// solution only if its score reaches it. The computor threshold is stored
// but nothing reads it, so no sitting computor is demoted by score. Zero
// accepts everything, the default.
func (m *MinerState) SetThresholds(computor, candidate uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.minimumComputorScore = computor
	m.minimumCandidateScore = candidate
}

// Submit records one published solution: it is deduplicated by
// source||nonce, scored by the oracle, folded into the resourceTestingDigest,
// and -- if it clears the candidate threshold -- inserted into the ranking
// that drives FutureComputors (§4.F.3). Returns false for a duplicate or a
// below-threshold solution.
func (m *MinerState) Submit(hash func([]byte) types.Digest, oracle interface {
	Score(source types.PublicKey, nonce [32]byte) uint32
}, sol Solution) bool {
	fp := fingerprintKey(hash, sol.Source, sol.Nonce)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.flags.CheckAndSet(fp) {
		return false
	}
	var key [64]byte
	copy(key[:32], sol.Source[:])
	copy(key[32:], sol.Nonce[:])
	if _, dup := m.solvedKey[key]; dup {
		return false
	}
	m.solvedKey[key] = struct{}{}

	var preimage [64]byte
	copy(preimage[:32], sol.Source[:])
	copy(preimage[32:], sol.Nonce[:])
	solutionDigest := hash(preimage[:])
	var folded types.Digest
	for i := range folded {
		folded[i] = m.resourceTestingDigest[i] ^ solutionDigest[i]
	}
	m.resourceTestingDigest = hash(folded[:])

	m.solutions = append(m.solutions, sol)

	score := oracle.Score(sol.Source, sol.Nonce)
	if score < m.minimumCandidateScore {
		return false
	}
	m.insertRank(sol.Source, score)
	return true
}

// insertRank keeps m.ranks sorted descending by score, capped at
// NumberOfComputors entries (bubble-insert, matching the original miner
// solution ranking's swap loop), then republishes FutureComputors.
func (m *MinerState) insertRank(pk types.PublicKey, score uint32) {
	for i, r := range m.ranks {
		if r.PublicKey == pk {
			if score <= r.Score {
				return
			}
			m.ranks[i].Score = score
			m.bubbleUp(i)
			m.refreshFutureComputors()
			return
		}
	}
	if len(m.ranks) >= types.NumberOfComputors && score <= m.ranks[len(m.ranks)-1].Score {
		return
	}
	m.ranks = append(m.ranks, minerRank{PublicKey: pk, Score: score})
	m.bubbleUp(len(m.ranks) - 1)
	if len(m.ranks) > types.NumberOfComputors {
		m.ranks = m.ranks[:types.NumberOfComputors]
	}
	m.refreshFutureComputors()
}

func (m *MinerState) bubbleUp(i int) {
	for i > 0 && m.ranks[i-1].Score < m.ranks[i].Score {
		m.ranks[i-1], m.ranks[i] = m.ranks[i], m.ranks[i-1]
		i--
	}
}

// ResetRanking clears the solution/ranking state at epoch rollover (§4.I
// step 7: "clear the future-committee list"), leaving a clean slate for
// the next epoch's solution intake.
func (m *MinerState) ResetRanking() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resourceTestingDigest = types.Digest{}
	m.solutions = nil
	m.solvedKey = make(map[[64]byte]struct{})
	m.ranks = nil
	m.futureComputors = [types.NumberOfComputors]types.PublicKey{}
	m.flags.Reset()
}

func (m *MinerState) refreshFutureComputors() {
	m.futureComputors = [types.NumberOfComputors]types.PublicKey{}
	for i := 0; i < len(m.ranks) && i < types.NumberOfComputors; i++ {
		m.futureComputors[i] = m.ranks[i].PublicKey
	}
}
