// Package node wires every other internal package behind one aggregate,
// NodeState, the way the teacher's core package lets its Ledger/Node/Coin/
// TxPool/HealthLogger all reach each other through plain struct fields
// rather than a DI container (§D: "internal/node wires every module above
// behind one root struct"). NodeState owns the tick-processing loop (§2)
// end to end: apply this tick's transactions, compute the next tick's
// target digest, count votes, and advance when quorum agrees.
package node

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"validator-node/internal/committee"
	"validator-node/internal/computer"
	"validator-node/internal/cryptooracle"
	"validator-node/internal/dispatcher"
	"validator-node/internal/epoch"
	"validator-node/internal/metrics"
	"validator-node/internal/opstatus"
	"validator-node/internal/quorum"
	"validator-node/internal/scoreoracle"
	"validator-node/internal/snapshot"
	"validator-node/internal/spectrum"
	"validator-node/internal/tickstore"
	"validator-node/internal/transport"
	"validator-node/internal/txproc"
	"validator-node/internal/types"
	"validator-node/internal/universe"
	"validator-node/internal/wire"
	"validator-node/pkg/config"
)

const (
	maxTicksInFlight = 16
	tickArenaSize    = 1 << 24
)

// NodeState is the validator node's full runtime: every store, the
// dispatcher that fronts them, the transport that feeds the dispatcher,
// and the operator-facing metrics/status/snapshot surfaces.
type NodeState struct {
	cfg *config.NodeConfig
	log *logrus.Logger

	oracle     cryptooracle.Oracle
	privateKey []byte

	spectrumStore *spectrum.Store
	universeStore *universe.Store
	computerStore *computer.Store
	ticks         *tickstore.Store

	cm        *committee.Committee
	miner     *txproc.MinerState
	processor *txproc.Processor

	quorumEngine *quorum.Engine
	epochCtl     *epoch.Controller

	disp      *dispatcher.Dispatcher
	deps      *dispatcher.Deps
	transport *transport.Node

	metricsRec *metrics.Recorder
	snapWriter *snapshot.Writer

	statusSrv  *http.Server
	metricsSrv *http.Server

	mu          sync.RWMutex
	epoch       types.Epoch
	initialTick types.Tick
}

// New constructs every package NodeState wires together, per cfg.
func New(cfg *config.NodeConfig, log *logrus.Logger) (*NodeState, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}

	oracle := cryptooracle.New()

	arbitrator, members, err := LoadCommitteeFile(cfg.InitialCommitteeFile)
	if err != nil {
		return nil, fmt.Errorf("node: load committee: %w", err)
	}
	cm := committee.New(arbitrator, members)

	spectrumStore := spectrum.New(types.SpectrumCapacity, oracle.CombineDigests, func(e spectrum.Entity) types.Digest {
		return oracle.Hash(e.PublicKey[:])
	})
	universeStore := universe.New(types.AssetsCapacity, oracle.CombineDigests, func(s universe.Slot) types.Digest {
		return oracle.Hash([]byte{byte(s.Kind)})
	})
	computerStore := computer.New(oracle.CombineDigests, oracle.Hash)

	ticks := tickstore.New(types.Tick(0), maxTicksInFlight, tickArenaSize, config.DefaultPendingCapacity)

	miner := txproc.NewMinerState(1 << 32)
	processor := txproc.New(spectrumStore, computerStore, oracle.Hash, miner, scoreoracle.Stub{})
	quorumEngine := quorum.NewEngine(oracle.Hash, ticks)
	epochCtl := epoch.New(spectrumStore, universeStore, computerStore, ticks, cm, miner, oracle.CombineDigests)

	transportNode, err := transport.New(transport.Config{
		ListenAddr:     fmt.Sprintf("/ip4/0.0.0.0/tcp/%d", cfg.ListenPort),
		BootstrapPeers: cfg.PeerSeeds,
		DiscoveryTag:   cfg.DiscoveryTag,
		GossipTopic:    "validator-gossip",
	}, log)
	if err != nil {
		return nil, fmt.Errorf("node: start transport: %w", err)
	}

	var operatorKey types.PublicKey
	if cfg.OperatorPublicKey != "" {
		if err := decodeHexKey(cfg.OperatorPublicKey, &operatorKey); err != nil {
			transportNode.Close()
			return nil, fmt.Errorf("node: decode operator_public_key: %w", err)
		}
	}

	deps := &dispatcher.Deps{
		Oracle:      oracle,
		Spectrum:    spectrumStore,
		Universe:    universeStore,
		Computer:    computerStore,
		Ticks:       ticks,
		Quorum:      quorumEngine,
		Committee:   cm,
		Processor:   processor,
		Miner:       miner,
		OperatorKey: operatorKey,
	}

	disp := dispatcher.New(dispatcher.Config{
		QueueDepth:     cfg.QueueDepth,
		ResponseDepth:  cfg.ResponseDepth,
		MaxConcurrency: cfg.MaxConcurrency,
	}, transportNode.Broadcast, log)
	dispatcher.RegisterDefaults(disp, deps)

	var privateKey []byte
	if cfg.PrivateKeyHex != "" {
		privateKey, err = decodeHexBytes(cfg.PrivateKeyHex)
		if err != nil {
			transportNode.Close()
			return nil, fmt.Errorf("node: decode private_key_hex: %w", err)
		}
	}

	n := &NodeState{
		cfg:           cfg,
		log:           log,
		oracle:        oracle,
		privateKey:    privateKey,
		spectrumStore: spectrumStore,
		universeStore: universeStore,
		computerStore: computerStore,
		ticks:         ticks,
		cm:            cm,
		miner:         miner,
		processor:     processor,
		quorumEngine:  quorumEngine,
		epochCtl:      epochCtl,
		disp:          disp,
		deps:          deps,
		transport:     transportNode,
		initialTick:   types.Tick(0),
	}

	n.metricsRec = metrics.New(n, log)

	snapWriter, err := snapshot.New(n, cfg.DataDir, log)
	if err != nil {
		transportNode.Close()
		return nil, fmt.Errorf("node: create snapshot writer: %w", err)
	}
	n.snapWriter = snapWriter

	return n, nil
}

// Start runs the dispatcher worker pool, the transport's gossip pump, the
// metrics/status HTTP servers and the periodic snapshot writer until ctx is
// cancelled. It does not return until every component has stopped.
func (n *NodeState) Start(ctx context.Context) error {
	var wg sync.WaitGroup
	errs := make(chan error, 1)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := n.disp.Run(ctx); err != nil {
			select {
			case errs <- fmt.Errorf("dispatcher: %w", err):
			default:
			}
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := n.transport.Run(ctx, n.disp); err != nil {
			select {
			case errs <- fmt.Errorf("transport: %w", err):
			default:
			}
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		n.transport.PumpResponses(ctx, n.disp)
	}()

	n.statusSrv = opstatus.StartServer(n.cfg.StatusAddr, n)
	n.metricsSrv = n.metricsRec.StartServer(n.cfg.MetricsAddr)

	wg.Add(1)
	go func() {
		defer wg.Done()
		n.metricsRec.Run(ctx, time.Second)
	}()

	if n.cfg.SnapshotIntervalTicks > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			interval := time.Duration(n.cfg.SnapshotIntervalTicks) * time.Duration(n.cfg.TickDurationMS) * time.Millisecond
			n.snapWriter.Run(ctx, interval)
		}()
	}

	wg.Wait()
	select {
	case err := <-errs:
		return err
	default:
		return nil
	}
}

// Close tears down the transport and HTTP servers. Callers invoke this
// after Start returns (ctx cancellation already stopped the goroutines).
func (n *NodeState) Close(ctx context.Context) error {
	if n.statusSrv != nil {
		_ = opstatus.Shutdown(ctx, n.statusSrv)
	}
	if n.metricsSrv != nil {
		_ = n.metricsRec.Shutdown(ctx, n.metricsSrv)
	}
	return n.transport.Close()
}

// RunTick executes one full tick through the pipeline described by §2:
// apply this tick's transactions, fold the post-tick digests into the
// quorum engine's etalon, count votes against it, compute the next tick's
// target, and advance if quorum agrees. It returns whether the tick
// advanced; when an epoch boundary is crossed, the node's own
// spectrum/universe/processor fields are re-pointed at the new epoch's
// stores, and nothing is returned for the caller to keep.
func (n *NodeState) RunTick(tick types.Tick) (advanced bool, err error) {
	currentEpoch := n.CurrentEpoch()

	n.quorumEngine.BeginTick(tick)

	prevSpectrum := n.spectrumStore.Digest()
	prevUniverse := n.universeStore.Digest()
	prevComputer := n.computerStore.Digest()

	n.computerStore.RunBeginTick(tick, currentEpoch)

	tickData, _ := n.ticks.TickData(tick)
	lookup := n.transactionLookup(tick)
	n.processor.ApplyTick(tick, currentEpoch, tickData, lookup)

	n.computerStore.RunEndTick(tick, currentEpoch)

	etalon := quorum.Etalon{
		PrevSpectrumDigest: prevSpectrum,
		PrevUniverseDigest: prevUniverse,
		PrevComputerDigest: prevComputer,
		SpectrumDigest:     n.spectrumStore.Digest(),
		UniverseDigest:     n.universeStore.Digest(),
		ComputerDigest:     n.computerStore.Digest(),
		Timestamp:          wireTimestampNow(),
	}
	n.quorumEngine.MarkApplied(etalon)

	members := n.cm.Members()
	n.quorumEngine.CountVotes(members)
	n.quorumEngine.ComputeTarget()

	nextTickData, nextKnown := n.ticks.TickData(tick + 1)
	advanced = n.quorumEngine.TryAdvance(nextTickData, nextKnown)
	if !advanced {
		return false, nil
	}

	if quorum.CrossesEpochBoundary(currentEpoch, etalon.Timestamp) {
		if err := n.runEpochTransition(tick); err != nil {
			return true, fmt.Errorf("node: epoch transition: %w", err)
		}
	}
	return true, nil
}

// runEpochTransition executes epoch.Controller.Run and re-wires every
// dependent component against the compacted stores it returns (§4.I steps
// 1,2,4,5,6,7; step 3 -- resetting the etalon -- happens via the next
// BeginTick call, step 8 is this package's snapshot.Writer).
func (n *NodeState) runEpochTransition(currentTick types.Tick) error {
	n.mu.Lock()
	oldEpoch := n.epoch
	initialTick := n.initialTick
	n.mu.Unlock()

	result := n.epochCtl.Run(oldEpoch, initialTick, currentTick)

	n.spectrumStore = result.Spectrum
	n.universeStore = result.Universe
	n.processor = txproc.New(n.spectrumStore, n.computerStore, n.oracle.Hash, n.miner, scoreoracle.Stub{})
	n.miner.ResetRanking()
	n.ticks.ResetEpoch(currentTick + 1)

	n.deps.Spectrum = n.spectrumStore
	n.deps.Universe = n.universeStore
	n.deps.Processor = n.processor

	n.mu.Lock()
	n.epoch = result.NewEpoch
	n.initialTick = currentTick + 1
	n.mu.Unlock()

	n.log.WithField("epoch", result.NewEpoch).WithField("arbitrator_revenue", result.ArbitratorRevenue).
		Info("node: epoch transition complete")
	return nil
}

// transactionLookup builds a txproc.Lookup that decodes a transaction from
// the tick's transaction arena: the fixed header plus signature length is
// read first to recover InputSize (it precedes the variable Input field on
// the wire, per wire.fixedTransactionHeaderSize), then the full frame is
// read.
func (n *NodeState) transactionLookup(tick types.Tick) txproc.Lookup {
	const fixedHeaderAndSignature = 32 + 32 + 8 + 4 + 2 + 2 + 64
	return func(slot int) (wire.Transaction, bool) {
		header, ok := n.ticks.TransactionBytes(tick, slot, fixedHeaderAndSignature)
		if !ok {
			return wire.Transaction{}, false
		}
		inputSize := int(header[78]) | int(header[79])<<8
		if inputSize == 0 {
			tx, err := wire.UnmarshalTransaction(header)
			return tx, err == nil
		}
		full, ok := n.ticks.TransactionBytes(tick, slot, fixedHeaderAndSignature+inputSize)
		if !ok {
			return wire.Transaction{}, false
		}
		tx, err := wire.UnmarshalTransaction(full)
		return tx, err == nil
	}
}

// CurrentTick returns the tick the quorum engine is presently processing.
func (n *NodeState) CurrentTick() types.Tick { return n.quorumEngine.CurrentTick() }

// CurrentEpoch returns the epoch the node currently believes it is in.
func (n *NodeState) CurrentEpoch() types.Epoch {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.epoch
}

// Phase returns the quorum engine's current phase.
func (n *NodeState) Phase() quorum.Phase { return n.quorumEngine.Phase() }

// QuorumStats reports the last CountVotes tally.
func (n *NodeState) QuorumStats() (consistent, total int) {
	consistent, total, _, _, _ = n.quorumEngine.Stats()
	return consistent, total
}

// FaultyCount reports how many computors are marked faulty this epoch.
func (n *NodeState) FaultyCount() int { return n.ticks.FaultyCount() }

// QueueDepth reports the dispatcher's request queue occupancy.
func (n *NodeState) QueueDepth() (length, capacity int) { return n.disp.QueueDepth() }

// PeerCount reports the transport's connected peer count.
func (n *NodeState) PeerCount() int { return n.transport.PeerCount() }

// SpectrumDigest, UniverseDigest and ComputerDigest report the current
// store digests, for internal/snapshot.
func (n *NodeState) SpectrumDigest() types.Digest { return n.spectrumStore.Digest() }
func (n *NodeState) UniverseDigest() types.Digest { return n.universeStore.Digest() }
func (n *NodeState) ComputerDigest() types.Digest { return n.computerStore.Digest() }

// Dispatcher returns the underlying request dispatcher, for cmd/validator's
// peer-submission wiring and tests.
func (n *NodeState) Dispatcher() *dispatcher.Dispatcher { return n.disp }

// Peers returns a snapshot of the transport's connected peers, for the
// `validator peer list` CLI subcommand.
func (n *NodeState) Peers() []*transport.PeerInfo { return n.transport.Peers() }

// wireTimestampNow packs the current UTC time into the 7-byte wire clock
// (§3.5's Timestamp layout).
func wireTimestampNow() wire.Timestamp {
	now := time.Now().UTC()
	return wire.Timestamp{
		Millisecond: uint16(now.Nanosecond() / 1e6),
		Second:      uint8(now.Second()),
		Minute:      uint8(now.Minute()),
		Hour:        uint8(now.Hour()),
		Day:         uint8(now.Day()),
		Month:       uint8(now.Month()),
		Year:        uint8(now.Year() - 2000),
	}
}
