package dispatcher

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	"validator-node/internal/committee"
	"validator-node/internal/computer"
	"validator-node/internal/cryptooracle"
	"validator-node/internal/quorum"
	"validator-node/internal/scoreoracle"
	"validator-node/internal/spectrum"
	"validator-node/internal/tickstore"
	"validator-node/internal/txproc"
	"validator-node/internal/types"
	"validator-node/internal/universe"
	"validator-node/internal/wire"
)

func testDeps(t *testing.T) (*Deps, cryptooracle.Oracle, []byte, types.PublicKey) {
	t.Helper()
	oracle := cryptooracle.New()

	priv, pub, err := cryptooracle.RandomPrivateKey()
	if err != nil {
		t.Fatalf("RandomPrivateKey: %v", err)
	}

	spectrumStore := spectrum.New(8, oracle.CombineDigests, func(e spectrum.Entity) types.Digest {
		return oracle.Hash(e.PublicKey[:])
	})
	universeStore := universe.New(8, oracle.CombineDigests, func(s universe.Slot) types.Digest {
		return oracle.Hash([]byte{byte(s.Kind)})
	})
	computerStore := computer.New(oracle.CombineDigests, func(b []byte) types.Digest {
		return oracle.Hash(b)
	})
	ticks := tickstore.New(1, 16, 1<<16, 64)
	miner := txproc.NewMinerState(1 << 16)
	processor := txproc.New(spectrumStore, computerStore, oracle.Hash, miner, scoreoracle.Stub{})
	engine := quorum.NewEngine(oracle.Hash, ticks)

	var members [types.NumberOfComputors]types.PublicKey
	members[0] = pub
	cm := committee.New(pub, members)

	deps := &Deps{
		Oracle:      oracle,
		Spectrum:    spectrumStore,
		Universe:    universeStore,
		Computer:    computerStore,
		Ticks:       ticks,
		Quorum:      engine,
		Committee:   cm,
		Processor:   processor,
		Miner:       miner,
		OperatorKey: pub,
	}
	return deps, oracle, priv, pub
}

func TestHandleBroadcastTickAcceptsValidVote(t *testing.T) {
	deps, oracle, priv, _ := testDeps(t)

	vote := wire.TickVote{ComputorIndex: 0, Epoch: 1, Tick: 1}
	digest := oracle.Hash(vote.SigningPreimage())
	sig, err := oracle.Sign(priv, digest)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	vote.Signature = sig

	responses, rebroadcast, err := deps.handleBroadcastTick(context.Background(), Request{
		Type: wire.TypeBroadcastTick,
		Body: vote.Marshal(),
	})
	if err != nil {
		t.Fatalf("handleBroadcastTick: %v", err)
	}
	if len(responses) != 0 {
		t.Fatalf("expected no responses, got %d", len(responses))
	}
	if !rebroadcast {
		t.Fatalf("expected rebroadcast = true")
	}
	votes := deps.Ticks.Votes(1)
	if _, ok := votes[0]; !ok {
		t.Fatalf("vote was not recorded")
	}
}

func TestHandleBroadcastTickRejectsBadSignature(t *testing.T) {
	deps, _, _, _ := testDeps(t)

	vote := wire.TickVote{ComputorIndex: 0, Epoch: 1, Tick: 1}
	_, _, err := deps.handleBroadcastTick(context.Background(), Request{
		Type: wire.TypeBroadcastTick,
		Body: vote.Marshal(),
	})
	if err != ErrBadSignature {
		t.Fatalf("expected ErrBadSignature, got %v", err)
	}
}

func TestHandleRequestEntityReportsBalance(t *testing.T) {
	deps, _, _, pub := testDeps(t)
	deps.Spectrum.Credit(pub, 500, 1)

	var body [32]byte
	copy(body[:], pub[:])
	responses, _, err := deps.handleRequestEntity(context.Background(), Request{
		Type: wire.TypeRequestEntity,
		Body: body[:],
	})
	if err != nil {
		t.Fatalf("handleRequestEntity: %v", err)
	}
	if len(responses) != 1 || responses[0].Type != wire.TypeRespondEntity {
		t.Fatalf("unexpected responses: %+v", responses)
	}
	balance := int64(binary.LittleEndian.Uint64(responses[0].Body[0:8]))
	if balance != 500 {
		t.Fatalf("balance = %d, want 500", balance)
	}
}

func TestHandleRequestComputorsEchoesCommittee(t *testing.T) {
	deps, _, _, pub := testDeps(t)
	responses, rebroadcast, err := deps.handleRequestComputors(context.Background(), Request{})
	if err != nil {
		t.Fatalf("handleRequestComputors: %v", err)
	}
	if rebroadcast {
		t.Fatalf("a request response must not rebroadcast")
	}
	list, err := wire.UnmarshalComputorList(responses[0].Body)
	if err != nil {
		t.Fatalf("UnmarshalComputorList: %v", err)
	}
	if list.Members[0] != pub {
		t.Fatalf("committee member mismatch")
	}
}

func TestHandleSpecialCommandEnforcesNonceOrder(t *testing.T) {
	deps, oracle, priv, _ := testDeps(t)

	build := func(nonce uint64) []byte {
		body := make([]byte, 8)
		binary.LittleEndian.PutUint64(body, nonce)
		digest := oracle.Hash(body)
		sig, err := oracle.Sign(priv, digest)
		if err != nil {
			t.Fatalf("Sign: %v", err)
		}
		return append(body, sig[:]...)
	}

	if _, _, err := deps.handleSpecialCommand(context.Background(), Request{Body: build(1)}); err != nil {
		t.Fatalf("first command: %v", err)
	}
	if _, _, err := deps.handleSpecialCommand(context.Background(), Request{Body: build(1)}); err != ErrStaleNonce {
		t.Fatalf("expected ErrStaleNonce for replayed nonce, got %v", err)
	}
	if _, _, err := deps.handleSpecialCommand(context.Background(), Request{Body: build(2)}); err != nil {
		t.Fatalf("second command: %v", err)
	}
}

func TestDispatcherRebroadcastsOnlyForNonZeroDejavu(t *testing.T) {
	var broadcastCount int
	d := New(Config{QueueDepth: 4, ResponseDepth: 4, MaxConcurrency: 1}, func(typ byte, body []byte) error {
		broadcastCount++
		return nil
	}, nil)
	d.Register(0xAA, func(ctx context.Context, req Request) ([]Response, bool, error) {
		return nil, true, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = d.Run(ctx) }()
	defer cancel()

	if err := d.Submit(Request{Type: 0xAA, Dejavu: 0}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := d.Submit(Request{Type: 0xAA, Dejavu: 7}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if broadcastCount != 1 {
		t.Fatalf("broadcastCount = %d, want 1 (dejavu=0 must not rebroadcast)", broadcastCount)
	}
}

func TestDispatcherEmitsEndResponseSentinel(t *testing.T) {
	d := New(Config{QueueDepth: 4, ResponseDepth: 4, MaxConcurrency: 1}, nil, nil)
	d.Register(0xBB, func(ctx context.Context, req Request) ([]Response, bool, error) {
		return []Response{{Type: wire.TypeRespondEntity, Body: []byte{1}}}, false, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = d.Run(ctx) }()
	defer cancel()

	if err := d.Submit(Request{Type: 0xBB}); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	first := <-d.Responses()
	second := <-d.Responses()
	if first.Type != wire.TypeRespondEntity {
		t.Fatalf("first response type = %d, want TypeRespondEntity", first.Type)
	}
	if second.Type != wire.TypeEndResponse {
		t.Fatalf("second response type = %d, want TypeEndResponse", second.Type)
	}
}

func TestDispatcherSubmitReturnsErrQueueFullWhenSaturated(t *testing.T) {
	d := New(Config{QueueDepth: 2, ResponseDepth: 1, MaxConcurrency: 1}, nil, nil)
	d.Register(0xCC, func(ctx context.Context, req Request) ([]Response, bool, error) {
		return nil, false, nil
	})
	if err := d.Submit(Request{Type: 0xCC}); err != nil {
		t.Fatalf("first Submit: %v", err)
	}
	if err := d.Submit(Request{Type: 0xCC}); err != nil {
		t.Fatalf("second Submit: %v", err)
	}
	if err := d.Submit(Request{Type: 0xCC}); err != ErrQueueFull {
		t.Fatalf("expected ErrQueueFull once both queue slots are claimed, got %v", err)
	}
}
