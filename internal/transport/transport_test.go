package transport

import (
	"context"
	"fmt"
	"testing"
	"time"

	"validator-node/internal/dispatcher"
	"validator-node/internal/wire"
)

func newLoopbackNode(t *testing.T, topic string) *Node {
	t.Helper()
	n, err := New(Config{
		ListenAddr:   "/ip4/127.0.0.1/tcp/0",
		DiscoveryTag: "validator-node-test",
		GossipTopic:  topic,
	}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = n.Close() })
	return n
}

func seedAddr(n *Node) string {
	addrs := n.host.Addrs()
	if len(addrs) == 0 {
		return ""
	}
	return fmt.Sprintf("%s/p2p/%s", addrs[0].String(), n.host.ID().String())
}

func TestBroadcastDeliversFrameToPeerDispatcher(t *testing.T) {
	topic := "validator-transport-test"
	a := newLoopbackNode(t, topic)
	b := newLoopbackNode(t, topic)

	if err := a.DialSeed([]string{seedAddr(b)}); err != nil {
		t.Fatalf("DialSeed: %v", err)
	}
	// GossipSub needs a moment to establish its mesh after the connection.
	time.Sleep(300 * time.Millisecond)

	received := make(chan dispatcher.Request, 1)
	d := dispatcher.New(dispatcher.Config{QueueDepth: 4, ResponseDepth: 4, MaxConcurrency: 1}, nil, nil)
	d.Register(wire.TypeBroadcastTransaction, func(_ context.Context, req dispatcher.Request) ([]dispatcher.Response, bool, error) {
		received <- req
		return nil, false, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = d.Run(ctx) }()
	go func() { _ = b.Run(ctx, d) }()

	if err := a.Broadcast(wire.TypeBroadcastTransaction, []byte("payload")); err != nil {
		t.Fatalf("Broadcast: %v", err)
	}

	select {
	case req := <-received:
		if string(req.Body) != "payload" {
			t.Fatalf("Body = %q, want %q", req.Body, "payload")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for gossiped frame to reach dispatcher")
	}
}

func TestPeerCountTracksDialedSeed(t *testing.T) {
	topic := "validator-transport-peercount-test"
	a := newLoopbackNode(t, topic)
	b := newLoopbackNode(t, topic)

	if err := a.DialSeed([]string{seedAddr(b)}); err != nil {
		t.Fatalf("DialSeed: %v", err)
	}
	if a.PeerCount() != 1 {
		t.Fatalf("PeerCount = %d, want 1", a.PeerCount())
	}
}
