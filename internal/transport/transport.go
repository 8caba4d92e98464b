// Package transport is the validator node's peer-to-peer layer: a libp2p
// host running GossipSub over one topic, with mDNS local discovery and seed
// dialing, directly adapted from the teacher's core/network.go Node. Wire
// frames (internal/wire's header + body) ride as opaque pubsub payloads;
// Run parses each inbound frame's header and hands it to the dispatcher,
// and Broadcast lets the dispatcher push frames back out (§B: "github.com/
// libp2p/go-libp2p + go-libp2p-pubsub | internal/transport | gossip
// transport for tick votes/data/transactions").
//
// The teacher's NAT port-mapping (core/nat.go, UPnP/NAT-PMP) is not carried
// over: the host listens on cfg.ListenAddr and dials seeds and mDNS peers,
// but never asks a NAT gateway for a port mapping, so a node behind NAT is
// reachable only through its own outbound connections. See DESIGN.md for
// the full justification.
package transport

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	"github.com/sirupsen/logrus"

	"validator-node/internal/dispatcher"
	"validator-node/internal/wire"
)

// Config mirrors the teacher's network Config, generalised with the single
// gossip topic name the validator's frames ride on.
type Config struct {
	ListenAddr     string
	BootstrapPeers []string
	DiscoveryTag   string
	GossipTopic    string
}

// PeerInfo is a minimally-tracked connected peer, the validator's analogue
// of the teacher's Peer struct (no Conn/Latency fields: libp2p's host
// already owns the connection).
type PeerInfo struct {
	ID   peer.ID
	Addr string
}

// Node is the validator's libp2p host plus one GossipSub topic.
type Node struct {
	host   host.Host
	pubsub *pubsub.PubSub
	topic  *pubsub.Topic
	sub    *pubsub.Subscription

	peerMu sync.RWMutex
	peers  map[peer.ID]*PeerInfo

	ctx    context.Context
	cancel context.CancelFunc
	cfg    Config
	log    *logrus.Logger
}

// New builds and bootstraps a Node: libp2p host, GossipSub, the node's one
// gossip topic joined and subscribed, seed peers dialed, and mDNS discovery
// started.
func New(cfg Config, log *logrus.Logger) (*Node, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())

	h, err := libp2p.New(libp2p.ListenAddrStrings(cfg.ListenAddr))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("transport: create host: %w", err)
	}

	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		h.Close()
		cancel()
		return nil, fmt.Errorf("transport: create gossipsub: %w", err)
	}

	n := &Node{
		host:   h,
		pubsub: ps,
		peers:  make(map[peer.ID]*PeerInfo),
		ctx:    ctx,
		cancel: cancel,
		cfg:    cfg,
		log:    log,
	}

	topic, err := ps.Join(cfg.GossipTopic)
	if err != nil {
		n.Close()
		return nil, fmt.Errorf("transport: join topic %s: %w", cfg.GossipTopic, err)
	}
	n.topic = topic

	sub, err := topic.Subscribe()
	if err != nil {
		n.Close()
		return nil, fmt.Errorf("transport: subscribe topic %s: %w", cfg.GossipTopic, err)
	}
	n.sub = sub

	if err := n.DialSeed(cfg.BootstrapPeers); err != nil {
		log.WithError(err).Warn("transport: seed dial warning")
	}

	mdns.NewMdnsService(h, cfg.DiscoveryTag, n)

	return n, nil
}

var _ mdns.Notifee = (*Node)(nil)

// HandlePeerFound implements mdns.Notifee: connect to a peer discovered on
// the local network, ignoring ourselves and peers already known.
func (n *Node) HandlePeerFound(info peer.AddrInfo) {
	if info.ID == n.host.ID() {
		return
	}
	n.peerMu.RLock()
	_, known := n.peers[info.ID]
	n.peerMu.RUnlock()
	if known {
		return
	}
	if err := n.host.Connect(n.ctx, info); err != nil {
		n.log.WithError(err).WithField("peer", info.ID.String()).Warn("transport: mDNS connect failed")
		return
	}
	n.peerMu.Lock()
	n.peers[info.ID] = &PeerInfo{ID: info.ID, Addr: info.String()}
	n.peerMu.Unlock()
	n.log.WithField("peer", info.ID.String()).Info("transport: connected via mDNS")
}

// DialSeed connects to each bootstrap peer address (multiaddr + /p2p/<id>).
func (n *Node) DialSeed(seeds []string) error {
	var errs []string
	for _, addr := range seeds {
		pi, err := peer.AddrInfoFromString(addr)
		if err != nil {
			errs = append(errs, fmt.Sprintf("invalid addr %s: %v", addr, err))
			continue
		}
		if err := n.host.Connect(n.ctx, *pi); err != nil {
			errs = append(errs, fmt.Sprintf("connect %s: %v", addr, err))
			continue
		}
		n.peerMu.Lock()
		n.peers[pi.ID] = &PeerInfo{ID: pi.ID, Addr: addr}
		n.peerMu.Unlock()
		n.log.WithField("addr", addr).Info("transport: dialed seed")
	}
	if len(errs) > 0 {
		return fmt.Errorf("transport: dial errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Peers returns a snapshot of currently tracked peers.
func (n *Node) Peers() []*PeerInfo {
	n.peerMu.RLock()
	defer n.peerMu.RUnlock()
	out := make([]*PeerInfo, 0, len(n.peers))
	for _, p := range n.peers {
		out = append(out, p)
	}
	return out
}

// PeerCount reports how many peers are tracked, for internal/metrics and
// internal/opstatus.
func (n *Node) PeerCount() int {
	n.peerMu.RLock()
	defer n.peerMu.RUnlock()
	return len(n.peers)
}

// Broadcast publishes one wire frame (header + body) to the gossip topic.
// It satisfies dispatcher.Broadcaster: the dispatcher calls it for every
// inbound message it decides to re-broadcast (§4.H).
func (n *Node) Broadcast(typ byte, body []byte) error {
	frame := make([]byte, wire.HeaderSize+len(body))
	wire.PutHeader(frame, wire.Header{
		Size:   uint32(len(frame)),
		Type:   typ,
		Dejavu: 0,
	})
	copy(frame[wire.HeaderSize:], body)
	if err := n.topic.Publish(n.ctx, frame); err != nil {
		return fmt.Errorf("transport: publish: %w", err)
	}
	return nil
}

// Run drains the subscription, parsing each message's wire header and
// submitting it to d, until ctx is cancelled. dejavu is synthesised from a
// monotonically increasing counter so dispatcher.process's
// IsSelfOriginated/rebroadcast check only ever suppresses genuinely
// self-authored frames (Dejavu: 0 in Broadcast above).
func (n *Node) Run(ctx context.Context, d *dispatcher.Dispatcher) error {
	var dejavu uint32
	for {
		msg, err := n.sub.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			n.log.WithError(err).Warn("transport: subscription read failed")
			continue
		}
		if msg.ReceivedFrom == n.host.ID() {
			continue
		}
		hdr, err := wire.ParseHeader(msg.Data)
		if err != nil {
			n.log.WithError(err).Warn("transport: dropping malformed frame")
			continue
		}
		dejavu++
		req := dispatcher.Request{
			Type:   hdr.Type,
			Dejavu: dejavu,
			Body:   msg.Data[wire.HeaderSize:],
		}
		if err := d.Submit(req); err != nil {
			n.log.WithError(err).WithField("type", hdr.Type).Warn("transport: dispatcher queue full, dropping frame")
		}
	}
}

// PumpResponses publishes every response the dispatcher produces back onto
// the gossip topic until ctx is cancelled or the channel closes. Point-to-
// point request/response is out of scope (§Non-goals); every response rides
// the same broadcast topic the teacher's Node uses for everything.
func (n *Node) PumpResponses(ctx context.Context, d *dispatcher.Dispatcher) {
	for {
		select {
		case resp, ok := <-d.Responses():
			if !ok {
				return
			}
			if err := n.Broadcast(resp.Type, resp.Body); err != nil {
				n.log.WithError(err).WithField("type", resp.Type).Warn("transport: failed to publish response")
			}
		case <-ctx.Done():
			return
		}
	}
}

// Close tears down the subscription, topic and host.
func (n *Node) Close() error {
	n.cancel()
	if n.sub != nil {
		n.sub.Cancel()
	}
	if n.topic != nil {
		_ = n.topic.Close()
	}
	return n.host.Close()
}
