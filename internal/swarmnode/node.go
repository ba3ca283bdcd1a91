// Package swarmnode wires identity, handshake, pricing, accounting,
// settlement, topology, peer manager, hive, and the event loop together
// over a libp2p host (spec §6 component-level APIs). It is the adapted
// descendant of the teacher's core/network.go NewNode/HandlePeerFound/
// DialSeed pattern: the same host+pubsub+mdns bootstrap sequence, but
// driving the peer-lifecycle engine instead of a generic gossip node.
package swarmnode

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	"github.com/multiformats/go-multiaddr"
	"github.com/sirupsen/logrus"

	"swarmnode/internal/accounting"
	"swarmnode/internal/eventloop"
	"swarmnode/internal/handshake"
	"swarmnode/internal/hive"
	"swarmnode/internal/identity"
	"swarmnode/internal/peermanager"
	"swarmnode/internal/peerstore"
	"swarmnode/internal/pingpong"
	"swarmnode/internal/pricing"
	"swarmnode/internal/pushsync"
	"swarmnode/internal/retrieval"
	"swarmnode/internal/settlement"
	"swarmnode/internal/topology"
	"swarmnode/internal/wire"
)

// Protocol IDs (spec §6 "Wire protocols" table).
const (
	ProtocolHandshake    = protocol.ID("/swarm/handshake/14.0.0/handshake")
	ProtocolHive         = protocol.ID("/swarm/hive/1.1.0/peers")
	ProtocolPingpong     = protocol.ID("/swarm/pingpong/1.0.0/pingpong")
	ProtocolRetrieval    = protocol.ID("/swarm/retrieval/1.4.0/retrieval")
	ProtocolPushsync     = protocol.ID("/swarm/pushsync/1.3.1/pushsync")
	ProtocolPricing      = protocol.ID("/swarm/pricing/1.0.0/pricing")
	ProtocolPseudosettle = protocol.ID("/swarm/pseudosettle/1.0.0/pseudosettle")
	ProtocolSwap         = protocol.ID("/swarm/swap/1.0.0/swap")
)

// Config configures a Node (spec §6, §2 data flow).
type Config struct {
	ListenAddr       string
	BootstrapPeers   []string
	DiscoveryTag     string
	NetworkID        uint64
	Identity         *identity.Identity
	Welcome          string
	BasePriceAU      int64
	MaxPO            int
	SaturationTarget int

	AccountingConfig accounting.Config
	PeerManagerConfig peermanager.Config

	ChunkStore retrieval.ChunkStore
	ChunkSink  pushsync.ChunkSink
}

// Node is a running peer-lifecycle engine bound to a libp2p host.
type Node struct {
	host   hostIface
	ctx    context.Context
	cancel context.CancelFunc

	identity *identity.Identity
	networkID uint64
	welcome   string

	topology   *topology.Table
	peers      *peermanager.Manager
	accounting *accounting.Accounting
	pricer     *pricing.Pricer
	peerstore  *peerstore.Memory
	hive       *hive.Hive
	loop       *eventloop.Loop

	retrievalServer *retrieval.Server
	retrievalClient *retrieval.Client
	pushStorer      *pushsync.Storer
	pushPusher      *pushsync.Pusher

	mu             sync.RWMutex
	listenAddrs    [][]byte
	observedByPeer map[identity.OverlayAddress][]byte
	previousPayout map[identity.OverlayAddress]*uint256.Int

	announceTopic *pubsub.Topic
}

// hostIface is the subset of libp2p's host.Host that Node depends on,
// narrowed so node.go's wiring logic is unit-testable without a real
// libp2p host.
type hostIface interface {
	ID() peer.ID
	Addrs() []multiaddr.Multiaddr
	Connect(ctx context.Context, pi peer.AddrInfo) error
	NewStream(ctx context.Context, p peer.ID, pids ...protocol.ID) (network.Stream, error)
	SetStreamHandler(pid protocol.ID, handler network.StreamHandler)
	Close() error
}

// NewNode creates and bootstraps a swarm peer-lifecycle node (adapted from
// core/network.go's NewNode): a libp2p host, mDNS discovery registered as
// a notifee, bootstrap dialing, and every peer-lifecycle component wired
// to the host's stream handlers.
func NewNode(cfg Config) (*Node, error) {
	ctx, cancel := context.WithCancel(context.Background())

	h, err := libp2p.New(libp2p.ListenAddrStrings(cfg.ListenAddr))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("swarmnode: create host: %w", err)
	}

	n, err := newNodeWithHost(ctx, cancel, h, cfg)
	if err != nil {
		h.Close()
		cancel()
		return nil, err
	}

	mdns.NewMdnsService(h, cfg.DiscoveryTag, n)

	if ps, err := pubsub.NewGossipSub(ctx, h); err != nil {
		logrus.Warnf("swarmnode: pubsub unavailable, WAN announce disabled: %v", err)
	} else if err := n.startAnnounce(ctx, ps, cfg.DiscoveryTag); err != nil {
		logrus.Warnf("swarmnode: announce topic: %v", err)
	}

	if err := n.dialSeeds(cfg.BootstrapPeers); err != nil {
		logrus.Warnf("swarmnode: bootstrap dial warning: %v", err)
	}

	go n.loop.Run(ctx)
	return n, nil
}

// newNodeWithHost does the component wiring against any hostIface,
// letting tests substitute a fake host instead of a real libp2p stack.
func newNodeWithHost(ctx context.Context, cancel context.CancelFunc, h hostIface, cfg Config) (*Node, error) {
	if cfg.MaxPO == 0 {
		cfg.MaxPO = identity.MaxPO
	}
	if cfg.SaturationTarget == 0 {
		cfg.SaturationTarget = topology.DefaultSaturationTarget
	}

	self := cfg.Identity.Overlay()
	n := &Node{
		host:           h,
		ctx:            ctx,
		cancel:         cancel,
		identity:       cfg.Identity,
		networkID:      cfg.NetworkID,
		welcome:        cfg.Welcome,
		topology:       topology.New(self, cfg.MaxPO, cfg.SaturationTarget),
		pricer:         pricing.New(cfg.BasePriceAU, cfg.MaxPO),
		peerstore:      peerstore.NewMemory(),
		listenAddrs:    multiaddrsToBytes(h.Addrs()),
		observedByPeer: make(map[identity.OverlayAddress][]byte),
		previousPayout: make(map[identity.OverlayAddress]*uint256.Int),
	}

	// Accounting is constructed after n so its Transmit hook can close over
	// n.transmitSettlement, the only point where the transport-agnostic
	// accounting package reaches out onto the wire (spec §4.6).
	acctCfg := cfg.AccountingConfig
	acctCfg.Transmit = n.transmitSettlement
	n.accounting = accounting.New(acctCfg)

	pmCfg := cfg.PeerManagerConfig
	pmCfg.OnReady = n.onPeerReady
	pmCfg.OnDisconnected = n.onPeerDisconnected
	n.peers = peermanager.New(pmCfg)

	n.hive = hive.New(cfg.NetworkID, n.peerstore, n.topology, n.peers)
	n.loop = eventloop.New(n.dispatch, 256)

	n.retrievalServer = retrieval.NewServer(self, cfg.ChunkStore, n.pricer)
	n.retrievalClient = retrieval.NewClient(self)
	if cfg.ChunkSink != nil {
		n.pushStorer = pushsync.NewStorer(self, cfg.ChunkSink, n.pricer, cfg.Identity.Sign)
	}
	n.pushPusher = pushsync.NewPusher(self)

	h.SetStreamHandler(ProtocolHandshake, n.handleInboundHandshake)
	h.SetStreamHandler(ProtocolHive, n.handleInboundHive)
	h.SetStreamHandler(ProtocolPingpong, n.handleInboundPingpong)
	h.SetStreamHandler(ProtocolRetrieval, n.handleInboundRetrieval)
	h.SetStreamHandler(ProtocolPushsync, n.handleInboundPushsync)
	h.SetStreamHandler(ProtocolPricing, n.handleInboundPricing)
	h.SetStreamHandler(ProtocolPseudosettle, n.handleInboundPseudosettle)
	h.SetStreamHandler(ProtocolSwap, n.handleInboundSwap)

	return n, nil
}

// dispatch is the eventloop.Handler every submitted event reaches (spec
// §4.10); it only logs, since every actual side effect (topology update,
// accounting mutation, score adjustment) already happened synchronously in
// the stream handler that produced the event — dispatch exists as the
// single observation point the spec requires, not as where work runs.
func (n *Node) dispatch(_ context.Context, ev eventloop.Event) {
	logrus.Debugf("swarmnode: event cid=%s peer=%s kind=%s name=%s", ev.CorrelationID, ev.Peer, ev.Kind, ev.Name)
}

// Ensure Node implements mdns.Notifee.
var _ mdns.Notifee = (*Node)(nil)

// HandlePeerFound implements mdns.Notifee (adapted from network.go): dial
// a newly discovered peer and run the handshake over the resulting stream.
func (n *Node) HandlePeerFound(info peer.AddrInfo) {
	if info.ID == n.host.ID() {
		return
	}
	n.loop.Spawn(n.ctx, func(ctx context.Context) {
		if err := n.connectAndHandshake(ctx, info); err != nil {
			logrus.Warnf("swarmnode: mdns peer %s: %v", info.ID, err)
		}
	})
}

// announceMessage is the payload gossiped on the discovery-tag's
// "-announce" pubsub topic: a WAN-reachable supplement to mDNS, which
// only finds peers on the same local network (spec §4.1 "peers
// discovered by any transport enter the same admission pipeline").
type announceMessage struct {
	PeerID string   `json:"peer_id"`
	Addrs  []string `json:"addrs"`
}

// startAnnounce joins the announce topic, publishes this node's own
// reachability once, and spawns a reader that attempts a handshake
// against every peer it hears announced (adapted from the teacher's
// core/network.go pubsub join/publish/subscribe pattern in
// core/network.go, generalized from arbitrary gossip topics to a single
// fixed peer-discovery topic).
func (n *Node) startAnnounce(ctx context.Context, ps *pubsub.PubSub, tag string) error {
	topic, err := ps.Join(tag + "-announce")
	if err != nil {
		return fmt.Errorf("join announce topic: %w", err)
	}
	n.announceTopic = topic

	sub, err := topic.Subscribe()
	if err != nil {
		return fmt.Errorf("subscribe announce topic: %w", err)
	}
	go n.readAnnouncements(ctx, sub)

	msg := announceMessage{PeerID: n.host.ID().String()}
	for _, raw := range n.listenAddrsSnapshot() {
		ma, err := multiaddr.NewMultiaddrBytes(raw)
		if err != nil {
			continue
		}
		msg.Addrs = append(msg.Addrs, ma.String())
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal announce message: %w", err)
	}
	return topic.Publish(ctx, data)
}

// readAnnouncements drains the announce subscription until ctx is
// cancelled, spawning a handshake attempt for every peer it hears that
// isn't already known.
func (n *Node) readAnnouncements(ctx context.Context, sub *pubsub.Subscription) {
	for {
		m, err := sub.Next(ctx)
		if err != nil {
			return
		}
		if m.ReceivedFrom == n.host.ID() {
			continue
		}
		var msg announceMessage
		if err := json.Unmarshal(m.Data, &msg); err != nil {
			continue
		}
		pid, err := peer.Decode(msg.PeerID)
		if err != nil {
			continue
		}
		addrs := make([]multiaddr.Multiaddr, 0, len(msg.Addrs))
		for _, s := range msg.Addrs {
			if ma, err := multiaddr.NewMultiaddr(s); err == nil {
				addrs = append(addrs, ma)
			}
		}
		pi := peer.AddrInfo{ID: pid, Addrs: addrs}
		n.loop.Spawn(ctx, func(taskCtx context.Context) {
			if err := n.connectAndHandshake(taskCtx, pi); err != nil {
				logrus.Debugf("swarmnode: announce connect %s: %v", pid, err)
			}
		})
	}
}

// dialSeeds connects to every configured bootstrap address and runs the
// handshake against it (adapted from core/network.go's DialSeed).
func (n *Node) dialSeeds(seeds []string) error {
	var errs []string
	for _, addr := range seeds {
		pi, err := peer.AddrInfoFromString(addr)
		if err != nil {
			errs = append(errs, fmt.Sprintf("invalid addr %s: %v", addr, err))
			continue
		}
		if err := n.connectAndHandshake(n.ctx, *pi); err != nil {
			errs = append(errs, fmt.Sprintf("connect %s: %v", addr, err))
			continue
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("swarmnode: dial errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// connectAndHandshake dials a peer, opens the handshake stream, and on
// success admits the peer into every component (spec §2 data flow:
// "inbound connection -> handshake -> peer record -> peer manager
// activation -> topology admission").
func (n *Node) connectAndHandshake(ctx context.Context, pi peer.AddrInfo) error {
	if err := n.host.Connect(ctx, pi); err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	ip := ""
	if len(pi.Addrs) > 0 {
		ip = pi.Addrs[0].String()
	}
	placeholderOverlay := identity.OverlayAddress{}
	if err := n.peers.BindTransport(placeholderOverlay, pi.ID, ip); err != nil {
		return fmt.Errorf("bind transport: %w", err)
	}

	stream, err := n.host.NewStream(ctx, pi.ID, ProtocolHandshake)
	if err != nil {
		return fmt.Errorf("open handshake stream: %w", err)
	}
	defer stream.Close()

	result, err := handshake.Run(ctx, stream, handshake.Dialer, handshake.Config{
		Identity:    n.identity,
		ListenAddrs: n.listenAddrsSnapshot(),
		Welcome:     n.welcome,
		NetworkID:   n.networkID,
	})
	if err != nil {
		n.peers.Ban(placeholderOverlay, false)
		return fmt.Errorf("handshake: %w", err)
	}
	return n.admitAuthenticatedPeer(ctx, result, pi.ID, ip)
}

// admitAuthenticatedPeer completes the rest of the data-flow pipeline once a
// handshake has produced an authenticated PeerRecord (spec §2): topology
// admission, peer-record persistence, the pricing exchange, and accounting
// registration with the peer's real negotiated threshold and full-node flag.
func (n *Node) admitAuthenticatedPeer(ctx context.Context, result handshake.Result, transportID peer.ID, ip string) error {
	overlay := result.Record.Overlay

	if err := n.peers.BindTransport(overlay, transportID, ip); err != nil {
		return fmt.Errorf("rebind transport to overlay: %w", err)
	}
	if err := n.peers.OnHandshaking(overlay); err != nil {
		return fmt.Errorf("mark handshaking: %w", err)
	}
	if err := n.peers.OnAuthenticated(overlay); err != nil {
		return fmt.Errorf("mark authenticated: %w", err)
	}

	// Topology admission gate (spec §4.7 "pick"): a bin-saturated peer is
	// dropped back to Known rather than connected, to be retried once a bin
	// slot opens (spec §7 BinSaturated).
	if _, err := n.topology.Pick(overlay, result.IsFullNode); err != nil {
		n.topology.AddPeers(overlay)
		n.peers.OnDisconnected(overlay)
		return fmt.Errorf("swarmnode: topology refused overlay %s: %w", overlay, err)
	}
	n.topology.AddPeers(overlay)
	n.topology.MarkConnected(overlay)

	rec := wire.PeerRecord{
		Multiaddrs: result.Record.ListenAddrs,
		Signature:  result.Record.Signature,
		Overlay:    overlay.Bytes(),
		Nonce:      result.Record.Nonce,
		EthAddr:    result.Record.EthAddress.Bytes(),
	}
	_ = n.peerstore.Put(overlay, rec)

	if result.ObservedUnderlay != nil {
		n.mu.Lock()
		n.observedByPeer[overlay] = result.ObservedUnderlay
		n.mu.Unlock()
	}

	theirThresholdAU, err := n.runPricingExchange(ctx, transportID)
	if err != nil {
		theirThresholdAU = n.accounting.OurPaymentThresholdAU()
		logrus.Warnf("swarmnode: pricing exchange with %s failed, falling back to our own announced threshold: %v", overlay, err)
	}
	n.accounting.Register(overlay, theirThresholdAU, result.IsFullNode)

	return n.loop.SubmitTransport(eventloop.Event{Peer: overlay, Name: "peer_authenticated"})
}

// runPricingExchange opens an outbound pricing stream to a newly
// authenticated peer and runs the dialer side of the pricing protocol
// (spec §4.5 "Pricing protocol", §6 "/swarm/pricing/1.0.0/pricing"). Both
// sides of a connection call this independently and symmetrically — neither
// waits for the other to dial back, since the peer's own inbound pricing
// handler serves the stream this opens.
func (n *Node) runPricingExchange(ctx context.Context, transportID peer.ID) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, pricing.AnnounceTimeout)
	defer cancel()
	stream, err := n.host.NewStream(ctx, transportID, ProtocolPricing)
	if err != nil {
		return 0, fmt.Errorf("swarmnode: open pricing stream: %w", err)
	}
	defer stream.Close()
	f := wire.NewFramer(stream)
	defer f.Close()
	return pricing.AnnounceThreshold(f, n.accounting.OurPaymentThresholdAU())
}

// onPeerReady is PeerManager::on_peer_ready (spec §6). Accounting
// registration happens in admitAuthenticatedPeer instead of here: it needs
// the peer's real negotiated threshold from the pricing exchange and its
// full-node flag from the handshake result, neither of which the OnReady
// callback carries.
func (n *Node) onPeerReady(overlay identity.OverlayAddress) {
	logrus.Debugf("swarmnode: peer %s authenticated", overlay)
}

// transmitSettlement is accounting.TransmitFunc: it carries a computed
// settlement across the wire and blocks for the peer's acknowledgement
// before accounting applies it to the balance (spec §4.6 "on peer
// acknowledgement reduces our debt"). Which protocol it speaks depends on
// the concrete provider accounting resolved for this peer.
func (n *Node) transmitSettlement(ctx context.Context, overlay identity.OverlayAddress, provider settlement.Provider, settledAU int64) error {
	if settledAU <= 0 {
		return nil
	}
	transportID, ok := n.peers.TransportOf(overlay)
	if !ok {
		return fmt.Errorf("swarmnode: no transport id for overlay %s", overlay)
	}

	switch p := provider.(type) {
	case *settlement.Swap:
		return n.transmitSwapCheque(ctx, transportID, p)
	case *settlement.Pseudosettle:
		return n.transmitPseudosettlePayment(ctx, transportID, settledAU)
	case *settlement.Composite:
		// Cheques carry the absolute cumulative payout rather than a delta,
		// so resending the latest one is self-consistent even when this
		// settlement round only moved value through pseudosettle; likewise
		// a pseudosettle notification for the full settledAU is safe to send
		// even when part of it came from swap, since ConfirmPayment clamps
		// to the actual owed balance and can never overdraw it.
		if err := n.transmitPseudosettlePayment(ctx, transportID, settledAU); err != nil {
			return err
		}
		if swap, ok := p.Swap.(*settlement.Swap); ok {
			return n.transmitSwapCheque(ctx, transportID, swap)
		}
		return nil
	default:
		return nil
	}
}

func (n *Node) transmitPseudosettlePayment(ctx context.Context, transportID peer.ID, amountAU int64) error {
	stream, err := n.host.NewStream(ctx, transportID, ProtocolPseudosettle)
	if err != nil {
		return fmt.Errorf("swarmnode: open pseudosettle stream: %w", err)
	}
	defer stream.Close()
	f := wire.NewFramer(stream)
	defer f.Close()
	return settlement.SendPayment(f, amountAU)
}

func (n *Node) transmitSwapCheque(ctx context.Context, transportID peer.ID, s *settlement.Swap) error {
	stream, err := n.host.NewStream(ctx, transportID, ProtocolSwap)
	if err != nil {
		return fmt.Errorf("swarmnode: open swap stream: %w", err)
	}
	defer stream.Close()
	f := wire.NewFramer(stream)
	defer f.Close()
	return s.SendCheque(f)
}

// onPeerDisconnected is PeerManager::on_peer_disconnected (spec §6): drop
// topology and accounting state for a peer that dropped back to Known.
func (n *Node) onPeerDisconnected(overlay identity.OverlayAddress) {
	n.topology.MarkDisconnected(overlay)
	n.accounting.Deregister(overlay)
	_ = n.loop.SubmitTransport(eventloop.Event{Peer: overlay, Name: "peer_disconnected"})
}

func (n *Node) listenAddrsSnapshot() [][]byte {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([][]byte, len(n.listenAddrs))
	copy(out, n.listenAddrs)
	return out
}

// multiaddrsToBytes encodes a host's listen multiaddrs into the wire
// representation the handshake PeerRecord carries (spec §4.2, §6 wire
// format "ListenAddrs: repeated bytes").
func multiaddrsToBytes(addrs []multiaddr.Multiaddr) [][]byte {
	out := make([][]byte, len(addrs))
	for i, a := range addrs {
		out[i] = a.Bytes()
	}
	return out
}

// Close tears down the node (adapted from core/network.go's Close).
func (n *Node) Close() error {
	n.cancel()
	return n.host.Close()
}

// Topology, PeerManager, Accounting expose the underlying components for
// embedders and the CLI (spec §6 component-level APIs are satisfied by
// these fields' own methods directly).
func (n *Node) Topology() *topology.Table         { return n.topology }
func (n *Node) PeerManager() *peermanager.Manager { return n.peers }
func (n *Node) Accounting() *accounting.Accounting { return n.accounting }
func (n *Node) Overlay() identity.OverlayAddress   { return n.identity.Overlay() }

func (n *Node) handleInboundHandshake(s network.Stream) {
	defer s.Close()
	result, err := handshake.Run(n.ctx, s, handshake.Listener, handshake.Config{
		Identity:    n.identity,
		ListenAddrs: n.listenAddrsSnapshot(),
		Welcome:     n.welcome,
		NetworkID:   n.networkID,
	})
	if err != nil {
		logrus.Warnf("swarmnode: inbound handshake failed: %v", err)
		return
	}
	remote := s.Conn().RemotePeer()
	ip := s.Conn().RemoteMultiaddr().String()
	if err := n.admitAuthenticatedPeer(n.ctx, result, remote, ip); err != nil {
		logrus.Warnf("swarmnode: admit inbound peer: %v", err)
	}
}

func (n *Node) handleInboundHive(s network.Stream) {
	defer s.Close()
	overlay, ok := n.peers.Resolve(s.Conn().RemotePeer())
	if !ok {
		return
	}
	f := wire.NewFramer(s)
	defer f.Close()
	raw, err := f.ReadMsg()
	if err != nil {
		return
	}
	msg, err := wire.DecodePeers(raw)
	if err != nil {
		n.peers.RecordProtocolViolation(overlay)
		return
	}
	if err := n.hive.HandleGossip(overlay, msg); err != nil {
		logrus.Debugf("swarmnode: hive gossip from %s rejected: %v", overlay, err)
	}
}

func (n *Node) handleInboundPingpong(s network.Stream) {
	defer s.Close()
	if err := pingpong.Serve(s); err != nil {
		logrus.Debugf("swarmnode: pingpong serve: %v", err)
	}
}

func (n *Node) handleInboundRetrieval(s network.Stream) {
	defer s.Close()
	overlay, ok := n.peers.Resolve(s.Conn().RemotePeer())
	if !ok {
		return
	}
	acct, err := n.accounting.Handle(overlay)
	if err != nil {
		return
	}
	f := wire.NewFramer(s)
	defer f.Close()
	if err := n.retrievalServer.Serve(f, overlay, acct); err != nil {
		logrus.Debugf("swarmnode: retrieval serve: %v", err)
		n.peers.RecordFailure(overlay)
		return
	}
	n.peers.RecordSuccess(overlay)
}

func (n *Node) handleInboundPushsync(s network.Stream) {
	defer s.Close()
	if n.pushStorer == nil {
		return
	}
	overlay, ok := n.peers.Resolve(s.Conn().RemotePeer())
	if !ok {
		return
	}
	acct, err := n.accounting.Handle(overlay)
	if err != nil {
		return
	}
	f := wire.NewFramer(s)
	defer f.Close()
	if err := n.pushStorer.Handle(f, overlay, acct); err != nil {
		logrus.Debugf("swarmnode: pushsync handle: %v", err)
		n.peers.RecordFailure(overlay)
		return
	}
	n.peers.RecordSuccess(overlay)
}

func (n *Node) handleInboundPricing(s network.Stream) {
	defer s.Close()
	f := wire.NewFramer(s)
	defer f.Close()
	if _, err := pricing.Serve(f, n.accounting.OurPaymentThresholdAU()); err != nil {
		logrus.Debugf("swarmnode: pricing serve: %v", err)
	}
}

func (n *Node) handleInboundPseudosettle(s network.Stream) {
	defer s.Close()
	overlay, ok := n.peers.Resolve(s.Conn().RemotePeer())
	if !ok {
		return
	}
	acct, err := n.accounting.Handle(overlay)
	if err != nil {
		return
	}
	f := wire.NewFramer(s)
	defer f.Close()
	if err := settlement.ServePayment(f, acct.ConfirmPayment); err != nil {
		logrus.Debugf("swarmnode: pseudosettle serve: %v", err)
	}
}

// handleInboundSwap serves an incoming cheque, verifying it against the
// peer's recorded Ethereum address and the last cumulative payout we saw
// from them (spec §4.6 "swap", §8 invariant 4), then confirms only the
// delta against accounting.
func (n *Node) handleInboundSwap(s network.Stream) {
	defer s.Close()
	overlay, ok := n.peers.Resolve(s.Conn().RemotePeer())
	if !ok {
		return
	}
	acct, err := n.accounting.Handle(overlay)
	if err != nil {
		return
	}
	rec, found, err := n.peerstore.Get(overlay)
	if err != nil || !found {
		return
	}
	expectedSigner := common.BytesToAddress(rec.EthAddr)

	n.mu.Lock()
	previous := n.previousPayout[overlay]
	n.mu.Unlock()

	f := wire.NewFramer(s)
	defer f.Close()
	c, err := settlement.ServeCheque(f, previous, expectedSigner)
	if err != nil {
		logrus.Debugf("swarmnode: swap serve: %v", err)
		n.peers.RecordProtocolViolation(overlay)
		return
	}

	n.mu.Lock()
	n.previousPayout[overlay] = c.CumulativePayout
	n.mu.Unlock()

	prevForDelta := previous
	if prevForDelta == nil {
		prevForDelta = uint256.NewInt(0)
	}
	delta := new(uint256.Int).Sub(c.CumulativePayout, prevForDelta)
	acct.ConfirmPayment(int64(delta.Uint64()))
}

// Fetch retrieves a chunk from a connected peer responsible for it,
// opening a retrieval stream and accounting for the transfer.
func (n *Node) Fetch(ctx context.Context, chunkAddr identity.OverlayAddress) ([]byte, error) {
	peerOverlay, ok := n.topology.ClosestConnected(chunkAddr)
	if !ok {
		return nil, fmt.Errorf("swarmnode: no connected peer to fetch %s from", chunkAddr)
	}
	transportID, ok := n.peers.TransportOf(peerOverlay)
	if !ok {
		return nil, fmt.Errorf("swarmnode: no transport id for overlay %s", peerOverlay)
	}
	acct, err := n.accounting.Handle(peerOverlay)
	if err != nil {
		return nil, err
	}

	stream, err := n.host.NewStream(ctx, transportID, ProtocolRetrieval)
	if err != nil {
		return nil, fmt.Errorf("open retrieval stream: %w", err)
	}
	defer stream.Close()

	f := wire.NewFramer(stream)
	defer f.Close()
	data, err := n.retrievalClient.Fetch(f, chunkAddr, acct)
	if err != nil {
		n.peers.RecordFailure(peerOverlay)
		return nil, err
	}
	n.peers.RecordSuccess(peerOverlay)
	return data, nil
}

// Push forwards a locally originated chunk to the peer closest to its
// address (spec §4.10 data flow "handlers enabled for pricing/retrieval/
// push"), pricing it the same way the storing peer will and paying for
// the receipt via accounting.
func (n *Node) Push(ctx context.Context, chunkAddr identity.OverlayAddress, data []byte) (pushsync.Receipt, error) {
	peerOverlay, ok := n.topology.ClosestConnected(chunkAddr)
	if !ok {
		return pushsync.Receipt{}, fmt.Errorf("swarmnode: no connected peer to push %s to", chunkAddr)
	}
	transportID, ok := n.peers.TransportOf(peerOverlay)
	if !ok {
		return pushsync.Receipt{}, fmt.Errorf("swarmnode: no transport id for overlay %s", peerOverlay)
	}
	acct, err := n.accounting.Handle(peerOverlay)
	if err != nil {
		return pushsync.Receipt{}, err
	}

	stream, err := n.host.NewStream(ctx, transportID, ProtocolPushsync)
	if err != nil {
		return pushsync.Receipt{}, fmt.Errorf("open pushsync stream: %w", err)
	}
	defer stream.Close()

	f := wire.NewFramer(stream)
	defer f.Close()
	price := n.pricer.PeerPrice(peerOverlay, chunkAddr)
	receipt, err := n.pushPusher.Push(f, chunkAddr, data, price, acct)
	if err != nil {
		n.peers.RecordFailure(peerOverlay)
		return pushsync.Receipt{}, err
	}
	n.peers.RecordSuccess(peerOverlay)
	return receipt, nil
}

// ObservedUnderlay returns the multiaddr a peer reported observing us at
// during the handshake — in its Syn when it dialed us, in its SynAck when
// we dialed it (spec §4.2 NAT hinting, §9 "last observed wins") — if one
// has been recorded.
func (n *Node) ObservedUnderlay(overlay identity.OverlayAddress) ([]byte, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	addr, ok := n.observedByPeer[overlay]
	return addr, ok
}

// GossipTo sends this node's known peer records to a connected neighbor
// (spec §4.9 hive gossip, sender side).
func (n *Node) GossipTo(ctx context.Context, peerOverlay identity.OverlayAddress) error {
	transportID, ok := n.peers.TransportOf(peerOverlay)
	if !ok {
		return fmt.Errorf("swarmnode: no transport id for overlay %s", peerOverlay)
	}
	stream, err := n.host.NewStream(ctx, transportID, ProtocolHive)
	if err != nil {
		return fmt.Errorf("open hive stream: %w", err)
	}
	defer stream.Close()

	f := wire.NewFramer(stream)
	defer f.Close()
	msg := n.hive.BuildGossip()
	return f.WriteMsg(msg.Encode())
}
