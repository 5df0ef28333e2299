// Package engine wraps the libp2p stack behind a typed event stream. The
// engine is owned exclusively by one event loop goroutine: every exported
// method is called from that goroutine, and all network activity is
// reported back through Events. Internal goroutines only perform I/O on
// values they own and emit events.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/libp2p/go-libp2p"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/event"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/peerstore"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	"github.com/libp2p/go-libp2p/p2p/net/connmgr"
	routedhost "github.com/libp2p/go-libp2p/p2p/host/routed"
	"github.com/libp2p/go-libp2p/p2p/protocol/holepunch"
	noise "github.com/libp2p/go-libp2p/p2p/security/noise"
	"github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"

	ds "github.com/ipfs/go-datastore"
	dssync "github.com/ipfs/go-datastore/sync"

	"github.com/yexiyue/swarm-p2p/pkg/config"
	"github.com/yexiyue/swarm-p2p/pkg/logging"
)

const eventBufferSize = 256

// Engine owns the libp2p host, the DHT and the request-response protocol,
// and surfaces everything that happens as events on a single channel.
type Engine struct {
	host       host.Host
	dht        *dht.IpfsDHT
	mdns       mdns.Service
	recordStore ds.Batching

	cfg        config.Config
	protocolID protocol.ID
	log        *logging.ColoredLogger

	ctx    context.Context
	cancel context.CancelFunc
	events chan Event

	// Loop-goroutine state: id counters for queries and requests.
	nextQueryID   uint64
	nextRequestID uint64

	// Shared with libp2p callback goroutines.
	connState *connTracker
	providing *provideSet
}

// New builds the engine: host, DHT, request protocol, discovery. The engine
// does not produce events until Start is called.
func New(key crypto.PrivKey, cfg config.Config, log *logging.ColoredLogger) (*Engine, error) {
	if log == nil {
		log = logging.NewNopLogger()
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		cfg:        cfg,
		protocolID: protocol.ID(cfg.RequestProtocol),
		log:        log,
		ctx:        ctx,
		cancel:     cancel,
		events:     make(chan Event, eventBufferSize),
		providing:  newProvideSet(),
	}
	e.connState = newConnTracker(e)

	cm, err := connmgr.NewConnManager(32, 256, connmgr.WithGracePeriod(cfg.IdleConnectionTimeout))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("conn manager: %w", err)
	}

	opts := []libp2p.Option{
		libp2p.Identity(key),
		libp2p.ListenAddrStrings(cfg.ListenAddresses...),
		libp2p.Security(noise.ID, noise.New),
		libp2p.DefaultMuxers,
		libp2p.ProtocolVersion(cfg.ProtocolVersion),
		libp2p.UserAgent(cfg.AgentVersion),
		libp2p.ConnectionManager(cm),
	}
	if cfg.EnableRelayClient {
		opts = append(opts, libp2p.EnableRelay())
	} else {
		opts = append(opts, libp2p.DisableRelay())
	}
	if cfg.EnableDCUtR {
		opts = append(opts, libp2p.EnableHolePunching(holepunch.WithTracer(&holePunchTracer{e: e})))
	}
	if cfg.EnableAutoNAT {
		opts = append(opts, libp2p.EnableAutoNATv2(), libp2p.NATPortMap())
	}
	if cfg.EnableRelayService {
		opts = append(opts, libp2p.EnableRelayService())
	}

	h, err := libp2p.New(opts...)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("libp2p host: %w", err)
	}

	e.recordStore = dssync.MutexWrap(ds.NewMapDatastore())

	bootstrapInfos := cfg.BootstrapAddrInfos()
	dhtMode := dht.Mode(dht.ModeAuto)
	if cfg.KadServerMode {
		dhtMode = dht.Mode(dht.ModeServer)
	}
	kad, err := dht.New(ctx, h,
		dhtMode,
		// An own protocol prefix: the default /ipfs prefix only accepts the
		// IPFS namespaced validator, not permissiveValidator.
		dht.ProtocolPrefix("/swarm-p2p"),
		dht.Datastore(e.recordStore),
		dht.Validator(permissiveValidator{}),
		dht.BootstrapPeers(bootstrapInfos...),
		dht.RoutingTableFilter(e.routingTableFilter),
	)
	if err != nil {
		_ = h.Close()
		cancel()
		return nil, fmt.Errorf("kad dht: %w", err)
	}
	e.dht = kad

	// Wrap so dials by bare peer id fall back to a DHT lookup.
	e.host = routedhost.Wrap(h, kad)

	// Bootstrap addresses stay usable across restarts of the remote.
	for _, info := range bootstrapInfos {
		e.host.Peerstore().AddAddrs(info.ID, info.Addrs, peerstore.PermanentAddrTTL)
	}

	e.host.SetStreamHandler(e.protocolID, e.handleIncoming)

	if cfg.EnableMDNS {
		e.mdns = mdns.NewMdnsService(h, "", &mdnsNotifee{e: e})
	}

	return e, nil
}

// Start begins producing events: address updates, identify results,
// reachability changes, connection tracking and mDNS discovery.
func (e *Engine) Start() error {
	sub, err := e.host.EventBus().Subscribe([]interface{}{
		new(event.EvtLocalAddressesUpdated),
		new(event.EvtPeerIdentificationCompleted),
		new(event.EvtLocalReachabilityChanged),
	})
	if err != nil {
		return fmt.Errorf("event bus subscribe: %w", err)
	}
	go e.readBusEvents(sub)

	e.host.Network().Notify(e.connState.notifiee())

	if e.mdns != nil {
		if err := e.mdns.Start(); err != nil {
			return fmt.Errorf("mdns start: %w", err)
		}
	}

	go e.republishLoop()

	e.log.ComponentInfo(logging.ComponentEngine, "engine started",
		zap.String("peer_id", e.host.ID().String()))
	return nil
}

// Events is the engine's event stream, consumed solely by the event loop.
func (e *Engine) Events() <-chan Event {
	return e.events
}

// LocalID returns the local peer id.
func (e *Engine) LocalID() peer.ID {
	return e.host.ID()
}

// ListenAddrs returns the currently bound listen addresses.
func (e *Engine) ListenAddrs() []multiaddr.Multiaddr {
	return e.host.Addrs()
}

// IsConnected reports whether there is a live connection to the peer.
func (e *Engine) IsConnected(p peer.ID) bool {
	return e.host.Network().Connectedness(p) == network.Connected
}

// AddAddresses records addresses for a peer so later dials can use them.
func (e *Engine) AddAddresses(p peer.ID, addrs []multiaddr.Multiaddr) {
	e.host.Peerstore().AddAddrs(p, addrs, time.Hour)
}

// Dial starts connecting to the peer. Completion surfaces as a
// ConnectionEstablished or OutgoingConnectionError event.
func (e *Engine) Dial(p peer.ID, addrs []multiaddr.Multiaddr) {
	if len(addrs) > 0 {
		e.AddAddresses(p, addrs)
	}
	go func() {
		ctx, cancel := context.WithTimeout(e.ctx, e.cfg.KadQueryTimeout)
		defer cancel()
		if err := e.host.Connect(ctx, peer.AddrInfo{ID: p}); err != nil {
			e.emit(OutgoingConnectionError{Peer: p, Err: err})
		}
	}()
}

// ConnectBootstrapPeers dials all configured bootstrap peers.
func (e *Engine) ConnectBootstrapPeers() {
	for _, info := range e.cfg.BootstrapAddrInfos() {
		if info.ID == e.host.ID() {
			continue
		}
		e.Dial(info.ID, info.Addrs)
	}
}

// Close tears down discovery, the DHT and the host. The event channel is
// not closed; consumers stop via their own signal.
func (e *Engine) Close() error {
	e.cancel()
	if e.mdns != nil {
		_ = e.mdns.Close()
	}
	if err := e.dht.Close(); err != nil {
		return err
	}
	return e.host.Close()
}

func (e *Engine) emit(ev Event) {
	select {
	case e.events <- ev:
	case <-e.ctx.Done():
	}
}

func (e *Engine) readBusEvents(sub event.Subscription) {
	defer sub.Close()
	for {
		select {
		case <-e.ctx.Done():
			return
		case raw, ok := <-sub.Out():
			if !ok {
				return
			}
			switch evt := raw.(type) {
			case event.EvtLocalAddressesUpdated:
				for _, ua := range evt.Current {
					if ua.Action == event.Added {
						e.emit(NewListenAddr{Addr: ua.Address})
					}
				}
			case event.EvtPeerIdentificationCompleted:
				e.emit(IdentifyReceived{
					Peer:            evt.Peer,
					AgentVersion:    evt.AgentVersion,
					ProtocolVersion: evt.ProtocolVersion,
					ListenAddrs:     evt.ListenAddrs,
				})
			case event.EvtLocalReachabilityChanged:
				e.emit(NatStatusChanged{Reachability: evt.Reachability})
			}
		}
	}
}

// mdnsNotifee forwards local-network discoveries into the event stream.
type mdnsNotifee struct {
	e *Engine
}

func (n *mdnsNotifee) HandlePeerFound(info peer.AddrInfo) {
	if info.ID == n.e.host.ID() {
		return
	}
	peers := make([]PeerAddr, 0, len(info.Addrs))
	for _, a := range info.Addrs {
		peers = append(peers, PeerAddr{Peer: info.ID, Addr: a})
	}
	n.e.emit(MdnsDiscovered{Peers: peers})
}

// holePunchTracer forwards direct-connection-upgrade outcomes.
type holePunchTracer struct {
	e *Engine
}

func (t *holePunchTracer) Trace(evt *holepunch.Event) {
	if evt.Type != holepunch.EndHolePunchEvtT {
		return
	}
	end, ok := evt.Evt.(*holepunch.EndHolePunchEvt)
	if !ok {
		return
	}
	var err error
	if !end.Success {
		err = fmt.Errorf("hole punch: %s", end.Error)
	}
	t.e.emit(HolePunchCompleted{Peer: evt.Remote, Err: err})
}
