package node

import (
	"context"

	"github.com/fxamacker/cbor/v2"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"

	"github.com/yexiyue/swarm-p2p/pkg/command"
	"github.com/yexiyue/swarm-p2p/pkg/engine"
	"github.com/yexiyue/swarm-p2p/pkg/logging"
)

// Engine is everything the event loop needs from the network engine.
// Satisfied by *engine.Engine; faked in tests.
type Engine interface {
	command.Engine
	Events() <-chan engine.Event
	AddRoutingPeer(p peer.ID, addrs []multiaddr.Multiaddr)
}

// eventLoop exclusively owns the engine. It multiplexes the command inbox
// and the engine's event stream on one goroutine: commands join an ordered
// active set, and every engine event walks that set front to back until a
// command consumes it, with whatever remains offered to the node-event
// conversion.
type eventLoop[Req any] struct {
	eng      Engine
	commands <-chan command.Envelope
	events   chan<- NodeEvent
	stop     <-chan struct{}

	active          []command.Envelope
	registry        *command.ReplyRegistry
	nextSlotID      uint64
	protocolVersion string
	log             *logging.ColoredLogger
}

func (l *eventLoop[Req]) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.stop:
			return
		case env := <-l.commands:
			l.handleCommand(env)
		case ev := <-l.eng.Events():
			l.handleEngineEvent(ctx, ev)
		}
	}
}

// handleCommand inserts the envelope into the active set and runs its
// Start. Commands that finish synchronously are reaped right away; their
// envelope must not outlive the finish.
func (l *eventLoop[Req]) handleCommand(env command.Envelope) {
	l.active = append(l.active, env)
	env.Start(l.eng)
	if env.Done() {
		l.active = l.active[:len(l.active)-1]
	}
}

// handleEngineEvent walks the active commands in order, moving the event
// through the chain. A nil remainder stops the walk; whatever survives is
// offered to the node-event conversion.
func (l *eventLoop[Req]) handleEngineEvent(ctx context.Context, ev engine.Event) {
	cur := ev
	for i := 0; i < len(l.active); {
		keep, rem := l.active[i].OnEvent(cur)
		if keep {
			i++
		} else {
			last := len(l.active) - 1
			l.active[i] = l.active[last]
			l.active[last] = nil
			l.active = l.active[:last]
		}
		if rem == nil {
			return
		}
		cur = rem
	}
	l.convert(ctx, cur)
}

// convert translates a leftover engine event into a node event, performing
// the loop-side effects (mDNS dials, routing-table admission, reply
// parking) on the way. Events with no rule are dropped.
func (l *eventLoop[Req]) convert(ctx context.Context, ev engine.Event) {
	switch e := ev.(type) {
	case engine.NewListenAddr:
		l.publish(ctx, Listening{Addr: e.Addr})

	case engine.MdnsDiscovered:
		// Register every interface address before dialing so the dial can
		// try them all, then dial each distinct peer at most once.
		for _, pa := range e.Peers {
			l.eng.AddAddresses(pa.Peer, []multiaddr.Multiaddr{pa.Addr})
		}
		dialed := make(map[peer.ID]struct{}, len(e.Peers))
		for _, pa := range e.Peers {
			if _, dup := dialed[pa.Peer]; dup {
				continue
			}
			dialed[pa.Peer] = struct{}{}
			if !l.eng.IsConnected(pa.Peer) {
				l.eng.Dial(pa.Peer, nil)
			}
		}
		l.publish(ctx, PeersDiscovered{Peers: e.Peers})

	case engine.ConnectionEstablished:
		if e.NumEstablished == 1 {
			l.publish(ctx, PeerConnected{Peer: e.Peer})
		}

	case engine.ConnectionClosed:
		if e.NumEstablished == 0 {
			l.publish(ctx, PeerDisconnected{Peer: e.Peer})
		}

	case engine.IdentifyReceived:
		if e.ProtocolVersion == l.protocolVersion {
			l.eng.AddRoutingPeer(e.Peer, e.ListenAddrs)
		}
		l.publish(ctx, IdentifyReceived{
			Peer:            e.Peer,
			AgentVersion:    e.AgentVersion,
			ProtocolVersion: e.ProtocolVersion,
		})

	case engine.PingResult:
		if e.Err == nil {
			l.publish(ctx, PingSucceeded{Peer: e.Peer, RTT: e.RTT})
		}

	case engine.NatStatusChanged:
		l.publish(ctx, NatStatusChanged{Reachability: e.Reachability})

	case engine.HolePunchCompleted:
		if e.Err == nil {
			l.publish(ctx, HolePunchSucceeded{Peer: e.Peer})
		} else {
			l.publish(ctx, HolePunchFailed{Peer: e.Peer, Err: e.Err})
		}

	case engine.InboundMessage:
		var req Req
		if err := cbor.Unmarshal(e.Payload, &req); err != nil {
			l.log.ComponentWarn(logging.ComponentLoop, "dropping undecodable inbound request",
				zap.String("peer", e.Peer.String()), zap.Error(err))
			e.Reply.Abort()
			return
		}
		slot := l.nextSlotID
		l.nextSlotID++
		l.registry.Insert(slot, e.Reply)
		l.publish(ctx, InboundRequest[Req]{Peer: e.Peer, SlotID: slot, Request: req})
	}
}

func (l *eventLoop[Req]) publish(ctx context.Context, ev NodeEvent) {
	select {
	case l.events <- ev:
	case <-ctx.Done():
	case <-l.stop:
	}
}
