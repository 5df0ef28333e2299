package node

import (
	"time"

	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"

	"github.com/yexiyue/swarm-p2p/pkg/engine"
)

// NodeEvent is the closed set of events the node surfaces to the
// application. Consumers type-switch on the concrete types below.
type NodeEvent interface{ isNodeEvent() }

// Listening reports a newly bound listen address.
type Listening struct {
	Addr multiaddr.Multiaddr
}

// PeersDiscovered reports peers found on the local network. The same peer
// may repeat across events; within one event it may appear once per
// interface address.
type PeersDiscovered struct {
	Peers []engine.PeerAddr
}

// PeerConnected is emitted when the connection count to a peer goes 0 to 1.
// Connection churn above one is hidden.
type PeerConnected struct {
	Peer peer.ID
}

// PeerDisconnected is emitted when the connection count to a peer drops to
// zero.
type PeerDisconnected struct {
	Peer peer.ID
}

// IdentifyReceived reports the remote's identify info. Emitted whether or
// not the protocol version matches.
type IdentifyReceived struct {
	Peer            peer.ID
	AgentVersion    string
	ProtocolVersion string
}

// PingSucceeded reports one measured round trip to a connected peer.
type PingSucceeded struct {
	Peer peer.ID
	RTT  time.Duration
}

// NatStatusChanged reports a change in local NAT reachability.
type NatStatusChanged struct {
	Reachability network.Reachability
}

// HolePunchSucceeded reports a completed direct-connection upgrade.
type HolePunchSucceeded struct {
	Peer peer.ID
}

// HolePunchFailed reports a failed direct-connection upgrade.
type HolePunchFailed struct {
	Peer peer.ID
	Err  error
}

// InboundRequest carries one decoded inbound request. SlotID references the
// parked reply handle; answer via Client.SendResponse before the pending
// reply TTL expires.
type InboundRequest[Req any] struct {
	Peer    peer.ID
	SlotID  uint64
	Request Req
}

func (Listening) isNodeEvent()          {}
func (PeersDiscovered) isNodeEvent()    {}
func (PeerConnected) isNodeEvent()      {}
func (PeerDisconnected) isNodeEvent()   {}
func (IdentifyReceived) isNodeEvent()   {}
func (PingSucceeded) isNodeEvent()      {}
func (NatStatusChanged) isNodeEvent()   {}
func (HolePunchSucceeded) isNodeEvent() {}
func (HolePunchFailed) isNodeEvent()    {}

func (InboundRequest[Req]) isNodeEvent() {}
