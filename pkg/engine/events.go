package engine

import (
	"time"

	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
)

// QueryID identifies one in-flight DHT operation. Assigned monotonically by
// the engine; commands match their own progress events by this id.
type QueryID uint64

// RequestID identifies one in-flight outbound request-response exchange.
type RequestID uint64

// RecordKey is the key of a DHT record.
type RecordKey []byte

func (k RecordKey) String() string { return string(k) }

// Record is a DHT key/value record.
type Record struct {
	Key   RecordKey
	Value []byte
}

// Quorum is the acceptance threshold for DHT write operations. Positive
// values mean "exactly n"; QuorumOne is exact(1).
type Quorum int

const (
	QuorumOne      Quorum = 1
	QuorumMajority Quorum = -1
	QuorumAll      Quorum = -2
)

// QuorumExact returns a quorum requiring exactly n acknowledgements.
func QuorumExact(n int) Quorum { return Quorum(n) }

// QueryStats summarizes the work one DHT query performed. Stats from each
// progress event are merged into a cumulative total by the owning command.
type QueryStats struct {
	Duration     time.Duration
	NumRequests  uint32
	NumSuccesses uint32
	NumFailures  uint32
}

// Merge folds another sample into the cumulative total.
func (s QueryStats) Merge(other QueryStats) QueryStats {
	return QueryStats{
		Duration:     s.Duration + other.Duration,
		NumRequests:  s.NumRequests + other.NumRequests,
		NumSuccesses: s.NumSuccesses + other.NumSuccesses,
		NumFailures:  s.NumFailures + other.NumFailures,
	}
}

// Event is the closed set of engine events delivered to the event loop.
// Events are passed by value through the command chain; the last holder may
// move contained handles (e.g. an inbound reply channel) out of the event.
type Event interface{ isEvent() }

// PeerAddr pairs a peer with one of its addresses.
type PeerAddr struct {
	Peer peer.ID
	Addr multiaddr.Multiaddr
}

// NewListenAddr reports a newly bound local listen address.
type NewListenAddr struct {
	Addr multiaddr.Multiaddr
}

// ConnectionEstablished reports one new connection to Peer.
// NumEstablished is the resulting number of live connections to that peer.
type ConnectionEstablished struct {
	Peer           peer.ID
	NumEstablished int
}

// ConnectionClosed reports one closed connection to Peer. NumEstablished is
// the number of connections remaining.
type ConnectionClosed struct {
	Peer           peer.ID
	NumEstablished int
}

// OutgoingConnectionError reports a failed dial attempt.
type OutgoingConnectionError struct {
	Peer peer.ID
	Err  error
}

// MdnsDiscovered reports peers found on the local network. The same peer may
// appear once per interface address.
type MdnsDiscovered struct {
	Peers []PeerAddr
}

// IdentifyReceived reports the remote's identify info after a handshake.
type IdentifyReceived struct {
	Peer            peer.ID
	AgentVersion    string
	ProtocolVersion string
	ListenAddrs     []multiaddr.Multiaddr
}

// PingResult reports one ping round trip (or its failure).
type PingResult struct {
	Peer peer.ID
	RTT  time.Duration
	Err  error
}

// NatStatusChanged reports a change in local NAT reachability.
type NatStatusChanged struct {
	Reachability network.Reachability
}

// HolePunchCompleted reports the outcome of a direct-connection upgrade.
type HolePunchCompleted struct {
	Peer peer.ID
	Err  error
}

// InboundMessage carries one decoded-from-wire inbound request body along
// with the single-use channel for answering it. Reply is move-only: whoever
// consumes the event owns it.
type InboundMessage struct {
	Peer    peer.ID
	Payload []byte
	Reply   *ResponseChannel
}

// ResponseReceived carries the response body for an outbound request.
type ResponseReceived struct {
	Peer      peer.ID
	RequestID RequestID
	Payload   []byte
}

// OutboundFailure reports a failed outbound request-response exchange.
type OutboundFailure struct {
	Peer      peer.ID
	RequestID RequestID
	Err       error
}

// QueryProgressed reports progress of one DHT operation. Last marks the
// final step.
type QueryProgressed struct {
	ID     QueryID
	Result QueryResult
	Stats  QueryStats
	Last   bool
}

func (NewListenAddr) isEvent()           {}
func (ConnectionEstablished) isEvent()   {}
func (ConnectionClosed) isEvent()        {}
func (OutgoingConnectionError) isEvent() {}
func (MdnsDiscovered) isEvent()          {}
func (IdentifyReceived) isEvent()        {}
func (PingResult) isEvent()              {}
func (NatStatusChanged) isEvent()        {}
func (HolePunchCompleted) isEvent()      {}
func (InboundMessage) isEvent()          {}
func (ResponseReceived) isEvent()        {}
func (OutboundFailure) isEvent()         {}
func (QueryProgressed) isEvent()         {}

// QueryResult is the per-operation payload of a QueryProgressed event.
type QueryResult interface{ isQueryResult() }

// BootstrapProgress is the bootstrap query payload.
type BootstrapProgress struct {
	NumRemaining uint32
	Err          error
}

// GetRecordProgress carries a found record, if any.
type GetRecordProgress struct {
	Record *Record
	Err    error
}

// PutRecordDone reports completion of a put-record query.
type PutRecordDone struct {
	Err error
}

// GetProvidersProgress carries a batch of discovered providers.
type GetProvidersProgress struct {
	Providers []peer.ID
	Err       error
}

// GetClosestPeersDone carries the final closest-peers set.
type GetClosestPeersDone struct {
	Peers []peer.ID
	Err   error
}

// StartProvideDone reports completion of a start-providing query.
type StartProvideDone struct {
	Err error
}

func (BootstrapProgress) isQueryResult()    {}
func (GetRecordProgress) isQueryResult()    {}
func (PutRecordDone) isQueryResult()        {}
func (GetProvidersProgress) isQueryResult() {}
func (GetClosestPeersDone) isQueryResult()  {}
func (StartProvideDone) isQueryResult()     {}
