// Package client exposes the typed, blocking surface over the command
// runtime. Every method packages one command, submits it to the event loop
// and waits for the loop to resolve it; the loop itself never blocks on a
// caller.
package client

import (
	"context"
	"sync"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"

	"github.com/yexiyue/swarm-p2p/pkg/command"
	"github.com/yexiyue/swarm-p2p/pkg/engine"
)

// Client is the handle applications use to drive a node. Req and Resp are
// the application's request-response message types; both must round-trip
// through CBOR. A Client is safe for concurrent use.
type Client[Req, Resp any] struct {
	commands chan<- command.Envelope
	loopDone <-chan struct{}
	registry *command.ReplyRegistry
	localID  peer.ID
	stop     *stopper
}

type stopper struct {
	once sync.Once
	ch   chan struct{}
}

// New wires a client to a running event loop. Called by node.Start.
func New[Req, Resp any](
	commands chan<- command.Envelope,
	loopDone <-chan struct{},
	registry *command.ReplyRegistry,
	localID peer.ID,
	stop chan struct{},
) *Client[Req, Resp] {
	return &Client[Req, Resp]{
		commands: commands,
		loopDone: loopDone,
		registry: registry,
		localID:  localID,
		stop:     &stopper{ch: stop},
	}
}

// PeerID returns the local peer id.
func (c *Client[Req, Resp]) PeerID() peer.ID {
	return c.localID
}

// Close shuts the node down. In-flight commands resolve with a
// channel-closed failure; Close is idempotent.
func (c *Client[Req, Resp]) Close() {
	c.stop.once.Do(func() { close(c.stop.ch) })
}

// Dial connects to a peer whose addresses are already known (bootstrap
// config, mDNS, DHT or AddPeerAddrs).
func (c *Client[Req, Resp]) Dial(ctx context.Context, p peer.ID) error {
	_, err := command.Await[struct{}](ctx, command.NewDial(p, nil), c.commands, c.loopDone)
	return err
}

// DialAddrs connects to a peer using the supplied addresses.
func (c *Client[Req, Resp]) DialAddrs(ctx context.Context, p peer.ID, addrs []multiaddr.Multiaddr) error {
	_, err := command.Await[struct{}](ctx, command.NewDial(p, addrs), c.commands, c.loopDone)
	return err
}

// SendRequest sends one request and waits for the peer's response.
func (c *Client[Req, Resp]) SendRequest(ctx context.Context, p peer.ID, request Req) (Resp, error) {
	return command.Await[Resp](ctx, command.NewSendRequest[Req, Resp](p, request), c.commands, c.loopDone)
}

// SendResponse answers the inbound request parked under slotID. Resolves
// with ErrSlotExpired if the slot was evicted or already answered.
func (c *Client[Req, Resp]) SendResponse(ctx context.Context, slotID uint64, response Resp) error {
	_, err := command.Await[struct{}](ctx, command.NewSendResponse(slotID, response, c.registry), c.commands, c.loopDone)
	return err
}

// Bootstrap joins the DHT network and fills the routing table.
func (c *Client[Req, Resp]) Bootstrap(ctx context.Context) (command.BootstrapResult, error) {
	return command.Await[command.BootstrapResult](ctx, command.NewBootstrap(), c.commands, c.loopDone)
}

// PutRecord stores a record on the DHT.
func (c *Client[Req, Resp]) PutRecord(ctx context.Context, record engine.Record, quorum engine.Quorum) (engine.QueryStats, error) {
	return command.Await[engine.QueryStats](ctx, command.NewPutRecord(record, quorum), c.commands, c.loopDone)
}

// GetRecord retrieves a record from the DHT.
func (c *Client[Req, Resp]) GetRecord(ctx context.Context, key engine.RecordKey) (command.GetRecordResult, error) {
	return command.Await[command.GetRecordResult](ctx, command.NewGetRecord(key), c.commands, c.loopDone)
}

// RemoveRecord deletes a record from the local store.
func (c *Client[Req, Resp]) RemoveRecord(ctx context.Context, key engine.RecordKey) error {
	_, err := command.Await[struct{}](ctx, command.NewRemoveRecord(key), c.commands, c.loopDone)
	return err
}

// StartProvide announces this node as a provider for the key.
func (c *Client[Req, Resp]) StartProvide(ctx context.Context, key engine.RecordKey) (engine.QueryStats, error) {
	return command.Await[engine.QueryStats](ctx, command.NewStartProvide(key), c.commands, c.loopDone)
}

// StopProvide stops providing the key. A key not currently provided is a
// no-op.
func (c *Client[Req, Resp]) StopProvide(ctx context.Context, key engine.RecordKey) error {
	_, err := command.Await[struct{}](ctx, command.NewStopProvide(key), c.commands, c.loopDone)
	return err
}

// GetProviders looks up providers of the key.
func (c *Client[Req, Resp]) GetProviders(ctx context.Context, key engine.RecordKey) (command.GetProvidersResult, error) {
	return command.Await[command.GetProvidersResult](ctx, command.NewGetProviders(key), c.commands, c.loopDone)
}

// GetClosestPeers walks the DHT toward the key and returns the closest
// known peers.
func (c *Client[Req, Resp]) GetClosestPeers(ctx context.Context, key []byte) (command.GetClosestPeersResult, error) {
	return command.Await[command.GetClosestPeersResult](ctx, command.NewGetClosestPeers(key), c.commands, c.loopDone)
}

// ListenAddrs reports the currently bound listen addresses.
func (c *Client[Req, Resp]) ListenAddrs(ctx context.Context) ([]multiaddr.Multiaddr, error) {
	return command.Await[[]multiaddr.Multiaddr](ctx, command.NewGetListenAddrs(), c.commands, c.loopDone)
}

// IsConnected reports whether the peer has a live connection.
func (c *Client[Req, Resp]) IsConnected(ctx context.Context, p peer.ID) (bool, error) {
	return command.Await[bool](ctx, command.NewIsConnected(p), c.commands, c.loopDone)
}

// AddPeerAddrs records known addresses for a peer ahead of a Dial.
func (c *Client[Req, Resp]) AddPeerAddrs(ctx context.Context, p peer.ID, addrs []multiaddr.Multiaddr) error {
	_, err := command.Await[struct{}](ctx, command.NewAddPeerAddrs(p, addrs), c.commands, c.loopDone)
	return err
}
