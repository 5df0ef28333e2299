package command

import (
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
)

// The handlers here are pure introspection or local mutation: all complete
// synchronously in Start.

// GetListenAddrsHandler reports the currently bound listen addresses.
type GetListenAddrsHandler struct {
	immediate[[]multiaddr.Multiaddr]
}

// NewGetListenAddrs creates a get-listen-addrs command.
func NewGetListenAddrs() *GetListenAddrsHandler {
	return &GetListenAddrsHandler{}
}

func (h *GetListenAddrsHandler) Start(eng Engine, cell *Cell[[]multiaddr.Multiaddr]) {
	cell.Finish(eng.ListenAddrs(), nil)
}

// IsConnectedHandler reports whether a peer has a live connection.
type IsConnectedHandler struct {
	immediate[bool]
	peer peer.ID
}

// NewIsConnected creates an is-connected command.
func NewIsConnected(p peer.ID) *IsConnectedHandler {
	return &IsConnectedHandler{peer: p}
}

func (h *IsConnectedHandler) Start(eng Engine, cell *Cell[bool]) {
	cell.Finish(eng.IsConnected(h.peer), nil)
}

// AddPeerAddrsHandler records known addresses for a peer.
type AddPeerAddrsHandler struct {
	immediate[struct{}]
	peer  peer.ID
	addrs []multiaddr.Multiaddr
}

// NewAddPeerAddrs creates an add-peer-addrs command.
func NewAddPeerAddrs(p peer.ID, addrs []multiaddr.Multiaddr) *AddPeerAddrsHandler {
	return &AddPeerAddrsHandler{peer: p, addrs: addrs}
}

func (h *AddPeerAddrsHandler) Start(eng Engine, cell *Cell[struct{}]) {
	eng.AddAddresses(h.peer, h.addrs)
	cell.Finish(struct{}{}, nil)
}
