package command

import (
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"

	"github.com/yexiyue/swarm-p2p/pkg/engine"
	"github.com/yexiyue/swarm-p2p/pkg/errors"
)

// DialHandler connects to a peer. Already-connected peers complete
// synchronously in Start.
type DialHandler struct {
	peer  peer.ID
	addrs []multiaddr.Multiaddr
}

// NewDial creates a dial command. addrs may be empty when the peer's
// addresses are already known (peerstore or DHT).
func NewDial(p peer.ID, addrs []multiaddr.Multiaddr) *DialHandler {
	return &DialHandler{peer: p, addrs: addrs}
}

func (h *DialHandler) Start(eng Engine, cell *Cell[struct{}]) {
	if eng.IsConnected(h.peer) {
		cell.Finish(struct{}{}, nil)
		return
	}
	eng.Dial(h.peer, h.addrs)
}

func (h *DialHandler) OnEvent(ev engine.Event, cell *Cell[struct{}]) (bool, engine.Event) {
	switch e := ev.(type) {
	case engine.ConnectionEstablished:
		if e.Peer == h.peer {
			cell.Finish(struct{}{}, nil)
			// Not consumed: the loop still needs this event for the
			// peer-connected conversion.
			return false, ev
		}
	case engine.OutgoingConnectionError:
		if e.Peer == h.peer {
			cell.Fail(errors.NewDialError(e.Err.Error()))
			return false, ev
		}
	}
	return true, ev
}
