package command

import (
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/yexiyue/swarm-p2p/pkg/engine"
	"github.com/yexiyue/swarm-p2p/pkg/errors"
)

// GetClosestPeersResult is what a completed closest-peers query resolves to.
type GetClosestPeersResult struct {
	Peers []peer.ID
	Stats engine.QueryStats
}

// GetClosestPeersHandler walks the DHT toward a byte key and accumulates
// the closest peers across progress events.
type GetClosestPeersHandler struct {
	key     []byte
	queryID engine.QueryID
	started bool
	peers   []peer.ID
	stats   engine.QueryStats
}

// NewGetClosestPeers creates a get-closest-peers command.
func NewGetClosestPeers(key []byte) *GetClosestPeersHandler {
	return &GetClosestPeersHandler{key: key}
}

func (h *GetClosestPeersHandler) Start(eng Engine, _ *Cell[GetClosestPeersResult]) {
	h.queryID = eng.GetClosestPeers(h.key)
	h.started = true
}

func (h *GetClosestPeersHandler) OnEvent(ev engine.Event, cell *Cell[GetClosestPeersResult]) (bool, engine.Event) {
	qp, ok := ev.(engine.QueryProgressed)
	if !ok || !h.started || qp.ID != h.queryID {
		return true, ev
	}
	res, ok := qp.Result.(engine.GetClosestPeersDone)
	if !ok {
		return true, ev
	}

	h.stats = h.stats.Merge(qp.Stats)
	h.peers = append(h.peers, res.Peers...)

	if !qp.Last {
		return true, nil
	}
	if res.Err != nil {
		cell.Fail(errors.WrapQueryError(errors.QueryGetClosestPeers, res.Err))
	} else {
		cell.Finish(GetClosestPeersResult{Peers: h.peers, Stats: h.stats}, nil)
	}
	return false, nil
}
