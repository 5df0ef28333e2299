package command

import (
	"github.com/yexiyue/swarm-p2p/pkg/engine"
	"github.com/yexiyue/swarm-p2p/pkg/errors"
)

// BootstrapResult is what a completed bootstrap resolves to.
type BootstrapResult struct {
	// NumRemaining is the number of buckets still to be refreshed when the
	// final step reported.
	NumRemaining uint32
	Stats        engine.QueryStats
}

// BootstrapHandler joins the DHT network and fills the routing table. An
// empty routing table refuses synchronously in Start.
type BootstrapHandler struct {
	queryID engine.QueryID
	started bool
	stats   engine.QueryStats
}

// NewBootstrap creates a bootstrap command.
func NewBootstrap() *BootstrapHandler {
	return &BootstrapHandler{}
}

func (h *BootstrapHandler) Start(eng Engine, cell *Cell[BootstrapResult]) {
	id, err := eng.Bootstrap()
	if err != nil {
		cell.Fail(err)
		return
	}
	h.queryID = id
	h.started = true
}

func (h *BootstrapHandler) OnEvent(ev engine.Event, cell *Cell[BootstrapResult]) (bool, engine.Event) {
	qp, ok := ev.(engine.QueryProgressed)
	if !ok || !h.started || qp.ID != h.queryID {
		return true, ev
	}
	res, ok := qp.Result.(engine.BootstrapProgress)
	if !ok {
		return true, ev
	}

	h.stats = h.stats.Merge(qp.Stats)

	if res.Err != nil {
		cell.Fail(errors.WrapQueryError(errors.QueryBootstrap, res.Err))
		return false, nil
	}
	if !qp.Last {
		return true, nil
	}
	cell.Finish(BootstrapResult{NumRemaining: res.NumRemaining, Stats: h.stats}, nil)
	return false, nil
}
