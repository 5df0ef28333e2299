package command

import (
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/yexiyue/swarm-p2p/pkg/engine"
	"github.com/yexiyue/swarm-p2p/pkg/errors"
)

// StartProvideHandler announces this node as a provider for a key.
type StartProvideHandler struct {
	key     engine.RecordKey
	queryID engine.QueryID
	started bool
	stats   engine.QueryStats
}

// NewStartProvide creates a start-provide command.
func NewStartProvide(key engine.RecordKey) *StartProvideHandler {
	return &StartProvideHandler{key: key}
}

func (h *StartProvideHandler) Start(eng Engine, cell *Cell[engine.QueryStats]) {
	id, err := eng.StartProvide(h.key)
	if err != nil {
		cell.Fail(errors.WrapQueryError(errors.QueryStartProvide, err))
		return
	}
	h.queryID = id
	h.started = true
}

func (h *StartProvideHandler) OnEvent(ev engine.Event, cell *Cell[engine.QueryStats]) (bool, engine.Event) {
	qp, ok := ev.(engine.QueryProgressed)
	if !ok || !h.started || qp.ID != h.queryID {
		return true, ev
	}
	res, ok := qp.Result.(engine.StartProvideDone)
	if !ok {
		return true, ev
	}

	h.stats = h.stats.Merge(qp.Stats)

	if !qp.Last {
		return true, nil
	}
	if res.Err != nil {
		cell.Fail(errors.WrapQueryError(errors.QueryStartProvide, res.Err))
	} else {
		cell.Finish(h.stats, nil)
	}
	return false, nil
}

// StopProvideHandler stops providing a key. Completes synchronously;
// stopping a key not currently provided is a no-op.
type StopProvideHandler struct {
	immediate[struct{}]
	key engine.RecordKey
}

// NewStopProvide creates a stop-provide command.
func NewStopProvide(key engine.RecordKey) *StopProvideHandler {
	return &StopProvideHandler{key: key}
}

func (h *StopProvideHandler) Start(eng Engine, cell *Cell[struct{}]) {
	eng.StopProvide(h.key)
	cell.Finish(struct{}{}, nil)
}

// GetProvidersResult is what a completed get-providers resolves to.
type GetProvidersResult struct {
	Providers []peer.ID
	Stats     engine.QueryStats
}

// GetProvidersHandler accumulates providers across progress events and
// resolves with the deduplicated list on the final step.
type GetProvidersHandler struct {
	key       engine.RecordKey
	queryID   engine.QueryID
	started   bool
	seen      map[peer.ID]struct{}
	providers []peer.ID
	stats     engine.QueryStats
}

// NewGetProviders creates a get-providers command.
func NewGetProviders(key engine.RecordKey) *GetProvidersHandler {
	return &GetProvidersHandler{key: key, seen: make(map[peer.ID]struct{})}
}

func (h *GetProvidersHandler) Start(eng Engine, _ *Cell[GetProvidersResult]) {
	h.queryID = eng.GetProviders(h.key)
	h.started = true
}

func (h *GetProvidersHandler) OnEvent(ev engine.Event, cell *Cell[GetProvidersResult]) (bool, engine.Event) {
	qp, ok := ev.(engine.QueryProgressed)
	if !ok || !h.started || qp.ID != h.queryID {
		return true, ev
	}
	res, ok := qp.Result.(engine.GetProvidersProgress)
	if !ok {
		return true, ev
	}

	h.stats = h.stats.Merge(qp.Stats)

	for _, p := range res.Providers {
		if _, dup := h.seen[p]; dup {
			continue
		}
		h.seen[p] = struct{}{}
		h.providers = append(h.providers, p)
	}

	if !qp.Last {
		return true, nil
	}
	if res.Err != nil {
		cell.Fail(errors.WrapQueryError(errors.QueryGetProviders, res.Err))
	} else {
		cell.Finish(GetProvidersResult{Providers: h.providers, Stats: h.stats}, nil)
	}
	return false, nil
}
