package command

import (
	stderrors "errors"

	"github.com/libp2p/go-libp2p/core/routing"

	"github.com/yexiyue/swarm-p2p/pkg/engine"
	"github.com/yexiyue/swarm-p2p/pkg/errors"
)

// PutRecordHandler stores a record on the DHT and resolves with the query
// statistics.
type PutRecordHandler struct {
	record  engine.Record
	quorum  engine.Quorum
	queryID engine.QueryID
	started bool
	stats   engine.QueryStats
}

// NewPutRecord creates a put-record command.
func NewPutRecord(record engine.Record, quorum engine.Quorum) *PutRecordHandler {
	return &PutRecordHandler{record: record, quorum: quorum}
}

func (h *PutRecordHandler) Start(eng Engine, _ *Cell[engine.QueryStats]) {
	h.queryID = eng.PutRecord(h.record, h.quorum)
	h.started = true
}

func (h *PutRecordHandler) OnEvent(ev engine.Event, cell *Cell[engine.QueryStats]) (bool, engine.Event) {
	qp, ok := ev.(engine.QueryProgressed)
	if !ok || !h.started || qp.ID != h.queryID {
		return true, ev
	}
	res, ok := qp.Result.(engine.PutRecordDone)
	if !ok {
		return true, ev
	}

	h.stats = h.stats.Merge(qp.Stats)

	if !qp.Last {
		return true, nil
	}
	if res.Err != nil {
		cell.Fail(errors.WrapQueryError(errors.QueryPutRecord, res.Err))
	} else {
		cell.Finish(h.stats, nil)
	}
	return false, nil
}

// GetRecordResult is what a completed get-record resolves to.
type GetRecordResult struct {
	Record engine.Record
	Stats  engine.QueryStats
}

// GetRecordHandler looks a record up on the DHT. The first record observed
// is retained; a query that ends without one resolves with a not-found
// error.
type GetRecordHandler struct {
	key     engine.RecordKey
	queryID engine.QueryID
	started bool
	record  *engine.Record
	stats   engine.QueryStats
}

// NewGetRecord creates a get-record command.
func NewGetRecord(key engine.RecordKey) *GetRecordHandler {
	return &GetRecordHandler{key: key}
}

func (h *GetRecordHandler) Start(eng Engine, _ *Cell[GetRecordResult]) {
	h.queryID = eng.GetRecord(h.key)
	h.started = true
}

func (h *GetRecordHandler) OnEvent(ev engine.Event, cell *Cell[GetRecordResult]) (bool, engine.Event) {
	qp, ok := ev.(engine.QueryProgressed)
	if !ok || !h.started || qp.ID != h.queryID {
		return true, ev
	}
	res, ok := qp.Result.(engine.GetRecordProgress)
	if !ok {
		return true, ev
	}

	h.stats = h.stats.Merge(qp.Stats)

	if h.record == nil && res.Record != nil {
		h.record = res.Record
	}

	if !qp.Last {
		return true, nil
	}

	switch {
	case h.record != nil:
		cell.Finish(GetRecordResult{Record: *h.record, Stats: h.stats}, nil)
	case res.Err == nil || stderrors.Is(res.Err, routing.ErrNotFound):
		cell.Fail(errors.ErrNotFound)
	default:
		cell.Fail(errors.WrapQueryError(errors.QueryGetRecord, res.Err))
	}
	return false, nil
}

// RemoveRecordHandler deletes a record from the local store. Completes
// synchronously.
type RemoveRecordHandler struct {
	immediate[struct{}]
	key engine.RecordKey
}

// NewRemoveRecord creates a remove-record command.
func NewRemoveRecord(key engine.RecordKey) *RemoveRecordHandler {
	return &RemoveRecordHandler{key: key}
}

func (h *RemoveRecordHandler) Start(eng Engine, cell *Cell[struct{}]) {
	eng.RemoveRecord(h.key)
	cell.Finish(struct{}{}, nil)
}
