package command

import (
	"github.com/fxamacker/cbor/v2"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/yexiyue/swarm-p2p/pkg/engine"
	"github.com/yexiyue/swarm-p2p/pkg/errors"
	"github.com/yexiyue/swarm-p2p/pkg/pending"
)

// ReplyRegistry is the pending-reply slot store shared between the event
// loop (which parks inbound reply channels) and send-response commands
// (which drain them).
type ReplyRegistry = pending.Registry[*engine.ResponseChannel]

// SendRequestHandler sends one request to a peer and resolves with the
// decoded response. Matching is purely on {peer, request id}; no ordering
// between concurrent requests to the same peer is assumed.
type SendRequestHandler[Req, Resp any] struct {
	peer      peer.ID
	request   Req
	requestID engine.RequestID
	sent      bool
}

// NewSendRequest creates a send-request command.
func NewSendRequest[Req, Resp any](p peer.ID, request Req) *SendRequestHandler[Req, Resp] {
	return &SendRequestHandler[Req, Resp]{peer: p, request: request}
}

func (h *SendRequestHandler[Req, Resp]) Start(eng Engine, cell *Cell[Resp]) {
	payload, err := cbor.Marshal(h.request)
	if err != nil {
		cell.Fail(errors.WrapEngineError(err))
		return
	}
	h.requestID = eng.SendRequest(h.peer, payload)
	h.sent = true
}

func (h *SendRequestHandler[Req, Resp]) OnEvent(ev engine.Event, cell *Cell[Resp]) (bool, engine.Event) {
	if !h.sent {
		return true, ev
	}
	switch e := ev.(type) {
	case engine.ResponseReceived:
		if e.Peer == h.peer && e.RequestID == h.requestID {
			var resp Resp
			if err := cbor.Unmarshal(e.Payload, &resp); err != nil {
				cell.Fail(errors.NewRequestError("undecodable response: " + err.Error()))
			} else {
				cell.Finish(resp, nil)
			}
			return false, nil
		}
	case engine.OutboundFailure:
		if e.Peer == h.peer && e.RequestID == h.requestID {
			cell.Fail(errors.NewRequestError(e.Err.Error()))
			return false, nil
		}
	}
	return true, ev
}

// SendResponseHandler answers a parked inbound request. It completes
// synchronously in Start: the slot is drained exactly once; an absent slot
// (TTL-evicted or already answered) is a typed failure.
type SendResponseHandler[Resp any] struct {
	immediate[struct{}]
	slotID   uint64
	response Resp
	registry *ReplyRegistry
}

// NewSendResponse creates a send-response command for the given slot.
func NewSendResponse[Resp any](slotID uint64, response Resp, registry *ReplyRegistry) *SendResponseHandler[Resp] {
	return &SendResponseHandler[Resp]{slotID: slotID, response: response, registry: registry}
}

func (h *SendResponseHandler[Resp]) Start(eng Engine, cell *Cell[struct{}]) {
	payload, err := cbor.Marshal(h.response)
	if err != nil {
		cell.Fail(errors.WrapEngineError(err))
		return
	}
	ch, ok := h.registry.Take(h.slotID)
	if !ok {
		cell.Fail(errors.ErrSlotExpired)
		return
	}
	eng.SendResponse(ch, payload)
	cell.Finish(struct{}{}, nil)
}
